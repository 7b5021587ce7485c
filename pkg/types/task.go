package types

import (
	"sort"
	"time"
)

// Step names a pipeline step tracked by the cache ledger
type Step string

const (
	StepFetch     Step = "fetch"
	StepParse     Step = "parse"
	StepVectorize Step = "vectorize"
)

// AllSteps lists pipeline steps in execution order
var AllSteps = []Step{StepFetch, StepParse, StepVectorize}

// Valid reports whether s is a known step
func (s Step) Valid() bool {
	switch s {
	case StepFetch, StepParse, StepVectorize:
		return true
	default:
		return false
	}
}

// StepStatus is the outcome of the most recent attempt of a step
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
)

// Filters narrows which files of a source are indexed
type Filters struct {
	Include    []string `json:"include,omitempty"`    // Glob patterns a path must match (any)
	Exclude    []string `json:"exclude,omitempty"`    // Glob patterns that drop a path
	Extensions []string `json:"extensions,omitempty"` // File extensions including the dot
}

// Normalized returns a copy with every list sorted and de-duplicated
func (f Filters) Normalized() Filters {
	return Filters{
		Include:    sortedUnique(f.Include),
		Exclude:    sortedUnique(f.Exclude),
		Extensions: sortedUnique(f.Extensions),
	}
}

// IsZero reports whether no filter is set
func (f Filters) IsZero() bool {
	return len(f.Include) == 0 && len(f.Exclude) == 0 && len(f.Extensions) == 0
}

// TaskParams identifies one synchronization target
type TaskParams struct {
	SourceID string  `json:"source_id"`
	Branch   string  `json:"branch"`
	Filters  Filters `json:"filters"`
}

// Validate checks that the task parameters name a source and branch
func (p TaskParams) Validate() error {
	if p.SourceID == "" {
		return ErrEmptySource
	}
	if p.Branch == "" {
		return ErrEmptyBranch
	}
	return nil
}

// RepoKey returns the metadata key for the task's source and branch
func (p TaskParams) RepoKey() string {
	return RepoKey(p.SourceID, p.Branch)
}

// RepoKey formats the "<source>@<branch>" key used by repository metadata
func RepoKey(sourceID, branch string) string {
	return sourceID + "@" + branch
}

// StepPayload carries step-specific results
type StepPayload struct {
	CommitID      string `json:"commit_id,omitempty"`
	LocalPath     string `json:"local_path,omitempty"`
	DocumentCount int    `json:"document_count,omitempty"`
	ParseErrors   int    `json:"parse_errors,omitempty"`
	VectorCount   int    `json:"vector_count,omitempty"`
	FailedBatches int    `json:"failed_batches,omitempty"`
}

// StepRecord is the cache entry for one (task, step) pair
type StepRecord struct {
	Status      StepStatus  `json:"status"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Error       string      `json:"error,omitempty"`
	Payload     StepPayload `json:"payload"`
}

// Usable reports whether the step output is valid for the given input fingerprint
func (r *StepRecord) Usable(fingerprint string) bool {
	if r == nil {
		return false
	}
	return r.Status == StatusCompleted && r.Fingerprint == fingerprint
}

// TaskRecord holds the parameters and step records of a task
type TaskRecord struct {
	Params    TaskParams           `json:"params"`
	CreatedAt time.Time            `json:"created_at"`
	Steps     map[Step]*StepRecord `json:"steps"`
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
