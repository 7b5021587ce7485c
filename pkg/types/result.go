package types

import "time"

// ChangeSet classifies every path seen by the change detector
type ChangeSet struct {
	Added     []string
	Modified  []string
	Deleted   []string
	Unchanged []string
	// NoChanges is set when the commit fast-path short-circuited detection
	NoChanges bool
}

// Empty reports whether nothing needs to be indexed or removed
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// FailedBatch describes a batch that was skipped during a run
type FailedBatch struct {
	BatchID string   `json:"batch_id"`
	Group   string   `json:"group"`
	Files   []string `json:"files"`
	Error   string   `json:"error"`
}

// Summary is the user-visible result of one sync run
type Summary struct {
	TaskID         string        `json:"task_id"`
	SourceID       string        `json:"source_id"`
	Branch         string        `json:"branch"`
	CommitID       string        `json:"commit_id"`
	Collection     string        `json:"collection"`
	FetchCached    bool          `json:"fetch_cached"`
	NoChanges      bool          `json:"no_changes"`
	Added          []string      `json:"added"`
	Modified       []string      `json:"modified"`
	Deleted        []string      `json:"deleted"`
	Unchanged      int           `json:"unchanged"`
	BatchesTotal   int           `json:"batches_total"`
	BatchesSkipped int           `json:"batches_skipped"`
	VectorsWritten int           `json:"vectors_written"`
	VectorsDeleted int           `json:"vectors_deleted"`
	FailedBatches  []FailedBatch `json:"failed_batches"`
	Errors         []string      `json:"errors"`
	Duration       time.Duration `json:"duration"`
}

// Failed reports whether any batch was skipped in this run
func (s *Summary) Failed() bool {
	return len(s.FailedBatches) > 0
}
