// Package detector classifies mirrored files as added, modified, deleted, or unchanged
// relative to the last recorded repository snapshot.
package detector

import (
	"context"
	"log/slog"
	"sort"

	"github.com/dshills/reposync/pkg/types"
)

// Diff compares historical and current path -> content hash maps.
// It is a pure function; every path of either map lands in exactly one list,
// and each list is sorted.
func Diff(historical, current map[string]string) types.ChangeSet {
	var cs types.ChangeSet

	for path, hash := range current {
		prev, ok := historical[path]
		switch {
		case !ok:
			cs.Added = append(cs.Added, path)
		case prev != hash:
			cs.Modified = append(cs.Modified, path)
		default:
			cs.Unchanged = append(cs.Unchanged, path)
		}
	}
	for path := range historical {
		if _, ok := current[path]; !ok {
			cs.Deleted = append(cs.Deleted, path)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)
	sort.Strings(cs.Unchanged)
	return cs
}

// Loader produces the current document set of the working copy
type Loader func(ctx context.Context) ([]types.Document, error)

// Input describes one detection pass
type Input struct {
	CommitID string
	// Previous is the last recorded snapshot; nil on first sync
	Previous *types.RepositoryMetadata
	// AllowFastPath enables the commit-id short-circuit
	AllowFastPath bool
}

// Result is the outcome of Detect
type Result struct {
	Changes types.ChangeSet
	// Documents holds the loaded documents keyed by path; nil when the fast path was taken
	Documents map[string]types.Document
}

// Detector wraps Diff with the commit fast path and document loading
type Detector struct {
	logger *slog.Logger
}

// New creates a Detector
func New(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger.With("component", "detector")}
}

// Unchanged reports whether the commit fast path applies
func Unchanged(commitID string, prev *types.RepositoryMetadata) bool {
	return prev != nil && prev.LastCommitID != "" && prev.LastCommitID == commitID
}

// Detect classifies the working copy. When the fast path applies the loader
// is never called and no document content is read or hashed.
func (d *Detector) Detect(ctx context.Context, in Input, load Loader) (*Result, error) {
	if in.AllowFastPath && Unchanged(in.CommitID, in.Previous) {
		d.logger.Info("detect.fastpath", "commit", in.CommitID)
		return &Result{Changes: types.ChangeSet{NoChanges: true}}, nil
	}

	docs, err := load(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]string, len(docs))
	byPath := make(map[string]types.Document, len(docs))
	for _, doc := range docs {
		current[doc.Path] = doc.ContentHash
		byPath[doc.Path] = doc
	}

	var historical map[string]string
	if in.Previous != nil {
		historical = in.Previous.Hashes()
	}

	cs := Diff(historical, current)
	d.logger.Info("detect.complete",
		"commit", in.CommitID,
		"first_sync", in.Previous == nil,
		"added", len(cs.Added),
		"modified", len(cs.Modified),
		"deleted", len(cs.Deleted),
		"unchanged", len(cs.Unchanged),
	)
	return &Result{Changes: cs, Documents: byPath}, nil
}

// Retain moves paths from Deleted to Unchanged. Files that exist but failed
// to load this run keep their previous record instead of losing their vectors.
func Retain(cs types.ChangeSet, paths []string) types.ChangeSet {
	if len(paths) == 0 || len(cs.Deleted) == 0 {
		return cs
	}
	keep := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		keep[p] = struct{}{}
	}
	var deleted []string
	unchanged := append([]string(nil), cs.Unchanged...)
	for _, p := range cs.Deleted {
		if _, ok := keep[p]; ok {
			unchanged = append(unchanged, p)
			continue
		}
		deleted = append(deleted, p)
	}
	sort.Strings(unchanged)
	cs.Deleted = deleted
	cs.Unchanged = unchanged
	return cs
}
