package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/reposync/internal/directory"
	"github.com/dshills/reposync/internal/indexer"
	"github.com/dshills/reposync/internal/ledger"
	"github.com/dshills/reposync/internal/metadata"
	"github.com/dshills/reposync/internal/vectorstore"
	"github.com/dshills/reposync/pkg/types"
)

// TaskStatus is the ledger view of one task
type TaskStatus struct {
	TaskID string                          `json:"task_id"`
	Params types.TaskParams                `json:"params"`
	Steps  map[types.Step]types.StepRecord `json:"steps"`
}

// Status describes what is known about a source and branch
type Status struct {
	SourceID     string       `json:"source_id"`
	Branch       string       `json:"branch"`
	Tracked      bool         `json:"tracked"`
	Collection   string       `json:"collection,omitempty"`
	LastCommitID string       `json:"last_commit_id,omitempty"`
	FileCount    int          `json:"file_count"`
	VectorCount  int          `json:"vector_count"`
	LocalPath    string       `json:"local_path"`
	Syncing      bool         `json:"syncing"`
	Tasks        []TaskStatus `json:"tasks"`
	UpdatedAt    string       `json:"updated_at,omitempty"`
}

// Status reports the recorded snapshot and ledger state for a source and branch
func (p *Pipeline) Status(sourceID, branch string) (*Status, error) {
	if err := (types.TaskParams{SourceID: sourceID, Branch: branch}).Validate(); err != nil {
		return nil, err
	}
	st := &Status{
		SourceID:  sourceID,
		Branch:    branch,
		LocalPath: p.deps.Fetcher.LocalPath(sourceID, branch),
		Syncing:   p.Syncing(),
	}
	if repo, ok := p.deps.Metadata.Get(sourceID, branch); ok {
		st.Tracked = true
		st.Collection = repo.Collection
		st.LastCommitID = repo.LastCommitID
		st.FileCount = repo.FileCount
		st.VectorCount = repo.VectorCount()
		if !repo.UpdatedAt.IsZero() {
			st.UpdatedAt = repo.UpdatedAt.Format(time.RFC3339)
		}
	}

	for _, id := range p.deps.Ledger.TaskIDs() {
		task, ok := p.deps.Ledger.Task(id)
		if !ok || task.Params.SourceID != sourceID || task.Params.Branch != branch {
			continue
		}
		ts := TaskStatus{TaskID: id, Params: task.Params, Steps: make(map[types.Step]types.StepRecord, len(task.Steps))}
		for step, rec := range task.Steps {
			if rec != nil {
				ts.Steps[step] = *rec
			}
		}
		st.Tasks = append(st.Tasks, ts)
	}
	return st, nil
}

// Invalidate drops every cached step of the task so the next sync starts over
func (p *Pipeline) Invalidate(params types.TaskParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	if p.Syncing() {
		return "", ErrSyncInProgress
	}
	id := ledger.TaskID(params)
	if err := p.deps.Ledger.Invalidate(id); err != nil {
		return "", err
	}
	return id, nil
}

// RemoveResult reports what Remove deleted
type RemoveResult struct {
	VectorsDeleted int  `json:"vectors_deleted"`
	TasksRemoved   int  `json:"tasks_removed"`
	Tracked        bool `json:"tracked"`
}

// Remove deletes every vector, snapshot, ledger task and the working copy of
// a source and branch. Vectors the snapshot does not know about are found by
// metadata so nothing written by an interrupted run is left behind.
func (p *Pipeline) Remove(ctx context.Context, sourceID, branch string) (*RemoveResult, error) {
	if err := (types.TaskParams{SourceID: sourceID, Branch: branch}).Validate(); err != nil {
		return nil, err
	}
	if !p.lock.TryAcquire() {
		return nil, ErrSyncInProgress
	}
	defer p.lock.Release()

	log := p.logger.With("source", sourceID, "branch", branch)
	res := &RemoveResult{}

	repo, ok := p.deps.Metadata.Get(sourceID, branch)
	res.Tracked = ok
	if ok && repo.Collection == p.Collection() {
		dir := directory.New(p.deps.Store, repo, directory.WithLogger(p.logger))
		for _, path := range repo.Paths() {
			n, err := dir.Remove(ctx, path)
			if err != nil {
				return res, fmt.Errorf("remove vectors of %s: %w", path, err)
			}
			res.VectorsDeleted += n
		}
	}

	refs, err := p.deps.Store.QueryByMetadata(ctx, vectorstore.Filter{Must: map[string]string{
		vectorstore.KeySourceID: sourceID,
		vectorstore.KeyBranch:   branch,
	}})
	if err != nil {
		return res, fmt.Errorf("query leftover vectors: %w", err)
	}
	if len(refs) > 0 {
		ids := make([]string, len(refs))
		for i, r := range refs {
			ids[i] = r.ID
		}
		if err := p.deps.Store.DeleteByIDs(ctx, ids); err != nil {
			return res, fmt.Errorf("delete leftover vectors: %w", err)
		}
		res.VectorsDeleted += len(ids)
	}
	p.metrics.VectorsDeleted(res.VectorsDeleted)

	var errs []error
	if err := p.deps.Metadata.Delete(sourceID, branch); err != nil {
		errs = append(errs, err)
	}
	n, err := p.deps.Ledger.InvalidateSource(sourceID, branch)
	if err != nil {
		errs = append(errs, err)
	}
	res.TasksRemoved = n
	if err := p.deps.Fetcher.Remove(sourceID, branch); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return res, err
	}

	log.Info("pipeline.remove.complete", "vectors_deleted", res.VectorsDeleted, "tasks_removed", res.TasksRemoved)
	return res, nil
}

// ForgetCollection drops every snapshot, ledger task and checkpoint that
// refers to a dropped collection, so the next sync into a recreated
// collection of the same name rebuilds from scratch. It returns the number
// of snapshots removed.
func ForgetCollection(led *ledger.Ledger, meta *metadata.Store, stateDir, collection string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	removed := 0
	for _, key := range meta.Keys() {
		// sources may contain '@' (scp-style URLs); the branch follows the last one
		i := strings.LastIndex(key, "@")
		if i < 0 {
			continue
		}
		sourceID, branch := key[:i], key[i+1:]
		repo, found := meta.Get(sourceID, branch)
		if !found || repo.Collection != collection {
			continue
		}
		if err := meta.Delete(sourceID, branch); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := led.InvalidateSource(sourceID, branch); err != nil {
			errs = append(errs, err)
		}
		removed++
	}

	cps, err := indexer.OpenCheckpoints(stateDir, collection, logger)
	if err != nil {
		errs = append(errs, err)
	} else if err := cps.Reset(); err != nil {
		errs = append(errs, err)
	}

	logger.Info("pipeline.collection.forgotten", "collection", collection, "snapshots", removed)
	return removed, errors.Join(errs...)
}
