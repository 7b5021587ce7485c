// Package pipeline runs one synchronization of a source: fetch the working
// copy, detect what changed since the last recorded snapshot, and index the
// changes into the vector store. Every step consults the cache ledger and
// every durable write is atomic, so an interrupted run resumes where it
// stopped.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dshills/reposync/internal/detector"
	"github.com/dshills/reposync/internal/directory"
	"github.com/dshills/reposync/internal/embedder"
	"github.com/dshills/reposync/internal/indexer"
	"github.com/dshills/reposync/internal/ledger"
	"github.com/dshills/reposync/internal/metadata"
	"github.com/dshills/reposync/internal/metrics"
	"github.com/dshills/reposync/internal/mirror"
	"github.com/dshills/reposync/internal/source"
	"github.com/dshills/reposync/internal/vectorstore"
	"github.com/dshills/reposync/pkg/types"
)

// ErrSyncInProgress is returned when a sync, removal or invalidation overlaps a running sync
var ErrSyncInProgress = errors.New("sync already in progress")

// Fetcher is the content mirror capability
type Fetcher interface {
	Sync(ctx context.Context, sourceID, branch string) (*mirror.Result, error)
	HeadCommit(ctx context.Context, path string) (string, error)
	IsDirty(ctx context.Context, path string) (bool, error)
	LocalPath(sourceID, branch string) string
	Remove(sourceID, branch string) error
}

// Config contains configuration for the pipeline
type Config struct {
	StateDir    string         // holds batch checkpoints
	FetchTTL    time.Duration  // maximum age of a reusable fetch record; 0 never expires
	MaxFileSize int64          // larger files are skipped
	Indexer     indexer.Config // batch builder settings
}

// Deps are the long-lived collaborators owned by the caller
type Deps struct {
	Fetcher  Fetcher
	Ledger   *ledger.Ledger
	Metadata *metadata.Store
	Store    vectorstore.Store
	Embedder embedder.Embedder
}

// Request is one sync invocation
type Request struct {
	Params types.TaskParams
	// Force invalidates the task and its checkpoints and re-checks every
	// file against the store
	Force bool
	// Refresh fetches from the remote even when the fetch step is cached
	Refresh bool
	// Verify disables the commit fast path so file content is always hashed
	Verify bool
}

// Pipeline wires the sync components for one vector collection
type Pipeline struct {
	cfg      Config
	deps     Deps
	detector *detector.Detector
	builder  *indexer.Builder
	logger   *slog.Logger
	metrics  *metrics.Metrics
	lock     indexer.IndexLock
	now      func() time.Time
}

// Option configures a Pipeline
type Option func(*options)

type options struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	progress func(indexer.Progress)
}

// WithLogger sets the logger shared by all components
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records run, batch and vector metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithProgress receives batch progress of every run
func WithProgress(fn func(indexer.Progress)) Option {
	return func(o *options) { o.progress = fn }
}

// New creates a Pipeline. All dependencies are required.
func New(cfg Config, deps Deps, opts ...Option) (*Pipeline, error) {
	if deps.Fetcher == nil || deps.Ledger == nil || deps.Metadata == nil || deps.Store == nil || deps.Embedder == nil {
		return nil, errors.New("pipeline: fetcher, ledger, metadata, store and embedder are required")
	}
	if cfg.StateDir == "" {
		return nil, errors.New("pipeline: state directory is required")
	}
	if dim := deps.Store.Collection().Dimension; dim != deps.Embedder.Dimension() {
		return nil, fmt.Errorf("%w: collection %s holds %d-dim vectors, embedder produces %d",
			vectorstore.ErrCollectionMismatch, deps.Store.Collection().Name, dim, deps.Embedder.Dimension())
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	bopts := []indexer.Option{indexer.WithLogger(o.logger), indexer.WithMetrics(o.metrics)}
	if o.progress != nil {
		bopts = append(bopts, indexer.WithProgress(o.progress))
	}

	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		detector: detector.New(o.logger),
		builder:  indexer.New(deps.Embedder, deps.Store, cfg.Indexer, bopts...),
		logger:   o.logger.With("component", "pipeline"),
		metrics:  o.metrics,
		now:      time.Now,
	}, nil
}

// Collection returns the vector collection this pipeline writes to
func (p *Pipeline) Collection() string {
	return p.deps.Store.Collection().Name
}

// Syncing reports whether a sync is running
func (p *Pipeline) Syncing() bool {
	return p.lock.Held()
}

// Sync runs fetch, detect and index for req.Params.
//
// File-level and batch-level failures are reported in the summary and do
// not fail the run. A fetch that is rejected or exhausts its retries, a
// store that cannot be queried, and cancellation return an error together
// with the partial summary.
func (p *Pipeline) Sync(ctx context.Context, req Request) (*types.Summary, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	if !p.lock.TryAcquire() {
		return nil, ErrSyncInProgress
	}
	defer p.lock.Release()

	start := p.now()
	params := req.Params
	taskID := ledger.TaskID(params)
	sum := &types.Summary{
		TaskID:     taskID,
		SourceID:   params.SourceID,
		Branch:     params.Branch,
		Collection: p.Collection(),
	}
	log := p.logger.With("task_id", types.ShortID(taskID), "source", params.SourceID, "branch", params.Branch)
	log.Info("pipeline.sync.start", "force", req.Force, "refresh", req.Refresh, "verify", req.Verify)

	finish := func(outcome string, err error) (*types.Summary, error) {
		sum.Duration = p.now().Sub(start)
		p.metrics.SyncRun(outcome, sum.Duration)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				sum.Errors = append(sum.Errors, err.Error())
			}
			log.Error("pipeline.sync.failed", "outcome", outcome, "err", err)
			return sum, err
		}
		log.Info("pipeline.sync.complete",
			"outcome", outcome,
			"commit", types.ShortID(sum.CommitID),
			"added", len(sum.Added),
			"modified", len(sum.Modified),
			"deleted", len(sum.Deleted),
			"failed_batches", len(sum.FailedBatches),
			"duration", sum.Duration,
		)
		return sum, nil
	}

	if req.Force {
		if err := p.deps.Ledger.Invalidate(taskID); err != nil {
			return finish("failed", err)
		}
	}
	if err := p.deps.Ledger.InitTask(taskID, params); err != nil {
		return finish("failed", err)
	}

	// fetch
	fetched, cached, err := p.fetch(ctx, taskID, params, req.Refresh, log)
	if err != nil {
		return finish(outcomeOf(err), err)
	}
	sum.CommitID = fetched.CommitID
	sum.FetchCached = cached
	if err := ctx.Err(); err != nil {
		return finish("canceled", err)
	}

	// detect
	prev, ok := p.deps.Metadata.Get(params.SourceID, params.Branch)
	if ok && prev.Collection != p.Collection() {
		log.Warn("pipeline.collection.changed", "previous", prev.Collection, "current", p.Collection())
		ok = false
	}
	if !ok {
		prev = nil
	}

	filters, _ := json.Marshal(params.Filters.Normalized())
	parseFP := ledger.Fingerprint(fetched.CommitID, string(filters))
	vectorizeFP := ledger.Fingerprint(parseFP, embedder.Identity(p.deps.Embedder), p.Collection())

	allowFast := !req.Force && !req.Verify &&
		p.deps.Ledger.IsValid(taskID, types.StepParse, parseFP) &&
		p.deps.Ledger.IsValid(taskID, types.StepVectorize, vectorizeFP)
	if allowFast {
		dirty, err := p.deps.Fetcher.IsDirty(ctx, fetched.LocalPath)
		if err != nil {
			log.Warn("pipeline.dirty_check_failed", "err", err)
		}
		allowFast = err == nil && !dirty
	}

	var snap *source.Snapshot
	load := func(ctx context.Context) ([]types.Document, error) {
		src, err := source.New(fetched.LocalPath, source.Options{Filters: params.Filters, MaxFileSize: p.cfg.MaxFileSize}, p.logger)
		if err != nil {
			return nil, err
		}
		snap, err = src.Load(ctx)
		if err != nil {
			return nil, err
		}
		return snap.Documents, nil
	}

	det, err := p.detector.Detect(ctx, detector.Input{CommitID: fetched.CommitID, Previous: prev, AllowFastPath: allowFast}, load)
	if err != nil {
		if ctx.Err() != nil {
			return finish("canceled", ctx.Err())
		}
		err = fmt.Errorf("%w: %v", types.ErrParseFailed, err)
		_ = p.deps.Ledger.MarkFailed(taskID, types.StepParse, err)
		return finish("failed", err)
	}
	if det.Changes.NoChanges {
		sum.NoChanges = true
		sum.Unchanged = prev.FileCount
		return finish("unchanged", nil)
	}

	changes := detector.Retain(det.Changes, snap.FailedPaths())
	for _, pe := range snap.Failed {
		sum.Errors = append(sum.Errors, pe.Error())
	}
	sum.Added = changes.Added
	sum.Modified = changes.Modified
	sum.Deleted = changes.Deleted
	sum.Unchanged = len(changes.Unchanged)

	if err := p.deps.Ledger.MarkCompleted(taskID, types.StepParse, parseFP, types.StepPayload{
		CommitID:      fetched.CommitID,
		DocumentCount: len(snap.Documents),
		ParseErrors:   len(snap.Failed),
	}); err != nil {
		return finish("failed", err)
	}
	if err := ctx.Err(); err != nil {
		return finish("canceled", err)
	}

	// vectorize
	err = p.vectorize(ctx, taskID, vectorizeFP, req.Force, prev, changes, det.Documents, sum, log)
	switch {
	case errors.Is(err, context.Canceled):
		return finish("canceled", err)
	case err != nil:
		return finish("failed", err)
	case sum.Failed():
		return finish("partial", nil)
	default:
		return finish("ok", nil)
	}
}

// fetch returns the working copy, reusing the cached fetch step when it is
// valid, unexpired, and the working copy still sits at the cached commit.
func (p *Pipeline) fetch(ctx context.Context, taskID string, params types.TaskParams, refresh bool, log *slog.Logger) (*mirror.Result, bool, error) {
	fp := ledger.Fingerprint(params.SourceID, params.Branch)

	if !refresh && p.deps.Ledger.IsValid(taskID, types.StepFetch, fp) {
		rec, _ := p.deps.Ledger.Step(taskID, types.StepFetch)
		fresh := p.cfg.FetchTTL <= 0 || p.now().Sub(rec.Timestamp) < p.cfg.FetchTTL
		if fresh && isDir(rec.Payload.LocalPath) {
			head, err := p.deps.Fetcher.HeadCommit(ctx, rec.Payload.LocalPath)
			if err == nil && head == rec.Payload.CommitID {
				log.Info("pipeline.fetch.cached", "commit", types.ShortID(head))
				p.metrics.FetchAttempt("cached")
				return &mirror.Result{LocalPath: rec.Payload.LocalPath, CommitID: head}, true, nil
			}
			log.Debug("pipeline.fetch.cache_stale", "err", err, "head", types.ShortID(head))
		}
	}

	res, err := p.deps.Fetcher.Sync(ctx, params.SourceID, params.Branch)
	if err != nil {
		if ctx.Err() == nil {
			_ = p.deps.Ledger.MarkFailed(taskID, types.StepFetch, err)
		}
		return nil, false, err
	}
	if err := p.deps.Ledger.MarkCompleted(taskID, types.StepFetch, fp, types.StepPayload{
		CommitID:  res.CommitID,
		LocalPath: res.LocalPath,
	}); err != nil {
		return nil, false, err
	}
	return res, false, nil
}

// vectorize removes deleted files, indexes added and modified ones, and
// persists the resulting snapshot. The snapshot's commit id only advances
// when every batch succeeded.
func (p *Pipeline) vectorize(ctx context.Context, taskID, fp string, force bool, prev *types.RepositoryMetadata,
	changes types.ChangeSet, docs map[string]types.Document, sum *types.Summary, log *slog.Logger) error {

	repo := types.NewRepositoryMetadata(sum.SourceID, sum.Branch, p.Collection())
	if prev != nil {
		repo = prev.Clone()
	}
	dir := directory.New(p.deps.Store, repo, directory.WithLogger(p.logger))

	cps, err := indexer.OpenCheckpoints(p.cfg.StateDir, p.Collection(), p.logger)
	if err != nil {
		return err
	}
	if force {
		if err := cps.Reset(); err != nil {
			return err
		}
	}

	for _, path := range changes.Deleted {
		n, err := dir.Remove(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return p.saveSnapshot(dir, prev, "", ctx.Err())
			}
			log.Warn("pipeline.remove_failed", "path", path, "err", err)
			sum.Errors = append(sum.Errors, err.Error())
			continue
		}
		sum.VectorsDeleted += n
		p.metrics.VectorsDeleted(n)
	}

	paths := append(append([]string{}, changes.Added...), changes.Modified...)
	if force {
		paths = append(paths, changes.Unchanged...)
	}
	pending := make([]types.Document, 0, len(paths))
	for _, path := range paths {
		if d, ok := docs[path]; ok {
			pending = append(pending, d)
		}
	}

	res, err := p.builder.Run(ctx, indexer.Request{
		SourceID:    sum.SourceID,
		Branch:      sum.Branch,
		Documents:   pending,
		Directory:   dir,
		Checkpoints: cps,
	})
	if res != nil {
		sum.BatchesTotal = res.BatchesTotal
		sum.BatchesSkipped = res.BatchesSkipped
		sum.VectorsWritten = res.VectorsWritten
		sum.VectorsDeleted += res.VectorsDeleted
		sum.FailedBatches = res.Failed
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			_ = p.deps.Ledger.MarkFailed(taskID, types.StepVectorize, err)
		}
		return p.saveSnapshot(dir, prev, "", err)
	}

	commit := ""
	if !sum.Failed() {
		commit = sum.CommitID
	}
	if err := p.saveSnapshot(dir, prev, commit, nil); err != nil {
		return err
	}

	if sum.Failed() {
		for _, fb := range sum.FailedBatches {
			sum.Errors = append(sum.Errors, fb.Error)
		}
		return p.deps.Ledger.MarkFailed(taskID, types.StepVectorize,
			fmt.Errorf("%w: %d of %d batches failed", types.ErrVectorizeFailed, len(sum.FailedBatches), sum.BatchesTotal))
	}
	return p.deps.Ledger.MarkCompleted(taskID, types.StepVectorize, fp, types.StepPayload{
		CommitID:    sum.CommitID,
		VectorCount: dir.Snapshot().VectorCount(),
	})
}

// saveSnapshot persists the directory's records. commit replaces the last
// commit id when non-empty; otherwise the previous one is kept. cause is
// returned unchanged unless persisting fails too.
func (p *Pipeline) saveSnapshot(dir *directory.Directory, prev *types.RepositoryMetadata, commit string, cause error) error {
	snap := dir.Snapshot()
	snap.LastCommitID = ""
	if prev != nil {
		snap.LastCommitID = prev.LastCommitID
	}
	if commit != "" {
		snap.LastCommitID = commit
	}
	if err := p.deps.Metadata.Put(snap); err != nil {
		return errors.Join(cause, fmt.Errorf("save repository metadata: %w", err))
	}
	return cause
}

func outcomeOf(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "failed"
}

func isDir(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
