package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/reposync/internal/chunker"
	"github.com/dshills/reposync/internal/directory"
	"github.com/dshills/reposync/internal/embedder"
	"github.com/dshills/reposync/internal/metrics"
	"github.com/dshills/reposync/internal/retry"
	"github.com/dshills/reposync/internal/vectorstore"
	"github.com/dshills/reposync/pkg/types"
)

const (
	DefaultGroupDepth    = 1
	DefaultBatchSize     = 20
	DefaultWorkers       = 1
	DefaultInsertRetries = 2
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultBatchTimeout  = 60 * time.Second
)

// ErrBuildInProgress is returned when Run is called while another run holds the builder
var ErrBuildInProgress = errors.New("index build already in progress")

// Phase is the state of a run. Every reported Progress carries one of
// the phases below.
type Phase string

const (
	PhaseGrouping   Phase = "grouping"
	PhaseProcessing Phase = "processing"
	PhaseDone       Phase = "done"
)

// Config contains configuration for the builder
type Config struct {
	GroupDepth    int           `yaml:"group_depth"`    // Directory levels forming a group key (default: 1)
	BatchSize     int           `yaml:"batch_size"`     // Documents per batch (default: 20)
	Workers       int           `yaml:"workers"`        // Batches processed concurrently (default: 1)
	InsertRetries int           `yaml:"insert_retries"` // Per-unit fallback attempts after a failed bulk insert (default: 2)
	RetryDelay    time.Duration `yaml:"retry_delay"`    // Backoff base between insert attempts
	BatchTimeout  time.Duration `yaml:"batch_timeout"`  // Bound for one embedding call and one insert attempt
}

// DefaultConfig returns the default builder configuration
func DefaultConfig() Config {
	return Config{
		GroupDepth:    DefaultGroupDepth,
		BatchSize:     DefaultBatchSize,
		Workers:       DefaultWorkers,
		InsertRetries: DefaultInsertRetries,
		RetryDelay:    DefaultRetryDelay,
		BatchTimeout:  DefaultBatchTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.GroupDepth < 0 {
		c.GroupDepth = d.GroupDepth
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.InsertRetries < 0 {
		c.InsertRetries = 0
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	return c
}

// Progress tracks indexing progress
type Progress struct {
	Phase          Phase
	BatchesTotal   int
	BatchesDone    int // completed, skipped or failed
	BatchesSkipped int
	BatchesFailed  int
}

// Result summarizes one run
type Result struct {
	BatchesTotal      int
	BatchesSkipped    int
	BatchesCompleted  int
	DocumentsIndexed  int
	DocumentsSkipped  int // already had vectors for their current content
	VectorsWritten    int
	VectorsDeleted    int
	Failed            []types.FailedBatch
	CheckpointsPruned int
	Duration          time.Duration
}

// Request is one indexing run for a source
type Request struct {
	SourceID    string
	Branch      string
	Documents   []types.Document // added and modified documents
	Directory   *directory.Directory
	Checkpoints *Checkpoints
}

// Builder turns documents into vector store entries, resumably
type Builder struct {
	embedder embedder.Embedder
	store    vectorstore.Store
	chunker  *chunker.Chunker
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	progress func(Progress)
	lock     IndexLock
}

// Option configures a Builder
type Option func(*Builder)

// WithChunker replaces the default unit splitter
func WithChunker(c *chunker.Chunker) Option {
	return func(b *Builder) { b.chunker = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics records batch and vector counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithProgress registers a callback invoked after every batch. It may be
// called from several goroutines when Workers > 1.
func WithProgress(fn func(Progress)) Option {
	return func(b *Builder) { b.progress = fn }
}

// New creates a Builder writing emb's vectors into store
func New(emb embedder.Embedder, store vectorstore.Store, cfg Config, opts ...Option) *Builder {
	b := &Builder{
		embedder: emb,
		store:    store,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.chunker == nil {
		b.chunker = chunker.New()
	}
	b.logger = b.logger.With("component", "indexer")
	return b
}

// Config returns the effective configuration
func (b *Builder) Config() Config { return b.cfg }

// run holds the mutable state of one Run
type run struct {
	req   Request
	stale map[string][]string

	mu       sync.Mutex
	res      *Result
	progress Progress
}

// Run indexes req.Documents. Documents that already have vectors for their
// current content are recorded and excluded. The remaining documents are
// grouped into batches; checkpointed batches are skipped and a failing batch
// is reported without stopping the others. Cancellation is observed between
// batches only; in that case the partial result is returned with ctx's error.
func (b *Builder) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Directory == nil || req.Checkpoints == nil {
		return nil, fmt.Errorf("indexer: directory and checkpoints are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.lock.TryAcquire() {
		return nil, ErrBuildInProgress
	}
	defer b.lock.Release()

	start := time.Now()
	r := &run{req: req, res: &Result{}}
	r.progress.Phase = PhaseGrouping
	b.report(r)

	pending, err := b.excludeIndexed(ctx, r)
	if err != nil {
		return nil, err
	}

	batches := Plan(pending, b.cfg.GroupDepth, b.cfg.BatchSize)
	r.res.BatchesTotal = len(batches)
	r.progress.BatchesTotal = len(batches)
	r.progress.Phase = PhaseProcessing
	b.report(r)

	b.logger.Info("indexer.run.start",
		"source", req.SourceID,
		"branch", req.Branch,
		"documents", len(req.Documents),
		"already_indexed", r.res.DocumentsSkipped,
		"batches", len(batches),
		"workers", b.cfg.Workers,
	)

	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)
	for _, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// a slot may free up only after cancellation
			if ctx.Err() != nil {
				return nil
			}
			b.processBatch(ctx, r, batch)
			return nil
		})
	}
	_ = g.Wait()

	r.res.Duration = time.Since(start)
	if err := ctx.Err(); err != nil {
		b.logger.Warn("indexer.run.canceled",
			"completed", r.res.BatchesCompleted,
			"remaining", r.res.BatchesTotal-r.progress.BatchesDone,
		)
		return r.res, err
	}

	if len(r.res.Failed) == 0 {
		keep := make(map[string]struct{}, len(batches))
		for _, batch := range batches {
			keep[batch.ID] = struct{}{}
		}
		pruned, err := req.Checkpoints.Retain(keep)
		if err != nil {
			b.logger.Warn("indexer.checkpoints.prune_failed", "err", err)
		}
		r.res.CheckpointsPruned = pruned
	}

	r.progress.Phase = PhaseDone
	b.report(r)
	b.logger.Info("indexer.run.complete",
		"batches", r.res.BatchesTotal,
		"completed", r.res.BatchesCompleted,
		"skipped", r.res.BatchesSkipped,
		"failed", len(r.res.Failed),
		"vectors_written", r.res.VectorsWritten,
		"vectors_deleted", r.res.VectorsDeleted,
		"duration", r.res.Duration,
	)
	return r.res, nil
}

// excludeIndexed records documents whose current content is already in the
// store and returns the rest. Vectors of older content are remembered so the
// batch that re-indexes a document also removes them.
func (b *Builder) excludeIndexed(ctx context.Context, r *run) ([]types.Document, error) {
	current, stale, err := r.req.Directory.Split(ctx, r.req.Documents)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve indexed documents: %v", types.ErrVectorizeFailed, err)
	}
	r.stale = stale

	var pending []types.Document
	for _, doc := range r.req.Documents {
		ids := current[doc.Path]
		if len(ids) == 0 {
			pending = append(pending, doc)
			continue
		}
		deleted, err := r.req.Directory.Replace(ctx, doc, stale[doc.Path], ids)
		if err != nil {
			b.logger.Warn("indexer.cleanup_failed", "path", doc.Path, "err", err)
		}
		r.res.DocumentsSkipped++
		r.res.VectorsDeleted += deleted
		b.metrics.VectorsDeleted(deleted)
	}
	return pending, nil
}

func (b *Builder) processBatch(ctx context.Context, r *run, batch Batch) {
	log := b.logger.With("batch", types.ShortID(batch.ID), "group", batch.Group)
	start := time.Now()

	if r.req.Checkpoints.Has(batch.ID) {
		log.Info("indexer.batch.skipped", "files", len(batch.Docs))
		b.metrics.Batch("skipped")
		r.mu.Lock()
		r.res.BatchesSkipped++
		r.progress.BatchesSkipped++
		r.progress.BatchesDone++
		r.mu.Unlock()
		b.report(r)
		return
	}

	written, deleted, err := b.indexBatch(ctx, r, batch, log)
	if err != nil {
		berr := &types.BatchError{BatchID: batch.ID, Group: batch.Group, Err: err}
		log.Error("indexer.batch.failed", "files", batch.Paths(), "err", err)
		b.metrics.Batch("failed")
		r.mu.Lock()
		r.res.Failed = append(r.res.Failed, types.FailedBatch{
			BatchID: batch.ID,
			Group:   batch.Group,
			Files:   batch.Paths(),
			Error:   berr.Error(),
		})
		r.progress.BatchesFailed++
		r.progress.BatchesDone++
		r.mu.Unlock()
		b.report(r)
		return
	}

	entry := CheckpointEntry{
		Group:   batch.Group,
		Files:   batch.Paths(),
		Docs:    len(batch.Docs),
		Nodes:   written,
		Elapsed: time.Since(start).Seconds(),
	}
	if err := r.req.Checkpoints.Complete(batch.ID, entry); err != nil {
		log.Warn("indexer.checkpoint.failed", "err", err)
	}

	b.metrics.Batch("completed")
	b.metrics.VectorsWritten(written)
	b.metrics.VectorsDeleted(deleted)
	log.Info("indexer.batch.complete", "files", len(batch.Docs), "vectors", written, "deleted", deleted,
		"elapsed", time.Since(start))

	r.mu.Lock()
	r.res.BatchesCompleted++
	r.res.DocumentsIndexed += len(batch.Docs)
	r.res.VectorsWritten += written
	r.res.VectorsDeleted += deleted
	r.progress.BatchesDone++
	r.mu.Unlock()
	b.report(r)
}

// indexBatch embeds and stores one batch, then records the new vector IDs
func (b *Builder) indexBatch(ctx context.Context, r *run, batch Batch, log *slog.Logger) (written, deleted int, err error) {
	var units []types.Unit
	for _, doc := range batch.Docs {
		units = append(units, b.chunker.Split(doc)...)
	}

	var records []vectorstore.Record
	if len(units) > 0 {
		records, err = b.embed(ctx, r, units)
		if err != nil {
			return 0, 0, err
		}
		if err := b.insert(ctx, records, log); err != nil {
			return 0, 0, fmt.Errorf("insert %d vectors: %w", len(records), err)
		}
	}

	// the vectors are written; finish the batch even if ctx is canceled now
	wctx := context.WithoutCancel(ctx)
	newIDs := make(map[string][]string, len(batch.Docs))
	for _, rec := range records {
		path := rec.Metadata[vectorstore.KeyPath]
		newIDs[path] = append(newIDs[path], rec.ID)
	}
	for _, doc := range batch.Docs {
		n, err := r.req.Directory.Replace(wctx, doc, r.stale[doc.Path], newIDs[doc.Path])
		if err != nil {
			log.Warn("indexer.cleanup_failed", "path", doc.Path, "err", err)
		}
		deleted += n
	}
	return len(records), deleted, nil
}

// embed converts units into records with deterministic IDs
func (b *Builder) embed(ctx context.Context, r *run, units []types.Unit) ([]vectorstore.Record, error) {
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Text
	}

	ectx, cancel := context.WithTimeout(ctx, b.cfg.BatchTimeout)
	defer cancel()
	resp, err := b.embedder.GenerateBatch(ectx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("embed %d units: %w", len(units), err)
	}
	vectors := resp.Vectors()
	if len(vectors) != len(units) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d units", len(vectors), len(units))
	}

	collection := b.store.Collection().Name
	records := make([]vectorstore.Record, len(units))
	for i, u := range units {
		records[i] = vectorstore.Record{
			ID:     vectorstore.VectorID(collection, r.req.SourceID, r.req.Branch, u.Path, u.Index, u.ContentHash),
			Vector: vectors[i],
			Metadata: map[string]string{
				vectorstore.KeySourceID:    r.req.SourceID,
				vectorstore.KeyBranch:      r.req.Branch,
				vectorstore.KeyPath:        u.Path,
				vectorstore.KeyContentHash: u.DocHash,
				vectorstore.KeyUnitIndex:   strconv.Itoa(u.Index),
				vectorstore.KeyUnitHash:    u.ContentHash,
				vectorstore.KeyStartLine:   strconv.Itoa(u.StartLine),
				vectorstore.KeyEndLine:     strconv.Itoa(u.EndLine),
			},
		}
		if len(u.Symbols) > 0 {
			records[i].Metadata[vectorstore.KeySymbols] = strings.Join(u.Symbols, ",")
		}
	}
	return records, nil
}

// insert bulk-inserts records. After a failure it retries with one insert per
// record, skipping records a previous fallback attempt already stored. It is
// never interrupted by cancellation of ctx; each attempt has its own timeout.
func (b *Builder) insert(ctx context.Context, records []vectorstore.Record, log *slog.Logger) error {
	wctx := context.WithoutCancel(ctx)
	stored := make([]bool, len(records))
	policy := retry.Policy{
		MaxRetries: b.cfg.InsertRetries,
		BaseDelay:  b.cfg.RetryDelay,
		MaxDelay:   10 * b.cfg.RetryDelay,
		Multiplier: 2,
	}

	_, err := retry.Do(wctx, policy, func(attempt int) (struct{}, error) {
		actx, cancel := context.WithTimeout(wctx, b.cfg.BatchTimeout)
		defer cancel()

		if attempt == 0 {
			return struct{}{}, b.store.BulkInsert(actx, records)
		}
		for i, rec := range records {
			if stored[i] {
				continue
			}
			if err := b.store.Insert(actx, rec); err != nil {
				return struct{}{}, err
			}
			stored[i] = true
		}
		return struct{}{}, nil
	},
		retry.WithClassifier(insertRetryable),
		retry.BeforeRetry(func(n int, err error, delay time.Duration) {
			log.Warn("indexer.insert.retry", "retry", n, "delay", delay, "err", err)
		}),
	)
	return err
}

// insertRetryable retries every store failure except malformed records
func insertRetryable(err error) bool {
	return !errors.Is(err, vectorstore.ErrInvalidRecord) && !errors.Is(err, vectorstore.ErrDimensionMismatch)
}

func (b *Builder) report(r *run) {
	if b.progress == nil {
		return
	}
	r.mu.Lock()
	p := r.progress
	r.mu.Unlock()
	b.progress(p)
}
