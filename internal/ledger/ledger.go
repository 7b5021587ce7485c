// Package ledger records, per task and per pipeline step, whether the step's
// output is still valid for its current inputs.
//
// The whole ledger is one JSON document (cache_state.json). Every mutation
// rewrites it atomically, so a crash leaves either the previous or the new
// complete state on disk.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dshills/reposync/internal/statefile"
	"github.com/dshills/reposync/pkg/types"
)

const (
	// SchemaVersion is the ledger file format written by this build
	SchemaVersion = "1.0.0"
	// FileName is the ledger file name inside the state directory
	FileName = "cache_state.json"
)

// ErrTaskNotFound is returned when an operation names a task that was never initialized
var ErrTaskNotFound = errors.New("task not found")

type document struct {
	SchemaVersion string                       `json:"schema_version"`
	Tasks         map[string]*types.TaskRecord `json:"tasks"`
}

func (d *document) Version() string { return d.SchemaVersion }

func newDocument() *document {
	return &document{SchemaVersion: SchemaVersion, Tasks: make(map[string]*types.TaskRecord)}
}

// Ledger is the durable step-completion cache
type Ledger struct {
	mu     sync.Mutex
	path   string
	doc    *document
	logger *slog.Logger
	now    func() time.Time
}

// Open loads the ledger at path. A missing file yields an empty ledger; a
// corrupt file is quarantined and also yields an empty ledger.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		path:   path,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}

	doc := newDocument()
	res, err := statefile.Load(path, doc, SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	if res.Quarantined != "" {
		l.logger.Warn("ledger.corrupt", "path", path, "moved_to", res.Quarantined, "err", res.Cause)
		doc = newDocument()
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]*types.TaskRecord)
	}
	doc.SchemaVersion = SchemaVersion
	l.doc = doc
	return l, nil
}

// Path returns the ledger file location
func (l *Ledger) Path() string {
	return l.path
}

// TaskID returns the deterministic identifier for params.
// List-valued filters are sorted and de-duplicated before hashing, so the
// order in which a caller supplies them never changes the ID.
func TaskID(params types.TaskParams) string {
	canonical := types.TaskParams{
		SourceID: params.SourceID,
		Branch:   params.Branch,
		Filters:  params.Filters.Normalized(),
	}
	// Struct field order is fixed, so the encoding is canonical.
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint hashes an ordered list of step inputs
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = fmt.Fprintf(h, "%d:%s;", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// InitTask creates a task with every step pending. Existing tasks are left untouched.
func (l *Ledger) InitTask(taskID string, params types.TaskParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.doc.Tasks[taskID]; ok {
		return nil
	}

	now := l.now().UTC()
	rec := &types.TaskRecord{
		Params:    types.TaskParams{SourceID: params.SourceID, Branch: params.Branch, Filters: params.Filters.Normalized()},
		CreatedAt: now,
		Steps:     make(map[types.Step]*types.StepRecord, len(types.AllSteps)),
	}
	for _, step := range types.AllSteps {
		rec.Steps[step] = &types.StepRecord{Status: types.StatusPending, Timestamp: now}
	}
	l.doc.Tasks[taskID] = rec

	l.logger.Debug("ledger.task.init", "task_id", types.ShortID(taskID), "source", params.SourceID, "branch", params.Branch)
	return l.saveLocked()
}

// IsValid reports whether step completed with the given input fingerprint
func (l *Ledger) IsValid(taskID string, step types.Step, fingerprint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, ok := l.doc.Tasks[taskID]
	if !ok {
		return false
	}
	return task.Steps[step].Usable(fingerprint)
}

// Step returns a copy of the record for (taskID, step)
func (l *Ledger) Step(taskID string, step types.Step) (types.StepRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, ok := l.doc.Tasks[taskID]
	if !ok {
		return types.StepRecord{}, false
	}
	rec, ok := task.Steps[step]
	if !ok || rec == nil {
		return types.StepRecord{}, false
	}
	return *rec, true
}

// Task returns a deep copy of a task record
func (l *Ledger) Task(taskID string) (types.TaskRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, ok := l.doc.Tasks[taskID]
	if !ok {
		return types.TaskRecord{}, false
	}
	return copyTask(task), true
}

// MarkCompleted records a successful step attempt and persists the ledger
func (l *Ledger) MarkCompleted(taskID string, step types.Step, fingerprint string, payload types.StepPayload) error {
	return l.update(taskID, step, types.StepRecord{
		Status:      types.StatusCompleted,
		Fingerprint: fingerprint,
		Payload:     payload,
	})
}

// MarkFailed records a failed step attempt and persists the ledger.
// The previous fingerprint is cleared so the step can never be reused from cache.
func (l *Ledger) MarkFailed(taskID string, step types.Step, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return l.update(taskID, step, types.StepRecord{
		Status: types.StatusFailed,
		Error:  msg,
	})
}

// Invalidate removes the task record entirely, forcing a full resync
func (l *Ledger) Invalidate(taskID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.doc.Tasks[taskID]; !ok {
		return nil
	}
	delete(l.doc.Tasks, taskID)
	l.logger.Info("ledger.task.invalidated", "task_id", types.ShortID(taskID))
	return l.saveLocked()
}

// InvalidateSource removes every task that targets (sourceID, branch) and
// returns how many were removed
func (l *Ledger) InvalidateSource(sourceID, branch string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, task := range l.doc.Tasks {
		if task.Params.SourceID == sourceID && task.Params.Branch == branch {
			delete(l.doc.Tasks, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, l.saveLocked()
}

// TaskIDs returns every known task ID in sorted order
func (l *Ledger) TaskIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.doc.Tasks))
	for id := range l.doc.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Ledger) update(taskID string, step types.Step, rec types.StepRecord) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownStep, step)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	task, ok := l.doc.Tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, types.ShortID(taskID))
	}
	rec.Timestamp = l.now().UTC()
	task.Steps[step] = &rec

	l.logger.Debug("ledger.step.update",
		"task_id", types.ShortID(taskID),
		"step", step,
		"status", rec.Status,
	)
	return l.saveLocked()
}

func (l *Ledger) saveLocked() error {
	return statefile.WriteJSON(l.path, l.doc)
}

func copyTask(t *types.TaskRecord) types.TaskRecord {
	out := types.TaskRecord{
		Params:    t.Params,
		CreatedAt: t.CreatedAt,
		Steps:     make(map[types.Step]*types.StepRecord, len(t.Steps)),
	}
	for step, rec := range t.Steps {
		if rec == nil {
			continue
		}
		r := *rec
		out.Steps[step] = &r
	}
	return out
}
