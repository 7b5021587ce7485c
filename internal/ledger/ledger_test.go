package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposync/internal/statefile"
	"github.com/dshills/reposync/pkg/types"
)

func openTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	l, err := Open(path, nil)
	require.NoError(t, err)
	return l, path
}

func sampleParams() types.TaskParams {
	return types.TaskParams{
		SourceID: "acme/handbook",
		Branch:   "main",
		Filters: types.Filters{
			Include:    []string{"docs/**", "guides/**"},
			Exclude:    []string{"**/drafts/**"},
			Extensions: []string{".md", ".txt", ".rst"},
		},
	}
}

func TestTaskID_Deterministic(t *testing.T) {
	base := sampleParams()
	reordered := types.TaskParams{
		SourceID: base.SourceID,
		Branch:   base.Branch,
		Filters: types.Filters{
			Include:    []string{"guides/**", "docs/**"},
			Exclude:    []string{"**/drafts/**"},
			Extensions: []string{".rst", ".md", ".txt", ".md"},
		},
	}

	assert.Equal(t, TaskID(base), TaskID(reordered))
	assert.Len(t, TaskID(base), 64)

	tests := []struct {
		name   string
		mutate func(p *types.TaskParams)
	}{
		{"different source", func(p *types.TaskParams) { p.SourceID = "acme/other" }},
		{"different branch", func(p *types.TaskParams) { p.Branch = "release" }},
		{"extra extension", func(p *types.TaskParams) { p.Filters.Extensions = append(p.Filters.Extensions, ".go") }},
		{"include moved to exclude", func(p *types.TaskParams) {
			p.Filters.Exclude = append(p.Filters.Exclude, p.Filters.Include...)
			p.Filters.Include = nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := sampleParams()
			tt.mutate(&p)
			assert.NotEqual(t, TaskID(base), TaskID(p))
		})
	}
}

func TestInitTask_DoesNotResetProgress(t *testing.T) {
	l, _ := openTestLedger(t)
	params := sampleParams()
	id := TaskID(params)

	require.NoError(t, l.InitTask(id, params))
	for _, step := range types.AllSteps {
		rec, ok := l.Step(id, step)
		require.True(t, ok)
		assert.Equal(t, types.StatusPending, rec.Status)
	}

	require.NoError(t, l.MarkCompleted(id, types.StepFetch, "fp-1", types.StepPayload{CommitID: "abc"}))
	require.NoError(t, l.InitTask(id, params))

	rec, ok := l.Step(id, types.StepFetch)
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, rec.Status)
	assert.Equal(t, "abc", rec.Payload.CommitID)
}

func TestIsValid(t *testing.T) {
	l, _ := openTestLedger(t)
	params := sampleParams()
	id := TaskID(params)
	require.NoError(t, l.InitTask(id, params))

	assert.False(t, l.IsValid(id, types.StepParse, "fp"), "pending step is not valid")
	assert.False(t, l.IsValid("unknown", types.StepParse, "fp"))

	require.NoError(t, l.MarkCompleted(id, types.StepParse, "fp", types.StepPayload{DocumentCount: 3}))
	assert.True(t, l.IsValid(id, types.StepParse, "fp"))
	assert.False(t, l.IsValid(id, types.StepParse, "other-fp"), "fingerprint mismatch invalidates")

	require.NoError(t, l.MarkFailed(id, types.StepParse, errors.New("boom")))
	assert.False(t, l.IsValid(id, types.StepParse, "fp"))

	rec, _ := l.Step(id, types.StepParse)
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.Error)
}

func TestMarkCompleted_Errors(t *testing.T) {
	l, _ := openTestLedger(t)

	err := l.MarkCompleted("missing", types.StepFetch, "fp", types.StepPayload{})
	assert.ErrorIs(t, err, ErrTaskNotFound)

	params := sampleParams()
	id := TaskID(params)
	require.NoError(t, l.InitTask(id, params))
	err = l.MarkCompleted(id, types.Step("deploy"), "fp", types.StepPayload{})
	assert.ErrorIs(t, err, types.ErrUnknownStep)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	l, path := openTestLedger(t)
	params := sampleParams()
	id := TaskID(params)

	require.NoError(t, l.InitTask(id, params))
	require.NoError(t, l.MarkCompleted(id, types.StepFetch, "fp-fetch", types.StepPayload{
		CommitID:  "0123456789abcdef0123456789abcdef01234567",
		LocalPath: "/tmp/mirror",
	}))

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	assert.True(t, reopened.IsValid(id, types.StepFetch, "fp-fetch"))

	task, ok := reopened.Task(id)
	require.True(t, ok)
	assert.Equal(t, params.Filters.Normalized(), task.Params.Filters)
	assert.Equal(t, "/tmp/mirror", task.Steps[types.StepFetch].Payload.LocalPath)
}

func TestInvalidate(t *testing.T) {
	l, path := openTestLedger(t)
	params := sampleParams()
	id := TaskID(params)

	require.NoError(t, l.InitTask(id, params))
	require.NoError(t, l.MarkCompleted(id, types.StepFetch, "fp", types.StepPayload{}))
	require.NoError(t, l.Invalidate(id))
	require.NoError(t, l.Invalidate(id), "invalidating twice is a no-op")

	assert.False(t, l.IsValid(id, types.StepFetch, "fp"))
	_, ok := l.Task(id)
	assert.False(t, ok)

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	assert.Empty(t, reopened.TaskIDs())
}

func TestInvalidateSource(t *testing.T) {
	l, _ := openTestLedger(t)

	a := sampleParams()
	b := sampleParams()
	b.Filters = types.Filters{}
	c := sampleParams()
	c.Branch = "release"

	for _, p := range []types.TaskParams{a, b, c} {
		require.NoError(t, l.InitTask(TaskID(p), p))
	}

	removed, err := l.InvalidateSource(a.SourceID, a.Branch)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{TaskID(c)}, l.TaskIDs())
}

func TestOpen_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": "1.0.0", "tasks": {`), 0o644))

	l, err := Open(path, nil)
	require.NoError(t, err)
	assert.Empty(t, l.TaskIDs())

	params := sampleParams()
	require.NoError(t, l.InitTask(TaskID(params), params))

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	assert.Len(t, reopened.TaskIDs(), 1)
}

func TestOpen_NewerMajorFileIsRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	raw := []byte(`{"schema_version":"2.0.0","tasks":{},"owner":"v2"}`)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err := Open(path, nil)
	assert.ErrorIs(t, err, statefile.ErrSchemaTooNew)

	kept, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, kept)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("a", "b"), Fingerprint("a", "b"))
	assert.NotEqual(t, Fingerprint("ab", ""), Fingerprint("a", "b"), "parts are length-prefixed")
	assert.NotEqual(t, Fingerprint("a", "b"), Fingerprint("b", "a"))
}
