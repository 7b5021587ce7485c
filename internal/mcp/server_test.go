package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposync/internal/pipeline"
	"github.com/dshills/reposync/pkg/types"
)

type fakeSyncer struct {
	lastReq     pipeline.Request
	summary     *types.Summary
	err         error
	status      *pipeline.Status
	invalidated types.TaskParams
}

func (f *fakeSyncer) Sync(ctx context.Context, req pipeline.Request) (*types.Summary, error) {
	f.lastReq = req
	return f.summary, f.err
}

func (f *fakeSyncer) Status(sourceID, branch string) (*pipeline.Status, error) {
	if f.status == nil {
		return &pipeline.Status{SourceID: sourceID, Branch: branch}, nil
	}
	return f.status, nil
}

func (f *fakeSyncer) Invalidate(params types.TaskParams) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.invalidated = params
	return "task-1", nil
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func mcpCode(t *testing.T, err error) int {
	t.Helper()
	var me *MCPError
	require.True(t, errors.As(err, &me), "expected MCPError, got %v", err)
	return me.Code
}

func newTestServer(t *testing.T, f *fakeSyncer) *Server {
	t.Helper()
	s, err := NewServer(f, nil)
	require.NoError(t, err)
	return s
}

func TestNewServerRequiresSyncer(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestSyncRepository(t *testing.T) {
	f := &fakeSyncer{summary: &types.Summary{
		TaskID:         "task-1",
		CommitID:       "abc",
		Added:          []string{"a.md", "b.md"},
		Modified:       []string{"c.md"},
		BatchesTotal:   2,
		VectorsWritten: 9,
	}}
	s := newTestServer(t, f)

	res, err := s.handleSyncRepository(context.Background(), callRequest("sync_repository", map[string]interface{}{
		"source_id":  "acme/handbook",
		"extensions": []interface{}{".md"},
		"force":      true,
	}))
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, "ok", out["status"])
	assert.InDelta(t, 2, out["added"], 0)
	assert.InDelta(t, 1, out["modified"], 0)
	assert.InDelta(t, 9, out["vectors_written"], 0)

	assert.Equal(t, "acme/handbook", f.lastReq.Params.SourceID)
	assert.Equal(t, DefaultBranch, f.lastReq.Params.Branch)
	assert.Equal(t, []string{".md"}, f.lastReq.Params.Filters.Extensions)
	assert.True(t, f.lastReq.Force)
	assert.False(t, f.lastReq.Refresh)
}

func TestSyncRepositoryPartialAndUnchanged(t *testing.T) {
	f := &fakeSyncer{summary: &types.Summary{
		FailedBatches: []types.FailedBatch{{BatchID: "b1", Group: "guides", Files: []string{"guides/a.md"}, Error: "boom"}},
		Errors:        []string{"e1", "e2", "e3", "e4", "e5", "e6"},
	}}
	s := newTestServer(t, f)

	res, err := s.handleSyncRepository(context.Background(), callRequest("sync_repository", map[string]interface{}{"source_id": "acme/handbook"}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, "partial", out["status"])
	assert.Len(t, out["failed_batches"], 1)
	assert.Len(t, out["errors"], 5)
	assert.InDelta(t, 6, out["error_count"], 0)

	f.summary = &types.Summary{NoChanges: true}
	res, err = s.handleSyncRepository(context.Background(), callRequest("sync_repository", map[string]interface{}{"source_id": "acme/handbook"}))
	require.NoError(t, err)
	assert.Equal(t, "unchanged", resultJSON(t, res)["status"])
}

func TestSyncRepositoryErrors(t *testing.T) {
	tests := []struct {
		name string
		args interface{}
		err  error
		code int
	}{
		{"arguments not an object", "nope", nil, ErrorCodeInvalidParams},
		{"missing source", map[string]interface{}{"branch": "main"}, nil, ErrorCodeInvalidParams},
		{"bad filter type", map[string]interface{}{"source_id": "x", "include": "docs/**"}, nil, ErrorCodeInvalidParams},
		{"bad filter item", map[string]interface{}{"source_id": "x", "exclude": []interface{}{1}}, nil, ErrorCodeInvalidParams},
		{"in progress", map[string]interface{}{"source_id": "x"}, pipeline.ErrSyncInProgress, ErrorCodeSyncInProgress},
		{"fetch", map[string]interface{}{"source_id": "x"}, &types.FetchError{Op: "clone", Source: "x"}, ErrorCodeFetchFailed},
		{"canceled", map[string]interface{}{"source_id": "x"}, context.Canceled, ErrorCodeCanceled},
		{"internal", map[string]interface{}{"source_id": "x"}, errors.New("disk full"), ErrorCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeSyncer{err: tt.err, summary: &types.Summary{}})
			var req mcp.CallToolRequest
			req.Params.Name = "sync_repository"
			req.Params.Arguments = tt.args

			_, err := s.handleSyncRepository(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.code, mcpCode(t, err))
		})
	}
}

func TestGetSyncStatus(t *testing.T) {
	f := &fakeSyncer{}
	s := newTestServer(t, f)

	res, err := s.handleGetSyncStatus(context.Background(), callRequest("get_sync_status", map[string]interface{}{
		"source_id": "acme/handbook",
		"branch":    "dev",
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, false, out["tracked"])
	assert.Equal(t, "dev", out["branch"])

	f.status = &pipeline.Status{
		SourceID:     "acme/handbook",
		Branch:       "dev",
		Tracked:      true,
		LastCommitID: "abc",
		FileCount:    4,
		VectorCount:  11,
	}
	res, err = s.handleGetSyncStatus(context.Background(), callRequest("get_sync_status", map[string]interface{}{
		"source_id": "acme/handbook",
		"branch":    "dev",
	}))
	require.NoError(t, err)
	out = resultJSON(t, res)
	assert.Equal(t, true, out["tracked"])
	assert.Equal(t, "abc", out["last_commit_id"])
	assert.InDelta(t, 11, out["vector_count"], 0)
}

func TestInvalidateTask(t *testing.T) {
	f := &fakeSyncer{}
	s := newTestServer(t, f)

	res, err := s.handleInvalidateTask(context.Background(), callRequest("invalidate_task", map[string]interface{}{
		"source_id": "acme/handbook",
		"include":   []interface{}{"docs/**"},
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, true, out["invalidated"])
	assert.Equal(t, "task-1", out["task_id"])
	assert.Equal(t, []string{"docs/**"}, f.invalidated.Filters.Include)

	f.err = pipeline.ErrSyncInProgress
	_, err = s.handleInvalidateTask(context.Background(), callRequest("invalidate_task", map[string]interface{}{"source_id": "acme/handbook"}))
	assert.Equal(t, ErrorCodeSyncInProgress, mcpCode(t, err))
}

func TestToolSchemas(t *testing.T) {
	for _, tool := range []mcp.Tool{syncRepositoryTool(), getSyncStatusTool(), invalidateTaskTool()} {
		assert.Equal(t, []string{"source_id"}, tool.InputSchema.Required, tool.Name)
		assert.Contains(t, tool.InputSchema.Properties, "branch", tool.Name)
	}
	assert.Contains(t, syncRepositoryTool().InputSchema.Properties, "force")
	assert.NotContains(t, getSyncStatusTool().InputSchema.Properties, "include")
}
