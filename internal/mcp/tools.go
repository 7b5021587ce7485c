package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/reposync/internal/pipeline"
	"github.com/dshills/reposync/pkg/types"
)

// DefaultBranch is used when a tool call omits branch
const DefaultBranch = "main"

// MCP error codes
const (
	ErrorCodeInvalidParams  = -32602 // Invalid method parameters
	ErrorCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrorCodeFetchFailed    = -32001 // The content mirror could not fetch the source
	ErrorCodeSyncInProgress = -32002 // Another sync is already running
	ErrorCodeCanceled       = -32003 // The request was canceled before the sync finished
)

// handleSyncRepository handles the sync_repository tool invocation
func (s *Server) handleSyncRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	params, err := taskParams(args)
	if err != nil {
		return nil, err
	}

	req := pipeline.Request{
		Params:  params,
		Force:   getBoolDefault(args, "force", false),
		Refresh: getBoolDefault(args, "refresh", false),
		Verify:  getBoolDefault(args, "verify", false),
	}
	s.logger.Info("mcp.sync", "source", params.SourceID, "branch", params.Branch, "force", req.Force)

	sum, err := s.syncer.Sync(ctx, req)
	if err != nil {
		return nil, syncError(err, sum)
	}

	status := "ok"
	switch {
	case sum.NoChanges:
		status = "unchanged"
	case sum.Failed():
		status = "partial"
	}
	response := map[string]interface{}{
		"status":          status,
		"task_id":         sum.TaskID,
		"commit_id":       sum.CommitID,
		"collection":      sum.Collection,
		"fetch_cached":    sum.FetchCached,
		"added":           len(sum.Added),
		"modified":        len(sum.Modified),
		"deleted":         len(sum.Deleted),
		"unchanged":       sum.Unchanged,
		"batches_total":   sum.BatchesTotal,
		"batches_skipped": sum.BatchesSkipped,
		"vectors_written": sum.VectorsWritten,
		"vectors_deleted": sum.VectorsDeleted,
		"duration_ms":     sum.Duration.Milliseconds(),
	}
	if len(sum.FailedBatches) > 0 {
		response["failed_batches"] = sum.FailedBatches
	}
	if len(sum.Errors) > 0 {
		errorCount := len(sum.Errors)
		if errorCount > 5 {
			response["errors"] = sum.Errors[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = sum.Errors
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetSyncStatus handles the get_sync_status tool invocation
func (s *Server) handleGetSyncStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	params, err := taskParams(args)
	if err != nil {
		return nil, err
	}

	st, err := s.syncer.Status(params.SourceID, params.Branch)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if !st.Tracked {
		response := map[string]interface{}{
			"tracked":   false,
			"source_id": st.SourceID,
			"branch":    st.Branch,
			"syncing":   st.Syncing,
			"message":   "Repository not synced. Use sync_repository to index it.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	return mcp.NewToolResultText(formatJSON(st)), nil
}

// handleInvalidateTask handles the invalidate_task tool invocation
func (s *Server) handleInvalidateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	params, err := taskParams(args)
	if err != nil {
		return nil, err
	}

	id, err := s.syncer.Invalidate(params)
	if err != nil {
		return nil, syncError(err, nil)
	}
	response := map[string]interface{}{
		"invalidated": true,
		"task_id":     id,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// taskParams reads source_id, branch and the filter arrays
func taskParams(args map[string]interface{}) (types.TaskParams, error) {
	sourceID, ok := args["source_id"].(string)
	if !ok || sourceID == "" {
		return types.TaskParams{}, newMCPError(ErrorCodeInvalidParams, "source_id parameter is required", map[string]interface{}{
			"param":  "source_id",
			"reason": "missing or empty",
		})
	}
	params := types.TaskParams{
		SourceID: sourceID,
		Branch:   getStringDefault(args, "branch", DefaultBranch),
	}
	for key, dst := range map[string]*[]string{
		"include":    &params.Filters.Include,
		"exclude":    &params.Filters.Exclude,
		"extensions": &params.Filters.Extensions,
	} {
		list, err := getStringSlice(args, key)
		if err != nil {
			return types.TaskParams{}, newMCPError(ErrorCodeInvalidParams, err.Error(), map[string]interface{}{
				"param": key,
			})
		}
		*dst = list
	}
	if err := params.Validate(); err != nil {
		return types.TaskParams{}, newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	}
	return params, nil
}

// syncError maps pipeline errors to MCP error codes
func syncError(err error, sum *types.Summary) error {
	data := map[string]interface{}{"error": err.Error()}
	if sum != nil && sum.TaskID != "" {
		data["task_id"] = sum.TaskID
	}
	switch {
	case errors.Is(err, pipeline.ErrSyncInProgress):
		return newMCPError(ErrorCodeSyncInProgress, "a sync is already in progress", data)
	case errors.Is(err, types.ErrEmptySource), errors.Is(err, types.ErrEmptyBranch):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), data)
	case errors.Is(err, types.ErrFetchFailed), errors.Is(err, types.ErrFetchRejected):
		return newMCPError(ErrorCodeFetchFailed, "fetch failed", data)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newMCPError(ErrorCodeCanceled, "sync canceled", data)
	default:
		return newMCPError(ErrorCodeInternalError, "sync failed", data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a non-empty string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be an array of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array of strings", key)
	}
}
