package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func targetProperties() map[string]interface{} {
	return map[string]interface{}{
		"source_id": map[string]interface{}{
			"type":        "string",
			"description": "Repository URL, local path, or owner/name shorthand",
		},
		"branch": map[string]interface{}{
			"type":        "string",
			"description": "Branch to mirror",
			"default":     "main",
		},
		"include": map[string]interface{}{
			"type":        "array",
			"description": "Glob patterns a file must match (e.g. 'docs/**')",
			"items":       map[string]interface{}{"type": "string"},
		},
		"exclude": map[string]interface{}{
			"type":        "array",
			"description": "Glob patterns that drop a file",
			"items":       map[string]interface{}{"type": "string"},
		},
		"extensions": map[string]interface{}{
			"type":        "array",
			"description": "File extensions to index, including the dot (e.g. '.md')",
			"items":       map[string]interface{}{"type": "string"},
		},
	}
}

// syncRepositoryTool returns the tool definition for sync_repository
func syncRepositoryTool() mcp.Tool {
	props := targetProperties()
	props["force"] = map[string]interface{}{
		"type":        "boolean",
		"description": "Drop cached steps and batch checkpoints and re-check every file",
		"default":     false,
	}
	props["refresh"] = map[string]interface{}{
		"type":        "boolean",
		"description": "Fetch from the remote even if the last fetch is cached",
		"default":     false,
	}
	props["verify"] = map[string]interface{}{
		"type":        "boolean",
		"description": "Hash file contents even when the commit has not moved",
		"default":     false,
	}
	return mcp.Tool{
		Name:        "sync_repository",
		Description: "Mirror a git repository and incrementally index its changed files into the vector store",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   []string{"source_id"},
		},
	}
}

// getSyncStatusTool returns the tool definition for get_sync_status
func getSyncStatusTool() mcp.Tool {
	props := targetProperties()
	delete(props, "include")
	delete(props, "exclude")
	delete(props, "extensions")
	return mcp.Tool{
		Name:        "get_sync_status",
		Description: "Report the last synced commit, file and vector counts, and cached step records of a repository",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   []string{"source_id"},
		},
	}
}

// invalidateTaskTool returns the tool definition for invalidate_task
func invalidateTaskTool() mcp.Tool {
	return mcp.Tool{
		Name:        "invalidate_task",
		Description: "Forget every cached step of a sync task so the next sync starts from a fresh fetch",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: targetProperties(),
			Required:   []string{"source_id"},
		},
	}
}
