// Package mcp exposes the sync pipeline as Model Context Protocol tools.
//
// The server offers three tools to MCP clients:
//   - sync_repository: fetch a repository and index what changed
//   - get_sync_status: report the recorded snapshot and cached steps
//   - invalidate_task: forget cached steps so the next sync starts over
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio. Stdout carries the protocol, so the
// server logs to stderr only.
//
//	reposync serve
//
// # Tool: sync_repository
//
//	Request:
//	{
//	  "name": "sync_repository",
//	  "arguments": {
//	    "source_id": "https://github.com/acme/handbook.git",
//	    "branch": "main",
//	    "extensions": [".md"],
//	    "force": false
//	  }
//	}
//
//	Response:
//	{
//	  "status": "partial",
//	  "commit_id": "9f2c...",
//	  "added": 12,
//	  "modified": 3,
//	  "deleted": 1,
//	  "batches_total": 4,
//	  "failed_batches": [{"batch_id": "...", "group": "guides", "files": ["guides/a.md"], "error": "..."}]
//	}
//
// status is "ok", "partial" (some batches failed and will be retried by
// the next sync), or "unchanged" (the commit did not move).
//
// # Tool: get_sync_status
//
//	Request:
//	{
//	  "name": "get_sync_status",
//	  "arguments": {"source_id": "acme/handbook", "branch": "main"}
//	}
//
// The response carries last_commit_id, file_count, vector_count and the
// fetch, parse and vectorize step records of every task of the repository.
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "reposync": {
//	      "command": "/usr/local/bin/reposync",
//	      "args": ["serve"],
//	      "env": {"OPENAI_API_KEY": "your-api-key"}
//	    }
//	  }
//	}
//
// # Error Handling
//
// Tool failures are returned as JSON-RPC errors:
//   - -32602: invalid params (missing source_id, malformed filters)
//   - -32603: internal error (state files, vector store)
//   - -32001: the repository could not be fetched
//   - -32002: another sync is in progress
//   - -32003: the request was canceled
//
// A sync in which some batches failed is not an error; the failed batches
// are listed in the response.
package mcp
