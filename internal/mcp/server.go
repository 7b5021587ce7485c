package mcp

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/reposync/internal/pipeline"
	"github.com/dshills/reposync/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "reposync"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Syncer is the pipeline surface exposed as tools
type Syncer interface {
	Sync(ctx context.Context, req pipeline.Request) (*types.Summary, error)
	Status(sourceID, branch string) (*pipeline.Status, error)
	Invalidate(params types.TaskParams) (string, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	syncer Syncer
	logger *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(syncer Syncer, logger *slog.Logger) (*Server, error) {
	if syncer == nil {
		return nil, errors.New("mcp: syncer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		syncer: syncer,
		logger: logger.With("component", "mcp"),
	}
	s.registerTools()
	return s, nil
}

// Serve answers MCP requests on stdio until ctx is canceled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp.serve.start", "transport", "stdio")
	stdio := server.NewStdioServer(s.mcp)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(syncRepositoryTool(), s.handleSyncRepository)
	s.mcp.AddTool(getSyncStatusTool(), s.handleGetSyncStatus)
	s.mcp.AddTool(invalidateTaskTool(), s.handleInvalidateTask)
}
