package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/dshills/reposync/internal/mcp"
)

// runServe executes the 'serve' command. stdout carries the MCP protocol,
// so everything else goes to stderr.
func runServe(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: reposync serve [options]

Starts an MCP server on stdio exposing sync_repository, get_sync_status and
invalidate_task.

Options:
`)
		fs.PrintDefaults()
	}
	if code, ok := parseCommand(fs, args, 0); !ok {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, globals, true, nil)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	defer func() { _ = a.close() }()

	addr := *metricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	startMetricsServer(ctx, addr, a.logger)

	srv, err := mcp.NewServer(a.pipeline, a.logger)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	a.logger.Info("serve.start", "version", version, "collection", a.pipeline.Collection())
	if err := srv.Serve(ctx); err != nil {
		a.logger.Error("serve.failed", "err", err)
		return exitFailure
	}
	a.logger.Info("serve.stopped")
	return exitOK
}
