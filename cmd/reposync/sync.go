package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/dshills/reposync/internal/config"
	"github.com/dshills/reposync/internal/indexer"
	"github.com/dshills/reposync/internal/pipeline"
	"github.com/dshills/reposync/pkg/types"
)

// targetFlags are the repository selection flags shared by several commands
type targetFlags struct {
	branch     string
	include    []string
	exclude    []string
	extensions []string
}

func (t *targetFlags) register(fs *flag.FlagSet) {
	fs.StringVarP(&t.branch, "branch", "b", "main", "Branch to sync")
	fs.StringSliceVar(&t.include, "include", nil, "Glob a path must match (repeatable)")
	fs.StringSliceVar(&t.exclude, "exclude", nil, "Glob that drops a path (repeatable)")
	fs.StringSliceVar(&t.extensions, "ext", nil, "File extension to index, e.g. .md (repeatable)")
}

// params builds task parameters; configured filters apply when no filter flag is given
func (t *targetFlags) params(sourceID string, defaults types.Filters) types.TaskParams {
	filters := types.Filters{Include: t.include, Exclude: t.exclude, Extensions: normalizeExts(t.extensions)}
	if filters.IsZero() {
		filters = defaults
	}
	return types.TaskParams{SourceID: sourceID, Branch: t.branch, Filters: filters}
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, strings.ToLower(e))
	}
	return out
}

// runSync executes the 'sync' command
func runSync(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	var target targetFlags
	target.register(fs)
	force := fs.Bool("force", false, "Discard cached steps and checkpoints and re-check every file")
	cached := fs.Bool("cached", false, "Reuse the last fetch while it is within mirror.fetch_ttl instead of contacting the remote")
	verify := fs.Bool("verify", false, "Hash every file even when the commit has not moved")
	strict := fs.Bool("strict", false, "Exit with code 3 when any batch failed")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	workers := fs.Int("workers", 0, "Concurrent batches (default from config)")
	batchSize := fs.Int("batch-size", 0, "Files per batch (default from config)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: reposync sync <source> [options]

Fetches <source> (a git URL, a local path or owner/repo on GitHub), detects
files changed since the last sync and indexes them in resumable batches.
An interrupted run resumes where it stopped on the next invocation.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bar := newProgressBar(globals, -1, "Indexing")
	onProgress := func(p indexer.Progress) {
		if bar == nil || p.BatchesTotal == 0 {
			return
		}
		if bar.GetMax() != p.BatchesTotal {
			bar.ChangeMax(p.BatchesTotal)
		}
		_ = bar.Set(p.BatchesDone + p.BatchesSkipped + p.BatchesFailed)
	}

	configure := func(cfg *config.Config) {
		if *workers > 0 {
			cfg.Indexer.Workers = *workers
		}
		if *batchSize > 0 {
			cfg.Indexer.BatchSize = *batchSize
		}
	}
	a, err := newApp(ctx, globals, false, configure, pipeline.WithProgress(onProgress))
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

	req := syncRequest(target.params(fs.Arg(0), a.cfg.Source.Filters), *force, *cached, *verify)
	sum, err := a.pipeline.Sync(ctx, req)
	if bar != nil {
		_ = bar.Finish()
	}
	return reportSync(sum, err, globals, *strict)
}

// syncRequest builds the request for one sync run. The remote is contacted
// unless cached is set; the working copy only moves when it is fetched.
func syncRequest(params types.TaskParams, force, cached, verify bool) pipeline.Request {
	return pipeline.Request{
		Params:  params,
		Force:   force,
		Refresh: !cached,
		Verify:  verify,
	}
}

// reportSync prints the run summary and maps the outcome to an exit code
func reportSync(sum *types.Summary, err error, globals GlobalFlags, strict bool) int {
	code := syncExitCode(sum, err, strict)
	if globals.JSON {
		out := struct {
			*types.Summary
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}{Summary: sum, Status: syncStatus(sum, err)}
		if err != nil {
			out.Error = err.Error()
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return code
	}

	if err != nil {
		errorf("sync failed: %v", err)
		if sum == nil {
			return code
		}
	}
	if sum == nil {
		return code
	}
	if globals.Quiet && code == exitOK {
		return code
	}
	printSummary(sum)
	return code
}

func syncStatus(sum *types.Summary, err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case err != nil:
		return "failed"
	case sum.Failed():
		return "partial"
	case sum.NoChanges:
		return "unchanged"
	default:
		return "ok"
	}
}

func syncExitCode(sum *types.Summary, err error, strict bool) int {
	switch {
	case err != nil:
		return exitFailure
	case strict && sum != nil && sum.Failed():
		return exitPartial
	default:
		return exitOK
	}
}

func printSummary(sum *types.Summary) {
	header(fmt.Sprintf("%s@%s", sum.SourceID, sum.Branch))
	fmt.Printf("  %s %s\n", label("Commit:    "), types.ShortID(sum.CommitID))
	fmt.Printf("  %s %s\n", label("Collection:"), sum.Collection)
	if sum.FetchCached {
		fmt.Printf("  %s\n", dim("fetch reused from cache"))
	}
	if sum.NoChanges {
		_, _ = colorGreen.Printf("  Up to date (%d files)\n", sum.Unchanged)
		return
	}

	fmt.Printf("  %s +%d ~%d -%d (=%d)\n", label("Files:     "),
		len(sum.Added), len(sum.Modified), len(sum.Deleted), sum.Unchanged)
	fmt.Printf("  %s %d total, %d resumed from checkpoints\n", label("Batches:   "),
		sum.BatchesTotal, sum.BatchesSkipped)
	fmt.Printf("  %s %d written, %d deleted\n", label("Vectors:   "),
		sum.VectorsWritten, sum.VectorsDeleted)
	fmt.Printf("  %s %s\n", label("Duration:  "), sum.Duration.Round(time.Millisecond))

	for _, e := range sum.Errors {
		_, _ = colorYellow.Printf("  ! %s\n", e)
	}
	if sum.Failed() {
		_, _ = colorRed.Printf("  %d batch(es) failed; run sync again to retry them\n", len(sum.FailedBatches))
		return
	}
	_, _ = colorGreen.Println("  Sync complete")
}
