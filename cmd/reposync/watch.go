package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	flag "github.com/spf13/pflag"

	"github.com/dshills/reposync/internal/pipeline"
)

const watchDebounce = 2 * time.Second

// runWatch syncs once and then again whenever the repository changes. Local
// sources are watched through their git refs; remote sources are polled.
func runWatch(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var target targetFlags
	target.register(fs)
	interval := fs.Duration("interval", 5*time.Minute, "Polling interval for remote sources (and fallback for local ones)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: reposync watch <source> [options]

Keeps the index of <source> current. Commits to a local repository trigger
a sync within seconds; remote repositories are fetched every --interval.

Options:
`)
		fs.PrintDefaults()
	}
	if code, ok := parseCommand(fs, args, 1); !ok {
		return code
	}
	if *interval <= 0 {
		errorf("--interval must be positive")
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, globals, true, nil)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	defer func() { _ = a.close() }()
	startMetricsServer(ctx, a.cfg.Metrics.Addr, a.logger)

	// every trigger fetches from the remote
	req := syncRequest(target.params(fs.Arg(0), a.cfg.Source.Filters), false, false, false)
	if err := req.Params.Validate(); err != nil {
		errorf("%v", err)
		return exitUsage
	}
	log := a.logger.With("source", req.Params.SourceID, "branch", req.Params.Branch)

	var changes <-chan struct{}
	if gitDir := localGitDir(req.Params.SourceID); gitDir != "" {
		ch, err := watchRefs(ctx, gitDir, log)
		if err != nil {
			log.Warn("watch.fsnotify.unavailable", "err", err)
		} else {
			changes = ch
		}
	}

	syncOnce := func(trigger string) {
		log.Info("watch.sync.start", "trigger", trigger)
		sum, err := a.pipeline.Sync(ctx, req)
		switch {
		case errors.Is(err, pipeline.ErrSyncInProgress):
			log.Info("watch.sync.skipped", "reason", "in progress")
		case err != nil:
			if ctx.Err() == nil {
				errorf("sync failed: %v", err)
			}
		case !globals.Quiet:
			printSummary(sum)
		}
	}

	syncOnce("start")
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("watch.stopped")
			return exitOK
		case <-ticker.C:
			syncOnce("interval")
		case <-changes:
			syncOnce("refs")
			ticker.Reset(*interval)
		}
	}
}

// localGitDir returns the .git directory when sourceID is a local repository
func localGitDir(sourceID string) string {
	path := strings.TrimPrefix(sourceID, "file://")
	if !filepath.IsAbs(path) && !strings.HasPrefix(path, "./") && !strings.HasPrefix(path, "../") {
		return ""
	}
	gitDir := filepath.Join(path, ".git")
	if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
		return gitDir
	}
	return ""
}

// watchRefs reports ref movements in gitDir, debounced so a commit or a
// rebase produces one notification.
func watchRefs(ctx context.Context, gitDir string, log *slog.Logger) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{gitDir, filepath.Join(gitDir, "refs", "heads")} {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	log.Info("watch.fsnotify.start", "git_dir", gitDir)

	out := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		var timerCh <-chan time.Time
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !refEvent(event) {
					continue
				}
				log.Debug("watch.fsnotify.event", "path", event.Name, "op", event.Op.String())
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(watchDebounce)
				timerCh = timer.C
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("watch.fsnotify.error", "err", err)
			case <-timerCh:
				timerCh = nil
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// refEvent reports whether an event can move a branch head
func refEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasSuffix(name, ".lock") {
		return false
	}
	if filepath.Base(filepath.Dir(event.Name)) == "heads" {
		return true
	}
	return name == "HEAD" || name == "packed-refs" || name == "ORIG_HEAD"
}
