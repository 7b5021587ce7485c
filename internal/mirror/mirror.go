// Package mirror keeps a local working copy of each (source, branch) pair
// in sync with its remote git repository.
package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dshills/reposync/internal/metrics"
	"github.com/dshills/reposync/internal/retry"
	"github.com/dshills/reposync/pkg/types"
)

const (
	// DefaultFetchTimeout bounds a single clone or update attempt
	DefaultFetchTimeout = 10 * time.Minute
	// DefaultFetchTTL is how long a completed fetch is reused before the
	// remote is contacted again
	DefaultFetchTTL = 5 * time.Minute
)

var (
	commitIDPattern  = regexp.MustCompile(`^[0-9a-f]{40}([0-9a-f]{24})?$`)
	shorthandPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	unsafeChars      = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Config controls where mirrors live and how fetches are retried
type Config struct {
	BaseDir      string
	FetchTimeout time.Duration
	Retry        retry.Policy
}

// Result describes the working copy after a successful Sync
type Result struct {
	LocalPath string
	CommitID  string
	Cloned    bool // true when the copy was created by this call
	Attempts  int
}

// Mirror manages local working copies
type Mirror struct {
	cfg     Config
	runner  Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option customizes a Mirror
type Option func(*Mirror)

// WithRunner replaces the git executor
func WithRunner(r Runner) Option {
	return func(m *Mirror) { m.runner = r }
}

// WithMetrics records fetch attempts
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Mirror) { m.metrics = mt }
}

// New creates a Mirror rooted at cfg.BaseDir
func New(cfg Config, logger *slog.Logger, opts ...Option) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	m := &Mirror{
		cfg:    cfg,
		runner: ExecRunner{},
		logger: logger.With("component", "mirror"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ResolveRemote maps a source id to a git URL. "owner/name" resolves to
// GitHub over HTTPS; URLs, scp-style addresses and local paths pass through.
func ResolveRemote(sourceID string) string {
	s := strings.TrimSpace(sourceID)
	switch {
	case strings.Contains(s, "://"), strings.HasPrefix(s, "git@"):
		return s
	case filepath.IsAbs(s), strings.HasPrefix(s, "./"), strings.HasPrefix(s, "../"):
		return s
	case shorthandPattern.MatchString(s):
		return "https://github.com/" + strings.TrimSuffix(s, ".git") + ".git"
	}
	if first, _, ok := strings.Cut(s, "/"); ok && strings.Contains(first, ".") {
		return "https://" + s
	}
	return s
}

// LocalPath returns the working copy directory for a source and branch.
// The hash suffix keeps distinct sources apart after sanitizing.
func (m *Mirror) LocalPath(sourceID, branch string) string {
	sum := sha256.Sum256([]byte(sourceID + "\x00" + branch))
	name := fmt.Sprintf("%s@%s-%s",
		sanitize(sourceID), sanitize(branch), hex.EncodeToString(sum[:])[:8])
	return filepath.Join(m.cfg.BaseDir, name)
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	if len(s) > 64 {
		s = s[:64]
	}
	if s == "" {
		s = "_"
	}
	return s
}

// Sync clones the branch if no working copy exists, otherwise fast-forwards
// it to the remote head. Network failures are retried with backoff; a fresh
// clone never leaves a partial directory behind.
func (m *Mirror) Sync(ctx context.Context, sourceID, branch string) (*Result, error) {
	if sourceID == "" {
		return nil, types.ErrEmptySource
	}
	if branch == "" {
		return nil, types.ErrEmptyBranch
	}

	path := m.LocalPath(sourceID, branch)
	remote := ResolveRemote(sourceID)
	clone := !isWorkingCopy(path)
	op := "update"
	if clone {
		op = "clone"
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove partial mirror: %w", err)
		}
		if err := os.MkdirAll(m.cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create mirror dir: %w", err)
		}
	}

	log := m.logger.With("source", sourceID, "branch", branch, "op", op)
	log.Info("mirror.fetch.start", "path", path)
	start := time.Now()

	attempts := 0
	_, err := retry.Do(ctx, m.cfg.Retry, func(attempt int) (struct{}, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
		defer cancel()

		var err error
		if clone {
			err = m.clone(attemptCtx, remote, branch, path)
		} else {
			err = m.update(attemptCtx, branch, path)
		}
		if err != nil {
			return struct{}{}, m.classify(ctx, attemptCtx, op, sourceID, err)
		}
		return struct{}{}, nil
	}, retry.BeforeRetry(func(n int, err error, delay time.Duration) {
		m.metrics.FetchAttempt("retry")
		log.Warn("mirror.fetch.retry", "retry", n, "delay", delay, "err", err)
		if clone {
			_ = os.RemoveAll(path)
		}
	}))
	if err != nil {
		m.metrics.FetchAttempt("failed")
		if clone {
			_ = os.RemoveAll(path)
		}
		log.Error("mirror.fetch.failed", "attempts", attempts, "err", err)
		return nil, err
	}
	m.metrics.FetchAttempt("ok")

	commit, err := m.HeadCommit(ctx, path)
	if err != nil {
		return nil, err
	}

	log.Info("mirror.fetch.complete",
		"commit", types.ShortID(commit),
		"attempts", attempts,
		"duration", time.Since(start),
	)
	return &Result{LocalPath: path, CommitID: commit, Cloned: clone, Attempts: attempts}, nil
}

func (m *Mirror) clone(ctx context.Context, remote, branch, path string) error {
	_, err := m.runner.Run(ctx, "", "clone", "--depth", "1", "--single-branch", "--branch", branch, "--", remote, path)
	return err
}

func (m *Mirror) update(ctx context.Context, branch, path string) error {
	if _, err := m.runner.Run(ctx, path, "fetch", "--depth", "1", "origin", branch); err != nil {
		return err
	}
	if _, err := m.runner.Run(ctx, path, "reset", "--hard", "FETCH_HEAD"); err != nil {
		return err
	}
	_, err := m.runner.Run(ctx, path, "clean", "-ffdx")
	return err
}

func (m *Mirror) classify(parent, attemptCtx context.Context, op, sourceID string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	fe := &types.FetchError{Op: op, Source: sourceID, Stderr: stderrOf(err), Err: err}
	switch {
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		fe.Retryable = true
		fe.Err = fmt.Errorf("attempt timed out after %s: %w", m.cfg.FetchTimeout, context.DeadlineExceeded)
	case errors.Is(err, exec.ErrNotFound):
		fe.Retryable = false
	default:
		fe.Retryable = classifyStderr(fe.Stderr)
	}
	return fe
}

// HeadCommit returns the full commit id checked out in path
func (m *Mirror) HeadCommit(ctx context.Context, path string) (string, error) {
	out, err := m.runner.Run(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("read head of %s: %w", path, err)
	}
	id := strings.TrimSpace(out)
	if !commitIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidCommitID, id)
	}
	return id, nil
}

// IsDirty reports whether the working copy has modifications that git knows about
func (m *Mirror) IsDirty(ctx context.Context, path string) (bool, error) {
	out, err := m.runner.Run(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Remove deletes the working copy for a source and branch
func (m *Mirror) Remove(sourceID, branch string) error {
	path := m.LocalPath(sourceID, branch)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove mirror %s: %w", path, err)
	}
	m.logger.Info("mirror.removed", "source", sourceID, "branch", branch, "path", path)
	return nil
}

// ValidCommitID reports whether id is a full SHA-1 or SHA-256 object name
func ValidCommitID(id string) bool {
	return commitIDPattern.MatchString(id)
}

func isWorkingCopy(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}
