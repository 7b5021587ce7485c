package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposync/internal/chunker"
	"github.com/dshills/reposync/internal/embedder"
	"github.com/dshills/reposync/pkg/types"
)

func TestRunUsageErrors(t *testing.T) {
	assert.Equal(t, exitUsage, run(nil))
	assert.Equal(t, exitUsage, run([]string{"bogus"}))
	assert.Equal(t, exitUsage, run([]string{"--quiet", "-v", "status"}))
	assert.Equal(t, exitOK, run([]string{"--version"}))
	assert.Equal(t, exitUsage, run([]string{"sync"}))
	assert.Equal(t, exitOK, run([]string{"sync", "--help"}))
}

func TestRunConfigUsesDataDir(t *testing.T) {
	t.Setenv("REPOSYNC_DATA_DIR", t.TempDir())
	t.Setenv("REPOSYNC_CONFIG", "")
	assert.Equal(t, exitOK, run([]string{"--json", "config"}))
}

func TestCollectionsDropNeedsConfirmation(t *testing.T) {
	t.Setenv("REPOSYNC_DATA_DIR", t.TempDir())
	t.Setenv("REPOSYNC_CONFIG", "")
	assert.Equal(t, exitUsage, run([]string{"collections", "drop", "docs__local-x__16"}))
	assert.Equal(t, exitOK, run([]string{"--json", "collections", "list"}))
}

func TestSplitRepoKey(t *testing.T) {
	tests := []struct {
		key, source, branch string
	}{
		{"acme/docs@main", "acme/docs", "main"},
		{"git@github.com:acme/docs.git@release", "git@github.com:acme/docs.git", "release"},
		{"no-branch", "no-branch", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			src, br := splitRepoKey(tt.key)
			assert.Equal(t, tt.source, src)
			assert.Equal(t, tt.branch, br)
		})
	}
}

func TestTargetParams(t *testing.T) {
	defaults := types.Filters{Extensions: []string{".md"}}

	var target targetFlags
	target.branch = "dev"
	p := target.params("acme/docs", defaults)
	assert.Equal(t, "dev", p.Branch)
	assert.Equal(t, defaults, p.Filters)

	target.extensions = []string{"TXT", " .rst ", ""}
	p = target.params("acme/docs", defaults)
	assert.Equal(t, []string{".txt", ".rst"}, p.Filters.Extensions)
}

func TestSyncRequestFetchesUnlessCached(t *testing.T) {
	p := types.TaskParams{SourceID: "acme/docs", Branch: "main"}

	req := syncRequest(p, false, false, false)
	assert.True(t, req.Refresh)
	assert.False(t, req.Force)
	assert.False(t, req.Verify)
	assert.Equal(t, p, req.Params)

	req = syncRequest(p, true, true, true)
	assert.False(t, req.Refresh)
	assert.True(t, req.Force)
	assert.True(t, req.Verify)
}

func TestSyncExitCode(t *testing.T) {
	ok := &types.Summary{}
	partial := &types.Summary{FailedBatches: []types.FailedBatch{{BatchID: "b"}}}

	assert.Equal(t, exitOK, syncExitCode(ok, nil, true))
	assert.Equal(t, exitOK, syncExitCode(partial, nil, false))
	assert.Equal(t, exitPartial, syncExitCode(partial, nil, true))
	assert.Equal(t, exitFailure, syncExitCode(nil, errors.New("boom"), false))
}

func TestSyncStatus(t *testing.T) {
	assert.Equal(t, "ok", syncStatus(&types.Summary{}, nil))
	assert.Equal(t, "unchanged", syncStatus(&types.Summary{NoChanges: true}, nil))
	assert.Equal(t, "partial", syncStatus(&types.Summary{FailedBatches: []types.FailedBatch{{}}}, nil))
	assert.Equal(t, "failed", syncStatus(nil, types.ErrFetchFailed))
	assert.Equal(t, "canceled", syncStatus(nil, context.Canceled))
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, "warn", logLevel("debug", GlobalFlags{}, false))
	assert.Equal(t, "debug", logLevel("error", GlobalFlags{}, true))
	assert.Equal(t, "info", logLevel("error", GlobalFlags{Verbose: 1}, true))
	assert.Equal(t, "debug", logLevel("error", GlobalFlags{Verbose: 2}, false))
	assert.Equal(t, "error", logLevel("debug", GlobalFlags{Quiet: true}, true))
}

func TestRefEvent(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"branch head", fsnotify.Event{Name: "/r/.git/refs/heads/main", Op: fsnotify.Create}, true},
		{"HEAD", fsnotify.Event{Name: "/r/.git/HEAD", Op: fsnotify.Write}, true},
		{"packed refs", fsnotify.Event{Name: "/r/.git/packed-refs", Op: fsnotify.Rename}, true},
		{"lock file", fsnotify.Event{Name: "/r/.git/refs/heads/main.lock", Op: fsnotify.Create}, false},
		{"index", fsnotify.Event{Name: "/r/.git/index", Op: fsnotify.Write}, false},
		{"chmod", fsnotify.Event{Name: "/r/.git/HEAD", Op: fsnotify.Chmod}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, refEvent(tt.event))
		})
	}
}

func TestLocalGitDir(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(repo, ".git"), 0o755))

	assert.Equal(t, filepath.Join(repo, ".git"), localGitDir(repo))
	assert.Equal(t, filepath.Join(repo, ".git"), localGitDir("file://"+repo))
	assert.Empty(t, localGitDir(t.TempDir()))
	assert.Empty(t, localGitDir("acme/docs"))
}

func TestCheckEmbedder(t *testing.T) {
	emb, err := embedder.NewLocalProviderWithDimension(32, nil)
	require.NoError(t, err)

	res, err := checkEmbedder(context.Background(), emb, sampleTexts, chunker.HeuristicCounter{})
	require.NoError(t, err)
	assert.Equal(t, 32, res.Dimension)
	assert.Equal(t, embedder.Identity(emb), res.Identity)
	require.Len(t, res.Norms, len(sampleTexts))
	for i, n := range res.Norms {
		assert.InDelta(t, 1.0, n, 1e-3)
		assert.Positive(t, res.Tokens[i])
	}
}
