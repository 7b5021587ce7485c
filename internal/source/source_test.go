package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposync/pkg/types"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func paths(docs []types.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Path)
	}
	return out
}

func TestLoad(t *testing.T) {
	root := writeTree(t, map[string]string{
		"README.md":                "# readme",
		"docs/guide.md":            "guide",
		"docs/deep/ref.txt":        "ref",
		".git/config":              "[core]",
		".github/workflows/ci.yml": "on: push",
		"node_modules/x/index.js":  "js",
		"vendor/lib/lib.go":        "package lib",
		"bin/tool":                 "ELF\x00\x01\x02",
		"latin1.txt":               "caf\xe9",
	})

	src, err := New(root, Options{}, nil)
	require.NoError(t, err)
	snap, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"README.md", "docs/deep/ref.txt", "docs/guide.md"}, paths(snap.Documents))
	require.Len(t, snap.Failed, 1)
	assert.Equal(t, "latin1.txt", snap.Failed[0].Path)
	assert.ErrorIs(t, snap.Failed[0], types.ErrParseFailed)
	assert.Equal(t, []string{"latin1.txt"}, snap.FailedPaths())
	assert.Equal(t, 1, snap.Skipped, "binary file")

	doc := snap.Documents[0]
	assert.Equal(t, types.HashText("# readme"), doc.ContentHash)
	assert.Equal(t, int64(8), doc.Size)
	assert.Equal(t, ".md", doc.Metadata["extension"])
}

func TestLoadFilters(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.md":             "a",
		"b.txt":            "b",
		"docs/c.md":        "c",
		"docs/draft/d.md":  "d",
		"docs/draft/e.MD":  "e",
		"internal/f.md":    "f",
		"docs/big.md":      "0123456789",
		"docs/keep/g.yaml": "g",
	})

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "extensions without dot are normalized",
			opts: Options{Filters: types.Filters{Extensions: []string{"md"}}},
			want: []string{"a.md", "docs/big.md", "docs/c.md", "docs/draft/d.md", "docs/draft/e.MD", "internal/f.md"},
		},
		{
			name: "include and exclude",
			opts: Options{Filters: types.Filters{
				Include: []string{"docs/**"},
				Exclude: []string{"docs/draft/**", "*.yaml"},
			}},
			want: []string{"docs/big.md", "docs/c.md"},
		},
		{
			name: "max size",
			opts: Options{Filters: types.Filters{Include: []string{"docs/*.md"}}, MaxFileSize: 5},
			want: []string{"docs/c.md"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := New(root, tt.opts, nil)
			require.NoError(t, err)
			snap, err := src.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(snap.Documents))
			assert.Empty(t, snap.Failed)
		})
	}
}

func TestNewRejectsBadGlob(t *testing.T) {
	_, err := New(t.TempDir(), Options{Filters: types.Filters{Include: []string{"docs/[a"}}}, nil)
	assert.Error(t, err)
}

func TestLoadMissingRoot(t *testing.T) {
	src, err := New(filepath.Join(t.TempDir(), "missing"), Options{}, nil)
	require.NoError(t, err)
	_, err = src.Load(context.Background())
	assert.Error(t, err)
}

func TestLoadCanceled(t *testing.T) {
	root := writeTree(t, map[string]string{"a.md": "a"})
	src, err := New(root, Options{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*.md", "a.md", true},
		{"*.md", "docs/deep/a.md", true},
		{"docs/*.md", "docs/a.md", true},
		{"docs/*.md", "docs/x/a.md", false},
		{"docs/**", "docs/x/y/a.md", true},
		{"docs/**", "other/a.md", false},
		{"**/draft/*", "a/b/draft/c.md", true},
		{"**/draft/*", "draft/c.md", true},
		{"docs/**/*.md", "docs/a.md", true},
		{"docs/**/*.md", "docs/x/a.txt", false},
		{"./docs/*.md", "docs/a.md", true},
		{"", "a.md", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchGlob(tt.pattern, tt.name))
		})
	}
}
