package metadata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposync/pkg/types"
)

func sampleRepo() *types.RepositoryMetadata {
	repo := types.NewRepositoryMetadata("acme/handbook", "main", "docs__local-local-embeddings__384")
	repo.LastCommitID = "0123456789abcdef0123456789abcdef01234567"
	repo.Files["a.md"] = &types.FileRecord{ContentHash: "h-a", Size: 10, VectorIDs: []string{"v1", "v2"}}
	repo.Files["docs/b.md"] = &types.FileRecord{ContentHash: "h-b", Size: 20, VectorIDs: []string{"v3"}}
	return repo
}

func TestPutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path, nil)
	require.NoError(t, err)

	_, ok := s.Get("acme/handbook", "main")
	assert.False(t, ok)

	require.NoError(t, s.Put(sampleRepo()))

	got, ok := s.Get("acme/handbook", "main")
	require.True(t, ok)
	assert.Equal(t, 2, got.FileCount)
	assert.Equal(t, 3, got.VectorCount())
	assert.Equal(t, []string{"a.md", "docs/b.md"}, got.Paths())

	// Mutating the returned copy must not leak into the store.
	got.Files["a.md"].VectorIDs[0] = "mutated"
	delete(got.Files, "docs/b.md")
	again, _ := s.Get("acme/handbook", "main")
	assert.Equal(t, "v1", again.Files["a.md"].VectorIDs[0])
	assert.Len(t, again.Files, 2)
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path, nil)
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	require.NoError(t, s.Put(sampleRepo()))

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	got, ok := reopened.Get("acme/handbook", "main")
	require.True(t, ok)
	assert.Equal(t, fixed, got.UpdatedAt)
	assert.Equal(t, "h-b", got.Files["docs/b.md"].ContentHash)
	assert.Equal(t, []string{"acme/handbook@main"}, reopened.Keys())
}

func TestPut_Validation(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), FileName), nil)
	require.NoError(t, err)

	assert.Error(t, s.Put(nil))
	assert.ErrorIs(t, s.Put(&types.RepositoryMetadata{Branch: "main"}), types.ErrEmptySource)
	assert.ErrorIs(t, s.Put(&types.RepositoryMetadata{SourceID: "x"}), types.ErrEmptyBranch)
}

func TestDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(sampleRepo()))

	require.NoError(t, s.Delete("acme/handbook", "main"))
	require.NoError(t, s.Delete("acme/handbook", "main"))

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	assert.Empty(t, reopened.Keys())
}

func TestOpen_CorruptFallsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"repositories": []}`), 0o644))

	s, err := Open(path, nil)
	require.NoError(t, err)
	assert.Empty(t, s.Keys())

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
