package detector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposync/pkg/types"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name       string
		historical map[string]string
		current    map[string]string
		want       types.ChangeSet
	}{
		{
			name:    "first sync adds everything",
			current: map[string]string{"b.md": "2", "a.md": "1"},
			want:    types.ChangeSet{Added: []string{"a.md", "b.md"}},
		},
		{
			name:       "mixed changes",
			historical: map[string]string{"a.md": "1", "b.md": "2", "c.md": "3"},
			current:    map[string]string{"a.md": "1", "b.md": "changed", "d.md": "4"},
			want: types.ChangeSet{
				Added:     []string{"d.md"},
				Modified:  []string{"b.md"},
				Deleted:   []string{"c.md"},
				Unchanged: []string{"a.md"},
			},
		},
		{
			name:       "everything deleted",
			historical: map[string]string{"a.md": "1"},
			current:    map[string]string{},
			want:       types.ChangeSet{Deleted: []string{"a.md"}},
		},
		{
			name: "both empty",
			want: types.ChangeSet{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Diff(tt.historical, tt.current))
		})
	}
}

func TestDiff_PartitionsUnionOfKeys(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		historical := randomHashes(rng)
		current := randomHashes(rng)

		cs := Diff(historical, current)

		seen := make(map[string]int)
		for _, list := range [][]string{cs.Added, cs.Modified, cs.Deleted, cs.Unchanged} {
			for _, p := range list {
				seen[p]++
			}
		}

		union := make(map[string]struct{})
		for p := range historical {
			union[p] = struct{}{}
		}
		for p := range current {
			union[p] = struct{}{}
		}

		require.Len(t, seen, len(union), "iteration %d", iter)
		for p := range union {
			require.Equal(t, 1, seen[p], "path %s must appear exactly once (iteration %d)", p, iter)
		}
		for _, p := range cs.Modified {
			require.NotEqual(t, historical[p], current[p])
		}
		for _, p := range cs.Unchanged {
			require.Equal(t, historical[p], current[p])
		}
	}
}

func randomHashes(rng *rand.Rand) map[string]string {
	n := rng.Intn(12)
	out := make(map[string]string, n)
	for i := 0; i < n; i++ {
		out[fmt.Sprintf("dir%d/file%d.md", rng.Intn(3), rng.Intn(8))] = fmt.Sprintf("h%d", rng.Intn(3))
	}
	return out
}

func docs(pairs ...string) []types.Document {
	out := make([]types.Document, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, types.NewDocument(pairs[i], pairs[i+1], time.Time{}))
	}
	return out
}

func TestDetect_FastPathSkipsLoading(t *testing.T) {
	d := New(nil)
	prev := types.NewRepositoryMetadata("src", "main", "c")
	prev.LastCommitID = "abc"

	loaded := false
	res, err := d.Detect(context.Background(), Input{CommitID: "abc", Previous: prev, AllowFastPath: true},
		func(context.Context) ([]types.Document, error) {
			loaded = true
			return nil, nil
		})

	require.NoError(t, err)
	assert.False(t, loaded, "loader must not run on the fast path")
	assert.True(t, res.Changes.NoChanges)
	assert.True(t, res.Changes.Empty())
	assert.Nil(t, res.Documents)
}

func TestDetect_FastPathDisabled(t *testing.T) {
	d := New(nil)
	prev := types.NewRepositoryMetadata("src", "main", "c")
	prev.LastCommitID = "abc"
	prev.Files["a.md"] = &types.FileRecord{ContentHash: types.HashText("old")}

	res, err := d.Detect(context.Background(), Input{CommitID: "abc", Previous: prev, AllowFastPath: false},
		func(context.Context) ([]types.Document, error) {
			return docs("a.md", "new"), nil
		})

	require.NoError(t, err)
	assert.False(t, res.Changes.NoChanges)
	assert.Equal(t, []string{"a.md"}, res.Changes.Modified)
	assert.Contains(t, res.Documents, "a.md")
}

func TestDetect_FirstSync(t *testing.T) {
	d := New(nil)
	res, err := d.Detect(context.Background(), Input{CommitID: "abc", AllowFastPath: true},
		func(context.Context) ([]types.Document, error) {
			return docs("A", "a", "B", "b", "C", "c"), nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, res.Changes.Added)
	assert.Len(t, res.Documents, 3)
}

func TestDetect_LoaderError(t *testing.T) {
	d := New(nil)
	boom := errors.New("walk failed")
	_, err := d.Detect(context.Background(), Input{CommitID: "abc"}, func(context.Context) ([]types.Document, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestUnchanged(t *testing.T) {
	prev := types.NewRepositoryMetadata("src", "main", "c")
	assert.False(t, Unchanged("abc", nil))
	assert.False(t, Unchanged("", prev), "empty last commit never matches")
	prev.LastCommitID = "abc"
	assert.True(t, Unchanged("abc", prev))
	assert.False(t, Unchanged("def", prev))
}

func TestRetain(t *testing.T) {
	cs := types.ChangeSet{
		Deleted:   []string{"bad.md", "gone.md"},
		Unchanged: []string{"z.md"},
	}
	out := Retain(cs, []string{"bad.md", "never-indexed.md"})
	assert.Equal(t, []string{"gone.md"}, out.Deleted)
	assert.Equal(t, []string{"bad.md", "z.md"}, out.Unchanged)
	assert.Equal(t, []string{"bad.md", "gone.md"}, cs.Deleted, "input is not mutated")

	assert.Equal(t, cs, Retain(cs, nil))
}
