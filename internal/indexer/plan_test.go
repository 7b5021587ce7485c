package indexer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposync/pkg/types"
)

func doc(path, text string) types.Document {
	return types.NewDocument(path, text, time.Time{})
}

func TestGroupKey(t *testing.T) {
	tests := []struct {
		path  string
		depth int
		want  string
	}{
		{"README.md", 1, RootGroup},
		{"docs/intro.md", 1, "docs"},
		{"docs/guide/setup.md", 1, "docs"},
		{"docs/guide/setup.md", 2, "docs/guide"},
		{"docs/intro.md", 2, RootGroup},
		{"docs/intro.md", 0, RootGroup},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s@%d", tt.path, tt.depth), func(t *testing.T) {
			assert.Equal(t, tt.want, GroupKey(tt.path, tt.depth))
		})
	}
}

func TestBatchID(t *testing.T) {
	a, b := doc("a.md", "one"), doc("b.md", "two")

	id := BatchID("docs", []types.Document{a, b})
	assert.Equal(t, id, BatchID("docs", []types.Document{b, a}), "order independent")
	assert.NotEqual(t, id, BatchID("other", []types.Document{a, b}), "group is part of the identity")
	assert.NotEqual(t, id, BatchID("docs", []types.Document{a, doc("b.md", "changed")}), "content is part of the identity")
	assert.NotEqual(t, id, BatchID("docs", []types.Document{a}))
}

func TestPlan(t *testing.T) {
	docs := []types.Document{
		doc("z/one.md", "1"),
		doc("README.md", "r"),
		doc("a/x.md", "x"),
		doc("a/b/y.md", "y"),
		doc("a/w.md", "w"),
		doc("CHANGELOG.md", "c"),
	}

	batches := Plan(docs, 1, 2)
	require.Len(t, batches, 4)

	assert.Equal(t, RootGroup, batches[0].Group)
	assert.Equal(t, []string{"CHANGELOG.md", "README.md"}, batches[0].Paths())
	assert.Equal(t, "a", batches[1].Group)
	assert.Equal(t, []string{"a/b/y.md", "a/w.md"}, batches[1].Paths())
	assert.Equal(t, []string{"a/x.md"}, batches[2].Paths())
	assert.Equal(t, "z", batches[3].Group)

	for _, b := range batches {
		assert.Equal(t, BatchID(b.Group, b.Docs), b.ID)
	}
}

func TestPlan_Deterministic(t *testing.T) {
	var docs []types.Document
	for i := 0; i < 50; i++ {
		docs = append(docs, doc(fmt.Sprintf("g%d/f%02d.md", i%4, i), fmt.Sprint(i)))
	}
	reversed := make([]types.Document, len(docs))
	for i := range docs {
		reversed[len(docs)-1-i] = docs[i]
	}

	first := Plan(docs, 1, 5)
	second := Plan(reversed, 1, 5)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestPlan_Empty(t *testing.T) {
	assert.Empty(t, Plan(nil, 1, 10))
}

func BenchmarkPlan(b *testing.B) {
	var docs []types.Document
	for i := 0; i < 5000; i++ {
		docs = append(docs, doc(fmt.Sprintf("pkg%d/sub%d/file%d.md", i%40, i%7, i), fmt.Sprint(i)))
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Plan(docs, 2, DefaultBatchSize)
	}
}
