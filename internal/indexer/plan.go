package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/dshills/reposync/pkg/types"
)

// RootGroup holds files with fewer directory levels than the grouping depth
const RootGroup = "__root__"

// Batch is one unit of indexing work
type Batch struct {
	ID    string
	Group string
	Docs  []types.Document // sorted by path
}

// Paths returns the batch's file paths in order
func (b Batch) Paths() []string {
	paths := make([]string, len(b.Docs))
	for i, d := range b.Docs {
		paths[i] = d.Path
	}
	return paths
}

// GroupKey returns the first depth directory components of path, or RootGroup
// when path is not nested that deep.
func GroupKey(path string, depth int) string {
	if depth <= 0 {
		return RootGroup
	}
	dirs := strings.Split(path, "/")
	dirs = dirs[:len(dirs)-1]
	if len(dirs) < depth {
		return RootGroup
	}
	return strings.Join(dirs[:depth], "/")
}

// BatchID hashes the group key with each file's path and content hash in
// path order. A changed file therefore yields a new BatchID.
func BatchID(group string, docs []types.Document) string {
	entries := make([]string, len(docs))
	for i, d := range docs {
		entries[i] = d.Path + ":" + d.ContentHash
	}
	sort.Strings(entries)

	h := sha256.New()
	h.Write([]byte(group))
	for _, e := range entries {
		h.Write([]byte{0})
		h.Write([]byte(e))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Plan partitions docs by group key, then into chunks of at most size
// documents. Batches are ordered by group key, then by first path.
func Plan(docs []types.Document, depth, size int) []Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}

	groups := make(map[string][]types.Document)
	for _, d := range docs {
		key := GroupKey(d.Path, depth)
		groups[key] = append(groups[key], d)
	}

	var batches []Batch
	for key, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i].Path < members[j].Path })
		for start := 0; start < len(members); start += size {
			chunk := members[start:min(start+size, len(members))]
			batches = append(batches, Batch{ID: BatchID(key, chunk), Group: key, Docs: chunk})
		}
	}

	sort.Slice(batches, func(i, j int) bool {
		if batches[i].Group != batches[j].Group {
			return batches[i].Group < batches[j].Group
		}
		return batches[i].Docs[0].Path < batches[j].Docs[0].Path
	})
	return batches
}
