package types

import (
	"sort"
	"time"
)

// FileRecord tracks one indexed file
type FileRecord struct {
	ContentHash  string    `json:"hash"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	VectorIDs    []string  `json:"vector_ids"`
}

// RepositoryMetadata is the durable snapshot of one (source, branch)
type RepositoryMetadata struct {
	SourceID     string                 `json:"source_id"`
	Branch       string                 `json:"branch"`
	Collection   string                 `json:"collection"`
	LastCommitID string                 `json:"last_commit_id"`
	FileCount    int                    `json:"file_count"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Files        map[string]*FileRecord `json:"files"`
}

// NewRepositoryMetadata returns an empty snapshot for a source
func NewRepositoryMetadata(sourceID, branch, collection string) *RepositoryMetadata {
	return &RepositoryMetadata{
		SourceID:   sourceID,
		Branch:     branch,
		Collection: collection,
		Files:      make(map[string]*FileRecord),
	}
}

// Key returns the "<source>@<branch>" key of this snapshot
func (m *RepositoryMetadata) Key() string {
	return RepoKey(m.SourceID, m.Branch)
}

// Hashes returns path -> content hash for every tracked file
func (m *RepositoryMetadata) Hashes() map[string]string {
	out := make(map[string]string, len(m.Files))
	for path, rec := range m.Files {
		out[path] = rec.ContentHash
	}
	return out
}

// Paths returns the tracked paths in sorted order
func (m *RepositoryMetadata) Paths() []string {
	paths := make([]string, 0, len(m.Files))
	for path := range m.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// VectorCount sums the vector IDs recorded across all files
func (m *RepositoryMetadata) VectorCount() int {
	n := 0
	for _, rec := range m.Files {
		n += len(rec.VectorIDs)
	}
	return n
}

// Clone returns a deep copy
func (m *RepositoryMetadata) Clone() *RepositoryMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Files = make(map[string]*FileRecord, len(m.Files))
	for path, rec := range m.Files {
		r := *rec
		r.VectorIDs = append([]string(nil), rec.VectorIDs...)
		c.Files[path] = &r
	}
	return &c
}
