// Package metadata persists RepositoryMetadata snapshots (metadata.json).
package metadata

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dshills/reposync/internal/statefile"
	"github.com/dshills/reposync/pkg/types"
)

const (
	// SchemaVersion is the metadata file format written by this build
	SchemaVersion = "1.0.0"
	// FileName is the metadata file name inside the state directory
	FileName = "metadata.json"
)

type document struct {
	SchemaVersion string                               `json:"schema_version"`
	Repositories  map[string]*types.RepositoryMetadata `json:"repositories"`
}

func (d *document) Version() string { return d.SchemaVersion }

func newDocument() *document {
	return &document{SchemaVersion: SchemaVersion, Repositories: make(map[string]*types.RepositoryMetadata)}
}

// Store holds the metadata of every tracked source
type Store struct {
	mu     sync.Mutex
	path   string
	doc    *document
	logger *slog.Logger
	now    func() time.Time
}

// Open loads the metadata file at path; missing or corrupt files yield an empty store
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		logger: logger.With("component", "metadata"),
		now:    time.Now,
	}

	doc := newDocument()
	res, err := statefile.Load(path, doc, SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load repository metadata: %w", err)
	}
	if res.Quarantined != "" {
		s.logger.Warn("metadata.corrupt", "path", path, "moved_to", res.Quarantined, "err", res.Cause)
		doc = newDocument()
	}
	if doc.Repositories == nil {
		doc.Repositories = make(map[string]*types.RepositoryMetadata)
	}
	for _, repo := range doc.Repositories {
		if repo.Files == nil {
			repo.Files = make(map[string]*types.FileRecord)
		}
	}
	doc.SchemaVersion = SchemaVersion
	s.doc = doc
	return s, nil
}

// Get returns a deep copy of the snapshot for (sourceID, branch)
func (s *Store) Get(sourceID, branch string) (*types.RepositoryMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, ok := s.doc.Repositories[types.RepoKey(sourceID, branch)]
	if !ok {
		return nil, false
	}
	return repo.Clone(), true
}

// Put stores a snapshot, recomputing its file count, and persists the file
func (s *Store) Put(repo *types.RepositoryMetadata) error {
	if repo == nil {
		return fmt.Errorf("nil repository metadata")
	}
	if repo.SourceID == "" {
		return types.ErrEmptySource
	}
	if repo.Branch == "" {
		return types.ErrEmptyBranch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := repo.Clone()
	c.FileCount = len(c.Files)
	c.UpdatedAt = s.now().UTC()
	s.doc.Repositories[c.Key()] = c

	s.logger.Debug("metadata.put", "repo", c.Key(), "files", c.FileCount, "commit", c.LastCommitID)
	return statefile.WriteJSON(s.path, s.doc)
}

// Delete removes the snapshot for (sourceID, branch)
func (s *Store) Delete(sourceID, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := types.RepoKey(sourceID, branch)
	if _, ok := s.doc.Repositories[key]; !ok {
		return nil
	}
	delete(s.doc.Repositories, key)
	s.logger.Info("metadata.delete", "repo", key)
	return statefile.WriteJSON(s.path, s.doc)
}

// Keys lists tracked "<source>@<branch>" keys in sorted order
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.doc.Repositories))
	for k := range s.doc.Repositories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
