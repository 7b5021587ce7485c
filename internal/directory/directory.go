// Package directory maps each file of a tracked source to the vector IDs it
// produced, so updates and deletions touch exactly the right vectors.
//
// The vector store is the source of truth for lookups; the repository
// metadata snapshot records the IDs that were assigned in the last run.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dshills/reposync/internal/vectorstore"
	"github.com/dshills/reposync/pkg/types"
)

// DefaultLookupBatch is the number of paths resolved per store query
const DefaultLookupBatch = 100

// Option configures a Directory
type Option func(*Directory)

// WithLookupBatch sets the number of paths per metadata query
func WithLookupBatch(n int) Option {
	return func(d *Directory) {
		if n > 0 {
			d.lookupBatch = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// Directory is bound to one (source, branch) and its metadata snapshot.
// It is safe for concurrent use by indexing workers.
type Directory struct {
	store       vectorstore.Store
	lookupBatch int
	logger      *slog.Logger

	mu   sync.Mutex
	repo *types.RepositoryMetadata
}

// New creates a Directory that records into repo. repo is mutated in place.
func New(store vectorstore.Store, repo *types.RepositoryMetadata, opts ...Option) *Directory {
	d := &Directory{
		store:       store,
		repo:        repo,
		lookupBatch: DefaultLookupBatch,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "directory", "repo", repo.Key())
	return d
}

func (d *Directory) baseFilter() map[string]string {
	return map[string]string{
		vectorstore.KeySourceID: d.repo.SourceID,
		vectorstore.KeyBranch:   d.repo.Branch,
	}
}

// Get returns the IDs of every stored vector of path
func (d *Directory) Get(ctx context.Context, path string) ([]string, error) {
	refs, err := d.store.QueryByMetadata(ctx, vectorstore.Filter{
		Must: d.baseFilter(),
		Key:  vectorstore.KeyPath,
		Any:  []string{path},
	})
	if err != nil {
		return nil, fmt.Errorf("lookup vectors of %s: %w", path, err)
	}
	return refIDs(refs), nil
}

// Lookup returns the stored refs of each path. Paths are de-duplicated and
// queried in sub-batches. Paths without vectors are absent from the result.
func (d *Directory) Lookup(ctx context.Context, paths []string) (map[string][]vectorstore.Ref, error) {
	unique := dedupe(paths)
	out := make(map[string][]vectorstore.Ref, len(unique))

	for start := 0; start < len(unique); start += d.lookupBatch {
		chunk := unique[start:min(start+d.lookupBatch, len(unique))]
		refs, err := d.store.QueryByMetadata(ctx, vectorstore.Filter{
			Must: d.baseFilter(),
			Key:  vectorstore.KeyPath,
			Any:  chunk,
		})
		if err != nil {
			return nil, fmt.Errorf("lookup vectors of %d paths: %w", len(chunk), err)
		}
		for _, ref := range refs {
			path := ref.Metadata[vectorstore.KeyPath]
			out[path] = append(out[path], ref)
		}
	}
	return out, nil
}

// GetBatch returns the stored vector IDs of each path
func (d *Directory) GetBatch(ctx context.Context, paths []string) (map[string][]string, error) {
	refs, err := d.Lookup(ctx, paths)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(refs))
	for path, rs := range refs {
		out[path] = refIDs(rs)
	}
	return out, nil
}

// Split looks up the stored vectors of docs and separates, per path, the
// IDs written for the document's current content from those left by
// earlier content.
func (d *Directory) Split(ctx context.Context, docs []types.Document) (current, stale map[string][]string, err error) {
	paths := make([]string, len(docs))
	hashes := make(map[string]string, len(docs))
	for i, doc := range docs {
		paths[i] = doc.Path
		hashes[doc.Path] = doc.ContentHash
	}

	refs, err := d.Lookup(ctx, paths)
	if err != nil {
		return nil, nil, err
	}

	current = make(map[string][]string)
	stale = make(map[string][]string)
	for path, rs := range refs {
		for _, ref := range rs {
			if ref.Metadata[vectorstore.KeyContentHash] == hashes[path] {
				current[path] = append(current[path], ref.ID)
			} else {
				stale[path] = append(stale[path], ref.ID)
			}
		}
	}
	return current, stale, nil
}

// IDs returns the vector IDs recorded for path in the snapshot
func (d *Directory) IDs(path string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.repo.Files[path]
	if !ok {
		return nil
	}
	return append([]string(nil), rec.VectorIDs...)
}

// Replace records newIDs for doc and deletes its previous vectors: oldIDs
// plus any IDs already recorded for the path, minus newIDs. The new vectors
// must already be stored. IDs that fail to delete stay recorded so a later
// replace or removal retries them.
func (d *Directory) Replace(ctx context.Context, doc types.Document, oldIDs, newIDs []string) (int, error) {
	keep := make(map[string]struct{}, len(newIDs))
	for _, id := range newIDs {
		keep[id] = struct{}{}
	}
	var obsolete []string
	for _, id := range dedupe(append(d.IDs(doc.Path), oldIDs...)) {
		if _, ok := keep[id]; !ok {
			obsolete = append(obsolete, id)
		}
	}

	recorded := dedupe(newIDs)
	var delErr error
	if len(obsolete) > 0 {
		if err := d.store.DeleteByIDs(ctx, obsolete); err != nil {
			delErr = fmt.Errorf("delete %d old vectors of %s: %w", len(obsolete), doc.Path, err)
			recorded = dedupe(append(recorded, obsolete...))
			obsolete = nil
		}
	}

	d.mu.Lock()
	d.repo.Files[doc.Path] = doc.FileRecord(recorded)
	d.mu.Unlock()

	if len(obsolete) > 0 {
		d.logger.Debug("directory.replace", "path", doc.Path, "new", len(newIDs), "deleted", len(obsolete))
	}
	return len(obsolete), delErr
}

// Remove deletes every vector of path, recorded or found in the store, and
// drops its file record. It returns the number of IDs deleted.
func (d *Directory) Remove(ctx context.Context, path string) (int, error) {
	stored, err := d.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	ids := dedupe(append(d.IDs(path), stored...))
	if len(ids) > 0 {
		if err := d.store.DeleteByIDs(ctx, ids); err != nil {
			return 0, fmt.Errorf("delete %d vectors of %s: %w", len(ids), path, err)
		}
	}

	d.mu.Lock()
	delete(d.repo.Files, path)
	d.mu.Unlock()

	d.logger.Debug("directory.remove", "path", path, "deleted", len(ids))
	return len(ids), nil
}

// Forget drops the file record of path without touching the store
func (d *Directory) Forget(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.repo.Files, path)
}

// Snapshot returns a copy of the repository metadata as recorded so far
func (d *Directory) Snapshot() *types.RepositoryMetadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.repo.Clone()
}

func refIDs(refs []vectorstore.Ref) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	sort.Strings(ids)
	return ids
}

// dedupe returns the sorted distinct values of in
func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
