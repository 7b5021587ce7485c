package indexer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/dshills/reposync/internal/statefile"
)

const (
	// CheckpointSchemaVersion is the checkpoint file format written by this build
	CheckpointSchemaVersion = "1.0.0"
	// CheckpointDir is the directory holding one checkpoint file per collection
	CheckpointDir = "batch_checkpoints"
)

// CheckpointEntry records one completed batch
type CheckpointEntry struct {
	Group   string   `json:"group"`
	Files   []string `json:"files"`
	Docs    int      `json:"docs"`
	Nodes   int      `json:"nodes"`
	Elapsed float64  `json:"elapsed"` // seconds
}

type checkpointDocument struct {
	SchemaVersion string                      `json:"schema_version"`
	Collection    string                      `json:"collection"`
	Completed     map[string]*CheckpointEntry `json:"completed"`
}

func (d *checkpointDocument) Version() string { return d.SchemaVersion }

// Checkpoints is the durable set of completed BatchIDs of one collection.
// Every mutation rewrites the file atomically under a mutex, so parallel
// batch workers never interleave writes.
type Checkpoints struct {
	mu     sync.Mutex
	path   string
	doc    *checkpointDocument
	logger *slog.Logger
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CheckpointPath returns the checkpoint file of collection under stateDir
func CheckpointPath(stateDir, collection string) string {
	return filepath.Join(stateDir, CheckpointDir, unsafeFileChars.ReplaceAllString(collection, "_")+".json")
}

// OpenCheckpoints loads the checkpoint set of collection. A missing file
// yields an empty set; a corrupt one is quarantined and also yields an empty set.
func OpenCheckpoints(stateDir, collection string, logger *slog.Logger) (*Checkpoints, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checkpoints{
		path:   CheckpointPath(stateDir, collection),
		logger: logger.With("component", "checkpoints", "collection", collection),
	}

	doc := &checkpointDocument{}
	res, err := statefile.Load(c.path, doc, CheckpointSchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints: %w", err)
	}
	switch {
	case res.Quarantined != "":
		c.logger.Warn("checkpoints.corrupt", "path", c.path, "moved_to", res.Quarantined, "err", res.Cause)
		doc = &checkpointDocument{}
	case res.Found && doc.Collection != collection:
		// sanitized names can collide; never reuse another collection's entries
		c.logger.Warn("checkpoints.foreign", "path", c.path, "found", doc.Collection)
		doc = &checkpointDocument{}
	}
	if doc.Completed == nil {
		doc.Completed = make(map[string]*CheckpointEntry)
	}
	doc.SchemaVersion = CheckpointSchemaVersion
	doc.Collection = collection
	c.doc = doc
	return c, nil
}

// Path returns the checkpoint file location
func (c *Checkpoints) Path() string { return c.path }

// Has reports whether batchID completed in an earlier run
func (c *Checkpoints) Has(batchID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.doc.Completed[batchID]
	return ok
}

// Len returns the number of completed batches
func (c *Checkpoints) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.doc.Completed)
}

// IDs returns the completed BatchIDs in sorted order
func (c *Checkpoints) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.doc.Completed))
	for id := range c.doc.Completed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Complete records batchID and persists the set before returning
func (c *Checkpoints) Complete(batchID string, entry CheckpointEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.doc.Completed[batchID] = &entry
	return statefile.WriteJSON(c.path, c.doc)
}

// Retain drops every entry not in keep. It returns the number pruned.
func (c *Checkpoints) Retain(keep map[string]struct{}) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for id := range c.doc.Completed {
		if _, ok := keep[id]; !ok {
			delete(c.doc.Completed, id)
			pruned++
		}
	}
	if pruned == 0 {
		return 0, nil
	}
	return pruned, statefile.WriteJSON(c.path, c.doc)
}

// Reset forgets every completed batch and removes the file
func (c *Checkpoints) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.doc.Completed = make(map[string]*CheckpointEntry)
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoints: %w", err)
	}
	return nil
}
