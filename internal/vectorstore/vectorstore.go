package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrCollectionMismatch is returned when an existing collection was created
	// for a different dimension or model
	ErrCollectionMismatch = errors.New("collection mismatch")
	// ErrDimensionMismatch is returned when a vector does not match the collection dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidRecord is returned for records without an ID or vector
	ErrInvalidRecord = errors.New("invalid record")
	// ErrCollectionNotFound is returned when dropping or inspecting a missing collection
	ErrCollectionNotFound = errors.New("collection not found")
)

// Metadata keys written with every vector
const (
	KeySourceID    = "source_id"
	KeyBranch      = "branch"
	KeyPath        = "path"
	KeyContentHash = "content_hash" // hash of the whole document at indexing time
	KeyUnitIndex   = "unit_index"
	KeyUnitHash    = "unit_hash"
	KeyStartLine   = "start_line"
	KeyEndLine     = "end_line"
	KeySymbols     = "symbols" // comma-separated Go declarations, when known
)

// Record is a vector with its metadata
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Ref is a stored vector's ID and metadata, without the vector
type Ref struct {
	ID       string
	Metadata map[string]string
}

// Filter selects vectors by metadata. Every Must pair has to match exactly;
// when Key is set the value under Key must be one of Any.
type Filter struct {
	Must map[string]string
	Key  string
	Any  []string
}

// CollectionSpec identifies the vector space a store writes to
type CollectionSpec struct {
	Name      string
	Dimension int
	Model     string // embedder identity recorded at creation
}

// CollectionInfo describes an existing collection
type CollectionInfo struct {
	Name      string
	Dimension int
	Model     string
	Count     int
}

// Store is the vector persistence capability used by the pipeline.
// Insert and BulkInsert overwrite existing IDs. DeleteByIDs ignores IDs
// that do not exist.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	BulkInsert(ctx context.Context, recs []Record) error
	DeleteByIDs(ctx context.Context, ids []string) error
	QueryByMetadata(ctx context.Context, filter Filter) ([]Ref, error)
	Count(ctx context.Context) (int, error)
	Collection() CollectionSpec
	Close() error
}

// Catalog lists and drops collections. Dropping is the explicit migration
// step after an embedding model change; stores never drop implicitly.
type Catalog interface {
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
	DropCollection(ctx context.Context, name string) error
	Close() error
}

var unsafeName = regexp.MustCompile(`[^a-z0-9_-]+`)

// CollectionName derives a versioned collection name from a base name and
// the embedder's provider, model and dimension.
func CollectionName(base, provider, model string, dim int) string {
	clean := func(s string) string {
		s = unsafeName.ReplaceAllString(strings.ToLower(s), "-")
		return strings.Trim(s, "-")
	}
	return fmt.Sprintf("%s__%s-%s__%d", clean(base), clean(provider), clean(model), dim)
}

var idNamespace = uuid.MustParse("6f1d4c1e-3b0a-5b8e-9a51-7c1f0e2d4a90")

// VectorID returns the deterministic ID of one unit of a file. The same
// unit text at the same position always maps to the same ID, so re-running
// an interrupted batch overwrites instead of duplicating.
func VectorID(collection, sourceID, branch, path string, unitIndex int, unitHash string) string {
	name := strings.Join([]string{collection, sourceID, branch, path, fmt.Sprint(unitIndex), unitHash}, "\x00")
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

func validateRecord(rec Record, dim int) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if len(rec.Vector) != dim {
		return fmt.Errorf("%w: record %s has %d, collection expects %d", ErrDimensionMismatch, rec.ID, len(rec.Vector), dim)
	}
	return nil
}
