package vectorstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// scrollPageSize is the number of points fetched per Scroll call
const scrollPageSize = 256

// QdrantConfig holds connection settings for a Qdrant server (gRPC port)
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// qdrantAPI is the subset of *qdrant.Client used here
type qdrantAPI interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Scroll(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Close() error
}

func dialQdrant(cfg QdrantConfig) (*qdrant.Client, error) {
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	return client, nil
}

// QdrantStore implements Store on a Qdrant collection. Vector IDs must be UUIDs.
type QdrantStore struct {
	client qdrantAPI
	spec   CollectionSpec
}

// OpenQdrant connects to Qdrant and ensures spec's collection exists with
// cosine distance and a matching vector size.
func OpenQdrant(ctx context.Context, cfg QdrantConfig, spec CollectionSpec) (*QdrantStore, error) {
	client, err := dialQdrant(cfg)
	if err != nil {
		return nil, err
	}
	s, err := newQdrantStore(ctx, client, spec)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func newQdrantStore(ctx context.Context, client qdrantAPI, spec CollectionSpec) (*QdrantStore, error) {
	if spec.Name == "" || spec.Dimension <= 0 {
		return nil, fmt.Errorf("%w: collection needs a name and positive dimension", ErrInvalidRecord)
	}
	exists, err := client.CollectionExists(ctx, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %s: %w", spec.Name, err)
	}

	if !exists {
		err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: spec.Name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(spec.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create collection %s: %w", spec.Name, err)
		}
		for _, key := range []string{KeySourceID, KeyBranch, KeyPath} {
			_, err := client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: spec.Name,
				FieldName:      key,
				FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to index payload field %s: %w", key, err)
			}
		}
	} else {
		info, err := client.GetCollectionInfo(ctx, spec.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect collection %s: %w", spec.Name, err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if int(size) != spec.Dimension {
			return nil, fmt.Errorf("%w: %s holds %d-dim vectors, requested %d",
				ErrCollectionMismatch, spec.Name, size, spec.Dimension)
		}
	}
	return &QdrantStore{client: client, spec: spec}, nil
}

// Collection returns the bound collection
func (s *QdrantStore) Collection() CollectionSpec { return s.spec }

// Close closes the gRPC connection
func (s *QdrantStore) Close() error { return s.client.Close() }

// Insert stores or replaces one point
func (s *QdrantStore) Insert(ctx context.Context, rec Record) error {
	return s.BulkInsert(ctx, []Record{rec})
}

// BulkInsert upserts points and waits until they are persisted
func (s *QdrantStore) BulkInsert(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(recs))
	for i, rec := range recs {
		if err := validateRecord(rec, s.spec.Dimension); err != nil {
			return err
		}
		if _, err := uuid.Parse(rec.ID); err != nil {
			return fmt.Errorf("%w: qdrant ids must be uuids: %s", ErrInvalidRecord, rec.ID)
		}
		payload := make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			payload[k] = v
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.spec.Name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteByIDs removes points by ID
func (s *QdrantStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.spec.Name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %d points: %w", len(ids), err)
	}
	return nil
}

func (f Filter) qdrantFilter() *qdrant.Filter {
	keys := make([]string, 0, len(f.Must))
	for k := range f.Must {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	filter := &qdrant.Filter{}
	for _, k := range keys {
		filter.Must = append(filter.Must, qdrant.NewMatch(k, f.Must[k]))
	}
	if f.Key != "" {
		filter.Must = append(filter.Must, qdrant.NewMatchKeywords(f.Key, f.Any...))
	}
	return filter
}

// QueryByMetadata scrolls through all points matching filter, ordered by ID
func (s *QdrantStore) QueryByMetadata(ctx context.Context, f Filter) ([]Ref, error) {
	if f.Key != "" && len(f.Any) == 0 {
		return nil, nil
	}

	var refs []Ref
	var offset *qdrant.PointId
	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.spec.Name,
			Filter:         f.qdrantFilter(),
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll %s: %w", s.spec.Name, err)
		}

		// the offset point is included again at the start of the next page
		if offset != nil && len(points) > 0 && points[0].GetId().GetUuid() == offset.GetUuid() {
			points = points[1:]
		}
		for _, p := range points {
			meta := make(map[string]string, len(p.GetPayload()))
			for k, v := range p.GetPayload() {
				meta[k] = v.GetStringValue()
			}
			refs = append(refs, Ref{ID: p.GetId().GetUuid(), Metadata: meta})
		}
		if len(points) == 0 || len(points) < scrollPageSize-1 {
			break
		}
		offset = points[len(points)-1].GetId()
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

// Count returns the exact number of points in the collection
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.spec.Name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.spec.Name, err)
	}
	return int(n), nil
}

// QdrantCatalog implements Catalog on a Qdrant server
type QdrantCatalog struct {
	client qdrantAPI
}

// OpenQdrantCatalog connects to Qdrant for collection management
func OpenQdrantCatalog(cfg QdrantConfig) (*QdrantCatalog, error) {
	client, err := dialQdrant(cfg)
	if err != nil {
		return nil, err
	}
	return &QdrantCatalog{client: client}, nil
}

// ListCollections returns every collection with its point count
func (c *QdrantCatalog) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	names, err := c.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	sort.Strings(names)

	out := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		info, err := c.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect collection %s: %w", name, err)
		}
		out = append(out, CollectionInfo{
			Name:      name,
			Dimension: int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()),
			Count:     int(info.GetPointsCount()),
		})
	}
	return out, nil
}

// DropCollection deletes a collection and all of its points
func (c *QdrantCatalog) DropCollection(ctx context.Context, name string) error {
	exists, err := c.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err := c.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	return nil
}

// Close closes the gRPC connection
func (c *QdrantCatalog) Close() error { return c.client.Close() }
