package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), ":memory:", CollectionSpec{Name: "docs", Dimension: 3, Model: "test/m/3"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func rec(id, path, hash string, vec ...float32) Record {
	return Record{
		ID:     id,
		Vector: vec,
		Metadata: map[string]string{
			KeySourceID:    "acme/docs",
			KeyBranch:      "main",
			KeyPath:        path,
			KeyContentHash: hash,
		},
	}
}

func ids(refs []Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.ID
	}
	return out
}

func TestSQLiteStore_InsertAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, rec("v1", "a.md", "h1", 1, 2, 3)))

	got, err := store.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got.Vector)
	assert.Equal(t, "a.md", got.Metadata[KeyPath])

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpsertReplacesMetadata(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := rec("v1", "a.md", "h1", 1, 0, 0)
	first.Metadata["stale"] = "yes"
	require.NoError(t, store.Insert(ctx, first))
	require.NoError(t, store.Insert(ctx, rec("v1", "a.md", "h2", 0, 1, 0)))

	got, err := store.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, got.Vector)
	assert.Equal(t, "h2", got.Metadata[KeyContentHash])
	assert.NotContains(t, got.Metadata, "stale")

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_BulkInsertValidation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.BulkInsert(ctx, []Record{rec("v1", "a.md", "h", 1, 2, 3), rec("v2", "b.md", "h", 1, 2)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = store.BulkInsert(ctx, []Record{rec("", "a.md", "h", 1, 2, 3)})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a rejected batch writes nothing")

	assert.NoError(t, store.BulkInsert(ctx, nil))
}

func TestSQLiteStore_QueryByMetadata(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	other := rec("v4", "a.md", "h1", 1, 1, 1)
	other.Metadata[KeyBranch] = "dev"
	require.NoError(t, store.BulkInsert(ctx, []Record{
		rec("v3", "c.md", "h3", 0, 0, 1),
		rec("v1", "a.md", "h1", 1, 0, 0),
		rec("v2", "a.md", "h1", 0, 1, 0),
		other,
	}))

	main := map[string]string{KeySourceID: "acme/docs", KeyBranch: "main"}

	refs, err := store.QueryByMetadata(ctx, Filter{Must: main})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2", "v3"}, ids(refs))
	assert.Equal(t, "c.md", refs[2].Metadata[KeyPath])

	refs, err = store.QueryByMetadata(ctx, Filter{Must: main, Key: KeyPath, Any: []string{"a.md", "missing.md"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, ids(refs))

	refs, err = store.QueryByMetadata(ctx, Filter{Must: map[string]string{KeyBranch: "dev"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"v4"}, ids(refs))

	refs, err = store.QueryByMetadata(ctx, Filter{Must: main, Key: KeyPath})
	require.NoError(t, err)
	assert.Empty(t, refs, "empty Any matches nothing")
}

func TestSQLiteStore_DeleteByIDs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []Record{
		rec("v1", "a.md", "h", 1, 0, 0),
		rec("v2", "b.md", "h", 0, 1, 0),
	}))

	require.NoError(t, store.DeleteByIDs(ctx, []string{"v1", "does-not-exist"}))
	require.NoError(t, store.DeleteByIDs(ctx, []string{"v1"}), "deleting twice is not an error")
	require.NoError(t, store.DeleteByIDs(ctx, nil))

	refs, err := store.QueryByMetadata(ctx, Filter{Must: map[string]string{KeyBranch: "main"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, ids(refs))
}

func TestSQLiteStore_DeleteManyIDs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var recs []Record
	var all []string
	for i := 0; i < maxDeleteArgs+20; i++ {
		id := VectorID("docs", "acme/docs", "main", "a.md", i, "h")
		recs = append(recs, rec(id, "a.md", "h", 1, 0, 0))
		all = append(all, id)
	}
	require.NoError(t, store.BulkInsert(ctx, recs))
	require.NoError(t, store.DeleteByIDs(ctx, all))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenSQLite_CollectionMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	store, err := OpenSQLite(ctx, path, CollectionSpec{Name: "docs", Dimension: 3, Model: "a"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = OpenSQLite(ctx, path, CollectionSpec{Name: "docs", Dimension: 4, Model: "a"})
	assert.ErrorIs(t, err, ErrCollectionMismatch)

	_, err = OpenSQLite(ctx, path, CollectionSpec{Name: "docs", Dimension: 3, Model: "b"})
	assert.ErrorIs(t, err, ErrCollectionMismatch)

	again, err := OpenSQLite(ctx, path, CollectionSpec{Name: "docs", Dimension: 3, Model: "a"})
	require.NoError(t, err)
	require.NoError(t, again.Close())

	_, err = OpenSQLite(ctx, path, CollectionSpec{Name: "", Dimension: 3})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestSQLiteStore_CollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	a, err := OpenSQLite(ctx, path, CollectionSpec{Name: "a", Dimension: 3})
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Insert(ctx, rec("v1", "x.md", "h", 1, 0, 0)))

	b, err := OpenSQLite(ctx, path, CollectionSpec{Name: "b", Dimension: 3})
	require.NoError(t, err)
	defer b.Close()

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteCatalog(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	store, err := OpenSQLite(ctx, path, CollectionSpec{Name: "docs", Dimension: 3, Model: "m"})
	require.NoError(t, err)
	require.NoError(t, store.BulkInsert(ctx, []Record{rec("v1", "a.md", "h", 1, 0, 0), rec("v2", "b.md", "h", 0, 1, 0)}))
	require.NoError(t, store.Close())

	empty, err := OpenSQLite(ctx, path, CollectionSpec{Name: "alpha", Dimension: 8, Model: "m8"})
	require.NoError(t, err)
	require.NoError(t, empty.Close())

	cat, err := OpenSQLiteCatalog(ctx, path)
	require.NoError(t, err)
	defer cat.Close()

	infos, err := cat.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []CollectionInfo{
		{Name: "alpha", Dimension: 8, Model: "m8", Count: 0},
		{Name: "docs", Dimension: 3, Model: "m", Count: 2},
	}, infos)

	require.NoError(t, cat.DropCollection(ctx, "docs"))
	assert.ErrorIs(t, cat.DropCollection(ctx, "docs"), ErrCollectionNotFound)

	infos, err = cat.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "alpha", infos[0].Name)
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, ApplyMigrations(ctx, db))
	require.NoError(t, ApplyMigrations(ctx, db))

	v, err := currentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	require.NoError(t, RollbackMigration(ctx, db))
	v, err = currentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", v.String())
}

func TestApplyMigrations_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, ApplyMigrations(ctx, db))
	_, err = db.ExecContext(ctx, "INSERT INTO schema_version (version, applied_at) VALUES ('2.0.0', '2999-01-01 00:00:00')")
	require.NoError(t, err)

	assert.ErrorIs(t, ApplyMigrations(ctx, db), ErrSchemaTooNew)
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := deserializeVector(serializeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = deserializeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
