package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested vector doesn't exist
var ErrNotFound = errors.New("not found")

// maxDeleteArgs bounds the IN list of a single delete statement
const maxDeleteArgs = 500

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db   *sql.DB
	spec CollectionSpec
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

func openMigrated(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (creating if needed) the database at dbPath and binds the
// store to spec's collection. An existing collection with a different
// dimension or model is refused with ErrCollectionMismatch.
func OpenSQLite(ctx context.Context, dbPath string, spec CollectionSpec) (*SQLiteStore, error) {
	if spec.Name == "" || spec.Dimension <= 0 {
		return nil, fmt.Errorf("%w: collection needs a name and positive dimension", ErrInvalidRecord)
	}
	db, err := openMigrated(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	if err := ensureCollection(ctx, db, spec); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, spec: spec}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func ensureCollection(ctx context.Context, q querier, spec CollectionSpec) error {
	var dim int
	var model string
	err := q.QueryRowContext(ctx, "SELECT dimension, model FROM collections WHERE name = ?", spec.Name).Scan(&dim, &model)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = q.ExecContext(ctx,
			"INSERT INTO collections (name, dimension, model, created_at) VALUES (?, ?, ?, ?)",
			spec.Name, spec.Dimension, spec.Model, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", spec.Name, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to read collection %s: %w", spec.Name, err)
	}

	if dim != spec.Dimension || (spec.Model != "" && model != spec.Model) {
		return fmt.Errorf("%w: %s holds %d-dim vectors from %q, requested %d-dim from %q",
			ErrCollectionMismatch, spec.Name, dim, model, spec.Dimension, spec.Model)
	}
	return nil
}

// Collection returns the bound collection
func (s *SQLiteStore) Collection() CollectionSpec { return s.spec }

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert stores or replaces one vector
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	return s.BulkInsert(ctx, []Record{rec})
}

// BulkInsert stores or replaces vectors in one transaction
func (s *SQLiteStore) BulkInsert(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		if err := validateRecord(rec, s.spec.Dimension); err != nil {
			return err
		}
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, rec := range recs {
		if err := s.upsertVectorWithQuerier(ctx, tx, rec, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit vectors: %w", err)
	}
	return nil
}

func (s *SQLiteStore) upsertVectorWithQuerier(ctx context.Context, q querier, rec Record, now time.Time) error {
	query := `
		INSERT INTO vectors (collection, id, vector, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			vector = excluded.vector,
			updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, s.spec.Name, rec.ID, serializeVector(rec.Vector), now); err != nil {
		return fmt.Errorf("failed to upsert vector %s: %w", rec.ID, err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM vector_metadata WHERE collection = ? AND id = ?", s.spec.Name, rec.ID); err != nil {
		return fmt.Errorf("failed to clear metadata of %s: %w", rec.ID, err)
	}

	keys := make([]string, 0, len(rec.Metadata))
	for k := range rec.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, err := q.ExecContext(ctx,
			"INSERT INTO vector_metadata (collection, id, key, value) VALUES (?, ?, ?, ?)",
			s.spec.Name, rec.ID, k, rec.Metadata[k])
		if err != nil {
			return fmt.Errorf("failed to insert metadata %s of %s: %w", k, rec.ID, err)
		}
	}
	return nil
}

// DeleteByIDs removes vectors and their metadata
func (s *SQLiteStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(ids); start += maxDeleteArgs {
		batch := ids[start:min(start+maxDeleteArgs, len(ids))]
		in, args := inClause(s.spec.Name, batch)
		if _, err := tx.ExecContext(ctx, "DELETE FROM vector_metadata WHERE collection = ? AND id IN "+in, args...); err != nil {
			return fmt.Errorf("failed to delete metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE collection = ? AND id IN "+in, args...); err != nil {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
	}
	return tx.Commit()
}

// inClause builds "(?, ?, ...)" and the argument list prefixed with first
func inClause(first string, values []string) (string, []interface{}) {
	args := make([]interface{}, 0, len(values)+1)
	args = append(args, first)
	for _, v := range values {
		args = append(args, v)
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ") + ")", args
}

// QueryByMetadata returns the refs matching filter, ordered by ID
func (s *SQLiteStore) QueryByMetadata(ctx context.Context, f Filter) ([]Ref, error) {
	if f.Key != "" && len(f.Any) == 0 {
		return nil, nil
	}

	query := `
		SELECT v.id, m.key, m.value
		FROM vectors v
		LEFT JOIN vector_metadata m ON m.collection = v.collection AND m.id = v.id
		WHERE v.collection = ?
	`
	args := []interface{}{s.spec.Name}

	const exists = ` AND EXISTS (SELECT 1 FROM vector_metadata f WHERE f.collection = v.collection AND f.id = v.id AND f.key = ? AND f.value `
	keys := make([]string, 0, len(f.Must))
	for k := range f.Must {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query += exists + "= ?)"
		args = append(args, k, f.Must[k])
	}
	if f.Key != "" {
		in, inArgs := inClause(f.Key, f.Any)
		query += exists + "IN " + in + ")"
		args = append(args, inArgs...)
	}
	query += " ORDER BY v.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []Ref
	for rows.Next() {
		var id string
		var key, value sql.NullString
		if err := rows.Scan(&id, &key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		if len(refs) == 0 || refs[len(refs)-1].ID != id {
			refs = append(refs, Ref{ID: id, Metadata: map[string]string{}})
		}
		if key.Valid {
			refs[len(refs)-1].Metadata[key.String] = value.String
		}
	}
	return refs, rows.Err()
}

// Count returns the number of vectors in the collection
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors WHERE collection = ?", s.spec.Name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

// Get loads one vector with its metadata
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT vector FROM vectors WHERE collection = ? AND id = ?", s.spec.Name, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vector %s: %w", id, err)
	}
	vec, err := deserializeVector(blob)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM vector_metadata WHERE collection = ? AND id = ?", s.spec.Name, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	rec := &Record{ID: id, Vector: vec, Metadata: map[string]string{}}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		rec.Metadata[k] = v
	}
	return rec, rows.Err()
}

// SQLiteCatalog implements Catalog for a SQLite database
type SQLiteCatalog struct {
	db *sql.DB
}

// OpenSQLiteCatalog opens the database at dbPath for collection management
func OpenSQLiteCatalog(ctx context.Context, dbPath string) (*SQLiteCatalog, error) {
	db, err := openMigrated(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return &SQLiteCatalog{db: db}, nil
}

// ListCollections returns every collection with its vector count
func (c *SQLiteCatalog) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	query := `
		SELECT c.name, c.dimension, c.model, COUNT(v.id)
		FROM collections c
		LEFT JOIN vectors v ON v.collection = c.name
		GROUP BY c.name, c.dimension, c.model
		ORDER BY c.name
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CollectionInfo
	for rows.Next() {
		var info CollectionInfo
		if err := rows.Scan(&info.Name, &info.Dimension, &info.Model, &info.Count); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DropCollection deletes a collection and all of its vectors
func (c *SQLiteCatalog) DropCollection(ctx context.Context, name string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM vector_metadata WHERE collection = ?", name); err != nil {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE collection = ?", name); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return tx.Commit()
}

// Close closes the database connection
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}
