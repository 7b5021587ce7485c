package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backends
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
)

// Config selects and configures a backend
type Config struct {
	Backend    string       `yaml:"backend"`
	SQLitePath string       `yaml:"sqlite_path"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
}

// Open returns a Store bound to spec's collection on the configured backend
func Open(ctx context.Context, cfg Config, spec CollectionSpec) (Store, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		if err := ensureDir(cfg.SQLitePath); err != nil {
			return nil, err
		}
		return OpenSQLite(ctx, cfg.SQLitePath, spec)
	case BackendQdrant:
		return OpenQdrant(ctx, cfg.Qdrant, spec)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

// OpenCatalog returns the collection catalog of the configured backend
func OpenCatalog(ctx context.Context, cfg Config) (Catalog, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		if err := ensureDir(cfg.SQLitePath); err != nil {
			return nil, err
		}
		return OpenSQLiteCatalog(ctx, cfg.SQLitePath)
	case BackendQdrant:
		return OpenQdrantCatalog(cfg.Qdrant)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

func ensureDir(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("sqlite path not set")
	}
	if dbPath == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}
