// Package config loads the reposync YAML configuration and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/reposync/internal/embedder"
	"github.com/dshills/reposync/internal/indexer"
	"github.com/dshills/reposync/internal/mirror"
	"github.com/dshills/reposync/internal/retry"
	"github.com/dshills/reposync/internal/source"
	"github.com/dshills/reposync/internal/vectorstore"
	"github.com/dshills/reposync/pkg/types"
)

const (
	// Version is the configuration file format version
	Version = "1"
	// DefaultFile is the configuration file name looked up in the data directory
	DefaultFile = "reposync.yaml"
	// DefaultDataDir is the data directory used when none is configured
	DefaultDataDir = "~/.reposync"
	// DefaultCollection is the base name of the vector collection
	DefaultCollection = "docs"
)

// Environment variables applied after the file is loaded
const (
	EnvConfigPath    = "REPOSYNC_CONFIG"
	EnvDataDir       = "REPOSYNC_DATA_DIR"
	EnvLogLevel      = "REPOSYNC_LOG_LEVEL"
	EnvVectorBackend = "REPOSYNC_VECTOR_BACKEND"
	EnvQdrantHost    = "REPOSYNC_QDRANT_HOST"
	EnvQdrantPort    = "REPOSYNC_QDRANT_PORT"
	EnvQdrantAPIKey  = "REPOSYNC_QDRANT_API_KEY"
	EnvMetricsAddr   = "REPOSYNC_METRICS_ADDR"
	EnvEmbeddingDim  = "REPOSYNC_EMBEDDING_DIMENSION"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the reposync.yaml file
type Config struct {
	Version     string             `yaml:"version"`
	DataDir     string             `yaml:"data_dir"`   // Mirrors, state files and the SQLite database live here
	Collection  string             `yaml:"collection"` // Base name; the embedder identity is appended
	Log         LogConfig          `yaml:"log"`
	Mirror      MirrorConfig       `yaml:"mirror"`
	Source      SourceConfig       `yaml:"source"`
	Embedding   EmbeddingConfig    `yaml:"embedding"`
	Indexer     indexer.Config     `yaml:"indexer"`
	VectorStore vectorstore.Config `yaml:"vector_store"`
	Metrics     MetricsConfig      `yaml:"metrics"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MirrorConfig controls the content mirror
type MirrorConfig struct {
	BaseDir      string        `yaml:"base_dir,omitempty"` // default: <data_dir>/mirrors
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	FetchTTL     time.Duration `yaml:"fetch_ttl"` // reuse window of a cached fetch; 0 never expires
	Retry        retry.Policy  `yaml:"retry"`
}

// SourceConfig controls which files become documents
type SourceConfig struct {
	MaxFileSize int64         `yaml:"max_file_size"`
	Filters     types.Filters `yaml:"filters"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // openai, jina, local; empty detects from the environment
	Model     string        `yaml:"model,omitempty"`
	BaseURL   string        `yaml:"base_url,omitempty"`
	APIKey    string        `yaml:"api_key,omitempty"`
	Dimension int           `yaml:"dimension,omitempty"`
	CacheSize int           `yaml:"cache_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MetricsConfig enables the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // e.g. 127.0.0.1:9464; empty disables
}

// DefaultConfig returns a config with defaults for local use
func DefaultConfig() *Config {
	return &Config{
		Version:    Version,
		DataDir:    DefaultDataDir,
		Collection: DefaultCollection,
		Log:        LogConfig{Level: "info", Format: "text"},
		Mirror: MirrorConfig{
			FetchTimeout: mirror.DefaultFetchTimeout,
			FetchTTL:     mirror.DefaultFetchTTL,
			Retry:        retry.DefaultPolicy(),
		},
		Source: SourceConfig{MaxFileSize: source.DefaultMaxFileSize},
		Embedding: EmbeddingConfig{
			CacheSize: 10000,
			Timeout:   30 * time.Second,
		},
		Indexer:     indexer.DefaultConfig(),
		VectorStore: vectorstore.Config{Backend: vectorstore.BackendSQLite},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path falls back to $REPOSYNC_CONFIG, then to reposync.yaml in
// the data directory. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnv(os.Getenv)

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	explicit := path != ""
	if !explicit {
		dir, err := ExpandHome(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, DefaultFile)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the user or the data directory
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return cfg, cfg.Validate()
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Version != Version {
		return nil, fmt.Errorf("%w: version %q is not supported (expected %q)", ErrInvalidConfig, cfg.Version, Version)
	}
	cfg.applyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

// Save writes cfg as YAML, creating the parent directory
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides file values with non-empty environment variables
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(embedder.EnvProvider); v != "" {
		c.Embedding.Provider = v
	}
	if v := getenv(embedder.EnvModel); v != "" {
		c.Embedding.Model = v
	}
	if v := getenv(embedder.EnvBaseURL); v != "" {
		c.Embedding.BaseURL = v
	}
	if v, err := strconv.Atoi(getenv(EnvEmbeddingDim)); err == nil && v > 0 {
		c.Embedding.Dimension = v
	}
	if v := getenv(EnvVectorBackend); v != "" {
		c.VectorStore.Backend = v
	}
	if v := getenv(EnvQdrantHost); v != "" {
		c.VectorStore.Qdrant.Host = v
	}
	if v, err := strconv.Atoi(getenv(EnvQdrantPort)); err == nil && v > 0 {
		c.VectorStore.Qdrant.Port = v
	}
	if v := getenv(EnvQdrantAPIKey); v != "" {
		c.VectorStore.Qdrant.APIKey = v
	}
	if v := getenv(EnvMetricsAddr); v != "" {
		c.Metrics.Addr = v
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is empty", ErrInvalidConfig)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection is empty", ErrInvalidConfig)
	}
	switch c.VectorStore.Backend {
	case "", vectorstore.BackendSQLite:
	case vectorstore.BackendQdrant:
		if c.VectorStore.Qdrant.Host == "" {
			return fmt.Errorf("%w: qdrant backend needs vector_store.qdrant.host", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: vector backend %q", ErrInvalidConfig, c.VectorStore.Backend)
	}
	if c.Mirror.FetchTTL < 0 || c.Mirror.FetchTimeout < 0 {
		return fmt.Errorf("%w: mirror durations cannot be negative", ErrInvalidConfig)
	}
	if c.Mirror.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: mirror.retry.max_retries cannot be negative", ErrInvalidConfig)
	}
	if c.Indexer.BatchSize < 0 || c.Indexer.Workers < 0 {
		return fmt.Errorf("%w: indexer batch_size and workers cannot be negative", ErrInvalidConfig)
	}
	for _, p := range append(append([]string{}, c.Source.Filters.Include...), c.Source.Filters.Exclude...) {
		if !source.ValidGlob(p) {
			return fmt.Errorf("%w: glob %q", ErrInvalidConfig, p)
		}
	}
	return nil
}

// Paths are the resolved on-disk locations derived from DataDir
type Paths struct {
	DataDir   string
	MirrorDir string
	StateDir  string
	Ledger    string
	Metadata  string
	SQLite    string
}

// Resolve expands DataDir and derives every path
func (c *Config) Resolve() (Paths, error) {
	dir, err := ExpandHome(c.DataDir)
	if err != nil {
		return Paths{}, err
	}
	p := Paths{
		DataDir:   dir,
		MirrorDir: filepath.Join(dir, "mirrors"),
		StateDir:  filepath.Join(dir, "state"),
		SQLite:    filepath.Join(dir, "vectors.db"),
	}
	if c.Mirror.BaseDir != "" {
		if p.MirrorDir, err = ExpandHome(c.Mirror.BaseDir); err != nil {
			return Paths{}, err
		}
	}
	if c.VectorStore.SQLitePath != "" {
		if p.SQLite, err = ExpandHome(c.VectorStore.SQLitePath); err != nil {
			return Paths{}, err
		}
	}
	p.Ledger = filepath.Join(p.StateDir, "ledger.json")
	p.Metadata = filepath.Join(p.StateDir, "metadata.json")
	return p, nil
}

// ExpandHome replaces a leading "~" with the user's home directory
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// EmbedderConfig converts the embedding section for embedder.New
func (c *Config) EmbedderConfig() embedder.Config {
	policy := embedder.DefaultRetryPolicy()
	return embedder.Config{
		Provider:  c.Embedding.Provider,
		Model:     c.Embedding.Model,
		BaseURL:   c.Embedding.BaseURL,
		APIKey:    c.Embedding.APIKey,
		Dimension: c.Embedding.Dimension,
		CacheSize: c.Embedding.CacheSize,
		Timeout:   c.Embedding.Timeout,
		Retry:     &policy,
	}
}

// MirrorConfig converts the mirror section for mirror.New
func (c *Config) MirrorConfig(p Paths) mirror.Config {
	return mirror.Config{
		BaseDir:      p.MirrorDir,
		FetchTimeout: c.Mirror.FetchTimeout,
		Retry:        c.Mirror.Retry,
	}
}
