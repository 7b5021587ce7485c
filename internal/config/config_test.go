package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposync/internal/mirror"
	"github.com/dshills/reposync/internal/vectorstore"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		EnvConfigPath, EnvDataDir, EnvLogLevel, EnvVectorBackend, EnvQdrantHost, EnvQdrantPort,
		EnvQdrantAPIKey, EnvMetricsAddr, EnvEmbeddingDim,
		"REPOSYNC_EMBEDDING_PROVIDER", "REPOSYNC_EMBEDDING_MODEL", "REPOSYNC_EMBEDDING_BASE_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, vectorstore.BackendSQLite, cfg.VectorStore.Backend)
	assert.Equal(t, 3, cfg.Mirror.Retry.MaxRetries)
	assert.Equal(t, mirror.DefaultFetchTTL, cfg.Mirror.FetchTTL)
	assert.Equal(t, 20, cfg.Indexer.BatchSize)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, DefaultCollection, cfg.Collection)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "reposync.yaml")
	content := `version: "1"
data_dir: /var/lib/reposync
collection: handbook
log:
  level: debug
  format: json
mirror:
  fetch_timeout: 90s
  fetch_ttl: 15m
  retry:
    max_retries: 5
    base_delay: 1s
source:
  max_file_size: 2048
  filters:
    include: ["docs/**"]
    extensions: [".md"]
indexer:
  batch_size: 8
  workers: 4
vector_store:
  backend: qdrant
  qdrant:
    host: qdrant.internal
    port: 6334
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/reposync", cfg.DataDir)
	assert.Equal(t, "handbook", cfg.Collection)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 90*time.Second, cfg.Mirror.FetchTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Mirror.FetchTTL)
	assert.Equal(t, 5, cfg.Mirror.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Mirror.Retry.BaseDelay)
	assert.Equal(t, int64(2048), cfg.Source.MaxFileSize)
	assert.Equal(t, []string{"docs/**"}, cfg.Source.Filters.Include)
	assert.Equal(t, []string{".md"}, cfg.Source.Filters.Extensions)
	assert.Equal(t, 8, cfg.Indexer.BatchSize)
	assert.Equal(t, 4, cfg.Indexer.Workers)
	assert.Equal(t, 1, cfg.Indexer.GroupDepth, "unset fields keep their defaults")
	assert.Equal(t, vectorstore.BackendQdrant, cfg.VectorStore.Backend)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
}

func TestLoadRejectsVersion(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "reposync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"9\"\n"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "reposync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: [\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "reposync.yaml")
	require.NoError(t, Save(DefaultConfig(), path))

	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvVectorBackend, "qdrant")
	t.Setenv(EnvQdrantHost, "localhost")
	t.Setenv(EnvQdrantPort, "7000")
	t.Setenv(EnvEmbeddingDim, "256")
	t.Setenv("REPOSYNC_EMBEDDING_PROVIDER", "local")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, vectorstore.BackendQdrant, cfg.VectorStore.Backend)
	assert.Equal(t, "localhost", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, 7000, cfg.VectorStore.Qdrant.Port)
	assert.Equal(t, 256, cfg.Embedding.Dimension)
	assert.Equal(t, "local", cfg.Embedding.Provider)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "reposync.yaml")
	cfg := DefaultConfig()
	cfg.Mirror.FetchTTL = time.Hour
	cfg.Collection = "wiki"
	require.NoError(t, Save(cfg, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, got.Mirror.FetchTTL)
	assert.Equal(t, "wiki", got.Collection)
	assert.Equal(t, cfg.Indexer, got.Indexer)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"empty collection", func(c *Config) { c.Collection = "" }},
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "faiss" }},
		{"qdrant without host", func(c *Config) { c.VectorStore.Backend = vectorstore.BackendQdrant }},
		{"negative ttl", func(c *Config) { c.Mirror.FetchTTL = -time.Second }},
		{"negative retries", func(c *Config) { c.Mirror.Retry.MaxRetries = -1 }},
		{"negative workers", func(c *Config) { c.Indexer.Workers = -2 }},
		{"bad glob", func(c *Config) { c.Source.Filters.Exclude = []string{"[unclosed"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestResolvePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"

	p, err := cfg.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/data/mirrors", p.MirrorDir)
	assert.Equal(t, "/data/state/ledger.json", p.Ledger)
	assert.Equal(t, "/data/state/metadata.json", p.Metadata)
	assert.Equal(t, "/data/vectors.db", p.SQLite)

	cfg.Mirror.BaseDir = "/mnt/mirrors"
	cfg.VectorStore.SQLitePath = "/mnt/v.db"
	p, err = cfg.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/mirrors", p.MirrorDir)
	assert.Equal(t, "/mnt/v.db", p.SQLite)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/.reposync")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".reposync"), got)

	got, err = ExpandHome("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}
