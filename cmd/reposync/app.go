package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/reposync/internal/config"
	"github.com/dshills/reposync/internal/embedder"
	"github.com/dshills/reposync/internal/ledger"
	"github.com/dshills/reposync/internal/logging"
	"github.com/dshills/reposync/internal/metadata"
	"github.com/dshills/reposync/internal/metrics"
	"github.com/dshills/reposync/internal/mirror"
	"github.com/dshills/reposync/internal/pipeline"
	"github.com/dshills/reposync/internal/vectorstore"
)

// app holds the long-lived components of one invocation
type app struct {
	cfg      *config.Config
	paths    config.Paths
	logger   *slog.Logger
	metrics  *metrics.Metrics
	mirror   *mirror.Mirror
	ledger   *ledger.Ledger
	meta     *metadata.Store
	embedder embedder.Embedder
	store    vectorstore.Store
	pipeline *pipeline.Pipeline
}

// loadConfig reads the configuration and builds the logger. The CLI logs
// warnings only unless -v is given; long-running commands pass
// useConfigLevel to honor log.level instead.
func loadConfig(globals GlobalFlags, useConfigLevel bool) (*config.Config, config.Paths, *slog.Logger, error) {
	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		return nil, config.Paths{}, nil, err
	}
	paths, err := cfg.Resolve()
	if err != nil {
		return nil, config.Paths{}, nil, err
	}
	cfg.VectorStore.SQLitePath = paths.SQLite

	level := logLevel(cfg.Log.Level, globals, useConfigLevel)
	logger := logging.New(level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	return cfg, paths, logger, nil
}

func logLevel(configured string, globals GlobalFlags, useConfigLevel bool) string {
	switch {
	case globals.Quiet:
		return "error"
	case globals.Verbose >= 2:
		return "debug"
	case globals.Verbose == 1:
		return "info"
	case useConfigLevel:
		return configured
	default:
		return "warn"
	}
}

// newApp wires every component. configure, when set, adjusts the loaded
// configuration before anything is built. The caller must call close.
func newApp(ctx context.Context, globals GlobalFlags, useConfigLevel bool, configure func(*config.Config), opts ...pipeline.Option) (*app, error) {
	cfg, paths, logger, err := loadConfig(globals, useConfigLevel)
	if err != nil {
		return nil, err
	}
	if configure != nil {
		configure(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	a := &app{cfg: cfg, paths: paths, logger: logger, metrics: metrics.New(nil)}

	if err := os.MkdirAll(paths.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	a.mirror = mirror.New(cfg.MirrorConfig(paths), logger, mirror.WithMetrics(a.metrics))

	if a.ledger, err = ledger.Open(paths.Ledger, logger); err != nil {
		return nil, err
	}
	if a.meta, err = metadata.Open(paths.Metadata, logger); err != nil {
		return nil, err
	}

	embCfg := cfg.EmbedderConfig()
	embCfg.Logger = logger
	if a.embedder, err = embedder.New(embCfg); err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	spec := collectionSpec(cfg, a.embedder)
	if a.store, err = vectorstore.Open(ctx, cfg.VectorStore, spec); err != nil {
		_ = a.close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	opts = append([]pipeline.Option{pipeline.WithLogger(logger), pipeline.WithMetrics(a.metrics)}, opts...)
	a.pipeline, err = pipeline.New(pipeline.Config{
		StateDir:    paths.StateDir,
		FetchTTL:    cfg.Mirror.FetchTTL,
		MaxFileSize: cfg.Source.MaxFileSize,
		Indexer:     cfg.Indexer,
	}, pipeline.Deps{
		Fetcher:  a.mirror,
		Ledger:   a.ledger,
		Metadata: a.meta,
		Store:    a.store,
		Embedder: a.embedder,
	}, opts...)
	if err != nil {
		_ = a.close()
		return nil, err
	}

	logger.Debug("app.ready",
		"collection", spec.Name,
		"embedder", spec.Model,
		"backend", cfg.VectorStore.Backend,
		"sqlite_driver", vectorstore.DriverName,
		"build_mode", vectorstore.BuildMode,
		"data_dir", paths.DataDir)
	return a, nil
}

// collectionSpec derives the versioned collection for the configured embedder
func collectionSpec(cfg *config.Config, emb embedder.Embedder) vectorstore.CollectionSpec {
	return vectorstore.CollectionSpec{
		Name:      vectorstore.CollectionName(cfg.Collection, emb.Provider(), emb.Model(), emb.Dimension()),
		Dimension: emb.Dimension(),
		Model:     embedder.Identity(emb),
	}
}

func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}

// startMetricsServer serves /metrics on addr until ctx is canceled.
// An empty addr disables it.
func startMetricsServer(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics.http.start", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics.http.error", "addr", addr, "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
