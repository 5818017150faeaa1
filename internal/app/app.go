// Package app wires the store, vector backend, embedder, search engine and
// syncer from configuration. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bull/docsearch-mcp/internal/config"
	"github.com/bull/docsearch-mcp/internal/embedding"
	"github.com/bull/docsearch-mcp/internal/markdown"
	"github.com/bull/docsearch-mcp/internal/metadata"
	"github.com/bull/docsearch-mcp/internal/search"
	"github.com/bull/docsearch-mcp/internal/source"
	"github.com/bull/docsearch-mcp/internal/storage"
	"github.com/bull/docsearch-mcp/internal/syncer"
	"github.com/bull/docsearch-mcp/internal/vectorindex"
)

type App struct {
	Config   *config.Config
	Store    *storage.Store
	Embedder *embedding.CachedEmbedder
	Index    vectorindex.Index
	Engine   *search.Engine
	Syncer   *syncer.Syncer
	Logger   *slog.Logger

	closers []func() error
}

// OpenStore opens the store of record, creating its directory if needed.
func OpenStore(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return storage.Open(ctx, cfg.Store.Path)
}

// New builds every component. Connecting to a remote vector backend is
// bounded by a five minute timeout.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	logger.Info("Store ready", "path", store.Path())

	client, err := embedding.NewClient(cfg.OpenAI.APIKey)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(client, embedding.Options{
		Model:     cfg.OpenAI.EmbeddingModel,
		BatchSize: cfg.OpenAI.BatchSize,
		Timeout:   cfg.OpenAI.Timeout,
	})
	a.Embedder, err = embedding.NewCachedEmbedder(embedder, cfg.OpenAI.QueryCacheSize)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	mirror, err := a.openIndex(connectCtx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Engine = search.NewEngine(store, a.Index, a.Embedder, search.Config{
		DefaultAlpha:         cfg.Search.DefaultAlpha,
		DefaultMinSimilarity: cfg.Search.DefaultMinSimilarity,
		MaxLimit:             cfg.Search.MaxLimit,
		CandidateFactor:      cfg.Search.CandidateFactor,
	}, logger)

	ghClient, err := source.NewGitHubClient(cfg.GitHub.Token)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	fetcher := &source.Router{
		GitHub: source.NewGitHubFetcher(ghClient, logger),
		Local:  source.NewLocalFetcher(),
	}

	opts := syncer.Options{
		Pattern: cfg.Sync.PathPattern,
		Timeout: cfg.Sync.Timeout,
		Mirror:  mirror,
		Logger:  logger,
	}
	if cfg.OpenAI.Enrich {
		opts.Enricher = metadata.NewGenerator(client.Client(), metadata.WithLogger(logger))
	}
	// Sync writes document embeddings uncached; only queries repeat.
	a.Syncer = syncer.New(store, fetcher, markdown.NewChunker(), embedder, opts)
	return a, nil
}

// openIndex selects the vector backend. Remote backends also mirror chunk
// writes so they stay in step with the store.
func (a *App) openIndex(ctx context.Context) (vectorindex.ChunkMirror, error) {
	cfg := a.Config.Vector
	switch cfg.Backend {
	case config.BackendQdrant:
		x, err := vectorindex.NewQdrantIndex(ctx, vectorindex.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			Collection: cfg.Collection,
			Dimension:  cfg.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open qdrant index: %w", err)
		}
		a.Index = x
		a.closers = append(a.closers, x.Close)
		a.Logger.Info("Vector backend ready", "backend", cfg.Backend, "host", cfg.QdrantHost, "collection", cfg.Collection)
		return x, nil
	case config.BackendPgvector:
		x, err := vectorindex.NewPgvectorIndex(ctx, cfg.PostgresURL, cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("failed to open pgvector index: %w", err)
		}
		a.Index = x
		a.closers = append(a.closers, x.Close)
		a.Logger.Info("Vector backend ready", "backend", cfg.Backend)
		return x, nil
	default:
		a.Index = vectorindex.NewSQLiteIndex(a.Store)
		a.Logger.Info("Vector backend ready", "backend", config.BackendSQLite)
		return nil, nil
	}
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
