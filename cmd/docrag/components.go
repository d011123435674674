package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/extract"
	"github.com/hyperjump/docrag/internal/indexer"
	"github.com/hyperjump/docrag/internal/rag"
	"github.com/hyperjump/docrag/internal/search"
	"github.com/hyperjump/docrag/internal/storage"
)

// mockAPIKey satisfies the key check of the offline mock provider.
const mockAPIKey = "mock"

// Components holds initialized services.
type Components struct {
	Storage   storage.Storage
	Embedder  embedding.Embedder
	Engine    *search.Engine
	Indexer   *indexer.Indexer
	Assembler *rag.Assembler
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := newEmbedder(&cfg.Embedding, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	overlap := indexer.DefaultChunkOverlap
	if cfg.Chunking.Overlap != nil {
		overlap = *cfg.Chunking.Overlap
	}
	engine := search.NewEngine(store, search.WithLogger(logger))
	return &Components{
		Storage:  store,
		Embedder: embedder,
		Engine:   engine,
		Indexer: indexer.NewIndexer(store, embedder, extract.NewExtractor(cfg.Watch.Extensions...),
			indexer.WithChunker(indexer.NewChunker(cfg.Chunking.MaxChunkSize, overlap)),
			indexer.WithLogger(logger)),
		Assembler: rag.NewAssembler(embedder, engine, rag.WithLogger(logger)),
	}, nil
}

// newEmbedder builds the configured provider client, wrapped in a query cache
// when cache_size is positive.
func newEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	var embedder embedding.Embedder
	switch cfg.Provider {
	case config.ProviderMock:
		embedder = embedding.NewMockEmbedder(cfg.Dimensions)
	case config.ProviderOpenAI, "":
		retries := 0
		if cfg.MaxRetries != nil {
			retries = *cfg.MaxRetries
		}
		embedder = embedding.NewOpenAIClient(embedding.OpenAIConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Timeout:           cfg.Timeout,
			BatchSize:         cfg.BatchSize,
			MaxRetries:        retries,
			RetryBaseDelay:    cfg.RetryBaseDelay,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, embedding.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if cfg.CacheSize <= 0 {
		return embedder, nil
	}
	cached, err := embedding.NewCachingEmbedder(embedder, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}
	return cached, nil
}

// resolveAPIKey picks the provider key: an explicit flag value, then the configured
// environment variable. The mock provider needs no real key.
func resolveAPIKey(flagValue string, cfg *config.EmbeddingConfig) string {
	if flagValue != "" {
		return flagValue
	}
	if key := cfg.APIKey(); key != "" {
		return key
	}
	if cfg.Provider == config.ProviderMock {
		return mockAPIKey
	}
	return ""
}
