// Package search provides brute-force similarity search over stored chunk embeddings.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/vector"
)

// ChunkScanner supplies every stored chunk for a search.
type ChunkScanner interface {
	ScanAllChunks(ctx context.Context) ([]*models.DocumentChunk, error)
}

// Engine ranks stored chunks by cosine similarity to a query vector.
// Every search is a full scan; there is no index to maintain.
type Engine struct {
	store  ChunkScanner
	logger *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for search timing.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine over store.
func NewEngine(store ChunkScanner, opts ...EngineOption) *Engine {
	e := &Engine{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SimilaritySearch returns at most topK chunks whose similarity to query is at least
// minSimilarity, most similar first. Ties keep scan order. A stored embedding whose
// dimensionality differs from the query fails the search with *vector.DimensionMismatchError.
func (e *Engine) SimilaritySearch(ctx context.Context, query []float32, topK int, minSimilarity float64) ([]models.SimilarityResult, error) {
	start := time.Now()
	chunks, err := e.store.ScanAllChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunks: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := make([]vector.Candidate, len(chunks))
	for i, ch := range chunks {
		candidates[i] = vector.Candidate{ID: ch.ID, Vector: ch.Embedding}
	}
	scored, err := vector.Rank(query, candidates, topK, minSimilarity)
	if err != nil {
		return nil, err
	}

	results := make([]models.SimilarityResult, len(scored))
	for i, s := range scored {
		results[i] = models.SimilarityResult{Chunk: chunks[s.Index], Similarity: s.Score}
	}
	e.logger.Debug("similarity search",
		zap.Int("scanned", len(chunks)),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}
