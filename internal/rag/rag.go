// Package rag assembles retrieved chunks into a bounded prompt context.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/models"
)

// Searcher ranks stored chunks against a query vector.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query []float32, topK int, minSimilarity float64) ([]models.SimilarityResult, error)
}

// Assembler embeds a query, searches the store and builds the context text.
type Assembler struct {
	embedder embedding.Embedder
	searcher Searcher
	logger   *zap.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets a logger for retrieval events.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler creates an Assembler.
func NewAssembler(embedder embedding.Embedder, searcher Searcher, opts ...Option) *Assembler {
	a := &Assembler{embedder: embedder, searcher: searcher, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RetrieveContext embeds query, runs similarity search and packs the ranked chunks
// into at most cfg.MaxContextLength characters. Packing stops at the first chunk that
// does not fit. Embedding and search errors are returned as-is; no fallback context is built.
func (a *Assembler) RetrieveContext(ctx context.Context, query, apiKey string, cfg models.RAGConfig) (*models.RAGContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	emb, err := a.embedder.Embed(ctx, query, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := a.searcher.SimilaritySearch(ctx, emb.Embedding, cfg.TopK, cfg.MinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	text, sources := assemble(results, cfg)
	a.logger.Debug("retrieved context",
		zap.Int("retrieved", len(results)),
		zap.Int("sources", len(sources)),
		zap.Int("context_chars", utf8.RuneCountInString(text)))
	return &models.RAGContext{
		RetrievedChunks: results,
		ContextText:     text,
		Sources:         sources,
	}, nil
}

func assemble(results []models.SimilarityResult, cfg models.RAGConfig) (string, []string) {
	var b strings.Builder
	used := 0
	sources := []string{}
	seen := make(map[string]struct{})
	for _, r := range results {
		part := renderChunk(r.Chunk, cfg.IncludeMetadata)
		n := utf8.RuneCountInString(part)
		if used+n > cfg.MaxContextLength {
			break
		}
		b.WriteString(part)
		used += n
		src := r.Chunk.Metadata.Source
		if _, ok := seen[src]; !ok {
			seen[src] = struct{}{}
			sources = append(sources, src)
		}
	}
	return strings.TrimSpace(b.String()), sources
}

func renderChunk(ch *models.DocumentChunk, includeMetadata bool) string {
	if includeMetadata {
		return "[Source: " + ch.Metadata.Source + "]\n" + ch.Content + "\n\n"
	}
	return ch.Content + "\n\n"
}

const promptTemplate = `Context information:
%s

Based on the above context, please answer the following question:
%s

If the context doesn't contain relevant information to answer the question, please say so and answer based on your general knowledge.`

// EnhancePromptWithContext wraps userMessage with the retrieved context. With no
// context text the message is returned unchanged.
func EnhancePromptWithContext(userMessage string, rc *models.RAGContext) string {
	if rc == nil || rc.ContextText == "" {
		return userMessage
	}
	return fmt.Sprintf(promptTemplate, rc.ContextText, userMessage)
}

// FormatContextSources returns the attribution suffix for an assistant reply,
// or "" when there are no sources.
func FormatContextSources(sources []string) string {
	if len(sources) == 0 {
		return ""
	}
	return "\n\n---\n**Sources:** " + strings.Join(sources, ", ")
}

// Response packages a retrieved context for callers, with the enhanced prompt and
// the attribution suffix already rendered.
func Response(query string, rc *models.RAGContext, elapsed time.Duration) *models.ContextResponse {
	return &models.ContextResponse{
		Query:             query,
		RAGContext:        rc,
		Prompt:            EnhancePromptWithContext(query, rc),
		SourcesAnnotation: FormatContextSources(rc.Sources),
		QueryTime:         elapsed.Milliseconds(),
	}
}
