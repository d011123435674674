package models

import (
	"errors"
	"fmt"
)

// Retrieval defaults.
const (
	DefaultTopK             = 5
	DefaultMinSimilarity    = 0.5
	DefaultMaxContextLength = 3000
	DefaultIncludeMetadata  = true
)

// ErrInvalidConfig is returned when a RAGConfig fails validation.
var ErrInvalidConfig = errors.New("invalid rag config")

// SimilarityResult is a chunk paired with its cosine similarity to a query.
type SimilarityResult struct {
	Chunk      *DocumentChunk `json:"chunk"`
	Similarity float64        `json:"similarity"`
}

// RAGConfig controls retrieval and context assembly for one query.
type RAGConfig struct {
	TopK             int     `json:"top_k"`
	MinSimilarity    float64 `json:"min_similarity"`
	MaxContextLength int     `json:"max_context_length"` // in characters
	IncludeMetadata  bool    `json:"include_metadata"`
}

// DefaultRAGConfig returns the default retrieval configuration.
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		TopK:             DefaultTopK,
		MinSimilarity:    DefaultMinSimilarity,
		MaxContextLength: DefaultMaxContextLength,
		IncludeMetadata:  DefaultIncludeMetadata,
	}
}

// Validate reports whether the configuration is usable.
func (c RAGConfig) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidConfig, c.TopK)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("%w: min_similarity must be in [0,1], got %g", ErrInvalidConfig, c.MinSimilarity)
	}
	if c.MaxContextLength <= 0 {
		return fmt.Errorf("%w: max_context_length must be positive, got %d", ErrInvalidConfig, c.MaxContextLength)
	}
	return nil
}

// RAGContext is the ephemeral result of a context retrieval.
type RAGContext struct {
	// RetrievedChunks is the full ranked list, before the context budget is applied.
	RetrievedChunks []SimilarityResult `json:"retrieved_chunks"`
	ContextText     string             `json:"context_text"`
	// Sources are the distinct sources of the chunks included in ContextText,
	// in order of first inclusion.
	Sources []string `json:"sources"`
}

// ContextRequest is a context retrieval request. Unset options fall back to a base config.
type ContextRequest struct {
	Query            string   `json:"query"`
	TopK             *int     `json:"top_k,omitempty"`
	MinSimilarity    *float64 `json:"min_similarity,omitempty"`
	MaxContextLength *int     `json:"max_context_length,omitempty"`
	IncludeMetadata  *bool    `json:"include_metadata,omitempty"`
}

// Validate ensures the request has a query.
func (r *ContextRequest) Validate() error {
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	return nil
}

// Config merges the options set on the request over base.
func (r *ContextRequest) Config(base RAGConfig) RAGConfig {
	cfg := base
	if r.TopK != nil {
		cfg.TopK = *r.TopK
	}
	if r.MinSimilarity != nil {
		cfg.MinSimilarity = *r.MinSimilarity
	}
	if r.MaxContextLength != nil {
		cfg.MaxContextLength = *r.MaxContextLength
	}
	if r.IncludeMetadata != nil {
		cfg.IncludeMetadata = *r.IncludeMetadata
	}
	return cfg
}

// ContextResponse is the result of a context retrieval as returned to callers.
type ContextResponse struct {
	Query string `json:"query"`
	*RAGContext
	// Prompt is the query wrapped with the retrieved context, or the query
	// unchanged when no context was assembled.
	Prompt string `json:"prompt"`
	// SourcesAnnotation is the attribution suffix for the assistant reply.
	SourcesAnnotation string `json:"sources_annotation,omitempty"`
	QueryTime         int64  `json:"query_time_ms"`
}
