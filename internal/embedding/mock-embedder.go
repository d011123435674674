package embedding

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/docrag/internal/vector"
)

const mockModel = "mock"

// MockEmbedder is a deterministic offline embedder. The same text always gets the
// same unit-length vector, derived from the text hash. Specific vectors can be pinned with Set.
type MockEmbedder struct {
	dimensions int
	calls      atomic.Int64

	mu     sync.RWMutex
	pinned map[string][]float32
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions, pinned: make(map[string][]float32)}
}

// Set pins the embedding returned for text.
func (e *MockEmbedder) Set(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pinned[text] = vec
}

// Calls returns how many Embed and EmbedBatch calls have been made.
func (e *MockEmbedder) Calls() int {
	return int(e.calls.Load())
}

// Embed returns a deterministic embedding based on the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text, apiKey string) (*Result, error) {
	if apiKey == "" {
		return nil, ErrAuthentication
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.calls.Add(1)
	tokens := estimateTokens(text)
	return &Result{Embedding: e.vector(text), Usage: Usage{PromptTokens: tokens, TotalTokens: tokens}}, nil
}

// EmbedBatch embeds texts in groups of MaxBatchSize, mirroring the provider's usage reporting.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string, apiKey string) ([]*Result, error) {
	if apiKey == "" {
		return nil, ErrAuthentication
	}
	e.calls.Add(1)
	results := make([]*Result, 0, len(texts))
	for batch, start := 0, 0; start < len(texts); batch, start = batch+1, start+MaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		group := texts[start:min(start+MaxBatchSize, len(texts))]
		tokens := estimateTokens(strings.Join(group, ""))
		for _, text := range group {
			results = append(results, &Result{
				Embedding: e.vector(text),
				Usage:     Usage{PromptTokens: tokens, TotalTokens: tokens},
				Batch:     batch,
			})
		}
	}
	return results, nil
}

// Model returns "mock".
func (e *MockEmbedder) Model() string {
	return mockModel
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

func (e *MockEmbedder) vector(text string) []float32 {
	e.mu.RLock()
	pinned, ok := e.pinned[text]
	e.mu.RUnlock()
	if ok {
		return cloneVector(pinned)
	}
	h := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	vector.Normalize(emb)
	return emb
}

func estimateTokens(text string) int {
	return len(text)/4 + 1
}

// HashString returns a non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
