// Package embedding turns text into dense vectors via an external provider.
package embedding

import "context"

// Usage is the token usage reported by the provider for one request.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Result is the embedding of one input text.
//
// Usage is the total for the provider request the text was sent in, so texts
// sharing a request report the same Usage. Batch identifies that request within
// an EmbedBatch call; sum Usage once per distinct Batch to avoid double counting.
type Result struct {
	Embedding []float32
	Usage     Usage
	Batch     int
}

// Embedder produces vector embeddings for text.
// Implementations fail with ErrAuthentication when apiKey is empty, before any network call.
type Embedder interface {
	Embed(ctx context.Context, text, apiKey string) (*Result, error)
	// EmbedBatch returns one result per text, in input order.
	EmbedBatch(ctx context.Context, texts []string, apiKey string) ([]*Result, error)
	Model() string
	Close() error
}

// TotalTokens sums usage across results, counting each batch once.
func TotalTokens(results []*Result) int {
	total := 0
	seen := make(map[int]struct{})
	for _, r := range results {
		if r == nil {
			continue
		}
		if _, ok := seen[r.Batch]; ok {
			continue
		}
		seen[r.Batch] = struct{}{}
		total += r.Usage.TotalTokens
	}
	return total
}
