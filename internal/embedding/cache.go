package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingEmbedder memoizes single-text embeddings, such as repeated queries, in an LRU cache.
// Batch calls pass through uncached.
type CachingEmbedder struct {
	Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachingEmbedder wraps next with an LRU cache holding up to size vectors.
func NewCachingEmbedder(next Embedder, size int) (*CachingEmbedder, error) {
	if size <= 0 {
		return nil, fmt.Errorf("embedding cache size must be greater than zero, got %d", size)
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	return &CachingEmbedder{Embedder: next, cache: cache}, nil
}

// Embed returns a cached vector when present. Cache hits report zero usage.
func (c *CachingEmbedder) Embed(ctx context.Context, text, apiKey string) (*Result, error) {
	if apiKey == "" {
		return nil, ErrAuthentication
	}
	key := cacheKey(c.Model(), apiKey, text)
	if vec, ok := c.cache.Get(key); ok {
		return &Result{Embedding: cloneVector(vec)}, nil
	}
	res, err := c.Embedder.Embed(ctx, text, apiKey)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneVector(res.Embedding))
	return res, nil
}

// Len returns the number of cached vectors.
func (c *CachingEmbedder) Len() int {
	return c.cache.Len()
}

// cacheKey scopes entries to the credential that produced them, so a hit is
// only served to a caller presenting the same key.
func cacheKey(model, apiKey, text string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return model + "\x00" + hex.EncodeToString(sum[:]) + "\x00" + text
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
