package embedding

import (
	"context"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder memoizes single-text embeddings, which is what repeated
// search queries hit. Batch calls go straight to the wrapped service.
type CachedEmbedder struct {
	next  Service
	cache *lru.Cache[string, []float32]
}

var _ Service = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps next with an LRU of the given size.
func NewCachedEmbedder(next Service, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

// Embed returns a copy of the cached vector for text or computes and stores
// it. Failures are not cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return slices.Clone(v), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return slices.Clone(v), nil
}

// EmbedBatch delegates to the wrapped service.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedBatch(ctx, texts)
}

// Len reports how many query vectors are cached.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}
