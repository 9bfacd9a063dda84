package embed

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the embedding cache. At D=384 float32 a full
// cache holds roughly 25k vectors in ~40MB.
const DefaultCacheSize = 25_000

// Cached wraps an Embedder with an LRU cache keyed by the exact input
// text. Unchanged chunks re-embedded across force reindexes (and repeated
// query embeddings) hit the cache instead of the model.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with an LRU of the given capacity; capacity <= 0
// takes DefaultCacheSize.
func NewCached(inner Embedder, capacity int) *Cached {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](capacity)
	if err != nil {
		// lru.New only fails on a non-positive size, which the guard above
		// rules out; fall back to passthrough if that ever changes.
		return &Cached{inner: inner}
	}
	return &Cached{inner: inner, cache: cache}
}

var _ Embedder = (*Cached)(nil)

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.cache == nil {
		return c.inner.EmbedBatch(ctx, texts)
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vectors[j]
		c.cache.Add(texts[i], vectors[j])
	}
	return out, nil
}

func (c *Cached) Dimensions() int   { return c.inner.Dimensions() }
func (c *Cached) ModelName() string { return c.inner.ModelName() }
