package embed

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
)

const (
	// DefaultCacheSize bounds the span-embedding LRU.
	DefaultCacheSize = 1000

	// encodeBatchSize bounds how many cache misses are sent to the
	// provider per call.
	encodeBatchSize = 32
)

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// SpanCache caches span embeddings keyed by a content hash of the span
// text, so identical text hits regardless of buffer position. Misses
// are batched into bounded provider calls. One SpanCache owns one
// ClusterState; sharing a cache across sessions is the caller's choice
// and requires external synchronization.
type SpanCache struct {
	provider Provider
	cache    *lru.Cache[string, []float32]
	cluster  *ClusterState
	maxSize  int
	hits     int64
	misses   int64
}

func NewSpanCache(provider Provider, size int) (*SpanCache, error) {
	if provider == nil {
		return nil, fmt.Errorf("new span cache: nil embedding provider")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("new span cache: %w", err)
	}
	return &SpanCache{
		provider: provider,
		cache:    cache,
		cluster:  NewClusterState(),
		maxSize:  size,
	}, nil
}

func hashText(text string) string {
	sum := blake3.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum[:16])
}

// EncodeSpans returns one embedding per input text, in input order.
// Cached spans are served from the LRU; the remaining texts go to the
// provider in batches of at most encodeBatchSize.
func (c *SpanCache) EncodeSpans(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	missIdx := make([]int, 0, len(texts))

	for i, text := range texts {
		keys[i] = hashText(text)
		if vec, ok := c.cache.Get(keys[i]); ok {
			c.hits++
			out[i] = vec
			continue
		}
		c.misses++
		missIdx = append(missIdx, i)
	}

	for start := 0; start < len(missIdx); start += encodeBatchSize {
		end := start + encodeBatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := make([]string, 0, end-start)
		for _, i := range missIdx[start:end] {
			batch = append(batch, texts[i])
		}
		vecs, err := c.provider.EncodeBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("encode spans: %w", err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("encode spans: provider returned %d vectors for %d texts", len(vecs), len(batch))
		}
		for j, i := range missIdx[start:end] {
			out[i] = vecs[j]
			c.cache.Add(keys[i], vecs[j])
		}
	}

	return out, nil
}

// Cluster exposes the cache-owned warm-start clustering state.
func (c *SpanCache) Cluster() *ClusterState { return c.cluster }

func (c *SpanCache) Stats() CacheStats {
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Size:    c.cache.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}

// RestoreCounters seeds the cumulative hit/miss counters, used when
// resuming a checkpointed session. The cached vectors themselves are
// not restored; the session rebuilds them on demand.
func (c *SpanCache) RestoreCounters(hits, misses int64) {
	if hits < 0 {
		hits = 0
	}
	if misses < 0 {
		misses = 0
	}
	c.hits = hits
	c.misses = misses
}

func (c *SpanCache) Purge() {
	c.cache.Purge()
	c.hits = 0
	c.misses = 0
	c.cluster.Reset()
}
