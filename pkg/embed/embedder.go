// Package embed provides the span-embedding layer for the semantic and
// hybrid policies: an embedding-provider interface, a deterministic
// local embedder, a content-hashed LRU cache, and warm-started
// clustering over span vectors.
package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

// Provider produces fixed-dimension vectors for batches of texts.
// Providers carry no caching responsibility; caching belongs to SpanCache.
type Provider interface {
	ModelID() string
	Dimension() int
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

const chargramModelID = "finitemem-chargram-384-v1"

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// ChargramEmbedder is a deterministic, dependency-free embedding
// provider: character trigrams plus word tokens hashed into a fixed
// number of buckets, L2-normalized. Near-duplicate texts land close
// together, which is all the clustering layer needs.
type ChargramEmbedder struct {
	dims int
}

func NewChargramEmbedder(dims int) *ChargramEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &ChargramEmbedder{dims: dims}
}

func (e *ChargramEmbedder) ModelID() string { return chargramModelID }

func (e *ChargramEmbedder) Dimension() int { return e.dims }

func (e *ChargramEmbedder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *ChargramEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dims)
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return vec
	}
	window := "#" + normalized + "#"
	for i := 0; i+3 <= len(window); i++ {
		gram := window[i : i+3]
		h := fnv.New64a()
		_, _ = h.Write([]byte(gram))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		vec[idx] += 1
	}
	for _, token := range tokenPattern.FindAllString(normalized, -1) {
		h := fnv.New64a()
		_, _ = h.Write([]byte("tok:" + token))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		vec[idx] += 1.25
	}
	NormalizeVector(vec)
	return vec
}
