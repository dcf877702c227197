package engine

import (
	"encoding/binary"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
)

const anchorCacheSize = 100

// decodeFunc turns token IDs into text; the builder only ever decodes
// one token at a time while locating sentence boundaries.
type decodeFunc func(tokens []int) string

// ContextBuilder assembles the final bounded prompt: the mandatory
// recent window plus sentence-boundary anchors, tail-trimmed to the
// token budget so the result never starts or ends mid-sentence when
// truncation is required. Anchor computations are cached by a content
// hash of the token sequence.
type ContextBuilder struct {
	maxTokens  int
	windowSize int
	anchors    *lru.Cache[string, []int]
	cacheHits  int
}

func NewContextBuilder(maxTokens, windowSize int) *ContextBuilder {
	cache, _ := lru.New[string, []int](anchorCacheSize)
	return &ContextBuilder{
		maxTokens:  maxTokens,
		windowSize: windowSize,
		anchors:    cache,
	}
}

func hashTokens(tokens []int) string {
	buf := make([]byte, 8*len(tokens))
	for i, t := range tokens {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(int64(t)))
	}
	sum := blake3.Sum256(buf)
	return fmt.Sprintf("%x", sum[:16])
}

func isBoundary(text string) bool {
	return strings.ContainsAny(text, ".!?\n")
}

// boundaries returns the sentence anchor positions for the token
// sequence: position 0, every position immediately after a token whose
// decoded text carries a sentence terminator, and the final position.
func (cb *ContextBuilder) boundaries(decode decodeFunc, tokens []int) []int {
	key := hashTokens(tokens)
	if cached, ok := cb.anchors.Get(key); ok {
		cb.cacheHits++
		return cached
	}

	idx := []int{0}
	for i := 0; i < len(tokens)-1; i++ {
		if isBoundary(decode(tokens[i : i+1])) {
			idx = append(idx, i+1)
		}
	}
	if len(tokens) > 0 {
		idx = append(idx, len(tokens)-1)
	}

	result := dedupSorted(idx, len(tokens))
	cb.anchors.Add(key, result)
	return result
}

func dedupSorted(idx []int, limit int) []int {
	seen := make(map[int]struct{}, len(idx))
	out := make([]int, 0, len(idx))
	for _, i := range idx {
		if i < 0 || i >= limit {
			continue
		}
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sortInts(out)
	return out
}

// Build returns the final context and the number of anchor-cache hits
// this call produced. Sequences already within budget pass through
// unchanged.
func (cb *ContextBuilder) Build(decode decodeFunc, retained []int) ([]int, int) {
	hitsBefore := cb.cacheHits

	if len(retained) <= cb.maxTokens {
		out := make([]int, len(retained))
		copy(out, retained)
		return out, 0
	}

	anchors := cb.boundaries(decode, retained)

	keep := make(map[int]struct{}, cb.windowSize+len(anchors))
	start := len(retained) - cb.windowSize
	if start < 0 {
		start = 0
	}
	for i := start; i < len(retained); i++ {
		keep[i] = struct{}{}
	}
	for _, a := range anchors {
		keep[a] = struct{}{}
	}

	kept := make([]int, 0, len(keep))
	for i := range keep {
		kept = append(kept, i)
	}
	sortInts(kept)
	if len(kept) > cb.maxTokens {
		kept = kept[len(kept)-cb.maxTokens:]
	}

	out := make([]int, 0, len(kept))
	for _, i := range kept {
		out = append(out, retained[i])
	}
	return out, cb.cacheHits - hitsBefore
}

func (cb *ContextBuilder) Reset() {
	cb.anchors.Purge()
	cb.cacheHits = 0
}
