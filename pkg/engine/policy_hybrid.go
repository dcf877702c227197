package engine

import "context"

const (
	hybridImportanceWeight = 0.6
	hybridUniquenessWeight = 0.4
)

// evictHybrid blends token importance with cluster uniqueness: a token
// scores high when the model attends to it and when its span sits in a
// small (rare) cluster. Selection then follows the importance policy's
// keep procedure over the blended scores.
func (e *Engine) evictHybrid(ctx context.Context, in policyInput) (retention, error) {
	nNew := len(in.newTokens)
	if len(in.tokens)+nNew <= e.cfg.MaxTokens {
		return evictSliding(in, e.cfg.MaxTokens), nil
	}
	target := e.cfg.MaxTokens - nNew
	if target <= 0 {
		return evictSliding(in, e.cfg.MaxTokens), nil
	}

	imp := normalizeScores(e.importanceScores(ctx, in.tokens))
	uniq, err := e.uniquenessScores(ctx, in.tokens)
	if err != nil {
		return retention{}, err
	}

	n := len(in.tokens)
	blended := make([]float64, n)
	for i := 0; i < n; i++ {
		blended[i] = hybridImportanceWeight*imp[i] + hybridUniquenessWeight*uniq[i]
	}

	recencyBudget := target / 4
	if recencyBudget < minRecencyBudget {
		recencyBudget = minRecencyBudget
	}
	if recencyBudget > target {
		recencyBudget = target
	}
	importanceBudget := target - recencyBudget

	recentStart := n - recencyBudget
	if recentStart < 0 {
		recentStart = 0
	}
	older := make([]int, 0, recentStart)
	for i := 0; i < recentStart; i++ {
		older = append(older, i)
	}
	sortByScoreDesc(older, blended)
	if importanceBudget < len(older) {
		older = older[:importanceBudget]
	}

	kept := make([]int, 0, len(older)+n-recentStart)
	kept = append(kept, older...)
	for i := recentStart; i < n; i++ {
		kept = append(kept, i)
	}
	sortInts(kept)

	tokens, attn := gatherIndices(in.tokens, blended, kept)
	tokens = append(tokens, in.newTokens...)
	for len(attn) < len(tokens) {
		attn = append(attn, 0)
	}

	evicted := n + nNew - len(tokens)
	return retention{
		tokens:            tokens,
		attn:              attn,
		evicted:           evicted,
		importanceEvicted: evicted,
		summary:           in.summary,
		sinceSummary:      in.sinceSummary + nNew,
	}, nil
}

// uniquenessScores assigns each token the inverse size of its span's
// cluster, normalized to [0,1]. Too few spans to cluster yields a flat
// neutral score so the importance term decides alone.
func (e *Engine) uniquenessScores(ctx context.Context, tokens []int) ([]float64, error) {
	n := len(tokens)
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 0.5
	}

	spans := extractSpans(n, e.cfg.SpanSize, e.cfg.SpanStride)
	if len(spans) < 2 || e.cfg.SemanticClusters < 1 {
		return scores, nil
	}

	texts := make([]string, len(spans))
	for i, sp := range spans {
		texts[i] = e.provider.Decode(tokens[sp.start:sp.end])
	}
	embs, err := e.spanCache.EncodeSpans(ctx, texts)
	if err != nil {
		return nil, err
	}

	k := e.cfg.SemanticClusters
	if k > len(spans) {
		k = len(spans)
	}
	labels := e.spanCache.Cluster().Fit(embs, k)

	sizes := make(map[int]int, k)
	for _, l := range labels {
		sizes[l]++
	}
	maxInv := 0.0
	inv := make([]float64, len(spans))
	for i, l := range labels {
		inv[i] = 1.0 / float64(sizes[l])
		if inv[i] > maxInv {
			maxInv = inv[i]
		}
	}
	if maxInv == 0 {
		return scores, nil
	}

	// Later spans overwrite earlier ones where strides overlap, so a
	// token takes the uniqueness of the freshest span covering it.
	for si, sp := range spans {
		u := inv[si] / maxInv
		for i := sp.start; i < sp.end; i++ {
			scores[i] = u
		}
	}
	return scores, nil
}

func normalizeScores(scores []float64) []float64 {
	out := make([]float64, len(scores))
	maxV := 0.0
	for _, s := range scores {
		if s > maxV {
			maxV = s
		}
	}
	if maxV == 0 {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, s := range scores {
		out[i] = s / maxV
	}
	return out
}
