package engine

import (
	"context"

	"github.com/dotsetgreg/finitemem/pkg/provider"
)

const minRecencyBudget = 64

// evictImportance keeps the highest-scoring older tokens plus an
// untouchable recent window. Scoring degrades gracefully: model
// attention when the provider exposes it, logprob probing when only
// scoring is available, a recency heuristic otherwise.
func (e *Engine) evictImportance(ctx context.Context, in policyInput) (retention, error) {
	nNew := len(in.newTokens)
	if len(in.tokens)+nNew <= e.cfg.MaxTokens {
		return evictSliding(in, e.cfg.MaxTokens), nil
	}

	target := e.cfg.MaxTokens - nNew
	if target <= 0 {
		// The new turn alone overflows; nothing old survives.
		return evictSliding(in, e.cfg.MaxTokens), nil
	}

	scores := e.importanceScores(ctx, in.tokens)

	n := len(in.tokens)
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

	// Rank the older region by score, newer index winning ties so two
	// equally scored tokens resolve toward recency.
	older := make([]int, 0, recentStart)
	for i := 0; i < recentStart; i++ {
		older = append(older, i)
	}
	sortByScoreDesc(older, scores)
	if importanceBudget < len(older) {
		older = older[:importanceBudget]
	}

	kept := make([]int, 0, len(older)+n-recentStart)
	kept = append(kept, older...)
	for i := recentStart; i < n; i++ {
		kept = append(kept, i)
	}
	sortInts(kept)

	tokens, attn := gatherIndices(in.tokens, scores, kept)
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

func sortByScoreDesc(idx []int, scores []float64) {
	sortSlice(idx, func(a, b int) bool {
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		return a > b
	})
}

// importanceScores returns one score per token, highest available
// fidelity first.
func (e *Engine) importanceScores(ctx context.Context, tokens []int) []float64 {
	if len(tokens) == 0 {
		return nil
	}
	if scorer, ok := e.provider.(provider.AttentionScorer); ok {
		if s, err := scorer.AttentionScores(ctx, tokens); err == nil && len(s) == len(tokens) {
			return s
		}
	}
	if scorer, ok := e.provider.(provider.LogprobScorer); ok {
		if s, err := e.probeScores(ctx, scorer, tokens); err == nil {
			return s
		}
	}
	return recencyScores(len(tokens))
}

// probeScores estimates span importance by ablation: drop a span,
// re-score, and take the absolute shift in the model's top logprob as
// the span's weight. Every token in a probed span inherits its span's
// score; unprobed tokens score zero.
func (e *Engine) probeScores(ctx context.Context, scorer provider.LogprobScorer, tokens []int) ([]float64, error) {
	n := len(tokens)
	baseline, err := scorer.TopLogprob(ctx, tokens)
	if err != nil {
		return nil, err
	}

	probes := e.cfg.ProbeCount
	span := e.cfg.ProbeSpan
	if span > n {
		span = n
	}
	if probes > n/span && n/span > 0 {
		probes = n / span
	}
	if probes < 1 {
		probes = 1
	}

	scores := make([]float64, n)
	step := n / probes
	if step < span {
		step = span
	}
	for p := 0; p < probes; p++ {
		start := p * step
		end := start + span
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		ablated := make([]int, 0, n-(end-start))
		ablated = append(ablated, tokens[:start]...)
		ablated = append(ablated, tokens[end:]...)
		if len(ablated) == 0 {
			continue
		}
		probed, err := scorer.TopLogprob(ctx, ablated)
		if err != nil {
			return nil, err
		}
		delta := baseline - probed
		if delta < 0 {
			delta = -delta
		}
		for i := start; i < end; i++ {
			scores[i] = delta
		}
	}
	return scores, nil
}

// recencyScores is the zero-cost heuristic: newer tokens matter more,
// but even the oldest keeps a floor so it can beat a zero-scored span.
func recencyScores(n int) []float64 {
	scores := make([]float64, n)
	for i := range scores {
		if n == 1 {
			scores[i] = 1.0
			continue
		}
		scores[i] = 0.3 + 0.7*float64(i)/float64(n-1)
	}
	return scores
}
