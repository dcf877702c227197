package engine

import (
	"context"
	"fmt"

	"github.com/dotsetgreg/finitemem/pkg/knapsack"
	"github.com/dotsetgreg/finitemem/pkg/sparse"
)

type span struct {
	start int
	end   int
}

func extractSpans(n, size, stride int) []span {
	if n <= 0 || size <= 0 || stride <= 0 {
		return nil
	}
	var spans []span
	for start := 0; start < n; start += stride {
		end := start + size
		if end > n {
			end = n
		}
		spans = append(spans, span{start: start, end: end})
		if end == n {
			break
		}
	}
	return spans
}

// evictSemantic clusters overlapping token spans and keeps one
// representative per cluster plus everything recent. Too little
// material to cluster meaningfully degrades to sliding rather than
// producing noise clusters.
func (e *Engine) evictSemantic(ctx context.Context, in policyInput) (retention, error) {
	tokens, attn := in.combined()
	if len(tokens) <= e.cfg.MaxTokens {
		return evictSliding(in, e.cfg.MaxTokens), nil
	}

	spans := extractSpans(len(tokens), e.cfg.SpanSize, e.cfg.SpanStride)
	minSpans := 2 * e.cfg.SemanticClusters
	if minSpans < 2 {
		minSpans = 2
	}
	if len(spans) < minSpans {
		return evictSliding(in, e.cfg.MaxTokens), nil
	}

	texts := make([]string, len(spans))
	for i, sp := range spans {
		texts[i] = e.provider.Decode(tokens[sp.start:sp.end])
	}
	embs, err := e.spanCache.EncodeSpans(ctx, texts)
	if err != nil {
		return retention{}, fmt.Errorf("encode spans: %w", err)
	}

	// Spans overlapping the recent quarter of the budget are exempt
	// from clustering; the new turn always lives there.
	recencyStart := len(tokens) - e.cfg.MaxTokens/4
	chosen := make(map[int]struct{})
	candidates := make([]int, 0, len(spans))
	for i, sp := range spans {
		if sp.start >= recencyStart {
			chosen[i] = struct{}{}
		} else {
			candidates = append(candidates, i)
		}
	}

	if len(candidates) > 0 {
		candEmbs := make([][]float32, len(candidates))
		for i, c := range candidates {
			candEmbs[i] = embs[c]
		}
		reps := e.spanCache.Cluster().SelectRepresentatives(candEmbs, e.cfg.SemanticClusters, e.cfg.RecencyBias)
		repSpans := make([]int, 0, len(reps))
		for _, r := range reps {
			repSpans = append(repSpans, candidates[r])
		}
		if e.cfg.KnapsackRefine {
			repSpans = refineSpanBudget(spans, repSpans, e.cfg.MaxTokens-len(in.newTokens))
		}
		for _, r := range repSpans {
			chosen[r] = struct{}{}
		}
	}

	kept := make([]int, 0, len(tokens))
	seen := make(map[int]struct{}, len(tokens))
	for si := range chosen {
		for i := spans[si].start; i < spans[si].end; i++ {
			if _, ok := seen[i]; !ok {
				seen[i] = struct{}{}
				kept = append(kept, i)
			}
		}
	}
	sortInts(kept)

	mask := sparse.FromKeepSet(len(tokens), kept)
	mask.ApplyCausal()

	outTokens, outAttn := gatherIndices(tokens, attn, kept)
	if over := len(outTokens) - e.cfg.MaxTokens; over > 0 {
		outTokens = outTokens[over:]
		outAttn = outAttn[over:]
	}

	return retention{
		tokens:         outTokens,
		attn:           outAttn,
		evicted:        len(tokens) - len(outTokens),
		clustersMerged: len(spans) - len(chosen),
		summary:        in.summary,
		sinceSummary:   in.sinceSummary + len(in.newTokens),
		sparsity:       mask.Sparsity(),
	}, nil
}

// refineSpanBudget drops the least valuable representative spans when
// their combined token cost would blow the budget. Value is span
// length: longer spans carry more distinct content per slot.
func refineSpanBudget(spans []span, repSpans []int, budget int) []int {
	if budget <= 0 {
		return nil
	}
	items := make([]knapsack.Item, 0, len(repSpans))
	for _, r := range repSpans {
		items = append(items, knapsack.Item{
			ID:    r,
			Start: spans[r].start,
			End:   spans[r].end,
			Value: float64(spans[r].end - spans[r].start),
		})
	}
	return knapsack.ChooseGreedy(items, budget)
}
