package engine

import (
	"context"
	"fmt"
	"sort"
)

// retention is a policy's proposed next state: the full retained token
// sequence, its aligned attention scores, and the counter deltas the
// commit should apply. Policies are pure over a snapshot; the engine
// commits exactly one retention per submit, which is what lets the
// latency guard discard a slow result without unwinding partial state.
type retention struct {
	tokens            []int
	attn              []float64
	evicted           int
	importanceEvicted int
	summariesCreated  int
	clustersMerged    int
	summary           []int
	sinceSummary      int
	sparsity          float64
}

// RetentionDecision reports what a single Submit did to the buffer.
type RetentionDecision struct {
	Policy         string  `json:"policy"`
	TokensBefore   int     `json:"tokens_before"`
	TokensAfter    int     `json:"tokens_after"`
	Evicted        int     `json:"evicted"`
	UsedFallback   bool    `json:"used_fallback"`
	BudgetExceeded bool    `json:"budget_exceeded"`
	ElapsedMS      float64 `json:"elapsed_ms"`
}

// policyInput is the immutable snapshot a policy works from.
type policyInput struct {
	tokens       []int
	attn         []float64
	newTokens    []int
	summary      []int
	sinceSummary int
}

func (in policyInput) combined() ([]int, []float64) {
	tokens := make([]int, 0, len(in.tokens)+len(in.newTokens))
	tokens = append(tokens, in.tokens...)
	tokens = append(tokens, in.newTokens...)

	attn := make([]float64, 0, len(tokens))
	attn = append(attn, in.attn...)
	for len(attn) < len(tokens) {
		attn = append(attn, 0)
	}
	return tokens, attn
}

func (e *Engine) runPolicy(ctx context.Context, in policyInput) (retention, error) {
	switch e.cfg.Policy {
	case PolicySliding:
		return evictSliding(in, e.cfg.MaxTokens), nil
	case PolicyImportance:
		return e.evictImportance(ctx, in)
	case PolicySemantic:
		return e.evictSemantic(ctx, in)
	case PolicyRollingSummary:
		return e.evictRollingSummary(ctx, in)
	case PolicyHybrid:
		return e.evictHybrid(ctx, in)
	}
	return retention{}, fmt.Errorf("run policy: %w: %q", ErrInvalidConfig, e.cfg.Policy)
}

// evictSliding drops the oldest tokens until the buffer fits. It is
// also the universal fallback: no provider calls, no allocation beyond
// the result, strictly bounded work.
func evictSliding(in policyInput, maxTokens int) retention {
	tokens, attn := in.combined()
	evicted := 0
	if over := len(tokens) - maxTokens; over > 0 {
		tokens = tokens[over:]
		attn = attn[over:]
		evicted = over
	}
	return retention{
		tokens:       tokens,
		attn:         attn,
		evicted:      evicted,
		summary:      in.summary,
		sinceSummary: in.sinceSummary + len(in.newTokens),
	}
}

func sortInts(v []int) { sort.Ints(v) }

func sortSlice(v []int, less func(a, b int) bool) {
	sort.Slice(v, func(i, j int) bool { return less(v[i], v[j]) })
}

// gatherIndices materializes the retained subsequence for a kept-index
// set, preserving arrival order.
func gatherIndices(tokens []int, attn []float64, kept []int) ([]int, []float64) {
	outT := make([]int, 0, len(kept))
	outA := make([]float64, 0, len(kept))
	for _, i := range kept {
		outT = append(outT, tokens[i])
		outA = append(outA, attn[i])
	}
	return outT, outA
}
