package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dotsetgreg/finitemem/pkg/provider"
)

func seqTokens(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}

func TestSlidingKeepsNewestTokens(t *testing.T) {
	in := policyInput{
		tokens:    seqTokens(0, 8),
		attn:      make([]float64, 8),
		newTokens: seqTokens(8, 4),
	}
	r := evictSliding(in, 10)
	if len(r.tokens) != 10 {
		t.Fatalf("expected 10 retained, got %d", len(r.tokens))
	}
	if r.evicted != 2 {
		t.Fatalf("expected 2 evicted, got %d", r.evicted)
	}
	if r.tokens[0] != 2 || r.tokens[9] != 11 {
		t.Fatalf("expected oldest dropped, got %v", r.tokens)
	}
	if len(r.attn) != len(r.tokens) {
		t.Fatalf("attention misaligned: %d scores for %d tokens", len(r.attn), len(r.tokens))
	}
}

func TestSlidingNoEvictionUnderCapacity(t *testing.T) {
	in := policyInput{tokens: seqTokens(0, 3), newTokens: seqTokens(3, 2)}
	r := evictSliding(in, 10)
	if r.evicted != 0 || len(r.tokens) != 5 {
		t.Fatalf("under capacity should not evict: %+v", r)
	}
}

// Conservation: for every policy, retained tokens plus evictions
// account for everything seen, and the buffer never exceeds capacity.
func TestEveryPolicyRespectsCapacity(t *testing.T) {
	for _, policy := range []string{PolicySliding, PolicyImportance, PolicySemantic, PolicyRollingSummary, PolicyHybrid} {
		t.Run(policy, func(t *testing.T) {
			codec := provider.NewWordCodec()
			cfg := DefaultConfig()
			cfg.MaxTokens = 50
			cfg.WindowSize = 20
			cfg.Policy = policy
			cfg.SummaryInterval = 30
			cfg.SpanSize = 8
			cfg.SpanStride = 4

			eng, err := New(codec, cfg)
			if err != nil {
				t.Fatalf("new engine: %v", err)
			}

			for i := 0; i < 40; i++ {
				msg := "The next build number is 4000. It shipped on schedule and the tests passed."
				dec, err := eng.Submit(context.Background(), codec.Encode(msg))
				if err != nil {
					t.Fatalf("submit %d: %v", i, err)
				}
				if dec.TokensAfter > cfg.MaxTokens {
					t.Fatalf("turn %d: retained %d exceeds capacity %d", i, dec.TokensAfter, cfg.MaxTokens)
				}
			}

			s := eng.Stats()
			if s.TokensRetained > cfg.MaxTokens {
				t.Fatalf("final retained %d exceeds capacity %d", s.TokensRetained, cfg.MaxTokens)
			}
			// Once eviction starts, seen outpaces retained, so the
			// ratio sits at or above 1.
			if s.TokensSeen == 0 || s.CompressionRatio < 1 {
				t.Fatalf("implausible stats: %+v", s)
			}
		})
	}
}

func TestSlidingEndToEndEvictionCount(t *testing.T) {
	codec := provider.NewWordCodec()
	cfg := DefaultConfig()
	cfg.MaxTokens = 50
	cfg.WindowSize = 10
	cfg.Policy = PolicySliding

	eng, err := New(codec, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	for i := 0; i < 80; i++ {
		if _, err := eng.Submit(context.Background(), []int{i}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	s := eng.Stats()
	if s.TokensSeen != 80 {
		t.Fatalf("expected 80 seen, got %d", s.TokensSeen)
	}
	if s.TokensRetained != 50 {
		t.Fatalf("expected 50 retained, got %d", s.TokensRetained)
	}
	if s.Evictions != 30 {
		t.Fatalf("expected 30 evictions, got %d", s.Evictions)
	}
	if s.CompressionRatio != 1.6 {
		t.Fatalf("expected compression ratio 80/50 = 1.6, got %v", s.CompressionRatio)
	}
}

// With a zero budget the guard trips on every call, so any policy's
// retained set must equal what plain sliding would produce.
func TestZeroBudgetFallbackMatchesSliding(t *testing.T) {
	for _, policy := range []string{PolicyImportance, PolicySemantic, PolicyRollingSummary, PolicyHybrid} {
		t.Run(policy, func(t *testing.T) {
			zero := 0.0
			cfg := DefaultConfig()
			cfg.MaxTokens = 40
			cfg.WindowSize = 10
			cfg.SummaryInterval = 20
			cfg.SpanSize = 8
			cfg.SpanStride = 4
			cfg.MaxPolicyMS = &zero

			cfgSliding := cfg
			cfgSliding.MaxPolicyMS = nil
			cfgSliding.Policy = PolicySliding
			cfg.Policy = policy

			fixed := time.Unix(100, 0)
			clock := func() time.Time { return fixed }

			guarded, err := New(provider.NewWordCodec(), cfg, WithClock(clock))
			if err != nil {
				t.Fatalf("new guarded engine: %v", err)
			}
			plain, err := New(provider.NewWordCodec(), cfgSliding, WithClock(clock))
			if err != nil {
				t.Fatalf("new sliding engine: %v", err)
			}

			for i := 0; i < 30; i++ {
				turn := seqTokens(i*7, 7)
				decG, err := guarded.Submit(context.Background(), turn)
				if err != nil {
					t.Fatalf("guarded submit %d: %v", i, err)
				}
				if !decG.UsedFallback {
					t.Fatalf("turn %d: zero budget must force fallback", i)
				}
				if _, err := plain.Submit(context.Background(), turn); err != nil {
					t.Fatalf("plain submit %d: %v", i, err)
				}
			}

			got := guarded.Retained()
			want := plain.Retained()
			if len(got) != len(want) {
				t.Fatalf("retained sets differ in size: %d vs %d", len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("retained sets differ at %d: %d vs %d", i, got[i], want[i])
				}
			}
		})
	}
}

func TestImportanceKeepsRecentRegion(t *testing.T) {
	codec := provider.NewWordCodec()
	cfg := DefaultConfig()
	cfg.MaxTokens = 100
	cfg.WindowSize = 20
	cfg.Policy = PolicyImportance

	eng, err := New(codec, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	var lastTurn []int
	for i := 0; i < 20; i++ {
		lastTurn = seqTokens(i*30, 30)
		if _, err := eng.Submit(context.Background(), lastTurn); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	retained := eng.Retained()
	tail := retained[len(retained)-len(lastTurn):]
	for i := range lastTurn {
		if tail[i] != lastTurn[i] {
			t.Fatalf("latest turn must survive verbatim: want %v, got %v", lastTurn, tail)
		}
	}
	if eng.Stats().ImportanceEvictions == 0 {
		t.Fatal("expected importance evictions after overflow")
	}
}

func TestRollingSummaryCreatesSummaries(t *testing.T) {
	codec := provider.NewWordCodec()
	cfg := DefaultConfig()
	cfg.MaxTokens = 60
	cfg.WindowSize = 20
	cfg.Policy = PolicyRollingSummary
	cfg.SummaryInterval = 25

	eng, err := New(codec, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	for i := 0; i < 20; i++ {
		msg := "We shipped release 2. The rollout finished without incident and users are happy."
		if _, err := eng.Submit(context.Background(), codec.Encode(msg)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	s := eng.Stats()
	if s.SummariesCreated == 0 {
		t.Fatal("expected at least one summary")
	}
	if s.TokensRetained > cfg.MaxTokens {
		t.Fatalf("retained %d exceeds capacity %d", s.TokensRetained, cfg.MaxTokens)
	}
}

func TestSemanticFallsBackWithFewSpans(t *testing.T) {
	in := policyInput{
		tokens:    seqTokens(0, 30),
		attn:      make([]float64, 30),
		newTokens: seqTokens(30, 10),
	}
	cfg := DefaultConfig()
	cfg.MaxTokens = 32
	cfg.SpanSize = 64
	cfg.SpanStride = 32
	eng, err := New(provider.NewWordCodec(), cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	r, err := eng.evictSemantic(context.Background(), in)
	if err != nil {
		t.Fatalf("evictSemantic: %v", err)
	}
	want := evictSliding(in, cfg.MaxTokens)
	if len(r.tokens) != len(want.tokens) {
		t.Fatalf("few spans should degrade to sliding: %d vs %d tokens", len(r.tokens), len(want.tokens))
	}
	for i := range want.tokens {
		if r.tokens[i] != want.tokens[i] {
			t.Fatalf("mismatch at %d: %v vs %v", i, r.tokens, want.tokens)
		}
	}
}

func TestSemanticTracksClusterStats(t *testing.T) {
	codec := provider.NewWordCodec()
	cfg := DefaultConfig()
	cfg.MaxTokens = 64
	cfg.WindowSize = 16
	cfg.Policy = PolicySemantic
	cfg.SemanticClusters = 3
	cfg.SpanSize = 8
	cfg.SpanStride = 4

	eng, err := New(codec, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	topics := []string{
		"database migration plan for the billing tables and indexes.",
		"frontend redesign of the dashboard layout and navigation.",
		"kubernetes cluster upgrade and node pool rotation steps.",
	}
	for i := 0; i < 30; i++ {
		if _, err := eng.Submit(context.Background(), codec.Encode(topics[i%len(topics)])); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	s := eng.Stats()
	if s.ClustersMerged == 0 {
		t.Fatal("expected merged clusters after repeated topics")
	}
	if s.SparsityRatio <= 0 || s.SparsityRatio > 1 {
		t.Fatalf("implausible sparsity ratio %v", s.SparsityRatio)
	}
	if s.EmbeddingCacheHits+s.EmbeddingCacheMisses == 0 {
		t.Fatal("semantic policy should exercise the span embedding cache")
	}
}

func TestRecencyScoresShape(t *testing.T) {
	s := recencyScores(5)
	if s[0] != 0.3 {
		t.Fatalf("oldest score should be 0.3, got %v", s[0])
	}
	if s[4] != 1.0 {
		t.Fatalf("newest score should be 1.0, got %v", s[4])
	}
	for i := 1; i < len(s); i++ {
		if s[i] <= s[i-1] {
			t.Fatalf("scores must increase: %v", s)
		}
	}
	if one := recencyScores(1); one[0] != 1.0 {
		t.Fatalf("single token scores 1.0, got %v", one[0])
	}
}
