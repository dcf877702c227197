// Package engine implements a finite-memory conversation buffer for
// token-based language model sessions: a hard token budget, pluggable
// eviction policies, a latency guard with deterministic fallback, and
// sentence-aware context assembly.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dotsetgreg/finitemem/pkg/embed"
	"github.com/dotsetgreg/finitemem/pkg/logger"
	"github.com/dotsetgreg/finitemem/pkg/provider"
	"github.com/dotsetgreg/finitemem/pkg/qagate"
)

// Turn is one conversational exchange entry kept for history and
// checkpointing.
type Turn struct {
	Role        string `json:"role"`
	Text        string `json:"text"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// Engine is the finite-memory controller for one session. All exported
// methods are safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	provider provider.Provider

	buf          *TokenBuffer
	attn         []float64
	summary      []int
	sinceSummary int
	history      []Turn
	lastRetained []int

	spanCache *embed.SpanCache
	gate      *qagate.Gate
	builder   *ContextBuilder

	stats MemoryStats
	now   func() time.Time
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithEmbeddingProvider replaces the default char-gram embedder used
// for span clustering.
func WithEmbeddingProvider(p embed.Provider) Option {
	return func(e *Engine) {
		if p != nil {
			cache, err := embed.NewSpanCache(p, e.cfg.EmbeddingCacheSize)
			if err == nil {
				e.spanCache = cache
			}
		}
	}
}

// WithClock overrides the wall clock, used by the latency guard and
// turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(p provider.Provider, cfg Config, opts ...Option) (*Engine, error) {
	if p == nil {
		return nil, fmt.Errorf("new engine: nil provider")
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}

	cache, err := embed.NewSpanCache(embed.NewChargramEmbedder(0), cfg.EmbeddingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		provider:  p,
		buf:       NewTokenBuffer(cfg.MaxTokens),
		spanCache: cache,
		gate:      qagate.New(cfg.QAThreshold, false),
		builder:   NewContextBuilder(cfg.MaxTokens, cfg.WindowSize),
		stats:     newMemoryStats(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	logger.DebugCF("engine", "session created", map[string]interface{}{
		"policy":     cfg.Policy,
		"max_tokens": cfg.MaxTokens,
	})
	return e, nil
}

// Config returns a copy of the normalized session configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Submit feeds new tokens through the configured policy and commits
// the result. The sliding policy runs unguarded: it is itself the
// fallback and its cost is strictly bounded.
func (e *Engine) Submit(ctx context.Context, tokens []int) (RetentionDecision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitLocked(ctx, tokens)
}

func (e *Engine) submitLocked(ctx context.Context, tokens []int) (RetentionDecision, error) {
	before := e.buf.Len()
	in := policyInput{
		tokens:       e.buf.Snapshot(),
		attn:         append([]float64(nil), e.attn...),
		newTokens:    append([]int(nil), tokens...),
		summary:      append([]int(nil), e.summary...),
		sinceSummary: e.sinceSummary,
	}

	op := func() (retention, error) { return e.runPolicy(ctx, in) }
	fallback := func() (retention, error) { return evictSliding(in, e.cfg.MaxTokens), nil }

	var out guardOutcome
	guarded := e.cfg.MaxPolicyMS != nil && e.cfg.Policy != PolicySliding
	if guarded {
		out = guardedCall(op, *e.cfg.MaxPolicyMS, fallback, e.now)
	} else {
		start := e.now()
		res, err := runRecovered(op)
		out = guardOutcome{
			res:       res,
			elapsedMS: float64(e.now().Sub(start)) / float64(time.Millisecond),
			err:       err,
		}
		if err != nil && e.cfg.Policy != PolicySliding {
			// Unguarded non-sliding policies still degrade to sliding
			// on hard failure rather than dropping the turn.
			if fbRes, fbErr := fallback(); fbErr == nil {
				out.res = fbRes
				out.usedFallback = true
				out.err = nil
			}
		}
	}

	decision := RetentionDecision{
		Policy:         e.cfg.Policy,
		TokensBefore:   before,
		UsedFallback:   out.usedFallback,
		BudgetExceeded: out.budgetExceeded,
		ElapsedMS:      out.elapsedMS,
	}

	e.stats.TotalPolicyCalls++
	e.stats.PolicyLatencyMS = out.elapsedMS
	e.stats.TokensSeen += len(tokens)
	if out.usedFallback {
		e.stats.FallbackCount++
	}

	if out.err != nil {
		// Nothing usable: keep the prior retained state untouched.
		decision.TokensAfter = before
		logger.WarnCF("engine", "policy and fallback both failed", map[string]interface{}{
			"policy": e.cfg.Policy,
			"error":  out.err.Error(),
		})
		return decision, fmt.Errorf("submit: %w", out.err)
	}

	e.commit(out.res)
	decision.TokensAfter = e.buf.Len()
	decision.Evicted = out.res.evicted
	return decision, nil
}

func (e *Engine) commit(r retention) {
	e.buf.Replace(r.tokens)
	e.attn = r.attn
	e.summary = r.summary
	e.sinceSummary = r.sinceSummary
	e.lastRetained = e.buf.Snapshot()

	e.stats.TokensRetained = e.buf.Len()
	e.stats.Evictions += r.evicted
	e.stats.ImportanceEvictions += r.importanceEvicted
	e.stats.SummariesCreated += r.summariesCreated
	e.stats.ClustersMerged += r.clustersMerged
	if r.sparsity > 0 {
		e.stats.SparsityRatio = r.sparsity
	}
	if e.stats.TokensSeen > 0 {
		retained := e.stats.TokensRetained
		if retained < 1 {
			retained = 1
		}
		e.stats.CompressionRatio = float64(e.stats.TokensSeen) / float64(retained)
	}
}

// BuildContext assembles the bounded prompt from the retained buffer.
func (e *Engine) BuildContext(ctx context.Context) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildContextLocked()
}

func (e *Engine) buildContextLocked() []int {
	out, hits := e.builder.Build(e.provider.Decode, e.buf.Snapshot())
	e.stats.AnchorCacheHits += hits
	return out
}

// EncodeText tokenizes text with the session's provider.
func (e *Engine) EncodeText(text string) []int {
	return e.provider.Encode(text)
}

// ContextText returns the decoded current context.
func (e *Engine) ContextText(ctx context.Context) string {
	return e.provider.Decode(e.BuildContext(ctx))
}

// Chat runs one full turn: encode the user message, submit it through
// the policy, build the context, generate a reply, and submit the
// reply tokens too so the model's own words age through the same
// memory.
func (e *Engine) Chat(ctx context.Context, message string, maxNewTokens int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	userTokens := e.provider.Encode(message)
	if _, err := e.submitLocked(ctx, userTokens); err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	e.history = append(e.history, Turn{Role: "user", Text: message, TimestampMS: e.now().UnixMilli()})

	prompt := e.buildContextLocked()
	replyTokens, err := e.provider.Generate(ctx, prompt, maxNewTokens)
	if err != nil {
		return "", fmt.Errorf("chat: generate: %w", err)
	}

	if _, err := e.submitLocked(ctx, replyTokens); err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	reply := e.provider.Decode(replyTokens)
	e.history = append(e.history, Turn{Role: "assistant", Text: reply, TimestampMS: e.now().UnixMilli()})
	e.stats.Turns++
	return reply, nil
}

// Stats returns a snapshot of the diagnostics counters, folding in the
// span-embedding cache counters at read time.
func (e *Engine) Stats() MemoryStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statsLocked()
}

func (e *Engine) statsLocked() MemoryStats {
	s := e.stats
	cs := e.spanCache.Stats()
	s.EmbeddingCacheHits = cs.Hits
	s.EmbeddingCacheMisses = cs.Misses
	s.TokensRetained = e.buf.Len()
	return s
}

// History returns a copy of the conversation transcript.
func (e *Engine) History() []Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Turn, len(e.history))
	copy(out, e.history)
	return out
}

// Retained returns a copy of the current retained token buffer.
func (e *Engine) Retained() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Snapshot()
}

// Reset clears all session state but keeps the configuration.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf.Reset()
	e.attn = nil
	e.summary = nil
	e.sinceSummary = 0
	e.history = nil
	e.lastRetained = nil
	e.stats = newMemoryStats()
	e.spanCache.Purge()
	e.builder.Reset()
	logger.DebugC("engine", "session reset")
}
