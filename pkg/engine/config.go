package engine

import "fmt"

// Memory policy names accepted by Config.Policy.
const (
	PolicySliding        = "sliding"
	PolicyImportance     = "importance"
	PolicySemantic       = "semantic"
	PolicyRollingSummary = "rolling_summary"
	PolicyHybrid         = "hybrid"
)

func knownPolicy(name string) bool {
	switch name {
	case PolicySliding, PolicyImportance, PolicySemantic, PolicyRollingSummary, PolicyHybrid:
		return true
	}
	return false
}

// Config is the per-session engine configuration. Zero values take the
// documented defaults; out-of-range values fail construction with
// ErrInvalidConfig.
type Config struct {
	// MaxTokens is the hard capacity of the token buffer and the upper
	// bound of any built context.
	MaxTokens int `json:"max_tokens" env:"FINITEMEM_MAX_TOKENS"`

	// WindowSize is the recent window always preserved verbatim.
	WindowSize int `json:"window_size" env:"FINITEMEM_WINDOW_SIZE"`

	// Policy selects the eviction strategy.
	Policy string `json:"memory_policy" env:"FINITEMEM_POLICY"`

	// SemanticClusters is k for the semantic and hybrid policies.
	SemanticClusters int `json:"semantic_clusters" env:"FINITEMEM_SEMANTIC_CLUSTERS"`

	// SpanSize / SpanStride shape span extraction for embedding.
	SpanSize   int `json:"span_size" env:"FINITEMEM_SPAN_SIZE"`
	SpanStride int `json:"span_stride" env:"FINITEMEM_SPAN_STRIDE"`

	// SummaryInterval triggers the rolling-summary policy once that
	// many un-summarized tokens have accumulated.
	SummaryInterval int `json:"summary_interval" env:"FINITEMEM_SUMMARY_INTERVAL"`

	// MaxPolicyMS is the wall-clock budget for one policy invocation.
	// nil disables budgeting; 0 trips on every call.
	MaxPolicyMS *float64 `json:"max_policy_ms" env:"FINITEMEM_MAX_POLICY_MS"`

	// EmbeddingCacheSize bounds the span-embedding LRU.
	EmbeddingCacheSize int `json:"embedding_cache_size" env:"FINITEMEM_EMBEDDING_CACHE_SIZE"`

	// RecencyBias tilts semantic representative selection toward
	// recent spans.
	RecencyBias float64 `json:"recency_bias" env:"FINITEMEM_RECENCY_BIAS"`

	// ProbeCount / ProbeSpan tune the importance policy's logprob
	// probe fallback. Parameters, not constants: the accuracy/latency
	// tradeoff is workload-dependent.
	ProbeCount int `json:"probe_count" env:"FINITEMEM_PROBE_COUNT"`
	ProbeSpan  int `json:"probe_span" env:"FINITEMEM_PROBE_SPAN"`

	// KnapsackRefine enables budgeted refinement of semantic
	// representative selection.
	KnapsackRefine bool `json:"knapsack_refine" env:"FINITEMEM_KNAPSACK_REFINE"`

	// QAThreshold is the summary fact-verification gate threshold.
	QAThreshold float64 `json:"qa_threshold" env:"FINITEMEM_QA_THRESHOLD"`
}

// DefaultConfig mirrors the documented defaults for a small session.
func DefaultConfig() Config {
	return Config{
		MaxTokens:          512,
		WindowSize:         128,
		Policy:             PolicySliding,
		SemanticClusters:   4,
		SpanSize:           64,
		SpanStride:         32,
		SummaryInterval:    256,
		EmbeddingCacheSize: 1000,
		RecencyBias:        0.15,
		ProbeCount:         8,
		ProbeSpan:          32,
		KnapsackRefine:     true,
		QAThreshold:        0.8,
	}
}

// normalize validates hard constraints and reconciles soft ones
// (window clamped to capacity, stride clamped to span size).
func (c *Config) normalize() error {
	def := DefaultConfig()

	if c.MaxTokens == 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidConfig, c.MaxTokens)
	}
	if c.WindowSize == 0 {
		c.WindowSize = def.WindowSize
	}
	if c.WindowSize < 0 {
		return fmt.Errorf("%w: window_size must be positive, got %d", ErrInvalidConfig, c.WindowSize)
	}
	if c.WindowSize > c.MaxTokens {
		c.WindowSize = c.MaxTokens
	}

	if c.Policy == "" {
		c.Policy = def.Policy
	}
	if !knownPolicy(c.Policy) {
		return fmt.Errorf("%w: unknown memory policy %q", ErrInvalidConfig, c.Policy)
	}

	if c.SemanticClusters == 0 {
		c.SemanticClusters = def.SemanticClusters
	}
	if c.SemanticClusters < 0 {
		return fmt.Errorf("%w: semantic_clusters must be positive, got %d", ErrInvalidConfig, c.SemanticClusters)
	}
	if c.SpanSize == 0 {
		c.SpanSize = def.SpanSize
	}
	if c.SpanSize < 0 {
		return fmt.Errorf("%w: span_size must be positive, got %d", ErrInvalidConfig, c.SpanSize)
	}
	if c.SpanStride == 0 {
		c.SpanStride = def.SpanStride
	}
	if c.SpanStride < 0 {
		return fmt.Errorf("%w: span_stride must be positive, got %d", ErrInvalidConfig, c.SpanStride)
	}
	if c.SpanStride > c.SpanSize {
		c.SpanStride = c.SpanSize
	}

	if c.SummaryInterval == 0 {
		c.SummaryInterval = def.SummaryInterval
	}
	if c.SummaryInterval < 0 {
		return fmt.Errorf("%w: summary_interval must be positive, got %d", ErrInvalidConfig, c.SummaryInterval)
	}
	if c.MaxPolicyMS != nil && *c.MaxPolicyMS < 0 {
		return fmt.Errorf("%w: max_policy_ms must be non-negative, got %v", ErrInvalidConfig, *c.MaxPolicyMS)
	}

	if c.EmbeddingCacheSize == 0 {
		c.EmbeddingCacheSize = def.EmbeddingCacheSize
	}
	if c.EmbeddingCacheSize < 0 {
		return fmt.Errorf("%w: embedding_cache_size must be positive, got %d", ErrInvalidConfig, c.EmbeddingCacheSize)
	}
	if c.RecencyBias < 0 || c.RecencyBias > 1 {
		return fmt.Errorf("%w: recency_bias must be in [0,1], got %v", ErrInvalidConfig, c.RecencyBias)
	}
	if c.ProbeCount == 0 {
		c.ProbeCount = def.ProbeCount
	}
	if c.ProbeCount < 0 {
		return fmt.Errorf("%w: probe_count must be positive, got %d", ErrInvalidConfig, c.ProbeCount)
	}
	if c.ProbeSpan == 0 {
		c.ProbeSpan = def.ProbeSpan
	}
	if c.ProbeSpan < 0 {
		return fmt.Errorf("%w: probe_span must be positive, got %d", ErrInvalidConfig, c.ProbeSpan)
	}
	if c.QAThreshold == 0 {
		c.QAThreshold = def.QAThreshold
	}
	if c.QAThreshold < 0 || c.QAThreshold > 1 {
		return fmt.Errorf("%w: qa_threshold must be in (0,1], got %v", ErrInvalidConfig, c.QAThreshold)
	}

	return nil
}
