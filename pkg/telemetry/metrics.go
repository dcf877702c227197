// Package telemetry collects per-turn engine metrics in a rolling
// window and exports aggregates as Prometheus text or JSONL dumps.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// WindowSize is how many recent turns the collector retains for
// percentile computation.
const WindowSize = 100

// TurnMetrics is one turn's measurements.
type TurnMetrics struct {
	Turn            int     `json:"turn"`
	Policy          string  `json:"policy"`
	PolicyLatencyMS float64 `json:"policy_latency_ms"`
	TokensSeen      int     `json:"tokens_seen"`
	TokensRetained  int     `json:"tokens_retained"`
	Evicted         int     `json:"evicted"`
	UsedFallback    bool    `json:"used_fallback"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
}

// Summary is the aggregate view over the rolling window.
type Summary struct {
	Turns          int     `json:"turns"`
	LatencyP50MS   float64 `json:"latency_p50_ms"`
	LatencyP95MS   float64 `json:"latency_p95_ms"`
	LatencyP99MS   float64 `json:"latency_p99_ms"`
	FallbackRate   float64 `json:"fallback_rate"`
	MeanRetained   float64 `json:"mean_retained"`
	TotalEvicted   int     `json:"total_evicted"`
	LastPolicy     string  `json:"last_policy"`
	LastHitRate    float64 `json:"last_cache_hit_rate"`
	TotalTurnsSeen int     `json:"total_turns_seen"`
}

// Collector accumulates TurnMetrics. Safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	window []TurnMetrics
	total  int
}

func NewCollector() *Collector {
	return &Collector{window: make([]TurnMetrics, 0, WindowSize)}
}

func (c *Collector) Record(m TurnMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	m.Turn = c.total
	c.window = append(c.window, m)
	if len(c.window) > WindowSize {
		c.window = c.window[len(c.window)-WindowSize:]
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{Turns: len(c.window), TotalTurnsSeen: c.total}
	if len(c.window) == 0 {
		return s
	}

	latencies := make([]float64, len(c.window))
	fallbacks := 0
	retainedSum := 0
	for i, m := range c.window {
		latencies[i] = m.PolicyLatencyMS
		if m.UsedFallback {
			fallbacks++
		}
		retainedSum += m.TokensRetained
		s.TotalEvicted += m.Evicted
	}
	sort.Float64s(latencies)

	s.LatencyP50MS = percentile(latencies, 0.50)
	s.LatencyP95MS = percentile(latencies, 0.95)
	s.LatencyP99MS = percentile(latencies, 0.99)
	s.FallbackRate = float64(fallbacks) / float64(len(c.window))
	s.MeanRetained = float64(retainedSum) / float64(len(c.window))

	last := c.window[len(c.window)-1]
	s.LastPolicy = last.Policy
	s.LastHitRate = last.CacheHitRate
	return s
}

// PrometheusText renders the window aggregates in the Prometheus text
// exposition format under the finitemem_ prefix.
func (c *Collector) PrometheusText() string {
	s := c.Summary()

	var b strings.Builder
	writeMetric := func(name, help string, value float64) {
		fmt.Fprintf(&b, "# HELP finitemem_%s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE finitemem_%s gauge\n", name)
		fmt.Fprintf(&b, "finitemem_%s %g\n", name, value)
	}

	writeMetric("turns_total", "Total turns recorded.", float64(s.TotalTurnsSeen))
	writeMetric("policy_latency_p50_ms", "Median policy latency over the rolling window.", s.LatencyP50MS)
	writeMetric("policy_latency_p95_ms", "95th percentile policy latency over the rolling window.", s.LatencyP95MS)
	writeMetric("policy_latency_p99_ms", "99th percentile policy latency over the rolling window.", s.LatencyP99MS)
	writeMetric("fallback_rate", "Fraction of windowed turns that used the fallback policy.", s.FallbackRate)
	writeMetric("tokens_retained_mean", "Mean retained buffer size over the rolling window.", s.MeanRetained)
	writeMetric("evicted_total", "Tokens evicted over the rolling window.", float64(s.TotalEvicted))
	writeMetric("embedding_cache_hit_rate", "Span embedding cache hit rate at the last turn.", s.LastHitRate)
	return b.String()
}

func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = c.window[:0]
	c.total = 0
}
