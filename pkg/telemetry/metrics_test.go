package telemetry

import (
	"strings"
	"testing"
)

func TestCollectorRollingWindow(t *testing.T) {
	c := NewCollector()
	for i := 0; i < WindowSize+20; i++ {
		c.Record(TurnMetrics{PolicyLatencyMS: float64(i), TokensRetained: 10})
	}
	s := c.Summary()
	if s.Turns != WindowSize {
		t.Fatalf("window should cap at %d, got %d", WindowSize, s.Turns)
	}
	if s.TotalTurnsSeen != WindowSize+20 {
		t.Fatalf("total should keep counting, got %d", s.TotalTurnsSeen)
	}
	// The oldest 20 latencies fell out of the window.
	if s.LatencyP50MS < 20 {
		t.Fatalf("p50 should reflect only windowed turns, got %v", s.LatencyP50MS)
	}
}

func TestCollectorPercentilesOrdered(t *testing.T) {
	c := NewCollector()
	for i := 1; i <= 100; i++ {
		c.Record(TurnMetrics{PolicyLatencyMS: float64(i)})
	}
	s := c.Summary()
	if !(s.LatencyP50MS <= s.LatencyP95MS && s.LatencyP95MS <= s.LatencyP99MS) {
		t.Fatalf("percentiles out of order: %+v", s)
	}
	if s.LatencyP50MS < 45 || s.LatencyP50MS > 55 {
		t.Fatalf("implausible p50: %v", s.LatencyP50MS)
	}
}

func TestCollectorFallbackRate(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 10; i++ {
		c.Record(TurnMetrics{UsedFallback: i%2 == 0})
	}
	if got := c.Summary().FallbackRate; got != 0.5 {
		t.Fatalf("expected fallback rate 0.5, got %v", got)
	}
}

func TestEmptyCollectorSummary(t *testing.T) {
	s := NewCollector().Summary()
	if s.Turns != 0 || s.LatencyP50MS != 0 || s.FallbackRate != 0 {
		t.Fatalf("empty summary should be zero: %+v", s)
	}
}

func TestPrometheusTextFormat(t *testing.T) {
	c := NewCollector()
	c.Record(TurnMetrics{Policy: "semantic", PolicyLatencyMS: 2.5, TokensRetained: 40, Evicted: 3})

	text := c.PrometheusText()
	wanted := []string{
		"# HELP finitemem_turns_total",
		"# TYPE finitemem_turns_total gauge",
		"finitemem_turns_total 1",
		"finitemem_policy_latency_p50_ms 2.5",
		"finitemem_evicted_total 3",
	}
	for _, line := range wanted {
		if !strings.Contains(text, line) {
			t.Errorf("metrics output missing %q\n%s", line, text)
		}
	}
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector()
	c.Record(TurnMetrics{PolicyLatencyMS: 1})
	c.Reset()
	if s := c.Summary(); s.Turns != 0 || s.TotalTurnsSeen != 0 {
		t.Fatalf("reset left residue: %+v", s)
	}
}
