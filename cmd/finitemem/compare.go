package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dotsetgreg/finitemem/pkg/config"
	"github.com/dotsetgreg/finitemem/pkg/engine"
	"github.com/dotsetgreg/finitemem/pkg/provider"
)

var comparePolicies = []string{
	engine.PolicySliding,
	engine.PolicyImportance,
	engine.PolicySemantic,
	engine.PolicyRollingSummary,
	engine.PolicyHybrid,
}

var sampleTopics = []string{
	"The deploy pipeline failed at the integration stage on build 4312.",
	"We agreed to migrate the billing tables to the new schema in March.",
	"Customer feedback says the search latency regressed after release 2.9.",
	"The cache layer needs a larger eviction window for burst traffic.",
	"Security review flagged the token refresh path, fix due next sprint.",
	"Throughput peaked at 1840 requests per second during the load test.",
}

func loadTranscript(path string, turns int) ([]string, error) {
	if path == "" {
		if turns < 1 {
			turns = 1
		}
		out := make([]string, turns)
		for i := range out {
			out[i] = fmt.Sprintf("Turn %d. %s", i+1, sampleTopics[i%len(sampleTopics)])
		}
		return out, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("transcript %s has no messages", path)
	}
	return out, nil
}

// runComparison replays one transcript through each policy with a
// deterministic scripted provider, so differences in the table come
// from the policies alone.
func runComparison(ctx context.Context, cfg *config.Config, messages []string) error {
	fmt.Printf("%d turns, budget %d tokens\n\n", len(messages), cfg.Engine.MaxTokens)
	fmt.Printf("%-16s %9s %9s %10s %9s %10s %12s %10s\n",
		"POLICY", "RETAINED", "EVICTED", "SUMMARIES", "CLUSTERS", "FALLBACKS", "COMPRESSION", "LATENCY")

	for _, policy := range comparePolicies {
		engCfg := cfg.Engine
		engCfg.Policy = policy

		p := provider.NewScriptedCodec(
			"Noted. The build number and schema plan are logged.",
			"Understood, tracking the latency and cache follow-ups.",
		)
		eng, err := engine.New(p, engCfg)
		if err != nil {
			return fmt.Errorf("compare %s: %w", policy, err)
		}

		failed := 0
		for _, msg := range messages {
			if _, err := eng.Chat(ctx, msg, 64); err != nil {
				failed++
			}
		}

		s := eng.Stats()
		status := ""
		if failed > 0 {
			status = fmt.Sprintf("  ⚠ %d failed turns", failed)
		}
		fmt.Printf("%-16s %9d %9d %10d %9d %10d %12.3f %8.2fms%s\n",
			policy, s.TokensRetained, s.Evictions, s.SummariesCreated,
			s.ClustersMerged, s.FallbackCount, s.CompressionRatio, s.PolicyLatencyMS, status)
	}
	return nil
}
