package engine

// MemoryStats are the engine's diagnostics counters. All fields are
// monotone except TokensRetained (tracks current buffer size),
// PolicyLatencyMS (last invocation), and the two ratios. Callers always
// receive a value copy, never a live reference.
type MemoryStats struct {
	TokensSeen          int     `json:"tokens_seen"`
	TokensRetained      int     `json:"tokens_retained"`
	Evictions           int     `json:"evictions"`
	ImportanceEvictions int     `json:"importance_evictions"`
	SummariesCreated    int     `json:"summaries_created"`
	ClustersMerged      int     `json:"clusters_merged"`
	CompressionRatio    float64 `json:"compression_ratio"`
	SparsityRatio       float64 `json:"sparsity_ratio"`

	PolicyLatencyMS  float64 `json:"policy_latency_ms"`
	TotalPolicyCalls int     `json:"total_policy_calls"`
	FallbackCount    int     `json:"fallback_count"`
	AnchorCacheHits  int     `json:"anchor_cache_hits"`

	EmbeddingCacheHits   int64 `json:"embedding_cache_hits"`
	EmbeddingCacheMisses int64 `json:"embedding_cache_misses"`

	Turns int `json:"turns"`
}

func newMemoryStats() MemoryStats {
	return MemoryStats{CompressionRatio: 1.0, SparsityRatio: 1.0}
}
