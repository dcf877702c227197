// Package provider defines the model-side interfaces consumed by the
// context engine. The engine never talks to a model directly; everything
// goes through a Provider so the core stays testable against local or
// mock implementations.
package provider

import "context"

// Provider is the generation/tokenization surface the engine requires.
type Provider interface {
	// Encode converts text to token IDs.
	Encode(text string) []int
	// Decode converts token IDs back to text.
	Decode(tokens []int) string
	// Generate produces up to maxNewTokens continuation tokens for the
	// given prompt. Only the newly generated tokens are returned.
	Generate(ctx context.Context, prompt []int, maxNewTokens int) ([]int, error)
	// ModelName identifies the backing model for checkpoints and logs.
	ModelName() string
}

// AttentionScorer is an optional capability: providers that can expose
// per-token attention mass implement it, and the importance policy uses
// it as the primary relevance signal.
type AttentionScorer interface {
	AttentionScores(ctx context.Context, tokens []int) ([]float64, error)
}

// LogprobScorer is an optional capability: the importance policy probes
// it when attention scores are unavailable, masking candidate spans and
// measuring the impact on the next-token top logprob.
type LogprobScorer interface {
	TopLogprob(ctx context.Context, tokens []int) (float64, error)
}
