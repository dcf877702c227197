package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/finitemem/pkg/provider"
)

func TestNewRejectsNilProvider(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = "psychic"
	if _, err := New(provider.NewWordCodec(), cfg); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestChatRoundTrip(t *testing.T) {
	codec := provider.NewScriptedCodec("The answer is 42.")
	cfg := DefaultConfig()
	cfg.MaxTokens = 100
	cfg.WindowSize = 30

	eng, err := New(codec, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	reply, err := eng.Chat(context.Background(), "What is the answer?", 32)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply == "" {
		t.Fatal("expected a reply")
	}

	history := eng.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %+v", history)
	}

	s := eng.Stats()
	if s.Turns != 1 {
		t.Fatalf("expected 1 turn, got %d", s.Turns)
	}
	if s.TokensSeen == 0 {
		t.Fatal("chat must feed tokens through the policy")
	}
}

func TestResetClearsSession(t *testing.T) {
	codec := provider.NewWordCodec()
	eng, err := New(codec, DefaultConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := eng.Chat(context.Background(), "hello there.", 16); err != nil {
		t.Fatalf("chat: %v", err)
	}

	eng.Reset()
	s := eng.Stats()
	if s.TokensSeen != 0 || s.TokensRetained != 0 || s.Turns != 0 {
		t.Fatalf("reset left residue: %+v", s)
	}
	if len(eng.History()) != 0 {
		t.Fatal("reset must clear history")
	}
}

// Full lifecycle across policy switch via checkpoint: build a session,
// snapshot it, mutate, restore, and verify the restored session picks
// up exactly where the snapshot was taken.
func TestSessionLifecycleWithCheckpoint(t *testing.T) {
	codec := provider.NewScriptedCodec("Noted, the plan is recorded.")
	cfg := DefaultConfig()
	cfg.MaxTokens = 120
	cfg.WindowSize = 40
	cfg.Policy = PolicyImportance

	eng, err := New(codec, cfg)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := eng.Chat(context.Background(), "We picked option 3 for the rollout in 2026.", 24)
		require.NoError(t, err)
	}

	snap := eng.Checkpoint()
	assert.Equal(t, CheckpointVersion, snap.Version)
	assert.Equal(t, eng.Stats().TokensRetained, len(snap.State.Tokens))
	assert.Len(t, snap.State.History, 12)

	_, err = eng.Chat(context.Background(), "extra turn after the snapshot.", 24)
	require.NoError(t, err)
	assert.NotEqual(t, len(snap.State.History), len(eng.History()))

	require.NoError(t, eng.RestoreCheckpoint(snap))
	assert.Equal(t, len(snap.State.Tokens), eng.Stats().TokensRetained)
	assert.Len(t, eng.History(), 12)

	// The restored session must keep working.
	_, err = eng.Chat(context.Background(), "continue from the restored state.", 24)
	require.NoError(t, err)
}

func TestBuildContextWithinBudget(t *testing.T) {
	codec := provider.NewWordCodec()
	cfg := DefaultConfig()
	cfg.MaxTokens = 30
	cfg.WindowSize = 10

	eng, err := New(codec, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	for i := 0; i < 10; i++ {
		msg := "Sentence one goes here. Sentence two follows it."
		if _, err := eng.Submit(context.Background(), codec.Encode(msg)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	built := eng.BuildContext(context.Background())
	if len(built) > cfg.MaxTokens {
		t.Fatalf("context %d exceeds budget %d", len(built), cfg.MaxTokens)
	}
	if eng.ContextText(context.Background()) == "" {
		t.Fatal("expected non-empty context text")
	}
}
