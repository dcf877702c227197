package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/dotsetgreg/finitemem/pkg/logger"
)

// CheckpointVersion is the schema version written by this build.
const CheckpointVersion = 1

const zstExtension = ".zst"

// CheckpointState is the restorable session state: everything Submit
// and Chat mutate, nothing derivable from it.
type CheckpointState struct {
	Tokens             []int       `json:"tokens"`
	AttentionScores    []float64   `json:"attention_scores"`
	SummaryTokens      []int       `json:"summary_tokens"`
	TokensSinceSummary int         `json:"tokens_since_summary"`
	History            []Turn      `json:"history"`
	Centroids          [][]float32 `json:"centroids,omitempty"`
}

// Checkpoint is the full serialized session.
type Checkpoint struct {
	Version  int               `json:"version"`
	Config   Config            `json:"config"`
	State    CheckpointState   `json:"state"`
	Stats    MemoryStats       `json:"stats"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Checkpoint captures the current session as a value.
func (e *Engine) Checkpoint() Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Checkpoint{
		Version: CheckpointVersion,
		Config:  e.cfg,
		State: CheckpointState{
			Tokens:             e.buf.Snapshot(),
			AttentionScores:    append([]float64(nil), e.attn...),
			SummaryTokens:      append([]int(nil), e.summary...),
			TokensSinceSummary: e.sinceSummary,
			History:            append([]Turn(nil), e.history...),
			Centroids:          e.spanCache.Cluster().Centroids(),
		},
		Stats: e.statsLocked(),
	}
}

// RestoreCheckpoint replaces the session with the checkpointed one.
// Validation happens before any mutation, so a bad checkpoint leaves
// the session untouched.
func (e *Engine) RestoreCheckpoint(c Checkpoint) error {
	if c.Version != CheckpointVersion {
		return fmt.Errorf("restore checkpoint: %w: got version %d, want %d", ErrCheckpointVersion, c.Version, CheckpointVersion)
	}
	cfg := c.Config
	if err := cfg.normalize(); err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}
	if len(c.State.Tokens) > cfg.MaxTokens {
		return fmt.Errorf("restore checkpoint: %w: %d tokens exceed capacity %d", ErrCheckpointCorrupt, len(c.State.Tokens), cfg.MaxTokens)
	}
	if len(c.State.AttentionScores) != 0 && len(c.State.AttentionScores) != len(c.State.Tokens) {
		return fmt.Errorf("restore checkpoint: %w: %d attention scores for %d tokens", ErrCheckpointCorrupt, len(c.State.AttentionScores), len(c.State.Tokens))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.buf = NewTokenBuffer(cfg.MaxTokens)
	e.buf.Replace(c.State.Tokens)
	e.attn = append([]float64(nil), c.State.AttentionScores...)
	if len(e.attn) == 0 && len(c.State.Tokens) > 0 {
		e.attn = make([]float64, len(c.State.Tokens))
	}
	e.summary = append([]int(nil), c.State.SummaryTokens...)
	e.sinceSummary = c.State.TokensSinceSummary
	e.history = append([]Turn(nil), c.State.History...)
	e.lastRetained = e.buf.Snapshot()
	e.stats = c.Stats
	e.builder = NewContextBuilder(cfg.MaxTokens, cfg.WindowSize)
	// Stats() reads the hit/miss counters from the span cache, so the
	// checkpointed values must live there, not in e.stats.
	e.spanCache.RestoreCounters(c.Stats.EmbeddingCacheHits, c.Stats.EmbeddingCacheMisses)
	if len(c.State.Centroids) > 0 {
		e.spanCache.Cluster().Restore(c.State.Centroids)
	}

	logger.InfoCF("engine", "checkpoint restored", map[string]interface{}{
		"tokens": e.buf.Len(),
		"turns":  len(e.history),
	})
	return nil
}

// EncodeCheckpoint serializes a checkpoint, zstd-compressed when
// compress is set.
func EncodeCheckpoint(c Checkpoint, compress bool) ([]byte, error) {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	if !compress {
		return raw, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// DecodeCheckpoint reverses EncodeCheckpoint.
func DecodeCheckpoint(data []byte, compressed bool) (Checkpoint, error) {
	if compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(data, nil)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("decode checkpoint: %w: %v", ErrCheckpointCorrupt, err)
		}
		data = raw
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w: %v", ErrCheckpointCorrupt, err)
	}
	return c, nil
}

// SaveCheckpoint writes the session to path. A ".zst" suffix selects
// zstd compression. The write is atomic: temp file plus rename.
func (e *Engine) SaveCheckpoint(path string) error {
	data, err := EncodeCheckpoint(e.Checkpoint(), strings.HasSuffix(path, zstExtension))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("save checkpoint: %w", err)
	}

	logger.InfoCF("engine", "checkpoint saved", map[string]interface{}{
		"path":  path,
		"bytes": len(data),
	})
	return nil
}

// ReadCheckpoint loads a checkpoint file without binding it to an
// engine, so callers can construct the engine from the saved config
// before restoring.
func ReadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	c, err := DecodeCheckpoint(data, strings.HasSuffix(path, zstExtension))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	return c, nil
}

// LoadCheckpointFile restores this session from a checkpoint file.
func (e *Engine) LoadCheckpointFile(path string) error {
	c, err := ReadCheckpoint(path)
	if err != nil {
		return err
	}
	return e.RestoreCheckpoint(c)
}
