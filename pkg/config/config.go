// Package config loads the daemon configuration: JSON file first, then
// FINITEMEM_* environment overrides on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"

	"github.com/dotsetgreg/finitemem/pkg/engine"
)

type Config struct {
	Engine      engine.Config     `json:"engine"`
	Provider    ProviderConfig    `json:"provider"`
	Serve       ServeConfig       `json:"serve"`
	Checkpoints CheckpointsConfig `json:"checkpoints"`
	Recall      RecallConfig      `json:"recall"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	LogLevel    string            `json:"log_level" env:"FINITEMEM_LOG_LEVEL"`
	mu          sync.RWMutex
}

// ProviderConfig selects the token provider. Type "scripted" is the
// local deterministic codec; "http" talks to an OpenAI-compatible
// chat completions endpoint.
type ProviderConfig struct {
	Type    string `json:"type" env:"FINITEMEM_PROVIDER_TYPE"`
	APIBase string `json:"api_base" env:"FINITEMEM_PROVIDER_API_BASE"`
	APIKey  string `json:"api_key" env:"FINITEMEM_PROVIDER_API_KEY"`
	Model   string `json:"model" env:"FINITEMEM_PROVIDER_MODEL"`
}

type ServeConfig struct {
	Host string `json:"host" env:"FINITEMEM_SERVE_HOST"`
	Port int    `json:"port" env:"FINITEMEM_SERVE_PORT"`
}

// CheckpointsConfig governs the SQLite archive and periodic autosave.
// AutosaveCron is a standard five-field cron expression; empty disables
// autosave.
type CheckpointsConfig struct {
	Dir          string `json:"dir" env:"FINITEMEM_CHECKPOINTS_DIR"`
	AutosaveCron string `json:"autosave_cron" env:"FINITEMEM_CHECKPOINTS_AUTOSAVE_CRON"`
	Keep         int    `json:"keep" env:"FINITEMEM_CHECKPOINTS_KEEP"`
	Compress     bool   `json:"compress" env:"FINITEMEM_CHECKPOINTS_COMPRESS"`
}

type RecallConfig struct {
	Enabled       bool    `json:"enabled" env:"FINITEMEM_RECALL_ENABLED"`
	MaxEntries    int     `json:"max_entries" env:"FINITEMEM_RECALL_MAX_ENTRIES"`
	MaxRecallHits int     `json:"max_recall_hits" env:"FINITEMEM_RECALL_MAX_HITS"`
	MinSimilarity float64 `json:"min_similarity" env:"FINITEMEM_RECALL_MIN_SIMILARITY"`
	MaxAgeDays    int     `json:"max_age_days" env:"FINITEMEM_RECALL_MAX_AGE_DAYS"`
}

type TelemetryConfig struct {
	TurnDumpPath string `json:"turn_dump_path" env:"FINITEMEM_TELEMETRY_TURN_DUMP_PATH"`
}

func DefaultConfig() *Config {
	return &Config{
		Engine: engine.DefaultConfig(),
		Provider: ProviderConfig{
			Type:    "scripted",
			APIBase: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-5.2",
		},
		Serve: ServeConfig{
			Host: "0.0.0.0",
			Port: 18830,
		},
		Checkpoints: CheckpointsConfig{
			Dir:      "~/.finitemem",
			Keep:     20,
			Compress: true,
		},
		Recall: RecallConfig{
			Enabled:       true,
			MaxEntries:    5000,
			MaxRecallHits: 5,
			MinSimilarity: 0.35,
			MaxAgeDays:    90,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads the file at path (missing file means defaults) and
// applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, fmt.Errorf("load config: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// DataDir returns the checkpoint/recall data directory with ~ expanded.
func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Checkpoints.Dir)
}

// ArchivePath is the SQLite checkpoint archive location.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir(), "checkpoints.db")
}

// RecallPath is the SQLite recall store location.
func (c *Config) RecallPath() string {
	return filepath.Join(c.DataDir(), "recall.db")
}

func (c *Config) ServeAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Serve.Host, c.Serve.Port)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
