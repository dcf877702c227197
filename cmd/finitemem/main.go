package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/dotsetgreg/finitemem/pkg/config"
	"github.com/dotsetgreg/finitemem/pkg/engine"
	"github.com/dotsetgreg/finitemem/pkg/logger"
	"github.com/dotsetgreg/finitemem/pkg/provider"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "finitemem"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go:    %s\n", goVer)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "finitemem.json"
	}
	return filepath.Join(home, ".finitemem", "config.json")
}

func applyLogLevel(cfg *config.Config) {
	switch cfg.LogLevel {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
}

// buildProvider constructs the configured token provider.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider.Type {
	case "", "scripted":
		return provider.NewWordCodec(), nil
	case "http":
		return provider.NewChatProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model), nil
	}
	return nil, fmt.Errorf("unknown provider type %q (want scripted or http)", cfg.Provider.Type)
}

func buildEngine(cfg *config.Config) (*engine.Engine, provider.Provider, error) {
	p, err := buildProvider(cfg)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(p, cfg.Engine)
	if err != nil {
		return nil, nil, err
	}
	return eng, p, nil
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}
