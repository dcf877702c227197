package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/finitemem/pkg/checkpoint"
	"github.com/dotsetgreg/finitemem/pkg/config"
	"github.com/dotsetgreg/finitemem/pkg/engine"
	"github.com/dotsetgreg/finitemem/pkg/logger"
	"github.com/dotsetgreg/finitemem/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP memory service",
		Long:    "Expose the engine over HTTP: submit tokens, read the bounded context and stats, archive checkpoints, and scrape Prometheus metrics. Autosave runs on the configured cron expression.",
		Example: "  finitemem serve\n  finitemem serve --config ./finitemem.json --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if debug {
				cfg.LogLevel = "debug"
			}
			applyLogLevel(cfg)
			return runServer(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "Config file path")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// memoryServer binds one engine session to the HTTP surface.
type memoryServer struct {
	mu        sync.Mutex
	cfg       *config.Config
	eng       *engine.Engine
	store     *checkpoint.Store
	collector *telemetry.Collector
	dumper    *telemetry.TurnDumper
}

func runServer(cfg *config.Config) error {
	eng, _, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := checkpoint.NewStore(cfg.ArchivePath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	srv := &memoryServer{
		cfg:       cfg,
		eng:       eng,
		store:     store,
		collector: telemetry.NewCollector(),
	}
	if cfg.Telemetry.TurnDumpPath != "" {
		dumper, err := telemetry.NewTurnDumper(cfg.Telemetry.TurnDumpPath)
		if err != nil {
			return err
		}
		srv.dumper = dumper
		defer func() { _ = dumper.Close() }()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/submit", srv.handleSubmit)
	mux.HandleFunc("/v1/context", srv.handleContext)
	mux.HandleFunc("/v1/stats", srv.handleStats)
	mux.HandleFunc("/v1/checkpoint", srv.handleCheckpoint)
	mux.HandleFunc("/metrics", srv.handleMetrics)
	mux.HandleFunc("/healthz", srv.handleHealth)

	httpServer := &http.Server{
		Addr:              cfg.ServeAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Checkpoints.AutosaveCron != "" {
		go srv.autosaveLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("serve", "listening", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve shutdown: %w", err)
	}
	logger.InfoC("serve", "stopped")
	return nil
}

// autosaveLoop archives the session whenever the cron expression fires.
// Minute granularity: checked once per minute against the previous
// minute's boundary so a fire is neither missed nor duplicated.
func (s *memoryServer) autosaveLoop(ctx context.Context) {
	expr := s.cfg.Checkpoints.AutosaveCron
	g := gronx.New()
	if !g.IsValid(expr) {
		logger.ErrorCF("serve", "invalid autosave cron expression", map[string]interface{}{"expr": expr})
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := g.IsDue(expr, now.Truncate(time.Minute))
			if err != nil || !due {
				continue
			}
			id, err := s.store.Save(s.eng.Checkpoint(), "autosave")
			if err != nil {
				logger.ErrorCF("serve", "autosave failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if keep := s.cfg.Checkpoints.Keep; keep > 0 {
				_, _ = s.store.Prune(keep)
			}
			logger.InfoCF("serve", "autosaved", map[string]interface{}{"id": id})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type submitRequest struct {
	Text   string `json:"text"`
	Tokens []int  `json:"tokens"`
}

func (s *memoryServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := req.Tokens
	if len(tokens) == 0 && strings.TrimSpace(req.Text) != "" {
		tokens = s.eng.EncodeText(req.Text)
	}
	if len(tokens) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("either text or tokens is required"))
		return
	}

	decision, err := s.eng.Submit(r.Context(), tokens)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	stats := s.eng.Stats()
	hitRate := 0.0
	if total := stats.EmbeddingCacheHits + stats.EmbeddingCacheMisses; total > 0 {
		hitRate = float64(stats.EmbeddingCacheHits) / float64(total)
	}
	m := telemetry.TurnMetrics{
		Policy:          decision.Policy,
		PolicyLatencyMS: decision.ElapsedMS,
		TokensSeen:      len(tokens),
		TokensRetained:  decision.TokensAfter,
		Evicted:         decision.Evicted,
		UsedFallback:    decision.UsedFallback,
		CacheHitRate:    hitRate,
	}
	s.collector.Record(m)
	if s.dumper != nil {
		if err := s.dumper.Dump(m); err == nil {
			_ = s.dumper.Flush()
		}
	}

	writeJSON(w, http.StatusOK, decision)
}

func (s *memoryServer) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("GET required"))
		return
	}
	tokens := s.eng.BuildContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": tokens,
		"text":   s.eng.ContextText(r.Context()),
	})
}

func (s *memoryServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("GET required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memory": s.eng.Stats(),
		"window": s.collector.Summary(),
	})
}

type checkpointRequest struct {
	Label string `json:"label"`
}

func (s *memoryServer) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}
	var req checkpointRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	id, err := s.store.Save(s.eng.Checkpoint(), req.Label)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *memoryServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(s.collector.PrometheusText()))
}

func (s *memoryServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
