package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/finitemem/pkg/checkpoint"
	"github.com/dotsetgreg/finitemem/pkg/config"
	"github.com/dotsetgreg/finitemem/pkg/embed"
	"github.com/dotsetgreg/finitemem/pkg/engine"
	"github.com/dotsetgreg/finitemem/pkg/recall"
)

func executeCLI() error {
	return buildRootCommand(true).Execute()
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "finitemem",
		Short: "Finite-memory context engine for token-bounded LLM sessions",
		Long: strings.TrimSpace(`finitemem keeps an LLM conversation inside a hard token budget.

Five eviction policies (sliding, importance, semantic, rolling_summary, hybrid)
decide what survives each turn; a latency guard bounds policy cost; sessions
checkpoint to files or a local SQLite archive.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newChatCommand())
	root.AddCommand(newCompareCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newCheckpointCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		root.AddCommand(newDocsCommand(func() *cobra.Command { return buildRootCommand(false) }))
	}
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  finitemem version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func newChatCommand() *cobra.Command {
	var (
		configPath string
		policy     string
		maxTokens  int
		message    string
		restore    string
		saveOnExit string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an interactive bounded-memory chat session",
		Long:  "Chat through the memory engine. Every turn ages through the configured eviction policy; the prompt the model sees never exceeds the token budget.",
		Example: strings.Join([]string{
			"  finitemem chat",
			"  finitemem chat --policy semantic --max-tokens 1024",
			"  finitemem chat --message \"what did we decide about the schema?\"",
			"  finitemem chat --restore session.json.zst",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			applyLogLevel(cfg)
			if policy != "" {
				cfg.Engine.Policy = policy
			}
			if maxTokens > 0 {
				cfg.Engine.MaxTokens = maxTokens
			}

			eng, _, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			if restore != "" {
				if err := eng.LoadCheckpointFile(restore); err != nil {
					return err
				}
				fmt.Printf("✓ restored %s (%d tokens retained)\n", restore, eng.Stats().TokensRetained)
			}

			var mem *recall.Store
			if cfg.Recall.Enabled {
				mem, err = recall.NewStore(cfg.RecallPath(), embed.NewChargramEmbedder(0), cfg.Recall.MaxEntries)
				if err != nil {
					return err
				}
				defer func() { _ = mem.Close() }()
			}

			if strings.TrimSpace(message) != "" {
				reply, err := eng.Chat(cmd.Context(), message, 256)
				if err != nil {
					return err
				}
				fmt.Println(reply)
			} else if err := runChatLoop(cmd.Context(), eng, mem, cfg); err != nil {
				return err
			}

			if saveOnExit != "" {
				if err := eng.SaveCheckpoint(saveOnExit); err != nil {
					return err
				}
				fmt.Printf("✓ saved %s\n", saveOnExit)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "Config file path")
	cmd.Flags().StringVarP(&policy, "policy", "p", "", "Override memory policy (sliding|importance|semantic|rolling_summary|hybrid)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Override the token budget")
	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message instead of interactive mode")
	cmd.Flags().StringVar(&restore, "restore", "", "Restore session from a checkpoint file before starting")
	cmd.Flags().StringVar(&saveOnExit, "save-on-exit", "", "Write a checkpoint file when the session ends")
	return cmd
}

func runChatLoop(ctx context.Context, eng *engine.Engine, mem *recall.Store, cfg *config.Config) error {
	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Printf("finitemem chat (policy=%s, budget=%d tokens). /help for commands.\n",
		eng.Config().Policy, eng.Config().MaxTokens)

	sessionID := fmt.Sprintf("cli-%d", time.Now().Unix())
	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := handleChatCommand(ctx, line, eng, mem, sessionID); done {
				return nil
			}
			continue
		}

		reply, err := eng.Chat(ctx, line, 256)
		if err != nil {
			fmt.Printf("✗ %v\n", err)
			continue
		}
		fmt.Printf("bot> %s\n", reply)
	}
}

func handleChatCommand(ctx context.Context, line string, eng *engine.Engine, mem *recall.Store, sessionID string) bool {
	fields := strings.SplitN(line, " ", 2)
	arg := ""
	if len(fields) == 2 {
		arg = strings.TrimSpace(fields[1])
	}

	switch fields[0] {
	case "/help":
		fmt.Println("/stats  /save <path>  /remember <text>  /recall <query>  /reset  /exit")
	case "/stats":
		printStats(eng.Stats())
	case "/save":
		if arg == "" {
			fmt.Println("✗ usage: /save <path>")
			break
		}
		if err := eng.SaveCheckpoint(arg); err != nil {
			fmt.Printf("✗ %v\n", err)
			break
		}
		fmt.Printf("✓ saved %s\n", arg)
	case "/remember":
		if mem == nil {
			fmt.Println("✗ recall store disabled")
			break
		}
		id, err := mem.Remember(ctx, sessionID, arg)
		if err != nil {
			fmt.Printf("✗ %v\n", err)
			break
		}
		fmt.Printf("✓ remembered as %s\n", id)
	case "/recall":
		if mem == nil {
			fmt.Println("✗ recall store disabled")
			break
		}
		results, err := mem.Search(ctx, arg, recall.SearchOptions{Limit: 5, MinSimilarity: 0.2})
		if err != nil {
			fmt.Printf("✗ %v\n", err)
			break
		}
		if len(results) == 0 {
			fmt.Println("  no matches")
		}
		for _, r := range results {
			fmt.Printf("  %.2f  %s\n", r.Similarity, r.Text)
		}
	case "/reset":
		eng.Reset()
		fmt.Println("✓ session reset")
	case "/exit", "/quit":
		return true
	default:
		fmt.Printf("✗ unknown command %s\n", fields[0])
	}
	return false
}

func printStats(s engine.MemoryStats) {
	fmt.Printf("  tokens seen:      %d\n", s.TokensSeen)
	fmt.Printf("  tokens retained:  %d\n", s.TokensRetained)
	fmt.Printf("  evictions:        %d (importance: %d)\n", s.Evictions, s.ImportanceEvictions)
	fmt.Printf("  summaries:        %d\n", s.SummariesCreated)
	fmt.Printf("  clusters merged:  %d\n", s.ClustersMerged)
	fmt.Printf("  compression:      %.3f\n", s.CompressionRatio)
	fmt.Printf("  policy latency:   %.2fms (calls: %d, fallbacks: %d)\n", s.PolicyLatencyMS, s.TotalPolicyCalls, s.FallbackCount)
	fmt.Printf("  anchor hits:      %d\n", s.AnchorCacheHits)
	fmt.Printf("  embed cache:      %d hits / %d misses\n", s.EmbeddingCacheHits, s.EmbeddingCacheMisses)
}

func newCompareCommand() *cobra.Command {
	var (
		configPath string
		transcript string
		turns      int
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run the same transcript through all five policies and compare",
		Long:  "Replays a transcript (one user message per line, or a generated one) through every eviction policy with a deterministic scripted provider and prints the retention outcomes side by side.",
		Example: strings.Join([]string{
			"  finitemem compare",
			"  finitemem compare --transcript chat.txt",
			"  finitemem compare --turns 40",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			applyLogLevel(cfg)

			messages, err := loadTranscript(transcript, turns)
			if err != nil {
				return err
			}
			return runComparison(cmd.Context(), cfg, messages)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "Config file path")
	cmd.Flags().StringVarP(&transcript, "transcript", "t", "", "Transcript file, one user message per line")
	cmd.Flags().IntVar(&turns, "turns", 30, "Generated transcript length when no file is given")
	return cmd
}

func newStatusCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, provider, and storage readiness",
		Example: "  finitemem status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			fmt.Printf("config:    %s\n", configPath)
			fmt.Printf("policy:    %s (budget %d, window %d)\n", cfg.Engine.Policy, cfg.Engine.MaxTokens, cfg.Engine.WindowSize)
			fmt.Printf("provider:  %s", cfg.Provider.Type)
			if cfg.Provider.Type == "http" {
				fmt.Printf(" (%s, model %s)", cfg.Provider.APIBase, cfg.Provider.Model)
				if cfg.Provider.APIKey == "" {
					fmt.Print("  ⚠ no API key")
				}
			}
			fmt.Println()
			fmt.Printf("data dir:  %s\n", cfg.DataDir())

			if store, err := checkpoint.NewStore(cfg.ArchivePath()); err == nil {
				entries, listErr := store.List()
				_ = store.Close()
				if listErr == nil {
					fmt.Printf("archive:   ✓ %d checkpoint(s)\n", len(entries))
				} else {
					fmt.Printf("archive:   ✗ %v\n", listErr)
				}
			} else {
				fmt.Printf("archive:   ✗ %v\n", err)
			}

			if cfg.Recall.Enabled {
				if mem, err := recall.NewStore(cfg.RecallPath(), embed.NewChargramEmbedder(0), cfg.Recall.MaxEntries); err == nil {
					n, countErr := mem.Count()
					_ = mem.Close()
					if countErr == nil {
						fmt.Printf("recall:    ✓ %d memorie(s)\n", n)
					} else {
						fmt.Printf("recall:    ✗ %v\n", countErr)
					}
				} else {
					fmt.Printf("recall:    ✗ %v\n", err)
				}
			} else {
				fmt.Println("recall:    disabled")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "Config file path")
	return cmd
}

func newCheckpointCommand() *cobra.Command {
	var configPath string

	ckptRoot := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage the SQLite checkpoint archive",
		Long:  "List, inspect, prune, export, and import archived session checkpoints.",
	}
	ckptRoot.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Config file path")

	openStore := func() (*checkpoint.Store, error) {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return checkpoint.NewStore(cfg.ArchivePath())
	}

	ckptRoot.AddCommand(&cobra.Command{
		Use:     "list",
		Short:   "List archived checkpoints, newest first",
		Example: "  finitemem checkpoint list",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no checkpoints archived")
				return nil
			}
			fmt.Printf("%-14s %-20s %-10s %s\n", "ID", "CREATED", "SIZE", "LABEL")
			for _, e := range entries {
				created := time.UnixMilli(e.CreatedAtMS).Format("2006-01-02 15:04:05")
				fmt.Printf("%-14s %-20s %-10d %s\n", e.ID, created, e.SizeBytes, e.Label)
			}
			return nil
		},
	})

	ckptRoot.AddCommand(&cobra.Command{
		Use:     "show <id>",
		Short:   "Show one archived checkpoint's session summary",
		Args:    cobra.ExactArgs(1),
		Example: "  finitemem checkpoint show ckpt-1a2b3c4d",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			c, err := store.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("policy:          %s\n", c.Config.Policy)
			fmt.Printf("max tokens:      %d\n", c.Config.MaxTokens)
			fmt.Printf("tokens retained: %d\n", len(c.State.Tokens))
			fmt.Printf("summary tokens:  %d\n", len(c.State.SummaryTokens))
			fmt.Printf("history turns:   %d\n", len(c.State.History))
			fmt.Printf("tokens seen:     %d\n", c.Stats.TokensSeen)
			fmt.Printf("evictions:       %d\n", c.Stats.Evictions)
			return nil
		},
	})

	var keep int
	prune := &cobra.Command{
		Use:     "prune",
		Short:   "Delete all but the newest N checkpoints",
		Example: "  finitemem checkpoint prune --keep 10",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			removed, err := store.Prune(keep)
			if err != nil {
				return err
			}
			fmt.Printf("✓ removed %d checkpoint(s), kept newest %d\n", removed, keep)
			return nil
		},
	}
	prune.Flags().IntVar(&keep, "keep", 20, "Number of newest checkpoints to keep")
	ckptRoot.AddCommand(prune)

	ckptRoot.AddCommand(&cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete one archived checkpoint",
		Args:    cobra.ExactArgs(1),
		Example: "  finitemem checkpoint delete ckpt-1a2b3c4d",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ deleted %s\n", args[0])
			return nil
		},
	})

	ckptRoot.AddCommand(&cobra.Command{
		Use:     "export <id> <path>",
		Short:   "Export an archived checkpoint to a file",
		Args:    cobra.ExactArgs(2),
		Example: "  finitemem checkpoint export ckpt-1a2b3c4d session.json.zst",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			c, err := store.Load(args[0])
			if err != nil {
				return err
			}
			data, err := engine.EncodeCheckpoint(c, strings.HasSuffix(args[1], ".zst"))
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return fmt.Errorf("export checkpoint: %w", err)
			}
			fmt.Printf("✓ exported %s to %s (%d bytes)\n", args[0], args[1], len(data))
			return nil
		},
	})

	var label string
	importCmd := &cobra.Command{
		Use:     "import <path>",
		Short:   "Import a checkpoint file into the archive",
		Args:    cobra.ExactArgs(1),
		Example: "  finitemem checkpoint import session.json.zst --label pre-migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := engine.ReadCheckpoint(args[0])
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id, err := store.Save(c, label)
			if err != nil {
				return err
			}
			fmt.Printf("✓ imported as %s\n", id)
			return nil
		},
	}
	importCmd.Flags().StringVar(&label, "label", "", "Label for the imported checkpoint")
	ckptRoot.AddCommand(importCmd)

	return ckptRoot
}
