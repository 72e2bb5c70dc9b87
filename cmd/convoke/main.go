// Package main is the entry point for the convoke CLI. Convoke is a
// conversational LLM orchestration engine with provider fallback,
// per-scope sessions, and background history optimization.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/normanking/convoke/internal/cache"
	"github.com/normanking/convoke/internal/config"
	"github.com/normanking/convoke/internal/conversation"
	"github.com/normanking/convoke/internal/data"
	"github.com/normanking/convoke/internal/guard"
	"github.com/normanking/convoke/internal/llm"
	"github.com/normanking/convoke/internal/logging"
	"github.com/normanking/convoke/internal/memory"
	"github.com/normanking/convoke/internal/optimizer"
	"github.com/normanking/convoke/internal/orchestrator"
	"github.com/normanking/convoke/internal/persona"
	"github.com/normanking/convoke/internal/server"
	"github.com/normanking/convoke/internal/session"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "convoke",
		Short: "Convoke - conversational LLM orchestration engine",
		Long: `Convoke routes conversation turns across multiple LLM backends with
transparent fallback, keeps one active session per scope, and summarizes
long histories in the background to stay inside each model's context window.

Start the API server:   convoke serve
Interactive chat:       convoke chat
Configuration:          convoke config show`,
		PersistentPreRunE: initLogging,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.convoke/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Convoke v%s\n", version)
		},
	})

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogging(cmd *cobra.Command, args []string) error {
	level := "info"
	if verbose {
		level = "debug"
	}
	logging.Setup(os.Stderr, level)
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

// app bundles the engine components for the lifetime of one command.
type app struct {
	cfg       *config.Config
	store     *data.Store
	orch      *orchestrator.Orchestrator
	manager   *conversation.Manager
	queue     *optimizer.Queue
	metrics   []*llm.MetricsProvider
	stopSweep chan struct{}
}

func (a *app) close() {
	if a.stopSweep != nil {
		close(a.stopSweep)
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}
}

// initApp builds the full engine: providers, registry, durable store,
// cache, guard, orchestrator, optimizer queue, and conversation manager.
func initApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	if !verbose && cfg.Logging.Level != "" {
		logging.Setup(os.Stderr, cfg.Logging.Level)
	}

	registry := llm.NewRegistry(llm.RegistryConfig{
		DefaultProvider: cfg.LLM.DefaultProvider,
		FallbackEnabled: cfg.LLM.FallbackEnabled,
		FallbackOrder:   cfg.LLM.FallbackOrder,
	})

	var metrics []*llm.MetricsProvider
	for name, pc := range cfg.LLM.Providers {
		provider, err := llm.NewProviderByName(name, &llm.ProviderConfig{
			Name:             name,
			Endpoint:         pc.Endpoint,
			APIKey:           pc.APIKey,
			Model:            pc.Model,
			MaxContextTokens: pc.MaxContextTokens,
			MaxTokens:        pc.MaxTokens,
			Temperature:      pc.Temperature,
			Timeout:          cfg.LLM.RequestTimeout,
		})
		if err != nil {
			log.Warn().Str("provider", name).Err(err).Msg("skipping unknown provider")
			continue
		}
		wrapped := llm.NewMetricsProvider(provider)
		registry.Register(wrapped)
		metrics = append(metrics, wrapped)
	}

	basePersona := persona.Default()
	if cfg.Persona.File != "" {
		basePersona, err = persona.LoadFile(cfg.Persona.File)
		if err != nil {
			return nil, fmt.Errorf("load persona: %w", err)
		}
	}

	store, err := data.NewStore(cfg.Data.Dir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	msgCache := cache.New(store, cache.Options{
		FastSize:     cfg.Cache.FastSize,
		FastTTL:      cfg.Cache.FastTTL,
		HistoryLimit: cfg.Cache.HistoryLimit,
	})
	locks := guard.New()
	stopSweep := make(chan struct{})
	locks.SweepIdle(10*time.Minute, time.Hour, stopSweep)

	orch := orchestrator.New(registry, basePersona, cfg.LLM.RequestTimeout)

	opt := optimizer.New(store, msgCache, orch, locks, optimizer.Config{
		KeepRecent:                cfg.Optimizer.KeepRecent,
		SummaryMaxTokens:          cfg.Optimizer.SummaryMaxTokens,
		ConsolidateThresholdChars: cfg.Optimizer.ConsolidateThresholdChars,
	})
	queue := optimizer.NewQueue(opt, cfg.Optimizer.QueueSize, cfg.Optimizer.Workers)

	notes := memory.NewSource(store, cfg.Memory.MaxTokens)

	manager := conversation.New(store, msgCache, registry, orch, locks, queue, notes, conversation.Config{
		TriggerFraction: cfg.Optimizer.TriggerFraction,
		ScopeProviders:  cfg.LLM.ScopeProviders,
		ScopePersonas:   cfg.Persona.Scopes,
	})

	return &app{
		cfg:       cfg,
		store:     store,
		orch:      orch,
		manager:   manager,
		queue:     queue,
		metrics:   metrics,
		stopSweep: stopSweep,
	}, nil
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local JSON API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.close()

			srv := server.New(addr, a.manager, a.store, a.metrics)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	return cmd
}

func chatCmd() *cobra.Command {
	var scopeKey string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.close()

			scope, err := session.ParseScope(scopeKey)
			if err != nil {
				return err
			}

			fmt.Println("Convoke chat. Type /quit to exit.")
			reader := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !reader.Scan() {
					break
				}
				text := strings.TrimSpace(reader.Text())
				if text == "" {
					continue
				}
				if text == "/quit" || text == "/exit" {
					break
				}

				reply, skipped, err := a.manager.HandleMessage(cmd.Context(), scope, scope.UserID, text)
				switch {
				case skipped:
					fmt.Println("(still working on the previous message)")
				case err != nil:
					fmt.Println(conversation.FailureReply)
				default:
					fmt.Println(reply)
				}
			}
			return reader.Err()
		},
	}

	cmd.Flags().StringVar(&scopeKey, "scope", "local:cli:operator", "scope key (guild:channel:user)")
	return cmd
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "One-shot stateless question, no session is created",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.close()

			resp, err := a.orch.Stateless(cmd.Context(), orchestrator.StatelessRequest{
				Prompt: strings.Join(args, " "),
			})
			if err != nil {
				return err
			}

			fmt.Println(resp.Content)
			return nil
		},
	}
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [scope]",
		Short: "List sessions for a scope (guild:channel:user)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := session.ParseScope(args[0])
			if err != nil {
				return err
			}

			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.close()

			sessions, err := a.store.ListSessions(cmd.Context(), scope)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			for _, s := range sessions {
				marker := " "
				if s.IsActive {
					marker = "*"
				}
				fmt.Printf("%s %s  provider=%s  ctx=%d tokens  last=%s\n",
					marker, s.ID, orDefault(s.Provider, "default"), s.ContextTokens,
					s.LastActivityAt.Format(time.RFC3339))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete a historical session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.manager.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted session %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage remembered facts for a scope",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [scope] [fact]",
		Short: "Remember a fact for a scope (guild:channel:user)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := session.ParseScope(args[0])
			if err != nil {
				return err
			}

			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.close()

			note := memory.NewNote(scope.Key(), strings.Join(args[1:], " "))
			if err := a.store.AddNote(cmd.Context(), note); err != nil {
				return err
			}
			fmt.Printf("Remembered (%s)\n", note.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list [scope]",
		Short: "List remembered facts for a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := session.ParseScope(args[0])
			if err != nil {
				return err
			}

			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.close()

			notes, err := a.store.Notes(cmd.Context(), scope.Key(), 0)
			if err != nil {
				return err
			}
			if len(notes) == 0 {
				fmt.Println("Nothing remembered for this scope.")
				return nil
			}

			for _, n := range notes {
				fmt.Printf("%s  %s  %s\n", n.ID, n.CreatedAt.Format(time.RFC3339), n.Content)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "forget [note-id]",
		Short: "Forget a remembered fact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.DeleteNote(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Forgot %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Println("Convoke Configuration:")
			fmt.Println("----------------------")
			fmt.Printf("Default Provider:  %s\n", cfg.LLM.DefaultProvider)
			fmt.Printf("Fallback Enabled:  %t\n", cfg.LLM.FallbackEnabled)
			fmt.Printf("Fallback Order:    %s\n", strings.Join(cfg.LLM.FallbackOrder, " -> "))
			fmt.Printf("Request Timeout:   %s\n", cfg.LLM.RequestTimeout)
			fmt.Printf("Trigger Fraction:  %.2f\n", cfg.Optimizer.TriggerFraction)
			fmt.Printf("Keep Recent:       %d\n", cfg.Optimizer.KeepRecent)
			fmt.Printf("Data Dir:          %s\n", cfg.Data.Dir)
			fmt.Printf("Log Level:         %s\n", cfg.Logging.Level)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			if cfgPath != "" {
				fmt.Println(cfgPath)
				return
			}
			fmt.Println(config.DefaultPath())
		},
	})

	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show provider availability and usage counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.close()

			fmt.Println("Provider Stats:")
			fmt.Println("---------------")
			for _, m := range a.metrics {
				snap := m.Snapshot()
				status := "unavailable"
				if m.Available() {
					status = "available"
				}
				fmt.Printf("%-12s %s  calls=%d errors=%d tokens=%d\n",
					m.Name(), status, snap.Calls, snap.Errors, snap.Tokens)
			}
			return nil
		},
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
