// Package main provides the CLI entry point for the agentgate LLM
// orchestration gateway.
//
// agentgate fronts a pool of OpenAI-compatible chat-completions providers
// with a reason/act agent loop, a promotable tool registry, and a
// WebSocket/HTTP gateway for clients.
//
// # Basic Usage
//
// Start the server:
//
//	gatewayd serve --config gatewayd.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentgate/internal/agentloop"
	"github.com/haasonsaas/agentgate/internal/config"
	"github.com/haasonsaas/agentgate/internal/gateway"
	"github.com/haasonsaas/agentgate/internal/heartbeat"
	"github.com/haasonsaas/agentgate/internal/providerpool"
	"github.com/haasonsaas/agentgate/internal/scheduler"
	"github.com/haasonsaas/agentgate/internal/sessionmgr"
	"github.com/haasonsaas/agentgate/internal/toolregistry"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gatewayd",
		Short:        "agentgate - LLM orchestration gateway",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	root.AddCommand(buildConfigCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: `Start the agentgate gateway server: loads configuration, builds the
provider pool and tool registry, and serves HTTP/WebSocket traffic until a
shutdown signal arrives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective (masked) configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.NewManager(configPath)
			if err != nil {
				return err
			}
			masked, err := mgr.GetMasked()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", masked)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func defaultConfigPath() string {
	if v := os.Getenv("AGENTGATE_CONFIG"); v != "" {
		return v
	}
	return "gatewayd.yaml"
}

func runServe(ctx context.Context, configPath string) error {
	logger := slog.Default()
	logger.Info("starting agentgate gateway", "version", version, "commit", commit, "config", configPath)

	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgMgr.Get()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	if err := cfgMgr.WatchAndReload(watchCtx, logger); err != nil {
		logger.Warn("config file watch disabled", "error", err)
	}

	pool := providerpool.New(buildProviderEntries(cfg.Agent))

	registry := toolregistry.New()
	registry.RegisterMetaTools()
	registry.SetPolicy(cfg.Tools.Allow, cfg.Tools.Deny)

	store, err := sessionmgr.NewFileStore(cfg.Sessions.Directory)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	sessions := sessionmgr.New(store)
	sessions.SetBeforeCompactHook(newCompactionSummarizer(pool))

	loop := agentloop.New(pool, registry, sessions, agentloop.Config{
		SystemPrompt:   cfg.Agent.SystemPrompt,
		Platform:       "linux",
		RuntimeVersion: version,
	})

	sched := scheduler.New(newSchedulerAdapter(loop), sessions, logger)
	loadCronJobs(sched, cfg.Cron, logger)
	if cfg.Cron.Enabled {
		sched.Start()
		defer sched.Stop()
	}

	var hb *heartbeat.Runner
	if cfg.Memory.Directory != "" {
		hb = heartbeat.New(heartbeat.Config{
			Enabled:   true,
			Interval:  5 * time.Minute,
			MemoryDir: cfg.Memory.Directory,
			TargetSession: func() string {
				return sessions.GetMainSessionID()
			},
		}, newHeartbeatAdapter(loop), sessions, func(act heartbeat.Activity) {
			logger.Info("heartbeat activity", "category", act.Category, "detail", act.Detail)
		})
		hb.Start(ctx)
		defer hb.Stop()
	}

	srv := gateway.New(gateway.Deps{
		Loop:      loop,
		Sessions:  sessions,
		Registry:  registry,
		Pool:      pool,
		Config:    cfgMgr,
		Scheduler: sched,
		Heartbeat: hb,
		Logger:    logger,
		Version:   version,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, initiating graceful shutdown")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	logger.Info("agentgate gateway stopped gracefully")
	return nil
}

func buildProviderEntries(agent config.AgentConfig) []providerpool.Entry {
	if len(agent.Providers) == 0 {
		return []providerpool.Entry{{
			Name:        "default",
			APIBase:     agent.APIBase,
			APIKey:      agent.APIKey,
			Model:       agent.Model,
			MaxTokens:   agent.MaxTokens,
			Temperature: agent.Temperature,
		}}
	}
	entries := make([]providerpool.Entry, 0, len(agent.Providers))
	for _, p := range agent.Providers {
		entries = append(entries, providerpool.Entry{
			Name:        p.Name,
			APIBase:     p.APIBase,
			APIKey:      p.APIKey,
			Model:       p.Model,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			Priority:    p.Priority,
		})
	}
	return entries
}
