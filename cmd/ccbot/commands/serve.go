package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/ccbot/pkg/ccbot/bot"
	"github.com/jholhewres/ccbot/pkg/ccbot/channels/discord"
	"github.com/jholhewres/ccbot/pkg/ccbot/confirm"
	"github.com/jholhewres/ccbot/pkg/ccbot/history"
	"github.com/jholhewres/ccbot/pkg/ccbot/knowledge"
	"github.com/jholhewres/ccbot/pkg/ccbot/llm"
	"github.com/jholhewres/ccbot/pkg/ccbot/session"
)

// newServeCmd creates the `ccbot serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bot and connect to Discord",
		Long: `Start ccbot as a long-running service: connect to Discord,
process messages and answer through the configured providers.

Examples:
  ccbot serve
  ccbot serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)

	if cfg.Discord.Token == "" {
		return fmt.Errorf("no Discord token configured (set DISCORD_TOKEN or discord.token)")
	}
	if cfg.Providers.Primary.APIKey == "" {
		return fmt.Errorf("no primary provider API key configured (set OPENAI_API_KEY)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Durable history store ──
	kv := history.NewRedisKV(cfg.Redis)
	defer kv.Close()
	if err := kv.Ping(ctx); err != nil {
		// Degraded mode: the bot still answers, it just forgets.
		logger.Warn("redis unreachable, history degrades to empty", "error", err)
	}
	store := history.New(kv,
		cfg.History.Cap,
		time.Duration(cfg.History.RetentionDays)*24*time.Hour,
		logger,
	)

	// ── Providers and gateway ──
	primary := llm.NewOpenAI(llm.Primary, cfg.Providers.Primary, logger)
	secondary := llm.NewOpenAI(llm.Secondary, cfg.Providers.Secondary, logger)
	gateway := llm.NewGateway(primary, secondary, logger)

	// ── Sessions and confirmations ──
	sessions := session.NewManager(
		time.Duration(cfg.Session.TimeoutSeconds)*time.Second,
		time.Duration(cfg.Session.SweepIntervalSeconds)*time.Second,
		logger,
	)
	confirms := confirm.NewTracker(confirm.Config{
		Timeout:      time.Duration(cfg.Confirm.TimeoutSeconds) * time.Second,
		Affirmatives: cfg.Confirm.Affirmatives,
	}, logger)

	// ── Knowledge base ──
	var kb *knowledge.Base
	if cfg.Knowledge.Path != "" {
		kb, err = knowledge.Load(cfg.Knowledge.Path)
		if err != nil {
			logger.Warn("knowledge base unavailable", "path", cfg.Knowledge.Path, "error", err)
		} else {
			logger.Info("knowledge base loaded",
				"path", cfg.Knowledge.Path, "items", len(kb.Questions))
		}
	}

	// ── Platform and bot ──
	platform := discord.New(cfg.Discord, logger)
	b := bot.New(cfg, platform, gateway, sessions, store, confirms, kb, logger)

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	logger.Info("ccbot running. Press Ctrl+C to stop.",
		"primary", cfg.Providers.Primary.Label,
		"secondary", cfg.Providers.Secondary.Label,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		b.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// newLogger builds the slog logger from flags and config.
func newLogger(cmd *cobra.Command, cfg *bot.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// resolveConfig loads config from the --config flag, the standard locations,
// or falls back to defaults plus environment variables.
func resolveConfig(cmd *cobra.Command) (*bot.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := bot.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", configPath, err)
		}
		return cfg, nil
	}

	if found := bot.FindConfigFile(); found != "" {
		cfg, err := bot.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", found, err)
		}
		return cfg, nil
	}

	return bot.LoadConfigFromEnv(), nil
}
