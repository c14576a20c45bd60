package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rittyon/rittyonbot/pkg/rittyon/channels"
	"github.com/rittyon/rittyonbot/pkg/rittyon/channels/discord"
	"github.com/rittyon/rittyonbot/pkg/rittyon/copilot"
	"github.com/rittyon/rittyonbot/pkg/rittyon/gateway"
	"github.com/rittyon/rittyonbot/pkg/rittyon/scheduler"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `rittyon serve` command that runs the bot.
func newServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and run the bot",
		Long: `Start rittyon as a daemon: connect to Discord, register the slash
commands, run the daily notification and serve /health.

Examples:
  rittyon serve
  rittyon serve --config ./config.yaml -v`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, version)
		},
	}
}

func runServe(cmd *cobra.Command, version string) error {
	// ── Load config ──
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := newLogger(os.Stdout, cfg.Logging, verbose)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}

	// ── Create context ──
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Provider ──
	gen, err := copilot.NewGeminiGenerator(ctx, cfg.API.APIKey, cfg.API.Model, logger)
	if err != nil {
		return err
	}

	// ── Core ──
	sessions := copilot.NewSessionStore(catalog, cfg.Session.MaxHistory, logger)

	// The notifier delivers through the Discord shell, which is created after it.
	var dc *discord.Discord
	notifier, err := scheduler.New(cfg.Scheduler, func(ctx context.Context, channelID, message string) error {
		return dc.Send(ctx, channelID, &channels.OutgoingMessage{Content: message})
	}, logger)
	if err != nil {
		return err
	}

	assistant := copilot.NewAssistant(catalog, sessions, gen, notifier, cfg.CallTimeout(), logger)
	dc = discord.New(cfg.Discord, assistant, logger)

	// ── Connect ──
	if err := dc.Connect(ctx); err != nil {
		return err
	}
	if err := notifier.Start(ctx); err != nil {
		_ = dc.Disconnect()
		return err
	}

	// ── Start gateway if enabled ──
	var gw *gateway.Gateway
	if cfg.Health.Enabled {
		gateway.SetVersion(version)
		gw = gateway.New(cfg.Health, dc, sessions, notifier, logger)
		if err := gw.Start(ctx); err != nil {
			logger.Error("failed to start gateway", "error", err)
		}
	}

	// ── Wait for shutdown ──
	logger.Info("rittyon running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"config", configPath,
		"model", gen.Model(),
		"modes", strings.Join(catalog.Modes(), ","),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		notifier.Stop()
		if gw != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = gw.Stop(shutdownCtx)
			cancel()
		}
		if err := dc.Disconnect(); err != nil {
			logger.Warn("discord disconnect failed", "error", err)
		}
		cancel()
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

// newLogger builds the slog logger from the logging config. verbose forces
// debug level.
func newLogger(w io.Writer, cfg copilot.LoggingConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// resolveConfig loads config from --config, a discovered file, or defaults
// plus environment. Returns the config and the path it came from.
func resolveConfig(cmd *cobra.Command) (*copilot.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	// Try explicit path first.
	if configPath != "" {
		cfg, err := copilot.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	// Auto-discover config file.
	if found := copilot.FindConfigFile(); found != "" {
		cfg, err := copilot.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, found, nil
	}

	// No file: defaults plus DISCORD_TOKEN / GEMINI_API_KEY.
	return copilot.LoadDefaultConfig(), "", nil
}
