package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/afkbot/internal/app"
	"github.com/vovakirdan/afkbot/internal/config"
	applog "github.com/vovakirdan/afkbot/internal/log"
)

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "afkbot",
		Short:         "Keep one bot session online on a game server",
		Long:          "afkbot connects to a game server, authenticates through chat commands, keeps the session from idling out and reconnects with backoff.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, logLevel)
		},
	}
	cmd.Version = Version
	cmd.SetVersionTemplate("afkbot version {{.Version}}\n")

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default ./config.yaml)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	return cmd
}

func run(parent context.Context, configPath, logLevel string) error {
	bootstrap := applog.New("info")
	cfg, resolved, err := config.Load(bootstrap, configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", resolved, err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, closer, err := applog.NewWithFile(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Log.File).Msg("log file unavailable, logging to stdout only")
	}
	defer closer.Close()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	logger.Info().
		Str("version", Version).
		Str("config", resolved).
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("user", cfg.Identity.Name).
		Msg("starting afk bot")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("bot exited with error: %w", err)
	}
	logger.Info().Msg("bot stopped")
	return nil
}
