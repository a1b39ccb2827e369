package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Vovarama1992/astro-dispatch/internal/config"
	"github.com/Vovarama1992/astro-dispatch/internal/logging"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "astro-dispatch",
	Short: "Priority dispatch pipeline for the Rudie astrology bot",
	Long: `astro-dispatch receives Telegram messages, runs the birth-data wizard inline and
queues prediction requests by user priority for a fixed pool of inference workers.

Available commands:
  serve   - Run the webhook, the worker pool and the admin API
  migrate - Apply the database schema
  user    - Inspect and manage users
  queue   - Inspect and purge the dispatch queue`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the process environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(queueCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// loadConfig is shared by every command: .env, environment, logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
