package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/abduss/reelrelay/internal/config"
	"github.com/abduss/reelrelay/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relayctl",
		Short: "Operate a reelrelay deployment",
		Long: `relayctl runs maintenance tasks against the relay database and object store.

It reads the same environment (and .env file) as the API server.

Examples:
  # Apply pending schema migrations
  relayctl migrate

  # Reap expired uploads now
  relayctl sweep

  # Show a user's quota usage
  relayctl quota 6f1c2a9e-1b7d-4c55-9a0e-8a3e4d7f0b21`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newQuotaCmd())
	return rootCmd
}

// loadConfig reads and validates the environment shared with the API server.
func loadConfig() (config.Config, *zap.Logger, error) {
	log, err := logger.Init()
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
