// Package main is riskctl, the operator CLI for running the risk batch and
// maintenance jobs outside the server schedule.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/riskboard/internal/config"
	"github.com/aristath/riskboard/internal/di"
	"github.com/aristath/riskboard/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	logLevel     string
	outputFormat string
)

// rootCmd is the base command for riskctl
var rootCmd = &cobra.Command{
	Use:   "riskctl",
	Short: "Operate the riskboard risk engine",
	Long: `riskctl runs the daily risk batch, snapshot cleanup and backups against the
configured databases. It reads the same environment as the server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, yaml (scenarios only)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withContainer wires the application and runs fn until it returns or the process is
// interrupted
func withContainer(fn func(ctx context.Context, c *di.Container, jobs *di.JobInstances) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log := logger.New(logger.Config{Level: level, Pretty: true, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.Close()

	return fn(ctx, container, jobs)
}
