// Package cmd implements the semidx CLI.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semidx/semidx/internal/app"
	"github.com/semidx/semidx/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "semidx",
	Short: "semidx indexes knowledge artifacts for semantic search",
	Long: `semidx ingests knowledge artifacts (architecture decisions, patterns,
code snippets, debug notes, documents), embeds them and serves similarity
queries against a pgvector-backed store.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// withApp loads configuration, wires the application and runs fn with a
// signal-aware context. The app is closed before returning.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
