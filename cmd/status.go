package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semidx/semidx/internal/app"
	"github.com/semidx/semidx/internal/index"
)

var statusCmd = &cobra.Command{
	Use:   "status <logical-id>",
	Short: "Show the indexing state of an artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		rec, err := a.Service.IndexState(ctx, args[0])
		if errors.Is(err, index.ErrNotFound) {
			fmt.Printf("%s: not indexed\n", args[0])
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s (kind %s, version %d)\n", rec.LogicalID, rec.State, rec.Kind, rec.Version)
		if rec.StoreRef != "" {
			fmt.Printf("store ref: %s\n", rec.StoreRef)
		}
		if rec.LastError != "" {
			fmt.Printf("last error: %s\n", rec.LastError)
		}
		return nil
	})
}
