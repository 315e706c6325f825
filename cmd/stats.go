package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semidx/semidx/internal/app"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index and cache counters",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		stats, err := a.Service.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("artifacts: %d\n", stats.Artifacts)
		fmt.Printf("cache entries: %d (%d bytes)\n", stats.Cache.Entries, stats.Cache.Bytes)
		fmt.Printf("cache hits/misses: %d/%d\n", stats.Cache.Hits, stats.Cache.Misses)
		fmt.Printf("cache evictions: %d\n", stats.Cache.Evictions)
		return nil
	})
}
