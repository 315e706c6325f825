package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/semidx/semidx/internal/app"
	"github.com/semidx/semidx/internal/artifact"
	"github.com/semidx/semidx/internal/vecstore"
)

var (
	searchTopK int
	searchKind string
)

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Semantic search over indexed artifacts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "n", 0, "number of results (default from config)")
	searchCmd.Flags().StringVarP(&searchKind, "kind", "k", "", "restrict to one artifact kind")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	var filter map[string]string
	if searchKind != "" {
		kind, err := artifact.ParseKind(searchKind)
		if err != nil {
			return err
		}
		filter = map[string]string{vecstore.PayloadKind: string(kind)}
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		results, err := a.Service.Search(ctx, strings.Join(args, " "), searchTopK, filter)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no results above the similarity threshold")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%d. %s  score=%.3f  kind=%s\n", i+1, r.LogicalID, r.Score, r.Kind)
			if r.Snippet != "" {
				fmt.Printf("   %s\n", r.Snippet)
			}
		}
		return nil
	})
}
