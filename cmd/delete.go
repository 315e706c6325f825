package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semidx/semidx/internal/app"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <logical-id>",
	Short: "Remove an artifact from the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		if err := a.Service.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	})
}
