package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semidx/semidx/internal/app"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a queued or running ingestion task",
	Long: `Cancellation is best-effort: a queued task is removed without side
effects, a running task finishes its current step first. Task IDs are
process-local, so this only finds tasks submitted by this process.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		if err := a.Service.CancelTask(args[0]); err != nil {
			return err
		}
		task, err := a.Service.Task(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("task %s: %s\n", task.ID, task.State)
		return nil
	})
}
