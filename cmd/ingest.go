package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/semidx/semidx/internal/app"
	"github.com/semidx/semidx/internal/artifact"
)

var (
	ingestKind string
	ingestTags []string
	ingestFile string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <logical-id>",
	Short: "Index an artifact from a file or stdin",
	Long: `Reads artifact content from --file (or stdin) and indexes it under the
given logical ID. Re-ingesting unchanged content is a no-op; changed
content replaces the previous version.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestKind, "kind", "k", string(artifact.KindDocument),
		"artifact kind: architecture_decision, pattern, code_snippet, debug_note, document")
	ingestCmd.Flags().StringArrayVarP(&ingestTags, "tag", "t", nil, "tag as key=value (repeatable)")
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "content file (default: stdin)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	kind, err := artifact.ParseKind(ingestKind)
	if err != nil {
		return err
	}
	tags, err := parseTags(ingestTags)
	if err != nil {
		return err
	}
	content, err := readContent(ingestFile)
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		logicalID, taskID, err := a.Service.Ingest(ctx, artifact.Artifact{
			LogicalID: args[0],
			Kind:      kind,
			Content:   content,
			Tags:      tags,
			CreatedAt: time.Now(),
		})
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s (task %s)\n", logicalID, taskID)

		done, err := a.Service.TaskDone(taskID)
		if err != nil {
			return err
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		task, err := a.Service.Task(taskID)
		if err != nil {
			return err
		}
		if task.Err != nil {
			return fmt.Errorf("ingestion %s: %w", task.State, task.Err)
		}
		rec, err := a.Service.IndexState(ctx, logicalID)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (version %d, attempts %d)\n", logicalID, rec.State, rec.Version, task.Attempt)
		return nil
	})
}

func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid tag %q, want key=value", pair)
		}
		tags[key] = value
	}
	return tags, nil
}

func readContent(path string) (string, error) {
	if path == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- user-supplied CLI path
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
