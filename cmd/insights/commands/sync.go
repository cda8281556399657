package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize datasets from the remote portals",
	Long: `Synchronizes all active datasets into the warehouse.

Each dataset is compared against its remote source and only the
missing records are downloaded. Datasets that are already current
are skipped. One dataset's failure does not abort the batch.

Example:
  go run ./cmd/insights sync
  go run ./cmd/insights sync --dataset 12`,
	RunE: runSync,
}

var syncDatasetID int64

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Int64Var(&syncDatasetID, "dataset", 0, "synchronize only this dataset id")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.syncRunner()
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, syncDatasetID)
	if err != nil {
		return fmt.Errorf("sync datasets: %w", err)
	}

	fmt.Printf("Dataset sync: %s\n", result.Summary())
	for _, item := range result.Details {
		switch {
		case item.Error != "":
			fmt.Printf("  FAIL  %s (id=%d): %s\n", item.Name, item.ID, item.Error)
		case item.Skipped:
			fmt.Printf("  skip  %s (id=%d): up to date\n", item.Name, item.ID)
		default:
			fmt.Printf("  ok    %s (id=%d)\n", item.Name, item.ID)
		}
	}

	if !result.OK() {
		return fmt.Errorf("%d of %d datasets failed", result.Failed, result.Total)
	}
	return nil
}
