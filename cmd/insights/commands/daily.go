package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lcalmbach/open-data-insights-sub000/internal/story"
)

// dailyCmd represents the daily command
var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Run the full daily pipeline",
	Long: `Runs dataset synchronization followed by story generation,
the same sequence the scheduler executes every day.

Sync failures do not stop generation: stories whose data did not
arrive are simply not due yet and will be picked up on the next run.

Example:
  go run ./cmd/insights daily`,
	RunE: runDaily,
}

func init() {
	rootCmd.AddCommand(dailyCmd)
}

func runDaily(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	syncRunner, err := a.syncRunner()
	if err != nil {
		return err
	}
	storyRunner, err := a.storyRunner()
	if err != nil {
		return err
	}

	syncResult, err := syncRunner.Run(ctx, 0)
	if err != nil {
		return fmt.Errorf("sync datasets: %w", err)
	}
	fmt.Printf("Dataset sync: %s\n", syncResult.Summary())

	storyResult, err := storyRunner.Run(ctx, story.Options{RunDate: time.Now()})
	if err != nil {
		return fmt.Errorf("generate stories: %w", err)
	}
	fmt.Printf("Story generation: %s\n", storyResult.Summary())

	if !syncResult.OK() || !storyResult.OK() {
		return fmt.Errorf("daily run finished with failures (sync: %d, stories: %d)",
			syncResult.Failed, storyResult.Failed)
	}
	return nil
}
