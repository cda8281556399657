package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lcalmbach/open-data-insights-sub000/internal/story"
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate due stories",
	Long: `Evaluates all active story templates and generates the stories
that are due for the run date.

A story is due when its reference period has closed, its data has
arrived, and no story exists yet for the same focus and period.
Re-running the command is safe: already generated stories are skipped.

Example:
  go run ./cmd/insights generate
  go run ./cmd/insights generate --template 3 --date 2026-03-01
  go run ./cmd/insights generate --template 3 --force
  go run ./cmd/insights generate --dry-run`,
	RunE: runGenerate,
}

var (
	generateTemplateID int64
	generateDate       string
	generateForce      bool
	generateDryRun     bool
)

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().Int64Var(&generateTemplateID, "template", 0, "generate only this template id")
	generateCmd.Flags().StringVar(&generateDate, "date", "", "run date (YYYY-MM-DD, default today)")
	generateCmd.Flags().BoolVar(&generateForce, "force", false, "regenerate even when a story already exists")
	generateCmd.Flags().BoolVar(&generateDryRun, "dry-run", false, "report what would be generated without writing")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	runDate := time.Now()
	if generateDate != "" {
		parsed, err := time.Parse("2006-01-02", generateDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", generateDate, err)
		}
		runDate = parsed
	}

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.storyRunner()
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, story.Options{
		TemplateID: generateTemplateID,
		RunDate:    runDate,
		Force:      generateForce,
		DryRun:     generateDryRun,
	})
	if err != nil {
		return fmt.Errorf("generate stories: %w", err)
	}

	label := "Story generation"
	if generateDryRun {
		label = "Story generation (dry run)"
	}
	fmt.Printf("%s: %s\n", label, result.Summary())
	for _, item := range result.Details {
		switch {
		case item.Error != "":
			fmt.Printf("  FAIL  %s: %s\n", item.Name, item.Error)
		case item.Skipped:
			fmt.Printf("  skip  %s: not due\n", item.Name)
		default:
			fmt.Printf("  ok    %s\n", item.Name)
		}
	}

	if !result.OK() {
		return fmt.Errorf("%d of %d focuses failed", result.Failed, result.Total)
	}
	return nil
}
