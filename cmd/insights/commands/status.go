package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dataset and story state",
	Long: `Shows the sync state of every configured dataset and the most
recently published stories.

Example:
  go run ./cmd/insights status
  go run ./cmd/insights status --stories 5`,
	RunE: runStatus,
}

var statusStoryLimit int

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&statusStoryLimit, "stories", 10, "number of recent stories to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println("=== Datasets ===")
	rows, err := a.db.Pool.Query(ctx, `
		SELECT id, name, target_table_name, active, last_import_date
		FROM insights.datasets
		ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         int64
			name       string
			tableName  string
			active     bool
			lastImport *time.Time
		)
		if err := rows.Scan(&id, &name, &tableName, &active, &lastImport); err != nil {
			return fmt.Errorf("scan dataset: %w", err)
		}

		state := "active"
		if !active {
			state = "inactive"
		}
		imported := "never"
		if lastImport != nil {
			imported = lastImport.Format("2006-01-02 15:04")
		}
		fmt.Printf("  [%d] %s -> %s (%s, last import: %s)\n", id, name, tableName, state, imported)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read datasets: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Recent stories ===")
	storyRows, err := a.db.Pool.Query(ctx, `
		SELECT title, published_date, reference_period_start, reference_period_end
		FROM insights.stories
		ORDER BY published_date DESC, id DESC
		LIMIT $1
	`, statusStoryLimit)
	if err != nil {
		return fmt.Errorf("query stories: %w", err)
	}
	defer storyRows.Close()

	count := 0
	for storyRows.Next() {
		var (
			title                       string
			published, periodStart, end time.Time
		)
		if err := storyRows.Scan(&title, &published, &periodStart, &end); err != nil {
			return fmt.Errorf("scan story: %w", err)
		}
		fmt.Printf("  %s  %s (%s .. %s)\n",
			published.Format("2006-01-02"), title,
			periodStart.Format("2006-01-02"), end.Format("2006-01-02"))
		count++
	}
	if err := storyRows.Err(); err != nil {
		return fmt.Errorf("read stories: %w", err)
	}
	if count == 0 {
		fmt.Println("  (none)")
	}

	return nil
}
