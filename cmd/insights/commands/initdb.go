package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lcalmbach/open-data-insights-sub000/internal/storage"
)

// initDBCmd represents the init-db command
var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the configuration and story tables",
	Long: `Creates the insights configuration schema and the warehouse
schema. All statements are idempotent, so the command can be re-run
after upgrades.

Example:
  go run ./cmd/insights init-db`,
	RunE: runInitDB,
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}

func runInitDB(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := storage.Bootstrap(ctx, a.db, a.log); err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	fmt.Println("Database schema initialized")
	return nil
}
