package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "insights",
	Short: "Open data insights pipeline",
	Long: `Open Data Insights CLI

Synchronizes public datasets from opendatasoft portals into the
warehouse and generates calendar-driven data stories from them.

Usage:
  go run ./cmd/insights [command]

Examples:
  go run ./cmd/insights sync
  go run ./cmd/insights sync --dataset 12
  go run ./cmd/insights generate --date 2026-03-01
  go run ./cmd/insights daily
  go run ./cmd/insights serve`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
