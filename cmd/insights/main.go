package main

import (
	"os"

	"github.com/lcalmbach/open-data-insights-sub000/cmd/insights/commands"
)

// main is the entry point for the insights CLI
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
