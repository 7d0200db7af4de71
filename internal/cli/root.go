// Package cli wires the vigil commands.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Telemetry correlation and metrics for AI agents",
	Long:  "Ingests agent telemetry events, correlates them into sessions, traces and spans, and serves aggregate LLM usage metrics.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
