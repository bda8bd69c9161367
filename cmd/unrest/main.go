// Command unrest runs the civil-violence simulation headless, behind an
// HTTP API, or as a batch of parameter sweeps.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "unrest",
		Short: "Agent-based model of civil violence",
		Long: `unrest simulates residents and security agents on a grid.

Residents turn Active when grievance outweighs perceived arrest risk;
security agents arrest visible rebels into a bounded detention facility.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env before config so UNREST_* overrides can live there.
			_ = godotenv.Load()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (.yaml or .toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newServeCmd(),
		newBatchCmd(),
		newHistoryCmd(),
	)

	return rootCmd
}
