// Package cmd provides command-line interface commands for vdbctl
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vulndb-tools/vdbctl/internal/log"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vdbctl",
	Short: "Vulnerability database build orchestrator",
	Long: `vdbctl - Build, publish and monitor a local vulnerability database

Orchestrates the full database lifecycle: mirrors the upstream advisory
repositories into a local cache, invokes the external database builder, and
publishes the result atomically with bounded rollback history. A companion
HTTP service observes progress and triggers builds safely.

Features:
  • Mutual exclusion across build attempts with stale-lock detection
  • Destructive reset-to-remote source mirroring with ref fallback
  • Atomic publication; readers never see a half-written artifact
  • Always-on status/control API with live log streaming`,
	Example: `  # Run one full build in the foreground
  vdbctl build

  # Refresh the source cache only
  vdbctl sync

  # Start the status & control service
  vdbctl serve

  # Inspect lock and artifact state
  vdbctl status --json

  # Clear a stale lock left by a killed build
  vdbctl lock clear`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			log.SetDebugMode(true)
			log.Debug("Debug mode enabled")
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
}
