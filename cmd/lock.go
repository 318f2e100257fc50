package cmd

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/vulndb-tools/vdbctl/internal/log"
	"github.com/vulndb-tools/vdbctl/internal/vdb/lock"
)

var lockClearForce bool

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and manage the build lock",
}

var lockClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear a stale build lock",
	Long: `Remove a lock file whose holder process is no longer alive.

A lock held by a live build is never cleared; staleness is re-checked
immediately before removal. Use this after a build process was killed without
the chance to clean up.`,
	Example: `  # Clear with confirmation prompt
  vdbctl lock clear

  # Clear without prompting
  vdbctl lock clear --force`,
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		locks := lock.NewManager(cfg.LockFile)

		state, pid, _ := locks.Classify()
		switch state {
		case lock.StateAbsent:
			log.Info("No lock file present (%s)", cfg.LockFile)
			return
		case lock.StateHeld:
			log.Fatal("Lock is held by live PID %d; refusing to clear", pid)
		}

		if !lockClearForce {
			confirmed := false
			prompt := &survey.Confirm{
				Message: fmt.Sprintf("Lock file %s belongs to dead PID %d; remove it?", cfg.LockFile, pid),
			}
			if err := survey.AskOne(prompt, &confirmed); err != nil {
				log.Fatal("Prompt failed: ", err)
			}
			if !confirmed {
				log.Info("Aborted")
				return
			}
		}

		// Re-confirm staleness at clear time; the lock may have been taken
		// by a new build while the operator was deciding.
		if state, pid, _ = locks.Classify(); state != lock.StateStale {
			log.Fatal("Lock is no longer stale (state %s, PID %d); refusing to clear", state, pid)
		}
		if err := locks.ForceClear(); err != nil {
			log.Fatal("Failed to clear lock: ", err)
		}
		log.Info("Stale lock cleared (previous holder PID %d)", pid)
	},
}

func init() {
	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockClearCmd)

	lockClearCmd.Flags().BoolVar(&lockClearForce, "force", false, "Skip the confirmation prompt")
}
