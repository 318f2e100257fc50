package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vulndb-tools/vdbctl/internal/log"
	vdberrors "github.com/vulndb-tools/vdbctl/internal/vdb/errors"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runner"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run one full database build in the foreground",
	Long: `Run a complete build cycle: acquire the build lock, sync all source
repositories, invoke the external database builder into a staging directory,
and publish the result atomically.

The lock and staging directory are cleaned up on every exit path, including
Ctrl+C. A stale lock from a killed process must be cleared first with
'vdbctl lock clear'.`,
	Example: `  # Build with the default configuration
  vdbctl build

  # Build with an explicit configuration file
  vdbctl build --config /etc/vdbctl.yaml`,
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		state := runtime.New(cfg.LogFile)

		// Mirror the run log to the terminal as it is produced.
		lines := state.Subscribe()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for line := range lines {
				log.InfoH2("%s", line)
			}
		}()

		err := runner.New(cfg, state).Run(context.Background())
		state.Unsubscribe(lines)
		<-done

		switch {
		case err == nil:
			log.Info("Build completed successfully")
		case vdberrors.Is(err, vdberrors.ErrAlreadyRunning):
			log.Fatal("A build is already running (lock file: %s)", cfg.LockFile)
		case vdberrors.Is(err, vdberrors.ErrStaleLock):
			log.Fatal("Stale lock detected at %s. Run 'vdbctl lock clear' first.", cfg.LockFile)
		case vdberrors.Is(err, vdberrors.ErrInterrupted):
			log.Fatal("Build interrupted")
		default:
			log.Fatal("Build failed: ", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
}
