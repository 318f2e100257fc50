package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vulndb-tools/vdbctl/internal/log"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runner"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the source repository cache",
	Long: `Bring every catalog entry to latest-ref state in the local cache
without building or publishing.

Mirrors are reconciled destructively: local divergence is discarded in favor
of the remote. The build lock is taken for the duration since the cache is
shared with build runs.`,
	Example: `  # Sync all sources
  vdbctl sync`,
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		state := runtime.New(cfg.LogFile)

		lines := state.Subscribe()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for line := range lines {
				log.InfoH2("%s", line)
			}
		}()

		err := runner.New(cfg, state).RunSyncOnly(context.Background())
		state.Unsubscribe(lines)
		<-done

		if err != nil {
			log.Fatal("Sync failed: ", err)
		}
		log.Info("Source cache is up to date")
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
