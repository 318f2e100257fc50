package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vulndb-tools/vdbctl/internal/log"
	"github.com/vulndb-tools/vdbctl/internal/vdb/deploy"
	"github.com/vulndb-tools/vdbctl/internal/vdb/lock"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show build lock and published artifact state",
	Long: `Inspect the build lifecycle from the filesystem: classify the build
lock (absent, held, or stale) and describe the currently published artifact,
if any. This works whether or not the control service is running.`,
	Example: `  # Human-readable status
  vdbctl status

  # Machine-readable status
  vdbctl status --json`,
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		locks := lock.NewManager(cfg.LockFile)
		state, pid, _ := locks.Classify()
		info := deploy.CollectInfo(cfg.PublishedDir)

		if statusJSON {
			out := map[string]any{
				"lock":      map[string]any{"state": string(state), "pid": pid, "file": cfg.LockFile},
				"database":  info,
				"timestamp": time.Now().UTC(),
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				log.Fatal("Failed to marshal status: ", err)
			}
			fmt.Println(string(data))
			return
		}

		log.Info("Vulnerability DB Build Status")
		log.Info("==========================================")
		switch state {
		case lock.StateHeld:
			log.Info("Build: RUNNING (PID %d)", pid)
		case lock.StateStale:
			log.Info("Build: STALE LOCK (dead PID %d)", pid)
			log.Info("Run 'vdbctl lock clear' to recover")
		default:
			log.Info("Build: idle")
		}

		log.Info("")
		log.Info("Published artifact: %s", cfg.PublishedDir)
		if !info.DBExists {
			log.InfoH2("no database published yet")
			return
		}
		log.InfoH2("database: %d bytes (modified %s)", info.DBSize, info.DBModTime.Format(time.RFC3339))
		if info.TarExists {
			log.InfoH2("archive:  %d bytes", info.TarSize)
		}
		if info.Metadata != nil {
			log.InfoH2("schema v%d, built %s, next update %s",
				info.Metadata.Version,
				info.Metadata.UpdatedAt.Format(time.RFC3339),
				info.Metadata.NextUpdate.Format(time.RFC3339))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
}
