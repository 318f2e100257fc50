package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulndb-tools/vdbctl/internal/log"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
)

var (
	logsLines  int
	logsFollow bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show build log output",
	Long: `Print recent lines from the persistent build log, or follow it in
real-time like tail -f. The log covers the current or most recent run.`,
	Example: `  # Show the last 100 lines
  vdbctl logs

  # Show the last 500 lines
  vdbctl logs -n 500

  # Follow the log of a running build
  vdbctl logs -f`,
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()

		if logsFollow {
			log.Info("Following build log: %s", cfg.LogFile)
			log.Info("Press Ctrl+C to stop")
			log.Info("==========================================")
			if err := runtime.FollowLogFile(cfg.LogFile); err != nil {
				log.Fatal("Failed to follow log: ", err)
			}
			return
		}

		state := runtime.New(cfg.LogFile)
		lines := state.Recent(logsLines)
		if len(lines) == 0 {
			log.Info("No build log output found (%s)", cfg.LogFile)
			return
		}
		for _, line := range lines {
			fmt.Println(line)
		}
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of recent lines to show")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow the log in real-time")
}
