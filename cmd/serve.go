package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vulndb-tools/vdbctl/internal/log"
	"github.com/vulndb-tools/vdbctl/internal/vdb/server"
)

var (
	serveHost   string
	servePort   int
	serveDaemon bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status and control service",
	Long: `Start the always-on HTTP service for observing and driving builds.

The service reports lifecycle state derived from the build lock, streams build
logs (polling and websocket), triggers builds as background tasks, clears
stale locks, and serves the published artifact and its metadata. At most one
build task runs per service instance; extra triggers are rejected, not queued.

Write actions require the X-Auth-Token header. When no token is configured,
one is generated and printed at startup.`,
	Example: `  # Serve on default localhost:8080
  vdbctl serve

  # Serve on all interfaces, port 3000
  vdbctl serve --host 0.0.0.0 --port 3000

  # Run detached in the background
  vdbctl serve --daemon`,
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		if serveDaemon {
			if err := server.RunDaemonized(cfg); err != nil {
				log.Fatal("Failed to start service daemon: ", err)
			}
			return
		}

		log.Info("Starting status and control service...")
		if err := server.RunServer(cfg); err != nil {
			log.Error("Server error: %v", err)
		}
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a daemonized status and control service",
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		if err := server.StopDaemon(cfg.Server.PidFile); err != nil {
			log.Fatal("Failed to stop service: ", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.AddCommand(serveStopCmd)

	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "", "Host to bind the server to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to bind the server to")
	serveCmd.Flags().BoolVar(&serveDaemon, "daemon", false, "Run the service as a background daemon")
}
