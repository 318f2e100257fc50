package server

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	godaemon "github.com/sevlyar/go-daemon"

	"github.com/vulndb-tools/vdbctl/internal/log"
	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
)

// RunDaemonized forks the control service into the background, writing its
// PID file and redirecting output to the daemon log.
func RunDaemonized(cfg *config.Config) error {
	daemonCtx := &godaemon.Context{
		PidFileName: cfg.Server.PidFile,
		PidFilePerm: 0644,
		LogFileName: cfg.Server.DaemonLog,
		LogFilePerm: 0640,
		WorkDir:     "./",
		Umask:       027,
	}

	if godaemon.WasReborn() {
		// Child daemon process
		log.Info("Status and control service daemon started (PID: %d)", os.Getpid())
		log.Info("PID file: %s", cfg.Server.PidFile)
		log.Info("Log file: %s", cfg.Server.DaemonLog)
		return RunServer(cfg)
	}

	child, err := daemonCtx.Reborn()
	if err != nil {
		return fmt.Errorf("failed to fork daemon: %w", err)
	}
	if child != nil {
		// Parent process
		log.Info("Service daemon started successfully")
		log.Info("PID: %d (saved to %s)", child.Pid, cfg.Server.PidFile)
		log.Info("Logs: %s", cfg.Server.DaemonLog)
		return nil
	}
	return fmt.Errorf("unexpected daemon state")
}

// StopDaemon terminates a daemonized control service via its PID file.
func StopDaemon(pidFile string) error {
	pid, err := readPIDFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("service is not running (PID file not found)")
		}
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", pid, err)
	}

	// Wait a bit for graceful shutdown
	time.Sleep(2 * time.Second)

	if err := process.Signal(syscall.Signal(0)); err == nil {
		log.Info("Process still running, sending SIGKILL...")
		if err := process.Kill(); err != nil {
			return fmt.Errorf("failed to kill process %d: %w", pid, err)
		}
	}

	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	log.Info("Service daemon stopped successfully")
	return nil
}

func readPIDFile(pidFile string) (int, error) {
	//nolint:gosec // G304: PID file path is constructed by application
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return 0, fmt.Errorf("PID file is empty")
	}
	var pid int
	if _, err := fmt.Sscanf(pidStr, "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}
