package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vulndb-tools/vdbctl/internal/log"
	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
	"github.com/vulndb-tools/vdbctl/internal/vdb/deploy"
	vdberrors "github.com/vulndb-tools/vdbctl/internal/vdb/errors"
	"github.com/vulndb-tools/vdbctl/internal/vdb/lock"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
)

const (
	defaultLogLines = 100
)

// buildStatus is the lock-derived lifecycle state in status responses.
type buildStatus struct {
	Status string `json:"status"` // idle | running | stale_lock | error
	PID    int    `json:"pid,omitempty"`
}

type statusResponse struct {
	Build     buildStatus     `json:"build"`
	Database  *databaseInfo   `json:"database"`
	Run       runtime.RunInfo `json:"run"`
	Timestamp time.Time       `json:"timestamp"`
}

// databaseInfo extends the artifact info with display-friendly sizes.
type databaseInfo struct {
	*deploy.Info
	DBSizeFormatted  string `json:"db_size_formatted"`
	TarSizeFormatted string `json:"tar_size_formatted"`
}

type logsResponse struct {
	Logs       []string  `json:"logs"`
	TotalLines int       `json:"total_lines"`
	Timestamp  time.Time `json:"timestamp"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	PID     int    `json:"pid,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports lock classification cross-referenced with the local
// build task, plus published artifact info and the current run snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Build:     s.lockStatus(),
		Database:  s.databaseInfo(),
		Run:       s.state.Snapshot(),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) lockStatus() buildStatus {
	state, pid, err := s.locks.Classify()
	if err != nil {
		return buildStatus{Status: "error"}
	}
	switch state {
	case lock.StateHeld:
		return buildStatus{Status: "running", PID: pid}
	case lock.StateStale:
		return buildStatus{Status: "stale_lock", PID: pid}
	default:
		// The task may be between trigger acceptance and lock acquisition.
		if s.buildTaskActive() {
			return buildStatus{Status: "running", PID: os.Getpid()}
		}
		return buildStatus{Status: "idle"}
	}
}

func (s *Server) databaseInfo() *databaseInfo {
	info := s.artifacts.Get()
	return &databaseInfo{
		Info:             info,
		DBSizeFormatted:  formatSize(info.DBSize, info.DBExists),
		TarSizeFormatted: formatSize(info.TarSize, info.TarExists),
	}
}

// handleLogs returns the most recent lines of the current/most recent run,
// capped at the buffer bound.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	lines := defaultLogLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, actionResponse{Message: "lines must be a positive integer"})
			return
		}
		lines = parsed
	}
	if lines > runtime.MaxLogLines {
		lines = runtime.MaxLogLines
	}

	writeJSON(w, http.StatusOK, logsResponse{
		Logs:       s.state.Recent(lines),
		TotalLines: s.state.TotalLines(),
		Timestamp:  time.Now().UTC(),
	})
}

// handleTriggerBuild starts a background build; concurrent triggers beyond
// the first get 409 without touching the log buffer.
func (s *Server) handleTriggerBuild(w http.ResponseWriter, _ *http.Request) {
	if err := s.tryStartBuild(); err != nil {
		switch {
		case vdberrors.Is(err, vdberrors.ErrAlreadyRunning):
			writeJSON(w, http.StatusConflict, actionResponse{Message: "A build is already running"})
		case vdberrors.Is(err, vdberrors.ErrStaleLock):
			writeJSON(w, http.StatusConflict, actionResponse{Message: "Stale lock file detected. Clear it before triggering a build."})
		default:
			writeJSON(w, http.StatusInternalServerError, actionResponse{Message: err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Build started successfully"})
}

// handleStopBuild cancels this instance's active build task.
func (s *Server) handleStopBuild(w http.ResponseWriter, _ *http.Request) {
	if err := s.stopBuild(); err != nil {
		writeJSON(w, http.StatusConflict, actionResponse{Message: "No build is currently running"})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Stop requested for the running build"})
}

// handleClearLock force-clears the lock, but only after re-confirming it is
// stale at call time so a lock that became held in the meantime survives.
func (s *Server) handleClearLock(w http.ResponseWriter, _ *http.Request) {
	state, pid, _ := s.locks.Classify()
	if state != lock.StateStale {
		writeJSON(w, http.StatusConflict, actionResponse{
			Message: fmt.Sprintf("Lock is %s, not stale; refusing to clear", state),
			PID:     pid,
		})
		return
	}
	if err := s.locks.ForceClear(); err != nil {
		writeJSON(w, http.StatusInternalServerError, actionResponse{Message: err.Error()})
		return
	}
	log.Info("Stale lock cleared (previous holder PID %d)", pid)
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Stale lock cleared", PID: pid})
}

// handleDownloadDB streams the published archive.
func (s *Server) handleDownloadDB(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.cfg.PublishedDir, config.ArchiveFile)
	name := fmt.Sprintf("trivy-db-%s.tar.gz", time.Now().UTC().Format("20060102"))
	s.serveArtifact(w, r, path, name, "application/gzip")
}

// handleDownloadMetadata streams the published metadata document.
func (s *Server) handleDownloadMetadata(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.cfg.PublishedDir, config.MetadataFile)
	name := fmt.Sprintf("metadata-%s.json", time.Now().UTC().Format("20060102"))
	s.serveArtifact(w, r, path, name, "application/json")
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, path, downloadName, contentType string) {
	if _, err := os.Stat(path); err != nil {
		writeJSON(w, http.StatusNotFound, actionResponse{Message: "Artifact not found"})
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	http.ServeFile(w, r, path)
}

// requireToken guards write actions with the configured/generated token.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, actionResponse{Message: "Missing or invalid auth token"})
			return
		}
		next(w, r)
	}
}

// limited applies per-IP rate limiting to an action handler.
func (s *Server) limited(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if allowed, waitTime := s.rateLimiter.AllowAction(ip, action); !allowed {
			writeJSON(w, http.StatusTooManyRequests, actionResponse{
				Message: fmt.Sprintf("Rate limit exceeded. Try again in %v", waitTime.Round(time.Second)),
			})
			return
		}
		next(w, r)
	}
}

// getClientIP extracts the client IP, honoring common proxy headers.
func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug("failed to encode response: %v", err)
	}
}

// formatSize renders a byte count the way the dashboard displays it.
func formatSize(size int64, exists bool) string {
	if !exists {
		return "N/A"
	}
	value := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if value < 1024.0 {
			return fmt.Sprintf("%.2f %s", value, unit)
		}
		value /= 1024.0
	}
	return fmt.Sprintf("%.2f TB", value)
}
