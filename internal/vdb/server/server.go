// Package server exposes the status and control HTTP service: lifecycle
// status, build logs, build triggering, stale-lock clearing, and artifact
// downloads. The service stays responsive regardless of what any build task
// does; at most one build task is active per service instance.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sethvargo/go-password/password"

	"github.com/vulndb-tools/vdbctl/internal/log"
	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
	vdberrors "github.com/vulndb-tools/vdbctl/internal/vdb/errors"
	"github.com/vulndb-tools/vdbctl/internal/vdb/lock"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runner"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
)

// Server is the status and control service.
type Server struct {
	cfg         *config.Config
	state       *runtime.State
	locks       *lock.Manager
	rateLimiter *RateLimiter
	artifacts   *artifactCache
	authToken   string

	mu          sync.Mutex
	buildActive bool
	cancelBuild context.CancelFunc
}

// NewServer creates the service around one runtime state instance.
func NewServer(cfg *config.Config) (*Server, error) {
	token := cfg.Server.AuthToken
	if token == "" {
		generated, err := password.Generate(32, 10, 0, false, false)
		if err != nil {
			return nil, fmt.Errorf("failed to generate auth token: %w", err)
		}
		token = generated
		log.Info("No auth token configured, generated one for this session: %s", token)
	}

	return &Server{
		cfg:         cfg,
		state:       runtime.New(cfg.LogFile),
		locks:       lock.NewManager(cfg.LockFile),
		rateLimiter: NewRateLimiter(),
		artifacts:   newArtifactCache(cfg.PublishedDir),
		authToken:   token,
	}, nil
}

// SetupRoutes registers all HTTP routes
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/logs/ws", s.handleLogsWS)
	mux.HandleFunc("POST /api/build", s.requireToken(s.limited("build", s.handleTriggerBuild)))
	mux.HandleFunc("POST /api/build/stop", s.requireToken(s.limited("stop", s.handleStopBuild)))
	mux.HandleFunc("POST /api/lock/clear", s.requireToken(s.limited("clear-lock", s.handleClearLock)))
	mux.HandleFunc("GET /api/download/db", s.handleDownloadDB)
	mux.HandleFunc("GET /api/download/metadata", s.handleDownloadMetadata)
	return mux
}

// tryStartBuild starts the orchestrator as a background task. Exactly one
// build task may be active per service instance; every concurrent trigger
// beyond the first is rejected, never queued.
func (s *Server) tryStartBuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buildActive {
		return vdberrors.ErrAlreadyRunning
	}

	// Fast-fail on lock state before spawning anything. The lock itself is
	// acquired by the run task; this check only rejects triggers early.
	state, pid, _ := s.locks.Classify()
	switch state {
	case lock.StateHeld:
		return vdberrors.Wrapf(vdberrors.ErrAlreadyRunning, "lock held by PID %d", pid)
	case lock.StateStale:
		return vdberrors.Wrapf(vdberrors.ErrStaleLock, "clear the stale lock before triggering a build")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.buildActive = true
	s.cancelBuild = cancel

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Build task panicked: %v", r)
				s.state.FinishRun(runtime.PhaseFailed, fmt.Errorf("build task panic: %v", r))
			}
			cancel()
			s.mu.Lock()
			s.buildActive = false
			s.cancelBuild = nil
			s.mu.Unlock()
			s.artifacts.Invalidate()
		}()

		if err := runner.New(s.cfg, s.state).Run(ctx); err != nil {
			log.Error("Build run finished with error: %v", err)
		}
	}()
	return nil
}

// stopBuild requests cancellation of the active build task.
func (s *Server) stopBuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.buildActive || s.cancelBuild == nil {
		return fmt.Errorf("no build is currently running")
	}
	s.cancelBuild()
	return nil
}

// buildTaskActive reports whether this instance's background build task is
// running
func (s *Server) buildTaskActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildActive
}

// RunServer starts the HTTP service and blocks until a termination signal or
// a listener error. An active build task is cancelled on shutdown so its
// finalizer releases the lock.
func RunServer(cfg *config.Config) error {
	srv, err := NewServer(cfg)
	if err != nil {
		return err
	}
	defer srv.artifacts.Close()
	defer srv.rateLimiter.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("Status and control service listening on http://%s", addr)
	log.Info("Lock file: %s", cfg.LockFile)
	log.Info("Published dir: %s", cfg.PublishedDir)
	log.Info("Press Ctrl+C to stop the server")

	serverErrors := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Start shutdown... signal: %v", sig)
	}

	// Cancel any active build so its finalizer runs before we exit.
	if err := srv.stopBuild(); err == nil {
		log.Info("Waiting for the active build task to clean up...")
		deadline := time.After(10 * time.Second)
		for srv.buildTaskActive() {
			select {
			case <-deadline:
				log.Error("Build task did not finish cleanup in time")
				goto stopped
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
stopped:

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Graceful shutdown failed: %v", err)
		if err := httpServer.Close(); err != nil {
			log.Error("Error forcing server close: %v", err)
		}
	}
	return nil
}
