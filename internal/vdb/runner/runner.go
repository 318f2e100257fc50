// Package runner sequences one full build run: lock, sync, build, publish.
// It owns the build lock for the duration of the run and guarantees cleanup
// on every exit path, including interruption signals.
package runner

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/vulndb-tools/vdbctl/internal/vdb/builder"
	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
	"github.com/vulndb-tools/vdbctl/internal/vdb/deploy"
	vdberrors "github.com/vulndb-tools/vdbctl/internal/vdb/errors"
	"github.com/vulndb-tools/vdbctl/internal/vdb/lock"
	"github.com/vulndb-tools/vdbctl/internal/vdb/notify"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
	"github.com/vulndb-tools/vdbctl/internal/vdb/source"
)

// Runner orchestrates build runs against one configuration.
type Runner struct {
	cfg      *config.Config
	state    *runtime.State
	locks    *lock.Manager
	notifier *notify.Notifier
}

// New creates a runner operating on the given runtime state
func New(cfg *config.Config, state *runtime.State) *Runner {
	return &Runner{
		cfg:      cfg,
		state:    state,
		locks:    lock.NewManager(cfg.LockFile),
		notifier: notify.NewNotifier(cfg.Notify),
	}
}

// Lock returns the runner's lock manager
func (r *Runner) Lock() *lock.Manager { return r.locks }

// Run executes one full build run: acquire lock, sync sources, invoke the
// builder into staging, publish atomically. The lock and the staging
// directory are cleaned up exactly once on every exit path; a termination
// signal classifies the run as interrupted rather than failed.
func (r *Runner) Run(ctx context.Context) error {
	return r.run(ctx, false)
}

// RunSyncOnly refreshes the source cache under the build lock without
// building or publishing.
func (r *Runner) RunSyncOnly(ctx context.Context) error {
	return r.run(ctx, true)
}

func (r *Runner) run(ctx context.Context, syncOnly bool) error {
	start := time.Now()
	r.state.BeginRun()
	r.state.Appendf("[%s] starting build run (pid %d)", start.UTC().Format(time.RFC3339), os.Getpid())

	if err := r.locks.Acquire(); err != nil {
		r.state.Appendf("could not acquire build lock: %v", err)
		r.state.FinishRun(runtime.PhaseFailed, err)
		return err
	}

	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	stagingDir := r.cfg.NewStagingDir()
	keepStaging := false
	var finalize sync.Once
	finalizer := func() {
		finalize.Do(func() {
			if !keepStaging {
				if err := os.RemoveAll(stagingDir); err != nil {
					r.state.Appendf("warning: failed to remove staging directory: %v", err)
				}
			}
			if err := r.locks.Release(); err != nil {
				r.state.Appendf("warning: failed to release build lock: %v", err)
			}
		})
	}
	defer finalizer()

	runErr := r.steps(ctx, stagingDir, syncOnly, &keepStaging)

	phase := runtime.PhaseSucceeded
	if runErr != nil {
		phase = runtime.PhaseFailed
		if interrupted(ctx, runErr) {
			phase = runtime.PhaseInterrupted
			runErr = vdberrors.ErrInterrupted
		}
	}

	finalizer()
	elapsed := time.Since(start)
	r.state.Appendf("[%s] run %s after %s", time.Now().UTC().Format(time.RFC3339), phase, elapsed.Round(time.Second))
	if runErr != nil {
		r.state.Appendf("error: %v", runErr)
	}
	r.state.FinishRun(phase, runErr)
	r.notifier.RunFinished(phase, elapsed, runErr)
	return runErr
}

// steps performs the sequential run stages after the lock is held.
func (r *Runner) steps(ctx context.Context, stagingDir string, syncOnly bool, keepStaging *bool) error {
	r.sweepStaleStaging(stagingDir)

	r.state.SetPhase(runtime.PhaseSyncing)
	syncer := source.NewSyncer(r.cfg, r.state)
	if _, err := syncer.Sync(ctx); err != nil {
		return err
	}
	if syncOnly {
		return nil
	}

	r.state.SetPhase(runtime.PhaseBuilding)
	driver := builder.NewDriver(r.cfg, r.state)
	if _, err := driver.Build(ctx, stagingDir); err != nil {
		return err
	}

	r.state.SetPhase(runtime.PhasePublishing)
	deployer := deploy.NewManager(r.cfg, r.state)
	if _, err := deployer.Publish(ctx, stagingDir); err != nil {
		// Keep the staging directory for diagnosis; the sweep on the next
		// run discards it.
		*keepStaging = true
		r.state.Appendf("staging preserved for inspection: %s", stagingDir)
		return err
	}
	return nil
}

// sweepStaleStaging discards staging directories left over from earlier runs.
// The lock is held here, so anything under the staging root other than the
// current run's directory is stale by definition.
func (r *Runner) sweepStaleStaging(current string) {
	entries, err := os.ReadDir(r.cfg.StagingRoot)
	if err != nil {
		return
	}
	for _, e := range entries {
		path := filepath.Join(r.cfg.StagingRoot, e.Name())
		if path == current {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			r.state.Appendf("warning: failed to discard stale staging %s: %v", path, err)
			continue
		}
		r.state.Appendf("discarded stale staging %s", path)
	}
}

// interrupted distinguishes externally requested termination from step errors.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
