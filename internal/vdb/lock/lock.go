// Package lock provides process-exclusive mutual exclusion for the build
// lifecycle through a well-known lock file holding the owner PID.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	vdberrors "github.com/vulndb-tools/vdbctl/internal/vdb/errors"
)

// State classifies the lock file at a point in time.
type State string

const (
	// StateAbsent means no lock file exists.
	StateAbsent State = "absent"
	// StateHeld means the lock file exists and its holder PID is a live process.
	StateHeld State = "held"
	// StateStale means the lock file exists but its holder is provably not a
	// live process (dead PID, or unreadable/corrupt holder record).
	StateStale State = "stale"
)

// Manager owns a single lock file path.
type Manager struct {
	path string
}

// NewManager creates a lock manager for the given lock file path
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the lock file path
func (m *Manager) Path() string { return m.path }

// Acquire atomically creates the lock file recording the current PID.
// An existing lock makes it fail with ErrAlreadyRunning when the holder is
// alive and ErrStaleLock when it is not; a stale lock is never silently
// reclaimed, an operator has to clear it first.
func (m *Manager) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0750); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}
		state, pid, _ := m.Classify()
		switch state {
		case StateHeld:
			return vdberrors.Wrapf(vdberrors.ErrAlreadyRunning, "lock held by PID %d", pid)
		case StateStale:
			return vdberrors.Wrapf(vdberrors.ErrStaleLock, "lock file %s", m.path)
		default:
			// Lock vanished between create and classify; let the caller retry.
			return vdberrors.Wrap(vdberrors.ErrAlreadyRunning, "lock file contended")
		}
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = f.Close()
		_ = os.Remove(m.path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(m.path)
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	return nil
}

// Release removes the lock file. Removing an absent lock is not an error.
func (m *Manager) Release() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Classify reports the current lock state and, when a lock file exists, the
// recorded holder PID. It never modifies the lock file.
func (m *Manager) Classify() (State, int, error) {
	pid, err := m.readHolder()
	if err != nil {
		if os.IsNotExist(err) {
			return StateAbsent, 0, nil
		}
		// A lock whose holder record cannot be read identifies no live
		// process we could defer to; classify stale rather than wedging.
		return StateStale, 0, nil
	}

	if processAlive(pid) {
		return StateHeld, pid, nil
	}
	return StateStale, pid, nil
}

// ForceClear removes the lock file regardless of classification. Callers must
// confirm Classify() == StateStale immediately before invoking it; clearing a
// held lock breaks mutual exclusion.
func (m *Manager) ForceClear() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear lock file: %w", err)
	}
	return nil
}

// readHolder reads the holder PID from the lock file
func (m *Manager) readHolder() (int, error) {
	//nolint:gosec // G304: Lock file path is constructed by application
	data, err := os.ReadFile(m.path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return 0, fmt.Errorf("lock file is empty")
	}
	var pid int
	if _, err := fmt.Sscanf(pidStr, "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID in lock file: %w", err)
	}
	return pid, nil
}

// processAlive reports whether pid corresponds to a live process using
// signal 0, which performs the existence check without delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
