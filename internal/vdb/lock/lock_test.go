package lock

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	vdberrors "github.com/vulndb-tools/vdbctl/internal/vdb/errors"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), "build.lock"))
}

// deadPID returns a PID that belonged to an already-reaped process
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("helper process failed: %v", err)
	}
	return pid
}

// TestAcquire_RecordsOwnPID verifies a fresh acquire writes the caller PID
func TestAcquire_RecordsOwnPID(t *testing.T) {
	m := newTestManager(t)

	if err := m.Acquire(); err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	state, pid, err := m.Classify()
	if err != nil {
		t.Fatalf("Classify() failed: %v", err)
	}
	if state != StateHeld {
		t.Errorf("state = %s, want %s", state, StateHeld)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}

// TestAcquire_HeldLockRejected verifies contention fails with AlreadyRunning
func TestAcquire_HeldLockRejected(t *testing.T) {
	m := newTestManager(t)

	if err := m.Acquire(); err != nil {
		t.Fatalf("first Acquire() failed: %v", err)
	}
	err := m.Acquire()
	if !vdberrors.Is(err, vdberrors.ErrAlreadyRunning) {
		t.Fatalf("second Acquire() = %v, want ErrAlreadyRunning", err)
	}
}

// TestAcquire_StaleLockRejected verifies a stale lock is never silently reclaimed
func TestAcquire_StaleLockRejected(t *testing.T) {
	m := newTestManager(t)
	pid := deadPID(t)
	if err := os.WriteFile(m.Path(), []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		t.Fatalf("failed to plant lock file: %v", err)
	}

	err := m.Acquire()
	if !vdberrors.Is(err, vdberrors.ErrStaleLock) {
		t.Fatalf("Acquire() = %v, want ErrStaleLock", err)
	}

	// The stale lock must survive the failed acquire.
	if state, _, _ := m.Classify(); state != StateStale {
		t.Errorf("state after rejected acquire = %s, want %s", state, StateStale)
	}
}

// TestRelease_Idempotent verifies releasing an absent lock is not an error
func TestRelease_Idempotent(t *testing.T) {
	m := newTestManager(t)

	if err := m.Acquire(); err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("second Release() failed: %v", err)
	}

	if state, _, _ := m.Classify(); state != StateAbsent {
		t.Errorf("state after release = %s, want %s", state, StateAbsent)
	}
}

// TestClassify_States covers absent, held, stale and corrupt lock files
func TestClassify_States(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, m *Manager)
		want    State
	}{
		{
			name:    "absent",
			prepare: func(_ *testing.T, _ *Manager) {},
			want:    StateAbsent,
		},
		{
			name: "held by live process",
			prepare: func(t *testing.T, m *Manager) {
				if err := m.Acquire(); err != nil {
					t.Fatalf("Acquire() failed: %v", err)
				}
			},
			want: StateHeld,
		},
		{
			name: "stale dead process",
			prepare: func(t *testing.T, m *Manager) {
				pid := deadPID(t)
				if err := os.WriteFile(m.Path(), []byte(strconv.Itoa(pid)), 0600); err != nil {
					t.Fatalf("failed to plant lock file: %v", err)
				}
			},
			want: StateStale,
		},
		{
			name: "corrupt holder record",
			prepare: func(t *testing.T, m *Manager) {
				if err := os.WriteFile(m.Path(), []byte("not-a-pid"), 0600); err != nil {
					t.Fatalf("failed to plant lock file: %v", err)
				}
			},
			want: StateStale,
		},
		{
			name: "empty lock file",
			prepare: func(t *testing.T, m *Manager) {
				if err := os.WriteFile(m.Path(), nil, 0600); err != nil {
					t.Fatalf("failed to plant lock file: %v", err)
				}
			},
			want: StateStale,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)
			tt.prepare(t, m)

			state, _, err := m.Classify()
			if err != nil {
				t.Fatalf("Classify() failed: %v", err)
			}
			if state != tt.want {
				t.Errorf("state = %s, want %s", state, tt.want)
			}
		})
	}
}

// TestForceClear_RecoversStaleLock verifies the operator recovery path
func TestForceClear_RecoversStaleLock(t *testing.T) {
	m := newTestManager(t)
	pid := deadPID(t)
	if err := os.WriteFile(m.Path(), []byte(strconv.Itoa(pid)), 0600); err != nil {
		t.Fatalf("failed to plant lock file: %v", err)
	}

	if state, _, _ := m.Classify(); state != StateStale {
		t.Fatalf("precondition: lock not stale")
	}
	if err := m.ForceClear(); err != nil {
		t.Fatalf("ForceClear() failed: %v", err)
	}
	if state, _, _ := m.Classify(); state != StateAbsent {
		t.Errorf("state after ForceClear = %s, want %s", state, StateAbsent)
	}

	// A new acquire must now succeed.
	if err := m.Acquire(); err != nil {
		t.Errorf("Acquire() after ForceClear failed: %v", err)
	}
}
