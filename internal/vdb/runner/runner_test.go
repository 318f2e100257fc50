package runner

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
	vdberrors "github.com/vulndb-tools/vdbctl/internal/vdb/errors"
	"github.com/vulndb-tools/vdbctl/internal/vdb/lock"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
)

// workingBuilder is a builder stand-in that writes the database into its
// --output-dir argument and exits cleanly.
const workingBuilder = `#!/bin/sh
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output-dir" ]; then out="$arg"; fi
  prev="$arg"
done
echo "built" > "$out/trivy.db"
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script")
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

// newTestRunner builds a runner with no sources to sync and a working fake
// builder, so a run exercises the full lifecycle without git or network.
func newTestRunner(t *testing.T) (*Runner, *runtime.State, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Sources = nil
	cfg.CacheDir = filepath.Join(root, "cache")
	cfg.StagingRoot = filepath.Join(root, "staging")
	cfg.PublishedDir = filepath.Join(root, "published")
	cfg.LockFile = filepath.Join(root, "build.lock")
	cfg.Compactor.Command = ""
	cfg.Builder.Command = writeScript(t, workingBuilder)
	state := runtime.New("")
	return New(cfg, state), state, cfg
}

func stagingEntries(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	entries, err := os.ReadDir(cfg.StagingRoot)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRun_Success(t *testing.T) {
	r, state, cfg := newTestRunner(t)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if got := state.Snapshot().Phase; got != runtime.PhaseSucceeded {
		t.Errorf("phase = %s, want %s", got, runtime.PhaseSucceeded)
	}
	if _, err := os.Stat(filepath.Join(cfg.PublishedDir, config.DatabaseFile)); err != nil {
		t.Errorf("published database missing: %v", err)
	}
	if got, _, err := r.Lock().Classify(); err != nil || got != lock.StateAbsent {
		t.Errorf("lock after run = %v (%v), want absent", got, err)
	}
	if got := stagingEntries(t, cfg); len(got) != 0 {
		t.Errorf("staging not cleaned after run: %v", got)
	}
}

func TestRun_BuilderFailure(t *testing.T) {
	r, state, cfg := newTestRunner(t)
	cfg.Builder.Command = writeScript(t, "#!/bin/sh\nexit 7\n")

	err := r.Run(context.Background())
	if !vdberrors.Is(err, vdberrors.ErrBuildFailed) {
		t.Fatalf("Run() = %v, want ErrBuildFailed", err)
	}

	if got := state.Snapshot().Phase; got != runtime.PhaseFailed {
		t.Errorf("phase = %s, want %s", got, runtime.PhaseFailed)
	}
	// A failed build still releases the lock and discards staging.
	if got, _, _ := r.Lock().Classify(); got != lock.StateAbsent {
		t.Errorf("lock after failed run = %v, want absent", got)
	}
	if got := stagingEntries(t, cfg); len(got) != 0 {
		t.Errorf("staging kept after failed build: %v", got)
	}
}

func TestRun_LockAlreadyHeld(t *testing.T) {
	r, state, cfg := newTestRunner(t)

	// Plant a lock held by this very process.
	if err := os.WriteFile(cfg.LockFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := r.Run(context.Background())
	if !vdberrors.Is(err, vdberrors.ErrAlreadyRunning) {
		t.Fatalf("Run() = %v, want ErrAlreadyRunning", err)
	}
	if got := state.Snapshot().Phase; got != runtime.PhaseFailed {
		t.Errorf("phase = %s, want %s", got, runtime.PhaseFailed)
	}
	// The foreign lock must survive the rejected run.
	if _, err := os.Stat(cfg.LockFile); err != nil {
		t.Errorf("foreign lock removed by rejected run: %v", err)
	}
}

func TestRun_CanceledIsInterrupted(t *testing.T) {
	r, state, _ := newTestRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)
	if !vdberrors.Is(err, vdberrors.ErrInterrupted) {
		t.Fatalf("Run() = %v, want ErrInterrupted", err)
	}
	if got := state.Snapshot().Phase; got != runtime.PhaseInterrupted {
		t.Errorf("phase = %s, want %s", got, runtime.PhaseInterrupted)
	}
	if got, _, _ := r.Lock().Classify(); got != lock.StateAbsent {
		t.Errorf("lock after interrupted run = %v, want absent", got)
	}
}

func TestRunSyncOnly_NoPublish(t *testing.T) {
	r, state, cfg := newTestRunner(t)

	if err := r.RunSyncOnly(context.Background()); err != nil {
		t.Fatalf("RunSyncOnly() failed: %v", err)
	}
	if got := state.Snapshot().Phase; got != runtime.PhaseSucceeded {
		t.Errorf("phase = %s, want %s", got, runtime.PhaseSucceeded)
	}
	if _, err := os.Stat(cfg.PublishedDir); !os.IsNotExist(err) {
		t.Errorf("sync-only run produced a published directory")
	}
	if got := stagingEntries(t, cfg); len(got) != 0 {
		t.Errorf("staging left behind by sync-only run: %v", got)
	}
}

// TestRun_PublishFailurePreservesStaging verifies a failed publish keeps the
// staging directory for inspection and that the next run sweeps it.
func TestRun_PublishFailurePreservesStaging(t *testing.T) {
	r, _, cfg := newTestRunner(t)
	cfg.Compactor.Command = writeScript(t, "#!/bin/sh\nexit 1\n")

	err := r.Run(context.Background())
	if !vdberrors.Is(err, vdberrors.ErrPublishFailed) {
		t.Fatalf("Run() = %v, want ErrPublishFailed", err)
	}

	kept := stagingEntries(t, cfg)
	if len(kept) != 1 {
		t.Fatalf("staging entries after failed publish = %v, want exactly one", kept)
	}
	// The lock is released even though staging is preserved.
	if got, _, _ := r.Lock().Classify(); got != lock.StateAbsent {
		t.Errorf("lock after failed publish = %v, want absent", got)
	}

	// A subsequent successful run discards the preserved directory.
	cfg.Compactor.Command = ""
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if got := stagingEntries(t, cfg); len(got) != 0 {
		t.Errorf("stale staging survived the next run: %v", got)
	}
}
