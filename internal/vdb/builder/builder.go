// Package builder invokes the external database builder against the source
// cache. The build algorithm itself is opaque; this package only defines
// success: exit status zero and the primary database file present in staging.
package builder

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
	vdberrors "github.com/vulndb-tools/vdbctl/internal/vdb/errors"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
)

// Result reports a completed builder invocation.
type Result struct {
	DatabasePath string
	Duration     time.Duration
}

// Driver runs the external builder tool.
type Driver struct {
	cfg   *config.Config
	state *runtime.State
}

// NewDriver creates a build driver logging through the given runtime state
func NewDriver(cfg *config.Config, state *runtime.State) *Driver {
	return &Driver{cfg: cfg, state: state}
}

// Build runs the external builder with the cache directory, a fresh staging
// directory, and the configured update interval. Output is streamed into the
// run log as it is produced.
func (d *Driver) Build(ctx context.Context, stagingDir string) (*Result, error) {
	bin, err := exec.LookPath(d.cfg.Builder.Command)
	if err != nil {
		return nil, vdberrors.Wrapf(vdberrors.ErrBuilderUnavailable, "%s", d.cfg.Builder.Command)
	}

	if err := os.MkdirAll(stagingDir, 0750); err != nil {
		return nil, vdberrors.Wrap(err, "failed to create staging directory")
	}

	args := []string{
		"build",
		"--cache-dir", d.cfg.CacheDir,
		"--output-dir", stagingDir,
		"--update-interval", d.cfg.UpdateInterval.Std().String(),
	}
	args = append(args, d.cfg.Builder.ExtraArgs...)

	d.state.Appendf("running %s %v", bin, args)
	start := time.Now()

	sink := runtime.NewLineWriter(d.state)
	//nolint:gosec // G204: Builder command comes from validated configuration
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = sink
	cmd.Stderr = sink
	cmd.Env = os.Environ()

	runErr := cmd.Run()
	sink.Flush()
	elapsed := time.Since(start)

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, vdberrors.Wrapf(vdberrors.ErrBuildFailed, "builder exited with status %d", exitErr.ExitCode())
		}
		return nil, vdberrors.Wrap(vdberrors.ErrBuildFailed, runErr.Error())
	}

	// A zero exit with no database is still a failed build; never trust an
	// empty staging directory.
	dbPath := filepath.Join(stagingDir, config.DatabaseFile)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, vdberrors.Wrapf(vdberrors.ErrBuildFailed, "builder exited 0 but produced no %s", config.DatabaseFile)
	}

	d.state.Appendf("builder finished in %s", elapsed.Round(time.Second))
	return &Result{DatabasePath: dbPath, Duration: elapsed}, nil
}
