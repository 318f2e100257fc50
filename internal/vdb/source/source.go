// Package source synchronizes the local cache of upstream vulnerability data
// repositories. Each mirror is reconciled destructively to the resolved remote
// ref; the cache never carries local edits.
package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
	vdberrors "github.com/vulndb-tools/vdbctl/internal/vdb/errors"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
)

// Outcome is the per-entry result of a sync pass.
type Outcome string

const (
	OutcomeCloned        Outcome = "cloned"
	OutcomeUpdated       Outcome = "updated"
	OutcomeSkippedAbsent Outcome = "skipped-absent"
	OutcomeFailed        Outcome = "failed"
)

// EntryReport records the outcome for one catalog entry.
type EntryReport struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}

// Report summarizes a whole sync pass.
type Report struct {
	Entries  []EntryReport `json:"entries"`
	Duration time.Duration `json:"duration"`
}

// fallbackRefs are tried in order when the preferred ref is rejected by the
// remote.
var fallbackRefs = []string{"main", "master"}

// Syncer brings every catalog entry to latest-ref state in the local cache.
type Syncer struct {
	cfg    *config.Config
	state  *runtime.State
	prober *Prober
}

// NewSyncer creates a syncer logging through the given runtime state
func NewSyncer(cfg *config.Config, state *runtime.State) *Syncer {
	return &Syncer{cfg: cfg, state: state, prober: NewProber()}
}

// Sync refreshes all catalog entries. A failure on a non-optional entry aborts
// the whole pass with ErrSourceUnavailable naming the entry; optional entries
// record their failure in the report and the pass continues.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	for _, src := range s.cfg.Sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		entry, err := s.syncOne(ctx, src)
		report.Entries = append(report.Entries, entry)
		if err != nil {
			if src.Optional {
				s.state.Appendf("warning: optional source %s failed: %v", src.Name, err)
				continue
			}
			report.Duration = time.Since(start)
			return report, vdberrors.Wrapf(vdberrors.ErrSourceUnavailable, "source %s: %v", src.Name, err)
		}
	}

	report.Duration = time.Since(start)
	s.state.Appendf("source sync finished in %s (%d entries)", report.Duration.Round(time.Millisecond), len(report.Entries))
	return report, nil
}

// syncOne reconciles a single catalog entry.
func (s *Syncer) syncOne(ctx context.Context, src config.Source) (EntryReport, error) {
	entry := EntryReport{Name: src.Name}

	if src.Optional {
		exists, err := s.prober.Exists(ctx, src.URL)
		if err != nil {
			entry.Outcome = OutcomeFailed
			entry.Detail = err.Error()
			return entry, err
		}
		if !exists {
			s.state.Appendf("source %s not present upstream, skipping", src.Name)
			entry.Outcome = OutcomeSkippedAbsent
			return entry, nil
		}
	}

	localPath := s.cfg.SourcePath(src)
	ref, err := s.resolveRef(ctx, src.URL, src.Ref)
	if err != nil {
		entry.Outcome = OutcomeFailed
		entry.Detail = err.Error()
		return entry, err
	}

	if _, statErr := os.Stat(filepath.Join(localPath, ".git")); statErr != nil {
		if err := s.clone(ctx, src.URL, ref, localPath); err != nil {
			entry.Outcome = OutcomeFailed
			entry.Detail = err.Error()
			return entry, err
		}
		s.state.Appendf("source %s cloned at %s", src.Name, ref)
		entry.Outcome = OutcomeCloned
		return entry, nil
	}

	if err := s.update(ctx, localPath, ref); err != nil {
		entry.Outcome = OutcomeFailed
		entry.Detail = err.Error()
		return entry, err
	}
	s.state.Appendf("source %s reset to %s", src.Name, ref)
	entry.Outcome = OutcomeUpdated
	return entry, nil
}

// resolveRef returns the first candidate ref the remote actually serves,
// trying the preferred ref and then the hardcoded fallbacks.
func (s *Syncer) resolveRef(ctx context.Context, url, preferred string) (string, error) {
	candidates := []string{preferred}
	for _, fb := range fallbackRefs {
		if fb != preferred {
			candidates = append(candidates, fb)
		}
	}

	for _, ref := range candidates {
		out, err := s.git(ctx, "ls-remote", url, "refs/heads/"+ref, "refs/tags/"+ref)
		if err != nil {
			return "", fmt.Errorf("ls-remote %s failed: %w", url, err)
		}
		if strings.TrimSpace(out) != "" {
			if ref != preferred {
				s.state.Appendf("ref %s not found on %s, falling back to %s", preferred, url, ref)
			}
			return ref, nil
		}
	}
	return "", fmt.Errorf("none of refs %v exist on %s", candidates, url)
}

// clone creates a fresh shallow mirror at localPath.
func (s *Syncer) clone(ctx context.Context, url, ref, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if _, err := s.git(ctx, "clone", "--depth", "1", "--branch", ref, url, localPath); err != nil {
		return fmt.Errorf("clone failed: %w", err)
	}
	return nil
}

// update fetches the resolved ref and hard-resets the mirror to it, discarding
// any local divergence. This is destructive and idempotent, not a merge.
func (s *Syncer) update(ctx context.Context, localPath, ref string) error {
	if _, err := s.git(ctx, "-C", localPath, "fetch", "--depth", "1", "origin", ref); err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	if _, err := s.git(ctx, "-C", localPath, "reset", "--hard", "FETCH_HEAD"); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	if _, err := s.git(ctx, "-C", localPath, "clean", "-fdx"); err != nil {
		return fmt.Errorf("clean failed: %w", err)
	}
	return nil
}

// git executes the system git binary with combined output capture, mirroring
// every output line into the run log.
func (s *Syncer) git(ctx context.Context, args ...string) (string, error) {
	//nolint:gosec // G204: Arguments come from the validated source catalog
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()

	out := strings.TrimSpace(string(output))
	if out != "" {
		for _, line := range strings.Split(out, "\n") {
			s.state.Appendf("git: %s", strings.TrimRight(line, "\r"))
		}
	}
	if err != nil {
		return out, fmt.Errorf("git %s: %w", args[0], err)
	}
	return out, nil
}
