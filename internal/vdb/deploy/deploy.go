// Package deploy post-processes a finished build and publishes it atomically,
// retaining bounded rollback history. Readers of the published directory never
// observe a partial artifact: both the backup-aside and the promotion are
// same-filesystem directory renames.
package deploy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
	vdberrors "github.com/vulndb-tools/vdbctl/internal/vdb/errors"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
)

// MaxBackupGenerations bounds the rollback history.
const MaxBackupGenerations = 2

// backupStamp names backup generations by swap time.
const backupStamp = "20060102-150405.000000000"

// renameDir performs the directory renames of the swap; replaceable in tests
// to inject promotion failures.
var renameDir = os.Rename

// Artifact locates the files of a published build.
type Artifact struct {
	Dir          string
	DatabasePath string
	ArchivePath  string
	MetadataPath string
}

// Manager publishes staging output into the published directory.
type Manager struct {
	cfg   *config.Config
	state *runtime.State
}

// NewManager creates a deployment manager logging through the given runtime
// state
func NewManager(cfg *config.Config, state *runtime.State) *Manager {
	return &Manager{cfg: cfg, state: state}
}

// Publish runs the full post-processing and swap sequence on stagingDir.
// Any step failure aborts with ErrPublishFailed, leaving both the previous
// published artifact and the staging directory untouched for diagnosis.
func (m *Manager) Publish(ctx context.Context, stagingDir string) (*Artifact, error) {
	dbPath := filepath.Join(stagingDir, config.DatabaseFile)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, vdberrors.Wrapf(vdberrors.ErrPublishFailed, "staging has no %s", config.DatabaseFile)
	}

	if err := m.compact(ctx, dbPath); err != nil {
		return nil, vdberrors.Wrap(vdberrors.ErrPublishFailed, err.Error())
	}

	meta := NewMetadata(m.cfg.UpdateInterval.Std())
	if err := WriteMetadata(stagingDir, meta); err != nil {
		return nil, vdberrors.Wrap(vdberrors.ErrPublishFailed, fmt.Sprintf("failed to write metadata: %v", err))
	}
	m.state.Appendf("metadata written (next update %s)", meta.NextUpdate.Format(time.RFC3339))

	archivePath := filepath.Join(stagingDir, config.ArchiveFile)
	if err := CreateArchive(stagingDir, archivePath, config.DatabaseFile, config.MetadataFile); err != nil {
		return nil, vdberrors.Wrap(vdberrors.ErrPublishFailed, err.Error())
	}
	m.state.Appendf("archive created: %s", config.ArchiveFile)

	for _, target := range []string{dbPath, archivePath} {
		if err := WriteChecksumFile(target); err != nil {
			return nil, vdberrors.Wrap(vdberrors.ErrPublishFailed, err.Error())
		}
	}
	m.state.Append("checksums written")

	if err := m.swap(stagingDir); err != nil {
		return nil, vdberrors.Wrap(vdberrors.ErrPublishFailed, err.Error())
	}

	if err := m.pruneBackups(); err != nil {
		// The new artifact is live at this point; losing a prune is worth a
		// warning, not a failed publish.
		m.state.Appendf("warning: backup prune failed: %v", err)
	}

	published := m.cfg.PublishedDir
	m.state.Appendf("published to %s", published)
	return &Artifact{
		Dir:          published,
		DatabasePath: filepath.Join(published, config.DatabaseFile),
		ArchivePath:  filepath.Join(published, config.ArchiveFile),
		MetadataPath: filepath.Join(published, config.MetadataFile),
	}, nil
}

// compact rewrites the database in place with the external compaction tool.
// A missing tool downgrades to a warning; a failing tool aborts the publish.
func (m *Manager) compact(ctx context.Context, dbPath string) error {
	if m.cfg.Compactor.Command == "" {
		return nil
	}
	bin, err := exec.LookPath(m.cfg.Compactor.Command)
	if err != nil {
		m.state.Appendf("warning: compaction tool %s not found, skipping compaction", m.cfg.Compactor.Command)
		return nil
	}

	tmpPath := dbPath + ".compact"
	sink := runtime.NewLineWriter(m.state)
	//nolint:gosec // G204: Compactor command comes from validated configuration
	cmd := exec.CommandContext(ctx, bin, "compact", "-o", tmpPath, dbPath)
	cmd.Stdout = sink
	cmd.Stderr = sink
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("compaction failed: %w", err)
	}
	sink.Flush()

	if err := os.Rename(tmpPath, dbPath); err != nil {
		return fmt.Errorf("failed to replace database with compacted copy: %w", err)
	}
	m.state.Append("database compacted")
	return nil
}

// swap atomically replaces the published directory with stagingDir, moving
// any existing artifact aside as a new backup generation first.
func (m *Manager) swap(stagingDir string) error {
	published := m.cfg.PublishedDir
	if err := os.MkdirAll(filepath.Dir(published), 0750); err != nil {
		return fmt.Errorf("failed to create publish parent directory: %w", err)
	}

	var backupPath string
	if _, err := os.Stat(published); err == nil {
		backupsDir := m.cfg.BackupsDir()
		if err := os.MkdirAll(backupsDir, 0750); err != nil {
			return fmt.Errorf("failed to create backups directory: %w", err)
		}
		backupPath = filepath.Join(backupsDir, time.Now().UTC().Format(backupStamp))
		if err := renameDir(published, backupPath); err != nil {
			return fmt.Errorf("failed to move previous artifact aside: %w", err)
		}
		m.state.Appendf("previous artifact backed up to %s", backupPath)
	}

	if err := renameDir(stagingDir, published); err != nil {
		// Promotion failed after the backup-aside; put the previous artifact
		// back so readers keep a consistent published path.
		if backupPath != "" {
			if restoreErr := renameDir(backupPath, published); restoreErr != nil {
				return fmt.Errorf("failed to promote staging (%v) and to restore backup: %w", err, restoreErr)
			}
		}
		return fmt.Errorf("failed to promote staging directory: %w", err)
	}
	return nil
}

// pruneBackups deletes the oldest backup generations beyond the retention
// bound. Generation names sort chronologically by construction.
func (m *Manager) pruneBackups() error {
	entries, err := os.ReadDir(m.cfg.BackupsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= MaxBackupGenerations {
		return nil
	}
	sort.Strings(names)

	for _, name := range names[:len(names)-MaxBackupGenerations] {
		path := filepath.Join(m.cfg.BackupsDir(), name)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to delete backup %s: %w", name, err)
		}
		m.state.Appendf("pruned backup generation %s", name)
	}
	return nil
}
