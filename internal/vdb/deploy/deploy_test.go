package deploy

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
	vdberrors "github.com/vulndb-tools/vdbctl/internal/vdb/errors"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
)

func newTestManager(t *testing.T) (*Manager, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.PublishedDir = filepath.Join(root, "published")
	cfg.StagingRoot = filepath.Join(root, "staging")
	cfg.Compactor.Command = ""
	return NewManager(cfg, runtime.New("")), cfg
}

// newStaging creates a staging directory holding a database with the given
// content.
func newStaging(t *testing.T, cfg *config.Config, dbContent string) string {
	t.Helper()
	dir := cfg.NewStagingDir()
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatalf("failed to create staging dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.DatabaseFile), []byte(dbContent), 0644); err != nil {
		t.Fatalf("failed to write database: %v", err)
	}
	return dir
}

func listBackups(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	entries, err := os.ReadDir(cfg.BackupsDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to read backups dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestMetadataRoundTrip(t *testing.T) {
	interval := 6 * time.Hour
	meta := NewMetadata(interval)

	if meta.Version != config.SchemaVersion {
		t.Errorf("Version = %d, want %d", meta.Version, config.SchemaVersion)
	}
	if got := meta.NextUpdate.Sub(meta.UpdatedAt); got != interval {
		t.Errorf("NextUpdate - UpdatedAt = %s, want %s", got, interval)
	}
	if meta.UpdatedAt.Location() != time.UTC {
		t.Errorf("UpdatedAt not in UTC: %s", meta.UpdatedAt)
	}

	dir := t.TempDir()
	if err := WriteMetadata(dir, meta); err != nil {
		t.Fatalf("WriteMetadata() failed: %v", err)
	}
	got, err := ReadMetadata(dir)
	if err != nil {
		t.Fatalf("ReadMetadata() failed: %v", err)
	}
	if !got.UpdatedAt.Equal(meta.UpdatedAt) || !got.NextUpdate.Equal(meta.NextUpdate) {
		t.Errorf("ReadMetadata() = %+v, want %+v", got, meta)
	}
}

func TestCreateArchiveAndChecksum(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "trivy.db"), []byte("db-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(dir, "trivy.db.tar.gz")
	if err := CreateArchive(dir, archivePath, "trivy.db", "metadata.json"); err != nil {
		t.Fatalf("CreateArchive() failed: %v", err)
	}

	// The archive must hold exactly the named members, flat.
	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("archive is not gzip: %v", err)
	}
	tr := tar.NewReader(gr)
	members := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar read failed: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("tar member read failed: %v", err)
		}
		members[hdr.Name] = string(data)
	}
	if len(members) != 2 || members["trivy.db"] != "db-bytes" || members["metadata.json"] != "{}" {
		t.Errorf("unexpected archive members: %v", members)
	}

	if err := WriteChecksumFile(archivePath); err != nil {
		t.Fatalf("WriteChecksumFile() failed: %v", err)
	}
	sum, err := FileChecksumHex(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	line, err := os.ReadFile(archivePath + ".sha256")
	if err != nil {
		t.Fatalf("checksum file missing: %v", err)
	}
	want := sum + "  trivy.db.tar.gz\n"
	if string(line) != want {
		t.Errorf("checksum file = %q, want %q", line, want)
	}
}

func TestPublish_FirstGeneration(t *testing.T) {
	mgr, cfg := newTestManager(t)
	staging := newStaging(t, cfg, "generation-1")

	artifact, err := mgr.Publish(context.Background(), staging)
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	for _, path := range []string{
		artifact.DatabasePath,
		artifact.ArchivePath,
		artifact.MetadataPath,
		artifact.DatabasePath + ".sha256",
		artifact.ArchivePath + ".sha256",
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("published file missing: %s", path)
		}
	}

	// The staging directory was promoted, not copied.
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Errorf("staging directory still present after promotion")
	}
	if got := listBackups(t, cfg); len(got) != 0 {
		t.Errorf("first publish produced backups: %v", got)
	}
}

func TestPublish_BackupRetention(t *testing.T) {
	mgr, cfg := newTestManager(t)

	contents := []string{"gen-1", "gen-2", "gen-3", "gen-4"}
	for _, content := range contents {
		staging := newStaging(t, cfg, content)
		if _, err := mgr.Publish(context.Background(), staging); err != nil {
			t.Fatalf("Publish(%s) failed: %v", content, err)
		}
	}

	backups := listBackups(t, cfg)
	if len(backups) != MaxBackupGenerations {
		t.Fatalf("got %d backup generations %v, want %d", len(backups), backups, MaxBackupGenerations)
	}

	// The surviving backups are the two newest previous generations.
	for i, want := range []string{"gen-2", "gen-3"} {
		db := filepath.Join(cfg.BackupsDir(), backups[i], config.DatabaseFile)
		data, err := os.ReadFile(db)
		if err != nil {
			t.Fatalf("backup %s unreadable: %v", backups[i], err)
		}
		if string(data) != want {
			t.Errorf("backup %s database = %q, want %q", backups[i], data, want)
		}
	}

	// The live artifact is the latest generation.
	data, err := os.ReadFile(filepath.Join(cfg.PublishedDir, config.DatabaseFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "gen-4" {
		t.Errorf("published database = %q, want gen-4", data)
	}
}

func TestPublish_MissingDatabase(t *testing.T) {
	mgr, cfg := newTestManager(t)
	staging := cfg.NewStagingDir()
	if err := os.MkdirAll(staging, 0750); err != nil {
		t.Fatal(err)
	}

	_, err := mgr.Publish(context.Background(), staging)
	if !vdberrors.Is(err, vdberrors.ErrPublishFailed) {
		t.Fatalf("Publish() = %v, want ErrPublishFailed", err)
	}
}

// TestPublish_CompactionFailureKeepsPrevious verifies a failing compaction
// tool aborts the publish and leaves both the live artifact and the staging
// directory untouched.
func TestPublish_CompactionFailureKeepsPrevious(t *testing.T) {
	mgr, cfg := newTestManager(t)

	first := newStaging(t, cfg, "good-generation")
	if _, err := mgr.Publish(context.Background(), first); err != nil {
		t.Fatalf("initial Publish() failed: %v", err)
	}
	before, err := os.ReadFile(filepath.Join(cfg.PublishedDir, config.DatabaseFile))
	if err != nil {
		t.Fatal(err)
	}

	script := filepath.Join(t.TempDir(), "broken-compactor")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho corrupt >&2\nexit 1\n"), 0755); err != nil {
		t.Fatal(err)
	}
	cfg.Compactor.Command = script

	staging := newStaging(t, cfg, "bad-generation")
	_, err = mgr.Publish(context.Background(), staging)
	if !vdberrors.Is(err, vdberrors.ErrPublishFailed) {
		t.Fatalf("Publish() = %v, want ErrPublishFailed", err)
	}

	after, err := os.ReadFile(filepath.Join(cfg.PublishedDir, config.DatabaseFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Errorf("live artifact changed after failed publish: %q != %q", after, before)
	}
	if _, err := os.Stat(filepath.Join(staging, config.DatabaseFile)); err != nil {
		t.Errorf("staging database missing after failed publish: %v", err)
	}
}

// TestPublish_PromoteFailureRestoresPrevious verifies that when the staging
// promotion rename fails after the previous artifact was moved aside, the
// previous artifact is restored at the published path.
func TestPublish_PromoteFailureRestoresPrevious(t *testing.T) {
	mgr, cfg := newTestManager(t)

	first := newStaging(t, cfg, "restored-generation")
	if _, err := mgr.Publish(context.Background(), first); err != nil {
		t.Fatalf("initial Publish() failed: %v", err)
	}

	// Fail only the staging promotion; the backup-aside and the restore
	// renames must still work.
	orig := renameDir
	renameDir = func(oldpath, newpath string) error {
		if strings.HasPrefix(oldpath, cfg.StagingRoot) {
			return errors.New("injected promote failure")
		}
		return orig(oldpath, newpath)
	}
	t.Cleanup(func() { renameDir = orig })

	staging := newStaging(t, cfg, "doomed-generation")
	_, err := mgr.Publish(context.Background(), staging)
	if !vdberrors.Is(err, vdberrors.ErrPublishFailed) {
		t.Fatalf("Publish() = %v, want ErrPublishFailed", err)
	}

	// The previous artifact is back at the published path.
	data, readErr := os.ReadFile(filepath.Join(cfg.PublishedDir, config.DatabaseFile))
	if readErr != nil {
		t.Fatalf("published database missing after failed promotion: %v", readErr)
	}
	if string(data) != "restored-generation" {
		t.Errorf("published database = %q, want restored-generation", data)
	}
	// The backup slot was consumed by the restore.
	if got := listBackups(t, cfg); len(got) != 0 {
		t.Errorf("backups after restore = %v, want none", got)
	}
	// Staging is left in place for diagnosis.
	if _, statErr := os.Stat(filepath.Join(staging, config.DatabaseFile)); statErr != nil {
		t.Errorf("staging database missing after failed promotion: %v", statErr)
	}
}

// TestPublish_MissingCompactorSkips verifies an absent compaction tool is a
// warning, not a failure.
func TestPublish_MissingCompactorSkips(t *testing.T) {
	mgr, cfg := newTestManager(t)
	cfg.Compactor.Command = "definitely-not-a-real-compactor"

	staging := newStaging(t, cfg, "uncompacted")
	if _, err := mgr.Publish(context.Background(), staging); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
}

func TestCollectInfo(t *testing.T) {
	mgr, cfg := newTestManager(t)

	info := CollectInfo(cfg.PublishedDir)
	if info.DBExists || info.TarExists || info.Metadata != nil {
		t.Errorf("CollectInfo on empty dir = %+v", info)
	}

	staging := newStaging(t, cfg, "content")
	if _, err := mgr.Publish(context.Background(), staging); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	info = CollectInfo(cfg.PublishedDir)
	if !info.DBExists || !info.TarExists {
		t.Errorf("CollectInfo after publish = %+v", info)
	}
	if info.DBSize != int64(len("content")) {
		t.Errorf("DBSize = %d, want %d", info.DBSize, len("content"))
	}
	if info.Metadata == nil || info.Metadata.Version != config.SchemaVersion {
		t.Errorf("Metadata = %+v", info.Metadata)
	}
}
