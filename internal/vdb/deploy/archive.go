package deploy

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CreateArchive produces a gzipped tarball at archivePath containing exactly
// the named files from dir, stored flat under their base names.
func CreateArchive(dir, archivePath string, files ...string) error {
	//nolint:gosec // G304: Archive path is constructed by application
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() { _ = out.Close() }()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	for _, name := range files {
		if err := addFile(tw, filepath.Join(dir, name), name); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar stream: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to finalize gzip stream: %w", err)
	}
	return out.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	//nolint:gosec // G304: Archive member paths are constructed by application
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", name, err)
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to write %s into archive: %w", name, err)
	}
	return nil
}

// FileChecksumHex calculates the SHA256 hash of a file and returns it as a
// hex string
func FileChecksumHex(path string) (string, error) {
	//nolint:gosec // G304: Checksum targets are constructed by application
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteChecksumFile computes the SHA256 of path and writes it next to the
// file as <base>.sha256 in sha256sum-compatible format.
func WriteChecksumFile(path string) error {
	sum, err := FileChecksumHex(path)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(path))
	return os.WriteFile(path+".sha256", []byte(line), 0644)
}
