package deploy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
)

// Metadata is the document published next to the database, consumed by
// downstream scanning clients to decide freshness.
type Metadata struct {
	Version      int       `json:"version"`
	UpdatedAt    time.Time `json:"updatedAt"`
	NextUpdate   time.Time `json:"nextUpdate"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// NewMetadata builds the metadata document for a database built now, with the
// next update expected after the configured interval.
func NewMetadata(updateInterval time.Duration) Metadata {
	now := time.Now().UTC().Truncate(time.Second)
	return Metadata{
		Version:      config.SchemaVersion,
		UpdatedAt:    now,
		NextUpdate:   now.Add(updateInterval),
		DownloadedAt: now,
	}
}

// WriteMetadata persists the metadata document into dir.
func WriteMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, config.MetadataFile), append(data, '\n'), 0644)
}

// ReadMetadata loads the metadata document from dir.
func ReadMetadata(dir string) (*Metadata, error) {
	//nolint:gosec // G304: Metadata path is constructed by application
	data, err := os.ReadFile(filepath.Join(dir, config.MetadataFile))
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
