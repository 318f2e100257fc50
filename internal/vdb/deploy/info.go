package deploy

import (
	"os"
	"path/filepath"
	"time"

	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
)

// Info describes the currently published artifact for status queries. Field
// names mirror the control API response.
type Info struct {
	DBExists  bool       `json:"db_exists"`
	DBSize    int64      `json:"db_size,omitempty"`
	DBModTime *time.Time `json:"db_mtime,omitempty"`
	TarExists bool       `json:"tar_exists"`
	TarSize   int64      `json:"tar_size,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty"`
}

// CollectInfo inspects the published directory. A missing or partial artifact
// is reported as-is, never as an error; absence is a normal pre-first-publish
// state.
func CollectInfo(publishedDir string) *Info {
	info := &Info{}

	if stat, err := os.Stat(filepath.Join(publishedDir, config.DatabaseFile)); err == nil {
		info.DBExists = true
		info.DBSize = stat.Size()
		mtime := stat.ModTime().UTC()
		info.DBModTime = &mtime
	}
	if stat, err := os.Stat(filepath.Join(publishedDir, config.ArchiveFile)); err == nil {
		info.TarExists = true
		info.TarSize = stat.Size()
	}
	if meta, err := ReadMetadata(publishedDir); err == nil {
		info.Metadata = meta
	}
	return info
}
