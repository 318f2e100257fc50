//nolint:revive // Config struct field names match YAML structure
// Package config loads and validates the vdbctl configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vulndb-tools/vdbctl/internal/log"
)

const (
	// ConfigFile is the default configuration file name, looked up in the
	// working directory when no explicit path is given.
	ConfigFile = "vdbctl.yaml"

	// ConfigEnv overrides the configuration file location.
	ConfigEnv = "VDBCTL_CONFIG"

	// DatabaseFile is the primary database file name the external builder
	// is expected to produce.
	DatabaseFile = "trivy.db"

	// ArchiveFile is the compressed archive published next to the database.
	ArchiveFile = "trivy.db.tar.gz"

	// MetadataFile is the metadata document published next to the database.
	MetadataFile = "metadata.json"

	// SchemaVersion is the metadata document schema version.
	SchemaVersion = 2
)

// Duration wraps time.Duration so interval fields parse from YAML strings
// like "24h" or "90m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Source describes one entry of the source repository catalog.
type Source struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Ref      string `yaml:"ref"`
	Optional bool   `yaml:"optional"`
}

// BuilderConfig configures the external database builder invocation.
type BuilderConfig struct {
	Command   string   `yaml:"command"`
	ExtraArgs []string `yaml:"extra_args"`
}

// CompactorConfig configures the optional database compaction tool.
type CompactorConfig struct {
	Command string `yaml:"command"`
}

// ServerConfig configures the status and control HTTP service.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
	PidFile   string `yaml:"pid_file"`
	DaemonLog string `yaml:"daemon_log"`
}

// NotifyConfig configures the optional SMTP notification on run completion.
type NotifyConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Config represents the application configuration
type Config struct {
	CacheDir       string          `yaml:"cache_dir"`
	StagingRoot    string          `yaml:"staging_root"`
	PublishedDir   string          `yaml:"published_dir"`
	LockFile       string          `yaml:"lock_file"`
	LogFile        string          `yaml:"log_file"`
	UpdateInterval Duration        `yaml:"update_interval"`
	Builder        BuilderConfig   `yaml:"builder"`
	Compactor      CompactorConfig `yaml:"compactor"`
	Server         ServerConfig    `yaml:"server"`
	Notify         NotifyConfig    `yaml:"notify"`
	Sources        []Source        `yaml:"sources"`
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	return &Config{
		CacheDir:       "cache",
		StagingRoot:    "staging",
		PublishedDir:   "published",
		LockFile:       filepath.Join(os.TempDir(), "vdbctl-build.lock"),
		LogFile:        filepath.Join(os.TempDir(), "vdbctl-build.log"),
		UpdateInterval: Duration(24 * time.Hour),
		Builder: BuilderConfig{
			Command: "trivy-db",
		},
		Compactor: CompactorConfig{
			Command: "bbolt",
		},
		Server: ServerConfig{
			Host:      "localhost",
			Port:      8080,
			PidFile:   filepath.Join(os.TempDir(), "vdbctl-serve.pid"),
			DaemonLog: filepath.Join(os.TempDir(), "vdbctl-serve.log"),
		},
		Sources: DefaultCatalog(),
	}
}

// Load reads the configuration from path. An empty path falls back to the
// VDBCTL_CONFIG environment variable and then to ./vdbctl.yaml; if none of
// those exist the built-in defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path == "" {
		if _, err := os.Stat(ConfigFile); err == nil {
			path = ConfigFile
		}
	}
	if path == "" {
		log.Debug("no configuration file found, using defaults")
		return cfg, nil
	}

	if err := ParseYamlFromFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Debug("configuration loaded from %s", path)
	return cfg, nil
}

// Validate checks the configuration for fields we cannot default away.
func (c *Config) Validate() error {
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("update_interval must be positive")
	}
	if c.Builder.Command == "" {
		return fmt.Errorf("builder.command must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if src.Name == "" || src.URL == "" {
			return fmt.Errorf("source catalog entry missing name or url: %+v", src)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("duplicate source catalog entry: %s", src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	return nil
}

// SourcePath returns the local mirror directory for a catalog entry.
func (c *Config) SourcePath(src Source) string {
	return filepath.Join(c.CacheDir, src.Name)
}

// NewStagingDir returns a unique staging directory path for one build run.
// The directory itself is created by the orchestrator.
func (c *Config) NewStagingDir() string {
	return filepath.Join(c.StagingRoot, fmt.Sprintf("build-%d-%d", os.Getpid(), time.Now().UnixNano()))
}

// BackupsDir returns the directory holding superseded published artifacts.
// It sits beside the published dir so promotion stays a same-filesystem rename.
func (c *Config) BackupsDir() string {
	return c.PublishedDir + ".backups"
}
