package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"sgbackup/internal/sgb"
)

// DefaultArchiverTimeout bounds external archiver runs when no timeout is set.
const DefaultArchiverTimeout = 10 * time.Minute

// Config represents the main configuration for sgbackup.
type Config struct {
	BaseDir   string          `toml:"base_dir"`
	BackupDir string          `toml:"backup_dir"`
	LogDir    string          `toml:"log_dir"`
	Archivers ArchiversConfig `toml:"archivers"`
	Backup    BackupConfig    `toml:"backup"`
	Integrity IntegrityConfig `toml:"integrity"`
	Database  DatabaseConfig  `toml:"database"`
	Mirrors   []MirrorConfig  `toml:"mirrors"`
}

// ArchiversConfig selects the standard archiver and configures the
// external ones.
type ArchiversConfig struct {
	Standard    string   `toml:"standard"`     // empty: first available by preference
	ExternalDir string   `toml:"external_dir"` // directory of *.archiver descriptors
	Timeout     string   `toml:"timeout"`      // Go duration, e.g. "10m"
	Verbose     bool     `toml:"verbose"`
	Ignore      []string `toml:"ignore"` // glob patterns skipped by library archivers
}

// TimeoutDuration parses Timeout, falling back to DefaultArchiverTimeout.
func (a ArchiversConfig) TimeoutDuration() (time.Duration, error) {
	if a.Timeout == "" {
		return DefaultArchiverTimeout, nil
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 0, errors.Wrapf(sgb.ErrConfigInvalid, "archivers.timeout %q: %v", a.Timeout, err)
	}
	if d <= 0 {
		return 0, errors.Wrapf(sgb.ErrConfigInvalid, "archivers.timeout must be positive, got %s", a.Timeout)
	}
	return d, nil
}

// BackupConfig holds the versioning and checksum policy.
type BackupConfig struct {
	MaxVersions       int    `toml:"max_versions"`       // <= 0 keeps every version
	ChecksumAlgorithm string `toml:"checksum_algorithm"` // "none" disables
	WriteSidecar      bool   `toml:"write_sidecar"`      // write {backup}.{algorithm} files
}

// IntegrityConfig holds the default actions of the check command.
type IntegrityConfig struct {
	MissingAction string `toml:"missing_action"` // "ignore", "create" or "delete"
	FailedAction  string `toml:"failed_action"`  // "ignore" or "delete"
}

// DatabaseConfig represents configuration for the catalog database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// MirrorConfig represents a secondary location every new backup is copied to.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MirrorConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services

	// Static credentials; the default AWS credential chain is used when empty.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
	S3UsePathStyle    bool   `toml:"s3_use_path_style,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:   baseDir,
		BackupDir: filepath.Join(baseDir, "backups"),
		LogDir:    filepath.Join(baseDir, "log"),
		Archivers: ArchiversConfig{
			ExternalDir: filepath.Join(baseDir, "archivers"),
			Timeout:     DefaultArchiverTimeout.String(),
		},
		Backup: BackupConfig{
			MaxVersions:       10,
			ChecksumAlgorithm: "sha256",
		},
		Integrity: IntegrityConfig{
			MissingAction: "ignore",
			FailedAction:  "ignore",
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: baseDir},
	}
}

// Validate rejects values the rest of the program cannot act on.
func (c *Config) Validate() error {
	if c.BackupDir == "" {
		return errors.Wrap(sgb.ErrConfigInvalid, "backup_dir is required")
	}
	algo := c.Backup.ChecksumAlgorithm
	if algo == "" {
		algo = sgb.ChecksumNone
	}
	if !sgb.ValidChecksumAlgorithm(algo) {
		return errors.Wrapf(sgb.ErrConfigInvalid, "backup.checksum_algorithm %q is not one of none, %v", algo, sgb.ChecksumAlgorithms())
	}
	if _, err := sgb.ParseMissingAction(c.Integrity.MissingAction); err != nil {
		return errors.Wrap(err, "integrity.missing_action")
	}
	if _, err := sgb.ParseFailedAction(c.Integrity.FailedAction); err != nil {
		return errors.Wrap(err, "integrity.failed_action")
	}
	if _, err := c.Archivers.TimeoutDuration(); err != nil {
		return err
	}
	for i, m := range c.Mirrors {
		switch m.Type {
		case "memory", "s3", "filesystem":
		default:
			return errors.Wrapf(sgb.ErrConfigInvalid, "mirrors[%d]: unknown type %q", i, m.Type)
		}
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config from %s", path)
	}
	return cfg, nil
}

// Load reads the config at path on top of NewConfig(baseDir), so keys
// missing from the file keep their defaults.
func Load(path, baseDir string) (*Config, error) {
	cfg := NewConfig(baseDir)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "reading config from %s", path)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create config file")
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return errors.Wrapf(err, "writing config to %s", path)
	}
	return nil
}

// Init writes cfg to path. An existing file is never overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return errors.Wrap(err, "initializing config")
	}
	return nil
}
