package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sgbackup/internal/sgb"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir:   "/home/user/.local/share/sgbackup",
		BackupDir: "/mnt/backups/savegames",
		LogDir:    "/home/user/.local/share/sgbackup/log",
		Archivers: ArchiversConfig{
			Standard:    "tarfile:xz",
			ExternalDir: "/home/user/.config/sgbackup/archivers",
			Timeout:     "5m",
			Verbose:     true,
			Ignore:      []string{"*.tmp", "shadercache"},
		},
		Backup:    BackupConfig{MaxVersions: 5, ChecksumAlgorithm: "blake2b", WriteSidecar: true},
		Integrity: IntegrityConfig{MissingAction: "create", FailedAction: "delete"},
		Database:  DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/sgbackup"},
		Mirrors: []MirrorConfig{
			{Type: "filesystem", Name: "nas", FSRoot: "/mnt/nas/savegames"},
			{Type: "s3", Name: "cloud", S3Bucket: "saves", S3Region: "eu-central-1"},
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BackupDir != original.BackupDir {
		t.Errorf("BackupDir = %q, want %q", got.BackupDir, original.BackupDir)
	}
	if got.Archivers.Standard != "tarfile:xz" {
		t.Errorf("Archivers.Standard = %q, want %q", got.Archivers.Standard, "tarfile:xz")
	}
	if !got.Archivers.Verbose {
		t.Error("Archivers.Verbose = false, want true")
	}
	if len(got.Archivers.Ignore) != 2 {
		t.Fatalf("len(Archivers.Ignore) = %d, want 2", len(got.Archivers.Ignore))
	}
	if got.Backup.MaxVersions != 5 {
		t.Errorf("Backup.MaxVersions = %d, want 5", got.Backup.MaxVersions)
	}
	if got.Backup.ChecksumAlgorithm != "blake2b" {
		t.Errorf("Backup.ChecksumAlgorithm = %q, want %q", got.Backup.ChecksumAlgorithm, "blake2b")
	}
	if !got.Backup.WriteSidecar {
		t.Error("Backup.WriteSidecar = false, want true")
	}
	if got.Integrity.FailedAction != "delete" {
		t.Errorf("Integrity.FailedAction = %q, want %q", got.Integrity.FailedAction, "delete")
	}
	if len(got.Mirrors) != 2 {
		t.Fatalf("len(Mirrors) = %d, want 2", len(got.Mirrors))
	}
	if got.Mirrors[0].FSRoot != "/mnt/nas/savegames" {
		t.Errorf("Mirrors[0].FSRoot = %q, want %q", got.Mirrors[0].FSRoot, "/mnt/nas/savegames")
	}
	if got.Mirrors[1].S3Bucket != "saves" {
		t.Errorf("Mirrors[1].S3Bucket = %q, want %q", got.Mirrors[1].S3Bucket, "saves")
	}
}

func TestManager_Read_Document(t *testing.T) {
	doc := `
backup_dir = "/srv/saves"

[archivers]
standard = "zipfile"

[backup]
max_versions = 3
checksum_algorithm = "sha256"

[[mirrors]]
type = "memory"
name = "scratch"
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.BackupDir != "/srv/saves" {
		t.Errorf("BackupDir = %q", cfg.BackupDir)
	}
	if cfg.Backup.MaxVersions != 3 {
		t.Errorf("MaxVersions = %d, want 3", cfg.Backup.MaxVersions)
	}
	if len(cfg.Mirrors) != 1 || cfg.Mirrors[0].Type != "memory" {
		t.Errorf("Mirrors = %+v", cfg.Mirrors)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/sgbackup")

	if cfg.BaseDir != "/data/sgbackup" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/sgbackup")
	}
	if cfg.BackupDir != "/data/sgbackup/backups" {
		t.Errorf("BackupDir = %q, want %q", cfg.BackupDir, "/data/sgbackup/backups")
	}
	if cfg.LogDir != "/data/sgbackup/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/sgbackup/log")
	}
	if cfg.Archivers.ExternalDir != "/data/sgbackup/archivers" {
		t.Errorf("Archivers.ExternalDir = %q", cfg.Archivers.ExternalDir)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want sqlite", cfg.Database.Type)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "checksum none", mutate: func(c *Config) { c.Backup.ChecksumAlgorithm = "none" }},
		{name: "checksum empty means none", mutate: func(c *Config) { c.Backup.ChecksumAlgorithm = "" }},
		{name: "unknown checksum", mutate: func(c *Config) { c.Backup.ChecksumAlgorithm = "crc32" }, wantErr: true},
		{name: "unknown missing action", mutate: func(c *Config) { c.Integrity.MissingAction = "repair" }, wantErr: true},
		{name: "create is not a failed action", mutate: func(c *Config) { c.Integrity.FailedAction = "create" }, wantErr: true},
		{name: "bad timeout", mutate: func(c *Config) { c.Archivers.Timeout = "soon" }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.Archivers.Timeout = "-1s" }, wantErr: true},
		{name: "no backup dir", mutate: func(c *Config) { c.BackupDir = "" }, wantErr: true},
		{name: "unknown mirror", mutate: func(c *Config) { c.Mirrors = []MirrorConfig{{Type: "ftp"}} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, sgb.ErrConfigInvalid) {
				t.Errorf("Validate() error = %v, want ErrConfigInvalid", err)
			}
		})
	}
}

func TestArchiversConfig_TimeoutDuration(t *testing.T) {
	d, err := ArchiversConfig{}.TimeoutDuration()
	if err != nil || d != DefaultArchiverTimeout {
		t.Errorf("TimeoutDuration() = %v, %v; want %v", d, err, DefaultArchiverTimeout)
	}
	d, err = ArchiversConfig{Timeout: "90s"}.TimeoutDuration()
	if err != nil || d != 90*time.Second {
		t.Errorf("TimeoutDuration() = %v, %v; want 90s", d, err)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sgbackup.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sgbackup.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sgbackup.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
		if got.BackupDir != cfg.BackupDir {
			t.Errorf("BackupDir = %q, want %q", got.BackupDir, cfg.BackupDir)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/sgbackup.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sgbackup.toml")
	doc := `backup_dir = "/mnt/saves"

[backup]
max_versions = 3

[[mirrors]]
type = "filesystem"
name = "usb"
fs_root = "/media/usb"
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, "/data")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BackupDir != "/mnt/saves" {
		t.Errorf("BackupDir = %q, want /mnt/saves", cfg.BackupDir)
	}
	if cfg.Backup.MaxVersions != 3 {
		t.Errorf("MaxVersions = %d, want 3", cfg.Backup.MaxVersions)
	}
	if cfg.Backup.ChecksumAlgorithm != "sha256" {
		t.Errorf("ChecksumAlgorithm = %q, want default sha256", cfg.Backup.ChecksumAlgorithm)
	}
	if cfg.LogDir != filepath.Join("/data", "log") {
		t.Errorf("LogDir = %q, want default", cfg.LogDir)
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DataDir != "/data" {
		t.Errorf("Database = %+v, want sqlite in /data", cfg.Database)
	}
	if len(cfg.Mirrors) != 1 || cfg.Mirrors[0].FSRoot != "/media/usb" {
		t.Errorf("Mirrors = %+v", cfg.Mirrors)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	if _, err := Load(filepath.Join(dir, "missing.toml"), "/data"); err == nil {
		t.Error("Load() of missing file error = nil")
	}
}
