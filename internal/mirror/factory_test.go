package mirror

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"

	"sgbackup/internal/config"
	"sgbackup/internal/sgb"
)

func TestNewMirrorFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.MirrorConfig
		wantErr  error
		wantType string
	}{
		{
			name:     "memory mirror",
			cfg:      config.MirrorConfig{Name: "mem", Type: "memory"},
			wantType: "*mirror.MemoryMirror",
		},
		{
			name:     "filesystem mirror",
			cfg:      config.MirrorConfig{Name: "disk", Type: "filesystem", FSRoot: "ROOT"},
			wantType: "*mirror.FileSystemMirror",
		},
		{
			name:    "filesystem mirror without root",
			cfg:     config.MirrorConfig{Name: "disk", Type: "filesystem"},
			wantErr: sgb.ErrConfigInvalid,
		},
		{
			name:     "s3 mirror",
			cfg:      config.MirrorConfig{Name: "cloud", Type: "s3", S3Bucket: "saves", S3Region: "eu-central-1", S3AccessKeyID: "AKID", S3SecretAccessKey: "secret"},
			wantType: "*mirror.S3Mirror",
		},
		{
			name:    "s3 mirror without bucket",
			cfg:     config.MirrorConfig{Name: "cloud", Type: "s3"},
			wantErr: sgb.ErrConfigInvalid,
		},
		{
			name:    "unknown type",
			cfg:     config.MirrorConfig{Name: "x", Type: "ftp"},
			wantErr: sgb.ErrConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if cfg.FSRoot == "ROOT" {
				cfg.FSRoot = filepath.Join(t.TempDir(), "mirror")
			}

			m, err := NewMirrorFromConfig(context.Background(), cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewMirrorFromConfig() error = %v, want %v", err, tt.wantErr)
				}
				if m != nil {
					t.Errorf("NewMirrorFromConfig() = %v, want nil", m)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewMirrorFromConfig() error = %v", err)
			}
			if got := typeName(m); got != tt.wantType {
				t.Errorf("NewMirrorFromConfig() type = %s, want %s", got, tt.wantType)
			}
			if m.Name() != cfg.Name {
				t.Errorf("Name() = %q, want %q", m.Name(), cfg.Name)
			}
		})
	}
}

func TestS3MirrorKeys(t *testing.T) {
	m, err := NewS3Mirror(context.Background(), config.MirrorConfig{
		Name: "cloud", Type: "s3", S3Bucket: "saves", S3Prefix: "/team/",
		S3Region: "us-east-1", S3AccessKeyID: "AKID", S3SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3Mirror() error = %v", err)
	}

	key, err := m.objectKey("demo/demo.final.0.zip")
	if err != nil {
		t.Fatalf("objectKey() error = %v", err)
	}
	if want := "team/backups/demo/demo.final.0.zip"; key != want {
		t.Errorf("objectKey() = %q, want %q", key, want)
	}
	if got, want := m.metadataKey(DatabaseMetadataName), "team/metadata/sgbackup.db"; got != want {
		t.Errorf("metadataKey() = %q, want %q", got, want)
	}
	if _, err := m.objectKey("../escape"); err == nil {
		t.Error("objectKey() error = nil for escaping key")
	}
}

func TestCopySource(t *testing.T) {
	got := copySource("saves", "backups/my game/a+b.zip")
	want := "saves/backups/my%20game/a+b.zip"
	if got != want {
		t.Errorf("copySource() = %q, want %q", got, want)
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *MemoryMirror:
		return "*mirror.MemoryMirror"
	case *FileSystemMirror:
		return "*mirror.FileSystemMirror"
	case *S3Mirror:
		return "*mirror.S3Mirror"
	}
	return "unknown"
}
