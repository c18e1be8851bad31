package app

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"sgbackup/internal/config"
	"sgbackup/internal/mirror"
	"sgbackup/internal/testutil"
)

func TestMirroredBackupAndDatabaseSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: cfg.BaseDir}
	cfg.Backup.WriteSidecar = true
	mirrorRoot := filepath.Join(t.TempDir(), "mirror")
	cfg.Mirrors = []config.MirrorConfig{{Type: "filesystem", Name: "usb", FSRoot: mirrorRoot}}

	a := openApp(t, cfg, "Backup", testutil.FixedClock())
	addGame(t, a, "demo")
	r := backup(t, a, "demo")
	opID := a.op.ID

	statuses := a.CheckMirrors(ctx)
	if len(statuses) != 1 {
		t.Fatalf("CheckMirrors() = %d statuses, want 1", len(statuses))
	}
	if statuses[0].Name != "usb" || statuses[0].Err != nil {
		t.Errorf("CheckMirrors()[0] = %+v, want usb reachable", statuses[0])
	}
	closeApp(t, a)

	name := filepath.Base(r.Path)
	for _, p := range []string{
		filepath.Join(mirrorRoot, "backups", "demo", name),
		filepath.Join(mirrorRoot, "backups", "demo", name+".sha256"),
		filepath.Join(mirrorRoot, "metadata", mirror.DatabaseMetadataName),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("mirror is missing %s: %v", p, err)
		}
	}
	version, err := os.ReadFile(filepath.Join(mirrorRoot, "metadata", mirror.DatabaseMetadataName+".version"))
	if err != nil {
		t.Fatalf("reading snapshot version: %v", err)
	}
	got, err := strconv.ParseInt(string(version), 10, 64)
	if err != nil {
		t.Fatalf("parsing snapshot version %q: %v", version, err)
	}
	if got != opID {
		t.Errorf("snapshot version = %d, want %d", got, opID)
	}

	// the same database is in step with the mirror
	closeApp(t, openApp(t, cfg, "ListBackups", testutil.FixedClock()))

	// a fresh database is behind it
	fresh := *cfg
	fresh.Database = config.DatabaseConfig{Type: "sqlite", DataDir: t.TempDir()}
	_, err = NewSGBApp(ctx, &fresh, "ListBackups", Options{})
	if err == nil || !strings.Contains(err.Error(), "behind mirror usb") {
		t.Errorf("NewSGBApp() error = %v, want behind mirror usb", err)
	}
}

func TestReadOnlyCommandSkipsSnapshot(t *testing.T) {
	cfg := testConfig(t)
	mirrorRoot := filepath.Join(t.TempDir(), "mirror")
	cfg.Mirrors = []config.MirrorConfig{{Type: "filesystem", Name: "usb", FSRoot: mirrorRoot}}

	a := openApp(t, cfg, "Archivers", testutil.FixedClock())
	a.Archivers()
	closeApp(t, a)

	if _, err := os.Stat(filepath.Join(mirrorRoot, "metadata", mirror.DatabaseMetadataName)); !os.IsNotExist(err) {
		t.Errorf("database snapshot uploaded by a read-only command (stat error = %v)", err)
	}
}
