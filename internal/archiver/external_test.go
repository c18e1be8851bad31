package archiver

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"sgbackup/internal/sgb"
	"sgbackup/internal/testutil"
)

const sevenZipDescriptor = `# 7-Zip
[archiver]
name = 7z
executable = /usr/bin/7z
extension = .7z
altExtensions = 7zip; 7-zip
backupArgs = a -r ${VERBOSE} "${FILENAME}" "${SAVEGAME_DIR}"
restoreArgs = x -y "-o${SAVEGAME_ROOT}" "${FILENAME}"
changeDirectory = true
verbose = -bb1
multiprocessing = yes

[variables]
LEVEL = -mx=${QUALITY}
`

func TestParseDescriptor(t *testing.T) {
	t.Run("full descriptor", func(t *testing.T) {
		desc, err := ParseDescriptor([]byte(sevenZipDescriptor))
		if err != nil {
			t.Fatalf("ParseDescriptor() error = %v", err)
		}

		want := sgb.ArchiverDescriptor{
			ID:              "7z",
			Kind:            sgb.KindExternal,
			Executable:      "/usr/bin/7z",
			Extension:       "7z",
			KnownExtensions: []string{"7z", "7zip", "7-zip"},
			BackupCommand:   `a -r ${VERBOSE} "${FILENAME}" "${SAVEGAME_DIR}"`,
			RestoreCommand:  `x -y "-o${SAVEGAME_ROOT}" "${FILENAME}"`,
			ChangeDirectory: true,
			Multiprocessing: true,
			Verbose:         "-bb1",
			Variables:       map[string]string{"LEVEL": "-mx=${QUALITY}"},
		}
		if desc.ID != want.ID || desc.Kind != want.Kind || desc.Executable != want.Executable || desc.Extension != want.Extension {
			t.Errorf("ParseDescriptor() = %+v, want %+v", desc, want)
		}
		if !reflect.DeepEqual(desc.KnownExtensions, want.KnownExtensions) {
			t.Errorf("KnownExtensions = %v, want %v", desc.KnownExtensions, want.KnownExtensions)
		}
		if desc.BackupCommand != want.BackupCommand || desc.RestoreCommand != want.RestoreCommand {
			t.Errorf("commands = %q / %q, want %q / %q", desc.BackupCommand, desc.RestoreCommand, want.BackupCommand, want.RestoreCommand)
		}
		if !desc.ChangeDirectory || !desc.Multiprocessing || desc.Verbose != want.Verbose {
			t.Errorf("flags = changeDirectory %v, multiprocessing %v, verbose %q", desc.ChangeDirectory, desc.Multiprocessing, desc.Verbose)
		}
		if !reflect.DeepEqual(desc.Variables, want.Variables) {
			t.Errorf("Variables = %v, want %v", desc.Variables, want.Variables)
		}
	})

	t.Run("command aliases", func(t *testing.T) {
		desc, err := ParseDescriptor([]byte("[archiver]\nname = rar\nexecutable = rar\nextension = rar\ncreate = a ${FILENAME}\nextract = x ${FILENAME}\n"))
		if err != nil {
			t.Fatalf("ParseDescriptor() error = %v", err)
		}
		if desc.BackupCommand != "a ${FILENAME}" {
			t.Errorf("BackupCommand = %q, want %q", desc.BackupCommand, "a ${FILENAME}")
		}
		if desc.RestoreCommand != "x ${FILENAME}" {
			t.Errorf("RestoreCommand = %q, want %q", desc.RestoreCommand, "x ${FILENAME}")
		}
		if desc.ChangeDirectory {
			t.Error("ChangeDirectory = true, want false")
		}
	})

	tests := []struct {
		name    string
		content string
	}{
		{"no archiver section", "[variables]\nA = b\n"},
		{"missing name", "[archiver]\nexecutable = 7z\nextension = 7z\nbackupArgs = a\n"},
		{"missing executable", "[archiver]\nname = 7z\nextension = 7z\nbackupArgs = a\n"},
		{"missing extension", "[archiver]\nname = 7z\nexecutable = 7z\nbackupArgs = a\n"},
		{"missing backup command", "[archiver]\nname = 7z\nexecutable = 7z\nextension = 7z\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDescriptor([]byte(tt.content)); !errors.Is(err, sgb.ErrConfigInvalid) {
				t.Errorf("ParseDescriptor() error = %v, want ErrConfigInvalid", err)
			}
		})
	}
}

func TestExternalArchiverVariables(t *testing.T) {
	root := t.TempDir()
	game := testutil.NewGame("demo", "demo", root, "${SLOT}")
	game.Variables = map[string]string{"SLOT": "saves", "QUALITY": "9"}
	desc, err := ParseDescriptor([]byte(sevenZipDescriptor))
	if err != nil {
		t.Fatalf("ParseDescriptor() error = %v", err)
	}

	t.Run("change directory", func(t *testing.T) {
		a := NewExternalArchiver(desc, ExternalOptions{Verbose: true}, sgb.NewNopLogger())
		vars, err := a.variables(context.Background(), game, "/b/demo.7z")
		if err != nil {
			t.Fatalf("variables() error = %v", err)
		}
		want := map[string]string{
			"FILENAME":      "/b/demo.7z",
			"SAVEGAME_ROOT": root,
			"ROOT_DIR":      root,
			"SAVEGAME_DIR":  "saves",
			"BACKUP_DIR":    "saves",
			"VERBOSE":       "-bb1",
			"PROCESS_MAX":   strconv.Itoa(runtime.NumCPU()),
			"LEVEL":         "-mx=9",
			"QUALITY":       "9",
		}
		for k, v := range want {
			if vars[k] != v {
				t.Errorf("variables()[%s] = %q, want %q", k, vars[k], v)
			}
		}
	})

	t.Run("absolute savegame dir", func(t *testing.T) {
		d := desc
		d.ChangeDirectory = false
		d.Multiprocessing = false
		a := NewExternalArchiver(d, ExternalOptions{}, sgb.NewNopLogger())
		vars, err := a.variables(context.Background(), game, "/b/demo.7z")
		if err != nil {
			t.Fatalf("variables() error = %v", err)
		}
		want := map[string]string{
			"SAVEGAME_DIR": filepath.Join(root, "saves"),
			"VERBOSE":      "",
			"PROCESS_MAX":  "1",
		}
		for k, v := range want {
			if vars[k] != v {
				t.Errorf("variables()[%s] = %q, want %q", k, vars[k], v)
			}
		}
	})
}

func shellArchiver(t *testing.T, backup, restore string, opts ExternalOptions) *ExternalArchiver {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	return NewExternalArchiver(sgb.ArchiverDescriptor{
		ID:             "shell",
		Executable:     "/bin/sh",
		Extension:      "arc",
		BackupCommand:  backup,
		RestoreCommand: restore,
	}, opts, sgb.NewNopLogger())
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return string(data)
}

func TestExternalArchiverBackupAndRestore(t *testing.T) {
	a := shellArchiver(t,
		`-c 'cp "$1/a.txt" "$0"' "${FILENAME}" "${SAVEGAME_DIR}"`,
		`-c 'cp "$0" "$1/restored.txt"' "${FILENAME}" "${SAVEGAME_ROOT}"`,
		ExternalOptions{Timeout: time.Minute})

	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"saves/a.txt": "alpha"})
	game := testutil.NewGame("demo", "demo", root, "saves")
	dest := filepath.Join(t.TempDir(), "demo", "demo.20240115-103000.arc")

	if err := a.Backup(context.Background(), game, dest); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if got := readFile(t, dest); got != "alpha" {
		t.Errorf("backup content = %q, want %q", got, "alpha")
	}
	if !a.IsArchiveFile(dest) {
		t.Errorf("IsArchiveFile(%s) = false, want true", dest)
	}
	if a.IsArchiveFile(dest + ".sha256") {
		t.Errorf("IsArchiveFile(%s.sha256) = true, want false", dest)
	}

	if err := a.Restore(context.Background(), game, dest); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := readFile(t, filepath.Join(root, "restored.txt")); got != "alpha" {
		t.Errorf("restored content = %q, want %q", got, "alpha")
	}
}

func TestExternalArchiverFailures(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"saves/a.txt": "alpha"})
	game := testutil.NewGame("demo", "demo", root, "saves")

	t.Run("non-zero exit", func(t *testing.T) {
		a := shellArchiver(t, `-c 'echo partial > "$0"; echo boom >&2; exit 3' "${FILENAME}"`, "", ExternalOptions{})
		dest := filepath.Join(t.TempDir(), "demo.arc")

		err := a.Backup(context.Background(), game, dest)
		if !errors.Is(err, sgb.ErrBackupFailed) {
			t.Fatalf("Backup() error = %v, want ErrBackupFailed", err)
		}
		for _, want := range []string{"exited with code 3", "boom"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("Backup() error = %q, want it to contain %q", err, want)
			}
		}
		if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("partial archive still present: Stat() error = %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		a := shellArchiver(t, `-c 'exec sleep 10'`, "", ExternalOptions{Timeout: 100 * time.Millisecond})
		start := time.Now()
		err := a.Backup(context.Background(), game, filepath.Join(t.TempDir(), "demo.arc"))
		if !errors.Is(err, sgb.ErrBackupFailed) || !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Backup() error = %v, want ErrBackupFailed and DeadlineExceeded", err)
		}
		if !strings.Contains(err.Error(), "timed out") {
			t.Errorf("Backup() error = %q, want it to mention the timeout", err)
		}
		if d := time.Since(start); d > 8*time.Second {
			t.Errorf("Backup() took %s, want the process killed", d)
		}
	})

	t.Run("caller deadline without timeout", func(t *testing.T) {
		a := shellArchiver(t, `-c 'exec sleep 10'`, "", ExternalOptions{})
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err := a.Backup(ctx, game, filepath.Join(t.TempDir(), "demo.arc"))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Backup() error = %v, want DeadlineExceeded", err)
		}
		if strings.Contains(err.Error(), "after 0s") {
			t.Errorf("Backup() error = %q, want the elapsed time", err)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		a := shellArchiver(t, `-c 'true'`, "", ExternalOptions{})
		missing := testutil.NewGame("demo", "demo", root, "nope")
		err := a.Backup(context.Background(), missing, filepath.Join(t.TempDir(), "demo.arc"))
		if !errors.Is(err, sgb.ErrSkippedNoSource) {
			t.Errorf("Backup() error = %v, want ErrSkippedNoSource", err)
		}
	})

	t.Run("no restore command", func(t *testing.T) {
		a := shellArchiver(t, `-c 'true'`, "", ExternalOptions{})
		src := filepath.Join(t.TempDir(), "demo.arc")
		if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		err := a.Restore(context.Background(), game, src)
		if !errors.Is(err, sgb.ErrRestoreFailed) || !errors.Is(err, sgb.ErrConfigInvalid) {
			t.Errorf("Restore() error = %v, want ErrRestoreFailed and ErrConfigInvalid", err)
		}
	})
}
