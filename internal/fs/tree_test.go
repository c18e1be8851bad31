package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir for %s: %v", name, err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestWalkTree(t *testing.T) {
	t.Run("lists directory, files and empty directories", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{
			"saves/a.txt":       "a",
			"saves/slot1/b.sav": "b",
		}, "saves/empty")

		entries, err := WalkTree(root, "saves", nil)
		if err != nil {
			t.Fatalf("WalkTree() error = %v", err)
		}

		want := []string{"saves", "saves/a.txt", "saves/empty", "saves/slot1", "saves/slot1/b.sav"}
		got := names(entries)
		if len(got) != len(want) {
			t.Fatalf("WalkTree() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
			}
		}
		if !entries[0].Info.IsDir() {
			t.Error("first entry should be the savegame directory")
		}
	})

	t.Run("nested savegame dir keeps its full relative name", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{"profiles/p1/save.dat": "x"})

		entries, err := WalkTree(root, filepath.Join("profiles", "p1"), nil)
		if err != nil {
			t.Fatalf("WalkTree() error = %v", err)
		}
		got := names(entries)
		if len(got) != 2 || got[1] != "profiles/p1/save.dat" {
			t.Errorf("WalkTree() = %v", got)
		}
	})

	t.Run("applies ignore patterns", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{
			"saves/a.txt":         "a",
			"saves/crash.log":     "log",
			"saves/cache/tex.bin": "bin",
			"saves/.sgbignore":    "*.log\ncache\n",
		})

		m, err := LoadIgnoreMatcher(filepath.Join(root, "saves"), nil)
		if err != nil {
			t.Fatalf("LoadIgnoreMatcher() error = %v", err)
		}
		entries, err := WalkTree(root, "saves", m)
		if err != nil {
			t.Fatalf("WalkTree() error = %v", err)
		}
		got := names(entries)
		if len(got) != 2 || got[0] != "saves" || got[1] != "saves/a.txt" {
			t.Errorf("WalkTree() = %v, want [saves saves/a.txt]", got)
		}
	})

	t.Run("dot dir omits the root entry", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{"a.txt": "a", "slot1/b.sav": "b"})

		entries, err := WalkTree(root, ".", nil)
		if err != nil {
			t.Fatalf("WalkTree() error = %v", err)
		}
		want := []string{"a.txt", "slot1", "slot1/b.sav"}
		got := names(entries)
		if len(got) != len(want) {
			t.Fatalf("WalkTree() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("missing directory is an error", func(t *testing.T) {
		t.Parallel()
		if _, err := WalkTree(t.TempDir(), "nope", nil); err == nil {
			t.Error("WalkTree() expected error for missing directory")
		}
	})
}
