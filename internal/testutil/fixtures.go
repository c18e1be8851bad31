package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"sgbackup/internal/sgb"
)

// NewGame returns a game whose savegames live in root/<dir>. Nothing is
// created on disk.
func NewGame(id, savegameName, root, dir string) *sgb.Game {
	return &sgb.Game{
		ID:           id,
		Name:         id,
		SavegameName: savegameName,
		SavegameRoot: root,
		SavegameDir:  dir,
	}
}

// WriteTree creates files below root. Keys are slash-separated relative
// paths, values the file contents.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", name, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
}

// ReadTree returns every regular file below root keyed by its
// slash-separated relative path.
func ReadTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("reading tree %s: %v", root, err)
	}
	return out
}

// RecordingListener keeps every event it receives.
type RecordingListener struct {
	mu     sync.Mutex
	events []sgb.Event
	Err    error // returned from HandleEvent when set
}

func (l *RecordingListener) HandleEvent(_ context.Context, ev sgb.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return l.Err
}

// Events returns a copy of the recorded events.
func (l *RecordingListener) Events() []sgb.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sgb.Event(nil), l.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (l *RecordingListener) Kinds() []sgb.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]sgb.EventKind, len(l.events))
	for i, ev := range l.events {
		kinds[i] = ev.Kind
	}
	return kinds
}
