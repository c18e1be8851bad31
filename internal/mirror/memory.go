package mirror

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// MemoryMirror keeps copies in memory. Useful for tests and dry runs.
// This implementation is safe for concurrent use.
type MemoryMirror struct {
	name            string
	objects         map[string][]byte
	metadata        map[string][]byte
	metadataVersion map[string]int64
	mu              sync.RWMutex
}

var _ Mirror = (*MemoryMirror)(nil)

func NewMemoryMirror(name string) *MemoryMirror {
	return &MemoryMirror{
		name:            name,
		objects:         make(map[string][]byte),
		metadata:        make(map[string][]byte),
		metadataVersion: make(map[string]int64),
	}
}

func (m *MemoryMirror) Name() string { return m.name }

func (m *MemoryMirror) Put(_ context.Context, key string, r io.Reader, size int64) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading content")
	}
	if int64(len(data)) != size {
		return sizeMismatch(size, int64(len(data)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *MemoryMirror) Get(_ context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return notFound(key)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return errors.Wrap(err, "writing content")
	}
	return nil
}

func (m *MemoryMirror) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *MemoryMirror) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryMirror) Rename(_ context.Context, oldKey, newKey string) error {
	newKey, err := cleanKey(newKey)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[oldKey]
	if !ok {
		return notFound(oldKey)
	}
	m.objects[newKey] = data
	delete(m.objects, oldKey)
	return nil
}

func (m *MemoryMirror) PutMetadata(_ context.Context, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading metadata")
	}
	if int64(len(data)) != size {
		return sizeMismatch(size, int64(len(data)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[name] = data
	m.metadataVersion[name] = version
	return nil
}

func (m *MemoryMirror) GetMetadataVersion(_ context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadataVersion[name], nil
}

// Metadata returns a stored metadata item.
func (m *MemoryMirror) Metadata(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.metadata[name]
	return data, ok
}

// ValidateSetup always succeeds for an in-memory mirror.
func (m *MemoryMirror) ValidateSetup(context.Context) error {
	return nil
}
