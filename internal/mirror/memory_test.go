package mirror

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"

	"sgbackup/internal/sgb"
)

func TestMemoryMirror_PutGet(t *testing.T) {
	m := NewMemoryMirror("mem")
	ctx := context.Background()

	if err := m.Put(ctx, "demo/a.zip", strings.NewReader("hello"), 5); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	var buf bytes.Buffer
	if err := m.Get(ctx, "demo/a.zip", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "hello" {
		t.Errorf("Get() = %q, want %q", buf.String(), "hello")
	}

	if err := m.Get(ctx, "demo/missing.zip", &buf); !errors.Is(err, sgb.ErrNotFound) {
		t.Errorf("Get() missing error = %v, want ErrNotFound", err)
	}
	if err := m.Put(ctx, "demo/b.zip", strings.NewReader("hello"), 3); err == nil {
		t.Error("Put() with wrong size error = nil, want error")
	}
}

func TestMemoryMirror_ListDeleteRename(t *testing.T) {
	m := NewMemoryMirror("mem")
	ctx := context.Background()

	for _, k := range []string{"demo/b.zip", "demo/a.zip", "other/a.zip"} {
		if err := m.Put(ctx, k, strings.NewReader("x"), 1); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
	}

	got, err := m.List(ctx, "demo/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if want := []string{"demo/a.zip", "demo/b.zip"}; !slices.Equal(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}

	if err := m.Delete(ctx, "demo/a.zip"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := m.Delete(ctx, "demo/a.zip"); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}

	if err := m.Rename(ctx, "demo/b.zip", "renamed/b.zip"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if err := m.Rename(ctx, "demo/b.zip", "renamed/c.zip"); !errors.Is(err, sgb.ErrNotFound) {
		t.Errorf("Rename() of missing key error = %v, want ErrNotFound", err)
	}

	got, err = m.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if want := []string{"other/a.zip", "renamed/b.zip"}; !slices.Equal(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestMemoryMirror_Metadata(t *testing.T) {
	m := NewMemoryMirror("mem")
	ctx := context.Background()

	if err := m.PutMetadata(ctx, DatabaseMetadataName, strings.NewReader("db"), 2, 7); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}
	version, err := m.GetMetadataVersion(ctx, DatabaseMetadataName)
	if err != nil {
		t.Fatalf("GetMetadataVersion() error = %v", err)
	}
	if version != 7 {
		t.Errorf("GetMetadataVersion() = %d, want 7", version)
	}
	data, ok := m.Metadata(DatabaseMetadataName)
	if !ok || string(data) != "db" {
		t.Errorf("Metadata() = %q, %v, want %q, true", data, ok, "db")
	}
}

func TestMemoryMirror_Concurrent(t *testing.T) {
	m := NewMemoryMirror("mem")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "demo/" + strings.Repeat("x", i+1)
			if err := m.Put(ctx, key, strings.NewReader("data"), 4); err != nil {
				t.Errorf("Put() error = %v", err)
			}
			if _, err := m.List(ctx, "demo/"); err != nil {
				t.Errorf("List() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	keys, err := m.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 20 {
		t.Errorf("len(List()) = %d, want 20", len(keys))
	}
}
