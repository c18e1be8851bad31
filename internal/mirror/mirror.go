// Package mirror copies backup files to secondary storage. A Listener
// subscribed to the orchestrator keeps a Mirror in step with the local
// backup directory; the database snapshot is stored as metadata.
package mirror

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"sgbackup/internal/sgb"
)

// Mirror provides an interface for backup storage backends.
// All operations use io.Reader/io.Writer for streaming so large archives
// are never loaded into memory.
//
// Keys are slash-separated "{savegame}/{file}" paths, see BackupKey.
type Mirror interface {
	// Name identifies the mirror in logs and history.
	Name() string

	// Put stores size bytes read from r under key, replacing any
	// existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the object stored under key to w. Returns sgb.ErrNotFound
	// for unknown keys.
	Get(ctx context.Context, key string, w io.Writer) error

	// List returns every key starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Rename moves an object to a new key.
	Rename(ctx context.Context, oldKey, newKey string) error

	// PutMetadata stores a named metadata item with a version marker.
	// Known names: "sgbackup.db" (database snapshot).
	PutMetadata(ctx context.Context, name string, r io.Reader, size int64, version int64) error

	// GetMetadataVersion returns the version stored with a metadata item,
	// or 0 if there is none.
	GetMetadataVersion(ctx context.Context, name string) (int64, error)

	// ValidateSetup verifies that the mirror is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

// BackupKey maps a local backup path to its mirror key: the savegame
// directory and the file name.
func BackupKey(backupPath string) string {
	return path.Join(filepath.Base(filepath.Dir(backupPath)), filepath.Base(backupPath))
}

// cleanKey rejects keys that are empty or would leave the mirror root.
func cleanKey(key string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(key, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.Newf("invalid mirror key %q", key)
	}
	return clean, nil
}

// PutFile uploads the local file at localPath under key.
func PutFile(ctx context.Context, m Mirror, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", localPath)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", localPath)
	}
	return m.Put(ctx, key, f, info.Size())
}

// PutMetadataFile uploads the local file at localPath as metadata item name.
func PutMetadataFile(ctx context.Context, m Mirror, name, localPath string, version int64) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", localPath)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", localPath)
	}
	return m.PutMetadata(ctx, name, f, info.Size(), version)
}

// sizeMismatch is returned when a reader yields a different number of
// bytes than announced.
func sizeMismatch(want, got int64) error {
	return errors.Newf("size mismatch: expected %d bytes, got %d", want, got)
}

func notFound(what string) error {
	return errors.Wrapf(sgb.ErrNotFound, "%s", what)
}
