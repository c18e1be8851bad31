package mirror

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// FileSystemMirror stores copies in a directory, typically on another disk
// or a network mount:
//
//	<root>/
//	  backups/
//	    <savegame>/<file>
//	  metadata/
//	    <name>          (e.g. sgbackup.db)
//	    <name>.version
type FileSystemMirror struct {
	name        string
	root        string
	backupsDir  string
	metadataDir string
}

var _ Mirror = (*FileSystemMirror)(nil)

// NewFileSystemMirror creates a new filesystem mirror rooted at the given path.
func NewFileSystemMirror(name, root string) (*FileSystemMirror, error) {
	backupsDir := filepath.Join(root, "backups")
	metadataDir := filepath.Join(root, "metadata")

	for _, dir := range []string{backupsDir, metadataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "creating mirror directory %s", dir)
		}
	}

	return &FileSystemMirror{
		name:        name,
		root:        root,
		backupsDir:  backupsDir,
		metadataDir: metadataDir,
	}, nil
}

func (m *FileSystemMirror) Name() string { return m.name }

func (m *FileSystemMirror) keyPath(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.backupsDir, filepath.FromSlash(clean)), nil
}

func (m *FileSystemMirror) Put(_ context.Context, key string, r io.Reader, size int64) error {
	dest, err := m.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.Wrap(err, "creating mirror directory")
	}
	return writeFile(dest, r, size)
}

func (m *FileSystemMirror) Get(_ context.Context, key string, w io.Writer) error {
	src, err := m.keyPath(key)
	if err != nil {
		return err
	}
	return readFile(src, w, key)
}

func (m *FileSystemMirror) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(m.backupsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(m.backupsDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing mirror")
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *FileSystemMirror) Delete(_ context.Context, key string) error {
	p, err := m.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "deleting %s", key)
	}
	// drop the savegame directory once it is empty
	_ = os.Remove(filepath.Dir(p))
	return nil
}

func (m *FileSystemMirror) Rename(_ context.Context, oldKey, newKey string) error {
	src, err := m.keyPath(oldKey)
	if err != nil {
		return err
	}
	dst, err := m.keyPath(newKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrap(err, "creating mirror directory")
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(oldKey)
		}
		return errors.Wrapf(err, "renaming %s", oldKey)
	}
	_ = os.Remove(filepath.Dir(src))
	return nil
}

// PutMetadata stores a metadata item along with its version marker.
func (m *FileSystemMirror) PutMetadata(_ context.Context, name string, r io.Reader, size int64, version int64) error {
	if strings.ContainsAny(name, `/\`) {
		return errors.Newf("invalid metadata name %q", name)
	}
	if err := writeFile(filepath.Join(m.metadataDir, name), r, size); err != nil {
		return err
	}
	versionPath := filepath.Join(m.metadataDir, name+".version")
	return os.WriteFile(versionPath, []byte(strconv.FormatInt(version, 10)), 0644)
}

// GetMetadataVersion returns the metadata version. Returns 0 if no version
// file exists.
func (m *FileSystemMirror) GetMetadataVersion(_ context.Context, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(m.metadataDir, name+".version"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "reading version file")
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parsing version")
	}
	return version, nil
}

// ValidateSetup verifies that the mirror directories are accessible.
func (m *FileSystemMirror) ValidateSetup(_ context.Context) error {
	for _, dir := range []string{m.root, m.backupsDir, m.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return errors.Wrap(err, "mirror directory not accessible")
		}
		if !info.IsDir() {
			return errors.Newf("mirror path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes data from r to destPath using atomic write (temp file + rename).
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return errors.Wrap(err, "writing data")
	}
	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	if written != expectedSize {
		return sizeMismatch(expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return errors.Wrap(err, "renaming temp file")
	}

	success = true
	return nil
}

func readFile(srcPath string, w io.Writer, key string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(key)
		}
		return errors.Wrap(err, "opening file")
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return errors.Wrap(err, "reading file")
	}
	return nil
}
