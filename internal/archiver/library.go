package archiver

import (
	"context"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"sgbackup/internal/fs"
	"sgbackup/internal/sgb"
)

// libraryBase holds what the zip and tar archivers share: the descriptor,
// ignore patterns and the pre/post steps around writing an archive.
type libraryBase struct {
	desc   sgb.ArchiverDescriptor
	ignore []string
	logger sgb.Logger
}

func (b *libraryBase) Descriptor() sgb.ArchiverDescriptor { return b.desc }

// collect lists the savegame tree or reports ErrSkippedNoSource.
func (b *libraryBase) collect(game *sgb.Game) ([]fs.Entry, error) {
	source := game.SourcePath()
	info, err := os.Stat(source)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, errors.Wrapf(sgb.ErrSkippedNoSource, "%s", source)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", source)
	}
	if !info.IsDir() {
		return nil, errors.Newf("savegame path %s is not a directory", source)
	}

	matcher, err := fs.LoadIgnoreMatcher(source, b.ignore)
	if err != nil {
		return nil, err
	}
	return fs.WalkTree(game.Root(), game.Dir(), matcher)
}

// writeAtomic creates dest through a temporary file in the same directory.
// dest only appears once write succeeded; on failure nothing is left behind.
func writeAtomic(dest string, write func(w io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "creating backup directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-"+filepath.Base(dest)+"-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "syncing archive")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing archive")
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return errors.Wrap(err, "moving archive into place")
	}
	return nil
}

// checkSource verifies a backup exists before extraction.
func checkSource(src string) error {
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return errors.Mark(errors.Wrapf(sgb.ErrRestoreFailed, "backup %s does not exist", src), sgb.ErrNotFound)
		}
		return errors.Wrapf(sgb.ErrRestoreFailed, "stat %s: %v", src, err)
	}
	return nil
}

// memberPath maps an archive member name into root, rejecting names that
// would escape it. A bare "." member is root itself.
func memberPath(root, name string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(filepath.ToSlash(name), "./"))
	if clean == "." {
		return root, nil
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.Newf("archive member %q is outside the savegame root", name)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

func extractFile(target string, r io.Reader, mode iofs.FileMode, modTime time.Time) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", target)
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return errors.Wrapf(err, "creating %s", target)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", target)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", target)
	}
	if !modTime.IsZero() {
		_ = os.Chtimes(target, modTime, modTime)
	}
	return nil
}

func extractDir(target string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return errors.Wrapf(err, "creating directory %s", target)
	}
	return nil
}

// restoreErr wraps extraction failures in ErrRestoreFailed.
func restoreErr(err error, src string) error {
	if err == nil || errors.Is(err, sgb.ErrRestoreFailed) {
		return err
	}
	return errors.Mark(errors.Wrapf(err, "extracting %s", src), sgb.ErrRestoreFailed)
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "archiving interrupted")
	}
	return nil
}
