package archiver

import (
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zip"

	"sgbackup/internal/sgb"
)

// ZipID is the id of the built-in zip archiver.
const ZipID = "zipfile"

// ZipArchiver writes deflate-compressed zip files.
type ZipArchiver struct {
	libraryBase
}

var _ sgb.Archiver = (*ZipArchiver)(nil)

func NewZipArchiver(ignore []string, logger sgb.Logger) *ZipArchiver {
	return &ZipArchiver{libraryBase{
		desc: sgb.ArchiverDescriptor{
			ID:              ZipID,
			Kind:            sgb.KindLibrary,
			Extension:       "zip",
			KnownExtensions: []string{"zip"},
		},
		ignore: ignore,
		logger: logger,
	}}
}

func (a *ZipArchiver) Backup(ctx context.Context, game *sgb.Game, dest string) error {
	entries, err := a.collect(game)
	if err != nil {
		return err
	}

	return writeAtomic(dest, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		for _, e := range entries {
			if err := checkCtx(ctx); err != nil {
				return err
			}
			hdr, err := zip.FileInfoHeader(e.Info)
			if err != nil {
				return errors.Wrapf(err, "zip header for %s", e.Name)
			}
			hdr.Name = e.Name
			if e.Info.IsDir() {
				hdr.Name += "/"
				hdr.Method = zip.Store
				if _, err := zw.CreateHeader(hdr); err != nil {
					return errors.Wrapf(err, "adding %s", e.Name)
				}
				continue
			}
			hdr.Method = zip.Deflate
			fw, err := zw.CreateHeader(hdr)
			if err != nil {
				return errors.Wrapf(err, "adding %s", e.Name)
			}
			if err := copyFile(fw, e.AbsPath); err != nil {
				return err
			}
		}
		if err := zw.Close(); err != nil {
			return errors.Wrap(err, "finishing zip")
		}
		a.logger.Debug("zip written", "dest", dest, "entries", len(entries))
		return nil
	})
}

func (a *ZipArchiver) Restore(ctx context.Context, game *sgb.Game, src string) error {
	if err := checkSource(src); err != nil {
		return err
	}
	root := game.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return restoreErr(errors.Wrap(err, "creating savegame root"), src)
	}

	zr, err := zip.OpenReader(src)
	if err != nil {
		return restoreErr(err, src)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := checkCtx(ctx); err != nil {
			return restoreErr(err, src)
		}
		target, err := memberPath(root, f.Name)
		if err != nil {
			return restoreErr(err, src)
		}
		if f.FileInfo().IsDir() {
			if err := extractDir(target); err != nil {
				return restoreErr(err, src)
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return restoreErr(errors.Wrapf(err, "opening member %s", f.Name), src)
		}
		err = extractFile(target, rc, f.Mode(), f.Modified)
		rc.Close()
		if err != nil {
			return restoreErr(err, src)
		}
	}
	a.logger.Debug("zip extracted", "src", src, "root", root, "entries", len(zr.File))
	return nil
}

// IsArchiveFile reports whether path has a readable zip central directory.
func (a *ZipArchiver) IsArchiveFile(path string) bool {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	zr.Close()
	return true
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return errors.Wrapf(err, "copying %s", path)
	}
	return nil
}
