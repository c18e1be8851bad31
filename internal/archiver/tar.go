package archiver

import (
	"archive/tar"
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"sgbackup/internal/sgb"
)

// Compression is the stream filter wrapped around a tar archive.
type Compression string

const (
	CompressNone  Compression = ""
	CompressGzip  Compression = "gz"
	CompressBzip2 Compression = "bz2"
	CompressXz    Compression = "xz"
	CompressZstd  Compression = "zst"
)

// TarID returns the archiver id for a compression, e.g. "tarfile:xz".
func TarID(c Compression) string {
	if c == CompressNone {
		return "tarfile"
	}
	return "tarfile:" + string(c)
}

var tarExtensions = map[Compression][]string{
	CompressNone:  {"tar"},
	CompressGzip:  {"tar.gz", "tgz"},
	CompressBzip2: {"tar.bz2", "tbz2", "tbz"},
	CompressXz:    {"tar.xz", "txz"},
	CompressZstd:  {"tar.zst", "tzst"},
}

func (c Compression) writer(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressNone:
		return nopWriteCloser{w}, nil
	case CompressGzip:
		return gzip.NewWriter(w), nil
	case CompressBzip2:
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	case CompressXz:
		return xz.NewWriter(w)
	case CompressZstd:
		return zstd.NewWriter(w)
	}
	return nil, errors.Wrapf(sgb.ErrConfigInvalid, "unknown tar compression %q", string(c))
}

func (c Compression) reader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressNone:
		return io.NopCloser(r), nil
	case CompressGzip:
		return gzip.NewReader(r)
	case CompressBzip2:
		return bzip2.NewReader(r, &bzip2.ReaderConfig{})
	case CompressXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case CompressZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}
	return nil, errors.Wrapf(sgb.ErrConfigInvalid, "unknown tar compression %q", string(c))
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// TarArchiver writes tar archives with an optional compression filter.
type TarArchiver struct {
	libraryBase
	compression Compression
}

var _ sgb.Archiver = (*TarArchiver)(nil)

func NewTarArchiver(c Compression, ignore []string, logger sgb.Logger) *TarArchiver {
	exts := tarExtensions[c]
	return &TarArchiver{
		libraryBase: libraryBase{
			desc: sgb.ArchiverDescriptor{
				ID:              TarID(c),
				Kind:            sgb.KindLibrary,
				Extension:       exts[0],
				KnownExtensions: exts,
			},
			ignore: ignore,
			logger: logger,
		},
		compression: c,
	}
}

func (a *TarArchiver) Backup(ctx context.Context, game *sgb.Game, dest string) error {
	entries, err := a.collect(game)
	if err != nil {
		return err
	}

	return writeAtomic(dest, func(w io.Writer) error {
		cw, err := a.compression.writer(w)
		if err != nil {
			return errors.Wrap(err, "creating compressor")
		}
		tw := tar.NewWriter(cw)
		for _, e := range entries {
			if err := checkCtx(ctx); err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(e.Info, "")
			if err != nil {
				return errors.Wrapf(err, "tar header for %s", e.Name)
			}
			hdr.Name = e.Name
			if e.Info.IsDir() {
				hdr.Name += "/"
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return errors.Wrapf(err, "adding %s", e.Name)
			}
			if e.Info.IsDir() {
				continue
			}
			if err := copyFile(tw, e.AbsPath); err != nil {
				return err
			}
		}
		if err := tw.Close(); err != nil {
			return errors.Wrap(err, "finishing tar")
		}
		if err := cw.Close(); err != nil {
			return errors.Wrap(err, "finishing compression")
		}
		a.logger.Debug("tar written", "dest", dest, "compression", string(a.compression), "entries", len(entries))
		return nil
	})
}

func (a *TarArchiver) Restore(ctx context.Context, game *sgb.Game, src string) error {
	if err := checkSource(src); err != nil {
		return err
	}
	root := game.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return restoreErr(errors.Wrap(err, "creating savegame root"), src)
	}

	f, err := os.Open(src)
	if err != nil {
		return restoreErr(err, src)
	}
	defer f.Close()
	cr, err := a.compression.reader(f)
	if err != nil {
		return restoreErr(errors.Wrap(err, "opening decompressor"), src)
	}
	defer cr.Close()

	tr := tar.NewReader(cr)
	count := 0
	for {
		if err := checkCtx(ctx); err != nil {
			return restoreErr(err, src)
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restoreErr(errors.Wrap(err, "reading tar"), src)
		}
		target, err := memberPath(root, hdr.Name)
		if err != nil {
			return restoreErr(err, src)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			err = extractDir(target)
		case tar.TypeReg:
			err = extractFile(target, tr, hdr.FileInfo().Mode(), hdr.ModTime)
		default:
			a.logger.Debug("skipping tar member", "name", hdr.Name, "type", string(hdr.Typeflag))
			continue
		}
		if err != nil {
			return restoreErr(err, src)
		}
		count++
	}
	a.logger.Debug("tar extracted", "src", src, "root", root, "entries", count)
	return nil
}

// IsArchiveFile reports whether path decompresses and yields a tar header.
func (a *TarArchiver) IsArchiveFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	cr, err := a.compression.reader(f)
	if err != nil {
		return false
	}
	defer cr.Close()
	_, err = tar.NewReader(cr).Next()
	return err == nil
}
