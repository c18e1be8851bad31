package fs

import (
	iofs "io/fs"
	"path"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Entry is one file or directory of a savegame tree.
type Entry struct {
	// Name is the archive member name: slash-separated, relative to the
	// savegame root and starting with the savegame directory.
	Name    string
	AbsPath string
	Info    iofs.FileInfo
}

// WalkTree lists root/dir and everything below it in lexical order. The
// directory itself is the first entry, unless dir is "." and the tree is
// the root itself. Ignored files are dropped and
// ignored directories are not descended into. Symlinks and other special
// files are skipped.
func WalkTree(root, dir string, matcher *IgnoreMatcher) ([]Entry, error) {
	base := filepath.Join(root, dir)
	prefix := filepath.ToSlash(filepath.Clean(dir))

	var entries []Entry
	err := filepath.WalkDir(base, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		if rel != "." && matcher != nil && matcher.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return errors.Wrapf(err, "stat %s", p)
		}
		name := prefix
		if rel != "." {
			name = path.Join(prefix, filepath.ToSlash(rel))
		} else if prefix == "." {
			// the savegame dir is the root itself
			return nil
		}
		entries = append(entries, Entry{Name: name, AbsPath: p, Info: info})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", base)
	}
	return entries, nil
}
