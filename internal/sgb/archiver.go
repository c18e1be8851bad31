package sgb

import (
	"context"
	"slices"
)

// ArchiverKind tells library-backed archivers apart from external programs.
type ArchiverKind string

const (
	KindLibrary  ArchiverKind = "library"
	KindExternal ArchiverKind = "external"
)

// ArchiverDescriptor is the static configuration of one archiver.
type ArchiverDescriptor struct {
	ID              string
	Kind            ArchiverKind
	Extension       string   // canonical, without leading dot
	KnownExtensions []string // always contains Extension

	// External archivers only.
	Executable      string
	BackupCommand   string
	RestoreCommand  string
	ChangeDirectory bool
	Verbose         string // appended as ${VERBOSE} in verbose mode
	Cygpath         string // optional path translation helper
	Multiprocessing bool
	Variables       map[string]string
}

// Extensions returns KnownExtensions with Extension guaranteed to be present.
func (d ArchiverDescriptor) Extensions() []string {
	if slices.Contains(d.KnownExtensions, d.Extension) {
		return d.KnownExtensions
	}
	return append([]string{d.Extension}, d.KnownExtensions...)
}

// Archiver produces and extracts one archive format.
type Archiver interface {
	// Descriptor returns the archiver's static configuration.
	Descriptor() ArchiverDescriptor

	// Backup archives the game's savegame directory into dest.
	// Returns ErrSkippedNoSource if the savegame directory does not exist.
	Backup(ctx context.Context, game *Game, dest string) error

	// Restore extracts src into the game's savegame root, overwriting
	// existing files.
	Restore(ctx context.Context, game *Game, src string) error

	// IsArchiveFile reports whether path is an archive this archiver can read.
	IsArchiveFile(path string) bool
}

// Registry resolves archivers by id or by backup filename.
type Registry interface {
	// Get returns the archiver registered under id.
	Get(id string) (Archiver, error)

	// Standard returns the configured default archiver.
	Standard() (Archiver, error)

	// ResolveForFile picks the archiver whose extensions match path.
	ResolveForFile(path string) (Archiver, error)

	// All returns every registered archiver, sorted by id.
	All() []Archiver
}
