package sgb

import "time"

// ExtraFile is a sidecar stored next to a backup, such as a detached
// checksum file. Transferred is set once a mirror holds a copy.
type ExtraFile struct {
	Name        string
	Transferred bool
}

// BackupRecord is the ledger entry for one backup file.
type BackupRecord struct {
	GameID     string
	Filename   string // basename; the directory follows from the savegame name
	Algorithm  string
	Digest     string
	CreatedAt  time.Time
	ExtraFiles []ExtraFile
}

// Ledger persists checksums keyed by (game id, backup filename).
type Ledger interface {
	// Record inserts or replaces the checksum of a backup file.
	Record(gameID, filename, algorithm, digest string) error

	// Lookup returns the record for a backup file, or nil if there is none.
	Lookup(gameID, filename string) (*BackupRecord, error)

	// Delete removes a record and its extra files. Deleting a missing
	// record is not an error.
	Delete(gameID, filename string) error

	// Rename moves a record to a new filename. Extra file names that start
	// with oldFilename are rewritten to start with newFilename. The old key
	// disappears only if the new key was written.
	Rename(gameID, oldFilename, newFilename string) error

	// List returns every record for a game sorted by filename.
	List(gameID string) ([]*BackupRecord, error)

	// AttachExtraFile adds or replaces an extra file on an existing record.
	AttachExtraFile(gameID, filename string, extra ExtraFile) error

	// MarkExtraFileTransferred flags an extra file as copied to a mirror.
	MarkExtraFileTransferred(gameID, filename, extraName string) error
}
