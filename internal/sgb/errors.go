package sgb

import "github.com/cockroachdb/errors"

// Sentinel errors shared by the orchestration layer and its backends.
// Check them with errors.Is; most are returned wrapped with context.
var (
	// ErrSkippedNoSource means the savegame directory does not exist.
	// It is not a failure: the backup is skipped.
	ErrSkippedNoSource = errors.New("savegame directory does not exist")

	// ErrBackupFailed means the archiver failed or produced no output.
	ErrBackupFailed = errors.New("backup failed")

	// ErrNoOutput means the archiver reported success but wrote no file.
	ErrNoOutput = errors.Mark(errors.New("archiver produced no output"), ErrBackupFailed)

	// ErrRestoreFailed means the archive could not be extracted.
	ErrRestoreFailed = errors.New("restore failed")

	// ErrNotFound indicates an unknown archiver, game or backup file.
	ErrNotFound = errors.New("not found")

	// ErrChecksumMismatch means a recomputed digest disagrees with the ledger.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrChecksumMissing means the ledger holds no record for a backup file.
	ErrChecksumMissing = errors.New("checksum missing")

	// ErrConfigInvalid indicates a malformed archiver descriptor or setting.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrNoArchiversAvailable is returned by an empty registry.
	ErrNoArchiversAvailable = errors.New("no archivers available")

	// ErrUnknownArchiveType means no registered archiver claims a file extension.
	ErrUnknownArchiveType = errors.Mark(errors.New("unknown archive type"), ErrNotFound)

	// ErrNoBackupAvailable means a game has no backups to restore.
	ErrNoBackupAvailable = errors.New("no backup available")
)
