package sgb

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

// DefaultChecksumAlgorithm is used to create missing records when the
// configured algorithm is "none".
const DefaultChecksumAlgorithm = "sha256"

// MissingAction decides what happens to a backup with no ledger record.
type MissingAction int

const (
	MissingIgnore MissingAction = iota
	MissingCreate
	MissingDelete
)

func (a MissingAction) String() string {
	switch a {
	case MissingCreate:
		return "create"
	case MissingDelete:
		return "delete"
	default:
		return "ignore"
	}
}

// ParseMissingAction accepts "ignore", "create" or "delete".
func ParseMissingAction(s string) (MissingAction, error) {
	switch strings.ToLower(s) {
	case "", "ignore":
		return MissingIgnore, nil
	case "create":
		return MissingCreate, nil
	case "delete":
		return MissingDelete, nil
	}
	return MissingIgnore, errors.Wrapf(ErrConfigInvalid, "unknown missing action %q", s)
}

// FailedAction decides what happens to a backup whose digest disagrees
// with the ledger.
type FailedAction int

const (
	FailedIgnore FailedAction = iota
	FailedDelete
)

func (a FailedAction) String() string {
	if a == FailedDelete {
		return "delete"
	}
	return "ignore"
}

// ParseFailedAction accepts "ignore" or "delete".
func ParseFailedAction(s string) (FailedAction, error) {
	switch strings.ToLower(s) {
	case "", "ignore":
		return FailedIgnore, nil
	case "delete":
		return FailedDelete, nil
	}
	return FailedIgnore, errors.Wrapf(ErrConfigInvalid, "unknown failed action %q", s)
}

// CheckOptions select the actions of one integrity check.
type CheckOptions struct {
	Missing MissingAction
	Failed  FailedAction
	// PurgeOrphans deletes ledger records whose backup file is gone.
	PurgeOrphans bool
}

type CheckStatus int

const (
	CheckOK CheckStatus = iota
	CheckFailed
	CheckMissing
	CheckOrphaned
)

func (s CheckStatus) String() string {
	switch s {
	case CheckOK:
		return "OK"
	case CheckFailed:
		return "FAILED"
	case CheckMissing:
		return "MISSING"
	default:
		return "ORPHANED"
	}
}

type CheckAction int

const (
	ActionNone CheckAction = iota
	ActionCreated
	ActionDeleted
	ActionPurged
)

func (a CheckAction) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionDeleted:
		return "deleted"
	case ActionPurged:
		return "purged"
	default:
		return "none"
	}
}

// CheckEntry is the outcome for one backup file.
type CheckEntry struct {
	Filename string
	Status   CheckStatus
	Action   CheckAction
	Err      error // set when the file could not be hashed or the action failed
}

// Report lists the entries of one game's check, sorted by filename.
type Report struct {
	GameID  string
	Entries []CheckEntry
}

// Count returns how many entries have the given status.
func (r *Report) Count(status CheckStatus) int {
	n := 0
	for _, e := range r.Entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

// IntegrityChecker compares backup files against their ledger records.
type IntegrityChecker struct {
	orch *Orchestrator
}

func NewIntegrityChecker(orch *Orchestrator) *IntegrityChecker {
	return &IntegrityChecker{orch: orch}
}

// Verify recomputes the digest of one backup file. It returns
// ErrChecksumMissing without a ledger record and ErrChecksumMismatch when
// the digests differ.
func (c *IntegrityChecker) Verify(game *Game, filename string) error {
	path := c.orch.resolvePath(game, filename)
	base := filepath.Base(path)
	rec, err := c.orch.ledger.Lookup(game.ID, base)
	if err != nil {
		return errors.Wrap(err, "looking up ledger record")
	}
	if rec == nil {
		return errors.Wrapf(ErrChecksumMissing, "%s", base)
	}
	digest, err := DigestFile(rec.Algorithm, path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(digest, rec.Digest) {
		return errors.Wrapf(ErrChecksumMismatch, "%s: %s digest %s, recorded %s", base, rec.Algorithm, digest, rec.Digest)
	}
	return nil
}

// Check verifies every backup of a game in filename order and applies the
// actions in opts. Ledger records without a file are reported as orphaned
// and deleted only with PurgeOrphans.
func (c *IntegrityChecker) Check(ctx context.Context, game *Game, opts CheckOptions) (*Report, error) {
	names, err := c.orch.backupFilenames(game, false)
	if err != nil {
		return nil, err
	}
	report := &Report{GameID: game.ID}
	onDisk := make(map[string]bool, len(names))

	for _, name := range names {
		onDisk[name] = true
		entry, err := c.checkFile(ctx, game, name, opts)
		if err != nil {
			return nil, err
		}
		report.Entries = append(report.Entries, entry)
	}

	records, err := c.orch.ledger.List(game.ID)
	if err != nil {
		return nil, errors.Wrap(err, "listing ledger records")
	}
	dir := game.BackupDir(c.orch.settings.BackupRoot)
	for _, rec := range records {
		if onDisk[rec.Filename] {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, rec.Filename)); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		entry := CheckEntry{Filename: rec.Filename, Status: CheckOrphaned}
		if opts.PurgeOrphans {
			if err := c.orch.ledger.Delete(game.ID, rec.Filename); err != nil {
				entry.Err = err
			} else {
				entry.Action = ActionPurged
			}
		}
		report.Entries = append(report.Entries, entry)
	}

	slices.SortFunc(report.Entries, func(a, b CheckEntry) int { return strings.Compare(a.Filename, b.Filename) })
	c.orch.logger.Info("integrity check complete", "game", game.ID,
		"ok", report.Count(CheckOK), "failed", report.Count(CheckFailed),
		"missing", report.Count(CheckMissing), "orphaned", report.Count(CheckOrphaned))
	return report, nil
}

func (c *IntegrityChecker) checkFile(ctx context.Context, game *Game, name string, opts CheckOptions) (CheckEntry, error) {
	entry := CheckEntry{Filename: name}
	path := filepath.Join(game.BackupDir(c.orch.settings.BackupRoot), name)

	rec, err := c.orch.ledger.Lookup(game.ID, name)
	if err != nil {
		return entry, errors.Wrap(err, "looking up ledger record")
	}

	if rec == nil {
		entry.Status = CheckMissing
		switch opts.Missing {
		case MissingCreate:
			algo := c.orch.settings.ChecksumAlgorithm
			if algo == ChecksumNone {
				algo = DefaultChecksumAlgorithm
			}
			digest, err := DigestFile(algo, path)
			if err == nil {
				err = c.orch.ledger.Record(game.ID, name, algo, digest)
			}
			if err != nil {
				entry.Err = err
				return entry, nil
			}
			entry.Action = ActionCreated
		case MissingDelete:
			if err := c.orch.Delete(ctx, game, name); err != nil {
				entry.Err = err
				return entry, nil
			}
			entry.Action = ActionDeleted
		}
		return entry, nil
	}

	digest, err := DigestFile(rec.Algorithm, path)
	if err != nil {
		entry.Status = CheckFailed
		entry.Err = err
		return entry, nil
	}
	if strings.EqualFold(digest, rec.Digest) {
		entry.Status = CheckOK
		return entry, nil
	}

	entry.Status = CheckFailed
	entry.Err = errors.Wrapf(ErrChecksumMismatch, "%s digest %s, recorded %s", rec.Algorithm, digest, rec.Digest)
	c.orch.logger.Warn("checksum mismatch", "game", game.ID, "file", name)
	if opts.Failed == FailedDelete {
		if err := c.orch.Delete(ctx, game, name); err != nil {
			entry.Err = errors.CombineErrors(entry.Err, err)
			return entry, nil
		}
		entry.Action = ActionDeleted
	}
	return entry, nil
}

// CheckAll runs Check over every game in id order. A game that cannot be
// checked is logged and left out of the result.
func (c *IntegrityChecker) CheckAll(ctx context.Context, opts CheckOptions) ([]*Report, error) {
	ids, err := c.orch.catalog.ListGameIDs()
	if err != nil {
		return nil, errors.Wrap(err, "listing games")
	}

	var reports []*Report
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		game, err := c.orch.catalog.GetGame(id)
		if err != nil || game == nil {
			c.orch.logger.Error("loading game", "game", id, "error", err)
			continue
		}
		report, err := c.Check(ctx, game, opts)
		if err != nil {
			c.orch.logger.Error("integrity check failed", "game", id, "error", err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}
