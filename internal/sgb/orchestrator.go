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

// Settings are the orchestrator's configuration values.
type Settings struct {
	BackupRoot        string
	MaxVersions       int    // <= 0 disables pruning
	ChecksumAlgorithm string // ChecksumNone disables recording
}

// Orchestrator is the backup pipeline. It resolves archivers, names and
// prunes backup files, keeps the checksum ledger in sync with the backup
// directory and publishes an Event after each change on disk.
//
// Operations on one game must not run concurrently; nothing is locked.
type Orchestrator struct {
	registry Registry
	catalog  Catalog
	ledger   Ledger
	settings Settings
	logger   Logger
	clock    Clock
	bus      *eventBus
}

// NewOrchestrator creates an Orchestrator with the provided dependencies.
func NewOrchestrator(registry Registry, catalog Catalog, ledger Ledger, settings Settings, logger Logger, clock Clock) *Orchestrator {
	if settings.ChecksumAlgorithm == "" {
		settings.ChecksumAlgorithm = ChecksumNone
	}
	return &Orchestrator{
		registry: registry,
		catalog:  catalog,
		ledger:   ledger,
		settings: settings,
		logger:   logger,
		clock:    clock,
		bus:      &eventBus{logger: logger},
	}
}

// Subscribe registers a listener for backup events.
func (o *Orchestrator) Subscribe(l Listener) {
	o.bus.subscribe(l)
}

// Settings returns the configuration the orchestrator was built with.
func (o *Orchestrator) Settings() Settings {
	return o.settings
}

// Backup archives the game's savegame directory. A nil archiver selects the
// registry's standard archiver. Finalized games get final naming.
func (o *Orchestrator) Backup(ctx context.Context, game *Game, archiver Archiver) Result {
	if archiver == nil {
		std, err := o.registry.Standard()
		if err != nil {
			return failed(game.ID, "", errors.Mark(err, ErrBackupFailed))
		}
		archiver = std
	}
	desc := archiver.Descriptor()

	// VerifySource
	if _, err := os.Stat(game.SourcePath()); errors.Is(err, fs.ErrNotExist) {
		o.logger.Info("backup skipped, no savegame directory", "game", game.ID, "path", game.SourcePath())
		return skipped(game.ID, ErrSkippedNoSource.Error())
	}

	finalIndex := 0
	if game.IsFinalized {
		names, err := o.backupFilenames(game, false)
		if err != nil {
			return failed(game.ID, "", errors.Mark(err, ErrBackupFailed))
		}
		finalIndex = NextFinalIndex(names)
	}
	dest := BuildPath(o.settings.BackupRoot, game, desc.Extension, game.IsFinalized, finalIndex, o.clock.Now())
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return failed(game.ID, dest, errors.Mark(errors.Wrap(err, "creating backup directory"), ErrBackupFailed))
	}

	// Invoke
	o.logger.Debug("invoking archiver", "game", game.ID, "archiver", desc.ID, "dest", dest)
	if err := archiver.Backup(ctx, game, dest); err != nil {
		if errors.Is(err, ErrSkippedNoSource) {
			o.logger.Info("backup skipped, no savegame directory", "game", game.ID)
			return skipped(game.ID, err.Error())
		}
		o.logger.Error("archiver failed", "game", game.ID, "archiver", desc.ID, "error", err)
		return failed(game.ID, dest, errors.Mark(errors.Wrapf(err, "archiving %s with %s", game.ID, desc.ID), ErrBackupFailed))
	}

	// VerifyOutput
	if info, err := os.Stat(dest); err != nil || info.IsDir() {
		o.logger.Error("archiver produced no output", "game", game.ID, "archiver", desc.ID, "dest", dest)
		return failed(game.ID, dest, errors.Wrapf(ErrNoOutput, "%s, expected %s", desc.ID, dest))
	}

	filename := filepath.Base(dest)
	o.recordChecksum(game, dest)
	o.logger.Info("backup created", "game", game.ID, "file", filename)
	o.bus.publish(ctx, Event{Kind: EventBackupCreated, Game: game, Path: dest, Filename: filename})

	o.prune(ctx, game)
	return ok(game.ID, dest)
}

func (o *Orchestrator) recordChecksum(game *Game, path string) {
	algo := o.settings.ChecksumAlgorithm
	if algo == ChecksumNone {
		return
	}
	digest, err := DigestFile(algo, path)
	if err != nil {
		o.logger.Error("computing checksum", "game", game.ID, "path", path, "error", err)
		return
	}
	if err := o.ledger.Record(game.ID, filepath.Base(path), algo, digest); err != nil {
		o.logger.Error("recording checksum", "game", game.ID, "path", path, "error", err)
	}
}

// prune deletes active backups beyond MaxVersions, newest kept. Final
// backups are neither counted nor removed.
func (o *Orchestrator) prune(ctx context.Context, game *Game) {
	if o.settings.MaxVersions <= 0 {
		return
	}
	names, err := o.backupFilenames(game, false)
	if err != nil {
		o.logger.Warn("listing backups for pruning", "game", game.ID, "error", err)
		return
	}

	type active struct {
		name   string
		parsed ParsedName
	}
	var actives []active
	for _, n := range names {
		if p, ok := Parse(n); ok && p.Kind == KindActive {
			actives = append(actives, active{n, p})
		}
	}
	if len(actives) <= o.settings.MaxVersions {
		return
	}
	slices.SortFunc(actives, func(a, b active) int {
		if c := b.parsed.Timestamp.Compare(a.parsed.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(b.name, a.name)
	})
	for _, a := range actives[o.settings.MaxVersions:] {
		if err := o.Delete(ctx, game, a.name); err != nil {
			o.logger.Warn("pruning backup", "game", game.ID, "file", a.name, "error", err)
			continue
		}
		o.logger.Info("pruned backup", "game", game.ID, "file", a.name)
	}
}

// Restore extracts a backup into the game's savegame root and returns the
// path that was restored. An empty path selects the latest backup (see
// FindLatest). Checksums are not verified here.
func (o *Orchestrator) Restore(ctx context.Context, game *Game, path string) (string, error) {
	if path == "" {
		names, err := o.backupFilenames(game, true)
		if err != nil {
			return "", errors.Mark(err, ErrRestoreFailed)
		}
		latest, found := FindLatest(names)
		if !found {
			return "", errors.Wrapf(ErrNoBackupAvailable, "game %s", game.ID)
		}
		path = latest
	}
	path = o.resolvePath(game, path)

	if _, err := os.Stat(path); err != nil {
		return "", errors.Mark(errors.Wrapf(ErrRestoreFailed, "backup %s does not exist", path), ErrNotFound)
	}

	archiver, err := o.registry.ResolveForFile(path)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "restoring %s", path), ErrRestoreFailed)
	}

	o.logger.Debug("invoking archiver", "game", game.ID, "archiver", archiver.Descriptor().ID, "src", path)
	if err := archiver.Restore(ctx, game, path); err != nil {
		o.logger.Error("restore failed", "game", game.ID, "file", filepath.Base(path), "error", err)
		return "", errors.Mark(errors.Wrapf(err, "restoring %s", path), ErrRestoreFailed)
	}

	o.logger.Info("backup restored", "game", game.ID, "file", filepath.Base(path))
	o.bus.publish(ctx, Event{Kind: EventRestored, Game: game, Path: path, Filename: filepath.Base(path)})
	return path, nil
}

// Delete removes a backup file, its extra files and its ledger record.
// Bare filenames resolve into the game's backup directory. Deleting a file
// that does not exist is a no-op.
func (o *Orchestrator) Delete(ctx context.Context, game *Game, filename string) error {
	path := o.resolvePath(game, filename)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	base := filepath.Base(path)

	rec, err := o.ledger.Lookup(game.ID, base)
	if err != nil {
		return errors.Wrap(err, "looking up ledger record")
	}
	if err := os.Remove(path); err != nil {
		return errors.Wrapf(err, "removing %s", path)
	}
	if rec != nil {
		for _, extra := range rec.ExtraFiles {
			extraPath := filepath.Join(filepath.Dir(path), extra.Name)
			if err := os.Remove(extraPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				o.logger.Warn("removing extra file", "game", game.ID, "file", extra.Name, "error", err)
			}
		}
		if err := o.ledger.Delete(game.ID, base); err != nil {
			return errors.Wrap(err, "deleting ledger record")
		}
	}

	o.logger.Info("backup deleted", "game", game.ID, "file", base)
	o.bus.publish(ctx, Event{Kind: EventBackupDeleted, Game: game, Path: path, Filename: base})
	return nil
}

// ListBackups returns the absolute paths of the game's backups, sorted.
// A file counts as a backup when its name parses, carries the game's
// savegame name and is a valid archive for a registered archiver.
func (o *Orchestrator) ListBackups(game *Game) ([]string, error) {
	names, err := o.backupFilenames(game, true)
	if err != nil {
		return nil, err
	}
	dir := game.BackupDir(o.settings.BackupRoot)
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// backupFilenames lists backup basenames in the game's backup directory,
// sorted. Names must parse, carry the savegame name and resolve to an
// archiver; validate additionally requires IsArchiveFile.
func (o *Orchestrator) backupFilenames(game *Game, validate bool) ([]string, error) {
	dir := game.BackupDir(o.settings.BackupRoot)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading backup directory %s", dir)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		p, ok := Parse(e.Name())
		if !ok || p.SavegameName != game.SavegameName {
			continue
		}
		archiver, err := o.registry.ResolveForFile(e.Name())
		if err != nil {
			continue
		}
		if validate && !archiver.IsArchiveFile(filepath.Join(dir, e.Name())) {
			o.logger.Debug("ignoring invalid archive", "game", game.ID, "file", e.Name())
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

func (o *Orchestrator) resolvePath(game *Game, filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	return filepath.Join(game.BackupDir(o.settings.BackupRoot), filename)
}

// BackupAll backs up every game in id order. Finalized games are skipped
// unless includeFinalized is set. Per-game failures are logged and counted;
// only a catalog error or cancellation stops the batch.
func (o *Orchestrator) BackupAll(ctx context.Context, includeFinalized bool) (BatchResult, error) {
	var batch BatchResult
	ids, err := o.catalog.ListGameIDs()
	if err != nil {
		return batch, errors.Wrap(err, "listing games")
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		game, err := o.catalog.GetGame(id)
		if err != nil || game == nil {
			if err == nil {
				err = errors.Wrapf(ErrNotFound, "game %s", id)
			}
			o.logger.Error("loading game", "game", id, "error", err)
			batch.Add(failed(id, "", err))
			continue
		}
		if game.IsFinalized && !includeFinalized {
			batch.Add(skipped(id, "game is finalized"))
			continue
		}
		r := o.Backup(ctx, game, nil)
		if r.Status == StatusFailed {
			o.logger.Error("backup failed", "game", id, "error", r.Err)
		}
		batch.Add(r)
	}

	o.logger.Info("backup batch complete", "ok", batch.OK, "skipped", batch.Skipped, "failed", batch.Failed)
	return batch, nil
}

// RestoreAll restores the latest backup of every game in id order. Games
// without backups are skipped.
func (o *Orchestrator) RestoreAll(ctx context.Context) (BatchResult, error) {
	var batch BatchResult
	ids, err := o.catalog.ListGameIDs()
	if err != nil {
		return batch, errors.Wrap(err, "listing games")
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		game, err := o.catalog.GetGame(id)
		if err != nil || game == nil {
			if err == nil {
				err = errors.Wrapf(ErrNotFound, "game %s", id)
			}
			o.logger.Error("loading game", "game", id, "error", err)
			batch.Add(failed(id, "", err))
			continue
		}
		path, err := o.Restore(ctx, game, "")
		switch {
		case errors.Is(err, ErrNoBackupAvailable):
			batch.Add(skipped(id, err.Error()))
		case err != nil:
			o.logger.Error("restore failed", "game", id, "error", err)
			batch.Add(failed(id, path, err))
		default:
			batch.Add(ok(id, path))
		}
	}

	o.logger.Info("restore batch complete", "ok", batch.OK, "skipped", batch.Skipped, "failed", batch.Failed)
	return batch, nil
}
