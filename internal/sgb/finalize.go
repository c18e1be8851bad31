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

// Finalize marks the game finalized, persists it and writes a final backup
// at the next free final index.
func (o *Orchestrator) Finalize(ctx context.Context, game *Game, archiver Archiver) Result {
	game.IsFinalized = true
	if err := o.catalog.PersistGame(game); err != nil {
		return failed(game.ID, "", errors.Wrap(err, "persisting finalized game"))
	}
	o.logger.Info("game finalized", "game", game.ID)
	return o.Backup(ctx, game, archiver)
}

// Unfinalize clears the finalized flag and moves every existing final
// backup, lowest index first, into the slots after the current maximum.
// A later Finalize then starts past all of them.
func (o *Orchestrator) Unfinalize(ctx context.Context, game *Game) error {
	game.IsFinalized = false
	if err := o.catalog.PersistGame(game); err != nil {
		return errors.Wrap(err, "persisting unfinalized game")
	}

	names, err := o.backupFilenames(game, false)
	if err != nil {
		return err
	}
	var finals []ParsedName
	byIndex := make(map[int]string)
	for _, n := range names {
		if p, ok := Parse(n); ok && p.Kind == KindFinal {
			finals = append(finals, p)
			byIndex[p.Index] = n
		}
	}
	slices.SortFunc(finals, func(a, b ParsedName) int { return a.Index - b.Index })

	dir := game.BackupDir(o.settings.BackupRoot)
	next := NextFinalIndex(names)
	for _, p := range finals {
		oldName := byIndex[p.Index]
		newName := FinalFilename(game.SavegameName, p.Extension, next)
		next++
		if err := o.renameBackup(ctx, game, dir, dir, dir, oldName, newName); err != nil {
			return err
		}
	}

	o.logger.Info("game unfinalized", "game", game.ID, "moved", len(finals))
	return nil
}

// RenameSavegame changes the game's savegame name. The new name is
// persisted first, then the backup directory is moved and every backup,
// its extra files and its ledger record are renamed to the new prefix.
// When the directory cannot be moved the old name is persisted again.
func (o *Orchestrator) RenameSavegame(ctx context.Context, game *Game, newName string) error {
	if err := ValidateSavegameName(newName); err != nil {
		return err
	}
	oldName := game.SavegameName
	if newName == oldName {
		return nil
	}

	names, err := o.backupFilenames(game, false)
	if err != nil {
		return err
	}
	oldDir := game.BackupDir(o.settings.BackupRoot)

	game.SavegameName = newName
	if err := o.catalog.PersistGame(game); err != nil {
		game.SavegameName = oldName
		return errors.Wrap(err, "persisting savegame name")
	}
	newDir := game.BackupDir(o.settings.BackupRoot)

	// revert puts the old name back when the backups could not follow
	revert := func(err error) error {
		game.SavegameName = oldName
		if perr := o.catalog.PersistGame(game); perr != nil {
			o.logger.Error("restoring savegame name", "game", game.ID, "name", oldName, "error", perr)
		}
		return err
	}

	srcDir := oldDir
	if _, err := os.Stat(oldDir); err == nil {
		if _, err := os.Stat(newDir); errors.Is(err, fs.ErrNotExist) {
			if err := os.Rename(oldDir, newDir); err != nil {
				return revert(errors.Wrapf(err, "moving backup directory to %s", newDir))
			}
			srcDir = newDir
		} else if err := os.MkdirAll(newDir, 0o755); err != nil {
			return revert(errors.Wrapf(err, "creating backup directory %s", newDir))
		}
	}

	var firstErr error
	for _, n := range names {
		renamed := newName + strings.TrimPrefix(n, oldName)
		if err := o.renameBackup(ctx, game, oldDir, srcDir, newDir, n, renamed); err != nil {
			o.logger.Error("renaming backup", "game", game.ID, "file", n, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr == nil && srcDir != newDir {
		// the old directory is left in place if anything else lives in it
		_ = os.Remove(oldDir)
	}

	o.logger.Info("savegame renamed", "game", game.ID, "from", oldName, "to", newName, "backups", len(names))
	return firstErr
}

// renameBackup moves one backup file and its extra files, then rewrites the
// ledger key. Extra files are renamed by swapping the backup name prefix.
// srcDir is where the file currently lives; the event reports it below
// oldDir, its location before the savegame directory moved.
func (o *Orchestrator) renameBackup(ctx context.Context, game *Game, oldDir, srcDir, dstDir, oldName, newName string) error {
	oldPath := filepath.Join(srcDir, oldName)
	newPath := filepath.Join(dstDir, newName)
	if _, err := os.Stat(newPath); err == nil {
		return errors.Newf("cannot rename %s: %s already exists", oldName, newPath)
	}

	rec, err := o.ledger.Lookup(game.ID, oldName)
	if err != nil {
		return errors.Wrap(err, "looking up ledger record")
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return errors.Wrapf(err, "renaming %s", oldName)
	}
	if rec != nil {
		for _, extra := range rec.ExtraFiles {
			if !strings.HasPrefix(extra.Name, oldName) {
				continue
			}
			renamed := newName + strings.TrimPrefix(extra.Name, oldName)
			err := os.Rename(filepath.Join(srcDir, extra.Name), filepath.Join(dstDir, renamed))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				o.logger.Warn("renaming extra file", "game", game.ID, "file", extra.Name, "error", err)
			}
		}
		if err := o.ledger.Rename(game.ID, oldName, newName); err != nil {
			return errors.Wrapf(err, "renaming ledger record %s", oldName)
		}
	}

	o.logger.Debug("backup renamed", "game", game.ID, "from", oldName, "to", newName)
	o.bus.publish(ctx, Event{
		Kind:        EventBackupRenamed,
		Game:        game,
		Path:        newPath,
		OldPath:     filepath.Join(oldDir, oldName),
		Filename:    newName,
		OldFilename: oldName,
	})
	return nil
}
