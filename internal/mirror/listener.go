package mirror

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"sgbackup/internal/sgb"
)

// DatabaseMetadataName is the metadata item holding the database snapshot.
const DatabaseMetadataName = "sgbackup.db"

// Listener replays backup events on a mirror: new backups and their extra
// files are uploaded, deletions and renames are applied to the copies.
type Listener struct {
	mirror Mirror
	ledger sgb.Ledger
	logger sgb.Logger
}

var _ sgb.Listener = (*Listener)(nil)

func NewListener(m Mirror, ledger sgb.Ledger, logger sgb.Logger) *Listener {
	return &Listener{mirror: m, ledger: ledger, logger: logger}
}

func (l *Listener) HandleEvent(ctx context.Context, ev sgb.Event) error {
	switch ev.Kind {
	case sgb.EventBackupCreated:
		return l.upload(ctx, ev)
	case sgb.EventBackupDeleted:
		return l.remove(ctx, ev)
	case sgb.EventBackupRenamed:
		return l.rename(ctx, ev)
	}
	return nil
}

// upload copies the backup, then every extra file of its ledger record,
// flagging each extra file as transferred.
func (l *Listener) upload(ctx context.Context, ev sgb.Event) error {
	key := BackupKey(ev.Path)
	if err := PutFile(ctx, l.mirror, key, ev.Path); err != nil {
		return errors.Wrapf(err, "mirror %s: uploading %s", l.mirror.Name(), key)
	}
	l.logger.Info("backup mirrored", "mirror", l.mirror.Name(), "key", key)

	rec, err := l.ledger.Lookup(ev.Game.ID, ev.Filename)
	if err != nil || rec == nil {
		return err
	}
	var errs error
	dir := filepath.Dir(ev.Path)
	for _, extra := range rec.ExtraFiles {
		extraKey := path.Join(path.Dir(key), extra.Name)
		if err := PutFile(ctx, l.mirror, extraKey, filepath.Join(dir, extra.Name)); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "mirror %s: uploading %s", l.mirror.Name(), extraKey))
			continue
		}
		if err := l.ledger.MarkExtraFileTransferred(ev.Game.ID, ev.Filename, extra.Name); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// remove deletes the backup and the extra files named after it.
func (l *Listener) remove(ctx context.Context, ev sgb.Event) error {
	keys, err := l.related(ctx, BackupKey(ev.Path))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := l.mirror.Delete(ctx, k); err != nil {
			return errors.Wrapf(err, "mirror %s", l.mirror.Name())
		}
	}
	l.logger.Info("mirrored backup deleted", "mirror", l.mirror.Name(), "keys", len(keys))
	return nil
}

func (l *Listener) rename(ctx context.Context, ev sgb.Event) error {
	oldKey, newKey := BackupKey(ev.OldPath), BackupKey(ev.Path)
	keys, err := l.related(ctx, oldKey)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := l.mirror.Rename(ctx, k, newKey+strings.TrimPrefix(k, oldKey)); err != nil {
			return errors.Wrapf(err, "mirror %s", l.mirror.Name())
		}
	}
	l.logger.Debug("mirrored backup renamed", "mirror", l.mirror.Name(), "from", oldKey, "to", newKey)
	return nil
}

// related returns key itself and the keys of its extra files, which share
// the backup name followed by a dot.
func (l *Listener) related(ctx context.Context, key string) ([]string, error) {
	listed, err := l.mirror.List(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "mirror %s", l.mirror.Name())
	}
	var keys []string
	for _, k := range listed {
		if k == key || strings.HasPrefix(k, key+".") {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
