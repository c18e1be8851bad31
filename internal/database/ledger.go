package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"sgbackup/internal/sgb"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Record inserts or replaces the checksum of a backup file. Extra files of
// an existing record are kept.
func (s *SQLiteDatabase) Record(gameID, filename, algorithm, digest string) error {
	_, err := s.db.Exec(`
		INSERT INTO backups (id, game_id, filename, algorithm, digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (game_id, filename) DO UPDATE SET
			algorithm = excluded.algorithm,
			digest = excluded.digest,
			created_at = excluded.created_at`,
		uuid.New().String(), gameID, filename, algorithm, digest, time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "recording checksum for %s", filename)
	}
	return nil
}

// Lookup returns the record for a backup file, or nil if there is none.
func (s *SQLiteDatabase) Lookup(gameID, filename string) (*sgb.BackupRecord, error) {
	_, rec, err := lookup(context.Background(), s.db, gameID, filename)
	return rec, err
}

func lookup(ctx context.Context, q querier, gameID, filename string) (string, *sgb.BackupRecord, error) {
	var id string
	rec := &sgb.BackupRecord{GameID: gameID, Filename: filename}
	err := q.QueryRowContext(ctx, `
		SELECT id, algorithm, digest, created_at FROM backups
		WHERE game_id = ? AND filename = ?`, gameID, filename).
		Scan(&id, &rec.Algorithm, &rec.Digest, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, nil
		}
		return "", nil, errors.Wrapf(err, "looking up %s", filename)
	}

	extras, err := extraFiles(ctx, q, id)
	if err != nil {
		return "", nil, err
	}
	rec.ExtraFiles = extras
	return id, rec, nil
}

func extraFiles(ctx context.Context, q querier, backupID string) ([]sgb.ExtraFile, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, transferred FROM backup_extra_files WHERE backup_id = ? ORDER BY name`, backupID)
	if err != nil {
		return nil, errors.Wrap(err, "loading extra files")
	}
	defer rows.Close()

	var extras []sgb.ExtraFile
	for rows.Next() {
		var e sgb.ExtraFile
		if err := rows.Scan(&e.Name, &e.Transferred); err != nil {
			return nil, errors.Wrap(err, "scanning extra file")
		}
		extras = append(extras, e)
	}
	return extras, rows.Err()
}

// Delete removes a record; its extra files go with it.
func (s *SQLiteDatabase) Delete(gameID, filename string) error {
	if _, err := s.db.Exec(`DELETE FROM backups WHERE game_id = ? AND filename = ?`, gameID, filename); err != nil {
		return errors.Wrapf(err, "deleting record %s", filename)
	}
	return nil
}

// Rename moves a record to newFilename in one transaction: the new key is
// written, extra files are moved over with their name prefix rewritten, and
// only then is the old key deleted. A record already stored under
// newFilename is replaced.
func (s *SQLiteDatabase) Rename(gameID, oldFilename, newFilename string) error {
	if oldFilename == newFilename {
		return nil
	}
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback()

	oldID, rec, err := lookup(ctx, tx, gameID, oldFilename)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.Wrapf(sgb.ErrNotFound, "no ledger record for %s", oldFilename)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM backups WHERE game_id = ? AND filename = ?`, gameID, newFilename); err != nil {
		return errors.Wrap(err, "clearing target record")
	}

	newID := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO backups (id, game_id, filename, algorithm, digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		newID, gameID, newFilename, rec.Algorithm, rec.Digest, rec.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "writing record %s", newFilename)
	}

	for _, extra := range rec.ExtraFiles {
		name := extra.Name
		if strings.HasPrefix(name, oldFilename) {
			name = newFilename + strings.TrimPrefix(name, oldFilename)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE backup_extra_files SET backup_id = ?, name = ?
			WHERE backup_id = ? AND name = ?`, newID, name, oldID, extra.Name)
		if err != nil {
			return errors.Wrapf(err, "moving extra file %s", extra.Name)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, oldID); err != nil {
		return errors.Wrapf(err, "deleting record %s", oldFilename)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// List returns every record of a game, sorted by filename.
func (s *SQLiteDatabase) List(gameID string) ([]*sgb.BackupRecord, error) {
	ctx := context.Background()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, algorithm, digest, created_at FROM backups
		WHERE game_id = ? ORDER BY filename`, gameID)
	if err != nil {
		return nil, errors.Wrap(err, "listing records")
	}

	var (
		ids     []string
		records []*sgb.BackupRecord
	)
	for rows.Next() {
		var id string
		rec := &sgb.BackupRecord{GameID: gameID}
		if err := rows.Scan(&id, &rec.Filename, &rec.Algorithm, &rec.Digest, &rec.CreatedAt); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scanning record")
		}
		ids = append(ids, id)
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "listing records")
	}

	// extra files are loaded after rows is closed; the pool has one connection
	for i, rec := range records {
		extras, err := extraFiles(ctx, s.db, ids[i])
		if err != nil {
			return nil, err
		}
		rec.ExtraFiles = extras
	}
	return records, nil
}

// AttachExtraFile adds or replaces an extra file on an existing record.
func (s *SQLiteDatabase) AttachExtraFile(gameID, filename string, extra sgb.ExtraFile) error {
	res, err := s.db.Exec(`
		INSERT INTO backup_extra_files (backup_id, name, transferred)
		SELECT id, ?, ? FROM backups WHERE game_id = ? AND filename = ?
		ON CONFLICT (backup_id, name) DO UPDATE SET transferred = excluded.transferred`,
		extra.Name, extra.Transferred, gameID, filename)
	if err != nil {
		return errors.Wrapf(err, "attaching %s", extra.Name)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(sgb.ErrNotFound, "no ledger record for %s", filename)
	}
	return nil
}

// MarkExtraFileTransferred flags an extra file as copied to a mirror.
func (s *SQLiteDatabase) MarkExtraFileTransferred(gameID, filename, extraName string) error {
	res, err := s.db.Exec(`
		UPDATE backup_extra_files SET transferred = 1
		WHERE name = ? AND backup_id = (SELECT id FROM backups WHERE game_id = ? AND filename = ?)`,
		extraName, gameID, filename)
	if err != nil {
		return errors.Wrapf(err, "marking %s transferred", extraName)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(sgb.ErrNotFound, "no extra file %s on %s", extraName, filename)
	}
	return nil
}
