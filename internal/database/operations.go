package database

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

// BackupOperation is one recorded CLI invocation that changed state.
type BackupOperation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Operation  string
	Parameters string
	Status     string
}

func (s *SQLiteDatabase) CreateBackupOperation(operation string, parameters string) (*BackupOperation, error) {
	op := &BackupOperation{
		StartedAt:  time.Now().UTC(),
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
	}
	res, err := s.db.Exec(`
		INSERT INTO backup_operations (started_at, operation, parameters, status)
		VALUES (?, ?, ?, ?)`, op.StartedAt, op.Operation, op.Parameters, op.Status)
	if err != nil {
		return nil, errors.Wrap(err, "creating backup operation")
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "reading backup operation id")
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishBackupOperation(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE backup_operations SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now().UTC(), status, id)
	if err != nil {
		return errors.Wrap(err, "finishing backup operation")
	}
	return nil
}

// ListBackupOperations returns up to limit operations, newest first.
func (s *SQLiteDatabase) ListBackupOperations(limit int) ([]*BackupOperation, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, operation, parameters, status
		FROM backup_operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing backup operations")
	}
	defer rows.Close()

	var ops []*BackupOperation
	for rows.Next() {
		op := &BackupOperation{}
		if err := rows.Scan(&op.ID, &op.StartedAt, &op.FinishedAt, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, errors.Wrap(err, "scanning backup operation")
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// MaxBackupOperationID returns the highest operation id, or 0 for an empty
// history. Mirrors store it as the version of the database snapshot.
func (s *SQLiteDatabase) MaxBackupOperationID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM backup_operations`).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "reading max backup operation id")
	}
	return id.Int64, nil
}
