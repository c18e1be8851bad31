package database

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"sgbackup/internal/config"
	"sgbackup/internal/sgb"
)

// DatabaseFilename is the name of the SQLite file inside data_dir.
const DatabaseFilename = "sgbackup.db"

// NewDatabaseFromConfig opens the database selected by cfg.Type. A memory
// database starts out migrated; a sqlite file is left as found and must
// be checked with CheckMigrations.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, errors.Wrap(sgb.ErrConfigInvalid, "data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating data directory")
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, DatabaseFilename))
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, errors.Wrapf(sgb.ErrConfigInvalid, "unknown database type: %s", cfg.Type)
	}
}
