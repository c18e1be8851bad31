package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"sgbackup/internal/sgb"
)

// GetGame returns the game with the given id, or nil if it does not exist.
func (s *SQLiteDatabase) GetGame(id string) (*sgb.Game, error) {
	ctx := context.Background()

	g := &sgb.Game{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT name, savegame_name, savegame_root, savegame_dir, is_finalized, steam_app_id
		FROM games WHERE id = ?`, id).
		Scan(&g.Name, &g.SavegameName, &g.SavegameRoot, &g.SavegameDir, &g.IsFinalized, &g.SteamAppID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "finding game %s", id)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM game_variables WHERE game_id = ? ORDER BY name`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "loading variables of game %s", id)
	}
	defer rows.Close()

	g.Variables = make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.Wrap(err, "scanning game variable")
		}
		g.Variables[name] = value
	}
	return g, rows.Err()
}

// FindGameBySavegameName returns the game that owns a savegame name, or nil.
func (s *SQLiteDatabase) FindGameBySavegameName(name string) (*sgb.Game, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM games WHERE savegame_name = ?`, name).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "finding game by savegame name %s", name)
	}
	return s.GetGame(id)
}

// PersistGame inserts or updates a game and replaces its variables.
// A savegame name already used by another game is rejected with
// sgb.ErrConfigInvalid.
func (s *SQLiteDatabase) PersistGame(game *sgb.Game) error {
	if err := game.Validate(); err != nil {
		return err
	}
	ctx := context.Background()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO games (id, name, savegame_name, savegame_root, savegame_dir, is_finalized, steam_app_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			savegame_name = excluded.savegame_name,
			savegame_root = excluded.savegame_root,
			savegame_dir = excluded.savegame_dir,
			is_finalized = excluded.is_finalized,
			steam_app_id = excluded.steam_app_id,
			updated_at = excluded.updated_at`,
		game.ID, game.Name, game.SavegameName, game.SavegameRoot, game.SavegameDir,
		game.IsFinalized, game.SteamAppID, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(sgb.ErrConfigInvalid, "savegame name %q is already in use", game.SavegameName)
		}
		return errors.Wrapf(err, "persisting game %s", game.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM game_variables WHERE game_id = ?`, game.ID); err != nil {
		return errors.Wrap(err, "clearing game variables")
	}
	for name, value := range game.Variables {
		_, err := tx.ExecContext(ctx, `INSERT INTO game_variables (game_id, name, value) VALUES (?, ?, ?)`, game.ID, name, value)
		if err != nil {
			return errors.Wrapf(err, "storing variable %s", name)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// ListGameIDs returns every game id in ascending order.
func (s *SQLiteDatabase) ListGameIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM games ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "listing games")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning game id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
