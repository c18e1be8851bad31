package app

import (
	"github.com/cockroachdb/errors"

	"sgbackup/internal/sgb"
)

// AddGame registers a new game. An existing id is rejected.
func (a *SGBApp) AddGame(game *sgb.Game) error {
	if err := a.persistOperation(game.ID); err != nil {
		return err
	}
	existing, err := a.db.GetGame(game.ID)
	if err != nil {
		return a.op.Observe(err)
	}
	if existing != nil {
		return a.op.Observe(errors.Wrapf(sgb.ErrConfigInvalid, "game %s already exists", game.ID))
	}
	if game.SavegameName == "" {
		game.SavegameName = game.ID
	}
	return a.op.Observe(a.db.PersistGame(game))
}

// GetGame returns one game or an error wrapping sgb.ErrNotFound.
func (a *SGBApp) GetGame(id string) (*sgb.Game, error) {
	return a.game(id)
}

// ListGames returns every game in id order.
func (a *SGBApp) ListGames() ([]*sgb.Game, error) {
	ids, err := a.db.ListGameIDs()
	if err != nil {
		return nil, err
	}
	games := make([]*sgb.Game, 0, len(ids))
	for _, id := range ids {
		g, err := a.game(id)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, nil
}

// SetGameVariable sets a template variable of a game. An empty value
// removes the variable.
func (a *SGBApp) SetGameVariable(gameID, name, value string) error {
	if err := a.persistOperation(gameID + " " + name); err != nil {
		return err
	}
	game, err := a.game(gameID)
	if err != nil {
		return a.op.Observe(err)
	}
	if name == "" {
		return a.op.Observe(Usage(errors.New("variable name is required")))
	}
	if value == "" {
		delete(game.Variables, name)
	} else {
		if game.Variables == nil {
			game.Variables = make(map[string]string)
		}
		game.Variables[name] = value
	}
	return a.op.Observe(a.db.PersistGame(game))
}
