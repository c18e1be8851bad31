package sgb

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

// Game is a catalog entry describing where a game keeps its savegames.
type Game struct {
	ID           string
	Name         string
	SavegameName string // backup subdirectory and filename prefix
	SavegameRoot string // template, see Expand
	SavegameDir  string // template, relative to SavegameRoot
	IsFinalized  bool
	SteamAppID   int64 // 0 when unknown
	Variables    map[string]string
}

var templateVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandTemplate replaces ${NAME} references in s. Lookups try vars first,
// then the process environment. Unknown names are left untouched so that
// shell syntax such as "$0" or "${1}" survives expansion.
func ExpandTemplate(s string, vars map[string]string) string {
	return templateVar.ReplaceAllStringFunc(s, func(m string) string {
		name := templateVar.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}

// Root returns SavegameRoot with game variables and environment expanded.
func (g *Game) Root() string {
	root := ExpandTemplate(g.SavegameRoot, g.Variables)
	if strings.HasPrefix(root, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, root[2:])
		}
	}
	return filepath.Clean(root)
}

// Dir returns the expanded SavegameDir, relative to Root.
func (g *Game) Dir() string {
	return filepath.Clean(ExpandTemplate(g.SavegameDir, g.Variables))
}

// SourcePath is the absolute path of the directory that gets archived.
func (g *Game) SourcePath() string {
	return filepath.Join(g.Root(), g.Dir())
}

// BackupDir returns backupRoot/SavegameName.
func (g *Game) BackupDir(backupRoot string) string {
	return filepath.Join(backupRoot, g.SavegameName)
}

var (
	savegameNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.+-]*$`)
	// segments that would make backup filenames parse as another name
	reservedSegment = regexp.MustCompile(`\.(final\.\d+|\d{8}-\d{6})(\.|$)`)
)

// ValidateSavegameName reports whether name is usable as a directory name and
// filename prefix on every supported filesystem.
func ValidateSavegameName(name string) error {
	if !savegameNamePattern.MatchString(name) {
		return errors.Wrapf(ErrConfigInvalid, "savegame name %q must start with a letter or digit and contain only letters, digits, '_', '.', '+' or '-'", name)
	}
	if strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return errors.Wrapf(ErrConfigInvalid, "savegame name %q contains an empty dot segment", name)
	}
	if reservedSegment.MatchString(name) {
		return errors.Wrapf(ErrConfigInvalid, "savegame name %q contains a segment reserved for backup filenames", name)
	}
	return nil
}

// Validate checks the fields every persisted game must carry.
func (g *Game) Validate() error {
	if g.ID == "" {
		return errors.Wrap(ErrConfigInvalid, "game id is required")
	}
	if g.SavegameRoot == "" {
		return errors.Wrapf(ErrConfigInvalid, "game %s: savegame root is required", g.ID)
	}
	if g.SavegameDir == "" {
		return errors.Wrapf(ErrConfigInvalid, "game %s: savegame dir is required", g.ID)
	}
	dir := filepath.Clean(g.SavegameDir)
	if filepath.IsAbs(dir) || dir == ".." || strings.HasPrefix(dir, ".."+string(filepath.Separator)) {
		return errors.Wrapf(ErrConfigInvalid, "game %s: savegame dir %q must stay inside the savegame root", g.ID, g.SavegameDir)
	}
	return ValidateSavegameName(g.SavegameName)
}

// Catalog is the game store the core reads from and writes to.
type Catalog interface {
	// GetGame returns the game with the given id, or nil if it does not exist.
	GetGame(id string) (*Game, error)

	// PersistGame inserts or updates a game.
	PersistGame(game *Game) error

	// ListGameIDs returns every game id in ascending order.
	ListGameIDs() ([]string, error)
}
