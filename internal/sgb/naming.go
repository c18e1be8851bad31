package sgb

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// TimestampLayout formats active-backup timestamps. The layout sorts
// lexically in chronological order.
const TimestampLayout = "20060102-150405"

// BackupKind distinguishes routine backups from finalized snapshots.
type BackupKind int

const (
	KindActive BackupKind = iota
	KindFinal
)

func (k BackupKind) String() string {
	if k == KindFinal {
		return "final"
	}
	return "active"
}

// ParsedName is a backup filename split into its components.
type ParsedName struct {
	SavegameName string
	Kind         BackupKind
	Timestamp    time.Time // KindActive only
	Index        int       // KindFinal only
	Extension    string
}

// ActiveFilename returns {savegame}.{timestamp}.{ext}. Timestamps are UTC
// and truncated to the second.
func ActiveFilename(savegameName, ext string, now time.Time) string {
	return fmt.Sprintf("%s.%s.%s", savegameName, now.UTC().Format(TimestampLayout), ext)
}

// FinalFilename returns {savegame}.final.{index}.{ext}.
func FinalFilename(savegameName, ext string, index int) string {
	return fmt.Sprintf("%s.final.%d.%s", savegameName, index, ext)
}

// BuildPath computes the canonical path of a new backup. finalIndex is only
// used when finalized is set; see NextFinalIndex.
func BuildPath(backupRoot string, game *Game, ext string, finalized bool, finalIndex int, now time.Time) string {
	var name string
	if finalized {
		name = FinalFilename(game.SavegameName, ext, finalIndex)
	} else {
		name = ActiveFilename(game.SavegameName, ext, now)
	}
	return filepath.Join(game.BackupDir(backupRoot), name)
}

var (
	finalPattern  = regexp.MustCompile(`^(.+)\.final\.(\d+)\.([^/\\]+)$`)
	activePattern = regexp.MustCompile(`^(.+?)\.(\d{8}-\d{6})\.([^/\\]+)$`)
)

// Parse splits a backup filename (or path) into its components. It returns
// false for names that follow neither naming scheme.
func Parse(filename string) (ParsedName, bool) {
	base := filepath.Base(filename)

	if m := finalPattern.FindStringSubmatch(base); m != nil {
		index, err := strconv.Atoi(m[2])
		if err != nil {
			return ParsedName{}, false
		}
		return ParsedName{SavegameName: m[1], Kind: KindFinal, Index: index, Extension: m[3]}, true
	}

	if m := activePattern.FindStringSubmatch(base); m != nil {
		ts, err := time.ParseInLocation(TimestampLayout, m[2], time.UTC)
		if err != nil {
			return ParsedName{}, false
		}
		return ParsedName{SavegameName: m[1], Kind: KindActive, Timestamp: ts, Extension: m[3]}, true
	}

	return ParsedName{}, false
}

// FindLatest picks the canonical latest backup from names. Any final backup
// wins over every active one (the highest index among finals); otherwise
// the active backup with the newest timestamp is returned. Names that do
// not parse are ignored.
func FindLatest(names []string) (string, bool) {
	var (
		bestFinal  string
		bestIndex  = -1
		bestActive string
		bestTime   time.Time
	)
	for _, n := range names {
		p, ok := Parse(n)
		if !ok {
			continue
		}
		switch p.Kind {
		case KindFinal:
			if p.Index > bestIndex {
				bestIndex, bestFinal = p.Index, n
			}
		case KindActive:
			if bestActive == "" || p.Timestamp.After(bestTime) {
				bestTime, bestActive = p.Timestamp, n
			}
		}
	}
	if bestFinal != "" {
		return bestFinal, true
	}
	return bestActive, bestActive != ""
}

// NextFinalIndex returns one past the highest final index in names, or 0.
func NextFinalIndex(names []string) int {
	next := 0
	for _, n := range names {
		if p, ok := Parse(n); ok && p.Kind == KindFinal && p.Index >= next {
			next = p.Index + 1
		}
	}
	return next
}
