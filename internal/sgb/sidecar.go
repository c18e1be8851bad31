package sgb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// SidecarListener writes a detached checksum file {backup}.{algorithm}
// next to every new backup and attaches it to the ledger record. The file
// uses the "digest  filename" line format of sha256sum and friends.
type SidecarListener struct {
	ledger Ledger
	logger Logger
}

var _ Listener = (*SidecarListener)(nil)

func NewSidecarListener(ledger Ledger, logger Logger) *SidecarListener {
	return &SidecarListener{ledger: ledger, logger: logger}
}

func (s *SidecarListener) HandleEvent(_ context.Context, ev Event) error {
	if ev.Kind != EventBackupCreated {
		return nil
	}
	rec, err := s.ledger.Lookup(ev.Game.ID, ev.Filename)
	if err != nil {
		return errors.Wrap(err, "looking up ledger record")
	}
	if rec == nil {
		return nil
	}

	name := ev.Filename + "." + rec.Algorithm
	path := filepath.Join(filepath.Dir(ev.Path), name)
	line := fmt.Sprintf("%s  %s\n", rec.Digest, ev.Filename)
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return errors.Wrapf(err, "writing sidecar %s", name)
	}
	if err := s.ledger.AttachExtraFile(ev.Game.ID, ev.Filename, ExtraFile{Name: name}); err != nil {
		return errors.Wrap(err, "attaching sidecar")
	}
	s.logger.Debug("sidecar written", "game", ev.Game.ID, "file", name)
	return nil
}
