package mirror

import (
	"context"

	"github.com/cockroachdb/errors"

	"sgbackup/internal/config"
	"sgbackup/internal/sgb"
)

// NewMirrorFromConfig creates a Mirror implementation based on the mirror config type.
func NewMirrorFromConfig(ctx context.Context, cfg config.MirrorConfig) (Mirror, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryMirror(cfg.Name), nil
	case "s3":
		m, err := NewS3Mirror(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, errors.Wrap(sgb.ErrConfigInvalid, "filesystem mirror requires fs_root to be set")
		}
		m, err := NewFileSystemMirror(cfg.Name, cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.Wrapf(sgb.ErrConfigInvalid, "unknown mirror type: %s", cfg.Type)
	}
}
