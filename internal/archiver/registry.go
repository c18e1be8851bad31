package archiver

import (
	iofs "io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"sgbackup/internal/sgb"
)

// fallbackOrder is tried by Standard when no default is configured or the
// configured one is not registered.
var fallbackOrder = []string{ZipID, TarID(CompressXz), TarID(CompressBzip2), TarID(CompressNone)}

// Registry holds the archivers available to the orchestrator.
type Registry struct {
	archivers  map[string]sgb.Archiver
	standardID string
	logger     sgb.Logger
}

var _ sgb.Registry = (*Registry)(nil)

// NewRegistry creates an empty registry. standardID may be empty.
func NewRegistry(standardID string, logger sgb.Logger) *Registry {
	return &Registry{
		archivers:  make(map[string]sgb.Archiver),
		standardID: standardID,
		logger:     logger,
	}
}

// Register adds a, replacing any archiver with the same id.
func (r *Registry) Register(a sgb.Archiver) {
	id := a.Descriptor().ID
	if prev, ok := r.archivers[id]; ok {
		r.logger.Warn("archiver replaced", "archiver", id,
			"previous_kind", string(prev.Descriptor().Kind), "kind", string(a.Descriptor().Kind))
	}
	r.archivers[id] = a
}

func (r *Registry) Get(id string) (sgb.Archiver, error) {
	a, ok := r.archivers[id]
	if !ok {
		return nil, errors.Wrapf(sgb.ErrNotFound, "archiver %q", id)
	}
	return a, nil
}

func (r *Registry) Standard() (sgb.Archiver, error) {
	if len(r.archivers) == 0 {
		return nil, sgb.ErrNoArchiversAvailable
	}
	if r.standardID != "" {
		if a, ok := r.archivers[r.standardID]; ok {
			return a, nil
		}
		r.logger.Warn("configured standard archiver not registered", "archiver", r.standardID)
	}
	for _, id := range fallbackOrder {
		if a, ok := r.archivers[id]; ok {
			return a, nil
		}
	}
	return r.All()[0], nil
}

// ResolveForFile matches the file name against registered extensions. The
// standard archiver wins when it claims the extension, otherwise the longest
// match does, with ties broken by id.
func (r *Registry) ResolveForFile(path string) (sgb.Archiver, error) {
	name := filepath.Base(path)
	if std, err := r.Standard(); err == nil {
		if matchExtension(name, std.Descriptor().Extensions()) != "" {
			return std, nil
		}
	}

	var best sgb.Archiver
	bestLen := 0
	for _, a := range r.All() {
		ext := matchExtension(name, a.Descriptor().Extensions())
		if len(ext) > bestLen {
			best, bestLen = a, len(ext)
		}
	}
	if best == nil {
		return nil, errors.Wrapf(sgb.ErrUnknownArchiveType, "%s", name)
	}
	return best, nil
}

func (r *Registry) All() []sgb.Archiver {
	ids := make([]string, 0, len(r.archivers))
	for id := range r.archivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]sgb.Archiver, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.archivers[id])
	}
	return out
}

// LoadExternal registers every *.archiver descriptor in dir. Invalid
// descriptors are logged and skipped. A missing dir loads nothing.
func (r *Registry) LoadExternal(dir string, opts ExternalOptions) (int, error) {
	if dir == "" {
		return 0, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, iofs.ErrNotExist) {
		r.logger.Debug("external archiver directory missing", "dir", dir)
		return 0, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*"+DescriptorSuffix))
	if err != nil {
		return 0, errors.Wrapf(err, "listing %s", dir)
	}
	slices.Sort(paths)

	loaded := 0
	for _, p := range paths {
		desc, err := ParseDescriptor(p)
		if err != nil {
			r.logger.Warn("skipping archiver descriptor", "file", p, "error", err)
			continue
		}
		r.Register(NewExternalArchiver(desc, opts, r.logger))
		r.logger.Debug("external archiver loaded", "archiver", desc.ID, "file", p)
		loaded++
	}
	return loaded, nil
}

// matchExtension returns the longest ext such that name ends in "."+ext
// (case-insensitively), or "" if none does.
func matchExtension(name string, exts []string) string {
	lower := strings.ToLower(name)
	best := ""
	for _, ext := range exts {
		if ext == "" {
			continue
		}
		suffix := "." + strings.ToLower(ext)
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) && len(ext) > len(best) {
			best = ext
		}
	}
	return best
}
