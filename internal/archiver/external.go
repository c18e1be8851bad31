package archiver

import (
	"bytes"
	"context"
	iofs "io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/shlex"

	"sgbackup/internal/sgb"
)

// ExternalOptions configure how external archiver processes run.
type ExternalOptions struct {
	Timeout time.Duration // 0 means no limit
	Verbose bool          // substitute the descriptor's verbose flag
}

// ExternalArchiver runs a configured program to create and extract
// archives. Command lines are templates expanded per call; see variables.
type ExternalArchiver struct {
	desc   sgb.ArchiverDescriptor
	opts   ExternalOptions
	logger sgb.Logger
}

var _ sgb.Archiver = (*ExternalArchiver)(nil)

func NewExternalArchiver(desc sgb.ArchiverDescriptor, opts ExternalOptions, logger sgb.Logger) *ExternalArchiver {
	desc.Kind = sgb.KindExternal
	desc.KnownExtensions = desc.Extensions()
	return &ExternalArchiver{desc: desc, opts: opts, logger: logger}
}

func (a *ExternalArchiver) Descriptor() sgb.ArchiverDescriptor { return a.desc }

func (a *ExternalArchiver) Backup(ctx context.Context, game *sgb.Game, dest string) error {
	source := game.SourcePath()
	if _, err := os.Stat(source); errors.Is(err, iofs.ErrNotExist) {
		return errors.Wrapf(sgb.ErrSkippedNoSource, "%s", source)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "creating backup directory")
	}

	vars, err := a.variables(ctx, game, dest)
	if err != nil {
		return err
	}
	if err := a.run(ctx, a.desc.BackupCommand, vars, game); err != nil {
		// a killed or failed process may leave a truncated archive
		if rmErr := os.Remove(dest); rmErr == nil {
			a.logger.Debug("removed partial archive", "dest", dest)
		}
		return errors.Mark(err, sgb.ErrBackupFailed)
	}
	return nil
}

func (a *ExternalArchiver) Restore(ctx context.Context, game *sgb.Game, src string) error {
	if err := checkSource(src); err != nil {
		return err
	}
	if err := os.MkdirAll(game.Root(), 0o755); err != nil {
		return restoreErr(errors.Wrap(err, "creating savegame root"), src)
	}

	vars, err := a.variables(ctx, game, src)
	if err != nil {
		return restoreErr(err, src)
	}
	if err := a.run(ctx, a.desc.RestoreCommand, vars, game); err != nil {
		return restoreErr(err, src)
	}
	return nil
}

// IsArchiveFile matches by extension only; the format is opaque.
func (a *ExternalArchiver) IsArchiveFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return matchExtension(filepath.Base(path), a.desc.Extensions()) != ""
}

// variables builds the template lookup table. Lookups resolve in order:
// built-in names, descriptor [variables], game variables, environment.
func (a *ExternalArchiver) variables(ctx context.Context, game *sgb.Game, filename string) (map[string]string, error) {
	vars := make(map[string]string, len(game.Variables)+len(a.desc.Variables)+8)
	for k, v := range game.Variables {
		vars[k] = v
	}
	for k, v := range a.desc.Variables {
		vars[k] = sgb.ExpandTemplate(v, game.Variables)
	}

	file, err := a.translate(ctx, filename)
	if err != nil {
		return nil, err
	}
	root, err := a.translate(ctx, game.Root())
	if err != nil {
		return nil, err
	}
	// with changeDirectory the process runs in the root, so the
	// savegame dir is passed relative to it
	dir := game.Dir()
	if !a.desc.ChangeDirectory {
		if dir, err = a.translate(ctx, game.SourcePath()); err != nil {
			return nil, err
		}
	}

	verbose := ""
	if a.opts.Verbose {
		verbose = a.desc.Verbose
	}
	processMax := 1
	if a.desc.Multiprocessing {
		processMax = runtime.NumCPU()
	}

	vars["FILENAME"] = file
	vars["ROOT_DIR"] = root
	vars["SAVEGAME_ROOT"] = root
	vars["BACKUP_DIR"] = dir
	vars["SAVEGAME_DIR"] = dir
	vars["VERBOSE"] = verbose
	vars["PROCESS_MAX"] = strconv.Itoa(processMax)
	return vars, nil
}

// translate converts a path with the descriptor's cygpath helper, if any.
func (a *ExternalArchiver) translate(ctx context.Context, path string) (string, error) {
	if a.desc.Cygpath == "" {
		return path, nil
	}
	out, err := exec.CommandContext(ctx, a.desc.Cygpath, path).Output()
	if err != nil {
		return "", errors.Wrapf(err, "translating %s with %s", path, a.desc.Cygpath)
	}
	return strings.TrimRight(string(out), "\r\n"), nil
}

func (a *ExternalArchiver) run(ctx context.Context, template string, vars map[string]string, game *sgb.Game) error {
	if strings.TrimSpace(template) == "" {
		return errors.Wrapf(sgb.ErrConfigInvalid, "archiver %s has no command line for this operation", a.desc.ID)
	}
	args, err := shlex.Split(sgb.ExpandTemplate(template, vars))
	if err != nil {
		return errors.Wrapf(sgb.ErrConfigInvalid, "archiver %s: splitting command line: %v", a.desc.ID, err)
	}

	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, a.desc.Executable, args...)
	if a.desc.ChangeDirectory {
		cmd.Dir = game.Root()
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// bounds Wait when a killed process left children holding the pipes
	cmd.WaitDelay = 5 * time.Second

	a.logger.Debug("running archiver", "archiver", a.desc.ID, "executable", a.desc.Executable, "args", strings.Join(args, " "), "dir", cmd.Dir)
	start := time.Now()
	err = cmd.Run()

	if out := strings.TrimSpace(stdout.String()); out != "" {
		a.logger.Debug("archiver stdout", "archiver", a.desc.ID, "output", out)
	}
	if out := strings.TrimSpace(stderr.String()); out != "" {
		a.logger.Warn("archiver stderr", "archiver", a.desc.ID, "output", out)
	}
	if err == nil {
		a.logger.Debug("archiver finished", "archiver", a.desc.ID, "duration", time.Since(start).Truncate(time.Millisecond))
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Mark(errors.Newf("archiver %s timed out after %s; stderr: %s",
			a.desc.ID, time.Since(start).Truncate(time.Millisecond), strings.TrimSpace(stderr.String())), context.DeadlineExceeded)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return errors.Newf("archiver %s exited with code %d; stderr: %s; stdout: %s",
			a.desc.ID, exitErr.ExitCode(), strings.TrimSpace(stderr.String()), strings.TrimSpace(stdout.String()))
	}
	return errors.Wrapf(err, "running archiver %s", a.desc.ID)
}
