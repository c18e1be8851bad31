package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"sgbackup/internal/archiver"
	"sgbackup/internal/config"
	"sgbackup/internal/database"
	"sgbackup/internal/database/migrations"
	"sgbackup/internal/mirror"
	"sgbackup/internal/sgb"
)

// SGBApp is the application layer between the CLI and the orchestrator.
// It constructs all dependencies from config, exposes high-level operations
// keyed by game id, and manages the DB lifecycle on Close.
type SGBApp struct {
	cfg      *config.Config
	db       *database.SQLiteDatabase
	registry *archiver.Registry
	orch     *sgb.Orchestrator
	checker  *sgb.IntegrityChecker
	mirrors  []mirror.Mirror
	logger   sgb.Logger
	op       *BackupOperation
	logFile  *os.File
}

// Options tune an SGBApp beyond the config file.
type Options struct {
	Verbose bool      // debug logging, also passed to external archivers
	Clock   sgb.Clock // nil means sgb.RealClock
}

// NewSGBApp creates a fully wired SGBApp from the given config.
// operation identifies the CLI command being run (e.g. "Backup", "Check").
// The caller must call Close when done.
func NewSGBApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*SGBApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = sgb.RealClock{}
	}

	opID := strings.SplitN(uuid.NewString(), "-", 2)[0]
	slogger, logFile, err := newLogger(cfg.LogDir, opID, opts.Verbose)
	if err != nil {
		return nil, errors.Wrap(err, "creating logger")
	}
	logger := &slogAdapter{l: slogger}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, errors.Wrap(err, "creating database")
	}
	if err := db.CheckMigrations(); err != nil {
		if !errors.Is(err, migrations.ErrNeedsMigration) {
			db.Close()
			logFile.Close()
			return nil, errors.Wrap(err, "database schema out of date")
		}
		logger.Info("initializing database schema", "path", db.Path())
		if err := db.Migrate(); err != nil {
			db.Close()
			logFile.Close()
			return nil, err
		}
	}

	mirrors, err := openMirrors(ctx, cfg.Mirrors, db)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, err
	}

	timeout, _ := cfg.Archivers.TimeoutDuration()
	registry := archiver.NewDefaultRegistry(cfg.Archivers.Standard, cfg.Archivers.Ignore, logger)
	n, err := registry.LoadExternal(cfg.Archivers.ExternalDir, archiver.ExternalOptions{
		Timeout: timeout,
		Verbose: cfg.Archivers.Verbose || opts.Verbose,
	})
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, errors.Wrap(err, "loading external archivers")
	}
	logger.Debug("archivers loaded", "external", n, "total", len(registry.All()))

	orch := sgb.NewOrchestrator(registry, db, db, sgb.Settings{
		BackupRoot:        cfg.BackupDir,
		MaxVersions:       cfg.Backup.MaxVersions,
		ChecksumAlgorithm: cfg.Backup.ChecksumAlgorithm,
	}, logger, opts.Clock)
	// The sidecar must exist before mirrors upload the extra files.
	if cfg.Backup.WriteSidecar {
		orch.Subscribe(sgb.NewSidecarListener(db, logger))
	}
	for _, m := range mirrors {
		orch.Subscribe(mirror.NewListener(m, db, logger))
	}

	return &SGBApp{
		cfg:      cfg,
		db:       db,
		registry: registry,
		orch:     orch,
		checker:  sgb.NewIntegrityChecker(orch),
		mirrors:  mirrors,
		logger:   logger,
		op:       NewBackupOperation(operation, ""),
		logFile:  logFile,
	}, nil
}

// openMirrors creates the configured mirrors and refuses to run when a
// mirror holds a database snapshot newer than the local database.
func openMirrors(ctx context.Context, cfgs []config.MirrorConfig, db *database.SQLiteDatabase) ([]mirror.Mirror, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}
	localMax, err := db.MaxBackupOperationID()
	if err != nil {
		return nil, errors.Wrap(err, "checking local metadata version")
	}

	var mirrors []mirror.Mirror
	for _, mc := range cfgs {
		m, err := mirror.NewMirrorFromConfig(ctx, mc)
		if err != nil {
			return nil, errors.Wrapf(err, "creating mirror %s", mc.Name)
		}
		remote, err := m.GetMetadataVersion(ctx, mirror.DatabaseMetadataName)
		if err != nil {
			return nil, errors.Wrapf(err, "checking metadata version of mirror %s", mc.Name)
		}
		if remote > localMax {
			return nil, errors.Newf("local database is behind mirror %s (local=%d, mirror=%d): restore the database from the mirror",
				mc.Name, localMax, remote)
		}
		mirrors = append(mirrors, m)
	}
	return mirrors, nil
}

// persistOperation saves the backup operation to the database, giving it an auto-increment ID.
// This should only be called for DB-mutating commands.
func (a *SGBApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateBackupOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return errors.Wrap(err, "persisting backup operation")
	}
	a.op.ID = dbOp.ID
	return nil
}

func (a *SGBApp) game(id string) (*sgb.Game, error) {
	g, err := a.db.GetGame(id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, errors.Wrapf(sgb.ErrNotFound, "game %s", id)
	}
	return g, nil
}

// archiver returns the archiver registered under id; an empty id selects
// the standard archiver (nil).
func (a *SGBApp) archiver(id string) (sgb.Archiver, error) {
	if id == "" {
		return nil, nil
	}
	arch, err := a.registry.Get(id)
	if err != nil {
		return nil, Usage(err)
	}
	return arch, nil
}

// Backup backs up one game. archiverID may be empty for the standard
// archiver. The returned error covers setup problems only; the outcome
// of the backup itself is in the Result.
func (a *SGBApp) Backup(ctx context.Context, gameID, archiverID string) (sgb.Result, error) {
	if err := a.persistOperation(gameID); err != nil {
		return sgb.Result{}, err
	}
	game, err := a.game(gameID)
	if err != nil {
		return sgb.Result{}, a.op.Observe(err)
	}
	arch, err := a.archiver(archiverID)
	if err != nil {
		return sgb.Result{}, a.op.Observe(err)
	}
	r := a.orch.Backup(ctx, game, arch)
	a.op.Observe(r.Err)
	return r, nil
}

// BackupAll backs up every game; finalized games only with includeFinalized.
func (a *SGBApp) BackupAll(ctx context.Context, includeFinalized bool) (sgb.BatchResult, error) {
	if err := a.persistOperation(""); err != nil {
		return sgb.BatchResult{}, err
	}
	batch, err := a.orch.BackupAll(ctx, includeFinalized)
	if batch.Failed > 0 {
		a.op.Status = StatusError
	}
	return batch, a.op.Observe(err)
}

// Restore extracts a backup of one game. An empty filename selects the
// latest backup. With verify the backup's checksum is checked first; a
// backup without a ledger record is restored with a warning.
func (a *SGBApp) Restore(ctx context.Context, gameID, filename string, verify bool) (string, error) {
	game, err := a.game(gameID)
	if err != nil {
		return "", err
	}
	return a.restore(ctx, game, filename, verify)
}

func (a *SGBApp) restore(ctx context.Context, game *sgb.Game, filename string, verify bool) (string, error) {
	if filename == "" {
		paths, err := a.orch.ListBackups(game)
		if err != nil {
			return "", errors.Mark(err, sgb.ErrRestoreFailed)
		}
		names := make([]string, len(paths))
		for i, p := range paths {
			names[i] = filepath.Base(p)
		}
		latest, found := sgb.FindLatest(names)
		if !found {
			return "", errors.Wrapf(sgb.ErrNoBackupAvailable, "game %s", game.ID)
		}
		filename = latest
	}

	if verify {
		if err := a.checker.Verify(game, filename); err != nil {
			if !errors.Is(err, sgb.ErrChecksumMissing) {
				return "", errors.Mark(errors.Wrap(err, "verifying backup"), sgb.ErrRestoreFailed)
			}
			a.logger.Warn("restoring backup without checksum record", "game", game.ID, "file", filename)
		}
	}
	return a.orch.Restore(ctx, game, filename)
}

// RestoreAll restores the latest backup of every game in id order.
// Games without backups are skipped; failures do not stop the batch.
func (a *SGBApp) RestoreAll(ctx context.Context, verify bool) (sgb.BatchResult, error) {
	var batch sgb.BatchResult
	ids, err := a.db.ListGameIDs()
	if err != nil {
		return batch, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		game, err := a.game(id)
		if err != nil {
			batch.Add(sgb.Result{GameID: id, Status: sgb.StatusFailed, Err: err})
			continue
		}
		path, err := a.restore(ctx, game, "", verify)
		switch {
		case errors.Is(err, sgb.ErrNoBackupAvailable):
			batch.Add(sgb.Result{GameID: id, Status: sgb.StatusSkipped, Reason: "no backup available"})
		case err != nil:
			a.logger.Error("restore failed", "game", id, "error", err)
			batch.Add(sgb.Result{GameID: id, Status: sgb.StatusFailed, Path: path, Err: err})
		default:
			batch.Add(sgb.Result{GameID: id, Status: sgb.StatusOK, Path: path})
		}
	}
	return batch, nil
}

// DefaultCheckOptions returns the check actions configured in [integrity].
func (a *SGBApp) DefaultCheckOptions() sgb.CheckOptions {
	missing, _ := sgb.ParseMissingAction(a.cfg.Integrity.MissingAction)
	failed, _ := sgb.ParseFailedAction(a.cfg.Integrity.FailedAction)
	return sgb.CheckOptions{Missing: missing, Failed: failed}
}

// Check verifies the backups of one game, or of every game when gameID is
// empty. Checks that may change files or records are recorded in the
// history.
func (a *SGBApp) Check(ctx context.Context, gameID string, opts sgb.CheckOptions) ([]*sgb.Report, error) {
	if opts.Missing != sgb.MissingIgnore || opts.Failed != sgb.FailedIgnore || opts.PurgeOrphans {
		if err := a.persistOperation(gameID); err != nil {
			return nil, err
		}
	}
	if gameID == "" {
		reports, err := a.checker.CheckAll(ctx, opts)
		return reports, a.op.Observe(err)
	}
	game, err := a.game(gameID)
	if err != nil {
		return nil, err
	}
	report, err := a.checker.Check(ctx, game, opts)
	if err != nil {
		return nil, a.op.Observe(err)
	}
	return []*sgb.Report{report}, nil
}

// Finalize marks a game finalized and writes its final backup.
func (a *SGBApp) Finalize(ctx context.Context, gameID, archiverID string) (sgb.Result, error) {
	if err := a.persistOperation(gameID); err != nil {
		return sgb.Result{}, err
	}
	game, err := a.game(gameID)
	if err != nil {
		return sgb.Result{}, a.op.Observe(err)
	}
	arch, err := a.archiver(archiverID)
	if err != nil {
		return sgb.Result{}, a.op.Observe(err)
	}
	r := a.orch.Finalize(ctx, game, arch)
	a.op.Observe(r.Err)
	return r, nil
}

// Unfinalize clears the finalized flag of a game.
func (a *SGBApp) Unfinalize(ctx context.Context, gameID string) error {
	if err := a.persistOperation(gameID); err != nil {
		return err
	}
	game, err := a.game(gameID)
	if err != nil {
		return a.op.Observe(err)
	}
	return a.op.Observe(a.orch.Unfinalize(ctx, game))
}

// BackupInfo describes one backup file and its ledger record.
type BackupInfo struct {
	Filename  string
	Path      string
	Kind      sgb.BackupKind
	Algorithm string // empty without a ledger record
	Digest    string
}

// ListBackups returns the backups of a game sorted by filename.
func (a *SGBApp) ListBackups(gameID string) ([]BackupInfo, error) {
	game, err := a.game(gameID)
	if err != nil {
		return nil, err
	}
	paths, err := a.orch.ListBackups(game)
	if err != nil {
		return nil, err
	}
	records, err := a.db.List(game.ID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*sgb.BackupRecord, len(records))
	for _, rec := range records {
		byName[rec.Filename] = rec
	}

	infos := make([]BackupInfo, 0, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		info := BackupInfo{Filename: name, Path: p}
		if parsed, ok := sgb.Parse(name); ok {
			info.Kind = parsed.Kind
		}
		if rec := byName[name]; rec != nil {
			info.Algorithm, info.Digest = rec.Algorithm, rec.Digest
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DeleteBackup removes one backup file of a game with its ledger record.
func (a *SGBApp) DeleteBackup(ctx context.Context, gameID, filename string) error {
	if err := a.persistOperation(gameID + " " + filename); err != nil {
		return err
	}
	game, err := a.game(gameID)
	if err != nil {
		return a.op.Observe(err)
	}
	return a.op.Observe(a.orch.Delete(ctx, game, filename))
}

// RenameSavegame changes a game's savegame name and renames its backups.
func (a *SGBApp) RenameSavegame(ctx context.Context, gameID, newName string) error {
	if err := a.persistOperation(gameID + " " + newName); err != nil {
		return err
	}
	game, err := a.game(gameID)
	if err != nil {
		return a.op.Observe(err)
	}
	return a.op.Observe(a.orch.RenameSavegame(ctx, game, newName))
}

// ArchiverInfo describes a registered archiver.
type ArchiverInfo struct {
	ID         string
	Kind       sgb.ArchiverKind
	Extensions []string
	Standard   bool
}

// Archivers lists the registered archivers sorted by id.
func (a *SGBApp) Archivers() []ArchiverInfo {
	standardID := ""
	if std, err := a.registry.Standard(); err == nil {
		standardID = std.Descriptor().ID
	}
	var infos []ArchiverInfo
	for _, arch := range a.registry.All() {
		d := arch.Descriptor()
		infos = append(infos, ArchiverInfo{
			ID:         d.ID,
			Kind:       d.Kind,
			Extensions: d.Extensions(),
			Standard:   d.ID == standardID,
		})
	}
	return infos
}

// MirrorStatus is the outcome of validating one mirror.
type MirrorStatus struct {
	Name string
	Err  error
}

// CheckMirrors validates the setup of every configured mirror.
func (a *SGBApp) CheckMirrors(ctx context.Context) []MirrorStatus {
	statuses := make([]MirrorStatus, 0, len(a.mirrors))
	for _, m := range a.mirrors {
		statuses = append(statuses, MirrorStatus{Name: m.Name(), Err: m.ValidateSetup(ctx)})
	}
	return statuses
}

// History returns the most recent operations, newest first.
func (a *SGBApp) History(limit int) ([]*database.BackupOperation, error) {
	return a.db.ListBackupOperations(limit)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, snapshots the
// DB and uploads it to every mirror with the operation id as version.
// For non-persisted operations: just closes the database.
func (a *SGBApp) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var snapshot string
	if a.op.Persisted() {
		if err := a.db.FinishBackupOperation(a.op.ID, a.op.Status); err != nil {
			keep(errors.Wrap(err, "finishing backup operation"))
		}
		if len(a.mirrors) > 0 {
			path, err := a.snapshotDatabase()
			keep(err)
			snapshot = path
		}
	}

	if err := a.db.Close(); err != nil {
		keep(errors.Wrap(err, "closing database"))
	}

	if snapshot != "" {
		for _, m := range a.mirrors {
			if err := mirror.PutMetadataFile(ctx, m, mirror.DatabaseMetadataName, snapshot, a.op.ID); err != nil {
				keep(errors.Wrapf(err, "uploading database to mirror %s", m.Name()))
			}
		}
		os.Remove(snapshot)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// snapshotDatabase writes a consistent copy of the database to a temp
// file and returns its path.
func (a *SGBApp) snapshotDatabase() (string, error) {
	tmpFile, err := os.CreateTemp("", "sgbackup-db-*.db")
	if err != nil {
		return "", errors.Wrap(err, "creating temp file for db backup")
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	if err := a.db.BackupTo(tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrap(err, "backing up database")
	}
	return tmpPath, nil
}

