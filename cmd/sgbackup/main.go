package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sgbackup/internal/app"
	"sgbackup/internal/config"
	"sgbackup/internal/sgb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(app.ExitCode(err))
}

// newApp reads the config and creates an SGBApp. The caller must close it.
// operation identifies the CLI command being run (e.g. "Backup", "Check").
func newApp(cmd *cobra.Command, operation string) (*app.SGBApp, error) {
	defaults := app.GetDefaults()

	if _, err := os.Stat(defaults["config_path"]); errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(sgb.ErrConfigInvalid,
			"no config at %s, run 'sgbackup config init' first", defaults["config_path"])
	}
	cfg, err := config.Load(defaults["config_path"], defaults["base_dir"])
	if err != nil {
		return nil, errors.Mark(err, sgb.ErrConfigInvalid)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewSGBApp(cmd.Context(), cfg, operation, app.Options{Verbose: verbose})
	if err != nil {
		return nil, errors.Wrap(err, "initializing app")
	}
	return a, nil
}

// withApp runs fn against a fresh SGBApp and closes it afterwards. A close
// error is returned only when fn succeeded.
func withApp(cmd *cobra.Command, operation string, fn func(a *app.SGBApp) error) (err error) {
	a, err := newApp(cmd, operation)
	if err != nil {
		return err
	}
	defer func() {
		// The snapshot upload must run even after an interrupt.
		closeErr := a.Close(context.WithoutCancel(cmd.Context()))
		if err == nil {
			err = closeErr
		}
	}()
	return fn(a)
}

func stdout() *printer {
	useColor := term.IsTerminal(int(os.Stdout.Fd())) &&
		os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
	return newPrinter(os.Stdout, useColor)
}

// usageArgs turns argument validation failures into usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return app.Usage(err)
		}
		return nil
	}
}

var rootCmd = &cobra.Command{
	Use:           "sgbackup",
	Short:         "Savegame backup tool",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults := app.GetDefaults()
		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return errors.Wrap(err, "failed to initialize config")
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Backup Dir: %s\n", cfg.BackupDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults := app.GetDefaults()
		cfg, err := config.Load(defaults["config_path"], defaults["base_dir"])
		if err != nil {
			return errors.Mark(err, sgb.ErrConfigInvalid)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:           %s\n", cfg.BaseDir)
		fmt.Printf("Backup Dir:         %s\n", cfg.BackupDir)
		fmt.Printf("Log Dir:            %s\n", cfg.LogDir)
		fmt.Printf("Database:           %s\n", cfg.Database.Type)
		fmt.Printf("Standard Archiver:  %s\n", orDefault(cfg.Archivers.Standard, "(auto)"))
		fmt.Printf("External Archivers: %s\n", cfg.Archivers.ExternalDir)
		fmt.Printf("Max Versions:       %d\n", cfg.Backup.MaxVersions)
		fmt.Printf("Checksum:           %s\n", cfg.Backup.ChecksumAlgorithm)
		fmt.Printf("Sidecar Files:      %v\n", cfg.Backup.WriteSidecar)
		for _, m := range cfg.Mirrors {
			fmt.Printf("Mirror:             %s (%s)\n", m.Name, m.Type)
		}
		return nil
	},
}

var configMirrorsCmd = &cobra.Command{
	Use:   "mirrors",
	Short: "Validate mirror setup",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "CheckMirrors", func(a *app.SGBApp) error {
			p := stdout()
			statuses := a.CheckMirrors(cmd.Context())
			if len(statuses) == 0 {
				fmt.Println("No mirrors configured.")
				return nil
			}
			var failed int
			for _, s := range statuses {
				if s.Err != nil {
					failed++
					fmt.Fprintf(p.out, "[mirror] %s ... %s %s\n", s.Name, p.failed.Sprint("FAILED"), p.dim.Sprintf("(%v)", s.Err))
					continue
				}
				fmt.Fprintf(p.out, "[mirror] %s ... %s\n", s.Name, p.ok.Sprint("OK"))
			}
			if failed > 0 {
				return errors.Newf("%d of %d mirrors failed validation", failed, len(statuses))
			}
			return nil
		})
	},
}

// game command
var gameCmd = &cobra.Command{
	Use:   "game",
	Short: "Manage games",
}

var gameAddCmd = &cobra.Command{
	Use:   "add ID",
	Short: "Register a game",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		savegameName, _ := cmd.Flags().GetString("savegame-name")
		root, _ := cmd.Flags().GetString("root")
		dir, _ := cmd.Flags().GetString("dir")
		steamAppID, _ := cmd.Flags().GetInt64("steam-app-id")
		vars, _ := cmd.Flags().GetStringToString("var")

		game := &sgb.Game{
			ID:           args[0],
			Name:         orDefault(name, args[0]),
			SavegameName: orDefault(savegameName, args[0]),
			SavegameRoot: root,
			SavegameDir:  dir,
			SteamAppID:   steamAppID,
			Variables:    vars,
		}
		if err := game.Validate(); err != nil {
			return app.Usage(err)
		}
		return withApp(cmd, "AddGame", func(a *app.SGBApp) error {
			if err := a.AddGame(game); err != nil {
				return err
			}
			fmt.Printf("Added game %s (%s)\n", game.ID, game.SourcePath())
			return nil
		})
	},
}

var gameListCmd = &cobra.Command{
	Use:   "list",
	Short: "List games",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "ListGames", func(a *app.SGBApp) error {
			games, err := a.ListGames()
			if err != nil {
				return err
			}
			if len(games) == 0 {
				fmt.Println("No games registered.")
				return nil
			}
			for _, g := range games {
				finalized := ""
				if g.IsFinalized {
					finalized = "  [final]"
				}
				fmt.Printf("%-20s  %-30s  %s%s\n", g.ID, g.Name, g.SourcePath(), finalized)
			}
			return nil
		})
	},
}

var gameShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a game",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "GetGame", func(a *app.SGBApp) error {
			g, err := a.GetGame(args[0])
			if err != nil {
				return err
			}
			stdout().game(g)
			return nil
		})
	},
}

var gameRenameCmd = &cobra.Command{
	Use:   "rename ID SAVEGAME_NAME",
	Short: "Change the savegame name and rename its backups",
	Args:  usageArgs(cobra.ExactArgs(2)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "RenameSavegame", func(a *app.SGBApp) error {
			if err := a.RenameSavegame(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Renamed savegame of %s to %s\n", args[0], args[1])
			return nil
		})
	},
}

var gameSetVarCmd = &cobra.Command{
	Use:   "set-var ID NAME [VALUE]",
	Short: "Set a template variable, or remove it without VALUE",
	Args:  usageArgs(cobra.RangeArgs(2, 3)),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) == 3 {
			value = args[2]
		}
		return withApp(cmd, "SetGameVariable", func(a *app.SGBApp) error {
			return a.SetGameVariable(args[0], args[1], value)
		})
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup [GAME]",
	Short: "Back up one game or all games",
	Args:  usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		includeFinalized, _ := cmd.Flags().GetBool("include-finalized")
		archiverID, _ := cmd.Flags().GetString("archiver")
		if all == (len(args) == 1) {
			return app.Usage(errors.New("specify either a game or --all"))
		}

		if all {
			return withApp(cmd, "BackupAll", func(a *app.SGBApp) error {
				batch, err := a.BackupAll(cmd.Context(), includeFinalized)
				stdout().batch("backup", batch)
				return err
			})
		}
		return withApp(cmd, "Backup", func(a *app.SGBApp) error {
			r, err := a.Backup(cmd.Context(), args[0], archiverID)
			if err != nil {
				return err
			}
			stdout().result("backup", r)
			return r.Err
		})
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore [GAME] [FILENAME]",
	Short: "Restore the latest or a given backup",
	Args:  usageArgs(cobra.MaximumNArgs(2)),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		noVerify, _ := cmd.Flags().GetBool("no-verify")
		if all == (len(args) > 0) {
			return app.Usage(errors.New("specify either a game or --all"))
		}

		if all {
			return withApp(cmd, "RestoreAll", func(a *app.SGBApp) error {
				batch, err := a.RestoreAll(cmd.Context(), !noVerify)
				stdout().batch("restore", batch)
				return err
			})
		}
		filename := ""
		if len(args) == 2 {
			filename = args[1]
		}
		return withApp(cmd, "Restore", func(a *app.SGBApp) error {
			path, err := a.Restore(cmd.Context(), args[0], filename, !noVerify)
			r := sgb.Result{GameID: args[0], Status: sgb.StatusOK, Path: path}
			if errors.Is(err, sgb.ErrNoBackupAvailable) {
				r.Status, r.Reason = sgb.StatusSkipped, "no backup available"
				err = nil
			} else if err != nil {
				r.Status, r.Err = sgb.StatusFailed, err
			}
			stdout().result("restore", r)
			return err
		})
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check [GAME]",
	Short: "Verify backups against their checksums",
	Args:  usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return app.Usage(errors.New("specify either a game or --all"))
		}
		gameID := ""
		if len(args) == 1 {
			gameID = args[0]
		}

		return withApp(cmd, "Check", func(a *app.SGBApp) error {
			opts, err := checkOptions(cmd, a.DefaultCheckOptions())
			if err != nil {
				return err
			}
			reports, err := a.Check(cmd.Context(), gameID, opts)
			p := stdout()
			var ok, failed, missing, orphaned int
			for _, r := range reports {
				p.report(r)
				ok += r.Count(sgb.CheckOK)
				failed += r.Count(sgb.CheckFailed)
				missing += r.Count(sgb.CheckMissing)
				orphaned += r.Count(sgb.CheckOrphaned)
			}
			fmt.Printf("%d ok, %d failed, %d missing, %d orphaned\n", ok, failed, missing, orphaned)
			return err
		})
	},
}

func addCheckFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("create-missing", false, "Record checksums for backups without one")
	cmd.Flags().Bool("delete-missing", false, "Delete backups without a checksum")
	cmd.Flags().Bool("delete-failed", false, "Delete backups that fail verification")
	cmd.Flags().Bool("purge-orphans", false, "Remove checksum records of missing files")
}

// checkOptions overrides the configured defaults with explicit flags.
func checkOptions(cmd *cobra.Command, opts sgb.CheckOptions) (sgb.CheckOptions, error) {
	flags := cmd.Flags()
	createMissing, _ := flags.GetBool("create-missing")
	deleteMissing, _ := flags.GetBool("delete-missing")
	if createMissing && deleteMissing {
		return opts, app.Usage(errors.New("--create-missing and --delete-missing are mutually exclusive"))
	}
	switch {
	case createMissing:
		opts.Missing = sgb.MissingCreate
	case deleteMissing:
		opts.Missing = sgb.MissingDelete
	}
	if deleteFailed, _ := flags.GetBool("delete-failed"); deleteFailed {
		opts.Failed = sgb.FailedDelete
	}
	opts.PurgeOrphans, _ = flags.GetBool("purge-orphans")
	return opts, nil
}

// finalize command
var finalizeCmd = &cobra.Command{
	Use:   "finalize GAME",
	Short: "Write a final backup and stop regular backups",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		archiverID, _ := cmd.Flags().GetString("archiver")
		return withApp(cmd, "Finalize", func(a *app.SGBApp) error {
			r, err := a.Finalize(cmd.Context(), args[0], archiverID)
			if err != nil {
				return err
			}
			stdout().result("finalize", r)
			return r.Err
		})
	},
}

var unfinalizeCmd = &cobra.Command{
	Use:   "unfinalize GAME",
	Short: "Resume regular backups of a finalized game",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Unfinalize", func(a *app.SGBApp) error {
			if err := a.Unfinalize(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Unfinalized %s\n", args[0])
			return nil
		})
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list GAME",
	Short: "List the backups of a game",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "ListBackups", func(a *app.SGBApp) error {
			infos, err := a.ListBackups(args[0])
			if err != nil {
				return err
			}
			stdout().backups(infos)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete GAME FILENAME",
	Short: "Delete one backup",
	Args:  usageArgs(cobra.ExactArgs(2)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "DeleteBackup", func(a *app.SGBApp) error {
			if err := a.DeleteBackup(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[1])
			return nil
		})
	},
}

var archiversCmd = &cobra.Command{
	Use:   "archivers",
	Short: "List available archivers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Archivers", func(a *app.SGBApp) error {
			for _, info := range a.Archivers() {
				standard := ""
				if info.Standard {
					standard = "  [standard]"
				}
				fmt.Printf("%-20s  %-8s  %v%s\n", info.ID, info.Kind, info.Extensions, standard)
			}
			return nil
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd, "GetHistory", func(a *app.SGBApp) error {
			ops, err := a.History(limit)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Println("No operations recorded.")
				return nil
			}
			for _, op := range ops {
				duration := ""
				if op.FinishedAt.Valid {
					d := op.FinishedAt.Time.Sub(op.StartedAt)
					duration = d.Truncate(time.Millisecond).String()
				}
				fmt.Printf("#%d  %-15s  %s  %-8s  %-10s  %s\n",
					op.ID,
					op.Operation,
					op.StartedAt.Format("2006-01-02 15:04:05"),
					op.Status,
					duration,
					op.Parameters,
				)
			}
			return nil
		})
	},
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging on stderr")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return app.Usage(err)
	})

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configMirrorsCmd)

	// game subcommands
	gameCmd.AddCommand(gameAddCmd)
	gameAddCmd.Flags().String("name", "", "Display name (default: ID)")
	gameAddCmd.Flags().String("savegame-name", "", "Backup directory and file prefix (default: ID)")
	gameAddCmd.Flags().String("root", "", "Savegame root, may reference ${VARIABLES}")
	gameAddCmd.Flags().String("dir", "", "Savegame directory relative to the root")
	gameAddCmd.Flags().Int64("steam-app-id", 0, "Steam app id")
	gameAddCmd.Flags().StringToString("var", nil, "Template variable NAME=VALUE (repeatable)")
	gameCmd.AddCommand(gameListCmd)
	gameCmd.AddCommand(gameShowCmd)
	gameCmd.AddCommand(gameRenameCmd)
	gameCmd.AddCommand(gameSetVarCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(gameCmd)
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().Bool("all", false, "Back up every game")
	backupCmd.Flags().Bool("include-finalized", false, "With --all, also back up finalized games")
	backupCmd.Flags().String("archiver", "", "Archiver id (default: the standard archiver)")
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().Bool("all", false, "Restore the latest backup of every game")
	restoreCmd.Flags().Bool("no-verify", false, "Skip checksum verification")
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Bool("all", false, "Check every game")
	addCheckFlags(checkCmd)
	rootCmd.AddCommand(finalizeCmd)
	finalizeCmd.Flags().String("archiver", "", "Archiver id (default: the standard archiver)")
	rootCmd.AddCommand(unfinalizeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(archiversCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
