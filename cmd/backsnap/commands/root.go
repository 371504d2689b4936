// Package commands implements the CLI commands for backsnap.
package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	build "github.com/thoreinstein/backsnap/cmd"
	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/logging"
	"github.com/thoreinstein/backsnap/internal/snapshot"
)

// verbosity holds the count of -v flags.
var verbosity int

// quiet holds the value of the -q/--quiet flag.
var quiet bool

// logFormat holds the value of the --log-format flag.
var logFormat string

// logFile holds the path to the log file.
var logFile string

// stateDir holds the value of the --state-dir flag.
var stateDir string

// rootDir holds the value of the --rootdir flag.
var rootDir string

// Run flags.
var (
	runDryRun    bool
	runSlowNet   bool
	runMTimeOnly bool
	runReindex   bool
	runIncSystem bool
)

// runnerOptions are appended to the options of every snapshot.Runner the
// commands construct.
var runnerOptions []snapshot.Option

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"increase verbosity level (e.g., -v, -vv, -vvv)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"log format: text, json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"write logs to file in JSON format")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "",
		"state directory (default <dest>/.backsnap, required for a remote dest)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "rootdir", "/",
		"root of the installed system the package database describes")

	rootCmd.Flags().BoolVarP(&runDryRun, "dry-run", "n", false,
		"show what would be copied without changing anything")
	rootCmd.Flags().BoolVar(&runSlowNet, "slownet", false,
		"compress data on the wire")
	rootCmd.Flags().BoolVar(&runMTimeOnly, "mtimeonly", false,
		"compare package files by modification time instead of checksum")
	rootCmd.Flags().BoolVar(&runReindex, "reindex", false,
		"rebuild the package index before scanning")
	rootCmd.Flags().BoolVar(&runIncSystem, "incsystem", false,
		"copy package-owned files too (full copy)")

	rootCmd.Version = build.Version
	rootCmd.SetVersionTemplate("backsnap version {{.Version}}\n")

	// Silence errors and usage so we can control error output
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}

var rootCmd = &cobra.Command{
	Use:   "backsnap [flags] <dest> <src>...",
	Short: "Rotating hardlink snapshots that skip what the package manager can restore",
	Long: `backsnap captures one or more source trees into one of a rotating set of
backup levels (<dest>/LEVEL0, LEVEL1, ...). Levels are chosen on a
tower-of-Hanoi schedule, so recent history is dense and older history
sparse, and unchanged files are hardlinked from the most recent other
level with rsync --link-dest.

By default only files that differ from what Portage installed are copied:
files owned by a package whose checksum (or, with --mtimeonly, mtime)
still matches the package's CONTENTS manifest are skipped. Use --incsystem
to copy everything.

A destination must be prepared with 'backsnap init <dest>' first. Either
the destination or the sources may be remote (host:path), not both.`,
	Example: `  # Prepare a destination
  backsnap init /mnt/backup

  # Back up the whole system, skipping unmodified package files
  backsnap /mnt/backup /

  # Rebuild the package index and show what would be copied
  backsnap --reindex --dry-run /mnt/backup /

  # Copy a remote home directory in full over a slow link
  backsnap --incsystem --slownet /mnt/backup earth:/home

  See Also: backsnap plan, backsnap levels, backsnap scan`,
	Args: func(_ *cobra.Command, args []string) error {
		if len(args) == 1 {
			return errors.NewUserError(errors.New("no sources given"),
				"Usage: backsnap [flags] <dest> <src>...")
		}
		return nil
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setupLogging(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runSnapshot(cmd, args)
	},
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	req := snapshot.Request{
		Dest:      args[0],
		Sources:   args[1:],
		StateDir:  stateDir,
		RootDir:   rootDir,
		DryRun:    runDryRun,
		SlowNet:   runSlowNet,
		MTimeOnly: runMTimeOnly,
		Reindex:   runReindex,
		IncSystem: runIncSystem,
	}

	summary, err := newRunner(cmd).Run(cmd.Context(), req)
	if err != nil {
		return err
	}
	if !quiet {
		printSummary(cmd.OutOrStdout(), summary)
	}
	printFileWarnings(cmd.ErrOrStderr(), summary.FileWarnings)
	printUnreadableDirs(cmd.ErrOrStderr(), summary.UnreadableDirs)
	return nil
}

func newRunner(cmd *cobra.Command) *snapshot.Runner {
	opts := append([]snapshot.Option{snapshot.WithVersion(build.Short())}, runnerOptions...)
	return snapshot.NewRunner(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts...)
}

// setupLogging configures the default logger based on verbosity flags.
func setupLogging(cmd *cobra.Command) error {
	if quiet && verbosity > 0 {
		return errors.NewUserError(
			errors.New("--quiet and --verbose are mutually exclusive"),
			"Pass only one of -q and -v")
	}

	var level slog.Level
	if quiet {
		level = slog.LevelError
	} else {
		v := verbosity

		// CLI flags take precedence, but if not set, check env var
		if v == 0 {
			if val, ok := os.LookupEnv("BACKSNAP_DEBUG"); ok {
				switch val {
				case "1", "true":
					v = 2 // Debug
				case "2":
					v = 3 // Trace
				}
			}
		}
		level = logging.LevelFromVerbosity(v)
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var primaryHandler slog.Handler
	switch logging.Format(logFormat) {
	case logging.FormatJSON:
		primaryHandler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	case logging.FormatText:
		primaryHandler = logging.NewHandler(cmd.ErrOrStderr(), opts)
	default:
		return errors.NewUserError(
			errors.Newf("unknown log format %q", logFormat),
			"Use --log-format text or --log-format json")
	}

	handlers := []slog.Handler{primaryHandler}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return errors.NewUserError(err, "failed to open log file")
		}
		// File output uses JSON format
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{
			Level: level,
		}))
	}

	var handler slog.Handler
	if len(handlers) > 1 {
		handler = logging.NewMultiHandler(handlers...)
	} else {
		handler = handlers[0]
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.NewContext(ctx, logger))

	return nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context so a run can release its lock and temporary files. Failures are
// reported on stderr and returned as *errors.ExitError.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	exitErr := errors.Classify(err)
	printError(rootCmd.ErrOrStderr(), exitErr)
	return exitErr
}

// ExitCode returns the process exit status for an error returned by
// Execute.
func ExitCode(err error) int {
	if err == nil {
		return errors.ExitSuccess
	}
	return errors.Classify(err).Code
}
