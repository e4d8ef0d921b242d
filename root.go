package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/cardsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagWorkspace  string
	flagRemoteURL  string
	flagDataDir    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
	flagOffline    bool
)

// logFile is the rotating log sink, when [logging] log_file is set. main
// closes it after the command finishes.
var logFile *lumberjack.Logger

// CLIFlags is the parsed global flag set.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
	Offline    bool
}

// CLIContext is what every subcommand gets from the root pre-run: flags, the
// effective configuration and the logger.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. A missing
// context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("cli context not initialized")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cardsync",
		Short:   "Offline-first flashcards with workspace sync",
		Long:    "Flashcards, subjects and courses stored locally and synced with a shared workspace.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagWorkspace, "workspace", "", "workspace id (overrides [sync] workspace)")
	cmd.PersistentFlags().StringVar(&flagRemoteURL, "remote", "", "remote store URL (overrides [remote] url)")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory for the local store and session")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().BoolVar(&flagOffline, "offline", false, "do not contact the remote store after changes")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newWorkspaceCmd())
	cmd.AddCommand(newCardCmd())
	cmd.AddCommand(newSubjectCmd())
	cmd.AddCommand(newCourseCmd())
	cmd.AddCommand(newReviewCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	// Only explicitly set flags override the file and environment.
	if cmd.Flags().Changed("workspace") {
		cli.Workspace = &flagWorkspace
	}

	if cmd.Flags().Changed("remote") {
		cli.RemoteURL = &flagRemoteURL
	}

	if cmd.Flags().Changed("data-dir") {
		cli.DataDir = &flagDataDir
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	flags := CLIFlags{
		ConfigPath: resolved.ConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
		Offline:    flagOffline,
	}

	logger, err := buildLogger(&resolved.Logging, flags, os.Stderr)
	if err != nil {
		return nil, err
	}

	return &CLIContext{Flags: flags, Cfg: resolved, Logger: logger}, nil
}

// buildLogger creates an slog.Logger from the [logging] config and CLI flags.
// The config level is the baseline; --verbose and --quiet override it because
// CLI flags always win. Format "auto" picks text for a terminal and JSON
// otherwise.
func buildLogger(lc *config.LoggingConfig, flags CLIFlags, stderr io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo

	switch lc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	out := stderr
	terminal := isTerminal(stderr)

	if lc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(lc.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}

		logFile = &lumberjack.Logger{
			Filename: lc.LogFile,
			MaxSize:  lc.LogMaxSizeMB,
			MaxAge:   lc.LogRetentionDays,
			Compress: true,
		}
		out = logFile
		terminal = false
	}

	opts := &slog.HandlerOptions{Level: level}

	switch lc.LogFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	default:
		if terminal {
			return slog.New(slog.NewTextHandler(out, opts)), nil
		}

		return slog.New(slog.NewJSONHandler(out, opts)), nil
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// closeLogFile flushes and closes the rotating log file, if any.
func closeLogFile() {
	if logFile == nil {
		return
	}

	if err := logFile.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
	}

	logFile = nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
