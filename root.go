package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/config"
	"github.com/rowmark/rowmark/internal/sync"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagStateDB    string
	flagLogLevel   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
// Config bootstrap commands and the pause/resume file editors handle config
// loading themselves.
var resolvedCfg *config.Config

// resolvedCfgPath is the config file path the resolution selected, kept for
// commands that point users back at the file.
var resolvedCfgPath string

// skipConfigCommands lists commands that handle config loading themselves,
// either because they bootstrap config (config init) or because they must
// work against a file the four-layer resolution would reject (config
// validate reports the errors itself; pause and resume edit the file at the
// line level). Uses CommandPath() for explicit matching, safe against future
// subcommand collisions.
var skipConfigCommands = map[string]bool{
	"rowmark config init":     true,
	"rowmark config path":     true,
	"rowmark config validate": true,
	"rowmark pause":           true,
	"rowmark resume":          true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rowmark",
		Short: "Watermark-based incremental table replication",
		Long: `rowmark replicates rows between SQLite tables using per-table
watermarks: each cycle copies only the rows whose change timestamp lies
beyond the highest watermark recorded by the last successful cycle, and
every cycle leaves a permanent audit record.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		// PersistentPreRunE loads configuration before every command. Commands
		// in skipConfigCommands load config themselves, either because the
		// file may not exist yet or because it may not pass validation.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagStateDB, "state-db", "", "audit state database path")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newTailCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result in resolvedCfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cfg, path, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	resolvedCfg = cfg
	resolvedCfgPath = path

	return nil
}

// resolveConfig runs the four-layer resolution for the current flag set.
// The watch daemon calls it again on SIGHUP, so reloads see the same
// environment and flag overrides as startup.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	// Only pass overrides to the resolver if the user explicitly set them.
	if cmd.Flags().Changed("state-db") {
		cli.StateDB = &flagStateDB
	}

	if cmd.Flags().Changed("log-level") {
		cli.LogLevel = &flagLogLevel
	}

	env := config.ReadEnvOverrides()

	cfg, err := config.Resolve(env, cli)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}

	return cfg, config.ResolveConfigPath(env, cli), nil
}

// cliConfigPath resolves the config file path for commands that skip the
// full four-layer resolution.
func cliConfigPath() string {
	return config.ResolveConfigPath(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: flagConfigPath})
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. Format "auto" picks
// text on a terminal and JSON otherwise, so a service manager captures
// structured logs without any configuration.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "auto"
	logFile := ""

	// Config-based settings (lower priority than CLI flags).
	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.LogFormat
		logFile = resolvedCfg.LogFile
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	w := io.Writer(os.Stderr)
	onTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	if logFile != "" {
		// The handle stays open for the process lifetime.
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v\n", logFile, err)
		} else {
			w = f
			onTTY = false
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !onTTY) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// newEngine builds the replication engine from the resolved config.
// The caller owns Close.
func newEngine(logger *slog.Logger) (*sync.Engine, error) {
	return sync.NewEngine(&sync.EngineConfig{
		StateDBPath: resolvedCfg.StateDB,
		Tables:      resolvedCfg.Tables,
		Logger:      logger,
	})
}

// openAuditStore opens the audit database alone. Read-only audit commands
// use this instead of newEngine so they keep working when a pair's source
// or target database is unreachable.
func openAuditStore(logger *slog.Logger) (*sync.AuditStore, error) {
	return sync.NewAuditStore(resolvedCfg.StateDB, logger)
}

// requireTables fails with guidance when no table pairs are configured.
func requireTables() error {
	if len(resolvedCfg.Tables) == 0 {
		return fmt.Errorf("no tables configured (add a [tables.<name>] section to %s or run 'rowmark config init')", resolvedCfgPath)
	}

	return nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
