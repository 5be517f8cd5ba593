package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/config"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [table]",
		Short: "Resume replication for paused tables",
		Long: `Resume replication for the named table. Without a table argument,
resumes ALL paused tables.

Resuming also clears a stale timed pause whose paused_until has already
passed. If a watch daemon is running, it receives a SIGHUP to pick up
the change.

Examples:
  rowmark resume orders
  rowmark resume`,
		RunE: runResume,
		Args: cobra.MaximumNArgs(1),
	}
}

func runResume(cmd *cobra.Command, args []string) error {
	cfgPath := cliConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if len(args) > 0 {
		return resumeSingleTable(cfgPath, cfg, args[0])
	}

	return resumeAllTables(cfgPath, cfg)
}

// resumeSingleTable resumes one table by name.
func resumeSingleTable(cfgPath string, cfg *config.Config, table string) error {
	t, exists := cfg.Tables[table]
	if !exists {
		return fmt.Errorf("table %q not found in config", table)
	}

	if t.Paused == nil || !*t.Paused {
		statusf(flagQuiet, "Table %s is not paused\n", table)

		return nil
	}

	if err := clearPausedKeys(cfgPath, table); err != nil {
		return err
	}

	statusf(flagQuiet, "Table %s resumed\n", table)
	notifyDaemon(flagQuiet)

	return nil
}

// resumeAllTables resumes every paused table in the config.
func resumeAllTables(cfgPath string, cfg *config.Config) error {
	if len(cfg.Tables) == 0 {
		return fmt.Errorf("no tables configured")
	}

	names := make([]string, 0, len(cfg.Tables))
	for name := range cfg.Tables {
		names = append(names, name)
	}

	sort.Strings(names)

	resumed := 0

	for _, name := range names {
		t := cfg.Tables[name]
		if t.Paused == nil || !*t.Paused {
			continue
		}

		if err := clearPausedKeys(cfgPath, name); err != nil {
			return fmt.Errorf("resuming %s: %w", name, err)
		}

		statusf(flagQuiet, "Table %s resumed\n", name)
		resumed++
	}

	if resumed == 0 {
		statusf(flagQuiet, "No paused tables found\n")

		return nil
	}

	notifyDaemon(flagQuiet)

	return nil
}

// clearPausedKeys removes both paused and paused_until keys from a table
// section.
func clearPausedKeys(cfgPath, table string) error {
	if err := config.DeleteTableKey(cfgPath, table, "paused"); err != nil {
		return fmt.Errorf("clearing paused flag: %w", err)
	}

	if err := config.DeleteTableKey(cfgPath, table, "paused_until"); err != nil {
		return fmt.Errorf("clearing paused_until: %w", err)
	}

	return nil
}
