package main

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/config"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <table> [duration]",
		Short: "Pause replication for a table",
		Long: `Pause replication for the named table. An optional duration argument
(e.g., "2h", "30m", "1d") schedules automatic resume after the interval.

Without a duration, the table stays paused until 'rowmark resume'. A
paused table is skipped by watch batches but stays watched, so it
catches up on the first trigger after resume.

If a watch daemon is running, it receives a SIGHUP to pick up the change.

Examples:
  rowmark pause orders
  rowmark pause orders 2h
  rowmark pause orders 1d`,
		RunE: runPause,
		Args: cobra.RangeArgs(1, 2),
	}
}

func runPause(cmd *cobra.Command, args []string) error {
	cfgPath := cliConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	table := args[0]

	if _, exists := cfg.Tables[table]; !exists {
		return fmt.Errorf("table %q not found in config", table)
	}

	// Validate the duration before editing the file.
	var until string

	if len(args) > 1 {
		duration, err := parseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[1], err)
		}

		until = time.Now().Add(duration).Format(time.RFC3339)
	}

	if err := config.SetTableKey(cfgPath, table, "paused", "true"); err != nil {
		return fmt.Errorf("setting paused flag: %w", err)
	}

	if until != "" {
		if err := config.SetTableKey(cfgPath, table, "paused_until", until); err != nil {
			return fmt.Errorf("setting paused_until: %w", err)
		}

		statusf(flagQuiet, "Table %s paused until %s\n", table, until)
	} else {
		statusf(flagQuiet, "Table %s paused\n", table)
	}

	// Notify running daemon, if any.
	notifyDaemon(flagQuiet)

	return nil
}

// notifyDaemon attempts to send SIGHUP to a running watch daemon.
// Non-fatal: if no daemon is running, prints a note instead.
func notifyDaemon(quiet bool) {
	pidPath := config.PIDFilePath()
	if pidPath == "" {
		return
	}

	if err := sendSIGHUP(pidPath); err != nil {
		statusf(quiet, "Note: %v (changes take effect on next daemon start)\n", err)
	} else {
		statusf(quiet, "Notified running daemon to reload config\n")
	}
}

// hoursPerDay is used to convert day durations to hours.
const hoursPerDay = 24

// durationPattern matches durations like "30m", "2h", "1d", "1h30m".
var durationPattern = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// parseDuration parses a human-friendly duration string. Supports Go duration
// syntax (e.g., "2h30m") plus a "d" suffix for days (converted to 24h).
func parseDuration(s string) (time.Duration, error) {
	// Try standard Go duration first.
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}

		return d, nil
	}

	// Try our extended format with "d" for days.
	if !durationPattern.MatchString(s) || s == "" {
		return 0, fmt.Errorf("expected format like 30m, 2h, 1d, or 1h30m")
	}

	var total time.Duration

	re := regexp.MustCompile(`(\d+)([dhms])`)
	for _, match := range re.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", match[1], err)
		}

		switch match[2] {
		case "d":
			total += time.Duration(n) * hoursPerDay * time.Hour
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
	}

	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}

	return total, nil
}
