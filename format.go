package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rowmark/rowmark/internal/api"
	"github.com/rowmark/rowmark/internal/sync"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// countPrinter adds digit grouping to row counts, so a large backfill
// reads as 1,234,567 rows instead of a wall of digits.
var countPrinter = message.NewPrinter(language.English)

// formatCount returns a row count with thousands separators.
func formatCount(n int64) string {
	return countPrinter.Sprintf("%d", n)
}

// formatWatermark renders a derived watermark value. Zero is the
// never-synced sentinel, not a real watermark.
func formatWatermark(wm int64) string {
	if wm == 0 {
		return "-"
	}

	return strconv.FormatInt(wm, 10)
}

// formatDuration returns a compact run duration (e.g. "340ms", "1.25s").
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}

	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	return d.Round(10 * time.Millisecond).String()
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	// Different year: show "Jan  2  2006"
	return t.Format("Jan _2  2006")
}

// truncate shortens s for table cells, appending "..." when cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	if max <= 3 {
		return s[:max]
	}

	return s[:max-3] + "..."
}

// summaryLine renders one terminal run summary as a single line. Shared
// by `run` output and `tail`.
func summaryLine(ev *api.RunEvent) string {
	if ev.Status != sync.RunSuccess.String() {
		return fmt.Sprintf("%s: %s: %s", ev.Table, ev.Status, ev.Error)
	}

	return fmt.Sprintf("%s: %s rows (%s inserted, %s updated), watermark %d -> %d, %s",
		ev.Table,
		formatCount(ev.RowsProcessed),
		formatCount(ev.RowsInserted),
		formatCount(ev.RowsUpdated),
		ev.WatermarkFrom,
		ev.WatermarkTo,
		formatDuration(time.Duration(ev.DurationMS)*time.Millisecond))
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// stdoutIsTTY reports whether stdout is a terminal. Piped `tail` output
// switches to JSON Lines so scripts get machine-readable events without
// passing --json.
func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	// Compute column widths.
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	// Print header.
	printRow(w, headers, widths)

	// Print rows.
	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}
