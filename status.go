package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/config"
	"github.com/rowmark/rowmark/internal/export"
	"github.com/rowmark/rowmark/internal/sync"
)

// Table states shown in status output.
const (
	tableStateReady   = "ready"
	tableStatePaused  = "paused"
	tableStateFailing = "failing"
	tableStateNew     = "never synced"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured tables, watermarks, and last runs",
		Long: `Display every configured table pair with its derived watermark, pause
state, and most recent run.

Reads only the config and the audit database, so it works even while a
pair's source or target database is unreachable.`,
		RunE: runStatus,
	}
}

// statusRow is the per-table status, shared between text and JSON output.
type statusRow struct {
	Table     string         `json:"table"`
	State     string         `json:"state"`
	Watermark int64          `json:"watermark"`
	LastRun   *export.Record `json:"last_run,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	if len(resolvedCfg.Tables) == 0 {
		fmt.Println("No tables configured. Run 'rowmark config init' to get started.")

		return nil
	}

	store, err := openAuditStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	names := make([]string, 0, len(resolvedCfg.Tables))
	for name := range resolvedCfg.Tables {
		names = append(names, name)
	}

	sort.Strings(names)

	ctx := cmd.Context()
	now := time.Now()

	rows := make([]statusRow, 0, len(names))

	for _, name := range names {
		watermark, err := store.LastWatermark(ctx, name)
		if err != nil {
			return err
		}

		last, err := store.LastRun(ctx, name)
		if err != nil {
			return err
		}

		rows = append(rows, statusRowFor(name, resolvedCfg.Tables[name], watermark, last, now))
	}

	if flagJSON {
		return printJSON(os.Stdout, rows)
	}

	printStatusTable(os.Stdout, rows)

	return nil
}

// statusRowFor derives the display state for one table pair. Pause wins
// over everything: a paused pair is deliberately idle even if its last
// run failed.
func statusRowFor(name string, t config.Table, watermark int64, last *sync.SyncRun, now time.Time) statusRow {
	row := statusRow{
		Table:     name,
		State:     tableStateReady,
		Watermark: watermark,
	}

	if last != nil {
		rec := export.FromRun(last)
		row.LastRun = &rec
	}

	switch {
	case t.IsPaused(now):
		row.State = tableStatePaused
	case last == nil:
		row.State = tableStateNew
	case last.Status == sync.RunFailed:
		row.State = tableStateFailing
	}

	return row
}

// maxStatusError bounds the last-result column so one long SQL error does
// not blow up the table layout.
const maxStatusError = 48

func printStatusTable(w io.Writer, rows []statusRow) {
	headers := []string{"TABLE", "STATE", "WATERMARK", "LAST RUN", "LAST RESULT"}
	cells := make([][]string, len(rows))

	for i, row := range rows {
		lastRun := "-"
		lastResult := "-"

		if row.LastRun != nil {
			lastRun = formatTime(row.LastRun.StartedAt.Local())

			if row.LastRun.Error != "" {
				lastResult = truncate("failed: "+row.LastRun.Error, maxStatusError)
			} else {
				lastResult = fmt.Sprintf("%s rows in %s",
					formatCount(row.LastRun.RowsProcessed),
					formatDuration(time.Duration(row.LastRun.DurationMS)*time.Millisecond))
			}
		}

		cells[i] = []string{
			row.Table,
			row.State,
			formatWatermark(row.Watermark),
			lastRun,
			lastResult,
		}
	}

	printTable(w, headers, cells)
}
