package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/export"
	"github.com/rowmark/rowmark/internal/sync"
)

// maxHistoryError bounds the error column in --failed output.
const maxHistoryError = 40

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [table]",
		Short: "Show recent replication runs",
		Long: `List recent runs from the audit trail, newest first, optionally for a
single table. The table name is matched against audit records, so runs
of pairs since removed from the config still show up.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}

	cmd.Flags().Bool("failed", false, "show only failed runs")
	cmd.Flags().Int("limit", 20, "maximum number of runs to show")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	store, err := openAuditStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	table := ""
	if len(args) > 0 {
		table = args[0]
	}

	failedOnly, _ := cmd.Flags().GetBool("failed")
	limit, _ := cmd.Flags().GetInt("limit")

	ctx := cmd.Context()

	var runs []sync.SyncRun

	if failedOnly {
		runs, err = store.FailedRuns(ctx, table, limit)
	} else {
		runs, err = store.RecentRuns(ctx, table, limit)
	}

	if err != nil {
		return err
	}

	if flagJSON {
		records := make([]export.Record, len(runs))
		for i := range runs {
			records[i] = export.FromRun(&runs[i])
		}

		return printJSON(os.Stdout, records)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")

		return nil
	}

	printRunsTable(os.Stdout, runs, failedOnly)

	return nil
}

// printRunsTable renders audit runs as an aligned table. The error column
// only appears in failed-only listings, where it is the point.
func printRunsTable(w io.Writer, runs []sync.SyncRun, withError bool) {
	headers := []string{"RUN", "TABLE", "STATUS", "WINDOW", "ROWS", "STARTED", "DURATION"}
	if withError {
		headers = append(headers, "ERROR")
	}

	rows := make([][]string, len(runs))

	for i := range runs {
		run := &runs[i]

		cells := []string{
			strconv.FormatInt(run.RunID, 10),
			run.TableName,
			run.Status.String(),
			runWindow(run),
			formatCount(run.RowsProcessed),
			formatTime(time.Unix(0, run.StartedAt).Local()),
			formatDuration(run.Duration()),
		}

		if withError {
			errMsg := ""
			if run.ErrorMessage != nil {
				errMsg = truncate(*run.ErrorMessage, maxHistoryError)
			}

			cells = append(cells, errMsg)
		}

		rows[i] = cells
	}

	printTable(w, headers, rows)
}

// runWindow renders the half-open watermark window a run covered. Failed
// and still-open runs have no upper bound yet.
func runWindow(run *sync.SyncRun) string {
	upper := "-"
	if run.WatermarkTo != nil {
		upper = strconv.FormatInt(*run.WatermarkTo, 10)
	}

	return fmt.Sprintf("%d -> %s", run.WatermarkFrom, upper)
}
