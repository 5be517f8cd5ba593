package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/api"
	"github.com/rowmark/rowmark/internal/sync"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [table]",
		Short: "Show daily run statistics",
		Long: `Aggregate the audit trail into per-day success and failure counts with
average run duration, optionally for a single table. Days are UTC
calendar days; only days with at least one run appear.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStats,
	}

	cmd.Flags().Int("days", 7, "trailing window in days")

	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
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

	days, _ := cmd.Flags().GetInt("days")

	daily, err := store.DailyStats(cmd.Context(), table, days)
	if err != nil {
		return err
	}

	if flagJSON {
		stats := make([]api.Stat, 0, len(daily))
		for _, d := range daily {
			stats = append(stats, api.Stat{
				Day:           d.Day,
				Succeeded:     d.Succeeded,
				Failed:        d.Failed,
				AvgDurationMS: d.AvgDuration.Milliseconds(),
			})
		}

		return printJSON(os.Stdout, stats)
	}

	if len(daily) == 0 {
		fmt.Println("No runs recorded in the window.")

		return nil
	}

	printStatsTable(os.Stdout, daily)

	return nil
}

func printStatsTable(w io.Writer, daily []sync.DailyStat) {
	headers := []string{"DAY", "OK", "FAILED", "AVG DURATION"}
	rows := make([][]string, len(daily))

	for i, d := range daily {
		rows[i] = []string{
			d.Day,
			strconv.FormatInt(d.Succeeded, 10),
			strconv.FormatInt(d.Failed, 10),
			formatDuration(d.AvgDuration),
		}
	}

	printTable(w, headers, rows)
}
