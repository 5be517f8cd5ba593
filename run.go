package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/api"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [table...]",
		Short: "Run one replication cycle per table",
		Long: `Run a single replication cycle for the named tables, or for every
configured table when none are named. Each cycle copies the rows whose
change timestamp lies beyond the table's watermark and records the
outcome in the audit trail.

Cycles are independent: one table failing does not stop the others. The
command exits non-zero if any cycle failed.`,
		RunE: runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	if err := requireTables(); err != nil {
		return err
	}

	engine, err := newEngine(logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	tables := args
	if len(tables) == 0 {
		tables = engine.Tables()
	}

	ctx := shutdownContext(cmd.Context(), logger)

	events := make([]api.RunEvent, 0, len(tables))

	var failed []string

	for _, name := range tables {
		summary, err := engine.RunCycle(ctx, name)

		switch {
		case summary != nil:
			events = append(events, api.EventFromSummary(summary))
		case err != nil:
			// Nothing was recorded, so there is no summary to print.
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		}

		if err != nil {
			failed = append(failed, name)
		}

		if ctx.Err() != nil {
			break
		}
	}

	if flagJSON {
		if err := printJSON(os.Stdout, events); err != nil {
			return err
		}
	} else {
		for i := range events {
			fmt.Println(summaryLine(&events[i]))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d cycles failed: %s", len(failed), len(tables), strings.Join(failed, ", "))
	}

	return nil
}
