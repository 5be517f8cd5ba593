package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [table...]",
		Short: "Create missing target tables",
		Long: `Create the target table for the named pairs (all configured pairs when
none are named) where it does not exist yet: the key column as primary
key, the watermark column, and the declared payload columns.

Pairs whose target table already exists are left untouched.`,
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	if err := requireTables(); err != nil {
		return err
	}

	engine, err := newEngine(logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.CreateTargets(cmd.Context(), args); err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		names = engine.Tables()
	}

	statusf(flagQuiet, "Target tables ready for %s\n", strings.Join(names, ", "))

	return nil
}
