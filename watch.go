package main

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/config"
	"github.com/rowmark/rowmark/internal/sync"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously replicate on source changes",
		Long: `Run the replication loop: an initial pass over every table, then cycles
triggered by source database file activity (debounced), with a periodic
poll as a safety net for missed events.

A PID file makes watch single-instance. SIGHUP reloads the config file,
so 'rowmark pause' and 'rowmark resume' take effect without a restart;
changes to the pair declarations themselves need one.`,
		RunE: runWatch,
	}

	cmd.Flags().Bool("no-poll", false, "disable the periodic poll fallback")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	if err := requireTables(); err != nil {
		return err
	}

	cleanup, err := writePIDFile(config.PIDFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := newEngine(logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	holder := config.NewHolder(resolvedCfg, resolvedCfgPath)

	ctx := shutdownContext(cmd.Context(), logger)

	hup, stopHUP := notifyReload()
	defer stopHUP()

	go reloadLoop(ctx, holder, hup, logger, func() (*config.Config, error) {
		cfg, _, err := resolveConfig(cmd)

		return cfg, err
	})

	noPoll, _ := cmd.Flags().GetBool("no-poll")

	opts := sync.WatchOpts{
		PollInterval:     watchDuration(resolvedCfg.Watch.PollInterval),
		PollDisabled:     noPoll || resolvedCfg.Watch.PollInterval == "0",
		Debounce:         watchDuration(resolvedCfg.Watch.Debounce),
		FailureThreshold: resolvedCfg.Watch.FailureThreshold,
		FailureCooldown:  watchDuration(resolvedCfg.Watch.FailureCooldown),
		// Reading through the holder picks up SIGHUP reloads, so pause
		// takes effect on the next batch without restarting.
		Paused: func(table string) bool {
			t, ok := holder.Config().Tables[table]

			return ok && t.IsPaused(time.Now())
		},
	}

	return engine.RunWatch(ctx, opts)
}

// watchDuration parses a config duration that already passed validation.
// Empty and "0" map to zero, which the engine replaces with its default.
func watchDuration(raw string) time.Duration {
	if raw == "" || raw == "0" {
		return 0
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}

	return d
}

// reloadLoop re-resolves configuration on SIGHUP and swaps it into the
// holder. Pause state takes effect on the next batch; structural changes
// need a restart and are called out in the log.
func reloadLoop(ctx context.Context, holder *config.Holder, hup <-chan os.Signal, logger *slog.Logger,
	reload func() (*config.Config, error),
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		cfg, err := reload()
		if err != nil {
			logger.Error("config reload failed, keeping previous config",
				slog.String("error", err.Error()))

			continue
		}

		old := holder.Config()
		holder.Update(cfg)

		logger.Info("config reloaded", slog.String("path", holder.Path()))

		if structuralChange(old, cfg) {
			logger.Warn("table pair declarations changed; restart watch to apply")
		}
	}
}

// structuralChange reports whether a reload altered anything a running
// engine cannot absorb. Pause keys are live; pair declarations and the
// state DB path are fixed at startup.
func structuralChange(old, updated *config.Config) bool {
	if old.StateDB != updated.StateDB || len(old.Tables) != len(updated.Tables) {
		return true
	}

	for name, prev := range old.Tables {
		next, ok := updated.Tables[name]
		if !ok || pairChanged(prev, next) {
			return true
		}
	}

	return false
}

// pairChanged compares the declaration fields of a pair, ignoring the
// pause keys.
func pairChanged(a, b config.Table) bool {
	return a.SourceDB != b.SourceDB ||
		a.SourceTable != b.SourceTable ||
		a.TargetDB != b.TargetDB ||
		a.TargetTable != b.TargetTable ||
		a.KeyColumn != b.KeyColumn ||
		a.WatermarkColumn != b.WatermarkColumn ||
		!slices.Equal(a.PayloadColumns, b.PayloadColumns)
}
