package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rowmark/rowmark/internal/config"
)

// runRecordCloseTimeout bounds the terminal audit write when the cycle's
// own context is already canceled. The close must still happen so the
// run does not linger as running.
const runRecordCloseTimeout = 10 * time.Second

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	StateDBPath string                  // path to the audit SQLite database
	Tables      map[string]config.Table // pair declarations by logical name
	Logger      *slog.Logger
}

// Engine owns the audit store and the open table pairs, and runs
// replication cycles. Concurrent RunCycle calls for the same table
// coalesce into a single cycle whose result is shared; cycles for
// different tables run independently.
type Engine struct {
	store   *AuditStore
	pairs   map[string]*pairRuntime
	events  *Broadcaster
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
	flight  singleflight.Group

	// Set by RunWatch. A nil pausedFn means nothing is paused.
	failures *failureTracker
	pausedFn func(string) bool
}

// NewEngine opens the audit store (running migrations) and the source
// and target databases of every declared pair. Returns an error if any
// database fails to open; partially opened pairs are closed again.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	store, err := NewAuditStore(cfg.StateDBPath, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("sync: creating engine: %w", err)
	}

	pairs := make(map[string]*pairRuntime, len(cfg.Tables))

	names := make([]string, 0, len(cfg.Tables))
	for name := range cfg.Tables {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		pair, err := openPair(name, cfg.Tables[name], cfg.Logger)
		if err != nil {
			closePairs(pairs, cfg.Logger)
			store.Close()

			return nil, err
		}

		pairs[name] = pair
	}

	return &Engine{
		store:   store,
		pairs:   pairs,
		events:  NewBroadcaster(),
		logger:  cfg.Logger,
		nowFunc: time.Now,
	}, nil
}

// Close releases the pair database handles and the audit store.
func (e *Engine) Close() error {
	closePairs(e.pairs, e.logger)

	if err := e.store.Checkpoint(context.Background()); err != nil {
		e.logger.Warn("audit checkpoint on close failed", slog.String("error", err.Error()))
	}

	return e.store.Close()
}

func closePairs(pairs map[string]*pairRuntime, logger *slog.Logger) {
	for name, pair := range pairs {
		if err := pair.Close(); err != nil {
			logger.Warn("closing pair databases",
				slog.String("table", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Tables returns the configured logical table names, sorted.
func (e *Engine) Tables() []string {
	names := make([]string, 0, len(e.pairs))
	for name := range e.pairs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Events exposes the run summary broadcaster for streaming consumers.
func (e *Engine) Events() *Broadcaster {
	return e.events
}

// RunCycle executes a single replication cycle for one table:
//  1. Resolve the pair and validate schemas (fail fast, nothing recorded)
//  2. Derive the watermark from the audit history
//  3. Open the running audit row
//  4. Extract changes past the watermark
//  5. Apply them in one transaction (skipped when the window is empty)
//  6. Close the run and publish the summary
//
// After step 3 every exit path closes the run: successes record the new
// watermark and counts, failures record the error message and leave the
// watermark where it was. For failed cycles the summary is returned
// alongside the error so callers still see the recorded run.
//
// Concurrent calls for the same table share one cycle and its result.
func (e *Engine) RunCycle(ctx context.Context, tableName string) (*RunSummary, error) {
	v, err, _ := e.flight.Do(tableName, func() (any, error) {
		return e.runCycle(ctx, tableName)
	})

	summary, _ := v.(*RunSummary)

	return summary, err
}

func (e *Engine) runCycle(ctx context.Context, tableName string) (*RunSummary, error) {
	start := e.nowFunc()

	// Step 1: Resolve the pair and validate schemas.
	pair, ok := e.pairs[tableName]
	if !ok {
		return nil, fmt.Errorf("sync: %w: %q", ErrUnknownTable, tableName)
	}

	if err := pair.ValidateSchemas(ctx); err != nil {
		return nil, err
	}

	// Step 2: Derive the watermark from the audit history.
	watermarkFrom, err := e.store.LastWatermark(ctx, tableName)
	if err != nil {
		return nil, err
	}

	// Step 3: Open the running audit row.
	cycleID := uuid.New().String()

	runID, err := e.store.OpenRun(ctx, tableName, cycleID, watermarkFrom)
	if err != nil {
		return nil, err
	}

	e.logger.Info("cycle starting",
		slog.Int64("run_id", runID),
		slog.String("table", tableName),
		slog.String("cycle_id", cycleID),
		slog.Int64("watermark_from", watermarkFrom),
	)

	summary := &RunSummary{
		RunID:         runID,
		CycleID:       cycleID,
		TableName:     tableName,
		WatermarkFrom: watermarkFrom,
		WatermarkTo:   watermarkFrom,
	}

	// Step 4: Extract changes past the watermark.
	cs, err := pair.Extract(ctx, watermarkFrom)
	if err != nil {
		return e.closeFailed(ctx, summary, start, err)
	}

	// Step 5: Apply. An empty window closes out immediately with the
	// watermark held and zero counts.
	if cs.Empty() {
		return e.closeSuccess(ctx, summary, start)
	}

	affected, err := pair.Apply(ctx, cs)
	if err != nil {
		return e.closeFailed(ctx, summary, start, err)
	}

	summary.WatermarkTo = cs.To
	summary.RowsInserted = cs.Inserted
	summary.RowsUpdated = cs.Updated
	summary.RowsProcessed = affected

	// Step 6: Close the run and publish the summary.
	return e.closeSuccess(ctx, summary, start)
}

// closeSuccess records the terminal success row and finishes the
// summary. A failure to record success is returned as an error and the
// watermark does not advance; the next cycle re-reads the same window
// and the upsert re-applies it harmlessly.
func (e *Engine) closeSuccess(ctx context.Context, summary *RunSummary, start time.Time) (*RunSummary, error) {
	closeCtx, cancel := closeContext(ctx)
	defer cancel()

	err := e.store.CloseRunSuccess(closeCtx, summary.RunID,
		summary.WatermarkTo, summary.RowsInserted, summary.RowsUpdated, summary.RowsProcessed)
	if err != nil {
		return nil, err
	}

	summary.Status = RunSuccess
	summary.Duration = e.nowFunc().Sub(start)

	e.logger.Info("cycle complete",
		slog.Int64("run_id", summary.RunID),
		slog.String("table", summary.TableName),
		slog.Int64("watermark_to", summary.WatermarkTo),
		slog.Int64("rows_inserted", summary.RowsInserted),
		slog.Int64("rows_updated", summary.RowsUpdated),
		slog.Int64("rows_processed", summary.RowsProcessed),
		slog.Duration("duration", summary.Duration),
	)

	e.events.Publish(*summary)

	return summary, nil
}

// closeFailed records the terminal failed row, then re-surfaces the
// original error. The watermark stays at WatermarkFrom so the next
// cycle retries the same window.
func (e *Engine) closeFailed(ctx context.Context, summary *RunSummary, start time.Time, runErr error) (*RunSummary, error) {
	closeCtx, cancel := closeContext(ctx)
	defer cancel()

	if closeErr := e.store.CloseRunFailed(closeCtx, summary.RunID, runErr.Error()); closeErr != nil {
		e.logger.Error("failed to record run failure",
			slog.Int64("run_id", summary.RunID),
			slog.String("error", closeErr.Error()),
		)
	}

	summary.Status = RunFailed
	summary.Duration = e.nowFunc().Sub(start)
	summary.Error = runErr.Error()

	e.logger.Warn("cycle failed",
		slog.Int64("run_id", summary.RunID),
		slog.String("table", summary.TableName),
		slog.String("error", runErr.Error()),
		slog.Duration("duration", summary.Duration),
	)

	e.events.Publish(*summary)

	return summary, runErr
}

// closeContext detaches the terminal audit write from the cycle's
// context so a canceled cycle still gets its run row closed.
func closeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), runRecordCloseTimeout)
}

// CreateTargets creates missing target tables for the named pairs, or
// for every configured pair when names is empty.
func (e *Engine) CreateTargets(ctx context.Context, names []string) error {
	if len(names) == 0 {
		names = e.Tables()
	}

	for _, name := range names {
		pair, ok := e.pairs[name]
		if !ok {
			return fmt.Errorf("sync: %w: %q", ErrUnknownTable, name)
		}

		if err := pair.CreateTarget(ctx); err != nil {
			return err
		}
	}

	return nil
}

// --- Audit passthroughs for the CLI and HTTP API ---

// LastWatermark derives the current high-water mark for a table.
func (e *Engine) LastWatermark(ctx context.Context, tableName string) (int64, error) {
	if _, ok := e.pairs[tableName]; !ok {
		return 0, fmt.Errorf("sync: %w: %q", ErrUnknownTable, tableName)
	}

	return e.store.LastWatermark(ctx, tableName)
}

// RecentRuns lists the most recent runs, newest first.
func (e *Engine) RecentRuns(ctx context.Context, tableName string, limit int) ([]SyncRun, error) {
	return e.store.RecentRuns(ctx, tableName, limit)
}

// AllRuns returns the complete audit trail, oldest first. Unlike the
// listing queries this is unbounded; it feeds the export surface.
func (e *Engine) AllRuns(ctx context.Context, tableName string) ([]SyncRun, error) {
	return e.store.AllRuns(ctx, tableName)
}

// FailedRuns lists the most recent failed runs, newest first.
func (e *Engine) FailedRuns(ctx context.Context, tableName string, limit int) ([]SyncRun, error) {
	return e.store.FailedRuns(ctx, tableName, limit)
}

// RunsByStatus lists recent runs with the given status, newest first.
func (e *Engine) RunsByStatus(ctx context.Context, tableName string, status RunStatus, limit int) ([]SyncRun, error) {
	return e.store.RunsByStatus(ctx, tableName, status, limit)
}

// GetRun returns one run by ID, or (nil, nil) when it does not exist.
func (e *Engine) GetRun(ctx context.Context, runID int64) (*SyncRun, error) {
	return e.store.GetRun(ctx, runID)
}

// LastRun returns the most recent run for a table regardless of status,
// or (nil, nil) when the table has never run.
func (e *Engine) LastRun(ctx context.Context, tableName string) (*SyncRun, error) {
	return e.store.LastRun(ctx, tableName)
}

// DailyStats aggregates run outcomes per day over the trailing window.
func (e *Engine) DailyStats(ctx context.Context, tableName string, days int) ([]DailyStat, error) {
	return e.store.DailyStats(ctx, tableName, days)
}
