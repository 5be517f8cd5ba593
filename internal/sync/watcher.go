package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// Watch mode defaults and error backoff bounds.
const (
	defaultWatchPollInterval     = 5 * time.Minute
	defaultWatchDebounce         = 2 * time.Second
	defaultWatchFailureThreshold = 3
	defaultWatchFailureCooldown  = 30 * time.Minute

	watchErrInitBackoff = time.Second
	watchErrBackoffMult = 2
	watchErrMaxBackoff  = 30 * time.Second
)

// WatchOpts holds per-session options for RunWatch.
type WatchOpts struct {
	PollInterval     time.Duration // periodic full-pass interval (0 → 5m)
	PollDisabled     bool          // suppress periodic full passes entirely
	Debounce         time.Duration // settle window after source activity (0 → 2s)
	FailureThreshold int           // consecutive failures before suppression (0 → 3)
	FailureCooldown  time.Duration // suppression window (0 → 30m)

	// Paused reports whether a table is administratively paused. Paused
	// tables are skipped by batches but stay watched, so they catch up on
	// the first trigger after resume. Nil means nothing is paused.
	Paused func(table string) bool
}

// fsWatcher abstracts *fsnotify.Watcher so the watch loop can be tested
// with injected event channels.
type fsWatcher interface {
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// notifyWatcher adapts *fsnotify.Watcher, whose channels are struct
// fields, to the fsWatcher interface.
type notifyWatcher struct {
	w *fsnotify.Watcher
}

func (n notifyWatcher) Events() <-chan fsnotify.Event { return n.w.Events }
func (n notifyWatcher) Errors() <-chan error          { return n.w.Errors }

// RunWatch runs continuous replication: an initial full pass, then
// cycles triggered by source database activity, debounced, with a
// periodic poll as a safety net for missed events. Blocks until the
// context is canceled, returning nil on clean shutdown.
func (e *Engine) RunWatch(ctx context.Context, opts WatchOpts) error {
	e.logger.Info("watch mode starting",
		slog.Int("tables", len(e.pairs)),
		slog.Duration("poll_interval", e.resolvePollInterval(opts)),
		slog.Duration("debounce", e.resolveDebounce(opts)),
		slog.Bool("poll_disabled", opts.PollDisabled),
	)

	defer e.logger.Info("watch mode stopped")

	// Step 1: Initial full pass so a fresh target catches up before the
	// loop settles into event-driven cycles. Per-table failures are
	// recorded in the audit history and do not stop the watch.
	e.failures = newFailureTracker(
		e.resolveFailureThreshold(opts), e.resolveFailureCooldown(opts), e.logger)
	e.pausedFn = opts.Paused
	e.runBatch(ctx, e.Tables())

	if ctx.Err() != nil {
		return nil
	}

	// Step 2: Watch the directories holding the source databases.
	watcher, fileTables, err := e.newSourceWatcher()
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			e.logger.Warn("closing filesystem watcher", slog.String("error", closeErr.Error()))
		}
	}()

	// Step 3: Main select loop.
	return e.watchLoop(ctx, notifyWatcher{watcher}, fileTables, opts)
}

// newSourceWatcher creates an fsnotify watcher over the parent
// directories of every source database, and returns the lookup from
// file path to the logical tables it feeds. SQLite writes land in the
// database file or its -wal, -shm, and -journal companions, so all four
// names map to the table.
func (e *Engine) newSourceWatcher() (*fsnotify.Watcher, map[string][]string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("sync: creating filesystem watcher: %w", err)
	}

	fileTables := make(map[string][]string)
	dirs := make(map[string]struct{})

	for name, pair := range e.pairs {
		path := filepath.Clean(pair.spec.SourceDB)
		for _, candidate := range sqliteSidecars(path) {
			fileTables[candidate] = append(fileTables[candidate], name)
		}

		dirs[filepath.Dir(path)] = struct{}{}
	}

	for dir := range dirs {
		if addErr := watcher.Add(dir); addErr != nil {
			watcher.Close()

			return nil, nil, fmt.Errorf("sync: watching %s: %w", dir, addErr)
		}
	}

	return watcher, fileTables, nil
}

// sqliteSidecars lists a database file and the journal companions
// SQLite writes beside it.
func sqliteSidecars(path string) []string {
	return []string{path, path + "-wal", path + "-shm", path + "-journal"}
}

// watchLoop is the main select loop for RunWatch. It collects dirty
// tables from fsnotify events, runs them once the debounce window
// settles, polls on a timer, and backs off on sustained watcher errors.
func (e *Engine) watchLoop(
	ctx context.Context, watcher fsWatcher, fileTables map[string][]string, opts WatchOpts,
) error {
	debounce := e.resolveDebounce(opts)

	var pollC <-chan time.Time

	if !opts.PollDisabled {
		ticker := time.NewTicker(e.resolvePollInterval(opts))
		defer ticker.Stop()

		pollC = ticker.C
	}

	settle := time.NewTimer(debounce)
	settle.Stop()

	defer settle.Stop()

	dirty := make(map[string]struct{})
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case fsEvent, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			tables := tablesForEvent(fsEvent, fileTables)
			if len(tables) == 0 {
				continue
			}

			for _, tableName := range tables {
				dirty[tableName] = struct{}{}
			}

			settle.Reset(debounce)

			// Successful event resets error backoff.
			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			e.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Exponential backoff prevents a tight loop under sustained
			// errors (e.g. kernel buffer overflow).
			if sleepErr := timeSleep(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}

		case <-settle.C:
			batch := make([]string, 0, len(dirty))
			for tableName := range dirty {
				batch = append(batch, tableName)
			}

			sort.Strings(batch)
			clear(dirty)

			e.runBatch(ctx, batch)

		case <-pollC:
			e.runBatch(ctx, e.Tables())
		}
	}
}

// tablesForEvent maps a filesystem event to the logical tables whose
// source databases it touches. Chmod-only events are ignored since mode
// changes carry no row changes.
func tablesForEvent(ev fsnotify.Event, fileTables map[string][]string) []string {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return nil
	}

	return fileTables[filepath.Clean(ev.Name)]
}

// runBatch runs one cycle per named table, in parallel up to the CPU
// count. Cycle failures feed the failure tracker and never abort the
// batch; the next trigger retries.
func (e *Engine) runBatch(ctx context.Context, tables []string) {
	if len(tables) == 0 || ctx.Err() != nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, tableName := range tables {
		if e.pausedFn != nil && e.pausedFn(tableName) {
			e.logger.Debug("skipping paused table", slog.String("table", tableName))
			continue
		}

		if e.failures.shouldSkip(tableName) {
			e.logger.Debug("skipping suppressed table", slog.String("table", tableName))
			continue
		}

		g.Go(func() error {
			if _, err := e.RunCycle(gctx, tableName); err != nil {
				e.failures.recordFailure(tableName, err.Error())
			} else {
				e.failures.recordSuccess(tableName)
			}

			// Cycle errors are recorded per table; the group only
			// propagates context cancellation.
			return nil
		})
	}

	_ = g.Wait()
}

func (e *Engine) resolvePollInterval(opts WatchOpts) time.Duration {
	if opts.PollInterval > 0 {
		return opts.PollInterval
	}

	return defaultWatchPollInterval
}

func (e *Engine) resolveDebounce(opts WatchOpts) time.Duration {
	if opts.Debounce > 0 {
		return opts.Debounce
	}

	return defaultWatchDebounce
}

func (e *Engine) resolveFailureThreshold(opts WatchOpts) int {
	if opts.FailureThreshold > 0 {
		return opts.FailureThreshold
	}

	return defaultWatchFailureThreshold
}

func (e *Engine) resolveFailureCooldown(opts WatchOpts) time.Duration {
	if opts.FailureCooldown > 0 {
		return opts.FailureCooldown
	}

	return defaultWatchFailureCooldown
}

// timeSleep waits for the given duration or until the context is
// canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
