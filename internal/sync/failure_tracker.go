package sync

import (
	"log/slog"
	"sync"
	"time"
)

// failureRecord tracks consecutive cycle failures for a single table.
type failureRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// failureTracker suppresses tables whose cycles fail repeatedly in
// watch mode. Thread-safe. Tables that fail threshold times within the
// cooldown window are skipped with a Warn log until the window expires.
// A successful cycle clears the record.
type failureTracker struct {
	mu        sync.Mutex
	records   map[string]*failureRecord
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	nowFunc   func() time.Time // injectable for testing
}

func newFailureTracker(threshold int, cooldown time.Duration, logger *slog.Logger) *failureTracker {
	return &failureTracker{
		records:   make(map[string]*failureRecord),
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// shouldSkip returns true if the table has failed enough times within
// the cooldown window that it should be suppressed.
func (ft *failureTracker) shouldSkip(table string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[table]
	if !ok {
		return false
	}

	// Forget stale failures.
	if ft.nowFunc().Sub(rec.lastAt) > ft.cooldown {
		delete(ft.records, table)
		return false
	}

	return rec.count >= ft.threshold
}

// recordFailure increments the failure counter for a table.
func (ft *failureTracker) recordFailure(table, errMsg string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[table]
	if !ok {
		rec = &failureRecord{}
		ft.records[table] = rec
	}

	// Reset if the previous failure is older than the cooldown.
	if ft.nowFunc().Sub(rec.lastAt) > ft.cooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastErr = errMsg
	rec.lastAt = ft.nowFunc()

	if rec.count == ft.threshold {
		ft.logger.Warn("table suppressed after repeated failures",
			slog.String("table", table),
			slog.Int("failures", rec.count),
			slog.String("last_error", errMsg),
			slog.Duration("cooldown", ft.cooldown),
		)
	}
}

// recordSuccess clears the failure record for a table.
func (ft *failureTracker) recordSuccess(table string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, table)
}
