package sync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOpenRun_RecordsRunning(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.OpenRun(ctx, "orders", "cycle-1", 40)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if run == nil {
		t.Fatal("GetRun returned nil for a fresh run")
	}

	if run.Status != RunRunning {
		t.Errorf("status = %q, want %q", run.Status, RunRunning)
	}

	if run.TableName != "orders" || run.CycleID != "cycle-1" {
		t.Errorf("identity = (%q, %q), want (orders, cycle-1)", run.TableName, run.CycleID)
	}

	if run.WatermarkFrom != 40 {
		t.Errorf("watermark_from = %d, want 40", run.WatermarkFrom)
	}

	if run.StartedAt == 0 {
		t.Error("started_at not set")
	}

	if run.EndedAt != nil || run.WatermarkTo != nil || run.ErrorMessage != nil {
		t.Error("terminal fields set on a running row")
	}
}

func TestRunLifecycle_Success(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.OpenRun(ctx, "orders", "cycle-1", 0)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunSuccess(ctx, runID, 20, 2, 3, 5); err != nil {
		t.Fatalf("CloseRunSuccess: %v", err)
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if run.Status != RunSuccess {
		t.Errorf("status = %q, want %q", run.Status, RunSuccess)
	}

	if run.WatermarkTo == nil || *run.WatermarkTo != 20 {
		t.Errorf("watermark_to = %v, want 20", run.WatermarkTo)
	}

	if run.RowsInserted != 2 || run.RowsUpdated != 3 || run.RowsProcessed != 5 {
		t.Errorf("counts = (%d, %d, %d), want (2, 3, 5)",
			run.RowsInserted, run.RowsUpdated, run.RowsProcessed)
	}

	if run.EndedAt == nil {
		t.Error("ended_at not set on terminal row")
	}

	// Terminal rows are immutable: both close paths must now refuse.
	if err := store.CloseRunSuccess(ctx, runID, 30, 0, 0, 0); !errors.Is(err, ErrNotRunning) {
		t.Errorf("double success close error = %v, want ErrNotRunning", err)
	}

	if err := store.CloseRunFailed(ctx, runID, "late failure"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("failed close after success error = %v, want ErrNotRunning", err)
	}

	// The original terminal fields survive the refused transitions.
	run, err = store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if run.Status != RunSuccess || *run.WatermarkTo != 20 || run.ErrorMessage != nil {
		t.Error("terminal row mutated by refused transition")
	}
}

func TestRunLifecycle_Failed(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.OpenRun(ctx, "orders", "cycle-1", 10)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunFailed(ctx, runID, "source vanished"); err != nil {
		t.Fatalf("CloseRunFailed: %v", err)
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if run.Status != RunFailed {
		t.Errorf("status = %q, want %q", run.Status, RunFailed)
	}

	if run.ErrorMessage == nil || *run.ErrorMessage != "source vanished" {
		t.Errorf("error_message = %v, want %q", run.ErrorMessage, "source vanished")
	}

	// Failed rows never carry a watermark.
	if run.WatermarkTo != nil {
		t.Errorf("watermark_to = %v on a failed row, want nil", run.WatermarkTo)
	}

	if err := store.CloseRunSuccess(ctx, runID, 20, 0, 0, 0); !errors.Is(err, ErrNotRunning) {
		t.Errorf("success close after failure error = %v, want ErrNotRunning", err)
	}
}

func TestCloseRunFailed_EmptyMessage(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.OpenRun(ctx, "orders", "cycle-1", 0)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunFailed(ctx, runID, ""); err != nil {
		t.Fatalf("CloseRunFailed: %v", err)
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if run.ErrorMessage == nil || *run.ErrorMessage != "unknown error" {
		t.Errorf("error_message = %v, want %q", run.ErrorMessage, "unknown error")
	}
}

func TestCloseRun_UnknownRun(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	err := store.CloseRunSuccess(context.Background(), 9999, 1, 0, 0, 0)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("closing unknown run error = %v, want ErrNotRunning", err)
	}
}

// TestLastWatermark_Derivation proves the watermark is purely a
// function of the recorded history: only successful runs advance it,
// and it is the maximum over them, not the latest.
func TestLastWatermark_Derivation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	assertWatermark := func(table string, want int64) {
		t.Helper()

		got, err := store.LastWatermark(ctx, table)
		if err != nil {
			t.Fatalf("LastWatermark(%q): %v", table, err)
		}

		if got != want {
			t.Errorf("LastWatermark(%q) = %d, want %d", table, got, want)
		}
	}

	// No history: the zero sentinel, so the first window covers everything.
	assertWatermark("orders", 0)

	// A run still in flight contributes nothing.
	running, err := store.OpenRun(ctx, "orders", "cycle-1", 0)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	assertWatermark("orders", 0)

	if err := store.CloseRunSuccess(ctx, running, 10, 1, 0, 1); err != nil {
		t.Fatalf("CloseRunSuccess: %v", err)
	}

	assertWatermark("orders", 10)

	// Failures never advance the watermark.
	failed, err := store.OpenRun(ctx, "orders", "cycle-2", 10)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunFailed(ctx, failed, "boom"); err != nil {
		t.Fatalf("CloseRunFailed: %v", err)
	}

	assertWatermark("orders", 10)

	// A later success moves it forward.
	second, err := store.OpenRun(ctx, "orders", "cycle-3", 10)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunSuccess(ctx, second, 30, 0, 1, 1); err != nil {
		t.Fatalf("CloseRunSuccess: %v", err)
	}

	assertWatermark("orders", 30)

	// MAX, not latest: a stray success closing behind the frontier
	// cannot move the watermark backwards.
	stray, err := store.OpenRun(ctx, "orders", "cycle-4", 30)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunSuccess(ctx, stray, 5, 0, 0, 0); err != nil {
		t.Fatalf("CloseRunSuccess: %v", err)
	}

	assertWatermark("orders", 30)

	// Tables do not share watermarks.
	assertWatermark("customers", 0)
}

func TestRecentRuns_OrderLimitAndFilter(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		runID, err := store.OpenRun(ctx, "orders", "cycle-a", int64(i)*10)
		if err != nil {
			t.Fatalf("OpenRun: %v", err)
		}

		if err := store.CloseRunSuccess(ctx, runID, int64(i+1)*10, 1, 0, 1); err != nil {
			t.Fatalf("CloseRunSuccess: %v", err)
		}
	}

	otherID, err := store.OpenRun(ctx, "customers", "cycle-b", 0)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunFailed(ctx, otherID, "nope"); err != nil {
		t.Fatalf("CloseRunFailed: %v", err)
	}

	all, err := store.RecentRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}

	if len(all) != 4 {
		t.Fatalf("got %d runs, want 4", len(all))
	}

	// Newest first.
	for i := 1; i < len(all); i++ {
		if all[i-1].RunID < all[i].RunID {
			t.Errorf("runs out of order: %d before %d", all[i-1].RunID, all[i].RunID)
		}
	}

	limited, err := store.RecentRuns(ctx, "", 2)
	if err != nil {
		t.Fatalf("RecentRuns limited: %v", err)
	}

	if len(limited) != 2 {
		t.Errorf("got %d runs with limit 2, want 2", len(limited))
	}

	orders, err := store.RecentRuns(ctx, "orders", 0)
	if err != nil {
		t.Fatalf("RecentRuns filtered: %v", err)
	}

	if len(orders) != 3 {
		t.Errorf("got %d orders runs, want 3", len(orders))
	}

	for _, run := range orders {
		if run.TableName != "orders" {
			t.Errorf("filtered run for table %q leaked in", run.TableName)
		}
	}
}

func TestAllRuns_FullTrailOldestFirst(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	// More runs than the default listing limit, so AllRuns being
	// unbounded is observable.
	for i := 0; i < 25; i++ {
		runID, err := store.OpenRun(ctx, "orders", "cycle-a", int64(i))
		if err != nil {
			t.Fatalf("OpenRun: %v", err)
		}

		if err := store.CloseRunSuccess(ctx, runID, int64(i+1), 1, 0, 1); err != nil {
			t.Fatalf("CloseRunSuccess: %v", err)
		}
	}

	otherID, err := store.OpenRun(ctx, "customers", "cycle-b", 0)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunFailed(ctx, otherID, "nope"); err != nil {
		t.Fatalf("CloseRunFailed: %v", err)
	}

	all, err := store.AllRuns(ctx, "")
	if err != nil {
		t.Fatalf("AllRuns: %v", err)
	}

	if len(all) != 26 {
		t.Fatalf("got %d runs, want 26", len(all))
	}

	// Oldest first.
	for i := 1; i < len(all); i++ {
		if all[i-1].RunID > all[i].RunID {
			t.Errorf("runs out of order: %d before %d", all[i-1].RunID, all[i].RunID)
		}
	}

	orders, err := store.AllRuns(ctx, "orders")
	if err != nil {
		t.Fatalf("AllRuns filtered: %v", err)
	}

	if len(orders) != 25 {
		t.Errorf("got %d orders runs, want 25", len(orders))
	}

	// Audit rows for a name with no pair declaration still come back;
	// the trail outlives the config.
	ghost, err := store.AllRuns(ctx, "retired")
	if err != nil {
		t.Fatalf("AllRuns ghost: %v", err)
	}

	if len(ghost) != 0 {
		t.Errorf("got %d runs for an unused name, want 0", len(ghost))
	}
}

func TestFailedRuns_OnlyFailed(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	okID, err := store.OpenRun(ctx, "orders", "cycle-1", 0)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunSuccess(ctx, okID, 10, 1, 0, 1); err != nil {
		t.Fatalf("CloseRunSuccess: %v", err)
	}

	badID, err := store.OpenRun(ctx, "orders", "cycle-2", 10)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunFailed(ctx, badID, "target locked"); err != nil {
		t.Fatalf("CloseRunFailed: %v", err)
	}

	failed, err := store.FailedRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("FailedRuns: %v", err)
	}

	if len(failed) != 1 {
		t.Fatalf("got %d failed runs, want 1", len(failed))
	}

	if failed[0].RunID != badID || failed[0].Status != RunFailed {
		t.Errorf("failed run = (%d, %q), want (%d, failed)",
			failed[0].RunID, failed[0].Status, badID)
	}
}

func TestRunsByStatus(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.OpenRun(ctx, "orders", "cycle-1", 0); err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	running, err := store.RunsByStatus(ctx, "orders", RunRunning, 0)
	if err != nil {
		t.Fatalf("RunsByStatus: %v", err)
	}

	if len(running) != 1 {
		t.Errorf("got %d running runs, want 1", len(running))
	}

	succeeded, err := store.RunsByStatus(ctx, "orders", RunSuccess, 0)
	if err != nil {
		t.Fatalf("RunsByStatus: %v", err)
	}

	if len(succeeded) != 0 {
		t.Errorf("got %d success runs, want 0", len(succeeded))
	}
}

func TestGetRun_Missing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	run, err := store.GetRun(context.Background(), 404)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if run != nil {
		t.Errorf("GetRun = %+v, want nil", run)
	}
}

func TestLastRun(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	run, err := store.LastRun(ctx, "orders")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}

	if run != nil {
		t.Errorf("LastRun on empty history = %+v, want nil", run)
	}

	firstID, err := store.OpenRun(ctx, "orders", "cycle-1", 0)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunSuccess(ctx, firstID, 10, 1, 0, 1); err != nil {
		t.Fatalf("CloseRunSuccess: %v", err)
	}

	lastID, err := store.OpenRun(ctx, "orders", "cycle-2", 10)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunFailed(ctx, lastID, "boom"); err != nil {
		t.Fatalf("CloseRunFailed: %v", err)
	}

	run, err = store.LastRun(ctx, "orders")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}

	// Newest regardless of outcome.
	if run == nil || run.RunID != lastID {
		t.Errorf("LastRun = %+v, want run %d", run, lastID)
	}
}

func TestDailyStats_Aggregates(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	closeAt := func(offset time.Duration) {
		store.nowFunc = func() time.Time { return base.Add(offset) }
	}

	// Two successes on day one, 2s and 4s long, plus one failure.
	closeAt(0)

	first, err := store.OpenRun(ctx, "orders", "cycle-1", 0)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	closeAt(2 * time.Second)

	if err := store.CloseRunSuccess(ctx, first, 10, 1, 0, 1); err != nil {
		t.Fatalf("CloseRunSuccess: %v", err)
	}

	second, err := store.OpenRun(ctx, "orders", "cycle-2", 10)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	closeAt(6 * time.Second)

	if err := store.CloseRunSuccess(ctx, second, 20, 0, 1, 1); err != nil {
		t.Fatalf("CloseRunSuccess: %v", err)
	}

	third, err := store.OpenRun(ctx, "orders", "cycle-3", 20)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunFailed(ctx, third, "boom"); err != nil {
		t.Fatalf("CloseRunFailed: %v", err)
	}

	// One success the next day.
	closeAt(24 * time.Hour)

	fourth, err := store.OpenRun(ctx, "orders", "cycle-4", 20)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	closeAt(24*time.Hour + time.Second)

	if err := store.CloseRunSuccess(ctx, fourth, 30, 1, 0, 1); err != nil {
		t.Fatalf("CloseRunSuccess: %v", err)
	}

	stats, err := store.DailyStats(ctx, "orders", 7)
	if err != nil {
		t.Fatalf("DailyStats: %v", err)
	}

	if len(stats) != 2 {
		t.Fatalf("got %d daily stats, want 2", len(stats))
	}

	// Newest day first.
	if stats[0].Day != "2025-06-11" || stats[1].Day != "2025-06-10" {
		t.Errorf("days = (%q, %q), want (2025-06-11, 2025-06-10)", stats[0].Day, stats[1].Day)
	}

	if stats[0].Succeeded != 1 || stats[0].Failed != 0 {
		t.Errorf("day 2 counts = (%d, %d), want (1, 0)", stats[0].Succeeded, stats[0].Failed)
	}

	if stats[1].Succeeded != 2 || stats[1].Failed != 1 {
		t.Errorf("day 1 counts = (%d, %d), want (2, 1)", stats[1].Succeeded, stats[1].Failed)
	}

	// Average duration covers successes only: (2s + 4s) / 2.
	if stats[1].AvgDuration != 3*time.Second {
		t.Errorf("day 1 avg duration = %v, want 3s", stats[1].AvgDuration)
	}
}

func TestDailyStats_CutoffExcludesOldRuns(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	// A run well before the window.
	store.nowFunc = func() time.Time { return base.AddDate(0, 0, -30) }

	old, err := store.OpenRun(ctx, "orders", "cycle-old", 0)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunSuccess(ctx, old, 5, 1, 0, 1); err != nil {
		t.Fatalf("CloseRunSuccess: %v", err)
	}

	// A recent run inside it.
	store.nowFunc = func() time.Time { return base }

	recent, err := store.OpenRun(ctx, "orders", "cycle-new", 5)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}

	if err := store.CloseRunSuccess(ctx, recent, 10, 1, 0, 1); err != nil {
		t.Fatalf("CloseRunSuccess: %v", err)
	}

	stats, err := store.DailyStats(ctx, "orders", 7)
	if err != nil {
		t.Fatalf("DailyStats: %v", err)
	}

	if len(stats) != 1 {
		t.Fatalf("got %d daily stats, want 1", len(stats))
	}

	if stats[0].Day != "2025-06-10" {
		t.Errorf("day = %q, want 2025-06-10", stats[0].Day)
	}
}
