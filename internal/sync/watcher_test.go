package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatcher struct {
	events chan fsnotify.Event
	errs   chan error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events: make(chan fsnotify.Event, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeWatcher) Errors() <-chan error          { return f.errs }

func TestSqliteSidecars(t *testing.T) {
	t.Parallel()

	got := sqliteSidecars("/data/source.db")

	assert.Equal(t, []string{
		"/data/source.db",
		"/data/source.db-wal",
		"/data/source.db-shm",
		"/data/source.db-journal",
	}, got)
}

func TestTablesForEvent(t *testing.T) {
	t.Parallel()

	fileTables := map[string][]string{
		"/data/source.db":     {"orders"},
		"/data/source.db-wal": {"orders"},
	}

	tests := []struct {
		name string
		ev   fsnotify.Event
		want []string
	}{
		{
			name: "write on database file",
			ev:   fsnotify.Event{Name: "/data/source.db", Op: fsnotify.Write},
			want: []string{"orders"},
		},
		{
			name: "write on wal sidecar",
			ev:   fsnotify.Event{Name: "/data/source.db-wal", Op: fsnotify.Write},
			want: []string{"orders"},
		},
		{
			name: "chmod only is ignored",
			ev:   fsnotify.Event{Name: "/data/source.db", Op: fsnotify.Chmod},
			want: nil,
		},
		{
			name: "create with chmod still counts",
			ev:   fsnotify.Event{Name: "/data/source.db", Op: fsnotify.Create | fsnotify.Chmod},
			want: []string{"orders"},
		},
		{
			name: "unrelated file",
			ev:   fsnotify.Event{Name: "/data/other.txt", Op: fsnotify.Write},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tablesForEvent(tt.ev, fileTables))
		})
	}
}

func TestResolveWatchOpts_Defaults(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, "")

	var opts WatchOpts

	assert.Equal(t, defaultWatchPollInterval, f.engine.resolvePollInterval(opts))
	assert.Equal(t, defaultWatchDebounce, f.engine.resolveDebounce(opts))
	assert.Equal(t, defaultWatchFailureThreshold, f.engine.resolveFailureThreshold(opts))
	assert.Equal(t, defaultWatchFailureCooldown, f.engine.resolveFailureCooldown(opts))

	opts = WatchOpts{
		PollInterval:     time.Minute,
		Debounce:         time.Second,
		FailureThreshold: 5,
		FailureCooldown:  time.Hour,
	}

	assert.Equal(t, time.Minute, f.engine.resolvePollInterval(opts))
	assert.Equal(t, time.Second, f.engine.resolveDebounce(opts))
	assert.Equal(t, 5, f.engine.resolveFailureThreshold(opts))
	assert.Equal(t, time.Hour, f.engine.resolveFailureCooldown(opts))
}

// watchFixture runs watchLoop against injected channels, the same way
// RunWatch wires it up.
func startWatchLoop(t *testing.T, f *testFixture, opts WatchOpts) (*fakeWatcher, context.CancelFunc, <-chan error) {
	t.Helper()

	f.engine.failures = newFailureTracker(
		f.engine.resolveFailureThreshold(opts), f.engine.resolveFailureCooldown(opts), f.engine.logger)
	f.engine.pausedFn = opts.Paused

	sourcePath := filepath.Clean(f.engine.pairs["orders"].spec.SourceDB)

	fileTables := make(map[string][]string)
	for _, candidate := range sqliteSidecars(sourcePath) {
		fileTables[candidate] = []string{"orders"}
	}

	fw := newFakeWatcher()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- f.engine.watchLoop(ctx, fw, fileTables, opts)
	}()

	t.Cleanup(cancel)

	return fw, cancel, done
}

func TestWatchLoop_EventTriggersCycle(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, "")

	f.upsertOrder(t, 1, "alice", 100, "new", 10)

	fw, cancel, done := startWatchLoop(t, f, WatchOpts{
		Debounce:     10 * time.Millisecond,
		PollDisabled: true,
	})

	fw.events <- fsnotify.Event{
		Name: f.engine.pairs["orders"].spec.SourceDB,
		Op:   fsnotify.Write,
	}

	require.Eventually(t, func() bool {
		wm, err := f.engine.LastWatermark(context.Background(), "orders")

		return err == nil && wm == 10
	}, 2*time.Second, 10*time.Millisecond, "cycle never ran after source event")

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not stop on cancel")
	}
}

func TestWatchLoop_PollTriggersCycle(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, "")

	f.upsertOrder(t, 1, "alice", 100, "new", 10)

	// No filesystem events at all; only the poll ticker fires.
	_, cancel, done := startWatchLoop(t, f, WatchOpts{
		PollInterval: 20 * time.Millisecond,
		Debounce:     time.Hour,
	})

	require.Eventually(t, func() bool {
		wm, err := f.engine.LastWatermark(context.Background(), "orders")

		return err == nil && wm == 10
	}, 2*time.Second, 10*time.Millisecond, "poll never triggered a cycle")

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not stop on cancel")
	}
}

func TestWatchLoop_SkipsPausedTable(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, "")

	f.upsertOrder(t, 1, "alice", 100, "new", 10)

	fw, cancel, done := startWatchLoop(t, f, WatchOpts{
		Debounce:     10 * time.Millisecond,
		PollDisabled: true,
		Paused:       func(string) bool { return true },
	})

	fw.events <- fsnotify.Event{
		Name: f.engine.pairs["orders"].spec.SourceDB,
		Op:   fsnotify.Write,
	}

	// Give the debounce window time to settle and the batch to run; the
	// paused table must not have produced a run.
	time.Sleep(100 * time.Millisecond)

	runs, err := f.engine.RecentRuns(context.Background(), "orders", 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "paused table must not run any cycle")

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not stop on cancel")
	}
}

func TestWatchLoop_ExitsWhenEventsClose(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, "")

	fw, _, done := startWatchLoop(t, f, WatchOpts{PollDisabled: true})

	close(fw.events)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not exit on closed event channel")
	}
}
