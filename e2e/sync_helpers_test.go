//go:build e2e

package e2e

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/rowmark/rowmark/testutil"
)

// ---------------------------------------------------------------------------
// JSON mirrors. The e2e suite drives the built binary and never imports
// the engine packages, so the CLI's output shapes are duplicated here.
// ---------------------------------------------------------------------------

// runEvent mirrors one element of 'rowmark run --json'.
type runEvent struct {
	RunID         int64  `json:"run_id"`
	CycleID       string `json:"cycle_id"`
	Table         string `json:"table"`
	Status        string `json:"status"`
	WatermarkFrom int64  `json:"watermark_from"`
	WatermarkTo   int64  `json:"watermark_to"`
	RowsInserted  int64  `json:"rows_inserted"`
	RowsUpdated   int64  `json:"rows_updated"`
	RowsProcessed int64  `json:"rows_processed"`
	DurationMS    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
}

// auditRecord mirrors one record of 'rowmark history --json' and one
// line of 'rowmark export'.
type auditRecord struct {
	RunID         int64      `json:"run_id"`
	CycleID       string     `json:"cycle_id"`
	Table         string     `json:"table"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	WatermarkFrom int64      `json:"watermark_from"`
	WatermarkTo   *int64     `json:"watermark_to,omitempty"`
	RowsInserted  int64      `json:"rows_inserted"`
	RowsUpdated   int64      `json:"rows_updated"`
	RowsProcessed int64      `json:"rows_processed"`
	DurationMS    int64      `json:"duration_ms"`
	Error         string     `json:"error,omitempty"`
}

// statusEntry mirrors one element of 'rowmark status --json'.
type statusEntry struct {
	Table     string       `json:"table"`
	State     string       `json:"state"`
	Watermark int64        `json:"watermark"`
	LastRun   *auditRecord `json:"last_run,omitempty"`
}

// dayStat mirrors one element of 'rowmark stats --json'.
type dayStat struct {
	Day           string `json:"day"`
	Succeeded     int64  `json:"succeeded"`
	Failed        int64  `json:"failed"`
	AvgDurationMS int64  `json:"avg_duration_ms"`
}

// verifyReport mirrors one element of 'rowmark verify --json'.
type verifyReport struct {
	Table      string     `json:"table"`
	SourceRows int64      `json:"source_rows"`
	TargetRows int64      `json:"target_rows"`
	Missing    int64      `json:"missing"`
	Stale      int64      `json:"stale"`
	Orphans    int64      `json:"orphans"`
	Samples    []driftRow `json:"samples,omitempty"`
}

// driftRow mirrors one drift sample within a verify report.
type driftRow struct {
	Key             string `json:"key"`
	Kind            string `json:"kind"`
	SourceWatermark int64  `json:"source_watermark"`
	TargetWatermark int64  `json:"target_watermark"`
}

// ---------------------------------------------------------------------------
// Per-test environment.
// ---------------------------------------------------------------------------

// syncEnv is one isolated replication setup: a source/target database
// pair, a private state database, and a config file naming the given
// tables. All tables share the two database files, the way operators
// point several pairs at one database.
type syncEnv struct {
	t          *testing.T
	root       string
	sourceDB   string
	targetDB   string
	stateDB    string
	configPath string
	tables     []string
}

// newSyncEnv builds a fresh environment with a config file for the
// given tables. Each table name is used as both the source and target
// table name. Nothing is seeded.
func newSyncEnv(t *testing.T, tables ...string) *syncEnv {
	t.Helper()
	require.NotEmpty(t, tables, "newSyncEnv needs at least one table")

	root := t.TempDir()
	env := &syncEnv{
		t:          t,
		root:       root,
		sourceDB:   filepath.Join(root, "source.db"),
		targetDB:   filepath.Join(root, "target.db"),
		stateDB:    filepath.Join(root, "state.db"),
		configPath: filepath.Join(root, "config.toml"),
		tables:     tables,
	}

	pairs := make([]testutil.Pair, 0, len(tables))
	for _, name := range tables {
		pairs = append(pairs, testutil.Pair{
			Name:        name,
			SourceDB:    env.sourceDB,
			SourceTable: name,
			TargetDB:    env.targetDB,
			TargetTable: name,
		})
	}

	cfg := testutil.ConfigTOML(env.stateDB, pairs)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))

	return env
}

// appendConfig appends raw TOML to the config file. Used for whole
// sections like [watch] or [serve] that ConfigTOML does not render.
func (e *syncEnv) appendConfig(t *testing.T, section string) {
	t.Helper()

	f, err := os.OpenFile(e.configPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString(section)
	require.NoError(t, err)
}

// seed inserts n fresh rows into the table's source via rowmark-seed.
func (e *syncEnv) seed(t *testing.T, table string, n int) {
	t.Helper()

	out, err := exec.Command(seedBin, "-db", e.sourceDB, "-table", table, "-rows", fmt.Sprint(n)).CombinedOutput()
	require.NoError(t, err, "seed %s: %s", table, out)
}

// touch bumps n random existing source rows to a fresh change timestamp.
func (e *syncEnv) touch(t *testing.T, table string, n int) {
	t.Helper()

	out, err := exec.Command(seedBin, "-db", e.sourceDB, "-table", table, "-touch", fmt.Sprint(n)).CombinedOutput()
	require.NoError(t, err, "touch %s: %s", table, out)
}

// ---------------------------------------------------------------------------
// CLI runners. All of them prepend the env's --config flag.
// ---------------------------------------------------------------------------

// runRaw invokes the binary and returns stdout, stderr, and the raw
// error. Stderr is logged so failed runs are diagnosable from test
// output alone.
func (e *syncEnv) runRaw(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	full := append([]string{"--config", e.configPath}, args...)
	stdout, stderr, err := runCLIRaw(full...)
	if stderr != "" {
		t.Logf("rowmark %s stderr:\n%s", strings.Join(args, " "), stderr)
	}

	return stdout, stderr, err
}

// run invokes the binary and fails the test on a non-zero exit.
func (e *syncEnv) run(t *testing.T, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := e.runRaw(t, args...)
	require.NoError(t, err, "rowmark %s\nstdout: %s\nstderr: %s", strings.Join(args, " "), stdout, stderr)

	return stdout, stderr
}

// runExpectError invokes the binary and requires a non-zero exit.
func (e *syncEnv) runExpectError(t *testing.T, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := e.runRaw(t, args...)
	require.Error(t, err, "rowmark %s unexpectedly succeeded\nstdout: %s", strings.Join(args, " "), stdout)

	return stdout, stderr
}

// runJSON invokes the binary with --json and decodes stdout into out.
func (e *syncEnv) runJSON(t *testing.T, out any, args ...string) {
	t.Helper()

	full := append([]string{"--json"}, args...)
	stdout, _ := e.run(t, full...)
	require.NoError(t, json.Unmarshal([]byte(stdout), out), "decode %q output: %s", strings.Join(args, " "), stdout)
}

// runJSONAnyExit decodes stdout into out regardless of exit status.
// Failed cycles print their events before the process exits non-zero.
func (e *syncEnv) runJSONAnyExit(t *testing.T, out any, args ...string) (string, error) {
	t.Helper()

	full := append([]string{"--json"}, args...)
	stdout, stderr, err := e.runRaw(t, full...)
	require.NoError(t, json.Unmarshal([]byte(stdout), out), "decode %q output: %s", strings.Join(args, " "), stdout)

	return stderr, err
}

// cycleEvents runs one replication cycle for the named tables (all
// when empty) and returns the terminal events.
func (e *syncEnv) cycleEvents(t *testing.T, tables ...string) []runEvent {
	t.Helper()

	var events []runEvent
	e.runJSON(t, &events, append([]string{"run"}, tables...)...)

	return events
}

// cycleEventsAnyExit is cycleEvents for runs expected to report
// failures. The exit error and stderr are returned for assertion.
func (e *syncEnv) cycleEventsAnyExit(t *testing.T, tables ...string) ([]runEvent, string, error) {
	t.Helper()

	var events []runEvent
	stderr, err := e.runJSONAnyExit(t, &events, append([]string{"run"}, tables...)...)

	return events, stderr, err
}

// cycleOne runs a cycle for a single table and returns its event,
// requiring success.
func (e *syncEnv) cycleOne(t *testing.T, table string) runEvent {
	t.Helper()

	events := e.cycleEvents(t, table)
	require.Len(t, events, 1)
	require.Equal(t, "success", events[0].Status, "cycle error: %s", events[0].Error)

	return events[0]
}

// statusRows decodes 'rowmark status --json'.
func (e *syncEnv) statusRows(t *testing.T) []statusEntry {
	t.Helper()

	var rows []statusEntry
	e.runJSON(t, &rows, "status")

	return rows
}

// historyRecords decodes 'rowmark history --json' with extra args.
func (e *syncEnv) historyRecords(t *testing.T, extra ...string) []auditRecord {
	t.Helper()

	var records []auditRecord
	e.runJSON(t, &records, append([]string{"history"}, extra...)...)

	return records
}

// ---------------------------------------------------------------------------
// Direct database access, for asserting what actually landed on disk.
// ---------------------------------------------------------------------------

// openDB opens a SQLite file for direct assertions.
func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

// queryInt runs a single-value query against the given database file.
func queryInt(t *testing.T, path, query string, args ...any) int64 {
	t.Helper()

	var v int64
	require.NoError(t, openDB(t, path).QueryRow(query, args...).Scan(&v))

	return v
}

// queryString is queryInt for text values.
func queryString(t *testing.T, path, query string, args ...any) string {
	t.Helper()

	var v string
	require.NoError(t, openDB(t, path).QueryRow(query, args...).Scan(&v))

	return v
}

// execDB applies a statement to the given database file.
func execDB(t *testing.T, path, stmt string, args ...any) {
	t.Helper()

	_, err := openDB(t, path).Exec(stmt, args...)
	require.NoError(t, err)
}

// sourceMaxWatermark returns MAX(updated_at) in the source table, 0
// when empty. A successful full cycle lands exactly here.
func (e *syncEnv) sourceMaxWatermark(t *testing.T, table string) int64 {
	t.Helper()
	return queryInt(t, e.sourceDB, fmt.Sprintf("SELECT COALESCE(MAX(updated_at), 0) FROM %q", table))
}

// targetCount returns the number of rows in the target table.
func (e *syncEnv) targetCount(t *testing.T, table string) int64 {
	t.Helper()
	return queryInt(t, e.targetDB, fmt.Sprintf("SELECT COUNT(*) FROM %q", table))
}

func (e *syncEnv) execSource(t *testing.T, stmt string, args ...any) {
	t.Helper()
	execDB(t, e.sourceDB, stmt, args...)
}

func (e *syncEnv) execTarget(t *testing.T, stmt string, args ...any) {
	t.Helper()
	execDB(t, e.targetDB, stmt, args...)
}
