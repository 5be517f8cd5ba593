package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run lifecycle statements, prepared at store open. Statuses are baked
// into the SQL so the guarded transitions are visible in one place:
// OpenRun inserts running rows, the close statements require running and
// set exactly one terminal state.
const (
	sqlOpenRun = `INSERT INTO sync_runs
		(cycle_id, table_name, started_at, watermark_from, status)
		VALUES (?, ?, ?, ?, '` + string(RunRunning) + `')`

	sqlCloseRunSuccess = `UPDATE sync_runs
		SET status = '` + string(RunSuccess) + `', ended_at = ?, watermark_to = ?,
		    rows_inserted = ?, rows_updated = ?, rows_processed = ?
		WHERE run_id = ? AND status = '` + string(RunRunning) + `'`

	sqlCloseRunFailed = `UPDATE sync_runs
		SET status = '` + string(RunFailed) + `', ended_at = ?, error_message = ?
		WHERE run_id = ? AND status = '` + string(RunRunning) + `'`

	sqlLastWatermark = `SELECT MAX(watermark_to) FROM sync_runs
		WHERE table_name = ? AND status = '` + string(RunSuccess) + `'`
)

// OpenRun inserts a running audit row for a new cycle and returns its
// run ID. Run IDs are assigned by the database and strictly increase.
func (s *AuditStore) OpenRun(ctx context.Context, tableName, cycleID string, watermarkFrom int64) (int64, error) {
	result, err := s.runStmts.open.ExecContext(ctx,
		cycleID, tableName, s.nowFunc().UnixNano(), watermarkFrom)
	if err != nil {
		return 0, fmt.Errorf("sync: opening run for %s: %w", tableName, err)
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sync: opening run for %s: last insert id: %w", tableName, err)
	}

	return runID, nil
}

// CloseRunSuccess moves a running row to success, recording the new
// watermark and the row counts. The transition is guarded: closing a run
// that is not running returns ErrNotRunning, which keeps terminal rows
// immutable.
func (s *AuditStore) CloseRunSuccess(
	ctx context.Context, runID, watermarkTo, inserted, updated, processed int64,
) error {
	result, err := s.runStmts.closeSuccess.ExecContext(ctx,
		s.nowFunc().UnixNano(), watermarkTo, inserted, updated, processed, runID)
	if err != nil {
		return fmt.Errorf("sync: closing run %d as success: %w", runID, err)
	}

	return checkTransition(result, runID)
}

// CloseRunFailed moves a running row to failed, recording the error
// message. An empty message is replaced so failed rows always explain
// themselves.
func (s *AuditStore) CloseRunFailed(ctx context.Context, runID int64, errMsg string) error {
	if errMsg == "" {
		errMsg = "unknown error"
	}

	result, err := s.runStmts.closeFailed.ExecContext(ctx, s.nowFunc().UnixNano(), errMsg, runID)
	if err != nil {
		return fmt.Errorf("sync: closing run %d as failed: %w", runID, err)
	}

	return checkTransition(result, runID)
}

// checkTransition verifies a guarded status update touched exactly one
// row.
func checkTransition(result sql.Result, runID int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sync: run %d transition rows affected: %w", runID, err)
	}

	if n == 0 {
		return fmt.Errorf("sync: run %d: %w", runID, ErrNotRunning)
	}

	return nil
}

// LastWatermark derives the high-water mark for a table from the audit
// history: the greatest watermark_to over its successful runs. Tables
// with no successful run yet get the zero sentinel, so the first cycle
// reads everything. This is a pure read; there is no stored watermark to
// drift out of agreement with the audit trail.
func (s *AuditStore) LastWatermark(ctx context.Context, tableName string) (int64, error) {
	var wm sql.NullInt64

	if err := s.runStmts.lastWatermark.QueryRowContext(ctx, tableName).Scan(&wm); err != nil {
		return 0, fmt.Errorf("sync: deriving watermark for %s: %w", tableName, err)
	}

	if !wm.Valid {
		return 0, nil
	}

	return wm.Int64, nil
}

// --- Audit query surface ---

// runSelectCols is the column list shared by all run row queries.
const runSelectCols = `SELECT run_id, cycle_id, table_name, started_at, ended_at,
	watermark_from, watermark_to, rows_inserted, rows_updated, rows_processed,
	status, error_message
 FROM sync_runs `

// defaultRunLimit bounds audit listings when the caller passes no limit.
const defaultRunLimit = 20

// RecentRuns returns the most recent runs, newest first. An empty
// tableName covers all tables; limit <= 0 applies the default.
func (s *AuditStore) RecentRuns(ctx context.Context, tableName string, limit int) ([]SyncRun, error) {
	if tableName == "" {
		return s.queryRuns(ctx, ``, "recent runs", normalizeLimit(limit))
	}

	return s.queryRuns(ctx, `WHERE table_name = ?`, "recent runs", tableName, normalizeLimit(limit))
}

// FailedRuns returns the most recent failed runs, newest first. An empty
// tableName covers all tables.
func (s *AuditStore) FailedRuns(ctx context.Context, tableName string, limit int) ([]SyncRun, error) {
	if tableName == "" {
		return s.queryRuns(ctx,
			`WHERE status = '`+string(RunFailed)+`'`,
			"failed runs", normalizeLimit(limit))
	}

	return s.queryRuns(ctx,
		`WHERE table_name = ? AND status = '`+string(RunFailed)+`'`,
		"failed runs", tableName, normalizeLimit(limit))
}

// RunsByStatus returns recent runs filtered to one status, newest first.
func (s *AuditStore) RunsByStatus(ctx context.Context, tableName string, status RunStatus, limit int) ([]SyncRun, error) {
	if tableName == "" {
		return s.queryRuns(ctx, `WHERE status = ?`, "runs by status",
			string(status), normalizeLimit(limit))
	}

	return s.queryRuns(ctx, `WHERE table_name = ? AND status = ?`, "runs by status",
		tableName, string(status), normalizeLimit(limit))
}

// GetRun returns a single run by ID, or (nil, nil) if no such run exists.
func (s *AuditStore) GetRun(ctx context.Context, runID int64) (*SyncRun, error) {
	row := s.db.QueryRowContext(ctx, runSelectCols+`WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // not-found is not an error
	}

	if err != nil {
		return nil, err
	}

	return run, nil
}

// LastRun returns the most recent run for a table regardless of status,
// or (nil, nil) if the table has never run.
func (s *AuditStore) LastRun(ctx context.Context, tableName string) (*SyncRun, error) {
	row := s.db.QueryRowContext(ctx,
		runSelectCols+`WHERE table_name = ? ORDER BY run_id DESC LIMIT 1`, tableName)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // not-found is not an error
	}

	if err != nil {
		return nil, err
	}

	return run, nil
}

// AllRuns returns the complete audit trail, oldest first. An empty
// tableName covers all tables, including pairs since removed from the
// config; the audit rows outlive their declarations. This is the export
// path; human-facing listings use RecentRuns.
func (s *AuditStore) AllRuns(ctx context.Context, tableName string) ([]SyncRun, error) {
	query := runSelectCols + `ORDER BY run_id ASC`
	args := []any{}

	if tableName != "" {
		query = runSelectCols + `WHERE table_name = ? ORDER BY run_id ASC`

		args = append(args, tableName)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sync: all runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows, "all runs")
}

// queryRuns executes a parameterized query against the sync_runs table
// and returns the scanned rows, newest first. The whereClause is appended
// after the base SELECT; the final arg must be the LIMIT value. The desc
// is used in error messages for debugging.
func (s *AuditStore) queryRuns(ctx context.Context, whereClause, desc string, args ...any) ([]SyncRun, error) {
	query := runSelectCols + whereClause + ` ORDER BY run_id DESC LIMIT ?` //nolint:gosec // whereClause is always a compile-time constant, never user input

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sync: %s: %w", desc, err)
	}
	defer rows.Close()

	return collectRuns(rows, desc)
}

// collectRuns drains a run query's rows into a slice.
func collectRuns(rows *sql.Rows, desc string) ([]SyncRun, error) {
	var result []SyncRun

	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sync: %s: %w", desc, scanErr)
		}

		result = append(result, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: %s: iterating rows: %w", desc, err)
	}

	return result, nil
}

// scanRun scans a single run row, handling nullable terminal fields with
// sql.Null* types.
func scanRun(row interface{ Scan(...any) error }) (*SyncRun, error) {
	var (
		run         SyncRun
		status      string
		endedAt     sql.NullInt64
		watermarkTo sql.NullInt64
		errMsg      sql.NullString
	)

	err := row.Scan(
		&run.RunID, &run.CycleID, &run.TableName, &run.StartedAt, &endedAt,
		&run.WatermarkFrom, &watermarkTo, &run.RowsInserted, &run.RowsUpdated,
		&run.RowsProcessed, &status, &errMsg,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}

	if err != nil {
		return nil, fmt.Errorf("scanning run row: %w", err)
	}

	parsed, err := ParseRunStatus(status)
	if err != nil {
		return nil, err
	}

	run.Status = parsed

	if endedAt.Valid {
		run.EndedAt = &endedAt.Int64
	}

	if watermarkTo.Valid {
		run.WatermarkTo = &watermarkTo.Int64
	}

	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}

	return &run, nil
}

// normalizeLimit applies the default listing limit for non-positive
// values.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultRunLimit
	}

	return limit
}

// sqlDailyStats aggregates run outcomes per UTC calendar day. Durations
// average over successful runs only; started_at is unix nanoseconds.
const sqlDailyStats = `SELECT
	date(started_at / 1000000000, 'unixepoch') AS day,
	SUM(CASE WHEN status = '` + string(RunSuccess) + `' THEN 1 ELSE 0 END),
	SUM(CASE WHEN status = '` + string(RunFailed) + `' THEN 1 ELSE 0 END),
	CAST(AVG(CASE WHEN status = '` + string(RunSuccess) + `' THEN ended_at - started_at END) AS INTEGER)
 FROM sync_runs `

// DailyStats returns per-day success and failure counts plus the average
// duration of successful runs, newest day first. An empty tableName
// covers all tables; days bounds how far back the aggregation reaches.
func (s *AuditStore) DailyStats(ctx context.Context, tableName string, days int) ([]DailyStat, error) {
	if days <= 0 {
		days = 7
	}

	cutoff := s.nowFunc().UTC().AddDate(0, 0, -days).UnixNano()

	query := sqlDailyStats + `WHERE started_at >= ?`
	args := []any{cutoff}

	if tableName != "" {
		query += ` AND table_name = ?`

		args = append(args, tableName)
	}

	query += ` GROUP BY day ORDER BY day DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sync: daily stats: %w", err)
	}
	defer rows.Close()

	var result []DailyStat

	for rows.Next() {
		var (
			stat DailyStat
			avg  sql.NullInt64
		)

		if err := rows.Scan(&stat.Day, &stat.Succeeded, &stat.Failed, &avg); err != nil {
			return nil, fmt.Errorf("sync: scanning daily stat: %w", err)
		}

		if avg.Valid {
			stat.AvgDuration = time.Duration(avg.Int64)
		}

		result = append(result, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: daily stats: iterating rows: %w", err)
	}

	return result, nil
}
