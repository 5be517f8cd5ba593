// Package sync implements watermark-driven incremental replication of
// configured source tables into target tables. Each cycle extracts rows
// whose change timestamp lies beyond the last successful watermark,
// applies them to the target as one atomic upsert, and records the
// outcome in a permanent audit table. Watermarks are never stored in a
// mutable cell: they are derived from the audit history on every cycle.
package sync

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced across package boundaries.
var (
	// ErrUnknownTable is returned when a cycle is requested for a table
	// name with no matching pair declaration.
	ErrUnknownTable = errors.New("unknown table")

	// ErrNotRunning is returned when a terminal transition finds no open
	// run to close, meaning the run was already closed or never opened.
	ErrNotRunning = errors.New("run is not running")

	// ErrDriftFound marks a verification that found missing or stale
	// target rows, so callers can map drift to a distinct exit code.
	ErrDriftFound = errors.New("drift found")
)

// RunStatus is the lifecycle state of a sync run. Runs move from running
// to exactly one terminal state and never change afterwards.
type RunStatus string

// Run status values as stored in the sync_runs table.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// String returns the status as stored in the database.
func (s RunStatus) String() string {
	return string(s)
}

// ParseRunStatus converts a string to a RunStatus, used when filtering
// audit queries by CLI flag or API parameter.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunRunning, RunSuccess, RunFailed:
		return RunStatus(s), nil
	default:
		return "", fmt.Errorf("sync: invalid run status %q", s)
	}
}

// SyncRun is one row of the permanent audit trail. Rows are inserted in
// the running state and updated exactly once to a terminal state; they
// are never deleted. WatermarkTo, EndedAt, and ErrorMessage are nil
// until the transition that sets them.
type SyncRun struct {
	RunID         int64
	CycleID       string
	TableName     string
	StartedAt     int64 // unix nanoseconds
	EndedAt       *int64
	WatermarkFrom int64
	WatermarkTo   *int64
	RowsInserted  int64
	RowsUpdated   int64
	RowsProcessed int64
	Status        RunStatus
	ErrorMessage  *string
}

// Duration returns the run duration, or zero while the run is open.
func (r *SyncRun) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}

	return time.Duration(*r.EndedAt - r.StartedAt)
}

// ChangeRow is a single extracted source row: its key, change timestamp,
// and the opaque payload projection in declaration order.
type ChangeRow struct {
	Key       any
	Watermark int64
	Payload   []any
}

// ChangeSet is the ordered result of one extraction window. From is the
// exclusive lower bound; To is the highest change timestamp observed and
// equals From when the set is empty. Inserted and Updated partition the
// rows by target key existence at extraction time. The partition is
// advisory: a concurrent target writer can skew the counts, never the
// applied rows.
type ChangeSet struct {
	Table    string
	From     int64
	To       int64
	Rows     []ChangeRow
	Inserted int64
	Updated  int64
}

// Empty reports whether the window contained no changes.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Rows) == 0
}

// RunSummary is the caller-facing result of one replication cycle.
// For failed cycles it accompanies the returned error so callers still
// see the recorded run. Error carries the failure message for broadcast
// consumers that never see the returned error; it is empty on success.
type RunSummary struct {
	RunID         int64
	CycleID       string
	TableName     string
	Status        RunStatus
	WatermarkFrom int64
	WatermarkTo   int64
	RowsInserted  int64
	RowsUpdated   int64
	RowsProcessed int64
	Duration      time.Duration
	Error         string
}

// DailyStat aggregates run outcomes for one calendar day (UTC).
// AvgDuration covers successful runs only and is zero for days without
// any.
type DailyStat struct {
	Day         string
	Succeeded   int64
	Failed      int64
	AvgDuration time.Duration
}
