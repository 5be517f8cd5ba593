package api

import (
	"time"

	"github.com/rowmark/rowmark/internal/sync"
)

// Health is the GET /healthz response body.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Tables  int    `json:"tables"`
}

// TablesResponse wraps GET /api/v1/tables.
type TablesResponse struct {
	Tables []TableInfo `json:"tables"`
}

// TableInfo is one configured pair with its derived watermark and the
// most recent run, if any.
type TableInfo struct {
	Name      string `json:"name"`
	Watermark int64  `json:"watermark"`
	LastRun   *Run   `json:"last_run,omitempty"`
}

// RunsResponse wraps GET /api/v1/runs.
type RunsResponse struct {
	Runs []Run `json:"runs"`
}

// Run is the wire form of one audit run row. Terminal fields are
// omitted while the run is still open.
type Run struct {
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

// StatsResponse wraps GET /api/v1/stats.
type StatsResponse struct {
	Stats []Stat `json:"stats"`
}

// Stat is one UTC calendar day of aggregated run outcomes.
type Stat struct {
	Day           string `json:"day"`
	Succeeded     int64  `json:"succeeded"`
	Failed        int64  `json:"failed"`
	AvgDurationMS int64  `json:"avg_duration_ms"`
}

// RunEvent is the wire form of a terminal run summary, used both on the
// websocket stream and as the POST cycle response. The tail client
// decodes the same type.
type RunEvent struct {
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

// runFromRecord converts an audit row to its wire form. Audit
// timestamps are unix nanoseconds; the wire uses RFC 3339 UTC.
func runFromRecord(r *sync.SyncRun) Run {
	run := Run{
		RunID:         r.RunID,
		CycleID:       r.CycleID,
		Table:         r.TableName,
		Status:        r.Status.String(),
		StartedAt:     time.Unix(0, r.StartedAt).UTC(),
		WatermarkFrom: r.WatermarkFrom,
		RowsInserted:  r.RowsInserted,
		RowsUpdated:   r.RowsUpdated,
		RowsProcessed: r.RowsProcessed,
		DurationMS:    r.Duration().Milliseconds(),
	}

	if r.EndedAt != nil {
		t := time.Unix(0, *r.EndedAt).UTC()
		run.EndedAt = &t
	}

	if r.WatermarkTo != nil {
		run.WatermarkTo = r.WatermarkTo
	}

	if r.ErrorMessage != nil {
		run.Error = *r.ErrorMessage
	}

	return run
}

// EventFromSummary converts an engine run summary to its wire form.
func EventFromSummary(s *sync.RunSummary) RunEvent {
	return RunEvent{
		RunID:         s.RunID,
		CycleID:       s.CycleID,
		Table:         s.TableName,
		Status:        s.Status.String(),
		WatermarkFrom: s.WatermarkFrom,
		WatermarkTo:   s.WatermarkTo,
		RowsInserted:  s.RowsInserted,
		RowsUpdated:   s.RowsUpdated,
		RowsProcessed: s.RowsProcessed,
		DurationMS:    s.Duration.Milliseconds(),
		Error:         s.Error,
	}
}
