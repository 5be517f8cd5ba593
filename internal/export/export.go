// Package export renders the audit trail as JSON Lines and optionally
// uploads the result to S3-compatible object storage. Each line is one
// self-contained run record, so downstream consumers (warehouses, jq,
// spreadsheets) need no schema beyond the line itself.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rowmark/rowmark/internal/sync"
)

// Record is one exported audit run. Timestamps are RFC 3339 UTC; the
// nullable terminal fields stay absent for runs that never closed.
type Record struct {
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

// FromRun converts an audit row to its export record.
func FromRun(run *sync.SyncRun) Record {
	rec := Record{
		RunID:         run.RunID,
		CycleID:       run.CycleID,
		Table:         run.TableName,
		Status:        run.Status.String(),
		StartedAt:     time.Unix(0, run.StartedAt).UTC(),
		WatermarkFrom: run.WatermarkFrom,
		RowsInserted:  run.RowsInserted,
		RowsUpdated:   run.RowsUpdated,
		RowsProcessed: run.RowsProcessed,
		DurationMS:    run.Duration().Milliseconds(),
	}

	if run.EndedAt != nil {
		ended := time.Unix(0, *run.EndedAt).UTC()
		rec.EndedAt = &ended
	}

	if run.WatermarkTo != nil {
		wm := *run.WatermarkTo
		rec.WatermarkTo = &wm
	}

	if run.ErrorMessage != nil {
		rec.Error = *run.ErrorMessage
	}

	return rec
}

// WriteRuns encodes runs to w as JSON Lines, one record per run in the
// given order, and returns the number of lines written.
func WriteRuns(w io.Writer, runs []sync.SyncRun) (int, error) {
	enc := json.NewEncoder(w)

	for i := range runs {
		if err := enc.Encode(FromRun(&runs[i])); err != nil {
			return i, fmt.Errorf("export: encoding run %d: %w", runs[i].RunID, err)
		}
	}

	return len(runs), nil
}
