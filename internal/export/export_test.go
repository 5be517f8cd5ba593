package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rowmark/rowmark/internal/sync"
)

func ptrInt64(v int64) *int64 { return &v }

func ptrString(s string) *string { return &s }

func TestFromRun_MapsAllFields(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	ended := started.Add(1500 * time.Millisecond)

	run := sync.SyncRun{
		RunID:         7,
		CycleID:       "cycle-7",
		TableName:     "orders",
		StartedAt:     started.UnixNano(),
		EndedAt:       ptrInt64(ended.UnixNano()),
		WatermarkFrom: 10,
		WatermarkTo:   ptrInt64(30),
		RowsInserted:  2,
		RowsUpdated:   1,
		RowsProcessed: 3,
		Status:        sync.RunSuccess,
	}

	rec := FromRun(&run)

	if rec.RunID != 7 || rec.CycleID != "cycle-7" || rec.Table != "orders" {
		t.Errorf("identity = (%d, %q, %q), want (7, cycle-7, orders)",
			rec.RunID, rec.CycleID, rec.Table)
	}

	if rec.Status != "success" {
		t.Errorf("status = %q, want success", rec.Status)
	}

	if !rec.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", rec.StartedAt, started)
	}

	if rec.EndedAt == nil || !rec.EndedAt.Equal(ended) {
		t.Errorf("ended_at = %v, want %v", rec.EndedAt, ended)
	}

	if rec.WatermarkFrom != 10 || rec.WatermarkTo == nil || *rec.WatermarkTo != 30 {
		t.Errorf("window = (%d, %v), want (10, 30)", rec.WatermarkFrom, rec.WatermarkTo)
	}

	if rec.DurationMS != 1500 {
		t.Errorf("duration_ms = %d, want 1500", rec.DurationMS)
	}

	if rec.Error != "" {
		t.Errorf("error = %q on a success record, want empty", rec.Error)
	}
}

func TestFromRun_FailedCarriesError(t *testing.T) {
	t.Parallel()

	run := sync.SyncRun{
		RunID:        3,
		CycleID:      "cycle-3",
		TableName:    "orders",
		StartedAt:    time.Now().UnixNano(),
		Status:       sync.RunFailed,
		ErrorMessage: ptrString("target locked"),
	}

	rec := FromRun(&run)

	if rec.Status != "failed" || rec.Error != "target locked" {
		t.Errorf("record = (%q, %q), want (failed, target locked)", rec.Status, rec.Error)
	}

	// A failed run never closed a watermark window.
	if rec.WatermarkTo != nil {
		t.Errorf("watermark_to = %v on a failed record, want absent", rec.WatermarkTo)
	}
}

func TestWriteRuns_OneLinePerRun(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC).UnixNano()

	runs := []sync.SyncRun{
		{
			RunID: 1, CycleID: "c1", TableName: "orders", StartedAt: started,
			EndedAt: ptrInt64(started + int64(time.Second)), WatermarkTo: ptrInt64(20),
			RowsInserted: 2, RowsProcessed: 2, Status: sync.RunSuccess,
		},
		{
			RunID: 2, CycleID: "c2", TableName: "orders", StartedAt: started,
			EndedAt: ptrInt64(started + int64(time.Second)),
			Status:  sync.RunFailed, ErrorMessage: ptrString("boom"),
		},
	}

	var buf bytes.Buffer

	n, err := WriteRuns(&buf, runs)
	if err != nil {
		t.Fatalf("WriteRuns: %v", err)
	}

	if n != 2 {
		t.Errorf("wrote %d records, want 2", n)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	// Every line decodes on its own.
	for i, line := range lines {
		var rec Record

		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d does not decode: %v", i, err)
		}

		if rec.RunID != int64(i+1) {
			t.Errorf("line %d run_id = %d, want %d", i, rec.RunID, i+1)
		}
	}

	// Absent fields are omitted, not null.
	if strings.Contains(lines[1], "watermark_to") {
		t.Errorf("failed record carries watermark_to: %s", lines[1])
	}

	if !strings.Contains(lines[1], `"error":"boom"`) {
		t.Errorf("failed record missing error: %s", lines[1])
	}
}

func TestWriteRuns_Empty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	n, err := WriteRuns(&buf, nil)
	if err != nil {
		t.Fatalf("WriteRuns: %v", err)
	}

	if n != 0 || buf.Len() != 0 {
		t.Errorf("empty export wrote %d records, %d bytes", n, buf.Len())
	}
}
