package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rowmark/rowmark/internal/config"
	"github.com/rowmark/rowmark/internal/sync"
)

func ptrInt64(v int64) *int64 { return &v }

func ptrString(s string) *string { return &s }

func ptrBool(b bool) *bool { return &b }

// successRun builds a terminal success audit row for display tests.
func successRun(table string, started time.Time) *sync.SyncRun {
	ended := started.Add(2 * time.Second).UnixNano()

	return &sync.SyncRun{
		RunID:         7,
		CycleID:       "0d9a2c9e",
		TableName:     table,
		StartedAt:     started.UnixNano(),
		EndedAt:       &ended,
		WatermarkFrom: 100,
		WatermarkTo:   ptrInt64(250),
		RowsInserted:  3,
		RowsUpdated:   1,
		RowsProcessed: 4,
		Status:        sync.RunSuccess,
	}
}

func TestStatusRowFor_NeverSynced(t *testing.T) {
	row := statusRowFor("orders", config.Table{}, 0, nil, time.Now())

	assert.Equal(t, "never synced", row.State)
	assert.Equal(t, int64(0), row.Watermark)
	assert.Nil(t, row.LastRun)
}

func TestStatusRowFor_ReadyAfterSuccess(t *testing.T) {
	now := time.Now()
	row := statusRowFor("orders", config.Table{}, 250, successRun("orders", now.Add(-time.Minute)), now)

	assert.Equal(t, "ready", row.State)
	assert.Equal(t, int64(250), row.Watermark)
	assert.NotNil(t, row.LastRun)
	assert.Equal(t, int64(4), row.LastRun.RowsProcessed)
}

func TestStatusRowFor_FailingAfterFailure(t *testing.T) {
	now := time.Now()
	last := successRun("orders", now.Add(-time.Minute))
	last.Status = sync.RunFailed
	last.ErrorMessage = ptrString("disk I/O error")

	row := statusRowFor("orders", config.Table{}, 100, last, now)

	assert.Equal(t, "failing", row.State)
	assert.Equal(t, "disk I/O error", row.LastRun.Error)
}

func TestStatusRowFor_PausedOverridesFailure(t *testing.T) {
	// Paused takes priority over failing: the pair is intentionally idle.
	now := time.Now()
	last := successRun("orders", now.Add(-time.Minute))
	last.Status = sync.RunFailed

	row := statusRowFor("orders", config.Table{Paused: ptrBool(true)}, 100, last, now)

	assert.Equal(t, "paused", row.State)
}

func TestStatusRowFor_ExpiredTimedPause(t *testing.T) {
	now := time.Now()
	expired := now.Add(-time.Hour).Format(time.RFC3339)
	tbl := config.Table{Paused: ptrBool(true), PausedUntil: &expired}

	row := statusRowFor("orders", tbl, 250, successRun("orders", now.Add(-time.Minute)), now)

	// paused_until has passed, so the pair is back in rotation.
	assert.Equal(t, "ready", row.State)
}

func TestPrintStatusTable(t *testing.T) {
	now := time.Now()
	ready := statusRowFor("orders", config.Table{}, 250, successRun("orders", now.Add(-time.Minute)), now)
	fresh := statusRowFor("customers", config.Table{}, 0, nil, now)

	var buf bytes.Buffer
	printStatusTable(&buf, []statusRow{ready, fresh})
	output := buf.String()

	assert.Contains(t, output, "TABLE")
	assert.Contains(t, output, "WATERMARK")
	assert.Contains(t, output, "orders")
	assert.Contains(t, output, "250")
	assert.Contains(t, output, "4 rows in 2s")
	assert.Contains(t, output, "customers")
	assert.Contains(t, output, "never synced")
}

func TestPrintStatusTable_TruncatesLongError(t *testing.T) {
	now := time.Now()
	last := successRun("orders", now.Add(-time.Minute))
	last.Status = sync.RunFailed
	last.ErrorMessage = ptrString("SQLITE_CORRUPT: database disk image is malformed while reading page 4711 of the target")

	row := statusRowFor("orders", config.Table{}, 100, last, now)

	var buf bytes.Buffer
	printStatusTable(&buf, []statusRow{row})

	assert.Contains(t, buf.String(), "failed: SQLITE_CORRUPT")
	assert.NotContains(t, buf.String(), "page 4711")
}

func TestNewStatusCmd_Structure(t *testing.T) {
	cmd := newStatusCmd()
	assert.Equal(t, "status", cmd.Name())
	assert.NotEmpty(t, cmd.Short)
	assert.NotNil(t, cmd.RunE)
}
