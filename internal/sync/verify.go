package sync

import (
	"context"
	"fmt"
	"log/slog"
)

// Drift kinds reported by VerifyTable.
const (
	DriftMissing = "missing" // key present in source, absent from target
	DriftStale   = "stale"   // target row behind the source watermark
)

// driftSampleLimit caps the example rows carried in a report.
const driftSampleLimit = 20

// DriftRow describes one source row the target does not faithfully
// mirror.
type DriftRow struct {
	Key             string `json:"key"`
	Kind            string `json:"kind"`
	SourceWatermark int64  `json:"source_watermark"`
	TargetWatermark int64  `json:"target_watermark"` // zero when the target row is missing
}

// VerifyReport summarizes a full source/target comparison for one
// table. Orphans are rows only the target holds; replication never
// deletes, so they are reported but not counted as drift.
type VerifyReport struct {
	Table      string     `json:"table"`
	SourceRows int64      `json:"source_rows"`
	TargetRows int64      `json:"target_rows"`
	Missing    int64      `json:"missing"`
	Stale      int64      `json:"stale"`
	Orphans    int64      `json:"orphans"`
	Samples    []DriftRow `json:"samples,omitempty"`
}

// Clean reports whether the target fully covers the source.
func (r *VerifyReport) Clean() bool {
	return r.Missing == 0 && r.Stale == 0
}

func (r *VerifyReport) addSample(row DriftRow) {
	if len(r.Samples) < driftSampleLimit {
		r.Samples = append(r.Samples, row)
	}
}

// VerifyTable compares every source row against the target and reports
// missing and stale rows. Read-only on both databases; it never
// repairs. A follow-up cycle repairs stale rows, while missing rows
// below the watermark need a target rebuild.
func (e *Engine) VerifyTable(ctx context.Context, tableName string) (*VerifyReport, error) {
	pair, ok := e.pairs[tableName]
	if !ok {
		return nil, fmt.Errorf("sync: %w: %q", ErrUnknownTable, tableName)
	}

	if err := pair.ValidateSchemas(ctx); err != nil {
		return nil, err
	}

	return pair.Verify(ctx)
}

// Verify walks the source keyset in order, probing the target in bind
// variable sized chunks, and tallies drift.
func (p *pairRuntime) Verify(ctx context.Context) (*VerifyReport, error) {
	report := &VerifyReport{Table: p.name}

	if err := p.source.QueryRowContext(ctx, p.sql.countSource).Scan(&report.SourceRows); err != nil {
		return nil, fmt.Errorf("sync: counting source rows for %s: %w", p.name, err)
	}

	if err := p.target.QueryRowContext(ctx, p.sql.countTarget).Scan(&report.TargetRows); err != nil {
		return nil, fmt.Errorf("sync: counting target rows for %s: %w", p.name, err)
	}

	rows, err := p.source.QueryContext(ctx, p.sql.sourceKeys)
	if err != nil {
		return nil, fmt.Errorf("sync: reading source keys for %s: %w", p.name, err)
	}
	defer rows.Close()

	// found counts source keys present in the target, stale or not.
	var found int64

	batchKeys := make([]any, 0, maxBindVars)
	batchWMs := make([]int64, 0, maxBindVars)

	flush := func() error {
		if len(batchKeys) == 0 {
			return nil
		}

		if err := p.compareBatch(ctx, batchKeys, batchWMs, report, &found); err != nil {
			return err
		}

		batchKeys = batchKeys[:0]
		batchWMs = batchWMs[:0]

		return nil
	}

	for rows.Next() {
		var key, wm any

		if err := rows.Scan(&key, &wm); err != nil {
			return nil, fmt.Errorf("sync: scanning source key for %s: %w", p.name, err)
		}

		wmInt, err := asInt64(wm)
		if err != nil {
			return nil, fmt.Errorf("sync: source %s watermark: %w", p.name, err)
		}

		batchKeys = append(batchKeys, key)
		batchWMs = append(batchWMs, wmInt)

		if len(batchKeys) == maxBindVars {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating source keys for %s: %w", p.name, err)
	}

	if err := flush(); err != nil {
		return nil, err
	}

	report.Orphans = report.TargetRows - found

	p.logger.Info("verify complete",
		slog.String("table", p.name),
		slog.Int64("source_rows", report.SourceRows),
		slog.Int64("target_rows", report.TargetRows),
		slog.Int64("missing", report.Missing),
		slog.Int64("stale", report.Stale),
		slog.Int64("orphans", report.Orphans),
	)

	return report, nil
}

// compareBatch probes the target for one chunk of source keys and
// classifies each as found, stale, or missing.
func (p *pairRuntime) compareBatch(
	ctx context.Context, keys []any, wms []int64, report *VerifyReport, found *int64,
) error {
	targetWMs := make(map[string]int64, len(keys))

	rows, err := p.target.QueryContext(ctx, p.sql.targetKeysChunk(len(keys)), keys...)
	if err != nil {
		return fmt.Errorf("sync: probing target rows for %s: %w", p.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, wm any

		if err := rows.Scan(&key, &wm); err != nil {
			return fmt.Errorf("sync: scanning target row for %s: %w", p.name, err)
		}

		wmInt, err := asInt64(wm)
		if err != nil {
			return fmt.Errorf("sync: target %s watermark: %w", p.name, err)
		}

		targetWMs[keyString(key)] = wmInt
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("sync: iterating target rows for %s: %w", p.name, err)
	}

	for i, key := range keys {
		targetWM, ok := targetWMs[keyString(key)]

		switch {
		case !ok:
			report.Missing++
			report.addSample(DriftRow{
				Key:             keyString(key),
				Kind:            DriftMissing,
				SourceWatermark: wms[i],
			})
		case targetWM < wms[i]:
			report.Stale++
			*found++

			report.addSample(DriftRow{
				Key:             keyString(key),
				Kind:            DriftStale,
				SourceWatermark: wms[i],
				TargetWatermark: targetWM,
			})
		default:
			*found++
		}
	}

	return nil
}
