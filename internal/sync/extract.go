package sync

import (
	"context"
	"fmt"
	"log/slog"
)

// Extract reads all source rows whose change timestamp is strictly
// greater than from, in deterministic (watermark, key) order. The
// returned set's To is the highest timestamp observed, or from when the
// window is empty, so the caller can always persist it as the next
// watermark. The insert/update partition is probed against the target
// here, at extraction time; it informs reporting, not the apply step.
func (p *pairRuntime) Extract(ctx context.Context, from int64) (*ChangeSet, error) {
	rows, err := p.source.QueryContext(ctx, p.sql.selectChanges, from)
	if err != nil {
		return nil, fmt.Errorf("sync: extracting changes for %s: %w", p.name, err)
	}
	defer rows.Close()

	cs := &ChangeSet{Table: p.name, From: from, To: from}
	width := p.sql.rowWidth

	for rows.Next() {
		values := make([]any, width)
		dest := make([]any, width)

		for i := range values {
			dest[i] = &values[i]
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sync: scanning change row for %s: %w", p.name, err)
		}

		row, err := changeRowFromValues(values)
		if err != nil {
			return nil, fmt.Errorf("sync: table %s: %w", p.name, err)
		}

		if row.Watermark > cs.To {
			cs.To = row.Watermark
		}

		cs.Rows = append(cs.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating changes for %s: %w", p.name, err)
	}

	if err := p.partitionByExistence(ctx, cs); err != nil {
		return nil, err
	}

	p.logger.Debug("changes extracted",
		slog.String("table", p.name),
		slog.Int("rows", len(cs.Rows)),
		slog.Int64("watermark_from", cs.From),
		slog.Int64("watermark_to", cs.To),
	)

	return cs, nil
}

// changeRowFromValues splits a scanned row into key, payload, and
// watermark following the fixed column order (key, payload..., wm).
func changeRowFromValues(values []any) (ChangeRow, error) {
	last := len(values) - 1

	wm, err := asInt64(values[last])
	if err != nil {
		return ChangeRow{}, fmt.Errorf("watermark column: %w", err)
	}

	return ChangeRow{
		Key:       values[0],
		Watermark: wm,
		Payload:   values[1:last],
	}, nil
}

// asInt64 coerces a scanned watermark value. Watermarks must be
// integers; anything else in the configured column is a declaration
// error worth failing the cycle over.
func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case nil:
		return 0, fmt.Errorf("value is NULL, expected integer")
	default:
		return 0, fmt.Errorf("value %v (%T) is not an integer", v, v)
	}
}

// partitionByExistence fills the advisory Inserted/Updated counts by
// probing target key existence in chunks. Rows whose key exists in the
// target count as updates, the rest as inserts. A writer racing this
// probe can skew the split; the apply step's upsert makes the skew
// harmless.
func (p *pairRuntime) partitionByExistence(ctx context.Context, cs *ChangeSet) error {
	if cs.Empty() {
		return nil
	}

	existing := make(map[string]bool, len(cs.Rows))

	for start := 0; start < len(cs.Rows); start += maxBindVars {
		end := min(start+maxBindVars, len(cs.Rows))

		keys := make([]any, 0, end-start)
		for _, row := range cs.Rows[start:end] {
			keys = append(keys, row.Key)
		}

		if err := p.probeExistingKeys(ctx, keys, existing); err != nil {
			return err
		}
	}

	for _, row := range cs.Rows {
		if existing[keyString(row.Key)] {
			cs.Updated++
		} else {
			cs.Inserted++
		}
	}

	return nil
}

// probeExistingKeys marks the keys of one chunk that already exist in
// the target.
func (p *pairRuntime) probeExistingKeys(ctx context.Context, keys []any, existing map[string]bool) error {
	rows, err := p.target.QueryContext(ctx, p.sql.existingKeysChunk(len(keys)), keys...)
	if err != nil {
		return fmt.Errorf("sync: probing target keys for %s: %w", p.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key any
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("sync: scanning target key for %s: %w", p.name, err)
		}

		existing[keyString(key)] = true
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("sync: iterating target keys for %s: %w", p.name, err)
	}

	return nil
}

// keyString canonicalizes a key value for map membership. Keys may scan
// as int64, string, float64, or []byte depending on the column affinity.
func keyString(v any) string {
	switch k := v.(type) {
	case []byte:
		return string(k)
	case string:
		return k
	default:
		return fmt.Sprint(k)
	}
}
