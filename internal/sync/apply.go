package sync

import (
	"context"
	"fmt"
	"log/slog"
)

// Apply writes the entire change set to the target in one transaction
// using chunked multi-row upserts: rows insert when their key is absent
// and overwrite the payload and watermark columns when it exists. Any
// error rolls the whole transaction back, leaving the target exactly as
// it was. Apply never deletes target rows.
//
// The returned count is the rows affected as reported by the database
// and is the authoritative rows_processed figure for the run record.
func (p *pairRuntime) Apply(ctx context.Context, cs *ChangeSet) (int64, error) {
	if cs.Empty() {
		return 0, nil
	}

	tx, err := p.target.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sync: beginning apply transaction for %s: %w", p.name, err)
	}
	defer tx.Rollback()

	chunkRows := p.sql.maxRowsPerChunk()

	var affected int64

	for start := 0; start < len(cs.Rows); start += chunkRows {
		end := min(start+chunkRows, len(cs.Rows))
		chunk := cs.Rows[start:end]

		args := make([]any, 0, len(chunk)*p.sql.rowWidth)
		for _, row := range chunk {
			args = append(args, row.Key)
			args = append(args, row.Payload...)
			args = append(args, row.Watermark)
		}

		result, err := tx.ExecContext(ctx, p.sql.upsertChunk(len(chunk)), args...)
		if err != nil {
			return 0, fmt.Errorf("sync: applying rows %d-%d for %s: %w", start, end-1, p.name, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("sync: apply rows affected for %s: %w", p.name, err)
		}

		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sync: committing apply for %s: %w", p.name, err)
	}

	p.logger.Debug("changes applied",
		slog.String("table", p.name),
		slog.Int64("rows_affected", affected),
	)

	return affected, nil
}
