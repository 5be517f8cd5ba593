package sync

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rowmark/rowmark/internal/config"
)

// ValidateSchemas checks that the source and target tables carry the
// columns the pair declaration names, and that the target's key column
// is its primary key (the upsert conflict target). It runs before a run
// record is opened: declaration problems fail fast and are never
// recorded as cycle failures.
func (p *pairRuntime) ValidateSchemas(ctx context.Context) error {
	sourceCols, err := tableColumns(ctx, p.source, p.spec.SourceTable)
	if err != nil {
		return fmt.Errorf("sync: table %s: %w", p.name, err)
	}

	if len(sourceCols) == 0 {
		return fmt.Errorf("sync: table %s: source table %q not found in %s",
			p.name, p.spec.SourceTable, p.spec.SourceDB)
	}

	if err := requireColumns(sourceCols, p.spec, "source table "+p.spec.SourceTable); err != nil {
		return fmt.Errorf("sync: table %s: %w", p.name, err)
	}

	targetCols, err := tableColumns(ctx, p.target, p.spec.TargetTable)
	if err != nil {
		return fmt.Errorf("sync: table %s: %w", p.name, err)
	}

	if len(targetCols) == 0 {
		return fmt.Errorf("sync: table %s: target table %q not found in %s (create it with 'rowmark init')",
			p.name, p.spec.TargetTable, p.spec.TargetDB)
	}

	if err := requireColumns(targetCols, p.spec, "target table "+p.spec.TargetTable); err != nil {
		return fmt.Errorf("sync: table %s: %w", p.name, err)
	}

	// The upsert's ON CONFLICT clause needs a uniqueness guarantee on
	// exactly the key column, so the target's primary key must be that
	// column alone.
	for name, pk := range targetCols {
		if pk > 0 && name != p.spec.KeyColumn {
			return fmt.Errorf("sync: table %s: target table %q primary key includes %q, expected %q alone",
				p.name, p.spec.TargetTable, name, p.spec.KeyColumn)
		}
	}

	if targetCols[p.spec.KeyColumn] != 1 {
		return fmt.Errorf("sync: table %s: key column %q must be the primary key of target table %q",
			p.name, p.spec.KeyColumn, p.spec.TargetTable)
	}

	return nil
}

// CreateTarget creates the target table for this pair if it does not
// exist: the key column as primary key, then the payload and watermark
// columns. Existing tables are left untouched.
func (p *pairRuntime) CreateTarget(ctx context.Context) error {
	if _, err := p.target.ExecContext(ctx, p.sql.createTarget); err != nil {
		return fmt.Errorf("sync: creating target table for %s: %w", p.name, err)
	}

	p.logger.Info("target table ready",
		"table", p.name,
		"target_table", p.spec.TargetTable,
	)

	return nil
}

// tableColumns returns the column names of a table mapped to their
// primary key rank (0 = not part of the primary key). An unknown table
// yields an empty map: pragma_table_info returns no rows rather than an
// error.
func tableColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, pk FROM pragma_table_info(?)`, tableName)
	if err != nil {
		return nil, fmt.Errorf("reading schema of %q: %w", tableName, err)
	}
	defer rows.Close()

	cols := make(map[string]int)

	for rows.Next() {
		var (
			name string
			pk   int
		)

		if err := rows.Scan(&name, &pk); err != nil {
			return nil, fmt.Errorf("scanning schema of %q: %w", tableName, err)
		}

		cols[name] = pk
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading schema of %q: %w", tableName, err)
	}

	return cols, nil
}

// requireColumns verifies the key, watermark, and payload columns all
// exist in the given column set.
func requireColumns(cols map[string]int, spec config.Table, where string) error {
	needed := append([]string{spec.KeyColumn, spec.WatermarkColumn}, spec.PayloadColumns...)

	for _, col := range needed {
		if _, ok := cols[col]; !ok {
			return fmt.Errorf("%s is missing column %q", where, col)
		}
	}

	return nil
}
