package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rowmark/rowmark/internal/config"
)

// pairRuntime binds one configured table pair to its open database
// handles and generated SQL. The source handle is read-only; the target
// handle is the only writer to the target table during a cycle.
type pairRuntime struct {
	name   string
	spec   config.Table
	source *sql.DB
	target *sql.DB
	sql    pairSQL
	logger *slog.Logger
}

// openPair opens the source and target databases for a pair declaration.
func openPair(name string, spec config.Table, logger *slog.Logger) (*pairRuntime, error) {
	source, err := openSourceDB(spec.SourceDB)
	if err != nil {
		return nil, fmt.Errorf("sync: table %s: %w", name, err)
	}

	target, err := openTargetDB(spec.TargetDB)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("sync: table %s: %w", name, err)
	}

	logger.Debug("pair opened",
		slog.String("table", name),
		slog.String("source_db", spec.SourceDB),
		slog.String("target_db", spec.TargetDB),
	)

	return &pairRuntime{
		name:   name,
		spec:   spec,
		source: source,
		target: target,
		sql:    buildPairSQL(&spec),
		logger: logger,
	}, nil
}

// openSourceDB opens a source database read-only. Replication never
// writes to a source; mode=ro makes that a database-level guarantee.
func openSourceDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening source database %s: %w", path, err)
	}

	return db, nil
}

// openTargetDB opens a target database for writing.
func openTargetDB(path string) (*sql.DB, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)&_pragma=journal_size_limit(67108864)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening target database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	return db, nil
}

// Close closes both database handles.
func (p *pairRuntime) Close() error {
	return errors.Join(p.source.Close(), p.target.Close())
}
