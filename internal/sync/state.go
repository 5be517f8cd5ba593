package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Named constants for pragma values (mnd linter).
const walJournalSizeLimit = 67108864 // 64 MiB WAL journal size limit

// AuditStore persists the sync_runs audit trail in an embedded SQLite
// database with WAL mode. It is the only writer to that database; run
// rows are inserted once, moved to a terminal state once, and never
// deleted.
type AuditStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests

	// Prepared statements for the per-cycle hot path.
	runStmts runStatements
}

// runStatements groups the statements executed on every cycle.
type runStatements struct {
	open, closeSuccess, closeFailed, lastWatermark *sql.Stmt
}

// NewAuditStore opens the audit database at dbPath, applies migrations,
// and prepares the run lifecycle statements. Use ":memory:" for tests.
func NewAuditStore(dbPath string, logger *slog.Logger) (*AuditStore, error) {
	logger.Info("opening audit database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sync: opening audit database: %w", err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &AuditStore{db: db, logger: logger, nowFunc: time.Now}

	if err := s.prepareRunStmts(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync: preparing statements: %w", err)
	}

	logger.Info("audit database ready", slog.String("path", dbPath))

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{"PRAGMA busy_timeout = 5000", "busy timeout"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("sync: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

// stmtDef maps a SQL string to the prepared statement pointer it should
// populate. Used by the generic prepare helper to eliminate repetitive
// error handling.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *AuditStore) prepareRunStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.runStmts.open, sqlOpenRun, "openRun"},
		{&s.runStmts.closeSuccess, sqlCloseRunSuccess, "closeRunSuccess"},
		{&s.runStmts.closeFailed, sqlCloseRunFailed, "closeRunFailed"},
		{&s.runStmts.lastWatermark, sqlLastWatermark, "lastWatermark"},
	})
}

// Checkpoint forces a WAL checkpoint, truncating the log file. Called on
// shutdown so the audit trail lives in the main database file.
func (s *AuditStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("sync: wal checkpoint: %w", err)
	}

	return nil
}

// Close releases the prepared statements and the database connection.
func (s *AuditStore) Close() error {
	s.logger.Info("closing audit database")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", slog.String("error", err.Error()))
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sync: closing audit database: %w", err)
	}

	return nil
}

// closeStatements closes all prepared statements, collecting errors.
func (s *AuditStore) closeStatements() error {
	stmts := []*sql.Stmt{
		s.runStmts.open, s.runStmts.closeSuccess,
		s.runStmts.closeFailed, s.runStmts.lastWatermark,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("closing statements: %v", errs)
	}

	return nil
}
