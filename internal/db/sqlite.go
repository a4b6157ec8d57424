package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqlRows struct{ *sql.Rows }

func (r sqlRows) Close() { _ = r.Rows.Close() }

type sqlExecer struct{ q sqlQuerier }

func (e sqlExecer) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (e sqlExecer) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return e.q.QueryRowContext(ctx, query, args...)
}

func (e sqlExecer) query(ctx context.Context, query string, args ...any) (rowsIter, error) {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

// sqliteBackend serializes access through one connection; SQLite allows a
// single writer anyway and this keeps transactions free of SQLITE_BUSY.
type sqliteBackend struct {
	sqlExecer
	db *sql.DB
}

func openSQLite(path string) (*sqliteBackend, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	d.SetMaxOpenConns(1)
	return &sqliteBackend{sqlExecer: sqlExecer{q: d}, db: d}, nil
}

func (b *sqliteBackend) inTx(ctx context.Context, fn func(execer) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(sqlExecer{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *sqliteBackend) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.db.PingContext(ctx)
}

func (b *sqliteBackend) close() { _ = b.db.Close() }

func (b *sqliteBackend) lockClause(bool) string { return "" }

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}

// constraintIs matches an extended result code, or the primary
// SQLITE_CONSTRAINT code plus its message when extended codes are off.
func constraintIs(err error, ext int, msg string) bool {
	switch sqliteCode(err) {
	case ext:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(err.Error(), msg)
	}
	return false
}

func (b *sqliteBackend) isUnique(err error) bool {
	return constraintIs(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, "UNIQUE constraint failed")
}

func (b *sqliteBackend) isCheck(err error) bool {
	return constraintIs(err, sqlite3.SQLITE_CONSTRAINT_CHECK, "CHECK constraint failed")
}

func (b *sqliteBackend) isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

func (b *sqliteBackend) ensureSchema(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, sqliteSchema)
	return err
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  mode TEXT NOT NULL CHECK (mode IN ('lightweight','robust')),
  status TEXT NOT NULL CHECK (status IN ('queued','cloning','analyzing','scanning','complete','failed')),
  repo_url TEXT,
  target_url TEXT,
  agents TEXT NOT NULL DEFAULT '[]',
  depth TEXT,
  finding_counts TEXT NOT NULL DEFAULT '{}',
  error_type TEXT,
  error_message TEXT,
  idempotency_key TEXT UNIQUE,
  request_hash TEXT,
  current_run_id TEXT,
  report_key TEXT,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL,
  completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments (created_at);
CREATE INDEX IF NOT EXISTS idx_assessments_mode_status ON assessments (mode, status);

CREATE TABLE IF NOT EXISTS assessment_runs (
  id TEXT PRIMARY KEY,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  status TEXT NOT NULL CHECK (status IN ('queued','running','done','failed')),
  payload TEXT NOT NULL DEFAULT '{}',
  worker_id TEXT,
  error TEXT,
  created_at TIMESTAMP NOT NULL,
  started_at TIMESTAMP,
  finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_assessment_runs_status_created ON assessment_runs (status, created_at);
CREATE INDEX IF NOT EXISTS idx_assessment_runs_assessment ON assessment_runs (assessment_id, created_at);

CREATE TABLE IF NOT EXISTS findings (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  run_id TEXT,
  severity TEXT NOT NULL CHECK (severity IN ('critical','high','medium','low','info')),
  category TEXT NOT NULL,
  title TEXT NOT NULL CHECK (title <> ''),
  description TEXT NOT NULL,
  remediation TEXT NOT NULL,
  location TEXT,
  evidence TEXT,
  agent TEXT,
  created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_findings_assessment_severity ON findings (assessment_id, severity);
CREATE INDEX IF NOT EXISTS idx_findings_category_created ON findings (category, created_at);

CREATE TABLE IF NOT EXISTS assessment_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  run_id TEXT,
  ts TIMESTAMP NOT NULL,
  stage TEXT NOT NULL,
  detail TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessment_events_assessment ON assessment_events (assessment_id, id);
CREATE INDEX IF NOT EXISTS idx_assessment_events_run_ts ON assessment_events (run_id, ts);
`
