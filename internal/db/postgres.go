package db

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgExecer struct{ q pgQuerier }

func (e pgExecer) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := e.q.Exec(ctx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (e pgExecer) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return e.q.QueryRow(ctx, rebind(query), args...)
}

func (e pgExecer) query(ctx context.Context, query string, args ...any) (rowsIter, error) {
	return e.q.Query(ctx, rebind(query), args...)
}

type pgBackend struct {
	pgExecer
	pool *pgxpool.Pool
	log  *slog.Logger
}

func openPostgres(ctx context.Context, url string, log *slog.Logger) (*pgBackend, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &pgBackend{pgExecer: pgExecer{q: p}, pool: p, log: log}, nil
}

func (b *pgBackend) inTx(ctx context.Context, fn func(execer) error) error {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(pgExecer{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (b *pgBackend) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.pool.Ping(ctx)
}

func (b *pgBackend) close() { b.pool.Close() }

func (b *pgBackend) lockClause(skipLocked bool) string {
	if skipLocked {
		return " FOR UPDATE SKIP LOCKED"
	}
	return " FOR UPDATE"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (b *pgBackend) isUnique(err error) bool { return pgCode(err) == "23505" }
func (b *pgBackend) isCheck(err error) bool  { return pgCode(err) == "23514" }

func (b *pgBackend) isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// ensureSchema tolerates a role without DDL rights (42501) when the tables
// were provisioned by a migration user.
func (b *pgBackend) ensureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, pgSchema)
	if pgCode(err) == "42501" {
		b.log.Warn("schema: insufficient privilege, assuming tables exist", "err", err)
		return nil
	}
	return err
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  mode TEXT NOT NULL CHECK (mode IN ('lightweight','robust')),
  status TEXT NOT NULL CHECK (status IN ('queued','cloning','analyzing','scanning','complete','failed')),
  repo_url TEXT,
  target_url TEXT,
  agents JSONB NOT NULL DEFAULT '[]'::jsonb,
  depth TEXT,
  finding_counts JSONB NOT NULL DEFAULT '{}'::jsonb,
  error_type TEXT,
  error_message TEXT,
  idempotency_key TEXT UNIQUE,
  request_hash TEXT,
  current_run_id TEXT,
  report_key TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments (created_at);
CREATE INDEX IF NOT EXISTS idx_assessments_mode_status ON assessments (mode, status);

CREATE TABLE IF NOT EXISTS assessment_runs (
  id TEXT PRIMARY KEY,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  status TEXT NOT NULL CHECK (status IN ('queued','running','done','failed')),
  payload JSONB NOT NULL DEFAULT '{}'::jsonb,
  worker_id TEXT,
  error TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  started_at TIMESTAMPTZ,
  finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_assessment_runs_status_created ON assessment_runs (status, created_at);
CREATE INDEX IF NOT EXISTS idx_assessment_runs_assessment ON assessment_runs (assessment_id, created_at);

CREATE TABLE IF NOT EXISTS findings (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  run_id TEXT,
  severity TEXT NOT NULL CHECK (severity IN ('critical','high','medium','low','info')),
  category TEXT NOT NULL,
  title TEXT NOT NULL CHECK (title <> ''),
  description TEXT NOT NULL,
  remediation TEXT NOT NULL,
  location JSONB,
  evidence JSONB,
  agent TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_findings_assessment_severity ON findings (assessment_id, severity);
CREATE INDEX IF NOT EXISTS idx_findings_category_created ON findings (category, created_at);

CREATE TABLE IF NOT EXISTS assessment_events (
  id BIGSERIAL PRIMARY KEY,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  run_id TEXT,
  ts TIMESTAMPTZ NOT NULL DEFAULT now(),
  stage TEXT NOT NULL,
  detail TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessment_events_assessment ON assessment_events (assessment_id, id);
CREATE INDEX IF NOT EXISTS idx_assessment_events_run_ts ON assessment_events (run_id, ts);
`
