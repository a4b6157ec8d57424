package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yourorg/vibecheck/internal/lifecycle"
	"github.com/yourorg/vibecheck/internal/model"
)

// EnqueueRerun queues a new run for an existing assessment, copying the
// payload of its latest run.
func (s *Store) EnqueueRerun(ctx context.Context, assessmentID string) (model.Run, error) {
	run := model.Run{ID: NewID("run"), AssessmentID: assessmentID, Status: model.RunQueued, CreatedAt: now()}
	err := s.b.inTx(ctx, func(tx execer) error {
		var id string
		err := tx.queryRow(ctx, `SELECT id FROM assessments WHERE id = ?`+s.b.lockClause(false), assessmentID).Scan(&id)
		if s.b.isNoRows(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var active int
		if err := tx.queryRow(ctx, `
SELECT COUNT(*) FROM assessment_runs
WHERE assessment_id = ? AND status IN ('queued', 'running')`, assessmentID).Scan(&active); err != nil {
			return err
		}
		if active > 0 {
			return ErrRunInProgress
		}
		var payload []byte
		err = tx.queryRow(ctx, `
SELECT payload FROM assessment_runs
WHERE assessment_id = ?
ORDER BY created_at DESC
LIMIT 1`, assessmentID).Scan(&payload)
		if s.b.isNoRows(err) {
			payload = []byte("{}")
		} else if err != nil {
			return err
		}
		if err := json.Unmarshal(payload, &run.Payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		_, err = tx.exec(ctx, `
INSERT INTO assessment_runs (id, assessment_id, status, payload, created_at)
VALUES (?, ?, 'queued', ?, ?)`, run.ID, assessmentID, string(payload), run.CreatedAt)
		return err
	})
	return run, err
}

// AcquireNextRun claims the oldest queued run for workerID. Postgres callers
// skip rows locked by other workers. Returns ErrNoQueuedRun when idle.
func (s *Store) AcquireNextRun(ctx context.Context, workerID string) (model.Run, error) {
	var run model.Run
	err := s.b.inTx(ctx, func(tx execer) error {
		var payload []byte
		err := tx.queryRow(ctx, `
SELECT id, assessment_id, payload, created_at
FROM assessment_runs
WHERE status = 'queued'
ORDER BY created_at ASC, id ASC
LIMIT 1`+s.b.lockClause(true)).Scan(&run.ID, &run.AssessmentID, &payload, &run.CreatedAt)
		if s.b.isNoRows(err) {
			return ErrNoQueuedRun
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(payload, &run.Payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		started := now()
		n, err := tx.exec(ctx, `
UPDATE assessment_runs
SET status = 'running', started_at = ?, worker_id = ?
WHERE id = ? AND status = 'queued'`, started, workerID, run.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoQueuedRun
		}
		run.Status = model.RunRunning
		run.StartedAt = &started
		return nil
	})
	return run, err
}

// FinishRun marks a running run done, or failed when errMsg is non-empty.
func (s *Store) FinishRun(ctx context.Context, runID, errMsg string) error {
	status := model.RunDone
	if errMsg != "" {
		status = model.RunFailed
	}
	_, err := s.b.exec(ctx, `
UPDATE assessment_runs
SET status = ?, error = ?, finished_at = ?
WHERE id = ? AND status = 'running'`,
		string(status), nullableString(lifecycle.TruncateMessage(errMsg)), now(), runID)
	return err
}

// RequeueStaleRuns puts back runs that have been running with no event for
// idle. The run's own events are its heartbeat.
func (s *Store) RequeueStaleRuns(ctx context.Context, idle time.Duration) ([]string, error) {
	cutoff := now().Add(-idle)
	var ids []string
	err := s.b.inTx(ctx, func(tx execer) error {
		rows, err := tx.query(ctx, `
SELECT r.id
FROM assessment_runs r
WHERE r.status = 'running'
  AND COALESCE((SELECT MAX(e.ts) FROM assessment_events e WHERE e.run_id = r.id), r.started_at, r.created_at) < ?`,
			cutoff)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.exec(ctx, `
UPDATE assessment_runs
SET status = 'queued', started_at = NULL, worker_id = NULL
WHERE id = ? AND status = 'running'`, id); err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

// BeginRun performs the entry transition for runID. It succeeds from queued or
// a terminal status, or from any status when the assessment already belongs to
// runID (a requeued run restarting). Findings left by an interrupted attempt of
// the same run are discarded.
func (s *Store) BeginRun(ctx context.Context, assessmentID, runID string, to model.Status) error {
	if !lifecycle.IsEntry(to) {
		return fmt.Errorf("%s is not an entry status", to)
	}
	return s.b.inTx(ctx, func(tx execer) error {
		src := statusArgs(lifecycle.EntrySources())
		n, err := tx.exec(ctx, `
UPDATE assessments
SET status = ?, current_run_id = ?, error_type = NULL, error_message = NULL, completed_at = NULL, updated_at = ?
WHERE id = ? AND (status IN (`+placeholders(len(src))+`) OR current_run_id = ?)`,
			append(append([]any{string(to), runID, now(), assessmentID}, src...), runID)...)
		if err != nil {
			return s.classify(err)
		}
		if n == 0 {
			return s.missingOrStale(ctx, tx, assessmentID)
		}
		_, err = tx.exec(ctx, `DELETE FROM findings WHERE run_id = ?`, runID)
		return err
	})
}

// Transition moves the assessment owned by runID to a non-entry,
// non-terminal status.
func (s *Store) Transition(ctx context.Context, assessmentID, runID string, to model.Status) error {
	src := statusArgs(lifecycle.Sources(to))
	if len(src) == 0 {
		return fmt.Errorf("no transition into %s", to)
	}
	n, err := s.b.exec(ctx, `
UPDATE assessments SET status = ?, updated_at = ?
WHERE id = ? AND current_run_id = ? AND status IN (`+placeholders(len(src))+`)`,
		append([]any{string(to), now(), assessmentID, runID}, src...)...)
	if err != nil {
		return s.classify(err)
	}
	if n == 0 {
		return s.missingOrStale(ctx, s.b, assessmentID)
	}
	return nil
}

// MarkFailed records a typed failure for the run that owns the assessment.
// Findings the run already committed (robust agents write as they go) are
// removed and the counts recomputed in the same transaction, so the stored
// total keeps matching the stored rows.
func (s *Store) MarkFailed(ctx context.Context, assessmentID, runID, errType, msg string) error {
	return s.b.inTx(ctx, func(tx execer) error {
		src := statusArgs(lifecycle.Sources(model.StatusFailed))
		n, err := tx.exec(ctx, `
UPDATE assessments
SET status = 'failed', error_type = ?, error_message = ?, updated_at = ?
WHERE id = ? AND current_run_id = ? AND status IN (`+placeholders(len(src))+`)`,
			append([]any{errType, lifecycle.TruncateMessage(msg), now(), assessmentID, runID}, src...)...)
		if err != nil {
			return err
		}
		if n == 0 {
			return s.missingOrStale(ctx, tx, assessmentID)
		}
		if _, err := tx.exec(ctx, `DELETE FROM findings WHERE run_id = ?`, runID); err != nil {
			return err
		}
		counts, err := countBySeverity(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		raw, err := toJSON(counts)
		if err != nil {
			return err
		}
		_, err = tx.exec(ctx, `UPDATE assessments SET finding_counts = ? WHERE id = ?`, raw, assessmentID)
		return err
	})
}

// CompleteRun persists findings for runID, removes findings of earlier runs,
// recounts what is stored and marks the assessment complete, all in one
// transaction. Robust runs pass nil findings since their agents committed
// already. The stored counts are returned.
func (s *Store) CompleteRun(ctx context.Context, assessmentID, runID string, findings []model.Finding) (model.FindingCounts, error) {
	var counts model.FindingCounts
	err := s.b.inTx(ctx, func(tx execer) error {
		if err := insertFindings(ctx, tx, assessmentID, runID, findings); err != nil {
			return s.classify(err)
		}
		if _, err := tx.exec(ctx, `
DELETE FROM findings WHERE assessment_id = ? AND (run_id IS NULL OR run_id <> ?)`, assessmentID, runID); err != nil {
			return err
		}
		var err error
		counts, err = countBySeverity(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		raw, err := toJSON(counts)
		if err != nil {
			return err
		}
		src := statusArgs(lifecycle.Sources(model.StatusComplete))
		ts := now()
		n, err := tx.exec(ctx, `
UPDATE assessments
SET status = 'complete', finding_counts = ?, completed_at = ?, updated_at = ?
WHERE id = ? AND current_run_id = ? AND status IN (`+placeholders(len(src))+`)`,
			append([]any{raw, ts, ts, assessmentID, runID}, src...)...)
		if err != nil {
			return err
		}
		if n == 0 {
			return s.missingOrStale(ctx, tx, assessmentID)
		}
		return nil
	})
	return counts, err
}

func countBySeverity(ctx context.Context, q execer, assessmentID string) (model.FindingCounts, error) {
	rows, err := q.query(ctx, `SELECT severity, COUNT(*) FROM findings WHERE assessment_id = ? GROUP BY severity`, assessmentID)
	if err != nil {
		return model.FindingCounts{}, err
	}
	defer rows.Close()
	grouped := map[string]int{}
	for rows.Next() {
		var (
			sev string
			n   int
		)
		if err := rows.Scan(&sev, &n); err != nil {
			return model.FindingCounts{}, err
		}
		grouped[sev] = n
	}
	return model.CountsFrom(grouped), rows.Err()
}

func (s *Store) missingOrStale(ctx context.Context, q execer, assessmentID string) error {
	var id string
	err := q.queryRow(ctx, `SELECT id FROM assessments WHERE id = ?`, assessmentID).Scan(&id)
	if s.b.isNoRows(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStaleTransition
}

func statusArgs(ss []model.Status) []any {
	out := make([]any, len(ss))
	for i, st := range ss {
		out[i] = string(st)
	}
	return out
}

// LatestRun returns the most recently created run of an assessment.
func (s *Store) LatestRun(ctx context.Context, assessmentID string) (model.Run, error) {
	var (
		run            model.Run
		status, errMsg string
	)
	err := s.b.queryRow(ctx, `
SELECT id, assessment_id, status, COALESCE(error, ''), created_at, started_at, finished_at
FROM assessment_runs
WHERE assessment_id = ?
ORDER BY created_at DESC
LIMIT 1`, assessmentID).Scan(&run.ID, &run.AssessmentID, &status, &errMsg, &run.CreatedAt, &run.StartedAt, &run.FinishedAt)
	if s.b.isNoRows(err) {
		return run, ErrNotFound
	}
	run.Status = model.RunStatus(status)
	run.Error = strings.TrimSpace(errMsg)
	return run, err
}
