package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/vibecheck/internal/model"
)

const assessmentColumns = `id, mode, status, COALESCE(repo_url, ''), COALESCE(target_url, ''), agents,
  COALESCE(depth, ''), finding_counts, COALESCE(error_type, ''), COALESCE(error_message, ''),
  COALESCE(idempotency_key, ''), COALESCE(current_run_id, ''), COALESCE(report_key, ''),
  created_at, updated_at, completed_at`

func scanAssessment(row rowScanner) (model.Assessment, error) {
	var (
		a              model.Assessment
		mode, status   string
		agents, counts []byte
	)
	err := row.Scan(&a.ID, &mode, &status, &a.RepoURL, &a.TargetURL, &agents, &a.Depth, &counts,
		&a.ErrorType, &a.ErrorMessage, &a.IdempotencyKey, &a.CurrentRunID, &a.ReportKey,
		&a.CreatedAt, &a.UpdatedAt, &a.CompletedAt)
	if err != nil {
		return a, err
	}
	a.Mode = model.Mode(mode)
	a.Status = model.Status(status)
	if len(agents) > 0 {
		if err := json.Unmarshal(agents, &a.Agents); err != nil {
			return a, fmt.Errorf("decode agents: %w", err)
		}
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &a.FindingCounts); err != nil {
			return a, fmt.Errorf("decode finding_counts: %w", err)
		}
	}
	return a, nil
}

// NewAssessment is a creation request after validation.
type NewAssessment struct {
	Mode           model.Mode
	RepoURL        string
	TargetURL      string
	Agents         []string
	Depth          string
	IdempotencyKey string
	// RequestHash fingerprints the request for idempotency comparison.
	RequestHash string
	Payload     model.RunPayload
}

// CreateAssessment inserts a queued assessment and its first queued run in one
// transaction. A repeated idempotency key with the same mode and request hash
// returns the existing assessment with created=false.
func (s *Store) CreateAssessment(ctx context.Context, in NewAssessment) (model.Assessment, bool, error) {
	if in.IdempotencyKey != "" {
		a, err := s.lookupIdempotent(ctx, s.b, in)
		if err == nil {
			return a, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.Assessment{}, false, err
		}
	}

	agents, err := toJSON(nonNil(in.Agents))
	if err != nil {
		return model.Assessment{}, false, err
	}
	counts, err := toJSON(model.FindingCounts{})
	if err != nil {
		return model.Assessment{}, false, err
	}
	payload, err := toJSON(in.Payload)
	if err != nil {
		return model.Assessment{}, false, err
	}

	id := NewID("asm")
	ts := now()
	err = s.b.inTx(ctx, func(tx execer) error {
		if _, err := tx.exec(ctx, `
INSERT INTO assessments (id, mode, status, repo_url, target_url, agents, depth, finding_counts,
  idempotency_key, request_hash, created_at, updated_at)
VALUES (?, ?, 'queued', ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, string(in.Mode), nullableString(in.RepoURL), nullableString(in.TargetURL), agents,
			nullableString(in.Depth), counts, nullableString(in.IdempotencyKey), nullableString(in.RequestHash),
			ts, ts); err != nil {
			return err
		}
		_, err := tx.exec(ctx, `
INSERT INTO assessment_runs (id, assessment_id, status, payload, created_at)
VALUES (?, ?, 'queued', ?, ?)`, NewID("run"), id, payload, ts)
		return err
	})
	if err != nil {
		// Lost a race on the idempotency key: resolve against the winner.
		if in.IdempotencyKey != "" && s.b.isUnique(err) {
			a, lerr := s.lookupIdempotent(ctx, s.b, in)
			if lerr == nil {
				return a, false, nil
			}
			return model.Assessment{}, false, lerr
		}
		return model.Assessment{}, false, s.classify(err)
	}
	a, err := s.GetAssessment(ctx, id)
	return a, true, err
}

func (s *Store) lookupIdempotent(ctx context.Context, q execer, in NewAssessment) (model.Assessment, error) {
	a, err := scanAssessment(q.queryRow(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE idempotency_key = ?`, in.IdempotencyKey))
	if s.b.isNoRows(err) {
		return model.Assessment{}, ErrNotFound
	}
	if err != nil {
		return model.Assessment{}, err
	}
	var hash string
	if err := q.queryRow(ctx, `SELECT COALESCE(request_hash, '') FROM assessments WHERE id = ?`, a.ID).Scan(&hash); err != nil {
		return model.Assessment{}, err
	}
	if a.Mode != in.Mode || hash != in.RequestHash {
		return model.Assessment{}, ErrIdempotencyConflict
	}
	return a, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *Store) GetAssessment(ctx context.Context, id string) (model.Assessment, error) {
	a, err := scanAssessment(s.b.queryRow(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id))
	if s.b.isNoRows(err) {
		return model.Assessment{}, ErrNotFound
	}
	return a, err
}

type AssessmentQuery struct {
	Mode    model.Mode
	Status  model.Status
	Desc    bool
	Page    int
	PerPage int
}

// ListAssessments returns one page ordered by created_at and the total
// matching count.
func (s *Store) ListAssessments(ctx context.Context, q AssessmentQuery) ([]model.Assessment, int, error) {
	var (
		where []string
		args  []any
	)
	if q.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, string(q.Mode))
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.b.queryRow(ctx, `SELECT COUNT(*) FROM assessments`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	limit, offset := pageBounds(q.Page, q.PerPage)
	rows, err := s.b.query(ctx, `SELECT `+assessmentColumns+` FROM assessments`+clause+
		` ORDER BY created_at `+dir+`, id `+dir+` LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// DeleteAssessment removes the assessment; runs, findings and events go with
// it through ON DELETE CASCADE.
func (s *Store) DeleteAssessment(ctx context.Context, id string) error {
	n, err := s.b.exec(ctx, `DELETE FROM assessments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetReportKey(ctx context.Context, id, key string) error {
	n, err := s.b.exec(ctx, `UPDATE assessments SET report_key = ?, updated_at = ? WHERE id = ?`, key, now(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListArchiveCandidates returns complete assessments without an archived
// report, oldest completion first.
func (s *Store) ListArchiveCandidates(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.b.query(ctx, `
SELECT id FROM assessments
WHERE status = 'complete' AND COALESCE(report_key, '') = ''
ORDER BY completed_at ASC, id ASC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func pageBounds(page, perPage int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	return perPage, (page - 1) * perPage
}
