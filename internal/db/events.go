package db

import (
	"context"

	"github.com/yourorg/vibecheck/internal/model"
)

// InsertEvent appends a run event. Events also serve as the run heartbeat
// for RequeueStaleRuns.
func (s *Store) InsertEvent(ctx context.Context, assessmentID, runID, stage, detail string) error {
	_, err := s.b.exec(ctx, `
INSERT INTO assessment_events (assessment_id, run_id, ts, stage, detail)
VALUES (?, ?, ?, ?, ?)`, assessmentID, nullableString(runID), now(), stage, detail)
	return err
}

func (s *Store) ListEvents(ctx context.Context, assessmentID string, limit int) ([]model.Event, error) {
	rows, err := s.b.query(ctx, `
SELECT id, assessment_id, COALESCE(run_id, ''), stage, detail, ts
FROM assessment_events
WHERE assessment_id = ?
ORDER BY id ASC
LIMIT ?`, assessmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.AssessmentID, &e.RunID, &e.Stage, &e.Detail, &e.TS); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
