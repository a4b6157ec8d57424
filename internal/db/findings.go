package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yourorg/vibecheck/internal/model"
)

const findingColumns = `id, assessment_id, COALESCE(run_id, ''), severity, category, title, description,
  remediation, location, evidence, COALESCE(agent, ''), created_at`

// severityRank orders critical first; unknown values cannot be stored.
const severityRank = `CASE severity WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END`

// sortable maps API sort keys onto columns; anything else is rejected.
var sortable = map[string]string{
	"created_at": "created_at",
	"severity":   severityRank,
	"category":   "category",
	"title":      "title",
	"agent":      "agent",
}

// ValidFindingSort reports whether sort names an allowed column, optionally
// prefixed with "-" for descending order.
func ValidFindingSort(sort string) bool {
	if sort == "" {
		return true
	}
	_, ok := sortable[strings.TrimPrefix(sort, "-")]
	return ok
}

type FindingQuery struct {
	Severity model.Severity
	Category string
	Agent    string
	// Q is a case-insensitive substring over title and description.
	Q       string
	Sort    string
	Page    int
	PerPage int
}

func scanFinding(row rowScanner) (model.Finding, error) {
	var (
		f             model.Finding
		sev           string
		loc, evidence []byte
	)
	err := row.Scan(&f.ID, &f.AssessmentID, &f.RunID, &sev, &f.Category, &f.Title, &f.Description,
		&f.Remediation, &loc, &evidence, &f.Agent, &f.CreatedAt)
	if err != nil {
		return f, err
	}
	f.Severity = model.Severity(sev)
	if len(loc) > 0 && string(loc) != "null" {
		f.Location = &model.Location{}
		if err := json.Unmarshal(loc, f.Location); err != nil {
			return f, fmt.Errorf("decode location: %w", err)
		}
	}
	if len(evidence) > 0 && string(evidence) != "null" {
		if err := json.Unmarshal(evidence, &f.Evidence); err != nil {
			return f, fmt.Errorf("decode evidence: %w", err)
		}
	}
	return f, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListFindings returns one page of an assessment's findings and the total
// matching count. The default order is severity rank, then creation.
func (s *Store) ListFindings(ctx context.Context, assessmentID string, q FindingQuery) ([]model.Finding, int, error) {
	if !ValidFindingSort(q.Sort) {
		return nil, 0, fmt.Errorf("invalid sort %q", q.Sort)
	}
	where := []string{"assessment_id = ?"}
	args := []any{assessmentID}
	if q.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(q.Severity))
	}
	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, q.Category)
	}
	if q.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, q.Agent)
	}
	if q.Q != "" {
		pat := "%" + escapeLike(strings.ToLower(q.Q)) + "%"
		where = append(where, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`)
		args = append(args, pat, pat)
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.b.queryRow(ctx, `SELECT COUNT(*) FROM findings`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := severityRank + " ASC, created_at ASC, seq ASC"
	if q.Sort != "" {
		dir := "ASC"
		key := q.Sort
		if rest, ok := strings.CutPrefix(key, "-"); ok {
			dir, key = "DESC", rest
		}
		order = sortable[key] + " " + dir + ", seq " + dir
	}
	limit, offset := pageBounds(q.Page, q.PerPage)
	rows, err := s.b.query(ctx, `SELECT `+findingColumns+` FROM findings`+clause+
		` ORDER BY `+order+` LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out, err := collectFindings(rows)
	return out, total, err
}

func collectFindings(rows rowsIter) ([]model.Finding, error) {
	var out []model.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AllFindings returns every finding of an assessment in default order.
func (s *Store) AllFindings(ctx context.Context, assessmentID string) ([]model.Finding, error) {
	rows, err := s.b.query(ctx, `SELECT `+findingColumns+` FROM findings WHERE assessment_id = ?
ORDER BY `+severityRank+` ASC, created_at ASC, seq ASC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFindings(rows)
}

func (s *Store) GetFinding(ctx context.Context, assessmentID, findingID string) (model.Finding, error) {
	f, err := scanFinding(s.b.queryRow(ctx, `SELECT `+findingColumns+` FROM findings
WHERE assessment_id = ? AND id = ?`, assessmentID, findingID))
	if s.b.isNoRows(err) {
		return model.Finding{}, ErrNotFound
	}
	return f, err
}

// RecentByCategory returns the newest findings sharing category, across all
// assessments, excluding excludeID.
func (s *Store) RecentByCategory(ctx context.Context, category, excludeID string, limit int) ([]model.Finding, error) {
	rows, err := s.b.query(ctx, `SELECT `+findingColumns+` FROM findings
WHERE category = ? AND id <> ?
ORDER BY created_at DESC, seq DESC
LIMIT ?`, category, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFindings(rows)
}

func (s *Store) CountFindings(ctx context.Context, assessmentID string) (int, error) {
	var n int
	err := s.b.queryRow(ctx, `SELECT COUNT(*) FROM findings WHERE assessment_id = ?`, assessmentID).Scan(&n)
	return n, err
}

// InsertFindings commits a batch in one transaction: either every row lands or
// none does. Robust agents use it to commit their sink on success.
func (s *Store) InsertFindings(ctx context.Context, assessmentID, runID string, findings []model.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	return s.b.inTx(ctx, func(tx execer) error {
		return s.classify(insertFindings(ctx, tx, assessmentID, runID, findings))
	})
}

const findingBatchSize = 100

// insertFindings writes multi-row INSERTs of up to findingBatchSize rows.
// created_at steps by a microsecond per row, the Postgres resolution, so
// creation order survives within a batch.
func insertFindings(ctx context.Context, q execer, assessmentID, runID string, findings []model.Finding) error {
	base := now()
	for start := 0; start < len(findings); start += findingBatchSize {
		end := min(start+findingBatchSize, len(findings))
		var (
			sb   strings.Builder
			args []any
		)
		sb.WriteString(`INSERT INTO findings (id, assessment_id, run_id, severity, category, title, description,
  remediation, location, evidence, agent, created_at) VALUES `)
		for i, f := range findings[start:end] {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(" + placeholders(12) + ")")
			id := f.ID
			if id == "" {
				id = NewID("fnd")
			}
			var loc any
			if f.Location != nil {
				l, err := nullableJSON(f.Location)
				if err != nil {
					return err
				}
				loc = l
			}
			ev, err := nullableJSON(f.Evidence)
			if err != nil {
				return err
			}
			args = append(args, id, assessmentID, nullableString(runID), string(f.Severity), f.Category,
				f.Title, f.Description, f.Remediation, loc, ev, nullableString(f.Agent),
				base.Add(timeStep(start+i)))
		}
		if _, err := q.exec(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("insert findings: %w", err)
		}
	}
	return nil
}

func timeStep(i int) time.Duration { return time.Duration(i) * time.Microsecond }
