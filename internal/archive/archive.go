// Package archive snapshots completed assessments into object storage. The
// SQL row keeps the counts; the full report lives under reports/<id>.json.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/yourorg/vibecheck/internal/logging"
	"github.com/yourorg/vibecheck/internal/model"
)

var ErrNotArchived = errors.New("archive: assessment has no report")

type Objects interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type Source interface {
	GetAssessment(ctx context.Context, id string) (model.Assessment, error)
	AllFindings(ctx context.Context, assessmentID string) ([]model.Finding, error)
	SetReportKey(ctx context.Context, id, key string) error
}

type Archiver struct {
	objects Objects
	src     Source
	log     *slog.Logger
	now     func() time.Time
}

func New(objects Objects, src Source) *Archiver {
	return &Archiver{objects: objects, src: src, log: logging.New("archive"), now: time.Now}
}

func Key(assessmentID string) string { return fmt.Sprintf("reports/%s.json", assessmentID) }

// Archive uploads the report of a complete assessment and records its key.
func (a *Archiver) Archive(ctx context.Context, assessmentID string) (string, error) {
	asm, err := a.src.GetAssessment(ctx, assessmentID)
	if err != nil {
		return "", err
	}
	if asm.Status != model.StatusComplete {
		return "", fmt.Errorf("assessment %s is %s, not complete", assessmentID, asm.Status)
	}
	findings, err := a.src.AllFindings(ctx, assessmentID)
	if err != nil {
		return "", err
	}
	if findings == nil {
		findings = []model.Finding{}
	}
	key := Key(assessmentID)
	asm.ReportKey = key
	body, err := json.Marshal(model.Report{Assessment: asm, Findings: findings, GeneratedAt: a.now().UTC()})
	if err != nil {
		return "", err
	}
	if err := a.objects.PutObject(ctx, key, body, "application/json"); err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	if err := a.src.SetReportKey(ctx, assessmentID, key); err != nil {
		return "", err
	}
	a.log.Info("report archived", "assessment_id", assessmentID, "key", key, "findings", len(findings))
	return key, nil
}

// Load fetches an archived report.
func (a *Archiver) Load(ctx context.Context, assessmentID string) (model.Report, error) {
	var r model.Report
	asm, err := a.src.GetAssessment(ctx, assessmentID)
	if err != nil {
		return r, err
	}
	if asm.ReportKey == "" {
		return r, ErrNotArchived
	}
	raw, err := a.objects.GetObject(ctx, asm.ReportKey)
	if errors.Is(err, fs.ErrNotExist) {
		a.log.Warn("report object missing", "assessment_id", assessmentID, "key", asm.ReportKey)
		return r, ErrNotArchived
	}
	if err != nil {
		return r, fmt.Errorf("download report: %w", err)
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}
