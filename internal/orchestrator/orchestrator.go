// Package orchestrator drives one run of an assessment through the state
// machine: acquire input, fan out to scanners or agents, merge, persist and
// roll up counts. Every failure after the run has started is recorded on the
// assessment; nothing is raised to the original caller.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/db"
	"github.com/yourorg/vibecheck/internal/logging"
	"github.com/yourorg/vibecheck/internal/memory"
	"github.com/yourorg/vibecheck/internal/model"
	"github.com/yourorg/vibecheck/internal/probe"
	"github.com/yourorg/vibecheck/internal/retry"
	"github.com/yourorg/vibecheck/internal/scanner"
)

// Store is the slice of db.Store a run needs.
type Store interface {
	BeginRun(ctx context.Context, assessmentID, runID string, to model.Status) error
	Transition(ctx context.Context, assessmentID, runID string, to model.Status) error
	MarkFailed(ctx context.Context, assessmentID, runID, errType, msg string) error
	CompleteRun(ctx context.Context, assessmentID, runID string, findings []model.Finding) (model.FindingCounts, error)
	InsertFindings(ctx context.Context, assessmentID, runID string, findings []model.Finding) error
	InsertEvent(ctx context.Context, assessmentID, runID, stage, detail string) error
}

type Fetcher interface {
	Fetch(ctx context.Context, repoURL, assessmentID string, exclude []string) ([]model.File, error)
	Cleanup(assessmentID string) error
}

type Ingester interface {
	IngestFinding(ctx context.Context, scope memory.Scope, f model.Finding) error
}

type Archiver interface {
	Archive(ctx context.Context, assessmentID string) (string, error)
}

type Options struct {
	Fetcher Fetcher
	// Scanners run in this order; their outputs merge in this order.
	Scanners []scanner.Scanner
	Prober   probe.Requester
	// Memory and Archiver are optional side work after completion.
	Memory   Ingester
	Archiver Archiver
}

type Orchestrator struct {
	store    Store
	fetcher  Fetcher
	scanners []scanner.Scanner
	prober   probe.Requester
	memory   Ingester
	archiver Archiver
	log      *slog.Logger

	side sync.WaitGroup
}

func New(store Store, opts Options) *Orchestrator {
	scanners := opts.Scanners
	if scanners == nil {
		scanners = scanner.Static()
	}
	return &Orchestrator{
		store:    store,
		fetcher:  opts.Fetcher,
		scanners: scanners,
		prober:   opts.Prober,
		memory:   opts.Memory,
		archiver: opts.Archiver,
		log:      logging.New("orchestrator"),
	}
}

// Run executes run against asm. A non-nil error means the run did not reach
// complete; when the run owned the assessment the failure is already stored.
func (o *Orchestrator) Run(ctx context.Context, asm model.Assessment, run model.Run) error {
	switch asm.Mode {
	case model.ModeLightweight:
		return o.lightweight(ctx, asm, run)
	case model.ModeRobust:
		return o.robust(ctx, asm, run)
	}
	return fmt.Errorf("assessment %s has unknown mode %q", asm.ID, asm.Mode)
}

// Wait blocks until post-completion side work (memory ingest, archival) is done.
func (o *Orchestrator) Wait() { o.side.Wait() }

const (
	writeAttempts = 4
	writeBackoff  = 200 * time.Millisecond
)

// persist retries a storage write, giving up at once on errors that another
// attempt cannot fix.
func persist(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, writeAttempts, writeBackoff, func() error {
		err := fn()
		if errors.Is(err, db.ErrStaleTransition) || errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrConstraint) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (o *Orchestrator) runLog(asm model.Assessment, run model.Run) *slog.Logger {
	return o.log.With("assessment_id", asm.ID, "run_id", run.ID, "mode", string(asm.Mode))
}

func (o *Orchestrator) event(ctx context.Context, asm model.Assessment, run model.Run, stage, detail string) {
	if err := o.store.InsertEvent(ctx, asm.ID, run.ID, stage, detail); err != nil {
		o.runLog(asm, run).Debug("event not recorded", "stage", stage, "err", err)
	}
}

// begin performs the entry transition. A stale or missing assessment means
// this run no longer owns it, so nothing is recorded as a failure.
func (o *Orchestrator) begin(ctx context.Context, asm model.Assessment, run model.Run, to model.Status) error {
	if err := persist(ctx, func() error { return o.store.BeginRun(ctx, asm.ID, run.ID, to) }); err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	o.event(ctx, asm, run, string(to), "run started")
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, asm model.Assessment, run model.Run, to model.Status) error {
	if err := persist(ctx, func() error { return o.store.Transition(ctx, asm.ID, run.ID, to) }); err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}
	o.event(ctx, asm, run, string(to), "")
	return nil
}

// fail records err on the assessment and returns it. The write outlives a
// cancelled run context so shutdown still leaves a typed failure behind.
func (o *Orchestrator) fail(ctx context.Context, asm model.Assessment, run model.Run, err error) error {
	code, msg := apperr.CodeOf(err), apperr.MessageOf(err)
	o.runLog(asm, run).Error("run failed", "error_type", code, "err", err)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if merr := persist(wctx, func() error { return o.store.MarkFailed(wctx, asm.ID, run.ID, code, msg) }); merr != nil {
		o.runLog(asm, run).Error("mark failed", "err", merr)
	}
	o.event(wctx, asm, run, string(model.StatusFailed), code+": "+msg)
	return err
}

// complete commits findings and the terminal transition in one write, then
// schedules memory ingest and archival.
func (o *Orchestrator) complete(ctx context.Context, asm model.Assessment, run model.Run, findings []model.Finding, ingest []model.Finding) (model.FindingCounts, error) {
	var counts model.FindingCounts
	err := persist(ctx, func() error {
		var err error
		counts, err = o.store.CompleteRun(ctx, asm.ID, run.ID, findings)
		return err
	})
	if errors.Is(err, db.ErrConstraint) {
		return counts, apperr.Integrity(err, "storage rejected a finding")
	}
	if err != nil {
		return counts, err
	}
	o.event(ctx, asm, run, string(model.StatusComplete), fmt.Sprintf("%d findings", counts.Total))
	o.runLog(asm, run).Info("run complete",
		"total", counts.Total, "critical", counts.Critical, "high", counts.High,
		"medium", counts.Medium, "low", counts.Low, "info", counts.Info)
	o.sideWork(ctx, asm, ingest)
	return counts, nil
}

func (o *Orchestrator) sideWork(ctx context.Context, asm model.Assessment, findings []model.Finding) {
	if o.memory == nil && o.archiver == nil {
		return
	}
	o.side.Add(1)
	go func() {
		defer o.side.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		log := o.log.With("assessment_id", asm.ID)
		if o.memory != nil {
			scope := memory.Scope{AssessmentID: asm.ID, Mode: asm.Mode, RepoURL: asm.RepoURL, TargetURL: asm.TargetURL}
			failed := 0
			for _, f := range findings {
				if err := o.memory.IngestFinding(sctx, scope, f); err != nil {
					failed++
				}
			}
			if failed > 0 {
				log.Warn("memory ingest incomplete", "failed", failed, "total", len(findings))
			}
		}
		if o.archiver != nil {
			if _, err := o.archiver.Archive(sctx, asm.ID); err != nil {
				log.Warn("archive failed", "err", err)
			}
		}
	}()
}

// guard turns a panic inside a scanner or agent into an error.
func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn()
}
