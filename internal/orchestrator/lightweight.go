package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yourorg/vibecheck/internal/aggregate"
	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/introspect"
	"github.com/yourorg/vibecheck/internal/lifecycle"
	"github.com/yourorg/vibecheck/internal/model"
	"github.com/yourorg/vibecheck/internal/source"
)

func (o *Orchestrator) lightweight(ctx context.Context, asm model.Assessment, run model.Run) error {
	hasRepo := asm.RepoURL != ""
	entry, err := lifecycle.Entry(asm.Mode, hasRepo)
	if err != nil {
		return err
	}
	if err := o.begin(ctx, asm, run, entry); err != nil {
		return err
	}

	var files []model.File
	if hasRepo {
		if o.fetcher == nil {
			return o.fail(ctx, asm, run, apperr.CloneFailed(asm.RepoURL, "no repository fetcher configured"))
		}
		defer func() {
			if err := o.fetcher.Cleanup(asm.ID); err != nil {
				o.runLog(asm, run).Warn("cleanup clone", "err", err)
			}
		}()
		files, err = o.fetcher.Fetch(ctx, asm.RepoURL, asm.ID, run.Payload.Exclude)
		if err != nil {
			if _, ok := apperr.As(err); !ok {
				err = apperr.CloneFailed(asm.RepoURL, err.Error())
			}
			return o.fail(ctx, asm, run, err)
		}
		o.event(ctx, asm, run, "cloned", fmt.Sprintf("%d files", len(files)))
		if err := o.transition(ctx, asm, run, model.StatusAnalyzing); err != nil {
			return o.fail(ctx, asm, run, err)
		}
	} else {
		for _, f := range source.FilterInline(run.Payload.Files) {
			if !source.Excluded(f.Path, run.Payload.Exclude) {
				files = append(files, f)
			}
		}
	}

	info := introspect.Detect(files)
	o.runLog(asm, run).Info("project detected", "files", len(files), "language", info.Language, "framework", info.Framework)

	batches, err := o.scan(ctx, asm, run, files, info)
	if err != nil {
		return o.fail(ctx, asm, run, err)
	}
	merged, counts, err := aggregate.Merge(batches)
	if err != nil {
		return o.fail(ctx, asm, run, err)
	}
	stored, err := o.complete(ctx, asm, run, merged, merged)
	if err != nil {
		return o.fail(ctx, asm, run, err)
	}
	if stored != counts {
		o.runLog(asm, run).Warn("stored counts differ from merged counts", "merged", counts.Total, "stored", stored.Total)
	}
	return nil
}

// scan runs every scanner concurrently and returns their outputs in scanner
// order. A failing scanner is logged and skipped; only when all of them fail
// does the run fail.
func (o *Orchestrator) scan(ctx context.Context, asm model.Assessment, run model.Run, files []model.File, info model.ProjectInfo) ([]aggregate.Batch, error) {
	if len(o.scanners) == 0 {
		return nil, nil
	}
	batches := make([]aggregate.Batch, len(o.scanners))
	errs := make([]error, len(o.scanners))

	var g errgroup.Group
	g.SetLimit(len(o.scanners))
	for i, s := range o.scanners {
		g.Go(func() error {
			var out []model.Finding
			errs[i] = guard(s.Name(), func() error {
				var err error
				out, err = s.Scan(ctx, files, info)
				return err
			})
			batches[i] = aggregate.Batch{Producer: s.Name(), Findings: out}
			return nil
		})
	}
	_ = g.Wait()

	var failures []string
	for i, s := range o.scanners {
		if errs[i] != nil {
			batches[i].Findings = nil
			failures = append(failures, s.Name()+": "+lifecycle.Truncate(errs[i].Error(), lifecycle.MaxAgentSummary))
			o.runLog(asm, run).Warn("scanner failed", "scanner", s.Name(), "err", errs[i])
			o.event(ctx, asm, run, "scanner_failed", s.Name()+": "+lifecycle.TruncateMessage(errs[i].Error()))
			continue
		}
		o.event(ctx, asm, run, "scanner_done", fmt.Sprintf("%s: %d findings", s.Name(), len(batches[i].Findings)))
	}
	if len(failures) == len(o.scanners) {
		if err := ctx.Err(); err != nil {
			return nil, errors.Join(err, apperr.Execution(apperr.CodeScanError, "scan interrupted"))
		}
		return nil, apperr.Execution(apperr.CodeScanError, "All scanners failed. Details: %s", strings.Join(failures, "; "))
	}
	return batches, nil
}
