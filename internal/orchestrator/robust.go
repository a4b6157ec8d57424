package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/yourorg/vibecheck/internal/agent"
	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/lifecycle"
	"github.com/yourorg/vibecheck/internal/model"
	"github.com/yourorg/vibecheck/internal/probe"
)

func (o *Orchestrator) robust(ctx context.Context, asm model.Assessment, run model.Run) error {
	if err := o.begin(ctx, asm, run, model.StatusScanning); err != nil {
		return err
	}
	if o.prober == nil {
		return o.fail(ctx, asm, run, apperr.TargetUnreachable(asm.TargetURL, "no prober configured"))
	}
	if err := probe.Reachable(ctx, o.prober, asm.TargetURL); err != nil {
		return o.fail(ctx, asm, run, apperr.TargetUnreachable(asm.TargetURL, err.Error()))
	}
	o.event(ctx, asm, run, "reachable", asm.TargetURL)

	names := run.Payload.Agents
	if len(names) == 0 {
		names = asm.Agents
	}
	if len(names) == 0 {
		names = agent.Names()
	}
	rawDepth := run.Payload.Depth
	if rawDepth == "" {
		rawDepth = asm.Depth
	}
	depth, err := agent.ParseDepth(rawDepth)
	if err != nil {
		o.runLog(asm, run).Warn("bad depth, using standard", "depth", rawDepth)
		depth = agent.DepthStandard
	}

	var (
		successes int
		failures  []string
		committed []model.Finding
	)
	for _, name := range names {
		rec := &agent.Recorder{}
		a, ok := agent.New(name, agent.Config{
			AssessmentID: asm.ID,
			TargetURL:    asm.TargetURL,
			Depth:        depth,
			Prober:       o.prober,
			Sink:         rec,
		})
		if !ok {
			o.runLog(asm, run).Debug("unknown agent skipped", "agent", name)
			continue
		}
		err := guard(name, func() error { return a.Run(ctx) })
		if err == nil {
			// the recorder is discarded on error, so only clean runs reach storage
			err = o.store.InsertFindings(ctx, asm.ID, run.ID, rec.Findings)
		}
		if err != nil {
			summary := name + ": " + lifecycle.Truncate(err.Error(), lifecycle.MaxAgentSummary)
			failures = append(failures, summary)
			o.runLog(asm, run).Warn("agent failed", "agent", name, "err", err)
			o.event(ctx, asm, run, "agent_failed", summary)
			continue
		}
		successes++
		committed = append(committed, rec.Findings...)
		o.event(ctx, asm, run, "agent_done", fmt.Sprintf("%s: %d findings", name, len(rec.Findings)))
	}

	if successes == 0 {
		detail := strings.Join(failures, "; ")
		if detail == "" {
			detail = "no agents ran"
		}
		return o.fail(ctx, asm, run, apperr.Execution(apperr.CodeAgentExecutionFailed, "All robust agents failed. Details: %s", detail))
	}
	if _, err := o.complete(ctx, asm, run, nil, committed); err != nil {
		return o.fail(ctx, asm, run, err)
	}
	return nil
}
