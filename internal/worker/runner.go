// Package worker executes queued assessment runs in the background,
// decoupled from the request that created them.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/db"
	"github.com/yourorg/vibecheck/internal/logging"
	"github.com/yourorg/vibecheck/internal/model"
	"github.com/yourorg/vibecheck/internal/retry"
)

type Store interface {
	EventWriter
	AcquireNextRun(ctx context.Context, workerID string) (model.Run, error)
	GetAssessment(ctx context.Context, id string) (model.Assessment, error)
	FinishRun(ctx context.Context, runID, errMsg string) error
	RequeueStaleRuns(ctx context.Context, idle time.Duration) ([]string, error)
}

// Executor runs one claimed run to a terminal state.
type Executor interface {
	Run(ctx context.Context, asm model.Assessment, run model.Run) error
}

type Options struct {
	Concurrency  int
	PollInterval time.Duration
	StaleAfter   time.Duration
	// Heartbeat defaults to a third of StaleAfter; negative disables it.
	Heartbeat time.Duration
}

type Runner struct {
	store Store
	exec  Executor
	opts  Options
	id    string
	wake  chan struct{}
	log   *slog.Logger
}

func NewRunner(store Store, exec Executor, opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Heartbeat == 0 && opts.StaleAfter > 0 {
		opts.Heartbeat = opts.StaleAfter / 3
	}
	return &Runner{
		store: store,
		exec:  exec,
		opts:  opts,
		id:    "worker-" + uuid.NewString()[:8],
		wake:  make(chan struct{}, 1),
		log:   logging.New("worker"),
	}
}

func (r *Runner) WorkerID() string { return r.id }

// Wake makes an idle RunForever poll immediately, e.g. right after enqueue.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// RecoverStaleRuns re-queues runs stuck in running with no recent event,
// orphaned by a crashed worker.
func (r *Runner) RecoverStaleRuns(ctx context.Context) {
	if r.opts.StaleAfter <= 0 {
		return
	}
	ids, err := r.store.RequeueStaleRuns(ctx, r.opts.StaleAfter)
	if err != nil {
		r.log.Error("stale run recovery failed", "err", err)
		return
	}
	if len(ids) > 0 {
		r.log.Warn("requeued stale runs", "count", len(ids), "run_ids", strings.Join(ids, ","))
	}
}

// RunOnce claims and processes a single run synchronously. It reports false
// when the queue was empty.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	run, err := r.store.AcquireNextRun(ctx, r.id)
	if errors.Is(err, db.ErrNoQueuedRun) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.process(ctx, run)
	return true, nil
}

// RunForever polls for queued runs and processes up to Concurrency at a time
// until ctx is cancelled, then waits for in-flight runs.
func (r *Runner) RunForever(ctx context.Context) error {
	sem := make(chan struct{}, r.opts.Concurrency)
	var inflight sync.WaitGroup
	defer inflight.Wait()

	backoff := r.opts.PollInterval
	for {
		select {
		case <-ctx.Done():
			return nil
		case sem <- struct{}{}:
		}

		run, err := r.store.AcquireNextRun(ctx, r.id)
		if err != nil {
			<-sem
			if !errors.Is(err, db.ErrNoQueuedRun) && ctx.Err() == nil {
				r.log.Error("acquire run", "err", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-r.wake:
				backoff = r.opts.PollInterval
			case <-time.After(backoff):
				backoff = min(backoff*2, 5*time.Second)
			}
			continue
		}
		backoff = r.opts.PollInterval

		inflight.Add(1)
		go func(run model.Run) {
			defer inflight.Done()
			defer func() { <-sem }()
			r.process(ctx, run)
		}(run)
	}
}

func (r *Runner) process(ctx context.Context, run model.Run) {
	log := r.log.With("assessment_id", run.AssessmentID, "run_id", run.ID)
	start := time.Now()

	asm, err := r.store.GetAssessment(ctx, run.AssessmentID)
	if err != nil {
		log.Error("load assessment", "err", err)
		r.finish(ctx, log, run, "load assessment: "+err.Error())
		return
	}
	log.Info("run starting", "mode", string(asm.Mode), "worker_id", r.id)

	stop := Heartbeat(ctx, r.store, log, asm.ID, run.ID, r.opts.Heartbeat)
	err = r.exec.Run(ctx, asm, run)
	stop()

	if err != nil {
		log.Warn("run failed", "error_type", apperr.CodeOf(err), "err", err, "elapsed", time.Since(start))
		r.finish(ctx, log, run, err.Error())
		return
	}
	log.Info("run done", "elapsed", time.Since(start))
	r.finish(ctx, log, run, "")
}

func (r *Runner) finish(ctx context.Context, log *slog.Logger, run model.Run, errMsg string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := retry.Do(wctx, 4, 200*time.Millisecond, func() error {
		return r.store.FinishRun(wctx, run.ID, errMsg)
	}); err != nil {
		log.Error("finish run", "err", err)
	}
}
