package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// EventWriter records run events.
type EventWriter interface {
	InsertEvent(ctx context.Context, assessmentID, runID, stage, detail string) error
}

// Heartbeat writes a "heartbeat" event every interval until ctx ends or stop
// is called. Stale-run recovery keys off the newest event, so a long scan
// that is still alive is never requeued.
func Heartbeat(ctx context.Context, ev EventWriter, log *slog.Logger, assessmentID, runID string, every time.Duration) (stop func()) {
	if every <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var stopped atomic.Bool
	go func() {
		defer stopped.Store(true)
		t := time.NewTicker(every)
		defer t.Stop()
		beats := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				beats++
				if err := ev.InsertEvent(ctx, assessmentID, runID, "heartbeat", ""); err != nil && ctx.Err() == nil {
					log.Warn("heartbeat failed", "assessment_id", assessmentID, "run_id", runID, "beat", beats, "err", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		for !stopped.Load() {
			time.Sleep(10 * time.Millisecond)
		}
	}
}
