package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yourorg/vibecheck/internal/logging"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Execute queued assessment runs",
	Long: `Polls the run queue and executes queued runs. Runs left in running by a
crashed worker are re-queued at startup once they have been silent for
STALE_RUN_MINUTES.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, _ []string) error {
	log := logging.New("worker")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	orch := a.orchestrator()
	defer orch.Wait()

	r := a.runner(orch)
	log.Info("worker starting", "worker_id", r.WorkerID(), "concurrency", cfg.WorkerConcurrency)
	r.RecoverStaleRuns(ctx)
	return r.RunForever(ctx)
}
