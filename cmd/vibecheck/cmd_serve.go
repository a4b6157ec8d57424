package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/vibecheck/internal/api"
	"github.com/yourorg/vibecheck/internal/logging"
)

var serveFlags struct {
	addr     string
	noWorker bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serves the assessment API. Unless --no-worker is given, queued runs are
executed in the same process and start as soon as they are created.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address (defaults to HTTP_ADDR)")
	serveCmd.Flags().BoolVar(&serveFlags.noWorker, "no-worker", false, "only serve the API; leave runs to a separate worker")
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := logging.New("serve")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.addr != "" {
		cfg.HTTPAddr = serveFlags.addr
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := api.Options{
		Analyzer: a.analyzer(),
		Memory:   a.memory,
	}
	if a.archiver != nil {
		opts.Reports = a.archiver
	}

	var wg sync.WaitGroup
	if !serveFlags.noWorker {
		orch := a.orchestrator()
		r := a.runner(orch)
		opts.Wake = r.Wake
		r.RecoverStaleRuns(ctx)
		log.Info("in-process worker starting", "worker_id", r.WorkerID(), "concurrency", cfg.WorkerConcurrency)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.RunForever(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("worker stopped", "err", err)
			}
			orch.Wait()
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(a.store, opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shctx, shcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shcancel()
		_ = srv.Shutdown(shctx)
	}()

	log.Info("listening", "addr", cfg.HTTPAddr)
	err = srv.ListenAndServe()
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
