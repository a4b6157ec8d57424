package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/vibecheck/internal/analysis"
	"github.com/yourorg/vibecheck/internal/archive"
	"github.com/yourorg/vibecheck/internal/config"
	"github.com/yourorg/vibecheck/internal/db"
	"github.com/yourorg/vibecheck/internal/llm"
	"github.com/yourorg/vibecheck/internal/memory"
	"github.com/yourorg/vibecheck/internal/orchestrator"
	"github.com/yourorg/vibecheck/internal/probe"
	"github.com/yourorg/vibecheck/internal/s3"
	"github.com/yourorg/vibecheck/internal/scanner"
	"github.com/yourorg/vibecheck/internal/source"
	"github.com/yourorg/vibecheck/internal/worker"
)

// app holds the collaborators shared by serve, worker and backfill.
type app struct {
	cfg      config.Config
	store    *db.Store
	llm      llm.Client
	memory   *memory.Client
	archiver *archive.Archiver
	log      *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	a := &app{cfg: cfg, store: store, log: log}
	if cfg.LLMEnabled() {
		a.llm = llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.LLMTimeout)
	}
	a.memory = memory.New(cfg.SupermemoryAPIKey, cfg.SupermemoryBaseURL, cfg.MemoryTimeout)

	if cfg.ArchiveEnabled() {
		objects, err := s3.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL, cfg.ReportsBucket)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = objects.EnsureBucket(bctx)
		cancel()
		if err != nil {
			// Reports are optional; runs still complete without them.
			log.Warn("report archival disabled", "bucket", objects.Bucket(), "err", err)
		} else {
			a.archiver = archive.New(objects, store)
		}
	}

	log.Info("collaborators",
		"llm", a.llm != nil,
		"memory", a.memory.Enabled(),
		"archive", a.archiver != nil,
	)
	return a, nil
}

func (a *app) Close() { a.store.Close() }

func (a *app) scanners() []scanner.Scanner {
	scanners := scanner.Static()
	if a.llm != nil {
		scanners = append(scanners, scanner.NewContextual(a.llm))
	}
	return scanners
}

func (a *app) orchestrator() *orchestrator.Orchestrator {
	opts := orchestrator.Options{
		Fetcher:  source.NewAcquirer(a.cfg.CloneDir, a.cfg.CloneTimeout),
		Scanners: a.scanners(),
		Prober:   probe.New(a.cfg.ProbeTimeout),
	}
	if a.memory.Enabled() {
		opts.Memory = a.memory
	}
	if a.archiver != nil {
		opts.Archiver = a.archiver
	}
	return orchestrator.New(a.store, opts)
}

func (a *app) analyzer() *analysis.Analyzer {
	return analysis.New(a.llm, a.memory)
}

func (a *app) runner(exec worker.Executor) *worker.Runner {
	return worker.NewRunner(a.store, exec, worker.Options{
		Concurrency:  a.cfg.WorkerConcurrency,
		PollInterval: a.cfg.PollInterval,
		StaleAfter:   a.cfg.StaleRunAfter,
	})
}
