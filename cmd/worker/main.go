package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/app"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

func run(ctx context.Context) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg).With(slog.String("process", "worker"))

	c, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("wire components", slog.Any("error", err))
		return 1
	}
	defer c.Close()

	metrics := c.Metrics.Jobs()
	backfillJob := jobs.NewCOGSBackfillJob(c.Backfill, logger, metrics)
	backfillJob.Audit = c.Audit
	sweepJob := jobs.NewCOGSBackfillSweepJob(c.COGSStore, c.Queue, logger, metrics)
	purgeJob := jobs.NewExportPurgeJob(c.Exports, logger, metrics)
	healthJob := jobs.NewHealthScanJob(c.AnalyticsRepo, c.Analytics, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.RedisOpts(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExportGenerate, Handler: jobs.Instrument(metrics, "export_generate", c.ExportJob.Handle)},
			{Type: jobs.TaskExportPurge, Handler: purgeJob.Handle},
			{Type: jobs.TaskCOGSBackfill, Handler: backfillJob.Handle},
			{Type: jobs.TaskCOGSBackfillSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskHealthScan, Handler: healthJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "10 * * * *", Task: jobs.NewExportPurgeTask()},
			{Spec: "30 0 * * *", Task: jobs.NewCOGSBackfillSweepTask()},
			{Spec: "0 1 * * *", Task: jobs.NewHealthScanTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		return 1
	}

	// Job counters live in this process, so the worker serves its own scrape endpoint.
	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           c.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		return 1
	}
	return 0
}
