package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
	"github.com/odyssey-erp/odyssey-pos/internal/analytics/export"
	"github.com/odyssey-erp/odyssey-pos/internal/analytics/health"
	"github.com/odyssey-erp/odyssey-pos/internal/cogs"
	"github.com/odyssey-erp/odyssey-pos/internal/finexport"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

// Components holds the wired services shared by the server, worker and CLI.
type Components struct {
	Config  *Config
	Logger  *slog.Logger
	Metrics *observability.Metrics

	Pool  *pgxpool.Pool
	Redis *redis.Client
	Queue *jobs.Client

	AnalyticsRepo *analytics.PGRepository
	Analytics     *analytics.Service
	COGSStore     *cogs.PGStore
	Backfill      *cogs.Processor
	LineWriter    *cogs.LineWriter
	Audit         *shared.AuditLogger
	Exports       *finexport.Service
	ExportJob     *finexport.Job

	closers []func() error
}

// RedisOpts returns the asynq connection options for cfg.
func (c *Config) RedisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// Build connects the data stores and wires every service.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = NewLogger(cfg)
	}
	c := &Components{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		MaxConnIdleTime: 5 * time.Minute,
		ApplicationName: "odyssey-pos",
	})
	if err != nil {
		return nil, err
	}
	c.Pool = pool
	c.closers = append(c.closers, func() error { pool.Close(); return nil })

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Redis = redisClient
	c.closers = append(c.closers, redisClient.Close)

	queue, err := jobs.NewClient(cfg.RedisOpts())
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Queue = queue
	c.closers = append(c.closers, queue.Close)

	objects, signer, verifier, err := buildStorage(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	jobMetrics := c.Metrics.Jobs()
	c.AnalyticsRepo = analytics.NewPGRepository(pool)
	c.Analytics = analytics.NewService(
		c.AnalyticsRepo,
		analytics.NewCache(redisClient, cfg.AnalyticsCacheTTL),
		health.NewDefaultEngine(cfg.HealthPolicy()),
	).WithSignalRecorder(jobMetrics)

	c.COGSStore = cogs.NewPGStore(pool)
	c.Backfill = cogs.NewProcessor(c.COGSStore, cache.NewLocker(redisClient), c.Analytics, logger,
		cogs.WithBatchSize(cfg.BackfillBatchSize),
		cogs.WithLockTTL(cfg.BackfillLockTTL),
		cogs.WithObserver(jobMetrics),
	)
	c.LineWriter = cogs.NewLineWriter(pool, cogs.NewRecorder(logger), c.Analytics, logger)
	c.Audit = shared.NewAuditLogger(pool)

	exportRepo := finexport.NewPGRepository(pool)
	c.Exports = finexport.NewService(exportRepo, queue, objects, signer, finexport.Config{
		TTL:        cfg.ExportTTL,
		SignTTL:    cfg.ExportSignTTL,
		StaleAfter: cfg.ExportStaleAfter,
	}, logger)
	if verifier != nil {
		c.Exports = c.Exports.WithVerifier(verifier)
	}

	pdf, err := export.NewPDFExporter(cfg.GotenbergURL, &http.Client{Timeout: 60 * time.Second})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.ExportJob = finexport.NewJob(finexport.JobConfig{
		Repository:   exportRepo,
		Source:       c.Analytics,
		Renderer:     export.NewRenderer(pdf),
		Storage:      objects,
		TTL:          cfg.ExportTTL,
		MaxRangeDays: cfg.AnalyticsMaxRangeDays,
		Logger:       logger,
	})
	return c, nil
}

// buildStorage selects the artifact backend. The local driver serves downloads through
// the application with signed tokens; GCS hands out V4 signed URLs directly.
func buildStorage(ctx context.Context, cfg *Config) (storage.Storage, storage.Signer, finexport.TokenVerifier, error) {
	switch cfg.StorageDriver {
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCSCredentialsJSON)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("app: gcs client: %w", err)
		}
		objects, err := storage.NewGCS(client, cfg.GCSBucket)
		if err != nil {
			return nil, nil, nil, err
		}
		signer, err := storage.NewGCSSigner(cfg.GCSBucket, cfg.GCSCredentialsJSON, cfg.GCSSignerEmail, cfg.GCSSignerPrivateKey)
		if err != nil {
			return nil, nil, nil, err
		}
		return objects, signer, nil, nil
	default:
		objects, err := storage.NewLocal(cfg.StorageDir)
		if err != nil {
			return nil, nil, nil, err
		}
		signer, err := storage.NewTokenSigner(cfg.ExportSigningSecret, cfg.PublicBaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return objects, signer, signer, nil
	}
}

// Close releases resources in reverse acquisition order.
func (c *Components) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && c.Logger != nil {
			c.Logger.Warn("close component", slog.Any("error", err))
		}
	}
	c.closers = nil
}
