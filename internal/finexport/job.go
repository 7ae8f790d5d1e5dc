package finexport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

// DatasetSource re-runs the aggregation for a stored query against current facts.
type DatasetSource interface {
	FreshDataset(ctx context.Context, q analytics.ScopedQuery) (analytics.Dataset, error)
}

// Renderer turns a dataset into artifact bytes for a format.
type Renderer interface {
	Render(ctx context.Context, format string, ds analytics.Dataset) ([]byte, error)
}

// JobConfig wires dependencies required by the worker job.
type JobConfig struct {
	Repository   Repository
	Source       DatasetSource
	Renderer     Renderer
	Storage      storage.Storage
	TTL          time.Duration
	MaxRangeDays int
	Logger       *slog.Logger
}

// Job processes export generation requests coming from the queue.
type Job struct {
	repo         Repository
	source       DatasetSource
	renderer     Renderer
	store        storage.Storage
	ttl          time.Duration
	maxRangeDays int
	logger       *slog.Logger
	now          func() time.Time
}

// NewJob constructs a Job handler.
func NewJob(cfg JobConfig) *Job {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		repo:         cfg.Repository,
		source:       cfg.Source,
		renderer:     cfg.Renderer,
		store:        cfg.Storage,
		ttl:          ttl,
		maxRangeDays: cfg.MaxRangeDays,
		logger:       logger.With(slog.String("job", jobs.TaskExportGenerate)),
		now:          time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (j *Job) WithNow(now func() time.Time) *Job {
	if now != nil {
		j.now = now
	}
	return j
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.repo == nil || j.source == nil || j.renderer == nil || j.store == nil {
		return fmt.Errorf("finexport job not configured")
	}
	var payload jobs.ExportGeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	return j.Process(ctx, payload)
}

// Process runs one export to a terminal state. Failures are recorded on the export and
// never retried.
func (j *Job) Process(ctx context.Context, payload jobs.ExportGeneratePayload) error {
	if payload.TenantID <= 0 {
		return fmt.Errorf("missing tenant: %w", asynq.SkipRetry)
	}
	record, err := j.repo.Get(ctx, payload.TenantID, payload.ExportID)
	if err != nil {
		if errors.Is(err, ErrExportNotFound) {
			return fmt.Errorf("export %s: %w", payload.ExportID, asynq.SkipRetry)
		}
		return err
	}
	if record.Status.Terminal() {
		return nil
	}
	if err := j.repo.MarkProcessing(ctx, record.TenantID, record.ID, j.now()); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}
	logger := j.logger.With(slog.String("export_id", record.ID.String()), slog.Int64("tenant_id", record.TenantID))
	path, err := j.generate(ctx, record)
	if err != nil {
		logger.Warn("export failed", slog.Any("error", err))
		if markErr := j.repo.MarkFailed(context.WithoutCancel(ctx), record.TenantID, record.ID, err.Error(), j.now()); markErr != nil {
			logger.Error("mark export failed", slog.Any("error", markErr))
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	completedAt := j.now()
	if err := j.repo.MarkCompleted(ctx, record.TenantID, record.ID, path, completedAt, completedAt.Add(j.ttl)); err != nil {
		logger.Error("mark export completed", slog.Any("error", err))
		if markErr := j.repo.MarkFailed(context.WithoutCancel(ctx), record.TenantID, record.ID, "mark completed: "+err.Error(), j.now()); markErr != nil {
			logger.Error("mark export failed", slog.Any("error", markErr))
		}
		return fmt.Errorf("mark completed: %v: %w", err, asynq.SkipRetry)
	}
	logger.Info("export ready", slog.String("path", path))
	return nil
}

func (j *Job) generate(ctx context.Context, record Export) (string, error) {
	q, err := analytics.RestoreQuery(record.Options, j.maxRangeDays)
	if err != nil {
		return "", fmt.Errorf("restore query: %w", err)
	}
	if q.TenantID != record.TenantID {
		return "", fmt.Errorf("restore query: tenant mismatch")
	}
	ds, err := j.source.FreshDataset(ctx, q)
	if errors.Is(err, analytics.ErrCacheWriteBack) {
		j.logger.Warn("dataset cache refresh failed", slog.String("export_id", record.ID.String()), slog.Any("error", err))
	} else if err != nil {
		return "", fmt.Errorf("aggregate: %w", err)
	}
	body, err := j.renderer.Render(ctx, string(record.Type), ds)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", record.Type, err)
	}
	key := ObjectKey(record.TenantID, record.ID, record.Type)
	if err := j.store.Put(ctx, key, bytes.NewReader(body), record.Type.ContentType()); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return key, nil
}
