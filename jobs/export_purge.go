package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
)

const (
	defaultPurgeBatch  = 200
	maxPurgeIterations = 20
)

// ExportPurger deletes up to limit expired artifacts and reports how many it removed.
type ExportPurger interface {
	Purge(ctx context.Context, limit int) (int, error)
}

// ExportPurgeJob removes export artifacts past their availability window.
type ExportPurgeJob struct {
	Purger    ExportPurger
	BatchSize int
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewExportPurgeJob initialises the purge handler.
func NewExportPurgeJob(purger ExportPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExportPurgeJob {
	return &ExportPurgeJob{Purger: purger, BatchSize: defaultPurgeBatch, Logger: logger, Metrics: metrics}
}

// Handle purges in batches until a short batch signals the backlog is drained.
func (j *ExportPurgeJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Purger == nil {
		return errors.New("export purge: handler not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track("export_purge")
	defer func() { err = tracker.End(err) }()

	batch := j.BatchSize
	if batch <= 0 {
		batch = defaultPurgeBatch
	}
	logger := jobLogger(j.Logger, TaskExportPurge)
	total := 0
	for i := 0; i < maxPurgeIterations; i++ {
		n, err := j.Purger.Purge(ctx, batch)
		total += n
		if err != nil {
			logger.Error("purge exports", slog.Int("purged", total), slog.Any("error", err))
			return err
		}
		if n < batch {
			break
		}
	}
	logger.Info("export purge completed", slog.Int("purged", total))
	return nil
}
