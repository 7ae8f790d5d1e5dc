package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
)

// Instrument wraps handler with run, failure and duration metrics under name.
func Instrument(metrics *jobmetrics.Metrics, name string, handler asynq.HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		return metricsOrDefault(metrics).Track(name).End(handler(ctx, t))
	}
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return jobmetrics.NewMetrics(nil)
}

func jobLogger(logger *slog.Logger, task string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", task))
}
