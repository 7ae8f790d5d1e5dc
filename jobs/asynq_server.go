package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/cogs"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueExports: 2,
			QueueDefault: 1,
		},
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler:    failureLogger(logger),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// failureLogger logs at error level once a task will not run again, and at warn level
// while asynq still has retries left.
func failureLogger(logger *slog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		attrs := []any{
			slog.String("task", task.Type()),
			slog.Int("retried", retried),
			slog.Int("max_retry", maxRetry),
			slog.Any("error", err),
		}
		if errors.Is(err, asynq.SkipRetry) || retried >= maxRetry {
			logger.Error("task failed permanently", attrs...)
			return
		}
		logger.Warn("task failed, will retry", attrs...)
	})
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueExportGenerate enqueues rendering of one export.
func (c *Client) EnqueueExportGenerate(ctx context.Context, payload ExportGeneratePayload) (*asynq.TaskInfo, error) {
	task, err := NewExportGenerateTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// EnqueueCOGSBackfill enqueues a backfill for one scope.
func (c *Client) EnqueueCOGSBackfill(ctx context.Context, req cogs.BackfillRequest) (*asynq.TaskInfo, error) {
	task, err := NewCOGSBackfillTask(req)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector *asynq.Inspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue     string  `json:"queue"`
	Pending   int     `json:"pending"`
	Active    int     `json:"active"`
	Retry     int     `json:"retry"`
	Archived  int     `json:"archived"`
	LatencyMS int64   `json:"latency_ms"`
	Paused    bool    `json:"paused"`
	FailRatio float64 `json:"fail_ratio_today"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	queues := make([]queueHealth, 0, 2)
	for _, name := range []string{QueueDefault, QueueExports} {
		entry := queueHealth{Queue: name}
		if h.inspector != nil {
			info, err := h.inspector.GetQueueInfo(name)
			if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
				if h.logger != nil {
					h.logger.Warn("jobs health", slog.String("queue", name), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "queue inspector unavailable")
				return
			}
			if info != nil {
				entry.Pending = info.Pending
				entry.Active = info.Active
				entry.Retry = info.Retry
				entry.Archived = info.Archived
				entry.LatencyMS = info.Latency.Milliseconds()
				entry.Paused = info.Paused
				if info.Processed > 0 {
					entry.FailRatio = float64(info.Failed) / float64(info.Processed)
				}
			}
		}
		queues = append(queues, entry)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": queues})
}
