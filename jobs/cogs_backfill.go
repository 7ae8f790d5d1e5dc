package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/cogs"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// BackfillRunner executes one scoped backfill.
type BackfillRunner interface {
	Run(ctx context.Context, req cogs.BackfillRequest) (cogs.BackfillResult, error)
}

// AuditRecorder persists an audit trail entry.
type AuditRecorder interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// COGSBackfillJob runs queued backfill requests. Applied runs that changed lines are
// written to Audit when set.
type COGSBackfillJob struct {
	Runner  BackfillRunner
	Audit   AuditRecorder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCOGSBackfillJob initialises the backfill handler.
func NewCOGSBackfillJob(runner BackfillRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *COGSBackfillJob {
	return &COGSBackfillJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle decodes the request and runs it. A scope already locked by another run is
// retried by the queue; malformed requests are dropped.
func (j *COGSBackfillJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Runner == nil {
		return errors.New("cogs backfill: handler not configured")
	}
	var req cogs.BackfillRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("decode backfill payload: %w", asynq.SkipRetry)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := metricsOrDefault(j.Metrics).Track("cogs_backfill")
	defer func() { err = tracker.End(err) }()

	logger := jobLogger(j.Logger, TaskCOGSBackfill).With(
		slog.Int64("tenant_id", req.TenantID),
		slog.Bool("dry_run", req.DryRun),
	)
	if req.StoreID != nil {
		logger = logger.With(slog.Int64("store_id", *req.StoreID))
	}

	result, err := j.Runner.Run(ctx, req)
	if err != nil {
		if errors.Is(err, cogs.ErrBackfillInProgress) {
			logger.Info("backfill scope busy, will retry")
			return err
		}
		if errors.Is(err, shared.ErrValidation) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Error("backfill failed", slog.Any("error", err), slog.Int("scanned", result.Scanned))
		return err
	}
	logger.Info("backfill completed",
		slog.Int("scanned", result.Scanned),
		slog.Int64("updated", result.Updated),
		slog.Int("pending", result.Pending),
		slog.Int("skipped_non_positive", result.SkippedNonPositive),
		slog.Int("skipped_no_variant", result.SkippedNoVariant),
		slog.Int("batches", result.Batches),
	)
	if j.Audit != nil && !req.DryRun && result.Updated > 0 {
		entry := shared.AuditEntry{
			TenantID: req.TenantID,
			Actor:    "system:" + TaskCOGSBackfill,
			Action:   "cogs.backfill.applied",
			Entity:   "order_items",
			EntityID: shared.BackfillLockKey(req.TenantID, req.StoreID),
			Meta: map[string]any{
				"from":                 req.From,
				"to":                   req.To,
				"tz":                   req.Timezone,
				"scanned":              result.Scanned,
				"updated":              result.Updated,
				"skipped_no_variant":   result.SkippedNoVariant,
				"skipped_non_positive": result.SkippedNonPositive,
			},
		}
		if err := j.Audit.Record(ctx, entry); err != nil {
			logger.Warn("record backfill audit", slog.Any("error", err))
		}
	}
	return nil
}

// UnbackedTenantLister finds tenants with recent lines lacking a cost snapshot.
type UnbackedTenantLister interface {
	TenantsWithUnbacked(ctx context.Context, since time.Time) ([]int64, error)
}

// BackfillEnqueuer submits backfill tasks.
type BackfillEnqueuer interface {
	EnqueueCOGSBackfill(ctx context.Context, req cogs.BackfillRequest) (*asynq.TaskInfo, error)
}

// DefaultSweepLookback bounds how far back the nightly sweep looks for unbacked lines.
const DefaultSweepLookback = 35 * 24 * time.Hour

// COGSBackfillSweepJob enqueues one tenant-wide backfill per tenant with recent gaps.
type COGSBackfillSweepJob struct {
	Lister   UnbackedTenantLister
	Queue    BackfillEnqueuer
	Lookback time.Duration
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewCOGSBackfillSweepJob initialises the sweep handler.
func NewCOGSBackfillSweepJob(lister UnbackedTenantLister, queue BackfillEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *COGSBackfillSweepJob {
	return &COGSBackfillSweepJob{
		Lister:   lister,
		Queue:    queue,
		Lookback: DefaultSweepLookback,
		Logger:   logger,
		Metrics:  metrics,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle lists tenants and enqueues their backfills. Tenants whose backfill is already
// queued are skipped.
func (j *COGSBackfillSweepJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Lister == nil || j.Queue == nil {
		return errors.New("cogs sweep: handler not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track("cogs_backfill_sweep")
	defer func() { err = tracker.End(err) }()

	logger := jobLogger(j.Logger, TaskCOGSBackfillSweep)
	lookback := j.Lookback
	if lookback <= 0 {
		lookback = DefaultSweepLookback
	}
	since := j.now().Add(-lookback)
	tenants, err := j.Lister.TenantsWithUnbacked(ctx, since)
	if err != nil {
		logger.Error("list tenants", slog.Any("error", err))
		return err
	}

	enqueued, duplicates := 0, 0
	var errs []error
	for _, tenantID := range tenants {
		req := cogs.BackfillRequest{
			TenantID: tenantID,
			From:     since.Format("2006-01-02"),
			Timezone: "UTC",
		}
		if _, err := j.Queue.EnqueueCOGSBackfill(ctx, req); err != nil {
			if errors.Is(err, asynq.ErrDuplicateTask) {
				duplicates++
				continue
			}
			logger.Warn("enqueue backfill", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		enqueued++
	}
	logger.Info("backfill sweep completed",
		slog.Int("tenants", len(tenants)),
		slog.Int("enqueued", enqueued),
		slog.Int("duplicates", duplicates),
	)
	return errors.Join(errs...)
}

func (j *COGSBackfillSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
