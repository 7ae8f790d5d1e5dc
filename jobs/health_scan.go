package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
	"github.com/odyssey-erp/odyssey-pos/internal/analytics/health"
	"github.com/odyssey-erp/odyssey-pos/internal/analytics/period"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// DefaultHealthScanDays is the trailing window evaluated per store.
const DefaultHealthScanDays = 35

// StoreLister lists active stores; tenantID 0 means every tenant.
type StoreLister interface {
	ActiveStores(ctx context.Context, tenantID int64) ([]ledger.Store, error)
}

// HealthEvaluator evaluates health signals for a scoped query.
type HealthEvaluator interface {
	Health(ctx context.Context, q analytics.ScopedQuery) (health.Report, error)
}

// HealthScanJob evaluates health signals for every active store and logs the
// non-info ones. Evaluation also warms the analytics cache for the next dashboard load.
type HealthScanJob struct {
	Stores    StoreLister
	Evaluator HealthEvaluator
	Days      int
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewHealthScanJob initialises the health scan handler.
func NewHealthScanJob(stores StoreLister, evaluator HealthEvaluator, logger *slog.Logger, metrics *jobmetrics.Metrics) *HealthScanJob {
	return &HealthScanJob{
		Stores:    stores,
		Evaluator: evaluator,
		Days:      DefaultHealthScanDays,
		Logger:    logger,
		Metrics:   metrics,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the scan. A failing store is logged and the scan moves on; the run
// reports failure when any store failed.
func (j *HealthScanJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Stores == nil || j.Evaluator == nil {
		return errors.New("health scan: handler not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track("health_scan")
	defer func() { err = tracker.End(err) }()

	start := j.now()
	logger := jobLogger(j.Logger, TaskHealthScan)
	stores, err := j.Stores.ActiveStores(ctx, 0)
	if err != nil {
		logger.Error("list stores", slog.Any("error", err))
		return err
	}

	flagged := 0
	var errs []error
	for _, store := range stores {
		if err := ctx.Err(); err != nil {
			return err
		}
		q, err := j.storeQuery(store, start)
		if err != nil {
			errs = append(errs, fmt.Errorf("store %d: %w", store.ID, err))
			continue
		}
		report, err := j.Evaluator.Health(ctx, q)
		if err != nil {
			logger.Warn("evaluate store", slog.Int64("tenant_id", store.TenantID), slog.Int64("store_id", store.ID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("store %d: %w", store.ID, err))
			continue
		}
		for _, signal := range report.Signals {
			if signal.Level == health.LevelInfo {
				continue
			}
			flagged++
			logger.Warn("health signal",
				slog.Int64("tenant_id", store.TenantID),
				slog.Int64("store_id", store.ID),
				slog.String("rule", signal.Rule),
				slog.String("level", string(signal.Level)),
				slog.String("detail", signal.Detail),
			)
		}
	}

	logger.Info("completed health scan",
		slog.Int("stores", len(stores)),
		slog.Int("signals", flagged),
		slog.Duration("duration", time.Since(start)),
	)
	return errors.Join(errs...)
}

// storeQuery builds the trailing window ending today in the store's timezone.
func (j *HealthScanJob) storeQuery(store ledger.Store, now time.Time) (analytics.ScopedQuery, error) {
	days := j.Days
	if days <= 0 {
		days = DefaultHealthScanDays
	}
	loc := period.LoadLocation(store.Timezone)
	today := now.In(loc)
	storeID := store.ID
	scope := shared.Scope{TenantID: store.TenantID, Role: shared.RoleOwner, UserID: "system:health_scan"}
	return analytics.NewScopedQuery(scope, analytics.QueryParams{
		DateFrom:    today.AddDate(0, 0, -(days - 1)).Format(period.DateLayout),
		DateTo:      today.Format(period.DateLayout),
		Timezone:    loc.String(),
		StoreID:     &storeID,
		Granularity: string(period.Day),
	}, 0)
}

func (j *HealthScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
