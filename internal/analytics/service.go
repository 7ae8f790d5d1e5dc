package analytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics/health"
	"github.com/odyssey-erp/odyssey-pos/internal/analytics/period"
)

// ErrCacheWriteBack is returned alongside a valid dataset when refreshing the cached copy
// failed.
var ErrCacheWriteBack = errors.New("analytics: cache write-back failed")

// Repository loads the scoped fact sets every aggregation derives from.
type Repository interface {
	LineFacts(ctx context.Context, q ScopedQuery, w period.Window) ([]LineFact, error)
	ExpenseFacts(ctx context.Context, q ScopedQuery, w period.Window) ([]ExpenseFact, error)
}

// SignalRecorder observes freshly evaluated health signals.
type SignalRecorder interface {
	ObserveHealthSignal(rule, level string)
}

// Dataset bundles every aggregate for one query, as consumed by exports.
type Dataset struct {
	Query       ScopedQuery      `json:"query"`
	Summary     Summary          `json:"summary"`
	Flow        FlowSeries       `json:"flow"`
	Expenses    ExpenseBreakdown `json:"expenses"`
	Health      health.Report    `json:"health"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Service coordinates analytics query execution with the cache layer.
type Service struct {
	repo    Repository
	cache   *Cache
	engine  *health.Engine
	signals SignalRecorder
	now     func() time.Time
}

// NewService wires a Repository with a Cache helper and a health engine.
func NewService(repo Repository, cache *Cache, engine *health.Engine) *Service {
	if engine == nil {
		engine = health.NewDefaultEngine(health.DefaultPolicy())
	}
	return &Service{repo: repo, cache: cache, engine: engine, now: time.Now}
}

// WithSignalRecorder attaches a recorder for evaluated health signals.
func (s *Service) WithSignalRecorder(rec SignalRecorder) *Service {
	s.signals = rec
	return s
}

// WithNow overrides the clock used for dataset timestamps.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Invalidate drops every cached aggregate for a tenant.
func (s *Service) Invalidate(ctx context.Context, tenantID int64) error {
	return s.cache.Bump(ctx, tenantID)
}

// Summary returns the headline metrics for q.
func (s *Service) Summary(ctx context.Context, q ScopedQuery) (Summary, error) {
	return cached(ctx, s, "summary", q, func(ctx context.Context) (Summary, error) {
		facts, err := s.loadFacts(ctx, q, q.Window())
		if err != nil {
			return Summary{}, err
		}
		return Summarize(facts, q.Currency), nil
	})
}

// Flow returns the gap-filled cash-flow series for q.
func (s *Service) Flow(ctx context.Context, q ScopedQuery) (FlowSeries, error) {
	return cached(ctx, s, "flow", q, func(ctx context.Context) (FlowSeries, error) {
		facts, err := s.loadFacts(ctx, q, q.Window())
		if err != nil {
			return FlowSeries{}, err
		}
		return Flow(facts, q.Window(), q.Granularity), nil
	})
}

// Expenses returns the category breakdown for q.
func (s *Service) Expenses(ctx context.Context, q ScopedQuery) (ExpenseBreakdown, error) {
	return cached(ctx, s, "expenses", q, func(ctx context.Context) (ExpenseBreakdown, error) {
		facts, err := s.loadFacts(ctx, q, q.Window())
		if err != nil {
			return ExpenseBreakdown{}, err
		}
		return Breakdown(facts, q.Limit), nil
	})
}

// Health evaluates the rule set over complete buckets ending at q's last day.
func (s *Service) Health(ctx context.Context, q ScopedQuery) (health.Report, error) {
	return cached(ctx, s, "health", q, func(ctx context.Context) (health.Report, error) {
		extended := q.Window().Extend(HealthLookbackMonths)
		facts, err := s.loadFacts(ctx, q, extended)
		if err != nil {
			return health.Report{}, err
		}
		return s.evaluate(facts, extended), nil
	})
}

// Dataset computes every aggregate for q from a single fact load.
func (s *Service) Dataset(ctx context.Context, q ScopedQuery) (Dataset, error) {
	return cached(ctx, s, "dataset", q, func(ctx context.Context) (Dataset, error) {
		return s.dataset(ctx, q)
	})
}

// FreshDataset computes the dataset from current facts, bypassing the cache, and
// refreshes the cached copy.
func (s *Service) FreshDataset(ctx context.Context, q ScopedQuery) (Dataset, error) {
	ds, err := s.dataset(ctx, q)
	if err != nil {
		return Dataset{}, err
	}
	key, err := s.cache.BuildKey(ctx, "dataset", q.TenantID, q.Fragment())
	if err == nil {
		err = s.cache.StoreJSON(ctx, key, ds)
	}
	if err != nil {
		return ds, fmt.Errorf("%w: %w", ErrCacheWriteBack, err)
	}
	return ds, nil
}

func (s *Service) dataset(ctx context.Context, q ScopedQuery) (Dataset, error) {
	extended := q.Window().Extend(HealthLookbackMonths)
	all, err := s.loadFacts(ctx, q, extended)
	if err != nil {
		return Dataset{}, err
	}
	facts := all.Within(q.Window())
	return Dataset{
		Query:       q,
		Summary:     Summarize(facts, q.Currency),
		Flow:        Flow(facts, q.Window(), q.Granularity),
		Expenses:    Breakdown(facts, q.Limit),
		Health:      s.evaluate(all, extended),
		GeneratedAt: s.now().UTC(),
	}, nil
}

func (s *Service) evaluate(facts Facts, w period.Window) health.Report {
	report := s.engine.Evaluate(BuildHistory(facts, w))
	if s.signals != nil {
		for _, signal := range report.Signals {
			s.signals.ObserveHealthSignal(signal.Rule, string(signal.Level))
		}
	}
	return report
}

// loadFacts runs both fact queries concurrently.
func (s *Service) loadFacts(ctx context.Context, q ScopedQuery, w period.Window) (Facts, error) {
	var facts Facts
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		lines, err := s.repo.LineFacts(gctx, q, w)
		if err != nil {
			return fmt.Errorf("analytics: load lines: %w", err)
		}
		facts.Lines = lines
		return nil
	})
	group.Go(func() error {
		expenses, err := s.repo.ExpenseFacts(gctx, q, w)
		if err != nil {
			return fmt.Errorf("analytics: load expenses: %w", err)
		}
		facts.Expenses = expenses
		return nil
	})
	if err := group.Wait(); err != nil {
		return Facts{}, err
	}
	return facts, nil
}

func cached[T any](ctx context.Context, s *Service, op string, q ScopedQuery, load func(context.Context) (T, error)) (T, error) {
	var out T
	key, err := s.cache.BuildKey(ctx, op, q.TenantID, q.Fragment())
	if err != nil {
		return out, fmt.Errorf("analytics: cache key: %w", err)
	}
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	return out, err
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
