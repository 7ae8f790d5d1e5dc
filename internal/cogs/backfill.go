package cogs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics/period"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const (
	// DefaultBatchSize is the page size used when a request leaves it unset.
	DefaultBatchSize = 500
	// MaxBatchSize bounds memory held per page.
	MaxBatchSize = 5000
	// DefaultLockTTL bounds how long a crashed run can block its scope.
	DefaultLockTTL = 5 * time.Minute
)

// ErrBackfillInProgress is returned when another run holds the scope lock.
var ErrBackfillInProgress = errors.New("cogs: backfill already running for scope")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// BackfillRequest scopes a backfill run. From and To are inclusive local dates interpreted
// in Timezone; either may be empty for an open bound.
type BackfillRequest struct {
	TenantID  int64  `json:"tenant_id" validate:"required,gt=0"`
	StoreID   *int64 `json:"store_id,omitempty" validate:"omitempty,gt=0"`
	From      string `json:"from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	To        string `json:"to,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Timezone  string `json:"tz,omitempty"`
	BatchSize int    `json:"batch_size,omitempty" validate:"gte=0,lte=5000"`
	DryRun    bool   `json:"dry_run"`
}

// Validate checks the request shape.
func (r BackfillRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return shared.Invalid(fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return shared.Invalid("request", err.Error())
	}
	if r.From != "" && r.To != "" && r.From > r.To {
		return shared.Invalid("from", "must not be after to")
	}
	return nil
}

// Bounds returns the UTC instants bounding order creation, nil when open.
func (r BackfillRequest) Bounds() (start, end *time.Time, err error) {
	loc := period.LoadLocation(r.Timezone)
	if r.From != "" {
		from, err := period.ParseDate(r.From, loc)
		if err != nil {
			return nil, nil, shared.Invalid("from", "expected YYYY-MM-DD")
		}
		s := from.UTC()
		start = &s
	}
	if r.To != "" {
		to, err := period.ParseDate(r.To, loc)
		if err != nil {
			return nil, nil, shared.Invalid("to", "expected YYYY-MM-DD")
		}
		y, m, d := to.Date()
		e := time.Date(y, m, d+1, 0, 0, 0, 0, loc).UTC()
		end = &e
	}
	return start, end, nil
}

// Cursor marks the last line visited, ordered by (created_at, id).
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

// Candidate is an unbacked line on a paid order. Cost is nil when the variant is missing.
type Candidate struct {
	ID        int64
	CreatedAt time.Time
	VariantID int64
	Qty       decimal.Decimal
	Cost      *decimal.Decimal
}

// Update is one guarded snapshot write.
type Update struct {
	ID     int64
	Amount decimal.Decimal
}

// BackfillResult summarises a run.
type BackfillResult struct {
	Scanned            int     `json:"scanned"`
	Pending            int     `json:"pending"`
	Updated            int64   `json:"updated"`
	SkippedNonPositive int     `json:"skipped_non_positive"`
	SkippedNoVariant   int     `json:"skipped_no_variant"`
	Batches            int     `json:"batches"`
	LastCursor         *Cursor `json:"last_cursor,omitempty"`
	DryRun             bool    `json:"dry_run"`
}

// Store pages candidates and applies guarded updates.
type Store interface {
	NextBatch(ctx context.Context, req BackfillRequest, after *Cursor, limit int) ([]Candidate, error)
	ApplyBatch(ctx context.Context, tenantID int64, updates []Update) (int64, error)
}

// Locker obtains distributed scope locks.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// LineObserver counts backfill outcomes.
type LineObserver interface {
	ObserveBackfillLines(outcome string, n int)
}

// Processor backfills COGS snapshots for unbacked lines.
type Processor struct {
	store    Store
	locker   Locker
	cache    Invalidator
	observer LineObserver
	logger   *slog.Logger

	batchSize int
	lockTTL   time.Duration
}

// ProcessorOption customises a Processor.
type ProcessorOption func(*Processor)

// WithBatchSize sets the default page size.
func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 && n <= MaxBatchSize {
			p.batchSize = n
		}
	}
}

// WithLockTTL sets the scope lock lifetime; the lock is refreshed after each page.
func WithLockTTL(ttl time.Duration) ProcessorOption {
	return func(p *Processor) {
		if ttl > 0 {
			p.lockTTL = ttl
		}
	}
}

// WithObserver attaches an outcome counter.
func WithObserver(o LineObserver) ProcessorOption {
	return func(p *Processor) { p.observer = o }
}

// NewProcessor constructs a Processor. A nil locker runs without scope locking.
func NewProcessor(store Store, locker Locker, cache Invalidator, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		store:     store,
		locker:    locker,
		cache:     cache,
		logger:    logger,
		batchSize: DefaultBatchSize,
		lockTTL:   DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run walks unbacked lines in scope page by page and writes their snapshots. Each write
// revalidates the unbacked predicate, so concurrent writers and repeated runs never
// overwrite a backed line.
func (p *Processor) Run(ctx context.Context, req BackfillRequest) (BackfillResult, error) {
	result := BackfillResult{DryRun: req.DryRun}
	if err := req.Validate(); err != nil {
		return result, err
	}
	if _, _, err := req.Bounds(); err != nil {
		return result, err
	}
	limit := req.BatchSize
	if limit <= 0 {
		limit = p.batchSize
	}
	logger := p.logger.With(
		slog.Int64("tenant_id", req.TenantID),
		slog.Bool("dry_run", req.DryRun),
	)

	var lock *redislock.Lock
	if p.locker != nil {
		var err error
		lock, err = p.locker.Obtain(ctx, shared.BackfillLockKey(req.TenantID, req.StoreID), p.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return result, ErrBackfillInProgress
		}
		if err != nil {
			return result, fmt.Errorf("cogs: obtain lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Warn("release backfill lock", slog.Any("error", err))
			}
		}()
	}

	var cursor *Cursor
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch, err := p.store.NextBatch(ctx, req, cursor, limit)
		if err != nil {
			return result, fmt.Errorf("cogs: next batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		result.Batches++
		result.Scanned += len(batch)

		updates := make([]Update, 0, len(batch))
		for _, c := range batch {
			switch {
			case !c.Qty.IsPositive():
				result.SkippedNonPositive++
			case c.Cost == nil:
				result.SkippedNoVariant++
			default:
				amount := Snapshot(c.Qty, *c.Cost)
				if !amount.IsPositive() {
					result.SkippedNoVariant++
					continue
				}
				updates = append(updates, Update{ID: c.ID, Amount: amount})
			}
		}
		result.Pending += len(updates)
		last := batch[len(batch)-1]
		cursor = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		result.LastCursor = cursor

		if !req.DryRun && len(updates) > 0 {
			n, err := p.store.ApplyBatch(ctx, req.TenantID, updates)
			if err != nil {
				return result, fmt.Errorf("cogs: apply batch: %w", err)
			}
			result.Updated += n
		}
		if lock != nil {
			if err := lock.Refresh(ctx, p.lockTTL, nil); err != nil {
				return result, fmt.Errorf("cogs: refresh lock: %w", err)
			}
		}
		logger.Debug("backfill batch", slog.Int("batch", result.Batches), slog.Int("size", len(batch)), slog.Int("pending", len(updates)))
		if len(batch) < limit {
			break
		}
	}

	p.observe(result)
	if result.Updated > 0 && p.cache != nil {
		if err := p.cache.Invalidate(ctx, req.TenantID); err != nil {
			logger.Warn("analytics cache bump failed", slog.Any("error", err))
		}
	}
	logger.Info("backfill finished",
		slog.Int("scanned", result.Scanned),
		slog.Int64("updated", result.Updated),
		slog.Int("skipped_non_positive", result.SkippedNonPositive),
		slog.Int("skipped_no_variant", result.SkippedNoVariant),
		slog.Int("batches", result.Batches),
	)
	return result, nil
}

func (p *Processor) observe(result BackfillResult) {
	if p.observer == nil {
		return
	}
	if result.DryRun {
		p.observer.ObserveBackfillLines("pending", result.Pending)
	} else {
		p.observer.ObserveBackfillLines("updated", int(result.Updated))
	}
	p.observer.ObserveBackfillLines("skipped_non_positive", result.SkippedNonPositive)
	p.observer.ObserveBackfillLines("skipped_no_variant", result.SkippedNoVariant)
}
