package cogs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func dp(v string) *decimal.Decimal {
	x := d(v)
	return &x
}

func TestSnapshotRoundsAndClamps(t *testing.T) {
	require.Equal(t, "60", Snapshot(d("3"), d("20")).String())
	require.Equal(t, "3.7", Snapshot(d("1.5"), d("2.4655")).String())
	require.True(t, Snapshot(d("0"), d("20")).IsZero())
	require.True(t, Snapshot(d("-2"), d("20")).IsZero())
	require.True(t, Snapshot(d("2"), d("-5")).IsZero())
}

type fakeRow struct {
	cost decimal.Decimal
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*decimal.Decimal)) = r.cost
	return nil
}

type fakeQuerier struct {
	row   fakeRow
	calls int
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.calls++
	return q.row
}

func TestRecordLineWrite(t *testing.T) {
	rec := NewRecorder(nil)
	ctx := context.Background()
	line := ledger.OrderItem{TenantID: 1, VariantID: 5, Qty: d("4"), UnitPrice: d("55")}

	q := &fakeQuerier{row: fakeRow{cost: d("20")}}
	require.Equal(t, "80", rec.RecordLineWrite(ctx, q, line).String())

	missing := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	require.True(t, rec.RecordLineWrite(ctx, missing, line).IsZero())

	broken := &fakeQuerier{row: fakeRow{err: errors.New("connection reset")}}
	require.True(t, rec.RecordLineWrite(ctx, broken, line).IsZero())

	zeroQty := &fakeQuerier{row: fakeRow{cost: d("20")}}
	line.Qty = d("0")
	require.True(t, rec.RecordLineWrite(ctx, zeroQty, line).IsZero())
	require.Zero(t, zeroQty.calls)
}

type memLine struct {
	id        int64
	tenantID  int64
	storeID   int64
	status    ledger.OrderStatus
	createdAt time.Time
	qty       decimal.Decimal
	cost      *decimal.Decimal
	cogs      *decimal.Decimal
}

type memStore struct {
	mu     sync.Mutex
	lines  []*memLine
	writes int
}

func (s *memStore) unbacked(l *memLine) bool {
	return l.cogs == nil || !l.cogs.IsPositive()
}

func (s *memStore) NextBatch(ctx context.Context, req BackfillRequest, after *Cursor, limit int) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := append([]*memLine(nil), s.lines...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].createdAt.Equal(sorted[j].createdAt) {
			return sorted[i].createdAt.Before(sorted[j].createdAt)
		}
		return sorted[i].id < sorted[j].id
	})
	var out []Candidate
	for _, l := range sorted {
		if l.tenantID != req.TenantID || l.status != ledger.OrderPaid || !s.unbacked(l) || !l.qty.IsPositive() {
			continue
		}
		if req.StoreID != nil && l.storeID != *req.StoreID {
			continue
		}
		if after != nil {
			if l.createdAt.Before(after.CreatedAt) || (l.createdAt.Equal(after.CreatedAt) && l.id <= after.ID) {
				continue
			}
		}
		out = append(out, Candidate{ID: l.id, CreatedAt: l.createdAt, Qty: l.qty, Cost: l.cost})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) ApplyBatch(ctx context.Context, tenantID int64, updates []Update) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, u := range updates {
		for _, l := range s.lines {
			if l.id == u.ID && l.tenantID == tenantID && s.unbacked(l) {
				amount := u.Amount
				l.cogs = &amount
				n++
				s.writes++
			}
		}
	}
	return n, nil
}

type countingCache struct{ bumps map[int64]int }

func (c *countingCache) Invalidate(ctx context.Context, tenantID int64) error {
	if c.bumps == nil {
		c.bumps = map[int64]int{}
	}
	c.bumps[tenantID]++
	return nil
}

type outcomeCounter map[string]int

func (o outcomeCounter) ObserveBackfillLines(outcome string, n int) { o[outcome] += n }

func seedStore() *memStore {
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	return &memStore{lines: []*memLine{
		{id: 1, tenantID: 1, storeID: 1, status: ledger.OrderPaid, createdAt: base, qty: d("3"), cost: dp("20")},
		{id: 2, tenantID: 1, storeID: 1, status: ledger.OrderPaid, createdAt: base, qty: d("2"), cost: dp("20"), cogs: dp("0")},
		{id: 3, tenantID: 1, storeID: 2, status: ledger.OrderPaid, createdAt: base.Add(time.Hour), qty: d("0"), cost: dp("20")},
		{id: 4, tenantID: 1, storeID: 2, status: ledger.OrderPaid, createdAt: base.Add(2 * time.Hour), qty: d("1"), cost: nil},
		{id: 5, tenantID: 1, storeID: 1, status: ledger.OrderPaid, createdAt: base.Add(3 * time.Hour), qty: d("4"), cost: dp("20"), cogs: dp("80")},
		{id: 6, tenantID: 1, storeID: 1, status: ledger.OrderDraft, createdAt: base.Add(4 * time.Hour), qty: d("4"), cost: dp("20")},
		{id: 7, tenantID: 2, storeID: 9, status: ledger.OrderPaid, createdAt: base, qty: d("1"), cost: dp("20")},
		{id: 8, tenantID: 1, storeID: 1, status: ledger.OrderPaid, createdAt: base.Add(5 * time.Hour), qty: d("1.5"), cost: dp("10")},
	}}
}

func TestBackfillIsIdempotent(t *testing.T) {
	store := seedStore()
	cache := &countingCache{}
	outcomes := outcomeCounter{}
	proc := NewProcessor(store, nil, cache, nil, WithBatchSize(2), WithObserver(outcomes))
	ctx := context.Background()

	first, err := proc.Run(ctx, BackfillRequest{TenantID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(3), first.Updated)
	require.Equal(t, 4, first.Scanned)
	require.Zero(t, first.SkippedNonPositive)
	require.Equal(t, 1, first.SkippedNoVariant)
	require.Equal(t, 2, first.Batches)
	require.Equal(t, int64(8), first.LastCursor.ID)
	require.Equal(t, "60", store.lines[0].cogs.String())
	require.Equal(t, "40", store.lines[1].cogs.String())
	require.Equal(t, "15", store.lines[7].cogs.String())
	require.Nil(t, store.lines[2].cogs)
	require.Equal(t, "80", store.lines[4].cogs.String())
	require.Nil(t, store.lines[6].cogs)
	require.Equal(t, 1, cache.bumps[1])
	require.Equal(t, 3, outcomes["updated"])

	second, err := proc.Run(ctx, BackfillRequest{TenantID: 1})
	require.NoError(t, err)
	require.Zero(t, second.Updated)
	require.Zero(t, second.Pending)
	require.Equal(t, 1, second.Scanned)
	require.Equal(t, 1, second.SkippedNoVariant)
	require.Zero(t, second.SkippedNonPositive)
	require.Equal(t, 3, store.writes)
	require.Equal(t, 1, cache.bumps[1])
}

// onceStore hands out a single batch regardless of filters.
type onceStore struct {
	batch   []Candidate
	applied []Update
}

func (s *onceStore) NextBatch(_ context.Context, _ BackfillRequest, after *Cursor, _ int) ([]Candidate, error) {
	if after != nil {
		return nil, nil
	}
	return s.batch, nil
}

func (s *onceStore) ApplyBatch(_ context.Context, _ int64, updates []Update) (int64, error) {
	s.applied = append(s.applied, updates...)
	return int64(len(updates)), nil
}

func TestBackfillSkipsNonPositiveQuantities(t *testing.T) {
	at := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	store := &onceStore{batch: []Candidate{
		{ID: 1, CreatedAt: at, Qty: d("-1"), Cost: dp("20")},
		{ID: 2, CreatedAt: at, Qty: d("2"), Cost: dp("20")},
	}}
	result, err := NewProcessor(store, nil, nil, nil).Run(context.Background(), BackfillRequest{TenantID: 1})
	require.NoError(t, err)
	require.Equal(t, 1, result.SkippedNonPositive)
	require.Equal(t, int64(1), result.Updated)
	require.Len(t, store.applied, 1)
	require.Equal(t, int64(2), store.applied[0].ID)
	require.Equal(t, "40", store.applied[0].Amount.String())
}

func TestBackfillDryRunWritesNothing(t *testing.T) {
	store := seedStore()
	proc := NewProcessor(store, nil, nil, nil)

	result, err := proc.Run(context.Background(), BackfillRequest{TenantID: 1, StoreID: int64Ptr(1), DryRun: true})
	require.NoError(t, err)
	require.True(t, result.DryRun)
	require.Equal(t, 3, result.Pending)
	require.Zero(t, result.Updated)
	require.Zero(t, store.writes)
}

func TestBackfillRejectsConcurrentRunOnSameScope(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	locker := redislock.New(client)
	ctx := context.Background()

	held, err := locker.Obtain(ctx, shared.BackfillLockKey(1, nil), time.Minute, nil)
	require.NoError(t, err)

	proc := NewProcessor(seedStore(), locker, nil, nil)
	_, err = proc.Run(ctx, BackfillRequest{TenantID: 1})
	require.ErrorIs(t, err, ErrBackfillInProgress)

	_, err = proc.Run(ctx, BackfillRequest{TenantID: 1, StoreID: int64Ptr(2)})
	require.NoError(t, err)

	require.NoError(t, held.Release(ctx))
	result, err := proc.Run(ctx, BackfillRequest{TenantID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(3), result.Updated)
	require.False(t, mr.Exists(shared.BackfillLockKey(1, nil)))
}

func TestBackfillRequestValidation(t *testing.T) {
	require.Error(t, BackfillRequest{}.Validate())
	require.Error(t, BackfillRequest{TenantID: 1, BatchSize: 5001}.Validate())
	require.Error(t, BackfillRequest{TenantID: 1, From: "2025-02-01", To: "2025-01-01"}.Validate())
	require.Error(t, BackfillRequest{TenantID: 1, From: "01/02/2025"}.Validate())
	require.NoError(t, BackfillRequest{TenantID: 1, From: "2025-01-01", To: "2025-01-31", Timezone: "Asia/Jakarta"}.Validate())
}

func TestCandidatesQueryIsScoped(t *testing.T) {
	after := &Cursor{CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), ID: 42}
	sql, args, err := candidatesQuery(BackfillRequest{TenantID: 3, StoreID: int64Ptr(4), From: "2025-01-01", To: "2025-01-31"}, after, 100)
	require.NoError(t, err)
	require.Contains(t, sql, "oi.tenant_id = $1")
	require.Contains(t, sql, "oi.cogs_amount IS NULL OR oi.cogs_amount <= $3")
	require.Contains(t, sql, "oi.qty > $4")
	require.Contains(t, sql, "(oi.created_at, oi.id) > ($8, $9)")
	require.Contains(t, sql, "LIMIT 100")
	require.Equal(t, int64(3), args[0])
	require.Equal(t, 0, args[3])
	require.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), args[6])

	_, _, err = candidatesQuery(BackfillRequest{}, nil, 10)
	require.Error(t, err)
}

func int64Ptr(v int64) *int64 { return &v }
