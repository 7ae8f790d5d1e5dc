package cogs

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

// unbacked matches lines without a usable snapshot.
var unbacked = squirrel.Or{
	squirrel.Eq{"oi.cogs_amount": nil},
	squirrel.LtOrEq{"oi.cogs_amount": 0},
}

const guardedUpdateSQL = `UPDATE order_items
SET cogs_amount = $1, updated_at = now()
WHERE id = $2 AND tenant_id = $3 AND (cogs_amount IS NULL OR cogs_amount <= 0)`

// PGStore is the Postgres implementation of Store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// scopeFilter returns the tenant and store predicates for a backfill request. Lines with a
// non-positive quantity never get a snapshot and are excluded so later runs skip them.
func scopeFilter(req BackfillRequest) (squirrel.And, error) {
	if req.TenantID <= 0 {
		return nil, fmt.Errorf("cogs: tenant predicate required")
	}
	and := squirrel.And{
		squirrel.Eq{"oi.tenant_id": req.TenantID},
		squirrel.Eq{"o.status": string(ledger.OrderPaid)},
		unbacked,
		squirrel.Gt{"oi.qty": 0},
	}
	if req.StoreID != nil {
		and = append(and, squirrel.Eq{"o.store_id": *req.StoreID})
	}
	return and, nil
}

func candidatesQuery(req BackfillRequest, after *Cursor, limit int) (string, []any, error) {
	scope, err := scopeFilter(req)
	if err != nil {
		return "", nil, err
	}
	start, end, err := req.Bounds()
	if err != nil {
		return "", nil, err
	}
	builder := psql.
		Select("oi.id", "oi.created_at", "oi.variant_id", "oi.qty", "v.cost").
		From("order_items oi").
		Join("orders o ON o.id = oi.order_id AND o.tenant_id = oi.tenant_id").
		LeftJoin("variants v ON v.id = oi.variant_id AND v.tenant_id = oi.tenant_id").
		Where(scope)
	if start != nil {
		builder = builder.Where(squirrel.GtOrEq{"o.created_at": *start})
	}
	if end != nil {
		builder = builder.Where(squirrel.Lt{"o.created_at": *end})
	}
	if after != nil {
		builder = builder.Where(squirrel.Expr("(oi.created_at, oi.id) > (?, ?)", after.CreatedAt, after.ID))
	}
	return builder.
		OrderBy("oi.created_at", "oi.id").
		Limit(uint64(limit)).
		ToSql()
}

// NextBatch returns up to limit unbacked candidates after the cursor.
func (s *PGStore) NextBatch(ctx context.Context, req BackfillRequest, after *Cursor, limit int) ([]Candidate, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("cogs: store not initialised")
	}
	query, args, err := candidatesQuery(req, after, limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		var cost decimal.NullDecimal
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.VariantID, &c.Qty, &cost); err != nil {
			return nil, err
		}
		if cost.Valid {
			c.Cost = &cost.Decimal
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApplyBatch writes snapshots in one transaction; lines backed since they were read are
// left untouched and not counted.
func (s *PGStore) ApplyBatch(ctx context.Context, tenantID int64, updates []Update) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("cogs: store not initialised")
	}
	var affected int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, u := range updates {
			batch.Queue(guardedUpdateSQL, u.Amount, u.ID, tenantID)
		}
		results := tx.SendBatch(ctx, batch)
		for range updates {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return err
			}
			affected += tag.RowsAffected()
		}
		return results.Close()
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// TenantsWithUnbacked lists tenants that have unbacked paid lines created since since.
func (s *PGStore) TenantsWithUnbacked(ctx context.Context, since time.Time) ([]int64, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("cogs: store not initialised")
	}
	query, args, err := psql.
		Select("DISTINCT oi.tenant_id").
		From("order_items oi").
		Join("orders o ON o.id = oi.order_id AND o.tenant_id = oi.tenant_id").
		Where(squirrel.Eq{"o.status": string(ledger.OrderPaid)}).
		Where(unbacked).
		Where(squirrel.GtOrEq{"o.created_at": since}).
		OrderBy("oi.tenant_id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}
