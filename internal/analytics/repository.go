package analytics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics/period"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
)

// PGRepository loads scoped fact sets from Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the Postgres-backed repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// LineFacts returns paid order lines in scope for the window.
func (r *PGRepository) LineFacts(ctx context.Context, q ScopedQuery, w period.Window) ([]LineFact, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("analytics: repository not initialised")
	}
	query, args, err := lineFactsQuery(q, w)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: line facts: %w", err)
	}
	defer rows.Close()
	var facts []LineFact
	for rows.Next() {
		var f LineFact
		if err := rows.Scan(&f.OrderID, &f.StoreID, &f.CreatedAt, &f.Qty, &f.UnitPrice, &f.COGS); err != nil {
			return nil, fmt.Errorf("analytics: scan line fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// ExpenseFacts returns expenses in scope for the window.
func (r *PGRepository) ExpenseFacts(ctx context.Context, q ScopedQuery, w period.Window) ([]ExpenseFact, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("analytics: repository not initialised")
	}
	query, args, err := expenseFactsQuery(q, w)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: expense facts: %w", err)
	}
	defer rows.Close()
	var facts []ExpenseFact
	for rows.Next() {
		var f ExpenseFact
		if err := rows.Scan(&f.StoreID, &f.Category, &f.Amount, &f.IncurredAt); err != nil {
			return nil, fmt.Errorf("analytics: scan expense fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// ActiveStores lists active stores for a tenant, or for every tenant when tenantID is 0.
func (r *PGRepository) ActiveStores(ctx context.Context, tenantID int64) ([]ledger.Store, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("analytics: repository not initialised")
	}
	query, args, err := activeStoresQuery(tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: active stores: %w", err)
	}
	defer rows.Close()
	var stores []ledger.Store
	for rows.Next() {
		store := ledger.Store{Active: true}
		if err := rows.Scan(&store.ID, &store.TenantID, &store.Name, &store.Currency, &store.Timezone); err != nil {
			return nil, fmt.Errorf("analytics: scan store: %w", err)
		}
		stores = append(stores, store)
	}
	return stores, rows.Err()
}
