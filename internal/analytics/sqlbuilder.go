package analytics

import (
	"errors"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics/period"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var errTenantRequired = errors.New("analytics: tenant predicate required")

// scopeFilter returns the tenant, store and currency predicates for a table alias. Every
// statement in this package starts from it, so no query can run unscoped.
func scopeFilter(q ScopedQuery, alias string) (squirrel.And, error) {
	if q.TenantID <= 0 {
		return nil, errTenantRequired
	}
	and := squirrel.And{squirrel.Eq{alias + ".tenant_id": q.TenantID}}
	if q.StoreID != nil {
		and = append(and, squirrel.Eq{alias + ".store_id": *q.StoreID})
	}
	if q.Currency != "" {
		and = append(and, squirrel.Eq{alias + ".currency": q.Currency})
	}
	return and, nil
}

// lineFactsQuery selects paid order lines whose order was created inside w.
func lineFactsQuery(q ScopedQuery, w period.Window) (string, []any, error) {
	scope, err := scopeFilter(q, "o")
	if err != nil {
		return "", nil, err
	}
	return psql.
		Select(
			"oi.order_id",
			"o.store_id",
			"o.created_at",
			"oi.qty",
			"oi.unit_price",
			"GREATEST(COALESCE(oi.cogs_amount, 0), 0)",
		).
		From("order_items oi").
		Join("orders o ON o.id = oi.order_id AND o.tenant_id = oi.tenant_id").
		Where(scope).
		Where(squirrel.Eq{"o.status": string(ledger.OrderPaid)}).
		Where(squirrel.GtOrEq{"o.created_at": w.Start}).
		Where(squirrel.Lt{"o.created_at": w.End.Add(time.Second)}).
		OrderBy("o.created_at", "oi.id").
		ToSql()
}

// expenseFactsQuery selects expenses whose wall-clock incurred_at falls on a local day in w.
func expenseFactsQuery(q ScopedQuery, w period.Window) (string, []any, error) {
	scope, err := scopeFilter(q, "e")
	if err != nil {
		return "", nil, err
	}
	from, until := wallBounds(w)
	return psql.
		Select("e.store_id", "e.category", "e.amount", "e.incurred_at").
		From("expenses e").
		Where(scope).
		Where(squirrel.GtOrEq{"e.incurred_at": from}).
		Where(squirrel.Lt{"e.incurred_at": until}).
		OrderBy("e.incurred_at", "e.id").
		ToSql()
}

// activeStoresQuery lists a tenant's active stores, or every active store when tenantID is 0.
func activeStoresQuery(tenantID int64) (string, []any, error) {
	builder := psql.
		Select("id", "tenant_id", "name", "currency", "timezone").
		From("stores").
		Where(squirrel.Eq{"active": true}).
		OrderBy("tenant_id", "id")
	if tenantID > 0 {
		builder = builder.Where(squirrel.Eq{"tenant_id": tenantID})
	}
	return builder.ToSql()
}

// wallBounds returns zone-less [first day, day after last day) bounds for timestamp
// columns that store local wall-clock time.
func wallBounds(w period.Window) (time.Time, time.Time) {
	fy, fm, fd := w.DateFrom.Date()
	ty, tm, td := w.DateTo.Date()
	return time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC), time.Date(ty, tm, td+1, 0, 0, 0, 0, time.UTC)
}
