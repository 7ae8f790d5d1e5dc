package cogs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Invalidator drops cached aggregates for a tenant.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID int64) error
}

// NewLine is the input for adding a line to an order.
type NewLine struct {
	OrderID   int64
	VariantID int64
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
}

// LineChange carries the fields of a line being edited; nil fields are left unchanged.
type LineChange struct {
	VariantID *int64
	Qty       *decimal.Decimal
	UnitPrice *decimal.Decimal
}

// LineWriter persists order lines, snapshotting COGS inside the same transaction and
// keeping the order subtotal in step with its lines.
type LineWriter struct {
	pool     *pgxpool.Pool
	recorder *Recorder
	cache    Invalidator
	logger   *slog.Logger
}

// NewLineWriter constructs a LineWriter.
func NewLineWriter(pool *pgxpool.Pool, recorder *Recorder, cache Invalidator, logger *slog.Logger) *LineWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = NewRecorder(logger)
	}
	return &LineWriter{pool: pool, recorder: recorder, cache: cache, logger: logger}
}

// InsertLine adds a line to a tenant's order.
func (w *LineWriter) InsertLine(ctx context.Context, tenantID int64, in NewLine) (ledger.OrderItem, error) {
	if w == nil || w.pool == nil {
		return ledger.OrderItem{}, fmt.Errorf("cogs: writer not initialised")
	}
	item := ledger.OrderItem{
		TenantID:  tenantID,
		OrderID:   in.OrderID,
		VariantID: in.VariantID,
		Qty:       in.Qty,
		UnitPrice: in.UnitPrice,
	}
	err := db.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		if err := lockOrder(ctx, tx, tenantID, in.OrderID); err != nil {
			return err
		}
		amount := w.recorder.RecordLineWrite(ctx, tx, item)
		item.COGSAmount = &amount
		query, args, err := psql.
			Insert("order_items").
			Columns("tenant_id", "order_id", "variant_id", "qty", "unit_price", "cogs_amount").
			Values(tenantID, in.OrderID, in.VariantID, in.Qty, in.UnitPrice, amount).
			Suffix("RETURNING id, created_at, updated_at").
			ToSql()
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, query, args...).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return fmt.Errorf("cogs: insert line: %w", err)
		}
		return refreshOrderTotals(ctx, tx, tenantID, in.OrderID)
	})
	if err != nil {
		return ledger.OrderItem{}, err
	}
	w.invalidate(ctx, tenantID)
	return item, nil
}

// UpdateLine edits a line. The snapshot is recomputed only when the quantity or variant
// changes; a price edit keeps the recorded cost.
func (w *LineWriter) UpdateLine(ctx context.Context, tenantID, itemID int64, change LineChange) (ledger.OrderItem, error) {
	if w == nil || w.pool == nil {
		return ledger.OrderItem{}, fmt.Errorf("cogs: writer not initialised")
	}
	var item ledger.OrderItem
	err := db.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		current, err := lockLine(ctx, tx, tenantID, itemID)
		if err != nil {
			return err
		}
		item = current
		resnapshot := false
		if change.Qty != nil && !change.Qty.Equal(current.Qty) {
			item.Qty = *change.Qty
			resnapshot = true
		}
		if change.VariantID != nil && *change.VariantID != current.VariantID {
			item.VariantID = *change.VariantID
			resnapshot = true
		}
		if change.UnitPrice != nil {
			item.UnitPrice = *change.UnitPrice
		}
		if resnapshot {
			amount := w.recorder.RecordLineWrite(ctx, tx, item)
			item.COGSAmount = &amount
		}
		query, args, err := psql.
			Update("order_items").
			Set("variant_id", item.VariantID).
			Set("qty", item.Qty).
			Set("unit_price", item.UnitPrice).
			Set("cogs_amount", item.COGSAmount).
			Set("updated_at", squirrel.Expr("now()")).
			Where(squirrel.Eq{"id": itemID, "tenant_id": tenantID}).
			Suffix("RETURNING updated_at").
			ToSql()
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, query, args...).Scan(&item.UpdatedAt); err != nil {
			return fmt.Errorf("cogs: update line: %w", err)
		}
		return refreshOrderTotals(ctx, tx, tenantID, item.OrderID)
	})
	if err != nil {
		return ledger.OrderItem{}, err
	}
	w.invalidate(ctx, tenantID)
	return item, nil
}

func (w *LineWriter) invalidate(ctx context.Context, tenantID int64) {
	if w.cache == nil {
		return
	}
	if err := w.cache.Invalidate(ctx, tenantID); err != nil {
		w.logger.Warn("analytics cache bump failed", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
	}
}

func lockOrder(ctx context.Context, tx pgx.Tx, tenantID, orderID int64) error {
	query, args, err := psql.
		Select("id").
		From("orders").
		Where(squirrel.Eq{"id": orderID, "tenant_id": tenantID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return err
	}
	var id int64
	if err := tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		return fmt.Errorf("cogs: lock order: %w", err)
	}
	return nil
}

func lockLine(ctx context.Context, tx pgx.Tx, tenantID, itemID int64) (ledger.OrderItem, error) {
	query, args, err := psql.
		Select("id", "tenant_id", "order_id", "variant_id", "qty", "unit_price", "cogs_amount", "created_at", "updated_at").
		From("order_items").
		Where(squirrel.Eq{"id": itemID, "tenant_id": tenantID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return ledger.OrderItem{}, err
	}
	var item ledger.OrderItem
	var cogs decimal.NullDecimal
	err = tx.QueryRow(ctx, query, args...).Scan(
		&item.ID, &item.TenantID, &item.OrderID, &item.VariantID,
		&item.Qty, &item.UnitPrice, &cogs, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.OrderItem{}, shared.ErrNotFound
		}
		return ledger.OrderItem{}, fmt.Errorf("cogs: lock line: %w", err)
	}
	if cogs.Valid {
		item.COGSAmount = &cogs.Decimal
	}
	return item, nil
}

const refreshTotalsSQL = `UPDATE orders o
SET subtotal = s.subtotal,
    total = s.subtotal + o.tax - o.discount,
    updated_at = now()
FROM (
    SELECT COALESCE(SUM(ROUND(qty * unit_price, 2)), 0) AS subtotal
    FROM order_items
    WHERE order_id = $1 AND tenant_id = $2
) s
WHERE o.id = $1 AND o.tenant_id = $2`

func refreshOrderTotals(ctx context.Context, tx pgx.Tx, tenantID, orderID int64) error {
	if _, err := tx.Exec(ctx, refreshTotalsSQL, orderID, tenantID); err != nil {
		return fmt.Errorf("cogs: refresh order totals: %w", err)
	}
	return nil
}
