// Package cogs snapshots cost of goods sold onto order lines at write time and
// backfills lines that were written without a usable snapshot.
package cogs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Querier is satisfied by pgx.Tx, pgx.Conn and pgxpool.Pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Snapshot returns round(qty * max(cost, 0), 2). Non-positive quantities snapshot to zero.
func Snapshot(qty, cost decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	return ledger.Round2(qty.Mul(cost))
}

// Recorder computes the COGS snapshot for a line being written.
type Recorder struct {
	logger *slog.Logger
}

// NewRecorder constructs a recorder.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

// RecordLineWrite resolves the variant's current cost through q and returns the snapshot
// for line. Missing variants and lookup failures degrade to zero; the line stays unbacked
// and is picked up by the backfill.
func (r *Recorder) RecordLineWrite(ctx context.Context, q Querier, line ledger.OrderItem) decimal.Decimal {
	if !line.Qty.IsPositive() {
		return decimal.Zero
	}
	cost, err := variantCost(ctx, q, line.TenantID, line.VariantID)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, pgx.ErrNoRows) {
			level = slog.LevelDebug
		}
		r.logger.Log(ctx, level, "cogs snapshot unavailable",
			slog.Int64("tenant_id", line.TenantID),
			slog.Int64("variant_id", line.VariantID),
			slog.Any("error", err),
		)
		return decimal.Zero
	}
	return Snapshot(line.Qty, cost)
}

func variantCost(ctx context.Context, q Querier, tenantID, variantID int64) (decimal.Decimal, error) {
	query, args, err := psql.
		Select("cost").
		From("variants").
		Where(squirrel.Eq{"tenant_id": tenantID, "id": variantID}).
		ToSql()
	if err != nil {
		return decimal.Zero, err
	}
	var cost decimal.Decimal
	if err := q.QueryRow(ctx, query, args...).Scan(&cost); err != nil {
		return decimal.Zero, err
	}
	return cost, nil
}
