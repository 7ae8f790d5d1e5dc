package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus captures the lifecycle state of a POS order.
type OrderStatus string

const (
	OrderDraft    OrderStatus = "draft"
	OrderPaid     OrderStatus = "paid"
	OrderRefunded OrderStatus = "refunded"
	OrderVoid     OrderStatus = "void"
)

// Counts reports whether orders in this status participate in financial aggregation.
func (s OrderStatus) Counts() bool {
	return s == OrderPaid
}

// Order is a tenant-owned sale recorded at a store.
type Order struct {
	ID        int64
	TenantID  int64
	StoreID   int64
	Status    OrderStatus
	Currency  string
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
	CreatedAt time.Time
}

// OrderItem is a single line on an order. COGSAmount is the point-in-time cost snapshot;
// nil or non-positive values on a paid order mark the line as unbacked.
type OrderItem struct {
	ID         int64
	TenantID   int64
	OrderID    int64
	VariantID  int64
	Qty        decimal.Decimal
	UnitPrice  decimal.Decimal
	COGSAmount *decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LineRevenue returns qty * unit_price.
func (i OrderItem) LineRevenue() decimal.Decimal {
	return i.Qty.Mul(i.UnitPrice)
}

// Backed reports whether the line carries a usable COGS snapshot.
func (i OrderItem) Backed() bool {
	return i.COGSAmount != nil && i.COGSAmount.IsPositive()
}

// Variant holds the current, mutable cost and price of a sellable item.
type Variant struct {
	ID       int64
	TenantID int64
	SKU      string
	Name     string
	Cost     decimal.Decimal
	Price    decimal.Decimal
}

// Expense is an operating cost. A nil StoreID applies tenant-wide. IncurredAt is a local
// business wall-clock time without zone information.
type Expense struct {
	ID         int64
	TenantID   int64
	StoreID    *int64
	Category   string
	Amount     decimal.Decimal
	Currency   string
	IncurredAt time.Time
}

// Store is a tenant-owned sales location with its own currency and timezone.
type Store struct {
	ID       int64
	TenantID int64
	Name     string
	Currency string
	Timezone string
	Active   bool
}
