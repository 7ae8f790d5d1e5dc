// Package health evaluates rule-based financial health signals over bucketed history.
// It has no database dependency; callers build a History from their own aggregates.
package health

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
)

// Point is one complete week or month of aggregated activity.
type Point struct {
	Key        string
	Revenue    decimal.Decimal
	COGS       decimal.Decimal
	Expenses   decimal.Decimal
	ByCategory map[string]decimal.Decimal
}

// GrossMargin returns the gross margin percentage, zero when revenue is zero.
func (p Point) GrossMargin() decimal.Decimal {
	return ledger.Percent(p.Revenue.Sub(p.COGS), p.Revenue)
}

// Net returns revenue minus COGS minus operating expenses.
func (p Point) Net() decimal.Decimal {
	return p.Revenue.Sub(p.COGS).Sub(p.Expenses)
}

// Category returns the expense amount recorded for category, zero when absent.
func (p Point) Category(name string) decimal.Decimal {
	if p.ByCategory == nil {
		return decimal.Zero
	}
	if v, ok := p.ByCategory[name]; ok {
		return v
	}
	return decimal.Zero
}

// History carries complete buckets in ascending key order.
type History struct {
	Weeks  []Point
	Months []Point
}
