package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics/period"
)

// LineFact is one paid order line inside the query scope. COGS is already coalesced to
// zero for unbacked lines.
type LineFact struct {
	OrderID   int64
	StoreID   int64
	CreatedAt time.Time
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
	COGS      decimal.Decimal
}

// Revenue returns qty * unit_price.
func (l LineFact) Revenue() decimal.Decimal {
	return l.Qty.Mul(l.UnitPrice)
}

// ExpenseFact is one expense inside the query scope. IncurredAt is local wall-clock time.
type ExpenseFact struct {
	StoreID    *int64
	Category   string
	Amount     decimal.Decimal
	IncurredAt time.Time
}

// Facts is the single filtered row set every aggregation derives from.
type Facts struct {
	Lines    []LineFact
	Expenses []ExpenseFact
}

// Within narrows facts to those inside w. Lines are matched on their UTC instant and
// expenses on their local calendar day.
func (f Facts) Within(w period.Window) Facts {
	out := Facts{
		Lines:    make([]LineFact, 0, len(f.Lines)),
		Expenses: make([]ExpenseFact, 0, len(f.Expenses)),
	}
	for _, line := range f.Lines {
		if w.Contains(line.CreatedAt) {
			out.Lines = append(out.Lines, line)
		}
	}
	for _, exp := range f.Expenses {
		if w.ContainsLocal(exp.IncurredAt) {
			out.Expenses = append(out.Expenses, exp)
		}
	}
	return out
}
