package analytics

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics/health"
	"github.com/odyssey-erp/odyssey-pos/internal/analytics/period"
)

// HealthLookbackMonths is how far before date_from the health history reaches.
const HealthLookbackMonths = 6

// BuildHistory folds facts loaded over an extended window into complete weekly and
// monthly points. Partial buckets at either edge of the window are dropped.
func BuildHistory(facts Facts, w period.Window) health.History {
	weeks := newPoints(period.CompleteBuckets(w, period.Week))
	months := newPoints(period.CompleteBuckets(w, period.Month))

	weekOf := period.BucketFunc(period.Week, w.Location)
	monthOf := period.BucketFunc(period.Month, w.Location)
	for _, line := range facts.Lines {
		revenue := line.Revenue()
		if p, ok := weeks.index[weekOf(line.CreatedAt)]; ok {
			p.Revenue = p.Revenue.Add(revenue)
			p.COGS = p.COGS.Add(line.COGS)
		}
		if p, ok := months.index[monthOf(line.CreatedAt)]; ok {
			p.Revenue = p.Revenue.Add(revenue)
			p.COGS = p.COGS.Add(line.COGS)
		}
	}
	for _, exp := range facts.Expenses {
		category := strings.TrimSpace(exp.Category)
		if category == "" {
			category = UncategorizedCategory
		}
		if p, ok := weeks.index[period.LocalBucketKey(exp.IncurredAt, period.Week)]; ok {
			p.Expenses = p.Expenses.Add(exp.Amount)
		}
		if p, ok := months.index[period.LocalBucketKey(exp.IncurredAt, period.Month)]; ok {
			p.Expenses = p.Expenses.Add(exp.Amount)
			p.ByCategory[category] = p.Category(category).Add(exp.Amount)
		}
	}
	return health.History{Weeks: weeks.slice(), Months: months.slice()}
}

type pointSet struct {
	order []string
	index map[string]*health.Point
}

func newPoints(keys []string) pointSet {
	set := pointSet{order: keys, index: make(map[string]*health.Point, len(keys))}
	for _, key := range keys {
		set.index[key] = &health.Point{
			Key:        key,
			Revenue:    decimal.Zero,
			COGS:       decimal.Zero,
			Expenses:   decimal.Zero,
			ByCategory: make(map[string]decimal.Decimal),
		}
	}
	return set
}

func (s pointSet) slice() []health.Point {
	out := make([]health.Point, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.index[key])
	}
	return out
}
