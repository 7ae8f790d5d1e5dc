package health

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Rule names, also used as metric labels.
const (
	RuleRevenueDropWoW         = "revenue_drop_wow"
	RuleGrossMarginDropMoM     = "gross_margin_drop_mom"
	RuleExpenseSpike           = "expense_spike"
	RuleConsecutiveNegativeNet = "consecutive_negative_net"
)

var hundred = decimal.NewFromInt(100)

// Rule inspects a history and returns zero or more signals. Rules never fail; when
// the history is too short to compare they return nothing.
type Rule func(History) []Signal

// Policy carries the rule thresholds.
type Policy struct {
	RevenueDropPct        float64
	MarginDropPoints      float64
	ExpenseSpikePct       float64
	ExpenseBaselineMonths int
	NegativeNetRun        int
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		RevenueDropPct:        10,
		MarginDropPoints:      3,
		ExpenseSpikePct:       50,
		ExpenseBaselineMonths: 3,
		NegativeNetRun:        2,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.RevenueDropPct <= 0 {
		p.RevenueDropPct = def.RevenueDropPct
	}
	if p.MarginDropPoints <= 0 {
		p.MarginDropPoints = def.MarginDropPoints
	}
	if p.ExpenseSpikePct <= 0 {
		p.ExpenseSpikePct = def.ExpenseSpikePct
	}
	if p.ExpenseBaselineMonths <= 0 {
		p.ExpenseBaselineMonths = def.ExpenseBaselineMonths
	}
	if p.NegativeNetRun <= 0 {
		p.NegativeNetRun = def.NegativeNetRun
	}
	return p
}

// relativeChange returns (to-from)/from*100 unrounded; from must be non-zero.
func relativeChange(from, to decimal.Decimal) decimal.Decimal {
	return to.Sub(from).Div(from).Mul(hundred)
}

func rawMargin(p Point) decimal.Decimal {
	if p.Revenue.IsZero() {
		return decimal.Zero
	}
	return p.Revenue.Sub(p.COGS).Div(p.Revenue).Mul(hundred)
}

// RevenueDropWoW alerts when the latest complete week's revenue fell by at least
// thresholdPct percent of the prior week's revenue.
func RevenueDropWoW(thresholdPct float64) Rule {
	threshold := decimal.NewFromFloat(thresholdPct)
	return func(h History) []Signal {
		n := len(h.Weeks)
		if n < 2 {
			return nil
		}
		prev, cur := h.Weeks[n-2], h.Weeks[n-1]
		if !prev.Revenue.IsPositive() {
			return nil
		}
		drop := relativeChange(prev.Revenue, cur.Revenue).Neg()
		if drop.LessThan(threshold) {
			return nil
		}
		return []Signal{{
			Rule:  RuleRevenueDropWoW,
			Label: "Revenue drop week over week",
			Level: LevelAlert,
			Detail: fmt.Sprintf("Revenue fell %s%% from %s (%s) to %s (%s)",
				drop.StringFixed(2), prev.Revenue.StringFixed(2), prev.Key, cur.Revenue.StringFixed(2), cur.Key),
			Period: PeriodWeek,
		}}
	}
}

// GrossMarginDropMoM alerts when the latest complete month's gross margin fell by at
// least thresholdPoints percentage points against the prior month. Months without
// revenue have no comparable margin and are skipped.
func GrossMarginDropMoM(thresholdPoints float64) Rule {
	threshold := decimal.NewFromFloat(thresholdPoints)
	return func(h History) []Signal {
		n := len(h.Months)
		if n < 2 {
			return nil
		}
		prev, cur := h.Months[n-2], h.Months[n-1]
		if !prev.Revenue.IsPositive() || !cur.Revenue.IsPositive() {
			return nil
		}
		drop := rawMargin(prev).Sub(rawMargin(cur))
		if drop.LessThan(threshold) {
			return nil
		}
		return []Signal{{
			Rule:  RuleGrossMarginDropMoM,
			Label: "Gross margin drop month over month",
			Level: LevelAlert,
			Detail: fmt.Sprintf("Gross margin fell %s points from %s%% (%s) to %s%% (%s)",
				drop.StringFixed(2), prev.GrossMargin().StringFixed(2), prev.Key, cur.GrossMargin().StringFixed(2), cur.Key),
			Period: PeriodMonth,
		}}
	}
}

// ExpenseSpike alerts, per category, when the latest complete month exceeds the mean of
// up to baselineMonths prior months by at least thresholdPct percent. Categories with a
// zero baseline are skipped.
func ExpenseSpike(thresholdPct float64, baselineMonths int) Rule {
	threshold := decimal.NewFromFloat(thresholdPct)
	if baselineMonths <= 0 {
		baselineMonths = DefaultPolicy().ExpenseBaselineMonths
	}
	return func(h History) []Signal {
		n := len(h.Months)
		if n < 2 {
			return nil
		}
		cur := h.Months[n-1]
		start := n - 1 - baselineMonths
		if start < 0 {
			start = 0
		}
		prior := h.Months[start : n-1]
		categories := make([]string, 0, len(cur.ByCategory))
		for category := range cur.ByCategory {
			categories = append(categories, category)
		}
		sort.Strings(categories)

		var signals []Signal
		for _, category := range categories {
			amount := cur.Category(category)
			sum := decimal.Zero
			for _, p := range prior {
				sum = sum.Add(p.Category(category))
			}
			baseline := sum.Div(decimal.NewFromInt(int64(len(prior))))
			if !baseline.IsPositive() {
				continue
			}
			increase := relativeChange(baseline, amount)
			if increase.LessThan(threshold) {
				continue
			}
			signals = append(signals, Signal{
				Rule:  RuleExpenseSpike,
				Label: "Expense spike: " + category,
				Level: LevelAlert,
				Detail: fmt.Sprintf("%s spending of %s in %s is %s%% above the %d-month average of %s",
					category, amount.StringFixed(2), cur.Key, increase.StringFixed(2), len(prior), baseline.StringFixed(2)),
				Period: PeriodMonth,
			})
		}
		return signals
	}
}

// ConsecutiveNegativeNet alerts when the trailing run of months with negative net
// profit reaches minRun.
func ConsecutiveNegativeNet(minRun int) Rule {
	if minRun <= 0 {
		minRun = DefaultPolicy().NegativeNetRun
	}
	return func(h History) []Signal {
		if len(h.Months) < minRun {
			return nil
		}
		run := 0
		for i := len(h.Months) - 1; i >= 0; i-- {
			if !h.Months[i].Net().IsNegative() {
				break
			}
			run++
		}
		if run < minRun {
			return nil
		}
		first := h.Months[len(h.Months)-run].Key
		last := h.Months[len(h.Months)-1].Key
		return []Signal{{
			Rule:   RuleConsecutiveNegativeNet,
			Label:  "Consecutive negative net months",
			Level:  LevelAlert,
			Detail: fmt.Sprintf("Net profit has been negative for %d consecutive months (%s to %s)", run, first, last),
			Period: PeriodMonth,
		}}
	}
}
