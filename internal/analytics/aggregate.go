package analytics

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics/period"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
)

// OtherCategory labels the folded tail of an expense breakdown beyond the limit.
const OtherCategory = "Other"

// UncategorizedCategory labels expenses recorded without a category.
const UncategorizedCategory = "Uncategorized"

// Summary holds the headline financial metrics of a scoped query.
type Summary struct {
	Revenue       ledger.Money `json:"revenue"`
	COGS          ledger.Money `json:"cogs"`
	GrossProfit   ledger.Money `json:"gross_profit"`
	GrossMargin   float64      `json:"gross_margin"`
	ExpensesTotal ledger.Money `json:"expenses_total"`
	NetProfit     ledger.Money `json:"net_profit"`
	NetMargin     float64      `json:"net_margin"`
	AvgTicket     ledger.Money `json:"avg_ticket"`
	OrdersCount   int          `json:"orders_count"`
	Currency      string       `json:"currency,omitempty"`
}

// FlowRow is one bucket of the cash-flow series. CashOut is COGS only.
type FlowRow struct {
	Period  string       `json:"period"`
	CashIn  ledger.Money `json:"cash_in"`
	CashOut ledger.Money `json:"cash_out"`
	Net     ledger.Money `json:"net"`
	Profit  ledger.Money `json:"profit"`
}

// FlowSeries is the ordered cash-flow series for one granularity.
type FlowSeries struct {
	Bucket period.Granularity `json:"bucket"`
	Rows   []FlowRow          `json:"rows"`
}

// ExpenseRow is one category of the expense breakdown.
type ExpenseRow struct {
	Category string       `json:"category"`
	Amount   ledger.Money `json:"amount"`
	Percent  float64      `json:"percent"`
}

// ExpenseBreakdown lists expense categories with their share of the total.
type ExpenseBreakdown struct {
	Rows  []ExpenseRow `json:"rows"`
	Total ledger.Money `json:"total"`
}

// Summarize computes the summary metrics from a fact set.
func Summarize(facts Facts, currencyLabel string) Summary {
	revenue := decimal.Zero
	cogs := decimal.Zero
	orders := make(map[int64]struct{})
	for _, line := range facts.Lines {
		revenue = revenue.Add(line.Revenue())
		cogs = cogs.Add(line.COGS)
		orders[line.OrderID] = struct{}{}
	}
	expenses := decimal.Zero
	for _, exp := range facts.Expenses {
		expenses = expenses.Add(exp.Amount)
	}
	revenue = ledger.Round2(revenue)
	cogs = ledger.Round2(cogs)
	expenses = ledger.Round2(expenses)
	gross := revenue.Sub(cogs)
	net := gross.Sub(expenses)
	count := len(orders)
	return Summary{
		Revenue:       ledger.NewMoney(revenue),
		COGS:          ledger.NewMoney(cogs),
		GrossProfit:   ledger.NewMoney(gross),
		GrossMargin:   ledger.Percent(gross, revenue).InexactFloat64(),
		ExpensesTotal: ledger.NewMoney(expenses),
		NetProfit:     ledger.NewMoney(net),
		NetMargin:     ledger.Percent(net, revenue).InexactFloat64(),
		AvgTicket:     ledger.NewMoney(ledger.SafeDiv(revenue, decimal.NewFromInt(int64(count)))),
		OrdersCount:   count,
		Currency:      currencyLabel,
	}
}

type flowAccumulator struct {
	in  decimal.Decimal
	out decimal.Decimal
}

// Flow buckets line facts by the query granularity in the query timezone. Every bucket the
// window touches is present, ascending by key, including empty ones.
func Flow(facts Facts, w period.Window, g period.Granularity) FlowSeries {
	bucket := period.BucketFunc(g, w.Location)
	acc := make(map[string]*flowAccumulator)
	keys := period.Enumerate(w, g)
	for _, key := range keys {
		acc[key] = &flowAccumulator{in: decimal.Zero, out: decimal.Zero}
	}
	for _, line := range facts.Lines {
		key := bucket(line.CreatedAt)
		entry, ok := acc[key]
		if !ok {
			entry = &flowAccumulator{in: decimal.Zero, out: decimal.Zero}
			acc[key] = entry
			keys = append(keys, key)
		}
		entry.in = entry.in.Add(line.Revenue())
		entry.out = entry.out.Add(line.COGS)
	}
	sort.Strings(keys)
	rows := make([]FlowRow, 0, len(keys))
	for _, key := range keys {
		entry := acc[key]
		in := ledger.Round2(entry.in)
		out := ledger.Round2(entry.out)
		net := in.Sub(out)
		rows = append(rows, FlowRow{
			Period:  key,
			CashIn:  ledger.NewMoney(in),
			CashOut: ledger.NewMoney(out),
			Net:     ledger.NewMoney(net),
			Profit:  ledger.NewMoney(net),
		})
	}
	return FlowSeries{Bucket: g, Rows: rows}
}

// Breakdown groups expense facts by category. Rows are ordered by amount descending then
// category; when there are more categories than limit, the tail is folded into OtherCategory
// so that the row amounts always sum to the total.
func Breakdown(facts Facts, limit int) ExpenseBreakdown {
	sums := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, exp := range facts.Expenses {
		category := strings.TrimSpace(exp.Category)
		if category == "" {
			category = UncategorizedCategory
		}
		sums[category] = sums[category].Add(exp.Amount)
		total = total.Add(exp.Amount)
	}
	type pair struct {
		category string
		amount   decimal.Decimal
	}
	pairs := make([]pair, 0, len(sums))
	for category, amount := range sums {
		pairs = append(pairs, pair{category: category, amount: ledger.Round2(amount)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if cmp := pairs[i].amount.Cmp(pairs[j].amount); cmp != 0 {
			return cmp > 0
		}
		return pairs[i].category < pairs[j].category
	})
	if limit > 0 && len(pairs) > limit {
		tail := decimal.Zero
		for _, p := range pairs[limit-1:] {
			tail = tail.Add(p.amount)
		}
		pairs = append(pairs[:limit-1], pair{category: OtherCategory, amount: tail})
	}
	total = ledger.Round2(total)
	rows := make([]ExpenseRow, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, ExpenseRow{
			Category: p.category,
			Amount:   ledger.NewMoney(p.amount),
			Percent:  ledger.Percent(p.amount, total).InexactFloat64(),
		})
	}
	return ExpenseBreakdown{Rows: rows, Total: ledger.NewMoney(total)}
}
