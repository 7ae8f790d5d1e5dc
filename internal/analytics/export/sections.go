package export

import (
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
)

// Section is one titled table of an export document.
type Section struct {
	Title  string
	Header []string
	Rows   [][]any
}

// percent marks a margin or share value so each format can render it as a percentage.
type percent float64

// Sections lays out a dataset in the order every format renders it.
func Sections(ds analytics.Dataset) []Section {
	q := ds.Query
	store := "All stores"
	if q.StoreID != nil {
		store = strconv.FormatInt(*q.StoreID, 10)
	}
	currency := q.Currency
	if currency == "" {
		currency = "All"
	}
	report := Section{
		Title:  "Report",
		Header: []string{"Field", "Value"},
		Rows: [][]any{
			{"Tenant", strconv.FormatInt(q.TenantID, 10)},
			{"Store", store},
			{"From", q.DateFrom},
			{"To", q.DateTo},
			{"Timezone", q.Timezone},
			{"Currency", currency},
			{"Bucket", string(ds.Flow.Bucket)},
			{"Generated At", ds.GeneratedAt.UTC().Format(time.RFC3339)},
		},
	}

	s := ds.Summary
	summary := Section{
		Title:  "Summary",
		Header: []string{"Metric", "Value"},
		Rows: [][]any{
			{"Revenue", s.Revenue},
			{"COGS", s.COGS},
			{"Gross Profit", s.GrossProfit},
			{"Gross Margin", percent(s.GrossMargin)},
			{"Expenses", s.ExpensesTotal},
			{"Net Profit", s.NetProfit},
			{"Net Margin", percent(s.NetMargin)},
			{"Average Ticket", s.AvgTicket},
			{"Orders", s.OrdersCount},
			{"Health Score", ds.Health.Score},
		},
	}

	flow := Section{Title: "Cash Flow", Header: []string{"Period", "Cash In", "Cash Out", "Net", "Profit"}}
	for _, row := range ds.Flow.Rows {
		flow.Rows = append(flow.Rows, []any{row.Period, row.CashIn, row.CashOut, row.Net, row.Profit})
	}

	expenses := Section{Title: "Expenses", Header: []string{"Category", "Amount", "Percent"}}
	for _, row := range ds.Expenses.Rows {
		expenses.Rows = append(expenses.Rows, []any{row.Category, row.Amount, percent(row.Percent)})
	}
	expenses.Rows = append(expenses.Rows, []any{"Total", ds.Expenses.Total, ""})

	signals := Section{Title: "Health", Header: []string{"Level", "Signal", "Period", "Detail"}}
	for _, sig := range ds.Health.Signals {
		signals.Rows = append(signals.Rows, []any{string(sig.Level), sig.Label, string(sig.Period), sig.Detail})
	}

	return []Section{report, summary, flow, expenses, signals}
}

// plainText is the machine-readable rendering used by CSV.
func plainText(v any) string {
	switch val := v.(type) {
	case ledger.Money:
		return val.StringFixed(2)
	case percent:
		return strconv.FormatFloat(float64(val), 'f', 2, 64)
	case int:
		return strconv.Itoa(val)
	case string:
		return val
	default:
		return ""
	}
}
