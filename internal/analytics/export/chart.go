package export

import (
	"fmt"
	"html/template"
	"math"
	"strings"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
)

const (
	chartWidth   = 720
	chartHeight  = 240
	chartPadding = 28.0
	chartTicks   = 5

	colorCashIn  = "#0ea5e9"
	colorCashOut = "#f97316"
	colorNet     = "#334155"
	colorAxis    = "#475569"
	colorGrid    = "#cbd5e1"
)

// flowChart renders cash in and cash out as grouped bars per bucket with net as a line.
// An empty series renders nothing.
func flowChart(series analytics.FlowSeries) template.HTML {
	rows := series.Rows
	if len(rows) == 0 {
		return ""
	}
	in := make([]float64, len(rows))
	out := make([]float64, len(rows))
	net := make([]float64, len(rows))
	lo, hi := 0.0, 0.0
	for i, row := range rows {
		in[i] = row.CashIn.InexactFloat64()
		out[i] = row.CashOut.InexactFloat64()
		net[i] = row.Net.InexactFloat64()
		lo = math.Min(lo, math.Min(in[i], math.Min(out[i], net[i])))
		hi = math.Max(hi, math.Max(in[i], math.Max(out[i], net[i])))
	}
	if hi-lo < 1e-9 {
		hi = lo + 1
	}

	plotW := chartWidth - 2*chartPadding
	plotH := chartHeight - 2*chartPadding
	scale := plotH / (hi - lo)
	y := func(v float64) float64 { return chartPadding + plotH - (v-lo)*scale }
	zero := y(0)
	group := plotW / float64(len(rows))
	bar := group / 3

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" role="img" aria-label="Cash flow by %s">`,
		chartWidth, chartHeight, template.HTMLEscapeString(string(series.Bucket)))

	for i := 0; i <= chartTicks; i++ {
		v := lo + (hi-lo)*float64(i)/chartTicks
		ty := y(v)
		fmt.Fprintf(&b, `<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="%s" stroke-width="0.5" stroke-dasharray="2,4"/>`,
			chartPadding, ty, chartPadding+plotW, ty, colorGrid)
		fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s" font-size="9" text-anchor="end">%s</text>`,
			chartPadding-4, ty+3, colorAxis, tickLabel(v))
	}
	fmt.Fprintf(&b, `<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="%s"/>`, chartPadding, zero, chartPadding+plotW, zero, colorAxis)

	points := make([]string, len(rows))
	labelEvery := int(math.Ceil(float64(len(rows)) / 12))
	for i, row := range rows {
		x := chartPadding + float64(i)*group
		writeBar(&b, x+bar*0.3, bar, y(in[i]), zero, colorCashIn)
		writeBar(&b, x+bar*1.4, bar, y(out[i]), zero, colorCashOut)
		points[i] = fmt.Sprintf("%.2f,%.2f", x+group/2, y(net[i]))
		if i%labelEvery == 0 {
			fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s" font-size="9" text-anchor="middle">%s</text>`,
				x+group/2, chartPadding+plotH+14, colorAxis, template.HTMLEscapeString(row.Period))
		}
	}
	fmt.Fprintf(&b, `<polyline fill="none" stroke="%s" stroke-width="1.5" points="%s"/>`, colorNet, strings.Join(points, " "))

	legend := []struct{ label, color string }{{"Cash in", colorCashIn}, {"Cash out", colorCashOut}, {"Net", colorNet}}
	for i, item := range legend {
		lx := chartPadding + float64(i)*80
		fmt.Fprintf(&b, `<rect x="%.2f" y="6" width="10" height="10" fill="%s"/><text x="%.2f" y="15" fill="%s" font-size="10">%s</text>`,
			lx, item.color, lx+14, colorAxis, item.label)
	}
	b.WriteString("</svg>")
	return template.HTML(b.String())
}

func writeBar(b *strings.Builder, x, width, top, zero float64, color string) {
	y, h := top, zero-top
	if h < 0 {
		y, h = zero, -h
	}
	fmt.Fprintf(b, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s"/>`, x, y, width, h, color)
}

func tickLabel(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.1fk", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
