package core

import (
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Fixed SVG view box the chart partial is drawn in.
const (
	ChartWidth  = 800
	ChartHeight = 300
	chartPad    = 30
)

var chartPalette = []string{"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd", "#8c564b", "#e377c2", "#7f7f7f"}

// ChartSeries is one polyline, one per unit.
type ChartSeries struct {
	Name   string
	Color  string
	Points string
	Total  decimal.Decimal
}

// Chart is ready-to-render geometry for the meter reading chart.
type Chart struct {
	Width   int
	Height  int
	Series  []ChartSeries
	XLabels []ChartLabel
	YMax    decimal.Decimal
}

type ChartLabel struct {
	X    int
	Text string
}

// Empty reports whether there is nothing to draw.
func (c Chart) Empty() bool {
	return len(c.Series) == 0
}

// BuildChart scales readings onto the view box. The x axis is the sorted set
// of distinct timestamps, the y axis runs from zero to the largest total.
func BuildChart(values []Messwert, maxLabels int) Chart {
	chart := Chart{Width: ChartWidth, Height: ChartHeight}
	if len(values) == 0 {
		return chart
	}

	times := lo.Uniq(lo.Map(values, func(m Messwert, _ int) string { return m.Zeit }))
	sort.Strings(times)
	xIndex := make(map[string]int, len(times))
	for i, t := range times {
		xIndex[t] = i
	}

	yMax := decimal.Zero
	for _, v := range values {
		if v.Total.GreaterThan(yMax) {
			yMax = v.Total
		}
	}
	chart.YMax = yMax

	plotW := float64(ChartWidth - 2*chartPad)
	plotH := float64(ChartHeight - 2*chartPad)
	xOf := func(i int) float64 {
		if len(times) == 1 {
			return chartPad + plotW/2
		}
		return chartPad + plotW*float64(i)/float64(len(times)-1)
	}
	yOf := func(v decimal.Decimal) float64 {
		if !yMax.IsPositive() {
			return chartPad + plotH
		}
		f, _ := v.Div(yMax).Float64()
		return chartPad + plotH*(1-f)
	}

	byUnit := lo.GroupBy(values, func(m Messwert) string { return m.EinheitName })
	names := lo.Keys(byUnit)
	sort.Strings(names)
	for i, name := range names {
		readings := byUnit[name]
		sort.SliceStable(readings, func(a, b int) bool { return readings[a].Zeit < readings[b].Zeit })
		pts := make([]string, 0, len(readings))
		total := decimal.Zero
		for _, r := range readings {
			pts = append(pts, formatPoint(xOf(xIndex[r.Zeit]), yOf(r.Total)))
			total = total.Add(r.Total)
		}
		chart.Series = append(chart.Series, ChartSeries{
			Name:   name,
			Color:  chartPalette[i%len(chartPalette)],
			Points: strings.Join(pts, " "),
			Total:  total,
		})
	}

	if maxLabels <= 0 {
		maxLabels = 6
	}
	step := max(1, (len(times)+maxLabels-1)/maxLabels)
	for i := 0; i < len(times); i += step {
		chart.XLabels = append(chart.XLabels, ChartLabel{X: int(xOf(i)), Text: FormatSwissDate(times[i])})
	}
	return chart
}

func formatPoint(x, y float64) string {
	return strconv.FormatFloat(x, 'f', 1, 64) + "," + strconv.FormatFloat(y, 'f', 1, 64)
}
