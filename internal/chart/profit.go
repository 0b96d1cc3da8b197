// Package chart renders report series as PNG images.
package chart

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/dvloznov/finance-insights/internal/metrics"
)

// MinDays is the shortest daily series a chart can be drawn from.
const MinDays = 2

// RenderProfitChart renders a PNG line chart of a report's daily series.
// Two series: Daily Profit (green solid) and Cumulative Profit (blue dashed).
// Returns raw PNG bytes.
func RenderProfitChart(report *metrics.Report) ([]byte, error) {
	if report == nil || len(report.ByDay) < MinDays {
		n := 0
		if report != nil {
			n = len(report.ByDay)
		}
		return nil, fmt.Errorf("need at least %d days, got %d", MinDays, n)
	}

	xValues := make([]time.Time, len(report.ByDay))
	dailyY := make([]float64, len(report.ByDay))
	cumulativeY := make([]float64, len(report.ByDay))

	var running float64
	for i, d := range report.ByDay {
		xValues[i] = d.Date.In(time.UTC)
		running += d.Profit
		dailyY[i] = d.Profit
		cumulativeY[i] = metrics.Round2(running)
	}

	dailySeries := chart.TimeSeries{
		Name: "Daily Profit",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("16a34a"), // green-600
			StrokeWidth: 2,
		},
		XValues: xValues,
		YValues: dailyY,
	}

	cumulativeSeries := chart.TimeSeries{
		Name: "Cumulative Profit",
		Style: chart.Style{
			StrokeColor:     drawing.ColorFromHex("2563eb"), // blue-600
			StrokeWidth:     1.5,
			StrokeDashArray: []float64{5.0, 3.0},
		},
		XValues: xValues,
		YValues: cumulativeY,
	}

	title := fmt.Sprintf("Profit, last %d days", report.RangeDays)
	if report.Timezone != "" {
		title += " (" + report.Timezone + ")"
	}

	graph := chart.Chart{
		Title:  title,
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("Jan 02")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: formatMoney,
		},
		Series: []chart.Series{
			dailySeries,
			cumulativeSeries,
		},
	}

	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	return buf.Bytes(), nil
}

func formatMoney(v interface{}) string {
	f, ok := v.(float64)
	if !ok {
		return ""
	}
	if f >= 1000 || f <= -1000 {
		return fmt.Sprintf("%.1fk", f/1000)
	}
	return fmt.Sprintf("%.0f", f)
}
