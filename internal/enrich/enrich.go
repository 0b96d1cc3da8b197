// Package enrich derives second-order signals from a metrics report:
// week-over-week change, trend slope, volatility, max drawdown and the days
// that deviate most from the average.
package enrich

import (
	"math"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-insights/internal/metrics"
)

// Report is a metrics report plus derived signals.
type Report struct {
	metrics.Report
	WoW          WoW        `json:"wow"`
	Trend        Trend      `json:"trend"`
	TopDeltaDays []DeltaDay `json:"topDeltaDays"`
}

// WoW compares the last week of the daily series with the week before it.
type WoW struct {
	Profit7d     float64 `json:"profit7d"`
	PrevProfit7d float64 `json:"prevProfit7d"`
	Delta        float64 `json:"delta"`
	Pct          float64 `json:"pct"`
}

type Trend struct {
	Slope       float64 `json:"slope"`
	Volatility  float64 `json:"volatility"`
	MaxDrawdown float64 `json:"maxDrawdown"`
}

// DeltaDay is a day with its distance from the mean daily profit.
type DeltaDay struct {
	Date         civil.Date `json:"date"`
	Profit       float64    `json:"profit"`
	DeltaFromAvg float64    `json:"deltaFromAvg"`
}

// Config holds the enrichment parameters.
type Config struct {
	TopDeltaDays int `toml:"top_delta_days"`
	WeekDays     int `toml:"week_days"`
}

func DefaultConfig() Config {
	return Config{TopDeltaDays: 5, WeekDays: 7}
}

// Enricher derives signals with a fixed configuration.
type Enricher struct {
	cfg Config
}

func NewEnricher(cfg Config) *Enricher {
	d := DefaultConfig()
	if cfg.TopDeltaDays <= 0 {
		cfg.TopDeltaDays = d.TopDeltaDays
	}
	if cfg.WeekDays <= 0 {
		cfg.WeekDays = d.WeekDays
	}
	return &Enricher{cfg: cfg}
}

// Enrich uses the default configuration.
func Enrich(r *metrics.Report) *Report {
	return NewEnricher(DefaultConfig()).Enrich(r)
}

// Enrich derives the signals from r. r is not modified. A nil report is
// treated as an empty one.
func (e *Enricher) Enrich(r *metrics.Report) *Report {
	if r == nil {
		r = &metrics.Report{}
	}
	ys := r.DailyProfits()

	return &Report{
		Report: *r,
		WoW:    weekOverWeek(ys, e.cfg.WeekDays),
		Trend: Trend{
			Slope:       metrics.Round(Slope(ys), 4),
			Volatility:  metrics.Round2(Volatility(ys)),
			MaxDrawdown: metrics.Round2(MaxDrawdown(ys)),
		},
		TopDeltaDays: topDeltaDays(r.ByDay, mean(ys), e.cfg.TopDeltaDays),
	}
}

func weekOverWeek(ys []float64, week int) WoW {
	n := len(ys)
	last := sum(ys[clampIndex(n-week, n):])
	prev := sum(ys[clampIndex(n-2*week, n):clampIndex(n-week, n)])
	delta := last - prev

	var pct float64
	if prev != 0 {
		pct = delta / math.Abs(prev) * 100
	}
	return WoW{
		Profit7d:     metrics.Round2(last),
		PrevProfit7d: metrics.Round2(prev),
		Delta:        metrics.Round2(delta),
		Pct:          metrics.Round2(pct),
	}
}

// Slope is the least-squares slope of ys against index 0..n-1.
// The denominator is floored at 1.
func Slope(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	meanX := float64(len(ys)-1) / 2
	meanY := mean(ys)

	var num, den float64
	for i, y := range ys {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	return num / math.Max(den, 1)
}

// Volatility is the sample standard deviation of ys, denominator max(n-1, 1).
func Volatility(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	m := mean(ys)
	var ss float64
	for _, y := range ys {
		ss += (y - m) * (y - m)
	}
	return math.Sqrt(ss / math.Max(float64(len(ys)-1), 1))
}

// MaxDrawdown is the largest fall of the cumulative sum below its running peak.
// The peak starts at zero; the trough resets whenever a new peak is set.
func MaxDrawdown(ys []float64) float64 {
	var peak, trough, cum, maxDD float64
	for _, y := range ys {
		cum += y
		if cum > peak {
			peak, trough = cum, cum
		}
		if cum < trough {
			trough = cum
			maxDD = math.Max(maxDD, peak-trough)
		}
	}
	return maxDD
}

func topDeltaDays(days []metrics.DayProfit, avg float64, n int) []DeltaDay {
	out := make([]DeltaDay, len(days))
	for i, d := range days {
		out[i] = DeltaDay{Date: d.Date, Profit: d.Profit, DeltaFromAvg: d.Profit - avg}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].DeltaFromAvg) > math.Abs(out[j].DeltaFromAvg)
	})
	if len(out) > n {
		out = out[:n]
	}
	for i := range out {
		out[i].DeltaFromAvg = metrics.Round2(out[i].DeltaFromAvg)
	}
	return out
}

func mean(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	return sum(ys) / float64(len(ys))
}

func sum(ys []float64) float64 {
	var s float64
	for _, y := range ys {
		s += y
	}
	return s
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
