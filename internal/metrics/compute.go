// Package metrics aggregates canonical transactions into a windowed report:
// a gapless daily profit series, totals, category and merchant rollups,
// largest transactions, recurring candidates and spike days.
package metrics

import (
	"math"
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-insights/internal/domain"
)

// Engine computes reports. It keeps no state between calls apart from its
// configuration and clock, so one Engine can serve concurrent requests.
type Engine struct {
	cfg Config
	// Now is the wall clock used to find "today". Tests pin it.
	Now func() time.Time
}

// NewEngine creates an Engine, filling unset config fields with defaults.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults(), Now: time.Now}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Compute computes a report with a default Engine.
func Compute(txs []domain.Transaction, timezone string, windowDays int) *Report {
	return NewEngine(DefaultConfig()).Compute(txs, timezone, windowDays)
}

type flowAcc struct {
	count   int
	income  float64
	expense float64
}

func (a *flowAcc) add(tx domain.Transaction) {
	a.count++
	if tx.Direction == domain.DirectionExpense {
		a.expense += tx.Amount
	} else {
		a.income += tx.Amount
	}
}

type recurAcc struct {
	count int
	total float64
}

// Compute builds the report for the window ending today in timezone.
// windowDays <= 0 selects the configured default. Transfers are ignored.
func (e *Engine) Compute(txs []domain.Transaction, timezone string, windowDays int) *Report {
	if windowDays <= 0 {
		windowDays = e.cfg.WindowDays
	}
	loc, tzName := ResolveLocation(timezone, e.cfg.FallbackTimezone)

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	end := civil.DateOf(now().In(loc))
	start := end.AddDays(-(windowDays - 1))

	daily := make([]float64, windowDays)
	var total flowAcc
	categories := make(map[string]*flowAcc)
	merchants := make(map[string]*flowAcc)
	recurring := make(map[string]*recurAcc)
	largest := make([]largeEntry, 0)

	for _, tx := range txs {
		if tx.Direction == domain.DirectionTransfer {
			continue
		}
		day := civil.DateOf(tx.Timestamp.In(loc))
		if day.Before(start) || day.After(end) {
			continue
		}

		signed := tx.Signed()
		daily[day.DaysSince(start)] += signed
		total.add(tx)

		cat := tx.CategoryLabel(UncategorizedLabel)
		if categories[cat] == nil {
			categories[cat] = &flowAcc{}
		}
		categories[cat].add(tx)

		if m := tx.MerchantName(); m != "" {
			if merchants[m] == nil {
				merchants[m] = &flowAcc{}
			}
			merchants[m].add(tx)
		}

		key := recurringKey(tx.MerchantName(), signed)
		if recurring[key] == nil {
			recurring[key] = &recurAcc{}
		}
		recurring[key].count++
		recurring[key].total += signed

		largest = append(largest, largeEntry{tx: tx, day: day})
	}

	byDay := make([]DayProfit, windowDays)
	var sum float64
	for i, p := range daily {
		byDay[i] = DayProfit{Date: start.AddDays(i), Profit: Round2(p)}
		sum += p
	}

	return &Report{
		RangeDays: windowDays,
		StartDate: start,
		EndDate:   end,
		Timezone:  tzName,
		Totals: Totals{
			Income:         Round2(total.income),
			Expense:        Round2(total.expense),
			Profit:         Sub2(total.income, total.expense),
			AvgDailyProfit: Round2(sum / float64(windowDays)),
		},
		ByDay:               byDay,
		ByCategory:          categoryRollups(categories),
		LargestTransactions: e.largestTransactions(largest),
		TopMerchants:        e.merchantRollups(merchants),
		RecurringCandidates: e.recurringCandidates(recurring),
		Spikes:              e.spikes(byDay),
	}
}

// ResolveLocation loads an IANA zone, falling back when name is empty or unknown.
// "Local" is rejected so results never depend on the host zone.
func ResolveLocation(name, fallback string) (*time.Location, string) {
	if name != "" && name != "Local" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc, name
		}
	}
	if fallback != "" && fallback != "Local" {
		if loc, err := time.LoadLocation(fallback); err == nil {
			return loc, fallback
		}
	}
	return time.UTC, "UTC"
}

func recurringKey(merchant string, signed float64) string {
	if merchant == "" {
		merchant = MissingMerchantKey
	}
	return merchant + "::" + fixed2(signed)
}

func categoryRollups(acc map[string]*flowAcc) []CategoryRollup {
	out := make([]CategoryRollup, 0, len(acc))
	for name, a := range acc {
		out = append(out, CategoryRollup{
			Category: name,
			Income:   Round2(a.income),
			Expense:  Round2(a.expense),
			Profit:   Sub2(a.income, a.expense),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := math.Abs(out[i].Profit), math.Abs(out[j].Profit)
		if pi != pj {
			return pi > pj
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func (e *Engine) merchantRollups(acc map[string]*flowAcc) []MerchantRollup {
	out := make([]MerchantRollup, 0, len(acc))
	for name, a := range acc {
		expense := Round2(a.expense)
		out = append(out, MerchantRollup{
			Merchant: name,
			Count:    a.count,
			Income:   Round2(a.income),
			Expense:  expense,
			Total:    expense,
			Net:      Sub2(a.income, a.expense),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Expense != out[j].Expense {
			return out[i].Expense > out[j].Expense
		}
		return out[i].Merchant < out[j].Merchant
	})
	return truncate(out, e.cfg.TopMerchants)
}

type largeEntry struct {
	tx  domain.Transaction
	day civil.Date
}

func (e *Engine) largestTransactions(entries []largeEntry) []LargeTransaction {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.tx.Amount != b.tx.Amount {
			return a.tx.Amount > b.tx.Amount
		}
		if !a.tx.Timestamp.Equal(b.tx.Timestamp) {
			return a.tx.Timestamp.Before(b.tx.Timestamp)
		}
		return a.tx.ID < b.tx.ID
	})
	entries = truncate(entries, e.cfg.TopLargest)

	out := make([]LargeTransaction, len(entries))
	for i, en := range entries {
		out[i] = LargeTransaction{
			ID:       en.tx.ID,
			Date:     en.day,
			Amount:   Round2(math.Abs(en.tx.Amount)),
			Type:     en.tx.Direction,
			Category: en.tx.Category,
			Merchant: en.tx.Merchant,
		}
	}
	return out
}

func (e *Engine) recurringCandidates(acc map[string]*recurAcc) []RecurringCandidate {
	out := make([]RecurringCandidate, 0)
	for key, a := range acc {
		if a.count < e.cfg.MinRecurringCount {
			continue
		}
		out = append(out, RecurringCandidate{
			Key:   key,
			Count: a.count,
			Total: Round2(a.total),
			Avg:   Round2(a.total / float64(a.count)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := math.Abs(out[i].Total), math.Abs(out[j].Total)
		if ti != tj {
			return ti > tj
		}
		return out[i].Key < out[j].Key
	})
	return truncate(out, e.cfg.TopRecurring)
}

// spikes picks the days with the largest absolute profit. Days with zero profit
// never qualify; ties keep chronological order.
func (e *Engine) spikes(byDay []DayProfit) []DayProfit {
	out := make([]DayProfit, 0, len(byDay))
	for _, d := range byDay {
		if d.Profit != 0 {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Profit) > math.Abs(out[j].Profit)
	})
	return truncate(out, e.cfg.TopSpikes)
}

func truncate[T any](s []T, n int) []T {
	if n >= 0 && len(s) > n {
		return s[:n]
	}
	return s
}
