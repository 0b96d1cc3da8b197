package metrics

import (
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-insights/internal/domain"
)

// UncategorizedLabel groups transactions without a category.
const UncategorizedLabel = "Uncategorized"

// MissingMerchantKey stands in for an absent merchant in recurring keys.
const MissingMerchantKey = "?"

// Report is the base metrics output for one (transactions, timezone, window) input.
// All monetary fields are rounded to two decimals.
type Report struct {
	RangeDays           int                  `json:"rangeDays"`
	StartDate           civil.Date           `json:"startDate"`
	EndDate             civil.Date           `json:"endDate"`
	Timezone            string               `json:"timezone"`
	Totals              Totals               `json:"totals"`
	ByDay               []DayProfit          `json:"byDay"`
	ByCategory          []CategoryRollup     `json:"byCategory"`
	LargestTransactions []LargeTransaction   `json:"largestTransactions"`
	TopMerchants        []MerchantRollup     `json:"topMerchants"`
	RecurringCandidates []RecurringCandidate `json:"recurringCandidates"`
	Spikes              []DayProfit          `json:"spikes"`
}

type Totals struct {
	Income         float64 `json:"income"`
	Expense        float64 `json:"expense"`
	Profit         float64 `json:"profit"`
	AvgDailyProfit float64 `json:"avgDailyProfit"`
}

// DayProfit is one local calendar day and its signed profit.
type DayProfit struct {
	Date   civil.Date `json:"date"`
	Profit float64    `json:"profit"`
}

type CategoryRollup struct {
	Category string  `json:"category"`
	Income   float64 `json:"income"`
	Expense  float64 `json:"expense"`
	Profit   float64 `json:"profit"`
}

// MerchantRollup summarises one merchant. Total mirrors Expense (spend).
type MerchantRollup struct {
	Merchant string  `json:"merchant"`
	Count    int     `json:"count"`
	Income   float64 `json:"income"`
	Expense  float64 `json:"expense"`
	Total    float64 `json:"total"`
	Net      float64 `json:"net"`
}

type LargeTransaction struct {
	ID       string           `json:"id"`
	Date     civil.Date       `json:"date"`
	Amount   float64          `json:"amount"`
	Type     domain.Direction `json:"type"`
	Category *string          `json:"category"`
	Merchant *string          `json:"merchant"`
}

// RecurringCandidate groups transactions by merchant and signed amount,
// keyed as "<merchant>::<signed amount with two decimals>".
type RecurringCandidate struct {
	Key   string  `json:"key"`
	Count int     `json:"count"`
	Total float64 `json:"total"`
	Avg   float64 `json:"avg"`
}

// NoSignal reports whether the window saw neither income nor expense.
func (r *Report) NoSignal() bool {
	return r.Totals.Income == 0 && r.Totals.Expense == 0
}

// DailyProfits returns the profit values of the daily series in order.
func (r *Report) DailyProfits() []float64 {
	out := make([]float64, len(r.ByDay))
	for i, d := range r.ByDay {
		out[i] = d.Profit
	}
	return out
}
