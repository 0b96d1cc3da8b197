package insights

import (
	"encoding/json"
	"fmt"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-insights/internal/enrich"
	"github.com/dvloznov/finance-insights/internal/metrics"
)

func bigReport() *enrich.Report {
	r := &enrich.Report{}
	r.RangeDays = 90
	r.Timezone = "UTC"
	r.Totals = metrics.Totals{Income: 1000, Expense: 400, Profit: 600, AvgDailyProfit: 6.67}
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("c%02d", i)
		r.ByCategory = append(r.ByCategory, metrics.CategoryRollup{Category: name, Expense: float64(100 - i)})
		r.TopMerchants = append(r.TopMerchants, metrics.MerchantRollup{Merchant: name, Count: 1})
		r.RecurringCandidates = append(r.RecurringCandidates, metrics.RecurringCandidate{Key: name + "::-1.00", Count: 3})
	}
	r.Spikes = []metrics.DayProfit{{Date: civil.Date{Year: 2024, Month: 3, Day: 2}, Profit: 500}}
	r.WoW = enrich.WoW{Profit7d: 50, PrevProfit7d: 40, Delta: 10, Pct: 25}
	return r
}

func TestBuildPayload(t *testing.T) {
	p := BuildPayload("Europe/Berlin", bigReport())

	assert.Equal(t, "Europe/Berlin", p.Timezone)
	assert.Equal(t, 90, p.RangeDays)
	assert.Len(t, p.ByCategory, PayloadListLimit)
	assert.Len(t, p.TopMerchants, PayloadListLimit)
	assert.Len(t, p.RecurringCandidates, PayloadListLimit)
	assert.Equal(t, "c00", p.ByCategory[0].Category)
	assert.Equal(t, 25.0, p.WoW.Pct)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &fields))
	for _, k := range []string{"tz", "rangeDays", "totals", "wow", "trend", "spikes", "byCategory", "recurringCandidates", "topMerchants", "topDeltaDays"} {
		assert.Contains(t, fields, k)
	}
	assert.NotContains(t, fields, "byDay")
	assert.NotContains(t, fields, "largestTransactions")
}

func TestBuildPayload_EmptyListsEncodeAsArrays(t *testing.T) {
	b, err := json.Marshal(BuildPayload("UTC", &enrich.Report{}))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"spikes":[]`)
	assert.Contains(t, string(b), `"topDeltaDays":[]`)
	assert.NotContains(t, string(b), "null")
}

func TestFingerprint(t *testing.T) {
	r := bigReport()
	key := Fingerprint("acme", "UTC", r)

	assert.Len(t, key, 64)
	assert.Equal(t, key, Fingerprint("acme", "UTC", bigReport()), "same input, same key")
	assert.NotEqual(t, key, Fingerprint("globex", "UTC", r))
	assert.NotEqual(t, key, Fingerprint("acme", "Europe/Berlin", r))

	changed := bigReport()
	changed.Totals.Income = 1001
	assert.NotEqual(t, key, Fingerprint("acme", "UTC", changed))

	// Only the first eight rollups count.
	tail := bigReport()
	tail.ByCategory[10].Expense = 12345
	assert.Equal(t, key, Fingerprint("acme", "UTC", tail))

	// Fields the model never sees do not count.
	unseen := bigReport()
	unseen.ByDay = []metrics.DayProfit{{Profit: 1}}
	unseen.LargestTransactions = []metrics.LargeTransaction{{ID: "x", Amount: 99}}
	assert.Equal(t, key, Fingerprint("acme", "UTC", unseen))
}
