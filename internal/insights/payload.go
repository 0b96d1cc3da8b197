package insights

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/dvloznov/finance-insights/internal/enrich"
	"github.com/dvloznov/finance-insights/internal/metrics"
)

// PayloadListLimit caps the rollup lists sent to the model and hashed into the fingerprint.
const PayloadListLimit = 8

// Payload is the subset of a report the model sees.
type Payload struct {
	Timezone            string                       `json:"tz"`
	RangeDays           int                          `json:"rangeDays"`
	Totals              metrics.Totals               `json:"totals"`
	WoW                 enrich.WoW                   `json:"wow"`
	Trend               enrich.Trend                 `json:"trend"`
	Spikes              []metrics.DayProfit          `json:"spikes"`
	ByCategory          []metrics.CategoryRollup     `json:"byCategory"`
	RecurringCandidates []metrics.RecurringCandidate `json:"recurringCandidates"`
	TopMerchants        []metrics.MerchantRollup     `json:"topMerchants"`
	TopDeltaDays        []enrich.DeltaDay            `json:"topDeltaDays"`
}

// BuildPayload selects the fields of r worth narrating.
func BuildPayload(tz string, r *enrich.Report) *Payload {
	return &Payload{
		Timezone:            tz,
		RangeDays:           r.RangeDays,
		Totals:              r.Totals,
		WoW:                 r.WoW,
		Trend:               r.Trend,
		Spikes:              nonNil(r.Spikes),
		ByCategory:          head(r.ByCategory, PayloadListLimit),
		RecurringCandidates: head(r.RecurringCandidates, PayloadListLimit),
		TopMerchants:        head(r.TopMerchants, PayloadListLimit),
		TopDeltaDays:        nonNil(r.TopDeltaDays),
	}
}

// fingerprintInput is hashed with short keys so the digest stays stable
// when Payload gains fields.
type fingerprintInput struct {
	TZ           string                       `json:"tz"`
	Totals       metrics.Totals               `json:"t"`
	WoW          enrich.WoW                   `json:"w"`
	Trend        enrich.Trend                 `json:"tr"`
	Spikes       []metrics.DayProfit          `json:"s"`
	Categories   []metrics.CategoryRollup     `json:"c"`
	Merchants    []metrics.MerchantRollup     `json:"m"`
	Recurring    []metrics.RecurringCandidate `json:"r"`
	TopDeltaDays []enrich.DeltaDay            `json:"td"`
}

// Fingerprint returns the hex SHA-256 of the company id and the narrated
// parts of r. Equal inputs always give equal keys, so it doubles as the
// cache key for generated narratives.
func Fingerprint(companyID, tz string, r *enrich.Report) string {
	in := fingerprintInput{
		TZ:           tz,
		Totals:       r.Totals,
		WoW:          r.WoW,
		Trend:        r.Trend,
		Spikes:       nonNil(r.Spikes),
		Categories:   head(r.ByCategory, PayloadListLimit),
		Merchants:    head(r.TopMerchants, PayloadListLimit),
		Recurring:    head(r.RecurringCandidates, PayloadListLimit),
		TopDeltaDays: nonNil(r.TopDeltaDays),
	}
	// Only plain structs, numbers and strings: Marshal cannot fail.
	b, _ := json.Marshal(in)

	h := sha256.New()
	h.Write([]byte(companyID + ":"))
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[:n]
	}
	return nonNil(s)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
