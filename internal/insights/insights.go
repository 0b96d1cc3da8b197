// Package insights turns an enriched metrics report into a short narrative
// produced by a language model. It owns caching, throttling and fallbacks so
// callers only see a result or a sentinel error.
package insights

import (
	"errors"
	"fmt"

	"github.com/dvloznov/finance-insights/internal/enrich"
)

var (
	// ErrRateLimited is returned when a narrative may not be generated right now
	// and no cached narrative exists. Use errors.As with *LimitError for details.
	ErrRateLimited = errors.New("insights: rate limited")

	// ErrInsightsUnavailable is returned when generation failed and there is
	// no cached narrative to fall back to.
	ErrInsightsUnavailable = errors.New("insights: narrative unavailable and no cached insights yet")

	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("insights: invalid request")

	// ErrNoGenerator means the service was built without a Generator.
	ErrNoGenerator = errors.New("insights: no generator configured")
)

// Preferred section titles, in the order a reader expects them.
const (
	SectionBottomLine  = "Bottom line"
	SectionTrend       = "Trend & Volatility"
	SectionWeekOnWeek  = "Week-over-Week"
	SectionAnomalies   = "Anomalies"
	SectionCategoryMix = "Category Mix"
	SectionSuggestions = "Suggestions"
)

// NoActivityMessage is shown when the window has neither income nor expense.
const NoActivityMessage = "No meaningful activity detected for this period."

// NoDataMessage is shown when the window holds no usable transactions.
func NoDataMessage(days int) string {
	return fmt.Sprintf("No transactions in the last %d days. Add data to unlock insights.", days)
}

// Section is one titled group of bullets.
type Section struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
}

// Insights is the narrative shown next to the dashboard.
type Insights struct {
	Sections []Section `json:"sections"`
}

// BottomLine returns Insights with a single bottom line bullet.
func BottomLine(msg string) *Insights {
	return &Insights{Sections: []Section{{Title: SectionBottomLine, Bullets: []string{msg}}}}
}

// AnalyzeRequest asks for the narrative of one company.
type AnalyzeRequest struct {
	CompanyID string
	// Timezone is an IANA name; unknown values fall back to UTC.
	Timezone string
	// Refresh bypasses a cached narrative.
	Refresh bool
	// UserID scopes the daily limit; empty means anonymous.
	UserID string
}

// AnalyzeResult is the outcome of Service.Analyze.
type AnalyzeResult struct {
	Metrics  *enrich.Report `json:"metrics"`
	Insights *Insights      `json:"insightsJSON"`
	UsedAI   bool           `json:"usedAI"`
	Cached   bool           `json:"cached"`
	Stale    bool           `json:"stale"`
	CacheKey string         `json:"cacheKey,omitempty"`
}
