// Package normalize maps loosely-typed transaction rows onto domain.Transaction.
//
// Inference never fails: unknown or malformed fields degrade to defaults
// (zero amount, the configured default direction, absent labels). Records that
// resolve to a transfer, or that carry no usable timestamp, are dropped.
package normalize

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-insights/internal/domain"
)

// Field aliases, first present wins.
var (
	CentsFields     = []string{"amountCents", "minorUnits", "cents"}
	AmountFields    = []string{"amount", "value", "net", "gross", "total", "signedAmount"}
	CategoryFields  = []string{"category", "categoryName", "category_label"}
	MerchantFields  = []string{"merchant", "vendor", "payee", "counterparty", "account"}
	IDFields        = []string{"id", "uuid", "_id"}
	TimestampFields = []string{"createdAt", "date", "postedAt", "timestamp"}
)

// DefaultRuleName is reported when no rule matched and the default direction was used.
const DefaultRuleName = "default"

// Outcome describes what happened to a single raw record.
type Outcome int

const (
	Kept Outcome = iota
	DroppedTransfer
	DroppedUndated
)

func (o Outcome) String() string {
	switch o {
	case Kept:
		return "kept"
	case DroppedTransfer:
		return "dropped_transfer"
	case DroppedUndated:
		return "dropped_undated"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Config controls the policy choices of the normalizer.
type Config struct {
	// DefaultDirection applies when no rule matches. Unknown money is treated as a cost.
	DefaultDirection domain.Direction
	// Location interprets zoneless dates such as "2024-03-01" or BigQuery DATE values.
	Location *time.Location
}

// DefaultConfig returns the conservative defaults: expense direction, UTC dates.
func DefaultConfig() Config {
	return Config{
		DefaultDirection: domain.DirectionExpense,
		Location:         time.UTC,
	}
}

// Stats counts outcomes of a NormalizeAll call.
type Stats struct {
	Total     int `json:"total"`
	Kept      int `json:"kept"`
	Transfers int `json:"transfers"`
	Undated   int `json:"undated"`
}

// Normalizer applies a rule table and field aliases to raw records.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	cfg   Config
	rules []Rule
	newID func() string
}

// New creates a Normalizer. When no rules are given DefaultRules is used.
func New(cfg Config, rules ...Rule) *Normalizer {
	if !cfg.DefaultDirection.Valid() {
		cfg.DefaultDirection = domain.DirectionExpense
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Normalizer{cfg: cfg, rules: rules, newID: uuid.NewString}
}

// InferDirection runs the rule table and returns the direction with the name of the
// rule that decided it.
func (n *Normalizer) InferDirection(raw domain.RawRecord) (domain.Direction, string) {
	for _, rule := range n.rules {
		if dir, ok := rule.Infer(raw); ok {
			return dir, rule.Name
		}
	}
	return n.cfg.DefaultDirection, DefaultRuleName
}

// Normalize converts one raw record. The returned transaction is only meaningful
// when the outcome is Kept.
func (n *Normalizer) Normalize(raw domain.RawRecord) (domain.Transaction, Outcome) {
	dir, _ := n.InferDirection(raw)
	if dir == domain.DirectionTransfer {
		return domain.Transaction{}, DroppedTransfer
	}

	ts, ok := firstTime(raw, TimestampFields, n.cfg.Location)
	if !ok {
		return domain.Transaction{}, DroppedUndated
	}

	return domain.Transaction{
		ID:        n.extractID(raw),
		Direction: dir,
		Amount:    extractAmount(raw),
		Category:  firstLabel(raw, CategoryFields),
		Merchant:  firstLabel(raw, MerchantFields),
		Timestamp: ts,
	}, Kept
}

// NormalizeAll converts a batch, preserving input order of kept records.
func (n *Normalizer) NormalizeAll(raws []domain.RawRecord) ([]domain.Transaction, Stats) {
	txs := make([]domain.Transaction, 0, len(raws))
	stats := Stats{Total: len(raws)}
	for _, raw := range raws {
		tx, outcome := n.Normalize(raw)
		switch outcome {
		case Kept:
			stats.Kept++
			txs = append(txs, tx)
		case DroppedTransfer:
			stats.Transfers++
		case DroppedUndated:
			stats.Undated++
		}
	}
	return txs, stats
}

func (n *Normalizer) extractID(raw domain.RawRecord) string {
	if label := firstLabel(raw, IDFields); label != nil {
		return *label
	}
	return n.newID()
}

// extractAmount prefers minor units, then the plain amount aliases. Always >= 0.
func extractAmount(raw domain.RawRecord) float64 {
	if cents, ok := firstNumber(raw, CentsFields); ok {
		return math.Abs(cents) / 100
	}
	if amount, ok := firstNumber(raw, AmountFields); ok {
		return math.Abs(amount)
	}
	return 0
}
