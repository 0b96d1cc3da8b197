package normalize

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-insights/internal/domain"
)

const ts = "2024-03-10T12:00:00Z"

func TestInferDirection(t *testing.T) {
	n := New(DefaultConfig())

	tests := []struct {
		name     string
		raw      domain.RawRecord
		wantDir  domain.Direction
		wantRule string
	}{
		{
			name:     "explicit expense wins over positive sign",
			raw:      domain.RawRecord{"type": "expense", "amount": 40},
			wantDir:  domain.DirectionExpense,
			wantRule: "vocabulary:type",
		},
		{
			name:     "explicit expense wins over negative sign too",
			raw:      domain.RawRecord{"type": "EXPENSE", "amount": -40},
			wantDir:  domain.DirectionExpense,
			wantRule: "vocabulary:type",
		},
		{
			name:     "direction credit is income",
			raw:      domain.RawRecord{"direction": " Credit "},
			wantDir:  domain.DirectionIncome,
			wantRule: "vocabulary:direction",
		},
		{
			name:     "hyphens and spaces collapse before matching",
			raw:      domain.RawRecord{"kind": "Balance - Transfer"},
			wantDir:  domain.DirectionTransfer,
			wantRule: "vocabulary:kind",
		},
		{
			name:     "substring match on category",
			raw:      domain.RawRecord{"category": "Office Rent"},
			wantDir:  domain.DirectionExpense,
			wantRule: "vocabulary:category",
		},
		{
			name:     "transfer_out counts as expense before transfer",
			raw:      domain.RawRecord{"txType": "transfer_out"},
			wantDir:  domain.DirectionExpense,
			wantRule: "vocabulary:txType",
		},
		{
			name:     "earlier field takes priority",
			raw:      domain.RawRecord{"type": "sale", "category": "fees"},
			wantDir:  domain.DirectionIncome,
			wantRule: "vocabulary:type",
		},
		{
			name:     "unmatched field falls through to later field",
			raw:      domain.RawRecord{"type": "card", "status": "refund issued"},
			wantDir:  domain.DirectionIncome,
			wantRule: "vocabulary:status",
		},
		{
			name:     "expense flag",
			raw:      domain.RawRecord{"isExpense": true, "amount": 12},
			wantDir:  domain.DirectionExpense,
			wantRule: "expense_flag",
		},
		{
			name:     "credit flag",
			raw:      domain.RawRecord{"credit": true},
			wantDir:  domain.DirectionIncome,
			wantRule: "income_flag",
		},
		{
			name:     "flags must be real booleans",
			raw:      domain.RawRecord{"isIncome": "true", "amount": -3},
			wantDir:  domain.DirectionExpense,
			wantRule: "sign",
		},
		{
			name:     "negative sign is expense",
			raw:      domain.RawRecord{"signedAmount": "-19.99"},
			wantDir:  domain.DirectionExpense,
			wantRule: "sign",
		},
		{
			name:     "positive sign is income",
			raw:      domain.RawRecord{"status": "completed", "amount": json.Number("15")},
			wantDir:  domain.DirectionIncome,
			wantRule: "sign",
		},
		{
			name:     "first present sign field decides even when zero",
			raw:      domain.RawRecord{"signedAmount": 0, "amount": 50},
			wantDir:  domain.DirectionExpense,
			wantRule: DefaultRuleName,
		},
		{
			name:     "nothing to go on",
			raw:      domain.RawRecord{},
			wantDir:  domain.DirectionExpense,
			wantRule: DefaultRuleName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, rule := n.InferDirection(tt.raw)
			assert.Equal(t, tt.wantDir, dir)
			assert.Equal(t, tt.wantRule, rule)
		})
	}
}

func TestInferDirection_ConfigurableDefault(t *testing.T) {
	n := New(Config{DefaultDirection: domain.DirectionIncome})
	dir, rule := n.InferDirection(domain.RawRecord{"memo": "???"})
	assert.Equal(t, domain.DirectionIncome, dir)
	assert.Equal(t, DefaultRuleName, rule)

	// Invalid defaults fall back to expense.
	n = New(Config{DefaultDirection: "sideways"})
	dir, _ = n.InferDirection(domain.RawRecord{})
	assert.Equal(t, domain.DirectionExpense, dir)
}

func TestNew_CustomRules(t *testing.T) {
	always := Rule{
		Name: "always_income",
		Infer: func(domain.RawRecord) (domain.Direction, bool) {
			return domain.DirectionIncome, true
		},
	}
	n := New(DefaultConfig(), always)
	dir, rule := n.InferDirection(domain.RawRecord{"type": "expense"})
	assert.Equal(t, domain.DirectionIncome, dir)
	assert.Equal(t, "always_income", rule)
}

func TestNormalize_Amount(t *testing.T) {
	n := New(DefaultConfig())

	tests := []struct {
		name string
		raw  domain.RawRecord
		want float64
	}{
		{"cents preferred", domain.RawRecord{"amountCents": -1234, "amount": 99}, 12.34},
		{"minor units", domain.RawRecord{"minorUnits": "500"}, 5},
		{"plain amount is made positive", domain.RawRecord{"amount": -42.5}, 42.5},
		{"falls through to total", domain.RawRecord{"amount": "n/a", "total": 7}, 7},
		{"numeric from big.Rat", domain.RawRecord{"amount": big.NewRat(3, 2)}, 1.5},
		{"NaN ignored", domain.RawRecord{"amount": math.NaN(), "value": 3}, 3},
		{"missing is zero", domain.RawRecord{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.raw["createdAt"] = ts
			tx, outcome := n.Normalize(tt.raw)
			require.Equal(t, Kept, outcome)
			assert.InDelta(t, tt.want, tx.Amount, 1e-9)
			assert.GreaterOrEqual(t, tx.Amount, 0.0)
		})
	}
}

func TestNormalize_Labels(t *testing.T) {
	n := New(DefaultConfig())

	tx, outcome := n.Normalize(domain.RawRecord{
		"categoryName": "Software",
		"vendor":       "  GitHub ",
		"amount":       -9,
		"createdAt":    ts,
	})
	require.Equal(t, Kept, outcome)
	require.NotNil(t, tx.Category)
	require.NotNil(t, tx.Merchant)
	assert.Equal(t, "Software", *tx.Category)
	assert.Equal(t, "GitHub", *tx.Merchant)

	tx, _ = n.Normalize(domain.RawRecord{"category": "  ", "createdAt": ts})
	assert.Nil(t, tx.Category)
	assert.Nil(t, tx.Merchant)
}

func TestNormalize_Identity(t *testing.T) {
	n := New(DefaultConfig())
	n.newID = func() string { return "generated" }

	tx, _ := n.Normalize(domain.RawRecord{"id": 42, "createdAt": ts})
	assert.Equal(t, "42", tx.ID)

	tx, _ = n.Normalize(domain.RawRecord{"_id": "abc", "createdAt": ts})
	assert.Equal(t, "abc", tx.ID)

	tx, _ = n.Normalize(domain.RawRecord{"createdAt": ts})
	assert.Equal(t, "generated", tx.ID)
}

func TestNormalize_Timestamp(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	n := New(Config{Location: berlin})

	want := time.Date(2024, 3, 10, 0, 0, 0, 0, berlin)

	tests := []struct {
		name string
		raw  domain.RawRecord
		want time.Time
	}{
		{"RFC3339", domain.RawRecord{"createdAt": "2024-03-10T12:00:00Z"}, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)},
		{"date only uses location", domain.RawRecord{"date": "2024-03-10"}, want},
		{"civil date", domain.RawRecord{"date": civil.Date{Year: 2024, Month: 3, Day: 10}}, want},
		{"time value", domain.RawRecord{"postedAt": want}, want},
		{"unix millis", domain.RawRecord{"timestamp": want.UnixMilli()}, want},
		{"skips unparseable alias", domain.RawRecord{"createdAt": "yesterday", "date": "2024-03-10"}, want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, outcome := n.Normalize(tt.raw)
			require.Equal(t, Kept, outcome)
			assert.True(t, tt.want.Equal(tx.Timestamp), "got %s want %s", tx.Timestamp, tt.want)
		})
	}
}

func TestNormalize_Drops(t *testing.T) {
	n := New(DefaultConfig())

	_, outcome := n.Normalize(domain.RawRecord{"type": "internal", "amount": 10, "createdAt": ts})
	assert.Equal(t, DroppedTransfer, outcome)

	_, outcome = n.Normalize(domain.RawRecord{"type": "expense", "amount": 10})
	assert.Equal(t, DroppedUndated, outcome)
}

func TestNormalize_MalformedInputDoesNotPanic(t *testing.T) {
	n := New(DefaultConfig())
	raws := []domain.RawRecord{
		nil,
		{"type": []any{"expense"}, "amount": map[string]any{"v": 1}, "createdAt": ts},
		{"type": nil, "amount": math.Inf(1), "createdAt": ts, "category": 17},
		{"createdAt": struct{}{}},
	}
	assert.NotPanics(t, func() {
		for _, raw := range raws {
			n.Normalize(raw)
		}
	})

	tx, outcome := n.Normalize(raws[2])
	require.Equal(t, Kept, outcome)
	assert.Equal(t, 0.0, tx.Amount)
	assert.Equal(t, domain.DirectionExpense, tx.Direction)
	require.NotNil(t, tx.Category)
	assert.Equal(t, "17", *tx.Category)
}

func TestNormalizeAll(t *testing.T) {
	n := New(DefaultConfig())
	raws := []domain.RawRecord{
		{"id": "a", "type": "sale", "amount": 100, "createdAt": ts},
		{"id": "b", "type": "transfer", "amount": 100, "createdAt": ts},
		{"id": "c", "type": "fee", "amount": 5},
		{"id": "d", "amount": -5, "createdAt": ts},
	}

	txs, stats := n.NormalizeAll(raws)

	assert.Equal(t, Stats{Total: 4, Kept: 2, Transfers: 1, Undated: 1}, stats)
	require.Len(t, txs, 2)
	assert.Equal(t, "a", txs[0].ID)
	assert.Equal(t, domain.DirectionIncome, txs[0].Direction)
	assert.Equal(t, "d", txs[1].ID)
	assert.Equal(t, domain.DirectionExpense, txs[1].Direction)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "kept", Kept.String())
	assert.Equal(t, "dropped_transfer", DroppedTransfer.String())
	assert.Equal(t, "dropped_undated", DroppedUndated.String())
}
