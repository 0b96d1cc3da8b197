package domain

import (
	"time"
)

// RawRecord is one untyped transaction row as it arrives from storage or a client.
// Field names and value types vary by source (amount vs amountCents, type vs direction,
// createdAt vs date, BigQuery values vs decoded JSON).
type RawRecord map[string]any

// Direction classifies the flow of money for a transaction.
type Direction string

const (
	DirectionIncome   Direction = "income"
	DirectionExpense  Direction = "expense"
	DirectionTransfer Direction = "transfer"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionIncome, DirectionExpense, DirectionTransfer:
		return true
	}
	return false
}

// Transaction is the canonical, normalized form of a raw record.
// Amount is always non-negative; the sign lives in Direction.
type Transaction struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Amount    float64   `json:"amount"`
	Category  *string   `json:"category,omitempty"`
	Merchant  *string   `json:"merchant,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Signed returns the amount with expenses negated.
func (t Transaction) Signed() float64 {
	if t.Direction == DirectionExpense {
		return -t.Amount
	}
	return t.Amount
}

// CategoryLabel returns the category, or fallback when it is absent.
func (t Transaction) CategoryLabel(fallback string) string {
	if t.Category == nil || *t.Category == "" {
		return fallback
	}
	return *t.Category
}

// MerchantName returns the merchant name or "" when absent.
func (t Transaction) MerchantName() string {
	if t.Merchant == nil {
		return ""
	}
	return *t.Merchant
}
