package bigquery

import (
	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-insights/internal/domain"
)

// TransactionRowFromDomain converts a normalized transaction into a row of the
// transactions table. The stored amount is signed: expenses are negative.
func TransactionRowFromDomain(companyID string, tx domain.Transaction, currency string) *TransactionRow {
	amount := decimal.NewFromFloat(tx.Signed()).Round(2)

	row := &TransactionRow{
		TransactionID: tx.ID,
		CompanyID:     companyID,
		CreatedAt:     tx.Timestamp.UTC(),
		Amount:        amount.Rat(),
		AmountCents:   bigquery.NullInt64{Int64: amount.Shift(2).IntPart(), Valid: true},
		Currency:      currency,
		Direction:     bigquery.NullString{StringVal: string(tx.Direction), Valid: true},
	}
	if !tx.Timestamp.IsZero() {
		row.PostedAt = bigquery.NullDate{Date: civil.DateOf(tx.Timestamp), Valid: true}
	}
	if tx.Category != nil {
		row.Category = bigquery.NullString{StringVal: *tx.Category, Valid: true}
	}
	if tx.Merchant != nil {
		row.Merchant = bigquery.NullString{StringVal: *tx.Merchant, Valid: true}
	}
	return row
}
