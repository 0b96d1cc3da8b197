package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-insights/internal/domain"
)

// TransactionRepository provides access to the raw transaction rows of a company.
type TransactionRepository interface {
	// ListRawTransactions returns all rows of a company created at or after since,
	// ascending by creation time, as schema-agnostic records.
	ListRawTransactions(ctx context.Context, companyID string, since time.Time) ([]domain.RawRecord, error)

	// InsertTransactions inserts a batch of TransactionRow into the database.
	InsertTransactions(ctx context.Context, rows []*TransactionRow) error
}

// AnalyzeCacheRepository stores generated insights keyed by report fingerprint.
type AnalyzeCacheRepository interface {
	// GetAnalyzeCache returns the row for key, or nil when there is none.
	GetAnalyzeCache(ctx context.Context, key string) (*AnalyzeCacheRow, error)

	// UpsertAnalyzeCache inserts the row or refreshes data and expiry of an existing one.
	UpsertAnalyzeCache(ctx context.Context, row *AnalyzeCacheRow) error
}

// AnalyzeUsageRepository counts narrative generations per company, user and day.
type AnalyzeUsageRepository interface {
	GetUsage(ctx context.Context, companyID, userID string, day civil.Date) (int64, error)
	IncrementUsage(ctx context.Context, companyID, userID string, day civil.Date) error
}

// ModelOutputRepository keeps an audit trail of raw model replies.
type ModelOutputRepository interface {
	// InsertModelOutput inserts a single ModelOutputRow into the database.
	InsertModelOutput(ctx context.Context, row *ModelOutputRow) error
}

// TransactionRow represents a transaction record in BigQuery.
// Source-specific fields that have no column go into Extra.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id" json:"transaction_id"`
	CompanyID     string `bigquery:"company_id" json:"company_id"`

	CreatedAt time.Time         `bigquery:"created_at" json:"created_at"`
	PostedAt  bigquery.NullDate `bigquery:"posted_at" json:"posted_at,omitempty"`

	Amount      *big.Rat           `bigquery:"amount" json:"amount"`
	AmountCents bigquery.NullInt64 `bigquery:"amount_cents" json:"amount_cents,omitempty"`
	Currency    string             `bigquery:"currency" json:"currency"`

	Type      bigquery.NullString `bigquery:"type" json:"type,omitempty"`
	Direction bigquery.NullString `bigquery:"direction" json:"direction,omitempty"`
	Status    bigquery.NullString `bigquery:"status" json:"status,omitempty"`

	Category bigquery.NullString `bigquery:"category" json:"category,omitempty"`
	Merchant bigquery.NullString `bigquery:"merchant" json:"merchant,omitempty"`

	Description bigquery.NullString `bigquery:"description" json:"description,omitempty"`

	Extra bigquery.NullJSON `bigquery:"extra" json:"extra,omitempty"`
}

// MarshalJSON customizes JSON serialization for TransactionRow.
func (t TransactionRow) MarshalJSON() ([]byte, error) {
	type Alias TransactionRow
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		*Alias
	}{
		Amount: func() string {
			if t.Amount == nil {
				return "0"
			}
			f, _ := t.Amount.Float64()
			return fmt.Sprintf("%.2f", f)
		}(),
		Alias: (*Alias)(&t),
	})
}

// AnalyzeCacheRow represents one cached narrative in BigQuery.
// Payload and Data hold JSON documents.
type AnalyzeCacheRow struct {
	CacheKey  string    `bigquery:"cache_key"`
	CompanyID string    `bigquery:"company_id"`
	Payload   string    `bigquery:"payload"`
	Data      string    `bigquery:"data"`
	ExpiresAt time.Time `bigquery:"expires_at"`

	CreatedAt bigquery.NullTimestamp `bigquery:"created_at"`
	UpdatedAt bigquery.NullTimestamp `bigquery:"updated_at"`
}

// AnalyzeUsageRow is the per-day generation counter.
type AnalyzeUsageRow struct {
	CompanyID string     `bigquery:"company_id"`
	UserID    string     `bigquery:"user_id"`
	Day       civil.Date `bigquery:"day"`
	Count     int64      `bigquery:"count"`
}

// ModelOutputRow represents a model output record in BigQuery.
type ModelOutputRow struct {
	OutputID  string `bigquery:"output_id"`
	CompanyID string `bigquery:"company_id"`
	CacheKey  string `bigquery:"cache_key"`

	ModelName    string              `bigquery:"model_name"`
	ModelVersion bigquery.NullString `bigquery:"model_version"`

	RawJSON bigquery.NullJSON `bigquery:"raw_json"`

	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts"`
	Notes     bigquery.NullString    `bigquery:"notes"`

	Metadata bigquery.NullJSON `bigquery:"metadata"`
}
