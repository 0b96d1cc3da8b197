package insights

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	bq "github.com/dvloznov/finance-insights/internal/bigquery"
)

// BigQueryCache stores narratives in the analyze_cache table.
type BigQueryCache struct {
	repo bq.AnalyzeCacheRepository
}

func NewBigQueryCache(repo bq.AnalyzeCacheRepository) *BigQueryCache {
	return &BigQueryCache{repo: repo}
}

// Get implements CacheStore.
func (c *BigQueryCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	row, err := c.repo.GetAnalyzeCache(ctx, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	entry := &CacheEntry{Key: row.CacheKey, CompanyID: row.CompanyID, ExpiresAt: row.ExpiresAt}
	if err := json.Unmarshal([]byte(row.Data), &entry.Insights); err != nil {
		return nil, fmt.Errorf("Get: decoding cached insights: %w", err)
	}
	if row.Payload != "" && row.Payload != "null" {
		// The payload is informational; a row with an unreadable one still serves.
		_ = json.Unmarshal([]byte(row.Payload), &entry.Payload)
	}
	return entry, nil
}

// Put implements CacheStore.
func (c *BigQueryCache) Put(ctx context.Context, entry *CacheEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("Put: encoding payload: %w", err)
	}
	data, err := json.Marshal(entry.Insights)
	if err != nil {
		return fmt.Errorf("Put: encoding insights: %w", err)
	}

	return c.repo.UpsertAnalyzeCache(ctx, &bq.AnalyzeCacheRow{
		CacheKey:  entry.Key,
		CompanyID: entry.CompanyID,
		Payload:   string(payload),
		Data:      string(data),
		ExpiresAt: entry.ExpiresAt.UTC(),
	})
}

// BigQueryUsage counts generations in the analyze_usage table.
type BigQueryUsage struct {
	repo bq.AnalyzeUsageRepository
}

func NewBigQueryUsage(repo bq.AnalyzeUsageRepository) *BigQueryUsage {
	return &BigQueryUsage{repo: repo}
}

// Count implements UsageStore.
func (u *BigQueryUsage) Count(ctx context.Context, companyID, userID string, day civil.Date) (int64, error) {
	return u.repo.GetUsage(ctx, companyID, userID, day)
}

// Increment implements UsageStore.
func (u *BigQueryUsage) Increment(ctx context.Context, companyID, userID string, day civil.Date) error {
	return u.repo.IncrementUsage(ctx, companyID, userID, day)
}

// BigQueryAudit writes model replies to the model_outputs table.
type BigQueryAudit struct {
	repo bq.ModelOutputRepository
}

func NewBigQueryAudit(repo bq.ModelOutputRepository) *BigQueryAudit {
	return &BigQueryAudit{repo: repo}
}

// RecordModelOutput implements ModelOutputStore.
func (a *BigQueryAudit) RecordModelOutput(ctx context.Context, out *ModelOutput) error {
	return a.repo.InsertModelOutput(ctx, modelOutputRow(out))
}

func modelOutputRow(out *ModelOutput) *bq.ModelOutputRow {
	row := &bq.ModelOutputRow{
		OutputID:  uuid.New().String(),
		CompanyID: out.CompanyID,
		CacheKey:  out.CacheKey,
		ModelName: out.Model,
		CreatedTS: bigquery.NullTimestamp{Timestamp: out.CreatedAt.UTC(), Valid: !out.CreatedAt.IsZero()},
	}
	if out.ModelVersion != "" {
		row.ModelVersion = bigquery.NullString{StringVal: out.ModelVersion, Valid: true}
	}

	// The JSON column only accepts valid documents, so fenced replies are
	// stored cleaned and the original text goes to notes.
	clean := cleanModelJSON(out.Raw)
	if json.Valid([]byte(clean)) {
		row.RawJSON = bigquery.NullJSON{JSONVal: clean, Valid: true}
	}
	if clean != out.Raw {
		row.Notes = bigquery.NullString{StringVal: out.Raw, Valid: true}
	}
	return row
}

var (
	_ CacheStore       = (*BigQueryCache)(nil)
	_ UsageStore       = (*BigQueryUsage)(nil)
	_ ModelOutputStore = (*BigQueryAudit)(nil)
)
