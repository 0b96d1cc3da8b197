package insights

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bq "github.com/dvloznov/finance-insights/internal/bigquery"
)

// MockCacheRepository is a mock AnalyzeCacheRepository backed by a map.
type MockCacheRepository struct {
	rows map[string]*bq.AnalyzeCacheRow
}

func (m *MockCacheRepository) GetAnalyzeCache(ctx context.Context, key string) (*bq.AnalyzeCacheRow, error) {
	return m.rows[key], nil
}

func (m *MockCacheRepository) UpsertAnalyzeCache(ctx context.Context, row *bq.AnalyzeCacheRow) error {
	m.rows[row.CacheKey] = row
	return nil
}

// MockUsageRepository is a mock AnalyzeUsageRepository.
type MockUsageRepository struct {
	GetUsageFunc       func(ctx context.Context, companyID, userID string, day civil.Date) (int64, error)
	IncrementUsageFunc func(ctx context.Context, companyID, userID string, day civil.Date) error
}

func (m *MockUsageRepository) GetUsage(ctx context.Context, companyID, userID string, day civil.Date) (int64, error) {
	if m.GetUsageFunc != nil {
		return m.GetUsageFunc(ctx, companyID, userID, day)
	}
	return 0, nil
}

func (m *MockUsageRepository) IncrementUsage(ctx context.Context, companyID, userID string, day civil.Date) error {
	if m.IncrementUsageFunc != nil {
		return m.IncrementUsageFunc(ctx, companyID, userID, day)
	}
	return nil
}

// MockModelOutputRepository collects inserted rows.
type MockModelOutputRepository struct {
	rows []*bq.ModelOutputRow
}

func (m *MockModelOutputRepository) InsertModelOutput(ctx context.Context, row *bq.ModelOutputRow) error {
	m.rows = append(m.rows, row)
	return nil
}

func TestBigQueryCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := &MockCacheRepository{rows: make(map[string]*bq.AnalyzeCacheRow)}
	cache := NewBigQueryCache(repo)

	missing, err := cache.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	expires := time.Date(2024, 3, 31, 15, 10, 0, 0, time.UTC)
	entry := &CacheEntry{
		Key:       "k1",
		CompanyID: "acme",
		Payload:   BuildPayload("UTC", bigReport()),
		Insights:  BottomLine("Profit is up."),
		ExpiresAt: expires,
	}
	require.NoError(t, cache.Put(ctx, entry))

	row := repo.rows["k1"]
	require.NotNil(t, row)
	assert.JSONEq(t, `{"sections":[{"title":"Bottom line","bullets":["Profit is up."]}]}`, row.Data)
	assert.Contains(t, row.Payload, `"rangeDays":90`)

	got, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.CompanyID)
	assert.Equal(t, expires, got.ExpiresAt)
	assert.Equal(t, entry.Insights, got.Insights)
	require.NotNil(t, got.Payload)
	assert.Equal(t, 90, got.Payload.RangeDays)
}

func TestBigQueryCache_CorruptData(t *testing.T) {
	repo := &MockCacheRepository{rows: map[string]*bq.AnalyzeCacheRow{
		"k1": {CacheKey: "k1", Data: "{not json", Payload: "also not json"},
	}}
	_, err := NewBigQueryCache(repo).Get(context.Background(), "k1")
	assert.Error(t, err)
}

func TestBigQueryUsage_Delegates(t *testing.T) {
	day := civil.Date{Year: 2024, Month: 3, Day: 31}
	var incremented bool
	repo := &MockUsageRepository{
		GetUsageFunc: func(ctx context.Context, companyID, userID string, d civil.Date) (int64, error) {
			assert.Equal(t, "acme", companyID)
			assert.Equal(t, "anon", userID)
			assert.Equal(t, day, d)
			return 7, nil
		},
		IncrementUsageFunc: func(ctx context.Context, companyID, userID string, d civil.Date) error {
			incremented = true
			return nil
		},
	}
	usage := NewBigQueryUsage(repo)

	n, err := usage.Count(context.Background(), "acme", "anon", day)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.NoError(t, usage.Increment(context.Background(), "acme", "anon", day))
	assert.True(t, incremented)
}

func TestBigQueryAudit_RecordModelOutput(t *testing.T) {
	repo := &MockModelOutputRepository{}
	audit := NewBigQueryAudit(repo)
	created := time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC)

	err := audit.RecordModelOutput(context.Background(), &ModelOutput{
		CompanyID:    "acme",
		CacheKey:     "k1",
		Model:        "gemini-2.5-flash",
		ModelVersion: "gemini-2.5-flash-001",
		Raw:          "```json\n{\"sections\":[]}\n```",
		CreatedAt:    created,
	})
	require.NoError(t, err)

	require.Len(t, repo.rows, 1)
	row := repo.rows[0]
	assert.NotEmpty(t, row.OutputID)
	assert.Equal(t, "acme", row.CompanyID)
	assert.Equal(t, "k1", row.CacheKey)
	assert.True(t, row.ModelVersion.Valid)
	assert.True(t, row.RawJSON.Valid)
	assert.Equal(t, `{"sections":[]}`, row.RawJSON.JSONVal)
	assert.True(t, row.Notes.Valid, "fenced reply is kept verbatim")
	assert.True(t, row.CreatedTS.Valid)
	assert.Equal(t, created, row.CreatedTS.Timestamp)
}

func TestBigQueryAudit_PlainReplyHasNoNotes(t *testing.T) {
	row := modelOutputRow(&ModelOutput{Raw: `{"sections":[]}`})
	assert.True(t, row.RawJSON.Valid)
	assert.False(t, row.Notes.Valid)
	assert.False(t, row.ModelVersion.Valid)
	assert.False(t, row.CreatedTS.Valid)
}
