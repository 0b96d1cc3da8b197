package insights

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-insights/internal/domain"
)

// TransactionSource loads the raw transaction records of a company.
type TransactionSource interface {
	ListRawTransactions(ctx context.Context, companyID string, since time.Time) ([]domain.RawRecord, error)
}

// Generator writes a narrative for a payload.
// This abstraction allows swapping the model provider and mocking it in tests.
type Generator interface {
	Generate(ctx context.Context, payload *Payload) (*Generation, error)
}

// Generation is a validated model reply.
type Generation struct {
	Insights *Insights
	// Raw is the reply text as received, kept for the audit trail.
	Raw          string
	Model        string
	ModelVersion string
}

// CacheEntry is a narrative stored under a report fingerprint.
type CacheEntry struct {
	Key       string
	CompanyID string
	Payload   *Payload
	Insights  *Insights
	ExpiresAt time.Time
}

// Stale reports whether the entry expired before now.
func (e *CacheEntry) Stale(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}

// CacheStore keeps narratives by fingerprint. Expired entries stay readable
// so they can serve as a fallback.
type CacheStore interface {
	// Get returns the entry for key, or nil when there is none.
	Get(ctx context.Context, key string) (*CacheEntry, error)

	// Put stores the entry. An existing entry keeps its original payload.
	Put(ctx context.Context, entry *CacheEntry) error
}

// UsageStore counts generated narratives per company, user and UTC day.
type UsageStore interface {
	Count(ctx context.Context, companyID, userID string, day civil.Date) (int64, error)
	Increment(ctx context.Context, companyID, userID string, day civil.Date) error
}

// ModelOutput is one audited model reply.
type ModelOutput struct {
	CompanyID    string
	CacheKey     string
	Model        string
	ModelVersion string
	Raw          string
	CreatedAt    time.Time
}

// ModelOutputStore keeps an audit trail of model replies.
type ModelOutputStore interface {
	RecordModelOutput(ctx context.Context, out *ModelOutput) error
}
