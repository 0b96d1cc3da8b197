package inmemory

import (
	"context"
	"sync"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-insights/internal/insights"
)

type usageKey struct {
	companyID string
	userID    string
	day       civil.Date
}

// Usage is an in-memory UsageStore. It is safe for concurrent use.
type Usage struct {
	mu     sync.Mutex
	counts map[usageKey]int64
}

// NewUsage creates an empty usage counter.
func NewUsage() *Usage {
	return &Usage{counts: make(map[usageKey]int64)}
}

// Count implements the UsageStore interface.
func (u *Usage) Count(ctx context.Context, companyID, userID string, day civil.Date) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[usageKey{companyID, userID, day}], nil
}

// Increment implements the UsageStore interface.
func (u *Usage) Increment(ctx context.Context, companyID, userID string, day civil.Date) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[usageKey{companyID, userID, day}]++
	return nil
}

// Ensure Usage implements UsageStore interface.
var _ insights.UsageStore = (*Usage)(nil)
