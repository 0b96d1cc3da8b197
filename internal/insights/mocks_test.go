package insights

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-insights/internal/domain"
)

// MockSource is a mock TransactionSource.
type MockSource struct {
	ListFunc func(ctx context.Context, companyID string, since time.Time) ([]domain.RawRecord, error)
}

func (m *MockSource) ListRawTransactions(ctx context.Context, companyID string, since time.Time) ([]domain.RawRecord, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, companyID, since)
	}
	return nil, nil
}

// MockGenerator is a mock Generator that counts its calls.
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, payload *Payload) (*Generation, error)

	mu    sync.Mutex
	calls int
}

func (m *MockGenerator) Generate(ctx context.Context, payload *Payload) (*Generation, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, payload)
	}
	return &Generation{Insights: BottomLine("generated"), Raw: `{"sections":[]}`, Model: "test-model"}, nil
}

func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// memCache is a map-backed CacheStore.
type memCache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	getErr  error
	putErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*CacheEntry)}
}

func (c *memCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.entries[key], nil
}

func (c *memCache) Put(ctx context.Context, entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	c.entries[entry.Key] = entry
	return nil
}

// memUsage is a map-backed UsageStore.
type memUsage struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemUsage() *memUsage {
	return &memUsage{counts: make(map[string]int64)}
}

func (u *memUsage) key(companyID, userID string, day civil.Date) string {
	return companyID + "|" + userID + "|" + day.String()
}

func (u *memUsage) Count(ctx context.Context, companyID, userID string, day civil.Date) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[u.key(companyID, userID, day)], nil
}

func (u *memUsage) Increment(ctx context.Context, companyID, userID string, day civil.Date) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[u.key(companyID, userID, day)]++
	return nil
}

// MockAudit collects audited outputs.
type MockAudit struct {
	mu      sync.Mutex
	outputs []*ModelOutput
}

func (m *MockAudit) RecordModelOutput(ctx context.Context, out *ModelOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, out)
	return nil
}
