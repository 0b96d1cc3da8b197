package insights

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-insights/internal/domain"
	"github.com/dvloznov/finance-insights/internal/metrics"
)

var fixedNow = time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC)

func sampleRecords() []domain.RawRecord {
	return []domain.RawRecord{
		{"id": "s1", "type": "sale", "amount": 1200.0, "createdAt": "2024-03-30T10:00:00Z", "merchant": "Stripe"},
		{"id": "s2", "type": "sale", "amount": 800.0, "createdAt": "2024-03-20T10:00:00Z", "merchant": "Stripe"},
		{"id": "e1", "type": "expense", "amount": 300.0, "createdAt": "2024-03-29T10:00:00Z", "merchant": "AWS", "category": "Hosting"},
		{"id": "t1", "type": "transfer", "amount": 5000.0, "createdAt": "2024-03-28T10:00:00Z"},
	}
}

func staticSource(records []domain.RawRecord) *MockSource {
	return &MockSource{
		ListFunc: func(ctx context.Context, companyID string, since time.Time) ([]domain.RawRecord, error) {
			return records, nil
		},
	}
}

// clock is a settable test clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(src TransactionSource, cache CacheStore, opts ...Option) *Service {
	eng := metrics.NewEngine(metrics.DefaultConfig())
	eng.Now = func() time.Time { return fixedNow }
	base := []Option{WithEngine(eng), WithClock(func() time.Time { return fixedNow })}
	return NewService(src, cache, append(base, opts...)...)
}

func TestAnalyze_NoData(t *testing.T) {
	gen := &MockGenerator{}
	svc := newTestService(staticSource(nil), newMemCache(), WithGenerator(gen))

	res, err := svc.Analyze(context.Background(), AnalyzeRequest{CompanyID: "acme"})
	require.NoError(t, err)

	assert.False(t, res.UsedAI)
	assert.False(t, res.Cached)
	assert.Equal(t, BottomLine(NoDataMessage(90)), res.Insights)
	assert.Equal(t, "No transactions in the last 90 days. Add data to unlock insights.", res.Insights.Sections[0].Bullets[0])
	require.NotNil(t, res.Metrics)
	assert.Len(t, res.Metrics.ByDay, 90)
	assert.Zero(t, gen.Calls())
}

func TestAnalyze_OnlyTransfersCountsAsNoData(t *testing.T) {
	gen := &MockGenerator{}
	records := []domain.RawRecord{{"type": "transfer", "amount": 10.0, "createdAt": "2024-03-30T10:00:00Z"}}
	svc := newTestService(staticSource(records), newMemCache(), WithGenerator(gen))

	res, err := svc.Analyze(context.Background(), AnalyzeRequest{CompanyID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, NoDataMessage(90), res.Insights.Sections[0].Bullets[0])
	assert.Zero(t, gen.Calls())
}

func TestAnalyze_GeneratesThenServesCache(t *testing.T) {
	gen := &MockGenerator{}
	cache := newMemCache()
	svc := newTestService(staticSource(sampleRecords()), cache, WithGenerator(gen))
	ctx := context.Background()

	first, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme", Timezone: "UTC"})
	require.NoError(t, err)
	assert.True(t, first.UsedAI)
	assert.False(t, first.Cached)
	assert.Equal(t, "generated", first.Insights.Sections[0].Bullets[0])
	assert.Equal(t, 2000.0, first.Metrics.Totals.Income)
	assert.Equal(t, 300.0, first.Metrics.Totals.Expense)
	require.Len(t, first.CacheKey, 64)

	entry := cache.entries[first.CacheKey]
	require.NotNil(t, entry)
	assert.Equal(t, "acme", entry.CompanyID)
	assert.Equal(t, fixedNow.Add(DefaultCacheTTL), entry.ExpiresAt)
	require.NotNil(t, entry.Payload)
	assert.Equal(t, "UTC", entry.Payload.Timezone)

	second, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme", Timezone: "UTC"})
	require.NoError(t, err)
	assert.False(t, second.UsedAI)
	assert.True(t, second.Cached)
	assert.False(t, second.Stale)
	assert.Equal(t, first.Insights, second.Insights)
	assert.Equal(t, 1, gen.Calls())
}

func TestAnalyze_ExpiredCacheIsServedAsStale(t *testing.T) {
	clk := &clock{now: fixedNow}
	gen := &MockGenerator{}
	svc := newTestService(staticSource(sampleRecords()), newMemCache(), WithGenerator(gen), WithClock(clk.Now))
	ctx := context.Background()

	_, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme"})
	require.NoError(t, err)

	clk.Advance(11 * time.Minute)
	res, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme"})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.True(t, res.Stale)
	assert.False(t, res.UsedAI)
	assert.Equal(t, 1, gen.Calls())
}

func TestAnalyze_RefreshBypassesCache(t *testing.T) {
	gen := &MockGenerator{}
	svc := newTestService(staticSource(sampleRecords()), newMemCache(), WithGenerator(gen))
	ctx := context.Background()

	_, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme"})
	require.NoError(t, err)
	res, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme", Refresh: true})
	require.NoError(t, err)

	assert.True(t, res.UsedAI)
	assert.Equal(t, 2, gen.Calls())
}

func TestAnalyze_NoSignalSkipsGeneration(t *testing.T) {
	gen := &MockGenerator{}
	records := []domain.RawRecord{
		{"type": "sale", "amount": 0.0, "createdAt": "2024-03-30T10:00:00Z"},
		{"type": "expense", "amount": "0", "createdAt": "2024-03-29T10:00:00Z"},
	}
	svc := newTestService(staticSource(records), newMemCache(), WithGenerator(gen))

	res, err := svc.Analyze(context.Background(), AnalyzeRequest{CompanyID: "acme", Refresh: true})
	require.NoError(t, err)

	assert.Equal(t, BottomLine(NoActivityMessage), res.Insights)
	assert.False(t, res.UsedAI)
	assert.Zero(t, gen.Calls())
}

func TestAnalyze_GenerationFailure(t *testing.T) {
	ctx := context.Background()
	failing := func(ctx context.Context, payload *Payload) (*Generation, error) {
		return nil, errors.New("model overloaded")
	}

	t.Run("falls back to cached insights", func(t *testing.T) {
		gen := &MockGenerator{}
		svc := newTestService(staticSource(sampleRecords()), newMemCache(), WithGenerator(gen))

		first, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme"})
		require.NoError(t, err)

		gen.GenerateFunc = failing
		res, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme", Refresh: true})
		require.NoError(t, err)
		assert.True(t, res.Cached)
		assert.True(t, res.Stale)
		assert.False(t, res.UsedAI)
		assert.Equal(t, first.Insights, res.Insights)
	})

	t.Run("unavailable without cache", func(t *testing.T) {
		gen := &MockGenerator{GenerateFunc: failing}
		svc := newTestService(staticSource(sampleRecords()), newMemCache(), WithGenerator(gen))

		_, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsightsUnavailable)
		assert.Contains(t, err.Error(), "model overloaded")
	})

	t.Run("no generator configured", func(t *testing.T) {
		svc := newTestService(staticSource(sampleRecords()), newMemCache())

		_, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme"})
		assert.ErrorIs(t, err, ErrInsightsUnavailable)
	})

	t.Run("empty generation", func(t *testing.T) {
		gen := &MockGenerator{GenerateFunc: func(ctx context.Context, payload *Payload) (*Generation, error) {
			return &Generation{}, nil
		}}
		svc := newTestService(staticSource(sampleRecords()), newMemCache(), WithGenerator(gen))

		_, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme"})
		assert.ErrorIs(t, err, ErrInsightsUnavailable)
	})
}

func TestAnalyze_RateLimited(t *testing.T) {
	ctx := context.Background()
	today := fixedNow.UTC()

	t.Run("without cache", func(t *testing.T) {
		usage := newMemUsage()
		usage.counts[usage.key("acme", AnonymousUser, dateOf(today))] = 50
		limiter := NewLimiter(DefaultLimits(), usage)
		limiter.now = func() time.Time { return fixedNow }

		gen := &MockGenerator{}
		svc := newTestService(staticSource(sampleRecords()), newMemCache(), WithGenerator(gen), WithLimiter(limiter))

		_, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRateLimited)

		var limitErr *LimitError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, "daily limit", limitErr.Reason)
		assert.Zero(t, gen.Calls())
	})

	t.Run("with cache", func(t *testing.T) {
		usage := newMemUsage()
		limiter := NewLimiter(Limits{DailyLimit: 1}, usage)
		limiter.now = func() time.Time { return fixedNow }

		gen := &MockGenerator{}
		svc := newTestService(staticSource(sampleRecords()), newMemCache(), WithGenerator(gen), WithLimiter(limiter))

		_, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme", UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), usage.counts[usage.key("acme", "u1", dateOf(today))])

		res, err := svc.Analyze(ctx, AnalyzeRequest{CompanyID: "acme", UserID: "u1", Refresh: true})
		require.NoError(t, err)
		assert.True(t, res.Cached)
		assert.True(t, res.Stale)
		assert.Equal(t, 1, gen.Calls())
	})
}

func TestAnalyze_CacheErrorsAreNotFatal(t *testing.T) {
	cache := newMemCache()
	cache.getErr = errors.New("read failed")
	cache.putErr = errors.New("write failed")
	gen := &MockGenerator{}
	svc := newTestService(staticSource(sampleRecords()), cache, WithGenerator(gen))

	res, err := svc.Analyze(context.Background(), AnalyzeRequest{CompanyID: "acme"})
	require.NoError(t, err)
	assert.True(t, res.UsedAI)
}

func TestAnalyze_AuditsModelOutput(t *testing.T) {
	audit := &MockAudit{}
	gen := &MockGenerator{}
	svc := newTestService(staticSource(sampleRecords()), newMemCache(), WithGenerator(gen), WithAudit(audit))

	res, err := svc.Analyze(context.Background(), AnalyzeRequest{CompanyID: "acme"})
	require.NoError(t, err)

	require.Len(t, audit.outputs, 1)
	out := audit.outputs[0]
	assert.Equal(t, "acme", out.CompanyID)
	assert.Equal(t, res.CacheKey, out.CacheKey)
	assert.Equal(t, "test-model", out.Model)
	assert.Equal(t, fixedNow, out.CreatedAt)
}

func TestAnalyze_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	var seen *Payload
	gen := &MockGenerator{GenerateFunc: func(ctx context.Context, payload *Payload) (*Generation, error) {
		seen = payload
		return &Generation{Insights: BottomLine("ok")}, nil
	}}
	svc := newTestService(staticSource(sampleRecords()), newMemCache(), WithGenerator(gen))

	res, err := svc.Analyze(context.Background(), AnalyzeRequest{CompanyID: "acme", Timezone: "Mars/Olympus"})
	require.NoError(t, err)

	assert.Equal(t, "UTC", res.Metrics.Timezone)
	require.NotNil(t, seen)
	assert.Equal(t, "UTC", seen.Timezone)
	assert.Equal(t, 90, seen.RangeDays)
}

func TestAnalyze_ConcurrentRequestsShareOneGeneration(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	gen := &MockGenerator{GenerateFunc: func(ctx context.Context, payload *Payload) (*Generation, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return &Generation{Insights: BottomLine("shared")}, nil
	}}
	svc := newTestService(staticSource(sampleRecords()), newMemCache(), WithGenerator(gen))

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*AnalyzeResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Analyze(context.Background(), AnalyzeRequest{CompanyID: "acme", Refresh: true})
			if err == nil {
				results[i] = res
			}
		}(i)
	}

	<-started
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, gen.Calls())
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, "shared", res.Insights.Sections[0].Bullets[0])
	}
}

func TestAnalyze_GenerationOutlivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := &MockGenerator{GenerateFunc: func(ctx context.Context, payload *Payload) (*Generation, error) {
		close(started)
		select {
		case <-release:
			return &Generation{Insights: BottomLine("fresh")}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	svc := newTestService(staticSource(sampleRecords()), newMemCache(), WithGenerator(gen))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Analyze(firstCtx, AnalyzeRequest{CompanyID: "acme", Refresh: true})
		firstDone <- err
	}()
	<-started

	secondDone := make(chan *AnalyzeResult, 1)
	go func() {
		res, err := svc.Analyze(context.Background(), AnalyzeRequest{CompanyID: "acme", Refresh: true})
		if err != nil {
			res = nil
		}
		secondDone <- res
	}()

	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	time.Sleep(50 * time.Millisecond)
	close(release)

	res := <-secondDone
	require.NotNil(t, res)
	assert.True(t, res.UsedAI)
	assert.Equal(t, "fresh", res.Insights.Sections[0].Bullets[0])
	<-firstDone
	assert.Equal(t, 1, gen.Calls())
}

func TestAnalyze_GenerationTimeout(t *testing.T) {
	gen := &MockGenerator{GenerateFunc: func(ctx context.Context, payload *Payload) (*Generation, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc := newTestService(staticSource(sampleRecords()), newMemCache(),
		WithGenerator(gen), WithGenerationTimeout(20*time.Millisecond))

	_, err := svc.Analyze(context.Background(), AnalyzeRequest{CompanyID: "acme"})
	assert.ErrorIs(t, err, ErrInsightsUnavailable)
}

func TestReport(t *testing.T) {
	var gotSince time.Time
	var gotCompany string
	src := &MockSource{ListFunc: func(ctx context.Context, companyID string, since time.Time) ([]domain.RawRecord, error) {
		gotCompany = companyID
		gotSince = since
		return sampleRecords(), nil
	}}
	svc := newTestService(src, newMemCache())

	report, stats, err := svc.Report(context.Background(), "acme", "Europe/Berlin", 30)
	require.NoError(t, err)

	assert.Equal(t, "acme", gotCompany)
	assert.Equal(t, fixedNow.AddDate(0, 0, -31), gotSince)
	assert.Equal(t, 30, report.RangeDays)
	assert.Equal(t, "Europe/Berlin", report.Timezone)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Kept)
	assert.Equal(t, 1, stats.Transfers)
}

func TestReport_Errors(t *testing.T) {
	svc := newTestService(staticSource(nil), newMemCache())
	_, _, err := svc.Report(context.Background(), "", "UTC", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	boom := errors.New("bigquery down")
	svc = newTestService(&MockSource{ListFunc: func(ctx context.Context, companyID string, since time.Time) ([]domain.RawRecord, error) {
		return nil, boom
	}}, newMemCache())
	_, _, err = svc.Report(context.Background(), "acme", "UTC", 0)
	assert.ErrorIs(t, err, boom)

	_, err = svc.Analyze(context.Background(), AnalyzeRequest{CompanyID: "acme"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInsightsUnavailable)
}
