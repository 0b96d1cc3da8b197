package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-insights/internal/config"
	"github.com/dvloznov/finance-insights/internal/domain"
	"github.com/dvloznov/finance-insights/internal/enrich"
	"github.com/dvloznov/finance-insights/internal/gcsuploader"
	"github.com/dvloznov/finance-insights/internal/insights"
	"github.com/dvloznov/finance-insights/internal/insights/inmemory"
	"github.com/dvloznov/finance-insights/internal/jobs"
	"github.com/dvloznov/finance-insights/internal/metrics"
)

type stubSource struct {
	records []domain.RawRecord
}

func (s *stubSource) ListRawTransactions(ctx context.Context, companyID string, since time.Time) ([]domain.RawRecord, error) {
	return s.records, nil
}

// MockPublisher records published jobs.
type MockPublisher struct {
	PublishFunc func(ctx context.Context, job *jobs.RefreshInsightsJob) error
	Published   []*jobs.RefreshInsightsJob
}

func (m *MockPublisher) PublishRefreshInsights(ctx context.Context, job *jobs.RefreshInsightsJob) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, job); err != nil {
			return err
		}
	}
	m.Published = append(m.Published, job)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// MockArchiver records archived reports.
type MockArchiver struct {
	ArchiveFunc func(ctx context.Context, companyID string, report any, chartPNG []byte) (*gcsuploader.ArchiveResult, error)
	Charts      [][]byte
}

func (m *MockArchiver) ArchiveReport(ctx context.Context, companyID string, report any, chartPNG []byte) (*gcsuploader.ArchiveResult, error) {
	m.Charts = append(m.Charts, chartPNG)
	if m.ArchiveFunc != nil {
		return m.ArchiveFunc(ctx, companyID, report, chartPNG)
	}
	return &gcsuploader.ArchiveResult{ReportURI: "gs://b/" + companyID + "/report.json"}, nil
}

// MockNotionService is an empty database that accepts new pages.
type MockNotionService struct {
	Created int
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties, children []notionapi.Block) (*notionapi.Page, error) {
	m.Created++
	return &notionapi.Page{ID: "page-1"}, nil
}

func (m *MockNotionService) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (m *MockNotionService) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return &notionapi.DatabaseQueryResponse{}, nil
}

func (m *MockNotionService) DeletePage(ctx context.Context, pageID string) error { return nil }

func TestAnalysis_UsesConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Analysis.DefaultDirection = "INCOME"
	cfg.Analysis.DefaultTimezone = "Europe/Berlin"
	cfg.Analysis.Metrics.FallbackTimezone = ""

	n, engine, enricher, err := Analysis(cfg)
	require.NoError(t, err)
	require.NotNil(t, enricher)

	dir, _ := n.InferDirection(domain.RawRecord{"memo": "coffee"})
	assert.Equal(t, domain.DirectionIncome, dir)
	assert.Equal(t, "Europe/Berlin", engine.Config().FallbackTimezone)
}

func TestAnalysis_InvalidTimezone(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Analysis.DefaultTimezone = "Mars/Olympus"

	_, _, _, err := Analysis(cfg)
	assert.Error(t, err)
}

func TestNewGenerator_NoKey(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Insights.APIKey = ""

	g, err := NewGenerator(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestNewInsightsService_WithoutGenerator(t *testing.T) {
	now := time.Now().UTC()
	src := &stubSource{records: []domain.RawRecord{
		{"id": "1", "amount": 120.0, "type": "income", "date": now.Add(-48 * time.Hour)},
		{"id": "2", "amount": 20.0, "type": "expense", "date": now.Add(-24 * time.Hour)},
	}}

	svc, err := NewInsightsService(config.NewDefaultConfig(), Stores{
		Source: src,
		Cache:  inmemory.NewCache(),
		Usage:  inmemory.NewUsage(),
	}, nil, zerolog.Nop())
	require.NoError(t, err)

	report, stats, err := svc.Report(context.Background(), "acme", "UTC", 30)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Kept)
	assert.Equal(t, 30, report.RangeDays)
	assert.Equal(t, 100.0, report.Totals.Profit)

	_, err = svc.Analyze(context.Background(), insights.AnalyzeRequest{CompanyID: "acme"})
	assert.ErrorIs(t, err, insights.ErrInsightsUnavailable)
}

func TestEnqueueRefreshes(t *testing.T) {
	pub := &MockPublisher{}

	n, err := EnqueueRefreshes(context.Background(), pub, []string{"acme", "globex"}, "UTC", true)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.Published, 2)
	assert.Equal(t, "globex", pub.Published[1].CompanyID)
	assert.True(t, pub.Published[0].Force)
	assert.NotEmpty(t, pub.Published[0].JobID)
	assert.NotEqual(t, pub.Published[0].JobID, pub.Published[1].JobID)
}

func TestEnqueueRefreshes_StopsOnError(t *testing.T) {
	pub := &MockPublisher{
		PublishFunc: func(ctx context.Context, job *jobs.RefreshInsightsJob) error {
			if job.CompanyID == "globex" {
				return errors.New("queue is closed")
			}
			return nil
		},
	}

	n, err := EnqueueRefreshes(context.Background(), pub, []string{"acme", "globex", "initech"}, "", false)

	assert.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestRunRefreshScheduler_EnqueuesImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pub := &MockPublisher{
		PublishFunc: func(ctx context.Context, job *jobs.RefreshInsightsJob) error {
			cancel()
			return nil
		},
	}

	done := make(chan struct{})
	go func() {
		RunRefreshScheduler(ctx, pub, []string{"acme"}, "UTC", time.Hour, zerolog.Nop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.Len(t, pub.Published, 1)
	assert.Equal(t, "acme", pub.Published[0].CompanyID)
}

func TestRunRefreshScheduler_NoCompanies(t *testing.T) {
	pub := &MockPublisher{}
	RunRefreshScheduler(context.Background(), pub, nil, "UTC", time.Hour, zerolog.Nop())
	assert.Empty(t, pub.Published)
}

func analyzeResult(days int) *insights.AnalyzeResult {
	start := civil.Date{Year: 2024, Month: time.March, Day: 1}
	report := &enrich.Report{Report: metrics.Report{RangeDays: days, Timezone: "UTC"}}
	for i := 0; i < days; i++ {
		report.ByDay = append(report.ByDay, metrics.DayProfit{Date: start.AddDays(i), Profit: float64(10 * i)})
	}
	return &insights.AnalyzeResult{
		Metrics:  report,
		Insights: insights.BottomLine("Steady."),
		UsedAI:   true,
		CacheKey: "fp-1",
	}
}

func TestArchiveHook_WithChart(t *testing.T) {
	arch := &MockArchiver{}
	hook := ArchiveHook(arch)

	err := hook(context.Background(), &jobs.RefreshInsightsJob{CompanyID: "acme"}, analyzeResult(5))

	require.NoError(t, err)
	require.Len(t, arch.Charts, 1)
	assert.NotEmpty(t, arch.Charts[0])
}

func TestArchiveHook_ShortWindowSkipsChart(t *testing.T) {
	arch := &MockArchiver{}
	hook := ArchiveHook(arch)

	err := hook(context.Background(), &jobs.RefreshInsightsJob{CompanyID: "acme"}, analyzeResult(1))

	require.NoError(t, err)
	require.Len(t, arch.Charts, 1)
	assert.Empty(t, arch.Charts[0])
}

func TestArchiveHook_Error(t *testing.T) {
	arch := &MockArchiver{
		ArchiveFunc: func(ctx context.Context, companyID string, report any, chartPNG []byte) (*gcsuploader.ArchiveResult, error) {
			return nil, errors.New("permission denied")
		},
	}

	err := ArchiveHook(arch)(context.Background(), &jobs.RefreshInsightsJob{CompanyID: "acme"}, analyzeResult(1))

	assert.ErrorContains(t, err, "permission denied")
}

func TestNotionHook(t *testing.T) {
	svc := &MockNotionService{}
	hook := NotionHook(svc, "db")

	require.NoError(t, hook(context.Background(), &jobs.RefreshInsightsJob{CompanyID: "acme"}, analyzeResult(3)))
	assert.Equal(t, 1, svc.Created)

	placeholder := &insights.AnalyzeResult{Insights: insights.BottomLine("No transactions.")}
	require.NoError(t, hook(context.Background(), &jobs.RefreshInsightsJob{CompanyID: "acme"}, placeholder))
	assert.Equal(t, 1, svc.Created)
}

func TestApp_Hooks(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Notion.DatabaseID = "db"

	a := &App{Config: cfg}
	assert.Empty(t, a.Hooks())

	a.Notion = &MockNotionService{}
	arch, err := gcsuploader.NewArchiver(nil, "gs://bucket/reports")
	require.NoError(t, err)
	a.Archiver = arch
	assert.Len(t, a.Hooks(), 2)
	assert.NoError(t, a.Close())
}
