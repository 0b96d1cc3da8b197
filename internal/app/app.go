// Package app assembles the services shared by the api, worker and cli binaries.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-insights/internal/config"
	"github.com/dvloznov/finance-insights/internal/domain"
	"github.com/dvloznov/finance-insights/internal/enrich"
	"github.com/dvloznov/finance-insights/internal/gcsuploader"
	infraBQ "github.com/dvloznov/finance-insights/internal/infra/bigquery"
	"github.com/dvloznov/finance-insights/internal/insights"
	"github.com/dvloznov/finance-insights/internal/jobs"
	"github.com/dvloznov/finance-insights/internal/metrics"
	"github.com/dvloznov/finance-insights/internal/normalize"
	"github.com/dvloznov/finance-insights/internal/notionsync"
)

// App holds the initialized repository, services and export clients.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Repo    *infraBQ.Repository
	Service *insights.Service

	// Archiver is nil unless archive.base_uri is set.
	Archiver *gcsuploader.Archiver
	// Notion is nil unless a token and database id are configured.
	Notion notionsync.NotionService

	StartupTime time.Time
}

// Stores groups the persistence backends of the insights service.
type Stores struct {
	Source insights.TransactionSource
	Cache  insights.CacheStore
	Usage  insights.UsageStore
	Audit  insights.ModelOutputStore
}

// New connects to BigQuery and builds every configured service.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	start := time.Now()

	repo, err := infraBQ.NewRepository(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	generator, err := NewGenerator(ctx, cfg, log)
	if err != nil {
		repo.Close()
		return nil, err
	}

	stores := Stores{
		Source: repo,
		Cache:  insights.NewBigQueryCache(repo),
		Usage:  insights.NewBigQueryUsage(repo),
		Audit:  insights.NewBigQueryAudit(repo),
	}
	svc, err := NewInsightsService(cfg, stores, generator, log)
	if err != nil {
		repo.Close()
		return nil, err
	}

	a := &App{
		Config:      cfg,
		Log:         log,
		Repo:        repo,
		Service:     svc,
		StartupTime: start,
	}

	if cfg.Archive.BaseURI != "" {
		a.Archiver, err = gcsuploader.NewArchiver(gcsuploader.NewGCSStorageService(), cfg.Archive.BaseURI)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("invalid archive configuration: %w", err)
		}
	}

	if cfg.Notion.Token != "" && cfg.Notion.DatabaseID != "" {
		a.Notion = notionsync.NewNotionClient(cfg.Notion.Token)
	}

	log.Info().
		Str("project", cfg.BigQuery.ProjectID).
		Str("dataset", cfg.BigQuery.Dataset).
		Bool("ai", generator != nil).
		Bool("archive", a.Archiver != nil).
		Bool("notion", a.Notion != nil).
		Dur("elapsed", time.Since(start)).
		Msg("App initialized")

	return a, nil
}

// Close releases the BigQuery client.
func (a *App) Close() error {
	if a.Repo == nil {
		return nil
	}
	return a.Repo.Close()
}

// Hooks returns the refresh hooks enabled by configuration.
func (a *App) Hooks() []jobs.ResultHook {
	var hooks []jobs.ResultHook
	if a.Archiver != nil {
		hooks = append(hooks, ArchiveHook(a.Archiver))
	}
	if a.Notion != nil {
		hooks = append(hooks, NotionHook(a.Notion, a.Config.Notion.DatabaseID))
	}
	return hooks
}

// NewGenerator returns the Gemini generator, or nil when no API key is set.
func NewGenerator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (insights.Generator, error) {
	if cfg.Insights.APIKey == "" {
		log.Warn().Msg("Gemini API key not configured - only cached insights will be served")
		return nil, nil
	}

	d := insights.DefaultGeminiConfig()
	g, err := insights.NewGeminiGenerator(ctx, insights.GeminiConfig{
		APIKey:          cfg.Insights.APIKey,
		Model:           cfg.Insights.Model,
		Temperature:     cfg.Insights.Temperature,
		MaxOutputTokens: cfg.Insights.MaxOutputTokens,
		Timeout:         config.Duration(cfg.Insights.Timeout, d.Timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return g, nil
}

// Analysis builds the normalizer, metrics engine and enricher from configuration.
func Analysis(cfg *config.Config) (*normalize.Normalizer, *metrics.Engine, *enrich.Enricher, error) {
	loc, err := time.LoadLocation(cfg.Analysis.DefaultTimezone)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid default timezone: %w", err)
	}

	n := normalize.New(normalize.Config{
		DefaultDirection: domain.Direction(strings.ToLower(cfg.Analysis.DefaultDirection)),
		Location:         loc,
	})

	mcfg := cfg.Analysis.Metrics
	if mcfg.FallbackTimezone == "" {
		mcfg.FallbackTimezone = cfg.Analysis.DefaultTimezone
	}

	return n, metrics.NewEngine(mcfg), enrich.NewEnricher(cfg.Analysis.Enrich), nil
}

// NewInsightsService wires the analysis pipeline, limiter and stores into a
// Service. generator and stores.Audit may be nil.
func NewInsightsService(cfg *config.Config, stores Stores, generator insights.Generator, log zerolog.Logger) (*insights.Service, error) {
	n, engine, enricher, err := Analysis(cfg)
	if err != nil {
		return nil, err
	}

	d := insights.DefaultLimits()
	limits := insights.Limits{
		DailyLimit: cfg.Insights.DailyLimit,
		PerMinute:  cfg.Insights.PerMinute,
		Cooldown:   config.Duration(cfg.Insights.Cooldown, d.Cooldown),
	}

	opts := []insights.Option{
		insights.WithNormalizer(n),
		insights.WithEngine(engine),
		insights.WithEnricher(enricher),
		insights.WithCacheTTL(config.Duration(cfg.Insights.CacheTTL, insights.DefaultCacheTTL)),
		insights.WithGenerationTimeout(config.Duration(cfg.Insights.Timeout, insights.DefaultGenerationTimeout)),
		insights.WithLogger(log),
	}
	if stores.Usage != nil {
		opts = append(opts, insights.WithLimiter(insights.NewLimiter(limits, stores.Usage)))
	}
	if generator != nil {
		opts = append(opts, insights.WithGenerator(generator))
	}
	if stores.Audit != nil {
		opts = append(opts, insights.WithAudit(stores.Audit))
	}

	return insights.NewService(stores.Source, stores.Cache, opts...), nil
}
