package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dvloznov/finance-insights/internal/enrich"
	"github.com/dvloznov/finance-insights/internal/metrics"
	"github.com/dvloznov/finance-insights/internal/normalize"
)

// DefaultCacheTTL is how long a generated narrative counts as fresh.
const DefaultCacheTTL = 10 * time.Minute

// DefaultGenerationTimeout bounds a shared generation once it no longer
// follows the request that started it.
const DefaultGenerationTimeout = 60 * time.Second

// Service runs the analyze flow: load, normalize, compute, enrich, then serve
// a cached narrative or generate a new one.
type Service struct {
	source     TransactionSource
	cache      CacheStore
	generator  Generator
	limiter    *Limiter
	audit      ModelOutputStore
	normalizer *normalize.Normalizer
	engine     *metrics.Engine
	enricher   *enrich.Enricher
	cacheTTL   time.Duration
	genTimeout time.Duration
	now        func() time.Time
	log        zerolog.Logger

	// At most one generation per fingerprint runs at a time.
	group singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

func WithGenerator(g Generator) Option { return func(s *Service) { s.generator = g } }

func WithLimiter(l *Limiter) Option { return func(s *Service) { s.limiter = l } }

// WithAudit records every model reply in store.
func WithAudit(store ModelOutputStore) Option { return func(s *Service) { s.audit = store } }

func WithNormalizer(n *normalize.Normalizer) Option { return func(s *Service) { s.normalizer = n } }

func WithEngine(e *metrics.Engine) Option { return func(s *Service) { s.engine = e } }

func WithEnricher(e *enrich.Enricher) Option { return func(s *Service) { s.enricher = e } }

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithGenerationTimeout bounds one generation regardless of which callers
// are still waiting on it.
func WithGenerationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.genTimeout = d
		}
	}
}

func WithLogger(log zerolog.Logger) Option { return func(s *Service) { s.log = log } }

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a Service reading from source and caching in cache.
// Without WithGenerator every generation fails with ErrNoGenerator and
// callers get cached narratives only.
func NewService(source TransactionSource, cache CacheStore, opts ...Option) *Service {
	s := &Service{
		source:     source,
		cache:      cache,
		normalizer: normalize.New(normalize.DefaultConfig()),
		engine:     metrics.NewEngine(metrics.DefaultConfig()),
		enricher:   enrich.NewEnricher(enrich.DefaultConfig()),
		cacheTTL:   DefaultCacheTTL,
		genTimeout: DefaultGenerationTimeout,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report loads the trailing window of a company and returns its enriched
// metrics together with the normalization stats. windowDays <= 0 selects the
// engine default.
func (s *Service) Report(ctx context.Context, companyID, tz string, windowDays int) (*enrich.Report, normalize.Stats, error) {
	if companyID == "" {
		return nil, normalize.Stats{}, fmt.Errorf("Report: %w: company id is required", ErrInvalidRequest)
	}
	if windowDays <= 0 {
		windowDays = s.engine.Config().WindowDays
	}

	// One extra day covers zones ahead of UTC.
	since := s.now().AddDate(0, 0, -(windowDays + 1))
	raws, err := s.source.ListRawTransactions(ctx, companyID, since)
	if err != nil {
		return nil, normalize.Stats{}, fmt.Errorf("Report: loading transactions: %w", err)
	}

	txs, stats := s.normalizer.NormalizeAll(raws)
	report := s.enricher.Enrich(s.engine.Compute(txs, tz, windowDays))

	s.log.Debug().
		Str("company_id", companyID).
		Str("tz", report.Timezone).
		Int("window_days", windowDays).
		Int("records", stats.Total).
		Int("kept", stats.Kept).
		Int("transfers", stats.Transfers).
		Int("undated", stats.Undated).
		Msg("computed report")

	return report, stats, nil
}

// Analyze returns the enriched metrics of the default window with a
// narrative. Limits and generation failures fall back to a cached narrative
// when one exists, marked stale.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	report, stats, err := s.Report(ctx, req.CompanyID, req.Timezone, 0)
	if err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}
	log := s.log.With().Str("company_id", req.CompanyID).Logger()

	if stats.Kept == 0 {
		return &AnalyzeResult{Metrics: report, Insights: BottomLine(NoDataMessage(report.RangeDays))}, nil
	}

	tz := report.Timezone
	key := Fingerprint(req.CompanyID, tz, report)
	cached := s.lookup(ctx, key, log)

	if cached != nil && !req.Refresh {
		return &AnalyzeResult{
			Metrics:  report,
			Insights: cached.Insights,
			Cached:   true,
			Stale:    cached.Stale(s.now()),
			CacheKey: key,
		}, nil
	}

	if report.NoSignal() {
		return &AnalyzeResult{Metrics: report, Insights: BottomLine(NoActivityMessage), CacheKey: key}, nil
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, req.CompanyID, req.UserID); err != nil {
			log.Warn().Err(err).Msg("narrative generation throttled")
			if cached != nil {
				return staleResult(report, cached, key), nil
			}
			return nil, fmt.Errorf("Analyze: %w", err)
		}
	}

	payload := BuildPayload(tz, report)
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		// Joined callers share this run, so it must outlive the first request.
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.genTimeout)
		defer cancel()
		return s.generate(genCtx, req, key, payload)
	})
	if err != nil {
		log.Error().Err(err).Msg("narrative generation failed")
		if cached != nil {
			return staleResult(report, cached, key), nil
		}
		return nil, fmt.Errorf("Analyze: %w: %v", ErrInsightsUnavailable, err)
	}
	if shared {
		log.Debug().Str("cache_key", key).Msg("joined in-flight generation")
	}

	return &AnalyzeResult{
		Metrics:  report,
		Insights: v.(*Insights),
		UsedAI:   true,
		CacheKey: key,
	}, nil
}

func (s *Service) generate(ctx context.Context, req AnalyzeRequest, key string, payload *Payload) (*Insights, error) {
	if s.generator == nil {
		return nil, ErrNoGenerator
	}

	gen, err := s.generator.Generate(ctx, payload)
	if err != nil {
		return nil, err
	}
	if gen == nil || gen.Insights == nil {
		return nil, errors.New("generator returned no insights")
	}

	now := s.now()
	log := s.log.With().Str("company_id", req.CompanyID).Str("cache_key", key).Logger()

	// Bookkeeping failures are logged; the narrative is still returned.
	entry := &CacheEntry{
		Key:       key,
		CompanyID: req.CompanyID,
		Payload:   payload,
		Insights:  gen.Insights,
		ExpiresAt: now.Add(s.cacheTTL),
	}
	if err := s.cache.Put(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("failed to cache insights")
	}
	if s.limiter != nil {
		if err := s.limiter.Record(ctx, req.CompanyID, req.UserID); err != nil {
			log.Warn().Err(err).Msg("failed to record usage")
		}
	}
	if s.audit != nil {
		out := &ModelOutput{
			CompanyID:    req.CompanyID,
			CacheKey:     key,
			Model:        gen.Model,
			ModelVersion: gen.ModelVersion,
			Raw:          gen.Raw,
			CreatedAt:    now,
		}
		if err := s.audit.RecordModelOutput(ctx, out); err != nil {
			log.Warn().Err(err).Msg("failed to audit model output")
		}
	}

	log.Info().Int("sections", len(gen.Insights.Sections)).Msg("generated insights")
	return gen.Insights, nil
}

// lookup treats cache errors as a miss.
func (s *Service) lookup(ctx context.Context, key string, log zerolog.Logger) *CacheEntry {
	entry, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("cache_key", key).Msg("cache lookup failed")
		return nil
	}
	if entry == nil || entry.Insights == nil {
		return nil
	}
	return entry
}

func staleResult(report *enrich.Report, cached *CacheEntry, key string) *AnalyzeResult {
	return &AnalyzeResult{
		Metrics:  report,
		Insights: cached.Insights,
		Cached:   true,
		Stale:    true,
		CacheKey: key,
	}
}
