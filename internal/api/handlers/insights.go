package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-insights/internal/api/middleware"
	"github.com/dvloznov/finance-insights/internal/chart"
	"github.com/dvloznov/finance-insights/internal/enrich"
	"github.com/dvloznov/finance-insights/internal/insights"
	"github.com/dvloznov/finance-insights/internal/jobs"
	"github.com/dvloznov/finance-insights/internal/normalize"
)

// MaxWindowDays bounds the days query parameter.
const MaxWindowDays = 366

// UserIDHeader identifies the caller for per-user limits.
const UserIDHeader = "X-User-ID"

// InsightsService computes reports and narratives. *insights.Service satisfies it.
type InsightsService interface {
	Report(ctx context.Context, companyID, tz string, windowDays int) (*enrich.Report, normalize.Stats, error)
	Analyze(ctx context.Context, req insights.AnalyzeRequest) (*insights.AnalyzeResult, error)
}

// InsightsHandler serves company metrics, charts and narratives.
type InsightsHandler struct {
	service   InsightsService
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewInsightsHandler creates a new insights handler. publisher may be nil, in
// which case asynchronous analyze requests are rejected.
func NewInsightsHandler(service InsightsService, publisher jobs.Publisher, log zerolog.Logger) *InsightsHandler {
	return &InsightsHandler{
		service:   service,
		publisher: publisher,
		log:       log,
	}
}

// Metrics handles GET /api/companies/{companyID}/metrics
func (h *InsightsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	report, ok := h.report(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

// Profit handles GET /api/companies/{companyID}/profit
func (h *InsightsHandler) Profit(w http.ResponseWriter, r *http.Request) {
	report, ok := h.report(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"timezone":  report.Timezone,
		"rangeDays": report.RangeDays,
		"startDate": report.StartDate,
		"endDate":   report.EndDate,
		"byDay":     report.ByDay,
	})
}

// Chart handles GET /api/companies/{companyID}/chart.png
func (h *InsightsHandler) Chart(w http.ResponseWriter, r *http.Request) {
	report, ok := h.report(w, r)
	if !ok {
		return
	}
	if len(report.ByDay) < chart.MinDays {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Chart needs at least %d days", chart.MinDays))
		return
	}

	png, err := chart.RenderProfitChart(&report.Report)
	if err != nil {
		h.log.Error().Err(err).Str("company_id", chi.URLParam(r, "companyID")).Msg("Failed to render chart")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to render chart")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// Analyze handles POST /api/companies/{companyID}/analyze
func (h *InsightsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	req := insights.AnalyzeRequest{
		CompanyID: chi.URLParam(r, "companyID"),
		Timezone:  query.Get("tz"),
		Refresh:   query.Get("refresh") == "1",
		UserID:    r.Header.Get(UserIDHeader),
	}

	if query.Get("async") == "1" {
		h.enqueue(w, r, req)
		return
	}

	res, err := h.service.Analyze(ctx, req)
	if err != nil {
		h.writeAnalyzeError(w, req.CompanyID, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, res)
}

func (h *InsightsHandler) enqueue(w http.ResponseWriter, r *http.Request, req insights.AnalyzeRequest) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Background jobs are disabled")
		return
	}
	if req.CompanyID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Company ID is required")
		return
	}

	job := &jobs.RefreshInsightsJob{
		JobID:     uuid.New().String(),
		CompanyID: req.CompanyID,
		Timezone:  req.Timezone,
		UserID:    req.UserID,
		Force:     req.Refresh,
		Status:    jobs.JobStatusPending,
		CreatedAt: time.Now(),
	}
	// Workers own the job once it is published.
	jobID, status := job.JobID, job.Status
	if err := h.publisher.PublishRefreshInsights(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("company_id", req.CompanyID).Msg("Failed to enqueue refresh job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue refresh job")
		return
	}

	h.log.Info().
		Str("job_id", jobID).
		Str("company_id", req.CompanyID).
		Bool("force", req.Refresh).
		Msg("Refresh job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(status),
	})
}

func (h *InsightsHandler) writeAnalyzeError(w http.ResponseWriter, companyID string, err error) {
	var limitErr *insights.LimitError
	switch {
	case errors.As(err, &limitErr):
		secs := int(math.Ceil(limitErr.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		middleware.WriteError(w, http.StatusTooManyRequests, fmt.Sprintf("Rate limited (%s). Try again later.", limitErr.Reason))
	case errors.Is(err, insights.ErrRateLimited):
		middleware.WriteError(w, http.StatusTooManyRequests, "Rate limited. Try again later.")
	case errors.Is(err, insights.ErrInvalidRequest):
		middleware.WriteError(w, http.StatusBadRequest, "Company ID is required")
	case errors.Is(err, insights.ErrInsightsUnavailable):
		h.log.Warn().Err(err).Str("company_id", companyID).Msg("Insights unavailable")
		middleware.WriteError(w, http.StatusServiceUnavailable, "AI unavailable and no cached insights yet.")
	default:
		h.log.Error().Err(err).Str("company_id", companyID).Msg("Analyze failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal error in /analyze")
	}
}

// report parses the common tz/days parameters and loads the enriched report.
// It writes the error response itself and reports whether to continue.
func (h *InsightsHandler) report(w http.ResponseWriter, r *http.Request) (*enrich.Report, bool) {
	companyID := chi.URLParam(r, "companyID")
	query := r.URL.Query()

	days := 0
	if daysStr := query.Get("days"); daysStr != "" {
		n, err := strconv.Atoi(daysStr)
		if err != nil || n < 1 || n > MaxWindowDays {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", MaxWindowDays))
			return nil, false
		}
		days = n
	}

	report, stats, err := h.service.Report(r.Context(), companyID, query.Get("tz"), days)
	if err != nil {
		if errors.Is(err, insights.ErrInvalidRequest) {
			middleware.WriteError(w, http.StatusBadRequest, "Company ID is required")
			return nil, false
		}
		h.log.Error().Err(err).Str("company_id", companyID).Msg("Failed to compute report")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute metrics")
		return nil, false
	}

	h.log.Debug().
		Str("company_id", companyID).
		Int("kept", stats.Kept).
		Int("transfers", stats.Transfers).
		Int("undated", stats.Undated).
		Msg("Report computed")

	return report, true
}
