// Package api wires the HTTP handlers and middleware into a chi router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-insights/internal/api/handlers"
	"github.com/dvloznov/finance-insights/internal/api/middleware"
	"github.com/dvloznov/finance-insights/internal/jobs"
)

// Deps are the services behind the routes. Publisher and Jobs may be nil.
type Deps struct {
	Insights  handlers.InsightsService
	Publisher jobs.Publisher
	Jobs      jobs.JobStore
	Log       zerolog.Logger
}

// NewRouter builds the full HTTP handler.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(deps.Log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Log))
	r.Use(middleware.CORS)
	r.Use(middleware.NoStore)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", handlers.NewHealthHandler().Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth)

		ih := handlers.NewInsightsHandler(deps.Insights, deps.Publisher, deps.Log)
		r.Route("/companies/{companyID}", func(r chi.Router) {
			r.Get("/metrics", ih.Metrics)
			r.Get("/profit", ih.Profit)
			r.Get("/chart.png", ih.Chart)
			r.Post("/analyze", ih.Analyze)
		})

		if deps.Jobs != nil {
			jh := handlers.NewJobsHandler(deps.Jobs, deps.Log)
			r.Get("/jobs", jh.ListJobs)
			r.Get("/jobs/{jobID}", jh.GetJob)
		}
	})

	return r
}
