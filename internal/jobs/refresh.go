package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-insights/internal/insights"
	"github.com/dvloznov/finance-insights/internal/logger"
)

// Analyzer runs the analyze flow. *insights.Service satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, req insights.AnalyzeRequest) (*insights.AnalyzeResult, error)
}

// ResultHook runs after a successful refresh, e.g. to publish the narrative.
// Hook errors are logged and do not fail the job.
type ResultHook func(ctx context.Context, job *RefreshInsightsJob, res *insights.AnalyzeResult) error

// NewRefreshHandler returns a JobHandler that refreshes insights through analyzer.
func NewRefreshHandler(analyzer Analyzer, hooks ...ResultHook) JobHandler {
	return func(ctx context.Context, job Job) error {
		refresh, ok := job.(*RefreshInsightsJob)
		if !ok {
			return fmt.Errorf("unsupported job type: %s", job.GetType())
		}

		log := logger.FromContext(ctx).With().
			Str("job_id", refresh.JobID).
			Str("company_id", refresh.CompanyID).
			Logger()

		res, err := analyzer.Analyze(ctx, insights.AnalyzeRequest{
			CompanyID: refresh.CompanyID,
			Timezone:  refresh.Timezone,
			Refresh:   refresh.Force,
			UserID:    refresh.UserID,
		})
		if err != nil {
			return fmt.Errorf("refresh insights for %s: %w", refresh.CompanyID, err)
		}

		refresh.Result = &RefreshResult{
			CacheKey: res.CacheKey,
			UsedAI:   res.UsedAI,
			Cached:   res.Cached,
			Stale:    res.Stale,
		}
		if res.Insights != nil {
			refresh.Result.Sections = len(res.Insights.Sections)
		}

		for _, hook := range hooks {
			if err := hook(ctx, refresh, res); err != nil {
				log.Warn().Err(err).Msg("refresh hook failed")
			}
		}

		log.Info().
			Bool("used_ai", res.UsedAI).
			Bool("cached", res.Cached).
			Bool("stale", res.Stale).
			Msg("insights refreshed")
		return nil
	}
}
