package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-insights/internal/jobs"
)

// EnqueueRefreshes publishes one refresh job per company and returns how many
// were enqueued. Publishing stops at the first error.
func EnqueueRefreshes(ctx context.Context, publisher jobs.Publisher, companies []string, tz string, force bool) (int, error) {
	n := 0
	for _, company := range companies {
		job := &jobs.RefreshInsightsJob{
			JobID:     uuid.New().String(),
			CompanyID: company,
			Timezone:  tz,
			Force:     force,
			Status:    jobs.JobStatusPending,
			CreatedAt: time.Now(),
		}
		if err := publisher.PublishRefreshInsights(ctx, job); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// RunRefreshScheduler enqueues refresh jobs for companies right away and then
// on every interval tick until ctx is done.
func RunRefreshScheduler(ctx context.Context, publisher jobs.Publisher, companies []string, tz string, interval time.Duration, log zerolog.Logger) {
	if len(companies) == 0 {
		log.Info().Msg("Refresh scheduler: no companies configured")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		enqueue(ctx, publisher, companies, tz, log)

		select {
		case <-ctx.Done():
			log.Info().Msg("Refresh scheduler: stopped")
			return
		case <-ticker.C:
		}
	}
}

func enqueue(ctx context.Context, publisher jobs.Publisher, companies []string, tz string, log zerolog.Logger) {
	n, err := EnqueueRefreshes(ctx, publisher, companies, tz, false)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Int("enqueued", n).Msg("Refresh scheduler: enqueue failed")
		}
		return
	}
	log.Info().Int("companies", n).Msg("Refresh scheduler: jobs enqueued")
}
