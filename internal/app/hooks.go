package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/finance-insights/internal/chart"
	"github.com/dvloznov/finance-insights/internal/gcsuploader"
	"github.com/dvloznov/finance-insights/internal/insights"
	"github.com/dvloznov/finance-insights/internal/jobs"
	"github.com/dvloznov/finance-insights/internal/logger"
	"github.com/dvloznov/finance-insights/internal/notionsync"
)

// ReportArchiver stores report snapshots. *gcsuploader.Archiver satisfies it.
type ReportArchiver interface {
	ArchiveReport(ctx context.Context, companyID string, report any, chartPNG []byte) (*gcsuploader.ArchiveResult, error)
}

// ArchiveHook snapshots each refreshed analyze result, with its profit chart
// when the window has at least two days.
func ArchiveHook(archiver ReportArchiver) jobs.ResultHook {
	return func(ctx context.Context, job *jobs.RefreshInsightsJob, res *insights.AnalyzeResult) error {
		var png []byte
		if res.Metrics != nil && len(res.Metrics.ByDay) >= 2 {
			var err error
			png, err = chart.RenderProfitChart(&res.Metrics.Report)
			if err != nil {
				logger.FromContext(ctx).Warn().Err(err).Str("company_id", job.CompanyID).Msg("Chart rendering failed, archiving report only")
			}
		}

		out, err := archiver.ArchiveReport(ctx, job.CompanyID, res, png)
		if err != nil {
			return fmt.Errorf("archive %s: %w", job.CompanyID, err)
		}

		logger.FromContext(ctx).Info().
			Str("company_id", job.CompanyID).
			Str("report_uri", out.ReportURI).
			Str("chart_uri", out.ChartURI).
			Msg("Report archived")
		return nil
	}
}

// NotionHook publishes each narrative with a fingerprint to a Notion database.
// Placeholder narratives (no data, no activity) are skipped.
func NotionHook(client notionsync.NotionService, databaseID string) jobs.ResultHook {
	return func(ctx context.Context, job *jobs.RefreshInsightsJob, res *insights.AnalyzeResult) error {
		if res.CacheKey == "" || res.Insights == nil {
			return nil
		}

		doc := notionsync.NewDocument(job.CompanyID, res, time.Now())
		out, err := notionsync.PublishInsights(ctx, client, databaseID, doc, notionsync.PublishOptions{})
		if err != nil {
			return fmt.Errorf("publish %s to Notion: %w", job.CompanyID, err)
		}

		logger.FromContext(ctx).Info().
			Str("company_id", job.CompanyID).
			Str("page_id", out.PageID).
			Bool("created", out.Created).
			Msg("Insights published to Notion")
		return nil
	}
}
