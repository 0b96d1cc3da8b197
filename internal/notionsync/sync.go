package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-insights/internal/logger"
)

// PublishOptions controls PublishInsights.
type PublishOptions struct {
	// DryRun logs the planned changes without calling the write APIs.
	DryRun bool
	// ArchiveStale archives the company's pages for other fingerprints.
	ArchiveStale bool
}

// PublishResult reports what PublishInsights did.
type PublishResult struct {
	PageID   string
	Created  bool
	Updated  bool
	Archived int
}

// PublishInsights upserts one page per narrative fingerprint: a page whose
// Fingerprint property matches is updated, otherwise a new page is created
// with the narrative as its body.
func PublishInsights(ctx context.Context, notionClient NotionService, notionDBID string, doc *Document, opts PublishOptions) (*PublishResult, error) {
	log := logger.FromContext(ctx)

	if doc == nil || doc.CompanyID == "" || doc.Fingerprint == "" {
		return nil, fmt.Errorf("PublishInsights: company id and fingerprint are required")
	}

	log.Info().
		Str("company_id", doc.CompanyID).
		Str("fingerprint", doc.Fingerprint).
		Bool("dry_run", opts.DryRun).
		Msg("Publishing insights to Notion")

	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return nil, fmt.Errorf("failed to query Notion pages: %w", err)
	}

	var existing *notionapi.Page
	var stale []notionapi.Page
	for i, page := range notionPages {
		if extractCompany(page) != doc.CompanyID {
			continue
		}
		if extractFingerprint(page) == doc.Fingerprint {
			if existing == nil {
				existing = &notionPages[i]
			}
			continue
		}
		stale = append(stale, page)
	}

	res := &PublishResult{}
	props := InsightsToNotionProperties(doc)

	switch {
	case opts.DryRun && existing != nil:
		log.Info().Str("page_id", string(existing.ID)).Msg("[DRY RUN] Would update existing Notion page")
		res.PageID = string(existing.ID)
		res.Updated = true
	case opts.DryRun:
		log.Info().Msg("[DRY RUN] Would create new Notion page")
		res.Created = true
	case existing != nil:
		page, err := notionClient.UpdatePage(ctx, string(existing.ID), props)
		if err != nil {
			return nil, fmt.Errorf("failed to update Notion page %s: %w", existing.ID, err)
		}
		log.Info().Str("page_id", string(page.ID)).Msg("Updated Notion page")
		res.PageID = string(page.ID)
		res.Updated = true
	default:
		page, err := notionClient.CreatePage(ctx, notionDBID, props, InsightsToBlocks(doc.Insights))
		if err != nil {
			return nil, fmt.Errorf("failed to create Notion page: %w", err)
		}
		log.Info().Str("page_id", string(page.ID)).Msg("Created Notion page")
		res.PageID = string(page.ID)
		res.Created = true
	}

	if opts.ArchiveStale {
		for _, page := range stale {
			if opts.DryRun {
				log.Info().Str("page_id", string(page.ID)).Msg("[DRY RUN] Would archive stale Notion page")
				res.Archived++
				continue
			}
			if err := notionClient.DeletePage(ctx, string(page.ID)); err != nil {
				log.Warn().
					Err(err).
					Str("page_id", string(page.ID)).
					Msg("Failed to archive stale Notion page")
				continue
			}
			res.Archived++
		}
	}

	log.Info().
		Str("page_id", res.PageID).
		Bool("created", res.Created).
		Bool("updated", res.Updated).
		Int("archived", res.Archived).
		Msg("Insights publish completed")

	return res, nil
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}

		// Only set StartCursor if we have a cursor value
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}

// extractFingerprint returns the Fingerprint property, or "" when absent.
func extractFingerprint(page notionapi.Page) string {
	if prop, ok := page.Properties[PropFingerprint]; ok {
		if richText, ok := prop.(*notionapi.RichTextProperty); ok {
			if len(richText.RichText) > 0 {
				return richText.RichText[0].PlainText
			}
		}
	}
	return ""
}

// extractCompany returns the Company select value, or "" when absent.
func extractCompany(page notionapi.Page) string {
	if prop, ok := page.Properties[PropCompany]; ok {
		if sel, ok := prop.(*notionapi.SelectProperty); ok {
			return sel.Select.Name
		}
	}
	return ""
}
