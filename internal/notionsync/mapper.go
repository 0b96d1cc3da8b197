package notionsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-insights/internal/enrich"
	"github.com/dvloznov/finance-insights/internal/insights"
)

// Property names of the insights database.
const (
	PropName        = "Name"
	PropCompany     = "Company"
	PropFingerprint = "Fingerprint"
	PropTimezone    = "Timezone"
	PropIncome      = "Income"
	PropExpense     = "Expense"
	PropProfit      = "Profit"
	PropWoWPct      = "WoW %"
	PropPeriod      = "Period"
	PropGenerated   = "Generated"
	PropSource      = "Source"
	PropSummary     = "Summary"
)

// maxRichText is the Notion limit for one rich text object.
const maxRichText = 2000

// Document is one narrative ready to publish.
type Document struct {
	CompanyID   string
	Fingerprint string
	Report      *enrich.Report
	Insights    *insights.Insights
	GeneratedAt time.Time
	Source      string
}

// NewDocument builds a Document from an analyze result.
func NewDocument(companyID string, res *insights.AnalyzeResult, generatedAt time.Time) *Document {
	return &Document{
		CompanyID:   companyID,
		Fingerprint: res.CacheKey,
		Report:      res.Metrics,
		Insights:    res.Insights,
		GeneratedAt: generatedAt,
		Source:      SourceOf(res),
	}
}

// SourceOf names where a narrative came from: ai, cache, stale-cache or fallback.
func SourceOf(res *insights.AnalyzeResult) string {
	switch {
	case res.UsedAI:
		return "ai"
	case res.Cached && res.Stale:
		return "stale-cache"
	case res.Cached:
		return "cache"
	default:
		return "fallback"
	}
}

// InsightsToNotionProperties converts a Document to Notion page properties.
func InsightsToNotionProperties(doc *Document) notionapi.Properties {
	props := notionapi.Properties{
		PropName: notionapi.TitleProperty{
			Title: textRich(fmt.Sprintf("%s · %s", doc.CompanyID, doc.GeneratedAt.UTC().Format("2006-01-02"))),
		},
		PropCompany: notionapi.SelectProperty{
			Select: notionapi.Option{Name: doc.CompanyID},
		},
		PropFingerprint: notionapi.RichTextProperty{
			RichText: textRich(doc.Fingerprint),
		},
		PropGenerated: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: datePtr(doc.GeneratedAt)},
		},
	}

	if doc.Source != "" {
		props[PropSource] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: doc.Source},
		}
	}

	if r := doc.Report; r != nil {
		if r.Timezone != "" {
			props[PropTimezone] = notionapi.SelectProperty{
				Select: notionapi.Option{Name: r.Timezone},
			}
		}
		props[PropIncome] = notionapi.NumberProperty{Number: r.Totals.Income}
		props[PropExpense] = notionapi.NumberProperty{Number: r.Totals.Expense}
		props[PropProfit] = notionapi.NumberProperty{Number: r.Totals.Profit}
		props[PropWoWPct] = notionapi.NumberProperty{Number: r.WoW.Pct}

		if r.RangeDays > 0 {
			start := notionapi.Date(r.StartDate.In(time.UTC))
			end := notionapi.Date(r.EndDate.In(time.UTC))
			props[PropPeriod] = notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &start, End: &end},
			}
		}
	}

	if summary := Summary(doc.Insights); summary != "" {
		props[PropSummary] = notionapi.RichTextProperty{
			RichText: textRich(summary),
		}
	}

	return props
}

// Summary flattens the bottom line section, or the first section when there
// is none, into one line that fits a rich text property.
func Summary(ins *insights.Insights) string {
	if ins == nil || len(ins.Sections) == 0 {
		return ""
	}
	sec := ins.Sections[0]
	for _, s := range ins.Sections {
		if strings.EqualFold(s.Title, insights.SectionBottomLine) {
			sec = s
			break
		}
	}
	return truncate(strings.Join(sec.Bullets, " "), maxRichText)
}

// InsightsToBlocks renders every section as a heading followed by bullets.
func InsightsToBlocks(ins *insights.Insights) []notionapi.Block {
	if ins == nil {
		return nil
	}

	var blocks []notionapi.Block
	for _, sec := range ins.Sections {
		blocks = append(blocks, notionapi.Heading2Block{
			BasicBlock: notionapi.BasicBlock{
				Object: notionapi.ObjectTypeBlock,
				Type:   notionapi.BlockTypeHeading2,
			},
			Heading2: notionapi.Heading{RichText: textRich(sec.Title)},
		})
		for _, b := range sec.Bullets {
			blocks = append(blocks, notionapi.BulletedListItemBlock{
				BasicBlock: notionapi.BasicBlock{
					Object: notionapi.ObjectTypeBlock,
					Type:   notionapi.BlockTypeBulletedListItem,
				},
				BulletedListItem: notionapi.ListItem{RichText: textRich(b)},
			})
		}
	}
	return blocks
}

func textRich(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: truncate(content, maxRichText),
			},
		},
	}
}

func datePtr(t time.Time) *notionapi.Date {
	d := notionapi.Date(t.UTC())
	return &d
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
