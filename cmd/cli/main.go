package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-insights/internal/app"
	"github.com/dvloznov/finance-insights/internal/chart"
	"github.com/dvloznov/finance-insights/internal/config"
	"github.com/dvloznov/finance-insights/internal/gcsuploader"
	infraBQ "github.com/dvloznov/finance-insights/internal/infra/bigquery"
	"github.com/dvloznov/finance-insights/internal/insights"
	"github.com/dvloznov/finance-insights/internal/insights/inmemory"
	"github.com/dvloznov/finance-insights/internal/logger"
	"github.com/dvloznov/finance-insights/internal/notionsync"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "metrics":
		runMetrics()
	case "analyze":
		runAnalyze()
	case "publish-notion":
		runPublishNotion()
	case "import":
		runImport()
	case "purge":
		runPurge()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finance Insights CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  metrics         Compute the enriched metrics report of a company or a JSON file")
	fmt.Println("  analyze         Run the full insights flow (metrics, cache, Gemini narrative)")
	fmt.Println("  publish-notion  Analyze a company and upsert the narrative into Notion")
	fmt.Println("  import          Normalize a JSON file of records and load it into BigQuery")
	fmt.Println("  purge           Delete every stored row of a company")
	fmt.Println("  help            Show this help message")
	fmt.Println("\nRecord files are JSON arrays of objects, local paths or gs:// URIs.")
	fmt.Println("Run 'cli <command> -h' for more information on a command.")
}

// common holds the flags shared by the commands.
type common struct {
	configPath *string
	company    *string
	file       *string
	tz         *string
}

func commonFlags(fs *flag.FlagSet) common {
	return common{
		configPath: fs.String("config", os.Getenv("FINSIGHT_CONFIG"), "Path to TOML config"),
		company:    fs.String("company", "", "Company ID"),
		file:       fs.String("file", "", "JSON array of raw records (local path or gs:// URI) instead of BigQuery"),
		tz:         fs.String("tz", "", "IANA timezone for day bucketing (default from config)"),
	}
}

// setup loads configuration and returns a logger writing to stderr, keeping
// stdout for command output.
func setup(c common) (*config.Config, zerolog.Logger) {
	cfg, err := config.LoadConfig(config.SearchPaths(*c.configPath)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(logger.ParseLevel(cfg.Logging.Level))

	if *c.tz == "" {
		*c.tz = cfg.Analysis.DefaultTimezone
	}
	return cfg, log
}

// service builds an insights service over a record file (in-memory cache and
// usage) or over BigQuery. The returned close function releases resources.
func service(ctx context.Context, c common, cfg *config.Config, log zerolog.Logger) (*insights.Service, func(), error) {
	if *c.file != "" {
		records, err := loadRecords(ctx, *c.file)
		if err != nil {
			return nil, nil, err
		}
		if *c.company == "" {
			*c.company = "local"
		}
		log.Info().Str("file", *c.file).Int("records", len(records)).Msg("Loaded records")

		generator, err := app.NewGenerator(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		svc, err := app.NewInsightsService(cfg, app.Stores{
			Source: staticSource(records),
			Cache:  inmemory.NewCache(),
			Usage:  inmemory.NewUsage(),
		}, generator, log)
		return svc, func() {}, err
	}

	if *c.company == "" {
		return nil, nil, fmt.Errorf("--company or --file is required")
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a.Service, func() { a.Close() }, nil
}

func runMetrics() {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	c := commonFlags(fs)
	days := fs.Int("days", 0, "Window length in days (default from config)")
	chartPath := fs.String("chart", "", "Write the profit chart PNG to this path")
	archiveURI := fs.String("archive", "", "Archive report (and chart) under this gs:// prefix")
	fs.Parse(os.Args[2:])

	cfg, log := setup(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	svc, closeFn, err := service(ctx, c, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer closeFn()

	report, stats, err := svc.Report(ctx, *c.company, *c.tz, *days)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compute metrics")
	}

	log.Info().
		Int("records", stats.Total).
		Int("kept", stats.Kept).
		Int("transfers", stats.Transfers).
		Int("undated", stats.Undated).
		Msg("Normalized records")

	var png []byte
	if *chartPath != "" || *archiveURI != "" {
		png, err = chart.RenderProfitChart(&report.Report)
		if err != nil {
			log.Warn().Err(err).Msg("Chart not rendered")
		}
	}

	if *chartPath != "" && len(png) > 0 {
		if err := os.WriteFile(*chartPath, png, 0o644); err != nil {
			log.Fatal().Err(err).Str("path", *chartPath).Msg("Failed to write chart")
		}
		log.Info().Str("path", *chartPath).Int("bytes", len(png)).Msg("Chart written")
	}

	if *archiveURI != "" {
		out, err := gcsuploader.ArchiveReport(ctx, *archiveURI, *c.company, report, png)
		if err != nil {
			log.Fatal().Err(err).Msg("Archive failed")
		}
		log.Info().Str("report_uri", out.ReportURI).Str("chart_uri", out.ChartURI).Msg("Report archived")
	}

	if err := printJSON(os.Stdout, report); err != nil {
		log.Fatal().Err(err).Msg("Failed to print report")
	}
}

func runAnalyze() {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	c := commonFlags(fs)
	refresh := fs.Bool("refresh", false, "Regenerate even when a fresh cached narrative exists")
	user := fs.String("user", "", "User ID for the daily limit")
	fs.Parse(os.Args[2:])

	cfg, log := setup(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	svc, closeFn, err := service(ctx, c, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer closeFn()

	res, err := svc.Analyze(ctx, insights.AnalyzeRequest{
		CompanyID: *c.company,
		Timezone:  *c.tz,
		Refresh:   *refresh,
		UserID:    *user,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Analyze failed")
	}

	log.Info().
		Bool("used_ai", res.UsedAI).
		Bool("cached", res.Cached).
		Bool("stale", res.Stale).
		Msg("Analyze completed")

	if err := printJSON(os.Stdout, res); err != nil {
		log.Fatal().Err(err).Msg("Failed to print result")
	}
}

func runPublishNotion() {
	fs := flag.NewFlagSet("publish-notion", flag.ExitOnError)
	c := commonFlags(fs)
	dryRun := fs.Bool("dry-run", false, "Show what would be written without calling the Notion write APIs")
	archiveStale := fs.Bool("archive-stale", false, "Archive the company's pages for older fingerprints")
	refresh := fs.Bool("refresh", false, "Regenerate even when a fresh cached narrative exists")
	fs.Parse(os.Args[2:])

	cfg, log := setup(c)
	if cfg.Notion.Token == "" || cfg.Notion.DatabaseID == "" {
		log.Fatal().Msg("Notion token and database id are required (NOTION_TOKEN, FINSIGHT_NOTION_DATABASE_ID)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	svc, closeFn, err := service(ctx, c, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer closeFn()

	res, err := svc.Analyze(ctx, insights.AnalyzeRequest{
		CompanyID: *c.company,
		Timezone:  *c.tz,
		Refresh:   *refresh,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Analyze failed")
	}
	if res.CacheKey == "" {
		fmt.Println("Nothing to publish: no narrative for this window.")
		return
	}

	doc := notionsync.NewDocument(*c.company, res, time.Now())
	out, err := notionsync.PublishInsights(ctx, notionsync.NewNotionClient(cfg.Notion.Token), cfg.Notion.DatabaseID, doc,
		notionsync.PublishOptions{DryRun: *dryRun, ArchiveStale: *archiveStale})
	if err != nil {
		log.Fatal().Err(err).Msg("Publish failed")
	}

	action := "unchanged"
	switch {
	case out.Created:
		action = "created"
	case out.Updated:
		action = "updated"
	}
	fmt.Printf("Notion page %s %s (archived %d stale)\n", out.PageID, action, out.Archived)
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	c := commonFlags(fs)
	currency := fs.String("currency", "USD", "ISO currency code stored with each row")
	dryRun := fs.Bool("dry-run", false, "Normalize and report without inserting")
	fs.Parse(os.Args[2:])

	cfg, log := setup(c)
	if *c.file == "" || *c.company == "" {
		log.Fatal().Msg("Usage: cli import --company ID --file PATH")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	records, err := loadRecords(ctx, *c.file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load records")
	}

	n, _, _, err := app.Analysis(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid analysis configuration")
	}
	txs, stats := n.NormalizeAll(records)

	rows := make([]*infraBQ.TransactionRow, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, infraBQ.TransactionRowFromDomain(*c.company, tx, strings.ToUpper(*currency)))
	}

	log.Info().
		Int("records", stats.Total).
		Int("kept", stats.Kept).
		Int("transfers", stats.Transfers).
		Int("undated", stats.Undated).
		Bool("dry_run", *dryRun).
		Msg("Normalized records")

	if *dryRun {
		fmt.Printf("Would import %d of %d records for %s.\n", len(rows), stats.Total, *c.company)
		return
	}

	repo, err := infraBQ.NewRepository(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create repository")
	}
	defer repo.Close()

	if err := repo.InsertTransactions(ctx, rows); err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}

	fmt.Printf("Imported %d of %d records for %s.\n", len(rows), stats.Total, *c.company)
}

func runPurge() {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	c := commonFlags(fs)
	yes := fs.Bool("yes", false, "Confirm deletion")
	fs.Parse(os.Args[2:])

	cfg, log := setup(c)
	if *c.company == "" {
		log.Fatal().Msg("Usage: cli purge --company ID --yes")
	}
	if !*yes {
		fmt.Printf("This deletes every transaction, cached narrative and usage row of %s. Re-run with --yes.\n", *c.company)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := infraBQ.NewRepository(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create repository")
	}
	defer repo.Close()

	if err := repo.DeleteCompanyData(ctx, *c.company); err != nil {
		log.Fatal().Err(err).Msg("Purge failed")
	}

	fmt.Printf("Deleted all data of %s.\n", *c.company)
}
