package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-insights/internal/app"
	"github.com/dvloznov/finance-insights/internal/config"
	"github.com/dvloznov/finance-insights/internal/jobs"
	"github.com/dvloznov/finance-insights/internal/jobs/inmemory"
	"github.com/dvloznov/finance-insights/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("FINSIGHT_CONFIG"), "Path to TOML config (or set FINSIGHT_CONFIG env)")
		once       = flag.Bool("once", false, "Refresh every configured company once and exit")
		force      = flag.Bool("force", false, "Regenerate even when a fresh cached narrative exists")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(config.SearchPaths(*configPath)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if len(cfg.Jobs.Companies) == 0 {
		log.Fatal().Msg("No companies configured (jobs.companies or FINSIGHT_REFRESH_COMPANIES)")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize app")
	}
	defer a.Close()

	// Initialize job store and queue
	// In production, this would be replaced with Cloud Tasks or Pub/Sub
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.BufferSize, cfg.Jobs.Workers, jobStore)

	log.Info().
		Strs("companies", cfg.Jobs.Companies).
		Int("workers", cfg.Jobs.Workers).
		Bool("once", *once).
		Msg("Starting worker service")

	// Start consuming jobs
	if err := jobQueue.Start(ctx, jobs.NewRefreshHandler(a.Service, a.Hooks()...)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	if *once {
		runOnce(ctx, jobQueue, jobStore, cfg, *force)
	} else {
		interval := config.Duration(cfg.Jobs.RefreshInterval, time.Hour)
		go app.RunRefreshScheduler(ctx, jobQueue, cfg.Jobs.Companies, cfg.Analysis.DefaultTimezone, interval, log)

		log.Info().Dur("interval", interval).Msg("Worker service started, refreshing on schedule...")

		// Wait for interrupt signal
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
	}

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop workers
	cancel()

	// Wait for in-flight jobs with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service stopped")
}

// runOnce enqueues one refresh per company and waits until every job is
// finished or failed.
func runOnce(ctx context.Context, publisher jobs.Publisher, store jobs.JobStore, cfg *config.Config, force bool) {
	log := logger.FromContext(ctx)

	n, err := app.EnqueueRefreshes(ctx, publisher, cfg.Jobs.Companies, cfg.Analysis.DefaultTimezone, force)
	if err != nil {
		log.Error().Err(err).Int("enqueued", n).Msg("Failed to enqueue refresh jobs")
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		list, err := store.ListJobs(ctx, jobs.JobFilter{})
		if err != nil {
			log.Error().Err(err).Msg("Failed to list jobs")
			return
		}

		done, failed := 0, 0
		for _, job := range list {
			switch job.Status {
			case jobs.JobStatusCompleted:
				done++
			case jobs.JobStatusFailed:
				failed++
			}
		}
		if done+failed >= n {
			log.Info().Int("completed", done).Int("failed", failed).Msg("Refresh run finished")
			return
		}
	}
}
