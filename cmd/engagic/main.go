// Engagic is a municipal meeting agenda pipeline: it syncs meeting calendars
// from civic-tech vendor platforms, extracts agenda packet text, summarizes
// it for residents, and serves the results over a small search API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/engagic/engagic"
	"github.com/engagic/engagic/adapters"
	"github.com/engagic/engagic/internal/db"
	"github.com/engagic/engagic/internal/web"
	"github.com/engagic/engagic/llm"
	"github.com/engagic/engagic/pdf"
	"github.com/engagic/engagic/pipeline"
	"github.com/engagic/engagic/topics"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		once        = flag.Bool("once", false, "Run one sync sweep and queue drain, then exit")
		syncCity    = flag.String("sync-city", "", "Sync a single city by banana and exit")
		processURL  = flag.String("process-meeting", "", "Process a single meeting by its queue source URL and exit")
		status      = flag.Bool("status", false, "Print queue status and exit")
		showVersion = flag.Bool("version", false, "Show version")
		verbose     = flag.Bool("verbose", false, "Debug logging")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("engagic %s (commit: %s)\n", version, gitCommit)
		os.Exit(0)
	}

	// .env is optional
	_ = godotenv.Load()

	cfg, err := engagic.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	store := db.NewStore(database, logger)

	app, err := buildApp(cfg, store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	switch {
	case *status:
		runStatus(store)
		return
	case *syncCity != "":
		runSyncCity(ctx, app, *syncCity)
		return
	case *processURL != "":
		runProcessMeeting(ctx, app, store, *processURL)
		return
	case *once:
		runOnce(ctx, app, logger)
		return
	}

	runDaemon(ctx, app, cfg, store, logger)
}

// app bundles the wired pipeline components.
type app struct {
	scheduler *engagic.Scheduler
	worker    *engagic.Worker
	manager   *engagic.LoopManager
}

func buildApp(cfg *engagic.Config, store *db.Store, logger *slog.Logger) (*app, error) {
	normalizer, err := loadTopics(cfg, logger)
	if err != nil {
		return nil, err
	}
	prompts, err := llm.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}

	client := llm.NewClient(cfg.LLMAPIKey, logger)
	if !client.Available() {
		logger.Warn("no LLM api key configured; summarization disabled")
	}
	summarizer := llm.NewSummarizer(client, prompts, normalizer, logger)
	extractor := pdf.NewExtractor(logger)
	analyzer := pipeline.NewAnalyzer(store, extractor, summarizer, logger)

	scheduler := engagic.NewScheduler(store, adapters.Options{
		Logger:          logger,
		ViewIDCachePath: cfg.ViewIDCachePath,
	}, logger)
	worker := engagic.NewWorker(store, analyzer, summarizer, extractor, logger)
	manager := engagic.NewLoopManager(scheduler, worker, cfg, logger)

	return &app{scheduler: scheduler, worker: worker, manager: manager}, nil
}

func loadTopics(cfg *engagic.Config, logger *slog.Logger) (*topics.Normalizer, error) {
	if cfg.TaxonomyPath != "" {
		return topics.Load(cfg.TaxonomyPath, cfg.UnknownTopicsLog, logger)
	}
	return topics.Default(cfg.UnknownTopicsLog, logger)
}

func runStatus(store *db.Store) {
	stats, err := store.GetQueueStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(out))
}

func runSyncCity(ctx context.Context, a *app, banana string) {
	stats, err := a.scheduler.SyncCity(ctx, banana)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Synced %s: %d meetings stored, %d enqueued\n", banana, stats.MeetingsStored, stats.Enqueued)

	processed, err := a.worker.DrainQueue(ctx)
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Queue drain failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Processed %d queue entries\n", processed)
}

func runProcessMeeting(ctx context.Context, a *app, store *db.Store, sourceURL string) {
	entry, err := store.GetQueueEntry(sourceURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "No queue entry for %s: %v\n", sourceURL, err)
		os.Exit(1)
	}
	a.worker.ProcessEntry(ctx, entry)
	fmt.Printf("Processed queue entry %d (%s)\n", entry.ID, entry.SourceURL)
}

func runOnce(ctx context.Context, a *app, logger *slog.Logger) {
	stats, err := a.scheduler.RunSweep(ctx)
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		os.Exit(1)
	}
	processed, err := a.worker.DrainQueue(ctx)
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Queue drain failed: %v\n", err)
		os.Exit(1)
	}
	logger.Info("one-shot run complete",
		"cities_synced", stats.CitiesSynced, "meetings_stored", stats.MeetingsStored,
		"queue_processed", processed)
}

func runDaemon(ctx context.Context, a *app, cfg *engagic.Config, store *db.Store, logger *slog.Logger) {
	limiter, err := db.OpenRateLimiter(cfg.RateLimitDBPath, cfg.RateLimitRequests, cfg.RateLimitWindow)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open rate limiter: %v\n", err)
		os.Exit(1)
	}
	defer limiter.Close()

	server := web.NewServer(store, limiter, &statusSource{a}, web.Config{
		AdminToken:     cfg.AdminToken,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxQueryLength: cfg.MaxQueryLength,
	}, logger)
	server.TriggerSync = func(banana string) {
		go func() {
			if _, err := a.scheduler.SyncCity(ctx, banana); err != nil {
				logger.Error("admin-triggered sync failed", "banana", banana, "error", err)
				return
			}
			if _, err := a.worker.DrainQueue(ctx); err != nil && ctx.Err() == nil {
				logger.Error("admin-triggered drain failed", "banana", banana, "error", err)
			}
		}()
	}

	if cfg.BackgroundProcessing {
		a.manager.Start(ctx)
	} else {
		logger.Info("background processing disabled; serving read-only")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(cfg.BindAddr); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if cfg.BackgroundProcessing {
			a.manager.Stop()
		}
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// statusSource adapts the pipeline's status snapshots for the web layer.
type statusSource struct{ a *app }

func (s *statusSource) FailedCities() map[string]string { return s.a.scheduler.FailedCities() }
func (s *statusSource) CurrentSyncJSON() any            { return s.a.scheduler.CurrentSync() }
func (s *statusSource) LoopStatusesJSON() any           { return s.a.manager.Statuses() }
