package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/career-page-crawler/internal/api"
	"github.com/JakeFAU/career-page-crawler/internal/breaker"
	"github.com/JakeFAU/career-page-crawler/internal/clock/system"
	"github.com/JakeFAU/career-page-crawler/internal/config"
	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/dedup"
	"github.com/JakeFAU/career-page-crawler/internal/engine"
	"github.com/JakeFAU/career-page-crawler/internal/extract"
	"github.com/JakeFAU/career-page-crawler/internal/fetch"
	"github.com/JakeFAU/career-page-crawler/internal/fetch/headless"
	"github.com/JakeFAU/career-page-crawler/internal/fetch/static"
	sha256hash "github.com/JakeFAU/career-page-crawler/internal/hash/sha256"
	uuidgen "github.com/JakeFAU/career-page-crawler/internal/id/uuid"
	"github.com/JakeFAU/career-page-crawler/internal/identity"
	"github.com/JakeFAU/career-page-crawler/internal/jobboard"
	"github.com/JakeFAU/career-page-crawler/internal/metrics"
	pubsubpub "github.com/JakeFAU/career-page-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/career-page-crawler/internal/selector"
	"github.com/JakeFAU/career-page-crawler/internal/storage/gcs"
	"github.com/JakeFAU/career-page-crawler/internal/storage/memory"
	"github.com/JakeFAU/career-page-crawler/internal/storage/postgres"
	"github.com/JakeFAU/career-page-crawler/internal/throttle"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl batch over the configured searches",
		Long: `Expands the configured searches into tasks, runs them through the paced
fetch pipeline, and persists classified postings. The batch tolerates
individual task failures; the command fails only when every task fails.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tasks, err := cfg.Tasks()
	if err != nil {
		return fmt.Errorf("expand search config: %w", err)
	}
	if len(tasks) == 0 {
		return fmt.Errorf("no searches configured")
	}

	metrics.Init()
	logger.Info("starting crawl", buildConfigSummary(cfg, len(tasks))...)

	clk := system.New()
	hasher := sha256hash.New()
	ids := uuidgen.New()

	minDelay, maxDelay, ceiling := cfg.ThrottleDurations()
	throttleCtl := throttle.New(throttle.Config{
		MinDelay: minDelay,
		MaxDelay: maxDelay,
		Ceiling:  ceiling,
	}, clk, logger)
	circuits := breaker.New(breaker.Config{
		Threshold: cfg.Breaker.Threshold,
		Window:    time.Duration(cfg.Breaker.WindowSeconds) * time.Second,
		Cooldown:  time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
	}, clk, logger)
	rotator := identity.New(identity.Config{
		UserAgents:  cfg.Identity.UserAgents,
		Proxies:     cfg.Identity.Proxies,
		RotateAfter: cfg.Identity.RotateAfter,
	}, time.Now().UnixNano(), logger)

	staticTransport := static.New(static.Config{
		Timeout:      time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})
	rendered, err := headless.New(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		SettleDelay:       time.Duration(cfg.Headless.SettleDelaySec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init headless transport: %w", err)
	}
	defer rendered.Close()

	fetcher := fetch.New(staticTransport, rendered, throttleCtl, circuits, rotator, clk, logger)

	postingStore, selectorStore, cleanup, err := buildStores(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	selectors := selector.NewCache(selectorStore, clk, selector.Config{
		MaxAge: time.Duration(cfg.Selector.MaxAgeHours) * time.Hour,
	}, logger)
	dedupEngine := dedup.New(clk, hasher)

	var extractor crawl.Extractor
	if cfg.Extractor.Endpoint != "" {
		client, err := extract.NewClient(extract.Config{
			Endpoint: cfg.Extractor.Endpoint,
			Model:    cfg.Extractor.Model,
			Timeout:  time.Duration(cfg.Extractor.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			return fmt.Errorf("init extractor: %w", err)
		}
		extractor = client
	}

	var search crawl.SearchProvider
	if cfg.JobBoard.Endpoint != "" {
		client, err := jobboard.NewClient(jobboard.Config{
			Endpoint:      cfg.JobBoard.Endpoint,
			ResultsWanted: cfg.JobBoard.ResultsWanted,
			HoursOld:      cfg.JobBoard.HoursOld,
			Timeout:       time.Duration(cfg.JobBoard.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			return fmt.Errorf("init job board client: %w", err)
		}
		search = client
	}

	publisher, stopPublisher, err := buildPublisher(ctx)
	if err != nil {
		return err
	}
	defer stopPublisher()

	blobs, err := buildBlobStore(ctx)
	if err != nil {
		return err
	}

	if cfg.Ops.Enabled {
		startOpsServer(ctx, throttleCtl, circuits)
	}

	eng := engine.New(
		fetcher, search, extractor, selectors, dedupEngine,
		postingStore, publisher, blobs, clk, ids,
		engine.Config{
			Concurrency:      cfg.Crawler.Concurrency,
			Topic:            cfg.PubSub.Topic,
			SnapshotFailures: cfg.Snapshots.Enabled,
			SnapshotPrefix:   cfg.Snapshots.Prefix,
		},
		logger,
	)

	batch, err := eng.Run(ctx, tasks)
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}

	failed := batch.FailedTasks()
	logger.Info("crawl finished",
		zap.String("batch_id", batch.ID),
		zap.Duration("elapsed", batch.Finished.Sub(batch.Started)),
		zap.Int("tasks", len(batch.Tasks)),
		zap.Int("failed_tasks", len(failed)),
		zap.Int("new", batch.Totals.New),
		zap.Int("updated", batch.Totals.Updated),
		zap.Int("unchanged", batch.Totals.Unchanged),
		zap.Int("errors", batch.Totals.Errors),
	)
	if len(failed) == len(batch.Tasks) {
		return fmt.Errorf("all %d tasks failed", len(batch.Tasks))
	}
	return nil
}

func buildStores(ctx context.Context) (crawl.PostingStore, crawl.SelectorStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memory.NewPostingStore(), memory.NewSelectorStore(), func() {}, nil
	}
	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Second,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	postingStore, err := postgres.NewPostingStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	selectorStore, err := postgres.NewSelectorStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return postingStore, selectorStore, pool.Close, nil
}

func buildPublisher(ctx context.Context) (crawl.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		return nil, func() {}, nil
	}
	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub, err := pubsubpub.New(client)
	if err != nil {
		return nil, nil, err
	}
	stop := func() {
		pub.Stop()
		_ = client.Close()
	}
	return pub, stop, nil
}

func buildBlobStore(ctx context.Context) (crawl.BlobStore, error) {
	if !cfg.Snapshots.Enabled {
		return nil, nil
	}
	if cfg.Snapshots.Bucket == "" {
		return memory.NewBlobStore(), nil
	}
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	return gcs.New(client, gcs.Config{Bucket: cfg.Snapshots.Bucket})
}

func startOpsServer(ctx context.Context, throttleCtl *throttle.Controller, circuits *breaker.Breaker) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Ops.Port),
		Handler:           api.NewServer(throttleCtl, circuits, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server listening", zap.Int("port", cfg.Ops.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func buildConfigSummary(c config.Config, taskCount int) []zap.Field {
	return []zap.Field{
		zap.Int("tasks", taskCount),
		zap.Int("concurrency", c.Crawler.Concurrency),
		zap.Bool("postgres", c.DB.DSN != ""),
		zap.Bool("pubsub", c.PubSub.ProjectID != ""),
	}
}
