// Package engine runs crawl batches: it fans tasks out over a bounded worker
// pool while keeping every domain strictly serial, and tolerates individual
// task failures.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/dedup"
	"github.com/JakeFAU/career-page-crawler/internal/extract"
	"github.com/JakeFAU/career-page-crawler/internal/metrics"
	"github.com/JakeFAU/career-page-crawler/internal/selector"
)

// Config controls Engine behavior.
type Config struct {
	Concurrency      int
	Topic            string
	SnapshotFailures bool
	SnapshotPrefix   string
	CleanMaxBytes    int
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.SnapshotPrefix == "" {
		c.SnapshotPrefix = "pages"
	}
	if c.CleanMaxBytes <= 0 {
		c.CleanMaxBytes = extract.DefaultMaxCleanBytes
	}
}

// Engine coordinates one batch of crawl tasks across the fetch, extraction,
// and persistence collaborators.
type Engine struct {
	fetcher   crawl.Fetcher
	search    crawl.SearchProvider
	extractor crawl.Extractor
	selectors *selector.Cache
	dedup     *dedup.Engine
	store     crawl.PostingStore
	publisher crawl.Publisher
	blobs     crawl.BlobStore
	clock     crawl.Clock
	ids       crawl.IDGenerator
	cfg       Config
	logger    *zap.Logger

	sem *semaphore.Weighted

	mu      sync.Mutex
	domains map[string]*sync.Mutex
	seeded  map[string]bool
}

// New constructs an Engine. The publisher and blob store are optional; the
// rest of the collaborators are required.
func New(
	fetcher crawl.Fetcher,
	search crawl.SearchProvider,
	extractor crawl.Extractor,
	selectors *selector.Cache,
	dedupEngine *dedup.Engine,
	store crawl.PostingStore,
	publisher crawl.Publisher,
	blobs crawl.BlobStore,
	clock crawl.Clock,
	ids crawl.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fetcher:   fetcher,
		search:    search,
		extractor: extractor,
		selectors: selectors,
		dedup:     dedupEngine,
		store:     store,
		publisher: publisher,
		blobs:     blobs,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		domains:   make(map[string]*sync.Mutex),
		seeded:    make(map[string]bool),
	}
}

// Run executes every task and returns the aggregated batch result. A failing
// task is recorded in its TaskResult and never aborts the batch; Run returns
// an error only when the context is canceled before all tasks finish.
func (e *Engine) Run(ctx context.Context, tasks []crawl.Task) (crawl.BatchResult, error) {
	batchID, err := e.ids.NewID()
	if err != nil {
		return crawl.BatchResult{}, fmt.Errorf("generate batch id: %w", err)
	}
	batch := crawl.BatchResult{
		ID:      batchID,
		Started: e.clock.Now(),
		Tasks:   make([]crawl.TaskResult, len(tasks)),
	}
	e.logger.Info("batch started",
		zap.String("batch_id", batchID),
		zap.Int("tasks", len(tasks)),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	var wg sync.WaitGroup
	for i, task := range tasks {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			batch.Tasks[i] = crawl.TaskResult{Task: task, Err: fmt.Errorf("batch canceled: %w", err)}
			continue
		}
		wg.Add(1)
		go func(i int, task crawl.Task) {
			defer wg.Done()
			defer e.sem.Release(1)
			metrics.WorkerStarted()
			defer metrics.WorkerFinished()
			batch.Tasks[i] = e.runTask(ctx, task)
		}(i, task)
	}
	wg.Wait()

	batch.Finished = e.clock.Now()
	for _, result := range batch.Tasks {
		batch.Totals.Add(result.Counts)
		if result.Failed() {
			metrics.TaskCompleted("failed")
		} else {
			metrics.TaskCompleted("ok")
		}
	}
	e.logger.Info("batch finished",
		zap.String("batch_id", batchID),
		zap.Int("failed_tasks", len(batch.FailedTasks())),
		zap.Int("new", batch.Totals.New),
		zap.Int("updated", batch.Totals.Updated),
		zap.Int("unchanged", batch.Totals.Unchanged),
	)
	return batch, ctx.Err()
}

func (e *Engine) runTask(ctx context.Context, task crawl.Task) crawl.TaskResult {
	start := e.clock.Now()
	result := crawl.TaskResult{Task: task}

	runID, err := e.ids.NewID()
	if err != nil {
		result.Err = fmt.Errorf("generate run id: %w", err)
		return result
	}
	source := strings.Join(task.Boards, ",")
	var buildErr error
	if !task.IsBoardSearch() {
		var url string
		if url, buildErr = task.BuildURL(); buildErr == nil {
			result.URL = url
			source = crawl.DomainOf(url)
		}
	}
	run := crawl.CrawlRun{
		ID:      runID,
		Keyword: task.Keyword,
		Source:  source,
		Status:  crawl.RunStatusRunning,
		Started: start,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		e.logger.Warn("create run failed", zap.String("run_id", runID), zap.Error(err))
	}

	switch {
	case buildErr != nil:
		result.Counts = crawl.RunCounts{Errors: 1}
		result.Err = fmt.Errorf("build task url: %w", buildErr)
	case task.IsBoardSearch():
		result.Counts, result.Err = e.runBoardSearch(ctx, task)
	default:
		result.Counts, result.Err = e.runPageCrawl(ctx, task, result.URL)
	}
	result.Elapsed = e.clock.Now().Sub(start)

	status := crawl.RunStatusCompleted
	errText := ""
	if result.Err != nil {
		status = crawl.RunStatusFailed
		errText = result.Err.Error()
	}
	if err := e.store.FinishRun(ctx, runID, status, result.Counts, errText); err != nil {
		e.logger.Warn("finish run failed", zap.String("run_id", runID), zap.Error(err))
	}
	return result
}

func (e *Engine) runBoardSearch(ctx context.Context, task crawl.Task) (crawl.RunCounts, error) {
	if e.search == nil {
		return crawl.RunCounts{Errors: 1}, fmt.Errorf("no job board search provider configured")
	}
	postings, err := e.search.Search(ctx, task.Keyword, task.Location, task.Boards)
	if err != nil {
		return crawl.RunCounts{Errors: 1}, fmt.Errorf("board search: %w", err)
	}
	return e.persist(ctx, postings), nil
}

func (e *Engine) runPageCrawl(ctx context.Context, task crawl.Task, url string) (crawl.RunCounts, error) {
	domain := crawl.DomainOf(url)
	unlock := e.lockDomain(domain)
	defer unlock()

	fetched, err := e.fetcher.Fetch(ctx, crawl.FetchRequest{URL: url, Render: task.JSRender})
	if err != nil {
		return crawl.RunCounts{Errors: 1}, fmt.Errorf("fetch %s: %w", url, err)
	}
	if fetched.Outcome.Failed() {
		return crawl.RunCounts{Errors: 1}, fmt.Errorf("fetch %s: %s (status %d)", url, fetched.Outcome, fetched.StatusCode)
	}

	signature, err := selector.Signature(domain, fetched.Body)
	if err != nil {
		return crawl.RunCounts{Errors: 1}, fmt.Errorf("page signature: %w", err)
	}
	lookup, err := e.selectors.Lookup(ctx, signature)
	if err != nil {
		e.logger.Warn("selector lookup failed", zap.String("signature", signature), zap.Error(err))
	}
	if postings, ok := e.selectors.TryExtract(ctx, lookup, fetched.Body, url); ok {
		e.backfill(postings, task.Keyword)
		return e.persist(ctx, postings), nil
	}

	if e.extractor == nil {
		e.snapshotFailure(ctx, domain, url, fetched.Body)
		return crawl.RunCounts{Errors: 1}, fmt.Errorf("no cached pattern for %s and no extractor configured", url)
	}
	cleaned := extract.CleanHTML(fetched.Body, e.cfg.CleanMaxBytes)
	extraction, err := e.extractor.Extract(ctx, cleaned, url, task.Keyword)
	if err != nil {
		e.snapshotFailure(ctx, domain, url, fetched.Body)
		return crawl.RunCounts{Errors: 1}, fmt.Errorf("extract %s: %w", url, err)
	}
	e.selectors.RecordExtraction(ctx, signature, extraction.Pattern)
	e.backfill(extraction.Postings, task.Keyword)
	return e.persist(ctx, extraction.Postings), nil
}

// persist classifies each posting, writes it through the posting store, and
// publishes new/updated events. Per-posting errors are counted, not fatal.
func (e *Engine) persist(ctx context.Context, postings []crawl.PostingFields) crawl.RunCounts {
	var counts crawl.RunCounts
	for _, fields := range postings {
		domain := crawl.DomainOf(fields.SourceURL)
		if err := e.ensureSeeded(ctx, domain); err != nil {
			e.logger.Warn("load fingerprints failed", zap.String("domain", domain), zap.Error(err))
		}
		class, fp, err := e.dedup.Classify(fields)
		if err != nil {
			e.logger.Warn("classify posting failed", zap.String("url", fields.SourceURL), zap.Error(err))
			counts.Errors++
			continue
		}
		if err := e.store.UpsertPosting(ctx, fields, fp.ContentHash, class); err != nil {
			// Not committed to the dedup engine: the posting classifies the
			// same way next crawl instead of silently becoming Unchanged.
			e.logger.Warn("upsert posting failed", zap.String("url", fields.SourceURL), zap.Error(err))
			counts.Errors++
			continue
		}
		e.dedup.Commit(class, fp)
		switch class {
		case crawl.ClassNew:
			counts.New++
		case crawl.ClassUpdated:
			counts.Updated++
		case crawl.ClassUnchanged:
			counts.Unchanged++
		}
		if class != crawl.ClassUnchanged {
			e.publishEvent(ctx, class, fields)
		}
	}
	return counts
}

func (e *Engine) publishEvent(ctx context.Context, class crawl.Classification, fields crawl.PostingFields) {
	if e.publisher == nil {
		return
	}
	payload := map[string]any{
		"classification": string(class),
		"posting":        fields,
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.Topic, payload); err != nil {
		e.logger.Warn("publish posting event failed", zap.String("url", fields.SourceURL), zap.Error(err))
	}
}

func (e *Engine) snapshotFailure(ctx context.Context, domain, url string, body []byte) {
	if !e.cfg.SnapshotFailures || e.blobs == nil {
		return
	}
	name := fmt.Sprintf("%s/%s/%d.html", e.cfg.SnapshotPrefix, domain, e.clock.Now().UnixNano())
	uri, err := e.blobs.PutObject(ctx, name, "text/html; charset=utf-8", body)
	if err != nil {
		e.logger.Warn("snapshot failed page", zap.String("url", url), zap.Error(err))
		return
	}
	e.logger.Info("snapshotted failed extraction", zap.String("url", url), zap.String("blob", uri))
}

// ensureSeeded lazily loads stored fingerprints for a domain into the dedup
// engine, once per batch.
func (e *Engine) ensureSeeded(ctx context.Context, domain string) error {
	e.mu.Lock()
	done := e.seeded[domain]
	e.mu.Unlock()
	if done {
		return nil
	}
	prints, err := e.store.LoadFingerprints(ctx, domain)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if !e.seeded[domain] {
		e.dedup.Seed(prints)
		e.seeded[domain] = true
	}
	e.mu.Unlock()
	return nil
}

// lockDomain serializes page crawls per domain. Concurrency across domains is
// bounded only by the semaphore.
func (e *Engine) lockDomain(domain string) func() {
	e.mu.Lock()
	lock, ok := e.domains[domain]
	if !ok {
		lock = &sync.Mutex{}
		e.domains[domain] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (e *Engine) backfill(postings []crawl.PostingFields, keyword string) {
	for i := range postings {
		if postings[i].SearchKeyword == "" {
			postings[i].SearchKeyword = keyword
		}
	}
}
