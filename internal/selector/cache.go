package selector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/metrics"
)

// Lookup is the tagged result of a cache consultation. Callers must branch
// on Hit explicitly; a miss always means full extraction.
type Lookup struct {
	Hit    bool
	Record crawl.PatternRecord
}

// Config tunes the cache's staleness policy.
type Config struct {
	// MaxAge is how long a pattern stays usable without revalidation.
	// Zero disables the staleness check.
	MaxAge time.Duration
}

// Cache wraps a SelectorStore with the hit/miss/fallback protocol. Cached
// patterns are an optimization only: correctness never depends on them.
type Cache struct {
	store  crawl.SelectorStore
	clock  crawl.Clock
	cfg    Config
	logger *zap.Logger
}

// NewCache creates a Cache.
func NewCache(store crawl.SelectorStore, clock crawl.Clock, cfg Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, clock: clock, cfg: cfg, logger: logger}
}

// Lookup consults the store for a pattern matching the page signature. A
// stale record counts as a miss.
func (c *Cache) Lookup(ctx context.Context, signature string) (Lookup, error) {
	record, ok, err := c.store.Get(ctx, signature)
	if err != nil {
		return Lookup{}, fmt.Errorf("selector store get: %w", err)
	}
	if !ok {
		metrics.SelectorCacheResult("miss")
		return Lookup{}, nil
	}
	if c.cfg.MaxAge > 0 && c.clock.Now().Sub(record.LastValidated) > c.cfg.MaxAge {
		metrics.SelectorCacheResult("stale")
		return Lookup{}, nil
	}
	metrics.SelectorCacheResult("hit")
	return Lookup{Hit: true, Record: record}, nil
}

// TryExtract applies a hit's pattern to the page. The second return value
// reports whether the extraction is plausible; false means the caller must
// fall back to full extraction.
func (c *Cache) TryExtract(ctx context.Context, lk Lookup, html []byte, pageURL string) ([]crawl.PostingFields, bool) {
	if !lk.Hit {
		return nil, false
	}
	postings, err := Apply(lk.Record.Pattern, html, pageURL)
	if err != nil || len(postings) == 0 {
		metrics.SelectorCacheResult("fallback")
		c.logger.Info("cached pattern yielded nothing, falling back",
			zap.String("signature", lk.Record.Signature),
			zap.Error(err),
		)
		return nil, false
	}

	record := lk.Record
	record.SuccessCount++
	record.LastValidated = c.clock.Now()
	if err := c.store.Put(ctx, record); err != nil {
		c.logger.Warn("selector store put failed", zap.Error(err))
	}
	return postings, true
}

// RecordExtraction reconciles the cache after a full extraction: a fresh
// pattern replaces or revalidates the entry, no pattern evicts it.
func (c *Cache) RecordExtraction(ctx context.Context, signature string, pattern *crawl.Pattern) {
	if pattern == nil || pattern.Empty() {
		if err := c.store.Delete(ctx, signature); err != nil {
			c.logger.Warn("selector store delete failed", zap.Error(err))
		}
		return
	}

	record := crawl.PatternRecord{
		Signature:     signature,
		Pattern:       *pattern,
		LastValidated: c.clock.Now(),
	}
	if existing, ok, err := c.store.Get(ctx, signature); err == nil && ok && existing.Pattern == *pattern {
		record.SuccessCount = existing.SuccessCount
	}
	if err := c.store.Put(ctx, record); err != nil {
		c.logger.Warn("selector store put failed", zap.Error(err))
	}
}
