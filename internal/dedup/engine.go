// Package dedup decides whether an extracted posting is new, updated, or
// unchanged relative to prior crawl state.
package dedup

import (
	"fmt"
	"sync"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/metrics"
)

// Engine classifies postings by canonical URL and a content hash over the
// extracted fields, so incidental markup churn never counts as an update.
type Engine struct {
	mu     sync.Mutex
	clock  crawl.Clock
	hasher crawl.Hasher
	known  map[string]crawl.Fingerprint
}

// New creates an Engine with empty state; Seed loads prior fingerprints.
func New(clock crawl.Clock, hasher crawl.Hasher) *Engine {
	return &Engine{
		clock:  clock,
		hasher: hasher,
		known:  make(map[string]crawl.Fingerprint),
	}
}

// Seed merges previously persisted fingerprints into the engine. Existing
// in-memory entries win, so seeding after classification cannot roll state
// back.
func (e *Engine) Seed(fingerprints map[string]crawl.Fingerprint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for url, fp := range fingerprints {
		if _, ok := e.known[url]; !ok {
			e.known[url] = fp
		}
	}
}

// ContentHash digests the extracted fields that define a posting's content.
// Raw HTML never participates.
func (e *Engine) ContentHash(fields crawl.PostingFields) (string, error) {
	payload := fields.Title + "|" + fields.Company + "|" + fields.Description
	hash, err := e.hasher.Hash([]byte(payload))
	if err != nil {
		return "", fmt.Errorf("hash posting: %w", err)
	}
	return hash, nil
}

// Classify returns the verdict for one posting and the fingerprint to record
// once the posting is persisted: New when the URL was never seen, Updated
// when the content hash changed (the fingerprint keeps its first-seen time),
// Unchanged when only the last-seen timestamp advances. Engine state is
// untouched until Commit, so a posting whose write fails classifies the same
// way on the next attempt.
func (e *Engine) Classify(fields crawl.PostingFields) (crawl.Classification, crawl.Fingerprint, error) {
	canonical, err := crawl.CanonicalURL(fields.SourceURL)
	if err != nil {
		return "", crawl.Fingerprint{}, fmt.Errorf("canonicalize %q: %w", fields.SourceURL, err)
	}
	hash, err := e.ContentHash(fields)
	if err != nil {
		return "", crawl.Fingerprint{}, err
	}

	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	fp, seen := e.known[canonical]
	var class crawl.Classification
	switch {
	case !seen:
		class = crawl.ClassNew
		fp = crawl.Fingerprint{
			URL:         canonical,
			ContentHash: hash,
			FirstSeen:   now,
			LastSeen:    now,
		}
	case fp.ContentHash != hash:
		class = crawl.ClassUpdated
		fp.ContentHash = hash
		fp.LastSeen = now
	default:
		class = crawl.ClassUnchanged
		fp.LastSeen = now
	}
	return class, fp, nil
}

// Commit records a fingerprint produced by Classify after the posting made it
// into the store.
func (e *Engine) Commit(class crawl.Classification, fp crawl.Fingerprint) {
	e.mu.Lock()
	e.known[fp.URL] = fp
	e.mu.Unlock()
	metrics.PostingClassified(string(class))
}

// Fingerprint returns the current fingerprint for a canonical URL, if any.
func (e *Engine) Fingerprint(canonicalURL string) (crawl.Fingerprint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fp, ok := e.known[canonicalURL]
	return fp, ok
}
