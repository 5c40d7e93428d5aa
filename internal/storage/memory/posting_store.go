// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

// PostingStore keeps postings, fingerprints, and crawl runs in process memory.
type PostingStore struct {
	mu       sync.RWMutex
	postings map[string]crawl.PostingFields
	prints   map[string]crawl.Fingerprint
	runs     map[string]crawl.CrawlRun
}

// NewPostingStore constructs a PostingStore.
func NewPostingStore() *PostingStore {
	return &PostingStore{
		postings: make(map[string]crawl.PostingFields),
		prints:   make(map[string]crawl.Fingerprint),
		runs:     make(map[string]crawl.CrawlRun),
	}
}

// UpsertPosting writes or refreshes one posting row.
func (s *PostingStore) UpsertPosting(
	_ context.Context,
	fields crawl.PostingFields,
	contentHash string,
	class crawl.Classification,
) error {
	key, err := crawl.CanonicalURL(fields.SourceURL)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	fp, seen := s.prints[key]
	if class == crawl.ClassUnchanged && seen {
		fp.LastSeen = now
		s.prints[key] = fp
		return nil
	}
	if !seen {
		fp = crawl.Fingerprint{URL: key, FirstSeen: now}
	}
	fp.ContentHash = contentHash
	fp.LastSeen = now
	s.prints[key] = fp
	s.postings[key] = fields
	return nil
}

// LoadFingerprints returns every fingerprint whose URL belongs to domain.
func (s *PostingStore) LoadFingerprints(_ context.Context, domain string) (map[string]crawl.Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]crawl.Fingerprint)
	for key, fp := range s.prints {
		if crawl.DomainOf(key) == domain {
			out[key] = fp
		}
	}
	return out, nil
}

// CreateRun stores a new crawl run.
func (s *PostingStore) CreateRun(_ context.Context, run crawl.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// FinishRun records the terminal state of a crawl run.
func (s *PostingStore) FinishRun(
	_ context.Context,
	runID string,
	status crawl.RunStatus,
	counts crawl.RunCounts,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	now := time.Now().UTC()
	run.Status = status
	run.Counts = counts
	run.ErrorText = errText
	run.Finished = &now
	s.runs[runID] = run
	return nil
}

// GetPosting fetches a stored posting by URL.
func (s *PostingStore) GetPosting(_ context.Context, rawURL string) (crawl.PostingFields, bool, error) {
	key, err := crawl.CanonicalURL(rawURL)
	if err != nil {
		return crawl.PostingFields{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.postings[key]
	return fields, ok, nil
}

// Runs lists every stored crawl run.
func (s *PostingStore) Runs() []crawl.CrawlRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawl.CrawlRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	return out
}

// GetRun fetches a crawl run by ID.
func (s *PostingStore) GetRun(_ context.Context, runID string) (crawl.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawl.CrawlRun{}, errors.New("run not found")
	}
	return run, nil
}
