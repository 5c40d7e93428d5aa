package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

// SelectorStore keeps cached selector patterns in process memory.
type SelectorStore struct {
	mu      sync.RWMutex
	records map[string]crawl.PatternRecord
}

// NewSelectorStore constructs a SelectorStore.
func NewSelectorStore() *SelectorStore {
	return &SelectorStore{records: make(map[string]crawl.PatternRecord)}
}

// Get returns the record stored under signature, if any.
func (s *SelectorStore) Get(_ context.Context, signature string) (crawl.PatternRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[signature]
	return record, ok, nil
}

// Put stores record under its signature, replacing any prior entry.
func (s *SelectorStore) Put(_ context.Context, record crawl.PatternRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Signature] = record
	return nil
}

// Delete removes the record stored under signature.
func (s *SelectorStore) Delete(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, signature)
	return nil
}

// Len reports the number of cached records.
func (s *SelectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
