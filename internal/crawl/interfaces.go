package crawl

import (
	"context"
	"time"
)

// Fetcher performs exactly one fetch attempt per call. Retries belong to the
// orchestrator.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Extractor is the external extraction service consulted when no cached
// selector pattern applies. Failure means "no postings this attempt", never a
// fatal batch error.
type Extractor interface {
	Extract(ctx context.Context, content []byte, pageURL, keyword string) (ExtractionResult, error)
}

// SearchProvider wraps the external job-board search service. The core does
// not throttle or cache calls to it.
type SearchProvider interface {
	Search(ctx context.Context, keyword, location string, boards []string) ([]PostingFields, error)
}

// PostingStore is the persistence collaborator. The core is stateless across
// restarts except through this interface.
type PostingStore interface {
	UpsertPosting(ctx context.Context, fields PostingFields, contentHash string, class Classification) error
	LoadFingerprints(ctx context.Context, domain string) (map[string]Fingerprint, error)
	CreateRun(ctx context.Context, run CrawlRun) error
	FinishRun(ctx context.Context, runID string, status RunStatus, counts RunCounts, errText string) error
}

// SelectorStore persists cached selector patterns keyed by site signature.
type SelectorStore interface {
	Get(ctx context.Context, signature string) (PatternRecord, bool, error)
	Put(ctx context.Context, record PatternRecord) error
	Delete(ctx context.Context, signature string) error
}

// Publisher pushes posting events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch and run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
