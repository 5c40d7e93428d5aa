package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

func TestUpsertPostingStoresFingerprint(t *testing.T) {
	t.Parallel()

	store := NewPostingStore()
	ctx := context.Background()

	fields := crawl.PostingFields{
		SourceURL: "https://Jobs.Example.com/careers/42?ref=x#apply",
		Title:     "Platform Engineer",
		Company:   "Example",
	}
	require.NoError(t, store.UpsertPosting(ctx, fields, "hash-1", crawl.ClassNew))

	prints, err := store.LoadFingerprints(ctx, "jobs.example.com")
	require.NoError(t, err)
	require.Len(t, prints, 1)

	fp, ok := prints["https://jobs.example.com/careers/42?ref=x"]
	require.True(t, ok)
	require.Equal(t, "hash-1", fp.ContentHash)
	require.False(t, fp.FirstSeen.IsZero())
	require.False(t, fp.LastSeen.IsZero())

	stored, ok, err := store.GetPosting(ctx, fields.SourceURL)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Platform Engineer", stored.Title)
}

func TestUpsertPostingUnchangedOnlyTouches(t *testing.T) {
	t.Parallel()

	store := NewPostingStore()
	ctx := context.Background()

	fields := crawl.PostingFields{SourceURL: "https://jobs.example.com/careers/42", Title: "Engineer"}
	require.NoError(t, store.UpsertPosting(ctx, fields, "hash-1", crawl.ClassNew))

	before, err := store.LoadFingerprints(ctx, "jobs.example.com")
	require.NoError(t, err)
	first := before["https://jobs.example.com/careers/42"]

	changed := fields
	changed.Title = "Staff Engineer"
	require.NoError(t, store.UpsertPosting(ctx, changed, "hash-2", crawl.ClassUnchanged))

	after, err := store.LoadFingerprints(ctx, "jobs.example.com")
	require.NoError(t, err)
	fp := after["https://jobs.example.com/careers/42"]
	require.Equal(t, "hash-1", fp.ContentHash)
	require.Equal(t, first.FirstSeen, fp.FirstSeen)

	stored, ok, err := store.GetPosting(ctx, fields.SourceURL)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Engineer", stored.Title)
}

func TestUpsertPostingUpdatedReplacesFields(t *testing.T) {
	t.Parallel()

	store := NewPostingStore()
	ctx := context.Background()

	fields := crawl.PostingFields{SourceURL: "https://jobs.example.com/careers/42", Title: "Engineer"}
	require.NoError(t, store.UpsertPosting(ctx, fields, "hash-1", crawl.ClassNew))

	fields.Title = "Senior Engineer"
	require.NoError(t, store.UpsertPosting(ctx, fields, "hash-2", crawl.ClassUpdated))

	prints, err := store.LoadFingerprints(ctx, "jobs.example.com")
	require.NoError(t, err)
	require.Equal(t, "hash-2", prints["https://jobs.example.com/careers/42"].ContentHash)

	stored, _, err := store.GetPosting(ctx, fields.SourceURL)
	require.NoError(t, err)
	require.Equal(t, "Senior Engineer", stored.Title)
}

func TestLoadFingerprintsFiltersByDomain(t *testing.T) {
	t.Parallel()

	store := NewPostingStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertPosting(ctx,
		crawl.PostingFields{SourceURL: "https://jobs.alpha.com/1"}, "a", crawl.ClassNew))
	require.NoError(t, store.UpsertPosting(ctx,
		crawl.PostingFields{SourceURL: "https://jobs.beta.com/1"}, "b", crawl.ClassNew))

	prints, err := store.LoadFingerprints(ctx, "jobs.alpha.com")
	require.NoError(t, err)
	require.Len(t, prints, 1)
	require.Contains(t, prints, "https://jobs.alpha.com/1")
}

func TestUpsertPostingRejectsBadURL(t *testing.T) {
	t.Parallel()

	store := NewPostingStore()
	err := store.UpsertPosting(context.Background(), crawl.PostingFields{SourceURL: "://nope"}, "h", crawl.ClassNew)
	require.Error(t, err)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	store := NewPostingStore()
	ctx := context.Background()

	run := crawl.CrawlRun{
		ID:      "run-1",
		Keyword: "software engineer",
		Source:  "jobs.example.com",
		Status:  crawl.RunStatusRunning,
		Started: time.Now().UTC(),
	}
	require.NoError(t, store.CreateRun(ctx, run))
	require.Error(t, store.CreateRun(ctx, run))

	counts := crawl.RunCounts{New: 3, Updated: 1, Unchanged: 5, Errors: 1}
	require.NoError(t, store.FinishRun(ctx, "run-1", crawl.RunStatusCompleted, counts, ""))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawl.RunStatusCompleted, got.Status)
	require.Equal(t, counts, got.Counts)
	require.NotNil(t, got.Finished)

	require.Error(t, store.FinishRun(ctx, "missing", crawl.RunStatusFailed, counts, "boom"))
	_, err = store.GetRun(ctx, "missing")
	require.Error(t, err)
}

func TestSelectorStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewSelectorStore()
	ctx := context.Background()

	record := crawl.PatternRecord{
		Signature:     "sig-1",
		Pattern:       crawl.Pattern{JobList: ".job-card", Title: ".title"},
		SuccessCount:  4,
		LastValidated: time.Now().UTC(),
	}
	require.NoError(t, store.Put(ctx, record))
	require.Equal(t, 1, store.Len())

	got, ok, err := store.Get(ctx, "sig-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record, got)

	_, ok, err = store.Get(ctx, "sig-2")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Delete(ctx, "sig-1"))
	require.Equal(t, 0, store.Len())
}

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "pages/run-1/page.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "memory://pages/run-1/page.html", uri)

	data, ok := store.GetObject(ctx, "pages/run-1/page.html")
	require.True(t, ok)
	require.Equal(t, []byte("<html></html>"), data)

	_, ok = store.GetObject(ctx, "pages/missing")
	require.False(t, ok)
}
