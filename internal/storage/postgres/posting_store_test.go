package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

func TestUpsertPostingInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStore(mock)
	require.NoError(t, err)

	fields := crawl.PostingFields{
		SourceSite:    "careers",
		SourceURL:     "https://Jobs.Example.com/careers/42#apply",
		SearchKeyword: "software engineer",
		Title:         "Platform Engineer",
		Company:       "Example",
		Location:      "Austin, TX",
		SalaryRange:   "$150k-$180k",
		Description:   "Build things.",
		PostedDate:    "2026-08-20",
	}

	mock.ExpectExec("INSERT INTO postings").
		WithArgs(
			"https://jobs.example.com/careers/42",
			"jobs.example.com",
			fields.SourceSite,
			fields.SearchKeyword,
			fields.Title,
			fields.Company,
			fields.Location,
			fields.SalaryRange,
			fields.Description,
			fields.PostedDate,
			"hash-1",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertPosting(context.Background(), fields, "hash-1", crawl.ClassNew))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPostingUnchangedOnlyTouches(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE postings SET last_seen").
		WithArgs("https://jobs.example.com/careers/42").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	fields := crawl.PostingFields{SourceURL: "https://jobs.example.com/careers/42"}
	require.NoError(t, store.UpsertPosting(context.Background(), fields, "hash-1", crawl.ClassUnchanged))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPostingRejectsBadURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStore(mock)
	require.NoError(t, err)

	err = store.UpsertPosting(context.Background(), crawl.PostingFields{SourceURL: "://nope"}, "h", crawl.ClassNew)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPostingWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO postings").
		WillReturnError(errors.New("connection reset"))

	fields := crawl.PostingFields{SourceURL: "https://jobs.example.com/careers/42"}
	err = store.UpsertPosting(context.Background(), fields, "hash-1", crawl.ClassNew)
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert posting")
}

func TestLoadFingerprintsScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStore(mock)
	require.NoError(t, err)

	first := time.Unix(1700000000, 0).UTC()
	last := first.Add(48 * time.Hour)

	rows := pgxmock.NewRows([]string{"source_url", "content_hash", "first_seen", "last_seen"}).
		AddRow("https://jobs.example.com/careers/1", "hash-1", first, last).
		AddRow("https://jobs.example.com/careers/2", "hash-2", first, last)

	mock.ExpectQuery("SELECT source_url, content_hash, first_seen, last_seen").
		WithArgs("jobs.example.com").
		WillReturnRows(rows)

	prints, err := store.LoadFingerprints(context.Background(), "jobs.example.com")
	require.NoError(t, err)
	require.Len(t, prints, 2)

	fp := prints["https://jobs.example.com/careers/1"]
	require.Equal(t, "hash-1", fp.ContentHash)
	require.Equal(t, first, fp.FirstSeen)
	require.Equal(t, last, fp.LastSeen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadFingerprintsEmptyDomain(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT source_url, content_hash, first_seen, last_seen").
		WithArgs("jobs.nowhere.com").
		WillReturnRows(pgxmock.NewRows([]string{"source_url", "content_hash", "first_seen", "last_seen"}))

	prints, err := store.LoadFingerprints(context.Background(), "jobs.nowhere.com")
	require.NoError(t, err)
	require.Empty(t, prints)
}

func TestCreateRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStore(mock)
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	run := crawl.CrawlRun{
		ID:      "run-1",
		Keyword: "software engineer",
		Source:  "jobs.example.com",
		Status:  crawl.RunStatusRunning,
		Started: started,
	}

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs("run-1", "software engineer", "jobs.example.com", "running", started).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStore(mock)
	require.NoError(t, err)

	require.Error(t, store.CreateRun(context.Background(), crawl.CrawlRun{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunUpdatesCounts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStore(mock)
	require.NoError(t, err)

	counts := crawl.RunCounts{New: 3, Updated: 1, Unchanged: 5, Errors: 1}

	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs("run-1", "failed", 3, 1, 5, 1, "extract: upstream 500").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.FinishRun(context.Background(), "run-1", crawl.RunStatusFailed, counts, "extract: upstream 500")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
