package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

func TestSelectorGetDecodesPattern(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSelectorStore(mock)
	require.NoError(t, err)

	validated := time.Unix(1700000000, 0).UTC()
	patternJSON := []byte(`{"job_list_selector":".job-card","title_selector":".title","company_selector":"","location_selector":"","url_selector":"a"}`)

	mock.ExpectQuery("SELECT pattern, success_count, last_validated").
		WithArgs("sig-1").
		WillReturnRows(pgxmock.NewRows([]string{"pattern", "success_count", "last_validated"}).
			AddRow(patternJSON, 4, validated))

	record, ok, err := store.Get(context.Background(), "sig-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sig-1", record.Signature)
	require.Equal(t, ".job-card", record.Pattern.JobList)
	require.Equal(t, "a", record.Pattern.URL)
	require.Equal(t, 4, record.SuccessCount)
	require.Equal(t, validated, record.LastValidated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectorGetMissIsNotAnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSelectorStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT pattern, success_count, last_validated").
		WithArgs("sig-missing").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.Get(context.Background(), "sig-missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSelectorPutUpsertsRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSelectorStore(mock)
	require.NoError(t, err)

	validated := time.Unix(1700000000, 0).UTC()
	record := crawl.PatternRecord{
		Signature:     "sig-1",
		Pattern:       crawl.Pattern{JobList: ".job-card", Title: ".title", URL: "a"},
		SuccessCount:  2,
		LastValidated: validated,
	}

	mock.ExpectExec("INSERT INTO selector_patterns").
		WithArgs("sig-1", pgxmock.AnyArg(), 2, validated).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectorPutRequiresSignature(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSelectorStore(mock)
	require.NoError(t, err)

	require.Error(t, store.Put(context.Background(), crawl.PatternRecord{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectorDeleteRemovesRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSelectorStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM selector_patterns").
		WithArgs("sig-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Delete(context.Background(), "sig-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
