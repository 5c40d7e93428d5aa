// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Connect opens a pgx pool using the provided config.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// PostingStore writes postings and crawl runs into Postgres.
type PostingStore struct {
	pool queryPool
}

// NewPostingStore constructs a store from an existing pool.
func NewPostingStore(pool queryPool) (*PostingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostingStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *PostingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertPostingSQL = `
INSERT INTO postings (
	source_url,
	domain,
	source_site,
	search_keyword,
	title,
	company,
	location,
	salary_range,
	description,
	posted_date,
	content_hash,
	first_seen,
	last_seen
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now()
)
ON CONFLICT (source_url) DO UPDATE SET
	source_site = EXCLUDED.source_site,
	search_keyword = EXCLUDED.search_keyword,
	title = EXCLUDED.title,
	company = EXCLUDED.company,
	location = EXCLUDED.location,
	salary_range = EXCLUDED.salary_range,
	description = EXCLUDED.description,
	posted_date = EXCLUDED.posted_date,
	content_hash = EXCLUDED.content_hash,
	last_seen = now()`

const touchPostingSQL = `UPDATE postings SET last_seen = now() WHERE source_url = $1`

// UpsertPosting writes or refreshes one posting row. Unchanged postings only
// get their last_seen advanced.
func (s *PostingStore) UpsertPosting(
	ctx context.Context,
	fields crawl.PostingFields,
	contentHash string,
	class crawl.Classification,
) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("posting store is not configured")
	}
	key, err := crawl.CanonicalURL(fields.SourceURL)
	if err != nil {
		return fmt.Errorf("canonicalize posting url: %w", err)
	}
	if class == crawl.ClassUnchanged {
		if _, err := s.pool.Exec(ctx, touchPostingSQL, key); err != nil {
			return fmt.Errorf("touch posting: %w", err)
		}
		return nil
	}
	args := []any{
		key,
		crawl.DomainOf(key),
		fields.SourceSite,
		fields.SearchKeyword,
		fields.Title,
		fields.Company,
		fields.Location,
		fields.SalaryRange,
		fields.Description,
		fields.PostedDate,
		contentHash,
	}
	if _, err := s.pool.Exec(ctx, upsertPostingSQL, args...); err != nil {
		return fmt.Errorf("upsert posting: %w", err)
	}
	return nil
}

const loadFingerprintsSQL = `
SELECT source_url, content_hash, first_seen, last_seen
FROM postings
WHERE domain = $1`

// LoadFingerprints returns the fingerprint of every stored posting for domain,
// keyed by canonical URL.
func (s *PostingStore) LoadFingerprints(ctx context.Context, domain string) (map[string]crawl.Fingerprint, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("posting store is not configured")
	}
	rows, err := s.pool.Query(ctx, loadFingerprintsSQL, domain)
	if err != nil {
		return nil, fmt.Errorf("load fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]crawl.Fingerprint)
	for rows.Next() {
		var fp crawl.Fingerprint
		if err := rows.Scan(&fp.URL, &fp.ContentHash, &fp.FirstSeen, &fp.LastSeen); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out[fp.URL] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return out, nil
}

const createRunSQL = `
INSERT INTO crawl_runs (id, keyword, source, status, started)
VALUES ($1,$2,$3,$4,$5)`

// CreateRun inserts a new crawl run row.
func (s *PostingStore) CreateRun(ctx context.Context, run crawl.CrawlRun) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("posting store is not configured")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	args := []any{run.ID, run.Keyword, run.Source, string(run.Status), run.Started}
	if _, err := s.pool.Exec(ctx, createRunSQL, args...); err != nil {
		return fmt.Errorf("insert crawl run: %w", err)
	}
	return nil
}

const finishRunSQL = `
UPDATE crawl_runs SET
	status = $2,
	finished = now(),
	new_count = $3,
	updated_count = $4,
	unchanged_count = $5,
	error_count = $6,
	error_text = $7
WHERE id = $1`

// FinishRun records the terminal state of a crawl run.
func (s *PostingStore) FinishRun(
	ctx context.Context,
	runID string,
	status crawl.RunStatus,
	counts crawl.RunCounts,
	errText string,
) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("posting store is not configured")
	}
	args := []any{runID, string(status), counts.New, counts.Updated, counts.Unchanged, counts.Errors, errText}
	if _, err := s.pool.Exec(ctx, finishRunSQL, args...); err != nil {
		return fmt.Errorf("finish crawl run: %w", err)
	}
	return nil
}
