package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

// SelectorStore persists selector patterns in Postgres, keyed by signature.
type SelectorStore struct {
	pool queryPool
}

// NewSelectorStore constructs a store from an existing pool.
func NewSelectorStore(pool queryPool) (*SelectorStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SelectorStore{pool: pool}, nil
}

const getPatternSQL = `
SELECT pattern, success_count, last_validated
FROM selector_patterns
WHERE signature = $1`

// Get returns the record stored under signature, if any.
func (s *SelectorStore) Get(ctx context.Context, signature string) (crawl.PatternRecord, bool, error) {
	if s == nil || s.pool == nil {
		return crawl.PatternRecord{}, false, fmt.Errorf("selector store is not configured")
	}
	record := crawl.PatternRecord{Signature: signature}
	var patternJSON []byte
	row := s.pool.QueryRow(ctx, getPatternSQL, signature)
	err := row.Scan(&patternJSON, &record.SuccessCount, &record.LastValidated)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawl.PatternRecord{}, false, nil
	}
	if err != nil {
		return crawl.PatternRecord{}, false, fmt.Errorf("get selector pattern: %w", err)
	}
	if err := json.Unmarshal(patternJSON, &record.Pattern); err != nil {
		return crawl.PatternRecord{}, false, fmt.Errorf("decode selector pattern: %w", err)
	}
	return record, true, nil
}

const putPatternSQL = `
INSERT INTO selector_patterns (signature, pattern, success_count, last_validated)
VALUES ($1,$2,$3,$4)
ON CONFLICT (signature) DO UPDATE SET
	pattern = EXCLUDED.pattern,
	success_count = EXCLUDED.success_count,
	last_validated = EXCLUDED.last_validated`

// Put stores record under its signature, replacing any prior entry.
func (s *SelectorStore) Put(ctx context.Context, record crawl.PatternRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("selector store is not configured")
	}
	if record.Signature == "" {
		return fmt.Errorf("record signature is required")
	}
	patternJSON, err := json.Marshal(record.Pattern)
	if err != nil {
		return fmt.Errorf("encode selector pattern: %w", err)
	}
	args := []any{record.Signature, patternJSON, record.SuccessCount, record.LastValidated}
	if _, err := s.pool.Exec(ctx, putPatternSQL, args...); err != nil {
		return fmt.Errorf("put selector pattern: %w", err)
	}
	return nil
}

const deletePatternSQL = `DELETE FROM selector_patterns WHERE signature = $1`

// Delete removes the record stored under signature.
func (s *SelectorStore) Delete(ctx context.Context, signature string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("selector store is not configured")
	}
	if _, err := s.pool.Exec(ctx, deletePatternSQL, signature); err != nil {
		return fmt.Errorf("delete selector pattern: %w", err)
	}
	return nil
}
