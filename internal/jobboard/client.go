// Package jobboard wraps the external job-board search service. The core
// neither throttles nor caches these calls; it only normalizes results.
package jobboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

// knownBoards maps config names to the search service's site identifiers.
var knownBoards = map[string]string{
	"indeed":        "indeed",
	"linkedin":      "linkedin",
	"glassdoor":     "glassdoor",
	"zip_recruiter": "zip_recruiter",
}

// Config points the client at the search service.
type Config struct {
	Endpoint      string
	ResultsWanted int
	HoursOld      int
	Timeout       time.Duration
}

// Client implements crawl.SearchProvider over the service's JSON API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("job board endpoint is required")
	}
	if cfg.ResultsWanted <= 0 {
		cfg.ResultsWanted = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type searchRequest struct {
	Keyword       string   `json:"keyword"`
	Location      string   `json:"location"`
	Sites         []string `json:"sites"`
	ResultsWanted int      `json:"results_wanted"`
	HoursOld      int      `json:"hours_old,omitempty"`
}

type searchResponse struct {
	Jobs []crawl.PostingFields `json:"jobs"`
}

// Search queries the boards and returns normalized postings. Unknown board
// names are skipped with a warning; jobs without a URL are dropped.
func (c *Client) Search(ctx context.Context, keyword, location string, boards []string) ([]crawl.PostingFields, error) {
	sites := make([]string, 0, len(boards))
	for _, board := range boards {
		mapped, ok := knownBoards[board]
		if !ok {
			c.logger.Warn("unknown job board, skipping", zap.String("board", board))
			continue
		}
		sites = append(sites, mapped)
	}
	if len(sites) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(searchRequest{
		Keyword:       keyword,
		Location:      location,
		Sites:         sites,
		ResultsWanted: c.cfg.ResultsWanted,
		HoursOld:      c.cfg.HoursOld,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call job board service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("job board service returned %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	postings := parsed.Jobs[:0]
	for _, job := range parsed.Jobs {
		if job.SourceURL == "" {
			continue
		}
		if job.SearchKeyword == "" {
			job.SearchKeyword = keyword
		}
		postings = append(postings, job)
	}

	c.logger.Info("job board search complete",
		zap.String("keyword", keyword),
		zap.String("location", location),
		zap.Int("results", len(postings)),
	)
	return postings, nil
}
