// Package extract talks to the external LLM extraction service that turns
// career-page HTML into structured postings and reusable selector patterns.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/metrics"
)

// Config points the client at the extraction gateway.
type Config struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Client implements crawl.Extractor over the gateway's JSON API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("extractor endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 75 * time.Second
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

type extractRequest struct {
	Model   string `json:"model,omitempty"`
	URL     string `json:"url"`
	Keyword string `json:"keyword"`
	HTML    string `json:"html"`
}

type extractResponse struct {
	Jobs      []extractJob   `json:"jobs"`
	Selectors *crawl.Pattern `json:"selectors"`
}

type extractJob struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	SalaryRange string `json:"salary_range"`
	Description string `json:"description"`
	JobURL      string `json:"job_url"`
	PostedDate  string `json:"posted_date"`
}

// Extract posts the cleaned page content to the gateway and normalizes the
// response. Jobs without a URL are dropped.
func (c *Client) Extract(ctx context.Context, content []byte, pageURL, keyword string) (crawl.ExtractionResult, error) {
	body, err := json.Marshal(extractRequest{
		Model:   c.cfg.Model,
		URL:     pageURL,
		Keyword: keyword,
		HTML:    string(content),
	})
	if err != nil {
		return crawl.ExtractionResult{}, fmt.Errorf("marshal extract request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return crawl.ExtractionResult{}, fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ExtractionCall("error")
		return crawl.ExtractionResult{}, fmt.Errorf("call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ExtractionCall("error")
		return crawl.ExtractionResult{}, fmt.Errorf("extraction service returned %d", resp.StatusCode)
	}

	var parsed extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.ExtractionCall("bad_json")
		return crawl.ExtractionResult{}, fmt.Errorf("decode extraction response: %w", err)
	}

	site := ""
	if u, err := url.Parse(pageURL); err == nil {
		site = strings.ToLower(u.Hostname())
	}

	result := crawl.ExtractionResult{Pattern: parsed.Selectors}
	for _, job := range parsed.Jobs {
		if job.JobURL == "" {
			continue
		}
		result.Postings = append(result.Postings, crawl.PostingFields{
			SourceSite:    site,
			SourceURL:     job.JobURL,
			SearchKeyword: keyword,
			Title:         job.Title,
			Company:       job.Company,
			Location:      job.Location,
			SalaryRange:   job.SalaryRange,
			Description:   job.Description,
			PostedDate:    job.PostedDate,
		})
	}

	metrics.ExtractionCall("ok")
	c.logger.Info("extraction complete",
		zap.String("url", pageURL),
		zap.Int("postings", len(result.Postings)),
		zap.Bool("selectors", result.Pattern != nil),
	)
	return result, nil
}
