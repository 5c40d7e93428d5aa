// Package static implements the non-rendered fetch transport using Colly.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/fetch"
)

// Config controls collector behavior.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int
}

// Transport issues single HTTP GETs through a Colly collector.
type Transport struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Transport.
func New(cfg Config) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	c.WithTransport(newHTTPTransport())

	return &Transport{cfg: cfg, base: c}
}

// Do executes one GET with the given identity. Non-2xx responses come back
// with their status code and the error Colly reported, so the caller can
// classify by status.
func (t *Transport) Do(ctx context.Context, url string, id crawl.Identity) (fetch.Response, error) {
	var (
		result   fetch.Response
		fetchErr error
	)

	collector := t.base.Clone()
	collector.UserAgent = id.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(t.cfg.Timeout)
	if id.Proxy != "" {
		if err := collector.SetProxy(id.Proxy); err != nil {
			return fetch.Response{}, fmt.Errorf("set proxy: %w", err)
		}
	}

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range id.Headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		result = fetch.Response{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			FinalURL:   r.Request.URL.String(),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
			result.Body = append([]byte(nil), r.Body...)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fetch.Response{}, fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return result, fetchErr
		}
		if err != nil {
			return result, fmt.Errorf("colly visit: %w", err)
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
