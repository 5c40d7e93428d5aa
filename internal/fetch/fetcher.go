// Package fetch composes the throttle controller, circuit breaker, and
// identity rotator into a single-attempt page fetcher.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/career-page-crawler/internal/breaker"
	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/identity"
	"github.com/JakeFAU/career-page-crawler/internal/metrics"
	"github.com/JakeFAU/career-page-crawler/internal/throttle"
)

// ErrCircuitOpen is returned when the domain's circuit short-circuits the
// fetch before any network activity.
var ErrCircuitOpen = errors.New("circuit open")

// ErrNoRenderer is returned for rendered-mode requests when no rendered
// transport is configured.
var ErrNoRenderer = errors.New("rendered fetch requested but no renderer configured")

// Response is the raw result a Transport hands back.
type Response struct {
	StatusCode int
	Body       []byte
	FinalURL   string
}

// Transport issues one HTTP or rendered-page request with a given identity.
type Transport interface {
	Do(ctx context.Context, url string, id crawl.Identity) (Response, error)
}

// Fetcher performs exactly one gated fetch attempt per call. Retries are the
// orchestrator's responsibility.
type Fetcher struct {
	static     Transport
	rendered   Transport
	throttle   *throttle.Controller
	breaker    *breaker.Breaker
	identities *identity.Rotator
	clock      crawl.Clock
	logger     *zap.Logger
}

// New constructs a Fetcher. The rendered transport may be nil when headless
// fetching is disabled.
func New(
	static Transport,
	rendered Transport,
	throttle *throttle.Controller,
	breaker *breaker.Breaker,
	identities *identity.Rotator,
	clock crawl.Clock,
	logger *zap.Logger,
) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		static:     static,
		rendered:   rendered,
		throttle:   throttle,
		breaker:    breaker,
		identities: identities,
		clock:      clock,
		logger:     logger,
	}
}

// Fetch runs the gate sequence for one request: circuit check, pacing delay
// (the only suspension point), request with a rotated identity, outcome
// classification, and state feedback. Classified failures come back inside
// the FetchResult; the error return is reserved for short circuits,
// misconfiguration, and cancellation before the request went out.
func (f *Fetcher) Fetch(ctx context.Context, request crawl.FetchRequest) (crawl.FetchResult, error) {
	domain := crawl.DomainOf(request.URL)
	if domain == "" {
		return crawl.FetchResult{}, fmt.Errorf("unusable url %q", request.URL)
	}

	transport := f.static
	if request.Render {
		if f.rendered == nil {
			return crawl.FetchResult{}, ErrNoRenderer
		}
		transport = f.rendered
	}

	if !f.breaker.Allow(domain) {
		f.logger.Debug("fetch short-circuited", zap.String("domain", domain))
		return crawl.FetchResult{}, fmt.Errorf("%w for %s", ErrCircuitOpen, domain)
	}

	if err := f.throttle.Wait(ctx, domain); err != nil {
		// Cancelled while pacing: nothing was in flight, so no outcome is
		// recorded, but the slot Allow admitted must go back or a half-open
		// circuit would wait forever on a probe that never went out.
		f.breaker.Release(domain)
		return crawl.FetchResult{}, fmt.Errorf("throttle wait: %w", err)
	}

	id := f.identities.IdentityFor(domain)

	start := f.clock.Now()
	resp, err := transport.Do(ctx, request.URL, id)
	latency := f.clock.Now().Sub(start)

	outcome := Classify(resp.StatusCode, resp.Body, err)

	f.breaker.Report(domain, !outcome.Failed())
	f.throttle.RecordOutcome(domain, latency, outcome)
	metrics.ObserveFetch(domain, string(outcome), latency)

	if outcome == crawl.OutcomeBlocked {
		f.identities.ForceRotate(domain)
		if id.Proxy != "" {
			f.identities.RemoveProxy(id.Proxy)
		}
	}

	finalURL := resp.FinalURL
	if finalURL == "" {
		finalURL = request.URL
	}

	result := crawl.FetchResult{
		URL:        finalURL,
		Outcome:    outcome,
		StatusCode: resp.StatusCode,
		Latency:    latency,
		Identity:   id,
		FetchedAt:  start,
		Err:        err,
	}
	if outcome == crawl.OutcomeSuccess {
		result.Body = resp.Body
	}

	f.logger.Debug("fetch finished",
		zap.String("domain", domain),
		zap.String("url", request.URL),
		zap.String("outcome", string(outcome)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", latency),
	)
	return result, nil
}
