// Package throttle maintains per-domain adaptive pacing between requests.
package throttle

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/metrics"
)

const (
	backoffRateLimited = 2.0
	backoffFailure     = 1.5
	backoffSlow        = 1.25
	decayFactor        = 0.5
	maxFactorRateLimit = 10.0
	maxFactorFailure   = 5.0
	latencyWindowSize  = 16
)

// Config bounds the controller's computed delays.
type Config struct {
	// MinDelay is the politeness floor between requests to one domain.
	MinDelay time.Duration
	// MaxDelay bounds the random jitter added on top of the pacing floor.
	MaxDelay time.Duration
	// Ceiling is the liveness floor: no domain is ever paced beyond it.
	Ceiling time.Duration
}

func (c *Config) applyDefaults() {
	if c.MinDelay <= 0 {
		c.MinDelay = 2 * time.Second
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay + 5*time.Second
	}
	if c.Ceiling <= 0 {
		c.Ceiling = 90 * time.Second
	}
}

type pacingState struct {
	factor      float64
	lastRequest time.Time
	latencies   []time.Duration
	successes   int
	failures    int
}

// Controller tracks pacing state per domain. All methods are safe for
// concurrent use; callers additionally serialize per-domain requests so each
// domain observes a consistent history.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	clock   crawl.Clock
	domains map[string]*pacingState
	logger  *zap.Logger
}

// PacingInfo is a read-only snapshot of one domain's pacing state.
type PacingInfo struct {
	Domain        string        `json:"domain"`
	BackoffFactor float64       `json:"backoff_factor"`
	NextDelay     time.Duration `json:"next_delay"`
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
}

// New creates a Controller.
func New(cfg Config, clock crawl.Clock, logger *zap.Logger) *Controller {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:     cfg,
		clock:   clock,
		domains: make(map[string]*pacingState),
		logger:  logger,
	}
}

func (c *Controller) state(domain string) *pacingState {
	st, ok := c.domains[domain]
	if !ok {
		st = &pacingState{factor: 1.0}
		c.domains[domain] = st
	}
	return st
}

// NextDelay returns the pacing floor currently in force for domain: the
// minimum spacing between consecutive requests. It is deterministic,
// monotonically non-decreasing across consecutive failures, and clamped to
// [MinDelay, Ceiling].
func (c *Controller) NextDelay(domain string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delayLocked(c.state(domain))
}

func (c *Controller) delayLocked(st *pacingState) time.Duration {
	d := time.Duration(float64(c.cfg.MinDelay) * st.factor)
	if d < c.cfg.MinDelay {
		d = c.cfg.MinDelay
	}
	if d > c.cfg.Ceiling {
		d = c.cfg.Ceiling
	}
	return d
}

// Wait suspends until the domain may be fetched again: the remaining portion
// of the pacing floor plus random jitter, cancellable via ctx. It stamps the
// domain's last-request time on return.
func (c *Controller) Wait(ctx context.Context, domain string) error {
	c.mu.Lock()
	st := c.state(domain)
	target := c.delayLocked(st) + c.jitter()
	if target > c.cfg.Ceiling {
		target = c.cfg.Ceiling
	}
	wait := target - c.clock.Now().Sub(st.lastRequest)
	c.mu.Unlock()

	if wait > 0 {
		c.logger.Debug("throttle wait",
			zap.String("domain", domain),
			zap.Duration("wait", wait),
		)
		metrics.ObserveThrottleDelay(domain, wait)
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	c.mu.Lock()
	c.state(domain).lastRequest = c.clock.Now()
	c.mu.Unlock()
	return nil
}

// RecordOutcome feeds one fetch outcome back into the domain's pacing state.
// Failures grow the backoff factor multiplicatively (rate-limit style
// blocking grows faster and caps higher); successes halve it back toward the
// floor. A success noticeably slower than the domain's recent average nudges
// the factor up instead of down.
func (c *Controller) RecordOutcome(domain string, latency time.Duration, outcome crawl.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(domain)

	switch {
	case outcome == crawl.OutcomeSuccess:
		st.successes++
		st.failures = 0
		if c.slowLocked(st, latency) {
			st.factor = min(maxFactorFailure, st.factor*backoffSlow)
		} else {
			st.factor = max(1.0, st.factor*decayFactor)
		}
		st.latencies = append(st.latencies, latency)
		if len(st.latencies) > latencyWindowSize {
			st.latencies = st.latencies[len(st.latencies)-latencyWindowSize:]
		}
	case outcome == crawl.OutcomeBlocked:
		st.failures++
		st.successes = 0
		st.factor = min(maxFactorRateLimit, st.factor*backoffRateLimited)
		c.logger.Warn("rate limited, growing backoff",
			zap.String("domain", domain),
			zap.Float64("factor", st.factor),
		)
	default:
		st.failures++
		st.successes = 0
		st.factor = min(maxFactorFailure, st.factor*backoffFailure)
	}
}

// slowLocked reports whether latency exceeds twice the windowed average.
func (c *Controller) slowLocked(st *pacingState, latency time.Duration) bool {
	if len(st.latencies) == 0 {
		return false
	}
	var total time.Duration
	for _, l := range st.latencies {
		total += l
	}
	avg := total / time.Duration(len(st.latencies))
	return avg > 0 && latency > 2*avg
}

// Snapshot returns pacing info for every domain seen so far.
func (c *Controller) Snapshot() []PacingInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	infos := make([]PacingInfo, 0, len(c.domains))
	for domain, st := range c.domains {
		infos = append(infos, PacingInfo{
			Domain:        domain,
			BackoffFactor: st.factor,
			NextDelay:     c.delayLocked(st),
			Successes:     st.successes,
			Failures:      st.failures,
		})
	}
	return infos
}

// jitter draws a random duration in [0, MaxDelay-MinDelay).
func (c *Controller) jitter() time.Duration {
	limit := c.cfg.MaxDelay - c.cfg.MinDelay
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
