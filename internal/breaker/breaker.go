// Package breaker implements a per-domain circuit breaker state machine.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/metrics"
)

// State is the circuit state of one domain.
type State string

// Circuit states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes the breaker's thresholds.
type Config struct {
	// Threshold is how many failures within Window open the circuit.
	Threshold int
	// Window bounds how far back failures count toward the threshold.
	Window time.Duration
	// Cooldown is how long an open circuit blocks before allowing a probe.
	Cooldown time.Duration
	// MaxCooldown caps cooldown growth when a half-open probe fails.
	MaxCooldown time.Duration
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Window <= 0 {
		c.Window = 5 * time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = 4 * c.Cooldown
	}
}

type circuit struct {
	state    State
	failures []time.Time
	openedAt time.Time
	cooldown time.Duration
	probing  bool
}

// Breaker gates fetches per domain. Closed circuits admit everything; open
// circuits fail fast with no network call; half-open circuits admit a single
// probe.
type Breaker struct {
	mu      sync.Mutex
	cfg     Config
	clock   crawl.Clock
	domains map[string]*circuit
	logger  *zap.Logger
}

// New creates a Breaker.
func New(cfg Config, clock crawl.Clock, logger *zap.Logger) *Breaker {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:     cfg,
		clock:   clock,
		domains: make(map[string]*circuit),
		logger:  logger,
	}
}

func (b *Breaker) circuitFor(domain string) *circuit {
	c, ok := b.domains[domain]
	if !ok {
		c = &circuit{state: StateClosed, cooldown: b.cfg.Cooldown}
		b.domains[domain] = c
	}
	return c
}

// Allow reports whether a request to domain may proceed. An open circuit
// whose cooldown has elapsed transitions to half-open and admits exactly one
// probe; further calls are rejected until that probe reports back.
func (b *Breaker) Allow(domain string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(domain)
	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(c.openedAt) < c.cooldown {
			return false
		}
		c.state = StateHalfOpen
		c.probing = true
		b.logger.Info("circuit half-open, admitting probe", zap.String("domain", domain))
		metrics.CircuitTransition(domain, string(StateHalfOpen))
		return true
	default: // StateHalfOpen
		if c.probing {
			return false
		}
		c.probing = true
		return true
	}
}

// Release returns an admitted request slot that will never report an
// outcome, such as when the fetch is abandoned between Allow and the actual
// request. A half-open probe slot is freed so the next Allow can admit
// another probe; the circuit state itself is untouched.
func (b *Breaker) Release(domain string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.domains[domain]
	if !ok {
		return
	}
	if c.state == StateHalfOpen && c.probing {
		c.probing = false
		b.logger.Debug("half-open probe released", zap.String("domain", domain))
	}
}

// Report records a fetch outcome for domain. Success closes the circuit and
// resets counters; failure accumulates toward the threshold, or reopens a
// half-open circuit with a grown cooldown.
func (b *Breaker) Report(domain string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(domain)
	now := b.clock.Now()

	if success {
		if c.state != StateClosed {
			b.logger.Info("circuit closed", zap.String("domain", domain))
			metrics.CircuitTransition(domain, string(StateClosed))
		}
		c.state = StateClosed
		c.failures = c.failures[:0]
		c.cooldown = b.cfg.Cooldown
		c.probing = false
		return
	}

	switch c.state {
	case StateHalfOpen:
		c.cooldown = min(2*c.cooldown, b.cfg.MaxCooldown)
		b.open(domain, c, now)
	case StateClosed:
		c.failures = append(c.failures, now)
		c.failures = pruneWindow(c.failures, now.Add(-b.cfg.Window))
		if len(c.failures) >= b.cfg.Threshold {
			b.open(domain, c, now)
		}
	case StateOpen:
		// Failure reported for a request admitted before the circuit
		// opened; the open timestamp stands.
	}
}

func (b *Breaker) open(domain string, c *circuit, now time.Time) {
	c.state = StateOpen
	c.openedAt = now
	c.probing = false
	c.failures = c.failures[:0]
	b.logger.Warn("circuit open",
		zap.String("domain", domain),
		zap.Duration("cooldown", c.cooldown),
	)
	metrics.CircuitTransition(domain, string(StateOpen))
}

// Status returns the current state for domain without mutating it.
func (b *Breaker) Status(domain string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.domains[domain]
	if !ok {
		return StateClosed
	}
	if c.state == StateOpen && b.clock.Now().Sub(c.openedAt) >= c.cooldown {
		return StateHalfOpen
	}
	return c.state
}

// Snapshot returns the state of every domain seen so far.
func (b *Breaker) Snapshot() map[string]State {
	b.mu.Lock()
	defer b.mu.Unlock()
	states := make(map[string]State, len(b.domains))
	for domain := range b.domains {
		c := b.domains[domain]
		st := c.state
		if st == StateOpen && b.clock.Now().Sub(c.openedAt) >= c.cooldown {
			st = StateHalfOpen
		}
		states[domain] = st
	}
	return states
}

func pruneWindow(failures []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(failures) && failures[idx].Before(cutoff) {
		idx++
	}
	return failures[idx:]
}
