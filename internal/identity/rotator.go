// Package identity produces and rotates request identities: user-agent,
// header bag, viewport, and proxy assignment.
package identity

import (
	"math/rand"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/metrics"
)

// Config controls the identity pool.
type Config struct {
	// UserAgents to rotate through; defaults apply when empty.
	UserAgents []string
	// Proxies is an optional pool of proxy URLs assigned round-robin.
	Proxies []string
	// RotateAfter is how many requests an identity serves before rotation.
	RotateAfter int
}

type lease struct {
	identity crawl.Identity
	uses     int
}

// Rotator hands out identities per domain, reusing each until its request
// budget is spent or the fetcher forces rotation after a blocked outcome.
type Rotator struct {
	mu       sync.Mutex
	cfg      Config
	rng      *rand.Rand
	leases   map[string]*lease
	burned   map[string]crawl.Identity
	proxyIdx int
	logger   *zap.Logger
}

// New creates a Rotator.
func New(cfg Config, seed int64, logger *zap.Logger) *Rotator {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	if cfg.RotateAfter <= 0 {
		cfg.RotateAfter = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rotator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		leases: make(map[string]*lease),
		burned: make(map[string]crawl.Identity),
		logger: logger,
	}
}

// IdentityFor returns the identity to use for the next request to domain,
// rotating once the current lease's request budget is spent.
func (r *Rotator) IdentityFor(domain string) crawl.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.leases[domain]
	if !ok || l.uses >= r.cfg.RotateAfter {
		if ok {
			metrics.IdentityRotated(domain, "budget")
		}
		l = &lease{identity: r.newIdentity(domain)}
		r.leases[domain] = l
	}
	l.uses++
	return l.identity
}

// ForceRotate discards the domain's current identity after a blocked
// outcome. The implicated user-agent and proxy are avoided on the next pick
// for this domain.
func (r *Rotator) ForceRotate(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.leases[domain]
	if !ok {
		return
	}
	r.burned[domain] = l.identity
	delete(r.leases, domain)
	metrics.IdentityRotated(domain, "blocked")
	r.logger.Debug("identity rotation forced", zap.String("domain", domain))
}

// RemoveProxy drops a failed proxy from the pool.
func (r *Rotator) RemoveProxy(proxy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.cfg.Proxies {
		if p == proxy {
			r.cfg.Proxies = append(r.cfg.Proxies[:i], r.cfg.Proxies[i+1:]...)
			r.logger.Warn("proxy removed from pool",
				zap.String("proxy", proxy),
				zap.Int("remaining", len(r.cfg.Proxies)),
			)
			return
		}
	}
}

// AddProxy appends a proxy to the pool if not already present.
func (r *Rotator) AddProxy(proxy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.cfg.Proxies {
		if p == proxy {
			return
		}
	}
	r.cfg.Proxies = append(r.cfg.Proxies, proxy)
}

func (r *Rotator) newIdentity(domain string) crawl.Identity {
	avoid, avoided := r.burned[domain]
	if avoided {
		delete(r.burned, domain)
	}

	ua := r.pickUserAgent(avoid.UserAgent, avoided)
	proxy := r.nextProxy(avoid.Proxy, avoided)

	return crawl.Identity{
		UserAgent: ua,
		Headers:   r.headerBag(ua),
		Proxy:     proxy,
		Viewport:  viewports[r.rng.Intn(len(viewports))],
	}
}

func (r *Rotator) pickUserAgent(avoid string, avoided bool) string {
	agents := r.cfg.UserAgents
	ua := agents[r.rng.Intn(len(agents))]
	if avoided && len(agents) > 1 {
		for ua == avoid {
			ua = agents[r.rng.Intn(len(agents))]
		}
	}
	return ua
}

func (r *Rotator) nextProxy(avoid string, avoided bool) string {
	if len(r.cfg.Proxies) == 0 {
		return ""
	}
	proxy := r.cfg.Proxies[r.proxyIdx%len(r.cfg.Proxies)]
	r.proxyIdx++
	if avoided && proxy == avoid && len(r.cfg.Proxies) > 1 {
		proxy = r.cfg.Proxies[r.proxyIdx%len(r.cfg.Proxies)]
		r.proxyIdx++
	}
	return proxy
}

// headerBag builds a realistic header set for the chosen user-agent.
func (r *Rotator) headerBag(ua string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", acceptLanguages[r.rng.Intn(len(acceptLanguages))])
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	return h
}
