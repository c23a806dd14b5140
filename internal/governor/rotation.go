// internal/governor/rotation.go
package governor

import (
	"math/rand"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

const (
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
)

type proxyEntry struct {
	url      *url.URL
	badUntil time.Time
	failures int
}

// Rotator hands out upstream proxies and User-Agent strings. Proxies marked
// bad are skipped until their cooldown expires.
type Rotator struct {
	strategy string
	cooldown time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	proxies []*proxyEntry
	agents  []string
	pIdx    int
	uaIdx   int
}

// NewRotator parses the proxy pool. The rng is owned by the rotator and used
// under its lock.
func NewRotator(cfg config.RotationConfig, clk clock.Clock, rng *rand.Rand, logger *zap.Logger) (*Rotator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Rotator{
		strategy: cfg.Strategy,
		cooldown: cfg.ProxyCooldown,
		clock:    clk,
		logger:   logger.Named("rotator"),
		rng:      rng,
		agents:   append([]string(nil), cfg.UserAgents...),
	}
	if r.strategy == "" {
		r.strategy = StrategyRoundRobin
	}
	for _, p := range cfg.Proxies {
		u, err := url.Parse(p)
		if err != nil {
			return nil, err
		}
		r.proxies = append(r.proxies, &proxyEntry{url: u})
	}
	return r, nil
}

// HasProxies reports whether any upstream proxy is configured.
func (r *Rotator) HasProxies() bool {
	return len(r.proxies) > 0
}

// NextProxy returns the next healthy proxy. When every proxy is cooling down
// it returns the one that recovers first; ok is false only with an empty pool.
func (r *Rotator) NextProxy() (*url.URL, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.proxies)
	if n == 0 {
		return nil, false
	}
	now := r.clock.Now()

	if r.strategy == StrategyRandom {
		healthy := make([]*proxyEntry, 0, n)
		for _, p := range r.proxies {
			if !now.Before(p.badUntil) {
				healthy = append(healthy, p)
			}
		}
		if len(healthy) > 0 {
			return healthy[r.rng.Intn(len(healthy))].url, true
		}
	} else {
		for i := 0; i < n; i++ {
			p := r.proxies[(r.pIdx+i)%n]
			if !now.Before(p.badUntil) {
				r.pIdx = (r.pIdx + i + 1) % n
				return p.url, true
			}
		}
	}

	soonest := r.proxies[0]
	for _, p := range r.proxies[1:] {
		if p.badUntil.Before(soonest.badUntil) {
			soonest = p
		}
	}
	r.logger.Warn("All proxies cooling down, using the first to recover.",
		zap.String("proxy", soonest.url.Redacted()))
	return soonest.url, true
}

// NextUserAgent returns the next User-Agent, or "" when none are configured.
func (r *Rotator) NextUserAgent() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.agents) == 0 {
		return ""
	}
	if r.strategy == StrategyRandom {
		return r.agents[r.rng.Intn(len(r.agents))]
	}
	ua := r.agents[r.uaIdx%len(r.agents)]
	r.uaIdx = (r.uaIdx + 1) % len(r.agents)
	return ua
}

// MarkBad puts the proxy with the given URL on cooldown.
func (r *Rotator) MarkBad(proxy *url.URL) {
	if proxy == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.proxies {
		if p.url.String() == proxy.String() {
			p.failures++
			p.badUntil = r.clock.Now().Add(r.cooldown)
			r.logger.Warn("Proxy marked bad.",
				zap.String("proxy", p.url.Redacted()),
				zap.Int("failures", p.failures),
				zap.Duration("cooldown", r.cooldown))
			return
		}
	}
}

// Healthy returns the number of proxies not cooling down.
func (r *Rotator) Healthy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	n := 0
	for _, p := range r.proxies {
		if !now.Before(p.badUntil) {
			n++
		}
	}
	return n
}
