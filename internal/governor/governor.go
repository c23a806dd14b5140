// internal/governor/governor.go
package governor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

// Config groups the sections of the application config the governor reads.
type Config struct {
	RateLimit      config.RateLimitConfig
	CircuitBreaker config.CircuitBreakerConfig
	Retry          config.RetryConfig
	Rotation       config.RotationConfig
	// Pacing is the range GetDelay samples from, in seconds.
	Pacing config.RangeConfig
}

// ConfigFrom extracts the governor's sections from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		RateLimit:      cfg.RateLimit,
		CircuitBreaker: cfg.CircuitBreaker,
		Retry:          cfg.Retry,
		Rotation:       cfg.Rotation,
		Pacing:         cfg.Delay.BetweenActions,
	}
}

// Option customises a Governor.
type Option func(*Governor)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(g *Governor) { g.clock = c } }

// WithSeed makes pacing and random rotation deterministic.
func WithSeed(seed int64) Option {
	return func(g *Governor) { g.rng = rand.New(rand.NewSource(seed)) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Governor) { g.logger = l } }

// Governor gates every outbound action: it checks the circuit breaker for the
// target domain, admits the action through all rate-limit scopes, and wraps
// operations in the retry policy. It is safe for concurrent use by several
// sessions.
type Governor struct {
	limiter *SlidingWindowLimiter
	breaker *CircuitBreaker
	rotator *Rotator
	retry   config.RetryConfig
	pacing  config.RangeConfig
	maxWait time.Duration

	clock  clock.Clock
	logger *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	// denials samples rate-limit warnings so a saturated pool does not flood the log.
	denials rate.Sometimes
}

// New validates cfg and assembles the governor.
func New(cfg Config, opts ...Option) (*Governor, error) {
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if cfg.Pacing.Min < 0 || cfg.Pacing.Min > cfg.Pacing.Max {
		return nil, apperr.Newf(apperr.KindConfiguration, "governor.new",
			"pacing range [%.3f, %.3f] is invalid", cfg.Pacing.Min, cfg.Pacing.Max)
	}

	g := &Governor{
		retry:   cfg.Retry,
		pacing:  cfg.Pacing,
		maxWait: cfg.RateLimit.MaxWait,
		clock:   clock.Real{},
		logger:  zap.NewNop(),
		denials: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	g.logger = g.logger.Named("governor")

	var err error
	if g.limiter, err = NewSlidingWindowLimiter(cfg.RateLimit, g.clock); err != nil {
		return nil, err
	}
	if g.breaker, err = NewCircuitBreaker(cfg.CircuitBreaker, g.clock, g.logger); err != nil {
		return nil, err
	}
	rotRng := rand.New(rand.NewSource(g.rng.Int63()))
	if g.rotator, err = NewRotator(cfg.Rotation, g.clock, rotRng, g.logger); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Governor) Limiter() *SlidingWindowLimiter { return g.limiter }
func (g *Governor) Breaker() *CircuitBreaker       { return g.breaker }
func (g *Governor) Rotator() *Rotator              { return g.rotator }

// TryAdmit admits keys through the breaker and every scope without waiting.
func (g *Governor) TryAdmit(keys Keys) error {
	return g.admit(context.Background(), keys, 0)
}

// Admit admits keys, blocking while a scope is full as long as the total wait
// stays within rate_limit.max_wait. It fails with a CircuitOpen error when the
// domain's breaker rejects, or a RateLimitExceeded error carrying the first
// failing scope and its retry-after estimate.
func (g *Governor) Admit(ctx context.Context, keys Keys) error {
	return g.admit(ctx, keys, g.maxWait)
}

func (g *Governor) admit(ctx context.Context, keys Keys, budget time.Duration) error {
	if keys.Domain != "" {
		if remaining := g.breaker.RemainingOpen(keys.Domain); remaining > 0 {
			return g.circuitOpen(keys.Domain, remaining)
		}
	}

	pairs := keys.pairs()
	var (
		waited time.Duration
		at     time.Time
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var denial *apperr.Error
		if at, denial = g.limiter.admitAll(pairs); denial == nil {
			break
		}
		g.denials.Do(func() {
			g.logger.Warn("Admission denied.",
				zap.String("scope", denial.Scope),
				zap.String("key", denial.Key),
				zap.Duration("retry_after", denial.RetryAfter))
		})
		if waited+denial.RetryAfter > budget {
			return denial
		}
		if err := g.clock.Sleep(ctx, denial.RetryAfter); err != nil {
			return err
		}
		waited += denial.RetryAfter
	}

	// Refused by a half-open breaker with its trial out: give the slots back.
	if keys.Domain != "" && !g.breaker.Allow(keys.Domain) {
		g.limiter.release(pairs, at)
		return g.circuitOpen(keys.Domain, g.breaker.RemainingOpen(keys.Domain))
	}
	return nil
}

func (g *Governor) circuitOpen(domain string, remaining time.Duration) error {
	e := apperr.Newf(apperr.KindCircuitOpen, "governor.admit", "target is failing, requests suspended").
		WithScope(string(ScopeDomain), domain)
	e.RetryAfter = remaining
	return e
}

// RecordSuccess reports a successful request to domain.
func (g *Governor) RecordSuccess(domain string) {
	if domain != "" {
		g.breaker.RecordSuccess(domain)
	}
}

// RecordFailure reports a failed request to domain.
func (g *Governor) RecordFailure(domain string) {
	if domain != "" {
		g.breaker.RecordFailure(domain)
	}
}

// GetDelay samples the pacing range uniformly.
func (g *Governor) GetDelay() time.Duration {
	g.rngMu.Lock()
	f := g.rng.Float64()
	g.rngMu.Unlock()
	secs := g.pacing.Min + f*(g.pacing.Max-g.pacing.Min)
	return time.Duration(secs * float64(time.Second))
}

// Pace sleeps for one GetDelay sample.
func (g *Governor) Pace(ctx context.Context) error {
	return g.clock.Sleep(ctx, g.GetDelay())
}

// Backoff returns the sleep before retry number attempt+1: delay*backoff^attempt,
// capped at retry.max_delay when that is set.
func (g *Governor) Backoff(attempt int) time.Duration {
	d := float64(g.retry.Delay) * math.Pow(g.retry.Backoff, float64(attempt))
	if g.retry.MaxDelay > 0 && d > float64(g.retry.MaxDelay) {
		return g.retry.MaxDelay
	}
	return time.Duration(d)
}

// Do runs op behind the governor gate. Each attempt is admitted afresh and its
// outcome recorded against the domain's breaker, unless ctx ended first. Retryable failures are
// retried up to retry.max_retries times with exponential backoff, but never
// once the breaker has opened.
func (g *Governor) Do(ctx context.Context, keys Keys, op func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := g.Admit(ctx, keys); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			g.RecordSuccess(keys.Domain)
			return nil
		}
		// A caller that gave up says nothing about the target's health.
		if ctx.Err() != nil {
			return err
		}
		g.RecordFailure(keys.Domain)

		if !apperr.IsRetryable(err) {
			return err
		}
		if attempt >= g.retry.MaxRetries {
			g.logger.Warn("Retries exhausted.",
				zap.String("domain", keys.Domain),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return err
		}
		if keys.Domain != "" && g.breaker.State(keys.Domain).State == StateOpen {
			g.logger.Warn("Circuit opened, abandoning retries.", zap.String("domain", keys.Domain), zap.Error(err))
			return err
		}

		wait := g.Backoff(attempt)
		g.logger.Debug("Retrying after failure.",
			zap.String("domain", keys.Domain),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if err := g.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}
