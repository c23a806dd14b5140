// internal/governor/breaker.go
package governor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// BreakerState is a snapshot of one key's breaker.
type BreakerState struct {
	Key                 string
	ConsecutiveFailures int
	LastFailure         time.Time
	State               State
}

type breakerEntry struct {
	mu    sync.Mutex
	state BreakerState
	// trial is set while the single half-open request is outstanding.
	trial bool
}

// CircuitBreaker stops traffic to a key after Threshold consecutive failures
// and lets one trial request through once ResetTimeout has passed.
type CircuitBreaker struct {
	threshold    int
	resetTimeout time.Duration
	clock        clock.Clock
	logger       *zap.Logger

	mu      sync.Mutex
	entries map[string]*breakerEntry
}

// NewCircuitBreaker validates cfg and returns a breaker with every key closed.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig, clk clock.Clock, logger *zap.Logger) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		threshold:    cfg.Threshold,
		resetTimeout: cfg.ResetTimeout,
		clock:        clk,
		logger:       logger.Named("breaker"),
		entries:      make(map[string]*breakerEntry),
	}, nil
}

func (b *CircuitBreaker) entry(key string) *breakerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		e = &breakerEntry{state: BreakerState{Key: key, State: StateClosed}}
		b.entries[key] = e
	}
	return e
}

// Allow reports whether a request to key may proceed. An open breaker whose
// reset timeout has elapsed moves to half-open and admits exactly one caller;
// later callers are refused until that trial is recorded.
func (b *CircuitBreaker) Allow(key string) bool {
	e := b.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state.State {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(e.state.LastFailure) < b.resetTimeout {
			return false
		}
		e.state.State = StateHalfOpen
		e.trial = true
		b.logger.Info("Circuit half-open, admitting trial request.", zap.String("key", key))
		return true
	default:
		if e.trial {
			return false
		}
		e.trial = true
		return true
	}
}

// RecordFailure counts a failed request. Reaching the threshold, or failing
// the half-open trial, opens the breaker.
func (b *CircuitBreaker) RecordFailure(key string) {
	e := b.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.ConsecutiveFailures++
	e.state.LastFailure = b.clock.Now()
	e.trial = false

	switch e.state.State {
	case StateHalfOpen:
		e.state.State = StateOpen
		b.logger.Warn("Trial request failed, circuit re-opened.", zap.String("key", key))
	case StateClosed:
		if e.state.ConsecutiveFailures >= b.threshold {
			e.state.State = StateOpen
			b.logger.Warn("Circuit opened.",
				zap.String("key", key),
				zap.Int("consecutive_failures", e.state.ConsecutiveFailures),
				zap.Duration("reset_timeout", b.resetTimeout))
		}
	}
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *CircuitBreaker) RecordSuccess(key string) {
	e := b.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.State != StateClosed {
		b.logger.Info("Circuit closed.", zap.String("key", key))
	}
	e.state.State = StateClosed
	e.state.ConsecutiveFailures = 0
	e.trial = false
}

// State returns a snapshot of key's breaker. It does not trigger the
// open to half-open transition; only Allow does.
func (b *CircuitBreaker) State(key string) BreakerState {
	e := b.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RemainingOpen reports how long key stays open, or zero if it is not open.
func (b *CircuitBreaker) RemainingOpen(key string) time.Duration {
	e := b.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.State != StateOpen {
		return 0
	}
	d := e.state.LastFailure.Add(b.resetTimeout).Sub(b.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}
