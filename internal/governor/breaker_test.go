// internal/governor/breaker_test.go
package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

func newBreaker(t *testing.T, threshold int, reset time.Duration, clk clock.Clock) *CircuitBreaker {
	t.Helper()
	b, err := NewCircuitBreaker(config.CircuitBreakerConfig{Threshold: threshold, ResetTimeout: reset}, clk, zaptest.NewLogger(t))
	require.NoError(t, err)
	return b
}

func TestCircuitBreakerScenario(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := newBreaker(t, 3, 5*time.Second, clk)
	at := func(sec int) { clk.Set(epoch.Add(time.Duration(sec) * time.Second)) }

	at(0)
	for i := 0; i < 3; i++ {
		require.True(t, b.Allow("example.com"))
		b.RecordFailure("example.com")
	}
	assert.Equal(t, StateOpen, b.State("example.com").State)

	at(4)
	assert.False(t, b.Allow("example.com"))

	at(6)
	assert.True(t, b.Allow("example.com"))
	assert.Equal(t, StateHalfOpen, b.State("example.com").State)
	b.RecordSuccess("example.com")

	at(7)
	assert.True(t, b.Allow("example.com"))
	st := b.State("example.com")
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 0, st.ConsecutiveFailures)
}

func TestCircuitBreakerHalfOpenSingleTrial(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := newBreaker(t, 1, time.Second, clk)

	b.RecordFailure("k")
	clk.Advance(time.Second)

	assert.True(t, b.Allow("k"), "first caller after the timeout gets the trial")
	assert.False(t, b.Allow("k"), "only one trial while half-open")

	b.RecordFailure("k")
	st := b.State("k")
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, epoch.Add(time.Second), st.LastFailure)
	assert.False(t, b.Allow("k"))
	assert.Equal(t, time.Second, b.RemainingOpen("k"))
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	b := newBreaker(t, 3, time.Minute, clock.NewFake(epoch))

	b.RecordFailure("k")
	b.RecordFailure("k")
	b.RecordSuccess("k")
	b.RecordFailure("k")
	b.RecordFailure("k")

	assert.True(t, b.Allow("k"), "failures must be consecutive to open")
	assert.Equal(t, 2, b.State("k").ConsecutiveFailures)
}

func TestCircuitBreakerKeysAreIndependent(t *testing.T) {
	b := newBreaker(t, 1, time.Minute, clock.NewFake(epoch))
	b.RecordFailure("a.com")

	assert.False(t, b.Allow("a.com"))
	assert.True(t, b.Allow("b.com"))
	assert.Zero(t, b.RemainingOpen("b.com"))
}

func TestCircuitBreakerRejectsInvalidConfig(t *testing.T) {
	_, err := NewCircuitBreaker(config.CircuitBreakerConfig{Threshold: 0, ResetTimeout: time.Second}, nil, nil)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}
