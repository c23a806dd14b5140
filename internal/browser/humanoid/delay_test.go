// internal/browser/humanoid/delay_test.go
package humanoid

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

func TestNewDelayRange(t *testing.T) {
	r, err := NewDelayRange(0.5, 1.5)
	require.NoError(t, err)
	assert.Equal(t, time.Second, r.Midpoint())
	assert.Equal(t, 1500*time.Millisecond, r.Upper())

	_, err = NewDelayRange(2, 1)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)

	_, err = NewDelayRange(-1, 1)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)

	zero, err := NewDelayRange(0, 0)
	require.NoError(t, err)
	assert.Zero(t, zero.Sample(rand.New(rand.NewSource(1))))
}

func TestDelayRangeSampleBounds(t *testing.T) {
	r := DelayRange{Min: 0.1, Max: 0.3}
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 500; i++ {
		d := r.Sample(rng)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestDelaysFromRejectsInvertedRange(t *testing.T) {
	cfg := config.NewDefaultConfig().Delay
	cfg.Scroll = config.RangeConfig{Min: 1, Max: 0.5}

	_, err := DelaysFrom(cfg)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestEventLogRing(t *testing.T) {
	log := NewEventLog(3)
	for i := 0; i < 5; i++ {
		log.Append(Event{Type: EventMove, Target: Vector2D{X: float64(i)}})
	}

	events := log.Events()
	require.Len(t, events, 3)
	assert.Equal(t, []float64{2, 3, 4}, []float64{events[0].Target.X, events[1].Target.X, events[2].Target.X})
	assert.Equal(t, 3, log.Len())

	assert.Equal(t, 100, len(NewEventLog(0).buf), "non-positive sizes fall back to the default")
}
