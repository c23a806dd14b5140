// internal/governor/rotation_test.go
package governor

import (
	"math/rand"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

func newRotator(t *testing.T, cfg config.RotationConfig, clk clock.Clock) *Rotator {
	t.Helper()
	r, err := NewRotator(cfg, clk, rand.New(rand.NewSource(1)), nil)
	require.NoError(t, err)
	return r
}

func TestRotatorRoundRobin(t *testing.T) {
	r := newRotator(t, config.RotationConfig{
		Proxies:    []string{"http://p1:8080", "http://p2:8080", "http://p3:8080"},
		UserAgents: []string{"ua-1", "ua-2"},
	}, clock.NewFake(epoch))

	var hosts []string
	for i := 0; i < 4; i++ {
		u, ok := r.NextProxy()
		require.True(t, ok)
		hosts = append(hosts, u.Host)
	}
	assert.Equal(t, []string{"p1:8080", "p2:8080", "p3:8080", "p1:8080"}, hosts)
	assert.Equal(t, []string{"ua-1", "ua-2", "ua-1"}, []string{r.NextUserAgent(), r.NextUserAgent(), r.NextUserAgent()})
}

func TestRotatorSkipsBadProxies(t *testing.T) {
	clk := clock.NewFake(epoch)
	r := newRotator(t, config.RotationConfig{
		Proxies:       []string{"http://p1:8080", "http://p2:8080"},
		ProxyCooldown: time.Minute,
	}, clk)

	p1, _ := url.Parse("http://p1:8080")
	r.MarkBad(p1)
	assert.Equal(t, 1, r.Healthy())

	for i := 0; i < 3; i++ {
		u, ok := r.NextProxy()
		require.True(t, ok)
		assert.Equal(t, "p2:8080", u.Host)
	}

	clk.Advance(time.Minute)
	assert.Equal(t, 2, r.Healthy())
}

func TestRotatorAllBadFallsBackToSoonest(t *testing.T) {
	clk := clock.NewFake(epoch)
	r := newRotator(t, config.RotationConfig{
		Proxies:       []string{"http://p1:8080", "http://p2:8080"},
		ProxyCooldown: time.Minute,
	}, clk)

	p1, _ := url.Parse("http://p1:8080")
	p2, _ := url.Parse("http://p2:8080")
	r.MarkBad(p2)
	clk.Advance(time.Second)
	r.MarkBad(p1)

	u, ok := r.NextProxy()
	require.True(t, ok)
	assert.Equal(t, "p2:8080", u.Host)
}

func TestRotatorRandomStaysInPool(t *testing.T) {
	r := newRotator(t, config.RotationConfig{
		Proxies:    []string{"http://p1:8080", "http://p2:8080"},
		UserAgents: []string{"ua-1", "ua-2"},
		Strategy:   StrategyRandom,
	}, clock.NewFake(epoch))

	for i := 0; i < 20; i++ {
		u, ok := r.NextProxy()
		require.True(t, ok)
		assert.Contains(t, []string{"p1:8080", "p2:8080"}, u.Host)
		assert.Contains(t, []string{"ua-1", "ua-2"}, r.NextUserAgent())
	}
}

func TestRotatorEmptyPools(t *testing.T) {
	r := newRotator(t, config.RotationConfig{}, clock.NewFake(epoch))

	_, ok := r.NextProxy()
	assert.False(t, ok)
	assert.False(t, r.HasProxies())
	assert.Empty(t, r.NextUserAgent())
	assert.NotPanics(t, func() { r.MarkBad(nil) })
}

func TestRotatorRejectsInvalidProxy(t *testing.T) {
	_, err := NewRotator(config.RotationConfig{Proxies: []string{"::nope"}}, nil, nil, nil)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}
