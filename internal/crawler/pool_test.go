// internal/crawler/pool_test.go
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/browser/fingerprint"
)

// poolFactory builds crawlers over the harness and remembers their bridges.
type poolFactory struct {
	h       *harness
	t       *testing.T
	failOn  int
	mu      sync.Mutex
	bridges map[int]*fakeBridge
}

func newPoolFactory(t *testing.T, h *harness) *poolFactory {
	return &poolFactory{h: h, t: t, failOn: -1, bridges: map[int]*fakeBridge{}}
}

func (f *poolFactory) build(ctx context.Context, slot int) (*Crawler, error) {
	if slot == f.failOn {
		return nil, errors.New("browser failed to launch")
	}
	bridge := newFakeBridge(f.h.surface)
	engine, err := fingerprint.New(f.h.cfg.Fingerprint, fingerprint.WithClock(f.h.clock))
	if err != nil {
		return nil, err
	}
	deps := Deps{
		Bridge:      bridge,
		Governor:    f.h.gov,
		Fingerprint: engine,
		Store:       f.h.store,
		Cache:       f.h.cache,
		Clock:       f.h.clock,
	}
	c, err := New(f.h.cfg, deps, zaptest.NewLogger(f.t))
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.bridges[slot] = bridge
	f.mu.Unlock()
	return c, nil
}

func (f *poolFactory) all() []*fakeBridge {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeBridge, 0, len(f.bridges))
	for _, b := range f.bridges {
		out = append(out, b)
	}
	return out
}

func TestNewPoolValidatesSize(t *testing.T) {
	_, err := NewPool(0, nil, nil)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestPoolRun(t *testing.T) {
	h := newHarness(t, testConfig(t))
	factory := newPoolFactory(t, h)
	pool, err := NewPool(3, factory.build, zaptest.NewLogger(t))
	require.NoError(t, err)

	var urls []string
	for i := range 7 {
		urls = append(urls, fmt.Sprintf("https://example.com/%d", i))
	}
	results, err := pool.Run(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, results, len(urls))

	for i, r := range results {
		assert.Equal(t, urls[i], r.URL, "results keep input order")
		require.NoError(t, r.Err)
		assert.Contains(t, r.Page.Content, urls[i])
	}

	bridges := factory.all()
	assert.Len(t, bridges, 3)
	total := 0
	for _, b := range bridges {
		total += len(b.navigations())
		assert.Equal(t, 1, b.closeCount(), "every session is cleaned up")
	}
	assert.Equal(t, len(urls), total)
	assert.Equal(t, len(urls), h.cache.Len())
}

func TestPoolRunShrinksToWork(t *testing.T) {
	h := newHarness(t, testConfig(t))
	factory := newPoolFactory(t, h)
	pool, err := NewPool(4, factory.build, nil)
	require.NoError(t, err)

	_, err = pool.Run(context.Background(), []string{"https://example.com/a", "https://example.com/b"})
	require.NoError(t, err)
	assert.Len(t, factory.all(), 2)
}

func TestPoolRunSetupFailure(t *testing.T) {
	h := newHarness(t, testConfig(t))
	factory := newPoolFactory(t, h)
	factory.failOn = 1
	pool, err := NewPool(2, factory.build, nil)
	require.NoError(t, err)

	results, err := pool.Run(context.Background(), []string{"https://example.com/a", "https://example.com/b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session 1")
	assert.Nil(t, results)
	for _, b := range factory.all() {
		assert.Equal(t, 1, b.closeCount())
		assert.Empty(t, b.navigations())
	}
}

func TestPoolRunReportsPerURLFailures(t *testing.T) {
	h := newHarness(t, testConfig(t))
	factory := newPoolFactory(t, h)
	wrapped := func(ctx context.Context, slot int) (*Crawler, error) {
		c, err := factory.build(ctx, slot)
		if err == nil {
			factory.mu.Lock()
			factory.bridges[slot].failHosts["broken.example.net"] = errors.New("net::ERR_NAME_NOT_RESOLVED")
			factory.mu.Unlock()
		}
		return c, err
	}
	pool, err := NewPool(2, wrapped, nil)
	require.NoError(t, err)

	urls := []string{"https://example.com/a", "https://broken.example.net/", "https://example.com/b"}
	results, err := pool.Run(context.Background(), urls)
	require.NoError(t, err)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
}
