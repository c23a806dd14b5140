// internal/browser/humanoid/mocks_test.go
package humanoid

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/ghostwire/internal/config"
)

// scriptCall is one recorded Execute invocation.
type scriptCall struct {
	script string
	args   []any
}

// mockExecutor records everything the simulator asks of the browser.
type mockExecutor struct {
	mu               sync.Mutex
	dispatchedEvents []MouseEvent
	sentKeys         []string
	sleepDurations   []time.Duration
	scripts          []scriptCall

	// scrollY is the simulated page offset, updated by scroll scripts.
	scrollY float64

	// failOn makes the named method return returnErr.
	failOn    string
	returnErr error

	MockSleep func(ctx context.Context, d time.Duration) error
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{}
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if m.MockSleep != nil {
		return m.MockSleep(ctx, d)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleepDurations = append(m.sleepDurations, d)
	return nil
}

func (m *mockExecutor) DispatchMouseEvent(ctx context.Context, ev MouseEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Record first so cleanup releases issued after a failure are visible.
	m.dispatchedEvents = append(m.dispatchedEvents, ev)
	if m.failOn == "mouse" && ev.Type != MouseRelease {
		return m.returnErr
	}
	return nil
}

func (m *mockExecutor) SendKeys(ctx context.Context, keys string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "keys" {
		return m.returnErr
	}
	m.sentKeys = append(m.sentKeys, keys)
	return nil
}

func (m *mockExecutor) Execute(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "script" {
		return nil, m.returnErr
	}
	m.scripts = append(m.scripts, scriptCall{script: script, args: args})

	switch script {
	case scrollByJS:
		m.scrollY += args[0].(float64)
	case scrollJumpJS, scrollSmoothJS:
		m.scrollY = args[0].(float64)
	}
	return json.Marshal(m.scrollY)
}

func (m *mockExecutor) events() []MouseEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MouseEvent(nil), m.dispatchedEvents...)
}

func (m *mockExecutor) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sentKeys...)
}

func (m *mockExecutor) sleeps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.sleepDurations...)
}

func (m *mockExecutor) scriptCalls(script string) []scriptCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scriptCall
	for _, c := range m.scripts {
		if c.script == script {
			out = append(out, c)
		}
	}
	return out
}

// testConfig is the default configuration with a fixed seed.
func testConfig(t *testing.T) Config {
	t.Helper()
	app := config.NewDefaultConfig()
	app.Behavior.Seed = 42
	cfg, err := ConfigFrom(app.Delay, app.Behavior)
	require.NoError(t, err)
	return cfg
}

// newTestHumanoid returns a seeded simulator with deterministic midpoint delays.
func newTestHumanoid(t *testing.T, mock *mockExecutor) *Humanoid {
	t.Helper()
	cfg := testConfig(t)
	cfg.RandomDelays = false
	return New(cfg, zaptest.NewLogger(t), mock)
}
