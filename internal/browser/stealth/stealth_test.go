// internal/browser/stealth/stealth_test.go
package stealth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/browser/shim"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

// fakeBridge records every call. Scripts containing a key of results return
// that value; everything else returns true.
type fakeBridge struct {
	mu         sync.Mutex
	executed   []string
	added      map[string]string
	removed    []string
	nextID     int
	results    map[string]string
	failOn     string
	failAdd    bool
	failRemove bool
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{added: map[string]string{}, results: map[string]string{}}
}

func (f *fakeBridge) Execute(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.executed = append(f.executed, script)
	if f.failOn != "" && strings.Contains(script, f.failOn) {
		return nil, errors.New("evaluation failed")
	}
	for substr, result := range f.results {
		if strings.Contains(script, substr) {
			return json.RawMessage(result), nil
		}
	}
	return json.RawMessage("true"), nil
}

func (f *fakeBridge) AddInitScript(ctx context.Context, source string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd {
		return "", errors.New("page closed")
	}
	f.nextID++
	id := fmt.Sprintf("script-%d", f.nextID)
	f.added[id] = source
	return id, nil
}

func (f *fakeBridge) RemoveInitScript(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failRemove {
		return errors.New("no such script")
	}
	f.removed = append(f.removed, id)
	delete(f.added, id)
	return nil
}

func allOn() config.StealthConfig {
	return config.NewDefaultConfig().Stealth
}

func TestRenderEveryCategory(t *testing.T) {
	p := DefaultParams()
	for _, c := range AllCategories {
		t.Run(string(c), func(t *testing.T) {
			mask, err := RenderMask(c, p)
			require.NoError(t, err)
			assert.Contains(t, mask, shim.StashKey, "mask scripts share the stash prelude")
			assert.Contains(t, mask, `const owner = "stealth";`)
			assert.Contains(t, mask, "return", "mask scripts are function bodies")

			probe, err := RenderProbe(c, p)
			require.NoError(t, err)
			assert.NotContains(t, probe, "gw.override", "probes must not mutate the page")
		})
	}
}

func TestRenderUsesParams(t *testing.T) {
	p := DefaultParams()
	p.Globals = []string{"__custom_marker"}
	p.ChromeHeight = 123

	globals, err := RenderMask(CategoryAutomationGlobals, p)
	require.NoError(t, err)
	assert.Contains(t, globals, `"__custom_marker"`)

	devtools, err := RenderMask(CategoryDevtools, p)
	require.NoError(t, err)
	assert.Contains(t, devtools, "123")

	plugins, err := RenderMask(CategoryPlugins, DefaultParams())
	require.NoError(t, err)
	assert.Contains(t, plugins, "internal-pdf-viewer")
}

func TestEnabled(t *testing.T) {
	assert.Equal(t, AllCategories, Enabled(allOn()))

	cfg := config.StealthConfig{Webdriver: true, Permissions: true}
	assert.Equal(t, []Category{CategoryWebdriver, CategoryPermissions}, Enabled(cfg))
	assert.Empty(t, Enabled(config.StealthConfig{}))
}

func TestMaskRegistersAndApplies(t *testing.T) {
	bridge := newFakeBridge()
	c, err := New(allOn(), bridge, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, c.State())

	require.NoError(t, c.Mask(context.Background()))
	assert.Equal(t, StateMasked, c.State())

	assert.Len(t, bridge.added, len(AllCategories), "one init script per category")
	for _, src := range bridge.added {
		assert.True(t, strings.HasPrefix(src, "(() => {"), "init scripts run as standalone documents")
	}
	assert.Len(t, bridge.executed, len(AllCategories), "each category is applied to the current document")

	err = c.Mask(context.Background())
	require.Error(t, err, "masking twice is a state error")
	assert.ErrorIs(t, err, apperr.ErrStealth)
}

func TestMaskFailureRollsBack(t *testing.T) {
	bridge := newFakeBridge()
	bridge.failOn = "Notification.permission"
	c, err := New(allOn(), bridge, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = c.Mask(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStealth)

	var se *apperr.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "category", se.Scope)
	assert.Equal(t, string(CategoryPermissions), se.Key)

	assert.Empty(t, bridge.added, "registered scripts are removed after a failure")
	assert.Equal(t, StateUninitialized, c.State())
}

func TestValidate(t *testing.T) {
	t.Run("all masked", func(t *testing.T) {
		bridge := newFakeBridge()
		c, err := New(allOn(), bridge, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NoError(t, c.Mask(context.Background()))

		results, err := c.Validate(context.Background())
		require.NoError(t, err)
		assert.Len(t, results, len(AllCategories))
		for cat, ok := range results {
			assert.True(t, ok, "category %s", cat)
		}
		assert.Equal(t, StateVerified, c.State())
	})

	t.Run("partial stealth is reported, not raised", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		bridge := newFakeBridge()
		bridge.results["navigator.webdriver !== true"] = "false"
		c, err := New(allOn(), bridge, zap.New(core))
		require.NoError(t, err)
		require.NoError(t, c.Mask(context.Background()))

		results, err := c.Validate(context.Background())
		require.NoError(t, err)
		assert.False(t, results[CategoryWebdriver])
		assert.True(t, results[CategoryConsole])

		entries := logs.FilterMessage("Partial stealth.").All()
		require.Len(t, entries, 1)
		assert.Equal(t, []any{"webdriver"}, entries[0].ContextMap()["unmasked"])
	})

	t.Run("undecodable probe counts as unmasked", func(t *testing.T) {
		bridge := newFakeBridge()
		bridge.results["navigator.webdriver !== true"] = `"yes"`
		c, err := New(config.StealthConfig{Webdriver: true}, bridge, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NoError(t, c.Mask(context.Background()))

		results, err := c.Validate(context.Background())
		require.NoError(t, err)
		assert.False(t, results[CategoryWebdriver])
	})

	t.Run("before mask", func(t *testing.T) {
		c, err := New(allOn(), newFakeBridge(), zaptest.NewLogger(t))
		require.NoError(t, err)
		_, err = c.Validate(context.Background())
		assert.ErrorIs(t, err, apperr.ErrStealth)
	})
}

func TestRestore(t *testing.T) {
	bridge := newFakeBridge()
	c, err := New(allOn(), bridge, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, c.Mask(context.Background()))
	_, err = c.Validate(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Restore(context.Background()))
	assert.Equal(t, StateRestored, c.State())
	assert.Empty(t, bridge.added)
	assert.Len(t, bridge.removed, len(AllCategories))

	last := bridge.executed[len(bridge.executed)-1]
	assert.Contains(t, last, `const owner = "stealth";`)
	assert.Contains(t, last, "state.saved.splice", "the restore script reverts saved descriptors")

	calls := len(bridge.executed)
	require.NoError(t, c.Restore(context.Background()), "restore is idempotent")
	assert.Len(t, bridge.executed, calls, "a second restore does nothing")
}

func TestRestoreBeforeMask(t *testing.T) {
	bridge := newFakeBridge()
	c, err := New(allOn(), bridge, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, c.Restore(context.Background()))
	assert.Equal(t, StateRestored, c.State())
	assert.Empty(t, bridge.executed)
}

func TestRestoreReportsRemovalFailure(t *testing.T) {
	bridge := newFakeBridge()
	c, err := New(allOn(), bridge, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, c.Mask(context.Background()))

	bridge.failRemove = true
	err = c.Restore(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStealth)
	assert.Equal(t, StateRestored, c.State(), "in-page overrides are still reverted")
}

func TestCloseIgnoresCancelledSession(t *testing.T) {
	bridge := newFakeBridge()
	c, err := New(allOn(), bridge, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Mask(ctx))
	cancel()

	require.NoError(t, c.Close())
	assert.Equal(t, StateRestored, c.State())
	assert.Len(t, bridge.removed, len(AllCategories))
}
