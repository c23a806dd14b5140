// internal/browser/cdp_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

// newTestBridge launches a real browser. It needs a local Chrome, so it only
// runs when GHOSTWIRE_BROWSER_TESTS is set.
func newTestBridge(t *testing.T) *CDPBridge {
	t.Helper()
	if os.Getenv("GHOSTWIRE_BROWSER_TESTS") == "" {
		t.Skip("set GHOSTWIRE_BROWSER_TESTS=1 to run browser integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := NewCDPBridge(ctx, config.BrowserConfig{
		Headless:          true,
		NavigationTimeout: 15 * time.Second,
		ElementTimeout:    2 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, b.Close()) })
	return b
}

func TestCDPBridgeIntegration(t *testing.T) {
	b := newTestBridge(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		fmt.Fprint(w, `<html><body><h1 id="title">Hello</h1></body></html>`)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	id, err := b.AddInitScript(ctx, "window.__marker = 41;")
	require.NoError(t, err)
	require.NoError(t, b.Navigate(ctx, server.URL))

	t.Run("Execute", func(t *testing.T) {
		res, err := b.Execute(ctx, "return window.__marker + arguments[0];", 1)
		require.NoError(t, err)
		assert.JSONEq(t, "42", string(res))

		res, err = b.Execute(ctx, "document.title;")
		require.NoError(t, err)
		assert.Equal(t, "null", string(res))
	})

	t.Run("WaitFor", func(t *testing.T) {
		require.NoError(t, b.WaitFor(ctx, "#title", Visible, 0))
		err := b.WaitFor(ctx, "#missing", Present, 200*time.Millisecond)
		assert.ErrorIs(t, err, apperr.ErrTimeout)
	})

	t.Run("Content", func(t *testing.T) {
		html, err := b.Content(ctx)
		require.NoError(t, err)
		assert.Contains(t, html, "Hello")
	})

	t.Run("Cookies", func(t *testing.T) {
		cookies, err := b.Cookies(ctx)
		require.NoError(t, err)
		require.Len(t, cookies, 1)
		assert.Equal(t, "sid", cookies[0].Name)

		require.NoError(t, b.DeleteCookie(ctx, "sid", "127.0.0.1"))
		cookies, err = b.Cookies(ctx)
		require.NoError(t, err)
		assert.Empty(t, cookies)
	})

	t.Run("RemoveInitScript", func(t *testing.T) {
		require.NoError(t, b.RemoveInitScript(ctx, id))
		require.NoError(t, b.Navigate(ctx, server.URL))
		res, err := b.Execute(ctx, "return typeof window.__marker;")
		require.NoError(t, err)
		assert.JSONEq(t, `"undefined"`, string(res))
	})
}
