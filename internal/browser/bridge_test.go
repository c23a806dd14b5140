// internal/browser/bridge_test.go
package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/ghostwire/internal/config"
)

func TestInvocation(t *testing.T) {
	t.Run("BindsArguments", func(t *testing.T) {
		script, err := Invocation("return arguments[0] + arguments[1];", 2, "x")
		require.NoError(t, err)

		assert.Contains(t, script, "return arguments[0] + arguments[1];")
		assert.Contains(t, script, `.apply(null, [2,"x"])`)
		assert.Contains(t, script, "v === undefined ? null : v")
	})

	t.Run("NoArguments", func(t *testing.T) {
		script, err := Invocation("return 1;")
		require.NoError(t, err)
		assert.Contains(t, script, ".apply(null, [])")
	})

	t.Run("UnencodableArgument", func(t *testing.T) {
		_, err := Invocation("return 1;", make(chan int))
		assert.Error(t, err)
	})
}

func TestAcceptLanguage(t *testing.T) {
	tests := []struct {
		name      string
		languages []string
		want      string
	}{
		{"empty", nil, ""},
		{"single", []string{"de-DE"}, "de-DE"},
		{"weighted", []string{"en-US", "en", "fr"}, "en-US,en;q=0.9,fr;q=0.8"},
		{
			"floor",
			[]string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"},
			"a,b;q=0.9,c;q=0.8,d;q=0.7,e;q=0.6,f;q=0.5,g;q=0.4,h;q=0.3,i;q=0.2,j;q=0.1,k;q=0.1,l;q=0.1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Emulation{Languages: tt.languages}.AcceptLanguage())
		})
	}
}

func TestAllocatorOptions(t *testing.T) {
	base := allocatorOptions(config.BrowserConfig{Headless: true}, launchOptions{})
	assert.Greater(t, len(base), len(chromedp.DefaultExecAllocatorOptions))

	t.Run("ExtraArgs", func(t *testing.T) {
		opts := allocatorOptions(config.BrowserConfig{
			Headless: true,
			Args:     []string{"--mute-audio", "lang=en-US", "--"},
		}, launchOptions{})
		assert.Len(t, opts, len(base)+2, "empty flags are skipped")
	})

	t.Run("LaunchOptions", func(t *testing.T) {
		opts := allocatorOptions(config.BrowserConfig{Headless: true, ExecPath: "/usr/bin/chromium", IgnoreTLSErrors: true},
			launchOptions{proxy: "http://127.0.0.1:8888", userAgent: "agent", width: 1280, height: 720})
		assert.Len(t, opts, len(base)+5)
	})
}
