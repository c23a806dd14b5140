// internal/browser/shim/shim_test.go
package shim

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"scripts/greet.js.tmpl": {Data: []byte(`{{define "greet"}}{{template "prelude" .}}
window.greeting = {{json .Words}};
return gw.saved.length;{{end}}`)},
		"scripts/empty.js.tmpl": {Data: []byte(`{{define "empty"}}   {{end}}`)},
	}
}

func TestLoadAndRender(t *testing.T) {
	lib, err := Load(testFS(), "scripts/*.tmpl")
	require.NoError(t, err)

	out, err := lib.Render("greet", struct {
		Owner string
		Words []string
	}{Owner: "test", Words: []string{"hello", `"quoted"`}})
	require.NoError(t, err)

	assert.Contains(t, out, `Symbol.for("ghostwire.originals")`)
	assert.Contains(t, out, `const owner = "test";`)
	assert.Contains(t, out, `window.greeting = ["hello","\"quoted\""];`, "parameters are rendered as JSON literals")
	assert.NotContains(t, out, "{{")
}

func TestRenderErrors(t *testing.T) {
	lib, err := Load(testFS(), "scripts/*.tmpl")
	require.NoError(t, err)

	_, err = lib.Render("missing", nil)
	assert.ErrorContains(t, err, "not defined")

	_, err = lib.Render("empty", nil)
	assert.ErrorContains(t, err, "rendered empty")

	_, err = lib.Render("greet", struct{ Owner string }{"x"})
	assert.Error(t, err, "a missing parameter field fails rendering")
}

func TestRestore(t *testing.T) {
	lib, err := Load(nil, "")
	require.NoError(t, err)
	assert.True(t, lib.Has("prelude"))

	out, err := lib.Restore("stealth")
	require.NoError(t, err)
	assert.Contains(t, out, `const owner = "stealth";`)
	assert.Contains(t, out, "return true;")
}

func TestLoadBadPattern(t *testing.T) {
	_, err := Load(testFS(), "nothing/*.tmpl")
	assert.Error(t, err)
}

func TestAsInitScript(t *testing.T) {
	assert.Equal(t, "(() => {\nreturn 1;\n})();", AsInitScript("return 1;"))
}
