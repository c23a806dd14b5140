// internal/browser/shim/shim.go
package shim

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

// StashKey is the Symbol.for key under which injected scripts keep the
// original property descriptors they replace.
const StashKey = "ghostwire.originals"

//go:embed core/*.tmpl
var coreFS embed.FS

// Library is a parsed set of named script templates. Every set shares the
// core "prelude" and "restore" templates.
type Library struct {
	tmpl *template.Template
}

var funcs = template.FuncMap{
	// json renders v as a JavaScript literal.
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
	"stash": func() string { return StashKey },
}

// Load parses the core templates followed by every file in fsys matching
// pattern.
func Load(fsys fs.FS, pattern string) (*Library, error) {
	t, err := template.New("shim").Funcs(funcs).Option("missingkey=error").ParseFS(coreFS, "core/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("shim: parse core templates: %w", err)
	}
	if fsys != nil {
		if t, err = t.ParseFS(fsys, pattern); err != nil {
			return nil, fmt.Errorf("shim: parse %s: %w", pattern, err)
		}
	}
	return &Library{tmpl: t}, nil
}

// Has reports whether a template named name is defined.
func (l *Library) Has(name string) bool {
	return l.tmpl.Lookup(name) != nil
}

// Render executes the named template. An undefined name or a template that
// renders to nothing is an error.
func (l *Library) Render(name string, data any) (string, error) {
	if !l.Has(name) {
		return "", fmt.Errorf("shim: template %q is not defined", name)
	}
	var buf bytes.Buffer
	if err := l.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("shim: render %q: %w", name, err)
	}
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return "", fmt.Errorf("shim: template %q rendered empty", name)
	}
	return out, nil
}

// Restore renders the script that reverts every override made under owner in
// the current document.
func (l *Library) Restore(owner string) (string, error) {
	return l.Render("restore", struct{ Owner string }{owner})
}

// AsInitScript wraps a rendered function body so it can run as a standalone
// document script.
func AsInitScript(body string) string {
	return "(() => {\n" + body + "\n})();"
}
