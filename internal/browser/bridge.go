// internal/browser/bridge.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/ghostwire/internal/browser/humanoid"
)

// Condition selects what WaitFor waits for.
type Condition string

const (
	Present Condition = "present"
	Visible Condition = "visible"
	Absent  Condition = "absent"
)

// Cookie is a browser cookie, independent of the protocol representation.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"httpOnly"`
	Secure   bool      `json:"secure"`
	SameSite string    `json:"sameSite,omitempty"`
}

// Bridge is the page-level capability the evasion components and the
// crawler drive. It extends the humanoid Executor so one bridge serves
// every layer.
type Bridge interface {
	humanoid.Executor

	// AddInitScript registers src to run before any page script on every new
	// document and returns an identifier for RemoveInitScript.
	AddInitScript(ctx context.Context, src string) (string, error)
	RemoveInitScript(ctx context.Context, id string) error

	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, selector string, cond Condition, timeout time.Duration) error
	// WaitIdle blocks until the document has loaded and in-flight requests
	// have settled, or timeout elapses.
	WaitIdle(ctx context.Context, timeout time.Duration) error
	Content(ctx context.Context) (string, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookie(ctx context.Context, c Cookie) error
	DeleteCookie(ctx context.Context, name, domain string) error

	Close() error
}

// Invocation wraps a script body as an immediately applied function with
// args bound to its arguments object. The result is always a promise that
// resolves to a JSON value; undefined becomes null.
func Invocation(body string, args ...any) (string, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("could not encode script arguments: %w", err)
	}
	var b strings.Builder
	b.WriteString("Promise.resolve((function(){\n")
	b.WriteString(body)
	b.WriteString("\n}).apply(null, ")
	b.Write(encoded)
	b.WriteString(")).then((v) => v === undefined ? null : v)")
	return b.String(), nil
}
