// internal/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure so the orchestrator can decide between retrying,
// recording a breaker failure, or aborting the session.
type Kind string

const (
	KindConfiguration Kind = "CONFIGURATION_ERROR"
	KindFingerprint   Kind = "FINGERPRINT_ERROR"
	KindStealth       Kind = "STEALTH_ERROR"
	KindRateLimit     Kind = "RATE_LIMIT_EXCEEDED"
	KindCircuitOpen   Kind = "CIRCUIT_OPEN"
	KindTimeout       Kind = "TIMEOUT_ERROR"
	KindSession       Kind = "SESSION_ERROR"
	KindToken         Kind = "TOKEN_ERROR"
	KindStorage       Kind = "STORAGE_ERROR"
)

// Sentinels for errors.Is matching by kind alone.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrFingerprint   = &Error{Kind: KindFingerprint}
	ErrStealth       = &Error{Kind: KindStealth}
	ErrRateLimit     = &Error{Kind: KindRateLimit}
	ErrCircuitOpen   = &Error{Kind: KindCircuitOpen}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrSession       = &Error{Kind: KindSession}
	ErrToken         = &Error{Kind: KindToken}
	ErrStorage       = &Error{Kind: KindStorage}
)

// Error is the structured failure type reported to operators. It always carries
// its Kind, and where one applies the scope/key that triggered it.
type Error struct {
	Kind  Kind
	Op    string
	Scope string
	Key   string
	// RetryAfter is the estimated wait before the operation can succeed, if known.
	RetryAfter time.Duration
	Err        error
}

// New wraps err with a kind and the operation that produced it.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted message as the underlying cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithScope returns a copy of e annotated with the scope and key.
func (e *Error) WithScope(scope, key string) *Error {
	c := *e
	c.Scope = scope
	c.Key = key
	return &c
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Scope != "" || e.Key != "" {
		fmt.Fprintf(&b, " [%s=%s]", e.Scope, e.Key)
	}
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry after %s)", e.RetryAfter.Round(time.Millisecond))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality against a sentinel (an *Error with no cause).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Err != nil || t.Op != "" {
		return e == t
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFatal reports whether err must abort the session. Persistence failures and
// configuration errors cannot be recovered by retrying.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindStorage, KindConfiguration:
		return true
	}
	return false
}

// IsRetryable reports whether a local retry has a chance to succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindConfiguration, KindStorage, KindCircuitOpen, KindFingerprint, KindToken:
		return false
	}
	return true
}
