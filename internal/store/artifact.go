// internal/store/artifact.go
package store

import (
	"encoding/json"
	"slices"
	"time"
)

// Kind is the type of a session artifact.
type Kind string

const (
	KindCookie  Kind = "cookie"
	KindSession Kind = "session"
	KindToken   Kind = "token"
)

// Artifact is a cookie, session or token captured from a target. Payload is
// opaque to the store except for tokens, whose JWT expiry is honoured.
type Artifact struct {
	Kind         Kind            `json:"kind"`
	Subject      string          `json:"subject"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	LastActivity time.Time       `json:"last_activity"`
}

// Expired reports whether a is past its expiry at now. An artifact is still
// valid at exactly ExpiresAt.
func (a Artifact) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

func (a Artifact) clone() Artifact {
	a.Payload = slices.Clone(a.Payload)
	return a
}
