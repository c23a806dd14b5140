// internal/governor/scope.go
package governor

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Scope is the dimension a rate-limit record is tracked against.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeDomain  Scope = "domain"
	ScopeIP      Scope = "ip"
	ScopeSession Scope = "session"
)

// Scopes lists every scope in admission order.
var Scopes = []Scope{ScopeGlobal, ScopeDomain, ScopeIP, ScopeSession}

// globalKey is the only key used in the global scope.
const globalKey = "*"

// Keys identifies one outbound action across all scopes. Domain doubles as
// the circuit breaker key.
type Keys struct {
	Domain  string
	IP      string
	Session string
}

// KeysFor builds Keys for a target URL. The domain is reduced to its
// registrable form so that www.example.com and api.example.com share limits.
func KeysFor(rawURL, ip, session string) (Keys, error) {
	domain, err := DomainKey(rawURL)
	if err != nil {
		return Keys{}, err
	}
	return Keys{Domain: domain, IP: ip, Session: session}, nil
}

// DomainKey returns the eTLD+1 of rawURL's host. Hosts without a registrable
// domain (IP literals, localhost, bare suffixes) are returned lowercased as-is.
func DomainKey(rawURL string) (string, error) {
	host := rawURL
	if strings.Contains(rawURL, "://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", err
		}
		host = u.Hostname()
	} else if h, _, err := net.SplitHostPort(rawURL); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || net.ParseIP(host) != nil {
		return host, nil
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host, nil
	}
	return etld1, nil
}

// pairs expands Keys into the (scope,key) list checked on admission. Empty
// keys skip their scope.
func (k Keys) pairs() []scopeKey {
	out := []scopeKey{{ScopeGlobal, globalKey}}
	if k.Domain != "" {
		out = append(out, scopeKey{ScopeDomain, k.Domain})
	}
	if k.IP != "" {
		out = append(out, scopeKey{ScopeIP, k.IP})
	}
	if k.Session != "" {
		out = append(out, scopeKey{ScopeSession, k.Session})
	}
	return out
}

type scopeKey struct {
	scope Scope
	key   string
}
