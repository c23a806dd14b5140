// internal/governor/scope_test.go
package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.example.com/path?q=1", "example.com"},
		{"https://api.shop.example.co.uk", "example.co.uk"},
		{"http://EXAMPLE.com:8080/", "example.com"},
		{"news.example.org", "example.org"},
		{"example.org:443", "example.org"},
		{"http://127.0.0.1:9000/", "127.0.0.1"},
		{"http://localhost/", "localhost"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DomainKey(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeysFor(t *testing.T) {
	keys, err := KeysFor("https://login.example.com/", "203.0.113.7", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, Keys{Domain: "example.com", IP: "203.0.113.7", Session: "sess-1"}, keys)

	pairs := Keys{Domain: "example.com"}.pairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, ScopeGlobal, pairs[0].scope)
	assert.Equal(t, ScopeDomain, pairs[1].scope)

	_, err = KeysFor("http://[::1", "", "")
	assert.Error(t, err)
}
