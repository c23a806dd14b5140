// internal/store/token.go
package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
)

// parserUnverified reads claims without checking the signature.
var parserUnverified = new(jwt.Parser)

// TokenExpiry extracts the exp claim of a JWT. ok is false for tokens that
// are not JWTs or carry no exp claim. A string shaped like a JWT that cannot
// be parsed is a TokenError.
func TokenExpiry(raw string) (expiry time.Time, ok bool, err error) {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}, false, nil
	}
	token, _, err := parserUnverified.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false, apperr.New(apperr.KindToken, "store.token", err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, apperr.New(apperr.KindToken, "store.token", err)
	}
	if exp == nil {
		return time.Time{}, false, nil
	}
	return exp.Time, true, nil
}

// tokenString returns the token carried by a token artifact's payload, which
// is either a JSON string or an object with a "token" field.
func tokenString(payload json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s, true
	}
	var obj struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil && obj.Token != "" {
		return obj.Token, true
	}
	return "", false
}
