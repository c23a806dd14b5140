// internal/browser/emulation.go
package browser

import (
	"fmt"
	"strings"
)

// Emulation is the set of device overrides applied at the protocol level, so
// that HTTP headers and native APIs agree with the injected script overrides.
type Emulation struct {
	UserAgent      string
	Platform       string
	Languages      []string
	Timezone       string
	Width          int
	Height         int
	PixelRatio     float64
	Touch          bool
	MaxTouchPoints int
}

// AcceptLanguage renders Languages as an Accept-Language header value with
// descending quality weights.
func (e Emulation) AcceptLanguage() string {
	parts := make([]string, 0, len(e.Languages))
	for i, lang := range e.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}
