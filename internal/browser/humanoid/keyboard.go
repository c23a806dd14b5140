// internal/browser/humanoid/keyboard.go
package humanoid

import (
	"context"
	"fmt"
	"unicode"
)

// keyboardNeighbors maps characters to their adjacent keys on a QWERTY layout.
var keyboardNeighbors = map[rune]string{
	'1': "2q", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9-op",
	'q': "wa", 'w': "qase", 'e': "wsdr", 'r': "edft", 't': "rfgy",
	'y': "tghu", 'u': "yhji", 'i': "ujko", 'o': "iklp", 'p': "ol",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiolm", 'l': "kop",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk",
}

// Type sends text to the focused element.
//
// natural: one character at a time with a typing delay each, and with
// TypoProbability a neighboring key is typed and backspaced first.
// fast: the whole string in one call.
// slow: one character at a time, always waiting the typing maximum.
func (h *Humanoid) Type(ctx context.Context, text string, pattern TypePattern) error {
	if !h.cfg.Enabled {
		pattern = TypeFast
	}

	var err error
	switch pattern {
	case TypeFast:
		err = wrap("type", h.executor.SendKeys(ctx, text))
	case TypeSlow:
		for _, r := range text {
			if err = h.sendRune(ctx, r); err != nil {
				break
			}
			if err = h.executor.Sleep(ctx, h.cfg.Delays.Typing.Upper()); err != nil {
				break
			}
		}
	case TypeNatural, "":
		pattern = TypeNatural
		for _, r := range text {
			if err = h.typeNatural(ctx, r); err != nil {
				break
			}
		}
	default:
		return fmt.Errorf("humanoid: unknown type pattern %q", pattern)
	}
	if err != nil {
		return err
	}

	h.record(Event{Type: EventTyping, Text: text, Pattern: string(pattern)})
	return nil
}

func (h *Humanoid) typeNatural(ctx context.Context, r rune) error {
	if typo, ok := h.typoFor(r); ok {
		if err := h.sendRune(ctx, typo); err != nil {
			return err
		}
		if err := h.pause(ctx, h.cfg.Delays.Typing); err != nil {
			return err
		}
		if err := wrap("type", h.executor.SendKeys(ctx, string(KeyBackspace))); err != nil {
			return err
		}
		if err := h.pause(ctx, h.cfg.Delays.Typing); err != nil {
			return err
		}
	}
	if err := h.sendRune(ctx, r); err != nil {
		return err
	}
	return h.pause(ctx, h.cfg.Delays.Typing)
}

func (h *Humanoid) sendRune(ctx context.Context, r rune) error {
	return wrap("type", h.executor.SendKeys(ctx, string(r)))
}

// typoFor decides whether r gets a mistake and picks the wrong key.
func (h *Humanoid) typoFor(r rune) (rune, bool) {
	if h.cfg.TypoProbability <= 0 {
		return 0, false
	}
	lower := unicode.ToLower(r)
	neighbors, ok := keyboardNeighbors[lower]
	if !ok {
		return 0, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rng.Float64() >= h.cfg.TypoProbability {
		return 0, false
	}
	choices := []rune(neighbors)
	typo := choices[h.rng.Intn(len(choices))]
	if unicode.IsUpper(r) {
		typo = unicode.ToUpper(typo)
	}
	return typo, true
}
