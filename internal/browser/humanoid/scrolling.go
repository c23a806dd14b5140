// internal/browser/humanoid/scrolling.go
package humanoid

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const (
	scrollPositionJS = `return window.scrollY || document.documentElement.scrollTop || 0;`
	scrollByJS       = `window.scrollBy(0, arguments[0]); return window.scrollY;`
	scrollJumpJS     = `window.scrollTo(0, arguments[0]); return window.scrollY;`
	scrollSmoothJS   = `window.scrollTo({top: arguments[0], behavior: 'smooth'}); return true;`

	// Browsers settle a smooth scroll at roughly this rate.
	smoothScrollPxPerSecond = 1500.0
	minSmoothScroll         = 200 * time.Millisecond
	maxSmoothScroll         = 3 * time.Second
)

// Scroll moves the page vertically to targetY.
//
// natural: (distance/100)+1 scrollBy steps with a scroll delay after each.
// smooth: one smooth scrollTo, then a sleep for the estimated duration.
// jump: one instant scrollTo.
func (h *Humanoid) Scroll(ctx context.Context, targetY float64, pattern ScrollPattern) error {
	if !h.cfg.Enabled {
		pattern = ScrollJump
	}

	var err error
	switch pattern {
	case ScrollJump:
		_, err = h.executor.Execute(ctx, scrollJumpJS, targetY)
		err = wrap("scroll", err)
	case ScrollSmooth:
		err = h.scrollSmooth(ctx, targetY)
	case ScrollNatural, "":
		pattern = ScrollNatural
		err = h.scrollNatural(ctx, targetY)
	default:
		return fmt.Errorf("humanoid: unknown scroll pattern %q", pattern)
	}
	if err != nil {
		return err
	}

	h.record(Event{Type: EventScroll, Target: Vector2D{Y: targetY}, Pattern: string(pattern)})
	return nil
}

func (h *Humanoid) scrollY(ctx context.Context) (float64, error) {
	raw, err := h.executor.Execute(ctx, scrollPositionJS)
	if err != nil {
		return 0, wrap("scroll", err)
	}
	var y float64
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &y); err != nil {
			return 0, fmt.Errorf("humanoid: decode scroll position: %w", err)
		}
	}
	return y, nil
}

// ScrollSteps is the number of scrollBy calls a natural scroll over distance uses.
func ScrollSteps(distance float64) int {
	return int(math.Abs(distance)/100) + 1
}

func (h *Humanoid) scrollNatural(ctx context.Context, targetY float64) error {
	current, err := h.scrollY(ctx)
	if err != nil {
		return err
	}
	distance := targetY - current
	if distance == 0 {
		return nil
	}
	steps := ScrollSteps(distance)
	step := distance / float64(steps)
	for i := 0; i < steps; i++ {
		if _, err := h.executor.Execute(ctx, scrollByJS, step); err != nil {
			return wrap("scroll", err)
		}
		if err := h.pause(ctx, h.cfg.Delays.Scroll); err != nil {
			return err
		}
	}
	return nil
}

// SmoothScrollDuration estimates how long the browser takes to settle a
// smooth scroll over distance pixels.
func SmoothScrollDuration(distance float64) time.Duration {
	d := time.Duration(math.Abs(distance) / smoothScrollPxPerSecond * float64(time.Second))
	return min(max(d, minSmoothScroll), maxSmoothScroll)
}

func (h *Humanoid) scrollSmooth(ctx context.Context, targetY float64) error {
	current, err := h.scrollY(ctx)
	if err != nil {
		return err
	}
	if _, err := h.executor.Execute(ctx, scrollSmoothJS, targetY); err != nil {
		return wrap("scroll", err)
	}
	return h.executor.Sleep(ctx, SmoothScrollDuration(targetY-current))
}
