// internal/browser/humanoid/delay.go
package humanoid

import (
	"math/rand"
	"time"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

// DelayRange is a {min,max} pause in seconds.
type DelayRange struct {
	Min float64
	Max float64
}

// NewDelayRange enforces 0 <= min <= max.
func NewDelayRange(min, max float64) (DelayRange, error) {
	if min < 0 {
		return DelayRange{}, apperr.Newf(apperr.KindConfiguration, "humanoid.delay", "min %.3f must not be negative", min)
	}
	if min > max {
		return DelayRange{}, apperr.Newf(apperr.KindConfiguration, "humanoid.delay", "min %.3f exceeds max %.3f", min, max)
	}
	return DelayRange{Min: min, Max: max}, nil
}

// Midpoint is the deterministic value used when random delays are off.
func (d DelayRange) Midpoint() time.Duration {
	return seconds((d.Min + d.Max) / 2)
}

// Upper is the range's maximum as a duration.
func (d DelayRange) Upper() time.Duration {
	return seconds(d.Max)
}

// Sample draws uniformly from the range.
func (d DelayRange) Sample(rng *rand.Rand) time.Duration {
	return seconds(d.Min + rng.Float64()*(d.Max-d.Min))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Delays holds the named ranges the simulator uses.
type Delays struct {
	MouseMove   DelayRange
	Click       DelayRange
	BeforeClick DelayRange
	Typing      DelayRange
	Scroll      DelayRange
}

// DelaysFrom validates and converts the configured ranges.
func DelaysFrom(cfg config.DelayConfig) (Delays, error) {
	var (
		d   Delays
		err error
	)
	conv := func(dst *DelayRange, r config.RangeConfig) {
		if err != nil {
			return
		}
		*dst, err = NewDelayRange(r.Min, r.Max)
	}
	conv(&d.MouseMove, cfg.MouseMove)
	conv(&d.Click, cfg.Click)
	conv(&d.BeforeClick, cfg.BeforeClick)
	conv(&d.Typing, cfg.Typing)
	conv(&d.Scroll, cfg.Scroll)
	return d, err
}
