// internal/crawler/interact.go
package crawler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/browser"
	"github.com/xkilldash9x/ghostwire/internal/browser/humanoid"
)

// locateJS reports the element's viewport centre and whether it is in view,
// plus the current scroll offset and viewport height.
const locateJS = `
const el = document.querySelector(arguments[0]);
if (!el) return null;
const r = el.getBoundingClientRect();
return {
  x: r.left + r.width / 2,
  y: r.top + r.height / 2,
  inView: r.top >= 0 && r.bottom <= window.innerHeight,
  scrollY: window.scrollY,
  viewport: window.innerHeight
};`

type location struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	InView   bool    `json:"inView"`
	ScrollY  float64 `json:"scrollY"`
	Viewport float64 `json:"viewport"`
}

// interact runs one page action behind the governor gate, keyed to the page
// currently loaded.
func (c *Crawler) interact(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if current == "" {
		return apperr.Newf(apperr.KindConfiguration, op, "no page loaded")
	}
	keys, err := c.keys(current)
	if err != nil {
		return err
	}
	return c.deps.Governor.Do(ctx, keys, func(ctx context.Context) error {
		if err := c.deps.Governor.Pace(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
}

// locate waits for selector to be visible, scrolls it into view the way a
// person would, and returns its centre.
func (c *Crawler) locate(ctx context.Context, selector string) (humanoid.Vector2D, error) {
	if err := c.deps.Bridge.WaitFor(ctx, selector, browser.Visible, c.cfg.Browser.ElementTimeout); err != nil {
		return humanoid.Vector2D{}, err
	}
	loc, err := c.position(ctx, selector)
	if err != nil {
		return humanoid.Vector2D{}, err
	}
	if !loc.InView {
		target := loc.ScrollY + loc.Y - loc.Viewport/2
		if target < 0 {
			target = 0
		}
		if err := c.humanoid.Scroll(ctx, target, humanoid.ScrollNatural); err != nil {
			return humanoid.Vector2D{}, err
		}
		if loc, err = c.position(ctx, selector); err != nil {
			return humanoid.Vector2D{}, err
		}
	}
	return humanoid.Vector2D{X: loc.X, Y: loc.Y}, nil
}

func (c *Crawler) position(ctx context.Context, selector string) (location, error) {
	raw, err := c.deps.Bridge.Execute(ctx, locateJS, selector)
	if err != nil {
		return location{}, err
	}
	var loc *location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return location{}, fmt.Errorf("decode element position: %w", err)
	}
	if loc == nil {
		return location{}, fmt.Errorf("element %q disappeared", selector)
	}
	return *loc, nil
}

// Click moves to selector along a human-like path and clicks it.
func (c *Crawler) Click(ctx context.Context, selector string) error {
	return c.interact(ctx, "crawler.click", func(ctx context.Context) error {
		target, err := c.locate(ctx, selector)
		if err != nil {
			return err
		}
		return c.humanoid.Click(ctx, target)
	})
}

// Type focuses selector with a click and types text at a natural cadence.
func (c *Crawler) Type(ctx context.Context, selector, text string) error {
	return c.interact(ctx, "crawler.type", func(ctx context.Context) error {
		target, err := c.locate(ctx, selector)
		if err != nil {
			return err
		}
		if err := c.humanoid.Click(ctx, target); err != nil {
			return err
		}
		return c.humanoid.Type(ctx, text, humanoid.TypeNatural)
	})
}

// Scroll scrolls the page to the vertical offset y.
func (c *Crawler) Scroll(ctx context.Context, y float64) error {
	return c.interact(ctx, "crawler.scroll", func(ctx context.Context) error {
		return c.humanoid.Scroll(ctx, y, humanoid.ScrollNatural)
	})
}

// Evaluate runs a script body in the current page behind the governor gate.
func (c *Crawler) Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.interact(ctx, "crawler.evaluate", func(ctx context.Context) error {
		raw, err := c.deps.Bridge.Execute(ctx, script, args...)
		out = raw
		return err
	})
	return out, err
}
