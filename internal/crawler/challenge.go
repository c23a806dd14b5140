// internal/crawler/challenge.go
package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Challenge describes a captcha presented by the target.
type Challenge struct {
	URL string
	// Image is the challenge image source, usually a data: or https: URL.
	Image string
}

// Solver turns a challenge into a response token. Solving is external; the
// crawler only detects the challenge and submits the token.
type Solver interface {
	Solve(ctx context.Context, ch Challenge) (string, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, ch Challenge) (string, error)

func (f SolverFunc) Solve(ctx context.Context, ch Challenge) (string, error) { return f(ctx, ch) }

// ErrUnsolvedChallenge is returned when a challenge is present and no solver
// is configured. It is retryable: a retry may leave through another upstream.
var ErrUnsolvedChallenge = errors.New("captcha challenge presented and no solver configured")

const challengePresentJS = `return document.querySelector(arguments[0]) !== null;`

const challengeImageJS = `
const el = document.querySelector(arguments[0]);
if (!el) return "";
return el.currentSrc || el.src || el.getAttribute("src") || "";`

const submitTokenJS = `
const el = document.querySelector(arguments[0]);
if (!el) return false;
el.value = arguments[1];
el.dispatchEvent(new Event("input", {bubbles: true}));
el.dispatchEvent(new Event("change", {bubbles: true}));
return true;`

// handleChallenge detects a captcha, hands it to the solver and submits the
// token. It reports whether a challenge was present.
func (c *Crawler) handleChallenge(ctx context.Context, url string) (bool, error) {
	sel := c.cfg.Crawler.CaptchaSelector
	if sel == "" {
		return false, nil
	}
	present, err := c.evalBool(ctx, challengePresentJS, sel)
	if err != nil || !present {
		return false, err
	}

	c.logger.Warn("Captcha challenge detected.", zap.String("url", url))
	if c.deps.Solver == nil {
		return true, ErrUnsolvedChallenge
	}

	ch := Challenge{URL: url}
	if imgSel := c.cfg.Crawler.CaptchaImageSelector; imgSel != "" {
		raw, err := c.deps.Bridge.Execute(ctx, challengeImageJS, imgSel)
		if err != nil {
			return true, err
		}
		if err := json.Unmarshal(raw, &ch.Image); err != nil {
			return true, fmt.Errorf("decode challenge image: %w", err)
		}
	}

	token, err := c.deps.Solver.Solve(ctx, ch)
	if err != nil {
		return true, fmt.Errorf("captcha solver: %w", err)
	}

	respSel := c.cfg.Crawler.CaptchaResponseSelector
	if respSel == "" {
		respSel = sel
	}
	ok, err := c.evalBool(ctx, submitTokenJS, respSel, token)
	if err != nil {
		return true, err
	}
	if !ok {
		return true, fmt.Errorf("captcha response field %q not found", respSel)
	}
	c.logger.Info("Captcha token submitted.", zap.String("url", url))
	return true, nil
}

func (c *Crawler) evalBool(ctx context.Context, script string, args ...any) (bool, error) {
	raw, err := c.deps.Bridge.Execute(ctx, script, args...)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, fmt.Errorf("decode script result %q: %w", string(raw), err)
	}
	return ok, nil
}
