// internal/browser/cdp.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/browser/humanoid"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultElementTimeout    = 10 * time.Second
	inputTimeout             = 10 * time.Second
)

var _ Bridge = (*CDPBridge)(nil)

// Option customizes the launched browser.
type Option func(*launchOptions)

type launchOptions struct {
	proxy     string
	userAgent string
	width     int
	height    int
}

// WithProxy routes all browser traffic through addr, e.g. the local
// rotating proxy.
func WithProxy(addr string) Option { return func(o *launchOptions) { o.proxy = addr } }

// WithUserAgent sets the launch User-Agent. Emulate overrides it per profile.
func WithUserAgent(ua string) Option { return func(o *launchOptions) { o.userAgent = ua } }

// WithWindowSize sets the initial window size.
func WithWindowSize(w, h int) Option {
	return func(o *launchOptions) { o.width, o.height = w, h }
}

// CDPBridge drives one Chrome tab over the DevTools protocol.
type CDPBridge struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// allocatorOptions translates configuration into chromedp allocator options.
func allocatorOptions(cfg config.BrowserConfig, lo launchOptions) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", cfg.Headless),
		// The stock list enables the automation infobar and navigator flag.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if lo.proxy != "" {
		opts = append(opts, chromedp.ProxyServer(lo.proxy))
	}
	if lo.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(lo.userAgent))
	}
	if lo.width > 0 && lo.height > 0 {
		opts = append(opts, chromedp.WindowSize(lo.width, lo.height))
	}

	for _, arg := range cfg.Args {
		key, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if key == "" {
			continue
		}
		if !hasValue {
			opts = append(opts, chromedp.Flag(key, true))
			continue
		}
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}

// NewCDPBridge launches a browser and opens its first tab. The browser lives
// until Close, independent of ctx's later cancellation.
func NewCDPBridge(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger, opts ...Option) (*CDPBridge, error) {
	var lo launchOptions
	for _, opt := range opts {
		opt(&lo)
	}
	logger = logger.Named("cdp")

	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), allocatorOptions(cfg, lo)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	b := &CDPBridge{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}

	// The first Run starts the browser process.
	if err := b.run(ctx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("could not start browser: %w", err)
	}
	logger.Info("Browser started.",
		zap.Bool("headless", cfg.Headless),
		zap.Bool("proxied", lo.proxy != ""),
	)
	return b, nil
}

// run executes actions bounded by both the tab's lifetime and ctx.
func (b *CDPBridge) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(b.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// runWithin is run with a timeout. Expiry of that timeout, as opposed to the
// caller's context, is reported as a TimeoutError.
func (b *CDPBridge) runWithin(ctx context.Context, timeout time.Duration, op string, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := b.run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return apperr.Newf(apperr.KindTimeout, op, "no result within %s", timeout)
	}
	return err
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Execute runs a script body in the current document. See Invocation.
func (b *CDPBridge) Execute(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	expr, err := Invocation(script, args...)
	if err != nil {
		return nil, err
	}
	// A *[]byte target receives the raw value, which is empty for null.
	var raw []byte
	err = b.run(ctx, chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true).WithReturnByValue(true).WithSilent(true)
	}))
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(raw), nil
}

func (b *CDPBridge) AddInitScript(ctx context.Context, src string) (string, error) {
	var id page.ScriptIdentifier
	err := b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		id, err = page.AddScriptToEvaluateOnNewDocument(src).Do(c)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("could not register init script: %w", err)
	}
	b.logger.Debug("Registered init script.", zap.String("scriptID", string(id)))
	return string(id), nil
}

func (b *CDPBridge) RemoveInitScript(ctx context.Context, id string) error {
	if err := b.run(ctx, page.RemoveScriptToEvaluateOnNewDocument(page.ScriptIdentifier(id))); err != nil {
		return fmt.Errorf("could not remove init script %s: %w", id, err)
	}
	return nil
}

func (b *CDPBridge) Navigate(ctx context.Context, url string) error {
	timeout := orDefault(b.cfg.NavigationTimeout, defaultNavigationTimeout)
	if err := b.runWithin(ctx, timeout, "browser.navigate", chromedp.Navigate(url)); err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return ae.WithScope("url", url)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (b *CDPBridge) WaitFor(ctx context.Context, selector string, cond Condition, timeout time.Duration) error {
	var action chromedp.Action
	switch cond {
	case Present:
		action = chromedp.WaitReady(selector, chromedp.ByQuery)
	case Visible:
		action = chromedp.WaitVisible(selector, chromedp.ByQuery)
	case Absent:
		action = chromedp.WaitNotPresent(selector, chromedp.ByQuery)
	default:
		return fmt.Errorf("unknown wait condition %q", cond)
	}

	err := b.runWithin(ctx, orDefault(timeout, orDefault(b.cfg.ElementTimeout, defaultElementTimeout)), "browser.wait_for", action)
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.WithScope("selector", selector)
	}
	return err
}

// idleScript resolves once the document is complete and no new resource
// entries have appeared for half a second.
const idleScript = `
return new Promise((resolve) => {
  let last = -1;
  let quiet = 0;
  const tick = () => {
    const seen = performance.getEntriesByType("resource").length;
    if (document.readyState === "complete" && seen === last) {
      quiet += 100;
      if (quiet >= 500) {
        resolve(true);
        return;
      }
    } else {
      quiet = 0;
      last = seen;
    }
    setTimeout(tick, 100);
  };
  tick();
});`

func (b *CDPBridge) WaitIdle(ctx context.Context, timeout time.Duration) error {
	timeout = orDefault(timeout, orDefault(b.cfg.AjaxTimeout, defaultElementTimeout))
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := b.Execute(opCtx, idleScript); err != nil {
		if ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return apperr.Newf(apperr.KindTimeout, "browser.wait_idle", "page did not settle within %s", timeout)
		}
		return err
	}
	return nil
}

func (b *CDPBridge) Content(ctx context.Context) (string, error) {
	var html string
	if err := b.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("could not read page content: %w", err)
	}
	return html, nil
}

func (b *CDPBridge) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("could not read cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, rc := range raw {
		c := Cookie{
			Name:     rc.Name,
			Value:    rc.Value,
			Domain:   rc.Domain,
			Path:     rc.Path,
			HTTPOnly: rc.HTTPOnly,
			Secure:   rc.Secure,
			SameSite: rc.SameSite.String(),
		}
		// Session cookies report a non-positive expiry.
		if !rc.Session && rc.Expires > 0 {
			sec, frac := math.Modf(rc.Expires)
			c.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		cookies = append(cookies, c)
	}
	return cookies, nil
}

func (b *CDPBridge) SetCookie(ctx context.Context, c Cookie) error {
	params := network.SetCookie(c.Name, c.Value).
		WithDomain(c.Domain).
		WithPath(c.Path).
		WithHTTPOnly(c.HTTPOnly).
		WithSecure(c.Secure)
	if c.SameSite != "" {
		params = params.WithSameSite(network.CookieSameSite(c.SameSite))
	}
	if !c.Expires.IsZero() {
		expires := cdp.TimeSinceEpoch(c.Expires)
		params = params.WithExpires(&expires)
	}
	if err := b.run(ctx, params); err != nil {
		return fmt.Errorf("could not set cookie %s: %w", c.Name, err)
	}
	return nil
}

func (b *CDPBridge) DeleteCookie(ctx context.Context, name, domain string) error {
	params := network.DeleteCookies(name)
	if domain != "" {
		params = params.WithDomain(domain)
	}
	if err := b.run(ctx, params); err != nil {
		return fmt.Errorf("could not delete cookie %s: %w", name, err)
	}
	return nil
}

// Emulate applies protocol-level device overrides so request headers and
// native APIs agree with the injected profile.
func (b *CDPBridge) Emulate(ctx context.Context, e Emulation) error {
	actions := chromedp.Tasks{}
	if e.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(e.UserAgent).
			WithPlatform(e.Platform).
			WithAcceptLanguage(e.AcceptLanguage()))
	}
	if len(e.Languages) > 0 {
		actions = append(actions,
			emulation.SetLocaleOverride().WithLocale(e.Languages[0]),
			network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": e.AcceptLanguage()}),
		)
	}
	if e.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(e.Timezone))
	}
	if e.Width > 0 && e.Height > 0 {
		ratio := e.PixelRatio
		if ratio <= 0 {
			ratio = 1
		}
		orientation := emulation.OrientationTypeLandscapePrimary
		if e.Height > e.Width {
			orientation = emulation.OrientationTypePortraitPrimary
		}
		actions = append(actions, emulation.SetDeviceMetricsOverride(int64(e.Width), int64(e.Height), ratio, false).
			WithScreenWidth(int64(e.Width)).
			WithScreenHeight(int64(e.Height)).
			WithScreenOrientation(&emulation.ScreenOrientation{Type: orientation}))
	}
	touch := emulation.SetTouchEmulationEnabled(e.Touch)
	if e.Touch && e.MaxTouchPoints > 0 {
		touch = touch.WithMaxTouchPoints(int64(e.MaxTouchPoints))
	}
	actions = append(actions, touch)

	if err := b.run(ctx, actions); err != nil {
		return fmt.Errorf("device emulation failed: %w", err)
	}
	b.logger.Debug("Applied device emulation.",
		zap.String("platform", e.Platform),
		zap.String("timezone", e.Timezone),
		zap.Int("width", e.Width),
		zap.Int("height", e.Height),
	)
	return nil
}

func (b *CDPBridge) Sleep(ctx context.Context, d time.Duration) error {
	return b.run(ctx, chromedp.Sleep(d))
}

func (b *CDPBridge) DispatchMouseEvent(ctx context.Context, ev humanoid.MouseEvent) error {
	p := input.DispatchMouseEvent(input.MouseType(ev.Type), ev.X, ev.Y).
		WithButton(input.MouseButton(ev.Button)).
		WithClickCount(int64(ev.ClickCount))
	return b.runWithin(ctx, inputTimeout, "browser.mouse", p)
}

func (b *CDPBridge) SendKeys(ctx context.Context, keys string) error {
	return b.runWithin(ctx, inputTimeout, "browser.keys", chromedp.KeyEvent(keys))
}

// Close closes the tab and shuts the browser down. It is safe to call more
// than once.
func (b *CDPBridge) Close() error {
	b.closeOnce.Do(func() {
		if err := chromedp.Cancel(b.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("could not close browser cleanly: %w", err)
		}
		b.tabCancel()
		b.allocCancel()
		b.logger.Info("Browser closed.")
	})
	return b.closeErr
}
