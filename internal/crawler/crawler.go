// internal/crawler/crawler.go
package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/browser"
	"github.com/xkilldash9x/ghostwire/internal/browser/fingerprint"
	"github.com/xkilldash9x/ghostwire/internal/browser/humanoid"
	"github.com/xkilldash9x/ghostwire/internal/browser/stealth"
	"github.com/xkilldash9x/ghostwire/internal/cache"
	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
	"github.com/xkilldash9x/ghostwire/internal/governor"
	"github.com/xkilldash9x/ghostwire/internal/store"
)

// cleanupTimeout bounds teardown once the caller's context is gone.
const cleanupTimeout = 15 * time.Second

// cookieScopePrefix namespaces persisted cookie jars in the session store.
const cookieScopePrefix = "cookies/"

// Deps are the collaborators a Crawler drives. Bridge, Governor and
// Fingerprint are required; the rest are optional.
type Deps struct {
	Bridge      browser.Bridge
	Governor    *governor.Governor
	Fingerprint *fingerprint.Engine
	Store       *store.Store
	Cache       *cache.Cache
	Solver      Solver
	Clock       clock.Clock
}

// Page is the outcome of one navigation.
type Page struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Content   string    `json:"content,omitempty"`
	FromCache bool      `json:"from_cache"`
	Challenge bool      `json:"challenge"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Result pairs a requested URL with its page or error.
type Result struct {
	URL  string `json:"url"`
	Page *Page  `json:"page,omitempty"`
	Err  error  `json:"-"`
}

// Crawler drives one browsing context through the evasion stack. Actions on
// a Crawler are sequential; use a Pool for parallel sessions.
type Crawler struct {
	cfg    *config.Config
	deps   Deps
	logger *zap.Logger
	id     string

	stealth  *stealth.Controller
	humanoid *humanoid.Humanoid
	pageLoad humanoid.DelayRange
	dwell    bool
	rng      *rand.Rand

	mu          sync.Mutex
	initialized bool
	current     string
	restored    map[string]bool

	cleanupOnce sync.Once
	cleanupErr  error
}

// New validates the dependencies and prepares, but does not start, a session.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*Crawler, error) {
	if cfg == nil || deps.Bridge == nil || deps.Governor == nil || deps.Fingerprint == nil {
		return nil, apperr.Newf(apperr.KindConfiguration, "crawler.new", "config, bridge, governor and fingerprint engine are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}

	hcfg, err := humanoid.ConfigFrom(cfg.Delay, cfg.Behavior)
	if err != nil {
		return nil, err
	}
	pageLoad, err := humanoid.NewDelayRange(cfg.Delay.PageLoad.Min, cfg.Delay.PageLoad.Max)
	if err != nil {
		return nil, err
	}
	seed := cfg.Behavior.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	id := uuid.NewString()
	log := logger.Named("crawler").With(zap.String("session", id))
	sc, err := stealth.New(cfg.Stealth, deps.Bridge, log)
	if err != nil {
		return nil, err
	}

	return &Crawler{
		cfg:      cfg,
		deps:     deps,
		logger:   log,
		id:       id,
		stealth:  sc,
		humanoid: humanoid.New(hcfg, log, deps.Bridge),
		pageLoad: pageLoad,
		dwell:    cfg.Behavior.Enabled,
		rng:      rand.New(rand.NewSource(seed)),
		restored: make(map[string]bool),
	}, nil
}

// ID is the session identifier, also used as the session rate-limit key.
func (c *Crawler) ID() string { return c.id }

// Humanoid exposes the simulator for callers scripting custom interactions.
func (c *Crawler) Humanoid() *humanoid.Humanoid { return c.humanoid }

// Initialize masks automation markers, stamps and verifies a fingerprint
// profile and sweeps the content cache. Call Cleanup even when it fails.
func (c *Crawler) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	if err := c.stealth.Mask(ctx); err != nil {
		return err
	}
	results, err := c.stealth.Validate(ctx)
	if err != nil {
		return err
	}
	if unmasked := unmaskedCategories(results); len(unmasked) > 0 && c.cfg.Crawler.AbortOnPartialStealth {
		return apperr.Newf(apperr.KindStealth, "crawler.initialize", "categories still detectable: %v", unmasked)
	}

	profile, err := c.deps.Fingerprint.Generate("")
	if err != nil {
		return err
	}
	if err := c.deps.Fingerprint.Inject(ctx, c.deps.Bridge, profile); err != nil {
		return err
	}
	ok, err := c.deps.Fingerprint.Verify(ctx, c.deps.Bridge)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Newf(apperr.KindFingerprint, "crawler.initialize", "injected profile %s did not verify", profile.ID)
	}

	if c.deps.Cache != nil {
		if n, err := c.deps.Cache.Sweep(); err != nil {
			return err
		} else if n > 0 {
			c.logger.Info("Swept expired cache entries.", zap.Int("count", n))
		}
	}

	c.initialized = true
	c.logger.Info("Session initialized.",
		zap.String("profile", profile.ID),
		zap.String("platform", profile.Platform.OS),
		zap.Int("stealth_categories", len(results)))
	return nil
}

func unmaskedCategories(results map[stealth.Category]bool) []string {
	var out []string
	for _, cat := range stealth.AllCategories {
		if ok, checked := results[cat]; checked && !ok {
			out = append(out, string(cat))
		}
	}
	return out
}

func (c *Crawler) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return apperr.Newf(apperr.KindConfiguration, "crawler", "session is not initialized")
	}
	return nil
}

func (c *Crawler) keys(url string) (governor.Keys, error) {
	keys, err := governor.KeysFor(url, c.cfg.Crawler.EgressIP, c.id)
	if err != nil {
		return governor.Keys{}, apperr.New(apperr.KindConfiguration, "crawler.keys", err).WithScope("url", url)
	}
	return keys, nil
}

// Navigate loads url behind the governor gate, rotating the fingerprint
// first if its TTL has elapsed. Timeouts and transient failures are retried
// per the retry policy; the final error is returned to the caller.
func (c *Crawler) Navigate(ctx context.Context, url string) (*Page, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	keys, err := c.keys(url)
	if err != nil {
		return nil, err
	}

	if err := c.rotateFingerprint(ctx); err != nil {
		return nil, err
	}
	if err := c.restoreCookies(ctx, keys.Domain); err != nil {
		return nil, err
	}

	page := &Page{ID: uuid.NewString(), URL: url}
	err = c.deps.Governor.Do(ctx, keys, func(ctx context.Context) error {
		if err := c.deps.Governor.Pace(ctx); err != nil {
			return err
		}
		if err := c.deps.Bridge.Navigate(ctx, url); err != nil {
			return err
		}
		if err := c.deps.Bridge.WaitIdle(ctx, c.cfg.Browser.AjaxTimeout); err != nil {
			return err
		}
		challenged, err := c.handleChallenge(ctx, url)
		if err != nil {
			return err
		}
		page.Challenge = challenged
		return nil
	})
	if err != nil {
		c.logger.Warn("Navigation failed.",
			zap.String("url", url),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	if err := c.dwellOnPage(ctx); err != nil {
		return nil, err
	}
	content, err := c.deps.Bridge.Content(ctx)
	if err != nil {
		return nil, err
	}
	page.Content = content
	page.FetchedAt = c.deps.Clock.Now()

	c.mu.Lock()
	c.current = url
	c.mu.Unlock()
	c.humanoid.SetPosition(humanoid.Vector2D{})

	if err := c.persistCookies(ctx, keys.Domain); err != nil {
		return nil, err
	}
	c.logger.Debug("Navigated.", zap.String("url", url), zap.Int("bytes", len(content)))
	return page, nil
}

// rotateFingerprint replaces an expired profile and checks the new one took
// hold, under the same rule Initialize applies to the first profile.
func (c *Crawler) rotateFingerprint(ctx context.Context) error {
	rotated, err := c.deps.Fingerprint.Update(ctx, c.deps.Bridge)
	if err != nil || !rotated {
		return err
	}
	ok, err := c.deps.Fingerprint.Verify(ctx, c.deps.Bridge)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Newf(apperr.KindFingerprint, "crawler.navigate", "rotated profile did not verify")
	}
	c.logger.Info("Fingerprint profile rotated.")
	return nil
}

// dwellOnPage pauses for a page_load delay, as a reader would after the
// page renders.
func (c *Crawler) dwellOnPage(ctx context.Context) error {
	if !c.dwell {
		return ctx.Err()
	}
	c.mu.Lock()
	d := c.pageLoad.Sample(c.rng)
	c.mu.Unlock()
	return c.deps.Clock.Sleep(ctx, d)
}

// Fetch serves url from the content cache when fresh, otherwise navigates
// and caches the page content.
func (c *Crawler) Fetch(ctx context.Context, url string) (*Page, error) {
	if c.deps.Cache != nil {
		payload, ok, err := c.deps.Cache.Get(url)
		if err != nil {
			return nil, err
		}
		if ok {
			c.logger.Debug("Cache hit.", zap.String("url", url))
			return &Page{
				ID:        uuid.NewString(),
				URL:       url,
				Content:   string(payload),
				FromCache: true,
				FetchedAt: c.deps.Clock.Now(),
			}, nil
		}
	}

	page, err := c.Navigate(ctx, url)
	if err != nil {
		return nil, err
	}
	if c.deps.Cache != nil && !page.Challenge {
		if err := c.deps.Cache.Put(url, []byte(page.Content)); err != nil {
			if !errors.Is(err, cache.ErrTooLarge) {
				return nil, err
			}
			c.logger.Debug("Page too large to cache.", zap.String("url", url), zap.Int("bytes", len(page.Content)))
		}
	}
	return page, nil
}

// Crawl fetches urls in order. Failed URLs are recorded in their Result and
// the crawl moves on; only a fatal error or cancellation stops it early.
func (c *Crawler) Crawl(ctx context.Context, urls []string) ([]Result, error) {
	results := make([]Result, 0, len(urls))
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		page, err := c.Fetch(ctx, u)
		results = append(results, Result{URL: u, Page: page, Err: err})
		if err != nil && apperr.IsFatal(err) {
			return results, err
		}
	}
	return results, nil
}

// restoreCookies loads the persisted cookie jar for domain into the browser,
// once per session.
func (c *Crawler) restoreCookies(ctx context.Context, domain string) error {
	if c.deps.Store == nil || domain == "" {
		return nil
	}
	c.mu.Lock()
	done := c.restored[domain]
	c.restored[domain] = true
	c.mu.Unlock()
	if done {
		return nil
	}

	scope := cookieScopePrefix + domain
	if !c.deps.Store.IsValid(scope) {
		return nil
	}
	artifact, err := c.deps.Store.Get(scope)
	if err != nil {
		return err
	}
	var jar []browser.Cookie
	if err := json.Unmarshal(artifact.Payload, &jar); err != nil {
		return apperr.New(apperr.KindSession, "crawler.restore_cookies", err).WithScope("domain", domain)
	}
	for _, ck := range jar {
		if err := c.deps.Bridge.SetCookie(ctx, ck); err != nil {
			return fmt.Errorf("restoring cookie %s for %s: %w", ck.Name, domain, err)
		}
	}
	c.logger.Debug("Restored cookies.", zap.String("domain", domain), zap.Int("count", len(jar)))
	return c.deps.Store.Touch(scope)
}

// persistCookies writes the browser's current cookies for domain through to
// the session store.
func (c *Crawler) persistCookies(ctx context.Context, domain string) error {
	if c.deps.Store == nil || domain == "" {
		return nil
	}
	cookies, err := c.deps.Bridge.Cookies(ctx)
	if err != nil {
		c.logger.Warn("Could not read cookies.", zap.String("domain", domain), zap.Error(err))
		return nil
	}
	var jar []browser.Cookie
	for _, ck := range cookies {
		if d, err := governor.DomainKey(strings.TrimPrefix(ck.Domain, ".")); err == nil && d == domain {
			jar = append(jar, ck)
		}
	}
	if len(jar) == 0 {
		return nil
	}
	payload, err := json.Marshal(jar)
	if err != nil {
		return apperr.New(apperr.KindSession, "crawler.persist_cookies", err)
	}

	scope := cookieScopePrefix + domain
	artifact := store.Artifact{Kind: store.KindCookie, Subject: domain, Payload: payload}
	if c.deps.Store.IsValid(scope) {
		return c.deps.Store.Update(scope, artifact)
	}
	return c.deps.Store.Add(scope, artifact)
}

// Cleanup restores the fingerprint and stealth overrides, flushes the
// session store and cache index and closes the bridge. It runs once, on a
// context detached from ctx's cancellation, and reports every failure.
func (c *Crawler) Cleanup(ctx context.Context) error {
	c.cleanupOnce.Do(func() {
		ctx, cancel := context.WithTimeout(browser.Detach(ctx), cleanupTimeout)
		defer cancel()

		var errs []error
		if err := c.deps.Fingerprint.Restore(ctx, c.deps.Bridge); err != nil {
			errs = append(errs, err)
		}
		if err := c.stealth.Restore(ctx); err != nil {
			errs = append(errs, err)
		}
		if c.deps.Store != nil {
			if err := c.deps.Store.Save(); err != nil {
				errs = append(errs, err)
			}
		}
		if c.deps.Cache != nil {
			if err := c.deps.Cache.Flush(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.deps.Bridge.Close(); err != nil {
			errs = append(errs, err)
		}

		c.cleanupErr = errors.Join(errs...)
		if c.cleanupErr != nil {
			c.logger.Error("Cleanup finished with errors.", zap.Error(c.cleanupErr))
		} else {
			c.logger.Info("Session cleaned up.")
		}
	})
	return c.cleanupErr
}

// Close is Cleanup without a caller context, for use with defer.
func (c *Crawler) Close() error {
	return c.Cleanup(context.Background())
}
