// internal/browser/stealth/stealth.go
package stealth

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/browser/shim"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

//go:embed scripts/*.tmpl
var scriptFS embed.FS

// owner tags every override this package makes so Restore only reverts its own.
const owner = "stealth"

// Category is an independently toggled group of automation markers.
type Category string

const (
	CategoryWebdriver         Category = "webdriver"
	CategoryAutomationGlobals Category = "automation_globals"
	CategoryDevtools          Category = "devtools"
	CategoryConsole           Category = "console"
	CategoryPerformance       Category = "performance"
	CategoryPlugins           Category = "plugins"
	CategoryChromeRuntime     Category = "chrome_runtime"
	CategoryPermissions       Category = "permissions"
)

// AllCategories lists every category in masking order.
var AllCategories = []Category{
	CategoryWebdriver,
	CategoryAutomationGlobals,
	CategoryDevtools,
	CategoryConsole,
	CategoryPerformance,
	CategoryPlugins,
	CategoryChromeRuntime,
	CategoryPermissions,
}

// State is the controller lifecycle position.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateMasked        State = "masked"
	StateVerified      State = "verified"
	StateRestored      State = "restored"
)

// Bridge is the part of the browser bridge the controller needs.
type Bridge interface {
	Execute(ctx context.Context, script string, args ...any) (json.RawMessage, error)
	AddInitScript(ctx context.Context, source string) (string, error)
	RemoveInitScript(ctx context.Context, id string) error
}

// PluginSpec describes one entry of the synthetic navigator.plugins list.
type PluginSpec struct {
	Name        string `json:"name"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

// Params are the explicit inputs of the masking templates.
type Params struct {
	Owner        string
	Globals      []string
	ChromeHeight int
	ResolutionMs float64
	Plugins      []PluginSpec
}

// DefaultParams are the values used unless a caller overrides them.
func DefaultParams() Params {
	return Params{
		Owner: owner,
		Globals: []string{
			"__webdriver_evaluate", "__selenium_evaluate", "__webdriver_script_function",
			"__webdriver_script_func", "__webdriver_script_fn", "__fxdriver_evaluate",
			"__driver_unwrapped", "__webdriver_unwrapped", "__driver_evaluate",
			"__selenium_unwrapped", "__fxdriver_unwrapped", "_Selenium_IDE_Recorder",
			"_selenium", "calledSelenium", "domAutomation", "domAutomationController",
			"__nightmare", "_phantom", "callPhantom", "__puppeteer_evaluation_script__",
		},
		ChromeHeight: 85,
		ResolutionMs: 0.1,
		Plugins: []PluginSpec{
			{Name: "PDF Viewer", Filename: "internal-pdf-viewer", Description: "Portable Document Format"},
			{Name: "Chrome PDF Viewer", Filename: "internal-pdf-viewer", Description: "Portable Document Format"},
			{Name: "Chromium PDF Viewer", Filename: "internal-pdf-viewer", Description: "Portable Document Format"},
		},
	}
}

var (
	libOnce sync.Once
	lib     *shim.Library
	libErr  error
)

func library() (*shim.Library, error) {
	libOnce.Do(func() {
		lib, libErr = shim.Load(scriptFS, "scripts/*.tmpl")
	})
	return lib, libErr
}

// RenderMask returns the masking script for c as a function body.
func RenderMask(c Category, p Params) (string, error) {
	l, err := library()
	if err != nil {
		return "", err
	}
	return l.Render(string(c)+".mask", p)
}

// RenderProbe returns the script that reports whether c is masked.
func RenderProbe(c Category, p Params) (string, error) {
	l, err := library()
	if err != nil {
		return "", err
	}
	return l.Render(string(c)+".probe", p)
}

// Enabled returns the categories switched on in cfg, in masking order.
func Enabled(cfg config.StealthConfig) []Category {
	on := map[Category]bool{
		CategoryWebdriver:         cfg.Webdriver,
		CategoryAutomationGlobals: cfg.AutomationGlobals,
		CategoryDevtools:          cfg.Devtools,
		CategoryConsole:           cfg.Console,
		CategoryPerformance:       cfg.Performance,
		CategoryPlugins:           cfg.Plugins,
		CategoryChromeRuntime:     cfg.ChromeRuntime,
		CategoryPermissions:       cfg.Permissions,
	}
	var out []Category
	for _, c := range AllCategories {
		if on[c] {
			out = append(out, c)
		}
	}
	return out
}

// Controller hides automation markers from page scripts and can revert them.
// Lifecycle: uninitialized -> masked -> verified -> restored.
type Controller struct {
	bridge     Bridge
	logger     *zap.Logger
	categories []Category
	params     Params

	mu        sync.Mutex
	state     State
	scriptIDs []string
}

// New creates a controller for the enabled categories. Every template is
// rendered up front so a broken script fails construction, not the session.
func New(cfg config.StealthConfig, bridge Bridge, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		bridge:     bridge,
		logger:     logger.Named("stealth"),
		categories: Enabled(cfg),
		params:     DefaultParams(),
		state:      StateUninitialized,
	}
	for _, cat := range c.categories {
		if _, err := RenderMask(cat, c.params); err != nil {
			return nil, apperr.New(apperr.KindConfiguration, "stealth.new", err).WithScope("category", string(cat))
		}
		if _, err := RenderProbe(cat, c.params); err != nil {
			return nil, apperr.New(apperr.KindConfiguration, "stealth.new", err).WithScope("category", string(cat))
		}
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Categories returns the enabled categories.
func (c *Controller) Categories() []Category {
	return append([]Category(nil), c.categories...)
}

// Mask registers every enabled category's script to run before page scripts
// in new documents and applies it to the current one.
func (c *Controller) Mask(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUninitialized {
		return apperr.Newf(apperr.KindStealth, "stealth.mask", "cannot mask from state %s", c.state)
	}

	for _, cat := range c.categories {
		body, err := RenderMask(cat, c.params)
		if err != nil {
			return c.maskFailed(ctx, cat, err)
		}
		id, err := c.bridge.AddInitScript(ctx, shim.AsInitScript(body))
		if err != nil {
			return c.maskFailed(ctx, cat, err)
		}
		c.scriptIDs = append(c.scriptIDs, id)
		if _, err := c.bridge.Execute(ctx, body); err != nil {
			return c.maskFailed(ctx, cat, err)
		}
	}

	c.state = StateMasked
	c.logger.Info("Automation markers masked.", zap.Int("categories", len(c.categories)))
	return nil
}

// maskFailed rolls back partial masking and reports a StealthError.
// Caller holds c.mu.
func (c *Controller) maskFailed(ctx context.Context, cat Category, cause error) error {
	c.logger.Error("Masking failed.", zap.String("category", string(cat)), zap.Error(cause))
	c.unregister(context.WithoutCancel(ctx))
	return apperr.New(apperr.KindStealth, "stealth.mask", cause).WithScope("category", string(cat))
}

// Validate re-probes every masked category. A false entry is a partial
// stealth condition: it is logged but not returned as an error, leaving the
// decision to abort with the caller.
func (c *Controller) Validate(ctx context.Context) (map[Category]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateMasked && c.state != StateVerified {
		return nil, apperr.Newf(apperr.KindStealth, "stealth.validate", "cannot validate from state %s", c.state)
	}

	results := make(map[Category]bool, len(c.categories))
	var failed []string
	for _, cat := range c.categories {
		ok, err := c.probe(ctx, cat)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("Stealth probe failed.", zap.String("category", string(cat)), zap.Error(err))
		}
		results[cat] = ok
		if !ok {
			failed = append(failed, string(cat))
		}
	}

	c.state = StateVerified
	if len(failed) > 0 {
		c.logger.Warn("Partial stealth.", zap.Strings("unmasked", failed))
	} else {
		c.logger.Debug("All stealth categories verified.")
	}
	return results, nil
}

func (c *Controller) probe(ctx context.Context, cat Category) (bool, error) {
	script, err := RenderProbe(cat, c.params)
	if err != nil {
		return false, err
	}
	raw, err := c.bridge.Execute(ctx, script)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, fmt.Errorf("decode probe result %q: %w", string(raw), err)
	}
	return ok, nil
}

// Restore removes the registered scripts and reverts the overrides in the
// current document. It is idempotent.
func (c *Controller) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUninitialized || c.state == StateRestored {
		c.state = StateRestored
		return nil
	}

	removeErr := c.unregister(ctx)

	l, err := library()
	if err != nil {
		return apperr.New(apperr.KindStealth, "stealth.restore", err)
	}
	script, err := l.Restore(owner)
	if err != nil {
		return apperr.New(apperr.KindStealth, "stealth.restore", err)
	}
	if _, err := c.bridge.Execute(ctx, script); err != nil {
		return apperr.New(apperr.KindStealth, "stealth.restore", err)
	}

	c.state = StateRestored
	c.logger.Info("Stealth overrides restored.")
	if removeErr != nil {
		return apperr.New(apperr.KindStealth, "stealth.restore", removeErr)
	}
	return nil
}

// unregister removes every registered init script. Caller holds c.mu.
func (c *Controller) unregister(ctx context.Context) error {
	var first error
	for _, id := range c.scriptIDs {
		if err := c.bridge.RemoveInitScript(ctx, id); err != nil && first == nil {
			first = err
		}
	}
	c.scriptIDs = nil
	return first
}

// closeTimeout bounds Close when the session context is already gone.
const closeTimeout = 10 * time.Second

// Close restores on a context detached from any cancelled session. Use it
// with defer so restoration runs on every exit path.
func (c *Controller) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.Restore(ctx)
}
