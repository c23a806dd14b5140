// internal/browser/fingerprint/engine.go
package fingerprint

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/browser"
	"github.com/xkilldash9x/ghostwire/internal/browser/shim"
	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

//go:embed scripts/*.tmpl
var scriptFS embed.FS

const owner = "fingerprint"

// scriptVersion selects the template generation used for every surface.
const scriptVersion = "v1"

// Surfaces are injected in this order.
var Surfaces = []string{"navigator", "screen", "webgl", "audio", "canvas", "fonts", "touch"}

// Bridge is the part of the browser bridge the engine needs.
type Bridge interface {
	Execute(ctx context.Context, script string, args ...any) (json.RawMessage, error)
	AddInitScript(ctx context.Context, source string) (string, error)
	RemoveInitScript(ctx context.Context, id string) error
}

// Emulator is implemented by bridges that can also override the device at the
// protocol level. The engine uses it when available.
type Emulator interface {
	Emulate(ctx context.Context, e browser.Emulation) error
}

// scriptData is the input of every surface template.
type scriptData struct {
	Owner    string
	Profile  Profile
	Platform string
	Seed     int64
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithHistory records every generated profile.
func WithHistory(h *History) Option { return func(e *Engine) { e.history = h } }

// Engine generates a synthetic fingerprint, stamps it into a browsing context
// before any page script runs, and checks that it stuck. It owns the current
// profile; callers only ever see clones.
type Engine struct {
	cfg     config.FingerprintConfig
	lib     *shim.Library
	clock   clock.Clock
	logger  *zap.Logger
	history *History

	mu        sync.Mutex
	gen       *generator
	current   *Profile
	injected  bool
	scriptIDs []string
}

// New validates cfg, parses the surface templates and builds an engine. A
// non-zero cfg.Seed makes random generation repeatable.
func New(cfg config.FingerprintConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lib, err := shim.Load(scriptFS, "scripts/*.tmpl")
	if err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "fingerprint.new", err)
	}
	e := &Engine{cfg: cfg, lib: lib}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("fingerprint")

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	e.gen = newGenerator(cfg, rand.New(rand.NewSource(seed)))

	for _, name := range append(slices.Clone(Surfaces), "probe") {
		if !lib.Has(templateName(name)) {
			return nil, apperr.Newf(apperr.KindConfiguration, "fingerprint.new", "missing template %s", templateName(name))
		}
	}
	return e, nil
}

func templateName(surface string) string {
	return surface + "." + scriptVersion
}

// Generate builds a new profile under policy. An empty policy uses the
// configured one. The profile is not injected.
func (e *Engine) Generate(policy string) (Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.generateLocked(policy)
	if err != nil {
		return Profile{}, err
	}
	return p.Clone(), nil
}

func (e *Engine) generateLocked(policy string) (Profile, error) {
	if policy == "" {
		policy = e.cfg.Policy
	}
	p, err := e.gen.generate(policy, e.clock.Now())
	if err != nil {
		return Profile{}, err
	}
	e.logger.Debug("Generated fingerprint.",
		zap.String("id", p.ID),
		zap.String("policy", policy),
		zap.String("platform", p.NavigatorPlatform()),
		zap.Int("width", p.Screen.Width),
		zap.Int("height", p.Screen.Height),
	)
	if e.history != nil {
		if err := e.history.Record(p); err != nil {
			// History is an audit aid; losing a snapshot does not invalidate the session.
			e.logger.Warn("Could not record fingerprint history.", zap.Error(err))
		}
	}
	return p, nil
}

// Current returns a copy of the injected profile.
func (e *Engine) Current() (Profile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Profile{}, false
	}
	return e.current.Clone(), true
}

// seedFor derives the noise seed from the profile so every document of the
// session reads back the same noise pattern.
func seedFor(p Profile) int64 {
	h := fnv.New32a()
	h.Write([]byte(p.ID))
	return int64(h.Sum32())
}

// Render returns the function body that injects surface for p.
func (e *Engine) Render(surface string, p Profile) (string, error) {
	return e.lib.Render(templateName(surface), scriptData{
		Owner:    owner,
		Profile:  p,
		Platform: p.NavigatorPlatform(),
		Seed:     seedFor(p),
	})
}

// Inject stamps p into the browsing context: every surface script is
// registered to run before page scripts in new documents and evaluated in the
// current one. A profile can only be injected once; Update replaces it.
func (e *Engine) Inject(ctx context.Context, bridge Bridge, p Profile) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.injectLocked(ctx, bridge, p.Clone())
}

func (e *Engine) injectLocked(ctx context.Context, bridge Bridge, p Profile) error {
	if e.injected {
		return apperr.Newf(apperr.KindFingerprint, "fingerprint.inject", "profile %s is already injected", e.current.ID)
	}

	if em, ok := bridge.(Emulator); ok {
		if err := em.Emulate(ctx, p.Emulation()); err != nil {
			return apperr.New(apperr.KindFingerprint, "fingerprint.inject", fmt.Errorf("emulate: %w", err))
		}
	}

	for _, surface := range Surfaces {
		body, err := e.Render(surface, p)
		if err != nil {
			return e.injectFailed(ctx, bridge, surface, err)
		}
		id, err := bridge.AddInitScript(ctx, shim.AsInitScript(body))
		if err != nil {
			return e.injectFailed(ctx, bridge, surface, err)
		}
		e.scriptIDs = append(e.scriptIDs, id)
		if _, err := bridge.Execute(ctx, body); err != nil {
			return e.injectFailed(ctx, bridge, surface, err)
		}
	}

	e.current = &p
	e.injected = true
	e.logger.Info("Fingerprint injected.", zap.String("id", p.ID), zap.Int("surfaces", len(Surfaces)))
	return nil
}

// injectFailed reverts a partial injection. Caller holds e.mu.
func (e *Engine) injectFailed(ctx context.Context, bridge Bridge, surface string, cause error) error {
	e.logger.Error("Fingerprint injection failed.", zap.String("surface", surface), zap.Error(cause))
	if err := e.revertLocked(context.WithoutCancel(ctx), bridge); err != nil {
		e.logger.Warn("Could not revert partial injection.", zap.Error(err))
	}
	return apperr.New(apperr.KindFingerprint, "fingerprint.inject", cause).WithScope("surface", surface)
}

// Verify re-reads the fingerprint surface and compares it with the injected
// profile. Values must match exactly except the canvas noise, which is
// compared within the configured tolerance. Mismatches are logged with a
// diff and reported as false.
func (e *Engine) Verify(ctx context.Context, bridge Bridge) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.injected {
		return false, apperr.Newf(apperr.KindFingerprint, "fingerprint.verify", "no profile injected")
	}
	p := *e.current

	script, err := e.Render("probe", p)
	if err != nil {
		return false, apperr.New(apperr.KindFingerprint, "fingerprint.verify", err)
	}
	raw, err := bridge.Execute(ctx, script)
	if err != nil {
		return false, apperr.New(apperr.KindFingerprint, "fingerprint.verify", err)
	}
	var observed Surface
	if err := json.Unmarshal(raw, &observed); err != nil {
		return false, apperr.New(apperr.KindFingerprint, "fingerprint.verify", fmt.Errorf("decode probe result: %w", err))
	}

	if diff := Diff(p.Expected(), observed, e.cfg.Tolerance); diff != "" {
		e.logger.Warn("Fingerprint mismatch.", zap.String("id", p.ID), zap.String("diff", diff))
		return false, nil
	}
	e.logger.Debug("Fingerprint verified.", zap.String("id", p.ID))
	return true, nil
}

// Diff reports the differences between expected and observed as a go-cmp
// diff, or "" when they agree. List order is ignored and the canvas noise is
// compared within tolerance.
func Diff(expected, observed Surface, tolerance float64) string {
	return cmp.Diff(expected, observed,
		cmpopts.EquateEmpty(),
		cmpopts.SortSlices(func(a, b string) bool { return a < b }),
		cmp.FilterPath(func(p cmp.Path) bool {
			return p.String() == "Canvas.Noise"
		}, cmpopts.EquateApprox(0, tolerance)),
	)
}

// Restore removes the registered scripts and reverts the overrides in the
// current document. It is idempotent.
func (e *Engine) Restore(ctx context.Context, bridge Bridge) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.injected && len(e.scriptIDs) == 0 {
		return nil
	}
	if err := e.revertLocked(ctx, bridge); err != nil {
		return apperr.New(apperr.KindFingerprint, "fingerprint.restore", err)
	}
	e.logger.Info("Fingerprint restored.")
	return nil
}

// revertLocked removes every registered script and runs the restore script.
// The engine is left uninjected even on error. Caller holds e.mu.
func (e *Engine) revertLocked(ctx context.Context, bridge Bridge) error {
	var first error
	for _, id := range e.scriptIDs {
		if err := bridge.RemoveInitScript(ctx, id); err != nil && first == nil {
			first = err
		}
	}
	e.scriptIDs = nil
	e.injected = false

	script, err := e.lib.Restore(owner)
	if err != nil {
		return err
	}
	if _, err := bridge.Execute(ctx, script); err != nil && first == nil {
		first = err
	}
	return first
}

// Expired reports whether the injected profile has outlived the configured
// TTL. A zero TTL never expires.
func (e *Engine) Expired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expiredLocked()
}

func (e *Engine) expiredLocked() bool {
	if e.cfg.TTL <= 0 || e.current == nil {
		return false
	}
	return e.clock.Now().Sub(e.current.CreatedAt) >= e.cfg.TTL
}

// Update replaces the injected profile with a freshly generated one once the
// TTL has elapsed. It reports whether a new profile was injected.
func (e *Engine) Update(ctx context.Context, bridge Bridge) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.injected || !e.expiredLocked() {
		return false, nil
	}
	old := e.current.ID
	if err := e.revertLocked(ctx, bridge); err != nil {
		return false, apperr.New(apperr.KindFingerprint, "fingerprint.update", err)
	}
	p, err := e.generateLocked(e.cfg.Policy)
	if err != nil {
		return false, err
	}
	if err := e.injectLocked(ctx, bridge, p); err != nil {
		return false, err
	}
	e.logger.Info("Fingerprint rotated.", zap.String("previous", old), zap.String("id", p.ID))
	return true, nil
}
