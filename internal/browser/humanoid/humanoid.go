// internal/browser/humanoid/humanoid.go
package humanoid

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ghostwire/internal/config"
)

// Config is the simulator's validated configuration.
type Config struct {
	Delays Delays
	// Enabled false turns every action into its direct, undelayed form.
	Enabled bool
	// RandomDelays false uses each range's midpoint.
	RandomDelays    bool
	UseCurve        bool
	CurveSteps      int
	TypoProbability float64
	EventBufferSize int
	Seed            int64
}

// ConfigFrom validates the delay and behavior sections of the app config.
func ConfigFrom(delays config.DelayConfig, behavior config.BehaviorConfig) (Config, error) {
	d, err := DelaysFrom(delays)
	if err != nil {
		return Config{}, err
	}
	if err := behavior.Validate(); err != nil {
		return Config{}, err
	}
	return Config{
		Delays:          d,
		Enabled:         behavior.Enabled,
		RandomDelays:    behavior.RandomDelays,
		UseCurve:        behavior.UseCurve,
		CurveSteps:      behavior.CurveSteps,
		TypoProbability: behavior.TypoProbability,
		EventBufferSize: behavior.EventBufferSize,
		Seed:            behavior.Seed,
	}, nil
}

// Humanoid shapes pointer, keyboard and scroll input so it resembles a human
// operator. One instance drives one browsing context; actions are sequential.
type Humanoid struct {
	// mu guards rng and currentPos. It is never held across executor calls.
	mu         sync.Mutex
	cfg        Config
	logger     *zap.Logger
	executor   Executor
	rng        *rand.Rand
	currentPos Vector2D
	events     *EventLog
}

// New creates a simulator bound to executor.
func New(cfg Config, logger *zap.Logger, executor Executor) *Humanoid {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.CurveSteps < 2 {
		cfg.CurveSteps = DefaultCurveSteps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Humanoid{
		cfg:      cfg,
		logger:   logger.Named("humanoid"),
		executor: executor,
		rng:      rand.New(rand.NewSource(seed)),
		events:   NewEventLog(cfg.EventBufferSize),
	}
}

// Position is the last pointer position the simulator moved to.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}

// SetPosition records where the pointer is, e.g. after a navigation.
func (h *Humanoid) SetPosition(p Vector2D) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentPos = p
}

// Events returns the recent action log, oldest first.
func (h *Humanoid) Events() []Event {
	return h.events.Events()
}

// PathTo returns the pointer path from start to end. With useCurve false
// the path is the single point end.
func (h *Humanoid) PathTo(start, end Vector2D, useCurve bool) *Path {
	h.mu.Lock()
	defer h.mu.Unlock()
	return newPath(start, end, useCurve, h.cfg.CurveSteps, h.rng)
}

// delay picks a pause from r honoring random_delays.
func (h *Humanoid) delay(r DelayRange) time.Duration {
	if !h.cfg.RandomDelays {
		return r.Midpoint()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return r.Sample(h.rng)
}

// pause sleeps for a delay drawn from r. Disabled simulators never pause.
func (h *Humanoid) pause(ctx context.Context, r DelayRange) error {
	if !h.cfg.Enabled {
		return ctx.Err()
	}
	return h.executor.Sleep(ctx, h.delay(r))
}

func (h *Humanoid) record(ev Event) {
	ev.Time = time.Now()
	h.events.Append(ev)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("humanoid: %s: %w", op, err)
}
