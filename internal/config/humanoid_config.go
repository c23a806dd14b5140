// File: internal/config/humanoid_config.go
// This file defines the delay ranges and behavior switches for the humanoid
// interaction simulator. Every range is in seconds and loaded through Viper, so
// the simulated operator's pace can be tuned without touching code.
package config

import "github.com/spf13/viper"

// RangeConfig is a {min,max} pair in seconds.
type RangeConfig struct {
	Min float64 `mapstructure:"min" yaml:"min" json:"min"`
	Max float64 `mapstructure:"max" yaml:"max" json:"max"`
}

// DelayConfig holds every named delay range used by the simulator and governor.
type DelayConfig struct {
	MouseMove      RangeConfig `mapstructure:"mouse_move" yaml:"mouse_move" json:"mouse_move"`
	Click          RangeConfig `mapstructure:"click" yaml:"click" json:"click"`
	Typing         RangeConfig `mapstructure:"typing" yaml:"typing" json:"typing"`
	Scroll         RangeConfig `mapstructure:"scroll" yaml:"scroll" json:"scroll"`
	PageLoad       RangeConfig `mapstructure:"page_load" yaml:"page_load" json:"page_load"`
	BetweenActions RangeConfig `mapstructure:"between_actions" yaml:"between_actions" json:"between_actions"`
	BeforeClick    RangeConfig `mapstructure:"before_click" yaml:"before_click" json:"before_click"`
}

// BehaviorConfig holds the simulator switches.
type BehaviorConfig struct {
	Enabled         bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RandomDelays    bool    `mapstructure:"random_delays" yaml:"random_delays" json:"random_delays"`
	UseCurve        bool    `mapstructure:"use_curve" yaml:"use_curve" json:"use_curve"`
	CurveSteps      int     `mapstructure:"curve_steps" yaml:"curve_steps" json:"curve_steps"`
	TypoProbability float64 `mapstructure:"typo_probability" yaml:"typo_probability" json:"typo_probability"`
	EventBufferSize int     `mapstructure:"event_buffer_size" yaml:"event_buffer_size" json:"event_buffer_size"`
	// Seed fixes the simulator RNG when non-zero.
	Seed int64 `mapstructure:"seed" yaml:"seed" json:"seed"`
}

func setBehaviorDefaults(v *viper.Viper) {
	v.SetDefault("delay.mouse_move.min", 0.005)
	v.SetDefault("delay.mouse_move.max", 0.02)
	v.SetDefault("delay.click.min", 0.05)
	v.SetDefault("delay.click.max", 0.15)
	v.SetDefault("delay.typing.min", 0.05)
	v.SetDefault("delay.typing.max", 0.2)
	v.SetDefault("delay.scroll.min", 0.05)
	v.SetDefault("delay.scroll.max", 0.15)
	v.SetDefault("delay.page_load.min", 2.0)
	v.SetDefault("delay.page_load.max", 5.0)
	v.SetDefault("delay.between_actions.min", 1.0)
	v.SetDefault("delay.between_actions.max", 3.0)
	v.SetDefault("delay.before_click.min", 0.1)
	v.SetDefault("delay.before_click.max", 0.4)

	v.SetDefault("behavior.enabled", true)
	v.SetDefault("behavior.random_delays", true)
	v.SetDefault("behavior.use_curve", true)
	v.SetDefault("behavior.curve_steps", 20)
	v.SetDefault("behavior.typo_probability", 0.05)
	v.SetDefault("behavior.event_buffer_size", 100)
}

// Validate enforces min <= max on every named range.
func (d *DelayConfig) Validate() error {
	for name, r := range d.Named() {
		if r.Min < 0 {
			return invalid("delay.%s.min must not be negative", name)
		}
		if r.Min > r.Max {
			return invalid("delay.%s: min (%.3f) exceeds max (%.3f)", name, r.Min, r.Max)
		}
	}
	return nil
}

// Named returns the ranges keyed by their configuration name.
func (d *DelayConfig) Named() map[string]RangeConfig {
	return map[string]RangeConfig{
		"mouse_move":      d.MouseMove,
		"click":           d.Click,
		"typing":          d.Typing,
		"scroll":          d.Scroll,
		"page_load":       d.PageLoad,
		"between_actions": d.BetweenActions,
		"before_click":    d.BeforeClick,
	}
}

// Validate checks the simulator switches.
func (b *BehaviorConfig) Validate() error {
	if b.CurveSteps < 2 {
		return invalid("behavior.curve_steps must be at least 2")
	}
	if b.TypoProbability < 0 || b.TypoProbability > 1 {
		return invalid("behavior.typo_probability must be within [0,1]")
	}
	if b.EventBufferSize <= 0 {
		return invalid("behavior.event_buffer_size must be positive")
	}
	return nil
}
