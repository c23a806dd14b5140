// File: internal/config/traffic_config.go
package config

import (
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// WindowConfig is one sliding window: at most MaxRequests within Window.
type WindowConfig struct {
	Window      time.Duration `mapstructure:"window" yaml:"window" json:"window"`
	MaxRequests int           `mapstructure:"max_requests" yaml:"max_requests" json:"max_requests"`
}

// RateLimitConfig holds one window per admission scope.
type RateLimitConfig struct {
	Global  WindowConfig `mapstructure:"global" yaml:"global" json:"global"`
	Domain  WindowConfig `mapstructure:"domain" yaml:"domain" json:"domain"`
	IP      WindowConfig `mapstructure:"ip" yaml:"ip" json:"ip"`
	Session WindowConfig `mapstructure:"session" yaml:"session" json:"session"`
	// MaxWait bounds how long Wait will block for capacity before giving up.
	MaxWait time.Duration `mapstructure:"max_wait" yaml:"max_wait" json:"max_wait"`
}

// CircuitBreakerConfig configures the per-domain fail-fast guard.
type CircuitBreakerConfig struct {
	Threshold    int           `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout" json:"reset_timeout"`
}

// RetryConfig drives the governor's retry loop: sleep Delay*Backoff^attempt.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	Delay      time.Duration `mapstructure:"delay" yaml:"delay" json:"delay"`
	Backoff    float64       `mapstructure:"backoff" yaml:"backoff" json:"backoff"`
	MaxDelay   time.Duration `mapstructure:"max_delay" yaml:"max_delay" json:"max_delay"`
}

// RotationConfig lists the proxies and User-Agents to rotate through.
type RotationConfig struct {
	Proxies          []string      `mapstructure:"proxies" yaml:"proxies" json:"proxies"`
	UserAgents       []string      `mapstructure:"user_agents" yaml:"user_agents" json:"user_agents"`
	Strategy         string        `mapstructure:"strategy" yaml:"strategy" json:"strategy"`
	ProxyCooldown    time.Duration `mapstructure:"proxy_cooldown" yaml:"proxy_cooldown" json:"proxy_cooldown"`
	RewriteUserAgent bool          `mapstructure:"rewrite_user_agent" yaml:"rewrite_user_agent" json:"rewrite_user_agent"`
	// ListenAddr is where the local rotating proxy listens. Empty disables it.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr" json:"listen_addr"`
}

func setTrafficDefaults(v *viper.Viper) {
	// -- Rate limits --
	v.SetDefault("rate_limit.global.window", "60s")
	v.SetDefault("rate_limit.global.max_requests", 120)
	v.SetDefault("rate_limit.domain.window", "60s")
	v.SetDefault("rate_limit.domain.max_requests", 30)
	v.SetDefault("rate_limit.ip.window", "60s")
	v.SetDefault("rate_limit.ip.max_requests", 60)
	v.SetDefault("rate_limit.session.window", "60s")
	v.SetDefault("rate_limit.session.max_requests", 20)
	v.SetDefault("rate_limit.max_wait", "90s")

	// -- Circuit breaker --
	v.SetDefault("circuit_breaker.threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", "60s")

	// -- Retry --
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.delay", "1s")
	v.SetDefault("retry.backoff", 2.0)
	v.SetDefault("retry.max_delay", "30s")

	// -- Rotation --
	v.SetDefault("rotation.strategy", "round_robin")
	v.SetDefault("rotation.proxy_cooldown", "5m")
	v.SetDefault("rotation.rewrite_user_agent", false)
}

// Validate checks every scope window.
func (r *RateLimitConfig) Validate() error {
	for name, w := range map[string]WindowConfig{
		"global":  r.Global,
		"domain":  r.Domain,
		"ip":      r.IP,
		"session": r.Session,
	} {
		if w.Window <= 0 {
			return invalid("rate_limit.%s.window must be a positive duration", name)
		}
		if w.MaxRequests <= 0 {
			return invalid("rate_limit.%s.max_requests must be a positive integer", name)
		}
	}
	if r.MaxWait < 0 {
		return invalid("rate_limit.max_wait must not be negative")
	}
	return nil
}

// Validate checks the breaker thresholds.
func (c *CircuitBreakerConfig) Validate() error {
	if c.Threshold <= 0 {
		return invalid("circuit_breaker.threshold must be a positive integer")
	}
	if c.ResetTimeout <= 0 {
		return invalid("circuit_breaker.reset_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the retry policy.
func (r *RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return invalid("retry.max_retries must not be negative")
	}
	if r.Delay < 0 {
		return invalid("retry.delay must not be negative")
	}
	if r.Backoff < 1.0 {
		return invalid("retry.backoff must be at least 1.0")
	}
	return nil
}

// Validate checks the rotation pools.
func (r *RotationConfig) Validate() error {
	switch r.Strategy {
	case "", "round_robin", "random":
	default:
		return invalid("rotation.strategy %q is not one of round_robin, random", r.Strategy)
	}
	for _, p := range r.Proxies {
		u, err := url.Parse(p)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("rotation.proxies entry %q is not a valid proxy URL", p)
		}
	}
	return nil
}
