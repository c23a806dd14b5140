// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
)

// Config holds the entire application configuration. Each component receives
// only its own section and is validated once, here, at construction.
type Config struct {
	Logger         LoggerConfig         `mapstructure:"logger" yaml:"logger" json:"logger"`
	Browser        BrowserConfig        `mapstructure:"browser" yaml:"browser" json:"browser"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker" json:"circuit_breaker"`
	Retry          RetryConfig          `mapstructure:"retry" yaml:"retry" json:"retry"`
	Rotation       RotationConfig       `mapstructure:"rotation" yaml:"rotation" json:"rotation"`
	Delay          DelayConfig          `mapstructure:"delay" yaml:"delay" json:"delay"`
	Behavior       BehaviorConfig       `mapstructure:"behavior" yaml:"behavior" json:"behavior"`
	Fingerprint    FingerprintConfig    `mapstructure:"fingerprint" yaml:"fingerprint" json:"fingerprint"`
	Stealth        StealthConfig        `mapstructure:"stealth" yaml:"stealth" json:"stealth"`
	Session        SessionConfig        `mapstructure:"session" yaml:"session" json:"session"`
	Cache          CacheConfig          `mapstructure:"cache" yaml:"cache" json:"cache"`
	Crawler        CrawlerConfig        `mapstructure:"crawler" yaml:"crawler" json:"crawler"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level" json:"level"`
	Format      string      `mapstructure:"format" yaml:"format" json:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source" json:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file" json:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size" json:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age" json:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress" json:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors" json:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug" json:"debug"`
	Info   string `mapstructure:"info" yaml:"info" json:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn" json:"warn"`
	Error  string `mapstructure:"error" yaml:"error" json:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic" json:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic" json:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal" json:"fatal"`
}

// BrowserConfig holds settings for the automated browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless" json:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path" json:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args" json:"args"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors" json:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout" json:"navigation_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout" json:"element_timeout"`
	AjaxTimeout       time.Duration `mapstructure:"ajax_timeout" yaml:"ajax_timeout" json:"ajax_timeout"`
}

// StealthConfig toggles each category of automation-marker masking.
type StealthConfig struct {
	Webdriver         bool `mapstructure:"webdriver" yaml:"webdriver" json:"webdriver"`
	AutomationGlobals bool `mapstructure:"automation_globals" yaml:"automation_globals" json:"automation_globals"`
	Devtools          bool `mapstructure:"devtools" yaml:"devtools" json:"devtools"`
	Console           bool `mapstructure:"console" yaml:"console" json:"console"`
	Performance       bool `mapstructure:"performance" yaml:"performance" json:"performance"`
	Plugins           bool `mapstructure:"plugins" yaml:"plugins" json:"plugins"`
	ChromeRuntime     bool `mapstructure:"chrome_runtime" yaml:"chrome_runtime" json:"chrome_runtime"`
	Permissions       bool `mapstructure:"permissions" yaml:"permissions" json:"permissions"`
}

// SessionConfig configures the encrypted artifact store.
type SessionConfig struct {
	Path       string        `mapstructure:"path" yaml:"path" json:"path"`
	Passphrase string        `mapstructure:"passphrase" yaml:"-" json:"-"`
	DefaultTTL time.Duration `mapstructure:"default_ttl" yaml:"default_ttl" json:"default_ttl"`
}

// CacheConfig configures the on-disk content cache.
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Dir        string `mapstructure:"dir" yaml:"dir" json:"dir"`
	ExpireDays int    `mapstructure:"expire_days" yaml:"expire_days" json:"expire_days"`
	MaxSize    int64  `mapstructure:"max_size" yaml:"max_size" json:"max_size"`
	// Compress selects the payload codec: none, gzip, zstd or brotli.
	Compress string `mapstructure:"compress" yaml:"compress" json:"compress"`
}

// CrawlerConfig tunes the orchestrator.
type CrawlerConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	// EgressIP is the key used for the ip rate-limit scope.
	EgressIP string `mapstructure:"egress_ip" yaml:"egress_ip" json:"egress_ip"`
	// CaptchaSelector marks a page as challenged when present.
	CaptchaSelector string `mapstructure:"captcha_selector" yaml:"captcha_selector" json:"captcha_selector"`
	// CaptchaImageSelector locates the challenge image handed to the solver.
	CaptchaImageSelector string `mapstructure:"captcha_image_selector" yaml:"captcha_image_selector" json:"captcha_image_selector"`
	// CaptchaResponseSelector is the input that receives the solved token.
	CaptchaResponseSelector string `mapstructure:"captcha_response_selector" yaml:"captcha_response_selector" json:"captcha_response_selector"`
	AbortOnPartialStealth   bool   `mapstructure:"abort_on_partial_stealth" yaml:"abort_on_partial_stealth" json:"abort_on_partial_stealth"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "ghostwire")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.element_timeout", "15s")
	v.SetDefault("browser.ajax_timeout", "20s")

	setTrafficDefaults(v)
	setBehaviorDefaults(v)
	setFingerprintDefaults(v)

	// -- Stealth --
	v.SetDefault("stealth.webdriver", true)
	v.SetDefault("stealth.automation_globals", true)
	v.SetDefault("stealth.devtools", true)
	v.SetDefault("stealth.console", true)
	v.SetDefault("stealth.performance", true)
	v.SetDefault("stealth.plugins", true)
	v.SetDefault("stealth.chrome_runtime", true)
	v.SetDefault("stealth.permissions", true)

	// -- Session --
	v.SetDefault("session.path", "~/.ghostwire/sessions.enc")
	v.SetDefault("session.default_ttl", "24h")

	// -- Cache --
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", "~/.ghostwire/cache")
	v.SetDefault("cache.expire_days", 7)
	v.SetDefault("cache.max_size", 256<<20)
	v.SetDefault("cache.compress", "none")

	// -- Crawler --
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.egress_ip", "default")
	v.SetDefault("crawler.abort_on_partial_stealth", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The passphrase never lives in the config file.
	_ = v.BindEnv("session.passphrase", "GHOSTWIRE_SESSION_PASSPHRASE")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "config.unmarshal", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every filesystem path setting.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Session.Path, &c.Cache.Dir, &c.Fingerprint.HistoryDir, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return apperr.New(apperr.KindConfiguration, "config.expand_path", err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Rotation.Validate(); err != nil {
		return err
	}
	if err := c.Delay.Validate(); err != nil {
		return err
	}
	if err := c.Behavior.Validate(); err != nil {
		return err
	}
	if err := c.Fingerprint.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if c.Crawler.Concurrency <= 0 {
		return invalid("crawler.concurrency must be a positive integer")
	}
	for name, d := range map[string]time.Duration{
		"browser.navigation_timeout": c.Browser.NavigationTimeout,
		"browser.element_timeout":    c.Browser.ElementTimeout,
		"browser.ajax_timeout":       c.Browser.AjaxTimeout,
	} {
		if d <= 0 {
			return invalid("%s must be a positive duration", name)
		}
	}
	return nil
}

// Validate checks the cache configuration.
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Dir == "" {
		return invalid("cache.dir is required when the cache is enabled")
	}
	if c.MaxSize <= 0 {
		return invalid("cache.max_size must be positive")
	}
	if c.ExpireDays <= 0 {
		return invalid("cache.expire_days must be positive")
	}
	switch strings.ToLower(c.Compress) {
	case "", "none", "gzip", "zstd", "brotli":
	default:
		return invalid("cache.compress %q is not one of none, gzip, zstd, brotli", c.Compress)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return apperr.Newf(apperr.KindConfiguration, "config.validate", format, args...)
}
