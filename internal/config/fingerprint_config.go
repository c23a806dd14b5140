// File: internal/config/fingerprint_config.go
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Fingerprint generation policies.
const (
	PolicyRandom     = "random"
	PolicyConsistent = "consistent"
	PolicyCustom     = "custom"
)

// PlatformConfig describes the operating system being impersonated.
type PlatformConfig struct {
	OS      string `mapstructure:"os" yaml:"os" json:"os"`
	Arch    string `mapstructure:"arch" yaml:"arch" json:"arch"`
	Version string `mapstructure:"version" yaml:"version" json:"version"`
}

// WebGLConfig describes the GPU surface exposed through WebGL.
type WebGLConfig struct {
	Vendor                 string   `mapstructure:"vendor" yaml:"vendor" json:"vendor"`
	Renderer               string   `mapstructure:"renderer" yaml:"renderer" json:"renderer"`
	Version                string   `mapstructure:"version" yaml:"version" json:"version"`
	ShadingLanguageVersion string   `mapstructure:"shading_language_version" yaml:"shading_language_version" json:"shading_language_version"`
	Extensions             []string `mapstructure:"extensions" yaml:"extensions" json:"extensions"`
}

// ScreenConfig is a screen size candidate.
type ScreenConfig struct {
	Width  int `mapstructure:"width" yaml:"width" json:"width"`
	Height int `mapstructure:"height" yaml:"height" json:"height"`
}

// ProfileConfig is a fully specified profile as it appears in configuration.
// Zero values mean "unset".
type ProfileConfig struct {
	Platform       PlatformConfig `mapstructure:"platform" yaml:"platform" json:"platform"`
	WebGL          WebGLConfig    `mapstructure:"webgl" yaml:"webgl" json:"webgl"`
	SampleRate     int            `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate"`
	ChannelCount   int            `mapstructure:"channel_count" yaml:"channel_count" json:"channel_count"`
	BufferSize     int            `mapstructure:"buffer_size" yaml:"buffer_size" json:"buffer_size"`
	CanvasNoise    float64        `mapstructure:"canvas_noise" yaml:"canvas_noise" json:"canvas_noise"`
	CompositeMode  string         `mapstructure:"composite_mode" yaml:"composite_mode" json:"composite_mode"`
	FontFamilies   []string       `mapstructure:"font_families" yaml:"font_families" json:"font_families"`
	FontSizes      []int          `mapstructure:"font_sizes" yaml:"font_sizes" json:"font_sizes"`
	CPUCores       int            `mapstructure:"cpu_cores" yaml:"cpu_cores" json:"cpu_cores"`
	MemoryGB       int            `mapstructure:"memory_gb" yaml:"memory_gb" json:"memory_gb"`
	GPUEnabled     *bool          `mapstructure:"gpu_enabled" yaml:"gpu_enabled" json:"gpu_enabled"`
	ScreenWidth    int            `mapstructure:"screen_width" yaml:"screen_width" json:"screen_width"`
	ScreenHeight   int            `mapstructure:"screen_height" yaml:"screen_height" json:"screen_height"`
	ColorDepth     int            `mapstructure:"color_depth" yaml:"color_depth" json:"color_depth"`
	PixelRatio     float64        `mapstructure:"pixel_ratio" yaml:"pixel_ratio" json:"pixel_ratio"`
	TouchEnabled   *bool          `mapstructure:"touch_enabled" yaml:"touch_enabled" json:"touch_enabled"`
	MaxTouchPoints int            `mapstructure:"max_touch_points" yaml:"max_touch_points" json:"max_touch_points"`
	UserAgent      string         `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`
	Languages      []string       `mapstructure:"languages" yaml:"languages" json:"languages"`
	Timezone       string         `mapstructure:"timezone" yaml:"timezone" json:"timezone"`
}

// CandidateConfig lists the values random mode draws from.
type CandidateConfig struct {
	Platforms      []PlatformConfig `mapstructure:"platforms" yaml:"platforms" json:"platforms"`
	WebGL          []WebGLConfig    `mapstructure:"webgl" yaml:"webgl" json:"webgl"`
	SampleRates    []int            `mapstructure:"sample_rates" yaml:"sample_rates" json:"sample_rates"`
	ChannelCounts  []int            `mapstructure:"channel_counts" yaml:"channel_counts" json:"channel_counts"`
	BufferSizes    []int            `mapstructure:"buffer_sizes" yaml:"buffer_sizes" json:"buffer_sizes"`
	CanvasNoise    RangeConfig      `mapstructure:"canvas_noise" yaml:"canvas_noise" json:"canvas_noise"`
	CompositeModes []string         `mapstructure:"composite_modes" yaml:"composite_modes" json:"composite_modes"`
	FontSets       [][]string       `mapstructure:"font_sets" yaml:"font_sets" json:"font_sets"`
	FontSizes      [][]int          `mapstructure:"font_sizes" yaml:"font_sizes" json:"font_sizes"`
	CPUCores       []int            `mapstructure:"cpu_cores" yaml:"cpu_cores" json:"cpu_cores"`
	MemoryGB       []int            `mapstructure:"memory_gb" yaml:"memory_gb" json:"memory_gb"`
	GPUEnabled     []bool           `mapstructure:"gpu_enabled" yaml:"gpu_enabled" json:"gpu_enabled"`
	Screens        []ScreenConfig   `mapstructure:"screens" yaml:"screens" json:"screens"`
	ColorDepths    []int            `mapstructure:"color_depths" yaml:"color_depths" json:"color_depths"`
	PixelRatios    []float64        `mapstructure:"pixel_ratios" yaml:"pixel_ratios" json:"pixel_ratios"`
	TouchPoints    []int            `mapstructure:"touch_points" yaml:"touch_points" json:"touch_points"`
	UserAgents     []string         `mapstructure:"user_agents" yaml:"user_agents" json:"user_agents"`
	Languages      [][]string       `mapstructure:"languages" yaml:"languages" json:"languages"`
	Timezones      []string         `mapstructure:"timezones" yaml:"timezones" json:"timezones"`
}

// FingerprintConfig configures the fingerprint engine.
type FingerprintConfig struct {
	Policy     string          `mapstructure:"policy" yaml:"policy" json:"policy"`
	TTL        time.Duration   `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	HistoryDir string          `mapstructure:"history_dir" yaml:"history_dir" json:"history_dir"`
	Seed       int64           `mapstructure:"seed" yaml:"seed" json:"seed"`
	Tolerance  float64         `mapstructure:"tolerance" yaml:"tolerance" json:"tolerance"`
	Consistent ProfileConfig   `mapstructure:"consistent" yaml:"consistent" json:"consistent"`
	Custom     ProfileConfig   `mapstructure:"custom" yaml:"custom" json:"custom"`
	Candidates CandidateConfig `mapstructure:"candidates" yaml:"candidates" json:"candidates"`
}

func setFingerprintDefaults(v *viper.Viper) {
	v.SetDefault("fingerprint.policy", PolicyRandom)
	v.SetDefault("fingerprint.ttl", "0s")
	v.SetDefault("fingerprint.tolerance", 0.1)
	v.SetDefault("fingerprint.candidates.canvas_noise.min", 0.01)
	v.SetDefault("fingerprint.candidates.canvas_noise.max", 0.1)
}

// Validate checks the fingerprint policy.
func (f *FingerprintConfig) Validate() error {
	switch f.Policy {
	case PolicyRandom, PolicyConsistent, PolicyCustom:
	default:
		return invalid("fingerprint.policy %q is not one of random, consistent, custom", f.Policy)
	}
	if f.TTL < 0 {
		return invalid("fingerprint.ttl must not be negative")
	}
	if f.Tolerance < 0 {
		return invalid("fingerprint.tolerance must not be negative")
	}
	if f.Candidates.CanvasNoise.Min > f.Candidates.CanvasNoise.Max {
		return invalid("fingerprint.candidates.canvas_noise: min exceeds max")
	}
	return nil
}

// WithDefaults returns a copy of the candidate lists where every empty list is
// filled from DefaultCandidates.
func (c CandidateConfig) WithDefaults() CandidateConfig {
	d := DefaultCandidates()
	if len(c.Platforms) == 0 {
		c.Platforms = d.Platforms
	}
	if len(c.WebGL) == 0 {
		c.WebGL = d.WebGL
	}
	if len(c.SampleRates) == 0 {
		c.SampleRates = d.SampleRates
	}
	if len(c.ChannelCounts) == 0 {
		c.ChannelCounts = d.ChannelCounts
	}
	if len(c.BufferSizes) == 0 {
		c.BufferSizes = d.BufferSizes
	}
	if c.CanvasNoise.Max == 0 {
		c.CanvasNoise = d.CanvasNoise
	}
	if len(c.CompositeModes) == 0 {
		c.CompositeModes = d.CompositeModes
	}
	if len(c.FontSets) == 0 {
		c.FontSets = d.FontSets
	}
	if len(c.FontSizes) == 0 {
		c.FontSizes = d.FontSizes
	}
	if len(c.CPUCores) == 0 {
		c.CPUCores = d.CPUCores
	}
	if len(c.MemoryGB) == 0 {
		c.MemoryGB = d.MemoryGB
	}
	if len(c.GPUEnabled) == 0 {
		c.GPUEnabled = d.GPUEnabled
	}
	if len(c.Screens) == 0 {
		c.Screens = d.Screens
	}
	if len(c.ColorDepths) == 0 {
		c.ColorDepths = d.ColorDepths
	}
	if len(c.PixelRatios) == 0 {
		c.PixelRatios = d.PixelRatios
	}
	if len(c.TouchPoints) == 0 {
		c.TouchPoints = d.TouchPoints
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = d.UserAgents
	}
	if len(c.Languages) == 0 {
		c.Languages = d.Languages
	}
	if len(c.Timezones) == 0 {
		c.Timezones = d.Timezones
	}
	return c
}

// DefaultCandidates is a small pool of common desktop configurations.
func DefaultCandidates() CandidateConfig {
	return CandidateConfig{
		Platforms: []PlatformConfig{
			{OS: "Windows", Arch: "x86_64", Version: "10.0"},
			{OS: "macOS", Arch: "arm64", Version: "14.5"},
			{OS: "Linux", Arch: "x86_64", Version: "6.5"},
		},
		WebGL: []WebGLConfig{
			{
				Vendor:                 "Google Inc. (NVIDIA)",
				Renderer:               "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)",
				Version:                "WebGL 1.0 (OpenGL ES 2.0 Chromium)",
				ShadingLanguageVersion: "WebGL GLSL ES 1.0 (OpenGL ES GLSL ES 1.0 Chromium)",
				Extensions:             []string{"ANGLE_instanced_arrays", "EXT_blend_minmax", "OES_texture_float", "WEBGL_debug_renderer_info"},
			},
			{
				Vendor:                 "Google Inc. (Intel)",
				Renderer:               "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)",
				Version:                "WebGL 1.0 (OpenGL ES 2.0 Chromium)",
				ShadingLanguageVersion: "WebGL GLSL ES 1.0 (OpenGL ES GLSL ES 1.0 Chromium)",
				Extensions:             []string{"ANGLE_instanced_arrays", "EXT_color_buffer_half_float", "OES_standard_derivatives", "WEBGL_debug_renderer_info"},
			},
			{
				Vendor:                 "Google Inc. (Apple)",
				Renderer:               "ANGLE (Apple, ANGLE Metal Renderer: Apple M2, Unspecified Version)",
				Version:                "WebGL 1.0 (OpenGL ES 2.0 Chromium)",
				ShadingLanguageVersion: "WebGL GLSL ES 1.0 (OpenGL ES GLSL ES 1.0 Chromium)",
				Extensions:             []string{"EXT_texture_filter_anisotropic", "OES_element_index_uint", "WEBGL_debug_renderer_info"},
			},
		},
		SampleRates:    []int{44100, 48000},
		ChannelCounts:  []int{2},
		BufferSizes:    []int{256, 512, 1024, 2048},
		CanvasNoise:    RangeConfig{Min: 0.01, Max: 0.1},
		CompositeModes: []string{"source-over", "multiply", "screen"},
		FontSets: [][]string{
			{"Arial", "Calibri", "Cambria", "Consolas", "Segoe UI", "Times New Roman"},
			{"Helvetica Neue", "Menlo", "SF Pro Text", "Avenir", "Georgia"},
			{"DejaVu Sans", "Liberation Serif", "Noto Sans", "Ubuntu"},
		},
		FontSizes:   [][]int{{12, 14, 16}, {13, 15, 18}},
		CPUCores:    []int{4, 8, 12, 16},
		MemoryGB:    []int{4, 8, 16},
		Screens:     []ScreenConfig{{1920, 1080}, {1366, 768}, {1536, 864}, {1440, 900}, {2560, 1440}},
		ColorDepths: []int{24, 30},
		PixelRatios: []float64{1, 1.25, 2},
		TouchPoints: []int{0},
		GPUEnabled:  []bool{true},
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		},
		Languages: [][]string{{"en-US", "en"}, {"en-GB", "en"}},
		Timezones: []string{"America/New_York", "America/Los_Angeles", "Europe/London"},
	}
}
