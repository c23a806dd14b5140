// internal/browser/fingerprint/profile.go
package fingerprint

import (
	"slices"
	"strings"
	"time"

	"github.com/xkilldash9x/ghostwire/internal/browser"
)

// Platform is the operating system being impersonated.
type Platform struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Version string `json:"version"`
}

// WebGL is what WebGL getParameter and getSupportedExtensions report.
type WebGL struct {
	Vendor                 string   `json:"vendor"`
	Renderer               string   `json:"renderer"`
	Version                string   `json:"version"`
	ShadingLanguageVersion string   `json:"shadingLanguageVersion"`
	Extensions             []string `json:"extensions"`
}

// Audio describes the AudioContext surface.
type Audio struct {
	SampleRate   int `json:"sampleRate"`
	ChannelCount int `json:"channelCount"`
	BufferSize   int `json:"bufferSize"`
}

// Canvas controls the noise added to canvas read-backs. NoiseAmplitude is a
// fraction of the full channel range.
type Canvas struct {
	NoiseAmplitude float64 `json:"noiseAmplitude"`
	CompositeMode  string  `json:"compositeMode"`
}

// Fonts lists the families reported as installed.
type Fonts struct {
	Families []string `json:"families"`
	Sizes    []int    `json:"sizes"`
}

// Hardware is what navigator reports about the device.
type Hardware struct {
	CPUCores   int  `json:"cpuCores"`
	MemoryGB   int  `json:"memoryGB"`
	GPUEnabled bool `json:"gpuEnabled"`
}

// Screen is the screen and pixel ratio surface.
type Screen struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	ColorDepth int     `json:"colorDepth"`
	PixelRatio float64 `json:"pixelRatio"`
}

// Touch is the touch input surface.
type Touch struct {
	Enabled   bool `json:"enabled"`
	MaxPoints int  `json:"maxPoints"`
}

// Profile is a complete synthetic browser fingerprint. A profile is never
// modified after it is generated; the engine hands out clones.
type Profile struct {
	ID        string    `json:"id"`
	Policy    string    `json:"policy"`
	Platform  Platform  `json:"platform"`
	WebGL     WebGL     `json:"webgl"`
	Audio     Audio     `json:"audio"`
	Canvas    Canvas    `json:"canvas"`
	Fonts     Fonts     `json:"fonts"`
	Hardware  Hardware  `json:"hardware"`
	Screen    Screen    `json:"screen"`
	Touch     Touch     `json:"touch"`
	UserAgent string    `json:"userAgent"`
	Languages []string  `json:"languages"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	p.WebGL.Extensions = slices.Clone(p.WebGL.Extensions)
	p.Fonts.Families = slices.Clone(p.Fonts.Families)
	p.Fonts.Sizes = slices.Clone(p.Fonts.Sizes)
	p.Languages = slices.Clone(p.Languages)
	return p
}

// NavigatorPlatform maps the platform to the value of navigator.platform.
func (p Profile) NavigatorPlatform() string {
	switch strings.ToLower(p.Platform.OS) {
	case "windows":
		return "Win32"
	case "macos", "mac", "darwin":
		return "MacIntel"
	case "linux":
		if p.Platform.Arch == "" {
			return "Linux x86_64"
		}
		return "Linux " + p.Platform.Arch
	}
	return p.Platform.OS
}

// Emulation returns the protocol-level overrides matching p.
func (p Profile) Emulation() browser.Emulation {
	return browser.Emulation{
		UserAgent:      p.UserAgent,
		Platform:       p.NavigatorPlatform(),
		Languages:      slices.Clone(p.Languages),
		Timezone:       p.Timezone,
		Width:          p.Screen.Width,
		Height:         p.Screen.Height,
		PixelRatio:     p.Screen.PixelRatio,
		Touch:          p.Touch.Enabled,
		MaxTouchPoints: p.Touch.MaxPoints,
	}
}

// Surface is what a page observes. The probe script returns one and Expected
// derives the one a profile should produce.
type Surface struct {
	Platform  string        `json:"platform"`
	UserAgent string        `json:"userAgent"`
	Languages []string      `json:"languages"`
	Timezone  string        `json:"timezone"`
	Hardware  Hardware      `json:"hardware"`
	Screen    Screen        `json:"screen"`
	WebGL     WebGL         `json:"webgl"`
	Audio     Audio         `json:"audio"`
	Canvas    CanvasSurface `json:"canvas"`
	Fonts     []string      `json:"fonts"`
	Touch     Touch         `json:"touch"`
}

// CanvasSurface is the measured canvas noise, as a fraction of the channel
// range. The composite mode is not observable from a probe.
type CanvasSurface struct {
	Noise float64 `json:"noise"`
}

// Expected returns the surface a page should observe once p is injected.
func (p Profile) Expected() Surface {
	s := Surface{
		Platform:  p.NavigatorPlatform(),
		UserAgent: p.UserAgent,
		Languages: slices.Clone(p.Languages),
		Timezone:  p.Timezone,
		Hardware:  p.Hardware,
		Screen:    p.Screen,
		Audio:     p.Audio,
		Canvas:    CanvasSurface{Noise: p.Canvas.NoiseAmplitude},
		Fonts:     slices.Clone(p.Fonts.Families),
		Touch:     p.Touch,
	}
	if p.Hardware.GPUEnabled {
		s.WebGL = p.Clone().WebGL
	}
	if !p.Touch.Enabled {
		s.Touch.MaxPoints = 0
	}
	return s
}
