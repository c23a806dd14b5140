// internal/browser/fingerprint/generate.go
package fingerprint

import (
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

// generator builds profiles from configuration. It is not safe for
// concurrent use; the engine serialises access.
type generator struct {
	cfg        config.FingerprintConfig
	candidates config.CandidateConfig
	rng        *rand.Rand
}

func newGenerator(cfg config.FingerprintConfig, rng *rand.Rand) *generator {
	return &generator{cfg: cfg, candidates: cfg.Candidates.WithDefaults(), rng: rng}
}

func (g *generator) generate(policy string, now time.Time) (Profile, error) {
	var p Profile
	switch policy {
	case config.PolicyRandom:
		p = g.random()
	case config.PolicyConsistent:
		p = g.consistent()
	case config.PolicyCustom:
		p = overlay(g.consistent(), g.cfg.Custom)
	default:
		return Profile{}, apperr.Newf(apperr.KindConfiguration, "fingerprint.generate", "unknown policy %q", policy)
	}
	if err := validate(p); err != nil {
		return Profile{}, err
	}
	p.ID = uuid.NewString()
	p.Policy = policy
	p.CreatedAt = now
	return p, nil
}

func pick[T any](rng *rand.Rand, xs []T) T {
	return xs[rng.Intn(len(xs))]
}

// uaToken is the User-Agent fragment that identifies each OS.
func uaToken(os string) string {
	switch strings.ToLower(os) {
	case "windows":
		return "Windows"
	case "macos", "mac", "darwin":
		return "Macintosh"
	case "linux":
		return "Linux"
	}
	return ""
}

// random draws every field independently and uniformly. The User-Agent is
// drawn from the candidates matching the chosen OS when there are any, so the
// header never contradicts navigator.platform.
func (g *generator) random() Profile {
	c := g.candidates
	platform := pick(g.rng, c.Platforms)

	agents := c.UserAgents
	if token := uaToken(platform.OS); token != "" {
		var matching []string
		for _, ua := range agents {
			if strings.Contains(ua, token) {
				matching = append(matching, ua)
			}
		}
		if len(matching) > 0 {
			agents = matching
		}
	}

	screen := pick(g.rng, c.Screens)
	points := pick(g.rng, c.TouchPoints)
	noise := c.CanvasNoise.Min + g.rng.Float64()*(c.CanvasNoise.Max-c.CanvasNoise.Min)

	return Profile{
		Platform: Platform(platform),
		WebGL:    webglFrom(pick(g.rng, c.WebGL)),
		Audio: Audio{
			SampleRate:   pick(g.rng, c.SampleRates),
			ChannelCount: pick(g.rng, c.ChannelCounts),
			BufferSize:   pick(g.rng, c.BufferSizes),
		},
		Canvas: Canvas{NoiseAmplitude: noise, CompositeMode: pick(g.rng, c.CompositeModes)},
		Fonts: Fonts{
			Families: slices.Clone(pick(g.rng, c.FontSets)),
			Sizes:    slices.Clone(pick(g.rng, c.FontSizes)),
		},
		Hardware: Hardware{
			CPUCores:   pick(g.rng, c.CPUCores),
			MemoryGB:   pick(g.rng, c.MemoryGB),
			GPUEnabled: pick(g.rng, c.GPUEnabled),
		},
		Screen: Screen{
			Width:      screen.Width,
			Height:     screen.Height,
			ColorDepth: pick(g.rng, c.ColorDepths),
			PixelRatio: pick(g.rng, c.PixelRatios),
		},
		Touch:     Touch{Enabled: points > 0, MaxPoints: points},
		UserAgent: pick(g.rng, agents),
		Languages: slices.Clone(pick(g.rng, c.Languages)),
		Timezone:  pick(g.rng, c.Timezones),
	}
}

// consistent copies the configured fixed values. Fields left unset take the
// first candidate so the profile is always complete and repeatable.
func (g *generator) consistent() Profile {
	c := g.candidates
	screen := c.Screens[0]
	points := c.TouchPoints[0]
	base := Profile{
		Platform: Platform(c.Platforms[0]),
		WebGL:    webglFrom(c.WebGL[0]),
		Audio: Audio{
			SampleRate:   c.SampleRates[0],
			ChannelCount: c.ChannelCounts[0],
			BufferSize:   c.BufferSizes[0],
		},
		Canvas: Canvas{NoiseAmplitude: c.CanvasNoise.Min, CompositeMode: c.CompositeModes[0]},
		Fonts: Fonts{
			Families: slices.Clone(c.FontSets[0]),
			Sizes:    slices.Clone(c.FontSizes[0]),
		},
		Hardware: Hardware{CPUCores: c.CPUCores[0], MemoryGB: c.MemoryGB[0], GPUEnabled: c.GPUEnabled[0]},
		Screen: Screen{
			Width:      screen.Width,
			Height:     screen.Height,
			ColorDepth: c.ColorDepths[0],
			PixelRatio: c.PixelRatios[0],
		},
		Touch:     Touch{Enabled: points > 0, MaxPoints: points},
		UserAgent: c.UserAgents[0],
		Languages: slices.Clone(c.Languages[0]),
		Timezone:  c.Timezones[0],
	}
	return overlay(base, g.cfg.Consistent)
}

func webglFrom(w config.WebGLConfig) WebGL {
	return WebGL{
		Vendor:                 w.Vendor,
		Renderer:               w.Renderer,
		Version:                w.Version,
		ShadingLanguageVersion: w.ShadingLanguageVersion,
		Extensions:             slices.Clone(w.Extensions),
	}
}

// overlay returns base with every non-zero field of pc applied.
func overlay(base Profile, pc config.ProfileConfig) Profile {
	p := base.Clone()

	if pc.Platform.OS != "" {
		p.Platform.OS = pc.Platform.OS
	}
	if pc.Platform.Arch != "" {
		p.Platform.Arch = pc.Platform.Arch
	}
	if pc.Platform.Version != "" {
		p.Platform.Version = pc.Platform.Version
	}

	if pc.WebGL.Vendor != "" {
		p.WebGL.Vendor = pc.WebGL.Vendor
	}
	if pc.WebGL.Renderer != "" {
		p.WebGL.Renderer = pc.WebGL.Renderer
	}
	if pc.WebGL.Version != "" {
		p.WebGL.Version = pc.WebGL.Version
	}
	if pc.WebGL.ShadingLanguageVersion != "" {
		p.WebGL.ShadingLanguageVersion = pc.WebGL.ShadingLanguageVersion
	}
	if len(pc.WebGL.Extensions) > 0 {
		p.WebGL.Extensions = slices.Clone(pc.WebGL.Extensions)
	}

	if pc.SampleRate > 0 {
		p.Audio.SampleRate = pc.SampleRate
	}
	if pc.ChannelCount > 0 {
		p.Audio.ChannelCount = pc.ChannelCount
	}
	if pc.BufferSize > 0 {
		p.Audio.BufferSize = pc.BufferSize
	}

	if pc.CanvasNoise > 0 {
		p.Canvas.NoiseAmplitude = pc.CanvasNoise
	}
	if pc.CompositeMode != "" {
		p.Canvas.CompositeMode = pc.CompositeMode
	}

	if len(pc.FontFamilies) > 0 {
		p.Fonts.Families = slices.Clone(pc.FontFamilies)
	}
	if len(pc.FontSizes) > 0 {
		p.Fonts.Sizes = slices.Clone(pc.FontSizes)
	}

	if pc.CPUCores > 0 {
		p.Hardware.CPUCores = pc.CPUCores
	}
	if pc.MemoryGB > 0 {
		p.Hardware.MemoryGB = pc.MemoryGB
	}
	if pc.GPUEnabled != nil {
		p.Hardware.GPUEnabled = *pc.GPUEnabled
	}

	if pc.ScreenWidth > 0 {
		p.Screen.Width = pc.ScreenWidth
	}
	if pc.ScreenHeight > 0 {
		p.Screen.Height = pc.ScreenHeight
	}
	if pc.ColorDepth > 0 {
		p.Screen.ColorDepth = pc.ColorDepth
	}
	if pc.PixelRatio > 0 {
		p.Screen.PixelRatio = pc.PixelRatio
	}

	if pc.MaxTouchPoints > 0 {
		p.Touch.MaxPoints = pc.MaxTouchPoints
		p.Touch.Enabled = true
	}
	if pc.TouchEnabled != nil {
		p.Touch.Enabled = *pc.TouchEnabled
	}

	if pc.UserAgent != "" {
		p.UserAgent = pc.UserAgent
	}
	if len(pc.Languages) > 0 {
		p.Languages = slices.Clone(pc.Languages)
	}
	if pc.Timezone != "" {
		p.Timezone = pc.Timezone
	}
	return p
}

func validate(p Profile) error {
	bad := func(format string, args ...any) error {
		return apperr.Newf(apperr.KindConfiguration, "fingerprint.generate", format, args...)
	}
	switch {
	case p.Screen.Width <= 0 || p.Screen.Height <= 0:
		return bad("screen size %dx%d is not positive", p.Screen.Width, p.Screen.Height)
	case p.Screen.PixelRatio <= 0:
		return bad("pixel ratio %v is not positive", p.Screen.PixelRatio)
	case p.Hardware.CPUCores <= 0:
		return bad("cpu cores %d is not positive", p.Hardware.CPUCores)
	case p.Audio.SampleRate <= 0:
		return bad("sample rate %d is not positive", p.Audio.SampleRate)
	case p.Canvas.NoiseAmplitude < 0 || p.Canvas.NoiseAmplitude > 1:
		return bad("canvas noise %v is outside [0, 1]", p.Canvas.NoiseAmplitude)
	case p.UserAgent == "":
		return bad("user agent is empty")
	case len(p.Languages) == 0:
		return bad("no languages")
	}
	return nil
}
