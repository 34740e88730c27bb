// planet.go: Planet color and planet opacity tweaks
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaks

import (
	"sync/atomic"

	"github.com/agilira/tweaksync"
)

const (
	PlanetColorSettingsType   tweaksync.RecordType   = "tweaks.PlanetColorSettings"
	PlanetColorPatchesType    tweaksync.ConsumerType = "tweaks.PlanetColorPatches"
	PlanetOpacitySettingsType tweaksync.RecordType   = "tweaks.PlanetOpacitySettings"
	PlanetOpacityType         tweaksync.ConsumerType = "tweaks.PlanetOpacity"
)

// Color is an RGBA color with channels in [0, 1]
type Color struct {
	R float64 `json:"r" yaml:"r"`
	G float64 `json:"g" yaml:"g"`
	B float64 `json:"b" yaml:"b"`
	A float64 `json:"a" yaml:"a"`
}

var (
	ColorRed  = Color{R: 1, G: 0, B: 0, A: 1}
	ColorBlue = Color{R: 0, G: 0, B: 1, A: 1}
)

// PlanetColorSettings overrides the colors of both planets
type PlanetColorSettings struct {
	tweaksync.Toggle `yaml:",inline"`

	Color1     Color `json:"color1" yaml:"color1"`
	Color2     Color `json:"color2" yaml:"color2"`
	TailColor1 Color `json:"tail_color1" yaml:"tail_color1"`
	TailColor2 Color `json:"tail_color2" yaml:"tail_color2"`
}

// NewPlanetColorSettings returns the defaults: red and blue planets
func NewPlanetColorSettings() tweaksync.Settings {
	return &PlanetColorSettings{
		Color1:     ColorRed,
		Color2:     ColorBlue,
		TailColor1: ColorRed,
		TailColor2: ColorBlue,
	}
}

// planetColorSettings is the static slot of the planet color patches, which
// have no instance and register by type only
var planetColorSettings atomic.Pointer[PlanetColorSettings]

// CurrentPlanetColors returns the record last synced into the planet color
// patches, nil before the first sync
func CurrentPlanetColors() *PlanetColorSettings {
	return planetColorSettings.Load()
}

// PlanetColor returns the body color of the red (first) or blue planet. ok is
// false when the tweak is off and the host's own color applies.
func PlanetColor(isRed bool) (color Color, ok bool) {
	settings := planetColorSettings.Load()
	if settings == nil || !settings.Enabled() {
		return Color{}, false
	}
	if isRed {
		return settings.Color1, true
	}
	return settings.Color2, true
}

// TailColor is PlanetColor for the planet tails
func TailColor(isRed bool) (color Color, ok bool) {
	settings := planetColorSettings.Load()
	if settings == nil || !settings.Enabled() {
		return Color{}, false
	}
	if isRed {
		return settings.TailColor1, true
	}
	return settings.TailColor2, true
}

// PlanetOpacitySettings holds per-planet opacity in percent
type PlanetOpacitySettings struct {
	tweaksync.Toggle `yaml:",inline"`

	SettingsOpacity1 float64 `json:"opacity1" yaml:"opacity1"`
	SettingsOpacity2 float64 `json:"opacity2" yaml:"opacity2"`
}

// NewPlanetOpacitySettings returns the defaults: both planets fully opaque
func NewPlanetOpacitySettings() tweaksync.Settings {
	return &PlanetOpacitySettings{SettingsOpacity1: 100, SettingsOpacity2: 100}
}

// PlanetOpacity applies the configured opacity to planet colors
type PlanetOpacity struct {
	Settings *PlanetOpacitySettings
}

// ConsumerType implements tweaksync.Consumer
func (p *PlanetOpacity) ConsumerType() tweaksync.ConsumerType { return PlanetOpacityType }

// Alpha returns the alpha multiplier in [0, 1] for the red (first) or blue
// planet; 1 when the tweak is off
func (p *PlanetOpacity) Alpha(isRed bool) float64 {
	settings := p.Settings
	if settings == nil || !settings.Enabled() {
		return 1
	}
	percent := settings.SettingsOpacity2
	if isRed {
		percent = settings.SettingsOpacity1
	}
	return max(0, min(percent, 100)) / 100
}

// Apply returns c with its alpha scaled for the given planet
func (p *PlanetOpacity) Apply(c Color, isRed bool) Color {
	c.A *= p.Alpha(isRed)
	return c
}

func declarePlanetColor(c *tweaksync.Catalog) error {
	if err := c.DeclareRecord(PlanetColorSettingsType, NewPlanetColorSettings); err != nil {
		return err
	}
	return c.DeclareConsumer(PlanetColorPatchesType,
		tweaksync.StaticSlot("Settings", PlanetColorSettingsType,
			func(s *PlanetColorSettings) { planetColorSettings.Store(s) }),
	)
}

func declarePlanetOpacity(c *tweaksync.Catalog) error {
	if err := c.DeclareRecord(PlanetOpacitySettingsType, NewPlanetOpacitySettings); err != nil {
		return err
	}
	return c.DeclareConsumer(PlanetOpacityType,
		tweaksync.InstanceSlot("Settings", PlanetOpacitySettingsType,
			func(p *PlanetOpacity, s *PlanetOpacitySettings) { p.Settings = s }),
	)
}

func planetOpacityLegacyRules() []tweaksync.LegacyRule {
	return []tweaksync.LegacyRule{
		{
			Key:    "adofai_tweaks.planet_opacity.enabled",
			Target: PlanetOpacitySettingsType,
			Apply: tweaksync.LegacyField(tweaksync.ParseLegacyBool,
				func(s *PlanetOpacitySettings, v bool) { s.IsEnabled = v }),
		},
		{
			Key:    "adofai_tweaks.planet_opacity.opacity1",
			Target: PlanetOpacitySettingsType,
			Apply: tweaksync.LegacyField(tweaksync.ParseLegacyFloat,
				func(s *PlanetOpacitySettings, v float64) { s.SettingsOpacity1 = v }),
		},
		{
			Key:    "adofai_tweaks.planet_opacity.opacity2",
			Target: PlanetOpacitySettingsType,
			Apply: tweaksync.LegacyField(tweaksync.ParseLegacyFloat,
				func(s *PlanetOpacitySettings, v float64) { s.SettingsOpacity2 = v }),
		},
	}
}
