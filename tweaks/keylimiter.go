// keylimiter.go: Key limiter tweak, restricts which keys count as hits
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaks

import (
	"github.com/agilira/tweaksync"
)

const (
	KeyLimiterSettingsType tweaksync.RecordType   = "tweaks.KeyLimiterSettings"
	KeyLimiterType         tweaksync.ConsumerType = "tweaks.KeyLimiter"
)

// Key codes that always count as hits, whatever the active keys are
const (
	KeyMouse0 = 323
	KeyMouse1 = 324
)

// AlwaysBoundKeys are counted in addition to the active keys
var AlwaysBoundKeys = []int{KeyMouse0, KeyMouse1}

// KeyLimiterSettings is the persisted key limiter configuration
type KeyLimiterSettings struct {
	tweaksync.Toggle `yaml:",inline"`

	// ActiveKeys are the key codes that count as hits
	ActiveKeys []int `json:"active_keys" yaml:"active_keys"`

	// IsListening is set while the user rebinds keys. Runtime only.
	IsListening bool `json:"-" yaml:"-"`
}

// NewKeyLimiterSettings returns the defaults: disabled, no active keys
func NewKeyLimiterSettings() tweaksync.Settings {
	return &KeyLimiterSettings{ActiveKeys: []int{}}
}

// KeyLimiter decides how many of the keys pressed this frame count as hits
type KeyLimiter struct {
	// Settings is written on every sync pass
	Settings *KeyLimiterSettings
}

// ConsumerType implements tweaksync.Consumer
func (k *KeyLimiter) ConsumerType() tweaksync.ConsumerType { return KeyLimiterType }

// CountValidKeys returns the number of hits for this frame. handled is false
// when the tweak is off (or not yet synced) and the host should count keys its
// own way. While the user is rebinding keys no key counts. With multipress up
// to three simultaneous hits count, otherwise one.
func (k *KeyLimiter) CountValidKeys(pressed func(key int) bool, multipress bool) (count int, handled bool) {
	settings := k.Settings
	if settings == nil || !settings.Enabled() {
		return 0, false
	}
	if settings.IsListening {
		return 0, true
	}

	for _, key := range settings.ActiveKeys {
		if pressed(key) {
			count++
		}
	}
	for _, key := range AlwaysBoundKeys {
		if pressed(key) {
			count++
		}
	}

	limit := 1
	if multipress {
		limit = 3
	}
	return min(count, limit), true
}

func declareKeyLimiter(c *tweaksync.Catalog) error {
	if err := c.DeclareRecord(KeyLimiterSettingsType, NewKeyLimiterSettings); err != nil {
		return err
	}
	return c.DeclareConsumer(KeyLimiterType,
		tweaksync.InstanceSlot("Settings", KeyLimiterSettingsType,
			func(k *KeyLimiter, s *KeyLimiterSettings) { k.Settings = s }),
	)
}

func keyLimiterLegacyRules() []tweaksync.LegacyRule {
	return []tweaksync.LegacyRule{
		{
			Key:    "adofai_tweaks.key_limiter.enabled",
			Target: KeyLimiterSettingsType,
			Apply: tweaksync.LegacyField(tweaksync.ParseLegacyBool,
				func(s *KeyLimiterSettings, v bool) { s.IsEnabled = v }),
		},
		{
			Key:    "adofai_tweaks.key_limiter.active_keys",
			Target: KeyLimiterSettingsType,
			Apply: tweaksync.LegacyField(tweaksync.ParseLegacyIntList,
				func(s *KeyLimiterSettings, v []int) { s.ActiveKeys = v }),
		},
	}
}
