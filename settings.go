// settings.go: Settings records and their identity
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

// RecordType identifies a settings record type. It is the record's primary key
// in the registry and, through KeyFor, its persistence key, so it should be
// fully qualified (e.g. "tweaks.KeyLimiterSettings").
type RecordType string

// String implements fmt.Stringer
func (t RecordType) String() string { return string(t) }

// Settings is implemented by every settings record. Records are always handled
// through a pointer so that runtime edits are visible to every consumer slot
// holding the same record.
type Settings interface {
	// Enabled reports whether the owning tweak is switched on
	Enabled() bool

	// SetEnabled switches the owning tweak on or off
	SetEnabled(enabled bool)
}

// Toggle carries the enabled flag present on every tweak record.
// Embed it with a `yaml:",inline"` tag so both codecs flatten the field:
//
//	type KeyLimiterSettings struct {
//		tweaksync.Toggle `yaml:",inline"`
//		ActiveKeys []int `json:"active_keys" yaml:"active_keys"`
//	}
type Toggle struct {
	IsEnabled bool `json:"is_enabled" yaml:"is_enabled"`
}

// Enabled implements Settings
func (t *Toggle) Enabled() bool { return t.IsEnabled }

// SetEnabled implements Settings
func (t *Toggle) SetEnabled(enabled bool) { t.IsEnabled = enabled }

// KeyFor derives the persistence key for a record type. The mapping is
// deterministic and stable across restarts.
func KeyFor(t RecordType) string {
	return string(t)
}
