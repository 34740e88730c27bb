// Package tweaks declares the built-in tweaks: their settings records, their
// consumers and the slots that bind the two.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package tweaks

import (
	"github.com/agilira/tweaksync"
)

// Declare adds every built-in tweak to c
func Declare(c *tweaksync.Catalog) error {
	for _, declare := range []func(*tweaksync.Catalog) error{
		declareKeyLimiter,
		declarePlanetColor,
		declarePlanetOpacity,
	} {
		if err := declare(c); err != nil {
			return err
		}
	}
	return nil
}

// NewCatalog returns a catalog holding every built-in tweak
func NewCatalog() (*tweaksync.Catalog, error) {
	c := tweaksync.NewCatalog()
	if err := Declare(c); err != nil {
		return nil, err
	}
	return c, nil
}

// LegacyRules maps the keys written by older releases onto the current records
func LegacyRules() []tweaksync.LegacyRule {
	return append(keyLimiterLegacyRules(), planetOpacityLegacyRules()...)
}

// NewLegacyImporter imports LegacyRules from store
func NewLegacyImporter(store tweaksync.LegacyStore) *tweaksync.RuleImporter {
	return &tweaksync.RuleImporter{Store: store, Rules: LegacyRules()}
}
