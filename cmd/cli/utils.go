// Utility functions for the tweaksync CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/tweaksync"
	"github.com/agilira/tweaksync/tweaks"
)

// storeConfig layers the store flags of ctx over TWEAKSYNC_* variables
func (m *Manager) storeConfig(ctx *orpheus.Context) (*tweaksync.Config, error) {
	config := &tweaksync.Config{}
	if err := tweaksync.ApplyEnv(config); err != nil {
		return nil, err
	}

	if backend := ctx.GetFlagString("backend"); backend != "" {
		config.StoreBackend = tweaksync.StoreBackend(strings.ToLower(backend))
	}
	if dir := ctx.GetFlagString("store-dir"); dir != "" {
		config.StoreDir = dir
	}
	if format := ctx.GetFlagString("format"); format != "" {
		codec, err := tweaksync.CodecFor(tweaksync.StoreFormat(format))
		if err != nil {
			return nil, err
		}
		config.StoreFormat = codec.Format()
	}
	if path := ctx.GetFlagString("sqlite-path"); path != "" {
		config.SQLitePath = path
	}

	config.ErrorHandler = func(err error, key string) {
		fmt.Fprintf(m.errOut, "warning: %s: %v\n", key, err)
	}
	return config.WithDefaults(), nil
}

// openSynchronizer builds a loaded synchronizer over the configured store.
// The caller must Close it.
func (m *Manager) openSynchronizer(ctx *orpheus.Context) (*tweaksync.Synchronizer, error) {
	synchronizer, err := m.newSynchronizer(ctx, nil)
	if err != nil {
		return nil, err
	}
	synchronizer.Load()
	return synchronizer, nil
}

// newSynchronizer is openSynchronizer without the initial Load
func (m *Manager) newSynchronizer(ctx *orpheus.Context, legacy tweaksync.LegacyImporter) (*tweaksync.Synchronizer, error) {
	config, err := m.storeConfig(ctx)
	if err != nil {
		return nil, err
	}
	config.Legacy = legacy

	catalog, err := tweaks.NewCatalog()
	if err != nil {
		return nil, err
	}
	store, err := tweaksync.OpenStore(*config)
	if err != nil {
		return nil, errors.Wrap(err, tweaksync.ErrCodeIOError, "failed to open settings store")
	}

	synchronizer, err := tweaksync.New(catalog, store, *config)
	if err != nil {
		if closer, ok := store.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, err
	}
	return synchronizer, nil
}

// resolveRecordType accepts a full record type ("tweaks.KeyLimiterSettings")
// or a case-insensitive short name ("KeyLimiterSettings", "keylimiter")
func resolveRecordType(catalog *tweaksync.Catalog, name string) (tweaksync.RecordType, error) {
	if name == "" {
		return "", errors.New(tweaksync.ErrCodeUnknownRecordType, "record type is required")
	}
	if catalog.HasRecord(tweaksync.RecordType(name)) {
		return tweaksync.RecordType(name), nil
	}

	want := strings.ToLower(name)
	for _, t := range catalog.RecordTypes() {
		short := strings.ToLower(string(t))
		if i := strings.LastIndex(short, "."); i >= 0 {
			short = short[i+1:]
		}
		if want == short || want == strings.TrimSuffix(short, "settings") {
			return t, nil
		}
	}
	return "", errors.New(tweaksync.ErrCodeUnknownRecordType, fmt.Sprintf("unknown record type '%s'", name))
}

// formatValue prints scalars bare and everything else as compact JSON
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool, float64, int:
		return fmt.Sprintf("%v", v)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
