// config_test.go: Configuration defaults tests
//
// Copyright (c) 2025 AGILira
// Series: AGILira System Libraries
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_WithDefaults(t *testing.T) {
	original := &Config{}
	config := original.WithDefaults()

	if config.StoreBackend != BackendFile {
		t.Errorf("Expected file backend, got %s", config.StoreBackend)
	}
	if config.StoreDir != DefaultStoreDir() {
		t.Errorf("Expected default store dir, got %s", config.StoreDir)
	}
	if config.StoreFormat != FormatJSON {
		t.Errorf("Expected json format, got %s", config.StoreFormat)
	}
	if config.SQLitePath != filepath.Join(config.StoreDir, "settings.db") {
		t.Errorf("Expected SQLite path in store dir, got %s", config.SQLitePath)
	}
	if config.PollInterval != 2*time.Second {
		t.Errorf("Expected PollInterval 2s, got %v", config.PollInterval)
	}
	if config.CacheTTL != time.Second {
		t.Errorf("Expected CacheTTL 1s, got %v", config.CacheTTL)
	}
	if config.SyncInterval != 100*time.Millisecond {
		t.Errorf("Expected SyncInterval 100ms, got %v", config.SyncInterval)
	}
	if config.ErrorHandler == nil {
		t.Error("Expected a default error handler")
	}
	if config.Audit.Enabled {
		t.Error("Audit must stay disabled by default")
	}

	// The receiver is left alone
	if original.StoreBackend != "" || original.PollInterval != 0 || original.ErrorHandler != nil {
		t.Errorf("WithDefaults mutated its receiver: %+v", original)
	}
}

func TestConfig_WithDefaultsKeepsExplicitValues(t *testing.T) {
	called := false
	config := (&Config{
		StoreBackend: BackendSQLite,
		StoreDir:     "/srv/settings",
		StoreFormat:  FormatYAML,
		SQLitePath:   "/srv/db/tweaks.db",
		PollInterval: 10 * time.Second,
		CacheTTL:     3 * time.Second,
		SyncInterval: time.Second,
		ErrorHandler: func(error, string) { called = true },
	}).WithDefaults()

	if config.StoreBackend != BackendSQLite || config.StoreDir != "/srv/settings" || config.StoreFormat != FormatYAML {
		t.Errorf("Explicit store settings overridden: %+v", config)
	}
	if config.SQLitePath != "/srv/db/tweaks.db" {
		t.Errorf("Explicit SQLite path overridden: %s", config.SQLitePath)
	}
	if config.PollInterval != 10*time.Second || config.CacheTTL != 3*time.Second || config.SyncInterval != time.Second {
		t.Errorf("Explicit timings overridden: %+v", config)
	}
	config.ErrorHandler(errors.New("x"), "")
	if !called {
		t.Error("Explicit error handler was replaced")
	}
}

func TestConfig_CacheTTLGuardRail(t *testing.T) {
	config := (&Config{PollInterval: time.Second, CacheTTL: 5 * time.Second}).WithDefaults()
	if config.CacheTTL != 500*time.Millisecond {
		t.Errorf("Expected CacheTTL clamped to 500ms, got %v", config.CacheTTL)
	}
}

func TestStderrErrorHandler(t *testing.T) {
	// Only checks that both forms are safe to call
	stderrErrorHandler(errors.New("boom"), "")
	stderrErrorHandler(errors.New("boom"), "test.AlphaSettings")
}
