// config.go: Configuration for the settings synchronizer and its store
//
// Copyright (c) 2025 AGILira
// Series: AGILira System Libraries
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrorHandler receives every recoverable problem: records that failed to load
// or save, slot writes that failed during a sync pass, legacy keys that could
// not be imported. key is the persistence key or legacy key involved.
type ErrorHandler func(err error, key string)

// Config configures a Synchronizer and, through OpenStore, its Store
type Config struct {
	// StoreBackend selects the Store built by OpenStore
	// Default: file
	StoreBackend StoreBackend

	// StoreDir is the FileStore directory
	// Default: <user config dir>/tweaksync
	StoreDir string

	// StoreFormat is the record encoding for file and SQLite stores
	// Default: json
	StoreFormat StoreFormat

	// SQLitePath is the SQLiteStore database
	// Default: <StoreDir>/settings.db
	SQLitePath string

	// WatchStore reloads records edited on disk while the host runs.
	// Only FileStore supports watching.
	WatchStore bool

	// PollInterval is how often the watcher checks record files
	// Default: 2 seconds
	PollInterval time.Duration

	// CacheTTL is how long the watcher caches os.Stat results
	// Default: PollInterval / 2, never more than PollInterval
	CacheTTL time.Duration

	// SyncInterval is the cadence at which a host drives Sync
	// Default: 100 milliseconds
	SyncInterval time.Duration

	// Audit configures the audit trail. The zero value disables it.
	Audit AuditConfig

	// ErrorHandler receives recoverable errors
	// If nil, errors are written to stderr
	ErrorHandler ErrorHandler

	// Legacy, when set, runs once at the end of every Load
	Legacy LegacyImporter

	// LegacyFile is a properties file of legacy keys for hosts that build a
	// PropertiesLegacyStore from configuration
	LegacyFile string
}

// DefaultStoreDir returns the directory used when StoreDir is empty
func DefaultStoreDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "tweaksync")
	}
	return filepath.Join(os.TempDir(), "tweaksync")
}

// WithDefaults returns a copy of the configuration with defaults applied
func (c *Config) WithDefaults() *Config {
	config := *c

	if config.StoreBackend == "" {
		config.StoreBackend = BackendFile
	}
	if config.StoreDir == "" {
		config.StoreDir = DefaultStoreDir()
	}
	if config.StoreFormat == "" {
		config.StoreFormat = FormatJSON
	}
	if config.SQLitePath == "" {
		config.SQLitePath = filepath.Join(config.StoreDir, "settings.db")
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = config.PollInterval / 2
	}
	// GUARD RAIL: a cache outliving the poll interval hides changes
	if config.CacheTTL > config.PollInterval {
		config.CacheTTL = config.PollInterval / 2
	}

	if config.SyncInterval <= 0 {
		config.SyncInterval = 100 * time.Millisecond
	}

	if config.ErrorHandler == nil {
		config.ErrorHandler = stderrErrorHandler
	}

	return &config
}

func stderrErrorHandler(err error, key string) {
	if key == "" {
		fmt.Fprintf(os.Stderr, "[tweaksync] %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "[tweaksync] %s: %v\n", key, err)
}
