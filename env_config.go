// env_config.go: Environment variable overlay for tweaksync configuration
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// Environment variables read by LoadConfigFromEnv
const (
	EnvStoreBackend       = "TWEAKSYNC_STORE_BACKEND"
	EnvStoreDir           = "TWEAKSYNC_STORE_DIR"
	EnvStoreFormat        = "TWEAKSYNC_STORE_FORMAT"
	EnvSQLitePath         = "TWEAKSYNC_SQLITE_PATH"
	EnvWatchStore         = "TWEAKSYNC_WATCH_STORE"
	EnvPollInterval       = "TWEAKSYNC_POLL_INTERVAL"
	EnvCacheTTL           = "TWEAKSYNC_CACHE_TTL"
	EnvSyncInterval       = "TWEAKSYNC_SYNC_INTERVAL"
	EnvLegacyFile         = "TWEAKSYNC_LEGACY_FILE"
	EnvAuditEnabled       = "TWEAKSYNC_AUDIT_ENABLED"
	EnvAuditOutputFile    = "TWEAKSYNC_AUDIT_OUTPUT_FILE"
	EnvAuditMinLevel      = "TWEAKSYNC_AUDIT_MIN_LEVEL"
	EnvAuditBufferSize    = "TWEAKSYNC_AUDIT_BUFFER_SIZE"
	EnvAuditFlushInterval = "TWEAKSYNC_AUDIT_FLUSH_INTERVAL"
)

// LoadConfigFromEnv builds a configuration from TWEAKSYNC_* variables, with
// defaults for everything left unset
func LoadConfigFromEnv() (*Config, error) {
	config := &Config{}
	if err := ApplyEnv(config); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to load environment configuration")
	}
	return config.WithDefaults(), nil
}

// ApplyEnv overrides config with every TWEAKSYNC_* variable that is set.
// A malformed value fails the whole call and leaves config partially updated.
func ApplyEnv(config *Config) error {
	if err := loadStoreEnv(config); err != nil {
		return err
	}
	if err := loadTimingEnv(config); err != nil {
		return err
	}
	return loadAuditEnv(config)
}

func loadStoreEnv(config *Config) error {
	if backend := os.Getenv(EnvStoreBackend); backend != "" {
		switch StoreBackend(strings.ToLower(backend)) {
		case BackendFile, BackendSQLite, BackendMemory:
			config.StoreBackend = StoreBackend(strings.ToLower(backend))
		default:
			return errors.New(ErrCodeInvalidConfig, "invalid "+EnvStoreBackend+" value")
		}
	}
	if format := os.Getenv(EnvStoreFormat); format != "" {
		codec, err := CodecFor(StoreFormat(format))
		if err != nil {
			return errors.New(ErrCodeInvalidConfig, "invalid "+EnvStoreFormat+" value")
		}
		config.StoreFormat = codec.Format()
	}
	if dir := os.Getenv(EnvStoreDir); dir != "" {
		config.StoreDir = dir
	}
	if path := os.Getenv(EnvSQLitePath); path != "" {
		config.SQLitePath = path
	}
	if watch := os.Getenv(EnvWatchStore); watch != "" {
		config.WatchStore = parseBool(watch)
	}
	if legacy := os.Getenv(EnvLegacyFile); legacy != "" {
		config.LegacyFile = legacy
	}
	return nil
}

func loadTimingEnv(config *Config) error {
	for _, d := range []struct {
		name   string
		target *time.Duration
	}{
		{EnvPollInterval, &config.PollInterval},
		{EnvCacheTTL, &config.CacheTTL},
		{EnvSyncInterval, &config.SyncInterval},
	} {
		value := os.Getenv(d.name)
		if value == "" {
			continue
		}
		duration, err := time.ParseDuration(value)
		if err != nil || duration < 0 {
			return errors.New(ErrCodeInvalidConfig, "invalid "+d.name+" format")
		}
		*d.target = duration
	}
	return nil
}

func loadAuditEnv(config *Config) error {
	if enabled := os.Getenv(EnvAuditEnabled); enabled != "" {
		config.Audit.Enabled = parseBool(enabled)
	}
	if output := os.Getenv(EnvAuditOutputFile); output != "" {
		config.Audit.OutputFile = output
	}
	if levelStr := os.Getenv(EnvAuditMinLevel); levelStr != "" {
		level, err := ParseAuditLevel(strings.ToUpper(levelStr))
		if err != nil {
			return errors.New(ErrCodeInvalidConfig, "invalid "+EnvAuditMinLevel+" value")
		}
		config.Audit.MinLevel = level
	}
	if bufferStr := os.Getenv(EnvAuditBufferSize); bufferStr != "" {
		buffer, err := strconv.Atoi(bufferStr)
		if err != nil || buffer <= 0 {
			return errors.New(ErrCodeInvalidConfig, "invalid "+EnvAuditBufferSize+" value")
		}
		config.Audit.BufferSize = buffer
	}
	if flushStr := os.Getenv(EnvAuditFlushInterval); flushStr != "" {
		duration, err := time.ParseDuration(flushStr)
		if err != nil || duration < 0 {
			return errors.New(ErrCodeInvalidConfig, "invalid "+EnvAuditFlushInterval+" format")
		}
		config.Audit.FlushInterval = duration
	}
	return nil
}

// parseBool accepts true/false, 1/0, yes/no, on/off, enabled/disabled
func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on", "enabled":
		return true
	default:
		return false
	}
}
