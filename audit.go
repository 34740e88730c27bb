// audit.go: Persistent audit trail for settings and consumer lifecycle events
//
// Every load, save, registration and failed slot write can be recorded as an
// AuditEvent. Events are buffered, stamped with the cached clock and a
// per-process session ID, checksummed, and flushed in batches to a SQLite
// database or a JSONL file.
//
// The audit trail is opt-in: the zero AuditConfig disables it and every Log
// call becomes a no-op.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// AuditLevel represents the severity of audit events
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditCritical
)

func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseAuditLevel converts a level name as printed by String, or its
// all-lowercase form
func ParseAuditLevel(s string) (AuditLevel, error) {
	switch s {
	case "INFO", "info":
		return AuditInfo, nil
	case "WARN", "warn":
		return AuditWarn, nil
	case "CRITICAL", "critical":
		return AuditCritical, nil
	}
	return AuditInfo, errors.New(ErrCodeInvalidAuditConfig, "unknown audit level").
		WithContext("level", s)
}

// AuditEvent is a single auditable event
type AuditEvent struct {
	Timestamp    time.Time              `json:"timestamp"`
	Level        AuditLevel             `json:"level"`
	Event        string                 `json:"event"`
	Component    string                 `json:"component"`
	SessionID    string                 `json:"session_id"`
	RecordType   string                 `json:"record_type,omitempty"`
	ConsumerType string                 `json:"consumer_type,omitempty"`
	ProcessID    int                    `json:"process_id"`
	ProcessName  string                 `json:"process_name"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Checksum     string                 `json:"checksum"`
}

// AuditConfig configures the audit trail.
//
// OutputFile selects the backend: a path ending in ".jsonl" writes JSON lines,
// anything else (including empty) writes to a SQLite database, at OutputFile
// when it ends in ".db" and at DefaultAuditPath() otherwise.
type AuditConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	OutputFile    string        `json:"output_file" yaml:"output_file"`
	MinLevel      AuditLevel    `json:"min_level" yaml:"min_level"`
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultAuditConfig returns an enabled audit configuration writing to the
// default SQLite database
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       true,
		MinLevel:      AuditInfo,
		BufferSize:    256,
		FlushInterval: 5 * time.Second,
	}
}

// DefaultAuditPath is where the SQLite audit database lives when OutputFile
// does not name one
func DefaultAuditPath() string {
	return filepath.Join(os.TempDir(), "tweaksync", "audit.db")
}

// AuditLogger buffers audit events and flushes them to its backend, either
// when the buffer is full, on every FlushInterval tick, or on Close.
// A nil or disabled logger accepts and drops every event.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
	sessionID   string
	processID   int
	processName string
}

// NewAuditLogger creates an audit logger. A disabled config yields a logger
// with no backend and no background goroutine.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	logger := &AuditLogger{
		config:      config,
		stopCh:      make(chan struct{}),
		sessionID:   uuid.NewString(),
		processID:   os.Getpid(),
		processName: processName(),
	}
	if !config.Enabled {
		return logger, nil
	}

	if logger.config.BufferSize <= 0 {
		logger.config.BufferSize = DefaultAuditConfig().BufferSize
	}
	if logger.config.FlushInterval < 0 {
		return nil, errors.New(ErrCodeInvalidAuditConfig, "flush interval cannot be negative")
	}

	backend, err := createAuditBackend(logger.config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditBackendFailed, "failed to initialize audit backend")
	}
	logger.backend = backend
	logger.buffer = make([]AuditEvent, 0, logger.config.BufferSize)

	if logger.config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(logger.config.FlushInterval)
		go logger.flushLoop()
	}

	return logger, nil
}

// Enabled reports whether events are being recorded
func (al *AuditLogger) Enabled() bool {
	return al != nil && al.backend != nil && al.config.Enabled
}

// SessionID identifies this process run in every event it writes
func (al *AuditLogger) SessionID() string {
	if al == nil {
		return ""
	}
	return al.sessionID
}

// Log records an audit event
func (al *AuditLogger) Log(level AuditLevel, event string, recordType RecordType, consumerType ConsumerType, context map[string]interface{}) {
	if !al.Enabled() || level < al.config.MinLevel {
		return
	}

	auditEvent := AuditEvent{
		Timestamp:    timecache.CachedTime(),
		Level:        level,
		Event:        event,
		Component:    "tweaksync",
		SessionID:    al.sessionID,
		RecordType:   string(recordType),
		ConsumerType: string(consumerType),
		ProcessID:    al.processID,
		ProcessName:  al.processName,
		Context:      context,
	}
	auditEvent.Checksum = checksumEvent(auditEvent)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, auditEvent)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe() // retried on the next flush
	}
	al.bufferMu.Unlock()
}

// LogSettings records an event about a settings record
func (al *AuditLogger) LogSettings(level AuditLevel, event string, t RecordType, context map[string]interface{}) {
	al.Log(level, event, t, "", context)
}

// LogConsumer records an event about a consumer registration
func (al *AuditLogger) LogConsumer(level AuditLevel, event string, t ConsumerType, context map[string]interface{}) {
	al.Log(level, event, "", t, context)
}

// Flush immediately writes all buffered events
func (al *AuditLogger) Flush() error {
	if !al.Enabled() {
		return nil
	}
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Stats returns backend statistics. It flushes first so the numbers include
// buffered events.
func (al *AuditLogger) Stats() (*AuditStats, error) {
	if !al.Enabled() {
		return nil, errors.New(ErrCodeInvalidAuditConfig, "audit trail is disabled")
	}
	if err := al.Flush(); err != nil {
		return nil, err
	}
	return al.backend.Stats()
}

// Close flushes pending events and releases the backend. Safe to call twice.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}

	var closeErr error
	al.closeOnce.Do(func() {
		close(al.stopCh)
		if al.flushTicker != nil {
			al.flushTicker.Stop()
		}
		if al.backend == nil {
			return
		}
		if err := al.Flush(); err != nil {
			closeErr = errors.Wrap(err, ErrCodeAuditBackendFailed, "failed to flush audit trail during close")
			_ = al.backend.Close()
			return
		}
		if err := al.backend.Close(); err != nil {
			closeErr = errors.Wrap(err, ErrCodeAuditBackendFailed, "failed to close audit backend")
		}
	})
	return closeErr
}

func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush()
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes the buffer to the backend (caller holds bufferMu).
// The buffer is kept on failure so no event is lost to a transient error.
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 {
		return nil
	}
	if err := al.backend.Write(al.buffer); err != nil {
		return errors.Wrap(err, ErrCodeAuditBackendFailed, "failed to write audit events")
	}
	al.buffer = al.buffer[:0]
	return nil
}

// checksumEvent creates a tamper-detection checksum using SHA-256
func checksumEvent(event AuditEvent) string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s:%s:%v",
		event.Timestamp.Format(time.RFC3339Nano), event.SessionID,
		event.Event, event.RecordType, event.ConsumerType, event.Level, event.Context)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// VerifyChecksum reports whether an event still matches its checksum
func VerifyChecksum(event AuditEvent) bool {
	return event.Checksum != "" && checksumEvent(event) == event.Checksum
}

func processName() string {
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "tweaksync"
}
