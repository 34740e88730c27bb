// audit_backend.go: SQLite and JSONL storage for the audit trail
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// auditBackend persists batches of audit events
type auditBackend interface {
	Write(events []AuditEvent) error
	Stats() (*AuditStats, error)
	Close() error
}

// AuditStats summarizes the contents of an audit backend
type AuditStats struct {
	Backend       string           `json:"backend"`
	Path          string           `json:"path"`
	TotalEvents   int64            `json:"total_events"`
	EventsByLevel map[string]int64 `json:"events_by_level"`
	EventsByName  map[string]int64 `json:"events_by_name"`
	Sessions      int64            `json:"sessions"`
	OldestEvent   *time.Time       `json:"oldest_event,omitempty"`
	NewestEvent   *time.Time       `json:"newest_event,omitempty"`
	SizeBytes     int64            `json:"size_bytes"`
	SchemaVersion int              `json:"schema_version"`
}

func newAuditStats(backend, path string) *AuditStats {
	stats := &AuditStats{
		Backend:       backend,
		Path:          path,
		EventsByLevel: make(map[string]int64),
		EventsByName:  make(map[string]int64),
	}
	if info, err := os.Stat(path); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats
}

// createAuditBackend picks the backend from the OutputFile extension
func createAuditBackend(config AuditConfig) (auditBackend, error) {
	if filepath.Ext(config.OutputFile) == ".jsonl" {
		return newJSONLBackend(config.OutputFile)
	}

	path := config.OutputFile
	if filepath.Ext(path) != ".db" {
		path = DefaultAuditPath()
	}
	return newSQLiteAuditBackend(path)
}

// openSQLite opens a SQLite database in WAL mode, creating its directory.
// Shared by the audit backend and SQLiteStore.
func openSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to create database directory").
			WithContext("path", path)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=1000", path))
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open database").WithContext("path", path)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to ping database").WithContext("path", path)
	}
	return db, nil
}

// migration upgrades a schema by one version inside a transaction
type migration func(tx *sql.Tx) error

// ensureSchema brings a database to len(migrations) using a schema_info table.
// All pending migrations run in one transaction.
func ensureSchema(db *sql.DB, migrations []migration) error {
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER PRIMARY KEY,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("failed to create schema_info table: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		if err := migrations[v](tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration to v%d failed: %w", v+1, err)
		}
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO schema_info (version, updated_at) VALUES (?, CURRENT_TIMESTAMP)",
		len(migrations)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

func schemaVersion(db *sql.DB) int {
	var version int
	_ = db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&version)
	return version
}

var auditMigrations = []migration{
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			level TEXT NOT NULL,
			event TEXT NOT NULL,
			component TEXT NOT NULL,
			session_id TEXT NOT NULL,
			record_type TEXT,
			consumer_type TEXT,
			process_id INTEGER NOT NULL,
			process_name TEXT NOT NULL,
			context TEXT,
			checksum TEXT
		);`)
		return err
	},
	func(tx *sql.Tx) error {
		for _, stmt := range []string{
			"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)",
			"CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id)",
			"CREATE INDEX IF NOT EXISTS idx_audit_record ON audit_events(record_type, timestamp)",
		} {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	},
}

type sqliteAuditBackend struct {
	db     *sql.DB
	path   string
	mu     sync.RWMutex
	closed bool
}

func newSQLiteAuditBackend(path string) (*sqliteAuditBackend, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(db, auditMigrations); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeAuditBackendFailed, "failed to initialize audit schema").
			WithContext("path", path)
	}
	return &sqliteAuditBackend{db: db, path: path}, nil
}

// Write inserts a batch in a single transaction
func (s *sqliteAuditBackend) Write(events []AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("cannot write to closed SQLite audit backend")
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	stmt, err := tx.Prepare(`
	INSERT INTO audit_events (
		timestamp, level, event, component, session_id,
		record_type, consumer_type, process_id, process_name, context, checksum
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		contextJSON := ""
		if event.Context != nil {
			data, err := json.Marshal(event.Context)
			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("failed to serialize audit context: %w", err)
			}
			contextJSON = string(data)
		}
		if _, err := stmt.Exec(
			event.Timestamp.Format(time.RFC3339Nano),
			event.Level.String(),
			event.Event,
			event.Component,
			event.SessionID,
			event.RecordType,
			event.ConsumerType,
			event.ProcessID,
			event.ProcessName,
			contextJSON,
			event.Checksum,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}

	return tx.Commit()
}

func (s *sqliteAuditBackend) Stats() (*AuditStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("SQLite audit backend is closed")
	}

	stats := newAuditStats("sqlite", s.path)
	if err := s.db.QueryRow("SELECT COUNT(*), COUNT(DISTINCT session_id) FROM audit_events").
		Scan(&stats.TotalEvents, &stats.Sessions); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	if err := s.countBy("level", stats.EventsByLevel); err != nil {
		return nil, err
	}
	if err := s.countBy("event", stats.EventsByName); err != nil {
		return nil, err
	}

	var oldest, newest sql.NullString
	if err := s.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM audit_events").
		Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("failed to get audit time range: %w", err)
	}
	stats.OldestEvent = parseTimestamp(oldest)
	stats.NewestEvent = parseTimestamp(newest)
	stats.SchemaVersion = schemaVersion(s.db)
	return stats, nil
}

// countBy fills into with row counts grouped by a fixed column name
func (s *sqliteAuditBackend) countBy(column string, into map[string]int64) error {
	// #nosec G201 -- column is one of two constants
	rows, err := s.db.Query(fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_events GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("failed to group audit events by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan audit %s stats: %w", column, err)
		}
		into[key] = count
	}
	return rows.Err()
}

func parseTimestamp(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func (s *sqliteAuditBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	// Fold the WAL back into the main file before closing
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

type jsonlAuditBackend struct {
	file   *os.File
	path   string
	mu     sync.Mutex
	closed bool
}

func newJSONLBackend(path string) (*jsonlAuditBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to create audit log directory").
			WithContext("path", path)
	}
	// #nosec G304 -- path comes from configuration
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open audit log").
			WithContext("path", path)
	}
	return &jsonlAuditBackend{file: file, path: path}, nil
}

// Write appends one JSON object per line and syncs the file
func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("cannot write to closed JSONL audit backend")
	}

	w := bufio.NewWriter(j.file)
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to serialize audit event: %w", err)
		}
		_, _ = w.Write(data)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write audit events: %w", err)
	}
	return j.file.Sync()
}

// Stats scans the whole file; audit logs of a single host stay small
func (j *jsonlAuditBackend) Stats() (*AuditStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := newAuditStats("jsonl", j.path)
	stats.SchemaVersion = 1

	events, err := ReadAuditLog(j.path)
	if err != nil {
		return nil, err
	}
	sessions := make(map[string]struct{})
	for i := range events {
		event := &events[i]
		stats.TotalEvents++
		stats.EventsByLevel[event.Level.String()]++
		stats.EventsByName[event.Event]++
		sessions[event.SessionID] = struct{}{}
		if stats.OldestEvent == nil || event.Timestamp.Before(*stats.OldestEvent) {
			stats.OldestEvent = &event.Timestamp
		}
		if stats.NewestEvent == nil || event.Timestamp.After(*stats.NewestEvent) {
			stats.NewestEvent = &event.Timestamp
		}
	}
	stats.Sessions = int64(len(sessions))
	return stats, nil
}

func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

// ReadAuditLog decodes every event of a JSONL audit log. Malformed lines are
// skipped.
func ReadAuditLog(path string) ([]AuditEvent, error) {
	// #nosec G304 -- path comes from configuration
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open audit log").
			WithContext("path", path)
	}
	defer file.Close()

	var events []AuditEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read audit log").
			WithContext("path", path)
	}
	return events, nil
}
