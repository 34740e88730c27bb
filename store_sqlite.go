// store_sqlite.go: SQLite-backed settings store
//
// All records share one table keyed by record key. Each row remembers the
// format it was written in, so a database written as YAML stays readable
// after the configured format changes to JSON.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"database/sql"
	"sync"
	"time"

	"github.com/agilira/go-errors"
)

var settingsMigrations = []migration{
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			format TEXT NOT NULL,
			payload BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`)
		return err
	},
}

// SQLiteStore keeps every record in a single SQLite database
type SQLiteStore struct {
	db     *sql.DB
	path   string
	codec  Codec
	mu     sync.RWMutex
	closed bool
}

// OpenSQLiteStore opens (creating if needed) the database at path
func OpenSQLiteStore(path string, codec Codec) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New(ErrCodeInvalidConfig, "SQLite path cannot be empty")
	}
	if codec == nil {
		codec = JSONCodec{}
	}

	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(db, settingsMigrations); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to initialize settings schema").
			WithContext("path", path)
	}
	return &SQLiteStore{db: db, path: path, codec: codec}, nil
}

// Path returns the database file
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Load(key string, into Settings) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(ErrCodeStoreClosed, "SQLite store is closed")
	}

	var format string
	var payload []byte
	err := s.db.QueryRow("SELECT format, payload FROM settings WHERE key = ?", key).Scan(&format, &payload)
	if err == sql.ErrNoRows {
		return errors.New(ErrCodeRecordNotFound, "no record stored").WithContext("key", key)
	}
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to query record").WithContext("key", key)
	}

	codec, err := CodecFor(StoreFormat(format))
	if err != nil {
		return errors.Wrap(err, ErrCodeDecodeFailed, "record stored in unknown format").
			WithContext("key", key)
	}
	if err := codec.Decode(payload, into); err != nil {
		return errors.Wrap(err, ErrCodeDecodeFailed, "failed to decode record").WithContext("key", key)
	}
	return nil
}

func (s *SQLiteStore) Save(key string, value Settings) error {
	data, err := s.codec.Encode(value)
	if err != nil {
		return errors.Wrap(err, ErrCodeWriteFailed, "failed to encode record").WithContext("key", key)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(ErrCodeStoreClosed, "SQLite store is closed")
	}

	_, err = s.db.Exec(`
	INSERT INTO settings (key, format, payload, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		format = excluded.format,
		payload = excluded.payload,
		updated_at = excluded.updated_at`,
		key, string(s.codec.Format()), data, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, ErrCodeWriteFailed, "failed to write record").WithContext("key", key)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(ErrCodeStoreClosed, "SQLite store is closed")
	}
	if _, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return errors.Wrap(err, ErrCodeWriteFailed, "failed to delete record").WithContext("key", key)
	}
	return nil
}

// Keys implements KeyLister
func (s *SQLiteStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New(ErrCodeStoreClosed, "SQLite store is closed")
	}

	rows, err := s.db.Query("SELECT key FROM settings ORDER BY key")
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to list records")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, ErrCodeIOError, "failed to scan record key")
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// SchemaVersion returns the settings schema version
func (s *SQLiteStore) SchemaVersion() int {
	return schemaVersion(s.db)
}

// Close closes the database. Safe to call twice.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
