// store.go: Persistence contract for settings records and the in-memory store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"sort"
	"sync"

	"github.com/agilira/go-errors"
)

// Store persists settings records by key.
//
// Load decodes the record stored under key into a freshly constructed default
// record; fields absent from storage keep their defaults. It fails with
// ErrCodeRecordNotFound when nothing is stored under key and with
// ErrCodeDecodeFailed when the stored data is unreadable. Save fails with
// ErrCodeWriteFailed (or ErrCodeEncodeFailed).
type Store interface {
	Load(key string, into Settings) error
	Save(key string, value Settings) error
}

// KeyLister is implemented by stores that can enumerate their keys
type KeyLister interface {
	Keys() ([]string, error)
}

// MemoryStore keeps encoded records in memory. Records go through a Codec so
// that saving and loading behave like a real backend: the loaded record is a
// copy, never the saved instance.
type MemoryStore struct {
	codec Codec
	mu    sync.RWMutex
	data  map[string][]byte
}

// NewMemoryStore creates an empty in-memory store using JSON encoding
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codec: JSONCodec{}, data: make(map[string][]byte)}
}

func (m *MemoryStore) Load(key string, into Settings) error {
	m.mu.RLock()
	data, ok := m.data[key]
	m.mu.RUnlock()

	if !ok {
		return errors.New(ErrCodeRecordNotFound, "no record stored").WithContext("key", key)
	}
	if err := m.codec.Decode(data, into); err != nil {
		return errors.Wrap(err, ErrCodeDecodeFailed, "failed to decode stored record").WithContext("key", key)
	}
	return nil
}

func (m *MemoryStore) Save(key string, value Settings) error {
	data, err := m.codec.Encode(value)
	if err != nil {
		return errors.Wrap(err, ErrCodeWriteFailed, "failed to encode record").WithContext("key", key)
	}

	m.mu.Lock()
	m.data[key] = data
	m.mu.Unlock()
	return nil
}

// SetRaw stores raw bytes under key, bypassing encoding
func (m *MemoryStore) SetRaw(key string, data []byte) {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), data...)
	m.mu.Unlock()
}

// Raw returns the bytes stored under key
func (m *MemoryStore) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	return append([]byte(nil), data...), ok
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

// Keys implements KeyLister
func (m *MemoryStore) Keys() ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// StoreBackend names a Store implementation selectable from configuration
type StoreBackend string

const (
	BackendFile   StoreBackend = "file"
	BackendSQLite StoreBackend = "sqlite"
	BackendMemory StoreBackend = "memory"
)

// OpenStore builds the Store described by cfg. Stores holding resources
// implement io.Closer; Synchronizer.Close closes them.
func OpenStore(cfg Config) (Store, error) {
	c := cfg.WithDefaults()

	switch c.StoreBackend {
	case BackendFile:
		codec, err := CodecFor(c.StoreFormat)
		if err != nil {
			return nil, err
		}
		return NewFileStore(c.StoreDir, codec)
	case BackendSQLite:
		codec, err := CodecFor(c.StoreFormat)
		if err != nil {
			return nil, err
		}
		return OpenSQLiteStore(c.SQLitePath, codec)
	case BackendMemory:
		return NewMemoryStore(), nil
	}
	return nil, errors.New(ErrCodeInvalidConfig, "unknown store backend").
		WithContext("backend", string(c.StoreBackend))
}
