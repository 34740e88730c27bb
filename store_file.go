// store_file.go: One-file-per-record settings store
//
// Records live in a single directory as <key><ext>, e.g.
// "tweaks.KeyLimiterSettings.json". Writes go through a temporary file and a
// rename so a crash never leaves a half-written record behind.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// FileStore stores each record in its own file under Dir
type FileStore struct {
	dir   string
	codec Codec
}

// NewFileStore creates a file store rooted at dir, creating the directory if
// needed
func NewFileStore(dir string, codec Codec) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New(ErrCodeInvalidConfig, "store directory cannot be empty")
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to create store directory").
			WithContext("dir", dir)
	}
	return &FileStore{dir: dir, codec: codec}, nil
}

// Dir returns the store directory
func (f *FileStore) Dir() string { return f.dir }

// Codec returns the store codec
func (f *FileStore) Codec() Codec { return f.codec }

// PathFor returns the file backing key
func (f *FileStore) PathFor(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(f.dir, key+f.codec.Extension()), nil
}

// KeyForPath is the inverse of PathFor; ok is false for foreign files
func (f *FileStore) KeyForPath(path string) (string, bool) {
	if filepath.Dir(path) != filepath.Clean(f.dir) {
		return "", false
	}
	base := filepath.Base(path)
	ext := f.codec.Extension()
	if !strings.HasSuffix(base, ext) || strings.HasPrefix(base, ".") {
		return "", false
	}
	return strings.TrimSuffix(base, ext), true
}

func (f *FileStore) Load(key string, into Settings) error {
	path, err := f.PathFor(key)
	if err != nil {
		return err
	}

	// #nosec G304 -- path is validated by PathFor
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New(ErrCodeRecordNotFound, "no record stored").WithContext("key", key)
		}
		return errors.Wrap(err, ErrCodeIOError, "failed to read record").WithContext("path", path)
	}
	if err := f.codec.Decode(data, into); err != nil {
		return errors.Wrap(err, ErrCodeDecodeFailed, "failed to decode record").WithContext("path", path)
	}
	return nil
}

func (f *FileStore) Save(key string, value Settings) error {
	path, err := f.PathFor(key)
	if err != nil {
		return err
	}
	data, err := f.codec.Encode(value)
	if err != nil {
		return errors.Wrap(err, ErrCodeWriteFailed, "failed to encode record").WithContext("key", key)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return errors.Wrap(err, ErrCodeWriteFailed, "failed to write record").WithContext("path", path)
	}
	return nil
}

// Keys implements KeyLister
func (f *FileStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to list store directory").
			WithContext("dir", f.dir)
	}
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if key, ok := f.KeyForPath(filepath.Join(f.dir, entry.Name())); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// validateKey rejects keys that could escape the store directory
func validateKey(key string) error {
	if key == "" {
		return errors.New(ErrCodeInvalidKey, "key cannot be empty")
	}
	if strings.Contains(key, "..") || strings.ContainsAny(key, "/\\\x00") {
		return errors.New(ErrCodeInvalidKey, "key contains path elements").WithContext("key", key)
	}
	return nil
}

// writeFileAtomic writes data next to path and renames it into place
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tempPath := filepath.Join(dir, "."+filepath.Base(path)+".tmp."+fmt.Sprintf("%d", time.Now().UnixNano()))

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
