// legacy.go: One-shot import of settings from a legacy flat key space
//
// Older releases kept a few settings as loose "prefix.tweak.field" keys. At the
// end of every Load the configured LegacyImporter copies any such key into the
// matching record and deletes it, so each key is imported at most once.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"bufio"
	"bytes"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/agilira/go-errors"
)

// LegacyImporter migrates legacy settings into the loaded registry
type LegacyImporter interface {
	Import(s *Synchronizer) MigrationReport
}

// MigrationReport lists legacy keys by outcome
type MigrationReport struct {
	Migrated []string
	Failed   []string
}

// LegacyStore is a flat string key space holding legacy values
type LegacyStore interface {
	Lookup(key string) (string, bool)
	Delete(key string) error
}

// LegacyRule copies one legacy key into a field of the record of type Target
type LegacyRule struct {
	Key    string
	Target RecordType
	Apply  func(raw string, record Settings) error
}

// LegacyField builds a LegacyRule.Apply from a parser and a typed setter
//
//	tweaksync.LegacyField(tweaksync.ParseLegacyBool,
//		func(s *KeyLimiterSettings, v bool) { s.IsEnabled = v })
func LegacyField[S Settings, V any](parse func(string) (V, error), set func(S, V)) func(string, Settings) error {
	return func(raw string, record Settings) error {
		typed, ok := record.(S)
		if !ok {
			return errors.New(ErrCodeSettingsTypeMismatch, "legacy rule targets a different record type")
		}
		value, err := parse(raw)
		if err != nil {
			return err
		}
		set(typed, value)
		return nil
	}
}

// ParseLegacyBool reads an integer flag: any non-zero value is true
func ParseLegacyBool(raw string) (bool, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return false, errors.Wrap(err, ErrCodeDecodeFailed, "invalid legacy flag").WithContext("value", raw)
	}
	return n != 0, nil
}

// ParseLegacyFloat reads a decimal number
func ParseLegacyFloat(raw string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeDecodeFailed, "invalid legacy number").WithContext("value", raw)
	}
	return f, nil
}

// ParseLegacyIntList reads a comma-separated list of integers. One bad element
// rejects the whole list.
func ParseLegacyIntList(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeDecodeFailed, "invalid legacy integer list").
				WithContext("value", raw)
		}
		values = append(values, n)
	}
	return values, nil
}

// RuleImporter applies a fixed list of rules against a LegacyStore. Every key
// present is deleted after its rule ran, whether or not parsing succeeded.
type RuleImporter struct {
	Store LegacyStore
	Rules []LegacyRule
}

// Import implements LegacyImporter
func (r *RuleImporter) Import(s *Synchronizer) MigrationReport {
	var report MigrationReport
	if r == nil || r.Store == nil {
		return report
	}

	for _, rule := range r.Rules {
		raw, ok := r.Store.Lookup(rule.Key)
		if !ok {
			continue
		}

		if err := r.apply(s, rule, raw); err != nil {
			report.Failed = append(report.Failed, rule.Key)
			wrapped := errors.Wrap(err, ErrCodeLegacyMigrationFailed, "failed to import legacy setting").
				WithContext("key", rule.Key).
				WithContext("record_type", string(rule.Target))
			s.config.ErrorHandler(wrapped, rule.Key)
			s.audit.LogSettings(AuditWarn, "legacy_migration_failed", rule.Target,
				map[string]interface{}{"key": rule.Key, "reason": err.Error()})
		} else {
			report.Migrated = append(report.Migrated, rule.Key)
			s.audit.LogSettings(AuditInfo, "legacy_migrated", rule.Target,
				map[string]interface{}{"key": rule.Key})
		}

		if err := r.Store.Delete(rule.Key); err != nil {
			s.config.ErrorHandler(errors.Wrap(err, ErrCodeLegacyMigrationFailed, "failed to delete legacy key").
				WithContext("key", rule.Key), rule.Key)
		}
	}
	return report
}

func (r *RuleImporter) apply(s *Synchronizer, rule LegacyRule, raw string) error {
	if rule.Apply == nil {
		return errors.New(ErrCodeInvalidConfig, "legacy rule has no apply function")
	}
	record, err := s.GetSettingsFor(rule.Target)
	if err != nil {
		return err
	}
	return rule.Apply(raw, record)
}

// MemoryLegacyStore is a LegacyStore backed by a map
type MemoryLegacyStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryLegacyStore creates a store holding a copy of values
func NewMemoryLegacyStore(values map[string]string) *MemoryLegacyStore {
	m := &MemoryLegacyStore{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *MemoryLegacyStore) Lookup(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryLegacyStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// Keys returns the remaining keys, sorted
func (m *MemoryLegacyStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PropertiesLegacyStore reads legacy keys from a Java-style properties file
// ("key=value" lines, '#' and '!' comments). Delete rewrites the file without
// the deleted key and keeps every other line as it was.
type PropertiesLegacyStore struct {
	path   string
	mu     sync.Mutex
	lines  []string
	values map[string]string
}

// OpenPropertiesLegacyStore reads path. A missing file yields an empty store.
func OpenPropertiesLegacyStore(path string) (*PropertiesLegacyStore, error) {
	p := &PropertiesLegacyStore{path: path, values: make(map[string]string)}

	// #nosec G304 -- path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read legacy settings").
			WithContext("path", path)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		p.lines = append(p.lines, line)
		if key, value, ok := parsePropertiesLine(line); ok {
			p.values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to scan legacy settings").
			WithContext("path", path)
	}
	return p, nil
}

func parsePropertiesLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!") {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

func (p *PropertiesLegacyStore) Lookup(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[key]
	return v, ok
}

func (p *PropertiesLegacyStore) Delete(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.values[key]; !ok {
		return nil
	}
	delete(p.values, key)

	kept := p.lines[:0]
	for _, line := range p.lines {
		if k, _, ok := parsePropertiesLine(line); ok && k == key {
			continue
		}
		kept = append(kept, line)
	}
	p.lines = kept

	var buf bytes.Buffer
	for _, line := range p.lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(p.path, buf.Bytes()); err != nil {
		return errors.Wrap(err, ErrCodeWriteFailed, "failed to rewrite legacy settings").
			WithContext("path", p.path)
	}
	return nil
}

// Len returns the number of remaining legacy keys
func (p *PropertiesLegacyStore) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.values)
}
