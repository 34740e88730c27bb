// editor.go: Dot-notation field access for settings records
//
// RecordEditor exposes a record as a tree of JSON field names, so tools can
// read and change single fields ("active_keys", "opacity1") without knowing
// the concrete record type.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
)

// RecordEditor reads and writes fields of one live record
type RecordEditor struct {
	record Settings
	values map[string]interface{}
}

// NewRecordEditor snapshots the fields of record
func NewRecordEditor(record Settings) (*RecordEditor, error) {
	if record == nil {
		return nil, errors.New(ErrCodeInvalidEdit, "record cannot be nil")
	}
	values, err := recordValues(record)
	if err != nil {
		return nil, err
	}
	return &RecordEditor{record: record, values: values}, nil
}

func recordValues(record Settings) (map[string]interface{}, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeEncodeFailed, "failed to inspect record")
	}
	values := make(map[string]interface{})
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(err, ErrCodeEncodeFailed, "record is not an object")
	}
	return values, nil
}

// Keys returns every leaf field in dot notation, sorted, optionally filtered
// by prefix
func (e *RecordEditor) Keys(prefix string) []string {
	var keys []string
	collectKeys(e.values, "", prefix, &keys)
	sort.Strings(keys)
	return keys
}

// Get returns the value at a dot-notation key
func (e *RecordEditor) Get(key string) (interface{}, bool) {
	path := parseDotNotation(key)
	if len(path) == 0 {
		return nil, false
	}
	var current interface{} = e.values
	for _, part := range path {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Values returns the current field tree
func (e *RecordEditor) Values() map[string]interface{} {
	return e.values
}

// Set parses raw according to the current type of the field at key and writes
// it into the live record. The key must already exist. On failure the record
// is left untouched.
func (e *RecordEditor) Set(key, raw string) error {
	current, ok := e.Get(key)
	if !ok {
		return errors.New(ErrCodeInvalidEdit, "unknown field").WithContext("key", key)
	}
	value, err := parseFieldValue(current, raw)
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidEdit, "invalid value for field").
			WithContext("key", key).
			WithContext("value", raw)
	}

	next, err := recordValues(e.record)
	if err != nil {
		return err
	}
	if err := setNestedValue(next, parseDotNotation(key), value); err != nil {
		return err
	}

	data, err := json.Marshal(next)
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidEdit, "failed to encode edited record")
	}

	// Decode into a scratch record first so a type error cannot leave the live
	// record half-updated
	scratch := reflect.New(reflect.TypeOf(e.record).Elem()).Interface()
	if err := json.Unmarshal(data, scratch); err != nil {
		return errors.Wrap(err, ErrCodeInvalidEdit, "edited value does not fit the record").
			WithContext("key", key)
	}
	if err := json.Unmarshal(data, e.record); err != nil {
		return errors.Wrap(err, ErrCodeInvalidEdit, "failed to apply edit").WithContext("key", key)
	}

	e.values = next
	return nil
}

// parseFieldValue converts raw to the JSON type of current
func parseFieldValue(current interface{}, raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch current.(type) {
	case bool:
		return strconv.ParseBool(raw)
	case float64:
		return strconv.ParseFloat(raw, 64)
	case string:
		return raw, nil
	case []interface{}, nil:
		// null fields are nil slices in practice
		if strings.HasPrefix(raw, "[") {
			var list []interface{}
			if err := json.Unmarshal([]byte(raw), &list); err != nil {
				return nil, err
			}
			return list, nil
		}
		return parseListValue(raw), nil
	case map[string]interface{}:
		return nil, fmt.Errorf("field is an object; set its leaves instead")
	}
	return nil, fmt.Errorf("unsupported field type %T", current)
}

// parseListValue splits "a, b, 3" keeping numbers as numbers
func parseListValue(raw string) []interface{} {
	if raw == "" {
		return []interface{}{}
	}
	parts := strings.Split(raw, ",")
	list := make([]interface{}, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if f, err := strconv.ParseFloat(part, 64); err == nil {
			list = append(list, f)
			continue
		}
		list = append(list, part)
	}
	return list
}

func parseDotNotation(key string) []string {
	var path []string
	for _, part := range strings.Split(key, ".") {
		if part = strings.TrimSpace(part); part != "" {
			path = append(path, part)
		}
	}
	return path
}

func setNestedValue(values map[string]interface{}, path []string, value interface{}) error {
	if len(path) == 0 {
		return errors.New(ErrCodeInvalidEdit, "empty key path")
	}
	current := values
	for _, part := range path[:len(path)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			return errors.New(ErrCodeInvalidEdit,
				fmt.Sprintf("key '%s' is not an object, cannot set nested value", part))
		}
		current = next
	}
	current[path[len(path)-1]] = value
	return nil
}

func collectKeys(values map[string]interface{}, currentPrefix, filterPrefix string, keys *[]string) {
	for key, value := range values {
		fullKey := key
		if currentPrefix != "" {
			fullKey = currentPrefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			collectKeys(nested, fullKey, filterPrefix, keys)
			continue
		}
		if filterPrefix == "" || strings.HasPrefix(fullKey, filterPrefix) {
			*keys = append(*keys, fullKey)
		}
	}
}

// EditRecord sets one field of the live record of type t, auditing the change
//
//	err := sync.EditRecord(tweaks.KeyLimiterSettingsType, "active_keys", "32,97")
func (s *Synchronizer) EditRecord(t RecordType, key, raw string) error {
	return s.Update(t, func(record Settings) error {
		editor, err := NewRecordEditor(record)
		if err != nil {
			return err
		}
		return editor.Set(key, raw)
	})
}
