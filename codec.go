// codec.go: Serialization formats for persisted settings records
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// StoreFormat names a record serialization format
type StoreFormat string

const (
	FormatJSON StoreFormat = "json"
	FormatYAML StoreFormat = "yaml"
)

// Codec encodes settings records to bytes and back. Decode must only set
// fields present in data so that absent fields keep their defaults.
type Codec interface {
	Format() StoreFormat
	Extension() string
	Encode(value Settings) ([]byte, error)
	Decode(data []byte, into Settings) error
}

// CodecFor returns the codec for a format name ("json", "yaml" or "yml")
func CodecFor(format StoreFormat) (Codec, error) {
	switch StoreFormat(strings.ToLower(string(format))) {
	case FormatJSON, "":
		return JSONCodec{}, nil
	case FormatYAML, "yml":
		return YAMLCodec{}, nil
	}
	return nil, errors.New(ErrCodeUnsupportedStoreFormat, "unsupported store format").
		WithContext("format", string(format))
}

// JSONCodec stores records as indented JSON
type JSONCodec struct{}

func (JSONCodec) Format() StoreFormat { return FormatJSON }
func (JSONCodec) Extension() string   { return ".json" }

func (JSONCodec) Encode(value Settings) ([]byte, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeEncodeFailed, "failed to encode JSON settings")
	}
	return append(data, '\n'), nil
}

func (JSONCodec) Decode(data []byte, into Settings) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New(ErrCodeDecodeFailed, "empty JSON settings document")
	}
	if err := json.Unmarshal(data, into); err != nil {
		return errors.Wrap(err, ErrCodeDecodeFailed, "failed to decode JSON settings")
	}
	return nil
}

// YAMLCodec stores records as YAML
type YAMLCodec struct{}

func (YAMLCodec) Format() StoreFormat { return FormatYAML }
func (YAMLCodec) Extension() string   { return ".yaml" }

func (YAMLCodec) Encode(value Settings) ([]byte, error) {
	data, err := yaml.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeEncodeFailed, "failed to encode YAML settings")
	}
	return data, nil
}

func (YAMLCodec) Decode(data []byte, into Settings) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New(ErrCodeDecodeFailed, "empty YAML settings document")
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return errors.Wrap(err, ErrCodeDecodeFailed, "failed to decode YAML settings")
	}
	return nil
}
