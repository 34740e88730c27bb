// helpers_test.go: Shared fixtures for tweaksync tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/agilira/go-errors"
)

const (
	alphaType RecordType = "test.AlphaSettings"
	betaType  RecordType = "test.BetaSettings"

	alphaConsumerType  ConsumerType = "test.AlphaConsumer"
	staticConsumerType ConsumerType = "test.StaticPatches"
)

type alphaNested struct {
	Name string `json:"name" yaml:"name"`
}

type alphaSettings struct {
	Toggle `yaml:",inline"`

	Level  int         `json:"level" yaml:"level"`
	Tags   []string    `json:"tags" yaml:"tags"`
	Nested alphaNested `json:"nested" yaml:"nested"`
}

func newAlphaSettings() Settings {
	return &alphaSettings{Level: 3, Tags: []string{}, Nested: alphaNested{Name: "default"}}
}

type betaSettings struct {
	Toggle `yaml:",inline"`

	Ratio float64 `json:"ratio" yaml:"ratio"`
}

func newBetaSettings() Settings {
	return &betaSettings{Ratio: 0.5}
}

// alphaConsumer receives both records on instance slots
type alphaConsumer struct {
	Alpha *alphaSettings
	Beta  *betaSettings
}

func (*alphaConsumer) ConsumerType() ConsumerType { return alphaConsumerType }

// staticBeta is the static slot of staticConsumerType
var staticBeta atomic.Pointer[betaSettings]

// newTestCatalog declares two records, one instance consumer and one static
// consumer
func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	c := NewCatalog()
	mustDeclare(t, c.DeclareRecord(alphaType, newAlphaSettings))
	mustDeclare(t, c.DeclareRecord(betaType, newBetaSettings))
	mustDeclare(t, c.DeclareConsumer(alphaConsumerType,
		InstanceSlot("Alpha", alphaType, func(c *alphaConsumer, s *alphaSettings) { c.Alpha = s }),
		InstanceSlot("Beta", betaType, func(c *alphaConsumer, s *betaSettings) { c.Beta = s }),
	))
	mustDeclare(t, c.DeclareConsumer(staticConsumerType,
		StaticSlot("Beta", betaType, func(s *betaSettings) { staticBeta.Store(s) }),
	))
	return c
}

func mustDeclare(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("catalog declaration failed: %v", err)
	}
}

// errorRecorder is an ErrorHandler that keeps every reported error
type errorRecorder struct {
	mu   sync.Mutex
	errs []error
	keys []string
}

func (r *errorRecorder) handle(err error, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.keys = append(r.keys, key)
}

func (r *errorRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *errorRecorder) last() (error, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil, ""
	}
	return r.errs[len(r.errs)-1], r.keys[len(r.keys)-1]
}

// newTestSynchronizer builds a synchronizer over the test catalog, closed at
// the end of the test
func newTestSynchronizer(t *testing.T, store Store) (*Synchronizer, *errorRecorder) {
	t.Helper()

	recorder := &errorRecorder{}
	s, err := New(newTestCatalog(t), store, Config{ErrorHandler: recorder.handle})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, recorder
}

// failingStore wraps a Store and fails Save for selected keys
type failingStore struct {
	Store
	failSave map[string]bool
	closed   atomic.Bool
}

func (f *failingStore) Save(key string, value Settings) error {
	if f.failSave[key] {
		return errors.New(ErrCodeWriteFailed, "simulated write failure").WithContext("key", key)
	}
	return f.Store.Save(key, value)
}

func (f *failingStore) Close() error {
	f.closed.Store(true)
	return nil
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected error with code %s, got nil", code)
	}
	if !HasCode(err, code) {
		t.Fatalf("Expected error code %s, got: %v", code, err)
	}
}
