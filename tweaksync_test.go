// tweaksync_test.go: Registry, registration table and sync pass tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, NewMemoryStore(), Config{}); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("Expected %s for nil catalog, got %v", ErrCodeInvalidConfig, err)
	}
	if _, err := New(newTestCatalog(t), nil, Config{}); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("Expected %s for nil store, got %v", ErrCodeInvalidConfig, err)
	}

	broken := NewCatalog()
	mustDeclare(t, broken.DeclareConsumer(alphaConsumerType,
		InstanceSlot("Alpha", alphaType, func(c *alphaConsumer, s *alphaSettings) { c.Alpha = s })))
	_, err := New(broken, NewMemoryStore(), Config{})
	assertCode(t, err, ErrCodeInvalidCatalog)
}

func TestNew_SealsCatalog(t *testing.T) {
	catalog := newTestCatalog(t)
	s, err := New(catalog, NewMemoryStore(), Config{ErrorHandler: func(error, string) {}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	assertCode(t, catalog.DeclareRecord("test.Late", newBetaSettings), ErrCodeCatalogSealed)
	assertCode(t, catalog.DeclareConsumer("test.LateConsumer"), ErrCodeCatalogSealed)

	if s.Catalog() != catalog {
		t.Error("Catalog() should return the catalog passed to New")
	}
	if s.Audit() == nil || s.Audit().Enabled() {
		t.Error("Expected a disabled audit logger with the zero AuditConfig")
	}
}

// =============================================================================
// SETTINGS REGISTRY
// =============================================================================

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	s, recorder := newTestSynchronizer(t, NewMemoryStore())

	report := s.Load()
	if len(report.Missing) != 2 || len(report.Loaded) != 0 || len(report.Defaulted) != 0 {
		t.Errorf("Unexpected load report: %+v", report)
	}
	if recorder.count() != 0 {
		t.Errorf("A missing record is a first run, not an error; got %d reports", recorder.count())
	}

	alpha, err := SettingsFor[*alphaSettings](s, alphaType)
	if err != nil {
		t.Fatalf("SettingsFor failed: %v", err)
	}
	if alpha.Level != 3 || alpha.Enabled() {
		t.Errorf("Expected defaults, got %+v", alpha)
	}
}

func TestLoad_ReadsStoredRecords(t *testing.T) {
	store := NewMemoryStore()
	stored := &alphaSettings{Toggle: Toggle{IsEnabled: true}, Level: 7, Tags: []string{"x"}}
	if err := store.Save(KeyFor(alphaType), stored); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	s, _ := newTestSynchronizer(t, store)
	report := s.Load()
	if len(report.Loaded) != 1 || report.Loaded[0] != alphaType {
		t.Errorf("Expected alpha loaded, got %+v", report)
	}

	alpha, _ := SettingsFor[*alphaSettings](s, alphaType)
	if !alpha.Enabled() || alpha.Level != 7 {
		t.Errorf("Expected stored values, got %+v", alpha)
	}
	if alpha == stored {
		t.Error("Loaded record must be a fresh instance, not the saved one")
	}
	// Fields absent from storage keep their defaults
	if alpha.Nested.Name != "default" {
		t.Errorf("Expected default nested name, got %q", alpha.Nested.Name)
	}
}

func TestLoad_CorruptRecordFallsBackToDefaults(t *testing.T) {
	store := NewMemoryStore()
	store.SetRaw(KeyFor(alphaType), []byte(`{"is_enabled": true, "level": "not a number"`))

	s, recorder := newTestSynchronizer(t, store)
	report := s.Load()

	if len(report.Defaulted) != 1 || report.Defaulted[0] != alphaType {
		t.Fatalf("Expected alpha defaulted, got %+v", report)
	}
	err, key := recorder.last()
	assertCode(t, err, ErrCodeLoadFailed)
	if key != KeyFor(alphaType) {
		t.Errorf("Expected error reported for key %s, got %s", KeyFor(alphaType), key)
	}

	alpha, _ := SettingsFor[*alphaSettings](s, alphaType)
	if alpha.Enabled() || alpha.Level != 3 {
		t.Errorf("A corrupt record must yield clean defaults, got %+v", alpha)
	}
}

func TestGetSettingsFor(t *testing.T) {
	s, _ := newTestSynchronizer(t, NewMemoryStore())

	_, err := s.GetSettingsFor(alphaType)
	assertCode(t, err, ErrCodeSettingsNotFound)

	s.Load()
	first, err := s.GetSettingsFor(alphaType)
	if err != nil {
		t.Fatalf("GetSettingsFor failed: %v", err)
	}
	second, _ := s.GetSettingsFor(alphaType)
	if first != second {
		t.Error("GetSettingsFor must return the same live record until it is replaced")
	}

	_, err = s.GetSettingsFor("test.Unknown")
	assertCode(t, err, ErrCodeSettingsNotFound)

	_, err = SettingsFor[*betaSettings](s, alphaType)
	assertCode(t, err, ErrCodeSettingsTypeMismatch)
}

func TestSave_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	s, _ := newTestSynchronizer(t, store)
	s.Load()

	alpha, _ := SettingsFor[*alphaSettings](s, alphaType)
	alpha.SetEnabled(true)
	alpha.Level = 11
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	keys, _ := store.Keys()
	if len(keys) != 2 {
		t.Errorf("Expected both records saved, got %v", keys)
	}

	reloaded, _ := newTestSynchronizer(t, store)
	reloaded.Load()
	got, _ := SettingsFor[*alphaSettings](reloaded, alphaType)
	if !got.Enabled() || got.Level != 11 {
		t.Errorf("Expected saved values after reload, got %+v", got)
	}
}

func TestSave_IsolatesFailures(t *testing.T) {
	store := &failingStore{Store: NewMemoryStore(), failSave: map[string]bool{KeyFor(alphaType): true}}
	s, recorder := newTestSynchronizer(t, store)
	s.Load()

	err := s.Save()
	assertCode(t, err, ErrCodeSaveFailed)
	if !strings.Contains(fmt.Sprintf("%v", err), "1 settings record") {
		t.Errorf("Expected a count of failed records, got %v", err)
	}

	if recorder.count() != 1 {
		t.Errorf("Expected one reported failure, got %d", recorder.count())
	}
	beta := newBetaSettings()
	if loadErr := store.Load(KeyFor(betaType), beta); loadErr != nil {
		t.Errorf("Beta should still be saved: %v", loadErr)
	}
}

func TestSaveRecord_LeavesOtherRecordsAlone(t *testing.T) {
	store := NewMemoryStore()
	store.SetRaw(KeyFor(betaType), []byte("{broken"))
	s, _ := newTestSynchronizer(t, store)
	if report := s.Load(); len(report.Defaulted) != 1 {
		t.Fatalf("Expected the broken record defaulted, got %+v", report)
	}

	alpha, _ := SettingsFor[*alphaSettings](s, alphaType)
	alpha.Level = 7
	if err := s.SaveRecord(alphaType); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	stored := newAlphaSettings().(*alphaSettings)
	if err := store.Load(KeyFor(alphaType), stored); err != nil || stored.Level != 7 {
		t.Errorf("Expected level 7 saved, got %+v, %v", stored, err)
	}
	if raw, _ := store.Raw(KeyFor(betaType)); string(raw) != "{broken" {
		t.Errorf("SaveRecord must not touch other records, got %s", raw)
	}

	assertCode(t, s.SaveRecord("test.Nope"), ErrCodeUnknownRecordType)

	failing := &failingStore{Store: NewMemoryStore(), failSave: map[string]bool{KeyFor(alphaType): true}}
	f, recorder := newTestSynchronizer(t, failing)
	assertCode(t, f.SaveRecord(alphaType), ErrCodeSettingsNotFound)
	f.Load()
	assertCode(t, f.SaveRecord(alphaType), ErrCodeSaveFailed)
	if recorder.count() != 1 {
		t.Errorf("Expected one reported failure, got %d", recorder.count())
	}
}

func TestReloadResetUpdate(t *testing.T) {
	store := NewMemoryStore()
	s, _ := newTestSynchronizer(t, store)
	s.Load()

	original, _ := SettingsFor[*alphaSettings](s, alphaType)
	original.Level = 42

	// Reload discards unsaved edits and replaces the instance
	if err := s.Reload(alphaType); !HasCode(err, ErrCodeRecordNotFound) {
		t.Errorf("Expected reload of a missing record to report %s, got %v", ErrCodeRecordNotFound, err)
	}
	reloaded, _ := SettingsFor[*alphaSettings](s, alphaType)
	if reloaded == original || reloaded.Level != 3 {
		t.Errorf("Expected a fresh default record after reload, got %+v", reloaded)
	}
	assertCode(t, s.Reload("test.Unknown"), ErrCodeUnknownRecordType)

	reloaded.Level = 5
	if err := s.Reset(alphaType); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	reset, _ := SettingsFor[*alphaSettings](s, alphaType)
	if reset.Level != 3 {
		t.Errorf("Expected default level after reset, got %d", reset.Level)
	}
	assertCode(t, s.Reset("test.Unknown"), ErrCodeUnknownRecordType)

	if err := s.Update(alphaType, func(record Settings) error {
		record.(*alphaSettings).Level = 8
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if reset.Level != 8 {
		t.Errorf("Update must edit the live record, got %d", reset.Level)
	}
	assertCode(t, s.Update(alphaType, nil), ErrCodeInvalidEdit)
	assertCode(t, s.Update(alphaType, func(Settings) error { return fmt.Errorf("no") }), ErrCodeInvalidEdit)
	assertCode(t, s.Update("test.Unknown", func(Settings) error { return nil }), ErrCodeSettingsNotFound)
}

// =============================================================================
// CONSUMER REGISTRATION TABLE
// =============================================================================

func TestRegister_DuplicateKeepsOriginal(t *testing.T) {
	s, _ := newTestSynchronizer(t, NewMemoryStore())
	first, second := &alphaConsumer{}, &alphaConsumer{}

	if err := s.RegisterConsumer(first); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	err := s.RegisterConsumer(second)
	assertCode(t, err, ErrCodeDuplicateRegistration)
	if !strings.Contains(err.Error(), "already been registered") {
		t.Errorf("Unexpected duplicate message: %v", err)
	}

	// The original registration is still the live one
	assertCode(t, s.UnregisterConsumer(second), ErrCodeMismatchedInstance)
	if err := s.UnregisterConsumer(first); err != nil {
		t.Fatalf("Unregister of the original failed: %v", err)
	}
	if s.IsRegistered(alphaConsumerType) {
		t.Error("Expected table to be empty after unregister")
	}
}

func TestRegister_Validation(t *testing.T) {
	s, _ := newTestSynchronizer(t, NewMemoryStore())

	assertCode(t, s.Register("test.Undeclared", &alphaConsumer{}), ErrCodeUnknownConsumer)
	assertCode(t, s.Register(alphaConsumerType, alphaConsumer{}), ErrCodeInvalidInstance)
	assertCode(t, s.RegisterConsumer(nil), ErrCodeInvalidInstance)
	assertCode(t, s.UnregisterConsumer(nil), ErrCodeInvalidInstance)

	if len(s.Registered()) != 0 {
		t.Errorf("Failed registrations must not change the table, got %v", s.Registered())
	}
}

func TestUnregister_NotRegistered(t *testing.T) {
	s, _ := newTestSynchronizer(t, NewMemoryStore())

	err := s.Unregister(alphaConsumerType, &alphaConsumer{})
	assertCode(t, err, ErrCodeNotRegistered)
	assertCode(t, s.UnregisterType(staticConsumerType), ErrCodeNotRegistered)
}

func TestRegistered_Sorted(t *testing.T) {
	s, _ := newTestSynchronizer(t, NewMemoryStore())
	if err := s.RegisterType(staticConsumerType); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterConsumer(&alphaConsumer{}); err != nil {
		t.Fatal(err)
	}

	got := s.Registered()
	if len(got) != 2 || got[0] != alphaConsumerType || got[1] != staticConsumerType {
		t.Errorf("Expected sorted registrations, got %v", got)
	}
}

// =============================================================================
// SYNC
// =============================================================================

func TestSync_WritesLiveRecords(t *testing.T) {
	s, recorder := newTestSynchronizer(t, NewMemoryStore())
	s.Load()

	consumer := &alphaConsumer{}
	if err := s.RegisterConsumer(consumer); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterType(staticConsumerType); err != nil {
		t.Fatal(err)
	}

	report := s.Sync()
	if report.Consumers != 2 || report.SlotsWritten != 3 || report.SlotsFailed != 0 {
		t.Errorf("Unexpected sync report: %+v", report)
	}
	if recorder.count() != 0 {
		t.Errorf("Unexpected errors: %d", recorder.count())
	}

	alpha, _ := s.GetSettingsFor(alphaType)
	beta, _ := s.GetSettingsFor(betaType)
	if consumer.Alpha != alpha || consumer.Beta != beta {
		t.Error("Consumer slots must hold the live records")
	}
	if staticBeta.Load() != beta {
		t.Error("Static slot must hold the live beta record")
	}

	// Edits through a consumer are visible everywhere
	consumer.Alpha.Level = 99
	if alpha.(*alphaSettings).Level != 99 {
		t.Error("Consumers and the registry must share one record instance")
	}
}

func TestSync_Idempotent(t *testing.T) {
	s, _ := newTestSynchronizer(t, NewMemoryStore())
	s.Load()
	consumer := &alphaConsumer{}
	_ = s.RegisterConsumer(consumer)

	s.Sync()
	firstAlpha, firstBeta := consumer.Alpha, consumer.Beta
	s.Sync()
	if consumer.Alpha != firstAlpha || consumer.Beta != firstBeta {
		t.Error("Repeated sync passes without changes must write the same records")
	}

	stats := s.Stats()
	if stats.Passes != 2 || stats.SlotsWritten != 4 || stats.LastSync.IsZero() {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestSync_PicksUpReplacedRecords(t *testing.T) {
	s, _ := newTestSynchronizer(t, NewMemoryStore())
	s.Load()
	consumer := &alphaConsumer{}
	_ = s.RegisterConsumer(consumer)
	s.Sync()
	before := consumer.Alpha

	_ = s.Reset(alphaType)
	if consumer.Alpha != before {
		t.Error("Consumers see a replaced record only after the next sync")
	}
	s.Sync()
	if consumer.Alpha == before {
		t.Error("Expected the reset record after sync")
	}
}

func TestSync_UnregisteredConsumerNotWritten(t *testing.T) {
	s, _ := newTestSynchronizer(t, NewMemoryStore())
	s.Load()
	consumer := &alphaConsumer{}
	_ = s.RegisterConsumer(consumer)
	s.Sync()
	held := consumer.Alpha

	_ = s.UnregisterConsumer(consumer)
	_ = s.Reset(alphaType)
	report := s.Sync()
	if report.Consumers != 0 {
		t.Errorf("Expected no consumers visited, got %d", report.Consumers)
	}
	if consumer.Alpha != held {
		t.Error("An unregistered consumer must not be written")
	}
}

func TestSync_BeforeLoadSkipsSlots(t *testing.T) {
	s, recorder := newTestSynchronizer(t, NewMemoryStore())
	consumer := &alphaConsumer{}
	_ = s.RegisterConsumer(consumer)

	report := s.Sync()
	if report.SlotsSkipped != 2 || report.SlotsWritten != 0 {
		t.Errorf("Expected both slots skipped before load, got %+v", report)
	}
	if recorder.count() != 0 || consumer.Alpha != nil {
		t.Error("Skipped slots are neither errors nor writes")
	}
}

func TestSync_FailingSlotDoesNotAbortPass(t *testing.T) {
	catalog := NewCatalog()
	mustDeclare(t, catalog.DeclareRecord(alphaType, newAlphaSettings))
	mustDeclare(t, catalog.DeclareRecord(betaType, newBetaSettings))
	mustDeclare(t, catalog.DeclareConsumer(alphaConsumerType,
		InstanceSlot("Alpha", alphaType, func(c *alphaConsumer, s *alphaSettings) { panic("setter exploded") }),
		InstanceSlot("Beta", betaType, func(c *alphaConsumer, s *betaSettings) { c.Beta = s }),
	))
	mustDeclare(t, catalog.DeclareConsumer(staticConsumerType,
		StaticSlot("Beta", betaType, func(s *betaSettings) { staticBeta.Store(s) }),
	))

	recorder := &errorRecorder{}
	s, err := New(catalog, NewMemoryStore(), Config{ErrorHandler: recorder.handle})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.Load()

	consumer := &alphaConsumer{}
	_ = s.RegisterConsumer(consumer)
	_ = s.RegisterType(staticConsumerType)
	staticBeta.Store(nil)

	report := s.Sync()
	if report.SlotsFailed != 1 || report.SlotsWritten != 2 {
		t.Errorf("Expected one failed and two written slots, got %+v", report)
	}
	if consumer.Beta == nil || staticBeta.Load() == nil {
		t.Error("Remaining slots must still be written")
	}

	reported, key := recorder.last()
	assertCode(t, reported, ErrCodeSlotWriteFailed)
	if !strings.Contains(reported.Error(), "unable to update slot Alpha") {
		t.Errorf("Expected slot name in message, got %v", reported)
	}
	// The consumer is named by type and address, not dumped by value
	if !strings.Contains(reported.Error(), "*tweaksync.alphaConsumer@0x") || strings.Contains(reported.Error(), "&{") {
		t.Errorf("Expected the instance labelled by type and address, got %v", reported)
	}
	if key != KeyFor(alphaType) {
		t.Errorf("Expected key %s, got %s", KeyFor(alphaType), key)
	}
}

func TestInstanceLabel(t *testing.T) {
	if got := instanceLabel(nil); got != "<type-only>" {
		t.Errorf("instanceLabel(nil) = %q", got)
	}
	consumer := &alphaConsumer{Alpha: newAlphaSettings().(*alphaSettings)}
	expected := fmt.Sprintf("*tweaksync.alphaConsumer@%p", consumer)
	if got := instanceLabel(consumer); got != expected {
		t.Errorf("instanceLabel = %q, expected %q", got, expected)
	}
}

func TestSync_InstanceSlotWithoutInstanceFails(t *testing.T) {
	s, recorder := newTestSynchronizer(t, NewMemoryStore())
	s.Load()

	if err := s.RegisterType(alphaConsumerType); err != nil {
		t.Fatal(err)
	}
	report := s.Sync()
	if report.SlotsFailed != 2 {
		t.Errorf("Instance slots need an instance, got %+v", report)
	}
	if recorder.count() != 2 {
		t.Errorf("Expected one report per failed slot, got %d", recorder.count())
	}
}

func TestSynchronizer_ConcurrentAccess(t *testing.T) {
	s, _ := newTestSynchronizer(t, NewMemoryStore())
	s.Load()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Sync()
			}
		}()
		go func() {
			defer wg.Done()
			consumer := &alphaConsumer{}
			for j := 0; j < 50; j++ {
				if s.RegisterConsumer(consumer) == nil {
					_ = s.UnregisterConsumer(consumer)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.GetSettingsFor(alphaType)
				if j%10 == 0 {
					_ = s.Reset(betaType)
				}
			}
		}()
	}
	wg.Wait()

	if s.Stats().Passes != 400 {
		t.Errorf("Expected 400 sync passes, got %d", s.Stats().Passes)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestClose_ClosesStore(t *testing.T) {
	store := &failingStore{Store: NewMemoryStore()}
	s, err := New(newTestCatalog(t), store, Config{ErrorHandler: func(error, string) {}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !store.closed.Load() {
		t.Error("Close must close a store implementing io.Closer")
	}
}

func TestHasCode(t *testing.T) {
	base := ErrCodeRecordNotFound
	err := fmt.Errorf("outer: %w", NewMemoryStore().Load("missing", newAlphaSettings()))
	if !HasCode(err, base) {
		t.Errorf("HasCode should see through fmt wrapping: %v", err)
	}
	if HasCode(err, ErrCodeIOError) {
		t.Error("HasCode matched the wrong code")
	}
	if HasCode(nil, base) {
		t.Error("HasCode(nil) must be false")
	}
}
