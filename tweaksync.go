// tweaksync: Settings synchronization core for independent feature tweaks
//
// Philosophy:
// - One settings record per record type, loaded once and edited in place
// - Fail-soft loading: a broken record degrades to defaults, never to an error
// - Fail-loud registration: misuse of Register/Unregister is a caller bug
// - One-way, pull-on-demand binding: Sync() pushes records into consumer slots
// - No reflection: record and consumer types are declared in a static Catalog
//
// Example Usage:
//
//	catalog := tweaks.NewCatalog()
//	sync, err := tweaksync.New(catalog, store, tweaksync.Config{})
//	if err != nil {
//		return err
//	}
//	defer sync.Close()
//
//	sync.Load()
//	_ = sync.RegisterConsumer(keyLimiter)
//
//	for range frames {
//		sync.Sync()
//	}
//	_ = sync.Save()
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	goerrors "errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// Error codes for tweaksync operations
const (
	ErrCodeInvalidConfig          = "TWEAKSYNC_INVALID_CONFIG"
	ErrCodeInvalidCatalog         = "TWEAKSYNC_INVALID_CATALOG"
	ErrCodeCatalogSealed          = "TWEAKSYNC_CATALOG_SEALED"
	ErrCodeSettingsNotFound       = "TWEAKSYNC_SETTINGS_NOT_FOUND"
	ErrCodeSettingsTypeMismatch   = "TWEAKSYNC_SETTINGS_TYPE_MISMATCH"
	ErrCodeLoadFailed             = "TWEAKSYNC_LOAD_FAILED"
	ErrCodeSaveFailed             = "TWEAKSYNC_SAVE_FAILED"
	ErrCodeRecordNotFound         = "TWEAKSYNC_RECORD_NOT_FOUND"
	ErrCodeDecodeFailed           = "TWEAKSYNC_DECODE_FAILED"
	ErrCodeEncodeFailed           = "TWEAKSYNC_ENCODE_FAILED"
	ErrCodeWriteFailed            = "TWEAKSYNC_WRITE_FAILED"
	ErrCodeIOError                = "TWEAKSYNC_IO_ERROR"
	ErrCodeInvalidKey             = "TWEAKSYNC_INVALID_KEY"
	ErrCodeStoreClosed            = "TWEAKSYNC_STORE_CLOSED"
	ErrCodeDuplicateRegistration  = "TWEAKSYNC_DUPLICATE_REGISTRATION"
	ErrCodeNotRegistered          = "TWEAKSYNC_NOT_REGISTERED"
	ErrCodeMismatchedInstance     = "TWEAKSYNC_MISMATCHED_INSTANCE"
	ErrCodeUnknownConsumer        = "TWEAKSYNC_UNKNOWN_CONSUMER"
	ErrCodeInvalidInstance        = "TWEAKSYNC_INVALID_INSTANCE"
	ErrCodeSlotWriteFailed        = "TWEAKSYNC_SLOT_WRITE_FAILED"
	ErrCodeLegacyMigrationFailed  = "TWEAKSYNC_LEGACY_MIGRATION_FAILED"
	ErrCodeWatcherBusy            = "TWEAKSYNC_WATCHER_BUSY"
	ErrCodeWatcherStopped         = "TWEAKSYNC_WATCHER_STOPPED"
	ErrCodeWatchUnsupported       = "TWEAKSYNC_WATCH_UNSUPPORTED"
	ErrCodeInvalidEdit            = "TWEAKSYNC_INVALID_EDIT"
	ErrCodeUnknownRecordType      = "TWEAKSYNC_UNKNOWN_RECORD_TYPE"
	ErrCodeInvalidAuditConfig     = "TWEAKSYNC_INVALID_AUDIT_CONFIG"
	ErrCodeAuditBackendFailed     = "TWEAKSYNC_AUDIT_BACKEND_FAILED"
	ErrCodeUnsupportedStoreFormat = "TWEAKSYNC_UNSUPPORTED_STORE_FORMAT"
	ErrCodeHelpRequested          = "TWEAKSYNC_HELP_REQUESTED"
)

// HasCode reports whether err, or any error it wraps, carries the given code
func HasCode(err error, code string) bool {
	for err != nil {
		if coder, ok := err.(errors.ErrorCoder); ok && string(coder.ErrorCode()) == code {
			return true
		}
		err = goerrors.Unwrap(err)
	}
	return false
}

// LoadReport describes the outcome of a Load pass
type LoadReport struct {
	Loaded    []RecordType // Read from the store
	Missing   []RecordType // Not present in the store, defaults used
	Defaulted []RecordType // Store or decode failure, defaults used
	Legacy    *MigrationReport
}

// SyncReport describes the outcome of a single sync pass
type SyncReport struct {
	Consumers    int // Registered consumers visited
	SlotsWritten int // Slots that received their record
	SlotsFailed  int // Slots whose write failed
	SlotsSkipped int // Slots whose target record is not loaded
}

// SyncStats aggregates sync passes since the Synchronizer was created
type SyncStats struct {
	Passes       uint64
	SlotsWritten uint64
	SlotsFailed  uint64
	LastSync     time.Time // Zero until the first pass
}

// registration is one entry of the consumer registration table
type registration struct {
	consumer ConsumerType
	instance any
}

// Synchronizer owns the settings registry and the consumer registration table.
// It is created once by the host's composition root and handed to the code
// that registers consumers or drives sync passes.
//
// All operations are safe for concurrent use: registry and table are guarded
// by a single mutex. Slot setters run outside the lock on a snapshot, so a
// setter may call GetSettingsFor.
type Synchronizer struct {
	config  Config
	catalog *Catalog
	store   Store
	audit   *AuditLogger

	mu sync.Mutex
	// settings is replaced copy-on-write, never mutated in place, so a sync
	// pass can read its snapshot without holding mu
	settings   map[RecordType]Settings
	registered map[ConsumerType]any

	watcher   *Watcher
	watchedMu sync.Mutex

	passes       atomic.Uint64
	slotsWritten atomic.Uint64
	slotsFailed  atomic.Uint64
	lastSync     atomic.Int64
}

// New creates a Synchronizer over the given catalog and store. The catalog is
// sealed: no record or consumer type can be declared afterwards.
func New(catalog *Catalog, store Store, config Config) (*Synchronizer, error) {
	if catalog == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "catalog cannot be nil")
	}
	if store == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "store cannot be nil")
	}
	if err := catalog.seal(); err != nil {
		return nil, err
	}

	cfg := config.WithDefaults()

	auditLogger, err := NewAuditLogger(cfg.Audit)
	if err != nil {
		// Auditing never prevents startup
		cfg.ErrorHandler(errors.Wrap(err, ErrCodeAuditBackendFailed, "audit disabled"), "")
		auditLogger, _ = NewAuditLogger(AuditConfig{Enabled: false})
	}

	return &Synchronizer{
		config:     *cfg,
		catalog:    catalog,
		store:      store,
		audit:      auditLogger,
		settings:   make(map[RecordType]Settings),
		registered: make(map[ConsumerType]any),
	}, nil
}

// Catalog returns the sealed catalog the synchronizer was built with
func (s *Synchronizer) Catalog() *Catalog {
	return s.catalog
}

// Audit returns the synchronizer's audit logger (possibly disabled)
func (s *Synchronizer) Audit() *AuditLogger {
	return s.audit
}

// =============================================================================
// SETTINGS REGISTRY
// =============================================================================

// Load replaces the registry with one record per declared record type, read
// from the store. A record that cannot be read is replaced by its defaults and
// reported through the ErrorHandler; Load itself never fails. When a legacy
// importer is configured it runs once, after all records are in place.
func (s *Synchronizer) Load() LoadReport {
	var report LoadReport
	loaded := make(map[RecordType]Settings, len(s.catalog.order))

	for _, t := range s.catalog.order {
		record, err := s.loadRecord(t)
		switch {
		case err == nil:
			report.Loaded = append(report.Loaded, t)
		case HasCode(err, ErrCodeRecordNotFound):
			report.Missing = append(report.Missing, t)
		default:
			report.Defaulted = append(report.Defaulted, t)
		}
		loaded[t] = record
	}

	s.mu.Lock()
	s.settings = loaded
	s.mu.Unlock()

	if s.config.Legacy != nil {
		migration := s.config.Legacy.Import(s)
		report.Legacy = &migration
	}

	return report
}

// loadRecord reads one record from the store into a fresh default. On failure
// it returns a second fresh default (never a half-decoded one) and the cause.
// A record that is simply missing is not reported: that is the first run.
func (s *Synchronizer) loadRecord(t RecordType) (Settings, error) {
	record, _ := s.catalog.NewRecord(t)
	key := KeyFor(t)

	err := s.store.Load(key, record)
	if err == nil {
		s.audit.LogSettings(AuditInfo, "settings_loaded", t, nil)
		return record, nil
	}

	fresh, _ := s.catalog.NewRecord(t)
	if HasCode(err, ErrCodeRecordNotFound) {
		s.audit.LogSettings(AuditInfo, "settings_defaulted", t,
			map[string]interface{}{"reason": "missing"})
		return fresh, err
	}

	wrapped := errors.Wrap(err, ErrCodeLoadFailed, "failed to read settings, using defaults").
		WithContext("record_type", string(t))
	s.config.ErrorHandler(wrapped, key)
	s.audit.LogSettings(AuditWarn, "settings_defaulted", t,
		map[string]interface{}{"reason": err.Error()})
	return fresh, wrapped
}

// Save writes every record to the store. Each record type is saved
// independently: a failure is reported and the remaining records are still
// saved. The returned error lists the record types that failed.
func (s *Synchronizer) Save() error {
	s.mu.Lock()
	current := s.settings
	s.mu.Unlock()

	var failed []string
	for _, t := range s.catalog.order {
		record, ok := current[t]
		if !ok {
			continue
		}
		if err := s.saveRecord(t, record); err != nil {
			failed = append(failed, string(t))
		}
	}

	if len(failed) > 0 {
		return errors.New(ErrCodeSaveFailed,
			fmt.Sprintf("failed to save %d settings record(s)", len(failed))).
			WithContext("record_types", strings.Join(failed, ","))
	}
	return nil
}

// SaveRecord writes only the record of type t, leaving every other stored
// record untouched.
func (s *Synchronizer) SaveRecord(t RecordType) error {
	if !s.catalog.HasRecord(t) {
		return errors.New(ErrCodeUnknownRecordType, "record type is not declared").
			WithContext("record_type", string(t))
	}
	record, err := s.GetSettingsFor(t)
	if err != nil {
		return err
	}
	return s.saveRecord(t, record)
}

func (s *Synchronizer) saveRecord(t RecordType, record Settings) error {
	key := KeyFor(t)
	if err := s.store.Save(key, record); err != nil {
		wrapped := errors.Wrap(err, ErrCodeSaveFailed, "failed to save settings").
			WithContext("record_type", string(t))
		s.config.ErrorHandler(wrapped, key)
		s.audit.LogSettings(AuditWarn, "save_failed", t,
			map[string]interface{}{"reason": err.Error()})
		return wrapped
	}
	s.audit.LogSettings(AuditInfo, "settings_saved", t, nil)
	s.rebaseWatch(key)
	return nil
}

// GetSettingsFor returns the live record of type t. It fails before Load and
// for record types the catalog does not declare.
func (s *Synchronizer) GetSettingsFor(t RecordType) (Settings, error) {
	s.mu.Lock()
	record, ok := s.settings[t]
	s.mu.Unlock()

	if !ok {
		return nil, errors.New(ErrCodeSettingsNotFound, "no settings loaded for record type").
			WithContext("record_type", string(t))
	}
	return record, nil
}

// SettingsFor is the typed form of GetSettingsFor
//
//	settings, err := tweaksync.SettingsFor[*tweaks.KeyLimiterSettings](sync, tweaks.KeyLimiterSettingsType)
func SettingsFor[S Settings](s *Synchronizer, t RecordType) (S, error) {
	var zero S
	record, err := s.GetSettingsFor(t)
	if err != nil {
		return zero, err
	}
	typed, ok := record.(S)
	if !ok {
		return zero, errors.New(ErrCodeSettingsTypeMismatch,
			fmt.Sprintf("record is %T, requested %T", record, zero)).
			WithContext("record_type", string(t))
	}
	return typed, nil
}

// RecordTypes returns the declared record types in load order
func (s *Synchronizer) RecordTypes() []RecordType {
	return s.catalog.RecordTypes()
}

// Reload replaces the record of type t with a fresh copy read from the store.
// Like Load it falls back to defaults, but the load error is returned so the
// caller can tell. Consumers see the new record on the next sync pass.
func (s *Synchronizer) Reload(t RecordType) error {
	if !s.catalog.HasRecord(t) {
		return errors.New(ErrCodeUnknownRecordType, "record type is not declared").
			WithContext("record_type", string(t))
	}

	record, err := s.loadRecord(t)
	s.replace(t, record)
	s.audit.LogSettings(AuditInfo, "settings_reloaded", t, nil)
	return err
}

// Reset replaces the record of type t with its defaults. The store is not
// touched until the next Save.
func (s *Synchronizer) Reset(t RecordType) error {
	record, ok := s.catalog.NewRecord(t)
	if !ok {
		return errors.New(ErrCodeUnknownRecordType, "record type is not declared").
			WithContext("record_type", string(t))
	}

	s.replace(t, record)
	s.audit.LogSettings(AuditCritical, "settings_reset", t, nil)
	return nil
}

// Update runs mutate on the live record of type t. It exists for editing code
// that wants its changes audited; mutating the record directly is equally valid.
func (s *Synchronizer) Update(t RecordType, mutate func(Settings) error) error {
	if mutate == nil {
		return errors.New(ErrCodeInvalidEdit, "mutate function cannot be nil")
	}
	record, err := s.GetSettingsFor(t)
	if err != nil {
		return err
	}
	if err := mutate(record); err != nil {
		return errors.Wrap(err, ErrCodeInvalidEdit, "settings update rejected").
			WithContext("record_type", string(t))
	}
	s.audit.LogSettings(AuditCritical, "settings_edited", t, nil)
	return nil
}

// replace swaps one record using copy-on-write on the registry map
func (s *Synchronizer) replace(t RecordType, record Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[RecordType]Settings, len(s.settings)+1)
	for k, v := range s.settings {
		next[k] = v
	}
	next[t] = record
	s.settings = next
}

// =============================================================================
// CONSUMER REGISTRATION TABLE
// =============================================================================

// Register records instance as the live consumer of type t. instance may be
// nil for consumers whose slots are all static (see RegisterType); otherwise
// it must be a pointer, since unregistration compares by reference.
//
// Registering a type twice is a programming error: the call fails and the
// original registration is kept.
func (s *Synchronizer) Register(t ConsumerType, instance any) error {
	if err := validateInstance(t, instance); err != nil {
		return err
	}
	if _, declared := s.catalog.Slots(t); !declared {
		return errors.New(ErrCodeUnknownConsumer, "consumer type is not declared in the catalog").
			WithContext("consumer_type", string(t))
	}

	s.mu.Lock()
	if _, exists := s.registered[t]; exists {
		s.mu.Unlock()
		return errors.New(ErrCodeDuplicateRegistration,
			fmt.Sprintf("a consumer of type %s has already been registered; "+
				"only one consumer of every type can be registered", t)).
			WithContext("consumer_type", string(t))
	}
	s.registered[t] = instance
	s.mu.Unlock()

	s.audit.LogConsumer(AuditInfo, "consumer_registered", t, nil)
	return nil
}

// RegisterType registers a consumer type without an instance, for consumers
// whose slots are static
func (s *Synchronizer) RegisterType(t ConsumerType) error {
	return s.Register(t, nil)
}

// RegisterConsumer registers c under its own consumer type
func (s *Synchronizer) RegisterConsumer(c Consumer) error {
	if c == nil {
		return errors.New(ErrCodeInvalidInstance, "consumer cannot be nil")
	}
	return s.Register(c.ConsumerType(), c)
}

// Unregister removes the consumer of type t. It fails if no consumer of that
// type is registered, or if the registered consumer is a different instance
// than the one given; in both cases the table is left unchanged.
func (s *Synchronizer) Unregister(t ConsumerType, instance any) error {
	if err := s.removeRegistration(t, instance); err != nil {
		return err
	}
	s.audit.LogConsumer(AuditInfo, "consumer_unregistered", t, nil)
	return nil
}

func (s *Synchronizer) removeRegistration(t ConsumerType, instance any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	registered, exists := s.registered[t]
	if !exists {
		return errors.New(ErrCodeNotRegistered,
			fmt.Sprintf("no consumer of type %s is registered; "+
				"ensure the consumer is registered before unregistering it", t)).
			WithContext("consumer_type", string(t))
	}
	// Registered instances are nil or pointers, so this is a reference
	// comparison and cannot panic
	if registered != instance {
		return errors.New(ErrCodeMismatchedInstance,
			fmt.Sprintf("the registered consumer of type %s differs from the one being unregistered", t)).
			WithContext("consumer_type", string(t))
	}

	delete(s.registered, t)
	return nil
}

// UnregisterType removes a type-only registration
func (s *Synchronizer) UnregisterType(t ConsumerType) error {
	return s.Unregister(t, nil)
}

// UnregisterConsumer removes c from its own consumer type
func (s *Synchronizer) UnregisterConsumer(c Consumer) error {
	if c == nil {
		return errors.New(ErrCodeInvalidInstance, "consumer cannot be nil")
	}
	return s.Unregister(c.ConsumerType(), c)
}

// IsRegistered reports whether a consumer of type t is registered
func (s *Synchronizer) IsRegistered(t ConsumerType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registered[t]
	return ok
}

// Registered returns the registered consumer types, sorted
func (s *Synchronizer) Registered() []ConsumerType {
	s.mu.Lock()
	types := make([]ConsumerType, 0, len(s.registered))
	for t := range s.registered {
		types = append(types, t)
	}
	s.mu.Unlock()

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// validateInstance accepts nil and pointers only
func validateInstance(t ConsumerType, instance any) error {
	if instance == nil {
		return nil
	}
	if reflect.TypeOf(instance).Kind() != reflect.Pointer {
		return errors.New(ErrCodeInvalidInstance,
			fmt.Sprintf("consumer instance must be a pointer, got %T", instance)).
			WithContext("consumer_type", string(t))
	}
	return nil
}

// =============================================================================
// SYNC
// =============================================================================

// Sync writes the current record into every declared slot of every registered
// consumer. A slot that cannot be written is reported and skipped; the pass
// always visits every consumer. Sync is idempotent and may be called as often
// as the host likes, typically once per frame.
func (s *Synchronizer) Sync() SyncReport {
	s.mu.Lock()
	current := s.settings
	entries := make([]registration, 0, len(s.registered))
	for t, instance := range s.registered {
		entries = append(entries, registration{consumer: t, instance: instance})
	}
	s.mu.Unlock()

	var report SyncReport
	for _, entry := range entries {
		report.Consumers++
		slots, _ := s.catalog.Slots(entry.consumer)
		for _, slot := range slots {
			record, ok := current[slot.Target]
			if !ok {
				report.SlotsSkipped++
				continue
			}
			if err := slot.apply(entry.instance, record); err != nil {
				report.SlotsFailed++
				s.reportSlotFailure(entry, slot, err)
				continue
			}
			report.SlotsWritten++
		}
	}

	s.passes.Add(1)
	s.slotsWritten.Add(uint64(report.SlotsWritten))
	s.slotsFailed.Add(uint64(report.SlotsFailed))
	s.lastSync.Store(timecache.CachedTimeNano())
	return report
}

// reportSlotFailure reports a failed slot write with full context
func (s *Synchronizer) reportSlotFailure(entry registration, slot Slot, cause error) {
	msg := fmt.Sprintf("unable to update slot %s in %s (type is %s)", slot.Name, instanceLabel(entry.instance), entry.consumer)
	err := errors.Wrap(cause, ErrCodeSlotWriteFailed, msg).
		WithContext("consumer_type", string(entry.consumer)).
		WithContext("slot", slot.Name).
		WithContext("record_type", string(slot.Target))
	s.config.ErrorHandler(err, KeyFor(slot.Target))
	s.audit.LogConsumer(AuditWarn, "slot_write_failed", entry.consumer, map[string]interface{}{
		"slot":        slot.Name,
		"record_type": string(slot.Target),
		"instance":    instanceLabel(entry.instance),
		"reason":      cause.Error(),
	})
}

// instanceLabel names a consumer instance by type and address, never by value
func instanceLabel(instance any) string {
	if instance == nil {
		return "<type-only>"
	}
	return fmt.Sprintf("%T@%p", instance, instance)
}

// Stats returns aggregate counters over all sync passes
func (s *Synchronizer) Stats() SyncStats {
	stats := SyncStats{
		Passes:       s.passes.Load(),
		SlotsWritten: s.slotsWritten.Load(),
		SlotsFailed:  s.slotsFailed.Load(),
	}
	if last := s.lastSync.Load(); last != 0 {
		stats.LastSync = time.Unix(0, last)
	}
	return stats
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Close stops the store watcher, flushes the audit trail and closes the store
// when it holds resources. It does not save; call Save first if needed.
func (s *Synchronizer) Close() error {
	var errs []error

	if err := s.StopWatching(); err != nil && !HasCode(err, ErrCodeWatcherStopped) {
		errs = append(errs, err)
	}
	if err := s.audit.Close(); err != nil {
		errs = append(errs, err)
	}
	if closer, ok := s.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.New(ErrCodeIOError, fmt.Sprintf("errors closing synchronizer: %v", errs))
	}
	return nil
}
