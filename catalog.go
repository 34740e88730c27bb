// catalog.go: Static declaration of record types, consumer types and slots
//
// The catalog is the closed set of types the synchronizer knows about. It is
// built once at startup, sealed when a Synchronizer is created and never
// changes afterwards.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agilira/go-errors"
)

// ConsumerType identifies a consumer type. At most one consumer of a given
// type can be registered at any time.
type ConsumerType string

// String implements fmt.Stringer
func (t ConsumerType) String() string { return string(t) }

// Consumer is implemented by consumer objects that can name their own type,
// enabling the RegisterConsumer / UnregisterConsumer call shape.
type Consumer interface {
	ConsumerType() ConsumerType
}

// RecordFactory returns a freshly constructed record holding default values.
// It must return a new instance on every call.
type RecordFactory func() Settings

// Slot is a synchronization target declared by a consumer type: during a sync
// pass the current record of type Target is written into it.
//
// Slots are built with InstanceSlot or StaticSlot; the zero Slot is invalid.
type Slot struct {
	Name   string
	Target RecordType

	assign func(instance any, value Settings) error
}

// InstanceSlot declares a slot living on a consumer instance of type C that
// receives records of type S. The consumer must be registered with an
// instance; a type-only registration makes every write to this slot fail.
//
//	tweaksync.InstanceSlot("Settings", KeyLimiterType,
//		func(c *KeyLimiter, s *KeyLimiterSettings) { c.Settings = s })
func InstanceSlot[C any, S Settings](name string, target RecordType, set func(C, S)) Slot {
	return Slot{
		Name:   name,
		Target: target,
		assign: func(instance any, value Settings) error {
			if set == nil {
				return errors.New(ErrCodeSlotWriteFailed, "slot has no setter")
			}
			if instance == nil {
				return errors.New(ErrCodeSlotWriteFailed, "slot requires a registered instance")
			}
			consumer, ok := instance.(C)
			if !ok {
				var want C
				return errors.New(ErrCodeSlotWriteFailed,
					fmt.Sprintf("instance is %T, slot expects %T", instance, want))
			}
			record, ok := value.(S)
			if !ok {
				var want S
				return errors.New(ErrCodeSlotWriteFailed,
					fmt.Sprintf("record is %T, slot expects %T", value, want))
			}
			set(consumer, record)
			return nil
		},
	}
}

// StaticSlot declares a slot that does not need an instance, typically a
// package-level variable. It works with both type-only and instance
// registrations; the instance, if any, is ignored.
func StaticSlot[S Settings](name string, target RecordType, set func(S)) Slot {
	return Slot{
		Name:   name,
		Target: target,
		assign: func(_ any, value Settings) error {
			if set == nil {
				return errors.New(ErrCodeSlotWriteFailed, "slot has no setter")
			}
			record, ok := value.(S)
			if !ok {
				var want S
				return errors.New(ErrCodeSlotWriteFailed,
					fmt.Sprintf("record is %T, slot expects %T", value, want))
			}
			set(record)
			return nil
		},
	}
}

// apply writes value into the slot. A panicking setter is turned into an error
// so that one bad slot cannot abort a sync pass.
func (s Slot) apply(instance any, value Settings) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(ErrCodeSlotWriteFailed, fmt.Sprintf("slot setter panicked: %v", r))
		}
	}()
	return s.assign(instance, value)
}

// Catalog is the statically declared set of record and consumer types.
// It is not safe for concurrent declaration; declare everything from the
// composition root before building the Synchronizer.
type Catalog struct {
	records   map[RecordType]RecordFactory
	order     []RecordType
	consumers map[ConsumerType][]Slot
	sealed    bool
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		records:   make(map[RecordType]RecordFactory),
		consumers: make(map[ConsumerType][]Slot),
	}
}

// DeclareRecord adds a record type with the factory producing its defaults.
// Record types are loaded and saved in declaration order.
func (c *Catalog) DeclareRecord(t RecordType, factory RecordFactory) error {
	if c.sealed {
		return errors.New(ErrCodeCatalogSealed, "catalog is sealed").
			WithContext("record_type", string(t))
	}
	if t == "" {
		return errors.New(ErrCodeInvalidCatalog, "record type cannot be empty")
	}
	if factory == nil {
		return errors.New(ErrCodeInvalidCatalog, "record factory cannot be nil").
			WithContext("record_type", string(t))
	}
	if _, exists := c.records[t]; exists {
		return errors.New(ErrCodeInvalidCatalog, "record type declared twice").
			WithContext("record_type", string(t))
	}
	if factory() == nil {
		return errors.New(ErrCodeInvalidCatalog, "record factory returned nil").
			WithContext("record_type", string(t))
	}

	c.records[t] = factory
	c.order = append(c.order, t)
	return nil
}

// DeclareConsumer adds a consumer type together with its slots. A consumer
// type may declare no slots at all.
func (c *Catalog) DeclareConsumer(t ConsumerType, slots ...Slot) error {
	if c.sealed {
		return errors.New(ErrCodeCatalogSealed, "catalog is sealed").
			WithContext("consumer_type", string(t))
	}
	if t == "" {
		return errors.New(ErrCodeInvalidCatalog, "consumer type cannot be empty")
	}
	if _, exists := c.consumers[t]; exists {
		return errors.New(ErrCodeInvalidCatalog, "consumer type declared twice").
			WithContext("consumer_type", string(t))
	}

	names := make(map[string]struct{}, len(slots))
	for _, slot := range slots {
		if slot.Name == "" || slot.Target == "" || slot.assign == nil {
			return errors.New(ErrCodeInvalidCatalog, "slot must be built with InstanceSlot or StaticSlot").
				WithContext("consumer_type", string(t)).
				WithContext("slot", slot.Name)
		}
		if _, dup := names[slot.Name]; dup {
			return errors.New(ErrCodeInvalidCatalog, "slot declared twice").
				WithContext("consumer_type", string(t)).
				WithContext("slot", slot.Name)
		}
		names[slot.Name] = struct{}{}
	}

	c.consumers[t] = append([]Slot(nil), slots...)
	return nil
}

// RecordTypes returns the declared record types in declaration order
func (c *Catalog) RecordTypes() []RecordType {
	return append([]RecordType(nil), c.order...)
}

// ConsumerTypes returns the declared consumer types, sorted
func (c *Catalog) ConsumerTypes() []ConsumerType {
	types := make([]ConsumerType, 0, len(c.consumers))
	for t := range c.consumers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Slots returns the slots declared by a consumer type
func (c *Catalog) Slots(t ConsumerType) ([]Slot, bool) {
	slots, ok := c.consumers[t]
	return slots, ok
}

// HasRecord reports whether t is a declared record type
func (c *Catalog) HasRecord(t RecordType) bool {
	_, ok := c.records[t]
	return ok
}

// NewRecord returns a fresh default record of type t
func (c *Catalog) NewRecord(t RecordType) (Settings, bool) {
	factory, ok := c.records[t]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// seal freezes the catalog after checking that every slot targets a declared
// record type. Sealing twice is a no-op.
func (c *Catalog) seal() error {
	if c.sealed {
		return nil
	}

	var unknown []string
	for consumer, slots := range c.consumers {
		for _, slot := range slots {
			if _, ok := c.records[slot.Target]; !ok {
				unknown = append(unknown, fmt.Sprintf("%s.%s -> %s", consumer, slot.Name, slot.Target))
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.New(ErrCodeInvalidCatalog, "slots target undeclared record types").
			WithContext("slots", strings.Join(unknown, ", "))
	}

	c.sealed = true
	return nil
}
