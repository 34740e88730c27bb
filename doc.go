// Package tweaksync keeps the settings of independent feature tweaks loaded,
// persisted and pushed into the objects that use them.
//
// # Overview
//
// A host (typically a game with a plugin layer) carries many small tweaks.
// Each tweak has a settings record, persisted between runs, and one or more
// consumers: long-lived objects or static patch sites that read the record
// while the host runs. tweaksync owns three pieces:
//
//  1. The settings registry: exactly one live record per declared record type,
//     loaded at startup and saved on demand.
//  2. The consumer registration table: at most one registered consumer per
//     consumer type.
//  3. The synchronizer: Sync writes the current record into every declared
//     slot of every registered consumer.
//
// Records and consumers are declared up front in a Catalog. There is no
// discovery by reflection: a consumer type lists its slots, each naming the
// record type it receives and a typed setter.
//
//	catalog := tweaksync.NewCatalog()
//	_ = catalog.DeclareRecord(KeyLimiterSettingsType, NewKeyLimiterSettings)
//	_ = catalog.DeclareConsumer(KeyLimiterType,
//		tweaksync.InstanceSlot("Settings", KeyLimiterSettingsType,
//			func(k *KeyLimiter, s *KeyLimiterSettings) { k.Settings = s }))
//
// Static slots write package-level state and belong to consumers registered
// by type only (RegisterType).
//
// # Lifecycle
//
//	sync, err := tweaksync.New(catalog, store, tweaksync.Config{})
//	if err != nil {
//		return err
//	}
//	defer sync.Close()
//
//	sync.Load()                          // never fails, defaults on error
//	_ = sync.RegisterConsumer(limiter)   // fails on duplicate types
//	sync.Sync()                          // every frame, as often as needed
//	_ = sync.Save()                      // per record, failures aggregated
//
// Consumers hold the live record, not a copy: editing a field through a
// consumer is visible to every other consumer and to Save. Replacing a record
// (Reload, Reset) reaches consumers on the next Sync.
//
// # Stores
//
// A Store maps a persistence key (KeyFor) to an encoded record. FileStore
// keeps one JSON or YAML file per record and can be watched for external
// edits (Config.WatchStore). SQLiteStore keeps every record in one database.
// MemoryStore is for tests and ephemeral hosts. OpenStore builds the store a
// Config describes.
//
// # Errors
//
// Every error carries a code from the ErrCode* constants (see HasCode).
// Recoverable problems, such as a record that failed to load or a slot that
// could not be written, never abort the operation: they go to
// Config.ErrorHandler, which defaults to stderr.
//
// # Configuration
//
// Config fields can be overridden by TWEAKSYNC_* environment variables
// (ApplyEnv, LoadConfigFromEnv) and by command-line flags (ParseConfigFlags),
// in increasing order of precedence.
//
// # Audit
//
// When Config.Audit is enabled every load, save, registration, reset and
// edit is recorded with a tamper-evident checksum, to SQLite by default or to
// a JSON lines file.
//
// # Legacy settings
//
// Config.Legacy imports values left by older releases in a flat key space
// (for example a properties file) at the end of Load, deleting each key it
// visits so the import runs once.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package tweaksync
