// Command handlers for the tweaksync CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/tweaksync"
	"github.com/agilira/tweaksync/tweaks"
)

// handleSettingsList prints every record type with its enabled state
func (m *Manager) handleSettingsList(ctx *orpheus.Context) error {
	s, err := m.openSynchronizer(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, t := range s.RecordTypes() {
		record, err := s.GetSettingsFor(t)
		if err != nil {
			return err
		}
		fmt.Fprintf(m.out, "%-32s %s\n", t, enabledLabel(record.Enabled()))
	}
	return nil
}

// handleSettingsGet prints all fields of a record, or a single field
func (m *Manager) handleSettingsGet(ctx *orpheus.Context) error {
	s, err := m.openSynchronizer(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := resolveRecordType(s.Catalog(), ctx.GetArg(0))
	if err != nil {
		return err
	}
	record, err := s.GetSettingsFor(t)
	if err != nil {
		return err
	}
	editor, err := tweaksync.NewRecordEditor(record)
	if err != nil {
		return err
	}

	if key := ctx.GetArg(1); key != "" {
		value, ok := editor.Get(key)
		if !ok {
			return errors.New(tweaksync.ErrCodeInvalidEdit, fmt.Sprintf("field '%s' not found in %s", key, t))
		}
		fmt.Fprintln(m.out, formatValue(value))
		return nil
	}

	fmt.Fprintf(m.out, "%s:\n", t)
	for _, key := range editor.Keys("") {
		value, _ := editor.Get(key)
		fmt.Fprintf(m.out, "  %s = %s\n", key, formatValue(value))
	}
	return nil
}

// handleSettingsSet edits one field and saves the record
func (m *Manager) handleSettingsSet(ctx *orpheus.Context) error {
	s, err := m.openSynchronizer(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := resolveRecordType(s.Catalog(), ctx.GetArg(0))
	if err != nil {
		return err
	}
	key, value := ctx.GetArg(1), ctx.GetArg(2)
	if key == "" {
		return errors.New(tweaksync.ErrCodeInvalidEdit, "usage: settings set <record> <field> <value>")
	}

	if err := s.EditRecord(t, key, value); err != nil {
		return err
	}
	if err := s.SaveRecord(t); err != nil {
		return err
	}

	m.auditLogger.LogSettings(tweaksync.AuditCritical, "cli_settings_set", t,
		map[string]interface{}{"field": key, "value": value})
	fmt.Fprintf(m.out, "Set %s.%s = %s\n", t, key, value)
	return nil
}

// handleSettingsReset restores a record's defaults and saves it
func (m *Manager) handleSettingsReset(ctx *orpheus.Context) error {
	s, err := m.openSynchronizer(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := resolveRecordType(s.Catalog(), ctx.GetArg(0))
	if err != nil {
		return err
	}
	if err := s.Reset(t); err != nil {
		return err
	}
	if err := s.SaveRecord(t); err != nil {
		return err
	}

	m.auditLogger.LogSettings(tweaksync.AuditCritical, "cli_settings_reset", t, nil)
	fmt.Fprintf(m.out, "Reset %s to defaults\n", t)
	return nil
}

// handleSettingsExport encodes a record in the requested format
func (m *Manager) handleSettingsExport(ctx *orpheus.Context) error {
	s, err := m.openSynchronizer(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := resolveRecordType(s.Catalog(), ctx.GetArg(0))
	if err != nil {
		return err
	}
	codec, err := tweaksync.CodecFor(tweaksync.StoreFormat(ctx.GetFlagString("to")))
	if err != nil {
		return err
	}
	record, err := s.GetSettingsFor(t)
	if err != nil {
		return err
	}
	data, err := codec.Encode(record)
	if err != nil {
		return err
	}

	output := ctx.GetFlagString("output")
	if output == "" {
		_, err := m.out.Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0600); err != nil {
		return errors.Wrap(err, tweaksync.ErrCodeIOError, "failed to write export").
			WithContext("path", output)
	}
	fmt.Fprintf(m.out, "Exported %s to %s\n", t, output)
	return nil
}

// handleMigrate imports a legacy properties file and saves the result. The
// imported keys are removed from the properties file.
func (m *Manager) handleMigrate(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	if path == "" {
		return errors.New(tweaksync.ErrCodeInvalidConfig, "usage: migrate <legacy.properties>")
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, tweaksync.ErrCodeIOError, "legacy settings file not found").
			WithContext("path", path)
	}

	legacy, err := tweaksync.OpenPropertiesLegacyStore(path)
	if err != nil {
		return err
	}

	s, err := m.newSynchronizer(ctx, tweaks.NewLegacyImporter(legacy))
	if err != nil {
		return err
	}
	defer s.Close()

	// Records that failed to decode were defaulted; leave their files alone
	report := s.Load()
	defaulted := make(map[tweaksync.RecordType]bool, len(report.Defaulted))
	for _, t := range report.Defaulted {
		defaulted[t] = true
		fmt.Fprintf(m.errOut, "  skipped  %s (unreadable record file)\n", t)
	}
	for _, t := range s.RecordTypes() {
		if defaulted[t] {
			continue
		}
		if err := s.SaveRecord(t); err != nil {
			return err
		}
	}

	var migrated, failed []string
	if report.Legacy != nil {
		migrated, failed = report.Legacy.Migrated, report.Legacy.Failed
	}
	for _, key := range migrated {
		fmt.Fprintf(m.out, "  migrated %s\n", key)
	}
	for _, key := range failed {
		fmt.Fprintf(m.out, "  failed   %s\n", key)
	}
	fmt.Fprintf(m.out, "Migrated %d legacy key(s) from %s, %d failed\n", len(migrated), path, len(failed))
	return nil
}

// handleAuditStats summarizes an audit trail file
func (m *Manager) handleAuditStats(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	if path == "" {
		return errors.New(tweaksync.ErrCodeInvalidConfig, "usage: audit stats <file.db|file.jsonl>")
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, tweaksync.ErrCodeIOError, "audit trail not found").
			WithContext("path", path)
	}

	logger, err := tweaksync.NewAuditLogger(tweaksync.AuditConfig{Enabled: true, OutputFile: path})
	if err != nil {
		return err
	}
	defer logger.Close()

	stats, err := logger.Stats()
	if err != nil {
		return err
	}

	fmt.Fprintf(m.out, "Audit trail: %s (%s, schema v%d, %d bytes)\n",
		stats.Path, stats.Backend, stats.SchemaVersion, stats.SizeBytes)
	fmt.Fprintf(m.out, "Events: %d in %d session(s)\n", stats.TotalEvents, stats.Sessions)
	if stats.OldestEvent != nil && stats.NewestEvent != nil {
		fmt.Fprintf(m.out, "Range: %s .. %s\n",
			stats.OldestEvent.Format("2006-01-02 15:04:05"), stats.NewestEvent.Format("2006-01-02 15:04:05"))
	}
	for _, level := range []string{"INFO", "WARN", "CRITICAL"} {
		if n := stats.EventsByLevel[level]; n > 0 {
			fmt.Fprintf(m.out, "  %-8s %d\n", level, n)
		}
	}
	return nil
}

// handleInfo prints the declared catalog and the effective store configuration
func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	config, err := m.storeConfig(ctx)
	if err != nil {
		return err
	}
	catalog, err := tweaks.NewCatalog()
	if err != nil {
		return err
	}

	fmt.Fprintf(m.out, "tweaksync %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(m.out, "Store: %s", config.StoreBackend)
	switch config.StoreBackend {
	case tweaksync.BackendFile:
		fmt.Fprintf(m.out, " at %s (%s)", config.StoreDir, config.StoreFormat)
	case tweaksync.BackendSQLite:
		fmt.Fprintf(m.out, " at %s (%s)", config.SQLitePath, config.StoreFormat)
	}
	fmt.Fprintln(m.out)

	fmt.Fprintln(m.out, "Records:")
	for _, t := range catalog.RecordTypes() {
		fmt.Fprintf(m.out, "  %s\n", t)
	}
	fmt.Fprintln(m.out, "Consumers:")
	for _, c := range catalog.ConsumerTypes() {
		slots, _ := catalog.Slots(c)
		names := make([]string, 0, len(slots))
		for _, slot := range slots {
			names = append(names, fmt.Sprintf("%s -> %s", slot.Name, slot.Target))
		}
		fmt.Fprintf(m.out, "  %s [%s]\n", c, strings.Join(names, ", "))
	}
	return nil
}
