// Package cli provides the command-line interface for inspecting and editing
// tweak settings outside the host.
//
// Commands:
// - settings list|get|set|reset|export: read and edit persisted records
// - migrate: import a legacy properties file into the store
// - audit stats: summarize an audit trail
// - info: declared records and consumers, effective configuration
//
// Every command opens the store described by its --backend, --store-dir,
// --format and --sqlite-path flags (TWEAKSYNC_* variables supply defaults).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/tweaksync"
)

// Version is the CLI version reported by --version and info
const Version = "1.0.0"

// Manager routes CLI commands
type Manager struct {
	app         *orpheus.App
	auditLogger *tweaksync.AuditLogger // Optional audit integration
	out         io.Writer
	errOut      io.Writer
}

// NewManager creates a CLI manager writing to stdout and stderr
func NewManager() *Manager {
	app := orpheus.New("tweaksync").
		SetDescription("Inspect and edit tweak settings").
		SetVersion(Version)

	manager := &Manager{
		app:    app,
		out:    os.Stdout,
		errOut: os.Stderr,
	}

	manager.setupSettingsCommands()
	manager.setupMigrateCommand()
	manager.setupUtilityCommands()

	return manager
}

// WithAudit records every edit made through the CLI in auditLogger
func (m *Manager) WithAudit(auditLogger *tweaksync.AuditLogger) *Manager {
	m.auditLogger = auditLogger
	return m
}

// WithOutput redirects normal and error output
func (m *Manager) WithOutput(out, errOut io.Writer) *Manager {
	m.out = out
	m.errOut = errOut
	return m
}

// Run executes the CLI with args (without the program name)
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// addStoreFlags declares the flags selecting the settings store
func addStoreFlags(cmd *orpheus.Command) *orpheus.Command {
	return cmd.
		AddFlag("backend", "b", "", "Store backend (file|sqlite|memory)").
		AddFlag("store-dir", "d", "", "Settings directory for the file backend").
		AddFlag("format", "f", "", "Record format (json|yaml)").
		AddFlag("sqlite-path", "", "", "Database for the sqlite backend")
}

func (m *Manager) setupSettingsCommands() {
	settingsCmd := orpheus.NewCommand("settings", "Settings record operations")

	// settings list
	addStoreFlags(settingsCmd.Subcommand("list", "List settings records", m.handleSettingsList))

	// settings get <record> [field]
	addStoreFlags(settingsCmd.Subcommand("get", "Show a record or one of its fields", m.handleSettingsGet))

	// settings set <record> <field> <value>
	addStoreFlags(settingsCmd.Subcommand("set", "Set a record field and save", m.handleSettingsSet))

	// settings reset <record>
	addStoreFlags(settingsCmd.Subcommand("reset", "Restore a record's defaults and save", m.handleSettingsReset))

	// settings export <record> [--to=yaml] [--output=file]
	exportCmd := settingsCmd.Subcommand("export", "Print or write a record in a given format", m.handleSettingsExport)
	addStoreFlags(exportCmd)
	exportCmd.AddFlag("to", "t", "yaml", "Output format (json|yaml)")
	exportCmd.AddFlag("output", "o", "", "Output file (default: stdout)")

	m.app.AddCommand(settingsCmd)
}

func (m *Manager) setupMigrateCommand() {
	// migrate <legacy.properties>
	migrateCmd := orpheus.NewCommand("migrate", "Import legacy settings keys into the store").
		SetHandler(m.handleMigrate)
	addStoreFlags(migrateCmd)
	m.app.AddCommand(migrateCmd)
}

func (m *Manager) setupUtilityCommands() {
	auditCmd := orpheus.NewCommand("audit", "Audit trail inspection")
	// audit stats <file.db|file.jsonl>
	auditCmd.Subcommand("stats", "Summarize an audit trail", m.handleAuditStats)
	m.app.AddCommand(auditCmd)

	infoCmd := orpheus.NewCommand("info", "Declared records, consumers and configuration").
		SetHandler(m.handleInfo)
	addStoreFlags(infoCmd)
	m.app.AddCommand(infoCmd)
}
