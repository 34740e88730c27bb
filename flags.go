// flags.go: Command-line overlay for tweaksync configuration
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"strings"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
)

// ConfigFlags is a flag set whose defaults come from a base configuration.
// Flags left unset on the command line keep the base value, so the usual
// precedence is: flags, then environment, then defaults.
type ConfigFlags struct {
	flags *flashflags.FlagSet
	base  Config
}

// NewConfigFlags declares one flag per configuration field, defaulting to base
func NewConfigFlags(name string, base *Config) *ConfigFlags {
	if base == nil {
		base = &Config{}
	}
	b := *base.WithDefaults()

	fs := flashflags.New(name)
	fs.String("backend", string(b.StoreBackend), "settings store backend: file, sqlite or memory")
	fs.String("store-dir", b.StoreDir, "directory holding one file per settings record")
	fs.String("format", string(b.StoreFormat), "record encoding: json or yaml")
	fs.String("sqlite-path", b.SQLitePath, "SQLite settings database")
	fs.Bool("watch", b.WatchStore, "reload records edited on disk")
	fs.Duration("poll-interval", b.PollInterval, "record file polling interval")
	fs.Duration("cache-ttl", b.CacheTTL, "stat cache lifetime for the watcher")
	fs.Duration("sync-interval", b.SyncInterval, "interval between sync passes")
	fs.String("legacy-file", b.LegacyFile, "properties file with legacy settings to import")
	fs.Bool("audit", b.Audit.Enabled, "record an audit trail")
	fs.String("audit-output", b.Audit.OutputFile, "audit trail file (.db for SQLite, .jsonl for JSON lines)")
	fs.String("audit-level", b.Audit.MinLevel.String(), "minimum audit level: INFO, WARN or CRITICAL")

	return &ConfigFlags{flags: fs, base: b}
}

// SetDescription sets the help text description
func (cf *ConfigFlags) SetDescription(description string) *ConfigFlags {
	cf.flags.SetDescription(description)
	return cf
}

// SetVersion sets the help text version
func (cf *ConfigFlags) SetVersion(version string) *ConfigFlags {
	cf.flags.SetVersion(version)
	return cf
}

// Names lists the declared flags
func (cf *ConfigFlags) Names() []string {
	var names []string
	cf.flags.VisitAll(func(flag *flashflags.Flag) {
		names = append(names, flag.Name())
	})
	return names
}

// PrintHelp writes usage to stdout
func (cf *ConfigFlags) PrintHelp() {
	cf.flags.PrintHelp()
}

// Parse parses args and returns the resulting configuration. On -h/--help it
// prints usage and returns an ErrCodeHelpRequested error.
func (cf *ConfigFlags) Parse(args []string) (*Config, error) {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			cf.flags.PrintHelp()
			return nil, errors.New(ErrCodeHelpRequested, "help requested")
		}
	}

	if err := cf.flags.Parse(args); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse command-line flags")
	}

	config := cf.base
	backend := StoreBackend(strings.ToLower(cf.flags.GetString("backend")))
	switch backend {
	case BackendFile, BackendSQLite, BackendMemory:
		config.StoreBackend = backend
	default:
		return nil, errors.New(ErrCodeInvalidConfig, "invalid --backend value").
			WithContext("backend", string(backend))
	}

	codec, err := CodecFor(StoreFormat(cf.flags.GetString("format")))
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid --format value")
	}
	config.StoreFormat = codec.Format()

	config.StoreDir = cf.flags.GetString("store-dir")
	config.SQLitePath = cf.flags.GetString("sqlite-path")
	if config.SQLitePath == cf.base.SQLitePath && config.StoreDir != cf.base.StoreDir {
		config.SQLitePath = "" // follow the new store dir
	}
	config.WatchStore = cf.flags.GetBool("watch")
	config.PollInterval = cf.flags.GetDuration("poll-interval")
	config.CacheTTL = cf.flags.GetDuration("cache-ttl")
	config.SyncInterval = cf.flags.GetDuration("sync-interval")
	config.LegacyFile = cf.flags.GetString("legacy-file")

	config.Audit.Enabled = cf.flags.GetBool("audit")
	config.Audit.OutputFile = cf.flags.GetString("audit-output")
	level, err := ParseAuditLevel(strings.ToUpper(cf.flags.GetString("audit-level")))
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid --audit-level value")
	}
	config.Audit.MinLevel = level
	if config.Audit.Enabled && config.Audit.BufferSize == 0 {
		defaults := DefaultAuditConfig()
		config.Audit.BufferSize = defaults.BufferSize
		config.Audit.FlushInterval = defaults.FlushInterval
	}

	return config.WithDefaults(), nil
}

// ParseConfigFlags is the one-call form: environment, then flags
//
//	config, err := tweaksync.ParseConfigFlags("tweakhost", os.Args[1:])
func ParseConfigFlags(name string, args []string) (*Config, error) {
	base := &Config{}
	if err := ApplyEnv(base); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to load environment configuration")
	}
	return NewConfigFlags(name, base).Parse(args)
}
