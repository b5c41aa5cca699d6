// Package cli provides the command-line interface for Themis settings files.
//
// Commands run against a settings document through a FileBridge-backed
// store, so every write goes through the same validation and audit path as
// the application itself.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"

	"github.com/agilira/themis"
)

// Version is the CLI version reported by info and --version.
const Version = "1.0.0"

// Manager wires the orpheus command tree to Themis stores.
type Manager struct {
	app    *orpheus.App
	config themis.Config
	out    io.Writer
	errOut io.Writer
}

// NewManager creates the CLI. A nil config means themis.DefaultConfig().
func NewManager(config *themis.Config) *Manager {
	if config == nil {
		config = themis.DefaultConfig()
	}
	app := orpheus.New("themis").
		SetDescription("Validated settings for desktop applications").
		SetVersion(Version)

	m := &Manager{
		app:    app,
		config: *config,
		out:    os.Stdout,
		errOut: os.Stderr,
	}

	m.setupSettingsCommands()
	m.setupTransferCommands()
	m.setupUtilityCommands()
	return m
}

// WithOutput redirects normal and diagnostic output.
func (m *Manager) WithOutput(out, errOut io.Writer) *Manager {
	if out != nil {
		m.out = out
	}
	if errOut != nil {
		m.errOut = errOut
	}
	return m
}

// Run executes the command in args (without the program name).
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// setupSettingsCommands configures the 'settings' group. Command flags
// follow the positional arguments.
func (m *Manager) setupSettingsCommands() {
	settingsCmd := orpheus.NewCommand("settings", "Read and edit settings sections")

	// settings get <file> <section> [--output json|yaml]
	getCmd := settingsCmd.Subcommand("get", "Print a section", m.handleSettingsGet)
	getCmd.AddFlag("output", "o", "json", "Output format (json|yaml)")

	// settings set <file> <section> <field> <value>
	settingsCmd.Subcommand("set", "Set one field of a section", m.handleSettingsSet)

	// settings reset <file> <section>
	settingsCmd.Subcommand("reset", "Restore a section to its defaults", m.handleSettingsReset)

	// settings validate <file>
	settingsCmd.Subcommand("validate", "Validate every section", m.handleSettingsValidate)

	m.app.AddCommand(settingsCmd)
}

// setupTransferCommands configures export, import and serve.
func (m *Manager) setupTransferCommands() {
	exportCmd := orpheus.NewCommand("export", "Export every section to a JSON, YAML or TOML file").
		AddFlag("format", "f", "auto", "Output format (auto|json|yaml|toml)").
		SetHandler(m.handleExport)
	m.app.AddCommand(exportCmd)

	importCmd := orpheus.NewCommand("import", "Import an export file; rejected as a whole on any violation").
		AddFlag("format", "f", "auto", "Input format (auto|json|yaml|toml)").
		SetHandler(m.handleImport)
	m.app.AddCommand(importCmd)

	serveCmd := orpheus.NewCommand("serve", "Expose a settings file as an HTTP platform bridge").
		AddFlag("addr", "a", "127.0.0.1:8787", "Listen address").
		SetHandler(m.handleServe)
	m.app.AddCommand(serveCmd)
}

// setupUtilityCommands configures diagnostics.
func (m *Manager) setupUtilityCommands() {
	debugCmd := orpheus.NewCommand("debug", "Print state, metrics and error history as JSON")
	debugCmd.SetHandler(m.handleDebug)
	m.app.AddCommand(debugCmd)

	auditCmd := orpheus.NewCommand("audit", "Audit trail queries")

	queryCmd := auditCmd.Subcommand("query", "Query audit events", m.handleAuditQuery)
	queryCmd.AddFlag("since", "s", "", "Time range (e.g. 24h, 7d, 2w)")
	queryCmd.AddFlag("event", "e", "", "Event type filter")
	queryCmd.AddFlag("section", "", "", "Section filter")
	queryCmd.AddIntFlag("limit", "l", 100, "Maximum results")

	auditCmd.Subcommand("stats", "Audit backend statistics", m.handleAuditStats)
	m.app.AddCommand(auditCmd)

	infoCmd := orpheus.NewCommand("info", "Configuration and section overview")
	infoCmd.SetHandler(m.handleInfo)
	infoCmd.AddBoolFlag("verbose", "v", false, "List bridge keys per section")
	m.app.AddCommand(infoCmd)
}
