// Command handlers for the Themis CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"

	"github.com/agilira/themis"
	clihelp "github.com/agilira/themis/internal/cli"
	"github.com/agilira/themis/providers/httpbridge"
)

// openStore opens the settings document at path behind a fresh store.
// The caller closes the store.
func (m *Manager) openStore(path string) (*themis.Store, error) {
	if path == "" {
		return nil, errors.New(themis.ErrCodeInvalidConfig, "settings file argument is required")
	}
	bridge, err := themis.NewFileBridge(path, themis.FormatUnknown, themis.FileBridgeOptions{})
	if err != nil {
		return nil, err
	}
	return themis.New(m.config, bridge), nil
}

func requireSection(name string) (themis.Section, error) {
	if name == "" {
		return 0, errors.New(themis.ErrCodeUnknownSection, "section argument is required")
	}
	return themis.ParseSection(name)
}

// warnFallback tells the user that a section shows its defaults.
func (m *Manager) warnFallback(section themis.Section, err error) {
	if err != nil {
		fmt.Fprintf(m.errOut, "warning: %s uses defaults: %v\n", section, err)
	}
}

func (m *Manager) printViolations(err error) {
	for _, v := range themis.ValidationErrorsOf(err) {
		fmt.Fprintf(m.out, "  - %s\n", v.Error())
	}
}

// handleSettingsGet prints one section.
func (m *Manager) handleSettingsGet(ctx *orpheus.Context) error {
	section, err := requireSection(ctx.GetArg(1))
	if err != nil {
		return err
	}
	store, err := m.openStore(ctx.GetArg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	m.warnFallback(section, store.LoadSettings(context.Background(), section))
	data, _ := store.Get(section)
	return clihelp.Render(m.out, data, ctx.GetFlagString("output"))
}

// handleSettingsSet sets one field by JSON path and saves the section.
func (m *Manager) handleSettingsSet(ctx *orpheus.Context) error {
	path, field, value := ctx.GetArg(0), ctx.GetArg(2), ctx.GetArg(3)
	section, err := requireSection(ctx.GetArg(1))
	if err != nil {
		return err
	}
	if field == "" {
		return errors.New(themis.ErrCodeFieldPatchError, "field argument is required")
	}

	store, err := m.openStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	bg := context.Background()
	m.warnFallback(section, store.LoadSettings(bg, section))
	data, _ := store.Get(section)

	patched, err := themis.ApplyFieldPatch(data, field, value)
	if err != nil {
		return err
	}
	if err := store.UpdateSettings(bg, section, patched); err != nil {
		if violations := themis.ValidationErrorsOf(err); len(violations) > 0 {
			fmt.Fprintf(m.out, "%s rejected:\n", section)
			m.printViolations(err)
		}
		return err
	}

	fmt.Fprintf(m.out, "Set %s.%s = %s in %s\n", section, field, value, path)
	return nil
}

// handleSettingsReset writes the defaults of one section.
func (m *Manager) handleSettingsReset(ctx *orpheus.Context) error {
	section, err := requireSection(ctx.GetArg(1))
	if err != nil {
		return err
	}
	store, err := m.openStore(ctx.GetArg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.ResetSettings(context.Background(), section); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Reset %s to defaults in %s\n", section, ctx.GetArg(0))
	return nil
}

// handleSettingsValidate loads every section and validates what was read.
func (m *Manager) handleSettingsValidate(ctx *orpheus.Context) error {
	store, err := m.openStore(ctx.GetArg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	bg := context.Background()
	invalid := 0
	for _, section := range themis.AllSections() {
		loadErr := store.LoadSettings(bg, section)
		data, _ := store.Get(section)
		violations := themis.Validate(section, data)

		switch {
		case len(violations) > 0:
			invalid++
			fmt.Fprintf(m.out, "%-12s INVALID\n", section)
			for _, v := range violations {
				fmt.Fprintf(m.out, "  - %s\n", v.Error())
			}
		case loadErr != nil:
			fmt.Fprintf(m.out, "%-12s DEFAULTS (%v)\n", section, loadErr)
		default:
			fmt.Fprintf(m.out, "%-12s OK\n", section)
		}
	}

	if invalid > 0 {
		return errors.New(themis.ErrCodeValidationFailed, fmt.Sprintf("%d section(s) failed validation", invalid))
	}
	return nil
}

func resolveFormat(path, explicit string) (themis.Format, error) {
	if explicit != "" && explicit != "auto" {
		return themis.ParseFormat(explicit)
	}
	format := themis.DetectFormat(path)
	if format == themis.FormatUnknown {
		return format, errors.New(themis.ErrCodeInvalidFormat, "cannot detect format of "+path)
	}
	return format, nil
}

// handleExport writes every section to a file.
func (m *Manager) handleExport(ctx *orpheus.Context) error {
	outPath := ctx.GetArg(1)
	if outPath == "" {
		return errors.New(themis.ErrCodeInvalidConfig, "output file argument is required")
	}
	format, err := resolveFormat(outPath, ctx.GetFlagString("format"))
	if err != nil {
		return err
	}
	if err := clihelp.CheckFileWriteable(outPath); err != nil {
		return err
	}

	store, err := m.openStore(ctx.GetArg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	for _, section := range themis.AllSections() {
		m.warnFallback(section, store.InitializeSection(context.Background(), section))
	}

	data, err := themis.EncodeExport(store.ExportSettings(), format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, data, 0600); err != nil {
		return errors.Wrap(err, themis.ErrCodeIOError, "failed to write export")
	}
	fmt.Fprintf(m.out, "Exported %d sections to %s (%s)\n", len(themis.AllSections()), outPath, format)
	return nil
}

// handleImport applies an export file. Nothing is written unless every
// section in it is valid.
func (m *Manager) handleImport(ctx *orpheus.Context) error {
	inPath := ctx.GetArg(1)
	if inPath == "" {
		return errors.New(themis.ErrCodeInvalidConfig, "input file argument is required")
	}
	format, err := resolveFormat(inPath, ctx.GetFlagString("format"))
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(inPath) // #nosec G304 -- path chosen by the operator
	if err != nil {
		return errors.Wrap(err, themis.ErrCodeIOError, "failed to read import file")
	}

	payload, err := themis.DecodeExport(raw, format)
	if err != nil {
		fmt.Fprintln(m.out, "import rejected:")
		m.printViolations(err)
		return err
	}

	store, err := m.openStore(ctx.GetArg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.ImportSettings(context.Background(), payload); err != nil {
		fmt.Fprintln(m.out, "import rejected:")
		m.printViolations(err)
		return err
	}

	names := make([]string, 0, 5)
	for _, section := range payload.Settings.Sections() {
		names = append(names, section.String())
	}
	fmt.Fprintf(m.out, "Imported %s into %s\n", strings.Join(names, ", "), ctx.GetArg(0))
	return nil
}

// handleDebug prints GetDebugInfo after initializing every section.
func (m *Manager) handleDebug(ctx *orpheus.Context) error {
	store, err := m.openStore(ctx.GetArg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	_ = store.InitializeAllSections(context.Background())
	return clihelp.Render(m.out, store.GetDebugInfo(), "json")
}

func (m *Manager) openAudit() (*themis.AuditLogger, error) {
	if !m.config.Audit.Enabled {
		return nil, errors.New(themis.ErrCodeAuditNotQueryable, "audit logging not enabled")
	}
	return themis.NewAuditLogger(m.config.Audit)
}

// handleAuditQuery lists matching audit events, newest first.
func (m *Manager) handleAuditQuery(ctx *orpheus.Context) error {
	q := themis.AuditQuery{
		Event: ctx.GetFlagString("event"),
		Limit: ctx.GetFlagInt("limit"),
	}
	if since := ctx.GetFlagString("since"); since != "" {
		d, err := clihelp.ParseExtendedDuration(since)
		if err != nil {
			return errors.New(themis.ErrCodeInvalidConfig, fmt.Sprintf("invalid --since: %v", err))
		}
		q.Since = time.Now().Add(-d)
	}
	if name := ctx.GetFlagString("section"); name != "" {
		section, err := themis.ParseSection(name)
		if err != nil {
			return err
		}
		q.Section = section.String()
	}

	audit, err := m.openAudit()
	if err != nil {
		return err
	}
	defer audit.Close()

	events, err := audit.Query(q)
	if err != nil {
		return err
	}
	for _, e := range events {
		section := e.Section
		if section == "" {
			section = "-"
		}
		fmt.Fprintf(m.out, "%s %-8s %-18s %-12s %s\n",
			e.Timestamp.Format(time.RFC3339), e.Level, e.Event, section, e.Component)
	}
	fmt.Fprintf(m.out, "%d event(s)\n", len(events))
	return nil
}

// handleAuditStats prints backend statistics.
func (m *Manager) handleAuditStats(ctx *orpheus.Context) error {
	audit, err := m.openAudit()
	if err != nil {
		return err
	}
	defer audit.Close()

	stats, err := audit.Stats()
	if err != nil {
		return err
	}
	return clihelp.Render(m.out, stats, "json")
}

// handleServe serves the settings file over HTTP until interrupted.
func (m *Manager) handleServe(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	if path == "" {
		return errors.New(themis.ErrCodeInvalidConfig, "settings file argument is required")
	}
	bridge, err := themis.NewFileBridge(path, themis.FormatUnknown, themis.FileBridgeOptions{})
	if err != nil {
		return err
	}

	addr := ctx.GetFlagString("addr")
	server := &http.Server{
		Addr:              addr,
		Handler:           httpbridge.NewServer(bridge),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	fmt.Fprintf(m.out, "Serving %s on http://%s (Ctrl+C to stop)\n", path, addr)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, themis.ErrCodeIOError, "bridge server failed")
		}
		return nil
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// handleInfo prints the effective configuration and the sections.
func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	verbose := ctx.GetFlagBool("verbose")

	fmt.Fprintf(m.out, "Themis settings store\n")
	fmt.Fprintf(m.out, "Version: %s\n", Version)
	fmt.Fprintf(m.out, "App version: %s\n", m.config.AppVersion)
	fmt.Fprintf(m.out, "Platform: %s\n", m.config.Platform)
	fmt.Fprintf(m.out, "Bridge timeout: %v\n", m.config.BridgeTimeout)
	fmt.Fprintf(m.out, "Slow operation threshold: %v\n", m.config.SlowOperationThreshold)
	fmt.Fprintf(m.out, "Error history capacity: %d\n", m.config.ErrorHistoryCapacity)
	if m.config.Audit.Enabled {
		target := m.config.Audit.OutputFile
		if target == "" {
			target = "(default SQLite database)"
		}
		fmt.Fprintf(m.out, "Audit: enabled, level %s, %s\n", m.config.Audit.MinLevel, target)
	} else {
		fmt.Fprintf(m.out, "Audit: disabled\n")
	}

	fmt.Fprintf(m.out, "\nSections:\n")
	for _, section := range themis.AllSections() {
		if !verbose {
			fmt.Fprintf(m.out, "  %s\n", section)
			continue
		}
		keys := themis.SectionKeys(section)
		sort.Strings(keys)
		fmt.Fprintf(m.out, "  %-12s %s\n", section, strings.Join(keys, ", "))
	}
	return nil
}
