// manager_test.go: End-to-end tests for the Themis CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agilira/themis"
)

// cliFixture runs commands against settings files in a temp directory.
type cliFixture struct {
	t       *testing.T
	dir     string
	manager *Manager
	out     *bytes.Buffer
	errOut  *bytes.Buffer
}

func newCLIFixture(t *testing.T, config *themis.Config) *cliFixture {
	t.Helper()
	f := &cliFixture{
		t:      t,
		dir:    t.TempDir(),
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
	}
	f.manager = NewManager(config).WithOutput(f.out, f.errOut)
	return f
}

func (f *cliFixture) path(name string) string { return filepath.Join(f.dir, name) }

// run executes args and returns what was printed to the normal output.
func (f *cliFixture) run(args ...string) (string, error) {
	f.t.Helper()
	f.out.Reset()
	f.errOut.Reset()
	err := f.manager.Run(args)
	return f.out.String(), err
}

func (f *cliFixture) writeFile(name, content string) string {
	f.t.Helper()
	path := f.path(name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		f.t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestNewManager(t *testing.T) {
	manager := NewManager(nil)
	if manager == nil || manager.app == nil {
		t.Fatal("NewManager should build the command tree")
	}
	if manager.config.BridgeTimeout != themis.DefaultBridgeTimeout {
		t.Errorf("nil config should mean defaults, got timeout %v", manager.config.BridgeTimeout)
	}
}

func TestCLI_SettingsSetAndGet(t *testing.T) {
	f := newCLIFixture(t, &themis.Config{})
	settings := f.writeFile("settings.json", "{}")

	out, err := f.run("settings", "set", settings, "chat", "userName", "Sam")
	if err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if !strings.Contains(out, "Set chat.userName = Sam") {
		t.Errorf("unexpected set output: %s", out)
	}
	if !strings.Contains(f.errOut.String(), "warning: chat uses defaults") {
		t.Errorf("an empty document should warn about defaults, got %q", f.errOut.String())
	}

	raw, err := os.ReadFile(settings)
	if err != nil {
		t.Fatalf("Failed to read settings: %v", err)
	}
	if !strings.Contains(string(raw), `"Sam"`) {
		t.Errorf("the new value should be written to disk:\n%s", raw)
	}

	out, err = f.run("settings", "get", settings, "chat", "--output", "yaml")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !strings.Contains(out, "userName: Sam") {
		t.Errorf("expected YAML with the stored name:\n%s", out)
	}
	if f.errOut.Len() != 0 {
		t.Errorf("a stored section should load without warnings, got %q", f.errOut.String())
	}

	out, err = f.run("settings", "get", settings, "chat")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	var chat map[string]any
	if err := json.Unmarshal([]byte(out), &chat); err != nil {
		t.Fatalf("default output should be JSON: %v\n%s", err, out)
	}
	if chat["userName"] != "Sam" {
		t.Errorf("expected userName Sam, got %v", chat["userName"])
	}
}

func TestCLI_SettingsSetRejected(t *testing.T) {
	f := newCLIFixture(t, &themis.Config{})
	settings := f.writeFile("settings.json", "{}")

	out, err := f.run("settings", "set", settings, "chat", "maxHistory", "500")
	if err == nil {
		t.Fatal("an out of range value must be rejected")
	}
	if !strings.Contains(out, "chat rejected:") || !strings.Contains(out, "maxHistory") {
		t.Errorf("violations should be listed:\n%s", out)
	}

	raw, _ := os.ReadFile(settings)
	if strings.Contains(string(raw), "500") {
		t.Errorf("a rejected value must not reach the file:\n%s", raw)
	}

	if _, err := f.run("settings", "set", settings, "chat", "noSuchField", "x"); themis.ErrorCodeOf(err) != themis.ErrCodeFieldPatchError {
		t.Errorf("expected %s for an unknown field, got %v", themis.ErrCodeFieldPatchError, err)
	}
	if _, err := f.run("settings", "set", settings, "bogus", "field", "x"); err == nil {
		t.Error("an unknown section should fail")
	}
}

func TestCLI_SettingsResetAndValidate(t *testing.T) {
	f := newCLIFixture(t, &themis.Config{})
	settings := f.writeFile("settings.json", "{}")

	if _, err := f.run("settings", "set", settings, "chat", "userName", "Sam"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	out, err := f.run("settings", "reset", settings, "chat")
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if !strings.Contains(out, "Reset chat to defaults") {
		t.Errorf("unexpected reset output: %s", out)
	}

	out, err = f.run("settings", "get", settings, "chat")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if strings.Contains(out, `"Sam"`) {
		t.Errorf("reset should restore the default name:\n%s", out)
	}

	out, err = f.run("settings", "validate", settings)
	if err != nil {
		t.Fatalf("defaults should validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "OK") || !strings.Contains(out, "DEFAULTS") {
		t.Errorf("expected OK for chat and DEFAULTS for unset sections:\n%s", out)
	}

	broken := f.writeFile("broken.json", `{"chat":{
		"names":{"userName":"","mascotName":"Aria"},
		"prompt":"",
		"visibility":true,
		"model":{"apiKey":"","temperature":0.5,"maxHistory":50}
	}}`)
	out, err = f.run("settings", "validate", broken)
	if themis.ErrorCodeOf(err) != themis.ErrCodeValidationFailed {
		t.Errorf("expected %s, got %v", themis.ErrCodeValidationFailed, err)
	}
	if !strings.Contains(out, "INVALID") {
		t.Errorf("the broken section should be reported:\n%s", out)
	}
}

func TestCLI_ExportImport(t *testing.T) {
	f := newCLIFixture(t, &themis.Config{AppVersion: "2.1.0"})
	source := f.writeFile("source.json", "{}")
	if _, err := f.run("settings", "set", source, "chat", "userName", "Sam"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	exported := f.path("export.yaml")
	out, err := f.run("export", source, exported)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.Contains(out, "Exported 5 sections") {
		t.Errorf("unexpected export output: %s", out)
	}
	raw, err := os.ReadFile(exported)
	if err != nil {
		t.Fatalf("export file missing: %v", err)
	}
	if !strings.Contains(string(raw), "2.1.0") {
		t.Errorf("export should carry the app version:\n%s", raw)
	}

	target := f.path("target.json")
	out, err = f.run("import", target, exported)
	if err != nil {
		t.Fatalf("import failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Imported") || !strings.Contains(out, "chat") {
		t.Errorf("unexpected import output: %s", out)
	}

	out, err = f.run("settings", "get", target, "chat")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !strings.Contains(out, `"Sam"`) {
		t.Errorf("imported settings should be readable:\n%s", out)
	}

	if _, err := f.run("export", source, f.path("export.txt")); themis.ErrorCodeOf(err) != themis.ErrCodeInvalidFormat {
		t.Errorf("expected %s for an unknown extension, got %v", themis.ErrCodeInvalidFormat, err)
	}
	if _, err := f.run("import", target, f.path("missing.json")); themis.ErrorCodeOf(err) != themis.ErrCodeIOError {
		t.Errorf("expected %s for a missing import file, got %v", themis.ErrCodeIOError, err)
	}
}

func TestCLI_ImportRejectsInvalidPayload(t *testing.T) {
	f := newCLIFixture(t, &themis.Config{})
	target := f.writeFile("target.json", "{}")
	payload := f.writeFile("payload.json", `{
		"settings": {"chat": {"userName": "", "mascotName": "Aria", "temperature": 0.5, "maxHistory": 50}},
		"exportedAt": "2025-01-02T03:04:05Z",
		"appVersion": "1.0.0",
		"platform": "linux"
	}`)

	out, err := f.run("import", target, payload)
	if err == nil {
		t.Fatal("an invalid payload must be rejected")
	}
	if !strings.Contains(out, "import rejected:") {
		t.Errorf("unexpected output:\n%s", out)
	}
	raw, _ := os.ReadFile(target)
	if strings.TrimSpace(string(raw)) != "{}" {
		t.Errorf("nothing should be written on rejection:\n%s", raw)
	}
}

func TestCLI_Debug(t *testing.T) {
	f := newCLIFixture(t, &themis.Config{})
	settings := f.writeFile("settings.json", "{}")

	out, err := f.run("debug", settings)
	if err != nil {
		t.Fatalf("debug failed: %v", err)
	}
	var info map[string]any
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("debug output should be JSON: %v\n%s", err, out)
	}
	if len(info) == 0 {
		t.Error("debug info should not be empty")
	}
}

func TestCLI_Info(t *testing.T) {
	f := newCLIFixture(t, &themis.Config{AppVersion: "3.0.0", Platform: "linux"})

	out, err := f.run("info")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	for _, want := range []string{"Themis settings store", "Version: " + Version, "App version: 3.0.0", "Audit: disabled", "chat"} {
		if !strings.Contains(out, want) {
			t.Errorf("info should contain %q:\n%s", want, out)
		}
	}

	out, err = f.run("info", "--verbose")
	if err != nil {
		t.Fatalf("info --verbose failed: %v", err)
	}
	if !strings.Contains(out, "chat.names") {
		t.Errorf("verbose info should list bridge keys:\n%s", out)
	}
}

func TestCLI_AuditDisabled(t *testing.T) {
	f := newCLIFixture(t, &themis.Config{})

	for _, args := range [][]string{{"audit", "stats"}, {"audit", "query"}} {
		if _, err := f.run(args...); themis.ErrorCodeOf(err) != themis.ErrCodeAuditNotQueryable {
			t.Errorf("%v: expected %s, got %v", args, themis.ErrCodeAuditNotQueryable, err)
		}
	}
}

func TestCLI_AuditQuery(t *testing.T) {
	auditFile := filepath.Join(t.TempDir(), "audit.jsonl")
	f := newCLIFixture(t, &themis.Config{
		Audit: themis.AuditConfig{
			Enabled:       true,
			OutputFile:    auditFile,
			MinLevel:      themis.AuditInfo,
			BufferSize:    1,
			FlushInterval: time.Hour,
		},
	})
	settings := f.writeFile("settings.json", "{}")

	if _, err := f.run("settings", "set", settings, "chat", "userName", "Sam"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	out, err := f.run("audit", "query", "--section", "chat", "--since", "1h")
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	if !strings.Contains(out, themis.EventSettingsChange) {
		t.Errorf("the change should be in the audit trail:\n%s", out)
	}
	if strings.Contains(out, "\n0 event(s)") || strings.HasPrefix(out, "0 event(s)") {
		t.Errorf("expected at least one event:\n%s", out)
	}

	if _, err := f.run("audit", "query", "--since", "3x"); themis.ErrorCodeOf(err) != themis.ErrCodeInvalidConfig {
		t.Errorf("expected %s for a bad --since, got %v", themis.ErrCodeInvalidConfig, err)
	}

	out, err = f.run("audit", "stats")
	if err != nil {
		t.Fatalf("audit stats failed: %v", err)
	}
	if !strings.Contains(out, "chat") {
		t.Errorf("stats should count the chat section:\n%s", out)
	}
}
