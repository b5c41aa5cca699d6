// Tests for the shared CLI helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// fakeFlags knows --config (takes a value) and --verbose (a switch).
type fakeFlags struct{}

func (fakeFlags) Knows(arg string) bool {
	return arg == "--config" || arg == "--verbose" || strings.HasPrefix(arg, "--config=")
}

func (fakeFlags) TakesValue(arg string) bool { return arg == "--config" }

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		global  []string
		command []string
	}{
		{
			name:    "flags before command",
			args:    []string{"--config", "themis.yaml", "settings", "get", "s.json"},
			global:  []string{"--config", "themis.yaml"},
			command: []string{"settings", "get", "s.json"},
		},
		{
			name:    "flags mixed in",
			args:    []string{"export", "--verbose", "s.json", "--config=t.toml", "out.json"},
			global:  []string{"--verbose", "--config=t.toml"},
			command: []string{"export", "s.json", "out.json"},
		},
		{
			name:    "command flags pass through",
			args:    []string{"settings", "get", "-o", "yaml", "s.json"},
			command: []string{"settings", "get", "-o", "yaml", "s.json"},
		},
		{
			name:    "double dash stops scanning",
			args:    []string{"--verbose", "--", "import", "--config"},
			global:  []string{"--verbose"},
			command: []string{"import", "--config"},
		},
		{
			name:   "trailing value flag",
			args:   []string{"--config"},
			global: []string{"--config"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			global, command := SplitArgs(tt.args, fakeFlags{})
			if !reflect.DeepEqual(global, tt.global) {
				t.Errorf("global = %v, want %v", global, tt.global)
			}
			if !reflect.DeepEqual(command, tt.command) {
				t.Errorf("command = %v, want %v", command, tt.command)
			}
		})
	}
}

func TestParseExtendedDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"7d", 7 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseExtendedDuration(tt.input)
		if err != nil || got != tt.want {
			t.Errorf("ParseExtendedDuration(%q) = %v, %v; want %v", tt.input, got, err, tt.want)
		}
	}

	for _, bad := range []string{"", "3x", "d", "1.5d", "-2w"} {
		if _, err := ParseExtendedDuration(bad); err == nil {
			t.Errorf("ParseExtendedDuration(%q) should fail", bad)
		}
	}
}

func TestRender(t *testing.T) {
	value := struct {
		UserName string `json:"userName"`
		Scale    int    `json:"scale"`
	}{"Sam", 2}

	var buf bytes.Buffer
	if err := Render(&buf, value, "json"); err != nil {
		t.Fatalf("json render failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"userName": "Sam"`) {
		t.Errorf("unexpected JSON output:\n%s", buf.String())
	}

	buf.Reset()
	if err := Render(&buf, value, "YAML"); err != nil {
		t.Fatalf("yaml render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "userName: Sam") || !strings.Contains(buf.String(), "scale: 2") {
		t.Errorf("YAML output should use the JSON field names:\n%s", buf.String())
	}

	if err := Render(&buf, value, "xml"); err == nil {
		t.Error("expected error for unsupported output")
	}
}

func TestCheckFileWriteable(t *testing.T) {
	dir := t.TempDir()

	if err := CheckFileWriteable(filepath.Join(dir, "new.json")); err != nil {
		t.Errorf("a new file in a writable directory should pass: %v", err)
	}

	existing := filepath.Join(dir, "existing.json")
	if err := os.WriteFile(existing, []byte("{}"), 0600); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := CheckFileWriteable(existing); err != nil {
		t.Errorf("an existing writable file should pass: %v", err)
	}

	if err := CheckFileWriteable(dir); err == nil {
		t.Error("a directory is not a writable file")
	}
	if err := CheckFileWriteable(filepath.Join(dir, "missing", "out.json")); err == nil {
		t.Error("a file in a missing directory cannot be written")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("the write probe must clean up after itself, found %d entries", len(entries))
	}
}
