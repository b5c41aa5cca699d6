// env_config_test.go: Tests for environment and file configuration sources
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var themisEnvVars = []string{
	"THEMIS_APP_VERSION",
	"THEMIS_SLOW_THRESHOLD",
	"THEMIS_HISTORY_CAPACITY",
	"THEMIS_BRIDGE_TIMEOUT",
	"THEMIS_SETTLE_DELAY",
	"THEMIS_AUTOSAVE_DELAY",
	"THEMIS_AUDIT_ENABLED",
	"THEMIS_AUDIT_OUTPUT_FILE",
	"THEMIS_AUDIT_MIN_LEVEL",
	"THEMIS_AUDIT_BUFFER_SIZE",
	"THEMIS_AUDIT_FLUSH_INTERVAL",
}

// clearThemisEnv blanks every THEMIS_* variable for the duration of the test.
func clearThemisEnv(t *testing.T) {
	t.Helper()
	for _, key := range themisEnvVars {
		t.Setenv(key, "")
	}
}

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearThemisEnv(t)
	auditFile := filepath.Join(t.TempDir(), "audit.jsonl")
	envVars := map[string]string{
		"THEMIS_APP_VERSION":          "3.1.4",
		"THEMIS_SLOW_THRESHOLD":       "500ms",
		"THEMIS_HISTORY_CAPACITY":     "250",
		"THEMIS_BRIDGE_TIMEOUT":       "4s",
		"THEMIS_SETTLE_DELAY":         "250ms",
		"THEMIS_AUTOSAVE_DELAY":       "2s",
		"THEMIS_AUDIT_ENABLED":        "yes",
		"THEMIS_AUDIT_OUTPUT_FILE":    auditFile,
		"THEMIS_AUDIT_MIN_LEVEL":      "warn",
		"THEMIS_AUDIT_BUFFER_SIZE":    "64",
		"THEMIS_AUDIT_FLUSH_INTERVAL": "3s",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	config, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("Failed to load config from env: %v", err)
	}

	if config.AppVersion != "3.1.4" {
		t.Errorf("Expected AppVersion 3.1.4, got %q", config.AppVersion)
	}
	if config.SlowOperationThreshold != 500*time.Millisecond {
		t.Errorf("Expected slow threshold 500ms, got %v", config.SlowOperationThreshold)
	}
	if config.ErrorHistoryCapacity != 250 {
		t.Errorf("Expected history capacity 250, got %d", config.ErrorHistoryCapacity)
	}
	if config.BridgeTimeout != 4*time.Second {
		t.Errorf("Expected bridge timeout 4s, got %v", config.BridgeTimeout)
	}
	if config.SettleDelay != 250*time.Millisecond || config.AutoSaveDelay != 2*time.Second {
		t.Errorf("Unexpected delays: settle %v, autosave %v", config.SettleDelay, config.AutoSaveDelay)
	}
	if !config.Audit.Enabled || config.Audit.OutputFile != auditFile {
		t.Errorf("Unexpected audit config: %+v", config.Audit)
	}
	if config.Audit.MinLevel != AuditWarn {
		t.Errorf("Expected audit level WARN, got %v", config.Audit.MinLevel)
	}
	if config.Audit.BufferSize != 64 || config.Audit.FlushInterval != 3*time.Second {
		t.Errorf("Unexpected audit buffering: %+v", config.Audit)
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	clearThemisEnv(t)

	config, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("Failed to load config from env: %v", err)
	}
	defaults := DefaultConfig()
	if config.SlowOperationThreshold != defaults.SlowOperationThreshold ||
		config.ErrorHistoryCapacity != defaults.ErrorHistoryCapacity ||
		config.BridgeTimeout != defaults.BridgeTimeout ||
		config.Audit.Enabled != defaults.Audit.Enabled {
		t.Errorf("Expected defaults, got %+v", config)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"THEMIS_SLOW_THRESHOLD", "soon"},
		{"THEMIS_BRIDGE_TIMEOUT", "10"},
		{"THEMIS_HISTORY_CAPACITY", "-5"},
		{"THEMIS_HISTORY_CAPACITY", "lots"},
		{"THEMIS_AUDIT_MIN_LEVEL", "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearThemisEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfigFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%q", tt.key, tt.value)
			} else if code := ErrorCodeOf(err); code != ErrCodeInvalidConfig {
				t.Errorf("Expected %s, got %s", ErrCodeInvalidConfig, code)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "1", "YES", " on ", "Enabled"} {
		if !parseBool(v) {
			t.Errorf("Expected %q to be true", v)
		}
	}
	for _, v := range []string{"false", "0", "no", "off", "disabled", "maybe", ""} {
		if parseBool(v) {
			t.Errorf("Expected %q to be false", v)
		}
	}
}

func TestLoadConfigMultiSource(t *testing.T) {
	clearThemisEnv(t)
	path := writeConfigFile(t, "themis.yaml", `
app_version: "2.1.0"
slow_threshold: 750ms
history_capacity: 42
settle_delay: 50ms
audit:
  enabled: false
  min_level: critical
  buffer_size: 128
  flush_interval: 2s
`)
	t.Setenv("THEMIS_HISTORY_CAPACITY", "64")

	config, err := LoadConfigMultiSource(path)
	if err != nil {
		t.Fatalf("Failed to load multi-source config: %v", err)
	}

	if config.AppVersion != "2.1.0" {
		t.Errorf("Expected file AppVersion 2.1.0, got %q", config.AppVersion)
	}
	if config.SlowOperationThreshold != 750*time.Millisecond {
		t.Errorf("Expected file slow threshold 750ms, got %v", config.SlowOperationThreshold)
	}
	if config.ErrorHistoryCapacity != 64 {
		t.Errorf("Environment should override the file, got %d", config.ErrorHistoryCapacity)
	}
	if config.SettleDelay != 50*time.Millisecond {
		t.Errorf("Expected settle delay 50ms, got %v", config.SettleDelay)
	}
	if config.Audit.Enabled || config.Audit.MinLevel != AuditCritical {
		t.Errorf("Unexpected audit config: %+v", config.Audit)
	}
	if config.Audit.BufferSize != 128 || config.Audit.FlushInterval != 2*time.Second {
		t.Errorf("Unexpected audit buffering: %+v", config.Audit)
	}
}

func TestLoadConfigMultiSource_TOMLAndJSON(t *testing.T) {
	clearThemisEnv(t)

	tomlPath := writeConfigFile(t, "themis.toml", `
bridge_timeout = "3s"
autosave_delay = "400ms"

[audit]
buffer_size = 32
`)
	config, err := LoadConfigMultiSource(tomlPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}
	if config.BridgeTimeout != 3*time.Second || config.AutoSaveDelay != 400*time.Millisecond {
		t.Errorf("Unexpected timings: %+v", config)
	}
	if config.Audit.BufferSize != 32 {
		t.Errorf("Expected buffer size 32, got %d", config.Audit.BufferSize)
	}

	jsonPath := writeConfigFile(t, "themis.json", `{"platform": "test/os", "audit": {"output_file": "events.jsonl"}}`)
	config, err = LoadConfigMultiSource(jsonPath)
	if err != nil {
		t.Fatalf("Failed to load JSON config: %v", err)
	}
	if config.Platform != "test/os" || config.Audit.OutputFile != "events.jsonl" {
		t.Errorf("Unexpected config: %+v", config)
	}
}

func TestLoadConfigMultiSource_MissingFile(t *testing.T) {
	clearThemisEnv(t)

	config, err := LoadConfigMultiSource(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("A missing file should fall back to defaults: %v", err)
	}
	if config.BridgeTimeout != DefaultBridgeTimeout {
		t.Errorf("Expected default bridge timeout, got %v", config.BridgeTimeout)
	}
}

func TestLoadConfigMultiSource_Errors(t *testing.T) {
	clearThemisEnv(t)

	tests := []struct {
		name    string
		file    string
		content string
		code    string
	}{
		{"unsupported format", "themis.ini", "[core]\n", ErrCodeInvalidFormat},
		{"broken yaml", "themis.yaml", "audit: [unclosed", ErrCodeInvalidConfig},
		{"bad duration", "themis.json", `{"bridge_timeout": "forever"}`, ErrCodeInvalidConfig},
		{"wrong shape", "themis.json", `{"history_capacity": "many"}`, ErrCodeInvalidConfig},
		{"bad level", "themis.json", `{"audit": {"min_level": "loud"}}`, ErrCodeInvalidAuditConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.file, tt.content)
			if _, err := LoadConfigMultiSource(path); err == nil {
				t.Error("Expected error")
			} else if code := ErrorCodeOf(err); code != tt.code {
				t.Errorf("Expected %s, got %s (%v)", tt.code, code, err)
			}
		})
	}
}
