// config_test.go: Tests for configuration defaults and validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.SlowOperationThreshold != DefaultSlowOperationThreshold {
		t.Errorf("Expected slow threshold %v, got %v", DefaultSlowOperationThreshold, config.SlowOperationThreshold)
	}
	if config.ErrorHistoryCapacity != DefaultErrorHistoryCapacity {
		t.Errorf("Expected history capacity %d, got %d", DefaultErrorHistoryCapacity, config.ErrorHistoryCapacity)
	}
	if config.BridgeTimeout != DefaultBridgeTimeout {
		t.Errorf("Expected bridge timeout %v, got %v", DefaultBridgeTimeout, config.BridgeTimeout)
	}
	if config.SettleDelay != DefaultSettleDelay || config.AutoSaveDelay != DefaultAutoSaveDelay {
		t.Errorf("Unexpected delays: settle %v, autosave %v", config.SettleDelay, config.AutoSaveDelay)
	}
	if !config.Audit.Enabled {
		t.Error("Default config should enable auditing")
	}
	if config.AppVersion == "" || config.Platform == "" {
		t.Error("AppVersion and Platform should be filled in")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	original := &Config{
		AppVersion:             "2.0.0",
		SlowOperationThreshold: 30 * time.Second,
		BridgeTimeout:          5 * time.Second,
	}
	config := original.WithDefaults()

	if config == original {
		t.Fatal("WithDefaults should return a copy")
	}
	if original.ErrorHistoryCapacity != 0 {
		t.Error("WithDefaults must not modify the receiver")
	}
	if config.AppVersion != "2.0.0" {
		t.Errorf("Explicit values should be kept, got %q", config.AppVersion)
	}
	if config.SlowOperationThreshold != 5*time.Second {
		t.Errorf("Slow threshold should be capped at the bridge timeout, got %v", config.SlowOperationThreshold)
	}
	if config.Audit.Enabled {
		t.Error("A zero audit config stays disabled")
	}
	if config.Audit.BufferSize <= 0 || config.Audit.FlushInterval <= 0 {
		t.Error("Audit buffer and flush interval should get defaults")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return DefaultConfig() }

	tests := []struct {
		name     string
		mutate   func(*Config)
		sentinel error
	}{
		{"zero slow threshold", func(c *Config) { c.SlowOperationThreshold = 0 }, ErrInvalidSlowThreshold},
		{"tiny slow threshold", func(c *Config) { c.SlowOperationThreshold = time.Microsecond }, ErrSlowThresholdTooSmall},
		{"zero bridge timeout", func(c *Config) { c.BridgeTimeout = 0 }, ErrInvalidBridgeTimeout},
		{"negative settle delay", func(c *Config) { c.SettleDelay = -time.Second }, ErrInvalidDelay},
		{"zero history", func(c *Config) { c.ErrorHistoryCapacity = 0 }, ErrInvalidHistory},
		{"negative buffer", func(c *Config) { c.Audit.BufferSize = -1 }, ErrInvalidBufferSize},
		{"negative flush", func(c *Config) { c.Audit.FlushInterval = -time.Second }, ErrInvalidFlushInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)
			if err := config.Validate(); err != tt.sentinel {
				t.Errorf("Expected %v, got %v", tt.sentinel, err)
			}
		})
	}
}

func TestConfig_ValidateDetailed(t *testing.T) {
	config := DefaultConfig()
	config.SlowOperationThreshold = 0
	config.ErrorHistoryCapacity = 50000
	config.AutoSaveDelay = 10 * time.Millisecond
	config.BridgeTimeout = 2 * time.Minute

	result := config.ValidateDetailed()
	if result.Valid {
		t.Fatal("Expected invalid result")
	}
	if len(result.Errors) != 1 {
		t.Errorf("Expected 1 error, got %v", result.Errors)
	}
	if len(result.Warnings) != 3 {
		t.Errorf("Expected 3 warnings, got %v", result.Warnings)
	}
	if !strings.Contains(result.String(), "invalid") {
		t.Errorf("Unexpected summary: %s", result.String())
	}

	config.SlowOperationThreshold = time.Second
	result = config.ValidateDetailed()
	if !result.Valid {
		t.Errorf("Warnings alone must not invalidate: %v", result.Errors)
	}
	if result.String() != "Configuration is valid with 3 warning(s)" {
		t.Errorf("Unexpected summary: %s", result.String())
	}
}

func TestConfig_ValidateAuditOutputFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		{"sqlite file", filepath.Join(dir, "audit.db"), true},
		{"jsonl file", filepath.Join(dir, "audit.jsonl"), true},
		{"missing directory", filepath.Join(dir, "later", "audit.jsonl"), true},
		{"wrong extension", filepath.Join(dir, "audit.txt"), false},
		{"traversal", "../audit.db", false},
		{"root", "/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Audit.OutputFile = tt.path
			err := config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected %s to be accepted: %v", tt.path, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected %s to be rejected", tt.path)
			}
		})
	}

	config := DefaultConfig()
	config.Audit.Enabled = false
	config.Audit.OutputFile = "audit.txt"
	if err := config.Validate(); err != nil {
		t.Errorf("Disabled audit should not be validated: %v", err)
	}
}
