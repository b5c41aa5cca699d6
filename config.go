// config.go: Store configuration and defaults
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"runtime"
	"time"
)

// Default timings used by WithDefaults.
const (
	DefaultSettleDelay   = 100 * time.Millisecond
	DefaultAutoSaveDelay = time.Second
)

// Config configures a Store and the components built on it.
type Config struct {
	// AppVersion and Platform are stamped on exports.
	AppVersion string `json:"app_version"`
	Platform   string `json:"platform"`

	// SlowOperationThreshold is the tracker's slow-operation limit.
	SlowOperationThreshold time.Duration `json:"slow_operation_threshold"`

	// ErrorHistoryCapacity bounds the error history ring.
	ErrorHistoryCapacity int `json:"error_history_capacity"`

	// BridgeTimeout bounds every constituent bridge call.
	BridgeTimeout time.Duration `json:"bridge_timeout"`

	// SettleDelay is the pause between dispose and re-initialize in
	// Lifecycle.Reset.
	SettleDelay time.Duration `json:"settle_delay"`

	// AutoSaveDelay is the quiet period before a dirty form is submitted.
	AutoSaveDelay time.Duration `json:"autosave_delay"`

	// Audit configures the audit trail. The zero value disables it;
	// DefaultConfig enables it.
	Audit AuditConfig `json:"audit"`

	// ErrorHandler, if set, observes every error the store records.
	ErrorHandler ErrorHandler `json:"-"`
}

// DefaultConfig returns the defaults with auditing enabled.
func DefaultConfig() *Config {
	return (&Config{Audit: DefaultAuditConfig()}).WithDefaults()
}

// WithDefaults returns a copy of c with unset fields filled in.
func (c *Config) WithDefaults() *Config {
	config := *c

	if config.AppVersion == "" {
		config.AppVersion = "dev"
	}
	if config.Platform == "" {
		config.Platform = runtime.GOOS + "/" + runtime.GOARCH
	}
	if config.SlowOperationThreshold <= 0 {
		config.SlowOperationThreshold = DefaultSlowOperationThreshold
	}
	if config.ErrorHistoryCapacity <= 0 {
		config.ErrorHistoryCapacity = DefaultErrorHistoryCapacity
	}
	if config.BridgeTimeout <= 0 {
		config.BridgeTimeout = DefaultBridgeTimeout
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = DefaultSettleDelay
	}
	if config.AutoSaveDelay <= 0 {
		config.AutoSaveDelay = DefaultAutoSaveDelay
	}

	// GUARD RAIL: the slow threshold never exceeds the bridge timeout.
	if config.SlowOperationThreshold > config.BridgeTimeout {
		config.SlowOperationThreshold = config.BridgeTimeout
	}

	defaults := DefaultAuditConfig()
	if config.Audit.BufferSize <= 0 {
		config.Audit.BufferSize = defaults.BufferSize
	}
	if config.Audit.FlushInterval <= 0 {
		config.Audit.FlushInterval = defaults.FlushInterval
	}

	return &config
}
