// config_validation.go: Configuration validation for Themis
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agilira/go-errors"
)

// Configuration validation errors
var (
	ErrInvalidSlowThreshold  = errors.New(ErrCodeInvalidThreshold, "slow operation threshold must be positive")
	ErrSlowThresholdTooSmall = errors.New(ErrCodeThresholdTooSmall, "slow operation threshold should be at least 1ms")
	ErrInvalidHistory        = errors.New(ErrCodeInvalidHistory, "error history capacity must be positive")
	ErrHistoryTooLarge       = errors.New(ErrCodeHistoryTooLarge, "error history capacity exceeds recommended limit (10000)")
	ErrInvalidBridgeTimeout  = errors.New(ErrCodeInvalidTimeout, "bridge timeout must be positive")
	ErrInvalidDelay          = errors.New(ErrCodeInvalidDelay, "settle and auto-save delays must not be negative")
	ErrInvalidBufferSize     = errors.New(ErrCodeInvalidBufferSize, "buffer size must be positive")
	ErrInvalidFlushInterval  = errors.New(ErrCodeInvalidFlush, "flush interval must be positive")
	ErrInvalidOutputFile     = errors.New(ErrCodeInvalidOutputFile, "audit output file path is invalid")
)

// ValidationResult is the detailed outcome of Config.ValidateDetailed.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// String returns a human-readable summary.
func (vr ValidationResult) String() string {
	if vr.Valid {
		if len(vr.Warnings) == 0 {
			return "Configuration is valid"
		}
		return fmt.Sprintf("Configuration is valid with %d warning(s)", len(vr.Warnings))
	}
	return fmt.Sprintf("Configuration is invalid: %d error(s), %d warning(s)",
		len(vr.Errors), len(vr.Warnings))
}

// Validate returns the first validation error, mapped back to its sentinel
// when there is one.
func (c *Config) Validate() error {
	result := c.ValidateDetailed()
	if result.Valid {
		return nil
	}

	first := result.Errors[0]
	for _, sentinel := range []error{
		ErrInvalidSlowThreshold,
		ErrSlowThresholdTooSmall,
		ErrInvalidHistory,
		ErrInvalidBridgeTimeout,
		ErrInvalidDelay,
		ErrInvalidBufferSize,
		ErrInvalidFlushInterval,
		ErrInvalidOutputFile,
	} {
		if first == sentinel.Error() {
			return sentinel
		}
	}
	return errors.New(ErrCodeInvalidConfig, first)
}

// ValidateDetailed collects every error and warning.
func (c *Config) ValidateDetailed() ValidationResult {
	result := ValidationResult{
		Valid:    true,
		Errors:   make([]string, 0),
		Warnings: make([]string, 0),
	}

	c.validateTimings(&result)
	c.validateHistory(&result)
	c.validateAuditConfig(&result)

	result.Valid = len(result.Errors) == 0
	return result
}

func (c *Config) validateTimings(result *ValidationResult) {
	if c.SlowOperationThreshold <= 0 {
		result.Errors = append(result.Errors, ErrInvalidSlowThreshold.Error())
	} else if c.SlowOperationThreshold < time.Millisecond {
		result.Errors = append(result.Errors, ErrSlowThresholdTooSmall.Error())
	}

	if c.BridgeTimeout <= 0 {
		result.Errors = append(result.Errors, ErrInvalidBridgeTimeout.Error())
	} else if c.BridgeTimeout > time.Minute {
		result.Warnings = append(result.Warnings, "Bridge timeout above one minute may leave sections loading for a long time")
	}

	if c.SettleDelay < 0 || c.AutoSaveDelay < 0 {
		result.Errors = append(result.Errors, ErrInvalidDelay.Error())
	}
	if c.AutoSaveDelay > 0 && c.AutoSaveDelay < 50*time.Millisecond {
		result.Warnings = append(result.Warnings, "Auto-save delay below 50ms saves on nearly every keystroke")
	}
}

func (c *Config) validateHistory(result *ValidationResult) {
	if c.ErrorHistoryCapacity <= 0 {
		result.Errors = append(result.Errors, ErrInvalidHistory.Error())
	} else if c.ErrorHistoryCapacity > 10000 {
		result.Warnings = append(result.Warnings, ErrHistoryTooLarge.Error())
	}
}

// validateAuditConfig validates the audit configuration if enabled.
func (c *Config) validateAuditConfig(result *ValidationResult) {
	if !c.Audit.Enabled {
		return
	}

	if c.Audit.BufferSize < 0 {
		result.Errors = append(result.Errors, ErrInvalidBufferSize.Error())
	} else if c.Audit.BufferSize > 10000 {
		result.Warnings = append(result.Warnings, "Large audit buffer size may consume significant memory")
	}

	if c.Audit.FlushInterval < 0 {
		result.Errors = append(result.Errors, ErrInvalidFlushInterval.Error())
	} else if c.Audit.FlushInterval == 0 {
		result.Warnings = append(result.Warnings, "Audit flush interval is 0, events are only written when the buffer fills")
	}

	// An empty output file selects the shared SQLite database.
	if c.Audit.OutputFile != "" {
		if err := validateOutputFile(c.Audit.OutputFile); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
}

// validateOutputFile checks that the audit output path is usable.
func validateOutputFile(outputFile string) error {
	cleanPath := filepath.Clean(outputFile)
	if cleanPath == "." || cleanPath == "/" {
		return errors.New(ErrCodeInvalidOutputFile, fmt.Sprintf("path '%s' is not a valid file path", outputFile))
	}
	if err := validateSecurePath(cleanPath); err != nil {
		return errors.Wrap(err, ErrCodeInvalidOutputFile, "audit output path rejected")
	}
	switch filepath.Ext(cleanPath) {
	case ".db", ".jsonl":
	default:
		return errors.New(ErrCodeInvalidOutputFile, fmt.Sprintf("audit output file '%s' must end in .db or .jsonl", outputFile))
	}

	dir := filepath.Dir(cleanPath)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		// Created on first use.
		return nil
	case err != nil:
		return errors.Wrap(err, ErrCodeUnwritableOutput, fmt.Sprintf("cannot access directory '%s'", dir))
	case !info.IsDir():
		return errors.New(ErrCodeUnwritableOutput, fmt.Sprintf("'%s' is not a directory", dir))
	}
	return nil
}
