// audit.go: Audit trail for settings changes and diagnostics
//
// Every committed settings change, every fallback and every misuse warning
// is recorded here. Events are buffered and flushed in the background to a
// pluggable backend (SQLite by default, JSONL on request).
//
// Features:
// - Tamper detection with a SHA-256 checksum per event
// - Cached timestamps from go-timecache
// - Level filtering and buffered writes
// - Query and statistics for the CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditLevel represents the severity of audit events
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditCritical
	AuditSecurity
)

func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditCritical:
		return "CRITICAL"
	case AuditSecurity:
		return "SECURITY"
	default:
		return "UNKNOWN"
	}
}

// ParseAuditLevel accepts the names printed by AuditLevel.String, in any case.
func ParseAuditLevel(s string) (AuditLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return AuditInfo, nil
	case "WARN", "WARNING":
		return AuditWarn, nil
	case "CRITICAL":
		return AuditCritical, nil
	case "SECURITY":
		return AuditSecurity, nil
	}
	return AuditInfo, errors.New(ErrCodeInvalidAuditConfig, fmt.Sprintf("unknown audit level %q", s))
}

// Audit event names
const (
	EventSettingsChange  = "settings_change"
	EventLoadFallback    = "load_fallback"
	EventPartialLoad     = "partial_load"
	EventSaveWarning     = "save_warning"
	EventBridgeError     = "bridge_error"
	EventSlowOperation   = "slow_operation"
	EventLifecycleMisuse = "lifecycle_misuse"
	EventUncaughtError   = "uncaught_error"
	EventImportRejected  = "import_rejected"
	EventFileBridgeWrite = "file_bridge_write"
)

// AuditEvent represents a single auditable event
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	Level       AuditLevel     `json:"level"`
	Event       string         `json:"event"`
	Component   string         `json:"component"`
	Section     string         `json:"section,omitempty"`
	OldValue    any            `json:"old_value,omitempty"`
	NewValue    any            `json:"new_value,omitempty"`
	ProcessID   int            `json:"process_id"`
	ProcessName string         `json:"process_name"`
	Context     map[string]any `json:"context,omitempty"`
	Checksum    string         `json:"checksum"`
}

// AuditConfig configures the audit system
type AuditConfig struct {
	Enabled       bool          `json:"enabled"`
	OutputFile    string        `json:"output_file"`
	MinLevel      AuditLevel    `json:"min_level"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// DefaultAuditConfig returns the default audit configuration: enabled, with
// the unified SQLite database under the system temp directory.
// Use an OutputFile ending in .jsonl for line-delimited JSON instead.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       true,
		OutputFile:    "",
		MinLevel:      AuditInfo,
		BufferSize:    256,
		FlushInterval: 5 * time.Second,
	}
}

// AuditQuery filters events returned by AuditLogger.Query.
// Zero fields do not filter.
type AuditQuery struct {
	Since   time.Time
	Event   string
	Section string
	Level   string
	Limit   int
}

// AuditLogger buffers audit events and writes them to a backend.
// A nil *AuditLogger is valid and discards everything.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
	processID   int
	processName string
}

// NewAuditLogger creates an audit logger. A disabled configuration yields a
// logger without a backend, which drops events at no cost.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultAuditConfig().BufferSize
	}

	logger := &AuditLogger{
		config:      config,
		stopCh:      make(chan struct{}),
		processID:   os.Getpid(),
		processName: getProcessName(),
	}
	if !config.Enabled {
		return logger, nil
	}

	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidAuditConfig, "failed to initialize audit backend")
	}
	logger.backend = backend
	logger.buffer = make([]AuditEvent, 0, config.BufferSize)

	if config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(config.FlushInterval)
		go logger.flushLoop()
	}

	return logger, nil
}

// Enabled reports whether events are persisted.
func (al *AuditLogger) Enabled() bool {
	return al != nil && al.backend != nil && al.config.Enabled
}

// Log records an audit event
func (al *AuditLogger) Log(level AuditLevel, event, component, section string, oldVal, newVal any, context map[string]any) {
	if !al.Enabled() || level < al.config.MinLevel {
		return
	}

	auditEvent := AuditEvent{
		Timestamp:   timecache.CachedTime(),
		Level:       level,
		Event:       event,
		Component:   component,
		Section:     section,
		OldValue:    oldVal,
		NewValue:    newVal,
		ProcessID:   al.processID,
		ProcessName: al.processName,
		Context:     context,
	}
	auditEvent.Checksum = generateChecksum(auditEvent)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, auditEvent)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe() // keep logging on the caller's path cheap; the next flush retries
	}
	al.bufferMu.Unlock()
}

// LogSettingsChange records a committed change of one section.
func (al *AuditLogger) LogSettingsChange(section Section, oldData, newData SectionData) {
	al.Log(AuditCritical, EventSettingsChange, "store", section.String(), oldData, newData, nil)
}

// LogSectionEvent records a non-change event scoped to a section.
func (al *AuditLogger) LogSectionEvent(level AuditLevel, event string, section Section, context map[string]any) {
	al.Log(level, event, "store", section.String(), nil, nil, context)
}

// LogWarning records a warning raised outside the store, such as lifecycle misuse.
func (al *AuditLogger) LogWarning(component, event, message string, context map[string]any) {
	if context == nil {
		context = make(map[string]any, 1)
	}
	context["message"] = message
	al.Log(AuditWarn, event, component, "", nil, nil, context)
}

// LogSecurityEvent records security-relevant events such as rejected imports.
func (al *AuditLogger) LogSecurityEvent(event, details string, context map[string]any) {
	if context == nil {
		context = make(map[string]any, 1)
	}
	context["details"] = details
	al.Log(AuditSecurity, event, "themis", "", nil, nil, context)
}

// Flush immediately writes all buffered events
func (al *AuditLogger) Flush() error {
	if !al.Enabled() {
		return nil
	}
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Query flushes pending events and returns the ones matching q, newest first.
func (al *AuditLogger) Query(q AuditQuery) ([]AuditEvent, error) {
	if !al.Enabled() {
		return nil, errors.New(ErrCodeAuditNotQueryable, "audit logging is disabled")
	}
	if err := al.Flush(); err != nil {
		return nil, err
	}
	events, err := al.backend.Query(q)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditQueryFailed, "audit query failed")
	}
	return events, nil
}

// Stats returns backend statistics.
func (al *AuditLogger) Stats() (*AuditDatabaseStats, error) {
	if !al.Enabled() {
		return nil, errors.New(ErrCodeAuditNotQueryable, "audit logging is disabled")
	}
	if err := al.Flush(); err != nil {
		return nil, err
	}
	return al.backend.GetStats()
}

// Maintenance runs retention cleanup on the backend.
func (al *AuditLogger) Maintenance() error {
	if !al.Enabled() {
		return nil
	}
	return al.backend.Maintenance()
}

// Close flushes pending events and releases the backend. Safe to call twice.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	var closeErr error
	al.closeOnce.Do(func() {
		close(al.stopCh)
		if al.flushTicker != nil {
			al.flushTicker.Stop()
		}
		if al.backend == nil {
			return
		}
		if err := al.Flush(); err != nil {
			closeErr = fmt.Errorf("failed to flush audit logger during close: %w", err)
			return
		}
		if err := al.backend.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close audit backend: %w", err)
		}
	})
	return closeErr
}

func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush() // background flush; errors resurface on the next explicit Flush
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes the buffer to the backend (caller holds bufferMu).
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 {
		return nil
	}
	if err := al.backend.Write(al.buffer); err != nil {
		return fmt.Errorf("failed to write audit events to backend: %w", err)
	}
	al.buffer = al.buffer[:0]
	return nil
}

// generateChecksum creates a tamper-detection checksum using SHA-256
func generateChecksum(event AuditEvent) string {
	data := fmt.Sprintf("%s:%s:%s:%s:%v:%v",
		event.Timestamp.Format(time.RFC3339Nano),
		event.Event, event.Component, event.Section, event.OldValue, event.NewValue)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

func getProcessName() string {
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "themis"
}
