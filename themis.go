// themis.go: Section identifiers, error codes and shared helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	goerrors "errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agilira/go-errors"
)

// Error codes for Themis operations
const (
	ErrCodeInvalidConfig       = "THEMIS_INVALID_CONFIG"
	ErrCodeUnknownSection      = "THEMIS_UNKNOWN_SECTION"
	ErrCodeBridgeUnavailable   = "THEMIS_BRIDGE_UNAVAILABLE"
	ErrCodeBridgeRejected      = "THEMIS_BRIDGE_REJECTED"
	ErrCodeValidationFailed    = "THEMIS_VALIDATION_FAILED"
	ErrCodeLifecycleMisuse     = "THEMIS_LIFECYCLE_MISUSE"
	ErrCodeImportMalformed     = "THEMIS_IMPORT_MALFORMED"
	ErrCodeKeyNotFound         = "THEMIS_KEY_NOT_FOUND"
	ErrCodeIOError             = "THEMIS_IO_ERROR"
	ErrCodeSerializationError  = "THEMIS_SERIALIZATION_ERROR"
	ErrCodeUncaught            = "THEMIS_UNCAUGHT"
	ErrCodeInvalidAuditConfig  = "THEMIS_INVALID_AUDIT_CONFIG"
	ErrCodeInvalidBufferSize   = "THEMIS_INVALID_BUFFER_SIZE"
	ErrCodeInvalidFlush        = "THEMIS_INVALID_FLUSH_INTERVAL"
	ErrCodeInvalidOutputFile   = "THEMIS_INVALID_OUTPUT_FILE"
	ErrCodeUnwritableOutput    = "THEMIS_UNWRITABLE_OUTPUT_FILE"
	ErrCodeInvalidThreshold    = "THEMIS_INVALID_SLOW_THRESHOLD"
	ErrCodeInvalidHistory      = "THEMIS_INVALID_HISTORY_CAPACITY"
	ErrCodeInvalidTimeout      = "THEMIS_INVALID_BRIDGE_TIMEOUT"
	ErrCodeInvalidDelay        = "THEMIS_INVALID_DELAY"
	ErrCodeHistoryTooLarge     = "THEMIS_HISTORY_TOO_LARGE"
	ErrCodeThresholdTooSmall   = "THEMIS_SLOW_THRESHOLD_TOO_SMALL"
	ErrCodeInvalidFormat       = "THEMIS_INVALID_FORMAT"
	ErrCodeFileBridgeError     = "THEMIS_FILE_BRIDGE_ERROR"
	ErrCodeWatcherStopped      = "THEMIS_WATCHER_STOPPED"
	ErrCodeAuditQueryFailed    = "THEMIS_AUDIT_QUERY_FAILED"
	ErrCodeAuditNotQueryable   = "THEMIS_AUDIT_NOT_QUERYABLE"
	ErrCodeFieldPatchError     = "THEMIS_FIELD_PATCH_ERROR"
	ErrCodeOperationNotTracked = "THEMIS_OPERATION_NOT_TRACKED"
)

// Bridge and lifecycle errors
var (
	ErrBridgeUnavailable = errors.New(ErrCodeBridgeUnavailable, "platform bridge is not available")
	ErrUnknownSection    = errors.New(ErrCodeUnknownSection, "unknown settings section")
	ErrEmptyImport       = errors.New(ErrCodeImportMalformed, "import payload contains no sections")
)

// Section names one independently loadable and validatable slice of settings.
type Section int

const (
	SectionWindow Section = iota
	SectionChat
	SectionTheme
	SectionExpressions
	SectionDisplay

	sectionCount
)

var sectionNames = [sectionCount]string{
	SectionWindow:      "window",
	SectionChat:        "chat",
	SectionTheme:       "theme",
	SectionExpressions: "expressions",
	SectionDisplay:     "display",
}

// String returns the section identifier used on the wire and in exports.
func (s Section) String() string {
	if !s.Valid() {
		return fmt.Sprintf("section(%d)", int(s))
	}
	return sectionNames[s]
}

// Valid reports whether s is one of the compiled-in sections.
func (s Section) Valid() bool {
	return s >= 0 && s < sectionCount
}

// MarshalText implements encoding.TextMarshaler so sections can key maps in JSON.
func (s Section) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, errors.New(ErrCodeUnknownSection, s.String())
	}
	return []byte(sectionNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Section) UnmarshalText(text []byte) error {
	parsed, err := ParseSection(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AllSections returns every section in declaration order.
func AllSections() []Section {
	out := make([]Section, 0, sectionCount)
	for s := Section(0); s < sectionCount; s++ {
		out = append(out, s)
	}
	return out
}

// ParseSection maps an identifier such as "chat" to its Section.
func ParseSection(name string) (Section, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for s, n := range sectionNames {
		if n == normalized {
			return Section(s), nil
		}
	}
	return -1, errors.New(ErrCodeUnknownSection, fmt.Sprintf("unknown section %q", name))
}

// ErrorHandler is called when a recoverable error is recorded for a section.
// The store has already applied its fallback by the time the handler runs.
type ErrorHandler func(err error, section Section)

// ErrorCodeOf returns the go-errors code carried by err, or "" if none.
func ErrorCodeOf(err error) string {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return string(coder.ErrorCode())
	}
	return ""
}

// validateSecurePath rejects paths that try to escape their directory or carry
// characters that file APIs treat specially. Used for the file bridge location
// and for path-typed settings fields.
func validateSecurePath(path string) error {
	if path == "" {
		return errors.New(ErrCodeInvalidConfig, "empty path not allowed")
	}

	for _, pattern := range []string{"..", "../", "..\\"} {
		if strings.Contains(path, pattern) {
			return errors.New(ErrCodeInvalidConfig, "path contains traversal pattern: "+pattern)
		}
	}

	lower := strings.ToLower(path)
	for _, pattern := range []string{"%2e%2e", "%252e", "%2f", "%252f", "%5c", "%255c", "%00"} {
		if strings.Contains(lower, pattern) {
			return errors.New(ErrCodeInvalidConfig, "path contains URL-encoded traversal pattern: "+pattern)
		}
	}

	for _, sensitive := range []string{"/etc/passwd", "/etc/shadow", "/proc/", "/sys/", "/dev/", "windows/system32", ".ssh/", ".aws/"} {
		if strings.Contains(lower, sensitive) {
			return errors.New(ErrCodeInvalidConfig, "access to system location not allowed: "+sensitive)
		}
	}

	base := strings.ToUpper(filepath.Base(path))
	if dot := strings.LastIndex(base, "."); dot != -1 {
		base = base[:dot]
	}
	switch base {
	case "CON", "PRN", "AUX", "NUL":
		return errors.New(ErrCodeInvalidConfig, "windows device name not allowed: "+base)
	}

	if len(path) > 4096 {
		return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("path too long (max 4096 characters): %d", len(path)))
	}
	if strings.Count(path, "/")+strings.Count(path, "\\") > 50 {
		return errors.New(ErrCodeInvalidConfig, "path too complex (max 50 directory levels)")
	}

	for _, char := range path {
		if char < 32 {
			return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("control character in path not allowed: %d", char))
		}
	}

	return nil
}
