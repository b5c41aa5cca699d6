// export.go: Settings export and import
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// ExportPayload is the document written by ExportSettings.
type ExportPayload struct {
	Settings   Settings  `json:"settings"`
	ExportedAt time.Time `json:"exportedAt"`
	AppVersion string    `json:"appVersion"`
	Platform   string    `json:"platform"`
}

// ImportFailure is returned when an import is rejected. Nothing has been
// applied; Sections lists the violations of every offending section.
type ImportFailure struct {
	Sections map[Section][]ValidationError
	cause    error
}

func newImportFailure(sections map[Section][]ValidationError) *ImportFailure {
	var names []string
	total := 0
	for _, section := range AllSections() {
		if v, ok := sections[section]; ok {
			names = append(names, section.String())
			total += len(v)
		}
	}
	msg := fmt.Sprintf("import rejected: %d validation error(s) in %s", total, strings.Join(names, ", "))
	return &ImportFailure{
		Sections: sections,
		cause:    errors.New(ErrCodeImportMalformed, msg).WithContext("sections", strings.Join(names, ",")),
	}
}

func (f *ImportFailure) Error() string { return f.cause.Error() }

// Unwrap exposes the coded error.
func (f *ImportFailure) Unwrap() error { return f.cause }

// ExportSettings returns every section that has data, stamped with the
// configured application version and platform.
func (s *Store) ExportSettings() ExportPayload {
	payload := ExportPayload{
		ExportedAt: timecache.CachedTime(),
		AppVersion: s.config.AppVersion,
		Platform:   s.config.Platform,
	}
	s.mu.RLock()
	for _, section := range AllSections() {
		if data, ok := s.data[section]; ok {
			payload.Settings.Put(data)
		}
	}
	s.mu.RUnlock()
	return payload
}

// ImportSettings validates every section of payload before applying any of
// them. A single violation rejects the whole import with an *ImportFailure
// and marks the offending sections with an error. Accepted sections are
// written through UpdateSettings; the first write error is returned after
// every section has been attempted.
func (s *Store) ImportSettings(ctx context.Context, payload ExportPayload) error {
	sections := payload.Settings.Sections()
	if len(sections) == 0 {
		s.audit.LogSecurityEvent(EventImportRejected, "empty import payload", nil)
		return ErrEmptyImport
	}

	rejected := make(map[Section][]ValidationError)
	for _, section := range sections {
		if violations := Validate(section, payload.Settings.Get(section)); len(violations) > 0 {
			rejected[section] = violations
		}
	}

	if len(rejected) > 0 {
		failure := newImportFailure(rejected)
		names := make([]string, 0, len(rejected))
		s.mu.Lock()
		for section, violations := range rejected {
			s.errs[section] = newValidationFailure(ErrCodeImportMalformed, section, violations)
			names = append(names, section.String())
		}
		s.mu.Unlock()
		sort.Strings(names)

		s.audit.LogSecurityEvent(EventImportRejected, failure.Error(), map[string]any{
			"sections":    names,
			"app_version": payload.AppVersion,
			"platform":    payload.Platform,
		})
		for _, section := range sections {
			if _, bad := rejected[section]; bad {
				s.emitState(section)
			}
		}
		return failure
	}

	var firstErr error
	for _, section := range sections {
		if err := s.UpdateSettings(ctx, section, payload.Settings.Get(section)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EncodeExport serializes payload as JSON, YAML or TOML.
func EncodeExport(payload ExportPayload, format Format) ([]byte, error) {
	plain, err := toPlain(payload)
	if err != nil {
		return nil, err
	}
	doc, ok := plain.(map[string]any)
	if !ok {
		return nil, errors.New(ErrCodeSerializationError, "export payload is not a document")
	}
	return encodeDocument(doc, format)
}

// DecodeExport parses an export document. Sections may be partial: missing
// fields take their defaults. Unknown sections, unknown fields and values
// that fail the per-field checks are reported as an *ImportFailure.
func DecodeExport(data []byte, format Format) (ExportPayload, error) {
	var payload ExportPayload

	doc, err := decodeDocument(data, format)
	if err != nil {
		return payload, errors.Wrap(err, ErrCodeImportMalformed, "cannot parse import document")
	}

	raw, ok := doc["settings"].(map[string]any)
	if !ok {
		return payload, errors.New(ErrCodeImportMalformed, "import document has no settings object")
	}

	rejected := make(map[Section][]ValidationError)
	for name, value := range raw {
		section, err := ParseSection(name)
		if err != nil {
			return payload, errors.Wrap(err, ErrCodeImportMalformed, "unknown section in import").
				WithContext("section", name)
		}
		partial, ok := value.(map[string]any)
		if !ok {
			rejected[section] = []ValidationError{{Message: fmt.Sprintf("expected an object, got %T", value)}}
			continue
		}
		if violations := ValidatePartial(section, partial); len(violations) > 0 {
			rejected[section] = violations
			continue
		}
		def, _ := lookupSection(section)
		record, err := def.decodeOverDefaults(partial)
		if err != nil {
			rejected[section] = []ValidationError{decodeViolation(err)}
			continue
		}
		payload.Settings.Put(record)
	}
	if len(rejected) > 0 {
		return ExportPayload{}, newImportFailure(rejected)
	}

	if v, ok := doc["exportedAt"].(string); ok && v != "" {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return payload, errors.Wrap(err, ErrCodeImportMalformed, "invalid exportedAt")
		}
		payload.ExportedAt = at
	}
	payload.AppVersion, _ = doc["appVersion"].(string)
	payload.Platform, _ = doc["platform"].(string)
	return payload, nil
}
