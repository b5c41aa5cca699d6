// validator.go: Field-level validation for every settings section
//
// Validation is pure: it never touches the store or the bridge, and it never
// stops at the first failure. Every violated rule shows up in the result, in
// the order the checks are declared below.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agilira/go-errors"
)

// ValidationError describes one violated rule on one field.
// Field uses the JSON path of the offending value ("bounds.width",
// "entries[2].name"); an empty Field means the record as a whole.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationFailure is returned when an update or import is rejected by the
// validator. It carries the go-errors code ErrCodeValidationFailed (or
// ErrCodeImportMalformed for imports).
type ValidationFailure struct {
	Section    Section
	Violations []ValidationError
	cause      error
}

func newValidationFailure(code errors.ErrorCode, section Section, violations []ValidationError) *ValidationFailure {
	msg := fmt.Sprintf("%s: %d validation error(s): %s", section, len(violations), joinViolations(violations))
	return &ValidationFailure{
		Section:    section,
		Violations: violations,
		cause:      errors.New(code, msg).WithContext("section", section.String()),
	}
}

func (f *ValidationFailure) Error() string { return f.cause.Error() }

// Unwrap exposes the coded error so ErrorCodeOf can find it.
func (f *ValidationFailure) Unwrap() error { return f.cause }

// ValidationErrorsOf extracts the violations carried by err, if any.
// Violations of a rejected import are prefixed with their section id.
func ValidationErrorsOf(err error) []ValidationError {
	var failure *ValidationFailure
	if goerrors.As(err, &failure) {
		return failure.Violations
	}

	var rejected *ImportFailure
	if goerrors.As(err, &rejected) {
		var out []ValidationError
		for _, section := range AllSections() {
			for _, v := range rejected.Sections[section] {
				field := section.String()
				if v.Field != "" {
					field += "." + v.Field
				}
				out = append(out, ValidationError{Field: field, Message: v.Message, Value: v.Value})
			}
		}
		return out
	}
	return nil
}

func joinViolations(violations []ValidationError) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.Error())
	}
	return strings.Join(parts, "; ")
}

// Validate checks data against the rules of section and returns every
// violation. An unknown section or a record of the wrong type yields a
// single generic error.
func Validate(section Section, data SectionData) []ValidationError {
	def, ok := lookupSection(section)
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("unknown settings section %q", section.String()), Value: int(section)}}
	}
	if data == nil {
		return []ValidationError{{Message: "settings data is missing"}}
	}
	return def.validate(data)
}

// ValidatePartial validates a JSON-shaped record that may be missing fields,
// as found in hand-edited import files. Missing fields are taken from the
// defaults and never reported; present fields are type- and range-checked.
func ValidatePartial(section Section, partial map[string]any) []ValidationError {
	def, ok := lookupSection(section)
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("unknown settings section %q", section.String()), Value: int(section)}}
	}

	data, err := def.decodeOverDefaults(partial)
	if err != nil {
		return []ValidationError{decodeViolation(err)}
	}

	var out []ValidationError
	for _, violation := range def.validate(data) {
		if _, present := partial[rootField(violation.Field)]; present || violation.Field == "" {
			out = append(out, violation)
		}
	}
	return out
}

func rootField(field string) string {
	if i := strings.IndexAny(field, ".["); i >= 0 {
		return field[:i]
	}
	return field
}

func decodeViolation(err error) ValidationError {
	var typeErr *json.UnmarshalTypeError
	if goerrors.As(err, &typeErr) {
		return ValidationError{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("expected %s, got %s", typeErr.Type.String(), typeErr.Value),
		}
	}
	return ValidationError{Message: "malformed settings record: " + err.Error()}
}

// checks accumulates violations for one record.
type checks struct {
	errs []ValidationError
}

func (c *checks) add(field, message string, value any) {
	c.errs = append(c.errs, ValidationError{Field: field, Message: message, Value: value})
}

func (c *checks) required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		c.add(field, "is required", value)
		return false
	}
	return true
}

func (c *checks) length(field, value string, minLen, maxLen int) {
	n := utf8.RuneCountInString(value)
	if n < minLen || n > maxLen {
		c.add(field, fmt.Sprintf("must be between %d and %d characters", minLen, maxLen), value)
	}
}

func (c *checks) maxLength(field, value string, maxLen int) {
	if utf8.RuneCountInString(value) > maxLen {
		c.add(field, fmt.Sprintf("must be at most %d characters", maxLen), value)
	}
}

func (c *checks) intRange(field string, value, minValue, maxValue int) {
	if value < minValue || value > maxValue {
		c.add(field, fmt.Sprintf("must be between %d and %d", minValue, maxValue), value)
	}
}

func (c *checks) floatRange(field string, value, minValue, maxValue float64) {
	if math.IsNaN(value) || value < minValue || value > maxValue {
		c.add(field, fmt.Sprintf("must be between %g and %g", minValue, maxValue), value)
	}
}

func (c *checks) finite(field string, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		c.add(field, "must be a finite number", value)
	}
}

func (c *checks) oneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	c.add(field, "must be one of "+strings.Join(allowed, ", "), value)
}

func (c *checks) pattern(field, value string, re *regexp.Regexp, description string) {
	if !re.MatchString(value) {
		c.add(field, "must be "+description, value)
	}
}

func (c *checks) securePath(field, value string) {
	if err := validateSecurePath(value); err != nil {
		c.add(field, "is not a safe path", value)
	}
}

var (
	apiKeyPattern     = regexp.MustCompile(`^[A-Za-z0-9_\-]{16,256}$`)
	themeNamePattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)
	colorPattern      = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
	expressionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

var frameRateLimits = []int{0, 30, 60, 120, 144, 240}

func validateWindow(w WindowSettings) []ValidationError {
	var c checks

	c.intRange("bounds.x", w.Bounds.X, -10000, 10000)
	c.intRange("bounds.y", w.Bounds.Y, -10000, 10000)
	c.intRange("bounds.width", w.Bounds.Width, 320, 7680)
	c.intRange("bounds.height", w.Bounds.Height, 240, 4320)

	if c.required("modelPath", w.ModelPath) {
		c.securePath("modelPath", w.ModelPath)
		ext := strings.ToLower(filepath.Ext(w.ModelPath))
		if ext != ".vrm" && ext != ".glb" {
			c.add("modelPath", "must point to a .vrm or .glb model", w.ModelPath)
		}
	}

	c.finite("camera.position.x", w.Camera.Position.X)
	c.finite("camera.position.y", w.Camera.Position.Y)
	c.finite("camera.position.z", w.Camera.Position.Z)
	c.finite("camera.target.x", w.Camera.Target.X)
	c.finite("camera.target.y", w.Camera.Target.Y)
	c.finite("camera.target.z", w.Camera.Target.Z)
	c.floatRange("camera.distance", w.Camera.Distance, 0.1, 100)
	c.floatRange("camera.fov", w.Camera.FieldOfView, 10, 120)

	c.errs = append(c.errs, evaluateWindowRules(w)...)
	return c.errs
}

func validateChat(s ChatSettings) []ValidationError {
	var c checks

	if c.required("userName", s.UserName) {
		c.length("userName", s.UserName, 1, 32)
	}
	if c.required("mascotName", s.MascotName) {
		c.length("mascotName", s.MascotName, 1, 32)
	}
	c.maxLength("systemPrompt", s.SystemPrompt, 4000)
	if s.APIKey != "" {
		c.pattern("apiKey", s.APIKey, apiKeyPattern, "16 to 256 letters, digits, '-' or '_'")
	}
	c.floatRange("temperature", s.Temperature, 0, 1)
	c.intRange("maxHistory", s.MaxHistory, 1, 200)

	return c.errs
}

func validateTheme(t ThemeSettings) []ValidationError {
	var c checks

	c.required("current", t.Current)

	if len(t.Available) == 0 {
		c.add("available", "must list at least one theme", t.Available)
	}
	seen := make(map[string]bool, len(t.Available))
	for i, name := range t.Available {
		field := fmt.Sprintf("available[%d]", i)
		c.pattern(field, name, themeNamePattern, "a lowercase theme id")
		if seen[name] {
			c.add(field, "duplicate theme", name)
		}
		seen[name] = true
	}

	c.pattern("accentColor", t.AccentColor, colorPattern, "a #RRGGBB color")
	c.floatRange("fontScale", t.FontScale, 0.5, 3)

	if t.Current != "" && len(t.Available) > 0 {
		c.errs = append(c.errs, evaluateThemeRules(t)...)
	}
	return c.errs
}

func validateExpressions(e ExpressionSettings) []ValidationError {
	var c checks

	if c.required("directory", e.Directory) {
		c.securePath("directory", e.Directory)
	}

	if len(e.Entries) > 64 {
		c.add("entries", "must contain at most 64 expressions", len(e.Entries))
	}
	seen := make(map[string]bool, len(e.Entries))
	for i, entry := range e.Entries {
		prefix := fmt.Sprintf("entries[%d]", i)
		c.pattern(prefix+".name", entry.Name, expressionPattern, "1 to 64 letters, digits, '-' or '_'")
		if seen[entry.Name] {
			c.add(prefix+".name", "duplicate expression name", entry.Name)
		}
		seen[entry.Name] = true
		c.oneOf(prefix+".trigger", entry.Trigger, TriggerManual, TriggerKeyword, TriggerIdle, TriggerRandom)
		c.intRange(prefix+".weight", entry.Weight, 0, 100)
	}

	c.intRange("idleIntervalSeconds", e.IdleIntervalSeconds, 5, 3600)

	c.errs = append(c.errs, evaluateExpressionRules(e)...)
	return c.errs
}

func validateDisplay(d DisplaySettings) []ValidationError {
	var c checks

	c.intRange("monitor", d.Monitor, 0, 16)
	c.floatRange("scale", d.Scale, 0.5, 4)

	allowed := false
	for _, limit := range frameRateLimits {
		if d.FrameRateLimit == limit {
			allowed = true
			break
		}
	}
	if !allowed {
		c.add("frameRateLimit", "must be 0 (unlimited), 30, 60, 120, 144 or 240", d.FrameRateLimit)
	}

	c.floatRange("opacity", d.Opacity, 0.1, 1)

	return c.errs
}
