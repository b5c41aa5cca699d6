// validator_test.go: Tests for section validation and cross-field rules
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"math"
	"strings"
	"testing"
)

func hasViolation(violations []ValidationError, field string) bool {
	for _, v := range violations {
		if v.Field == field {
			return true
		}
	}
	return false
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	for _, section := range AllSections() {
		if violations := Validate(section, DefaultSectionData(section)); len(violations) != 0 {
			t.Errorf("defaults of %s should be valid, got %v", section, violations)
		}
	}
}

func TestValidate_UnknownSectionAndNilData(t *testing.T) {
	violations := Validate(Section(42), WindowSettings{})
	if len(violations) != 1 || violations[0].Field != "" {
		t.Fatalf("expected one generic violation, got %v", violations)
	}
	if !strings.Contains(violations[0].Message, "unknown settings section") {
		t.Errorf("unexpected message: %s", violations[0].Message)
	}

	violations = Validate(SectionChat, nil)
	if len(violations) != 1 {
		t.Fatalf("expected one violation for nil data, got %v", violations)
	}
}

func TestValidate_WindowCollectsEveryViolation(t *testing.T) {
	w := DefaultSectionData(SectionWindow).(WindowSettings)
	w.Bounds.Width = 100
	w.Bounds.Height = 100000
	w.ModelPath = "../secret/model.txt"
	w.Camera.FieldOfView = 170
	w.Camera.Position.X = math.Inf(1)

	violations := Validate(SectionWindow, w)
	for _, field := range []string{"bounds.width", "bounds.height", "modelPath", "camera.fov", "camera.position.x"} {
		if !hasViolation(violations, field) {
			t.Errorf("expected violation on %s, got %v", field, violations)
		}
	}

	modelPathCount := 0
	for _, v := range violations {
		if v.Field == "modelPath" {
			modelPathCount++
		}
	}
	if modelPathCount != 2 {
		t.Errorf("expected unsafe path and wrong extension on modelPath, got %d violations", modelPathCount)
	}
}

func TestValidate_CameraTargetRule(t *testing.T) {
	w := DefaultSectionData(SectionWindow).(WindowSettings)
	w.Camera.Target = w.Camera.Position

	violations := Validate(SectionWindow, w)
	if !hasViolation(violations, "camera.target") {
		t.Fatalf("expected camera.target violation, got %v", violations)
	}
}

func TestValidate_Chat(t *testing.T) {
	tests := []struct {
		name   string
		edit   func(*ChatSettings)
		fields []string
	}{
		{"empty names", func(c *ChatSettings) { c.UserName = " "; c.MascotName = "" }, []string{"userName", "mascotName"}},
		{"long name", func(c *ChatSettings) { c.UserName = strings.Repeat("a", 33) }, []string{"userName"}},
		{"multibyte name within limit", func(c *ChatSettings) { c.MascotName = strings.Repeat("é", 32) }, nil},
		{"short api key", func(c *ChatSettings) { c.APIKey = "abc" }, []string{"apiKey"}},
		{"valid api key", func(c *ChatSettings) { c.APIKey = "sk_0123456789abcdef" }, nil},
		{"temperature out of range", func(c *ChatSettings) { c.Temperature = 1.5 }, []string{"temperature"}},
		{"temperature NaN", func(c *ChatSettings) { c.Temperature = math.NaN() }, []string{"temperature"}},
		{"history zero", func(c *ChatSettings) { c.MaxHistory = 0 }, []string{"maxHistory"}},
		{"prompt too long", func(c *ChatSettings) { c.SystemPrompt = strings.Repeat("x", 4001) }, []string{"systemPrompt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultSectionData(SectionChat).(ChatSettings)
			tt.edit(&c)
			violations := Validate(SectionChat, c)
			if len(violations) != len(tt.fields) {
				t.Fatalf("expected %d violations, got %v", len(tt.fields), violations)
			}
			for _, field := range tt.fields {
				if !hasViolation(violations, field) {
					t.Errorf("expected violation on %s, got %v", field, violations)
				}
			}
		})
	}
}

func TestValidate_ThemeRules(t *testing.T) {
	theme := DefaultSectionData(SectionTheme).(ThemeSettings)
	theme.Current = "solarized"
	violations := Validate(SectionTheme, theme)
	if !hasViolation(violations, "current") {
		t.Errorf("expected current not in available, got %v", violations)
	}

	theme = DefaultSectionData(SectionTheme).(ThemeSettings)
	theme.Available = []string{"default", "dark", "dark", "Bad Name"}
	theme.AccentColor = "blue"
	violations = Validate(SectionTheme, theme)
	for _, field := range []string{"available[2]", "available[3]", "accentColor"} {
		if !hasViolation(violations, field) {
			t.Errorf("expected violation on %s, got %v", field, violations)
		}
	}

	theme = DefaultSectionData(SectionTheme).(ThemeSettings)
	theme.Available = nil
	violations = Validate(SectionTheme, theme)
	if !hasViolation(violations, "available") {
		t.Errorf("expected empty available violation, got %v", violations)
	}
	if hasViolation(violations, "current") {
		t.Errorf("membership rule should not run without available themes: %v", violations)
	}
}

func TestValidate_ExpressionRules(t *testing.T) {
	e := DefaultSectionData(SectionExpressions).(ExpressionSettings)
	e.Entries = append(e.Entries,
		Expression{Name: "wink", Trigger: TriggerKeyword, Weight: 10},
		Expression{Name: "neutral", Trigger: "sometimes", Weight: 101},
	)
	e.DefaultExpression = "missing"
	e.IdleIntervalSeconds = 1

	violations := Validate(SectionExpressions, e)
	for _, field := range []string{
		"entries[3].keyword",
		"entries[4].name",
		"entries[4].trigger",
		"entries[4].weight",
		"defaultExpression",
		"idleIntervalSeconds",
	} {
		if !hasViolation(violations, field) {
			t.Errorf("expected violation on %s, got %v", field, violations)
		}
	}
}

func TestValidate_Display(t *testing.T) {
	d := DefaultSectionData(SectionDisplay).(DisplaySettings)
	d.FrameRateLimit = 75
	d.Opacity = 0
	d.Monitor = -1

	violations := Validate(SectionDisplay, d)
	if len(violations) != 3 {
		t.Fatalf("expected 3 violations, got %v", violations)
	}

	d = DefaultSectionData(SectionDisplay).(DisplaySettings)
	d.FrameRateLimit = 0
	if violations := Validate(SectionDisplay, d); len(violations) != 0 {
		t.Errorf("unlimited frame rate should be valid, got %v", violations)
	}
}

func TestValidatePartial(t *testing.T) {
	violations := ValidatePartial(SectionChat, map[string]any{"temperature": 0.2})
	if len(violations) != 0 {
		t.Errorf("partial valid record should pass, got %v", violations)
	}

	violations = ValidatePartial(SectionChat, map[string]any{"temperature": 3.0})
	if !hasViolation(violations, "temperature") {
		t.Errorf("expected temperature violation, got %v", violations)
	}

	violations = ValidatePartial(SectionChat, map[string]any{"temperature": "hot"})
	if len(violations) != 1 {
		t.Fatalf("expected one decode violation, got %v", violations)
	}
	if violations[0].Field != "temperature" {
		t.Errorf("expected decode violation on temperature, got %+v", violations[0])
	}

	violations = ValidatePartial(SectionChat, map[string]any{"nickname": "x"})
	if len(violations) != 1 || violations[0].Field != "" {
		t.Errorf("expected unknown field to be rejected, got %v", violations)
	}
}

func TestValidationErrorsOf(t *testing.T) {
	violations := []ValidationError{{Field: "temperature", Message: "too hot"}}
	err := newValidationFailure(ErrCodeValidationFailed, SectionChat, violations)

	if got := ValidationErrorsOf(err); len(got) != 1 || got[0].Field != "temperature" {
		t.Errorf("unexpected violations: %v", got)
	}
	if code := ErrorCodeOf(err); code != ErrCodeValidationFailed {
		t.Errorf("expected %s, got %s", ErrCodeValidationFailed, code)
	}
	if !strings.Contains(err.Error(), "chat") {
		t.Errorf("message should name the section: %s", err.Error())
	}

	imported := newImportFailure(map[Section][]ValidationError{
		SectionDisplay: {{Field: "scale", Message: "bad"}},
		SectionWindow:  {{Message: "malformed"}},
	})
	got := ValidationErrorsOf(imported)
	if len(got) != 2 || got[0].Field != "window" || got[1].Field != "display.scale" {
		t.Errorf("import violations should be section-prefixed in order, got %v", got)
	}

	if ValidationErrorsOf(nil) != nil {
		t.Error("nil error should carry no violations")
	}
}
