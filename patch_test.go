// patch_test.go: Tests for field path patches
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import "testing"

func TestParseFieldPath(t *testing.T) {
	segments, err := parseFieldPath("entries[2].name")
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 3 || segments[0].key != "entries" || !segments[1].isIdx || segments[1].index != 2 || segments[2].key != "name" {
		t.Errorf("unexpected segments: %+v", segments)
	}

	for _, bad := range []string{"", "  ", "a..b", "entries[", "entries[x]", "entries[-1]", "entries[0]x", "[0]"} {
		if _, err := parseFieldPath(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestApplyFieldPatch_ConvertsStrings(t *testing.T) {
	tests := []struct {
		name    string
		section Section
		path    string
		value   any
		check   func(SectionData) bool
	}{
		{"int from string", SectionWindow, "bounds.width", "1024",
			func(d SectionData) bool { return d.(WindowSettings).Bounds.Width == 1024 }},
		{"float from string", SectionChat, "temperature", "0.25",
			func(d SectionData) bool { return d.(ChatSettings).Temperature == 0.25 }},
		{"bool from string", SectionDisplay, "vsync", "false",
			func(d SectionData) bool { return !d.(DisplaySettings).VSync }},
		{"string", SectionChat, "mascotName", "Iris",
			func(d SectionData) bool { return d.(ChatSettings).MascotName == "Iris" }},
		{"list element", SectionExpressions, "entries[1].weight", "75",
			func(d SectionData) bool { return d.(ExpressionSettings).Entries[1].Weight == 75 }},
		{"list as JSON", SectionTheme, "available", `["default","neon"]`,
			func(d SectionData) bool { return len(d.(ThemeSettings).Available) == 2 }},
		{"typed value", SectionDisplay, "monitor", 2,
			func(d SectionData) bool { return d.(DisplaySettings).Monitor == 2 }},
		{"absent optional field", SectionExpressions, "entries[0].keyword", "hi",
			func(d SectionData) bool { return d.(ExpressionSettings).Entries[0].Keyword == "hi" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := DefaultSectionData(tt.section)
			patched, err := ApplyFieldPatch(original, tt.path, tt.value)
			if err != nil {
				t.Fatalf("patch failed: %v", err)
			}
			if !tt.check(patched) {
				t.Errorf("unexpected result: %+v", patched)
			}
		})
	}
}

func TestApplyFieldPatch_DoesNotMutateInput(t *testing.T) {
	theme := DefaultSectionData(SectionTheme).(ThemeSettings)
	if _, err := ApplyFieldPatch(theme, "available[0]", "neon"); err != nil {
		t.Fatal(err)
	}
	if theme.Available[0] != "default" {
		t.Error("input record must not change")
	}
}

func TestApplyFieldPatch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		section Section
		path    string
		value   any
	}{
		{"unknown field", SectionChat, "nickname", "x"},
		{"unknown parent", SectionWindow, "frame.width", "1"},
		{"not a number", SectionWindow, "bounds.width", "wide"},
		{"not a bool", SectionDisplay, "vsync", "maybe"},
		{"index out of range", SectionExpressions, "entries[9].name", "x"},
		{"index on scalar", SectionChat, "userName[0]", "x"},
		{"field on scalar", SectionChat, "userName.first", "x"},
		{"bad JSON list", SectionTheme, "available", "[oops"},
		{"fractional int", SectionWindow, "bounds.width", "10.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplyFieldPatch(DefaultSectionData(tt.section), tt.path, tt.value)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := ErrorCodeOf(err); code != ErrCodeFieldPatchError {
				t.Errorf("expected %s, got %s (%v)", ErrCodeFieldPatchError, code, err)
			}
		})
	}

	if _, err := ApplyFieldPatch(nil, "x", 1); ErrorCodeOf(err) != ErrCodeFieldPatchError {
		t.Errorf("nil data should fail with %s, got %v", ErrCodeFieldPatchError, err)
	}
}

func TestApplyFieldPatch_ResultIsNotValidated(t *testing.T) {
	patched, err := ApplyFieldPatch(DefaultSectionData(SectionChat), "temperature", "5")
	if err != nil {
		t.Fatalf("out-of-range values are left to the validator: %v", err)
	}
	if len(Validate(SectionChat, patched)) == 0 {
		t.Error("validator should reject the patched record")
	}
}
