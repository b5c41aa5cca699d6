// export_test.go: Tests for export, import and document formats
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"
	"testing"
)

func TestDetectAndParseFormat(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"settings.json", FormatJSON},
		{"settings.YAML", FormatYAML},
		{"settings.yml", FormatYAML},
		{"settings.toml", FormatTOML},
		{"settings.ini", FormatUnknown},
		{"settings", FormatUnknown},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.path); got != tt.want {
			t.Errorf("DetectFormat(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	if f, err := ParseFormat(" YML "); err != nil || f != FormatYAML {
		t.Errorf("ParseFormat(yml) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); ErrorCodeOf(err) != ErrCodeInvalidFormat {
		t.Errorf("expected %s, got %v", ErrCodeInvalidFormat, err)
	}
}

func TestDecodeDocument_EmptyAndInvalid(t *testing.T) {
	doc, err := decodeDocument([]byte("  \n"), FormatYAML)
	if err != nil || len(doc) != 0 {
		t.Errorf("empty input should decode to an empty document, got %v %v", doc, err)
	}
	if _, err := decodeDocument([]byte("{not json"), FormatJSON); ErrorCodeOf(err) != ErrCodeSerializationError {
		t.Errorf("expected serialization error, got %v", err)
	}
	if _, err := decodeDocument([]byte("a = 1"), FormatUnknown); ErrorCodeOf(err) != ErrCodeInvalidFormat {
		t.Errorf("expected invalid format, got %v", err)
	}
}

func TestExportSettings(t *testing.T) {
	store := New(Config{AppVersion: "2.1.0", Platform: "linux/amd64"}, NewSeededMemoryBridge(DefaultSettings()))
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if got := store.ExportSettings().Settings.Sections(); len(got) != 0 {
		t.Errorf("nothing loaded yet, got %v", got)
	}

	if err := store.LoadSettings(ctx, SectionChat); err != nil {
		t.Fatal(err)
	}
	if err := store.LoadSettings(ctx, SectionDisplay); err != nil {
		t.Fatal(err)
	}

	payload := store.ExportSettings()
	if payload.AppVersion != "2.1.0" || payload.Platform != "linux/amd64" {
		t.Errorf("unexpected stamp: %+v", payload)
	}
	if payload.ExportedAt.IsZero() {
		t.Error("export should carry a timestamp")
	}
	sections := payload.Settings.Sections()
	if len(sections) != 2 || sections[0] != SectionChat || sections[1] != SectionDisplay {
		t.Errorf("expected chat and display, got %v", sections)
	}
}

func TestEncodeDecodeExport_AllFormats(t *testing.T) {
	payload := ExportPayload{
		Settings:   DefaultSettings(),
		AppVersion: "1.0.0",
		Platform:   "darwin/arm64",
	}
	payload.Settings.Chat.MascotName = "Nova"
	payload.Settings.Expressions.Entries[1].Keyword = "thank you"

	for _, format := range []Format{FormatJSON, FormatYAML, FormatTOML} {
		t.Run(format.String(), func(t *testing.T) {
			data, err := EncodeExport(payload, format)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			decoded, err := DecodeExport(data, format)
			if err != nil {
				t.Fatalf("decode failed: %v\n%s", err, data)
			}
			if len(decoded.Settings.Sections()) != len(AllSections()) {
				t.Fatalf("expected every section, got %v", decoded.Settings.Sections())
			}
			if decoded.Settings.Chat.MascotName != "Nova" {
				t.Errorf("mascot name lost: %q", decoded.Settings.Chat.MascotName)
			}
			if decoded.Settings.Expressions.Entries[1].Keyword != "thank you" {
				t.Errorf("nested entry lost: %+v", decoded.Settings.Expressions.Entries)
			}
			if *decoded.Settings.Window != *payload.Settings.Window {
				t.Errorf("window differs: %+v", decoded.Settings.Window)
			}
			if decoded.AppVersion != "1.0.0" || decoded.Platform != "darwin/arm64" {
				t.Errorf("metadata lost: %+v", decoded)
			}
		})
	}
}

func TestDecodeExport_PartialSectionsTakeDefaults(t *testing.T) {
	doc := `{"settings": {"display": {"opacity": 0.5}}, "appVersion": "0.9"}`
	payload, err := DecodeExport([]byte(doc), FormatJSON)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.Settings.Display == nil || payload.Settings.Display.Opacity != 0.5 {
		t.Fatalf("expected display with opacity 0.5, got %+v", payload.Settings.Display)
	}
	if payload.Settings.Display.FrameRateLimit != 60 {
		t.Errorf("missing fields should take defaults, got %+v", payload.Settings.Display)
	}
	if payload.Settings.Chat != nil {
		t.Error("absent sections must stay absent")
	}
}

func TestDecodeExport_Rejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code string
	}{
		{"no settings", `{"appVersion": "1"}`, ErrCodeImportMalformed},
		{"unknown section", `{"settings": {"weather": {}}}`, ErrCodeImportMalformed},
		{"not an object", `{"settings": {"chat": 5}}`, ErrCodeImportMalformed},
		{"bad value", `{"settings": {"chat": {"temperature": 5}}}`, ErrCodeImportMalformed},
		{"wrong type", `{"settings": {"display": {"vsync": "yes"}}}`, ErrCodeImportMalformed},
		{"bad timestamp", `{"settings": {}, "exportedAt": "yesterday"}`, ErrCodeImportMalformed},
		{"unparseable", `{"settings":`, ErrCodeImportMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeExport([]byte(tt.doc), FormatJSON)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if code := ErrorCodeOf(err); code != tt.code {
				t.Errorf("expected %s, got %s (%v)", tt.code, code, err)
			}
		})
	}

	_, err := DecodeExport([]byte(`{"settings": {"chat": {"temperature": 5, "maxHistory": 0}}}`), FormatJSON)
	var failure *ImportFailure
	if !goerrors.As(err, &failure) {
		t.Fatalf("expected *ImportFailure, got %T", err)
	}
	if n := len(failure.Sections[SectionChat]); n != 2 {
		t.Errorf("expected 2 chat violations, got %d", n)
	}
}

func TestImportSettings(t *testing.T) {
	bridge := NewSeededMemoryBridge(DefaultSettings())
	store := newTestStore(t, bridge)
	ctx := context.Background()

	var payload ExportPayload
	chat := DefaultSectionData(SectionChat).(ChatSettings)
	chat.UserName = "Imported"
	payload.Settings.Put(chat)
	payload.Settings.Put(DefaultSectionData(SectionTheme))

	if err := store.ImportSettings(ctx, payload); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if chatOf(t, store).UserName != "Imported" {
		t.Error("chat should be imported")
	}
	if _, ok := store.Get(SectionWindow); ok {
		t.Error("sections absent from the payload must not be touched")
	}
}

func TestImportSettings_ExportRoundTrip(t *testing.T) {
	settings := DefaultSettings()
	settings.Chat.UserName = "Robin"
	settings.Display.Scale = 1.5
	store := newTestStore(t, NewSeededMemoryBridge(settings))
	ctx := context.Background()
	if err := store.InitializeAllSections(ctx); err != nil {
		t.Fatal(err)
	}

	before := store.GetState().Settings
	if err := store.ImportSettings(ctx, store.ExportSettings()); err != nil {
		t.Fatalf("re-importing an export failed: %v", err)
	}
	if after := store.GetState().Settings; !reflect.DeepEqual(before, after) {
		t.Errorf("round trip changed the state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestImportSettings_RejectsAtomically(t *testing.T) {
	bridge := NewSeededMemoryBridge(DefaultSettings())
	store := newTestStore(t, bridge)
	ctx := context.Background()
	before := bridge.TotalCalls()

	var payload ExportPayload
	chat := DefaultSectionData(SectionChat).(ChatSettings)
	chat.UserName = "Valid"
	payload.Settings.Put(chat)
	display := DefaultSectionData(SectionDisplay).(DisplaySettings)
	display.Scale = 10
	payload.Settings.Put(display)

	err := store.ImportSettings(ctx, payload)
	var failure *ImportFailure
	if !goerrors.As(err, &failure) {
		t.Fatalf("expected *ImportFailure, got %v", err)
	}
	if _, ok := failure.Sections[SectionDisplay]; !ok || len(failure.Sections) != 1 {
		t.Errorf("only display should be rejected, got %v", failure.Sections)
	}
	if bridge.TotalCalls() != before {
		t.Error("a rejected import must not write anything")
	}
	if ErrorCodeOf(store.SectionStatus(SectionDisplay).Err) != ErrCodeImportMalformed {
		t.Errorf("rejected section should carry the import error, got %v", store.SectionStatus(SectionDisplay).Err)
	}
	if store.SectionStatus(SectionChat).Err != nil {
		t.Error("valid sections must not be marked")
	}

	events := auditEvents(t, store, EventImportRejected)
	if len(events) != 1 || events[0].Level != AuditSecurity {
		t.Errorf("expected one security event, got %+v", events)
	}
	if !strings.Contains(err.Error(), "display") {
		t.Errorf("error should name the section: %v", err)
	}
}

func TestImportSettings_Empty(t *testing.T) {
	store := newTestStore(t, NewMemoryBridge())
	if err := store.ImportSettings(context.Background(), ExportPayload{}); !goerrors.Is(err, ErrEmptyImport) {
		t.Errorf("expected ErrEmptyImport, got %v", err)
	}
}
