// registry.go: Section table
//
// Every section is described once here: its defaults, its validator and the
// bridge keys its record is split into. Adding a section is one entry in
// sectionTable plus its record type in sections.go.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/agilira/go-errors"
)

// fieldBinding maps one bridge key onto part of a section record.
// A binding without read is a write-only trigger (for example asking the
// platform to re-apply a theme); it is never issued during loads.
type fieldBinding[T SectionData] struct {
	key      string
	critical bool
	read     func(dst *T, raw any) error
	write    func(src T) any
}

// binding is the type-erased view of a fieldBinding used by the adapter.
type binding struct {
	Key      string
	Critical bool
	Readable bool
}

type sectionSpec interface {
	section() Section
	defaults() SectionData
	validate(data SectionData) []ValidationError
	normalize(data SectionData) (SectionData, bool)
	bindings() []binding
	merge(base SectionData, key string, raw any) (SectionData, error)
	extract(data SectionData, key string) (any, error)
	decodeRecord(raw any) (SectionData, error)
	decodeOverDefaults(partial map[string]any) (SectionData, error)
}

type sectionDef[T SectionData] struct {
	id       Section
	check    func(T) []ValidationError
	fields   []fieldBinding[T]
	erased   []binding
	byKey    map[string]int
	typeName string
}

func newSectionDef[T SectionData](id Section, check func(T) []ValidationError, fields ...fieldBinding[T]) *sectionDef[T] {
	def := &sectionDef[T]{
		id:       id,
		check:    check,
		fields:   fields,
		byKey:    make(map[string]int, len(fields)),
		typeName: fmt.Sprintf("%T", *new(T)),
	}
	for i, f := range fields {
		def.byKey[f.key] = i
		def.erased = append(def.erased, binding{Key: f.key, Critical: f.critical, Readable: f.read != nil})
	}
	return def
}

func (d *sectionDef[T]) section() Section { return d.id }
func (d *sectionDef[T]) defaults() SectionData { return DefaultSectionData(d.id) }
func (d *sectionDef[T]) bindings() []binding { return d.erased }
func (d *sectionDef[T]) typed() T { return DefaultSectionData(d.id).(T) }

func (d *sectionDef[T]) record(data SectionData) (T, bool) {
	v, ok := data.(T)
	return v, ok
}

func (d *sectionDef[T]) normalize(data SectionData) (SectionData, bool) {
	t, ok := d.record(data)
	if !ok {
		return nil, false
	}
	return cloneSectionData(t), true
}

func (d *sectionDef[T]) validate(data SectionData) []ValidationError {
	t, ok := d.record(data)
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("%s section expects %s, got %T", d.id, d.typeName, data)}}
	}
	return d.check(t)
}

func (d *sectionDef[T]) merge(base SectionData, key string, raw any) (SectionData, error) {
	t, ok := d.record(base)
	if !ok {
		t = d.typed()
	}
	i, found := d.byKey[key]
	if !found || d.fields[i].read == nil {
		return nil, errors.New(ErrCodeKeyNotFound, fmt.Sprintf("%s has no readable key %q", d.id, key))
	}
	if err := d.fields[i].read(&t, raw); err != nil {
		return nil, errors.Wrap(err, ErrCodeSerializationError, "cannot decode "+key)
	}
	return t, nil
}

func (d *sectionDef[T]) extract(data SectionData, key string) (any, error) {
	t, ok := d.record(data)
	if !ok {
		return nil, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("%s section expects %s, got %T", d.id, d.typeName, data))
	}
	i, found := d.byKey[key]
	if !found {
		return nil, errors.New(ErrCodeKeyNotFound, fmt.Sprintf("%s has no key %q", d.id, key))
	}
	return d.fields[i].write(t), nil
}

func (d *sectionDef[T]) decodeRecord(raw any) (SectionData, error) {
	t, err := decodeValue[T](raw)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (d *sectionDef[T]) decodeOverDefaults(partial map[string]any) (SectionData, error) {
	t := d.typed()
	payload, err := json.Marshal(partial)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, err
	}
	return t, nil
}

// decodeValue converts whatever a bridge handed back into V. Values that
// already have the right type pass through; anything else goes through JSON,
// which is the shape every transport in this module agrees on.
func decodeValue[V any](raw any) (V, error) {
	var out V
	if v, ok := raw.(V); ok {
		return v, nil
	}
	if raw == nil {
		return out, errors.New(ErrCodeSerializationError, "value is missing")
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Field groups exchanged with the bridge. Their JSON shape is the wire shape.

type windowMain struct {
	Bounds      WindowBounds `json:"bounds"`
	ModelPath   string       `json:"modelPath"`
	AlwaysOnTop bool         `json:"alwaysOnTop"`
	Transparent bool         `json:"transparent"`
}

type chatNames struct {
	UserName   string `json:"userName"`
	MascotName string `json:"mascotName"`
}

type chatModel struct {
	APIKey      string  `json:"apiKey"`
	Temperature float64 `json:"temperature"`
	MaxHistory  int     `json:"maxHistory"`
}

type themeAppearance struct {
	AccentColor string  `json:"accentColor"`
	FontScale   float64 `json:"fontScale"`
}

type expressionPreferences struct {
	DefaultExpression   string `json:"defaultExpression"`
	IdleIntervalSeconds int    `json:"idleIntervalSeconds"`
}

type displayOutput struct {
	Monitor int     `json:"monitor"`
	Scale   float64 `json:"scale"`
}

type displayRendering struct {
	FrameRateLimit int     `json:"frameRateLimit"`
	VSync          bool    `json:"vsync"`
	Opacity        float64 `json:"opacity"`
}

// readInto builds a read function that decodes the raw value as V and
// hands it to assign.
func readInto[T SectionData, V any](assign func(dst *T, v V)) func(*T, any) error {
	return func(dst *T, raw any) error {
		v, err := decodeValue[V](raw)
		if err != nil {
			return err
		}
		assign(dst, v)
		return nil
	}
}

var sectionTable = [sectionCount]sectionSpec{
	SectionWindow: newSectionDef(SectionWindow, validateWindow,
		fieldBinding[WindowSettings]{
			key: "window.main", critical: true,
			read: readInto(func(w *WindowSettings, v windowMain) {
				w.Bounds, w.ModelPath, w.AlwaysOnTop, w.Transparent = v.Bounds, v.ModelPath, v.AlwaysOnTop, v.Transparent
			}),
			write: func(w WindowSettings) any {
				return windowMain{Bounds: w.Bounds, ModelPath: w.ModelPath, AlwaysOnTop: w.AlwaysOnTop, Transparent: w.Transparent}
			},
		},
		fieldBinding[WindowSettings]{
			key: "window.camera", critical: true,
			read:  readInto(func(w *WindowSettings, v CameraSettings) { w.Camera = v }),
			write: func(w WindowSettings) any { return w.Camera },
		},
	),

	SectionChat: newSectionDef(SectionChat, validateChat,
		fieldBinding[ChatSettings]{
			key: "chat.names", critical: true,
			read:  readInto(func(c *ChatSettings, v chatNames) { c.UserName, c.MascotName = v.UserName, v.MascotName }),
			write: func(c ChatSettings) any { return chatNames{UserName: c.UserName, MascotName: c.MascotName} },
		},
		fieldBinding[ChatSettings]{
			key: "chat.prompt", critical: true,
			read:  readInto(func(c *ChatSettings, v string) { c.SystemPrompt = v }),
			write: func(c ChatSettings) any { return c.SystemPrompt },
		},
		fieldBinding[ChatSettings]{
			key: "chat.visibility", critical: true,
			read:  readInto(func(c *ChatSettings, v bool) { c.Visible = v }),
			write: func(c ChatSettings) any { return c.Visible },
		},
		fieldBinding[ChatSettings]{
			key: "chat.model", critical: true,
			read: readInto(func(c *ChatSettings, v chatModel) {
				c.APIKey, c.Temperature, c.MaxHistory = v.APIKey, v.Temperature, v.MaxHistory
			}),
			write: func(c ChatSettings) any {
				return chatModel{APIKey: c.APIKey, Temperature: c.Temperature, MaxHistory: c.MaxHistory}
			},
		},
	),

	SectionTheme: newSectionDef(SectionTheme, validateTheme,
		fieldBinding[ThemeSettings]{
			key: "theme.current", critical: true,
			read:  readInto(func(t *ThemeSettings, v string) { t.Current = v }),
			write: func(t ThemeSettings) any { return t.Current },
		},
		fieldBinding[ThemeSettings]{
			key: "theme.available", critical: true,
			read:  readInto(func(t *ThemeSettings, v []string) { t.Available = v }),
			write: func(t ThemeSettings) any { return cloneSlice(t.Available) },
		},
		fieldBinding[ThemeSettings]{
			key: "theme.appearance", critical: true,
			read:  readInto(func(t *ThemeSettings, v themeAppearance) { t.AccentColor, t.FontScale = v.AccentColor, v.FontScale }),
			write: func(t ThemeSettings) any { return themeAppearance{AccentColor: t.AccentColor, FontScale: t.FontScale} },
		},
		fieldBinding[ThemeSettings]{
			key: "theme.apply", critical: false,
			write: func(t ThemeSettings) any { return t.Current },
		},
	),

	SectionExpressions: newSectionDef(SectionExpressions, validateExpressions,
		fieldBinding[ExpressionSettings]{
			key: "expressions.directory", critical: true,
			read:  readInto(func(e *ExpressionSettings, v string) { e.Directory = v }),
			write: func(e ExpressionSettings) any { return e.Directory },
		},
		fieldBinding[ExpressionSettings]{
			key: "expressions.entries", critical: true,
			read:  readInto(func(e *ExpressionSettings, v []Expression) { e.Entries = v }),
			write: func(e ExpressionSettings) any { return cloneSlice(e.Entries) },
		},
		fieldBinding[ExpressionSettings]{
			key: "expressions.preferences", critical: true,
			read: readInto(func(e *ExpressionSettings, v expressionPreferences) {
				e.DefaultExpression, e.IdleIntervalSeconds = v.DefaultExpression, v.IdleIntervalSeconds
			}),
			write: func(e ExpressionSettings) any {
				return expressionPreferences{DefaultExpression: e.DefaultExpression, IdleIntervalSeconds: e.IdleIntervalSeconds}
			},
		},
		fieldBinding[ExpressionSettings]{
			key: "expressions.reload", critical: false,
			write: func(e ExpressionSettings) any { return e.Directory },
		},
	),

	SectionDisplay: newSectionDef(SectionDisplay, validateDisplay,
		fieldBinding[DisplaySettings]{
			key: "display.output", critical: true,
			read:  readInto(func(d *DisplaySettings, v displayOutput) { d.Monitor, d.Scale = v.Monitor, v.Scale }),
			write: func(d DisplaySettings) any { return displayOutput{Monitor: d.Monitor, Scale: d.Scale} },
		},
		fieldBinding[DisplaySettings]{
			key: "display.rendering", critical: true,
			read: readInto(func(d *DisplaySettings, v displayRendering) {
				d.FrameRateLimit, d.VSync, d.Opacity = v.FrameRateLimit, v.VSync, v.Opacity
			}),
			write: func(d DisplaySettings) any {
				return displayRendering{FrameRateLimit: d.FrameRateLimit, VSync: d.VSync, Opacity: d.Opacity}
			},
		},
	),
}

func lookupSection(s Section) (sectionSpec, bool) {
	if !s.Valid() {
		return nil, false
	}
	return sectionTable[s], true
}

// SectionKeys lists the bridge keys used by section, in table order.
// Write-only keys are included.
func SectionKeys(s Section) []string {
	def, ok := lookupSection(s)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(def.bindings()))
	for _, b := range def.bindings() {
		keys = append(keys, b.Key)
	}
	return keys
}
