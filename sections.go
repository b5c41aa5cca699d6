// sections.go: Section data shapes and compiled-in defaults
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

// SectionData is implemented by the record type of every section.
// Values are plain data: copying a SectionData never shares mutable state
// except through slices, which the store clones before handing them out.
type SectionData interface {
	Section() Section
}

// Vector3 is a point or direction in model space.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// WindowBounds is the mascot window geometry in screen pixels.
type WindowBounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CameraSettings is the camera pose used to frame the model.
type CameraSettings struct {
	Position    Vector3 `json:"position"`
	Target      Vector3 `json:"target"`
	Distance    float64 `json:"distance"`
	FieldOfView float64 `json:"fov"`
}

// WindowSettings holds geometry, model and camera for the mascot window.
type WindowSettings struct {
	Bounds      WindowBounds   `json:"bounds"`
	ModelPath   string         `json:"modelPath"`
	AlwaysOnTop bool           `json:"alwaysOnTop"`
	Transparent bool           `json:"transparent"`
	Camera      CameraSettings `json:"camera"`
}

// Section implements SectionData.
func (WindowSettings) Section() Section { return SectionWindow }

// ChatSettings holds names, prompt and model parameters of the chat window.
type ChatSettings struct {
	UserName     string  `json:"userName"`
	MascotName   string  `json:"mascotName"`
	SystemPrompt string  `json:"systemPrompt"`
	Visible      bool    `json:"visible"`
	APIKey       string  `json:"apiKey"`
	Temperature  float64 `json:"temperature"`
	MaxHistory   int     `json:"maxHistory"`
}

// Section implements SectionData.
func (ChatSettings) Section() Section { return SectionChat }

// ThemeSettings selects the active theme among the installed ones.
type ThemeSettings struct {
	Current     string   `json:"current"`
	Available   []string `json:"available"`
	AccentColor string   `json:"accentColor"`
	FontScale   float64  `json:"fontScale"`
}

// Section implements SectionData.
func (ThemeSettings) Section() Section { return SectionTheme }

// Expression triggers
const (
	TriggerManual  = "manual"
	TriggerKeyword = "keyword"
	TriggerIdle    = "idle"
	TriggerRandom  = "random"
)

// Expression is one facial expression the mascot can play.
type Expression struct {
	Name    string `json:"name"`
	Trigger string `json:"trigger"`
	Keyword string `json:"keyword,omitempty"`
	Weight  int    `json:"weight"`
}

// ExpressionSettings configures where expressions live and when they play.
type ExpressionSettings struct {
	Directory           string       `json:"directory"`
	Entries             []Expression `json:"entries"`
	DefaultExpression   string       `json:"defaultExpression"`
	IdleIntervalSeconds int          `json:"idleIntervalSeconds"`
}

// Section implements SectionData.
func (ExpressionSettings) Section() Section { return SectionExpressions }

// DisplaySettings controls monitor placement and rendering.
type DisplaySettings struct {
	Monitor        int     `json:"monitor"`
	Scale          float64 `json:"scale"`
	FrameRateLimit int     `json:"frameRateLimit"`
	VSync          bool    `json:"vsync"`
	Opacity        float64 `json:"opacity"`
}

// Section implements SectionData.
func (DisplaySettings) Section() Section { return SectionDisplay }

// Settings aggregates every section. A nil field means the section is absent,
// which is how exports skip sections that were never loaded.
type Settings struct {
	Window      *WindowSettings     `json:"window,omitempty"`
	Chat        *ChatSettings       `json:"chat,omitempty"`
	Theme       *ThemeSettings      `json:"theme,omitempty"`
	Expressions *ExpressionSettings `json:"expressions,omitempty"`
	Display     *DisplaySettings    `json:"display,omitempty"`
}

// Get returns the data stored for section, or nil.
func (s Settings) Get(section Section) SectionData {
	switch section {
	case SectionWindow:
		if s.Window != nil {
			return *s.Window
		}
	case SectionChat:
		if s.Chat != nil {
			return *s.Chat
		}
	case SectionTheme:
		if s.Theme != nil {
			return *s.Theme
		}
	case SectionExpressions:
		if s.Expressions != nil {
			return *s.Expressions
		}
	case SectionDisplay:
		if s.Display != nil {
			return *s.Display
		}
	}
	return nil
}

// Put stores data under its own section. Unknown types are ignored.
func (s *Settings) Put(data SectionData) {
	switch v := cloneSectionData(data).(type) {
	case WindowSettings:
		s.Window = &v
	case ChatSettings:
		s.Chat = &v
	case ThemeSettings:
		s.Theme = &v
	case ExpressionSettings:
		s.Expressions = &v
	case DisplaySettings:
		s.Display = &v
	}
}

// Sections lists the sections present in s, in declaration order.
func (s Settings) Sections() []Section {
	var out []Section
	for _, section := range AllSections() {
		if s.Get(section) != nil {
			out = append(out, section)
		}
	}
	return out
}

// DefaultSettings returns a fresh copy of the compiled-in defaults.
func DefaultSettings() Settings {
	var s Settings
	for _, section := range AllSections() {
		s.Put(DefaultSectionData(section))
	}
	return s
}

// DefaultSectionData returns the compiled-in default for section, or nil for
// an unknown section.
func DefaultSectionData(section Section) SectionData {
	switch section {
	case SectionWindow:
		return WindowSettings{
			Bounds:      WindowBounds{X: 100, Y: 100, Width: 800, Height: 600},
			ModelPath:   "models/default.vrm",
			AlwaysOnTop: true,
			Transparent: true,
			Camera: CameraSettings{
				Position:    Vector3{X: 0, Y: 1.4, Z: 2.5},
				Target:      Vector3{X: 0, Y: 1.2, Z: 0},
				Distance:    2.5,
				FieldOfView: 30,
			},
		}
	case SectionChat:
		return ChatSettings{
			UserName:     "User",
			MascotName:   "Mascot",
			SystemPrompt: "You are a friendly desktop companion.",
			Visible:      true,
			APIKey:       "",
			Temperature:  0.7,
			MaxHistory:   50,
		}
	case SectionTheme:
		return ThemeSettings{
			Current:     "default",
			Available:   []string{"default", "dark", "light"},
			AccentColor: "#4F8EF7",
			FontScale:   1.0,
		}
	case SectionExpressions:
		return ExpressionSettings{
			Directory: "expressions",
			Entries: []Expression{
				{Name: "neutral", Trigger: TriggerIdle, Weight: 50},
				{Name: "happy", Trigger: TriggerKeyword, Keyword: "thanks", Weight: 30},
				{Name: "surprised", Trigger: TriggerRandom, Weight: 20},
			},
			DefaultExpression:   "neutral",
			IdleIntervalSeconds: 30,
		}
	case SectionDisplay:
		return DisplaySettings{
			Monitor:        0,
			Scale:          1.0,
			FrameRateLimit: 60,
			VSync:          true,
			Opacity:        1.0,
		}
	}
	return nil
}

// cloneSectionData deep-copies the slices held by data.
func cloneSectionData(data SectionData) SectionData {
	switch v := data.(type) {
	case ThemeSettings:
		v.Available = cloneSlice(v.Available)
		return v
	case ExpressionSettings:
		v.Entries = cloneSlice(v.Entries)
		return v
	}
	return data
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}
