// format.go: Document formats for file bridges and settings exports
//
// Supported formats:
// - JSON (.json)
// - YAML (.yml, .yaml) via go.yaml.in/yaml/v3
// - TOML (.toml) via pelletier/go-toml/v2
//
// Every decoder normalizes its output to the shapes encoding/json produces
// (map[string]any, []any, float64, string, bool, nil), so documents from any
// format hash and decode the same way.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/pelletier/go-toml/v2"
	"go.yaml.in/yaml/v3"
)

// Format is a document encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
	FormatTOML
	FormatUnknown
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatYAML:
		return "YAML"
	case FormatTOML:
		return "TOML"
	default:
		return "Unknown"
	}
}

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatUnknown
	}
}

// ParseFormat accepts a format name such as "json" or "yml".
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	}
	return FormatUnknown, errors.New(ErrCodeInvalidFormat, fmt.Sprintf("unsupported format %q", name))
}

// encodeDocument serializes a JSON-shaped document.
func encodeDocument(doc map[string]any, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeSerializationError, "JSON marshal failed")
		}
		return append(data, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, errors.Wrap(err, ErrCodeSerializationError, "YAML marshal failed")
		}
		if err := enc.Close(); err != nil {
			return nil, errors.Wrap(err, ErrCodeSerializationError, "YAML marshal failed")
		}
		return buf.Bytes(), nil
	case FormatTOML:
		data, err := toml.Marshal(doc)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeSerializationError, "TOML marshal failed")
		}
		return data, nil
	default:
		return nil, errors.New(ErrCodeInvalidFormat, "unsupported format: "+format.String())
	}
}

// decodeDocument parses data into a JSON-shaped document. Empty input
// yields an empty document.
func decodeDocument(data []byte, format Format) (map[string]any, error) {
	doc := make(map[string]any)
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}

	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	default:
		return nil, errors.New(ErrCodeInvalidFormat, "unsupported format: "+format.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeSerializationError, format.String()+" parse failed")
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	return normalizeDocument(doc)
}

// normalizeDocument round-trips through encoding/json. YAML can produce
// map[any]any for non-string keys and TOML produces int64 and time values;
// after this step every format looks like JSON.
func normalizeDocument(doc map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeSerializationError, "document is not JSON compatible")
	}
	out := make(map[string]any)
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, errors.Wrap(err, ErrCodeSerializationError, "document is not JSON compatible")
	}
	return out, nil
}

// toPlain converts a typed value into its JSON-shaped equivalent.
func toPlain(v any) (any, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeSerializationError, "value is not JSON compatible")
	}
	var out any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, errors.Wrap(err, ErrCodeSerializationError, "value is not JSON compatible")
	}
	return out, nil
}
