// patch.go: Single-field patches addressed by JSON path
//
// A patch converts the record to its JSON shape, replaces one value and
// decodes the result strictly back into the record type. Values given as
// strings (from a CLI or a text input) are converted to the kind of the
// value they replace.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
)

// pathSegment is one step of a field path: a map key or a list index.
type pathSegment struct {
	key   string
	index int
	isIdx bool
}

// parseFieldPath splits "entries[2].name" into entries, 2, name.
func parseFieldPath(path string) ([]pathSegment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(ErrCodeFieldPatchError, "empty field path")
	}

	var segments []pathSegment
	for _, part := range strings.Split(path, ".") {
		name := part
		var indexes []int
		for {
			open := strings.IndexByte(name, '[')
			if open < 0 {
				break
			}
			closing := strings.IndexByte(name[open:], ']')
			if closing < 0 {
				return nil, errors.New(ErrCodeFieldPatchError, fmt.Sprintf("unterminated index in %q", path))
			}
			idx, err := strconv.Atoi(name[open+1 : open+closing])
			if err != nil || idx < 0 {
				return nil, errors.New(ErrCodeFieldPatchError, fmt.Sprintf("invalid index in %q", path))
			}
			indexes = append(indexes, idx)
			rest := name[open+closing+1:]
			name = name[:open] + rest
			if rest != "" && !strings.HasPrefix(rest, "[") {
				return nil, errors.New(ErrCodeFieldPatchError, fmt.Sprintf("unexpected %q after index in %q", rest, path))
			}
		}
		if name == "" {
			return nil, errors.New(ErrCodeFieldPatchError, fmt.Sprintf("empty segment in %q", path))
		}
		segments = append(segments, pathSegment{key: name})
		for _, idx := range indexes {
			segments = append(segments, pathSegment{index: idx, isIdx: true})
		}
	}
	return segments, nil
}

// ApplyFieldPatch returns a copy of data with the field at path set to
// value. The result is not validated; unknown fields and type mismatches
// are reported with ErrCodeFieldPatchError.
func ApplyFieldPatch(data SectionData, path string, value any) (SectionData, error) {
	if data == nil {
		return nil, errors.New(ErrCodeFieldPatchError, "settings data is missing")
	}
	def, ok := lookupSection(data.Section())
	if !ok {
		return nil, ErrUnknownSection
	}
	segments, err := parseFieldPath(path)
	if err != nil {
		return nil, err
	}

	plain, err := toPlain(data)
	if err != nil {
		return nil, err
	}
	root, ok := plain.(map[string]any)
	if !ok {
		return nil, errors.New(ErrCodeFieldPatchError, fmt.Sprintf("%T is not a record", data))
	}

	if err := setPath(root, segments, value); err != nil {
		return nil, errors.Wrap(err, ErrCodeFieldPatchError, "cannot set "+path).
			WithContext("section", data.Section().String())
	}

	patched, err := def.decodeOverDefaults(root)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeFieldPatchError, "cannot set "+path).
			WithContext("section", data.Section().String())
	}
	return patched, nil
}

func setPath(node any, segments []pathSegment, value any) error {
	seg := segments[0]
	last := len(segments) == 1

	if seg.isIdx {
		list, ok := node.([]any)
		if !ok {
			return fmt.Errorf("index [%d] applied to a non-list value", seg.index)
		}
		if seg.index >= len(list) {
			return fmt.Errorf("index [%d] out of range (len %d)", seg.index, len(list))
		}
		if last {
			converted, err := convertLike(list[seg.index], value)
			if err != nil {
				return err
			}
			list[seg.index] = converted
			return nil
		}
		return setPath(list[seg.index], segments[1:], value)
	}

	obj, ok := node.(map[string]any)
	if !ok {
		return fmt.Errorf("field %q applied to a non-record value", seg.key)
	}
	if last {
		converted, err := convertLike(obj[seg.key], value)
		if err != nil {
			return err
		}
		obj[seg.key] = converted
		return nil
	}
	child, exists := obj[seg.key]
	if !exists {
		return fmt.Errorf("unknown field %q", seg.key)
	}
	return setPath(child, segments[1:], value)
}

// convertLike converts value to the JSON kind of current. Non-string
// values pass through; the strict decode catches mismatches.
func convertLike(current, value any) (any, error) {
	s, isString := value.(string)
	if !isString {
		return toPlain(value)
	}

	switch current.(type) {
	case float64:
		return toFloat64(s)
	case bool:
		return toBool(s)
	case []any, map[string]any:
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("expected a JSON value: %w", err)
		}
		return out, nil
	default:
		return toString(s), nil
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", value)
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}
