// Utility functions shared by the Themis command-line tools
//
// Argument splitting, duration parsing, output rendering and file checks.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// Error codes for CLI helpers
const (
	ErrCodeInvalidOutput = "THEMIS_CLI_INVALID_OUTPUT"
	ErrCodeNotWritable   = "THEMIS_CLI_NOT_WRITABLE"
)

// FlagSet is the part of a flag parser SplitArgs needs.
type FlagSet interface {
	Knows(arg string) bool
	TakesValue(arg string) bool
}

// SplitArgs separates the global flags known to flags from the command
// arguments, wherever they appear. "--" ends flag scanning.
func SplitArgs(args []string, flags FlagSet) (global, command []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			command = append(command, args[i+1:]...)
			break
		}
		if !flags.Knows(arg) {
			command = append(command, arg)
			continue
		}
		global = append(global, arg)
		if flags.TakesValue(arg) && i+1 < len(args) {
			global = append(global, args[i+1])
			i++
		}
	}
	return global, command
}

var extendedDuration = regexp.MustCompile(`^(\d+)(d|w)$`)

// ParseExtendedDuration parses Go durations plus days and weeks:
// "30s", "24h", "7d", "2w".
func ParseExtendedDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	matches := extendedDuration.FindStringSubmatch(s)
	if len(matches) != 3 {
		_, err := time.ParseDuration(s)
		return 0, err
	}

	value, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", matches[1])
	}
	switch matches[2] {
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	}
}

// Render writes v to w as indented JSON or YAML.
func Render(w io.Writer, v any, output string) error {
	switch strings.ToLower(output) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	case "yaml", "yml":
		// Through JSON first so the field names match the JSON tags.
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var plain any
		if err := json.Unmarshal(payload, &plain); err != nil {
			return err
		}
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(plain); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
		_, err = w.Write(buf.Bytes())
		return err
	default:
		return errors.New(ErrCodeInvalidOutput, fmt.Sprintf("unsupported output %q (json|yaml)", output))
	}
}

// CheckFileWriteable reports an error when path exists and cannot be
// written, or when its directory cannot be written.
func CheckFileWriteable(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return errors.New(ErrCodeNotWritable, path+" is a directory")
		}
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return errors.Wrap(err, ErrCodeNotWritable, "file is not writable")
		}
		return f.Close()
	}
	if !os.IsNotExist(err) {
		return errors.Wrap(err, ErrCodeNotWritable, "cannot stat "+path)
	}
	return CheckDirectoryWriteable(filepath.Dir(path))
}

// CheckDirectoryWriteable creates and removes a probe file in dir.
func CheckDirectoryWriteable(dir string) error {
	f, err := os.CreateTemp(dir, ".themis-write-check-*")
	if err != nil {
		return errors.Wrap(err, ErrCodeNotWritable, "directory is not writable")
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
