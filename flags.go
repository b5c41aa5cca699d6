// flags.go: Command-line configuration for Themis binaries
//
// ConfigFlags layers command-line flags (parsed with flash-flags) over the
// file and environment sources of LoadConfigMultiSource. Only flags that
// appear on the command line override those sources.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"fmt"
	"strings"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
)

// ErrHelpRequested is returned by ConfigFlags.Parse for -h and --help.
var ErrHelpRequested = errors.New(ErrCodeInvalidConfig, "help requested")

// Flag names understood by ConfigFlags.
const (
	FlagConfig          = "config"
	FlagSlowThreshold   = "slow-threshold"
	FlagHistoryCapacity = "history-capacity"
	FlagBridgeTimeout   = "bridge-timeout"
	FlagSettleDelay     = "settle-delay"
	FlagAutoSaveDelay   = "autosave-delay"
	FlagAuditFile       = "audit-file"
	FlagAuditLevel      = "audit-level"
	FlagNoAudit         = "no-audit"
	FlagAppVersion      = "app-version"
)

// ConfigFlags is the global flag set of a Themis binary.
type ConfigFlags struct {
	flags *flashflags.FlagSet
	names map[string]bool
}

// NewConfigFlags registers the configuration flags.
func NewConfigFlags(appName string) *ConfigFlags {
	fs := flashflags.New(appName)
	fs.SetDescription("Settings store for desktop applications")

	fs.String(FlagConfig, "", "Configuration file (JSON, YAML or TOML)")
	fs.Duration(FlagSlowThreshold, 0, "Report operations slower than this")
	fs.Int(FlagHistoryCapacity, 0, "Number of errors kept in history")
	fs.Duration(FlagBridgeTimeout, 0, "Timeout of each platform bridge call")
	fs.Duration(FlagSettleDelay, 0, "Pause between dispose and re-initialize on reset")
	fs.Duration(FlagAutoSaveDelay, 0, "Quiet period before a dirty form is saved")
	fs.String(FlagAuditFile, "", "Audit output file (.db or .jsonl)")
	fs.String(FlagAuditLevel, "", "Minimum audit level (info, warn, critical, security)")
	fs.Bool(FlagNoAudit, false, "Disable the audit trail")
	fs.String(FlagAppVersion, "", "Application version stamped on exports")

	cf := &ConfigFlags{flags: fs, names: make(map[string]bool)}
	fs.VisitAll(func(flag *flashflags.Flag) {
		cf.names[flag.Name()] = true
	})
	return cf
}

// SetVersion sets the version shown in help output.
func (cf *ConfigFlags) SetVersion(version string) *ConfigFlags {
	cf.flags.SetVersion(version)
	return cf
}

// Knows reports whether arg names one of the registered flags, as
// "--name" or "--name=value".
func (cf *ConfigFlags) Knows(arg string) bool {
	name, ok := flagName(arg)
	return ok && cf.names[name]
}

// TakesValue reports whether the flag named by arg consumes the next
// argument when given without "=".
func (cf *ConfigFlags) TakesValue(arg string) bool {
	name, ok := flagName(arg)
	return ok && cf.names[name] && name != FlagNoAudit && !strings.Contains(arg, "=")
}

// Parse builds a Config from defaults, the --config file, THEMIS_*
// variables and finally the flags present in args.
func (cf *ConfigFlags) Parse(args []string) (*Config, error) {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return nil, ErrHelpRequested
		}
	}
	if err := cf.flags.Parse(args); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse command-line flags")
	}

	config, err := LoadConfigMultiSource(cf.flags.GetString(FlagConfig))
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	for _, arg := range args {
		if name, ok := flagName(arg); ok {
			set[name] = true
		}
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{FlagSlowThreshold, &config.SlowOperationThreshold},
		{FlagBridgeTimeout, &config.BridgeTimeout},
		{FlagSettleDelay, &config.SettleDelay},
		{FlagAutoSaveDelay, &config.AutoSaveDelay},
	}
	for _, d := range durations {
		if set[d.name] {
			*d.dst = cf.flags.GetDuration(d.name)
		}
	}

	if set[FlagHistoryCapacity] {
		config.ErrorHistoryCapacity = cf.flags.GetInt(FlagHistoryCapacity)
	}
	if set[FlagAppVersion] {
		config.AppVersion = cf.flags.GetString(FlagAppVersion)
	}
	if set[FlagAuditFile] {
		config.Audit.OutputFile = cf.flags.GetString(FlagAuditFile)
		config.Audit.Enabled = true
	}
	if set[FlagAuditLevel] {
		level, err := ParseAuditLevel(cf.flags.GetString(FlagAuditLevel))
		if err != nil {
			return nil, err
		}
		config.Audit.MinLevel = level
	}
	if set[FlagNoAudit] && cf.flags.GetBool(FlagNoAudit) {
		config.Audit.Enabled = false
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// PrintUsage prints help for every flag.
func (cf *ConfigFlags) PrintUsage() {
	cf.flags.PrintHelp()
}

// Usage lists the flags as "--name" strings.
func (cf *ConfigFlags) Usage() []string {
	var out []string
	cf.flags.VisitAll(func(flag *flashflags.Flag) {
		out = append(out, fmt.Sprintf("--%s", flag.Name()))
	})
	return out
}

// ParseConfigFlags is NewConfigFlags("themis").Parse(args).
func ParseConfigFlags(args []string) (*Config, error) {
	return NewConfigFlags("themis").Parse(args)
}

func flagName(arg string) (string, bool) {
	if !strings.HasPrefix(arg, "--") || len(arg) == 2 {
		return "", false
	}
	name := strings.TrimPrefix(arg, "--")
	if i := strings.IndexByte(name, '='); i >= 0 {
		name = name[:i]
	}
	return name, name != ""
}
