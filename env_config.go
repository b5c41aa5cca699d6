// env_config.go: Environment and file sources for Themis configuration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// EnvConfig holds the configuration read from THEMIS_* variables. Pointer
// fields distinguish "unset" from a zero value.
type EnvConfig struct {
	AppVersion      string        `env:"THEMIS_APP_VERSION"`
	SlowThreshold   time.Duration `env:"THEMIS_SLOW_THRESHOLD"`
	HistoryCapacity int           `env:"THEMIS_HISTORY_CAPACITY"`
	BridgeTimeout   time.Duration `env:"THEMIS_BRIDGE_TIMEOUT"`
	SettleDelay     time.Duration `env:"THEMIS_SETTLE_DELAY"`
	AutoSaveDelay   time.Duration `env:"THEMIS_AUTOSAVE_DELAY"`

	AuditEnabled       *bool         `env:"THEMIS_AUDIT_ENABLED"`
	AuditOutputFile    string        `env:"THEMIS_AUDIT_OUTPUT_FILE"`
	AuditMinLevel      *AuditLevel   `env:"THEMIS_AUDIT_MIN_LEVEL"`
	AuditBufferSize    int           `env:"THEMIS_AUDIT_BUFFER_SIZE"`
	AuditFlushInterval time.Duration `env:"THEMIS_AUDIT_FLUSH_INTERVAL"`
}

// LoadConfigFromEnv returns DefaultConfig overlaid with THEMIS_* variables.
func LoadConfigFromEnv() (*Config, error) {
	envConfig := &EnvConfig{}
	if err := loadEnvVars(envConfig); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to load environment configuration")
	}

	config := DefaultConfig()
	envConfig.apply(config)
	return config.WithDefaults(), nil
}

// LoadConfigMultiSource loads configuration with precedence:
//  1. Environment variables (highest priority)
//  2. Configuration file (JSON, YAML or TOML), when configFile exists
//  3. Default values (lowest priority)
func LoadConfigMultiSource(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fc, err := loadConfigFile(configFile)
			if err != nil {
				return config, err
			}
			if err := fc.apply(config); err != nil {
				return config, err
			}
		}
	}

	envConfig := &EnvConfig{}
	if err := loadEnvVars(envConfig); err != nil {
		return config, errors.Wrap(err, ErrCodeInvalidConfig, "failed to load environment configuration")
	}
	envConfig.apply(config)

	return config.WithDefaults(), nil
}

// loadEnvVars loads environment variables in logical groups.
func loadEnvVars(envConfig *EnvConfig) error {
	if err := loadCoreConfig(envConfig); err != nil {
		return err
	}
	return loadAuditConfig(envConfig)
}

func loadCoreConfig(envConfig *EnvConfig) error {
	envConfig.AppVersion = os.Getenv("THEMIS_APP_VERSION")

	for _, d := range []struct {
		name string
		dst  *time.Duration
	}{
		{"THEMIS_SLOW_THRESHOLD", &envConfig.SlowThreshold},
		{"THEMIS_BRIDGE_TIMEOUT", &envConfig.BridgeTimeout},
		{"THEMIS_SETTLE_DELAY", &envConfig.SettleDelay},
		{"THEMIS_AUTOSAVE_DELAY", &envConfig.AutoSaveDelay},
	} {
		if raw := os.Getenv(d.name); raw != "" {
			duration, err := time.ParseDuration(raw)
			if err != nil {
				return errors.New(ErrCodeInvalidConfig, "invalid "+d.name+" format")
			}
			*d.dst = duration
		}
	}

	if raw := os.Getenv("THEMIS_HISTORY_CAPACITY"); raw != "" {
		capacity, err := strconv.Atoi(raw)
		if err != nil || capacity <= 0 {
			return errors.New(ErrCodeInvalidConfig, "invalid THEMIS_HISTORY_CAPACITY value")
		}
		envConfig.HistoryCapacity = capacity
	}
	return nil
}

func loadAuditConfig(envConfig *EnvConfig) error {
	if raw := os.Getenv("THEMIS_AUDIT_ENABLED"); raw != "" {
		enabled := parseBool(raw)
		envConfig.AuditEnabled = &enabled
	}

	envConfig.AuditOutputFile = os.Getenv("THEMIS_AUDIT_OUTPUT_FILE")

	if raw := os.Getenv("THEMIS_AUDIT_MIN_LEVEL"); raw != "" {
		level, err := ParseAuditLevel(raw)
		if err != nil {
			return err
		}
		envConfig.AuditMinLevel = &level
	}

	if raw := os.Getenv("THEMIS_AUDIT_BUFFER_SIZE"); raw != "" {
		if buffer, err := strconv.Atoi(raw); err == nil && buffer > 0 {
			envConfig.AuditBufferSize = buffer
		}
	}

	if raw := os.Getenv("THEMIS_AUDIT_FLUSH_INTERVAL"); raw != "" {
		if duration, err := time.ParseDuration(raw); err == nil {
			envConfig.AuditFlushInterval = duration
		}
	}
	return nil
}

// apply overrides the fields of config that are set in the environment.
func (e *EnvConfig) apply(config *Config) {
	if e.AppVersion != "" {
		config.AppVersion = e.AppVersion
	}
	if e.SlowThreshold > 0 {
		config.SlowOperationThreshold = e.SlowThreshold
	}
	if e.HistoryCapacity > 0 {
		config.ErrorHistoryCapacity = e.HistoryCapacity
	}
	if e.BridgeTimeout > 0 {
		config.BridgeTimeout = e.BridgeTimeout
	}
	if e.SettleDelay > 0 {
		config.SettleDelay = e.SettleDelay
	}
	if e.AutoSaveDelay > 0 {
		config.AutoSaveDelay = e.AutoSaveDelay
	}

	if e.AuditEnabled != nil {
		config.Audit.Enabled = *e.AuditEnabled
	}
	if e.AuditOutputFile != "" {
		config.Audit.OutputFile = e.AuditOutputFile
	}
	if e.AuditMinLevel != nil {
		config.Audit.MinLevel = *e.AuditMinLevel
	}
	if e.AuditBufferSize > 0 {
		config.Audit.BufferSize = e.AuditBufferSize
	}
	if e.AuditFlushInterval > 0 {
		config.Audit.FlushInterval = e.AuditFlushInterval
	}
}

// fileConfig is the on-disk shape of a configuration file. Durations are
// strings in time.ParseDuration syntax.
type fileConfig struct {
	AppVersion      string `json:"app_version"`
	Platform        string `json:"platform"`
	SlowThreshold   string `json:"slow_threshold"`
	HistoryCapacity int    `json:"history_capacity"`
	BridgeTimeout   string `json:"bridge_timeout"`
	SettleDelay     string `json:"settle_delay"`
	AutoSaveDelay   string `json:"autosave_delay"`
	Audit           struct {
		Enabled       *bool  `json:"enabled"`
		OutputFile    string `json:"output_file"`
		MinLevel      string `json:"min_level"`
		BufferSize    int    `json:"buffer_size"`
		FlushInterval string `json:"flush_interval"`
	} `json:"audit"`
}

func loadConfigFile(path string) (*fileConfig, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, errors.New(ErrCodeInvalidFormat, "unsupported configuration file format: "+path)
	}
	data, err := os.ReadFile(path) // #nosec G304 - path is supplied by the operator
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read config file '"+path+"'")
	}
	doc, err := decodeDocument(data, format)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse config file '"+path+"'")
	}
	fc, err := decodeValue[fileConfig](doc)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "config file has an unexpected shape")
	}
	return &fc, nil
}

func (fc *fileConfig) apply(config *Config) error {
	if fc.AppVersion != "" {
		config.AppVersion = fc.AppVersion
	}
	if fc.Platform != "" {
		config.Platform = fc.Platform
	}
	if fc.HistoryCapacity > 0 {
		config.ErrorHistoryCapacity = fc.HistoryCapacity
	}

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"slow_threshold", fc.SlowThreshold, &config.SlowOperationThreshold},
		{"bridge_timeout", fc.BridgeTimeout, &config.BridgeTimeout},
		{"settle_delay", fc.SettleDelay, &config.SettleDelay},
		{"autosave_delay", fc.AutoSaveDelay, &config.AutoSaveDelay},
		{"audit.flush_interval", fc.Audit.FlushInterval, &config.Audit.FlushInterval},
	} {
		if d.raw == "" {
			continue
		}
		duration, err := time.ParseDuration(d.raw)
		if err != nil {
			return errors.New(ErrCodeInvalidConfig, "invalid "+d.name+" in config file")
		}
		*d.dst = duration
	}

	if fc.Audit.Enabled != nil {
		config.Audit.Enabled = *fc.Audit.Enabled
	}
	if fc.Audit.OutputFile != "" {
		config.Audit.OutputFile = fc.Audit.OutputFile
	}
	if fc.Audit.MinLevel != "" {
		level, err := ParseAuditLevel(fc.Audit.MinLevel)
		if err != nil {
			return err
		}
		config.Audit.MinLevel = level
	}
	if fc.Audit.BufferSize > 0 {
		config.Audit.BufferSize = fc.Audit.BufferSize
	}
	return nil
}

// parseBool accepts true/false, 1/0, yes/no, on/off and enabled/disabled.
func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on", "enabled":
		return true
	default:
		return false
	}
}
