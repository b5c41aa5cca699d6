// bridge.go: Platform bridge contract and adapter
//
// The platform bridge is the privileged process that owns persisted
// preferences. The adapter splits each section record into the bridge keys
// declared in the section table, issues the constituent calls concurrently
// under a per-call timeout and reassembles the result.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
)

// DefaultBridgeTimeout bounds each constituent bridge call.
const DefaultBridgeTimeout = 10 * time.Second

// Bridge is the asynchronous get/set interface exposed by the platform.
// Implementations must be safe for concurrent use and should honour ctx.
type Bridge interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any) (SetResult, error)
}

// SetResult is the platform's answer to a write.
type SetResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Prober is implemented by bridges that can report whether they are reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Availability is the outcome of the one-time capability probe.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// LoadReport lists the keys that could not be read during a load. Their
// sub-fields kept the section defaults.
type LoadReport struct {
	Failed []string
	Errors map[string]error
}

// Partial reports whether some, but not all, reads failed.
func (r LoadReport) Partial() bool { return len(r.Failed) > 0 }

// SaveResult aggregates the outcome of every write of a section.
type SaveResult struct {
	Success  bool     `json:"success"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// BridgeAdapter composes section-level loads and saves from bridge calls.
type BridgeAdapter struct {
	bridge       Bridge
	timeout      time.Duration
	availability Availability
}

// NewBridgeAdapter probes bridge once and remembers the result.
// A nil bridge is valid and yields an unavailable adapter.
func NewBridgeAdapter(ctx context.Context, bridge Bridge, timeout time.Duration) *BridgeAdapter {
	if timeout <= 0 {
		timeout = DefaultBridgeTimeout
	}
	a := &BridgeAdapter{bridge: bridge, timeout: timeout}

	switch {
	case bridge == nil:
		a.availability = Availability{Reason: "no platform bridge configured"}
	default:
		a.availability = Availability{Available: true}
		if prober, ok := bridge.(Prober); ok {
			_, err := callWithTimeout(ctx, timeout, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, prober.Probe(ctx)
			})
			if err != nil {
				a.availability = Availability{Reason: err.Error()}
			}
		}
	}
	return a
}

// Availability returns the probe result.
func (a *BridgeAdapter) Availability() Availability { return a.availability }

// Timeout returns the per-call timeout.
func (a *BridgeAdapter) Timeout() time.Duration { return a.timeout }

// LoadSection reads every readable key of section and merges the values over
// the section defaults. Keys that fail keep their defaults and are listed in
// the report. When every key fails the load fails with ErrCodeBridgeRejected.
func (a *BridgeAdapter) LoadSection(ctx context.Context, section Section) (SectionData, LoadReport, error) {
	def, ok := lookupSection(section)
	if !ok {
		return nil, LoadReport{}, ErrUnknownSection
	}
	if !a.availability.Available {
		return nil, LoadReport{}, ErrBridgeUnavailable
	}

	var keys []string
	for _, b := range def.bindings() {
		if b.Readable {
			keys = append(keys, b.Key)
		}
	}

	values := make([]any, len(keys))
	errs := make([]error, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			values[i], errs[i] = callWithTimeout(ctx, a.timeout, func(ctx context.Context) (any, error) {
				return a.bridge.Get(ctx, key)
			})
		}(i, key)
	}
	wg.Wait()

	data := def.defaults()
	report := LoadReport{Errors: make(map[string]error)}
	for i, key := range keys {
		if errs[i] == nil {
			merged, err := def.merge(data, key, values[i])
			if err == nil {
				data = merged
				continue
			}
			errs[i] = err
		}
		report.Failed = append(report.Failed, key)
		report.Errors[key] = errs[i]
	}

	if len(keys) > 0 && len(report.Failed) == len(keys) {
		return nil, report, errors.Wrap(errs[0], ErrCodeBridgeRejected,
			fmt.Sprintf("every read failed for section %s", section)).WithContext("section", section.String())
	}
	return data, report, nil
}

// SaveSection writes every key of section. Success requires every critical
// write to succeed; failures of non-critical keys are returned as warnings.
// The returned error is non-nil exactly when Success is false.
func (a *BridgeAdapter) SaveSection(ctx context.Context, section Section, data SectionData) (SaveResult, error) {
	def, ok := lookupSection(section)
	if !ok {
		return SaveResult{}, ErrUnknownSection
	}
	if !a.availability.Available {
		return SaveResult{}, ErrBridgeUnavailable
	}

	bindings := def.bindings()
	payloads := make([]any, len(bindings))
	for i, b := range bindings {
		v, err := def.extract(data, b.Key)
		if err != nil {
			return SaveResult{}, err
		}
		payloads[i] = v
	}

	failures := make([]string, len(bindings))
	var wg sync.WaitGroup
	for i, b := range bindings {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			res, err := callWithTimeout(ctx, a.timeout, func(ctx context.Context) (SetResult, error) {
				return a.bridge.Set(ctx, key, payloads[i])
			})
			switch {
			case err != nil:
				failures[i] = err.Error()
			case !res.Success:
				failures[i] = res.Error
				if failures[i] == "" {
					failures[i] = "rejected by platform"
				}
			}
		}(i, b.Key)
	}
	wg.Wait()

	var critical []string
	result := SaveResult{}
	for i, b := range bindings {
		if failures[i] == "" {
			continue
		}
		msg := b.Key + ": " + failures[i]
		if b.Critical {
			critical = append(critical, msg)
		} else {
			result.Warnings = append(result.Warnings, msg)
		}
	}

	if len(critical) > 0 {
		result.Error = strings.Join(critical, "; ")
		return result, errors.New(ErrCodeBridgeRejected, result.Error).WithContext("section", section.String())
	}
	result.Success = true
	return result, nil
}

// callWithTimeout runs fn under a derived deadline. A bridge that ignores
// its context still cannot hold the caller past the deadline; its late
// result is dropped.
func callWithTimeout[R any](ctx context.Context, timeout time.Duration, fn func(context.Context) (R, error)) (R, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value R
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(cctx)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-cctx.Done():
		var zero R
		return zero, errors.Wrap(cctx.Err(), ErrCodeBridgeRejected, fmt.Sprintf("bridge call did not complete within %s", timeout))
	}
}
