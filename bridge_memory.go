// bridge_memory.go: In-process platform bridge
//
// MemoryBridge keeps values in a map. It backs tests and headless runs, and
// carries fault injection hooks for exercising partial failures.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agilira/go-errors"
)

// MemoryBridge is a thread-safe Bridge backed by a map.
type MemoryBridge struct {
	mu          sync.Mutex
	values      map[string]any
	getFaults   map[string]error
	setFaults   map[string]error
	rejections  map[string]string
	getCalls    map[string]int
	setCalls    map[string]int
	delay       time.Duration
	unreachable error
}

// NewMemoryBridge returns an empty bridge. Reads of keys that were never set
// fail with ErrCodeKeyNotFound.
func NewMemoryBridge() *MemoryBridge {
	return &MemoryBridge{
		values:     make(map[string]any),
		getFaults:  make(map[string]error),
		setFaults:  make(map[string]error),
		rejections: make(map[string]string),
		getCalls:   make(map[string]int),
		setCalls:   make(map[string]int),
	}
}

// NewSeededMemoryBridge returns a bridge holding every key of settings.
func NewSeededMemoryBridge(settings Settings) *MemoryBridge {
	m := NewMemoryBridge()
	m.SeedSettings(settings)
	return m
}

// SeedSettings stores the bridge keys of every section present in settings.
// Call counters are not affected.
func (m *MemoryBridge) SeedSettings(settings Settings) {
	for _, section := range settings.Sections() {
		def, _ := lookupSection(section)
		data := settings.Get(section)
		for _, b := range def.bindings() {
			if v, err := def.extract(data, b.Key); err == nil && b.Readable {
				m.Put(b.Key, v)
			}
		}
	}
}

// Put stores a raw value without counting a call.
func (m *MemoryBridge) Put(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Value returns the stored value for key.
func (m *MemoryBridge) Value(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// FailGet makes reads of key fail with err. A nil err clears the fault.
func (m *MemoryBridge) FailGet(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.getFaults, key)
		return
	}
	m.getFaults[key] = err
}

// FailSet makes writes of key fail with err. A nil err clears the fault.
func (m *MemoryBridge) FailSet(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.setFaults, key)
		return
	}
	m.setFaults[key] = err
}

// RejectSet makes writes of key return an unsuccessful SetResult carrying
// msg. An empty msg clears the rejection.
func (m *MemoryBridge) RejectSet(key, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg == "" {
		delete(m.rejections, key)
		return
	}
	m.rejections[key] = msg
}

// SetDelay makes every call wait d before answering.
func (m *MemoryBridge) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetUnreachable makes Probe fail with err. A nil err makes the bridge
// reachable again.
func (m *MemoryBridge) SetUnreachable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = err
}

// GetCalls returns how many times key was read.
func (m *MemoryBridge) GetCalls(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls[key]
}

// SetCalls returns how many times key was written.
func (m *MemoryBridge) SetCalls(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCalls[key]
}

// TotalCalls returns the number of reads and writes across all keys.
func (m *MemoryBridge) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.getCalls {
		total += n
	}
	for _, n := range m.setCalls {
		total += n
	}
	return total
}

// Probe implements Prober.
func (m *MemoryBridge) Probe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unreachable
}

// Get implements Bridge.
func (m *MemoryBridge) Get(ctx context.Context, key string) (any, error) {
	m.mu.Lock()
	m.getCalls[key]++
	delay := m.delay
	m.mu.Unlock()

	if err := sleepContext(ctx, delay); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.getFaults[key]; ok {
		return nil, err
	}
	v, ok := m.values[key]
	if !ok {
		return nil, errors.New(ErrCodeKeyNotFound, fmt.Sprintf("key %q is not set", key))
	}
	return v, nil
}

// Set implements Bridge.
func (m *MemoryBridge) Set(ctx context.Context, key string, value any) (SetResult, error) {
	m.mu.Lock()
	m.setCalls[key]++
	delay := m.delay
	m.mu.Unlock()

	if err := sleepContext(ctx, delay); err != nil {
		return SetResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.setFaults[key]; ok {
		return SetResult{}, err
	}
	if msg, ok := m.rejections[key]; ok {
		return SetResult{Success: false, Error: msg}, nil
	}
	m.values[key] = value
	return SetResult{Success: true}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
