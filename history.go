// history.go: Bounded error history
//
// A fixed-capacity ring of error records. Pushing into a full ring overwrites
// the oldest slot, so push and evict are both O(1) and the ring never grows.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"sync"
	"time"
)

// DefaultErrorHistoryCapacity is the number of records kept when
// Config.ErrorHistoryCapacity is not set.
const DefaultErrorHistoryCapacity = 100

// ErrorRecord is one entry of the error history.
type ErrorRecord struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Section   Section   `json:"section"`
}

// errorRing is a mutex-guarded circular buffer of ErrorRecord.
type errorRing struct {
	mu       sync.Mutex
	slots    []ErrorRecord
	head     int // next slot to write
	size     int
	capacity int
	evicted  int64
}

func newErrorRing(capacity int) *errorRing {
	if capacity <= 0 {
		capacity = DefaultErrorHistoryCapacity
	}
	return &errorRing{
		slots:    make([]ErrorRecord, capacity),
		capacity: capacity,
	}
}

// Push appends rec, evicting the oldest record when the ring is full.
func (r *errorRing) Push(rec ErrorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots[r.head] = rec
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	} else {
		r.evicted++
	}
}

// Snapshot returns the retained records, oldest first.
func (r *errorRing) Snapshot() []ErrorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ErrorRecord, 0, r.size)
	start := (r.head - r.size + r.capacity) % r.capacity
	for i := 0; i < r.size; i++ {
		out = append(out, r.slots[(start+i)%r.capacity])
	}
	return out
}

// Len returns the number of retained records.
func (r *errorRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Evicted returns how many records were overwritten since the last Clear.
func (r *errorRing) Evicted() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

// Clear drops every record.
func (r *errorRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		r.slots[i] = ErrorRecord{}
	}
	r.head, r.size, r.evicted = 0, 0, 0
}
