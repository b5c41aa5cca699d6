// notify.go: Store subscriptions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"fmt"
	"sync"

	"github.com/agilira/go-errors"
)

// noSection marks notifications that are not tied to a single section,
// such as Dispose and Reset.
const noSection Section = -1

// StateListener receives the full state after every committed transition.
type StateListener func(StoreState)

// SectionListener receives the data of one section after it is committed.
type SectionListener func(SectionData)

type subscriberSet struct {
	mu      sync.Mutex
	next    uint64
	state   map[uint64]StateListener
	section map[Section]map[uint64]SectionListener
}

func (ss *subscriberSet) init() {
	ss.state = make(map[uint64]StateListener)
	ss.section = make(map[Section]map[uint64]SectionListener)
}

func (ss *subscriberSet) stateListeners() []StateListener {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if len(ss.state) == 0 {
		return nil
	}
	out := make([]StateListener, 0, len(ss.state))
	for _, fn := range ss.state {
		out = append(out, fn)
	}
	return out
}

func (ss *subscriberSet) sectionListeners(section Section) []SectionListener {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	listeners := ss.section[section]
	if len(listeners) == 0 {
		return nil
	}
	out := make([]SectionListener, 0, len(listeners))
	for _, fn := range listeners {
		out = append(out, fn)
	}
	return out
}

// Subscribe registers fn for every state transition, loading flags
// included. The returned function removes the subscription and may be
// called more than once.
func (s *Store) Subscribe(fn StateListener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.subs.mu.Lock()
	s.subs.next++
	id := s.subs.next
	s.subs.state[id] = fn
	s.subs.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subs.mu.Lock()
			delete(s.subs.state, id)
			s.subs.mu.Unlock()
		})
	}
}

// SubscribeSection registers fn for commits of section's data by a load or
// an update.
func (s *Store) SubscribeSection(section Section, fn SectionListener) (unsubscribe func()) {
	if fn == nil || !section.Valid() {
		return func() {}
	}
	s.subs.mu.Lock()
	s.subs.next++
	id := s.subs.next
	if s.subs.section[section] == nil {
		s.subs.section[section] = make(map[uint64]SectionListener)
	}
	s.subs.section[section][id] = fn
	s.subs.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subs.mu.Lock()
			delete(s.subs.section[section], id)
			s.subs.mu.Unlock()
		})
	}
}

// AddListener lets the store act as an EventSource. The event "*" delivers
// the StoreState; a section id such as "chat" delivers that section's data.
// Unknown events are never delivered.
func (s *Store) AddListener(event string, handler func(any)) (remove func()) {
	if handler == nil {
		return func() {}
	}
	if event == "*" {
		return s.Subscribe(func(st StoreState) { handler(st) })
	}
	section, err := ParseSection(event)
	if err != nil {
		s.audit.LogWarning("store", EventLifecycleMisuse, "listener for unknown event", map[string]any{"event": event})
		return func() {}
	}
	return s.SubscribeSection(section, func(data SectionData) { handler(data) })
}

func (s *Store) emitState(section Section) {
	listeners := s.subs.stateListeners()
	if len(listeners) == 0 {
		return
	}
	st := s.GetState()
	for _, fn := range listeners {
		s.safeCall(section, func() { fn(st) })
	}
}

func (s *Store) emitSection(section Section, data SectionData) {
	for _, fn := range s.subs.sectionListeners(section) {
		copied := cloneSectionData(data)
		s.safeCall(section, func() { fn(copied) })
	}
}

// safeCall runs a callback supplied by the application. A panic is turned
// into an uncaught error; if no lifecycle handler takes it, it is recorded
// against section.
func (s *Store) safeCall(section Section, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.New(ErrCodeUncaught, fmt.Sprintf("callback panicked: %v", r))
			if ReportUncaught(err) {
				return
			}
			if section.Valid() {
				s.tracker.RecordError(section, err, "callback")
				return
			}
			s.audit.LogWarning("store", EventUncaughtError, err.Error(), nil)
		}
	}()
	fn()
}
