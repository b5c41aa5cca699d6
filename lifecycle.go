// lifecycle.go: Component lifecycle and resource registry
//
// A Lifecycle ties the settings a component uses to the resources it
// creates while mounted: timers, intervals, listeners and arbitrary
// disposables. Everything registered is released exactly once when the
// lifecycle is disposed, in reverse order of registration.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
)

// EventSource is anything listeners can be attached to. *Store implements it.
type EventSource interface {
	AddListener(event string, handler func(any)) (remove func())
}

// LifecycleState is a snapshot of a Lifecycle.
type LifecycleState struct {
	IsInitialized      bool
	IsDisposed         bool
	HasError           bool
	LastError          error
	MountTime          time.Time
	InitializationTime time.Duration
}

// ErrorContext describes where an error handed to HandleError came from.
type ErrorContext struct {
	Section    Section
	HasSection bool
	Operation  string
}

// SectionError returns an ErrorContext scoped to section.
func SectionError(section Section, operation string) ErrorContext {
	return ErrorContext{Section: section, HasSection: true, Operation: operation}
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithWarningHandler receives lifecycle misuse warnings. They are also
// written to the audit trail.
func WithWarningHandler(h func(error)) LifecycleOption {
	return func(l *Lifecycle) { l.onWarn = h }
}

// WithSettleDelay overrides Config.SettleDelay for Reset.
func WithSettleDelay(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d >= 0 {
			l.settle = d
		}
	}
}

// Lifecycle coordinates initialization, error handling and cleanup for one
// component.
type Lifecycle struct {
	store  *Store
	settle time.Duration
	onWarn func(error)

	initializing atomic.Bool
	background   sync.WaitGroup

	mu        sync.Mutex
	name      string
	sections  []Section
	registry  *resourceRegistry
	state     LifecycleState
	hubID     uint64
	hubActive bool
}

// NewLifecycle creates a lifecycle over store. MountTime is set now.
func NewLifecycle(store *Store, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		store:    store,
		settle:   store.Config().SettleDelay,
		registry: newResourceRegistry(),
	}
	l.state.MountTime = time.Now()
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the name given to the last Initialize.
func (l *Lifecycle) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.name
}

// Sections returns the sections given to the last Initialize.
func (l *Lifecycle) Sections() []Section {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneSlice(l.sections)
}

// Initialize loads sections (all of them when none are given) and installs
// the uncaught-error handler. A call made while another Initialize is
// running is a misuse: it is reported as a warning and returns nil.
// The first load error is recorded in the state and returned.
func (l *Lifecycle) Initialize(ctx context.Context, name string, sections ...Section) error {
	if !l.initializing.CompareAndSwap(false, true) {
		l.warn("Initialize called while initialization is in progress", map[string]any{"name": name})
		return nil
	}
	defer l.initializing.Store(false)

	if len(sections) == 0 {
		sections = AllSections()
	}
	start := time.Now()

	l.mu.Lock()
	l.name = name
	l.sections = cloneSlice(sections)
	if l.registry.isDrained() {
		l.registry = newResourceRegistry()
	}
	l.state.IsDisposed = false
	l.mu.Unlock()

	err := forEachSection(sections, func(section Section) error {
		return l.store.InitializeSection(ctx, section)
	})

	l.installHub()

	l.mu.Lock()
	l.state.IsInitialized = true
	l.state.InitializationTime = time.Since(start)
	if err != nil {
		l.state.HasError = true
		l.state.LastError = err
	}
	l.mu.Unlock()
	return err
}

// Dispose releases every registered resource and removes the
// uncaught-error handler. A second call is reported as a misuse warning.
func (l *Lifecycle) Dispose() {
	l.mu.Lock()
	if l.state.IsDisposed {
		name := l.name
		l.mu.Unlock()
		l.warn("Dispose called on a disposed lifecycle", map[string]any{"name": name})
		return
	}
	l.state.IsDisposed = true
	l.state.IsInitialized = false
	registry := l.registry
	l.mu.Unlock()

	l.removeHub()
	registry.drain()
}

// Reset disposes, waits for the settle delay, then initializes again with
// the same name and sections after refreshing them in the store.
func (l *Lifecycle) Reset(ctx context.Context) error {
	l.mu.Lock()
	disposed := l.state.IsDisposed
	l.mu.Unlock()
	if !disposed {
		l.Dispose()
	}

	if l.settle > 0 {
		timer := time.NewTimer(l.settle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	l.mu.Lock()
	l.registry = newResourceRegistry()
	l.state.HasError = false
	l.state.LastError = nil
	name, sections := l.name, cloneSlice(l.sections)
	l.mu.Unlock()

	if len(sections) == 0 {
		sections = AllSections()
	}
	refreshErr := forEachSection(sections, func(section Section) error {
		return l.store.RefreshSettings(ctx, section)
	})
	if err := l.Initialize(ctx, name, sections...); err != nil {
		return err
	}
	if refreshErr != nil {
		l.mu.Lock()
		l.state.HasError = true
		l.state.LastError = refreshErr
		l.mu.Unlock()
	}
	return refreshErr
}

// State returns a snapshot of the lifecycle state.
func (l *Lifecycle) State() LifecycleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsReady reports whether the lifecycle is initialized, not disposed, has
// no error and is not initializing.
func (l *Lifecycle) IsReady() bool {
	if l.initializing.Load() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.IsInitialized && !l.state.IsDisposed && !l.state.HasError
}

// HandleError records err as the last error. When ectx names a section the
// error is also recorded by the store against that section.
func (l *Lifecycle) HandleError(err error, ectx ErrorContext) {
	if err == nil {
		return
	}
	l.mu.Lock()
	l.state.HasError = true
	l.state.LastError = err
	l.mu.Unlock()

	if ectx.HasSection {
		l.store.HandleSectionError(ectx.Section, err, ectx.Operation)
	}
}

// ClearError clears the last error.
func (l *Lifecycle) ClearError() {
	l.mu.Lock()
	l.state.HasError = false
	l.state.LastError = nil
	l.mu.Unlock()
}

// Go runs fn in the background. Its error, or a panic, goes to HandleError.
func (l *Lifecycle) Go(fn func() error) {
	l.background.Add(1)
	go func() {
		defer l.background.Done()
		defer func() {
			if r := recover(); r != nil {
				l.HandleError(errors.New(ErrCodeUncaught, fmt.Sprintf("background task panicked: %v", r)),
					ErrorContext{Operation: "background"})
			}
		}()
		if err := fn(); err != nil {
			l.HandleError(err, ErrorContext{Operation: "background"})
		}
	}()
}

// Wait blocks until every function started with Go has returned.
func (l *Lifecycle) Wait() { l.background.Wait() }

// Schedule returns an unarmed one-shot task that runs fn d after each
// Reschedule. The task is cancelled when the lifecycle is disposed.
func (l *Lifecycle) Schedule(d time.Duration, fn func()) *ScheduledTask {
	task := newScheduledTask(d, false, fn, l.taskPanicked)
	l.register("scheduled task", task.Cancel)
	return task
}

// RegisterTimer runs fn once after d unless the lifecycle is disposed first.
func (l *Lifecycle) RegisterTimer(d time.Duration, fn func()) *ScheduledTask {
	task := l.Schedule(d, fn)
	task.Reschedule()
	return task
}

// RegisterInterval runs fn every d until the task is cancelled or the
// lifecycle is disposed.
func (l *Lifecycle) RegisterInterval(d time.Duration, fn func()) *ScheduledTask {
	task := newScheduledTask(d, true, fn, l.taskPanicked)
	if l.register("interval", task.Cancel) {
		task.Reschedule()
	}
	return task
}

// AddListenerWithCleanup attaches handler to source and detaches it on
// dispose. The returned function detaches it early.
func (l *Lifecycle) AddListenerWithCleanup(source EventSource, event string, handler func(any)) (remove func()) {
	detach := releaseOnce(source.AddListener(event, handler))
	l.register("listener", detach)
	return detach
}

// RegisterDisposable runs fn on dispose.
func (l *Lifecycle) RegisterDisposable(fn func()) {
	l.register("disposable", releaseOnce(fn))
}

// register adds release to the registry. After the drain the item is
// released at once and a misuse warning is raised.
func (l *Lifecycle) register(kind string, release func()) bool {
	l.mu.Lock()
	registry := l.registry
	name := l.name
	l.mu.Unlock()

	if registry.add(release) {
		return true
	}
	safeRelease(release)
	l.warn(kind+" registered after dispose", map[string]any{"name": name})
	return false
}

func (l *Lifecycle) taskPanicked(r any) {
	l.HandleError(errors.New(ErrCodeUncaught, fmt.Sprintf("scheduled task panicked: %v", r)),
		ErrorContext{Operation: "timer"})
}

func (l *Lifecycle) warn(message string, fields map[string]any) {
	err := errors.New(ErrCodeLifecycleMisuse, message)
	l.store.Audit().LogWarning("lifecycle", EventLifecycleMisuse, message, fields)
	if l.onWarn != nil {
		l.onWarn(err)
	}
}

func (l *Lifecycle) installHub() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hubActive {
		return
	}
	l.hubID = uncaught.install(func(err error) {
		l.store.Audit().LogWarning("lifecycle", EventUncaughtError, err.Error(), map[string]any{"name": l.Name()})
		l.HandleError(err, ErrorContext{Operation: "uncaught"})
	})
	l.hubActive = true
}

func (l *Lifecycle) removeHub() {
	l.mu.Lock()
	id, active := l.hubID, l.hubActive
	l.hubActive = false
	l.mu.Unlock()
	if active {
		uncaught.remove(id)
	}
}

// resourceRegistry holds release functions until drained.
type resourceRegistry struct {
	mu      sync.Mutex
	items   []func()
	drained bool
}

func newResourceRegistry() *resourceRegistry {
	return &resourceRegistry{}
}

func (r *resourceRegistry) add(release func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drained {
		return false
	}
	r.items = append(r.items, release)
	return true
}

func (r *resourceRegistry) isDrained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drained
}

// drain releases every item, last registered first. Only the first call
// does anything.
func (r *resourceRegistry) drain() {
	r.mu.Lock()
	if r.drained {
		r.mu.Unlock()
		return
	}
	r.drained = true
	items := r.items
	r.items = nil
	r.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		safeRelease(items[i])
	}
}

func safeRelease(release func()) {
	defer func() { _ = recover() }()
	release()
}

func releaseOnce(fn func()) func() {
	var o sync.Once
	return func() { o.Do(fn) }
}

// ScheduledTask is a cancellable timer. Reschedule replaces any pending run,
// so at most one run is ever pending.
type ScheduledTask struct {
	delay   time.Duration
	repeat  bool
	fn      func()
	onPanic func(any)

	mu        sync.Mutex
	timer     *time.Timer
	gen       uint64
	pending   bool
	cancelled bool
}

func newScheduledTask(d time.Duration, repeat bool, fn func(), onPanic func(any)) *ScheduledTask {
	return &ScheduledTask{delay: d, repeat: repeat, fn: fn, onPanic: onPanic}
}

// Reschedule arms the task d from now, dropping any pending run. It returns
// false once the task is cancelled.
func (t *ScheduledTask) Reschedule() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.armLocked()
	return true
}

func (t *ScheduledTask) armLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.pending = true
	t.timer = time.AfterFunc(t.delay, func() { t.fire(gen) })
}

func (t *ScheduledTask) fire(gen uint64) {
	t.mu.Lock()
	if t.cancelled || gen != t.gen {
		t.mu.Unlock()
		return
	}
	if t.repeat {
		t.armLocked()
	} else {
		t.pending = false
		t.timer = nil
	}
	t.mu.Unlock()

	defer func() {
		if r := recover(); r != nil && t.onPanic != nil {
			t.onPanic(r)
		}
	}()
	t.fn()
}

// Stop drops the pending run. The task can be rescheduled.
func (t *ScheduledTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
}

// Cancel drops the pending run and disables the task for good.
func (t *ScheduledTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	t.disarmLocked()
}

func (t *ScheduledTask) disarmLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.pending = false
}

// Pending reports whether a run is armed.
func (t *ScheduledTask) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Cancelled reports whether Cancel has been called.
func (t *ScheduledTask) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// uncaughtHub fans process-wide uncaught errors out to the installed
// lifecycle handlers.
type uncaughtHub struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[uint64]func(error)
}

var uncaught = &uncaughtHub{handlers: make(map[uint64]func(error))}

func (h *uncaughtHub) install(fn func(error)) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.handlers[h.next] = fn
	return h.next
}

func (h *uncaughtHub) remove(id uint64) {
	h.mu.Lock()
	delete(h.handlers, id)
	h.mu.Unlock()
}

// ReportUncaught hands err to every installed lifecycle handler. It reports
// whether at least one handler received it.
func ReportUncaught(err error) bool {
	if err == nil {
		return false
	}
	uncaught.mu.RLock()
	handlers := make([]func(error), 0, len(uncaught.handlers))
	for _, fn := range uncaught.handlers {
		handlers = append(handlers, fn)
	}
	uncaught.mu.RUnlock()

	for _, fn := range handlers {
		safeRelease(func() { fn(err) })
	}
	return len(handlers) > 0
}
