// facades.go: Ready-made bindings for common use cases
//
// LightSettings is the read-mostly binding for components that only show a
// value. TrackedSettings adds a lifecycle and per-section performance data.
// SettingsManager works across every section, for settings windows and
// application startup.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"context"
	"time"
)

// LightSettings is a typed binding with no lifecycle.
type LightSettings[T SectionData] struct {
	accessor *Accessor[T]
}

// NewLightSettings binds T's section and initializes it.
func NewLightSettings[T SectionData](ctx context.Context, store *Store) *LightSettings[T] {
	return &LightSettings[T]{accessor: NewAccessor[T](ctx, store)}
}

// Data returns the current section value.
func (l *LightSettings[T]) Data() (T, bool) { return l.accessor.Data() }

// IsReady reports whether the section is loaded and error free.
func (l *LightSettings[T]) IsReady() bool { return l.accessor.IsReady() }

// Update validates and saves data.
func (l *LightSettings[T]) Update(ctx context.Context, data T) error {
	return l.accessor.UpdateSettings(ctx, data)
}

// Subscribe calls fn with every committed value.
func (l *LightSettings[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	return l.accessor.Subscribe(fn)
}

// TrackedSettings is an accessor with its own lifecycle and access to the
// tracker data of its section.
type TrackedSettings[T SectionData] struct {
	*Accessor[T]
	lifecycle *Lifecycle
	name      string
}

// NewTrackedSettings binds T's section and initializes a lifecycle named
// name over it. The returned error is the load error, if any; the binding is
// usable either way.
func NewTrackedSettings[T SectionData](ctx context.Context, store *Store, name string, opts ...LifecycleOption) (*TrackedSettings[T], error) {
	t := &TrackedSettings[T]{
		Accessor:  NewAccessor[T](ctx, store),
		lifecycle: NewLifecycle(store, opts...),
		name:      name,
	}
	err := t.lifecycle.Initialize(ctx, name, t.Section())
	return t, err
}

// Lifecycle returns the lifecycle owning this binding's resources.
func (t *TrackedSettings[T]) Lifecycle() *Lifecycle { return t.lifecycle }

// Metrics returns the tracker aggregates of the section.
func (t *TrackedSettings[T]) Metrics() SectionMetrics {
	return t.Store().Tracker().SectionMetrics(t.Section())
}

// Health returns the section health score in [0,100].
func (t *TrackedSettings[T]) Health() float64 {
	return t.Metrics().Health
}

// RecentErrors returns up to n of the latest history records of the
// section, oldest first. n <= 0 returns all of them.
func (t *TrackedSettings[T]) RecentErrors(n int) []ErrorRecord {
	var out []ErrorRecord
	for _, rec := range t.Store().GetErrorHistory() {
		if rec.Section == t.Section() {
			out = append(out, rec)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Measure times fn as an operation of the section. A returned error is
// recorded by the tracker and handed back unchanged.
func (t *TrackedSettings[T]) Measure(ctx context.Context, name string, fn func(context.Context) error) error {
	tracker := t.Store().Tracker()
	id := tracker.Start(name, t.Section())
	err := fn(ctx)
	tracker.End(id)
	if err != nil {
		tracker.RecordError(t.Section(), err, name)
	}
	return err
}

// Dispose releases the lifecycle.
func (t *TrackedSettings[T]) Dispose() { t.lifecycle.Dispose() }

// BridgeWatcher is implemented by bridges that can notice external changes,
// such as FileBridge.
type BridgeWatcher interface {
	Watch(interval time.Duration, onChange func()) (stop func())
}

// SectionReadiness is one entry of SettingsManager.Status.
type SectionReadiness struct {
	Ready bool
	Err   error
}

// SettingsManager drives every section at once.
type SettingsManager struct {
	store     *Store
	lifecycle *Lifecycle
	name      string
}

// NewSettingsManager creates a manager over store; call Initialize to load.
func NewSettingsManager(store *Store, name string, opts ...LifecycleOption) *SettingsManager {
	return &SettingsManager{
		store:     store,
		lifecycle: NewLifecycle(store, opts...),
		name:      name,
	}
}

// Initialize loads every section.
func (m *SettingsManager) Initialize(ctx context.Context) error {
	return m.lifecycle.Initialize(ctx, m.name, AllSections()...)
}

// Lifecycle returns the manager's lifecycle.
func (m *SettingsManager) Lifecycle() *Lifecycle { return m.lifecycle }

// Status reports readiness and the last error of every section.
func (m *SettingsManager) Status() map[Section]SectionReadiness {
	out := make(map[Section]SectionReadiness, sectionCount)
	for _, section := range AllSections() {
		st := m.store.SectionStatus(section)
		out[section] = SectionReadiness{Ready: st.Ready(), Err: st.Err}
	}
	return out
}

// ResetAll writes the defaults of every section.
func (m *SettingsManager) ResetAll(ctx context.Context) error {
	return forEachSection(AllSections(), func(section Section) error {
		return m.store.ResetSettings(ctx, section)
	})
}

// Export returns every loaded section.
func (m *SettingsManager) Export() ExportPayload { return m.store.ExportSettings() }

// Import validates payload as a whole and applies it.
func (m *SettingsManager) Import(ctx context.Context, payload ExportPayload) error {
	return m.store.ImportSettings(ctx, payload)
}

// WatchBridge refreshes the initialized sections whenever watcher reports an
// external change. Watching stops on dispose or when stop is called.
func (m *SettingsManager) WatchBridge(watcher BridgeWatcher, interval time.Duration) (stop func()) {
	stop = releaseOnce(watcher.Watch(interval, func() {
		m.lifecycle.Go(func() error {
			return m.store.RefreshAll(context.Background())
		})
	}))
	m.lifecycle.RegisterDisposable(stop)
	return stop
}

// Dispose releases the lifecycle and waits for background refreshes.
func (m *SettingsManager) Dispose() {
	m.lifecycle.Dispose()
	m.lifecycle.Wait()
}
