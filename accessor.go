// accessor.go: Typed per-section view of a Store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import "context"

// Accessor is a typed handle on one section of a Store. The section is
// derived from T, so Accessor[ChatSettings] always addresses "chat".
type Accessor[T SectionData] struct {
	store   *Store
	section Section
}

// NewAccessor binds T's section of store and loads it if it has never been
// initialized and no load is running. A failed load is visible through Err;
// the section then holds its defaults.
func NewAccessor[T SectionData](ctx context.Context, store *Store) *Accessor[T] {
	var zero T
	a := &Accessor[T]{store: store, section: zero.Section()}
	_ = store.InitializeSection(ctx, a.section)
	return a
}

// Section returns the section addressed by a.
func (a *Accessor[T]) Section() Section { return a.section }

// Store returns the underlying store.
func (a *Accessor[T]) Store() *Store { return a.store }

// Data returns a copy of the current data. ok is false before the first load.
func (a *Accessor[T]) Data() (data T, ok bool) {
	raw, found := a.store.Get(a.section)
	if !found {
		return data, false
	}
	data, ok = raw.(T)
	return data, ok
}

// IsLoading reports whether a load or save is in flight.
func (a *Accessor[T]) IsLoading() bool { return a.store.SectionStatus(a.section).Loading }

// IsInitialized reports whether the section has completed a load.
func (a *Accessor[T]) IsInitialized() bool { return a.store.SectionStatus(a.section).Initialized }

// Err returns the error of the last failed operation, if any.
func (a *Accessor[T]) Err() error { return a.store.SectionStatus(a.section).Err }

// ValidationErrors returns the violations of the last rejected update.
func (a *Accessor[T]) ValidationErrors() []ValidationError {
	return a.store.SectionStatus(a.section).Validation
}

// LoadSettings reloads the section from the bridge.
func (a *Accessor[T]) LoadSettings(ctx context.Context) error {
	return a.store.LoadSettings(ctx, a.section)
}

// UpdateSettings validates data and writes it through the store.
func (a *Accessor[T]) UpdateSettings(ctx context.Context, data T) error {
	return a.store.UpdateSettings(ctx, a.section, data)
}

// ResetSettings writes the section defaults.
func (a *Accessor[T]) ResetSettings(ctx context.Context) error {
	return a.store.ResetSettings(ctx, a.section)
}

// RefreshSettings clears the error and reloads.
func (a *Accessor[T]) RefreshSettings(ctx context.Context) error {
	return a.store.RefreshSettings(ctx, a.section)
}

// ValidateData validates data without storing anything.
func (a *Accessor[T]) ValidateData(data T) []ValidationError {
	return Validate(a.section, data)
}

// ClearValidationErrors drops the violations of the last rejected update.
func (a *Accessor[T]) ClearValidationErrors() {
	a.store.ClearValidationErrors(a.section)
}

// HasUnsavedChanges reports whether the last update was rejected and its
// violations are still outstanding.
func (a *Accessor[T]) HasUnsavedChanges() bool {
	return len(a.store.SectionStatus(a.section).Validation) > 0
}

// IsReady reports whether the section is initialized, idle and error free.
func (a *Accessor[T]) IsReady() bool {
	return a.store.SectionStatus(a.section).Ready()
}

// Subscribe calls fn with every committed value of the section.
func (a *Accessor[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	return a.store.SubscribeSection(a.section, func(data SectionData) {
		if typed, ok := data.(T); ok {
			fn(typed)
		}
	})
}
