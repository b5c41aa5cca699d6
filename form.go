// form.go: Draft editing with validation, submit and auto-save
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
)

// FormOptions configures a Form.
type FormOptions struct {
	// AutoSave submits a dirty draft AutoSaveDelay after the last edit.
	AutoSave bool
	// AutoSaveDelay defaults to Config.AutoSaveDelay.
	AutoSaveDelay time.Duration
	// KeepDirtyOnSubmit leaves the draft dirty after a successful submit.
	KeepDirtyOnSubmit bool
}

// FormStatus is a snapshot of a form.
type FormStatus struct {
	Dirty           bool
	Touched         map[string]bool
	Submitting      bool
	SubmitCount     int
	Errors          []ValidationError
	LastSubmitError error
}

// Form keeps an editable draft of one section. Edits stay local until
// Submit; while the draft is clean it follows the committed data.
type Form[T SectionData] struct {
	accessor  *Accessor[T]
	lifecycle *Lifecycle
	opts      FormOptions
	autosave  *ScheduledTask

	mu          sync.Mutex
	draft       T
	hasDraft    bool
	dirty       bool
	edits       uint64
	touched     map[string]bool
	errs        []ValidationError
	submitting  bool
	submitCount int
	lastErr     error
}

// NewForm creates a form over accessor. The section listener and the
// auto-save timer are owned by lifecycle and released when it is disposed.
func NewForm[T SectionData](accessor *Accessor[T], lifecycle *Lifecycle, opts FormOptions) *Form[T] {
	if opts.AutoSaveDelay <= 0 {
		opts.AutoSaveDelay = accessor.Store().Config().AutoSaveDelay
	}
	f := &Form[T]{
		accessor:  accessor,
		lifecycle: lifecycle,
		opts:      opts,
		touched:   make(map[string]bool),
	}

	if data, ok := accessor.Data(); ok {
		f.draft = cloneRecord(data)
		f.hasDraft = true
	}

	lifecycle.AddListenerWithCleanup(accessor.Store(), accessor.Section().String(), func(v any) {
		if data, ok := v.(T); ok {
			f.syncClean(data)
		}
	})

	if opts.AutoSave {
		f.autosave = lifecycle.Schedule(opts.AutoSaveDelay, f.autoSubmit)
	}
	return f
}

func cloneRecord[T SectionData](data T) T {
	if cloned, ok := cloneSectionData(data).(T); ok {
		return cloned
	}
	return data
}

func (f *Form[T]) syncClean(data T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirty {
		return
	}
	f.draft = cloneRecord(data)
	f.hasDraft = true
}

// ensureDraftLocked makes sure there is something to edit: the committed
// data if any, the defaults otherwise.
func (f *Form[T]) ensureDraftLocked() {
	if f.hasDraft {
		return
	}
	if data, ok := f.accessor.Data(); ok {
		f.draft = cloneRecord(data)
	} else if def, ok := DefaultSectionData(f.accessor.Section()).(T); ok {
		f.draft = def
	}
	f.hasDraft = true
}

// Draft returns a copy of the draft. ok is false until data is available.
func (f *Form[T]) Draft() (draft T, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasDraft {
		return draft, false
	}
	return cloneRecord(f.draft), true
}

// Update edits the draft in place and marks the named fields as touched.
func (f *Form[T]) Update(edit func(*T), touched ...string) {
	f.mu.Lock()
	f.ensureDraftLocked()
	edit(&f.draft)
	f.markEditedLocked(touched...)
	f.mu.Unlock()

	f.scheduleAutoSave()
}

// SetField sets one field of the draft by JSON path, for example
// "bounds.width" or "entries[1].weight". String values are converted to the
// type of the field.
func (f *Form[T]) SetField(name string, value any) error {
	f.mu.Lock()
	f.ensureDraftLocked()
	patched, err := ApplyFieldPatch(f.draft, name, value)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	typed, ok := patched.(T)
	if !ok {
		f.mu.Unlock()
		return errors.New(ErrCodeFieldPatchError, "patched record has the wrong type")
	}
	f.draft = typed
	f.markEditedLocked(name)
	f.mu.Unlock()

	f.scheduleAutoSave()
	return nil
}

func (f *Form[T]) markEditedLocked(touched ...string) {
	f.dirty = true
	f.edits++
	for _, name := range touched {
		f.touched[name] = true
	}
	f.errs = Validate(f.accessor.Section(), f.draft)
}

func (f *Form[T]) scheduleAutoSave() {
	if f.autosave != nil {
		f.autosave.Reschedule()
	}
}

// Status returns a snapshot of the form state.
func (f *Form[T]) Status() FormStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	touched := make(map[string]bool, len(f.touched))
	for k, v := range f.touched {
		touched[k] = v
	}
	return FormStatus{
		Dirty:           f.dirty,
		Touched:         touched,
		Submitting:      f.submitting,
		SubmitCount:     f.submitCount,
		Errors:          cloneSlice(f.errs),
		LastSubmitError: f.lastErr,
	}
}

// FieldError returns the violations on name and on anything nested below it.
func (f *Form[T]) FieldError(name string) []ValidationError {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ValidationError
	for _, v := range f.errs {
		if v.Field == name || strings.HasPrefix(v.Field, name+".") || strings.HasPrefix(v.Field, name+"[") {
			out = append(out, v)
		}
	}
	return out
}

// Submit validates the draft and writes it through the store. An invalid
// draft is not sent. A successful submit clears the dirty flag unless the
// draft was edited meanwhile or KeepDirtyOnSubmit is set.
func (f *Form[T]) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return errors.New(ErrCodeLifecycleMisuse, "submit already in progress")
	}
	f.ensureDraftLocked()
	f.submitCount++
	draft := cloneRecord(f.draft)
	generation := f.edits

	if violations := Validate(f.accessor.Section(), draft); len(violations) > 0 {
		err := newValidationFailure(ErrCodeValidationFailed, f.accessor.Section(), violations)
		f.errs = violations
		f.lastErr = err
		f.mu.Unlock()
		return err
	}
	f.submitting = true
	f.mu.Unlock()

	err := f.accessor.UpdateSettings(ctx, draft)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
	f.lastErr = err
	if err != nil {
		if violations := ValidationErrorsOf(err); len(violations) > 0 {
			f.errs = violations
		}
		return err
	}
	f.errs = nil
	if !f.opts.KeepDirtyOnSubmit && f.edits == generation {
		f.dirty = false
	}
	return nil
}

// Reset discards the draft and reloads it from the committed data.
func (f *Form[T]) Reset() {
	if f.autosave != nil {
		f.autosave.Stop()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasDraft = false
	f.dirty = false
	f.touched = make(map[string]bool)
	f.errs = nil
	f.lastErr = nil
	if data, ok := f.accessor.Data(); ok {
		f.draft = cloneRecord(data)
		f.hasDraft = true
	}
}

// ResetToDefaults writes the section defaults through the store and then
// reloads the draft.
func (f *Form[T]) ResetToDefaults(ctx context.Context) error {
	if f.autosave != nil {
		f.autosave.Stop()
	}
	err := f.accessor.ResetSettings(ctx)
	f.Reset()
	return err
}

// CanSubmit reports whether the draft is dirty, valid, not being submitted
// and the section is ready.
func (f *Form[T]) CanSubmit() bool {
	f.mu.Lock()
	ok := f.dirty && len(f.errs) == 0 && !f.submitting
	f.mu.Unlock()
	return ok && f.accessor.IsReady()
}

func (f *Form[T]) autoSubmit() {
	f.mu.Lock()
	due := f.dirty && !f.submitting
	f.mu.Unlock()
	if !due {
		return
	}
	// Violations stay in Status; only save failures reach the lifecycle.
	if err := f.Submit(context.Background()); err != nil && len(ValidationErrorsOf(err)) == 0 {
		f.lifecycle.HandleError(err, ErrorContext{Operation: "autosave"})
	}
}
