// store.go: Section-partitioned settings store
//
// The Store owns the authoritative in-memory copy of every section, gates
// every write behind the validator and reconciles with the platform bridge.
// Each section moves through Uninitialized -> Loading -> Ready or Errored
// on its own; a failure in one section never touches another.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"context"
	"sync"
)

// StoreState is a point-in-time snapshot of the whole store.
// A section is absent from Settings until its first load completes.
type StoreState struct {
	Settings      map[Section]SectionData           `json:"settings"`
	Loading       map[Section]bool                  `json:"loading"`
	Initialized   map[Section]bool                  `json:"initialized"`
	Errors        map[Section]error                 `json:"-"`
	ErrorMessages map[Section]string                `json:"errors,omitempty"`
	Validation    map[Section][]ValidationError     `json:"validation,omitempty"`
	Operations    map[OperationID]InFlightOperation `json:"operations"`
	ErrorHistory  []ErrorRecord                     `json:"errorHistory"`
	Disposed      bool                              `json:"disposed"`
}

// SectionStatus is the state of a single section.
type SectionStatus struct {
	Loading     bool
	Initialized bool
	Err         error
	Validation  []ValidationError
}

// Ready reports whether the section is initialized, idle and error free.
func (s SectionStatus) Ready() bool {
	return s.Initialized && !s.Loading && s.Err == nil
}

// DebugInfo bundles everything useful when diagnosing a misbehaving store.
type DebugInfo struct {
	State       StoreState          `json:"state"`
	Performance Metrics             `json:"performance"`
	Errors      []ErrorRecord       `json:"errors"`
	Bridge      Availability        `json:"bridge"`
	Audit       *AuditDatabaseStats `json:"audit,omitempty"`
	AuditError  string              `json:"auditError,omitempty"`
}

// Store is the settings store. Create one with New and share it; it is safe
// for concurrent use.
type Store struct {
	config   Config
	adapter  *BridgeAdapter
	tracker  *OperationTracker
	history  *errorRing
	audit    *AuditLogger
	auditErr error

	mu          sync.RWMutex
	data        map[Section]SectionData
	loading     map[Section]bool
	initialized map[Section]bool
	errs        map[Section]error
	validation  map[Section][]ValidationError
	disposed    bool

	subs subscriberSet
}

// New creates a store over bridge. A nil bridge yields a store whose loads
// fall back to defaults and whose updates fail with ErrBridgeUnavailable.
// An audit backend that cannot be opened disables auditing; the cause is
// reported by GetDebugInfo.
func New(config Config, bridge Bridge) *Store {
	cfg := config.WithDefaults()

	audit, auditErr := NewAuditLogger(cfg.Audit)
	if auditErr != nil {
		audit = nil
	}

	history := newErrorRing(cfg.ErrorHistoryCapacity)
	s := &Store{
		config:   *cfg,
		adapter:  NewBridgeAdapter(context.Background(), bridge, cfg.BridgeTimeout),
		history:  history,
		audit:    audit,
		auditErr: auditErr,
		tracker: NewOperationTracker(
			WithSlowThreshold(cfg.SlowOperationThreshold),
			WithAudit(audit),
			withHistory(history),
		),
	}
	s.resetMapsLocked()
	s.subs.init()
	return s
}

func (s *Store) resetMapsLocked() {
	s.data = make(map[Section]SectionData, sectionCount)
	s.loading = make(map[Section]bool, sectionCount)
	s.initialized = make(map[Section]bool, sectionCount)
	s.errs = make(map[Section]error, sectionCount)
	s.validation = make(map[Section][]ValidationError, sectionCount)
	s.disposed = false
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.config }

// Tracker returns the operation tracker shared by the store and its facades.
func (s *Store) Tracker() *OperationTracker { return s.tracker }

// Audit returns the audit logger, or nil when auditing is off.
func (s *Store) Audit() *AuditLogger { return s.audit }

// BridgeAvailability returns the result of the startup probe.
func (s *Store) BridgeAvailability() Availability { return s.adapter.Availability() }

// Close flushes and releases the audit logger.
func (s *Store) Close() error {
	return s.audit.Close()
}

// LoadSettings reads section from the bridge. On failure the compiled
// defaults are applied, the section is marked initialized and the error is
// both recorded and returned.
func (s *Store) LoadSettings(ctx context.Context, section Section) error {
	if !section.Valid() {
		return ErrUnknownSection
	}

	s.mu.Lock()
	s.disposed = false
	s.loading[section] = true
	delete(s.errs, section)
	s.mu.Unlock()
	s.emitState(section)

	return s.load(ctx, section)
}

// InitializeSection loads section unless it is already initialized or a
// load is in flight. Concurrent callers trigger exactly one load.
func (s *Store) InitializeSection(ctx context.Context, section Section) error {
	if !section.Valid() {
		return ErrUnknownSection
	}

	s.mu.Lock()
	if s.initialized[section] || s.loading[section] {
		s.mu.Unlock()
		return nil
	}
	s.disposed = false
	s.loading[section] = true
	delete(s.errs, section)
	s.mu.Unlock()
	s.emitState(section)

	return s.load(ctx, section)
}

// InitializeAllSections initializes every section concurrently and returns
// the first error in section order.
func (s *Store) InitializeAllSections(ctx context.Context) error {
	return forEachSection(AllSections(), func(section Section) error {
		return s.InitializeSection(ctx, section)
	})
}

func (s *Store) load(ctx context.Context, section Section) error {
	id := s.tracker.Start("load", section)
	data, report, err := s.adapter.LoadSection(ctx, section)
	s.tracker.End(id)

	if err != nil {
		s.recordError(section, err, "load")
		s.audit.LogSectionEvent(AuditWarn, EventLoadFallback, section, map[string]any{
			"error": err.Error(),
			"code":  ErrorCodeOf(err),
		})

		fallback := DefaultSectionData(section)
		s.mu.Lock()
		s.data[section] = fallback
		s.initialized[section] = true
		s.loading[section] = false
		s.errs[section] = err
		s.mu.Unlock()

		s.emitState(section)
		s.emitSection(section, fallback)
		return err
	}

	if report.Partial() {
		for _, key := range report.Failed {
			s.tracker.RecordError(section, report.Errors[key], "load:"+key)
		}
		s.audit.LogSectionEvent(AuditWarn, EventPartialLoad, section, map[string]any{
			"failed_keys": report.Failed,
		})
	}

	s.mu.Lock()
	s.data[section] = data
	s.initialized[section] = true
	s.loading[section] = false
	s.mu.Unlock()

	s.emitState(section)
	s.emitSection(section, data)
	return nil
}

// UpdateSettings validates data and writes it through the bridge. Invalid
// data is rejected without calling the bridge; the violations are kept in
// the state and carried by the returned error. Valid data clears them
// before the write; a failed write keeps the previous data.
func (s *Store) UpdateSettings(ctx context.Context, section Section, data SectionData) error {
	def, ok := lookupSection(section)
	if !ok {
		return ErrUnknownSection
	}

	if violations := Validate(section, data); len(violations) > 0 {
		s.mu.Lock()
		s.validation[section] = violations
		s.mu.Unlock()
		s.emitState(section)
		return newValidationFailure(ErrCodeValidationFailed, section, violations)
	}
	normalized, _ := def.normalize(data)

	s.mu.Lock()
	s.disposed = false
	s.loading[section] = true
	delete(s.validation, section)
	s.mu.Unlock()
	s.emitState(section)

	id := s.tracker.Start("update", section)
	result, err := s.adapter.SaveSection(ctx, section, normalized)
	s.tracker.End(id)

	for _, warning := range result.Warnings {
		s.audit.LogSectionEvent(AuditWarn, EventSaveWarning, section, map[string]any{"warning": warning})
	}

	if err != nil {
		s.recordError(section, err, "update")
		s.audit.LogSectionEvent(AuditWarn, EventBridgeError, section, map[string]any{
			"error":     err.Error(),
			"code":      ErrorCodeOf(err),
			"operation": "update",
		})

		s.mu.Lock()
		s.loading[section] = false
		s.errs[section] = err
		s.mu.Unlock()
		s.emitState(section)
		return err
	}

	s.mu.Lock()
	previous := s.data[section]
	s.data[section] = normalized
	s.initialized[section] = true
	s.loading[section] = false
	delete(s.errs, section)
	delete(s.validation, section)
	s.mu.Unlock()

	s.audit.LogSettingsChange(section, redactForAudit(previous), redactForAudit(normalized))
	s.emitState(section)
	s.emitSection(section, normalized)
	return nil
}

// ResetSettings writes the compiled defaults of section.
func (s *Store) ResetSettings(ctx context.Context, section Section) error {
	if !section.Valid() {
		return ErrUnknownSection
	}
	return s.UpdateSettings(ctx, section, DefaultSectionData(section))
}

// RefreshSettings clears the error of section and reloads it.
func (s *Store) RefreshSettings(ctx context.Context, section Section) error {
	s.ClearErrors(section)
	return s.LoadSettings(ctx, section)
}

// RefreshAll reloads every initialized section.
func (s *Store) RefreshAll(ctx context.Context) error {
	s.mu.RLock()
	var sections []Section
	for _, section := range AllSections() {
		if s.initialized[section] {
			sections = append(sections, section)
		}
	}
	s.mu.RUnlock()

	return forEachSection(sections, func(section Section) error {
		return s.RefreshSettings(ctx, section)
	})
}

// Dispose returns every section to Uninitialized and drops its data.
// The next load or update clears the disposed flag.
func (s *Store) Dispose() {
	s.mu.Lock()
	s.resetMapsLocked()
	s.disposed = true
	s.mu.Unlock()
	s.emitState(noSection)
}

// Reset recreates fresh state and clears the error history and the tracker
// aggregates. Subscriptions and the bridge are kept.
func (s *Store) Reset() {
	s.mu.Lock()
	s.resetMapsLocked()
	s.mu.Unlock()

	s.history.Clear()
	s.tracker.Reset()
	s.emitState(noSection)
}

// Get returns a copy of the data of section.
func (s *Store) Get(section Section) (SectionData, bool) {
	s.mu.RLock()
	data, ok := s.data[section]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneSectionData(data), true
}

// SectionStatus returns the loading, initialized, error and validation
// state of section.
func (s *Store) SectionStatus(section Section) SectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SectionStatus{
		Loading:     s.loading[section],
		Initialized: s.initialized[section],
		Err:         s.errs[section],
		Validation:  cloneSlice(s.validation[section]),
	}
}

// GetState returns a snapshot of the store, including the in-flight
// operations and the error history.
func (s *Store) GetState() StoreState {
	s.mu.RLock()
	st := StoreState{
		Settings:      make(map[Section]SectionData, len(s.data)),
		Loading:       make(map[Section]bool, len(s.loading)),
		Initialized:   make(map[Section]bool, len(s.initialized)),
		Errors:        make(map[Section]error, len(s.errs)),
		ErrorMessages: make(map[Section]string, len(s.errs)),
		Validation:    make(map[Section][]ValidationError, len(s.validation)),
		Disposed:      s.disposed,
	}
	for section, data := range s.data {
		st.Settings[section] = cloneSectionData(data)
	}
	for section, v := range s.loading {
		st.Loading[section] = v
	}
	for section, v := range s.initialized {
		st.Initialized[section] = v
	}
	for section, err := range s.errs {
		st.Errors[section] = err
		st.ErrorMessages[section] = err.Error()
	}
	for section, v := range s.validation {
		st.Validation[section] = cloneSlice(v)
	}
	s.mu.RUnlock()

	st.Operations = s.tracker.InFlight()
	st.ErrorHistory = s.history.Snapshot()
	return st
}

// ValidateSettings runs the validator without touching the state.
func (s *Store) ValidateSettings(section Section, data SectionData) []ValidationError {
	return Validate(section, data)
}

// ClearValidationErrors drops the violations kept for section.
func (s *Store) ClearValidationErrors(section Section) {
	s.mu.Lock()
	_, had := s.validation[section]
	delete(s.validation, section)
	s.mu.Unlock()
	if had {
		s.emitState(section)
	}
}

// ClearErrors drops the error kept for section. The history is untouched.
func (s *Store) ClearErrors(section Section) {
	s.mu.Lock()
	_, had := s.errs[section]
	delete(s.errs, section)
	s.mu.Unlock()
	if had {
		s.emitState(section)
	}
}

// GetErrorHistory returns the error history, oldest first.
func (s *Store) GetErrorHistory() []ErrorRecord {
	return s.history.Snapshot()
}

// GetDebugInfo collects state, metrics, history, bridge availability and
// audit statistics.
func (s *Store) GetDebugInfo() DebugInfo {
	info := DebugInfo{
		State:       s.GetState(),
		Performance: s.tracker.Metrics(),
		Errors:      s.history.Snapshot(),
		Bridge:      s.adapter.Availability(),
	}
	switch {
	case s.auditErr != nil:
		info.AuditError = s.auditErr.Error()
	case s.audit.Enabled():
		stats, err := s.audit.Stats()
		if err != nil {
			info.AuditError = err.Error()
		} else {
			info.Audit = stats
		}
	}
	return info
}

// HandleSectionError records err against section as if an operation on it
// had failed: the tracker and history see it and the section shows it.
func (s *Store) HandleSectionError(section Section, err error, operation string) {
	if err == nil || !section.Valid() {
		return
	}
	s.recordError(section, err, operation)

	s.mu.Lock()
	s.loading[section] = false
	s.errs[section] = err
	s.mu.Unlock()
	s.emitState(section)
}

func (s *Store) recordError(section Section, err error, operation string) {
	s.tracker.RecordError(section, err, operation)
	if handler := s.config.ErrorHandler; handler != nil {
		s.safeCall(section, func() { handler(err, section) })
	}
}

// redactForAudit masks secrets before a record is written to the audit trail.
func redactForAudit(data SectionData) SectionData {
	if chat, ok := data.(ChatSettings); ok && chat.APIKey != "" {
		chat.APIKey = "[REDACTED]"
		return chat
	}
	return data
}

// forEachSection runs fn for every section concurrently, waits for all of
// them and returns the first error in the order of sections.
func forEachSection(sections []Section, fn func(Section) error) error {
	errs := make([]error, len(sections))
	var wg sync.WaitGroup
	for i, section := range sections {
		wg.Add(1)
		go func(i int, section Section) {
			defer wg.Done()
			errs[i] = fn(section)
		}(i, section)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
