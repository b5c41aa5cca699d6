// tracker.go: Operation timing and health metrics
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"math"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// DefaultSlowOperationThreshold is the duration above which an operation is
// reported as slow.
const DefaultSlowOperationThreshold = 2 * time.Second

// OperationID identifies one tracked operation.
type OperationID string

// InFlightOperation is an entry of the operation ledger.
type InFlightOperation struct {
	Name      string    `json:"name"`
	Section   Section   `json:"section"`
	StartedAt time.Time `json:"startedAt"`
}

// SectionMetrics aggregates the operations of one section.
type SectionMetrics struct {
	OperationCount int64         `json:"operationCount"`
	TotalTime      time.Duration `json:"totalTime"`
	AverageTime    time.Duration `json:"averageTime"`
	ErrorCount     int64         `json:"errorCount"`
	LastOperation  time.Time     `json:"lastOperation"`
	Health         float64       `json:"health"`
}

// MetricsSummary aggregates every section.
type MetricsSummary struct {
	TotalOperations int64   `json:"totalOperations"`
	TotalErrors     int64   `json:"totalErrors"`
	OverallHealth   float64 `json:"overallHealth"`
}

// Metrics is a snapshot of the tracker aggregates.
type Metrics struct {
	PerSection map[Section]SectionMetrics `json:"perSection"`
	Summary    MetricsSummary             `json:"summary"`
}

// SlowOperationHandler is told about operations slower than the threshold.
// It runs on the caller of End and must not block.
type SlowOperationHandler func(name string, section Section, elapsed time.Duration)

// TrackerOption configures an OperationTracker.
type TrackerOption func(*OperationTracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *OperationTracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithSlowThreshold sets the slow-operation threshold.
func WithSlowThreshold(d time.Duration) TrackerOption {
	return func(t *OperationTracker) {
		if d > 0 {
			t.threshold = d
		}
	}
}

// WithSlowHandler replaces the default slow-operation handler, which writes
// an audit warning.
func WithSlowHandler(h SlowOperationHandler) TrackerOption {
	return func(t *OperationTracker) { t.onSlow = h }
}

// WithAudit routes default slow-operation reports to al.
func WithAudit(al *AuditLogger) TrackerOption {
	return func(t *OperationTracker) { t.audit = al }
}

// withHistory makes RecordError append to ring.
func withHistory(ring *errorRing) TrackerOption {
	return func(t *OperationTracker) { t.history = ring }
}

type sectionAggregate struct {
	count    int64
	total    time.Duration
	errors   int64
	lastSeen time.Time
}

// OperationTracker times operations by unique ID and keeps per-section
// aggregates. It is safe for concurrent use.
type OperationTracker struct {
	mu         sync.Mutex
	now        func() time.Time
	threshold  time.Duration
	onSlow     SlowOperationHandler
	audit      *AuditLogger
	history    *errorRing
	inFlight   map[OperationID]InFlightOperation
	aggregates map[Section]*sectionAggregate
}

// NewOperationTracker creates a tracker.
func NewOperationTracker(opts ...TrackerOption) *OperationTracker {
	t := &OperationTracker{
		now:        time.Now,
		threshold:  DefaultSlowOperationThreshold,
		inFlight:   make(map[OperationID]InFlightOperation),
		aggregates: make(map[Section]*sectionAggregate),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.onSlow == nil {
		t.onSlow = t.auditSlow
	}
	return t
}

// SlowThreshold returns the configured threshold.
func (t *OperationTracker) SlowThreshold() time.Duration { return t.threshold }

// Start records the start of an operation.
func (t *OperationTracker) Start(name string, section Section) OperationID {
	id := OperationID(uuid.NewString())
	t.mu.Lock()
	t.inFlight[id] = InFlightOperation{Name: name, Section: section, StartedAt: t.now()}
	t.mu.Unlock()
	return id
}

// End closes the operation and returns its duration. Unknown IDs return 0.
func (t *OperationTracker) End(id OperationID) time.Duration {
	t.mu.Lock()
	op, ok := t.inFlight[id]
	if !ok {
		t.mu.Unlock()
		return 0
	}
	delete(t.inFlight, id)

	now := t.now()
	elapsed := now.Sub(op.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	agg := t.aggregate(op.Section)
	agg.count++
	agg.total += elapsed
	agg.lastSeen = now
	slow := elapsed > t.threshold
	t.mu.Unlock()

	if slow && t.onSlow != nil {
		t.onSlow(op.Name, op.Section, elapsed)
	}
	return elapsed
}

// RecordError counts err against section and appends it to the history.
func (t *OperationTracker) RecordError(section Section, err error, operation string) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.aggregate(section).errors++
	history := t.history
	t.mu.Unlock()

	if history != nil {
		history.Push(ErrorRecord{
			Error:     err.Error(),
			Code:      ErrorCodeOf(err),
			Timestamp: timecache.CachedTime(),
			Operation: operation,
			Section:   section,
		})
	}
}

// Metrics returns a snapshot of the aggregates.
func (t *OperationTracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := Metrics{PerSection: make(map[Section]SectionMetrics, len(t.aggregates))}
	var healthSum float64
	active := 0
	for section, agg := range t.aggregates {
		sm := SectionMetrics{
			OperationCount: agg.count,
			TotalTime:      agg.total,
			ErrorCount:     agg.errors,
			LastOperation:  agg.lastSeen,
		}
		if agg.count > 0 {
			sm.AverageTime = agg.total / time.Duration(agg.count)
		}
		sm.Health = healthScore(agg.count, sm.AverageTime, agg.errors, t.threshold)
		m.PerSection[section] = sm

		m.Summary.TotalOperations += agg.count
		m.Summary.TotalErrors += agg.errors
		if agg.count > 0 || agg.errors > 0 {
			healthSum += sm.Health
			active++
		}
	}

	m.Summary.OverallHealth = 100
	if active > 0 {
		m.Summary.OverallHealth = healthSum / float64(active)
	}
	return m
}

// SectionMetrics returns the aggregates of one section.
func (t *OperationTracker) SectionMetrics(section Section) SectionMetrics {
	if sm, ok := t.Metrics().PerSection[section]; ok {
		return sm
	}
	return SectionMetrics{Health: healthScore(0, 0, 0, t.threshold)}
}

// InFlight returns a copy of the operation ledger.
func (t *OperationTracker) InFlight() map[OperationID]InFlightOperation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[OperationID]InFlightOperation, len(t.inFlight))
	for id, op := range t.inFlight {
		out[id] = op
	}
	return out
}

// Reset clears the aggregates and the ledger.
func (t *OperationTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight = make(map[OperationID]InFlightOperation)
	t.aggregates = make(map[Section]*sectionAggregate)
}

func (t *OperationTracker) aggregate(section Section) *sectionAggregate {
	agg, ok := t.aggregates[section]
	if !ok {
		agg = &sectionAggregate{}
		t.aggregates[section] = agg
	}
	return agg
}

func (t *OperationTracker) auditSlow(name string, section Section, elapsed time.Duration) {
	t.audit.Log(AuditWarn, EventSlowOperation, "tracker", section.String(), nil, nil, map[string]any{
		"operation":    name,
		"elapsed_ms":   elapsed.Milliseconds(),
		"threshold_ms": t.threshold.Milliseconds(),
	})
}

// healthScore weighs volume (20%), latency (40%) and reliability (40%)
// into a score in [0,100].
func healthScore(count int64, avg time.Duration, errs int64, threshold time.Duration) float64 {
	volume := 1 - math.Exp(-float64(count)/10)
	latency := 1 / (1 + float64(avg)/float64(threshold))
	reliability := 1 - float64(errs)/math.Max(math.Max(float64(count), float64(errs)), 1)
	score := 100 * (0.2*volume + 0.4*latency + 0.4*reliability)
	return math.Max(0, math.Min(100, score))
}
