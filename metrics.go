package phigate

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics accumulates validation statistics, timings and PHI finding
// counts. It is safe for concurrent use.
//
// Record* methods take the read side of mu and Statistics, Snapshot and
// Reset take the write side. The counters of one validation therefore
// land entirely before or entirely after a reset, and every snapshot has
// Passed+Failed == TotalValidations.
type Metrics struct {
	mu sync.RWMutex

	total    atomic.Uint64
	passed   atomic.Uint64
	failed   atomic.Uint64
	warnings atomic.Uint64
	errors   atomic.Uint64
	findings atomic.Uint64
	resets   atomic.Uint64

	// nanoseconds; minNs is MaxUint64 until the first validation
	sumNs atomic.Uint64
	minNs atomic.Uint64
	maxNs atomic.Uint64

	phases     sync.Map // string -> *phaseCounters
	categories sync.Map // Category -> *atomic.Uint64
}

type phaseCounters struct {
	calls  atomic.Uint64
	ns     atomic.Uint64
	issues atomic.Uint64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.minNs.Store(math.MaxUint64)
	return m
}

// Statistics is a consistent view of the validation counters.
type Statistics struct {
	TotalValidations uint64 `json:"total_validations"`
	Passed           uint64 `json:"passed"`
	Failed           uint64 `json:"failed"`
	Warnings         uint64 `json:"warnings"`
}

// RecordValidation counts one finished Validate call: total, exactly one
// of passed or failed, and warnings non-fatal findings.
func (m *Metrics) RecordValidation(duration time.Duration, valid bool, warnings int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.total.Add(1)
	if valid {
		m.passed.Add(1)
	} else {
		m.failed.Add(1)
	}
	if warnings > 0 {
		m.warnings.Add(uint64(warnings))
	}

	ns := uint64(max(duration, 0).Nanoseconds()) //nolint:gosec // clamped to non-negative
	m.sumNs.Add(ns)
	casMin(&m.minNs, ns)
	casMax(&m.maxNs, ns)
}

func casMin(a *atomic.Uint64, v uint64) {
	for old := a.Load(); v < old && !a.CompareAndSwap(old, v); old = a.Load() {
	}
}

func casMax(a *atomic.Uint64, v uint64) {
	for old := a.Load(); v > old && !a.CompareAndSwap(old, v); old = a.Load() {
	}
}

// RecordIssue counts error and fatal issues; other severities are ignored.
func (m *Metrics) RecordIssue(severity IssueSeverity) {
	if severity != SeverityError && severity != SeverityFatal {
		return
	}
	m.mu.RLock()
	m.errors.Add(1)
	m.mu.RUnlock()
}

// RecordFinding counts one PHI finding under its category.
func (m *Metrics) RecordFinding(category Category) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.findings.Add(1)
	c, ok := m.categories.Load(category)
	if !ok {
		c, _ = m.categories.LoadOrStore(category, new(atomic.Uint64))
	}
	c.(*atomic.Uint64).Add(1)
}

// RecordPhase adds one run of the named phase.
func (m *Metrics) RecordPhase(name string, duration time.Duration, issues int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.phases.Load(name)
	if !ok {
		v, _ = m.phases.LoadOrStore(name, &phaseCounters{})
	}
	pc := v.(*phaseCounters)
	pc.calls.Add(1)
	pc.ns.Add(uint64(max(duration, 0).Nanoseconds())) //nolint:gosec // clamped to non-negative
	if issues > 0 {
		pc.issues.Add(uint64(issues))
	}
}

// statistics reads the counters. m.mu must be held for writing.
func (m *Metrics) statistics() Statistics {
	return Statistics{
		TotalValidations: m.total.Load(),
		Passed:           m.passed.Load(),
		Failed:           m.failed.Load(),
		Warnings:         m.warnings.Load(),
	}
}

// Statistics returns the validation counters as one consistent view.
func (m *Metrics) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statistics()
}

// ValidationsTotal returns the number of validations since the last reset.
func (m *Metrics) ValidationsTotal() uint64 { return m.total.Load() }

// ValidationsFailed returns the number of invalid records.
func (m *Metrics) ValidationsFailed() uint64 { return m.failed.Load() }

// ErrorsTotal returns the number of error and fatal issues.
func (m *Metrics) ErrorsTotal() uint64 { return m.errors.Load() }

// FindingsTotal returns the number of PHI findings over all categories.
func (m *Metrics) FindingsTotal() uint64 { return m.findings.Load() }

// Resets returns how many times Reset has been called.
func (m *Metrics) Resets() uint64 { return m.resets.Load() }

// ValidationRate is Passed/TotalValidations, or 0 before any validation.
func (m *Metrics) ValidationRate() float64 {
	return rate(m.Statistics())
}

func rate(s Statistics) float64 {
	if s.TotalValidations == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.TotalValidations)
}

// AverageValidationTime returns the mean validation duration.
func (m *Metrics) AverageValidationTime() time.Duration {
	n := m.total.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(m.sumNs.Load() / n) //nolint:gosec // fits in int64
}

// MinValidationTime returns the fastest validation, or 0 before any.
func (m *Metrics) MinValidationTime() time.Duration {
	v := m.minNs.Load()
	if v == math.MaxUint64 {
		return 0
	}
	return time.Duration(v) //nolint:gosec // fits in int64
}

// MaxValidationTime returns the slowest validation.
func (m *Metrics) MaxValidationTime() time.Duration {
	return time.Duration(m.maxNs.Load()) //nolint:gosec // fits in int64
}

// FindingsByCategory returns PHI finding counts per category.
func (m *Metrics) FindingsByCategory() map[Category]uint64 {
	out := make(map[Category]uint64)
	m.categories.Range(func(k, v any) bool {
		out[k.(Category)] = v.(*atomic.Uint64).Load()
		return true
	})
	return out
}

// PhaseStats summarizes the runs of one phase.
type PhaseStats struct {
	Name        string        `json:"name"`
	Invocations uint64        `json:"invocations"`
	TotalTime   time.Duration `json:"total_time_ns"`
	AvgTime     time.Duration `json:"avg_time_ns"`
	IssuesFound uint64        `json:"issues_found"`
}

// PhaseStats returns the stats of one phase and whether it has run.
func (m *Metrics) PhaseStats(name string) (PhaseStats, bool) {
	v, ok := m.phases.Load(name)
	if !ok {
		return PhaseStats{Name: name}, false
	}
	return v.(*phaseCounters).stats(name), true
}

// AllPhaseStats returns every phase seen so far, sorted by name.
func (m *Metrics) AllPhaseStats() []PhaseStats {
	var out []PhaseStats
	m.phases.Range(func(k, v any) bool {
		out = append(out, v.(*phaseCounters).stats(k.(string)))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (pc *phaseCounters) stats(name string) PhaseStats {
	s := PhaseStats{
		Name:        name,
		Invocations: pc.calls.Load(),
		TotalTime:   time.Duration(pc.ns.Load()), //nolint:gosec // fits in int64
		IssuesFound: pc.issues.Load(),
	}
	if s.Invocations > 0 {
		s.AvgTime = s.TotalTime / time.Duration(s.Invocations) //nolint:gosec // fits in int64
	}
	return s
}

// Snapshot is every metric at one instant.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Statistics

	ValidationRate      float64 `json:"validation_rate"`
	AvgValidationTimeNs uint64  `json:"avg_validation_time_ns"`
	MinValidationTimeNs uint64  `json:"min_validation_time_ns"`
	MaxValidationTimeNs uint64  `json:"max_validation_time_ns"`

	ErrorsTotal   uint64       `json:"errors_total"`
	FindingsTotal uint64       `json:"phi_findings_total"`
	Phases        []PhaseStats `json:"phases,omitempty"`
}

// Snapshot returns all metrics taken under one lock.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Timestamp:           time.Now().UTC(),
		Statistics:          m.statistics(),
		MaxValidationTimeNs: m.maxNs.Load(),
		ErrorsTotal:         m.errors.Load(),
		FindingsTotal:       m.findings.Load(),
		Phases:              m.AllPhaseStats(),
	}
	s.ValidationRate = rate(s.Statistics)
	if s.TotalValidations > 0 {
		s.AvgValidationTimeNs = m.sumNs.Load() / s.TotalValidations
	}
	if v := m.minNs.Load(); v != math.MaxUint64 {
		s.MinValidationTimeNs = v
	}
	return s
}

// Reset zeroes everything and returns the statistics from just before.
func (m *Metrics) Reset() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := Statistics{
		TotalValidations: m.total.Swap(0),
		Passed:           m.passed.Swap(0),
		Failed:           m.failed.Swap(0),
		Warnings:         m.warnings.Swap(0),
	}
	m.errors.Store(0)
	m.findings.Store(0)
	m.sumNs.Store(0)
	m.minNs.Store(math.MaxUint64)
	m.maxNs.Store(0)
	m.phases.Clear()
	m.categories.Clear()
	m.resets.Add(1)
	return before
}
