package phigate

import (
	"sync"
	"testing"
	"time"
)

func TestMetrics_Basic(t *testing.T) {
	m := NewMetrics()

	if m.ValidationsTotal() != 0 {
		t.Errorf("ValidationsTotal() = %d; want 0", m.ValidationsTotal())
	}

	m.RecordValidation(100*time.Millisecond, true, 2)

	s := m.Statistics()
	if s.TotalValidations != 1 {
		t.Errorf("TotalValidations = %d; want 1", s.TotalValidations)
	}
	if s.Passed != 1 {
		t.Errorf("Passed = %d; want 1", s.Passed)
	}
	if s.Failed != 0 {
		t.Errorf("Failed = %d; want 0", s.Failed)
	}
	if s.Warnings != 2 {
		t.Errorf("Warnings = %d; want 2", s.Warnings)
	}
}

func TestMetrics_ValidationRate(t *testing.T) {
	m := NewMetrics()

	if rate := m.ValidationRate(); rate != 0 {
		t.Errorf("ValidationRate() = %f; want 0", rate)
	}

	m.RecordValidation(100*time.Millisecond, true, 0)
	m.RecordValidation(100*time.Millisecond, true, 0)
	m.RecordValidation(100*time.Millisecond, false, 0)

	rate := m.ValidationRate()
	expected := 2.0 / 3.0
	if rate < expected-0.01 || rate > expected+0.01 {
		t.Errorf("ValidationRate() = %f; want ~%f", rate, expected)
	}
	if m.ValidationsFailed() != 1 {
		t.Errorf("ValidationsFailed() = %d; want 1", m.ValidationsFailed())
	}
}

func TestMetrics_ValidationTime(t *testing.T) {
	m := NewMetrics()

	if avg := m.AverageValidationTime(); avg != 0 {
		t.Errorf("AverageValidationTime() = %v; want 0", avg)
	}
	if min := m.MinValidationTime(); min != 0 {
		t.Errorf("MinValidationTime() = %v; want 0", min)
	}

	m.RecordValidation(100*time.Millisecond, true, 0)
	m.RecordValidation(200*time.Millisecond, true, 0)
	m.RecordValidation(300*time.Millisecond, true, 0)

	avg := m.AverageValidationTime()
	expectedAvg := 200 * time.Millisecond
	if avg < expectedAvg-time.Millisecond || avg > expectedAvg+time.Millisecond {
		t.Errorf("AverageValidationTime() = %v; want ~%v", avg, expectedAvg)
	}
	if min := m.MinValidationTime(); min != 100*time.Millisecond {
		t.Errorf("MinValidationTime() = %v; want %v", min, 100*time.Millisecond)
	}
	if max := m.MaxValidationTime(); max != 300*time.Millisecond {
		t.Errorf("MaxValidationTime() = %v; want %v", max, 300*time.Millisecond)
	}
}

func TestMetrics_RecordIssue(t *testing.T) {
	m := NewMetrics()

	m.RecordIssue(SeverityError)
	m.RecordIssue(SeverityFatal)
	m.RecordIssue(SeverityWarning)
	m.RecordIssue(SeverityInformation)

	if m.ErrorsTotal() != 2 {
		t.Errorf("ErrorsTotal() = %d; want 2", m.ErrorsTotal())
	}
}

func TestMetrics_Findings(t *testing.T) {
	m := NewMetrics()

	m.RecordFinding(CategorySSN)
	m.RecordFinding(CategorySSN)
	m.RecordFinding(CategoryEmail)

	if m.FindingsTotal() != 3 {
		t.Errorf("FindingsTotal() = %d; want 3", m.FindingsTotal())
	}
	byCat := m.FindingsByCategory()
	if byCat[CategorySSN] != 2 {
		t.Errorf("FindingsByCategory()[ssn] = %d; want 2", byCat[CategorySSN])
	}
	if byCat[CategoryEmail] != 1 {
		t.Errorf("FindingsByCategory()[email] = %d; want 1", byCat[CategoryEmail])
	}
}

func TestMetrics_Phase(t *testing.T) {
	m := NewMetrics()

	m.RecordPhase("schema", 10*time.Millisecond, 2)
	m.RecordPhase("schema", 20*time.Millisecond, 1)

	stats, ok := m.PhaseStats("schema")
	if !ok {
		t.Fatal("PhaseStats(schema) not found")
	}
	if stats.Invocations != 2 {
		t.Errorf("Invocations = %d; want 2", stats.Invocations)
	}
	if stats.IssuesFound != 3 {
		t.Errorf("IssuesFound = %d; want 3", stats.IssuesFound)
	}
	if stats.AvgTime != 15*time.Millisecond {
		t.Errorf("AvgTime = %v; want 15ms", stats.AvgTime)
	}

	if _, ok := m.PhaseStats("unknown"); ok {
		t.Error("PhaseStats(unknown) should not be found")
	}
}

func TestMetrics_AllPhaseStats_Sorted(t *testing.T) {
	m := NewMetrics()
	m.RecordPhase("quality", time.Millisecond, 0)
	m.RecordPhase("phi", time.Millisecond, 0)
	m.RecordPhase("schema", time.Millisecond, 0)

	stats := m.AllPhaseStats()
	if len(stats) != 3 {
		t.Fatalf("len(AllPhaseStats()) = %d; want 3", len(stats))
	}
	if stats[0].Name != "phi" || stats[1].Name != "quality" || stats[2].Name != "schema" {
		t.Errorf("AllPhaseStats() order = %s,%s,%s; want phi,quality,schema", stats[0].Name, stats[1].Name, stats[2].Name)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordValidation(100*time.Millisecond, true, 1)
	m.RecordValidation(300*time.Millisecond, false, 0)
	m.RecordFinding(CategoryNames)

	s := m.Snapshot()
	if s.TotalValidations != 2 {
		t.Errorf("TotalValidations = %d; want 2", s.TotalValidations)
	}
	if s.AvgValidationTimeNs != uint64(200*time.Millisecond) {
		t.Errorf("AvgValidationTimeNs = %d; want %d", s.AvgValidationTimeNs, uint64(200*time.Millisecond))
	}
	if s.FindingsTotal != 1 {
		t.Errorf("FindingsTotal = %d; want 1", s.FindingsTotal)
	}
	if s.Passed != 1 || s.Failed != 1 || s.ValidationRate != 0.5 {
		t.Errorf("Snapshot() = %+v; want one passed, one failed", s.Statistics)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.RecordValidation(100*time.Millisecond, true, 3)
	m.RecordValidation(100*time.Millisecond, false, 0)
	m.RecordPhase("schema", time.Millisecond, 1)
	m.RecordFinding(CategorySSN)

	before := m.Reset()
	if before.TotalValidations != 2 || before.Passed != 1 || before.Failed != 1 || before.Warnings != 3 {
		t.Errorf("Reset() returned %+v; want {2 1 1 3}", before)
	}

	s := m.Statistics()
	if s != (Statistics{}) {
		t.Errorf("Statistics() after Reset = %+v; want zero", s)
	}
	if m.MinValidationTime() != 0 {
		t.Errorf("MinValidationTime() after Reset = %v; want 0", m.MinValidationTime())
	}
	if len(m.AllPhaseStats()) != 0 {
		t.Error("phase stats should be cleared by Reset")
	}
	if m.FindingsTotal() != 0 {
		t.Error("findings should be cleared by Reset")
	}
	if m.Resets() != 1 {
		t.Errorf("Resets() = %d; want 1", m.Resets())
	}

	m.RecordValidation(time.Millisecond, true, 0)
	if got := m.Statistics().TotalValidations; got != 1 {
		t.Errorf("TotalValidations after reset and one call = %d; want 1", got)
	}
}

func TestMetrics_Concurrent(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup

	const goroutines = 50
	const perGoroutine = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				m.RecordValidation(time.Microsecond, (i+j)%2 == 0, 1)
			}
		}(i)
	}

	// Snapshots taken while recording must always balance.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for k := 0; k < 100; k++ {
			s := m.Statistics()
			if s.Passed+s.Failed != s.TotalValidations {
				t.Errorf("Passed+Failed = %d; want %d", s.Passed+s.Failed, s.TotalValidations)
				return
			}
		}
	}()

	wg.Wait()
	<-done

	s := m.Statistics()
	if s.TotalValidations != goroutines*perGoroutine {
		t.Errorf("TotalValidations = %d; want %d", s.TotalValidations, goroutines*perGoroutine)
	}
	if s.Passed+s.Failed != s.TotalValidations {
		t.Errorf("Passed+Failed = %d; want %d", s.Passed+s.Failed, s.TotalValidations)
	}
	if s.Warnings != goroutines*perGoroutine {
		t.Errorf("Warnings = %d; want %d", s.Warnings, goroutines*perGoroutine)
	}
}

func TestMetrics_ResetDuringRecording(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var counted uint64

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				m.RecordValidation(time.Microsecond, true, 0)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		before := m.Reset()
		if before.Passed+before.Failed != before.TotalValidations {
			t.Errorf("Reset() snapshot unbalanced: %+v", before)
		}
		mu.Lock()
		counted += before.TotalValidations
		mu.Unlock()
	}
	wg.Wait()
	counted += m.Reset().TotalValidations

	if counted != 8*500 {
		t.Errorf("validations counted across resets = %d; want %d", counted, 8*500)
	}
}

func BenchmarkMetrics_RecordValidation(b *testing.B) {
	m := NewMetrics()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		m.RecordValidation(time.Millisecond, true, 0)
	}
}

func BenchmarkMetrics_Concurrent(b *testing.B) {
	m := NewMetrics()

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.RecordValidation(time.Millisecond, true, 0)
		}
	})
}
