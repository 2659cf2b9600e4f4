package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
)

// mockValidator implements the Validator interface for testing.
type mockValidator struct {
	callCount atomic.Int32
	delay     time.Duration
	err       error
}

func (m *mockValidator) Validate(_ context.Context, rec record.Record) (*ph.Result, error) {
	m.callCount.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	res := ph.NewResult()
	if !rec.Present("patient_id") {
		res.AddIssue(ph.Error(ph.IssueTypeRequired).Diagnostics("missing required field: patient_id").Build())
	}
	return res, nil
}

func records(n int) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		out[i] = record.MustFromMap(map[string]any{"patient_id": "P1", "seq": i})
	}
	return out
}

func TestPool_NewPool(t *testing.T) {
	pool := NewPool(&mockValidator{}, 2)
	defer pool.Close()

	if pool.workers != 2 {
		t.Errorf("workers = %d; want 2", pool.workers)
	}
}

func TestPool_DefaultWorkers(t *testing.T) {
	pool := NewPool(&mockValidator{}, 0)
	defer pool.Close()

	if pool.workers <= 0 {
		t.Errorf("workers = %d; want > 0", pool.workers)
	}
}

func TestPool_SubmitAndReceive(t *testing.T) {
	pool := NewPool(&mockValidator{}, 2)
	defer pool.Close()

	if !pool.Submit(Job{ID: "test-1", Record: records(1)[0]}) {
		t.Fatal("expected job to be submitted")
	}

	select {
	case result := <-pool.Results():
		if result.ID != "test-1" {
			t.Errorf("ID = %q; want %q", result.ID, "test-1")
		}
		if result.Result == nil || !result.Result.Valid {
			t.Errorf("Result = %+v; want valid result", result.Result)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for result")
	}
}

func TestPool_CloseAndWait(t *testing.T) {
	v := &mockValidator{delay: time.Millisecond}
	pool := NewPool(v, 3)

	recs := records(20)
	recs[7] = record.MustFromMap(map[string]any{"seq": 7})
	for i, rec := range recs {
		pool.Submit(Job{ID: string(rune('a' + i)), Record: rec})
	}

	batch := pool.CloseAndWait()
	if batch.TotalJobs != 20 || batch.CompletedJobs != 20 || len(batch.Results) != 20 {
		t.Fatalf("batch = %d/%d/%d; want 20 jobs completed", batch.TotalJobs, batch.CompletedJobs, len(batch.Results))
	}
	for i, r := range batch.Results {
		if r.Index != i {
			t.Errorf("Results[%d].Index = %d; want submission order", i, r.Index)
		}
	}
	if batch.ValidCount() != 19 || !batch.HasErrors() || batch.ErrorCount() != 1 {
		t.Errorf("ValidCount() = %d, ErrorCount() = %d; want 19, 1", batch.ValidCount(), batch.ErrorCount())
	}
}

func TestPool_SubmitToClosedPool(t *testing.T) {
	pool := NewPool(&mockValidator{}, 2)
	pool.Close()

	if pool.Submit(Job{ID: "after-close"}) {
		t.Error("expected submit to fail after close")
	}
	if pool.SubmitAsync(Job{ID: "after-close"}) {
		t.Error("expected async submit to fail after close")
	}
}

func TestPool_DoubleClose(t *testing.T) {
	pool := NewPool(&mockValidator{}, 2)

	pool.Close()
	pool.Close()
	if got := pool.CloseAndWait(); len(got.Results) != 0 {
		t.Errorf("CloseAndWait() after Close = %d results; want 0", len(got.Results))
	}
}

func TestPool_NilValidator(t *testing.T) {
	pool := NewPool(nil, 2)
	defer pool.Close()

	pool.Submit(Job{ID: "nil-validator"})

	select {
	case result := <-pool.Results():
		if !errors.Is(result.Error, ErrNoValidator) {
			t.Errorf("Error = %v; want ErrNoValidator", result.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for result")
	}
}

func TestPool_Stats(t *testing.T) {
	pool := NewPool(&mockValidator{}, 2)
	defer pool.Close()

	pool.Submit(Job{ID: "stats-test", Record: records(1)[0]})

	select {
	case <-pool.Results():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for result")
	}

	stats := pool.Stats()
	if stats.Workers != 2 {
		t.Errorf("Workers = %d; want 2", stats.Workers)
	}
	if stats.JobsSubmitted != 1 || stats.JobsCompleted != 1 {
		t.Errorf("Stats() = %+v; want one job submitted and completed", stats)
	}
}

func TestBatchValidator_EmptyBatch(t *testing.T) {
	bv := NewBatchValidator((&mockValidator{}).Validate, 2)

	result := bv.ValidateBatch(context.Background(), nil)
	if result.TotalJobs != 0 || len(result.Results) != 0 {
		t.Errorf("ValidateBatch(nil) = %+v; want empty batch", result)
	}
}

func TestBatchValidator_SmallBatch(t *testing.T) {
	v := &mockValidator{}
	bv := NewBatchValidator(v.Validate, 2)

	result := bv.ValidateBatch(context.Background(), records(2))
	if result.TotalJobs != 2 {
		t.Errorf("TotalJobs = %d; want 2", result.TotalJobs)
	}
	if result.CompletedJobs != 2 {
		t.Errorf("CompletedJobs = %d; want 2", result.CompletedJobs)
	}
	if int(v.callCount.Load()) != 2 {
		t.Errorf("callCount = %d; want 2", v.callCount.Load())
	}
}

func TestBatchValidator_ParallelExecution(t *testing.T) {
	v := &mockValidator{delay: 10 * time.Millisecond}
	bv := NewBatchValidator(v.Validate, 4)

	start := time.Now()
	result := bv.ValidateBatch(context.Background(), records(10))
	duration := time.Since(start)

	if result.TotalJobs != 10 || result.CompletedJobs != 10 {
		t.Errorf("jobs = %d/%d; want 10/10", result.CompletedJobs, result.TotalJobs)
	}
	for i, r := range result.Results {
		if r.Index != i {
			t.Errorf("Results[%d].Index = %d; want input order", i, r.Index)
		}
	}

	// 4 workers, 10 jobs of 10ms: well under the 100ms sequential time
	if duration > 200*time.Millisecond {
		t.Errorf("duration = %v; expected < 200ms for parallel execution", duration)
	}
}

func TestBatchValidator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var seen atomic.Int32
	bv := NewBatchValidator(func(ctx context.Context, rec record.Record) (*ph.Result, error) {
		if seen.Add(1) == 3 {
			cancel()
		}
		if ctx.Err() != nil {
			t.Error("record validated with a cancelled context")
		}
		return ph.NewResult(), nil
	}, 1)

	result := bv.ValidateBatch(ctx, records(10))
	if !result.Cancelled {
		t.Error("Cancelled = false; want true")
	}
	if result.CompletedJobs != 3 {
		t.Errorf("CompletedJobs = %d; want 3", result.CompletedJobs)
	}
	if result.TotalJobs != 10 {
		t.Errorf("TotalJobs = %d; want 10", result.TotalJobs)
	}
}

func TestBatchValidator_Faults(t *testing.T) {
	v := &mockValidator{err: errors.New("boom")}
	result := NewBatchValidator(v.Validate, 4).ValidateBatch(context.Background(), records(5))

	if result.FailedJobs != 5 || !result.HasErrors() {
		t.Errorf("FailedJobs = %d; want 5", result.FailedJobs)
	}
}

func TestBatchResult_HasErrors(t *testing.T) {
	t.Run("nil result", func(t *testing.T) {
		br := &BatchResult{Results: []*JobResult{{ID: "1"}}}
		if br.HasErrors() {
			t.Error("expected HasErrors() = false for nil result")
		}
	})

	t.Run("with error", func(t *testing.T) {
		br := &BatchResult{Results: []*JobResult{{ID: "1", Error: ErrNoValidator}}}
		if !br.HasErrors() {
			t.Error("expected HasErrors() = true when error present")
		}
	})
}

func TestValidateBatchSimple(t *testing.T) {
	v := &mockValidator{}
	result := ValidateBatchSimple(context.Background(), v.Validate, records(3))
	if result.TotalJobs != 3 {
		t.Errorf("TotalJobs = %d; want 3", result.TotalJobs)
	}
	if int(v.callCount.Load()) != 3 {
		t.Errorf("callCount = %d; want 3", v.callCount.Load())
	}
}
