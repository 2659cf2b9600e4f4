package worker

import (
	"context"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
)

// ValidateFunc is the function signature for validating a single record.
type ValidateFunc func(ctx context.Context, rec record.Record) (*ph.Result, error)

// BatchValidator validates slices of records across a bounded number of
// goroutines.
type BatchValidator struct {
	validate ValidateFunc
	workers  int
}

// NewBatchValidator creates a new batch validator.
func NewBatchValidator(fn ValidateFunc, workers int) *BatchValidator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &BatchValidator{
		validate: fn,
		workers:  workers,
	}
}

// ValidateBatch validates records and returns the completed results in
// input order. Cancelling ctx stops the batch before the next record is
// started; records already started complete.
func (bv *BatchValidator) ValidateBatch(ctx context.Context, records []record.Record) *BatchResult {
	if len(records) == 0 {
		return &BatchResult{
			Results: make([]*JobResult, 0),
		}
	}

	// For small batches, don't use parallelism
	if len(records) <= 2 || bv.workers == 1 {
		return bv.validateSequential(ctx, records)
	}

	return bv.validateParallel(ctx, records)
}

func (bv *BatchValidator) validateSequential(ctx context.Context, records []record.Record) *BatchResult {
	br := &BatchResult{
		Results:   make([]*JobResult, 0, len(records)),
		TotalJobs: len(records),
	}

	for i, rec := range records {
		if ctx.Err() != nil {
			br.Cancelled = true
			break
		}
		r := bv.run(ctx, i, rec)
		br.Results = append(br.Results, r)
		br.TotalDuration += r.Duration
		if r.Error != nil {
			br.FailedJobs++
		}
	}

	br.CompletedJobs = len(br.Results)
	return br
}

func (bv *BatchValidator) validateParallel(ctx context.Context, records []record.Record) *BatchResult {
	results := make([]*JobResult, len(records))
	var cancelled atomic.Bool

	var g errgroup.Group
	g.SetLimit(bv.workers)
	for i, rec := range records {
		if ctx.Err() != nil {
			cancelled.Store(true)
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				cancelled.Store(true)
				return nil
			}
			results[i] = bv.run(ctx, i, rec)
			return nil
		})
	}
	_ = g.Wait()

	br := &BatchResult{
		Results:   make([]*JobResult, 0, len(records)),
		TotalJobs: len(records),
		Cancelled: cancelled.Load(),
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		br.Results = append(br.Results, r)
		br.TotalDuration += r.Duration
		if r.Error != nil {
			br.FailedJobs++
		}
	}
	br.CompletedJobs = len(br.Results)
	return br
}

func (bv *BatchValidator) run(ctx context.Context, i int, rec record.Record) *JobResult {
	start := time.Now()
	result, err := bv.validate(context.WithoutCancel(ctx), rec)
	return &JobResult{
		ID:       strconv.Itoa(i),
		Index:    i,
		Result:   result,
		Error:    err,
		Duration: time.Since(start).Nanoseconds(),
	}
}

// ValidateBatchSimple is a convenience function for batch validation.
func ValidateBatchSimple(ctx context.Context, fn ValidateFunc, records []record.Record) *BatchResult {
	return NewBatchValidator(fn, runtime.NumCPU()).ValidateBatch(ctx, records)
}
