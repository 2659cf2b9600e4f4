package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/audit"
	"github.com/gofhir/phigate/ingest"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/worker"
)

// ValidateBatch validates records across the configured number of workers
// and returns the results in input order. Cancelling ctx stops the batch
// between records; a record that has started always completes.
func (v *Validator) ValidateBatch(ctx context.Context, records []record.Record) *worker.BatchResult {
	batchID := uuid.NewString()
	v.emit(audit.EventBatchStart, audit.StatusStarted, map[string]any{
		"batch_id": batchID,
		"records":  len(records),
	})

	bv := worker.NewBatchValidator(v.Validate, v.options.WorkerCount)
	br := bv.ValidateBatch(ctx, records)

	v.emitBatchEnd(batchID, br.CompletedJobs, br.ValidCount(), br.InvalidCount(), br.FailedJobs, br.Cancelled)
	return br
}

// NewPool starts a long-lived worker pool backed by this validator. If
// workers <= 0 the configured worker count is used. The caller must close
// the pool.
func (v *Validator) NewPool(workers int) *worker.Pool {
	if workers <= 0 {
		workers = v.options.WorkerCount
	}
	return worker.NewPool(v, workers)
}

// SourceFunc receives each validated record of a source in input order.
// Returning an error stops the run.
type SourceFunc func(index int, rec record.Record, res *ph.Result) error

// SourceSummary counts the outcome of ValidateSource.
type SourceSummary struct {
	Source    string `json:"source"`
	Records   int    `json:"records"`
	Valid     int    `json:"valid"`
	Invalid   int    `json:"invalid"`
	Rejected  int    `json:"rejected"`
	Cancelled bool   `json:"cancelled"`
}

type pendingRecord struct {
	index int
	rec   record.Record
	res   *ph.Result
	err   error
	done  chan struct{}
}

// ValidateSource streams the records of src through the validator. Up to
// the configured worker count of records are validated concurrently; fn
// is called from a single goroutine in source order. Records the source
// rejects are counted and skipped. Ingestion audit events are emitted to
// the validator's publisher.
//
// Cancelling ctx stops reading the source; records in flight complete and
// are delivered before ValidateSource returns ctx's error.
func (v *Validator) ValidateSource(ctx context.Context, src ingest.Source, fn SourceFunc) (SourceSummary, error) {
	summary := SourceSummary{Source: src.Name()}
	workers := v.options.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	batchID := uuid.NewString()
	v.emit(audit.EventBatchStart, audit.StatusStarted, map[string]any{
		"batch_id":    batchID,
		"source":      src.Name(),
		"source_type": ingest.KindOf(src),
	})

	audited := ingest.Audited(src, v.auditor, v.options.Actor)
	queue := make(chan *pendingRecord, workers)
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	g.Go(func() error {
		defer close(queue)
		index := 0
		for rec, err := range audited.Records(ctx) {
			if err != nil {
				if ingest.IsRecordError(err) {
					summary.Rejected++
					v.logger.Warn("record rejected by source",
						zap.String("source", src.Name()),
						zap.String("error", errors.Redact(err)))
					continue
				}
				return err
			}
			p := &pendingRecord{index: index, rec: rec, done: make(chan struct{})}
			index++
			select {
			case queue <- p:
			case <-gctx.Done():
				return nil
			}
			go func() {
				defer close(p.done)
				p.res, p.err = v.Validate(gctx, p.rec)
			}()
		}
		return nil
	})

	g.Go(func() error {
		for p := range queue {
			<-p.done
			if p.err != nil {
				return p.err
			}
			summary.Records++
			if p.res.Valid {
				summary.Valid++
			} else {
				summary.Invalid++
			}
			if fn == nil {
				continue
			}
			if err := fn(p.index, p.rec, p.res); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	summary.Cancelled = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)

	faults := 0
	if err != nil && ph.IsInternal(err) {
		faults = 1
	}
	v.emitBatchEnd(batchID, summary.Records, summary.Valid, summary.Invalid, faults, summary.Cancelled)
	return summary, err
}

func (v *Validator) emitBatchEnd(batchID string, records, valid, invalid, faults int, cancelled bool) {
	t, status := audit.EventBatchComplete, audit.StatusSuccess
	switch {
	case cancelled:
		t, status = audit.EventBatchCancelled, audit.StatusWarning
	case faults > 0:
		status = audit.StatusError
	case invalid > 0:
		status = audit.StatusFailure
	}
	v.emit(t, status, map[string]any{
		"batch_id": batchID,
		"records":  records,
		"valid":    valid,
		"invalid":  invalid,
		"faults":   faults,
	})
	v.logger.Info("batch finished",
		zap.String("batch_id", batchID),
		zap.Int("records", records),
		zap.Int("invalid", invalid),
		zap.Bool("cancelled", cancelled))
}
