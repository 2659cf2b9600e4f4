package worker

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
)

// Validator validates a single record.
type Validator interface {
	Validate(ctx context.Context, rec record.Record) (*ph.Result, error)
}

// ErrNoValidator is the job error of a pool built without a validator.
var ErrNoValidator = errors.New("no validator configured")

// Pool is a long-lived set of goroutines validating submitted records.
// Results arrive on Results in completion order; JobResult.Index gives the
// submission order.
type Pool struct {
	workers   int
	validator Validator

	queue chan indexedJob
	out   chan *JobResult

	// stop ends the workers early; records already being validated finish.
	stop    context.Context
	halt    context.CancelFunc
	running sync.WaitGroup

	mu     sync.RWMutex // guards closing queue against Submit
	closed bool

	seq       atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	busyNanos atomic.Uint64
}

type indexedJob struct {
	Job
	index int
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Workers       int
	JobsSubmitted uint64
	JobsCompleted uint64
	AvgDuration   time.Duration
}

// NewPool starts workers goroutines; workers <= 0 means runtime.NumCPU().
func NewPool(validator Validator, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	stop, halt := context.WithCancel(context.Background())
	p := &Pool{
		workers:   workers,
		validator: validator,
		queue:     make(chan indexedJob, workers*2),
		out:       make(chan *JobResult, workers*2),
		stop:      stop,
		halt:      halt,
	}
	p.running.Add(workers)
	for range workers {
		go p.run()
	}
	return p
}

// Submit queues job, waiting for room. It returns false once the pool is
// closed.
func (p *Pool) Submit(job Job) bool { return p.enqueue(job, true) }

// SubmitAsync is Submit without waiting: a full queue returns false.
func (p *Pool) SubmitAsync(job Job) bool { return p.enqueue(job, false) }

func (p *Pool) enqueue(job Job, wait bool) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	ij := indexedJob{Job: job, index: int(p.seq.Add(1) - 1)}
	if !wait {
		select {
		case p.queue <- ij:
			p.submitted.Add(1)
			return true
		default:
			return false
		}
	}
	select {
	case <-p.stop.Done():
		return false
	case p.queue <- ij:
		p.submitted.Add(1)
		return true
	}
}

// Results delivers finished jobs in completion order.
func (p *Pool) Results() <-chan *JobResult { return p.out }

// Close stops the pool, dropping queued jobs and unread results. It is
// safe to call more than once.
func (p *Pool) Close() {
	p.halt()
	p.drain(nil)
}

// CloseAndWait stops accepting jobs, lets the workers finish everything
// queued and returns the unread results in submission order.
func (p *Pool) CloseAndWait() *BatchResult {
	var results []*JobResult
	if !p.drain(func(r *JobResult) { results = append(results, r) }) {
		return &BatchResult{}
	}
	p.halt()

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	br := &BatchResult{
		Results:       results,
		TotalJobs:     int(p.submitted.Load()),   //nolint:gosec // fits in int
		CompletedJobs: int(p.completed.Load()),   //nolint:gosec // fits in int
		TotalDuration: int64(p.busyNanos.Load()), //nolint:gosec // fits in int64
	}
	for _, r := range results {
		if r.Error != nil {
			br.FailedJobs++
		}
	}
	return br
}

// drain closes the queue, waits for the workers and hands every result
// still in flight to collect. It reports false if the pool was already
// closed.
func (p *Pool) drain(collect func(*JobResult)) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range p.out {
			if collect != nil {
				collect(r)
			}
		}
	}()

	p.mu.Lock()
	first := !p.closed
	if first {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	if first {
		p.running.Wait()
		close(p.out)
	}
	<-done
	return first
}

// Stats returns current pool counters.
func (p *Pool) Stats() PoolStats {
	s := PoolStats{
		Workers:       p.workers,
		JobsSubmitted: p.submitted.Load(),
		JobsCompleted: p.completed.Load(),
	}
	if s.JobsCompleted > 0 {
		s.AvgDuration = time.Duration(p.busyNanos.Load() / s.JobsCompleted) //nolint:gosec // fits in int64
	}
	return s
}

func (p *Pool) run() {
	defer p.running.Done()
	for job := range p.queue {
		if p.stop.Err() != nil {
			return
		}
		r := p.process(job)
		p.completed.Add(1)
		p.busyNanos.Add(uint64(r.Duration)) //nolint:gosec // non-negative
		select {
		case <-p.stop.Done():
			return
		case p.out <- r:
		}
	}
}

func (p *Pool) process(job indexedJob) *JobResult {
	start := time.Now()
	r := &JobResult{ID: job.ID, Index: job.index}
	if p.validator == nil {
		r.Error = ErrNoValidator
	} else {
		// A record in flight always completes.
		r.Result, r.Error = p.validator.Validate(context.WithoutCancel(p.stop), job.Record)
	}
	r.Duration = time.Since(start).Nanoseconds()
	return r
}
