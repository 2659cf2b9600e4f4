package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrSinkUnavailable marks sink write failures. It is logged, never
// returned to Emit callers.
var ErrSinkUnavailable = errors.New("audit sink unavailable")

// Publisher accepts audit events. Emit must not block on I/O and must not
// fail the caller.
type Publisher interface {
	Emit(event Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// Sink stores batches of events. Write is called from a single goroutine.
type Sink interface {
	Write(ctx context.Context, events []Event) error
	Close() error
}

// Config tunes an Emitter.
type Config struct {
	BufferSize    int
	BatchSize     int
	MaxRetries    int
	RetryBackoff  time.Duration
	FlushInterval time.Duration

	// BreakerThreshold is the number of consecutive exhausted batches that
	// open the circuit; BreakerCooldown how long it stays open.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultConfig returns the default emitter tuning.
func DefaultConfig() Config {
	return Config{
		BufferSize:       DefaultBufferSize,
		BatchSize:        64,
		MaxRetries:       3,
		RetryBackoff:     50 * time.Millisecond,
		FlushInterval:    200 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithConfig sets the emitter tuning. Zero fields keep defaults; a negative
// MaxRetries disables retries.
func WithConfig(c Config) Option {
	return func(e *Emitter) {
		d := DefaultConfig()
		if c.BufferSize > 0 {
			d.BufferSize = c.BufferSize
		}
		if c.BatchSize > 0 {
			d.BatchSize = c.BatchSize
		}
		switch {
		case c.MaxRetries > 0:
			d.MaxRetries = c.MaxRetries
		case c.MaxRetries < 0:
			d.MaxRetries = 0
		}
		if c.RetryBackoff > 0 {
			d.RetryBackoff = c.RetryBackoff
		}
		if c.FlushInterval > 0 {
			d.FlushInterval = c.FlushInterval
		}
		if c.BreakerThreshold > 0 {
			d.BreakerThreshold = c.BreakerThreshold
		}
		if c.BreakerCooldown > 0 {
			d.BreakerCooldown = c.BreakerCooldown
		}
		e.cfg = d
	}
}

// WithLogger sets the logger used for local reporting of audit failures.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRegisterer registers the emitter metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Emitter) {
		e.metrics = NewMetrics(reg)
	}
}

// WithMetrics sets prebuilt emitter metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Emitter) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// Emitter is a buffered, non-blocking Publisher backed by a Sink.
type Emitter struct {
	sink    Sink
	cfg     Config
	buf     *RingBuffer
	breaker *CircuitBreaker
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	chainMu  sync.Mutex
	seq      uint64
	prevHash string

	wake    chan struct{}
	flushes chan chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// NewEmitter creates an Emitter and starts its writer goroutine.
func NewEmitter(sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		sink:    sink,
		cfg:     DefaultConfig(),
		logger:  zap.NewNop(),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		flushes: make(chan chan struct{}),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	e.buf = NewRingBuffer(e.cfg.BufferSize)
	e.breaker = NewCircuitBreaker(e.cfg.BreakerThreshold, e.cfg.BreakerCooldown)
	e.ctx, e.cancel = context.WithCancel(context.Background())

	go e.run()
	return e
}

// Emit stamps the event and queues it. It never blocks on the sink. When
// the buffer is full the oldest queued event is dropped.
func (e *Emitter) Emit(event Event) {
	if e.closed.Load() {
		e.metrics.incDropped(DropClosed, 1)
		e.logger.Warn("audit event dropped after close",
			zap.String("event_type", string(event.EventType)))
		return
	}

	e.chainMu.Lock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	event.Timestamp = event.Timestamp.UTC()
	e.seq++
	event.Sequence = e.seq
	event.PrevHash = e.prevHash
	hash, err := event.ComputeHash()
	if err != nil {
		e.seq--
		e.chainMu.Unlock()
		e.logger.Error("audit event not hashable; dropped",
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
		return
	}
	event.Hash = hash
	e.prevHash = hash
	dropped := e.buf.Enqueue(event)
	e.chainMu.Unlock()

	e.metrics.Emitted.Inc()
	e.metrics.BufferDepth.Set(float64(e.buf.Len()))
	if dropped {
		e.metrics.incDropped(DropBufferFull, 1)
		e.logger.Warn("audit buffer full; oldest event dropped",
			zap.Int("capacity", e.buf.Cap()))
	}

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every event emitted before the call has been handed
// to the sink (written or dropped), or ctx is done.
func (e *Emitter) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case e.flushes <- done:
	case <-e.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, drains the buffer and closes the sink. If
// ctx ends first, in-flight writes are cancelled and ctx's error returned.
func (e *Emitter) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.stop)

		select {
		case <-e.stopped:
		case <-ctx.Done():
			e.cancel()
			<-e.stopped
			e.closeErr = ctx.Err()
		}
		// Events that raced with close are still written.
		e.drain(true)
		e.cancel()

		if err := e.sink.Close(); err != nil && e.closeErr == nil {
			e.closeErr = errors.Wrap(err, "close audit sink")
		}
	})
	return e.closeErr
}

// Buffered returns the number of events waiting to be written.
func (e *Emitter) Buffered() int {
	return e.buf.Len()
}

// Dropped returns the number of events dropped because the buffer was full.
func (e *Emitter) Dropped() uint64 {
	return e.buf.Dropped()
}

// Sequence returns the sequence number of the last emitted event.
func (e *Emitter) Sequence() uint64 {
	e.chainMu.Lock()
	defer e.chainMu.Unlock()
	return e.seq
}

func (e *Emitter) run() {
	defer close(e.stopped)

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.wake:
			e.drain(false)
		case <-ticker.C:
			e.drain(false)
		case done := <-e.flushes:
			e.drain(true)
			close(done)
		case <-e.stop:
			e.drain(true)
			return
		}
	}
}

// drain writes queued batches. Unless all is set, it writes at most the
// batches queued when it started so that a busy producer cannot starve
// flush requests.
func (e *Emitter) drain(all bool) {
	limit := e.buf.Len()
	for all || limit > 0 {
		batch := e.buf.DequeueBatch(e.cfg.BatchSize)
		if len(batch) == 0 {
			break
		}
		limit -= len(batch)
		e.write(batch)
		e.metrics.BufferDepth.Set(float64(e.buf.Len()))
	}
}

func (e *Emitter) write(batch []Event) {
	if !e.breaker.Allow() {
		e.metrics.incDropped(DropCircuitOpen, len(batch))
		e.logger.Error("audit circuit open; batch dropped",
			zap.Int("events", len(batch)),
			zap.Uint64("first_sequence", batch[0].Sequence))
		return
	}

	var err error
	backoff := e.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		if err = e.sink.Write(e.ctx, batch); err == nil {
			e.breaker.RecordSuccess()
			e.metrics.setCircuitState(false)
			e.metrics.Written.Add(float64(len(batch)))
			return
		}
		e.logger.Warn("audit sink write failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt >= e.cfg.MaxRetries || !e.sleep(backoff) {
			break
		}
		e.metrics.Retries.Inc()
		backoff *= 2
	}

	open := e.breaker.RecordFailure()
	e.metrics.setCircuitState(open)
	e.metrics.incDropped(DropSinkUnavailable, len(batch))
	e.logger.Error("audit batch dropped",
		zap.Int("events", len(batch)),
		zap.Uint64("first_sequence", batch[0].Sequence),
		zap.Uint64("last_sequence", batch[len(batch)-1].Sequence),
		zap.Bool("circuit_open", open),
		zap.Error(errors.Mark(err, ErrSinkUnavailable)))
}

// sleep waits for d and reports false if the emitter was cancelled first.
func (e *Emitter) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.ctx.Done():
		return false
	}
}

var _ Publisher = (*Emitter)(nil)
