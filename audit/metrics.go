package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	DropBufferFull      = "buffer_full"
	DropCircuitOpen     = "circuit_open"
	DropSinkUnavailable = "sink_unavailable"
	DropClosed          = "closed"
)

// Metrics holds Prometheus metrics for the emitter.
type Metrics struct {
	Emitted      prometheus.Counter
	Written      prometheus.Counter
	Dropped      *prometheus.CounterVec
	Retries      prometheus.Counter
	BufferDepth  prometheus.Gauge
	CircuitState prometheus.Gauge
}

// NewMetrics creates emitter metrics registered with reg. A nil reg
// creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Emitted: f.NewCounter(prometheus.CounterOpts{
			Name: "phigate_audit_events_emitted_total",
			Help: "Total number of audit events accepted by the emitter",
		}),
		Written: f.NewCounter(prometheus.CounterOpts{
			Name: "phigate_audit_events_written_total",
			Help: "Total number of audit events written to the sink",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phigate_audit_events_dropped_total",
			Help: "Total number of audit events dropped, by reason",
		}, []string{"reason"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "phigate_audit_write_retries_total",
			Help: "Total number of retried sink writes",
		}),
		BufferDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "phigate_audit_buffer_depth",
			Help: "Number of audit events waiting to be written",
		}),
		CircuitState: f.NewGauge(prometheus.GaugeOpts{
			Name: "phigate_audit_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) incDropped(reason string, n int) {
	m.Dropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) setCircuitState(open bool) {
	if open {
		m.CircuitState.Set(1)
	} else {
		m.CircuitState.Set(0)
	}
}
