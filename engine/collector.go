package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "phigate"

// Collector exports the validator statistics to Prometheus. Values are read
// from one snapshot per scrape, so passed+failed always equals total.
type Collector struct {
	v *Validator

	total         *prometheus.Desc
	outcomes      *prometheus.Desc
	warnings      *prometheus.Desc
	errors        *prometheus.Desc
	findings      *prometheus.Desc
	phaseDuration *prometheus.Desc
	resets        *prometheus.Desc
}

// Collector returns a Prometheus collector for v. Register it with a
// registry of your choice.
func (v *Validator) Collector() *Collector {
	labels := prometheus.Labels{"schema": v.schema.Name()}
	return &Collector{
		v: v,
		total: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "validations", "total"),
			"Records validated since the last statistics reset.",
			nil, labels),
		outcomes: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "validations", "outcome_total"),
			"Validated records by outcome.",
			[]string{"outcome"}, labels),
		warnings: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "validation", "warnings_total"),
			"Warnings reported since the last statistics reset.",
			nil, labels),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "validation", "errors_total"),
			"Error issues reported since the last statistics reset.",
			nil, labels),
		findings: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "phi", "findings_total"),
			"PHI findings by category.",
			[]string{"category"}, labels),
		phaseDuration: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "phase", "duration_seconds_total"),
			"Cumulative time spent in each validation phase.",
			[]string{"phase"}, labels),
		resets: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "statistics", "resets_total"),
			"Number of statistics resets.",
			nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.outcomes
	ch <- c.warnings
	ch <- c.errors
	ch <- c.findings
	ch <- c.phaseDuration
	ch <- c.resets
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.v.metrics
	snap := m.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, float64(snap.TotalValidations))
	ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(snap.Passed), "passed")
	ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(snap.Failed), "failed")
	ch <- prometheus.MustNewConstMetric(c.warnings, prometheus.CounterValue, float64(snap.Warnings))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(snap.ErrorsTotal))
	for cat, n := range m.FindingsByCategory() {
		ch <- prometheus.MustNewConstMetric(c.findings, prometheus.CounterValue, float64(n), string(cat))
	}
	for _, ps := range snap.Phases {
		ch <- prometheus.MustNewConstMetric(c.phaseDuration, prometheus.CounterValue,
			ps.TotalTime.Seconds(), ps.Name)
	}
	ch <- prometheus.MustNewConstMetric(c.resets, prometheus.CounterValue, float64(m.Resets()))
}

var _ prometheus.Collector = (*Collector)(nil)
