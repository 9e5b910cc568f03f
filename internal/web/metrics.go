// Package web provides the optional status and metrics HTTP server.
package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the monitoring pipeline.
type Metrics struct {
	PassesTotal       *prometheus.CounterVec
	PointsTotal       *prometheus.CounterVec
	SourceErrorsTotal *prometheus.CounterVec
	NotifyErrorsTotal prometheus.Counter
	LastPassTimestamp prometheus.Gauge
	CachedKeys        prometheus.Gauge
}

// NewMetrics creates and registers the metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		PassesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelwatcher_passes_total",
				Help: "Total number of fetch passes by outcome",
			},
			[]string{"status"},
		),
		PointsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelwatcher_points_total",
				Help: "Total number of processed readings by outcome",
			},
			[]string{"outcome"},
		),
		SourceErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelwatcher_source_errors_total",
				Help: "Total number of price source errors by kind",
			},
			[]string{"kind"},
		),
		NotifyErrorsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fuelwatcher_notify_errors_total",
				Help: "Total number of swallowed notifier failures",
			},
		),
		LastPassTimestamp: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fuelwatcher_last_pass_timestamp",
				Help: "Unix timestamp of the last completed pass",
			},
		),
		CachedKeys: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fuelwatcher_cached_keys",
				Help: "Number of keys in the last-known-price cache",
			},
		),
	}
}

// RecordPass records one completed pass with its outcome counts.
func (m *Metrics) RecordPass(status string, written, skipped, failed int, unix float64) {
	m.PassesTotal.WithLabelValues(status).Inc()
	m.PointsTotal.WithLabelValues("written").Add(float64(written))
	m.PointsTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.PointsTotal.WithLabelValues("failed").Add(float64(failed))
	m.LastPassTimestamp.Set(unix)
}

// RecordSourceError records one classified price source failure.
func (m *Metrics) RecordSourceError(kind string) {
	m.SourceErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordNotifyError records one swallowed notifier failure.
func (m *Metrics) RecordNotifyError() {
	m.NotifyErrorsTotal.Inc()
}

// RecordCachedKeys records the current cache size.
func (m *Metrics) RecordCachedKeys(n int) {
	m.CachedKeys.Set(float64(n))
}
