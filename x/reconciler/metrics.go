package reconciler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/pdp-relay/metrics"
)

// Metrics holds reconciliation metrics
type Metrics struct {
	TicksTotal     *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	StatusesTotal  *prometheus.CounterVec
	RootsMatched   prometheus.Histogram
	ErrorsTotal    *prometheus.CounterVec
	LastTickSecond prometheus.Gauge
}

// NewMetrics creates reconciler metrics
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry("pdp_relay", "reconciler")

	return &Metrics{
		TicksTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "ticks_total",
			Help: "Reconciliation ticks by outcome",
		}, []string{"outcome"}),

		FetchDuration: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Duration of PDP explorer roots requests",
			Buckets: metrics.DurationBuckets,
		}),

		StatusesTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "statuses_total",
			Help: "Derived statuses enqueued for the device",
		}, []string{"status"}),

		RootsMatched: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "roots_matched",
			Help:    "Number of roots matching the tracked content identifier",
			Buckets: metrics.CountBuckets,
		}),

		ErrorsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of reconciliation errors",
		}, []string{"type", "operation"}),

		LastTickSecond: reg.NewGauge(prometheus.GaugeOpts{
			Name: "last_tick_timestamp_seconds",
			Help: "Unix time of the last completed tick",
		}),
	}
}

// RecordTick records the outcome of one tick.
func (m *Metrics) RecordTick(outcome Outcome, at time.Time) {
	m.TicksTotal.WithLabelValues(string(outcome)).Inc()
	m.LastTickSecond.Set(float64(at.Unix()))
}

// RecordFetch records the duration of a roots request.
func (m *Metrics) RecordFetch(d time.Duration) {
	m.FetchDuration.Observe(d.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(errType, operation string) {
	m.ErrorsTotal.WithLabelValues(errType, operation).Inc()
}
