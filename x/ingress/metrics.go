package ingress

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/pdp-relay/metrics"
)

// Metrics holds ingress metrics
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestBytes    prometheus.Histogram
	StageChanges    *prometheus.CounterVec
	DuplicatesTotal prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics creates ingress metrics
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry("pdp_relay", "ingress")

	return &Metrics{
		RequestsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Received requests by result",
		}, []string{"result"}),

		RequestBytes: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "request_size_bytes",
			Help:    "Size of received request bodies",
			Buckets: metrics.SizeBuckets,
		}),

		StageChanges: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "stage_changes_total",
			Help: "Accepted stage changes",
		}, []string{"stage"}),

		DuplicatesTotal: reg.NewCounter(prometheus.CounterOpts{
			Name: "duplicates_total",
			Help: "Requests identical to the tracked state",
		}),

		ErrorsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of ingress errors",
		}, []string{"type", "operation"}),
	}
}

// RecordError records an error
func (m *Metrics) RecordError(errType, operation string) {
	m.ErrorsTotal.WithLabelValues(errType, operation).Inc()
}
