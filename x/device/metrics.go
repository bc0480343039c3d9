package device

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/pdp-relay/metrics"
)

// Metrics holds device writer metrics
type Metrics struct {
	WritesTotal   *prometheus.CounterVec
	WriteDuration prometheus.Histogram
	BytesWritten  prometheus.Counter
	QueueLatency  prometheus.Histogram
	Ready         prometheus.Gauge
}

// NewMetrics creates device writer metrics
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry("pdp_relay", "device")

	return &Metrics{
		WritesTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "writes_total",
			Help: "Status line writes by result",
		}, []string{"result", "source"}),

		WriteDuration: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "write_duration_seconds",
			Help:    "Duration of completed device writes",
			Buckets: metrics.DurationBuckets,
		}),

		BytesWritten: reg.NewCounter(prometheus.CounterOpts{
			Name: "bytes_written_total",
			Help: "Bytes written to the device",
		}),

		QueueLatency: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "queue_latency_seconds",
			Help:    "Time a status spent queued before being written",
			Buckets: metrics.DurationBuckets,
		}),

		Ready: reg.NewGauge(prometheus.GaugeOpts{
			Name: "ready",
			Help: "1 once the device settle delay has elapsed",
		}),
	}
}
