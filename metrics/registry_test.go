package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestComponentRegistry_ReusesRegisteredCollectors(t *testing.T) {
	reg := NewComponentRegistry("pdp_relay", "registry_test")

	first := reg.NewCounterVec(prometheus.CounterOpts{Name: "events_total", Help: "test"}, []string{"kind"})
	second := reg.NewCounterVec(prometheus.CounterOpts{Name: "events_total", Help: "test"}, []string{"kind"})

	first.WithLabelValues("a").Inc()
	second.WithLabelValues("a").Inc()

	require.Same(t, first, second)
	require.Equal(t, float64(2), testutil.ToFloat64(first.WithLabelValues("a")))
}

func TestGetRegistry_Singleton(t *testing.T) {
	require.Same(t, GetRegistry(), GetRegistry())
}
