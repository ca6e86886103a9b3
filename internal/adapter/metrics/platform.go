package metrics

import "github.com/prometheus/client_golang/prometheus"

// PlatformMetrics holds Prometheus metrics for chat-platform API calls.
type PlatformMetrics struct {
	Requests     *prometheus.CounterVec
	BreakerState prometheus.Gauge
}

// NewPlatformMetrics creates and registers platform client metrics on the given registry.
func NewPlatformMetrics(reg prometheus.Registerer) *PlatformMetrics {
	m := &PlatformMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "platform",
			Name:      "requests_total",
			Help:      "Total number of platform API calls, by operation and result.",
		}, []string{"op", "result"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "platform",
			Name:      "circuit_breaker_state",
			Help:      "Send circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(m.Requests, m.BreakerState)
	return m
}

func (m *PlatformMetrics) Observe(op string, err error) {
	m.Requests.WithLabelValues(op, resultOf(err)).Inc()
}
