package metrics

import "github.com/prometheus/client_golang/prometheus"

// PersistenceMetrics holds Prometheus metrics for key-value snapshot writes and loads.
type PersistenceMetrics struct {
	Saves        *prometheus.CounterVec
	Loads        *prometheus.CounterVec
	SaveDuration prometheus.Histogram
}

// NewPersistenceMetrics creates and registers persistence metrics on the given registry.
func NewPersistenceMetrics(reg prometheus.Registerer) *PersistenceMetrics {
	m := &PersistenceMetrics{
		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "saves_total",
			Help:      "Total number of snapshot saves, by key and result.",
		}, []string{"key", "result"}),
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "loads_total",
			Help:      "Total number of snapshot loads, by key and outcome (ok, missing, default).",
		}, []string{"key", "outcome"}),
		SaveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "save_duration_seconds",
			Help:      "Duration of backend writes in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}

	reg.MustRegister(m.Saves, m.Loads, m.SaveDuration)
	return m
}
