package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics holds Prometheus metrics for the ideas and scores engine.
type EngineMetrics struct {
	Commands *prometheus.CounterVec
	Ideas    prometheus.Gauge
	Scores   prometheus.Gauge
}

// NewEngineMetrics creates and registers engine metrics on the given registry.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "commands_total",
			Help:      "Total number of engine commands handled, by command and result.",
		}, []string{"command", "result"}),
		Ideas: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ideas",
			Help:      "Number of ideas currently proposed.",
		}),
		Scores: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "score_records",
			Help:      "Number of score records for the current season.",
		}),
	}

	reg.MustRegister(m.Commands, m.Ideas, m.Scores)
	return m
}

func (m *EngineMetrics) Observe(command string, err error) {
	m.Commands.WithLabelValues(command, resultOf(err)).Inc()
}
