package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulerMetrics holds Prometheus metrics for scheduled one-shot tasks.
type SchedulerMetrics struct {
	TasksFired  *prometheus.CounterVec
	ActiveTasks prometheus.Gauge
	Dropped     prometheus.Counter
}

// NewSchedulerMetrics creates and registers scheduler metrics on the given registry.
func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		TasksFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_fired_total",
			Help:      "Total number of scheduled tasks that fired, by objective and result.",
		}, []string{"objective", "result"}),
		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "active_tasks",
			Help:      "Number of tasks with an armed timer.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "hydrate_dropped_total",
			Help:      "Total number of persisted tasks dropped on startup because their time had passed.",
		}),
	}

	reg.MustRegister(m.TasksFired, m.ActiveTasks, m.Dropped)
	return m
}

func (m *SchedulerMetrics) ObserveFired(objective string, err error) {
	m.TasksFired.WithLabelValues(objective, resultOf(err)).Inc()
}
