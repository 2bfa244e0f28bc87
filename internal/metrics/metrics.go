// Package metrics exposes Prometheus instrumentation for task routing.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the bridge's Prometheus collectors. It implements
// tasking.Observer.
type Metrics struct {
	TasksRoutedTotal *prometheus.CounterVec
	RouteDuration    *prometheus.HistogramVec
	QueueDepth       prometheus.Gauge
	TasksEnqueued    *prometheus.CounterVec
	DispatchFailures prometheus.Counter
}

// NewMetrics returns the process-wide Metrics registered on the default
// registry. Repeated calls return the same instance.
//
// Metrics:
//   - cibridge_tasks_routed_total{route,status}
//   - cibridge_task_route_duration_seconds{route}
//   - cibridge_queue_depth
//   - cibridge_tasks_enqueued_total{result}
//   - cibridge_dispatch_failures_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsWith(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// NewMetricsWith registers a fresh set of collectors on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksRoutedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cibridge_tasks_routed_total",
				Help: "Total number of tasks routed, by route and result status code",
			},
			[]string{"route", "status"},
		),
		RouteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cibridge_task_route_duration_seconds",
				Help:    "Time spent routing a task, including the plugin call",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"route"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cibridge_queue_depth",
				Help: "Number of tasks waiting to be dispatched",
			},
		),
		TasksEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cibridge_tasks_enqueued_total",
				Help: "Total number of task submissions, by outcome",
			},
			[]string{"result"}, // "created" or "duplicate"
		),
		DispatchFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cibridge_dispatch_failures_total",
				Help: "Total number of queued tasks that could not be dispatched",
			},
		),
	}
}

// ObserveRoute records one routed task.
func (m *Metrics) ObserveRoute(route string, status int, elapsed time.Duration) {
	m.TasksRoutedTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RouteDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveEnqueue records a task submission.
func (m *Metrics) ObserveEnqueue(created bool) {
	if created {
		m.TasksEnqueued.WithLabelValues("created").Inc()
		return
	}
	m.TasksEnqueued.WithLabelValues("duplicate").Inc()
}

// SetQueueDepth publishes the current queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// IncDispatchFailures counts a task the dispatcher could not claim or complete.
func (m *Metrics) IncDispatchFailures() {
	m.DispatchFailures.Inc()
}
