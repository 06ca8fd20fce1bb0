package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the dispatch engine's Prometheus metrics.
type Metrics struct {
	Invocations      *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	RetriesScheduled prometheus.Counter
	TerminalWrites   *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
}

// NewMetrics registers the dispatch metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dispatch_invocations_total",
			Help: "Handler invocations by action and outcome",
		}, []string{"action", "outcome"}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_dispatch_handler_duration_seconds",
			Help:    "Handler execution time by action",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		RetriesScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_dispatch_retries_scheduled_total",
			Help: "Failed attempts rescheduled with backoff",
		}),
		TerminalWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dispatch_terminal_writes_total",
			Help: "Terminal status writes by status",
		}, []string{"status"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dispatch_notifications_total",
			Help: "Status notifications pushed to user groups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveInvocation(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(action, outcome).Inc()
	m.HandlerDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) IncRetriesScheduled() {
	if m == nil {
		return
	}
	m.RetriesScheduled.Inc()
}

func (m *Metrics) IncTerminalWrite(status string) {
	if m == nil {
		return
	}
	m.TerminalWrites.WithLabelValues(status).Inc()
}

func (m *Metrics) IncNotification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}
