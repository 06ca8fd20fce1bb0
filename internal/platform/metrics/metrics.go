package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP boundary's Prometheus metrics.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	EventsPublished prometheus.Counter
	PublishRejected *prometheus.CounterVec
}

// New creates and registers the HTTP metrics. Call once per process.
func New() *Metrics {
	return &Metrics{
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "HTTP requests handled, by route and status code",
		}, []string{"method", "route", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Events accepted by the publish endpoint",
		}),
		PublishRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_publish_rejected_total",
			Help: "Publish requests rejected, by error code",
		}, []string{"code"}),
	}
}

// ObserveRequest records one finished request. Safe on a nil receiver.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) IncEventsPublished() {
	if m == nil {
		return
	}
	m.EventsPublished.Inc()
}

func (m *Metrics) IncPublishRejected(code string) {
	if m == nil {
		return
	}
	m.PublishRejected.WithLabelValues(code).Inc()
}
