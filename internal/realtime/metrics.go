package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the real-time session metrics.
type Metrics struct {
	Sessions prometheus.Gauge
	Rejected prometheus.Counter
	Frames   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_realtime_sessions",
			Help: "Connected real-time sessions",
		}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_realtime_sessions_rejected_total",
			Help: "Connections closed for lack of authentication",
		}),
		Frames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_realtime_frames_total",
			Help: "WebSocket frames by direction",
		}, []string{"direction"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.Sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.Sessions.Dec()
}

func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}

func (m *Metrics) IncFrames(direction string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(direction).Inc()
}
