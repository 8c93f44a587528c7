package delivery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks engine activity. All methods tolerate a nil receiver so the
// engine can run unobserved in tests.
type Metrics struct {
	activeSessions prometheus.Gauge
	sessionTotal   prometheus.Counter
	activeRooms    prometheus.Gauge
	events         *prometheus.CounterVec
	eventErrors    *prometheus.CounterVec
	eventLatency   *prometheus.HistogramVec
	fanout         *prometheus.CounterVec
	persisted      prometheus.Counter
}

// NewMetrics registers the engine collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whisperline_sessions_active",
			Help: "Current number of connected transport sessions.",
		}),
		sessionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whisperline_sessions_total",
			Help: "Total sessions handled since start.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whisperline_rooms_active",
			Help: "Current number of non-empty conversation rooms.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whisperline_events_total",
			Help: "Inbound events handled, by operation.",
		}, []string{"op"}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whisperline_event_errors_total",
			Help: "Rejected inbound events, by error code.",
		}, []string{"code"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisperline_event_latency_seconds",
			Help:    "Latency for handling inbound events.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"op"}),
		fanout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whisperline_fanout_total",
			Help: "Outbound events emitted to sessions, by event name.",
		}, []string{"event"}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whisperline_messages_persisted_total",
			Help: "Messages appended to the message store.",
		}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.sessionTotal,
		m.activeRooms,
		m.events,
		m.eventErrors,
		m.eventLatency,
		m.fanout,
		m.persisted,
	)
	return m
}

func (m *Metrics) incSession() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionTotal.Inc()
}

func (m *Metrics) decSession() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) setRooms(n int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(float64(n))
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil || op == "" {
		return
	}
	m.events.WithLabelValues(op).Inc()
	m.eventLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}
	code := "internal"
	if ee, ok := err.(*eventError); ok && ee.code != "" {
		code = ee.code
	}
	m.eventErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) recordFanout(event string) {
	if m == nil {
		return
	}
	m.fanout.WithLabelValues(event).Inc()
}

func (m *Metrics) recordPersisted() {
	if m == nil {
		return
	}
	m.persisted.Inc()
}
