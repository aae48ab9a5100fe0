// Package metrics defines the Prometheus collectors exported by the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the relay collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	framesReceived    prometheus.Counter
	frameErrors       *prometheus.CounterVec
	messagesHandled   *prometheus.CounterVec
	outgoingDropped   prometheus.Counter
}

// New creates the collectors and registers them with reg, or with the
// default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Currently open client connections.",
		}, []string{"transport"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Client connections accepted since start.",
		}, []string{"transport"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Authenticated sessions in the registry.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_received_total",
			Help: "Complete frames extracted from client streams.",
		}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frame_errors_total",
			Help: "Frames that could not be used, by reason.",
		}, []string{"reason"}),
		messagesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Decoded client messages by type.",
		}, []string{"type"}),
		outgoingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_outgoing_dropped_total",
			Help: "Server messages dropped because a connection queue was full.",
		}),
	}

	reg.MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.sessionsActive,
		m.framesReceived,
		m.frameErrors,
		m.messagesHandled,
		m.outgoingDropped,
	)

	return m
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened(transport string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(transport).Inc()
	m.connectionsActive.WithLabelValues(transport).Inc()
}

// ConnectionClosed records a torn down connection.
func (m *Metrics) ConnectionClosed(transport string) {
	if m == nil {
		return
	}
	m.connectionsActive.WithLabelValues(transport).Dec()
}

// SetSessions sets the number of registered sessions.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// FrameReceived counts one complete frame.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

// FrameError counts a frame rejected for reason.
func (m *Metrics) FrameError(reason string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(reason).Inc()
}

// MessageHandled counts a decoded message of the given type.
func (m *Metrics) MessageHandled(msgType string) {
	if m == nil {
		return
	}
	m.messagesHandled.WithLabelValues(msgType).Inc()
}

// OutgoingDropped counts a server message lost to a full queue.
func (m *Metrics) OutgoingDropped() {
	if m == nil {
		return
	}
	m.outgoingDropped.Inc()
}
