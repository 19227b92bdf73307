package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ephemeralchat/roomlink/pkg/protocol"
)

// Metrics collects connection-manager telemetry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connectsOpened prometheus.Counter
	connectsFailed prometheus.Counter
	retryScheduled prometheus.Counter
	retryExhausted prometheus.Counter
	sendsDropped   prometheus.Counter
	malformed      prometheus.Counter
	messagesIn     *prometheus.CounterVec
	messagesOut    *prometheus.CounterVec
	bytesIn        prometheus.Counter
	bytesOut       prometheus.Counter
	state          prometheus.Gauge
}

// NewMetrics registers the collectors with reg. Pass
// prometheus.DefaultRegisterer for the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connectsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomlink", Subsystem: "client",
			Name: "connects_opened_total",
			Help: "Connections successfully opened.",
		}),
		connectsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomlink", Subsystem: "client",
			Name: "connects_failed_total",
			Help: "Dial attempts that failed.",
		}),
		retryScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomlink", Subsystem: "client",
			Name: "retries_scheduled_total",
			Help: "Reconnection attempts scheduled.",
		}),
		retryExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomlink", Subsystem: "client",
			Name: "retries_exhausted_total",
			Help: "Connection-loss episodes that exhausted the retry budget.",
		}),
		sendsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomlink", Subsystem: "client",
			Name: "sends_dropped_total",
			Help: "Outbound messages dropped because no connection was open.",
		}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomlink", Subsystem: "client",
			Name: "malformed_messages_total",
			Help: "Inbound frames that failed to decode.",
		}),
		messagesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomlink", Subsystem: "client",
			Name: "messages_in_total",
			Help: "Inbound messages by type.",
		}, []string{"type"}),
		messagesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomlink", Subsystem: "client",
			Name: "messages_out_total",
			Help: "Outbound messages by type.",
		}, []string{"type"}),
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomlink", Subsystem: "client",
			Name: "bytes_in_total",
			Help: "Inbound payload bytes.",
		}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomlink", Subsystem: "client",
			Name: "bytes_out_total",
			Help: "Outbound payload bytes.",
		}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomlink", Subsystem: "client",
			Name: "connection_state",
			Help: "Current connection state (0=Idle 1=Connecting 2=Open 3=Closed).",
		}),
	}
}

func (m *Metrics) IncConnectOpened() {
	if m != nil {
		m.connectsOpened.Inc()
	}
}

func (m *Metrics) IncConnectFailure() {
	if m != nil {
		m.connectsFailed.Inc()
	}
}

func (m *Metrics) IncRetryScheduled() {
	if m != nil {
		m.retryScheduled.Inc()
	}
}

func (m *Metrics) IncRetryExhausted() {
	if m != nil {
		m.retryExhausted.Inc()
	}
}

func (m *Metrics) IncSendDropped() {
	if m != nil {
		m.sendsDropped.Inc()
	}
}

func (m *Metrics) IncMalformed() {
	if m != nil {
		m.malformed.Inc()
	}
}

func (m *Metrics) IncMessageIn(t protocol.Type) {
	if m != nil {
		m.messagesIn.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) IncMessageOut(t protocol.Type, n int) {
	if m != nil {
		m.messagesOut.WithLabelValues(string(t)).Inc()
		m.bytesOut.Add(float64(n))
	}
}

func (m *Metrics) IncBytesIn(n int) {
	if m != nil {
		m.bytesIn.Add(float64(n))
	}
}

func (m *Metrics) SetState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
