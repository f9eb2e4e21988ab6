package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallest87/proyek-websocket-pc/internal/domain"
	"github.com/smallest87/proyek-websocket-pc/internal/relay"
)

// RelayMetrics records relay events. It implements domain.Observer.
type RelayMetrics struct {
	ActiveConnections   prometheus.Gauge
	ConnectionsOpened   prometheus.Counter
	ConnectionsClosed   *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec
	MessagesReceived    *prometheus.CounterVec
	ReceivedBytes       prometheus.Counter
	BroadcastRecipients prometheus.Histogram
	BroadcastDuration   prometheus.Histogram
	Deliveries          *prometheus.CounterVec
}

var _ domain.Observer = (*RelayMetrics)(nil)

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered WebSocket connections.",
		}),
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_opened_total",
			Help:      "Total number of connections that completed registration.",
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_closed_total",
			Help:      "Total number of deregistered connections by outcome.",
		}, []string{"outcome"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Total number of connection attempts refused before upgrade.",
		}, []string{"reason"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_received_total",
			Help:      "Total number of messages received from clients.",
		}, []string{"kind"}),
		ReceivedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "received_bytes_total",
			Help:      "Total payload bytes received from clients.",
		}),
		BroadcastRecipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "recipients",
			Help:      "Number of recipients targeted per broadcast.",
			Buckets:   []float64{0, 1, 2, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "duration_seconds",
			Help:      "Time from snapshot to the last delivery finishing.",
			Buckets:   prometheus.DefBuckets,
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Total number of per-recipient deliveries by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ConnectionsOpened,
		m.ConnectionsClosed,
		m.ConnectionsRejected,
		m.MessagesReceived,
		m.ReceivedBytes,
		m.BroadcastRecipients,
		m.BroadcastDuration,
		m.Deliveries,
	)
	return m
}

func (m *RelayMetrics) ConnectionEstablished(_ domain.HandleID, live int) {
	m.ConnectionsOpened.Inc()
	m.ActiveConnections.Set(float64(live))
}

func (m *RelayMetrics) ConnectionTerminated(_ domain.HandleID, live int, cause error) {
	outcome := "normal"
	if !relay.IsNormalClose(cause) {
		outcome = "error"
	}
	m.ConnectionsClosed.WithLabelValues(outcome).Inc()
	m.ActiveConnections.Set(float64(live))
}

func (m *RelayMetrics) MessageReceived(msg domain.Message) {
	m.MessagesReceived.WithLabelValues(string(msg.Kind)).Inc()
	m.ReceivedBytes.Add(float64(len(msg.Payload)))
}

func (m *RelayMetrics) BroadcastCompleted(report domain.BroadcastReport) {
	m.BroadcastRecipients.Observe(float64(report.Attempted))
	m.BroadcastDuration.Observe(report.Duration.Seconds())
	m.Deliveries.WithLabelValues("delivered").Add(float64(report.Delivered))
}

func (m *RelayMetrics) DeliveryFailed(failure domain.DeliveryFailure) {
	m.Deliveries.WithLabelValues(string(failure.Reason)).Inc()
}

// ConnectionRejected counts an admission refusal.
func (m *RelayMetrics) ConnectionRejected(reason string) {
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}
