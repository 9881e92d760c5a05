// Package metrics provides Prometheus metrics for the UDP relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "udp_relay"
)

// Drop reasons.
const (
	DropWriteFailed   = "write_failed"
	DropEnqueueFailed = "enqueue_failed"
)

// Read error kinds.
const (
	ReadErrorIgnored = "ignored"
	ReadErrorOther   = "other"
)

// Queue directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Metrics contains all Prometheus metrics for a relay process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Datagram traffic
	DatagramsSent     prometheus.Counter
	DatagramsReceived prometheus.Counter
	BytesSent         prometheus.Counter
	BytesReceived     prometheus.Counter
	Truncated         prometheus.Counter

	// Failures
	Dropped    *prometheus.CounterVec
	ReadErrors *prometheus.CounterVec
	TaskPanics *prometheus.CounterVec

	// Backlog
	QueueDepth *prometheus.GaugeVec
}

// NewMetricsWithRegistry creates a Metrics instance registered on reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_sent_total",
			Help:      "Total datagrams written to the socket",
		}),
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total datagrams read from the socket",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes written to the socket",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes read from the socket",
		}),
		Truncated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_truncated_total",
			Help:      "Inbound datagrams larger than the receive buffer",
		}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Messages dropped by reason",
		}, []string{"reason"}),
		ReadErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Socket read errors by kind",
		}, []string{"kind"}),
		TaskPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_panics_total",
			Help:      "Panics recovered in background tasks",
		}, []string{"task"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting in the relay queues",
		}, []string{"direction"}),
	}
}

// RecordSent records one datagram written to the wire.
func (m *Metrics) RecordSent(bytes int) {
	if m == nil {
		return
	}
	m.DatagramsSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

// RecordReceived records one datagram read from the wire.
func (m *Metrics) RecordReceived(bytes int) {
	if m == nil {
		return
	}
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordTruncated records an inbound datagram cut to the buffer size.
func (m *Metrics) RecordTruncated() {
	if m == nil {
		return
	}
	m.Truncated.Inc()
}

// RecordDrop records a message abandoned for the given reason.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

// RecordReadError records a socket read error of the given kind.
func (m *Metrics) RecordReadError(kind string) {
	if m == nil {
		return
	}
	m.ReadErrors.WithLabelValues(kind).Inc()
}

// RecordTaskPanic records a panic recovered in the named task.
func (m *Metrics) RecordTaskPanic(task string) {
	if m == nil {
		return
	}
	m.TaskPanics.WithLabelValues(task).Inc()
}

// SetQueueDepth sets the backlog gauge for a direction.
func (m *Metrics) SetQueueDepth(direction string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(direction).Set(float64(depth))
}
