// Package metrics holds the process-wide prometheus collectors for sessions and the
// reference server.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pinion"

var (
	registerOnce sync.Once

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "messages_sent_total",
			Help:      "Messages sent by sessions.",
		},
		[]string{"type", "codec", "compressed"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "messages_received_total",
			Help:      "Responses and pushes delivered to the application.",
		},
		[]string{"type", "codec"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "decode_errors_total",
			Help:      "Inbound packets, messages or bodies that failed to decode.",
		},
		[]string{"stage"},
	)
	routingDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "routing_drops_total",
			Help:      "Inbound messages dropped because they could not be routed.",
		},
		[]string{"reason"},
	)
	heartbeatTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "heartbeat_timeouts_total",
			Help:      "Sessions closed because the server went silent.",
		},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "handshakes_total",
			Help:      "Handshake responses by result code.",
		},
		[]string{"side", "code"},
	)
	peers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "peers",
			Help:      "Peers connected to the reference server.",
		},
	)
	serverMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "messages_total",
			Help:      "Messages handled by the reference server.",
		},
		[]string{"type", "route", "result"},
	)
)

// RegisterMetrics registers every collector with the default registry. Safe to call repeatedly.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			messagesSent,
			messagesReceived,
			decodeErrors,
			routingDrops,
			heartbeatTimeouts,
			handshakes,
			peers,
			serverMessages,
		)
	})
}

// RecordRequest counts an outbound request.
func RecordRequest(codec string, compressed bool) {
	RegisterMetrics()
	messagesSent.WithLabelValues("request", codec, strconv.FormatBool(compressed)).Inc()
}

// RecordNotify counts an outbound notify.
func RecordNotify(codec string, compressed bool) {
	RegisterMetrics()
	messagesSent.WithLabelValues("notify", codec, strconv.FormatBool(compressed)).Inc()
}

// RecordResponse counts a response delivered to its callback.
func RecordResponse(codec string) {
	RegisterMetrics()
	messagesReceived.WithLabelValues("response", codec).Inc()
}

// RecordPush counts a push delivered as an event.
func RecordPush(codec string) {
	RegisterMetrics()
	messagesReceived.WithLabelValues("push", codec).Inc()
}

// RecordDecodeError counts a decode failure at stage: packet, message or body.
func RecordDecodeError(stage string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(stage).Inc()
}

// RecordRoutingDrop counts an inbound message that was dropped.
func RecordRoutingDrop(reason string) {
	RegisterMetrics()
	routingDrops.WithLabelValues(reason).Inc()
}

// RecordHeartbeatTimeout counts a session closed for server silence.
func RecordHeartbeatTimeout() {
	RegisterMetrics()
	heartbeatTimeouts.Inc()
}

// RecordHandshake counts a handshake outcome; side is client or server.
func RecordHandshake(side string, code int) {
	RegisterMetrics()
	handshakes.WithLabelValues(side, strconv.Itoa(code)).Inc()
}

// PeerConnected increments the connected peer gauge.
func PeerConnected() {
	RegisterMetrics()
	peers.Inc()
}

// PeerDisconnected decrements the connected peer gauge.
func PeerDisconnected() {
	RegisterMetrics()
	peers.Dec()
}

// RecordServerMessage counts a request or notify handled by the reference server.
func RecordServerMessage(typ, route string, ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "error"
	}
	serverMessages.WithLabelValues(typ, route, result).Inc()
}
