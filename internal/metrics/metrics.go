// Package metrics exposes the peer's operational counters as Prometheus
// collectors. With a nil registerer the collectors still count but are not
// scraped anywhere, which keeps the hot path free of conditionals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds one peer's collectors. Labels carry the peer role so a
// process running both a server and a client stays readable.
type Metrics struct {
	DatagramsSent     prometheus.Counter
	DatagramsReceived prometheus.Counter
	Retransmissions   prometheus.Counter
	DuplicatesDropped prometheus.Counter
	DeliveryFailures  prometheus.Counter
	MessagesDelivered prometheus.Counter
	Connects          prometheus.Counter
	Disconnects       prometheus.Counter
	OpenConnections   prometheus.Gauge
	SmoothedRTT       prometheus.Gauge
}

// New creates the collector set for one peer, registered with reg when it is
// non-nil. The role label distinguishes multiple peers in one registry.
func New(reg prometheus.Registerer, role string) *Metrics {
	labels := prometheus.Labels{"role": role}
	factory := promauto.With(reg)
	return &Metrics{
		DatagramsSent: factory.NewCounter(prometheus.CounterOpts{
			Name:        "riptide_datagrams_sent_total",
			Help:        "Datagrams handed to the transport.",
			ConstLabels: labels,
		}),
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name:        "riptide_datagrams_received_total",
			Help:        "Datagrams drained from the transport.",
			ConstLabels: labels,
		}),
		Retransmissions: factory.NewCounter(prometheus.CounterOpts{
			Name:        "riptide_retransmissions_total",
			Help:        "Reliable datagrams resent after an ack timeout.",
			ConstLabels: labels,
		}),
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name:        "riptide_duplicates_dropped_total",
			Help:        "Reliable datagrams suppressed as duplicates.",
			ConstLabels: labels,
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name:        "riptide_delivery_failures_total",
			Help:        "Reliable messages dropped after exhausting send attempts.",
			ConstLabels: labels,
		}),
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name:        "riptide_messages_delivered_total",
			Help:        "User messages handed to registered handlers.",
			ConstLabels: labels,
		}),
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Name:        "riptide_connects_total",
			Help:        "Handshakes completed.",
			ConstLabels: labels,
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name:        "riptide_disconnects_total",
			Help:        "Connections torn down, any reason.",
			ConstLabels: labels,
		}),
		OpenConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "riptide_open_connections",
			Help:        "Connections not yet in the notConnected state.",
			ConstLabels: labels,
		}),
		SmoothedRTT: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "riptide_smoothed_rtt_seconds",
			Help:        "Most recently updated smoothed RTT across connections.",
			ConstLabels: labels,
		}),
	}
}
