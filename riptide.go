// Package riptide implements a low-latency client/server networking core for
// real-time multiplayer games. A peer multiplexes many logical connections
// over a single datagram transport and layers opt-in reliable delivery on top
// of it: sequence numbers, an acknowledgement bitfield, retransmission and
// duplicate suppression. Reliable delivery is at-least-once with duplicates
// filtered; ordering is not restored.
//
// The core is single-threaded and cooperative: the application calls Tick on
// a regular cadence. Callbacks fire from inside Tick, except the disconnect
// callbacks, which also fire directly from Client.Disconnect,
// Client.Shutdown, Server.Kick, Server.DisconnectAll and Server.Shutdown.
package riptide

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rcarmo/go-riptide/internal/logging"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultMaxMessageSize     = 1225
	DefaultHeartbeatInterval  = 1000 * time.Millisecond
	DefaultTimeout            = 5000 * time.Millisecond
	DefaultMaxSendAttempts    = 15
	DefaultMaxConnectAttempts = 5
)

const (
	// protocolVersion rides in every connect datagram; mismatched peers are
	// rejected before a connection is created.
	protocolVersion = 1

	// minRetransmitTimeout floors the RTT-derived retransmission timeout.
	minRetransmitTimeout = 50 * time.Millisecond

	// initialRetransmitTimeout applies until the first RTT sample arrives.
	initialRetransmitTimeout = 200 * time.Millisecond
)

// Config carries the options the core consumes. The zero value is usable;
// zero fields select the defaults above.
type Config struct {
	// MaxMessageSize bounds payload plus header for one datagram, in bytes.
	// The default sits under the 1280-byte IPv6 minimum MTU after IP and
	// UDP headers.
	MaxMessageSize int

	// HeartbeatInterval is the cadence of client keepalives once connected,
	// and of client connect retries during the handshake.
	HeartbeatInterval time.Duration

	// Timeout is how long a connection may stay silent before it is
	// considered dead.
	Timeout time.Duration

	// MaxSendAttempts bounds how many times one reliable message is put on
	// the wire before delivery is abandoned.
	MaxSendAttempts int

	// MaxConnectAttempts bounds handshake retries before ConnectFailed.
	MaxConnectAttempts int

	// MaxClients bounds concurrent connections on a server. Zero means
	// unlimited.
	MaxClients int

	// Logger overrides the default process logger.
	Logger *logging.Logger

	// MetricsRegistry receives the peer's Prometheus collectors. Nil leaves
	// the collectors unregistered; they still count, they are just not
	// scraped anywhere.
	MetricsRegistry prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxSendAttempts <= 0 {
		c.MaxSendAttempts = DefaultMaxSendAttempts
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = DefaultMaxConnectAttempts
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	return c
}

// ConnectionState tracks a connection through its lifecycle.
type ConnectionState int

const (
	// StateConnecting: the client sent connect and awaits the welcome.
	StateConnecting ConnectionState = iota

	// StatePending: the server accepted the endpoint and sent the welcome,
	// but the welcome echo has not arrived yet.
	StatePending

	// StateConnected: the handshake completed in both directions.
	StateConnected

	// StateNotConnected is terminal.
	StateNotConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePending:
		return "pending"
	case StateConnected:
		return "connected"
	case StateNotConnected:
		return "notConnected"
	default:
		return "unknown"
	}
}

// DisconnectReason explains why a connection reached StateNotConnected.
// Values are stable wire bytes carried in disconnect datagrams.
type DisconnectReason uint8

const (
	ReasonNone DisconnectReason = iota

	// ReasonTimedOut: no traffic within the configured timeout.
	ReasonTimedOut

	// ReasonDisconnected: the remote side tore down gracefully.
	ReasonDisconnected

	// ReasonTransportError: a fatal socket-level failure.
	ReasonTransportError

	// ReasonConnectFailed: the handshake exhausted its attempts.
	ReasonConnectFailed

	// ReasonKicked: the server removed the client.
	ReasonKicked

	// ReasonServerFull: the server is at MaxClients.
	ReasonServerFull
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonTimedOut:
		return "timedOut"
	case ReasonDisconnected:
		return "disconnected"
	case ReasonTransportError:
		return "transportError"
	case ReasonConnectFailed:
		return "connectFailed"
	case ReasonKicked:
		return "kicked"
	case ReasonServerFull:
		return "serverFull"
	default:
		return "unknown"
	}
}
