// Package transport defines the minimal surface the peer layer consumes from
// a concrete transport. A transport moves whole datagrams between endpoints
// and does no reliability work of its own; loss, duplication and reordering
// are all handled above it.
package transport

import (
	"errors"
	"net"
)

// ErrClosed is returned by operations on a transport after Shutdown.
var ErrClosed = errors.New("transport: closed")

// Error wraps a socket-level failure. The peer propagates it as a
// disconnection reason; it never crosses the tick boundary as a panic.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Datagram is one inbound packet with its exact length and source endpoint.
type Datagram struct {
	Data []byte
	From net.Addr
}

// Transport is the contract between the peer and the wire.
//
// Implementations may run a background goroutine for socket reads; received
// datagrams are deposited into an internal queue that the peer drains with
// Receive during Tick. The peer never touches connection state from the
// reader goroutine.
type Transport interface {
	// Bind opens the local socket. Servers pass a listen address; clients
	// pass the empty string for an ephemeral local port.
	Bind(address string) error

	// Resolve turns a remote address string into the endpoint type this
	// transport sends to.
	Resolve(address string) (net.Addr, error)

	// Send transmits one datagram without blocking the caller. Transport
	// errors are reported but the peer logs and swallows them; the
	// reliability layer retransmits.
	Send(data []byte, to net.Addr) error

	// Receive pops the next queued inbound datagram. It never blocks; ok is
	// false when the queue is empty.
	Receive() (d Datagram, ok bool)

	// Close releases per-endpoint resources, if the transport holds any.
	Close(endpoint net.Addr)

	// Shutdown closes the socket and invalidates all endpoints.
	Shutdown() error
}
