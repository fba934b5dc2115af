// Package udp implements the datagram transport over a single UDP socket.
// One socket serves every remote endpoint; the peer layer multiplexes
// connections on top of it.
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rcarmo/go-riptide/internal/logging"
	"github.com/rcarmo/go-riptide/transport"
)

const (
	// receiveQueueSize bounds the datagrams buffered between the socket
	// reader goroutine and the tick loop. Overflow drops the datagram, which
	// is indistinguishable from wire loss to the layers above.
	receiveQueueSize = 1024

	// readBufferSize must fit any datagram the peer can produce.
	readBufferSize = 1500
)

// Transport is a UDP implementation of the transport contract. The zero
// value is not usable; call New.
type Transport struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	queue   chan transport.Datagram
	done    chan struct{}
	closed  bool
	readErr error
	log     *logging.Logger
}

// New creates an unbound UDP transport.
func New() *Transport {
	return &Transport{
		queue: make(chan transport.Datagram, receiveQueueSize),
		done:  make(chan struct{}),
		log:   logging.Default(),
	}
}

// Bind opens the socket and starts the reader goroutine. An empty address
// binds an ephemeral local port, which is what clients want.
func (t *Transport) Bind(address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.conn != nil {
		return &transport.Error{Op: "bind", Err: errors.New("already bound")}
	}

	var laddr *net.UDPAddr
	if address != "" {
		a, err := net.ResolveUDPAddr("udp", address)
		if err != nil {
			return &transport.Error{Op: "bind", Err: err}
		}
		laddr = a
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return &transport.Error{Op: "bind", Err: err}
	}
	t.conn = conn

	go t.readLoop(conn)
	return nil
}

// LocalAddr returns the bound socket address, or nil before Bind.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// Resolve turns host:port into a UDP endpoint.
func (t *Transport) Resolve(address string) (net.Addr, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, &transport.Error{Op: "resolve", Err: err}
	}
	return addr, nil
}

// Send transmits one datagram. UDP writes do not block.
func (t *Transport) Send(data []byte, to net.Addr) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return transport.ErrClosed
	}
	udpAddr, ok := to.(*net.UDPAddr)
	if !ok {
		return &transport.Error{Op: "send", Err: fmt.Errorf("endpoint %T is not a UDP address", to)}
	}
	if _, err := conn.WriteToUDP(data, udpAddr); err != nil {
		return &transport.Error{Op: "send", Err: err}
	}
	return nil
}

// Receive pops the next queued inbound datagram without blocking.
func (t *Transport) Receive() (transport.Datagram, bool) {
	select {
	case d := <-t.queue:
		return d, true
	default:
		return transport.Datagram{}, false
	}
}

// Close releases per-endpoint resources. A shared UDP socket holds none.
func (t *Transport) Close(net.Addr) {}

// Err reports a fatal receive failure, or nil. The peer layer polls it each
// tick and tears connections down with a transportError reason.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readErr
}

// Shutdown closes the socket and stops the reader goroutine.
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// readLoop deposits inbound datagrams into the queue. It runs on its own
// goroutine; the peer drains the queue from the tick loop.
func (t *Transport) readLoop(conn *net.UDPConn) {
	buf := make([]byte, readBufferSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
			default:
				t.log.Error("udp read: %v", err)
				t.mu.Lock()
				t.readErr = &transport.Error{Op: "receive", Err: err}
				t.mu.Unlock()
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case t.queue <- transport.Datagram{Data: data, From: from}:
		default:
			t.log.Warn("udp receive queue full, dropping %d bytes from %s", n, from)
		}
	}
}
