// Package ws implements the datagram transport over WebSocket connections.
// It is the stream fallback: WebSocket binary messages provide the framing a
// stream lacks, so every message maps onto exactly one datagram and the
// reliability layer above runs unchanged (redundant over TCP, but harmless).
package ws

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rcarmo/go-riptide/internal/logging"
	"github.com/rcarmo/go-riptide/transport"
)

const (
	receiveQueueSize = 1024

	// sendQueueSize bounds the per-endpoint writer queue. Overflow drops
	// the datagram, mirroring a full socket buffer on the UDP path.
	sendQueueSize = 256
)

// Addr identifies a WebSocket endpoint: a URL on the client side, the TCP
// remote address on the server side.
type Addr string

// Network implements net.Addr.
func (Addr) Network() string { return "ws" }

// String implements net.Addr.
func (a Addr) String() string { return string(a) }

// endpoint is one live WebSocket connection with its writer pump.
type endpoint struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (e *endpoint) close() {
	e.once.Do(func() {
		close(e.done)
		_ = e.conn.Close()
	})
}

// Transport moves datagrams over WebSocket connections. A server Bind
// accepts upgrades on an HTTP listener; a client dials lazily on the first
// Send to an unseen endpoint.
type Transport struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	queue     chan transport.Datagram
	server    *http.Server
	listener  net.Listener
	closed    bool
	serveErr  error
	log       *logging.Logger

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

// New creates an unbound WebSocket transport.
func New() *Transport {
	return &Transport{
		endpoints: make(map[string]*endpoint),
		queue:     make(chan transport.Datagram, receiveQueueSize),
		log:       logging.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  2048,
			WriteBufferSize: 2048,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: websocket.DefaultDialer,
	}
}

// Bind starts accepting WebSocket upgrades on the given listen address.
// Clients pass the empty string; they have nothing to listen on.
func (t *Transport) Bind(address string) error {
	if address == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.listener != nil {
		return &transport.Error{Op: "bind", Err: errors.New("already bound")}
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return &transport.Error{Op: "bind", Err: err}
	}
	t.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleUpgrade)
	t.server = &http.Server{Handler: mux}
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("ws serve: %v", err)
			t.mu.Lock()
			t.serveErr = &transport.Error{Op: "receive", Err: err}
			t.mu.Unlock()
		}
	}()
	return nil
}

// Err reports a fatal listener failure, or nil. Individual connection
// failures are not fatal; their endpoints simply time out above.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.serveErr
}

// LocalAddr returns the listener address, or nil for client transports.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn("ws upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	t.adopt(Addr(r.RemoteAddr), conn)
}

// Resolve turns host:port (or a ws:// URL) into a WebSocket endpoint.
func (t *Transport) Resolve(address string) (net.Addr, error) {
	if !strings.Contains(address, "://") {
		address = "ws://" + address
	}
	return Addr(address), nil
}

// Send transmits one datagram, dialing the endpoint first if this side has
// never spoken to it. The write itself never blocks the caller; a full
// writer queue drops the datagram like a full socket buffer would.
func (t *Transport) Send(data []byte, to net.Addr) error {
	key := to.String()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	e, ok := t.endpoints[key]
	t.mu.Unlock()

	if !ok {
		var err error
		if e, err = t.dial(key, to); err != nil {
			return err
		}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case e.out <- buf:
		return nil
	case <-e.done:
		return transport.ErrClosed
	default:
		t.log.Warn("ws send queue full, dropping %d bytes to %s", len(data), key)
		return nil
	}
}

func (t *Transport) dial(key string, to net.Addr) (*endpoint, error) {
	if !strings.Contains(key, "://") {
		return nil, &transport.Error{Op: "send", Err: errors.New("endpoint " + key + " is gone")}
	}
	conn, _, err := t.dialer.Dial(key, nil)
	if err != nil {
		return nil, &transport.Error{Op: "dial", Err: err}
	}
	return t.adopt(to.(Addr), conn), nil
}

// adopt wires a live WebSocket connection into the endpoint table and
// starts its pumps.
func (t *Transport) adopt(addr Addr, conn *websocket.Conn) *endpoint {
	e := &endpoint{
		conn: conn,
		out:  make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	t.mu.Lock()
	if old, ok := t.endpoints[addr.String()]; ok {
		old.close()
	}
	t.endpoints[addr.String()] = e
	t.mu.Unlock()

	go t.readLoop(addr, e)
	go t.writeLoop(addr, e)
	return e
}

func (t *Transport) readLoop(addr Addr, e *endpoint) {
	defer t.drop(addr, e)
	for {
		kind, data, err := e.conn.ReadMessage()
		if err != nil {
			select {
			case <-e.done:
			default:
				t.log.Debug("ws read from %s: %v", addr, err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		select {
		case t.queue <- transport.Datagram{Data: data, From: addr}:
		default:
			t.log.Warn("ws receive queue full, dropping %d bytes from %s", len(data), addr)
		}
	}
}

func (t *Transport) writeLoop(addr Addr, e *endpoint) {
	for {
		select {
		case data := <-e.out:
			if err := e.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				t.log.Debug("ws write to %s: %v", addr, err)
				t.drop(addr, e)
				return
			}
		case <-e.done:
			return
		}
	}
}

// drop closes and forgets an endpoint, unless a newer connection already
// replaced it.
func (t *Transport) drop(addr Addr, e *endpoint) {
	e.close()
	t.mu.Lock()
	if t.endpoints[addr.String()] == e {
		delete(t.endpoints, addr.String())
	}
	t.mu.Unlock()
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

// Close releases the WebSocket connection for one endpoint.
func (t *Transport) Close(endpointAddr net.Addr) {
	t.mu.Lock()
	e, ok := t.endpoints[endpointAddr.String()]
	if ok {
		delete(t.endpoints, endpointAddr.String())
	}
	t.mu.Unlock()
	if ok {
		e.close()
	}
}

// Shutdown closes every connection and the listener.
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	endpoints := make([]*endpoint, 0, len(t.endpoints))
	for _, e := range t.endpoints {
		endpoints = append(endpoints, e)
	}
	t.endpoints = make(map[string]*endpoint)
	server := t.server
	t.mu.Unlock()

	for _, e := range endpoints {
		e.close()
	}
	if server != nil {
		return server.Close()
	}
	return nil
}
