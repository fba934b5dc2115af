package riptide

import (
	"net"
	"time"

	"github.com/rcarmo/go-riptide/message"
	"github.com/rcarmo/go-riptide/transport"
)

// Server is the listening role of a peer. It accepts handshakes, assigns
// connection ids, routes user messages and broadcasts join/leave
// notifications. All methods must be called from the goroutine that drives
// Tick.
type Server struct {
	peer

	conns  map[string]*Connection
	byID   map[uint16]*Connection
	nextID uint16

	// AcceptConnection, when set, vets a handshake before a connection is
	// created. Returning false silently ignores the endpoint.
	AcceptConnection func(remote net.Addr) bool

	// WelcomePayload, when set, supplies application bytes attached to the
	// welcome the client receives on connect.
	WelcomePayload func(remote net.Addr) []byte

	// OnClientConnected fires once per connection when the handshake
	// completes. The connection's ConnectData is populated at that point.
	OnClientConnected func(c *Connection)

	// OnClientDisconnected fires once per connection on teardown.
	OnClientDisconnected func(id uint16, reason DisconnectReason)
}

// NewServer creates a server peer on the given transport.
func NewServer(tr transport.Transport, cfg Config) *Server {
	return &Server{
		peer:   newPeer(tr, cfg, "server"),
		conns:  make(map[string]*Connection),
		byID:   make(map[uint16]*Connection),
		nextID: 1,
	}
}

// Start binds the transport to the listen address.
func (s *Server) Start(address string) error {
	if err := s.tr.Bind(address); err != nil {
		return err
	}
	s.log.Info("listening on %s", address)
	return nil
}

// ClientCount returns the number of connections not yet torn down,
// including ones still completing the handshake.
func (s *Server) ClientCount() int {
	return len(s.conns)
}

// Connection returns the connection with the given id, or nil.
func (s *Server) Connection(id uint16) *Connection {
	return s.byID[id]
}

// Tick drains inbound datagrams, then drives retransmissions, timeout
// detection and queued sends for every connection. Call it on a regular
// cadence, typically every 10ms.
func (s *Server) Tick() {
	now := s.now()
	if err := s.transportErr(); err != nil {
		s.log.Error("transport failed: %v", err)
		for _, c := range s.conns {
			s.disconnect(c, ReasonTransportError, false)
		}
		s.metrics.OpenConnections.Set(0)
		return
	}
	for {
		d, ok := s.tr.Receive()
		if !ok {
			break
		}
		s.handleDatagram(d, now)
	}

	var dead []*Connection
	for _, c := range s.conns {
		if now.Sub(c.lastReceivedAt) > c.timeout {
			dead = append(dead, c)
			continue
		}
		s.retransmit(c, now)
		s.drainSendQueue(c, now)
	}
	for _, c := range dead {
		s.disconnect(c, ReasonTimedOut, false)
	}
	s.metrics.OpenConnections.Set(float64(len(s.conns)))
}

// Send transmits a user message to one client. The message is consumed.
func (s *Server) Send(m *message.Message, toID uint16) {
	defer m.Release()
	c, ok := s.byID[toID]
	if !ok {
		s.log.Warn("send to unknown client %d", toID)
		return
	}
	s.sendTo(c, m, s.now())
}

// SendToAll transmits a user message to every connected client. The message
// is consumed; reliable copies are tracked per connection.
func (s *Server) SendToAll(m *message.Message) {
	defer m.Release()
	now := s.now()
	for _, c := range s.conns {
		if c.state == StateConnected {
			s.sendTo(c, m, now)
		}
	}
}

// Kick tears down one client with a best-effort notification.
func (s *Server) Kick(id uint16) {
	if c, ok := s.byID[id]; ok {
		s.disconnect(c, ReasonKicked, true)
	}
}

// DisconnectAll gracefully tears down every connection.
func (s *Server) DisconnectAll() {
	for _, c := range s.conns {
		s.disconnect(c, ReasonDisconnected, true)
	}
}

// Shutdown tears down all connections and closes the transport.
func (s *Server) Shutdown() error {
	s.DisconnectAll()
	return s.tr.Shutdown()
}

func (s *Server) handleDatagram(d transport.Datagram, now time.Time) {
	m, ok := s.receiveInto(d)
	if !ok {
		return
	}
	defer m.Release()

	c := s.conns[d.From.String()]
	if c == nil {
		if m.Header() == message.HeaderConnect {
			s.handleConnect(d.From, m, now)
		} else {
			s.log.Debug("%s datagram from unknown endpoint %s", m.Header(), d.From)
		}
		return
	}
	c.lastReceivedAt = now

	switch m.Header() {
	case message.HeaderConnect:
		// The client resent connect before our welcome arrived; the welcome
		// is reliable and already retransmitting.
	case message.HeaderAck, message.HeaderAckExtra:
		s.handleAck(c, m, now)
	case message.HeaderHeartbeat:
		s.handleHeartbeat(c, m)
	case message.HeaderDisconnect:
		reason := ReasonDisconnected
		if v, err := m.ReadUint8(); err == nil {
			reason = DisconnectReason(v)
		}
		s.disconnect(c, reason, false)
	case message.HeaderWelcome:
		if s.processSequenced(c, m) {
			s.handleWelcomeEcho(c, m)
		}
	case message.HeaderReliable:
		if s.processSequenced(c, m) {
			s.deliverUser(c, m)
		}
	case message.HeaderUnreliable:
		s.deliverUser(c, m)
	default:
		s.log.Debug("unexpected %s datagram from client %s", m.Header(), d.From)
	}
}

// handleConnect runs the server half of the handshake: vet the endpoint,
// create a pending connection, assign an id and send the reliable welcome.
func (s *Server) handleConnect(from net.Addr, m *message.Message, now time.Time) {
	ver, err := m.ReadUint8()
	if err != nil || ver != protocolVersion {
		s.log.Debug("connect from %s with protocol %d, want %d", from, ver, protocolVersion)
		return
	}
	if s.cfg.MaxClients > 0 && len(s.conns) >= s.cfg.MaxClients {
		s.log.Info("rejecting %s: server full", from)
		s.sendDisconnect(from, ReasonServerFull)
		return
	}
	if s.AcceptConnection != nil && !s.AcceptConnection(from) {
		s.log.Info("rejecting %s: not accepted", from)
		return
	}

	id, ok := s.allocateID()
	if !ok {
		s.log.Error("connection id space exhausted, rejecting %s", from)
		s.sendDisconnect(from, ReasonServerFull)
		return
	}
	c := newConnection(from, StatePending, s.cfg)
	c.id = id
	c.lastReceivedAt = now
	s.conns[from.String()] = c
	s.byID[id] = c
	s.log.Debug("endpoint %s pending as client %d", from, id)

	welcome := s.pool.Get(message.HeaderWelcome)
	_ = welcome.WriteUint16(id)
	if s.WelcomePayload != nil {
		if payload := s.WelcomePayload(from); len(payload) > 0 {
			_ = welcome.WriteBytes(payload)
		}
	}
	s.sendTo(c, welcome, now)
	welcome.Release()
}

// handleWelcomeEcho completes the handshake when the client's reliable
// welcome echo arrives.
func (s *Server) handleWelcomeEcho(c *Connection, m *message.Message) {
	id, err := m.ReadUint16()
	if err != nil || id != c.id {
		s.log.Debug("welcome echo from %s with id %d, want %d", c.addr, id, c.id)
		return
	}
	if m.UnreadBits() >= 8 {
		if data, err := m.ReadBytes(); err == nil {
			c.connectData = data
		}
	}
	if c.state != StatePending {
		return
	}
	c.state = StateConnected
	s.metrics.Connects.Inc()
	s.log.Info("client %d connected from %s", c.id, c.addr)
	if s.OnClientConnected != nil {
		s.OnClientConnected(c)
	}
	s.broadcastPresence(message.HeaderClientConnected, c)
}

func (s *Server) handleHeartbeat(c *Connection, m *message.Message) {
	pingID, err := m.ReadUint8()
	if err != nil {
		return
	}
	if ms, err := m.ReadUint16(); err == nil {
		c.remoteRTT = millisToDuration(ms)
	}

	echo := s.pool.Get(message.HeaderHeartbeat)
	_ = echo.WriteUint8(pingID)
	_ = echo.WriteUint16(durationToMillis(c.smoothedRTT))
	s.sendRaw(echo.Bytes(), c.addr)
	echo.Release()
}

// broadcastPresence tells every other connected client that c joined or
// left, via a reliable notification carrying c's id.
func (s *Server) broadcastPresence(h message.Header, c *Connection) {
	now := s.now()
	for _, other := range s.conns {
		if other == c || other.state != StateConnected {
			continue
		}
		m := s.pool.Get(h)
		_ = m.WriteUint16(c.id)
		s.sendTo(other, m, now)
		m.Release()
	}
}

// disconnect tears down one connection exactly once: optional wire
// notification, terminal state, table removal, event and leave broadcast.
func (s *Server) disconnect(c *Connection, reason DisconnectReason, notifyRemote bool) {
	if c.state == StateNotConnected {
		return
	}
	wasConnected := c.state == StateConnected
	if notifyRemote {
		s.sendDisconnect(c.addr, reason)
	}
	c.teardown()
	delete(s.conns, c.addr.String())
	delete(s.byID, c.id)
	s.tr.Close(c.addr)
	s.metrics.Disconnects.Inc()
	s.log.Info("client %d disconnected: %s", c.id, reason)
	if s.OnClientDisconnected != nil {
		s.OnClientDisconnected(c.id, reason)
	}
	if wasConnected {
		s.broadcastPresence(message.HeaderClientDisconnected, c)
	}
}

// allocateID hands out the next free 16-bit connection id, scanning upward
// from the one after the last id handed out and wrapping; zero is reserved
// for "none".
func (s *Server) allocateID() (uint16, bool) {
	for i := 0; i < 1<<16; i++ {
		id := s.nextID
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}
		if id == 0 {
			continue
		}
		if _, used := s.byID[id]; !used {
			return id, true
		}
	}
	return 0, false
}
