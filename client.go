package riptide

import (
	"errors"
	"time"

	"github.com/rcarmo/go-riptide/message"
	"github.com/rcarmo/go-riptide/transport"
)

// ErrAlreadyConnected is returned by Connect while a previous connection is
// still alive.
var ErrAlreadyConnected = errors.New("riptide: already connected")

// Client is the dialing role of a peer: one connection to one server. All
// methods must be called from the goroutine that drives Tick.
type Client struct {
	peer

	conn      *Connection
	remoteKey string
	bound     bool

	connectData       []byte
	welcomeData       []byte
	connectAttempts   int
	lastConnectSentAt time.Time

	// OnConnected fires when the welcome arrives and the handshake
	// completes locally.
	OnConnected func()

	// OnConnectFailed fires when the handshake exhausts MaxConnectAttempts
	// or the server rejects the connection.
	OnConnectFailed func()

	// OnDisconnected fires once when an established connection ends, with
	// the reason.
	OnDisconnected func(reason DisconnectReason)

	// OnClientConnected and OnClientDisconnected relay the server's
	// presence broadcasts about other clients.
	OnClientConnected    func(id uint16)
	OnClientDisconnected func(id uint16)
}

// NewClient creates a client peer on the given transport.
func NewClient(tr transport.Transport, cfg Config) *Client {
	return &Client{peer: newPeer(tr, cfg, "client")}
}

// Connect starts the handshake with the server at address. connectData is
// optional application bytes delivered to the server with the handshake.
// The handshake completes asynchronously across Ticks; OnConnected or
// OnConnectFailed reports the outcome.
func (c *Client) Connect(address string, connectData []byte) error {
	if c.conn != nil && c.conn.state != StateNotConnected {
		return ErrAlreadyConnected
	}
	if !c.bound {
		if err := c.tr.Bind(""); err != nil {
			return err
		}
		c.bound = true
	}
	addr, err := c.tr.Resolve(address)
	if err != nil {
		return err
	}

	now := c.now()
	c.conn = newConnection(addr, StateConnecting, c.cfg)
	c.conn.lastReceivedAt = now
	c.remoteKey = addr.String()
	c.connectData = connectData
	c.welcomeData = nil
	c.connectAttempts = 0
	c.sendConnect(now)
	c.log.Info("connecting to %s", address)
	return nil
}

// ID returns the server-assigned connection id, or zero before the
// handshake completes.
func (c *Client) ID() uint16 {
	if c.conn == nil {
		return 0
	}
	return c.conn.id
}

// IsConnected reports whether the handshake has completed.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.state == StateConnected
}

// Connection returns the client's connection, or nil before Connect.
func (c *Client) Connection() *Connection {
	return c.conn
}

// WelcomeData returns the application payload the server attached to its
// welcome, or nil.
func (c *Client) WelcomeData() []byte {
	return c.welcomeData
}

// Send transmits a user message to the server. The message is consumed.
// Sends on a dead connection are no-ops.
func (c *Client) Send(m *message.Message) {
	defer m.Release()
	c.sendTo(c.conn, m, c.now())
}

// Disconnect gracefully tears down the connection with a one-shot
// notification to the server.
func (c *Client) Disconnect() {
	c.disconnect(ReasonDisconnected, true)
}

// Shutdown disconnects and closes the transport.
func (c *Client) Shutdown() error {
	c.Disconnect()
	return c.tr.Shutdown()
}

// Tick drains inbound datagrams, then drives the connect retry loop,
// heartbeats, timeout detection and retransmissions.
func (c *Client) Tick() {
	now := c.now()
	if err := c.transportErr(); err != nil {
		c.log.Error("transport failed: %v", err)
		c.disconnect(ReasonTransportError, false)
		return
	}
	for {
		d, ok := c.tr.Receive()
		if !ok {
			break
		}
		c.handleDatagram(d, now)
	}
	if c.conn == nil {
		return
	}

	switch c.conn.state {
	case StateConnecting:
		c.tickConnecting(now)
	case StateConnected:
		c.tickConnected(now)
	}
}

func (c *Client) tickConnecting(now time.Time) {
	if now.Sub(c.lastConnectSentAt) < c.cfg.HeartbeatInterval {
		return
	}
	if c.connectAttempts >= c.cfg.MaxConnectAttempts {
		c.log.Warn("connect to %s failed after %d attempts", c.conn.addr, c.connectAttempts)
		c.failConnect()
		return
	}
	c.sendConnect(now)
}

func (c *Client) tickConnected(now time.Time) {
	conn := c.conn
	if now.Sub(conn.lastReceivedAt) > conn.timeout {
		c.disconnect(ReasonTimedOut, false)
		return
	}
	if now.Sub(conn.lastHeartbeatSentAt) >= c.cfg.HeartbeatInterval {
		c.sendHeartbeat(conn, now)
	}
	c.retransmit(conn, now)
	c.drainSendQueue(conn, now)
	c.metrics.OpenConnections.Set(1)
}

func (c *Client) sendConnect(now time.Time) {
	m := c.pool.Get(message.HeaderConnect)
	_ = m.WriteUint8(protocolVersion)
	c.sendRaw(m.Bytes(), c.conn.addr)
	m.Release()
	c.connectAttempts++
	c.lastConnectSentAt = now
}

func (c *Client) sendHeartbeat(conn *Connection, now time.Time) {
	conn.pendingPingID++
	conn.pendingPingSentAt = now
	conn.awaitingPong = true
	m := c.pool.Get(message.HeaderHeartbeat)
	_ = m.WriteUint8(conn.pendingPingID)
	_ = m.WriteUint16(durationToMillis(conn.smoothedRTT))
	c.sendRaw(m.Bytes(), conn.addr)
	m.Release()
	conn.lastHeartbeatSentAt = now
}

func (c *Client) handleDatagram(d transport.Datagram, now time.Time) {
	conn := c.conn
	if conn == nil || d.From.String() != c.remoteKey {
		c.log.Debug("datagram from unexpected endpoint %s", d.From)
		return
	}
	m, ok := c.receiveInto(d)
	if !ok {
		return
	}
	defer m.Release()
	conn.lastReceivedAt = now

	switch m.Header() {
	case message.HeaderWelcome:
		if c.processSequenced(conn, m) {
			c.handleWelcome(conn, m, now)
		}
	case message.HeaderAck, message.HeaderAckExtra:
		c.handleAck(conn, m, now)
	case message.HeaderHeartbeat:
		c.handleHeartbeatEcho(conn, m, now)
	case message.HeaderDisconnect:
		reason := ReasonDisconnected
		if v, err := m.ReadUint8(); err == nil {
			reason = DisconnectReason(v)
		}
		if conn.state == StateConnecting {
			c.log.Warn("server rejected connection: %s", reason)
			c.failConnect()
		} else {
			c.disconnect(reason, false)
		}
	case message.HeaderClientConnected:
		if c.processSequenced(conn, m) {
			if id, err := m.ReadUint16(); err == nil && c.OnClientConnected != nil {
				c.OnClientConnected(id)
			}
		}
	case message.HeaderClientDisconnected:
		if c.processSequenced(conn, m) {
			if id, err := m.ReadUint16(); err == nil && c.OnClientDisconnected != nil {
				c.OnClientDisconnected(id)
			}
		}
	case message.HeaderReliable:
		if c.processSequenced(conn, m) {
			c.deliverUser(conn, m)
		}
	case message.HeaderUnreliable:
		c.deliverUser(conn, m)
	default:
		c.log.Debug("unexpected %s datagram from server", m.Header())
	}
}

// handleWelcome completes the client half of the handshake: adopt the
// assigned id, echo the welcome reliably with any connect data, and fire
// OnConnected.
func (c *Client) handleWelcome(conn *Connection, m *message.Message, now time.Time) {
	id, err := m.ReadUint16()
	if err != nil || id == 0 {
		c.log.Debug("malformed welcome: %v", err)
		return
	}
	if m.UnreadBits() >= 8 {
		if data, err := m.ReadBytes(); err == nil {
			c.welcomeData = data
		}
	}
	if conn.state != StateConnecting {
		return
	}
	conn.id = id
	conn.state = StateConnected
	c.metrics.Connects.Inc()
	c.log.Info("connected as client %d", id)

	echo := c.pool.Get(message.HeaderWelcome)
	_ = echo.WriteUint16(id)
	if len(c.connectData) > 0 {
		_ = echo.WriteBytes(c.connectData)
	}
	c.sendTo(conn, echo, now)
	echo.Release()

	if c.OnConnected != nil {
		c.OnConnected()
	}
}

func (c *Client) handleHeartbeatEcho(conn *Connection, m *message.Message, now time.Time) {
	pingID, err := m.ReadUint8()
	if err != nil {
		return
	}
	if ms, err := m.ReadUint16(); err == nil {
		conn.remoteRTT = millisToDuration(ms)
	}
	if conn.awaitingPong && pingID == conn.pendingPingID {
		conn.awaitingPong = false
		conn.updateRTT(now.Sub(conn.pendingPingSentAt))
		c.metrics.SmoothedRTT.Set(conn.smoothedRTT.Seconds())
	}
}

// failConnect ends an unsuccessful handshake.
func (c *Client) failConnect() {
	conn := c.conn
	if conn == nil || conn.state == StateNotConnected {
		return
	}
	conn.teardown()
	c.tr.Close(conn.addr)
	c.metrics.Disconnects.Inc()
	if c.OnConnectFailed != nil {
		c.OnConnectFailed()
	}
}

// disconnect tears down the connection exactly once.
func (c *Client) disconnect(reason DisconnectReason, notifyRemote bool) {
	conn := c.conn
	if conn == nil || conn.state == StateNotConnected {
		return
	}
	if notifyRemote {
		c.sendDisconnect(conn.addr, reason)
	}
	conn.teardown()
	c.tr.Close(conn.addr)
	c.metrics.Disconnects.Inc()
	c.metrics.OpenConnections.Set(0)
	c.log.Info("disconnected: %s", reason)
	if c.OnDisconnected != nil {
		c.OnDisconnected(reason)
	}
}
