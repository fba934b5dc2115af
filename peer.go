package riptide

import (
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/rcarmo/go-riptide/internal/logging"
	"github.com/rcarmo/go-riptide/internal/metrics"
	"github.com/rcarmo/go-riptide/message"
	"github.com/rcarmo/go-riptide/transport"
)

// Handler consumes one inbound user message. fromID is the server-assigned
// id of the connection the message arrived on. The message is released by
// the peer when the handler returns; handlers must not retain it.
type Handler func(fromID uint16, m *message.Message)

// peer is the role-agnostic core shared by Server and Client: it owns the
// transport, the message pool and the handler table, and provides the send
// and reliability plumbing both roles drive from their tick loops.
type peer struct {
	cfg      Config
	log      *logging.Logger
	tr       transport.Transport
	pool     *message.Pool
	handlers map[uint16]Handler
	metrics  *metrics.Metrics

	// now is the tick clock; tests substitute it.
	now func() time.Time
}

func newPeer(tr transport.Transport, cfg Config, role string) peer {
	cfg = cfg.withDefaults()
	return peer{
		cfg:      cfg,
		log:      cfg.Logger.WithPrefix(role + "/" + xid.New().String()),
		tr:       tr,
		pool:     message.NewPool(cfg.MaxMessageSize),
		handlers: make(map[uint16]Handler),
		metrics:  metrics.New(cfg.MetricsRegistry, role),
		now:      time.Now,
	}
}

// Handle registers the handler for a 16-bit user message id. Registration
// is explicit and happens at startup; inbound messages with an unregistered
// id are logged and dropped.
func (p *peer) Handle(id uint16, h Handler) {
	p.handlers[id] = h
}

// NewReliable acquires a pooled message for an ack-tracked user payload,
// with the message id already written.
func (p *peer) NewReliable(id uint16) *message.Message {
	m := p.pool.Get(message.HeaderReliable)
	_ = m.WriteUint16(id)
	return m
}

// NewUnreliable acquires a pooled message for a fire-and-forget user
// payload, with the message id already written.
func (p *peer) NewUnreliable(id uint16) *message.Message {
	m := p.pool.Get(message.HeaderUnreliable)
	_ = m.WriteUint16(id)
	return m
}

// sendRaw hands one datagram to the transport. Transport errors are logged
// and swallowed; loss is the reliability layer's problem, not the caller's.
func (p *peer) sendRaw(data []byte, to net.Addr) {
	if err := p.tr.Send(data, to); err != nil {
		p.log.Warn("send to %s: %v", to, err)
		return
	}
	p.metrics.DatagramsSent.Inc()
}

// sendTo serializes m for c, routing reliable tags through the sliding
// window. The caller keeps ownership of m.
func (p *peer) sendTo(c *Connection, m *message.Message, now time.Time) {
	if c == nil || c.state == StateNotConnected {
		return
	}
	if !m.Header().IsReliable() {
		p.sendRaw(m.Bytes(), c.addr)
		return
	}
	p.sendReliable(c, m.Bytes(), now)
}

// sendReliable assigns a sequence id and puts the datagram on the wire, or
// parks it in the connection's queue while the window is full.
func (p *peer) sendReliable(c *Connection, data []byte, now time.Time) {
	if !c.canSendReliable() {
		c.queueReliable(data)
		return
	}
	seq := c.assignSeq()
	message.SetSequenceBytes(data, seq)
	c.trackReliable(seq, data, now)
	p.sendRaw(data, c.addr)
}

// drainSendQueue promotes queued reliable datagrams into the window as acks
// make room.
func (p *peer) drainSendQueue(c *Connection, now time.Time) {
	for len(c.sendQueue) > 0 && c.canSendReliable() {
		data := c.sendQueue[0]
		c.sendQueue = c.sendQueue[1:]
		seq := c.assignSeq()
		message.SetSequenceBytes(data, seq)
		c.trackReliable(seq, data, now)
		p.sendRaw(data, c.addr)
	}
}

// retransmit resends every pending entry whose ack is overdue and abandons
// entries that exhausted their attempts. Exhaustion is internal: the
// contract is best-effort-reliable bounded by MaxSendAttempts.
func (p *peer) retransmit(c *Connection, now time.Time) {
	rto := c.retransmitTimeout()
	for seq, pm := range c.pending {
		if now.Sub(pm.lastSentAt) < rto {
			continue
		}
		if pm.attemptsLeft <= 0 {
			delete(c.pending, seq)
			p.metrics.DeliveryFailures.Inc()
			p.log.Debug("reliable %d to %s: send attempts exhausted", seq, c.addr)
			continue
		}
		pm.attemptsLeft--
		pm.lastSentAt = now
		pm.retransmitted = true
		p.sendRaw(pm.data, c.addr)
		p.metrics.Retransmissions.Inc()
	}
}

// processSequenced reconstructs the full sequence id of an inbound sequenced
// datagram, updates the receive window and emits the ack. It reports
// whether the datagram is fresh; duplicates and too-old ids return false.
func (p *peer) processSequenced(c *Connection, m *message.Message) bool {
	seq := c.reconstructIncoming(m.Sequence())
	fresh := c.acceptSequenced(seq)
	p.sendAckFor(c, seq)
	if !fresh {
		p.metrics.DuplicatesDropped.Inc()
	}
	return fresh
}

// sendAckFor acknowledges a just-processed sequence id: a plain ack when it
// is the newest received, an ackExtra naming the id when an older gap was
// filled or a stale duplicate arrived.
func (p *peer) sendAckFor(c *Connection, seq uint16) {
	var m *message.Message
	if seq == c.lastRecvSeq {
		m = p.pool.Get(message.HeaderAck)
	} else {
		m = p.pool.Get(message.HeaderAckExtra)
	}
	m.SetSequence(c.lastRecvSeq)
	_ = m.WriteUint16(c.ackBitfield)
	if m.Header() == message.HeaderAckExtra {
		_ = m.WriteUint16(seq)
	}
	p.sendRaw(m.Bytes(), c.addr)
	m.Release()
}

// handleAck clears acknowledged entries from the pending table and promotes
// queued sends into the freed window.
func (p *peer) handleAck(c *Connection, m *message.Message, now time.Time) {
	remoteLast := c.reconstructAcked(m.Sequence())
	bitfield, err := m.ReadUint16()
	if err != nil {
		p.log.Debug("malformed ack from %s: %v", c.addr, err)
		return
	}
	acked := remoteLast
	if m.Header() == message.HeaderAckExtra {
		if acked, err = m.ReadUint16(); err != nil {
			p.log.Debug("malformed ackExtra from %s: %v", c.addr, err)
			return
		}
	}
	c.processAck(acked, remoteLast, bitfield, now)
	if c.hasRTT {
		p.metrics.SmoothedRTT.Set(c.smoothedRTT.Seconds())
	}
	p.drainSendQueue(c, now)
}

// deliverUser routes a user payload to its registered handler. Unknown
// message ids are logged and dropped.
func (p *peer) deliverUser(c *Connection, m *message.Message) {
	id, err := m.ReadUint16()
	if err != nil {
		p.log.Debug("user message from %s without id: %v", c.addr, err)
		return
	}
	h, ok := p.handlers[id]
	if !ok {
		p.log.Warn("no handler for message id %d from %s", id, c.addr)
		return
	}
	p.metrics.MessagesDelivered.Inc()
	h(c.id, m)
}

// sendDisconnect fires the one-shot graceful teardown datagram. It is
// deliberately unreliable: if it is lost, the remote's timeout handles it.
func (p *peer) sendDisconnect(to net.Addr, reason DisconnectReason) {
	m := p.pool.Get(message.HeaderDisconnect)
	_ = m.WriteUint8(uint8(reason))
	p.sendRaw(m.Bytes(), to)
	m.Release()
}

// faultReporter is the optional transport capability for surfacing fatal
// socket-level receive failures. When a transport reports one, the peer
// moves its connections to notConnected with reason transportError.
type faultReporter interface {
	Err() error
}

func (p *peer) transportErr() error {
	if fr, ok := p.tr.(faultReporter); ok {
		return fr.Err()
	}
	return nil
}

// receiveInto parses one inbound datagram from the transport queue. The
// caller releases the returned message.
func (p *peer) receiveInto(d transport.Datagram) (*message.Message, bool) {
	m, err := p.pool.Receive(d.Data)
	if err != nil {
		p.log.Debug("dropping datagram from %s: %v", d.From, err)
		return nil, false
	}
	p.metrics.DatagramsReceived.Inc()
	return m, true
}

func durationToMillis(d time.Duration) uint16 {
	ms := d.Milliseconds()
	if ms > 0xFFFF {
		ms = 0xFFFF
	}
	if ms < 0 {
		ms = 0
	}
	return uint16(ms)
}

func millisToDuration(ms uint16) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
