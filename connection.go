package riptide

import (
	"net"
	"time"

	"github.com/rcarmo/go-riptide/message"
)

// ackWindow is the width of the acknowledgement bitfield: the receiver
// remembers which of the 16 sequence ids preceding the newest one arrived,
// and the sender keeps at most that many reliable messages in flight.
const ackWindow = 16

// Connection tracks one remote endpoint: its lifecycle state, reliability
// windows and RTT estimate. Connections are created and owned by a peer;
// all access happens on the tick goroutine.
type Connection struct {
	id    uint16
	addr  net.Addr
	state ConnectionState

	// Outgoing reliability. nextSeq is the next sequence id to assign;
	// pending maps in-flight sequence ids to their retransmission state.
	// Reliable sends beyond the window wait in sendQueue, unsequenced,
	// until acks make room.
	nextSeq   uint16
	pending   map[uint16]*pendingReliable
	sendQueue [][]byte

	// Incoming reliability. lastRecvSeq is the newest accepted sequence id;
	// bit k of ackBitfield is set iff lastRecvSeq-k-1 was received.
	lastRecvSeq uint16
	ackBitfield uint16

	// RTT estimate in the RFC 6298 shape: EWMA with alpha 1/8 for the mean
	// and beta 1/4 for the variance.
	smoothedRTT time.Duration
	rttVariance time.Duration
	hasRTT      bool

	lastReceivedAt      time.Time
	lastHeartbeatSentAt time.Time

	// Heartbeat RTT probe state (client side).
	pendingPingID     uint8
	pendingPingSentAt time.Time
	awaitingPong      bool

	// remoteRTT is the smoothed RTT the other side last reported in a
	// heartbeat, for diagnostics only.
	remoteRTT time.Duration

	// connectData is the application payload the client attached to its
	// welcome echo; the server surfaces it once connected.
	connectData []byte

	timeout     time.Duration
	maxAttempts int
}

// pendingReliable is one reliable message awaiting acknowledgement. The
// serialized datagram is retained so retransmits resend identical bytes.
type pendingReliable struct {
	data        []byte
	firstSentAt time.Time
	lastSentAt  time.Time
	// attemptsLeft counts remaining retransmissions; the initial send
	// already happened, so the message reaches the wire at most
	// maxAttempts times in total.
	attemptsLeft  int
	retransmitted bool
}

func newConnection(addr net.Addr, state ConnectionState, cfg Config) *Connection {
	return &Connection{
		addr:        addr,
		state:       state,
		nextSeq:     1,
		pending:     make(map[uint16]*pendingReliable),
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxSendAttempts,
	}
}

// ID returns the server-assigned connection id. Zero means unassigned.
func (c *Connection) ID() uint16 {
	return c.id
}

// Addr returns the remote endpoint.
func (c *Connection) Addr() net.Addr {
	return c.addr
}

// State returns the lifecycle state.
func (c *Connection) State() ConnectionState {
	return c.state
}

// IsConnected reports whether the handshake has completed and the connection
// has not been torn down.
func (c *Connection) IsConnected() bool {
	return c.state == StateConnected
}

// SmoothedRTT returns the current round-trip estimate, or zero before the
// first sample.
func (c *Connection) SmoothedRTT() time.Duration {
	return c.smoothedRTT
}

// RTTVariance returns the current round-trip variance estimate.
func (c *Connection) RTTVariance() time.Duration {
	return c.rttVariance
}

// RemoteRTT returns the round-trip estimate the other side last reported in
// a heartbeat.
func (c *Connection) RemoteRTT() time.Duration {
	return c.remoteRTT
}

// ConnectData returns the application payload the client attached to its
// handshake, or nil.
func (c *Connection) ConnectData() []byte {
	return c.connectData
}

// PendingCount returns how many reliable messages are awaiting an ack.
func (c *Connection) PendingCount() int {
	return len(c.pending)
}

// QueuedCount returns how many reliable messages are waiting for window
// room before their first transmission.
func (c *Connection) QueuedCount() int {
	return len(c.sendQueue)
}

// SetTimeout overrides the silence window for this connection only.
func (c *Connection) SetTimeout(d time.Duration) {
	c.timeout = d
}

// canSendReliable reports whether the sliding window has room for another
// in-flight reliable message: fewer than ackWindow are pending, and the id
// about to be assigned stays within ackWindow of every pending id, so no
// undelivered id can fall behind the receiver's window.
func (c *Connection) canSendReliable() bool {
	if len(c.pending) >= ackWindow {
		return false
	}
	next := c.nextSeq
	if next == 0 {
		next = 1
	}
	for seq := range c.pending {
		if next-seq > ackWindow {
			return false
		}
	}
	return true
}

// trackReliable records a just-serialized reliable datagram under seq in the
// pending table. The caller has already patched seq into data via
// SetSequenceBytes.
func (c *Connection) trackReliable(seq uint16, data []byte, now time.Time) {
	buf := make([]byte, len(data))
	copy(buf, data)
	c.pending[seq] = &pendingReliable{
		data:         buf,
		firstSentAt:  now,
		lastSentAt:   now,
		attemptsLeft: c.maxAttempts - 1,
	}
}

// assignSeq hands out the next outgoing reliable sequence id, wrapping at 16
// bits. Zero is skipped: a fresh receive window starts at zero, and an id of
// zero would read as its own duplicate there.
func (c *Connection) assignSeq() uint16 {
	if c.nextSeq == 0 {
		c.nextSeq = 1
	}
	seq := c.nextSeq
	c.nextSeq++
	return seq
}

// acceptSequenced runs the receive side of the reliability state machine for
// a reconstructed 16-bit sequence id. It updates lastRecvSeq and the ack
// bitfield and reports whether the message is fresh and should be delivered;
// duplicates and ids older than the window return false.
func (c *Connection) acceptSequenced(seq uint16) bool {
	delta := int16(seq - c.lastRecvSeq)
	switch {
	case delta > 0:
		d := uint(delta)
		if d > ackWindow {
			c.ackBitfield = 0
		} else {
			// Shift history up and record the previously-newest id.
			c.ackBitfield = c.ackBitfield<<d | 1<<(d-1)
		}
		c.lastRecvSeq = seq
		return true
	case delta == 0:
		return false
	default:
		age := uint(-delta)
		if age > ackWindow {
			return false
		}
		bit := uint16(1) << (age - 1)
		if c.ackBitfield&bit != 0 {
			return false
		}
		c.ackBitfield |= bit
		return true
	}
}

// processAck clears pending entries named by an ack: the directly
// acknowledged id plus every bit set in the bitfield, which counts backwards
// from remoteLast. A direct ack of a message that was never retransmitted
// contributes an RTT sample.
func (c *Connection) processAck(acked, remoteLast, bitfield uint16, now time.Time) {
	c.clearPending(acked, now, true)
	for k := uint(0); k < ackWindow; k++ {
		if bitfield&(1<<k) != 0 {
			c.clearPending(remoteLast-uint16(k)-1, now, false)
		}
	}
}

func (c *Connection) clearPending(seq uint16, now time.Time, direct bool) {
	pm, ok := c.pending[seq]
	if !ok {
		return
	}
	delete(c.pending, seq)
	if direct && !pm.retransmitted {
		c.updateRTT(now.Sub(pm.firstSentAt))
	}
}

func (c *Connection) updateRTT(rtt time.Duration) {
	if rtt < 0 {
		return
	}
	if !c.hasRTT {
		c.smoothedRTT = rtt
		c.rttVariance = rtt / 2
		c.hasRTT = true
		return
	}
	diff := rtt - c.smoothedRTT
	if diff < 0 {
		diff = -diff
	}
	c.rttVariance += (diff - c.rttVariance) / 4
	c.smoothedRTT += (rtt - c.smoothedRTT) / 8
}

// retransmitTimeout returns how long a pending entry may wait before it is
// resent: max(50ms, smoothedRTT + 4*variance), or a fixed 200ms before the
// first RTT sample.
func (c *Connection) retransmitTimeout() time.Duration {
	if !c.hasRTT {
		return initialRetransmitTimeout
	}
	rto := c.smoothedRTT + 4*c.rttVariance
	if rto < minRetransmitTimeout {
		rto = minRetransmitTimeout
	}
	return rto
}

// reconstructIncoming recovers the full 16-bit id of an inbound sequenced
// datagram relative to the newest accepted id.
func (c *Connection) reconstructIncoming(wire uint16) uint16 {
	return message.ReconstructSequence(wire, c.lastRecvSeq)
}

// reconstructAcked recovers the full 16-bit id named by an inbound ack
// relative to the newest id this side has sent.
func (c *Connection) reconstructAcked(wire uint16) uint16 {
	return message.ReconstructSequence(wire, c.nextSeq-1)
}

// queueReliable holds a serialized reliable datagram back until the sliding
// window has room. The sequence id is assigned at dequeue time so ids stay
// contiguous with the in-flight set.
func (c *Connection) queueReliable(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	c.sendQueue = append(c.sendQueue, buf)
}

// teardown moves the connection to its terminal state and drops any pending
// reliable messages; they will never be retransmitted again.
func (c *Connection) teardown() {
	c.state = StateNotConnected
	c.pending = make(map[uint16]*pendingReliable)
	c.sendQueue = nil
}
