package riptide

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242}
}

func testConnection() *Connection {
	return newConnection(testAddr(), StateConnected, Config{}.withDefaults())
}

// TestAcceptSequenced_Monotonic checks that a newer id advances the window
// and bit 0 comes to represent the previously-newest id.
func TestAcceptSequenced_Monotonic(t *testing.T) {
	c := testConnection()

	require.True(t, c.acceptSequenced(5))
	require.Equal(t, uint16(5), c.lastRecvSeq)

	require.True(t, c.acceptSequenced(6))
	require.Equal(t, uint16(6), c.lastRecvSeq)
	assert.NotZero(t, c.ackBitfield&1, "bit 0 must record seq 5")

	// A jump of three: the two skipped ids stay unset.
	require.True(t, c.acceptSequenced(9))
	require.Equal(t, uint16(9), c.lastRecvSeq)
	assert.NotZero(t, c.ackBitfield&(1<<2), "bit 2 must record seq 6")
	assert.Zero(t, c.ackBitfield&(1<<0), "seq 8 was not received")
	assert.Zero(t, c.ackBitfield&(1<<1), "seq 7 was not received")
}

// TestAcceptSequenced_Duplicates checks exactly-once delivery: the same id
// is accepted a single time, newest or not.
func TestAcceptSequenced_Duplicates(t *testing.T) {
	c := testConnection()

	require.True(t, c.acceptSequenced(5))
	assert.False(t, c.acceptSequenced(5), "newest id replayed")

	require.True(t, c.acceptSequenced(8))
	assert.True(t, c.acceptSequenced(6), "gap fill is fresh")
	assert.False(t, c.acceptSequenced(6), "gap fill replayed")
	assert.False(t, c.acceptSequenced(5), "old id replayed")
}

func TestAcceptSequenced_WindowBounds(t *testing.T) {
	c := testConnection()
	require.True(t, c.acceptSequenced(100))

	assert.True(t, c.acceptSequenced(84), "age 16 is the window edge")
	assert.False(t, c.acceptSequenced(83), "age 17 is too old")
}

func TestAcceptSequenced_Wraparound(t *testing.T) {
	c := testConnection()
	c.lastRecvSeq = 65534

	require.True(t, c.acceptSequenced(2), "wrap-aware delta must be +4")
	assert.Equal(t, uint16(2), c.lastRecvSeq)
	assert.NotZero(t, c.ackBitfield&(1<<3), "bit 3 must record seq 65534")

	assert.True(t, c.acceptSequenced(65535), "pre-wrap id within window")
	assert.False(t, c.acceptSequenced(65535), "pre-wrap duplicate")
}

func TestProcessAck_ClearsPendingAndSamplesRTT(t *testing.T) {
	c := testConnection()
	start := time.Now()

	for seq := uint16(1); seq <= 3; seq++ {
		c.nextSeq = seq + 1
		c.trackReliable(seq, []byte{0x06, 0x00}, start)
	}
	require.Equal(t, 3, c.PendingCount())

	// Ack for 3 with bits naming 1 and 2.
	c.processAck(3, 3, 0b11, start.Add(80*time.Millisecond))
	assert.Zero(t, c.PendingCount())
	assert.Equal(t, 80*time.Millisecond, c.SmoothedRTT(), "direct ack samples RTT")
	assert.Equal(t, 40*time.Millisecond, c.RTTVariance())
}

func TestProcessAck_UnknownSeqIsNoop(t *testing.T) {
	c := testConnection()
	c.processAck(9, 9, 0xFFFF, time.Now())
	assert.Zero(t, c.PendingCount())
	assert.Zero(t, c.SmoothedRTT())
}

func TestUpdateRTT_EWMA(t *testing.T) {
	c := testConnection()

	c.updateRTT(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, c.smoothedRTT)
	assert.Equal(t, 50*time.Millisecond, c.rttVariance)

	// alpha 1/8, beta 1/4 against the pre-update mean.
	c.updateRTT(180 * time.Millisecond)
	assert.Equal(t, 110*time.Millisecond, c.smoothedRTT)
	assert.Equal(t, time.Duration(57500)*time.Microsecond, c.rttVariance)
}

func TestRetransmitTimeout(t *testing.T) {
	c := testConnection()

	assert.Equal(t, initialRetransmitTimeout, c.retransmitTimeout(), "no sample yet")

	c.updateRTT(100 * time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, c.retransmitTimeout(), "sRTT + 4*var")

	c.smoothedRTT = 2 * time.Millisecond
	c.rttVariance = time.Millisecond
	assert.Equal(t, minRetransmitTimeout, c.retransmitTimeout(), "floored at 50ms")
}

func TestAssignSeq_SkipsZeroOnWrap(t *testing.T) {
	c := testConnection()
	c.nextSeq = 65535

	assert.Equal(t, uint16(65535), c.assignSeq())
	assert.Equal(t, uint16(1), c.assignSeq(), "zero is reserved")
	assert.Equal(t, uint16(2), c.assignSeq())
}

func TestTeardown_DropsPendingState(t *testing.T) {
	c := testConnection()
	c.trackReliable(c.assignSeq(), []byte{1, 2}, time.Now())
	c.queueReliable([]byte{3, 4})

	c.teardown()
	assert.Equal(t, StateNotConnected, c.State())
	assert.Zero(t, c.PendingCount())
	assert.Zero(t, c.QueuedCount())
}
