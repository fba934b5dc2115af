package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRoundTrip_MixedWrites validates that any sequence of typed writes reads
// back exactly, including sub-byte booleans and float bit patterns.
func TestRoundTrip_MixedWrites(t *testing.T) {
	p := NewPool(0)
	m := p.Get(HeaderUnreliable)
	defer m.Release()

	require.NoError(t, m.WriteBool(true))
	require.NoError(t, m.WriteBool(false))
	require.NoError(t, m.WriteUint8(0xA5))
	require.NoError(t, m.WriteBool(true))
	require.NoError(t, m.WriteUint16(0xBEEF))
	require.NoError(t, m.WriteUint32(0xDEADBEEF))
	require.NoError(t, m.WriteUint64(0x0123456789ABCDEF))
	require.NoError(t, m.WriteInt8(-5))
	require.NoError(t, m.WriteInt16(-12345))
	require.NoError(t, m.WriteInt32(-123456789))
	require.NoError(t, m.WriteInt64(-1234567890123))
	require.NoError(t, m.WriteFloat32(3.25))
	require.NoError(t, m.WriteFloat64(-2.5e300))
	require.NoError(t, m.WriteString("héllo wörld"))
	require.NoError(t, m.WriteBool(true))

	b, err := m.ReadBool()
	require.NoError(t, err)
	require.True(t, b)
	b, err = m.ReadBool()
	require.NoError(t, err)
	require.False(t, b)
	u8, err := m.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xA5), u8)
	b, err = m.ReadBool()
	require.NoError(t, err)
	require.True(t, b)
	u16, err := m.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), u16)
	u32, err := m.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)
	u64, err := m.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0123456789ABCDEF), u64)
	i8, err := m.ReadInt8()
	require.NoError(t, err)
	require.Equal(t, int8(-5), i8)
	i16, err := m.ReadInt16()
	require.NoError(t, err)
	require.Equal(t, int16(-12345), i16)
	i32, err := m.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(-123456789), i32)
	i64, err := m.ReadInt64()
	require.NoError(t, err)
	require.Equal(t, int64(-1234567890123), i64)
	f32, err := m.ReadFloat32()
	require.NoError(t, err)
	require.Equal(t, float32(3.25), f32)
	f64, err := m.ReadFloat64()
	require.NoError(t, err)
	require.Equal(t, -2.5e300, f64)
	s, err := m.ReadString()
	require.NoError(t, err)
	require.Equal(t, "héllo wörld", s)
	b, err = m.ReadBool()
	require.NoError(t, err)
	require.True(t, b)

	require.Zero(t, m.UnreadBits())
}

// TestRoundTrip_OverWire serializes a message and parses it back through the
// pool, the way a peer handles a real datagram.
func TestRoundTrip_OverWire(t *testing.T) {
	p := NewPool(0)
	m := p.Get(HeaderReliable)
	m.SetSequence(1234)
	require.NoError(t, m.WriteUint16(7)) // message id
	require.NoError(t, m.WriteBool(true))
	require.NoError(t, m.WriteString("payload"))

	wire := make([]byte, m.BytesWritten())
	copy(wire, m.Bytes())
	m.Release()

	got, err := p.Receive(wire)
	require.NoError(t, err)
	defer got.Release()

	require.Equal(t, HeaderReliable, got.Header())
	require.Equal(t, uint16(1234), got.Sequence())
	id, err := got.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(7), id)
	b, err := got.ReadBool()
	require.NoError(t, err)
	require.True(t, b)
	s, err := got.ReadString()
	require.NoError(t, err)
	require.Equal(t, "payload", s)
}

func TestWrite_BufferOverflow(t *testing.T) {
	p := NewPool(4)
	m := p.Get(HeaderUnreliable)
	defer m.Release()

	require.NoError(t, m.WriteUint16(1))
	require.NoError(t, m.WriteUint8(2))
	// 4 bits header + 24 bits written; 4 bits remain.
	require.NoError(t, m.WriteBool(true))
	err := m.WriteUint8(3)
	require.ErrorIs(t, err, ErrBufferOverflow)

	// The failed write must not have moved the cursor.
	require.NoError(t, m.WriteBool(false))
}

func TestRead_EndOfBuffer(t *testing.T) {
	p := NewPool(0)
	m := p.Get(HeaderUnreliable)
	defer m.Release()

	require.NoError(t, m.WriteUint8(42))
	v, err := m.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(42), v)

	_, err = m.ReadUint8()
	require.ErrorIs(t, err, ErrEndOfBuffer)
	_, err = m.ReadBool()
	require.ErrorIs(t, err, ErrEndOfBuffer)
}

func TestPool_ReleaseZeroesBuffer(t *testing.T) {
	p := NewPool(32)
	m := p.Get(HeaderUnreliable)
	require.NoError(t, m.WriteUint64(0xFFFFFFFFFFFFFFFF))
	m.Release()

	// The same buffer comes back; it must read as empty.
	m2 := p.Get(HeaderUnreliable)
	defer m2.Release()
	require.Equal(t, HeaderUnreliable, m2.Header())
	require.Zero(t, m2.UnreadBits())
	for _, b := range m2.Bytes() {
		require.Zero(t, b&0xF0) // only the tag nibble may be set
	}
}

func TestReceive_ReservedHeader(t *testing.T) {
	p := NewPool(0)
	for tag := byte(10); tag <= 15; tag++ {
		_, err := p.Receive([]byte{tag, 0x00})
		require.ErrorIs(t, err, ErrReservedHeader, "tag %d", tag)
	}
}

func TestReceive_Truncated(t *testing.T) {
	p := NewPool(0)

	_, err := p.Receive(nil)
	require.Error(t, err)

	// A reliable datagram needs two bytes for tag + sequence id.
	_, err = p.Receive([]byte{byte(HeaderReliable)})
	require.ErrorIs(t, err, ErrEndOfBuffer)
}

func TestReceive_OversizedDatagram(t *testing.T) {
	p := NewPool(8)
	_, err := p.Receive(make([]byte, 9))
	require.ErrorIs(t, err, ErrBufferOverflow)
}
