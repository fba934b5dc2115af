package message

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLengthPrefix_Boundaries validates the compact length encoding: one
// byte up to 127 elements, two bytes with the high bit set up to 32767.
func TestLengthPrefix_Boundaries(t *testing.T) {
	// A large pool so the maximum length fits; capacity is not under test.
	p := NewPool(8192)

	tests := []struct {
		elements    int
		prefixBytes int
	}{
		{0, 1},
		{1, 1},
		{127, 1},
		{128, 2},
		{129, 2},
		{32767, 2},
	}
	for _, tc := range tests {
		m := p.Get(HeaderUnreliable)
		require.NoError(t, m.WriteBools(make([]bool, tc.elements)))
		// Header nibble shares the first byte; element bits follow the
		// prefix directly.
		wantBits := 4 + tc.prefixBytes*8 + tc.elements
		require.Equal(t, (wantBits+7)/8, m.BytesWritten(), "%d elements", tc.elements)

		got, err := m.ReadBools()
		require.NoError(t, err)
		require.Len(t, got, tc.elements)
		m.Release()
	}
}

func TestLengthPrefix_TooLong(t *testing.T) {
	p := NewPool(0)
	m := p.Get(HeaderUnreliable)
	defer m.Release()
	err := m.WriteBools(make([]bool, 32768))
	require.ErrorIs(t, err, ErrBufferOverflow)
}

func TestStrings_RoundTrip(t *testing.T) {
	p := NewPool(0)
	m := p.Get(HeaderUnreliable)
	defer m.Release()

	long := strings.Repeat("x", 200) // forces the two-byte prefix
	require.NoError(t, m.WriteString(""))
	require.NoError(t, m.WriteString("a"))
	require.NoError(t, m.WriteString(long))

	for _, want := range []string{"", "a", long} {
		got, err := m.ReadString()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestSlices_RoundTrip(t *testing.T) {
	p := NewPool(0)
	m := p.Get(HeaderUnreliable)
	defer m.Release()

	bools := []bool{true, false, true, true, false}
	bytesIn := []byte{0, 1, 2, 254, 255}
	u16s := []uint16{0, 1, 0xFFFF}
	u32s := []uint32{0, 7, 0xFFFFFFFF}
	u64s := []uint64{1, 0xFFFFFFFFFFFFFFFF}
	i32s := []int32{-1, 0, 2147483647, -2147483648}
	f32s := []float32{0, -1.5, 3.25}
	f64s := []float64{0, 6.02e23, -1e-9}
	strs := []string{"", "one", "two"}

	require.NoError(t, m.WriteBools(bools))
	require.NoError(t, m.WriteBytes(bytesIn))
	require.NoError(t, m.WriteUint16s(u16s))
	require.NoError(t, m.WriteUint32s(u32s))
	require.NoError(t, m.WriteUint64s(u64s))
	require.NoError(t, m.WriteInt32s(i32s))
	require.NoError(t, m.WriteFloat32s(f32s))
	require.NoError(t, m.WriteFloat64s(f64s))
	require.NoError(t, m.WriteStrings(strs))

	gotBools, err := m.ReadBools()
	require.NoError(t, err)
	require.Equal(t, bools, gotBools)
	gotBytes, err := m.ReadBytes()
	require.NoError(t, err)
	require.Equal(t, bytesIn, gotBytes)
	gotU16s, err := m.ReadUint16s()
	require.NoError(t, err)
	require.Equal(t, u16s, gotU16s)
	gotU32s, err := m.ReadUint32s()
	require.NoError(t, err)
	require.Equal(t, u32s, gotU32s)
	gotU64s, err := m.ReadUint64s()
	require.NoError(t, err)
	require.Equal(t, u64s, gotU64s)
	gotI32s, err := m.ReadInt32s()
	require.NoError(t, err)
	require.Equal(t, i32s, gotI32s)
	gotF32s, err := m.ReadFloat32s()
	require.NoError(t, err)
	require.Equal(t, f32s, gotF32s)
	gotF64s, err := m.ReadFloat64s()
	require.NoError(t, err)
	require.Equal(t, f64s, gotF64s)
	gotStrs, err := m.ReadStrings()
	require.NoError(t, err)
	require.Equal(t, strs, gotStrs)
}

func TestSlices_TruncatedRead(t *testing.T) {
	p := NewPool(0)
	m := p.Get(HeaderUnreliable)
	defer m.Release()

	// A length prefix promising more elements than were written.
	require.NoError(t, m.WriteUint8(10))
	_, err := m.ReadUint16s()
	require.ErrorIs(t, err, ErrEndOfBuffer)
}
