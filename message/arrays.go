package message

import (
	"fmt"
	"math"
)

// Array lengths are encoded compactly: one byte with the high bit clear for
// lengths up to 127, otherwise two bytes with the high bit of the first set
// and the remaining 15 bits holding the length. The same prefix is used for
// string byte lengths and every homogeneous slice.

func (m *Message) writeLength(n int) error {
	if n > maxArrayLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrBufferOverflow, n, maxArrayLength)
	}
	if n <= 0x7F {
		if err := m.checkWrite(8); err != nil {
			return err
		}
		m.writeBits(uint64(n), 8)
		return nil
	}
	if err := m.checkWrite(16); err != nil {
		return err
	}
	m.writeBits(uint64(0x80|n>>8), 8)
	m.writeBits(uint64(n&0xFF), 8)
	return nil
}

func (m *Message) readLength() (int, error) {
	if err := m.checkRead(8); err != nil {
		return 0, err
	}
	first := m.readBits(8)
	if first&0x80 == 0 {
		return int(first), nil
	}
	if err := m.checkRead(8); err != nil {
		return 0, err
	}
	second := m.readBits(8)
	return int(first&0x7F)<<8 | int(second), nil
}

// WriteString writes a UTF-8 string with a length prefix counting bytes.
func (m *Message) WriteString(s string) error {
	return m.WriteBytes([]byte(s))
}

// ReadString reads a length-prefixed UTF-8 string.
func (m *Message) ReadString() (string, error) {
	b, err := m.ReadBytes()
	return string(b), err
}

// WriteBytes writes a length-prefixed byte slice.
func (m *Message) WriteBytes(b []byte) error {
	if err := m.writeLength(len(b)); err != nil {
		return err
	}
	if err := m.checkWrite(len(b) * 8); err != nil {
		return err
	}
	for _, v := range b {
		m.writeBits(uint64(v), 8)
	}
	return nil
}

// ReadBytes reads a length-prefixed byte slice.
func (m *Message) ReadBytes() ([]byte, error) {
	n, err := m.readLength()
	if err != nil {
		return nil, err
	}
	if err := m.checkRead(n * 8); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(m.readBits(8))
	}
	return b, nil
}

// WriteBools writes a length-prefixed slice of single-bit booleans.
func (m *Message) WriteBools(vs []bool) error {
	if err := m.writeLength(len(vs)); err != nil {
		return err
	}
	if err := m.checkWrite(len(vs)); err != nil {
		return err
	}
	for _, v := range vs {
		var bit uint64
		if v {
			bit = 1
		}
		m.writeBits(bit, 1)
	}
	return nil
}

// ReadBools reads a length-prefixed slice of single-bit booleans.
func (m *Message) ReadBools() ([]bool, error) {
	n, err := m.readLength()
	if err != nil {
		return nil, err
	}
	if err := m.checkRead(n); err != nil {
		return nil, err
	}
	vs := make([]bool, n)
	for i := range vs {
		vs[i] = m.readBits(1) == 1
	}
	return vs, nil
}

// WriteUint16s writes a length-prefixed slice of unsigned 16-bit integers.
func (m *Message) WriteUint16s(vs []uint16) error {
	if err := m.writeLength(len(vs)); err != nil {
		return err
	}
	if err := m.checkWrite(len(vs) * 16); err != nil {
		return err
	}
	for _, v := range vs {
		m.writeBits(uint64(v), 16)
	}
	return nil
}

// ReadUint16s reads a length-prefixed slice of unsigned 16-bit integers.
func (m *Message) ReadUint16s() ([]uint16, error) {
	n, err := m.readLength()
	if err != nil {
		return nil, err
	}
	if err := m.checkRead(n * 16); err != nil {
		return nil, err
	}
	vs := make([]uint16, n)
	for i := range vs {
		vs[i] = uint16(m.readBits(16))
	}
	return vs, nil
}

// WriteUint32s writes a length-prefixed slice of unsigned 32-bit integers.
func (m *Message) WriteUint32s(vs []uint32) error {
	if err := m.writeLength(len(vs)); err != nil {
		return err
	}
	if err := m.checkWrite(len(vs) * 32); err != nil {
		return err
	}
	for _, v := range vs {
		m.writeBits(uint64(v), 32)
	}
	return nil
}

// ReadUint32s reads a length-prefixed slice of unsigned 32-bit integers.
func (m *Message) ReadUint32s() ([]uint32, error) {
	n, err := m.readLength()
	if err != nil {
		return nil, err
	}
	if err := m.checkRead(n * 32); err != nil {
		return nil, err
	}
	vs := make([]uint32, n)
	for i := range vs {
		vs[i] = uint32(m.readBits(32))
	}
	return vs, nil
}

// WriteUint64s writes a length-prefixed slice of unsigned 64-bit integers.
func (m *Message) WriteUint64s(vs []uint64) error {
	if err := m.writeLength(len(vs)); err != nil {
		return err
	}
	if err := m.checkWrite(len(vs) * 64); err != nil {
		return err
	}
	for _, v := range vs {
		m.writeBits(v, 64)
	}
	return nil
}

// ReadUint64s reads a length-prefixed slice of unsigned 64-bit integers.
func (m *Message) ReadUint64s() ([]uint64, error) {
	n, err := m.readLength()
	if err != nil {
		return nil, err
	}
	if err := m.checkRead(n * 64); err != nil {
		return nil, err
	}
	vs := make([]uint64, n)
	for i := range vs {
		vs[i] = m.readBits(64)
	}
	return vs, nil
}

// WriteInt32s writes a length-prefixed slice of signed 32-bit integers.
func (m *Message) WriteInt32s(vs []int32) error {
	if err := m.writeLength(len(vs)); err != nil {
		return err
	}
	if err := m.checkWrite(len(vs) * 32); err != nil {
		return err
	}
	for _, v := range vs {
		m.writeBits(uint64(uint32(v)), 32)
	}
	return nil
}

// ReadInt32s reads a length-prefixed slice of signed 32-bit integers.
func (m *Message) ReadInt32s() ([]int32, error) {
	vs, err := m.ReadUint32s()
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(vs))
	for i, v := range vs {
		out[i] = int32(v)
	}
	return out, nil
}

// WriteFloat32s writes a length-prefixed slice of 32-bit floats.
func (m *Message) WriteFloat32s(vs []float32) error {
	if err := m.writeLength(len(vs)); err != nil {
		return err
	}
	if err := m.checkWrite(len(vs) * 32); err != nil {
		return err
	}
	for _, v := range vs {
		m.writeBits(uint64(math.Float32bits(v)), 32)
	}
	return nil
}

// ReadFloat32s reads a length-prefixed slice of 32-bit floats.
func (m *Message) ReadFloat32s() ([]float32, error) {
	vs, err := m.ReadUint32s()
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(vs))
	for i, v := range vs {
		out[i] = math.Float32frombits(v)
	}
	return out, nil
}

// WriteFloat64s writes a length-prefixed slice of 64-bit floats.
func (m *Message) WriteFloat64s(vs []float64) error {
	if err := m.writeLength(len(vs)); err != nil {
		return err
	}
	if err := m.checkWrite(len(vs) * 64); err != nil {
		return err
	}
	for _, v := range vs {
		m.writeBits(math.Float64bits(v), 64)
	}
	return nil
}

// ReadFloat64s reads a length-prefixed slice of 64-bit floats.
func (m *Message) ReadFloat64s() ([]float64, error) {
	vs, err := m.ReadUint64s()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = math.Float64frombits(v)
	}
	return out, nil
}

// WriteStrings writes a length-prefixed slice of strings.
func (m *Message) WriteStrings(vs []string) error {
	if err := m.writeLength(len(vs)); err != nil {
		return err
	}
	for _, v := range vs {
		if err := m.WriteString(v); err != nil {
			return err
		}
	}
	return nil
}

// ReadStrings reads a length-prefixed slice of strings.
func (m *Message) ReadStrings() ([]string, error) {
	n, err := m.readLength()
	if err != nil {
		return nil, err
	}
	vs := make([]string, n)
	for i := range vs {
		if vs[i], err = m.ReadString(); err != nil {
			return nil, err
		}
	}
	return vs, nil
}
