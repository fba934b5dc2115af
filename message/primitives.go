package message

import "math"

// Write operations append at the write cursor and fail with ErrBufferOverflow
// when the value would not fit. Read operations are their duals and fail with
// ErrEndOfBuffer when the written length is exhausted. The library never
// truncates silently.

// WriteBool writes a boolean as a single bit.
func (m *Message) WriteBool(v bool) error {
	if err := m.checkWrite(1); err != nil {
		return err
	}
	var bit uint64
	if v {
		bit = 1
	}
	m.writeBits(bit, 1)
	return nil
}

// ReadBool reads a single-bit boolean.
func (m *Message) ReadBool() (bool, error) {
	if err := m.checkRead(1); err != nil {
		return false, err
	}
	return m.readBits(1) == 1, nil
}

// WriteUint8 writes an unsigned 8-bit integer.
func (m *Message) WriteUint8(v uint8) error {
	if err := m.checkWrite(8); err != nil {
		return err
	}
	m.writeBits(uint64(v), 8)
	return nil
}

// ReadUint8 reads an unsigned 8-bit integer.
func (m *Message) ReadUint8() (uint8, error) {
	if err := m.checkRead(8); err != nil {
		return 0, err
	}
	return uint8(m.readBits(8)), nil
}

// WriteUint16 writes an unsigned 16-bit integer, little-endian when the
// cursor is byte-aligned, bit-packed LSB first otherwise.
func (m *Message) WriteUint16(v uint16) error {
	if err := m.checkWrite(16); err != nil {
		return err
	}
	m.writeBits(uint64(v), 16)
	return nil
}

// ReadUint16 reads an unsigned 16-bit integer.
func (m *Message) ReadUint16() (uint16, error) {
	if err := m.checkRead(16); err != nil {
		return 0, err
	}
	return uint16(m.readBits(16)), nil
}

// WriteUint32 writes an unsigned 32-bit integer.
func (m *Message) WriteUint32(v uint32) error {
	if err := m.checkWrite(32); err != nil {
		return err
	}
	m.writeBits(uint64(v), 32)
	return nil
}

// ReadUint32 reads an unsigned 32-bit integer.
func (m *Message) ReadUint32() (uint32, error) {
	if err := m.checkRead(32); err != nil {
		return 0, err
	}
	return uint32(m.readBits(32)), nil
}

// WriteUint64 writes an unsigned 64-bit integer.
func (m *Message) WriteUint64(v uint64) error {
	if err := m.checkWrite(64); err != nil {
		return err
	}
	m.writeBits(v, 64)
	return nil
}

// ReadUint64 reads an unsigned 64-bit integer.
func (m *Message) ReadUint64() (uint64, error) {
	if err := m.checkRead(64); err != nil {
		return 0, err
	}
	return m.readBits(64), nil
}

// WriteInt8 writes a signed 8-bit integer in two's complement.
func (m *Message) WriteInt8(v int8) error {
	return m.WriteUint8(uint8(v))
}

// ReadInt8 reads a signed 8-bit integer.
func (m *Message) ReadInt8() (int8, error) {
	v, err := m.ReadUint8()
	return int8(v), err
}

// WriteInt16 writes a signed 16-bit integer in two's complement.
func (m *Message) WriteInt16(v int16) error {
	return m.WriteUint16(uint16(v))
}

// ReadInt16 reads a signed 16-bit integer.
func (m *Message) ReadInt16() (int16, error) {
	v, err := m.ReadUint16()
	return int16(v), err
}

// WriteInt32 writes a signed 32-bit integer in two's complement.
func (m *Message) WriteInt32(v int32) error {
	return m.WriteUint32(uint32(v))
}

// ReadInt32 reads a signed 32-bit integer.
func (m *Message) ReadInt32() (int32, error) {
	v, err := m.ReadUint32()
	return int32(v), err
}

// WriteInt64 writes a signed 64-bit integer in two's complement.
func (m *Message) WriteInt64(v int64) error {
	return m.WriteUint64(uint64(v))
}

// ReadInt64 reads a signed 64-bit integer.
func (m *Message) ReadInt64() (int64, error) {
	v, err := m.ReadUint64()
	return int64(v), err
}

// WriteFloat32 writes a 32-bit IEEE-754 float as its integer bit pattern.
func (m *Message) WriteFloat32(v float32) error {
	return m.WriteUint32(math.Float32bits(v))
}

// ReadFloat32 reads a 32-bit IEEE-754 float.
func (m *Message) ReadFloat32() (float32, error) {
	v, err := m.ReadUint32()
	return math.Float32frombits(v), err
}

// WriteFloat64 writes a 64-bit IEEE-754 float as its integer bit pattern.
func (m *Message) WriteFloat64(v float64) error {
	return m.WriteUint64(math.Float64bits(v))
}

// ReadFloat64 reads a 64-bit IEEE-754 float.
func (m *Message) ReadFloat64() (float64, error) {
	v, err := m.ReadUint64()
	return math.Float64frombits(v), err
}
