package buf

import (
	"encoding/binary"
	"math"

	"github.com/arnegard/netbase/internal/errors"
)

// There is no pack dependency offering a big/little-endian integer codec
// (it isn't a domain concern any of the retrieved libraries address), so
// this reads and writes numbers straight through the standard library's
// encoding/binary.

var errShortRead = errors.New("buf: not enough data for numeric read")

func (b *Buffer) readExact(n int) ([]byte, error) {
	p := make([]byte, n)
	got, _ := b.Read(p)
	if got != n {
		return nil, errShortRead
	}
	return p, nil
}

// ReadUint8 reads a single byte.
func (b *Buffer) ReadUint8() (uint8, error) {
	p, err := b.readExact(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// WriteUint8 writes a single byte.
func (b *Buffer) WriteUint8(v uint8) { b.Write([]byte{v}) }

// ReadUint16BE reads a big-endian uint16.
func (b *Buffer) ReadUint16BE() (uint16, error) {
	p, err := b.readExact(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

// WriteUint16BE writes a big-endian uint16.
func (b *Buffer) WriteUint16BE(v uint16) {
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], v)
	b.Write(p[:])
}

// ReadUint16LE reads a little-endian uint16.
func (b *Buffer) ReadUint16LE() (uint16, error) {
	p, err := b.readExact(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

// WriteUint16LE writes a little-endian uint16.
func (b *Buffer) WriteUint16LE(v uint16) {
	var p [2]byte
	binary.LittleEndian.PutUint16(p[:], v)
	b.Write(p[:])
}

// ReadInt16BE reads a big-endian int16.
func (b *Buffer) ReadInt16BE() (int16, error) {
	v, err := b.ReadUint16BE()
	return int16(v), err
}

// WriteInt16BE writes a big-endian int16.
func (b *Buffer) WriteInt16BE(v int16) { b.WriteUint16BE(uint16(v)) }

// ReadUint24BE reads a 3-byte big-endian unsigned integer, as used by the
// record fragment header length field.
func (b *Buffer) ReadUint24BE() (uint32, error) {
	p, err := b.readExact(3)
	if err != nil {
		return 0, err
	}
	return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2]), nil
}

// WriteUint24BE writes v's low 24 bits as a big-endian triple.
func (b *Buffer) WriteUint24BE(v uint32) {
	p := [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}
	b.Write(p[:])
}

// ReadUint32BE reads a big-endian uint32.
func (b *Buffer) ReadUint32BE() (uint32, error) {
	p, err := b.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

// WriteUint32BE writes a big-endian uint32.
func (b *Buffer) WriteUint32BE(v uint32) {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], v)
	b.Write(p[:])
}

// ReadUint32LE reads a little-endian uint32.
func (b *Buffer) ReadUint32LE() (uint32, error) {
	p, err := b.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

// WriteUint32LE writes a little-endian uint32.
func (b *Buffer) WriteUint32LE(v uint32) {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], v)
	b.Write(p[:])
}

// ReadInt32BE reads a big-endian int32.
func (b *Buffer) ReadInt32BE() (int32, error) {
	v, err := b.ReadUint32BE()
	return int32(v), err
}

// WriteInt32BE writes a big-endian int32.
func (b *Buffer) WriteInt32BE(v int32) { b.WriteUint32BE(uint32(v)) }

// ReadInt32LE reads a little-endian int32.
func (b *Buffer) ReadInt32LE() (int32, error) {
	v, err := b.ReadUint32LE()
	return int32(v), err
}

// WriteInt32LE writes a little-endian int32.
func (b *Buffer) WriteInt32LE(v int32) { b.WriteUint32LE(uint32(v)) }

// ReadUint64BE reads a big-endian uint64.
func (b *Buffer) ReadUint64BE() (uint64, error) {
	p, err := b.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}

// WriteUint64BE writes a big-endian uint64.
func (b *Buffer) WriteUint64BE(v uint64) {
	var p [8]byte
	binary.BigEndian.PutUint64(p[:], v)
	b.Write(p[:])
}

// ReadUint64LE reads a little-endian uint64.
func (b *Buffer) ReadUint64LE() (uint64, error) {
	p, err := b.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

// WriteUint64LE writes a little-endian uint64.
func (b *Buffer) WriteUint64LE(v uint64) {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], v)
	b.Write(p[:])
}

// ReadInt64BE reads a big-endian int64.
func (b *Buffer) ReadInt64BE() (int64, error) {
	v, err := b.ReadUint64BE()
	return int64(v), err
}

// WriteInt64BE writes a big-endian int64.
func (b *Buffer) WriteInt64BE(v int64) { b.WriteUint64BE(uint64(v)) }

// ReadFloat32BE reads a big-endian IEEE 754 float32.
func (b *Buffer) ReadFloat32BE() (float32, error) {
	v, err := b.ReadUint32BE()
	return math.Float32frombits(v), err
}

// WriteFloat32BE writes a big-endian IEEE 754 float32.
func (b *Buffer) WriteFloat32BE(v float32) { b.WriteUint32BE(math.Float32bits(v)) }

// ReadFloat64BE reads a big-endian IEEE 754 float64.
func (b *Buffer) ReadFloat64BE() (float64, error) {
	v, err := b.ReadUint64BE()
	return math.Float64frombits(v), err
}

// WriteFloat64BE writes a big-endian IEEE 754 float64.
func (b *Buffer) WriteFloat64BE(v float64) { b.WriteUint64BE(math.Float64bits(v)) }
