// Package bytebuf provides a growable little-endian byte buffer with
// fixed-width accessors, used anywhere the engine needs the
// bit-exact binary layouts of the schema and book-keeping files.
package bytebuf

import (
	"encoding/binary"
	"math"

	"github.com/tdb-core/tdb/xerrors"
)

// Buffer wraps a byte slice for sequential little-endian reads or
// sequential writes. A single Buffer is used for one direction at a
// time, not both.
type Buffer struct {
	n   int
	buf []byte
}

// NewReader wraps an existing slice for sequential reading.
func NewReader(data []byte) *Buffer { return &Buffer{buf: data} }

// NewWriter returns an empty buffer ready for writing, with capacity hint.
func NewWriter(capHint int) *Buffer { return &Buffer{buf: make([]byte, 0, capHint)} }

// Remaining reports how many unread bytes are left.
func (b *Buffer) Remaining() int { return len(b.buf) - b.n }

func (b *Buffer) need(op string, n int) error {
	if b.Remaining() < n {
		return xerrors.E(op, xerrors.Corrupted, "need %d bytes, have %d", n, b.Remaining())
	}
	return nil
}

// -- readers --

func (b *Buffer) Uint8() (uint8, error) {
	if err := b.need("Buffer.Uint8", 1); err != nil {
		return 0, err
	}
	v := b.buf[b.n]
	b.n++
	return v, nil
}

func (b *Buffer) Uint16() (uint16, error) {
	if err := b.need("Buffer.Uint16", 2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(b.buf[b.n:])
	b.n += 2
	return v, nil
}

func (b *Buffer) Uint32() (uint32, error) {
	if err := b.need("Buffer.Uint32", 4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.buf[b.n:])
	b.n += 4
	return v, nil
}

func (b *Buffer) Uint64() (uint64, error) {
	if err := b.need("Buffer.Uint64", 8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(b.buf[b.n:])
	b.n += 8
	return v, nil
}

func (b *Buffer) Float64() (float64, error) {
	v, err := b.Uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (b *Buffer) Float32() (float32, error) {
	v, err := b.Uint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (b *Buffer) RawBytes(n int) ([]byte, error) {
	if err := b.need("Buffer.RawBytes", n); err != nil {
		return nil, err
	}
	v := b.buf[b.n : b.n+n]
	b.n += n
	return v, nil
}

// Bytes reads a u32-length-prefixed byte string (the array_name_bytes /
// name_bytes convention of the schema file format).
func (b *Buffer) Bytes() ([]byte, error) {
	n, err := b.Uint32()
	if err != nil {
		return nil, err
	}
	return b.RawBytes(int(n))
}

// String reads a u32-length-prefixed UTF-8 string.
func (b *Buffer) String() (string, error) {
	raw, err := b.Bytes()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// -- writers --

func (b *Buffer) ensure(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	needCap := len(b.buf) + n
	newCap := cap(b.buf) * 2
	if newCap < needCap {
		newCap = needCap
	}
	if newCap < 16 {
		newCap = 16
	}
	nb := make([]byte, len(b.buf), newCap)
	copy(nb, b.buf)
	b.buf = nb
}

func (b *Buffer) PutUint8(v uint8) {
	b.ensure(1)
	b.buf = append(b.buf, v)
}

func (b *Buffer) PutUint16(v uint16) {
	b.ensure(2)
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *Buffer) PutUint32(v uint32) {
	b.ensure(4)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *Buffer) PutUint64(v uint64) {
	b.ensure(8)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *Buffer) PutFloat64(v float64) { b.PutUint64(math.Float64bits(v)) }
func (b *Buffer) PutFloat32(v float32) { b.PutUint32(math.Float32bits(v)) }

func (b *Buffer) PutRawBytes(data []byte) {
	b.ensure(len(data))
	b.buf = append(b.buf, data...)
}

// PutBytes writes a u32-length prefix followed by data.
func (b *Buffer) PutBytes(data []byte) {
	b.PutUint32(uint32(len(data)))
	b.PutRawBytes(data)
}

// PutString writes a u32-length prefix followed by the string's bytes.
func (b *Buffer) PutString(s string) { b.PutBytes([]byte(s)) }

// AllBytes returns everything written so far.
func (b *Buffer) AllBytes() []byte { return b.buf }

// Len returns the number of bytes written.
func (b *Buffer) Len() int { return len(b.buf) }
