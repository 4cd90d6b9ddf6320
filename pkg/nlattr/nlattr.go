// Package nlattr implements the tagged-attribute wire format used by the
// datapath flow key and action lists: 4-byte-aligned records of a 16-bit
// type code, a 16-bit length that includes the 4-byte header, and a value
// that is either raw bytes or a nested attribute sequence.
package nlattr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderLen is the size of the type+length header.
	HeaderLen = 4
	// Align is the boundary every attribute record is padded to.
	Align = 4
)

var ErrTruncated = errors.New("nlattr: attribute overruns buffer")

// Attr is a decoded view of one attribute. Value aliases the input
// buffer; callers must copy it if they outlive the buffer.
type Attr struct {
	Type  uint16
	Value []byte
}

func (a Attr) Len() int { return len(a.Value) }

func (a Attr) Uint8() uint8 { return a.Value[0] }

func (a Attr) Uint16() uint16 { return binary.BigEndian.Uint16(a.Value) }

func (a Attr) Uint32() uint32 { return binary.BigEndian.Uint32(a.Value) }

func (a Attr) Uint64() uint64 { return binary.BigEndian.Uint64(a.Value) }

// Uint32At reads the i-th 32-bit word of the value.
func (a Attr) Uint32At(i int) uint32 { return binary.BigEndian.Uint32(a.Value[4*i:]) }

func pad(n int) int {
	return (n + Align - 1) &^ (Align - 1)
}

// Iter walks one attribute sequence. It is restartable via Reset and
// never reads past the end of the buffer: a declared length that does
// not fit classifies the remainder as truncated.
type Iter struct {
	buf []byte
	off int
	err error
}

func NewIter(buf []byte) *Iter {
	return &Iter{buf: buf}
}

func (it *Iter) Reset() {
	it.off = 0
	it.err = nil
}

// Next returns the next attribute view. The second result is false when
// the sequence is exhausted or malformed; check Err to distinguish.
func (it *Iter) Next() (Attr, bool) {
	if it.err != nil || it.off >= len(it.buf) {
		return Attr{}, false
	}
	if it.off+HeaderLen > len(it.buf) {
		it.err = ErrTruncated
		return Attr{}, false
	}
	typ := binary.BigEndian.Uint16(it.buf[it.off:])
	length := int(binary.BigEndian.Uint16(it.buf[it.off+2:]))
	if length < HeaderLen || it.off+length > len(it.buf) {
		it.err = ErrTruncated
		return Attr{}, false
	}
	value := it.buf[it.off+HeaderLen : it.off+length]
	it.off += pad(length)
	return Attr{Type: typ, Value: value}, true
}

func (it *Iter) Err() error { return it.err }

// Find returns the first attribute with the given type, scanning from
// the start of the sequence.
func Find(buf []byte, typ uint16) (Attr, bool) {
	it := NewIter(buf)
	for a, ok := it.Next(); ok; a, ok = it.Next() {
		if a.Type == typ {
			return a, true
		}
	}
	return Attr{}, false
}

// Builder appends attribute records to a growing buffer. Nested
// sequences are bracketed with BeginNested/EndNested, which patches the
// outer record's length on close.
type Builder struct {
	buf []byte
}

func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, 256)}
}

func (b *Builder) Len() int { return len(b.buf) }

func (b *Builder) Bytes() []byte { return b.buf }

// Truncate discards everything appended after offset n. Used to undo a
// partial append when a larger parse fails.
func (b *Builder) Truncate(n int) {
	b.buf = b.buf[:n]
}

// AppendRaw appends already-encoded attribute bytes verbatim. The
// caller guarantees they are aligned attribute records.
func (b *Builder) AppendRaw(raw []byte) {
	b.buf = append(b.buf, raw...)
}

func (b *Builder) putHeader(typ uint16, length int) {
	if length > 0xffff {
		panic(fmt.Sprintf("nlattr: attribute length %d out of range", length))
	}
	b.buf = append(b.buf, byte(typ>>8), byte(typ), byte(length>>8), byte(length))
}

func (b *Builder) PutBytes(typ uint16, value []byte) {
	b.putHeader(typ, HeaderLen+len(value))
	b.buf = append(b.buf, value...)
	for len(b.buf)%Align != 0 {
		b.buf = append(b.buf, 0)
	}
}

// PutFlag appends a zero-length attribute whose presence alone carries
// the information.
func (b *Builder) PutFlag(typ uint16) {
	b.PutBytes(typ, nil)
}

func (b *Builder) PutUint8(typ uint16, v uint8) {
	b.PutBytes(typ, []byte{v})
}

func (b *Builder) PutUint16(typ uint16, v uint16) {
	b.PutBytes(typ, []byte{byte(v >> 8), byte(v)})
}

func (b *Builder) PutUint32(typ uint16, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.PutBytes(typ, buf[:])
}

func (b *Builder) PutUint64(typ uint16, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	b.PutBytes(typ, buf[:])
}

// BeginNested opens a nested attribute and returns the offset to hand
// to EndNested.
func (b *Builder) BeginNested(typ uint16) int {
	off := len(b.buf)
	b.putHeader(typ, HeaderLen)
	return off
}

// EndNested patches the length of the nested attribute opened at off.
// Inner records are already aligned, so no trailing pad is needed.
func (b *Builder) EndNested(off int) {
	length := len(b.buf) - off
	if length > 0xffff {
		panic(fmt.Sprintf("nlattr: nested attribute length %d out of range", length))
	}
	b.buf[off+2] = byte(length >> 8)
	b.buf[off+3] = byte(length)
}
