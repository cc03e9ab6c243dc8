package webusb

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/emfcamp/tildabridge/pkg"
)

// DescriptorBuilder serializes descriptor fields into a caller-supplied
// buffer. It never allocates and never grows the buffer: writing past its
// end panics
// with pkg.ErrBufferTooSmall.
type DescriptorBuilder struct {
	buf []byte
	pos int
}

// NewDescriptorBuilder returns a builder writing to buf from offset 0.
func NewDescriptorBuilder(buf []byte) *DescriptorBuilder {
	return &DescriptorBuilder{buf: buf}
}

// Position returns the number of bytes written so far.
func (b *DescriptorBuilder) Position() int {
	return b.pos
}

// next reserves n bytes at the cursor and advances past them.
func (b *DescriptorBuilder) next(n int) []byte {
	if n > len(b.buf)-b.pos {
		panic(pkg.ErrBufferTooSmall)
	}
	p := b.buf[b.pos : b.pos+n]
	b.pos += n
	return p
}

// Write appends data.
func (b *DescriptorBuilder) Write(data []byte) {
	copy(b.next(len(data)), data)
}

// WriteU16 appends v in little-endian order.
func (b *DescriptorBuilder) WriteU16(v uint16) {
	binary.LittleEndian.PutUint16(b.next(2), v)
}

// WriteU32 appends v in little-endian order.
func (b *DescriptorBuilder) WriteU32(v uint32) {
	binary.LittleEndian.PutUint32(b.next(4), v)
}

// WriteUTF16 appends s as UTF-16LE code units without a byte order mark.
// Characters outside the basic multilingual plane become surrogate pairs.
func (b *DescriptorBuilder) WriteUTF16(s string) {
	for _, r := range s {
		if utf16.RuneLen(r) == 2 {
			r1, r2 := utf16.EncodeRune(r)
			b.WriteU16(uint16(r1))
			b.WriteU16(uint16(r2))
			continue
		}
		b.WriteU16(uint16(r))
	}
}

// Bytes returns the written prefix of the buffer.
func (b *DescriptorBuilder) Bytes() []byte {
	return b.buf[:b.pos]
}
