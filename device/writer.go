package device

import (
	"encoding/binary"

	"github.com/emfcamp/tildabridge/pkg"
)

// DescriptorWriter appends descriptors to a caller-supplied buffer. It is
// handed to each class when the configuration descriptor is assembled.
type DescriptorWriter struct {
	buf []byte
	pos int

	// Offset of bNumEndpoints in the last interface descriptor, or -1.
	numEndpointsMark int
	numInterfaces    int
}

// NewDescriptorWriter returns a writer over buf.
func NewDescriptorWriter(buf []byte) *DescriptorWriter {
	return &DescriptorWriter{buf: buf, numEndpointsMark: -1}
}

// Position returns the number of bytes written.
func (w *DescriptorWriter) Position() int {
	return w.pos
}

// Bytes returns the written prefix of the buffer.
func (w *DescriptorWriter) Bytes() []byte {
	return w.buf[:w.pos]
}

// NumInterfaces returns the number of alternate-0 interface descriptors
// written.
func (w *DescriptorWriter) NumInterfaces() int {
	return w.numInterfaces
}

// Write appends a descriptor of the given type. The length and type bytes
// are prepended to body.
func (w *DescriptorWriter) Write(descriptorType uint8, body []byte) error {
	length := 2 + len(body)
	if length > 255 {
		return pkg.ErrInvalidParameter
	}
	if w.pos+length > len(w.buf) {
		return pkg.ErrBufferTooSmall
	}
	w.buf[w.pos] = uint8(length)
	w.buf[w.pos+1] = descriptorType
	copy(w.buf[w.pos+2:], body)
	w.pos += length
	return nil
}

// IAD appends an interface association descriptor grouping count
// interfaces starting at first.
func (w *DescriptorWriter) IAD(first InterfaceNumber, count, class, subClass, protocol uint8) error {
	iad := InterfaceAssociationDescriptor{
		FirstInterface:   uint8(first),
		InterfaceCount:   count,
		FunctionClass:    class,
		FunctionSubClass: subClass,
		FunctionProtocol: protocol,
	}
	n := iad.MarshalTo(w.buf[w.pos:])
	if n == 0 {
		return pkg.ErrBufferTooSmall
	}
	w.pos += n
	return nil
}

// Interface appends an interface descriptor for alternate setting 0.
// bNumEndpoints is filled in as endpoints are written after it.
func (w *DescriptorWriter) Interface(number InterfaceNumber, class, subClass, protocol uint8) error {
	desc := InterfaceDescriptor{
		InterfaceNumber:   uint8(number),
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
	}
	n := desc.MarshalTo(w.buf[w.pos:])
	if n == 0 {
		return pkg.ErrBufferTooSmall
	}
	w.numEndpointsMark = w.pos + 4
	w.numInterfaces++
	w.pos += n
	return nil
}

// Endpoint appends the descriptor of an allocated endpoint to the most
// recent interface.
func (w *DescriptorWriter) Endpoint(ep DescribedEndpoint) error {
	if w.numEndpointsMark < 0 {
		return pkg.ErrInvalidState
	}
	n := ep.Descriptor().MarshalTo(w.buf[w.pos:])
	if n == 0 {
		return pkg.ErrBufferTooSmall
	}
	w.buf[w.numEndpointsMark]++
	w.pos += n
	return nil
}

// BOSWriter appends device capability descriptors after a BOS header and
// patches the header's totals when done.
type BOSWriter struct {
	w       *DescriptorWriter
	start   int
	numCaps uint8
}

// NewBOSWriter writes a BOS header to w and returns a writer for the
// capabilities that follow it.
func NewBOSWriter(w *DescriptorWriter) (*BOSWriter, error) {
	bw := &BOSWriter{w: w, start: w.pos}
	var hdr BOSDescriptor
	n := hdr.MarshalTo(w.buf[w.pos:])
	if n == 0 {
		return nil, pkg.ErrBufferTooSmall
	}
	w.pos += n
	return bw, nil
}

// Capability appends a device capability descriptor of the given type.
func (b *BOSWriter) Capability(capabilityType uint8, data []byte) error {
	w := b.w
	length := 3 + len(data)
	if length > 255 {
		return pkg.ErrInvalidParameter
	}
	if w.pos+length > len(w.buf) {
		return pkg.ErrBufferTooSmall
	}
	w.buf[w.pos] = uint8(length)
	w.buf[w.pos+1] = DescriptorTypeDeviceCapability
	w.buf[w.pos+2] = capabilityType
	copy(w.buf[w.pos+3:], data)
	w.pos += length
	b.numCaps++
	return nil
}

// End patches wTotalLength and bNumDeviceCaps in the BOS header.
func (b *BOSWriter) End() {
	w := b.w
	binary.LittleEndian.PutUint16(w.buf[b.start+2:], uint16(w.pos-b.start))
	w.buf[b.start+4] = b.numCaps
}
