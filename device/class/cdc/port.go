package cdc

import (
	"errors"

	"github.com/emfcamp/tildabridge/device"
	"github.com/emfcamp/tildabridge/pkg"
)

// SerialClass is a class exposing a serial line over one bulk endpoint
// pair with packet-level access.
type SerialClass interface {
	device.Class

	MaxPacketSize() uint16
	InAddress() uint8
	WritePacket(data []byte) (int, error)
	ReadPacket(buf []byte) (int, error)

	LineCoding() LineCoding
	DTR() bool
	RTS() bool
}

// Port gives a SerialClass the partial-read and partial-write semantics of
// a serial port. It is polled in place of the class it wraps.
//
// Nothing blocks: Read and Write return pkg.ErrWouldBlock when no progress
// is possible and the caller retries after a later Device.Poll.
type Port struct {
	class SerialClass
	rx    Buffer
	tx    Buffer

	// The last packet sent was full and emptied tx; the host will not
	// complete the transfer until a short packet follows.
	zlpPending bool
}

// NewPort wraps class.
func NewPort(class SerialClass) *Port {
	return &Port{class: class}
}

// Class returns the wrapped class.
func (p *Port) Class() SerialClass { return p.class }

// LineCoding returns the line coding of the wrapped class.
func (p *Port) LineCoding() LineCoding { return p.class.LineCoding() }

// DTR returns the DTR state of the wrapped class.
func (p *Port) DTR() bool { return p.class.DTR() }

// RTS returns the RTS state of the wrapped class.
func (p *Port) RTS() bool { return p.class.RTS() }

// Write buffers as much of data as fits and starts sending it. It returns
// the number of bytes accepted, or pkg.ErrWouldBlock if none were.
func (p *Port) Write(data []byte) (int, error) {
	n := p.tx.Write(data)
	if err := p.Flush(); err != nil && !errors.Is(err, pkg.ErrWouldBlock) {
		return n, err
	}
	if n == 0 && len(data) > 0 {
		return 0, pkg.ErrWouldBlock
	}
	return n, nil
}

// Flush sends the next packet, if any. A pending zero-length packet goes
// out before buffered data. It returns pkg.ErrWouldBlock while the IN
// endpoint still holds an uncollected packet.
func (p *Port) Flush() error {
	if p.zlpPending {
		if _, err := p.class.WritePacket(nil); err != nil {
			return err
		}
		p.zlpPending = false
		if p.tx.Len() > 0 {
			return pkg.ErrWouldBlock
		}
		return nil
	}
	if p.tx.Len() == 0 {
		return nil
	}

	mps := int(p.class.MaxPacketSize())
	sent, err := p.tx.Read(mps, p.class.WritePacket)
	if err != nil {
		return err
	}
	if sent == mps && p.tx.Len() == 0 {
		p.zlpPending = true
	}
	if p.tx.Len() > 0 || p.zlpPending {
		return pkg.ErrWouldBlock
	}
	return nil
}

// Read copies buffered bytes into buf. When nothing is buffered it first
// takes one packet from the host. It returns pkg.ErrWouldBlock if no bytes
// are available.
func (p *Port) Read(buf []byte) (int, error) {
	if p.rx.Len() == 0 {
		_, err := p.rx.Fill(int(p.class.MaxPacketSize()), func(space []byte) (int, error) {
			n, err := p.class.ReadPacket(space)
			if errors.Is(err, pkg.ErrWouldBlock) {
				return 0, nil
			}
			return n, err
		})
		if err != nil {
			return 0, err
		}
	}
	if p.rx.Len() == 0 {
		return 0, pkg.ErrWouldBlock
	}
	return p.rx.Read(len(buf), func(data []byte) (int, error) {
		return copy(buf, data), nil
	})
}

// ConfigurationDescriptors implements device.Class.
func (p *Port) ConfigurationDescriptors(w *device.DescriptorWriter) error {
	return p.class.ConfigurationDescriptors(w)
}

// BOSDescriptors implements device.BOSDescriber for classes that have
// capabilities.
func (p *Port) BOSDescriptors(w *device.BOSWriter) error {
	if bd, ok := p.class.(device.BOSDescriber); ok {
		return bd.BOSDescriptors(w)
	}
	return nil
}

// Reset implements device.Class. Buffered data is dropped.
func (p *Port) Reset() {
	p.rx.Clear()
	p.tx.Clear()
	p.zlpPending = false
	p.class.Reset()
}

// ControlIn implements device.Class.
func (p *Port) ControlIn(xfer *device.ControlIn) { p.class.ControlIn(xfer) }

// ControlOut implements device.Class.
func (p *Port) ControlOut(xfer *device.ControlOut) { p.class.ControlOut(xfer) }

// EndpointOut implements device.EndpointHandler. OUT packets are pulled by
// Read.
func (p *Port) EndpointOut(address uint8) {}

// EndpointInComplete implements device.EndpointHandler by sending the next
// packet.
func (p *Port) EndpointInComplete(address uint8) {
	if address != p.class.InAddress() {
		return
	}
	if err := p.Flush(); err != nil && !errors.Is(err, pkg.ErrWouldBlock) {
		pkg.LogWarn(pkg.ComponentClass, "flush failed", "endpoint", address, "error", err)
	}
}

// Compile-time interface checks
var (
	_ device.Class           = (*Port)(nil)
	_ device.BOSDescriber    = (*Port)(nil)
	_ device.EndpointHandler = (*Port)(nil)
)
