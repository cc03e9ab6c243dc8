package device

import (
	"fmt"

	"github.com/emfcamp/tildabridge/device/hal"
	"github.com/emfcamp/tildabridge/pkg"
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = 0x00 // Control transfer
	EndpointTypeIsochronous = 0x01 // Isochronous transfer
	EndpointTypeBulk        = 0x02 // Bulk transfer
	EndpointTypeInterrupt   = 0x03 // Interrupt transfer
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// DescribedEndpoint is an allocated endpoint that can be written into a
// configuration descriptor.
type DescribedEndpoint interface {
	Descriptor() *EndpointDescriptor
}

// EndpointIn is a device-to-host endpoint handle lent to a class by an
// Allocator. The address is fixed for the lifetime of the handle.
type EndpointIn struct {
	bus  hal.Bus
	desc EndpointDescriptor
}

// Address returns the endpoint address, including the direction bit.
func (e *EndpointIn) Address() uint8 { return e.desc.EndpointAddress }

// MaxPacketSize returns the largest packet the endpoint accepts.
func (e *EndpointIn) MaxPacketSize() uint16 { return e.desc.MaxPacketSize }

// Descriptor returns the endpoint descriptor.
func (e *EndpointIn) Descriptor() *EndpointDescriptor { return &e.desc }

// Write queues one packet for the host. It returns pkg.ErrWouldBlock while
// the previous packet has not been collected. Writing more than
// MaxPacketSize bytes is a programming error and panics.
func (e *EndpointIn) Write(data []byte) (int, error) {
	if len(data) > int(e.desc.MaxPacketSize) {
		panic(fmt.Sprintf("device: %d byte packet exceeds max packet size %d of endpoint 0x%02X",
			len(data), e.desc.MaxPacketSize, e.desc.EndpointAddress))
	}
	return e.bus.Write(e.desc.EndpointAddress, data)
}

// Stall sets the halt condition on the endpoint.
func (e *EndpointIn) Stall() error { return e.bus.Stall(e.desc.EndpointAddress) }

// EndpointOut is a host-to-device endpoint handle lent to a class by an
// Allocator.
type EndpointOut struct {
	bus  hal.Bus
	desc EndpointDescriptor
}

// Address returns the endpoint address.
func (e *EndpointOut) Address() uint8 { return e.desc.EndpointAddress }

// MaxPacketSize returns the largest packet the endpoint receives.
func (e *EndpointOut) MaxPacketSize() uint16 { return e.desc.MaxPacketSize }

// Descriptor returns the endpoint descriptor.
func (e *EndpointOut) Descriptor() *EndpointDescriptor { return &e.desc }

// Read takes one received packet into buf. It returns pkg.ErrWouldBlock
// when no packet is pending. buf must hold MaxPacketSize bytes.
func (e *EndpointOut) Read(buf []byte) (int, error) {
	if len(buf) < int(e.desc.MaxPacketSize) {
		return 0, pkg.ErrBufferTooSmall
	}
	return e.bus.Read(e.desc.EndpointAddress, buf)
}

// Stall sets the halt condition on the endpoint.
func (e *EndpointOut) Stall() error { return e.bus.Stall(e.desc.EndpointAddress) }

// EndpointNumber returns the endpoint number (0-15) of an address.
func EndpointNumber(address uint8) uint8 {
	return address & 0x0F
}

// IsInAddress returns true if address names an IN endpoint.
func IsInAddress(address uint8) bool {
	return address&EndpointDirectionIn != 0
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	default:
		return "Interrupt"
	}
}

// DirectionName returns a human-readable direction name.
func DirectionName(dir uint8) string {
	if dir&EndpointDirectionIn != 0 {
		return "IN"
	}
	return "OUT"
}
