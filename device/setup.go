package device

import (
	"fmt"

	"github.com/emfcamp/tildabridge/device/hal"
)

// Standard request codes.
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
)

// Feature selectors.
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
	FeatureTestMode           = 0x02
)

// Direction is the data stage direction bit of bmRequestType.
type Direction uint8

const (
	Out Direction = 0x00 // host to device
	In  Direction = 0x80 // device to host
)

// bmRequestType type and recipient fields.
const (
	TypeStandard = 0x00
	TypeClass    = 0x20
	TypeVendor   = 0x40

	RecipientDevice    = 0x00
	RecipientInterface = 0x01
	RecipientEndpoint  = 0x02
)

// SetupPacket is the SETUP stage of a control transfer. It shares the
// layout of hal.SetupPacket so the two convert directly.
type SetupPacket hal.SetupPacket

// HAL returns s as a bus-level setup packet.
func (s SetupPacket) HAL() hal.SetupPacket { return hal.SetupPacket(s) }

func (s SetupPacket) IsDeviceToHost() bool { return Direction(s.RequestType&0x80) == In }

func (s SetupPacket) IsStandard() bool { return s.RequestType&0x60 == TypeStandard }

func (s SetupPacket) IsClass() bool { return s.RequestType&0x60 == TypeClass }

func (s SetupPacket) IsVendor() bool { return s.RequestType&0x60 == TypeVendor }

// Recipient returns the low five bits of bmRequestType.
func (s SetupPacket) Recipient() uint8 { return s.RequestType & 0x1F }

func (s SetupPacket) IsInterfaceRecipient() bool { return s.Recipient() == RecipientInterface }

// DescriptorType and DescriptorIndex split wValue of GET_DESCRIPTOR.
func (s SetupPacket) DescriptorType() uint8 { return uint8(s.Value >> 8) }

func (s SetupPacket) DescriptorIndex() uint8 { return uint8(s.Value) }

// InterfaceNumber and EndpointAddress read the low byte of wIndex.
func (s SetupPacket) InterfaceNumber() uint8 { return uint8(s.Index) }

func (s SetupPacket) EndpointAddress() uint8 { return uint8(s.Index) }

var (
	setupTypeNames      = [4]string{"standard", "class", "vendor", "reserved"}
	setupRecipientNames = [4]string{"device", "interface", "endpoint", "other"}
)

func (s SetupPacket) String() string {
	dir := "out"
	if s.IsDeviceToHost() {
		dir = "in"
	}
	recipient := "reserved"
	if r := s.Recipient(); int(r) < len(setupRecipientNames) {
		recipient = setupRecipientNames[r]
	}
	return fmt.Sprintf("%s %s/%s req=0x%02x value=0x%04x index=0x%04x len=%d",
		dir, setupTypeNames[s.RequestType>>5&3], recipient, s.Request, s.Value, s.Index, s.Length)
}

// StandardRequest builds a standard request. GET_STATUS, GET_DESCRIPTOR,
// GET_CONFIGURATION and GET_INTERFACE read from the device; the others
// write.
func StandardRequest(recipient, request uint8, value, index, length uint16) SetupPacket {
	dir := Out
	switch request {
	case RequestGetStatus, RequestGetDescriptor, RequestGetConfiguration, RequestGetInterface:
		dir = In
	}
	return SetupPacket{
		RequestType: uint8(dir) | TypeStandard | recipient,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}

// DescriptorRequest builds GET_DESCRIPTOR for a device-level descriptor.
func DescriptorRequest(descType, index uint8, length uint16) SetupPacket {
	return StandardRequest(RecipientDevice, RequestGetDescriptor, uint16(descType)<<8|uint16(index), 0, length)
}

// VendorRequest builds a vendor request addressed to the device, such as
// the WebUSB GET_URL and Microsoft OS 2.0 descriptor requests.
func VendorRequest(dir Direction, request uint8, value, index, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: uint8(dir) | TypeVendor | RecipientDevice,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}

// ClassRequest builds a class request addressed to interface iface.
func ClassRequest(dir Direction, iface, request uint8, value, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: uint8(dir) | TypeClass | RecipientInterface,
		Request:     request,
		Value:       value,
		Index:       uint16(iface),
		Length:      length,
	}
}
