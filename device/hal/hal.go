package hal

import (
	"context"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// EndpointConfig describes an endpoint configuration for the HAL.
// This is a minimal, platform-agnostic representation used to configure
// hardware endpoints when a configuration is activated.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt/isochronous
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// SetupPacket represents a USB SETUP packet in the HAL layer.
// This is a fixed-size, zero-allocation structure for SETUP transactions.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// MaxEndpoints is the number of endpoint numbers available in each
// direction, excluding the control endpoint.
const MaxEndpoints = 15

// PollResult reports the bus events observed by a single call to Bus.Poll.
// Endpoint sets are bit masks indexed by endpoint number.
type PollResult struct {
	Reset   bool // Bus reset; all device state must be dropped
	Suspend bool // Bus suspended
	Resume  bool // Bus resumed after suspend
	Setup   bool // A control transfer is waiting in ReadSetup

	OutReady   uint16 // OUT endpoints holding a received packet
	InComplete uint16 // IN endpoints whose last packet the host collected
}

// Idle reports whether no event was observed.
func (r PollResult) Idle() bool {
	return !r.Reset && !r.Suspend && !r.Resume && !r.Setup &&
		r.OutReady == 0 && r.InComplete == 0
}

// HasOut reports whether OUT endpoint num holds a packet.
func (r PollResult) HasOut(num uint8) bool {
	return r.OutReady&(1<<num) != 0
}

// HasInComplete reports whether IN endpoint num completed a transfer.
func (r PollResult) HasInComplete(num uint8) bool {
	return r.InComplete&(1<<num) != 0
}

// Bus is the polled interface between the device stack and a USB device
// controller. Nothing in Bus waits for the host: endpoint reads and writes
// that cannot complete return pkg.ErrWouldBlock, and the caller retries
// on a later Poll.
//
// Control transfers are delivered whole. ReadSetup returns the SETUP packet
// together with any OUT data stage, and WriteEP0 hands the controller the
// complete IN data stage to packetize.
type Bus interface {
	// Init prepares the controller. The context bounds any setup work.
	Init(ctx context.Context) error

	// Start attaches to the bus so the host can enumerate the device.
	Start() error

	// Stop detaches from the bus and releases the controller.
	Stop() error

	// Poll reports pending events without blocking.
	Poll() PollResult

	// SetAddress applies the address assigned by the host.
	SetAddress(address uint8) error

	// ConfigureEndpoints enables the given data endpoints. Pass nil to
	// disable all data endpoints.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// ReadSetup copies the pending SETUP packet into out and any OUT data
	// stage into data, returning the number of data bytes.
	ReadSetup(out *SetupPacket, data []byte) (int, error)

	// WriteEP0 sends the IN data stage of the current control transfer.
	WriteEP0(data []byte) error

	// AckEP0 completes the current control transfer with a status stage.
	AckEP0() error

	// StallEP0 rejects the current control transfer.
	StallEP0() error

	// Write queues one packet on an IN endpoint. It returns
	// pkg.ErrWouldBlock while the previous packet is still pending.
	Write(address uint8, data []byte) (int, error)

	// Read takes one packet from an OUT endpoint. It returns
	// pkg.ErrWouldBlock when no packet is pending.
	Read(address uint8, buf []byte) (int, error)

	// Stall sets the halt condition on a data endpoint.
	Stall(address uint8) error

	// ClearStall clears the halt condition on a data endpoint.
	ClearStall(address uint8) error

	// Speed returns the negotiated connection speed.
	Speed() Speed
}
