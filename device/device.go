package device

import (
	"context"
	"fmt"

	"github.com/emfcamp/tildabridge/device/hal"
	"github.com/emfcamp/tildabridge/pkg"
)

// Device is the generic USB device state machine. It owns the bus, answers
// standard requests, assembles configuration and BOS descriptors from the
// classes it is polled with, and forwards everything else to those classes.
//
// A Device has a single owner. It is not safe for concurrent use.
type Device struct {
	bus hal.Bus

	// Device descriptor
	Descriptor DeviceDescriptor

	// Configuration descriptor fields
	attributes uint8
	maxPower   uint8 // 2mA units

	endpoints     []hal.EndpointConfig
	numInterfaces int

	// String descriptors, index 0 holds the language IDs
	strings    [MaxStrings][]byte
	stringBufs [MaxStrings][256]byte

	// Device state
	state               State
	previousState       State // State before suspend
	address             uint8
	pendingAddress      uint8
	addressPending      bool
	remoteWakeupEnabled bool
	halted              [2]uint16 // [0] OUT, [1] IN, indexed by endpoint number

	handler StandardRequestHandler

	// Control transfer buffers (zero-allocation)
	halSetup hal.SetupPacket
	setup    SetupPacket
	ep0Data  [MaxControlDataSize]byte
	ep0Resp  [MaxDescriptorResponseSize]byte
	xferIn   ControlIn
	xferOut  ControlOut
	writer   DescriptorWriter
}

// Bus returns the bus the device runs on.
func (d *Device) Bus() hal.Bus {
	return d.bus
}

// Start initializes the bus and attaches to the host.
func (d *Device) Start(ctx context.Context) error {
	if err := d.bus.Init(ctx); err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	if err := d.bus.Start(); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	pkg.LogDebug(pkg.ComponentStack, "device stack started")
	return nil
}

// Stop detaches from the host.
func (d *Device) Stop() error {
	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return d.bus.Stop()
}

// State returns the current device state.
func (d *Device) State() State {
	return d.state
}

// setState changes the device state.
func (d *Device) setState(newState State) {
	if d.state != newState {
		pkg.LogDebug(pkg.ComponentDevice, "device state changed",
			"from", d.state.String(),
			"to", newState.String())
	}
	d.state = newState
}

// IsConfigured returns true if the host has selected the configuration.
func (d *Device) IsConfigured() bool {
	return d.state == StateConfigured
}

// Address returns the device address.
func (d *Device) Address() uint8 {
	return d.address
}

// Speed returns the negotiated bus speed.
// An unknown speed is reported as full speed.
func (d *Device) Speed() Speed {
	if s := d.bus.Speed(); s == SpeedLow || s == SpeedHigh {
		return s
	}
	return SpeedFull
}

// StringDescriptor returns a string descriptor by index.
func (d *Device) StringDescriptor(index uint8) []byte {
	if index >= MaxStrings {
		return nil
	}
	return d.strings[index]
}

// setStringFrom encodes s as a string descriptor at index.
func (d *Device) setStringFrom(index uint8, s string) int {
	n := StringDescriptorTo(d.stringBufs[index][:], s)
	if n > 0 {
		d.strings[index] = d.stringBufs[index][:n]
	}
	return n
}

// reset handles a bus reset.
func (d *Device) reset(classes []Class) {
	d.address = 0
	d.addressPending = false
	d.remoteWakeupEnabled = false
	d.halted = [2]uint16{}
	d.setState(StateDefault)

	for _, c := range classes {
		c.Reset()
	}

	pkg.LogDebug(pkg.ComponentDevice, "device reset")
}

// SetAddress records the address from a SET_ADDRESS request. It is applied
// to the bus once the status stage has been sent.
func (d *Device) SetAddress(address uint8) error {
	if d.state != StateDefault && d.state != StateAddress {
		return pkg.ErrInvalidState
	}
	d.pendingAddress = address
	d.addressPending = true
	return nil
}

// applyAddress applies a pending SET_ADDRESS.
func (d *Device) applyAddress() {
	d.addressPending = false
	if err := d.bus.SetAddress(d.pendingAddress); err != nil {
		pkg.LogWarn(pkg.ComponentDevice, "set address failed", "error", err)
		return
	}
	d.address = d.pendingAddress
	if d.address == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddress)
	}

	pkg.LogDebug(pkg.ComponentDevice, "device address set",
		"address", d.address)
}

// SetConfiguration handles SET_CONFIGURATION request.
func (d *Device) SetConfiguration(value uint8) error {
	if d.state != StateAddress && d.state != StateConfigured {
		return pkg.ErrInvalidState
	}

	switch value {
	case 0:
		if err := d.bus.ConfigureEndpoints(nil); err != nil {
			return err
		}
		d.setState(StateAddress)
		return nil
	case ConfigurationValue:
	default:
		return pkg.ErrInvalidRequest
	}

	if err := d.bus.ConfigureEndpoints(d.endpoints); err != nil {
		return err
	}
	d.halted = [2]uint16{}
	d.setState(StateConfigured)

	pkg.LogInfo(pkg.ComponentDevice, "device configured",
		"configuration", value,
		"endpoints", len(d.endpoints))

	return nil
}

// Configuration returns the active configuration value, or 0.
func (d *Device) Configuration() uint8 {
	if d.state == StateConfigured {
		return ConfigurationValue
	}
	return 0
}

// suspend handles USB suspend.
func (d *Device) suspend() {
	if d.state == StateSuspended {
		return
	}
	d.previousState = d.state
	d.setState(StateSuspended)
	pkg.LogDebug(pkg.ComponentDevice, "device suspended")
}

// resume handles USB resume.
func (d *Device) resume() {
	if d.state != StateSuspended {
		return
	}
	d.setState(d.previousState)
	pkg.LogDebug(pkg.ComponentDevice, "device resumed")
}

// hasEndpoint reports whether address names the control endpoint or an
// allocated data endpoint.
func (d *Device) hasEndpoint(address uint8) bool {
	if EndpointNumber(address) == 0 {
		return true
	}
	for i := range d.endpoints {
		if d.endpoints[i].Address == address {
			return true
		}
	}
	return false
}

func haltIndex(address uint8) (int, uint16) {
	dir := 0
	if IsInAddress(address) {
		dir = 1
	}
	return dir, 1 << EndpointNumber(address)
}

// SetEndpointHalt sets or clears the halt condition on a data endpoint.
func (d *Device) SetEndpointHalt(address uint8, halted bool) error {
	if !d.hasEndpoint(address) || EndpointNumber(address) == 0 {
		return pkg.ErrInvalidEndpoint
	}
	dir, bit := haltIndex(address)
	if halted {
		if err := d.bus.Stall(address); err != nil {
			return err
		}
		d.halted[dir] |= bit
	} else {
		if err := d.bus.ClearStall(address); err != nil {
			return err
		}
		d.halted[dir] &^= bit
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint halt changed",
		"address", fmt.Sprintf("0x%02X", address),
		"halted", halted)
	return nil
}

// IsEndpointHalted reports whether the host halted a data endpoint.
func (d *Device) IsEndpointHalted(address uint8) bool {
	dir, bit := haltIndex(address)
	return d.halted[dir]&bit != 0
}

// DeviceStatus represents the device status bits.
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0 // Device is self-powered
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1 // Remote wakeup enabled
)

// Status returns the device status.
func (d *Device) Status() DeviceStatus {
	var status DeviceStatus
	if d.attributes&ConfigAttrSelfPowered != 0 {
		status |= DeviceStatusSelfPowered
	}
	if d.remoteWakeupEnabled {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

// ConfigurationDescriptorTo assembles the configuration descriptor from
// classes into buf and returns its length. wTotalLength and bNumInterfaces
// are computed from what the classes wrote.
func (d *Device) ConfigurationDescriptorTo(buf []byte, classes []Class) (int, error) {
	w := &d.writer
	*w = DescriptorWriter{buf: buf, numEndpointsMark: -1}

	hdr := ConfigurationDescriptor{
		ConfigurationValue: ConfigurationValue,
		Attributes:         d.attributes,
		MaxPower:           d.maxPower,
	}
	n := hdr.MarshalTo(buf)
	if n == 0 {
		return 0, pkg.ErrBufferTooSmall
	}
	w.pos = n

	for _, c := range classes {
		if err := c.ConfigurationDescriptors(w); err != nil {
			return 0, err
		}
	}

	hdr.TotalLength = uint16(w.pos)
	hdr.NumInterfaces = uint8(w.numInterfaces)
	hdr.MarshalTo(buf)
	return w.pos, nil
}

// BOSDescriptorTo assembles the BOS descriptor into buf and returns its
// length. A USB 2.0 extension capability comes first, followed by the
// capabilities of every class implementing BOSDescriber.
func (d *Device) BOSDescriptorTo(buf []byte, classes []Class) (int, error) {
	w := &d.writer
	*w = DescriptorWriter{buf: buf, numEndpointsMark: -1}

	bos, err := NewBOSWriter(w)
	if err != nil {
		return 0, err
	}
	if err := bos.Capability(CapabilityUSB20Extension, []byte{0, 0, 0, 0}); err != nil {
		return 0, err
	}
	for _, c := range classes {
		if bd, ok := c.(BOSDescriber); ok {
			if err := bd.BOSDescriptors(bos); err != nil {
				return 0, err
			}
		}
	}
	bos.End()
	return w.pos, nil
}
