package loopback

import (
	"fmt"

	"github.com/emfcamp/tildabridge/device/hal"
	"github.com/emfcamp/tildabridge/pkg"
)

// Standard requests issued by Enumerate.
const (
	requestSetAddress       = 0x05
	requestGetDescriptor    = 0x06
	requestSetConfiguration = 0x09

	descriptorTypeDevice        = 0x01
	descriptorTypeConfiguration = 0x02
)

// Host is the host side of a loopback Bus. Every call that waits for the
// device runs step, which must poll the device exactly once.
type Host struct {
	bus  *Bus
	step func()

	// PollBudget bounds how many times Control runs step while waiting for
	// the device to resolve a control transfer.
	PollBudget int
}

// NewHost returns a host handle for b.
func NewHost(b *Bus, step func()) *Host {
	return &Host{bus: b, step: step, PollBudget: DefaultPollBudget}
}

// Reset signals a bus reset and lets the device observe it.
func (h *Host) Reset() {
	b := h.bus
	b.mutex.Lock()
	b.reset = true
	b.address = 0
	b.enabledIn, b.enabledOut = 0, 0
	b.stalled = [2]uint16{}
	b.in = [hal.MaxEndpoints + 1]packet{}
	b.out = [hal.MaxEndpoints + 1]packet{}
	b.inComplete = 0
	b.setupPending = false
	b.ep0State = ep0Idle
	b.mutex.Unlock()
	h.step()
}

// Suspend signals that the bus went idle.
func (h *Host) Suspend() {
	h.bus.mutex.Lock()
	h.bus.suspend = true
	h.bus.mutex.Unlock()
	h.step()
}

// Resume signals resume signalling on the bus.
func (h *Host) Resume() {
	h.bus.mutex.Lock()
	h.bus.resume = true
	h.bus.mutex.Unlock()
	h.step()
}

// Control runs one control transfer. For IN requests it returns the data
// stage, truncated to setup.Length. A stalled transfer returns pkg.ErrStall.
func (h *Host) Control(setup hal.SetupPacket, data []byte) ([]byte, error) {
	b := h.bus
	b.mutex.Lock()
	if len(data) > MaxControlSize {
		b.mutex.Unlock()
		return nil, pkg.ErrBufferTooSmall
	}
	b.setup = setup
	b.setupLen = copy(b.setupData[:], data)
	b.setupPending = true
	b.ep0State = ep0Idle
	b.mutex.Unlock()

	for i := 0; i < h.PollBudget; i++ {
		h.step()

		b.mutex.Lock()
		state := b.ep0State
		var resp []byte
		if state == ep0Data {
			n := b.ep0Len
			if n > int(setup.Length) {
				n = int(setup.Length)
			}
			resp = append([]byte{}, b.ep0Buf[:n]...)
		}
		b.ep0State = ep0Idle
		b.mutex.Unlock()

		switch state {
		case ep0Data:
			return resp, nil
		case ep0Ack:
			return nil, nil
		case ep0Stall:
			return nil, pkg.ErrStall
		}
	}
	return nil, ErrNoResponse
}

// Send delivers one OUT packet to the device. It returns pkg.ErrWouldBlock
// while the previous packet on that endpoint has not been read.
func (h *Host) Send(address uint8, data []byte) error {
	b := h.bus
	b.mutex.Lock()
	defer b.mutex.Unlock()

	num := address & 0x0F
	if address&0x80 != 0 || num == 0 || b.enabledOut&(1<<num) == 0 {
		return pkg.ErrInvalidEndpoint
	}
	if len(data) > int(b.maxPacket[0][num]) {
		return pkg.ErrBufferTooSmall
	}
	p := &b.out[num]
	if p.full {
		return pkg.ErrWouldBlock
	}
	p.n = copy(p.buf[:], data)
	p.full = true
	return nil
}

// Receive collects one IN packet from the device. A zero-length packet
// returns 0 and a nil error. It returns pkg.ErrWouldBlock when the device
// has not queued a packet.
func (h *Host) Receive(address uint8, buf []byte) (int, error) {
	b := h.bus
	b.mutex.Lock()
	defer b.mutex.Unlock()

	num := address & 0x0F
	if address&0x80 == 0 || num == 0 || b.enabledIn&(1<<num) == 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	p := &b.in[num]
	if !p.full {
		return 0, pkg.ErrWouldBlock
	}
	p.full = false
	b.inComplete |= 1 << num
	return copy(buf, p.buf[:p.n]), nil
}

// Address returns the address the device applied.
func (h *Host) Address() uint8 {
	h.bus.mutex.Lock()
	defer h.bus.mutex.Unlock()
	return h.bus.address
}

// Stalled reports whether the device halted the endpoint.
func (h *Host) Stalled(address uint8) bool {
	h.bus.mutex.Lock()
	defer h.bus.mutex.Unlock()
	dir := 0
	if address&0x80 != 0 {
		dir = 1
	}
	return h.bus.stalled[dir]&(1<<(address&0x0F)) != 0
}

// Enumerate resets the bus, reads the device and configuration descriptors,
// assigns address and selects configuration config. It returns the full
// configuration descriptor.
func (h *Host) Enumerate(address, config uint8) ([]byte, error) {
	h.Reset()

	dev, err := h.Control(getDescriptor(descriptorTypeDevice, 0, 64), nil)
	if err != nil {
		return nil, fmt.Errorf("get device descriptor: %w", err)
	}
	if len(dev) < 18 {
		return nil, fmt.Errorf("device descriptor: %w", pkg.ErrDescriptorTooShort)
	}

	setAddress := hal.SetupPacket{Request: requestSetAddress, Value: uint16(address)}
	if _, err := h.Control(setAddress, nil); err != nil {
		return nil, fmt.Errorf("set address: %w", err)
	}

	head, err := h.Control(getDescriptor(descriptorTypeConfiguration, 0, 9), nil)
	if err != nil {
		return nil, fmt.Errorf("get configuration header: %w", err)
	}
	if len(head) < 4 {
		return nil, fmt.Errorf("configuration descriptor: %w", pkg.ErrDescriptorTooShort)
	}
	total := uint16(head[2]) | uint16(head[3])<<8
	cfg, err := h.Control(getDescriptor(descriptorTypeConfiguration, 0, total), nil)
	if err != nil {
		return nil, fmt.Errorf("get configuration descriptor: %w", err)
	}

	setConfig := hal.SetupPacket{Request: requestSetConfiguration, Value: uint16(config)}
	if _, err := h.Control(setConfig, nil); err != nil {
		return nil, fmt.Errorf("set configuration: %w", err)
	}
	return cfg, nil
}

func getDescriptor(descType, index uint8, length uint16) hal.SetupPacket {
	return hal.SetupPacket{
		RequestType: 0x80,
		Request:     requestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(index),
		Length:      length,
	}
}
