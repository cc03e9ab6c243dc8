package device

import (
	"fmt"

	"github.com/emfcamp/tildabridge/device/hal"
	"github.com/emfcamp/tildabridge/pkg"
)

// InterfaceNumber is an interface number handed out by an Allocator.
type InterfaceNumber uint8

// Allocator is the single owner of a bus's interface numbers and endpoint
// addresses. Classes take what they need from it once, at construction, and
// keep the returned handles for the life of the process.
//
// Allocation errors are recorded rather than returned so that class
// constructors stay simple; DeviceBuilder.Build reports the first one.
type Allocator struct {
	bus hal.Bus

	nextInterface uint8
	nextIn        uint8
	nextOut       uint8

	endpoints     [2 * hal.MaxEndpoints]hal.EndpointConfig
	endpointCount int

	err error
}

// NewAllocator creates an allocator for bus. Endpoint numbers are handed
// out from 1 upwards, independently for each direction.
func NewAllocator(bus hal.Bus) *Allocator {
	return &Allocator{bus: bus, nextIn: 1, nextOut: 1}
}

// Bus returns the bus the allocator hands out endpoints on.
func (a *Allocator) Bus() hal.Bus {
	return a.bus
}

// Err returns the first allocation error, if any.
func (a *Allocator) Err() error {
	return a.err
}

// Endpoints returns the configuration of every endpoint allocated so far.
func (a *Allocator) Endpoints() []hal.EndpointConfig {
	return a.endpoints[:a.endpointCount]
}

// NumInterfaces returns the number of interfaces allocated so far.
func (a *Allocator) NumInterfaces() int {
	return int(a.nextInterface)
}

// Interface allocates the next interface number.
func (a *Allocator) Interface() InterfaceNumber {
	n := a.nextInterface
	a.nextInterface++
	return InterfaceNumber(n)
}

// BulkIn allocates a bulk device-to-host endpoint.
func (a *Allocator) BulkIn(maxPacketSize uint16) *EndpointIn {
	a.checkBulkSize(maxPacketSize)
	return &EndpointIn{bus: a.bus, desc: a.alloc(EndpointDirectionIn, EndpointTypeBulk, maxPacketSize, 0)}
}

// BulkOut allocates a bulk host-to-device endpoint.
func (a *Allocator) BulkOut(maxPacketSize uint16) *EndpointOut {
	a.checkBulkSize(maxPacketSize)
	return &EndpointOut{bus: a.bus, desc: a.alloc(EndpointDirectionOut, EndpointTypeBulk, maxPacketSize, 0)}
}

// InterruptIn allocates an interrupt device-to-host endpoint polled every
// interval frames.
func (a *Allocator) InterruptIn(maxPacketSize uint16, interval uint8) *EndpointIn {
	if maxPacketSize == 0 || maxPacketSize > 64 {
		a.fail(fmt.Errorf("interrupt max packet size %d: %w", maxPacketSize, pkg.ErrInvalidParameter))
	}
	return &EndpointIn{bus: a.bus, desc: a.alloc(EndpointDirectionIn, EndpointTypeInterrupt, maxPacketSize, interval)}
}

func (a *Allocator) alloc(dir, transferType uint8, maxPacketSize uint16, interval uint8) EndpointDescriptor {
	next := &a.nextOut
	if dir == EndpointDirectionIn {
		next = &a.nextIn
	}
	if *next > hal.MaxEndpoints {
		a.fail(fmt.Errorf("%s endpoint: %w", DirectionName(dir), pkg.ErrNoResources))
		return EndpointDescriptor{EndpointAddress: dir, Attributes: transferType, MaxPacketSize: maxPacketSize}
	}

	desc := EndpointDescriptor{
		EndpointAddress: dir | *next,
		Attributes:      transferType,
		MaxPacketSize:   maxPacketSize,
		Interval:        interval,
	}
	*next++

	a.endpoints[a.endpointCount] = hal.EndpointConfig{
		Address:       desc.EndpointAddress,
		Attributes:    desc.Attributes,
		MaxPacketSize: desc.MaxPacketSize,
		Interval:      desc.Interval,
	}
	a.endpointCount++

	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint allocated",
		"address", fmt.Sprintf("0x%02X", desc.EndpointAddress),
		"type", TransferTypeName(transferType),
		"maxPacketSize", maxPacketSize)
	return desc
}

// checkBulkSize records an error for packet sizes a full-speed bulk
// endpoint cannot use.
func (a *Allocator) checkBulkSize(maxPacketSize uint16) {
	switch maxPacketSize {
	case 8, 16, 32, 64:
	default:
		a.fail(fmt.Errorf("bulk max packet size %d: %w", maxPacketSize, pkg.ErrInvalidParameter))
	}
}

func (a *Allocator) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}
