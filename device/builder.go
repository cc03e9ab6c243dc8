package device

import (
	"errors"
	"fmt"

	"github.com/emfcamp/tildabridge/pkg"
)

// String descriptor indexes assigned by DeviceBuilder.
const (
	StringIndexManufacturer = 1
	StringIndexProduct      = 2
	StringIndexSerialNumber = 3
)

// MaxPowerMilliamps is the largest bus current a configuration may request.
const MaxPowerMilliamps = 500

// DeviceBuilder provides a fluent API for building devices. Classes must
// be constructed on the same Allocator before Build is called.
type DeviceBuilder struct {
	alloc *Allocator
	desc  DeviceDescriptor

	manufacturer string
	product      string
	serial       string

	maxPowerMA   uint16
	selfPowered  bool
	remoteWakeup bool

	errors []error
}

// NewDeviceBuilder creates a builder for a device with the given IDs. The
// device advertises USB 2.1 so that hosts request the BOS descriptor.
func NewDeviceBuilder(alloc *Allocator, vendorID, productID uint16) *DeviceBuilder {
	return &DeviceBuilder{
		alloc: alloc,
		desc: DeviceDescriptor{
			USBVersion:        0x0210,
			MaxPacketSize0:    64,
			VendorID:          vendorID,
			ProductID:         productID,
			DeviceVersion:     0x0010,
			NumConfigurations: 1,
		},
		maxPowerMA: 100,
	}
}

// WithStrings sets the manufacturer, product, and serial strings.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	b.manufacturer = manufacturer
	b.product = product
	b.serial = serial
	return b
}

// WithDeviceClass sets the device class triple. Composite devices using
// interface association descriptors use ClassMisc, SubClassCommon,
// ProtocolIAD.
func (b *DeviceBuilder) WithDeviceClass(class, subClass, protocol uint8) *DeviceBuilder {
	b.desc.DeviceClass = class
	b.desc.DeviceSubClass = subClass
	b.desc.DeviceProtocol = protocol
	return b
}

// WithMaxPacketSize0 sets the control endpoint packet size.
func (b *DeviceBuilder) WithMaxPacketSize0(size uint8) *DeviceBuilder {
	switch size {
	case 8, 16, 32, 64:
		b.desc.MaxPacketSize0 = size
	default:
		b.errors = append(b.errors, fmt.Errorf("ep0 max packet size %d: %w", size, pkg.ErrInvalidParameter))
	}
	return b
}

// WithDeviceRelease sets bcdDevice.
func (b *DeviceBuilder) WithDeviceRelease(bcd uint16) *DeviceBuilder {
	b.desc.DeviceVersion = bcd
	return b
}

// WithMaxPower sets the bus current the configuration requests.
func (b *DeviceBuilder) WithMaxPower(milliamps uint16) *DeviceBuilder {
	if milliamps > MaxPowerMilliamps {
		b.errors = append(b.errors, fmt.Errorf("max power %dmA: %w", milliamps, pkg.ErrInvalidParameter))
		return b
	}
	b.maxPowerMA = milliamps
	return b
}

// WithSelfPowered marks the configuration as self-powered.
func (b *DeviceBuilder) WithSelfPowered(selfPowered bool) *DeviceBuilder {
	b.selfPowered = selfPowered
	return b
}

// WithRemoteWakeup marks the configuration as remote-wakeup capable.
func (b *DeviceBuilder) WithRemoteWakeup(remoteWakeup bool) *DeviceBuilder {
	b.remoteWakeup = remoteWakeup
	return b
}

// Build returns the constructed device. It fails if any builder option or
// endpoint allocation was invalid.
func (b *DeviceBuilder) Build() (*Device, error) {
	if b.alloc == nil {
		return nil, pkg.ErrInvalidState
	}
	if err := b.alloc.Err(); err != nil {
		b.errors = append(b.errors, err)
	}
	if len(b.errors) > 0 {
		return nil, errors.Join(b.errors...)
	}

	d := &Device{
		bus:           b.alloc.Bus(),
		Descriptor:    b.desc,
		attributes:    ConfigAttrBusPowered,
		maxPower:      uint8(b.maxPowerMA / 2),
		endpoints:     b.alloc.Endpoints(),
		numInterfaces: b.alloc.NumInterfaces(),
		state:         StateDefault,
	}
	if b.selfPowered {
		d.attributes |= ConfigAttrSelfPowered
	}
	if b.remoteWakeup {
		d.attributes |= ConfigAttrRemoteWakeup
	}
	d.handler.device = d

	n := LanguageDescriptorTo(d.stringBufs[0][:], LangIDUSEnglish)
	d.strings[0] = d.stringBufs[0][:n]
	if b.manufacturer != "" {
		d.Descriptor.ManufacturerIndex = StringIndexManufacturer
		d.setStringFrom(StringIndexManufacturer, b.manufacturer)
	}
	if b.product != "" {
		d.Descriptor.ProductIndex = StringIndexProduct
		d.setStringFrom(StringIndexProduct, b.product)
	}
	if b.serial != "" {
		d.Descriptor.SerialNumberIndex = StringIndexSerialNumber
		d.setStringFrom(StringIndexSerialNumber, b.serial)
	}

	pkg.LogDebug(pkg.ComponentDevice, "device built",
		"vid", fmt.Sprintf("0x%04X", d.Descriptor.VendorID),
		"pid", fmt.Sprintf("0x%04X", d.Descriptor.ProductID),
		"interfaces", d.numInterfaces,
		"endpoints", len(d.endpoints))

	return d, nil
}
