package device

import (
	"encoding/binary"
	"fmt"
	"unicode"
	"unicode/utf16"

	"github.com/emfcamp/tildabridge/pkg"
)

// Descriptor types.
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeInterfaceAssociation = 0x0B
	DescriptorTypeBOS                  = 0x0F
	DescriptorTypeDeviceCapability     = 0x10
	DescriptorTypeCSInterface          = 0x24
	DescriptorTypeCSEndpoint           = 0x25
)

// Device capability types carried in a BOS descriptor.
const (
	CapabilityUSB20Extension = 0x02
	CapabilityPlatform       = 0x05
)

// Class codes used by the bridge functions.
const (
	ClassCDC     = 0x02
	ClassCDCData = 0x0A
	ClassMisc    = 0xEF
	ClassVendor  = 0xFF
)

// Composite device subclass and protocol announcing interface association
// descriptors (USB IAD ECN).
const (
	SubClassCommon = 0x02
	ProtocolIAD    = 0x01
)

// Descriptor sizes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
	IADSize                     = 8
	BOSDescriptorSize           = 5
)

// bmAttributes bits of a configuration descriptor.
const (
	ConfigAttrBusPowered   = 0x80 // reserved, always set
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// LangIDUSEnglish is the only language the device reports.
const LangIDUSEnglish = 0x0409

var le = binary.LittleEndian

// putHeader writes bLength and bDescriptorType, or reports false when buf
// cannot hold size bytes.
func putHeader(buf []byte, size int, descType uint8) bool {
	if len(buf) < size {
		return false
	}
	buf[0], buf[1] = uint8(size), descType
	return true
}

// checkHeader validates the bLength/bDescriptorType prefix of a descriptor
// received from the device.
func checkHeader(data []byte, size int, descType uint8) error {
	if len(data) < size || int(data[0]) < size {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != descType {
		return pkg.ErrDescriptorTypeMismatch
	}
	return nil
}

// DeviceDescriptor is the 18-byte device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16 // bcdUSB
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // bcdDevice
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo writes d to buf and returns DeviceDescriptorSize, or 0 if buf
// is too small.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if !putHeader(buf, DeviceDescriptorSize, DescriptorTypeDevice) {
		return 0
	}
	le.PutUint16(buf[2:], d.USBVersion)
	buf[4], buf[5], buf[6], buf[7] = d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol, d.MaxPacketSize0
	le.PutUint16(buf[8:], d.VendorID)
	le.PutUint16(buf[10:], d.ProductID)
	le.PutUint16(buf[12:], d.DeviceVersion)
	buf[14], buf[15], buf[16], buf[17] = d.ManufacturerIndex, d.ProductIndex, d.SerialNumberIndex, d.NumConfigurations
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor decodes a device descriptor read from the device.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if err := checkHeader(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return err
	}
	*out = DeviceDescriptor{
		USBVersion:        le.Uint16(data[2:]),
		DeviceClass:       data[4],
		DeviceSubClass:    data[5],
		DeviceProtocol:    data[6],
		MaxPacketSize0:    data[7],
		VendorID:          le.Uint16(data[8:]),
		ProductID:         le.Uint16(data[10:]),
		DeviceVersion:     le.Uint16(data[12:]),
		ManufacturerIndex: data[14],
		ProductIndex:      data[15],
		SerialNumberIndex: data[16],
		NumConfigurations: data[17],
	}
	return nil
}

// ConfigurationDescriptor is the 9-byte configuration header.
type ConfigurationDescriptor struct {
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if !putHeader(buf, ConfigurationDescriptorSize, DescriptorTypeConfiguration) {
		return 0
	}
	le.PutUint16(buf[2:], c.TotalLength)
	buf[4], buf[5], buf[6], buf[7], buf[8] = c.NumInterfaces, c.ConfigurationValue, c.ConfigurationIndex, c.Attributes, c.MaxPower
	return ConfigurationDescriptorSize
}

// InterfaceDescriptor is the 9-byte interface descriptor.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	if !putHeader(buf, InterfaceDescriptorSize, DescriptorTypeInterface) {
		return 0
	}
	copy(buf[2:], []byte{i.InterfaceNumber, i.AlternateSetting, i.NumEndpoints,
		i.InterfaceClass, i.InterfaceSubClass, i.InterfaceProtocol, i.InterfaceIndex})
	return InterfaceDescriptorSize
}

// EndpointDescriptor is the 7-byte endpoint descriptor.
type EndpointDescriptor struct {
	EndpointAddress uint8 // direction in bit 7
	Attributes      uint8 // transfer type in bits 0-1
	MaxPacketSize   uint16
	Interval        uint8
}

func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	if !putHeader(buf, EndpointDescriptorSize, DescriptorTypeEndpoint) {
		return 0
	}
	buf[2], buf[3] = e.EndpointAddress, e.Attributes
	le.PutUint16(buf[4:], e.MaxPacketSize)
	buf[6] = e.Interval
	return EndpointDescriptorSize
}

// InterfaceAssociationDescriptor groups the interfaces of one function of
// the composite device.
type InterfaceAssociationDescriptor struct {
	FirstInterface   uint8
	InterfaceCount   uint8
	FunctionClass    uint8
	FunctionSubClass uint8
	FunctionProtocol uint8
	FunctionIndex    uint8
}

func (i *InterfaceAssociationDescriptor) MarshalTo(buf []byte) int {
	if !putHeader(buf, IADSize, DescriptorTypeInterfaceAssociation) {
		return 0
	}
	copy(buf[2:], []byte{i.FirstInterface, i.InterfaceCount,
		i.FunctionClass, i.FunctionSubClass, i.FunctionProtocol, i.FunctionIndex})
	return IADSize
}

// BOSDescriptor is the 5-byte Binary Object Store header.
type BOSDescriptor struct {
	TotalLength   uint16
	NumDeviceCaps uint8
}

func (b *BOSDescriptor) MarshalTo(buf []byte) int {
	if !putHeader(buf, BOSDescriptorSize, DescriptorTypeBOS) {
		return 0
	}
	le.PutUint16(buf[2:], b.TotalLength)
	buf[4] = b.NumDeviceCaps
	return BOSDescriptorSize
}

// ParseBOSDescriptor decodes the BOS header and checks that the
// capabilities after it fill wTotalLength exactly and match bNumDeviceCaps.
// It returns the capability type codes in order.
func ParseBOSDescriptor(data []byte, out *BOSDescriptor) ([]uint8, error) {
	if err := checkHeader(data, BOSDescriptorSize, DescriptorTypeBOS); err != nil {
		return nil, err
	}
	out.TotalLength = le.Uint16(data[2:])
	out.NumDeviceCaps = data[4]
	if int(out.TotalLength) != len(data) {
		return nil, fmt.Errorf("BOS wTotalLength %d, read %d bytes: %w", out.TotalLength, len(data), pkg.ErrProtocol)
	}

	var caps []uint8
	err := walkDescriptors(data[BOSDescriptorSize:], func(d []byte) error {
		if d[1] != DescriptorTypeDeviceCapability || len(d) < 3 {
			return fmt.Errorf("BOS entry type 0x%02x: %w", d[1], pkg.ErrDescriptorTypeMismatch)
		}
		caps = append(caps, d[2])
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(caps) != int(out.NumDeviceCaps) {
		return nil, fmt.Errorf("BOS declares %d capabilities, has %d: %w", out.NumDeviceCaps, len(caps), pkg.ErrProtocol)
	}
	return caps, nil
}

// Configuration is a configuration descriptor set as read by the host.
type Configuration struct {
	ConfigurationDescriptor
	Associations []InterfaceAssociationDescriptor
	Interfaces   []InterfaceDescriptor
	Endpoints    []EndpointDescriptor
}

// ParseConfiguration decodes a complete configuration descriptor set. It
// checks wTotalLength, bNumInterfaces and each interface's bNumEndpoints
// against the descriptors present. Class-specific descriptors are skipped.
func ParseConfiguration(data []byte) (*Configuration, error) {
	if err := checkHeader(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration); err != nil {
		return nil, err
	}
	c := &Configuration{ConfigurationDescriptor: ConfigurationDescriptor{
		TotalLength:        le.Uint16(data[2:]),
		NumInterfaces:      data[4],
		ConfigurationValue: data[5],
		ConfigurationIndex: data[6],
		Attributes:         data[7],
		MaxPower:           data[8],
	}}
	if int(c.TotalLength) != len(data) {
		return nil, fmt.Errorf("configuration wTotalLength %d, read %d bytes: %w", c.TotalLength, len(data), pkg.ErrProtocol)
	}

	endpoints := 0
	err := walkDescriptors(data[ConfigurationDescriptorSize:], func(d []byte) error {
		switch d[1] {
		case DescriptorTypeInterfaceAssociation:
			if err := checkHeader(d, IADSize, DescriptorTypeInterfaceAssociation); err != nil {
				return err
			}
			c.Associations = append(c.Associations, InterfaceAssociationDescriptor{
				FirstInterface: d[2], InterfaceCount: d[3],
				FunctionClass: d[4], FunctionSubClass: d[5], FunctionProtocol: d[6], FunctionIndex: d[7],
			})
		case DescriptorTypeInterface:
			if err := checkHeader(d, InterfaceDescriptorSize, DescriptorTypeInterface); err != nil {
				return err
			}
			if err := c.checkEndpointCount(endpoints); err != nil {
				return err
			}
			endpoints = 0
			c.Interfaces = append(c.Interfaces, InterfaceDescriptor{
				InterfaceNumber: d[2], AlternateSetting: d[3], NumEndpoints: d[4],
				InterfaceClass: d[5], InterfaceSubClass: d[6], InterfaceProtocol: d[7], InterfaceIndex: d[8],
			})
		case DescriptorTypeEndpoint:
			if err := checkHeader(d, EndpointDescriptorSize, DescriptorTypeEndpoint); err != nil {
				return err
			}
			if len(c.Interfaces) == 0 {
				return fmt.Errorf("endpoint 0x%02x before any interface: %w", d[2], pkg.ErrProtocol)
			}
			endpoints++
			c.Endpoints = append(c.Endpoints, EndpointDescriptor{
				EndpointAddress: d[2], Attributes: d[3], MaxPacketSize: le.Uint16(d[4:]), Interval: d[6],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := c.checkEndpointCount(endpoints); err != nil {
		return nil, err
	}
	if len(c.Interfaces) != int(c.NumInterfaces) {
		return nil, fmt.Errorf("bNumInterfaces %d, found %d: %w", c.NumInterfaces, len(c.Interfaces), pkg.ErrProtocol)
	}
	return c, nil
}

// checkEndpointCount compares the endpoints seen since the last interface
// descriptor with its bNumEndpoints.
func (c *Configuration) checkEndpointCount(seen int) error {
	if len(c.Interfaces) == 0 {
		return nil
	}
	last := c.Interfaces[len(c.Interfaces)-1]
	if int(last.NumEndpoints) != seen {
		return fmt.Errorf("interface %d declares %d endpoints, has %d: %w",
			last.InterfaceNumber, last.NumEndpoints, seen, pkg.ErrProtocol)
	}
	return nil
}

// walkDescriptors calls fn with each descriptor in a concatenated list.
// A descriptor shorter than its 2-byte header or running past the end of
// data is an error.
func walkDescriptors(data []byte, fn func(desc []byte) error) error {
	for len(data) > 0 {
		n := int(data[0])
		if n < 2 || n > len(data) {
			return fmt.Errorf("descriptor length %d with %d bytes left: %w", n, len(data), pkg.ErrDescriptorTooShort)
		}
		if err := fn(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// maxStringUnits is the number of UTF-16 code units that fit in a string
// descriptor after its 2-byte header.
const maxStringUnits = (255 - 2) / 2

// StringDescriptorTo writes s as a UTF-16LE string descriptor, cut at the
// last whole character that fits in 255 bytes. It returns 0 if buf is too
// small.
func StringDescriptorTo(buf []byte, s string) int {
	units := 0
	for _, r := range s {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1 // encoded as U+FFFD
		}
		if units+n > maxStringUnits {
			break
		}
		units += n
	}
	length := 2 + units*2
	if !putHeader(buf, length, DescriptorTypeString) {
		return 0
	}
	pos := 2
	for _, r := range s {
		if pos >= length {
			break
		}
		if r1, r2 := utf16.EncodeRune(r); r1 != unicode.ReplacementChar {
			le.PutUint16(buf[pos:], uint16(r1))
			le.PutUint16(buf[pos+2:], uint16(r2))
			pos += 4
			continue
		}
		if utf16.IsSurrogate(r) || r > 0xFFFF {
			r = unicode.ReplacementChar
		}
		le.PutUint16(buf[pos:], uint16(r))
		pos += 2
	}
	return length
}

// LanguageDescriptorTo writes string descriptor zero listing langIDs. It
// returns 0 if buf is too small.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	length := 2 + len(langIDs)*2
	if !putHeader(buf, length, DescriptorTypeString) {
		return 0
	}
	for i, id := range langIDs {
		le.PutUint16(buf[2+i*2:], id)
	}
	return length
}
