package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/emfcamp/tildabridge/pkg"
)

type marshaler interface{ MarshalTo(buf []byte) int }

// rawDescriptor stands in for class-specific descriptors.
type rawDescriptor []byte

func (r rawDescriptor) MarshalTo(buf []byte) int { return copy(buf, r) }

func marshal(ds ...marshaler) []byte {
	var out []byte
	for _, d := range ds {
		buf := make([]byte, 64)
		out = append(out, buf[:d.MarshalTo(buf)]...)
	}
	return out
}

// Offsets into bridgeConfiguration.
const (
	commIfaceOffset = 17 // after the header and the ACM association
	lastIfaceOffset = 61
	commEPOffset    = 31
)

// bridgeConfiguration returns a configuration laid out like the bridge's:
// an associated ACM function on interfaces 0-1 and a vendor interface 2.
func bridgeConfiguration() []byte {
	body := marshal(
		&InterfaceAssociationDescriptor{FirstInterface: 0, InterfaceCount: 2, FunctionClass: ClassCDC, FunctionSubClass: 0x02},
		&InterfaceDescriptor{InterfaceNumber: 0, NumEndpoints: 1, InterfaceClass: ClassCDC, InterfaceSubClass: 0x02},
		rawDescriptor{5, DescriptorTypeCSInterface, 0x00, 0x10, 0x01},
		&EndpointDescriptor{EndpointAddress: 0x83, Attributes: 0x03, MaxPacketSize: 16, Interval: 16},
		&InterfaceDescriptor{InterfaceNumber: 1, NumEndpoints: 2, InterfaceClass: ClassCDCData},
		&EndpointDescriptor{EndpointAddress: 0x01, Attributes: 0x02, MaxPacketSize: 64},
		&EndpointDescriptor{EndpointAddress: 0x81, Attributes: 0x02, MaxPacketSize: 64},
		&InterfaceDescriptor{InterfaceNumber: 2, NumEndpoints: 2, InterfaceClass: ClassVendor, InterfaceIndex: 4},
		&EndpointDescriptor{EndpointAddress: 0x02, Attributes: 0x02, MaxPacketSize: 64},
		&EndpointDescriptor{EndpointAddress: 0x82, Attributes: 0x02, MaxPacketSize: 64},
	)
	hdr := &ConfigurationDescriptor{
		TotalLength:        uint16(ConfigurationDescriptorSize + len(body)),
		NumInterfaces:      3,
		ConfigurationValue: 1,
		Attributes:         ConfigAttrBusPowered,
		MaxPower:           50,
	}
	return append(marshal(hdr), body...)
}

func TestMarshalTo_Layout(t *testing.T) {
	tests := []struct {
		name string
		d    marshaler
		want []byte
	}{
		{
			"composite device",
			&DeviceDescriptor{
				USBVersion: 0x0210, DeviceClass: ClassMisc, DeviceSubClass: SubClassCommon, DeviceProtocol: ProtocolIAD,
				MaxPacketSize0: 64, VendorID: 0x16D0, ProductID: 0x0F9A, DeviceVersion: 0x0100,
				ManufacturerIndex: 1, ProductIndex: 2, SerialNumberIndex: 3, NumConfigurations: 1,
			},
			[]byte{18, 0x01, 0x10, 0x02, 0xEF, 0x02, 0x01, 64, 0xD0, 0x16, 0x9A, 0x0F, 0x00, 0x01, 1, 2, 3, 1},
		},
		{
			"configuration",
			&ConfigurationDescriptor{TotalLength: 84, NumInterfaces: 3, ConfigurationValue: 1, Attributes: ConfigAttrBusPowered, MaxPower: 50},
			[]byte{9, 0x02, 84, 0, 3, 1, 0, 0x80, 50},
		},
		{
			"ACM association",
			&InterfaceAssociationDescriptor{FirstInterface: 0, InterfaceCount: 2, FunctionClass: ClassCDC, FunctionSubClass: 0x02, FunctionIndex: 5},
			[]byte{8, 0x0B, 0, 2, 0x02, 0x02, 0, 5},
		},
		{
			"vendor interface",
			&InterfaceDescriptor{InterfaceNumber: 2, NumEndpoints: 2, InterfaceClass: ClassVendor, InterfaceIndex: 4},
			[]byte{9, 0x04, 2, 0, 2, 0xFF, 0, 0, 4},
		},
		{
			"notification endpoint",
			&EndpointDescriptor{EndpointAddress: 0x83, Attributes: 0x03, MaxPacketSize: 16, Interval: 16},
			[]byte{7, 0x05, 0x83, 0x03, 16, 0, 16},
		},
		{
			"BOS header",
			&BOSDescriptor{TotalLength: 57, NumDeviceCaps: 2},
			[]byte{5, 0x0F, 57, 0, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 32)
			n := tt.d.MarshalTo(buf)
			if !bytes.Equal(buf[:n], tt.want) {
				t.Errorf("MarshalTo = % X, want % X", buf[:n], tt.want)
			}
			if short := tt.d.MarshalTo(buf[:len(tt.want)-1]); short != 0 {
				t.Errorf("MarshalTo(short buffer) = %d, want 0", short)
			}
		})
	}
}

func TestParseDeviceDescriptor(t *testing.T) {
	want := DeviceDescriptor{
		USBVersion: 0x0210, DeviceClass: ClassMisc, DeviceSubClass: SubClassCommon, DeviceProtocol: ProtocolIAD,
		MaxPacketSize0: 64, VendorID: 0x16D0, ProductID: 0x0F9A, NumConfigurations: 1,
	}
	data := marshal(&want)

	var got DeviceDescriptor
	if err := ParseDeviceDescriptor(data, &got); err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}

	if err := ParseDeviceDescriptor(data[:8], &got); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("8-byte read error = %v, want %v", err, pkg.ErrDescriptorTooShort)
	}
	data[0] = 8
	if err := ParseDeviceDescriptor(data, &got); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("bLength 8 error = %v, want %v", err, pkg.ErrDescriptorTooShort)
	}
	data[0], data[1] = DeviceDescriptorSize, DescriptorTypeConfiguration
	if err := ParseDeviceDescriptor(data, &got); !errors.Is(err, pkg.ErrDescriptorTypeMismatch) {
		t.Errorf("wrong type error = %v, want %v", err, pkg.ErrDescriptorTypeMismatch)
	}
}

func TestParseConfiguration(t *testing.T) {
	cfg, err := ParseConfiguration(bridgeConfiguration())
	if err != nil {
		t.Fatalf("ParseConfiguration() error = %v", err)
	}

	if cfg.TotalLength != 84 || cfg.NumInterfaces != 3 || cfg.MaxPower != 50 {
		t.Errorf("header = %+v", cfg.ConfigurationDescriptor)
	}
	wantIAD := []InterfaceAssociationDescriptor{{FirstInterface: 0, InterfaceCount: 2, FunctionClass: ClassCDC, FunctionSubClass: 0x02}}
	if diff := cmp.Diff(wantIAD, cfg.Associations); diff != "" {
		t.Errorf("associations mismatch (-want +got):\n%s", diff)
	}
	var classes []uint8
	for _, i := range cfg.Interfaces {
		classes = append(classes, i.InterfaceClass)
	}
	if diff := cmp.Diff([]uint8{ClassCDC, ClassCDCData, ClassVendor}, classes); diff != "" {
		t.Errorf("interface classes mismatch (-want +got):\n%s", diff)
	}
	var addrs []uint8
	for _, e := range cfg.Endpoints {
		addrs = append(addrs, e.EndpointAddress)
	}
	if diff := cmp.Diff([]uint8{0x83, 0x01, 0x81, 0x02, 0x82}, addrs); diff != "" {
		t.Errorf("endpoint addresses mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfiguration_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b []byte) []byte
		want   error
	}{
		{"wrong type", func(b []byte) []byte { b[1] = DescriptorTypeDevice; return b }, pkg.ErrDescriptorTypeMismatch},
		{"header only", func(b []byte) []byte { return b[:8] }, pkg.ErrDescriptorTooShort},
		{"truncated read", func(b []byte) []byte { return b[:40] }, pkg.ErrProtocol},
		{"interface count", func(b []byte) []byte { b[4] = 2; return b }, pkg.ErrProtocol},
		{"endpoint count mid-set", func(b []byte) []byte { b[commIfaceOffset+4] = 2; return b }, pkg.ErrProtocol},
		{"endpoint count last interface", func(b []byte) []byte { b[lastIfaceOffset+4] = 1; return b }, pkg.ErrProtocol},
		{"short endpoint", func(b []byte) []byte { b[commEPOffset] = 3; return b }, pkg.ErrDescriptorTooShort},
		{"zero length", func(b []byte) []byte { b[commEPOffset] = 0; return b }, pkg.ErrDescriptorTooShort},
		{"length past end", func(b []byte) []byte { b[lastIfaceOffset] = 0xFF; return b }, pkg.ErrDescriptorTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfiguration(tt.mutate(bridgeConfiguration())); !errors.Is(err, tt.want) {
				t.Errorf("ParseConfiguration() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseConfiguration_EndpointBeforeInterface(t *testing.T) {
	body := marshal(&EndpointDescriptor{EndpointAddress: 0x81, Attributes: 0x02, MaxPacketSize: 64})
	data := append(marshal(&ConfigurationDescriptor{TotalLength: uint16(9 + len(body))}), body...)
	if _, err := ParseConfiguration(data); !errors.Is(err, pkg.ErrProtocol) {
		t.Errorf("ParseConfiguration() error = %v, want %v", err, pkg.ErrProtocol)
	}
}

// platformCapability is a minimal platform capability entry.
func platformCapability() rawDescriptor {
	return rawDescriptor{8, DescriptorTypeDeviceCapability, CapabilityPlatform, 0, 1, 2, 3, 4}
}

func TestParseBOSDescriptor(t *testing.T) {
	caps := marshal(
		rawDescriptor{7, DescriptorTypeDeviceCapability, CapabilityUSB20Extension, 0, 0, 0, 0},
		platformCapability(),
	)
	data := append(marshal(&BOSDescriptor{TotalLength: uint16(5 + len(caps)), NumDeviceCaps: 2}), caps...)

	var bos BOSDescriptor
	got, err := ParseBOSDescriptor(data, &bos)
	if err != nil {
		t.Fatalf("ParseBOSDescriptor() error = %v", err)
	}
	if diff := cmp.Diff([]uint8{CapabilityUSB20Extension, CapabilityPlatform}, got); diff != "" {
		t.Errorf("capabilities mismatch (-want +got):\n%s", diff)
	}
	if bos.TotalLength != 20 || bos.NumDeviceCaps != 2 {
		t.Errorf("header = %+v", bos)
	}
}

func TestParseBOSDescriptor_Errors(t *testing.T) {
	build := func(numCaps uint8, total int, caps ...marshaler) []byte {
		body := marshal(caps...)
		return append(marshal(&BOSDescriptor{TotalLength: uint16(total), NumDeviceCaps: numCaps}), body...)
	}
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"wrong type", marshal(&ConfigurationDescriptor{TotalLength: 9}), pkg.ErrDescriptorTypeMismatch},
		{"too few capabilities", build(2, 13, platformCapability()), pkg.ErrProtocol},
		{"too many capabilities", build(0, 13, platformCapability()), pkg.ErrProtocol},
		{"length mismatch", build(1, 20, platformCapability()), pkg.ErrProtocol},
		{"non-capability entry", build(1, 12, &EndpointDescriptor{}), pkg.ErrDescriptorTypeMismatch},
		{"header only", []byte{5, DescriptorTypeBOS, 5}, pkg.ErrDescriptorTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var bos BOSDescriptor
			if _, err := ParseBOSDescriptor(tt.data, &bos); !errors.Is(err, tt.want) {
				t.Errorf("ParseBOSDescriptor() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStringDescriptorTo(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{"empty", "", []byte{2, 0x03}},
		{"ascii", "TiLDA", []byte{12, 0x03, 'T', 0, 'i', 0, 'L', 0, 'D', 0, 'A', 0}},
		{"BMP", "日本", []byte{6, 0x03, 0xE5, 0x65, 0x2C, 0x67}},
		{"surrogate pair", "A\U0001F4E1", []byte{8, 0x03, 'A', 0, 0x3D, 0xD8, 0xE1, 0xDC}},
		{"invalid UTF-8", "\xff", []byte{4, 0x03, 0xFD, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [256]byte
			n := StringDescriptorTo(buf[:], tt.input)
			if !bytes.Equal(buf[:n], tt.want) {
				t.Errorf("StringDescriptorTo = % X, want % X", buf[:n], tt.want)
			}
		})
	}
}

func TestStringDescriptorTo_MaxLength(t *testing.T) {
	var buf [256]byte
	n := StringDescriptorTo(buf[:], string(bytes.Repeat([]byte{'A'}, 300)))
	if n != 254 || buf[0] != 254 {
		t.Errorf("length = %d, bLength = %d, want 254", n, buf[0])
	}

	// A surrogate pair that would straddle the limit is dropped whole.
	s := string(bytes.Repeat([]byte{'A'}, maxStringUnits-1)) + "\U0001F4E1"
	if n := StringDescriptorTo(buf[:], s); n != 2+(maxStringUnits-1)*2 {
		t.Errorf("length = %d, want %d", n, 2+(maxStringUnits-1)*2)
	}
}

func TestStringDescriptorTo_BufferTooSmall(t *testing.T) {
	var buf [4]byte
	if n := StringDescriptorTo(buf[:], "Hello"); n != 0 {
		t.Errorf("StringDescriptorTo() = %d, want 0", n)
	}
}

func TestLanguageDescriptorTo(t *testing.T) {
	var buf [4]byte
	n := LanguageDescriptorTo(buf[:], LangIDUSEnglish)
	if want := []byte{4, 0x03, 0x09, 0x04}; !bytes.Equal(buf[:n], want) {
		t.Errorf("LanguageDescriptorTo = % X, want % X", buf[:n], want)
	}
	if n := LanguageDescriptorTo(buf[:], 0x0409, 0x0407); n != 0 {
		t.Errorf("LanguageDescriptorTo(two languages, 4-byte buffer) = %d, want 0", n)
	}
}
