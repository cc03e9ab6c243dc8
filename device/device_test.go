package device

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/emfcamp/tildabridge/device/hal"
	"github.com/emfcamp/tildabridge/device/hal/loopback"
	"github.com/emfcamp/tildabridge/pkg"
)

// Vendor requests understood by testClass.
const (
	testRequestPing   = 0x01
	testRequestStore  = 0x02
	testRequestRefuse = 0x03
)

// testClass is a minimal vendor class with one bulk endpoint pair.
type testClass struct {
	iface InterfaceNumber
	in    *EndpointIn
	out   *EndpointOut

	resets     int
	inComplete int
	stored     []byte
	received   []byte
	rxBuf      [64]byte
}

func newTestClass(a *Allocator) *testClass {
	return &testClass{
		iface: a.Interface(),
		in:    a.BulkIn(64),
		out:   a.BulkOut(64),
	}
}

func (c *testClass) ConfigurationDescriptors(w *DescriptorWriter) error {
	if err := w.Interface(c.iface, ClassVendor, 0, 0); err != nil {
		return err
	}
	if err := w.Endpoint(c.in); err != nil {
		return err
	}
	return w.Endpoint(c.out)
}

func (c *testClass) BOSDescriptors(w *BOSWriter) error {
	return w.Capability(CapabilityPlatform, []byte{0xAA})
}

func (c *testClass) Reset() { c.resets++ }

func (c *testClass) ControlIn(xfer *ControlIn) {
	req := xfer.Request()
	if !req.IsVendor() {
		return
	}
	switch req.Request {
	case testRequestPing:
		xfer.AcceptWith([]byte("pong"))
	default:
		xfer.Reject()
	}
}

func (c *testClass) ControlOut(xfer *ControlOut) {
	req := xfer.Request()
	if !req.IsVendor() {
		return
	}
	switch req.Request {
	case testRequestStore:
		c.stored = append([]byte{}, xfer.Data()...)
		xfer.Accept()
	default:
		xfer.Reject()
	}
}

func (c *testClass) EndpointOut(address uint8) {
	if address != c.out.Address() {
		return
	}
	n, err := c.out.Read(c.rxBuf[:])
	if err == nil {
		c.received = append(c.received, c.rxBuf[:n]...)
	}
}

func (c *testClass) EndpointInComplete(address uint8) {
	if address == c.in.Address() {
		c.inComplete++
	}
}

var (
	_ Class           = (*testClass)(nil)
	_ BOSDescriber    = (*testClass)(nil)
	_ EndpointHandler = (*testClass)(nil)
)

func newTestDevice(t *testing.T) (*Device, *testClass, *loopback.Host) {
	t.Helper()
	bus := loopback.New()
	alloc := NewAllocator(bus)
	cls := newTestClass(alloc)
	dev, err := NewDeviceBuilder(alloc, 0xCAFE, 0xBABE).
		WithStrings("Acme", "Widget", "0001").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := dev.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	host := loopback.NewHost(bus, func() { dev.Poll(cls) })
	return dev, cls, host
}

func getDescriptor(descType, index uint8, length uint16) hal.SetupPacket {
	return DescriptorRequest(descType, index, length).HAL()
}

func TestDevice_Enumerate(t *testing.T) {
	dev, _, host := newTestDevice(t)

	cfg, err := host.Enumerate(5, ConfigurationValue)
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	want := []byte{
		9, DescriptorTypeConfiguration, 32, 0, 1, ConfigurationValue, 0, ConfigAttrBusPowered, 50,
		9, DescriptorTypeInterface, 0, 0, 2, ClassVendor, 0, 0, 0,
		7, DescriptorTypeEndpoint, 0x81, EndpointTypeBulk, 64, 0, 0,
		7, DescriptorTypeEndpoint, 0x01, EndpointTypeBulk, 64, 0, 0,
	}
	if !bytes.Equal(cfg, want) {
		t.Errorf("configuration descriptor =\n% X\nwant\n% X", cfg, want)
	}
	if got := host.Address(); got != 5 {
		t.Errorf("bus address = %d, want 5", got)
	}
	if got := dev.Address(); got != 5 {
		t.Errorf("Address() = %d, want 5", got)
	}
	if !dev.IsConfigured() {
		t.Errorf("State() = %v, want Configured", dev.State())
	}
}

func TestDevice_DeviceDescriptor(t *testing.T) {
	_, _, host := newTestDevice(t)
	host.Reset()

	data, err := host.Control(getDescriptor(DescriptorTypeDevice, 0, 18), nil)
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}

	var desc DeviceDescriptor
	if err := ParseDeviceDescriptor(data, &desc); err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	if desc.USBVersion != 0x0210 {
		t.Errorf("bcdUSB = 0x%04X, want 0x0210", desc.USBVersion)
	}
	if desc.VendorID != 0xCAFE || desc.ProductID != 0xBABE {
		t.Errorf("VID:PID = %04X:%04X, want CAFE:BABE", desc.VendorID, desc.ProductID)
	}
	if desc.SerialNumberIndex != StringIndexSerialNumber {
		t.Errorf("iSerialNumber = %d, want %d", desc.SerialNumberIndex, StringIndexSerialNumber)
	}
}

func TestDevice_DescriptorTruncatedToLength(t *testing.T) {
	_, _, host := newTestDevice(t)
	host.Reset()

	data, err := host.Control(getDescriptor(DescriptorTypeDevice, 0, 8), nil)
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}
	if len(data) != 8 {
		t.Errorf("len = %d, want 8", len(data))
	}
}

func TestDevice_StringDescriptor(t *testing.T) {
	_, _, host := newTestDevice(t)
	host.Reset()

	data, err := host.Control(getDescriptor(DescriptorTypeString, StringIndexProduct, 255), nil)
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}
	want := []byte{14, DescriptorTypeString, 'W', 0, 'i', 0, 'd', 0, 'g', 0, 'e', 0, 't', 0}
	if !bytes.Equal(data, want) {
		t.Errorf("product string = % X, want % X", data, want)
	}

	if _, err := host.Control(getDescriptor(DescriptorTypeString, 7, 255), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("missing string err = %v, want %v", err, pkg.ErrStall)
	}
}

func TestDevice_BOSDescriptor(t *testing.T) {
	_, _, host := newTestDevice(t)
	host.Reset()

	data, err := host.Control(getDescriptor(DescriptorTypeBOS, 0, 255), nil)
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}
	want := []byte{
		5, DescriptorTypeBOS, 16, 0, 2,
		7, DescriptorTypeDeviceCapability, CapabilityUSB20Extension, 0, 0, 0, 0,
		4, DescriptorTypeDeviceCapability, CapabilityPlatform, 0xAA,
	}
	if !bytes.Equal(data, want) {
		t.Errorf("BOS =\n% X\nwant\n% X", data, want)
	}
}

func TestDevice_ClassControlTransfers(t *testing.T) {
	_, cls, host := newTestDevice(t)
	host.Reset()

	s := VendorRequest(In, testRequestPing, 0, 0, 2)
	data, err := host.Control(s.HAL(), nil)
	if err != nil {
		t.Fatalf("ping error = %v", err)
	}
	if string(data) != "po" {
		t.Errorf("ping = %q, want %q", data, "po")
	}

	s = VendorRequest(Out, testRequestStore, 0, 0, 3)
	if _, err := host.Control(s.HAL(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("store error = %v", err)
	}
	if !bytes.Equal(cls.stored, []byte{1, 2, 3}) {
		t.Errorf("stored = %v, want [1 2 3]", cls.stored)
	}

	s = VendorRequest(Out, testRequestRefuse, 0, 0, 0)
	if _, err := host.Control(s.HAL(), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("refused request err = %v, want %v", err, pkg.ErrStall)
	}
}

func TestDevice_UnclaimedRequestStalls(t *testing.T) {
	_, _, host := newTestDevice(t)
	host.Reset()

	s := ClassRequest(In, 0, 0x21, 0, 7)
	if _, err := host.Control(s.HAL(), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("err = %v, want %v", err, pkg.ErrStall)
	}
}

func TestDevice_SetAddressAppliedAfterStatus(t *testing.T) {
	dev, _, host := newTestDevice(t)
	host.Reset()

	s := StandardRequest(RecipientDevice, RequestSetAddress, 7, 0, 0)
	if _, err := host.Control(s.HAL(), nil); err != nil {
		t.Fatalf("Control() error = %v", err)
	}
	if host.Address() != 7 {
		t.Errorf("bus address = %d, want 7", host.Address())
	}
	if dev.State() != StateAddress {
		t.Errorf("State() = %v, want Address", dev.State())
	}
}

func TestDevice_SetConfigurationInvalid(t *testing.T) {
	_, _, host := newTestDevice(t)
	if _, err := host.Enumerate(3, ConfigurationValue); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	s := StandardRequest(RecipientDevice, RequestSetConfiguration, 2, 0, 0)
	if _, err := host.Control(s.HAL(), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("err = %v, want %v", err, pkg.ErrStall)
	}

	s = StandardRequest(RecipientDevice, RequestGetConfiguration, 0, 0, 1)
	data, err := host.Control(s.HAL(), nil)
	if err != nil {
		t.Fatalf("GET_CONFIGURATION error = %v", err)
	}
	if !bytes.Equal(data, []byte{ConfigurationValue}) {
		t.Errorf("GET_CONFIGURATION = %v, want [%d]", data, ConfigurationValue)
	}
}

func TestDevice_ResetResetsClasses(t *testing.T) {
	dev, cls, host := newTestDevice(t)
	if _, err := host.Enumerate(5, ConfigurationValue); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	before := cls.resets

	host.Reset()
	if cls.resets != before+1 {
		t.Errorf("resets = %d, want %d", cls.resets, before+1)
	}
	if dev.State() != StateDefault {
		t.Errorf("State() = %v, want Default", dev.State())
	}
	if dev.Address() != 0 {
		t.Errorf("Address() = %d, want 0", dev.Address())
	}
}

func TestDevice_SuspendResume(t *testing.T) {
	dev, _, host := newTestDevice(t)
	if _, err := host.Enumerate(5, ConfigurationValue); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	host.Suspend()
	if dev.State() != StateSuspended {
		t.Errorf("State() = %v, want Suspended", dev.State())
	}
	host.Resume()
	if dev.State() != StateConfigured {
		t.Errorf("State() = %v, want Configured", dev.State())
	}
}

func TestDevice_BulkTransfers(t *testing.T) {
	dev, cls, host := newTestDevice(t)
	if _, err := host.Enumerate(5, ConfigurationValue); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	if err := host.Send(0x01, []byte("hello")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !dev.Poll(cls) {
		t.Error("Poll() = false with OUT data pending")
	}
	if string(cls.received) != "hello" {
		t.Errorf("received = %q, want %q", cls.received, "hello")
	}

	if _, err := cls.in.Write([]byte("world")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := cls.in.Write([]byte("again")); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("second Write() err = %v, want %v", err, pkg.ErrWouldBlock)
	}

	var buf [64]byte
	n, err := host.Receive(0x81, buf[:])
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(buf[:n]) != "world" {
		t.Errorf("Receive() = %q, want %q", buf[:n], "world")
	}
	dev.Poll(cls)
	if cls.inComplete != 1 {
		t.Errorf("inComplete = %d, want 1", cls.inComplete)
	}
}

func TestDevice_PollIdle(t *testing.T) {
	dev, cls, host := newTestDevice(t)
	if _, err := host.Enumerate(5, ConfigurationValue); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if dev.Poll(cls) {
		t.Error("Poll() = true with no events")
	}
}

func TestDevice_EndpointHalt(t *testing.T) {
	_, _, host := newTestDevice(t)
	if _, err := host.Enumerate(5, ConfigurationValue); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	s := StandardRequest(RecipientEndpoint, RequestSetFeature, FeatureEndpointHalt, 0x81, 0)
	if _, err := host.Control(s.HAL(), nil); err != nil {
		t.Fatalf("SET_FEATURE error = %v", err)
	}
	if !host.Stalled(0x81) {
		t.Error("endpoint 0x81 not stalled")
	}

	s = StandardRequest(RecipientEndpoint, RequestGetStatus, 0, 0x81, 2)
	data, err := host.Control(s.HAL(), nil)
	if err != nil {
		t.Fatalf("GET_STATUS error = %v", err)
	}
	if !bytes.Equal(data, []byte{1, 0}) {
		t.Errorf("GET_STATUS = %v, want [1 0]", data)
	}

	s = StandardRequest(RecipientEndpoint, RequestClearFeature, FeatureEndpointHalt, 0x81, 0)
	if _, err := host.Control(s.HAL(), nil); err != nil {
		t.Fatalf("CLEAR_FEATURE error = %v", err)
	}
	if host.Stalled(0x81) {
		t.Error("endpoint 0x81 still stalled")
	}

	s = StandardRequest(RecipientEndpoint, RequestGetStatus, 0, 0x85, 2)
	if _, err := host.Control(s.HAL(), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("unknown endpoint err = %v, want %v", err, pkg.ErrStall)
	}
}

func TestDevice_InterfaceRequests(t *testing.T) {
	_, _, host := newTestDevice(t)
	if _, err := host.Enumerate(5, ConfigurationValue); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	s := StandardRequest(RecipientInterface, RequestGetInterface, 0, 0, 1)
	data, err := host.Control(s.HAL(), nil)
	if err != nil {
		t.Fatalf("GET_INTERFACE error = %v", err)
	}
	if !bytes.Equal(data, []byte{0}) {
		t.Errorf("GET_INTERFACE = %v, want [0]", data)
	}

	s = StandardRequest(RecipientInterface, RequestSetInterface, 1, 0, 0)
	if _, err := host.Control(s.HAL(), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SET_INTERFACE alt 1 err = %v, want %v", err, pkg.ErrStall)
	}

	s = StandardRequest(RecipientInterface, RequestGetInterface, 0, 4, 1)
	if _, err := host.Control(s.HAL(), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("GET_INTERFACE 4 err = %v, want %v", err, pkg.ErrStall)
	}
}

func TestDevice_GetStatus(t *testing.T) {
	_, _, host := newTestDevice(t)
	host.Reset()

	s := StandardRequest(RecipientDevice, RequestGetStatus, 0, 0, 2)
	data, err := host.Control(s.HAL(), nil)
	if err != nil {
		t.Fatalf("GET_STATUS error = %v", err)
	}
	if !bytes.Equal(data, []byte{0, 0}) {
		t.Errorf("GET_STATUS = %v, want [0 0]", data)
	}

	s = StandardRequest(RecipientDevice, RequestSetFeature, FeatureDeviceRemoteWakeup, 0, 0)
	if _, err := host.Control(s.HAL(), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("remote wakeup err = %v, want %v", err, pkg.ErrStall)
	}
}

func TestDeviceBuilder_Errors(t *testing.T) {
	tests := []struct {
		name  string
		build func(a *Allocator) *DeviceBuilder
		want  error
	}{
		{
			name: "max power",
			build: func(a *Allocator) *DeviceBuilder {
				return NewDeviceBuilder(a, 1, 2).WithMaxPower(600)
			},
			want: pkg.ErrInvalidParameter,
		},
		{
			name: "ep0 size",
			build: func(a *Allocator) *DeviceBuilder {
				return NewDeviceBuilder(a, 1, 2).WithMaxPacketSize0(12)
			},
			want: pkg.ErrInvalidParameter,
		},
		{
			name: "bulk size",
			build: func(a *Allocator) *DeviceBuilder {
				a.BulkIn(512)
				return NewDeviceBuilder(a, 1, 2)
			},
			want: pkg.ErrInvalidParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build(NewAllocator(loopback.New())).Build()
			if !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDeviceBuilder_Attributes(t *testing.T) {
	dev, err := NewDeviceBuilder(NewAllocator(loopback.New()), 1, 2).
		WithSelfPowered(true).
		WithMaxPower(500).
		WithDeviceClass(ClassMisc, SubClassCommon, ProtocolIAD).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var buf [ConfigurationDescriptorSize]byte
	n, err := dev.ConfigurationDescriptorTo(buf[:], nil)
	if err != nil {
		t.Fatalf("ConfigurationDescriptorTo() error = %v", err)
	}
	cfg, err := ParseConfiguration(buf[:n])
	if err != nil {
		t.Fatalf("ParseConfiguration() error = %v", err)
	}
	if cfg.Attributes != ConfigAttrBusPowered|ConfigAttrSelfPowered {
		t.Errorf("bmAttributes = 0x%02X, want 0xC0", cfg.Attributes)
	}
	if cfg.MaxPower != 250 {
		t.Errorf("bMaxPower = %d, want 250", cfg.MaxPower)
	}
	if dev.Status() != DeviceStatusSelfPowered {
		t.Errorf("Status() = %d, want %d", dev.Status(), DeviceStatusSelfPowered)
	}
	if dev.Descriptor.DeviceClass != ClassMisc {
		t.Errorf("bDeviceClass = 0x%02X, want 0x%02X", dev.Descriptor.DeviceClass, ClassMisc)
	}
}
