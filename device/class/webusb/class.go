package webusb

import (
	"encoding/binary"
	"strings"

	"github.com/emfcamp/tildabridge/device"
	"github.com/emfcamp/tildabridge/device/class/cdc"
	"github.com/emfcamp/tildabridge/pkg"
)

// Class is a CDC-compatible serial function with vendor-specific interface
// classes, so that browsers can claim it through WebUSB and Windows binds
// WinUSB to it without an INF file.
//
// Line coding and control line requests behave as for a CDC-ACM port.
// Vendor requests with the WebUSB or Microsoft OS 2.0 vendor code are
// answered regardless of recipient. The class is packet-level; wrap it in
// a cdc.Port for stream semantics.
type Class struct {
	cdc.Function
	cdc.Line

	landingPage string
	guid        string

	url    [255]byte
	urlLen int
}

// Option configures a Class.
type Option func(*Class)

// WithLandingPage sets the URL returned for the landing page descriptor.
func WithLandingPage(url string) Option {
	return func(c *Class) { c.landingPage = url }
}

// WithInterfaceGUID sets the DeviceInterfaceGUIDs registry property. guid
// must be in registry form, e.g. "{f37ccce8-a70f-492a-acfb-cf2b2dab56a3}".
func WithInterfaceGUID(guid string) Option {
	return func(c *Class) { c.guid = guid }
}

// New allocates the class with bulk endpoints of maxPacketSize bytes. For
// full-speed devices maxPacketSize must be 8, 16, 32 or 64.
func New(alloc *device.Allocator, maxPacketSize uint16, opts ...Option) (*Class, error) {
	c := &Class{
		Function:    cdc.NewFunction(alloc, maxPacketSize),
		Line:        cdc.NewLine(),
		landingPage: DefaultLandingPage,
		guid:        DefaultInterfaceGUID,
	}
	for _, opt := range opts {
		opt(c)
	}

	if !ValidGUID(c.guid) {
		return nil, pkg.ErrInvalidParameter
	}
	n, ok := urlDescriptorTo(c.url[:], c.landingPage)
	if !ok {
		return nil, pkg.ErrInvalidParameter
	}
	c.urlLen = n
	return c, nil
}

// LandingPage returns the landing page URL.
func (c *Class) LandingPage() string { return c.landingPage }

// InterfaceGUID returns the interface GUID advertised to Windows.
func (c *Class) InterfaceGUID() string { return c.guid }

// ValidGUID reports whether guid is a GUID in registry form.
func ValidGUID(guid string) bool {
	if len(guid) != GUIDLength || guid[0] != '{' || guid[GUIDLength-1] != '}' {
		return false
	}
	for i, ch := range guid[1 : GUIDLength-1] {
		switch i {
		case 8, 13, 18, 23:
			if ch != '-' {
				return false
			}
			continue
		}
		if !strings.ContainsRune("0123456789abcdefABCDEF", ch) {
			return false
		}
	}
	return true
}

// ParseURL splits url into its URL descriptor scheme code and the body
// written after it.
func ParseURL(url string) (scheme uint8, body string) {
	if rest, ok := strings.CutPrefix(url, "https://"); ok {
		return SchemeHTTPS, rest
	}
	if rest, ok := strings.CutPrefix(url, "http://"); ok {
		return SchemeHTTP, rest
	}
	return SchemeOther, url
}

// urlDescriptorTo writes the URL descriptor for url. bLength counts the
// three header bytes and the URL body; there is no terminator.
func urlDescriptorTo(buf []byte, url string) (int, bool) {
	scheme, body := ParseURL(url)
	if len(body) > MaxURLLength || len(buf) < 3+len(body) {
		return 0, false
	}
	buf[0] = uint8(3 + len(body))
	buf[1] = DescriptorTypeURL
	buf[2] = scheme
	copy(buf[3:], body)
	return 3 + len(body), true
}

// URLDescriptor returns the landing page URL descriptor.
func (c *Class) URLDescriptor() []byte {
	return c.url[:c.urlLen]
}

// ConfigurationDescriptors writes the vendor-specific communications
// interface with its CDC functional descriptors, then the data interface.
func (c *Class) ConfigurationDescriptors(w *device.DescriptorWriter) error {
	return c.WriteDescriptors(w, cdc.InterfaceClasses{
		Comm:         ClassVendor,
		CommSubClass: SubclassComm,
		CommProtocol: ProtocolNone,
		Data:         ClassVendor,
		DataSubClass: SubclassData,
	})
}

// BOSDescriptors writes the WebUSB and Microsoft OS 2.0 platform
// capabilities.
func (c *Class) BOSDescriptors(w *device.BOSWriter) error {
	var buf [25]byte

	db := NewDescriptorBuilder(buf[:])
	db.Write([]byte{0}) // bReserved
	db.Write(webUSBPlatformUUID[:])
	db.WriteU16(WebUSBVersion)
	db.Write([]byte{VendorCodeWebUSB, LandingPageIndex})
	if err := w.Capability(device.CapabilityPlatform, db.Bytes()); err != nil {
		return err
	}

	db = NewDescriptorBuilder(buf[:])
	db.Write([]byte{0})
	db.Write(msosPlatformUUID[:])
	db.WriteU32(MSOSWindowsVersion)
	db.WriteU16(MSOSDescriptorSetLength)
	db.Write([]byte{VendorCodeMSOS, 0}) // bMS_VendorCode, bAltEnumCode
	return w.Capability(device.CapabilityPlatform, db.Bytes())
}

// MSOSDescriptorSetTo writes the Microsoft OS 2.0 descriptor set into buf
// and returns its length. The set holds one configuration subset with one
// function subset for the communications interface, declaring WinUSB
// compatibility and the interface GUID. It panics if buf is shorter than
// MSOSDescriptorSetLength.
func (c *Class) MSOSDescriptorSetTo(buf []byte) int {
	nameLen := 2 * len(registryPropertyName)
	// Two terminators: REG_MULTI_SZ ends with an empty string
	valueLen := 2 * (len(c.guid) + 2)
	propLen := msosRegPropFixedSize + nameLen + valueLen
	functionLen := msosSubsetHeaderSize + msosCompatIDSize + propLen
	configLen := msosSubsetHeaderSize + functionLen
	totalLen := msosHeaderSize + configLen

	db := NewDescriptorBuilder(buf)

	db.WriteU16(msosHeaderSize)
	db.WriteU16(msosSetHeader)
	db.WriteU32(MSOSWindowsVersion)
	db.WriteU16(uint16(totalLen))

	db.WriteU16(msosSubsetHeaderSize)
	db.WriteU16(msosSubsetConfig)
	db.Write([]byte{0, 0}) // bConfigurationValue (index), bReserved
	db.WriteU16(uint16(configLen))

	db.WriteU16(msosSubsetHeaderSize)
	db.WriteU16(msosSubsetFunction)
	db.Write([]byte{uint8(c.CommInterface()), 0})
	db.WriteU16(uint16(functionLen))

	db.WriteU16(msosCompatIDSize)
	db.WriteU16(msosFeatureCompatID)
	db.Write([]byte("WINUSB\x00\x00"))
	var subCompatibleID [8]byte
	db.Write(subCompatibleID[:])

	db.WriteU16(uint16(propLen))
	db.WriteU16(msosFeatureRegProp)
	db.WriteU16(msosPropertyMultiSz)
	db.WriteU16(uint16(nameLen))
	db.WriteUTF16(registryPropertyName)
	db.WriteU16(uint16(valueLen))
	db.WriteUTF16(c.guid + "\x00\x00")

	return db.Position()
}

// AdvertisedSetLength scans a BOS descriptor for the Microsoft OS 2.0
// platform capability and returns the descriptor set length it declares.
func AdvertisedSetLength(bos []byte) (int, bool) {
	if len(bos) < 5 {
		return 0, false
	}
	for pos := int(bos[0]); pos+2 < len(bos); {
		size := int(bos[pos])
		if size == 0 || pos+size > len(bos) {
			return 0, false
		}
		capability := bos[pos : pos+size]
		if capability[2] == device.CapabilityPlatform && size >= 28 &&
			string(capability[4:20]) == string(msosPlatformUUID[:]) {
			return int(binary.LittleEndian.Uint16(capability[24:26])), true
		}
		pos += size
	}
	return 0, false
}

// Reset restores the line state.
func (c *Class) Reset() {
	c.Line.Reset()
	pkg.LogDebug(pkg.ComponentClass, "WebUSB reset", "interface", c.CommInterface())
}

// ControlIn answers class requests addressed to the communications
// interface and the WebUSB and Microsoft OS 2.0 vendor requests. Other
// requests are left for other classes.
func (c *Class) ControlIn(xfer *device.ControlIn) {
	req := xfer.Request()
	if !req.IsVendor() {
		if c.IsCommRequest(req) {
			c.Line.ControlIn(xfer)
		}
		return
	}

	switch req.Request {
	case VendorCodeWebUSB:
		if req.Index != RequestGetURL || req.Value != LandingPageIndex {
			pkg.LogDebug(pkg.ComponentClass, "unsupported WebUSB request", "request", req.String())
			xfer.Reject()
			return
		}
		xfer.AcceptWith(c.URLDescriptor())

	case VendorCodeMSOS:
		if req.Index != RequestGetDescriptorSet {
			pkg.LogDebug(pkg.ComponentClass, "unsupported MS OS 2.0 request", "request", req.String())
			xfer.Reject()
			return
		}
		var set [MSOSDescriptorSetLength]byte
		n := c.MSOSDescriptorSetTo(set[:])
		xfer.AcceptWith(set[:n])
	}
}

// ControlOut handles class requests addressed to the communications
// interface. SEND_BREAK is rejected.
func (c *Class) ControlOut(xfer *device.ControlOut) {
	if !c.IsCommRequest(xfer.Request()) {
		return
	}
	c.Line.ControlOut(xfer)
}

// Compile-time interface checks
var (
	_ device.Class        = (*Class)(nil)
	_ device.BOSDescriber = (*Class)(nil)
	_ cdc.SerialClass     = (*Class)(nil)
)
