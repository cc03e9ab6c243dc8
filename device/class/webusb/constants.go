package webusb

// WebUSB vendor request and descriptor codes.
const (
	VendorCodeWebUSB  = 0x42 // bVendorCode advertised in the WebUSB capability
	RequestGetURL     = 0x02 // wIndex of a GET_URL request
	DescriptorTypeURL = 0x03
	LandingPageIndex  = 1 // iLandingPage
	WebUSBVersion     = 0x0100
)

// URL scheme prefixes.
const (
	SchemeHTTP  = 0x00 // "http://"
	SchemeHTTPS = 0x01 // "https://"
	SchemeOther = 0xFF // URL carries its own scheme
)

// MaxURLLength is the longest URL body a URL descriptor can carry.
const MaxURLLength = 255 - 3

// Microsoft OS 2.0 vendor request and descriptor codes.
const (
	VendorCodeMSOS          = 0x43 // bMS_VendorCode advertised in the MS OS 2.0 capability
	RequestGetDescriptorSet = 0x07 // wIndex of a GET_DESCRIPTOR_SET request
	MSOSWindowsVersion      = 0x06030000

	msosSetHeader        = 0x00
	msosSubsetConfig     = 0x01
	msosSubsetFunction   = 0x02
	msosFeatureCompatID  = 0x03
	msosFeatureRegProp   = 0x04
	msosPropertyMultiSz  = 0x07
	msosHeaderSize       = 10
	msosSubsetHeaderSize = 8
	msosCompatIDSize     = 20
	msosRegPropFixedSize = 10
)

// MSOSDescriptorSetLength is the wTotalLength of the MS OS 2.0 descriptor
// set, also advertised in the platform capability.
const MSOSDescriptorSetLength = 0xB2

// GUIDLength is the length of an interface GUID in registry form, braces
// included.
const GUIDLength = 38

// Defaults used when no option overrides them.
const (
	DefaultLandingPage   = "https://tide.emfcamp.org"
	DefaultInterfaceGUID = "{f37ccce8-a70f-492a-acfb-cf2b2dab56a3}"
)

// Vendor-specific interface classes. The data interface uses subclass 1 so
// hosts can tell the two apart.
const (
	ClassVendor  = 0xFF
	SubclassComm = 0x00
	SubclassData = 0x01
	ProtocolNone = 0x00
)

// registryPropertyName is ASCII, so its UTF-16 length is twice its length.
const registryPropertyName = "DeviceInterfaceGUIDs\x00"

// Platform capability UUIDs in wire byte order.
var (
	webUSBPlatformUUID = [16]byte{
		0x38, 0xB6, 0x08, 0x34, 0xA9, 0x09, 0xA0, 0x47,
		0x8B, 0xFD, 0xA0, 0x76, 0x88, 0x15, 0xB6, 0x65,
	}
	msosPlatformUUID = [16]byte{
		0xDF, 0x60, 0xDD, 0xD8, 0x89, 0x45, 0xC7, 0x4C,
		0x9C, 0xD2, 0x65, 0x9D, 0x9E, 0x64, 0x8A, 0x9F,
	}
)
