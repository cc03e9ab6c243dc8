package device

import (
	"encoding/binary"

	"github.com/emfcamp/tildabridge/pkg"
)

// StandardRequestHandler handles standard USB device requests that no
// class resolved.
type StandardRequestHandler struct {
	device *Device
}

// HandleSetup processes a standard SETUP request. Device-to-host responses
// are written into buf; the returned count is the response length.
func (h *StandardRequestHandler) HandleSetup(setup *SetupPacket, buf []byte, classes []Class) (int, error) {
	if !setup.IsStandard() {
		return 0, pkg.ErrInvalidRequest
	}

	switch setup.Recipient() {
	case RecipientDevice:
		return h.handleDeviceRequest(setup, buf, classes)
	case RecipientInterface:
		return h.handleInterfaceRequest(setup, buf)
	case RecipientEndpoint:
		return h.handleEndpointRequest(setup, buf)
	default:
		return 0, pkg.ErrInvalidRequest
	}
}

// handleDeviceRequest handles device-level standard requests.
func (h *StandardRequestHandler) handleDeviceRequest(setup *SetupPacket, buf []byte, classes []Class) (int, error) {
	switch setup.Request {
	case RequestGetStatus:
		return h.getDeviceStatus(setup, buf)
	case RequestClearFeature:
		return 0, h.setDeviceFeature(setup, false)
	case RequestSetFeature:
		return 0, h.setDeviceFeature(setup, true)
	case RequestSetAddress:
		return 0, h.device.SetAddress(uint8(setup.Value & 0x7F))
	case RequestGetDescriptor:
		return h.getDescriptor(setup, buf, classes)
	case RequestGetConfiguration:
		return h.getConfiguration(setup, buf)
	case RequestSetConfiguration:
		return 0, h.device.SetConfiguration(uint8(setup.Value & 0xFF))
	default:
		return 0, pkg.ErrInvalidRequest
	}
}

// handleInterfaceRequest handles interface-level standard requests.
func (h *StandardRequestHandler) handleInterfaceRequest(setup *SetupPacket, buf []byte) (int, error) {
	if !h.device.IsConfigured() || int(setup.InterfaceNumber()) >= h.device.numInterfaces {
		return 0, pkg.ErrInvalidRequest
	}

	switch setup.Request {
	case RequestGetStatus:
		// Interface status is reserved (zero)
		if setup.Length < 2 || len(buf) < 2 {
			return 0, pkg.ErrInvalidRequest
		}
		buf[0], buf[1] = 0, 0
		return 2, nil
	case RequestGetInterface:
		if len(buf) < 1 {
			return 0, pkg.ErrBufferTooSmall
		}
		buf[0] = 0
		return 1, nil
	case RequestSetInterface:
		// Only alternate setting 0 exists
		if setup.Value != 0 {
			return 0, pkg.ErrInvalidRequest
		}
		return 0, nil
	default:
		return 0, pkg.ErrInvalidRequest
	}
}

// handleEndpointRequest handles endpoint-level standard requests.
func (h *StandardRequestHandler) handleEndpointRequest(setup *SetupPacket, buf []byte) (int, error) {
	addr := setup.EndpointAddress()
	if !h.device.hasEndpoint(addr) {
		return 0, pkg.ErrInvalidEndpoint
	}

	switch setup.Request {
	case RequestGetStatus:
		if setup.Length < 2 || len(buf) < 2 {
			return 0, pkg.ErrInvalidRequest
		}
		var status uint16
		if h.device.IsEndpointHalted(addr) {
			status = 1 // Halt bit
		}
		binary.LittleEndian.PutUint16(buf[:2], status)
		return 2, nil
	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureEndpointHalt || EndpointNumber(addr) == 0 {
			return 0, pkg.ErrInvalidRequest
		}
		return 0, h.device.SetEndpointHalt(addr, setup.Request == RequestSetFeature)
	default:
		return 0, pkg.ErrInvalidRequest
	}
}

// getDeviceStatus returns device status (2 bytes).
func (h *StandardRequestHandler) getDeviceStatus(setup *SetupPacket, buf []byte) (int, error) {
	if setup.Length < 2 || len(buf) < 2 {
		return 0, pkg.ErrInvalidRequest
	}
	binary.LittleEndian.PutUint16(buf[:2], uint16(h.device.Status()))
	return 2, nil
}

// setDeviceFeature sets or clears a device feature.
func (h *StandardRequestHandler) setDeviceFeature(setup *SetupPacket, enable bool) error {
	switch setup.Value {
	case FeatureDeviceRemoteWakeup:
		if h.device.attributes&ConfigAttrRemoteWakeup == 0 {
			return pkg.ErrNotSupported
		}
		h.device.remoteWakeupEnabled = enable
		return nil
	case FeatureTestMode:
		return pkg.ErrNotSupported
	default:
		return pkg.ErrInvalidRequest
	}
}

// getDescriptor handles GET_DESCRIPTOR request.
func (h *StandardRequestHandler) getDescriptor(setup *SetupPacket, buf []byte, classes []Class) (int, error) {
	descIndex := setup.DescriptorIndex()

	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		n := h.device.Descriptor.MarshalTo(buf)
		if n == 0 {
			return 0, pkg.ErrBufferTooSmall
		}
		return n, nil

	case DescriptorTypeConfiguration:
		if descIndex != 0 {
			return 0, pkg.ErrInvalidRequest
		}
		return h.device.ConfigurationDescriptorTo(buf, classes)

	case DescriptorTypeString:
		data := h.device.StringDescriptor(descIndex)
		if data == nil {
			return 0, pkg.ErrInvalidRequest
		}
		if len(buf) < len(data) {
			return 0, pkg.ErrBufferTooSmall
		}
		return copy(buf, data), nil

	case DescriptorTypeBOS:
		if h.device.Descriptor.USBVersion < 0x0201 {
			return 0, pkg.ErrNotSupported
		}
		return h.device.BOSDescriptorTo(buf, classes)

	case DescriptorTypeDeviceQualifier:
		// Only high-speed capable devices answer
		if h.device.Speed() != SpeedHigh {
			return 0, pkg.ErrNotSupported
		}
		return h.deviceQualifierTo(buf)

	default:
		return 0, pkg.ErrInvalidRequest
	}
}

// deviceQualifierTo writes the device qualifier descriptor to buf.
func (h *StandardRequestHandler) deviceQualifierTo(buf []byte) (int, error) {
	if len(buf) < 10 {
		return 0, pkg.ErrBufferTooSmall
	}
	desc := &h.device.Descriptor
	buf[0] = 10 // Length
	buf[1] = DescriptorTypeDeviceQualifier
	binary.LittleEndian.PutUint16(buf[2:4], desc.USBVersion)
	buf[4] = desc.DeviceClass
	buf[5] = desc.DeviceSubClass
	buf[6] = desc.DeviceProtocol
	buf[7] = desc.MaxPacketSize0
	buf[8] = desc.NumConfigurations
	buf[9] = 0 // Reserved
	return 10, nil
}

// getConfiguration handles GET_CONFIGURATION request.
func (h *StandardRequestHandler) getConfiguration(setup *SetupPacket, buf []byte) (int, error) {
	if setup.Length < 1 || len(buf) < 1 {
		return 0, pkg.ErrInvalidRequest
	}
	buf[0] = h.device.Configuration()
	return 1, nil
}
