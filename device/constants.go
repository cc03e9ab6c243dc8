package device

import (
	"fmt"

	"github.com/emfcamp/tildabridge/device/hal"
)

// Maximum limits for fixed-size arrays (zero-allocation support).
const (
	// MaxStrings is the maximum number of string descriptors per device.
	MaxStrings = 8

	// MaxControlDataSize is the maximum data stage of a control transfer.
	MaxControlDataSize = 256

	// MaxDescriptorResponseSize is the size of the buffer configuration and
	// BOS descriptors are assembled in.
	MaxDescriptorResponseSize = 512

	// ConfigurationValue is the bConfigurationValue of the single
	// configuration the device exposes.
	ConfigurationValue = 1
)

// Speed is the bus speed reported by the HAL.
type Speed = hal.Speed

const (
	SpeedLow  = hal.SpeedLow
	SpeedFull = hal.SpeedFull
	SpeedHigh = hal.SpeedHigh
)

// State is the USB device state (USB 2.0 section 9.1). Attached and
// Powered are not tracked; a device is in Default from its first reset.
type State uint8

const (
	StateDefault State = iota
	StateAddress
	StateConfigured
	StateSuspended
)

var stateNames = [...]string{"default", "address", "configured", "suspended"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}
