// Package firmware assembles the bridge's composite USB device: a CDC-ACM
// port on interfaces 0 and 1 and the WebUSB serial class on interfaces 2
// and 3, both presented to the bridge as stream ports.
package firmware

import (
	"fmt"

	"github.com/emfcamp/tildabridge/bridge"
	"github.com/emfcamp/tildabridge/device"
	"github.com/emfcamp/tildabridge/device/class/cdc"
	"github.com/emfcamp/tildabridge/device/class/webusb"
	"github.com/emfcamp/tildabridge/device/hal"
	"github.com/emfcamp/tildabridge/internal/config"
)

// Interface names used in logs and metrics.
const (
	InterfaceCDC    = "cdc"
	InterfaceWebUSB = "webusb"
)

// Firmware is the assembled device and its serial ports.
type Firmware struct {
	Device *device.Device
	ACM    *cdc.ACM
	WebUSB *webusb.Class

	CDCPort    *cdc.Port
	WebUSBPort *cdc.Port
}

// Assemble allocates both classes on bus in interface order and builds the
// device from cfg. serial is the USB serial number string.
func Assemble(bus hal.Bus, cfg config.Config, serial string) (*Firmware, error) {
	alloc := device.NewAllocator(bus)
	mps := cfg.USB.PacketSize

	acm := cdc.NewACM(alloc, mps)
	web, err := webusb.New(alloc, mps,
		webusb.WithLandingPage(cfg.WebUSB.LandingPage),
		webusb.WithInterfaceGUID(cfg.WebUSB.InterfaceGUID),
	)
	if err != nil {
		return nil, fmt.Errorf("webusb class: %w", err)
	}

	dev, err := device.NewDeviceBuilder(alloc, cfg.USB.VendorID, cfg.USB.ProductID).
		WithStrings(cfg.USB.Manufacturer, cfg.USB.Product, serial).
		WithDeviceClass(device.ClassMisc, device.SubClassCommon, device.ProtocolIAD).
		WithMaxPower(cfg.USB.MaxPowerMA).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build device: %w", err)
	}

	return &Firmware{
		Device:     dev,
		ACM:        acm,
		WebUSB:     web,
		CDCPort:    cdc.NewPort(acm),
		WebUSBPort: cdc.NewPort(web),
	}, nil
}

// Classes returns the ports in the order they are polled and described.
func (f *Firmware) Classes() []device.Class {
	return []device.Class{f.CDCPort, f.WebUSBPort}
}

// Interfaces returns the ports as bridge interfaces.
func (f *Firmware) Interfaces() []bridge.Interface {
	return []bridge.Interface{
		{Name: InterfaceCDC, Port: f.CDCPort},
		{Name: InterfaceWebUSB, Port: f.WebUSBPort},
	}
}
