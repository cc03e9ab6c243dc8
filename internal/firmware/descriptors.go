package firmware

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/emfcamp/tildabridge/device"
	"github.com/emfcamp/tildabridge/device/class/webusb"
	"github.com/emfcamp/tildabridge/pkg"
)

// Descriptors are the descriptors a host reads from the device.
type Descriptors struct {
	Device        []byte
	Configuration []byte
	BOS           []byte
	MSOSSet       []byte
}

// Descriptors renders the device, configuration, BOS and Microsoft OS 2.0
// descriptors as the device would send them.
func (f *Firmware) Descriptors() (Descriptors, error) {
	var d Descriptors
	buf := make([]byte, device.MaxDescriptorResponseSize)

	n := f.Device.Descriptor.MarshalTo(buf)
	d.Device = append([]byte(nil), buf[:n]...)

	n, err := f.Device.ConfigurationDescriptorTo(buf, f.Classes())
	if err != nil {
		return d, fmt.Errorf("configuration descriptor: %w", err)
	}
	d.Configuration = append([]byte(nil), buf[:n]...)

	n, err = f.Device.BOSDescriptorTo(buf, f.Classes())
	if err != nil {
		return d, fmt.Errorf("BOS descriptor: %w", err)
	}
	d.BOS = append([]byte(nil), buf[:n]...)

	n = f.WebUSB.MSOSDescriptorSetTo(buf)
	d.MSOSSet = append([]byte(nil), buf[:n]...)
	return d, nil
}

// Check parses the descriptors the way a host does and verifies the
// composite layout the bridge depends on. Windows ignores the MS OS 2.0
// set when its length differs from the one the BOS descriptor advertises.
func (d Descriptors) Check() error {
	if err := d.checkDevice(); err != nil {
		return err
	}
	if err := d.checkConfiguration(); err != nil {
		return err
	}
	return d.checkBOS()
}

func (d Descriptors) checkDevice() error {
	var dev device.DeviceDescriptor
	if err := device.ParseDeviceDescriptor(d.Device, &dev); err != nil {
		return fmt.Errorf("device descriptor: %w", err)
	}
	if dev.NumConfigurations != 1 {
		return fmt.Errorf("device has %d configurations: %w", dev.NumConfigurations, pkg.ErrProtocol)
	}
	if dev.DeviceClass != device.ClassMisc || dev.DeviceSubClass != device.SubClassCommon || dev.DeviceProtocol != device.ProtocolIAD {
		return fmt.Errorf("device class %02x/%02x/%02x does not announce IADs: %w",
			dev.DeviceClass, dev.DeviceSubClass, dev.DeviceProtocol, pkg.ErrProtocol)
	}
	return nil
}

// checkConfiguration requires interfaces numbered from zero in order and
// association descriptors that stay within them without overlapping.
func (d Descriptors) checkConfiguration() error {
	cfg, err := device.ParseConfiguration(d.Configuration)
	if err != nil {
		return fmt.Errorf("configuration descriptor: %w", err)
	}
	for i, iface := range cfg.Interfaces {
		if int(iface.InterfaceNumber) != i {
			return fmt.Errorf("interface %d at position %d: %w", iface.InterfaceNumber, i, pkg.ErrProtocol)
		}
	}
	grouped := make([]bool, len(cfg.Interfaces))
	for _, iad := range cfg.Associations {
		first, end := int(iad.FirstInterface), int(iad.FirstInterface)+int(iad.InterfaceCount)
		if iad.InterfaceCount == 0 || end > len(grouped) {
			return fmt.Errorf("association %d+%d outside %d interfaces: %w",
				first, iad.InterfaceCount, len(grouped), pkg.ErrProtocol)
		}
		for i := first; i < end; i++ {
			if grouped[i] {
				return fmt.Errorf("interface %d in two associations: %w", i, pkg.ErrProtocol)
			}
			grouped[i] = true
		}
	}
	return nil
}

func (d Descriptors) checkBOS() error {
	var hdr device.BOSDescriptor
	if _, err := device.ParseBOSDescriptor(d.BOS, &hdr); err != nil {
		return fmt.Errorf("BOS descriptor: %w", err)
	}
	advertised, ok := webusb.AdvertisedSetLength(d.BOS)
	if !ok {
		return fmt.Errorf("no MS OS 2.0 capability in BOS descriptor: %w", pkg.ErrProtocol)
	}
	if advertised != len(d.MSOSSet) {
		return fmt.Errorf("BOS advertises a %d byte MS OS 2.0 set, device sends %d: %w",
			advertised, len(d.MSOSSet), pkg.ErrProtocol)
	}
	return nil
}

// Dump writes a hex dump of each descriptor to w.
func (d Descriptors) Dump(w io.Writer) error {
	sections := []struct {
		name string
		data []byte
	}{
		{"device", d.Device},
		{"configuration", d.Configuration},
		{"bos", d.BOS},
		{"msos20", d.MSOSSet},
	}
	for _, s := range sections {
		if _, err := fmt.Fprintf(w, "%s (%d bytes)\n%s\n", s.name, len(s.data), hex.Dump(s.data)); err != nil {
			return err
		}
	}
	return nil
}
