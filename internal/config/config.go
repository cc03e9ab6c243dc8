// Package config loads the bridge configuration from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emfcamp/tildabridge/device/class/webusb"
	"github.com/emfcamp/tildabridge/pkg"
)

// Config is the complete bridge configuration.
type Config struct {
	USB     USB     `yaml:"usb"`
	WebUSB  WebUSB  `yaml:"webusb"`
	UART    UART    `yaml:"uart"`
	GPIO    GPIO    `yaml:"gpio"`
	Bus     Bus     `yaml:"bus"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// USB describes the device presented to the host.
type USB struct {
	VendorID     uint16 `yaml:"vendor_id"`
	ProductID    uint16 `yaml:"product_id"`
	Manufacturer string `yaml:"manufacturer"`
	Product      string `yaml:"product"`
	// SerialNumber is derived from the machine identity when empty.
	SerialNumber string `yaml:"serial_number"`
	MaxPowerMA   uint16 `yaml:"max_power_ma"`
	PacketSize   uint16 `yaml:"packet_size"`
}

// WebUSB configures the vendor interface.
type WebUSB struct {
	LandingPage   string `yaml:"landing_page"`
	InterfaceGUID string `yaml:"interface_guid"`
}

// UART configures the serial link to the co-processor.
type UART struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	// RXBuffer is the size of the receive FIFO between the port reader
	// and the bridge.
	RXBuffer int `yaml:"rx_buffer"`
}

// GPIO names the output pins, as known to the periph.io pin registry.
type GPIO struct {
	EN  string `yaml:"en"`
	IO0 string `yaml:"io0"`
	LED string `yaml:"led"`

	InvertControlLines bool          `yaml:"invert_control_lines"`
	IdleInterval       time.Duration `yaml:"idle_interval"`
}

// Bus configures the FIFO bus the device attaches to.
type Bus struct {
	Dir string `yaml:"dir"`
}

// Log configures logging.
type Log struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Metrics configures the Prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration of a TiLDA MkV bridge.
func Default() Config {
	return Config{
		USB: USB{
			VendorID:     0x16C0,
			ProductID:    0x27DD,
			Manufacturer: "Electromagnetic Field",
			Product:      "TiLDA MkV",
			MaxPowerMA:   500,
			PacketSize:   64,
		},
		WebUSB: WebUSB{
			LandingPage:   webusb.DefaultLandingPage,
			InterfaceGUID: webusb.DefaultInterfaceGUID,
		},
		UART: UART{
			Device:   "/dev/ttyUSB0",
			BaudRate: 115200,
			RXBuffer: 4096,
		},
		GPIO: GPIO{
			EN:           "GPIO17",
			IO0:          "GPIO27",
			IdleInterval: time.Millisecond,
		},
		Bus: Bus{
			Dir: "/tmp/tildabridge",
		},
		Log: Log{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads the file at path over the defaults. A missing file yields the
// defaults when optional is set.
func Load(path string, optional bool) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a YAML document over the defaults and validates the result.
// Unknown keys are errors.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Encode writes cfg as YAML.
func (c *Config) Encode(w io.Writer) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", pkg.ErrInvalidParameter, field, fmt.Sprintf(format, args...))
}

// Validate checks every field that cannot be used as given.
func (c *Config) Validate() error {
	switch c.USB.PacketSize {
	case 8, 16, 32, 64:
	default:
		return invalid("usb.packet_size", "%d is not 8, 16, 32 or 64", c.USB.PacketSize)
	}
	if c.USB.MaxPowerMA > 500 {
		return invalid("usb.max_power_ma", "%d exceeds 500", c.USB.MaxPowerMA)
	}
	if _, body := webusb.ParseURL(c.WebUSB.LandingPage); len(body) > webusb.MaxURLLength {
		return invalid("webusb.landing_page", "longer than %d bytes", webusb.MaxURLLength)
	}
	if !webusb.ValidGUID(c.WebUSB.InterfaceGUID) {
		return invalid("webusb.interface_guid", "%q is not a braced GUID", c.WebUSB.InterfaceGUID)
	}
	if c.UART.BaudRate <= 0 {
		return invalid("uart.baud_rate", "must be positive")
	}
	if c.UART.RXBuffer <= 0 {
		return invalid("uart.rx_buffer", "must be positive")
	}
	if c.GPIO.EN == "" || c.GPIO.IO0 == "" {
		return invalid("gpio", "en and io0 are required")
	}
	if c.GPIO.IdleInterval < 0 {
		return invalid("gpio.idle_interval", "must not be negative")
	}
	if _, err := pkg.ParseLogLevel(c.Log.Level); err != nil {
		return invalid("log.level", "%v", err)
	}
	if _, err := pkg.ParseLogFormat(c.Log.Format); err != nil {
		return invalid("log.format", "%v", err)
	}
	return nil
}
