package board

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/emfcamp/tildabridge/bridge"
	"github.com/emfcamp/tildabridge/internal/config"
	"github.com/emfcamp/tildabridge/pkg"
)

// initHost loads the periph.io host drivers that populate the pin
// registry.
var initHost = func() error {
	_, err := host.Init()
	return err
}

// OpenPins looks up the configured outputs in the pin registry. The LED is
// optional.
func OpenPins(cfg config.GPIO) (bridge.Pins, error) {
	if err := initHost(); err != nil {
		return bridge.Pins{}, fmt.Errorf("init periph host: %w", err)
	}

	var pins bridge.Pins
	var err error
	if pins.EN, err = lookupPin("en", cfg.EN); err != nil {
		return bridge.Pins{}, err
	}
	if pins.IO0, err = lookupPin("io0", cfg.IO0); err != nil {
		return bridge.Pins{}, err
	}
	if cfg.LED != "" {
		if pins.LED, err = lookupPin("led", cfg.LED); err != nil {
			return bridge.Pins{}, err
		}
	}
	return pins, nil
}

func lookupPin(role, name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%s pin %q: %w", role, name, pkg.ErrNoDevice)
	}
	pkg.LogDebug(pkg.ComponentBoard, "pin found", "role", role, "pin", p.Name(), "function", p.Function())
	return p, nil
}
