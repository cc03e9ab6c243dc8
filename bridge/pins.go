package bridge

import (
	"periph.io/x/conn/v3/gpio"

	"github.com/emfcamp/tildabridge/pkg"
)

// BootPins returns the EN and IO0 levels for the combined DTR and RTS
// state.
func BootPins(dtr, rts bool) (en, io0 gpio.Level) {
	switch {
	case dtr && !rts:
		return gpio.Low, gpio.High
	case rts && !dtr:
		return gpio.High, gpio.Low
	default:
		return gpio.High, gpio.High
	}
}

// Pins are the GPIO outputs driven by a Bridge.
type Pins struct {
	EN  gpio.PinOut
	IO0 gpio.PinOut

	// LED is optional. It is driven low while data moves.
	LED gpio.PinOut
}

func (p *Pins) led(l gpio.Level) {
	if p.LED == nil {
		return
	}
	if err := p.LED.Out(l); err != nil {
		pkg.LogDebug(pkg.ComponentBridge, "failed to drive LED", "level", l.String(), "error", err)
	}
}
