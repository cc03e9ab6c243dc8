package board

import (
	"errors"
	"sync"

	"github.com/emfcamp/tildabridge/bridge"
	"github.com/emfcamp/tildabridge/internal/config"
	"github.com/emfcamp/tildabridge/pkg"
)

var (
	claimMu sync.Mutex
	claimed bool
)

// Peripherals are the claimed board resources.
type Peripherals struct {
	UART   *UART
	Pins   bridge.Pins
	Serial string
}

// Claim opens the UART and GPIO outputs described by cfg. It succeeds at
// most once per process.
func Claim(cfg config.Config) (*Peripherals, error) {
	claimMu.Lock()
	defer claimMu.Unlock()
	if claimed {
		return nil, pkg.ErrAlreadyTaken
	}
	claimed = true

	pins, err := OpenPins(cfg.GPIO)
	if err != nil {
		return nil, err
	}
	uart, err := OpenUART(cfg.UART)
	if err != nil {
		return nil, err
	}

	p := &Peripherals{
		UART:   uart,
		Pins:   pins,
		Serial: SerialNumber(cfg.USB.SerialNumber),
	}
	pkg.LogInfo(pkg.ComponentBoard, "peripherals claimed", "serial", p.Serial)
	return p, nil
}

// Close releases the UART. The claim itself is not released.
func (p *Peripherals) Close() error {
	var errs []error
	if p.UART != nil {
		errs = append(errs, p.UART.Close())
	}
	return errors.Join(errs...)
}
