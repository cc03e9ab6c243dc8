package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/emfcamp/tildabridge/device"
	"github.com/emfcamp/tildabridge/pkg"
)

// UART is a byte pipe to the co-processor. Both methods return
// pkg.ErrWouldBlock instead of waiting.
type UART interface {
	ReadByte() (byte, error)
	WriteByte(c byte) error
}

// USB is the polled USB device.
type USB interface {
	Poll(classes ...device.Class) bool
	IsConfigured() bool
}

// Serial is a stream-oriented USB serial interface, such as a cdc.Port.
type Serial interface {
	device.Class
	Read(buf []byte) (int, error)
	Write(data []byte) (int, error)
	DTR() bool
	RTS() bool
}

// Interface names a Serial for logging and statistics.
type Interface struct {
	Name string
	Port Serial
}

// Options tune a Bridge.
type Options struct {
	// InvertControlLines applies the boot pin table to the line levels
	// (low when asserted) instead of the asserted state.
	InvertControlLines bool

	// IdleInterval is how long Run sleeps after a step that moved no data.
	// Zero keeps Run spinning.
	IdleInterval time.Duration
}

// Bridge connects a UART to the serial interfaces of a USB device.
type Bridge struct {
	usb     USB
	uart    UART
	pins    Pins
	opts    Options
	ports   []Interface
	classes []device.Class

	stats       Stats
	portStats   []InterfaceStats
	dtr, rts    bool
	linesKnown  bool
	pinsApplied bool

	buf [64]byte
	one [1]byte
}

// New returns a bridge polling usb with the classes of ports, in order.
// EN and IO0 are required; at least one interface is required.
func New(usb USB, uart UART, pins Pins, opts Options, ports ...Interface) (*Bridge, error) {
	if usb == nil || uart == nil || pins.EN == nil || pins.IO0 == nil || len(ports) == 0 {
		return nil, pkg.ErrInvalidParameter
	}
	b := &Bridge{
		usb:       usb,
		uart:      uart,
		pins:      pins,
		opts:      opts,
		ports:     ports,
		classes:   make([]device.Class, len(ports)),
		portStats: make([]InterfaceStats, len(ports)),
	}
	for i, p := range ports {
		b.classes[i] = p.Port
		b.portStats[i].Name = p.Name
	}
	return b, nil
}

// Start drives all outputs high, the run state of the co-processor.
func (b *Bridge) Start() error {
	if err := b.pins.EN.Out(gpio.High); err != nil {
		return fmt.Errorf("drive EN: %w", err)
	}
	if err := b.pins.IO0.Out(gpio.High); err != nil {
		return fmt.Errorf("drive IO0: %w", err)
	}
	b.pins.led(gpio.High)
	b.dtr, b.rts, b.linesKnown, b.pinsApplied = false, false, true, true
	return nil
}

// Step runs one iteration of the bridge. It reports whether any data moved
// or the device handled a transfer. Errors are returned only for UART
// failures other than backpressure, or when ctx ends while a byte waits
// for the transmitter.
func (b *Bridge) Step(ctx context.Context) (bool, error) {
	b.stats.Polls.Add(1)
	busy := false

	if b.usb.Poll(b.classes...) {
		busy = true
		b.stats.ActivePolls.Add(1)
		b.pins.led(gpio.Low)
		for i := range b.ports {
			if err := b.forwardToUART(ctx, i); err != nil {
				return busy, err
			}
		}
		b.updateControlLines()
		b.pins.led(gpio.High)
	}

	if b.usb.IsConfigured() {
		moved, err := b.drainUART()
		if moved {
			busy = true
		}
		if err != nil {
			return busy, err
		}
	}
	return busy, nil
}

// Run calls Start and then steps the bridge until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentBridge, "bridge running", "interfaces", len(b.ports))

	var idle *time.Timer
	for {
		if ctx.Err() != nil {
			return nil
		}
		busy, err := b.Step(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if busy || b.opts.IdleInterval <= 0 {
			continue
		}

		if idle == nil {
			idle = time.NewTimer(b.opts.IdleInterval)
		} else {
			idle.Reset(b.opts.IdleInterval)
		}
		select {
		case <-ctx.Done():
			idle.Stop()
			return nil
		case <-idle.C:
		}
	}
}

// forwardToUART reads one chunk from interface i and writes it to the UART
// a byte at a time, waiting for the transmitter as needed.
func (b *Bridge) forwardToUART(ctx context.Context, i int) error {
	st := &b.portStats[i]
	n, err := b.ports[i].Port.Read(b.buf[:])
	if err != nil {
		// Endpoints are invalid until the host configures the device.
		if !errors.Is(err, pkg.ErrWouldBlock) && !errors.Is(err, pkg.ErrInvalidEndpoint) {
			st.ReadFails.Add(1)
		}
		return nil
	}
	st.FromHost.Add(uint64(n))

	for _, c := range b.buf[:n] {
		for {
			err := b.uart.WriteByte(c)
			if err == nil {
				break
			}
			if !errors.Is(err, pkg.ErrWouldBlock) {
				return fmt.Errorf("uart write: %w", err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		b.stats.USBToUART.Add(1)
	}
	return nil
}

// updateControlLines ORs the control lines of all interfaces and drives
// the boot pins when the result changed. A failed pin write is retried on
// the next call.
func (b *Bridge) updateControlLines() {
	var dtr, rts bool
	for _, p := range b.ports {
		dtr = dtr || p.Port.DTR()
		rts = rts || p.Port.RTS()
	}
	changed := !b.linesKnown || dtr != b.dtr || rts != b.rts
	if !changed && b.pinsApplied {
		return
	}
	b.dtr, b.rts, b.linesKnown = dtr, rts, true

	en, io0 := b.bootPins(dtr, rts)
	if changed {
		b.stats.ControlLineChanges.Add(1)
		pkg.LogInfo(pkg.ComponentBridge, "control lines changed",
			"dtr", dtr, "rts", rts, "en", en.String(), "io0", io0.String())
	}
	b.pinsApplied = true
	if err := b.pins.EN.Out(en); err != nil {
		pkg.LogWarn(pkg.ComponentBridge, "failed to drive EN", "error", err)
		b.pinsApplied = false
	}
	if err := b.pins.IO0.Out(io0); err != nil {
		pkg.LogWarn(pkg.ComponentBridge, "failed to drive IO0", "error", err)
		b.pinsApplied = false
	}
}

func (b *Bridge) bootPins(dtr, rts bool) (en, io0 gpio.Level) {
	if b.opts.InvertControlLines {
		return BootPins(!dtr, !rts)
	}
	return BootPins(dtr, rts)
}

// drainUART copies every pending UART byte to all interfaces. An interface
// that cannot take a byte loses it; the others still receive it.
func (b *Bridge) drainUART() (bool, error) {
	moved := false
	defer func() {
		if moved {
			b.pins.led(gpio.High)
		}
	}()

	for {
		c, err := b.uart.ReadByte()
		if err != nil {
			if errors.Is(err, pkg.ErrWouldBlock) {
				return moved, nil
			}
			return moved, fmt.Errorf("uart read: %w", err)
		}
		if !moved {
			b.pins.led(gpio.Low)
			moved = true
		}

		b.one[0] = c
		for i := range b.ports {
			if _, err := b.ports[i].Port.Write(b.one[:]); err != nil {
				b.portStats[i].Dropped.Add(1)
				continue
			}
			b.portStats[i].ToHost.Add(1)
		}
	}
}

// ControlLines returns the combined DTR and RTS state last sampled from
// the interfaces.
func (b *Bridge) ControlLines() (dtr, rts bool) {
	return b.dtr, b.rts
}

// Stats returns a snapshot of the bridge counters. It is safe to call from
// any goroutine.
func (b *Bridge) Stats() Snapshot {
	s := Snapshot{
		Polls:              b.stats.Polls.Load(),
		ActivePolls:        b.stats.ActivePolls.Load(),
		ControlLineChanges: b.stats.ControlLineChanges.Load(),
		USBToUART:          b.stats.USBToUART.Load(),
		Interfaces:         make([]InterfaceSnapshot, len(b.portStats)),
	}
	for i := range b.portStats {
		s.Interfaces[i] = b.portStats[i].snapshot()
	}
	return s
}
