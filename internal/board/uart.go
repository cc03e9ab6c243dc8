package board

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"
	"go.bug.st/serial"

	"github.com/emfcamp/tildabridge/internal/config"
	"github.com/emfcamp/tildabridge/pkg"
)

// readTimeout bounds how long the receive loop blocks in the driver
// before checking for cancellation.
const readTimeout = 100 * time.Millisecond

// UART is a serial port with a receive FIFO. A background loop started
// with Run moves received bytes into the FIFO; ReadByte takes them without
// blocking. Transmission goes straight to the port.
type UART struct {
	port io.ReadWriteCloser
	rx   *ringbuffer.RingBuffer

	overruns atomic.Uint64
	tx       [1]byte
}

// OpenUART opens the configured serial device at 8 data bits, no parity
// and one stop bit.
func OpenUART(cfg config.UART) (*UART, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	pkg.LogInfo(pkg.ComponentBoard, "UART opened", "device", cfg.Device, "baud", cfg.BaudRate)
	return NewUART(port, cfg.RXBuffer), nil
}

// NewUART wraps an open port with a receive FIFO of rxSize bytes.
func NewUART(port io.ReadWriteCloser, rxSize int) *UART {
	return &UART{
		port: port,
		rx:   ringbuffer.New(rxSize),
	}
}

// Run copies received bytes into the FIFO until ctx ends or the port
// fails. Bytes that do not fit are dropped and counted as overruns.
func (u *UART) Run(ctx context.Context) error {
	var buf [256]byte
	for ctx.Err() == nil {
		n, err := u.port.Read(buf[:])
		if n > 0 {
			w, _ := u.rx.Write(buf[:n])
			if w < n {
				u.overruns.Add(uint64(n - w))
			}
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("uart read: %w", err)
		}
	}
	return nil
}

// ReadByte takes one received byte. It returns pkg.ErrWouldBlock when the
// FIFO is empty.
func (u *UART) ReadByte() (byte, error) {
	c, err := u.rx.ReadByte()
	if err != nil {
		if errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, pkg.ErrWouldBlock
		}
		return 0, err
	}
	return c, nil
}

// WriteByte transmits c, waiting for the driver to accept it.
func (u *UART) WriteByte(c byte) error {
	u.tx[0] = c
	n, err := u.port.Write(u.tx[:])
	if err != nil {
		return err
	}
	if n == 0 {
		return pkg.ErrWouldBlock
	}
	return nil
}

// Buffered returns the number of received bytes waiting in the FIFO.
func (u *UART) Buffered() int {
	return u.rx.Length()
}

// Overruns returns the number of received bytes dropped because the FIFO
// was full.
func (u *UART) Overruns() uint64 {
	return u.overruns.Load()
}

// Close closes the port, which ends Run.
func (u *UART) Close() error {
	return u.port.Close()
}
