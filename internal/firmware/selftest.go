package firmware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/smallnest/ringbuffer"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/emfcamp/tildabridge/bridge"
	"github.com/emfcamp/tildabridge/device"
	"github.com/emfcamp/tildabridge/device/class/cdc"
	"github.com/emfcamp/tildabridge/device/class/webusb"
	"github.com/emfcamp/tildabridge/device/hal/loopback"
	"github.com/emfcamp/tildabridge/internal/config"
	"github.com/emfcamp/tildabridge/pkg"
)

// selfTestMessage is echoed through the UART. It spans more than one
// packet at every supported packet size.
const selfTestMessage = "TiLDA MkV bridge self test: the quick brown fox jumps over the lazy dog\n"

// selfTestBudget bounds the steps spent waiting for the echo.
const selfTestBudget = 1000

// echoUART loops every transmitted byte back to the receiver.
type echoUART struct {
	rb *ringbuffer.RingBuffer
}

func newEchoUART(size int) *echoUART {
	return &echoUART{rb: ringbuffer.New(size)}
}

func (u *echoUART) ReadByte() (byte, error) {
	c, err := u.rb.ReadByte()
	if errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, pkg.ErrWouldBlock
	}
	return c, err
}

func (u *echoUART) WriteByte(c byte) error {
	err := u.rb.WriteByte(c)
	if errors.Is(err, ringbuffer.ErrIsFull) {
		return pkg.ErrWouldBlock
	}
	return err
}

// selfTest drives a bridge over the loopback bus from the host side.
type selfTest struct {
	ctx     context.Context
	cfg     config.Config
	fw      *Firmware
	br      *bridge.Bridge
	host    *loopback.Host
	en, io0 *gpiotest.Pin

	// read holds the descriptors as the host received them.
	read    Descriptors
	stepErr error
}

// SelfTest enumerates the firmware on a loopback bus with an echoing UART
// and fake GPIO outputs. It checks the descriptors, both vendor requests,
// the boot pin outputs and an echo through both serial interfaces,
// reporting each check to out.
func SelfTest(ctx context.Context, cfg config.Config, serial string, out io.Writer) error {
	bus := loopback.New()
	fw, err := Assemble(bus, cfg, serial)
	if err != nil {
		return err
	}
	if err := fw.Device.Start(ctx); err != nil {
		return err
	}
	defer fw.Device.Stop()

	st := &selfTest{
		ctx: ctx,
		cfg: cfg,
		fw:  fw,
		en:  &gpiotest.Pin{N: "EN"},
		io0: &gpiotest.Pin{N: "IO0"},
	}
	pins := bridge.Pins{EN: st.en, IO0: st.io0, LED: &gpiotest.Pin{N: "LED"}}
	st.br, err = bridge.New(fw.Device, newEchoUART(cfg.UART.RXBuffer), pins,
		bridge.Options{InvertControlLines: cfg.GPIO.InvertControlLines},
		fw.Interfaces()...)
	if err != nil {
		return err
	}
	if err := st.br.Start(); err != nil {
		return err
	}
	st.host = loopback.NewHost(bus, st.step)

	checks := []struct {
		name string
		run  func() error
	}{
		{"enumerate", st.enumerate},
		{"msos20 descriptor set", st.descriptorSet},
		{"webusb landing page", st.landingPage},
		{"boot pins", st.bootPins},
		{"uart echo", st.echo},
	}
	for _, c := range checks {
		err := c.run()
		if err == nil {
			err = st.stepErr
		}
		if err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", c.name, err)
			return fmt.Errorf("%s: %w", c.name, err)
		}
		fmt.Fprintf(out, "ok   %s\n", c.name)
	}

	s := st.br.Stats()
	fmt.Fprintf(out, "polls=%d active=%d usb_to_uart=%d\n", s.Polls, s.ActivePolls, s.USBToUART)
	for _, i := range s.Interfaces {
		fmt.Fprintf(out, "%s: from_host=%d to_host=%d dropped=%d\n", i.Name, i.FromHost, i.ToHost, i.Dropped)
	}
	return nil
}

func (st *selfTest) control(s device.SetupPacket, data []byte) ([]byte, error) {
	return st.host.Control(s.HAL(), data)
}

func (st *selfTest) enumerate() error {
	cfg, err := st.host.Enumerate(1, device.ConfigurationValue)
	if err != nil {
		return err
	}
	dev, err := st.control(device.DescriptorRequest(device.DescriptorTypeDevice, 0, device.DeviceDescriptorSize), nil)
	if err != nil {
		return fmt.Errorf("GET_DESCRIPTOR(device): %w", err)
	}
	st.read.Device, st.read.Configuration = dev, cfg
	if err := st.read.checkDevice(); err != nil {
		return err
	}
	if err := st.read.checkConfiguration(); err != nil {
		return err
	}

	want, err := st.fw.Descriptors()
	if err != nil {
		return err
	}
	if !bytes.Equal(cfg, want.Configuration) {
		return fmt.Errorf("configuration descriptor differs: %w", pkg.ErrProtocol)
	}
	if !st.fw.Device.IsConfigured() {
		return pkg.ErrNotConfigured
	}
	return nil
}

func (st *selfTest) descriptorSet() error {
	bos, err := st.control(device.DescriptorRequest(device.DescriptorTypeBOS, 0, 255), nil)
	if err != nil {
		return fmt.Errorf("GET_DESCRIPTOR(BOS): %w", err)
	}

	set, err := st.control(device.VendorRequest(device.In, webusb.VendorCodeMSOS, 0,
		webusb.RequestGetDescriptorSet, webusb.MSOSDescriptorSetLength), nil)
	if err != nil {
		return fmt.Errorf("GET_DESCRIPTOR_SET: %w", err)
	}
	st.read.BOS, st.read.MSOSSet = bos, set
	return st.read.Check()
}

func (st *selfTest) landingPage() error {
	got, err := st.control(device.VendorRequest(device.In, webusb.VendorCodeWebUSB,
		webusb.LandingPageIndex, webusb.RequestGetURL, 255), nil)
	if err != nil {
		return fmt.Errorf("GET_URL: %w", err)
	}
	if !bytes.Equal(got, st.fw.WebUSB.URLDescriptor()) {
		return fmt.Errorf("URL descriptor % X: %w", got, pkg.ErrProtocol)
	}
	return nil
}

// bootPins asserts each control line combination on the CDC port and
// reads back the outputs.
func (st *selfTest) bootPins() error {
	inv := st.cfg.GPIO.InvertControlLines
	iface := uint8(st.fw.ACM.CommInterface())
	for _, lines := range []struct{ dtr, rts bool }{
		{true, false}, {false, true}, {true, true}, {false, false},
	} {
		var value uint16
		if lines.dtr {
			value |= cdc.ControlLineDTR
		}
		if lines.rts {
			value |= cdc.ControlLineRTS
		}
		req := device.ClassRequest(device.Out, iface, cdc.RequestSetControlLineState, value, 0)
		if _, err := st.control(req, nil); err != nil {
			return fmt.Errorf("SET_CONTROL_LINE_STATE: %w", err)
		}

		en, io0 := bridge.BootPins(lines.dtr != inv, lines.rts != inv)
		gotEN, gotIO0 := st.en.Read(), st.io0.Read()
		if gotEN != en || gotIO0 != io0 {
			return fmt.Errorf("dtr=%t rts=%t: EN=%s IO0=%s, want EN=%s IO0=%s: %w",
				lines.dtr, lines.rts, gotEN, gotIO0, en, io0, pkg.ErrInvalidState)
		}
	}
	return nil
}

// echo sends the message into the CDC port and expects it back on both
// interfaces.
func (st *selfTest) echo() error {
	msg := []byte(selfTestMessage)
	mps := int(st.fw.ACM.MaxPacketSize())

	got := make([][]byte, 2)
	ins := []uint8{st.fw.ACM.InAddress(), st.fw.WebUSB.InAddress()}
	buf := make([]byte, mps)
	receive := func() {
		for i, addr := range ins {
			n, err := st.host.Receive(addr, buf)
			if err == nil {
				got[i] = append(got[i], buf[:n]...)
			}
		}
	}

	for off, steps := 0, 0; off < len(msg); steps++ {
		if steps > selfTestBudget {
			return fmt.Errorf("sent %d of %d bytes: %w", off, len(msg), pkg.ErrWouldBlock)
		}
		end := min(off+mps, len(msg))
		err := st.host.Send(st.fw.ACM.OutAddress(), msg[off:end])
		switch {
		case err == nil:
			off = end
		case !errors.Is(err, pkg.ErrWouldBlock):
			return err
		}
		st.step()
		receive()
	}

	for steps := 0; len(got[0]) < len(msg) || len(got[1]) < len(msg); steps++ {
		if steps > selfTestBudget {
			break
		}
		st.step()
		receive()
	}
	for i, name := range []string{InterfaceCDC, InterfaceWebUSB} {
		if !bytes.Equal(got[i], msg) {
			return fmt.Errorf("%s received %q: %w", name, got[i], pkg.ErrProtocol)
		}
	}
	return nil
}

func (st *selfTest) step() {
	if _, err := st.br.Step(st.ctx); err != nil && st.stepErr == nil {
		st.stepErr = err
	}
}
