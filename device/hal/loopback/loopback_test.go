package loopback

import (
	"context"
	"errors"
	"testing"

	"github.com/emfcamp/tildabridge/device/hal"
	"github.com/emfcamp/tildabridge/pkg"
)

func startedBus(t *testing.T) *Bus {
	t.Helper()
	b := New()
	if err := b.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return b
}

func TestBus_PollBeforeStart(t *testing.T) {
	b := New()
	h := NewHost(b, func() {})
	h.Reset()
	if r := b.Poll(); !r.Idle() {
		t.Errorf("Poll() before Start = %+v, want idle", r)
	}
}

func TestBus_ResetReportedAlone(t *testing.T) {
	b := startedBus(t)
	var seen []hal.PollResult
	h := NewHost(b, func() { seen = append(seen, b.Poll()) })

	b.suspend = true
	h.Reset()
	if len(seen) != 1 || !seen[0].Reset || seen[0].Suspend {
		t.Fatalf("first poll = %+v, want reset only", seen)
	}
	if r := b.Poll(); !r.Suspend {
		t.Errorf("second poll = %+v, want suspend", r)
	}
}

func TestBus_ControlTransfer(t *testing.T) {
	b := startedBus(t)
	var setup hal.SetupPacket
	var data [MaxControlSize]byte

	h := NewHost(b, func() {
		if !b.Poll().Setup {
			return
		}
		n, err := b.ReadSetup(&setup, data[:])
		if err != nil {
			t.Errorf("ReadSetup() error = %v", err)
			return
		}
		switch setup.Request {
		case 0x01:
			b.WriteEP0([]byte("response"))
		case 0x02:
			if n != 2 {
				t.Errorf("OUT data length = %d, want 2", n)
			}
			b.AckEP0()
		default:
			b.StallEP0()
		}
	})

	resp, err := h.Control(hal.SetupPacket{RequestType: 0xC0, Request: 0x01, Length: 4}, nil)
	if err != nil {
		t.Fatalf("Control(IN) error = %v", err)
	}
	if string(resp) != "resp" {
		t.Errorf("Control(IN) = %q, want %q", resp, "resp")
	}

	resp, err = h.Control(hal.SetupPacket{RequestType: 0x40, Request: 0x02, Length: 2}, []byte{1, 2})
	if err != nil || resp != nil {
		t.Errorf("Control(OUT) = %v, %v, want nil, nil", resp, err)
	}

	if _, err := h.Control(hal.SetupPacket{RequestType: 0x40, Request: 0x03}, nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("Control(unknown) error = %v, want %v", err, pkg.ErrStall)
	}
}

func TestBus_ControlNoResponse(t *testing.T) {
	b := startedBus(t)
	polls := 0
	h := NewHost(b, func() { polls++ })
	h.PollBudget = 3

	if _, err := h.Control(hal.SetupPacket{RequestType: 0x80, Request: 0x06}, nil); !errors.Is(err, ErrNoResponse) {
		t.Errorf("Control() error = %v, want %v", err, ErrNoResponse)
	}
	if polls != 3 {
		t.Errorf("polls = %d, want 3", polls)
	}
	if _, err := b.ReadSetup(&hal.SetupPacket{}, nil); err != nil {
		t.Errorf("ReadSetup() after timeout error = %v, want pending setup", err)
	}
}

func TestBus_DataEndpoints(t *testing.T) {
	b := startedBus(t)
	h := NewHost(b, func() {})

	if _, err := b.Write(0x81, []byte{1}); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("Write() before configure error = %v, want %v", err, pkg.ErrInvalidEndpoint)
	}

	err := b.ConfigureEndpoints([]hal.EndpointConfig{
		{Address: 0x81, Attributes: 0x02, MaxPacketSize: 8},
		{Address: 0x01, Attributes: 0x02, MaxPacketSize: 8},
	})
	if err != nil {
		t.Fatalf("ConfigureEndpoints() error = %v", err)
	}

	// Host to device
	if err := h.Send(0x01, []byte("abc")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := h.Send(0x01, []byte("def")); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("Send() while full error = %v, want %v", err, pkg.ErrWouldBlock)
	}
	if r := b.Poll(); !r.HasOut(1) {
		t.Errorf("Poll() = %+v, want OUT 1 ready", r)
	}
	var buf [8]byte
	if _, err := b.Read(0x01, buf[:2]); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Read(short) error = %v, want %v", err, pkg.ErrBufferTooSmall)
	}
	n, err := b.Read(0x01, buf[:])
	if err != nil || string(buf[:n]) != "abc" {
		t.Errorf("Read() = %q, %v, want %q, nil", buf[:n], err, "abc")
	}
	if _, err := b.Read(0x01, buf[:]); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("Read(empty) error = %v, want %v", err, pkg.ErrWouldBlock)
	}

	// Device to host
	if _, err := b.Write(0x81, make([]byte, 9)); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Write(oversized) error = %v, want %v", err, pkg.ErrBufferTooSmall)
	}
	if _, err := b.Write(0x81, nil); err != nil {
		t.Fatalf("Write(zlp) error = %v", err)
	}
	if _, err := b.Write(0x81, []byte{1}); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("Write() while full error = %v, want %v", err, pkg.ErrWouldBlock)
	}
	n, err = h.Receive(0x81, buf[:])
	if err != nil || n != 0 {
		t.Errorf("Receive(zlp) = %d, %v, want 0, nil", n, err)
	}
	if r := b.Poll(); !r.HasInComplete(1) {
		t.Errorf("Poll() = %+v, want IN 1 complete", r)
	}
	if r := b.Poll(); r.HasInComplete(1) {
		t.Error("IN completion reported twice")
	}

	// Halt
	if err := b.Stall(0x81); err != nil {
		t.Fatalf("Stall() error = %v", err)
	}
	if !h.Stalled(0x81) {
		t.Error("Stalled(0x81) = false after Stall")
	}
	if _, err := b.Write(0x81, []byte{1}); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("Write() while stalled error = %v, want %v", err, pkg.ErrStall)
	}
	if err := b.ClearStall(0x81); err != nil {
		t.Fatalf("ClearStall() error = %v", err)
	}
	if h.Stalled(0x81) {
		t.Error("Stalled(0x81) = true after ClearStall")
	}
}

func TestBus_ConfigureRejectsLargePackets(t *testing.T) {
	b := startedBus(t)
	err := b.ConfigureEndpoints([]hal.EndpointConfig{{Address: 0x82, Attributes: 0x02, MaxPacketSize: 512}})
	if !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("ConfigureEndpoints() error = %v, want %v", err, pkg.ErrInvalidEndpoint)
	}
}
