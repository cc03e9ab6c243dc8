package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/emfcamp/tildabridge/device/hal"
	"github.com/emfcamp/tildabridge/pkg"
)

func startHAL(t *testing.T) *HAL {
	t.Helper()
	h := New(t.TempDir())
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { h.Stop() })
	return h
}

func openPipe(t *testing.T, h *HAL, name string, flag int) *os.File {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(h.DeviceDir(), name), flag, 0)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func writeMessage(t *testing.T, f *os.File, msgType byte, payload []byte) {
	t.Helper()
	buf := make([]byte, headerSize+len(payload))
	buf[0] = msgType
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(payload)))
	copy(buf[headerSize:], payload)
	if _, err := f.Write(buf); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

func readMessage(t *testing.T, f *os.File) (byte, []byte) {
	t.Helper()
	var hdr [headerSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		t.Fatalf("read header: %v", err)
	}
	payload := make([]byte, binary.LittleEndian.Uint16(hdr[1:3]))
	if _, err := io.ReadFull(f, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	return hdr[0], payload
}

func TestHAL_InitCreatesDeviceDir(t *testing.T) {
	h := startHAL(t)

	if len(h.UUID()) != 32 {
		t.Errorf("UUID() = %q, want 32 hex characters", h.UUID())
	}
	for _, name := range []string{fifoHostToDevice, fifoDeviceToHost, "ep1_in", "ep15_out"} {
		fi, err := os.Stat(filepath.Join(h.DeviceDir(), name))
		if err != nil {
			t.Errorf("stat %s: %v", name, err)
			continue
		}
		if fi.Mode()&os.ModeNamedPipe == 0 {
			t.Errorf("%s mode = %v, want named pipe", name, fi.Mode())
		}
	}
	if !h.IsConnected() {
		t.Error("IsConnected() = false after Start")
	}
}

func TestHAL_StopRemovesDeviceDir(t *testing.T) {
	h := New(t.TempDir())
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	dir := h.DeviceDir()
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("device dir still present after Stop: %v", err)
	}
	if r := h.Poll(); !r.Idle() {
		t.Errorf("Poll() after Stop = %+v, want idle", r)
	}
}

func TestHAL_IdlePollDoesNotBlock(t *testing.T) {
	h := startHAL(t)
	for i := 0; i < 3; i++ {
		if r := h.Poll(); !r.Idle() {
			t.Fatalf("Poll() = %+v, want idle", r)
		}
	}
	var s hal.SetupPacket
	if _, err := h.ReadSetup(&s, nil); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("ReadSetup() error = %v, want %v", err, pkg.ErrWouldBlock)
	}
}

func TestHAL_ControlTransfer(t *testing.T) {
	h := startHAL(t)
	toDevice := openPipe(t, h, fifoHostToDevice, os.O_WRONLY)
	toHost := openPipe(t, h, fifoDeviceToHost, os.O_RDONLY)

	setup := hal.SetupPacket{RequestType: 0x21, Request: 0x20, Length: 2}
	payload := make([]byte, 1+hal.SetupPacketSize+2)
	setup.MarshalTo(payload[1:])
	payload[9], payload[10] = 0xAB, 0xCD
	writeMessage(t, toDevice, msgSetup, payload)

	if r := h.Poll(); !r.Setup {
		t.Fatalf("Poll() = %+v, want setup", r)
	}
	var got hal.SetupPacket
	var data [8]byte
	n, err := h.ReadSetup(&got, data[:])
	if err != nil {
		t.Fatalf("ReadSetup() error = %v", err)
	}
	if got != setup {
		t.Errorf("ReadSetup() = %+v, want %+v", got, setup)
	}
	if n != 2 || data[0] != 0xAB || data[1] != 0xCD {
		t.Errorf("OUT data = % X, want AB CD", data[:n])
	}

	if err := h.AckEP0(); err != nil {
		t.Fatalf("AckEP0() error = %v", err)
	}
	if typ, _ := readMessage(t, toHost); typ != msgAck {
		t.Errorf("response type = 0x%02X, want ACK", typ)
	}

	if err := h.WriteEP0([]byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteEP0() error = %v", err)
	}
	typ, resp := readMessage(t, toHost)
	if typ != msgData || len(resp) != 3 {
		t.Errorf("response = 0x%02X % X, want DATA 01 02 03", typ, resp)
	}
}

func TestHAL_ResetReportedAlone(t *testing.T) {
	h := startHAL(t)
	toDevice := openPipe(t, h, fifoHostToDevice, os.O_WRONLY)

	writeMessage(t, toDevice, msgReset, nil)
	writeMessage(t, toDevice, msgSuspend, nil)

	if r := h.Poll(); !r.Reset || r.Suspend {
		t.Errorf("first Poll() = %+v, want reset only", r)
	}
	if r := h.Poll(); !r.Suspend {
		t.Errorf("second Poll() = %+v, want suspend", r)
	}
}

func TestHAL_DataEndpoints(t *testing.T) {
	h := startHAL(t)
	err := h.ConfigureEndpoints([]hal.EndpointConfig{
		{Address: 0x82, Attributes: 0x02, MaxPacketSize: 64},
		{Address: 0x02, Attributes: 0x02, MaxPacketSize: 64},
	})
	if err != nil {
		t.Fatalf("ConfigureEndpoints() error = %v", err)
	}
	out := openPipe(t, h, "ep2_out", os.O_WRONLY)
	in := openPipe(t, h, "ep2_in", os.O_RDONLY)

	writeMessage(t, out, msgData, []byte("ping"))
	if r := h.Poll(); !r.HasOut(2) {
		t.Fatalf("Poll() = %+v, want OUT 2 ready", r)
	}
	var buf [64]byte
	n, err := h.Read(0x02, buf[:])
	if err != nil || string(buf[:n]) != "ping" {
		t.Errorf("Read() = %q, %v, want %q, nil", buf[:n], err, "ping")
	}
	if _, err := h.Read(0x02, buf[:]); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("Read(empty) error = %v, want %v", err, pkg.ErrWouldBlock)
	}

	if _, err := h.Write(0x82, []byte("pong")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := h.Write(0x82, []byte("again")); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("Write() before completion error = %v, want %v", err, pkg.ErrWouldBlock)
	}
	typ, payload := readMessage(t, in)
	if typ != msgData || string(payload) != "pong" {
		t.Errorf("IN message = 0x%02X %q, want DATA %q", typ, payload, "pong")
	}
	if r := h.Poll(); !r.HasInComplete(2) {
		t.Errorf("Poll() = %+v, want IN 2 complete", r)
	}
	if _, err := h.Write(0x82, nil); err != nil {
		t.Errorf("Write() after completion error = %v", err)
	}

	if _, err := h.Write(0x83, []byte{1}); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("Write(unconfigured) error = %v, want %v", err, pkg.ErrInvalidEndpoint)
	}
}
