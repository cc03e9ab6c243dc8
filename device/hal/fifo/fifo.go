package fifo

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/emfcamp/tildabridge/device/hal"
	"github.com/emfcamp/tildabridge/pkg"
)

// MaxPacketSize is the maximum packet size for any endpoint.
const MaxPacketSize = 512

// Message types for the FIFO protocol.
const (
	msgSetup   = 0x01 // SETUP packet from host, with any OUT data stage
	msgData    = 0x02 // DATA packet
	msgAck     = 0x03 // ACK response
	msgNak     = 0x04 // NAK response
	msgStall   = 0x05 // STALL response
	msgSuspend = 0x10 // Bus suspend
	msgResume  = 0x11 // Bus resume
	msgReset   = 0x12 // Port reset
	msgAddress = 0x13 // Set address
)

// Message framing.
const (
	headerSize     = 3 // type (1) + length (2)
	maxMessageSize = headerSize + 1 + hal.SetupPacketSize + MaxPacketSize
)

// Connection signal bytes (one-way signaling to host).
const (
	sigConnect    = 0x01 // Device connected
	sigDisconnect = 0x00 // Device disconnected
)

// FIFO file names.
const (
	fifoHostToDevice = "host_to_device"
	fifoDeviceToHost = "device_to_host"
	fifoInterrupts   = "interrupts"
	fifoConnection   = "connection"
)

// stream accumulates framed messages from a non-blocking pipe.
type stream struct {
	f   *os.File
	rc  syscall.RawConn
	buf [maxMessageSize]byte
	n   int
}

func newStream(f *os.File) (*stream, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	return &stream{f: f, rc: rc}, nil
}

// fill reads whatever the pipe currently holds without waiting.
func (s *stream) fill() error {
	if s.n == len(s.buf) {
		return nil
	}
	var n int
	var rerr error
	err := s.rc.Read(func(fd uintptr) bool {
		n, rerr = syscall.Read(int(fd), s.buf[s.n:])
		return true
	})
	if err != nil {
		return err
	}
	if errors.Is(rerr, syscall.EAGAIN) {
		return nil
	}
	if rerr != nil {
		return rerr
	}
	if n > 0 {
		s.n += n
	}
	return nil
}

// peek returns the first complete message. size is the number of bytes to
// discard once the message has been consumed.
func (s *stream) peek() (msgType byte, payload []byte, size int, ok bool) {
	if s.n < headerSize {
		return 0, nil, 0, false
	}
	length := int(binary.LittleEndian.Uint16(s.buf[1:3]))
	size = headerSize + length
	if size > len(s.buf) {
		// Unframeable; drop everything and resynchronize on the next message
		pkg.LogWarn(pkg.ComponentHAL, "oversized fifo message dropped", "length", length)
		s.n = 0
		return 0, nil, 0, false
	}
	if s.n < size {
		return 0, nil, 0, false
	}
	return s.buf[0], s.buf[headerSize:size], size, true
}

func (s *stream) discard(size int) {
	copy(s.buf[:], s.buf[size:s.n])
	s.n -= size
}

// HAL implements hal.Bus using named pipes (FIFOs).
// Each device instance creates a unique subdirectory under the bus directory
// to enable hot-plugging and multiple device support.
type HAL struct {
	// Bus directory (root directory shared with host)
	busDir string

	// Device subdirectory (busDir/device-{uuid}/)
	deviceDir string
	uuid      string

	// Control endpoint FIFOs
	hostToDevice      *stream  // Device reads commands from host
	deviceToHostWrite *os.File // Device writes responses to host
	interruptsWrite   *os.File // Device writes interrupt data
	connectionWrite   *os.File // Device signals connection status

	// Data endpoint FIFOs (indexed by endpoint number 1-15)
	epInWrite [hal.MaxEndpoints]*os.File // Device writes IN data
	epOut     [hal.MaxEndpoints]*stream  // Device reads OUT data

	// State
	connected uint32 // Atomic: 1 = connected, 0 = disconnected
	speed     hal.Speed
	address   uint8

	enabledIn, enabledOut uint16
	stalled               [2]uint16 // [0] OUT, [1] IN
	inFlight              uint16    // IN packets written but not yet reported
	inComplete            uint16
	suspended             bool

	// Pending control transfer
	setupPending bool
	setup        hal.SetupPacket
	setupData    [MaxPacketSize]byte
	setupLen     int

	mutex    sync.Mutex
	initDone bool

	// Internal buffer (zero-allocation)
	writeBuf [headerSize + MaxPacketSize]byte
}

// New creates a new FIFO-based device bus.
// The busDir parameter specifies the root bus directory shared with the host.
// The device will create its own subdirectory (device-{uuid}/) inside busDir.
func New(busDir string) *HAL {
	return &HAL{
		busDir: busDir,
		speed:  hal.SpeedFull,
	}
}

// generateUUID generates a random UUID using crypto/rand.
func generateUUID() (string, error) {
	var uuid [16]byte
	if _, err := rand.Read(uuid[:]); err != nil {
		return "", err
	}
	// Set version 4 (random) bits
	uuid[6] = (uuid[6] & 0x0f) | 0x40
	uuid[8] = (uuid[8] & 0x3f) | 0x80
	return hex.EncodeToString(uuid[:]), nil
}

// Init creates the device subdirectory and its FIFO files.
func (h *HAL) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initDone {
		return pkg.ErrInvalidState
	}

	uuid, err := generateUUID()
	if err != nil {
		return fmt.Errorf("generate uuid: %w", err)
	}
	h.uuid = uuid
	h.deviceDir = filepath.Join(h.busDir, "device-"+uuid)

	if err := os.MkdirAll(h.deviceDir, 0o755); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}

	names := []string{fifoHostToDevice, fifoDeviceToHost, fifoInterrupts, fifoConnection}
	for i := 1; i <= hal.MaxEndpoints; i++ {
		names = append(names, fmt.Sprintf("ep%d_in", i), fmt.Sprintf("ep%d_out", i))
	}
	for _, name := range names {
		if err := h.createFIFO(name); err != nil {
			h.cleanup()
			return err
		}
	}

	// Every FIFO is opened O_RDWR|O_NONBLOCK so that opening never waits
	// for the host and reads report EAGAIN when empty.
	if err := h.openAll(); err != nil {
		h.cleanup()
		return err
	}

	h.initDone = true
	pkg.LogInfo(pkg.ComponentHAL, "fifo device bus initialized",
		"busDir", h.busDir,
		"deviceDir", h.deviceDir,
		"uuid", h.uuid)

	return nil
}

func (h *HAL) openAll() error {
	const flag = os.O_RDWR | syscall.O_NONBLOCK
	var err error

	if h.connectionWrite, err = h.openFIFO(fifoConnection, flag); err != nil {
		return err
	}
	if h.deviceToHostWrite, err = h.openFIFO(fifoDeviceToHost, flag); err != nil {
		return err
	}
	if h.interruptsWrite, err = h.openFIFO(fifoInterrupts, flag); err != nil {
		return err
	}
	if h.hostToDevice, err = h.openStream(fifoHostToDevice, flag); err != nil {
		return err
	}
	for i := 1; i <= hal.MaxEndpoints; i++ {
		idx := i - 1
		if h.epInWrite[idx], err = h.openFIFO(fmt.Sprintf("ep%d_in", i), flag); err != nil {
			return err
		}
		if h.epOut[idx], err = h.openStream(fmt.Sprintf("ep%d_out", i), flag); err != nil {
			return err
		}
	}
	return nil
}

// Start signals connection to the host.
func (h *HAL) Start() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.initDone {
		return pkg.ErrNotConfigured
	}

	if _, err := h.connectionWrite.Write([]byte{sigConnect}); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "failed to signal connection", "error", err)
	}
	atomic.StoreUint32(&h.connected, 1)

	pkg.LogInfo(pkg.ComponentHAL, "fifo device bus started")
	return nil
}

// Stop signals disconnection and removes the device directory.
func (h *HAL) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.connectionWrite != nil {
		h.connectionWrite.Write([]byte{sigDisconnect})
	}
	atomic.StoreUint32(&h.connected, 0)

	h.cleanup()
	h.initDone = false
	pkg.LogInfo(pkg.ComponentHAL, "fifo device bus stopped")
	return nil
}

// cleanup closes all FIFOs and removes the device directory.
func (h *HAL) cleanup() {
	closeFile := func(f **os.File) {
		if *f != nil {
			(*f).Close()
			*f = nil
		}
	}
	closeStream := func(s **stream) {
		if *s != nil {
			(*s).f.Close()
			*s = nil
		}
	}

	closeStream(&h.hostToDevice)
	closeFile(&h.deviceToHostWrite)
	closeFile(&h.interruptsWrite)
	closeFile(&h.connectionWrite)
	for i := 0; i < hal.MaxEndpoints; i++ {
		closeFile(&h.epInWrite[i])
		closeStream(&h.epOut[i])
	}

	if h.deviceDir != "" {
		os.RemoveAll(h.deviceDir)
	}
}

// Poll implements hal.Bus. It drains whatever the host has written since
// the last call and never waits for more.
func (h *HAL) Poll() hal.PollResult {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var r hal.PollResult
	if !h.initDone {
		return r
	}

	if err := h.hostToDevice.fill(); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "read host_to_device failed", "error", err)
	}
	for !h.setupPending {
		msgType, payload, size, ok := h.hostToDevice.peek()
		if !ok {
			break
		}
		switch msgType {
		case msgReset:
			h.hostToDevice.discard(size)
			h.resetLocked()
			h.sendLocked(h.deviceToHostWrite, msgAck, nil)
			pkg.LogDebug(pkg.ComponentHAL, "port reset received")
			r = hal.PollResult{Reset: true}
			return r

		case msgSuspend:
			h.suspended = true
			r.Suspend = true

		case msgResume:
			if h.suspended {
				h.suspended = false
				r.Resume = true
			}

		case msgAddress:
			// Host-side address assignment outside a control transfer
			if len(payload) >= 1 {
				h.address = payload[0]
				h.sendLocked(h.deviceToHostWrite, msgAck, nil)
				pkg.LogDebug(pkg.ComponentHAL, "address set", "address", payload[0])
			}

		case msgSetup:
			// Payload: [address, setup_packet(8), optional_data...]
			if len(payload) < 1+hal.SetupPacketSize {
				pkg.LogWarn(pkg.ComponentHAL, "setup message too short", "length", len(payload))
				break
			}
			hal.ParseSetupPacket(payload[1:1+hal.SetupPacketSize], &h.setup)
			h.setupLen = copy(h.setupData[:], payload[1+hal.SetupPacketSize:])
			h.setupPending = true
			r.Setup = true

			pkg.LogDebug(pkg.ComponentHAL, "setup received",
				"reqType", h.setup.RequestType,
				"req", h.setup.Request,
				"value", h.setup.Value,
				"index", h.setup.Index,
				"length", h.setup.Length)

		default:
			pkg.LogWarn(pkg.ComponentHAL, "unexpected message on control pipe", "type", msgType)
		}
		h.hostToDevice.discard(size)
	}
	r.Setup = h.setupPending

	for num := 1; num <= hal.MaxEndpoints; num++ {
		if h.enabledOut&(1<<num) == 0 {
			continue
		}
		s := h.epOut[num-1]
		if err := s.fill(); err != nil {
			pkg.LogWarn(pkg.ComponentHAL, "read endpoint failed", "endpoint", num, "error", err)
			continue
		}
		if _, _, _, ok := s.peek(); ok {
			r.OutReady |= 1 << num
		}
	}

	r.InComplete, h.inComplete = h.inComplete, 0
	h.inFlight &^= r.InComplete
	return r
}

func (h *HAL) resetLocked() {
	h.address = 0
	h.enabledIn, h.enabledOut = 0, 0
	h.stalled = [2]uint16{}
	h.inFlight, h.inComplete = 0, 0
	h.setupPending = false
	h.suspended = false
}

// SetAddress records the device address. The FIFO transport does not route
// by address.
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	h.address = address
	h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", address)
	return nil
}

// ConfigureEndpoints enables the data endpoints. The endpoint FIFOs are
// already open, so this only tracks which endpoints are active.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.enabledIn, h.enabledOut = 0, 0
	for i := range endpoints {
		ep := &endpoints[i]
		num := ep.Number()
		if num == 0 || num > hal.MaxEndpoints || ep.MaxPacketSize > MaxPacketSize {
			return pkg.ErrInvalidEndpoint
		}
		if ep.IsIn() {
			h.enabledIn |= 1 << num
		} else {
			h.enabledOut |= 1 << num
		}
	}

	pkg.LogDebug(pkg.ComponentHAL, "endpoints configured", "count", len(endpoints))
	return nil
}

// ReadSetup implements hal.Bus.
func (h *HAL) ReadSetup(out *hal.SetupPacket, data []byte) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.setupPending {
		return 0, pkg.ErrWouldBlock
	}
	if len(data) < h.setupLen {
		return 0, pkg.ErrBufferTooSmall
	}
	h.setupPending = false
	*out = h.setup
	return copy(data, h.setupData[:h.setupLen]), nil
}

// WriteEP0 sends the data stage of a control IN transfer.
func (h *HAL) WriteEP0(data []byte) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if len(data) > MaxPacketSize {
		return pkg.ErrBufferTooSmall
	}
	return h.sendLocked(h.deviceToHostWrite, msgData, data)
}

// AckEP0 sends the status stage of a control OUT transfer.
func (h *HAL) AckEP0() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.sendLocked(h.deviceToHostWrite, msgAck, nil)
}

// StallEP0 stalls the control endpoint.
func (h *HAL) StallEP0() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "EP0 stalled")
	return h.sendLocked(h.deviceToHostWrite, msgStall, nil)
}

// Write queues one packet on an IN endpoint. The packet counts as collected
// once it is in the pipe; completion is reported by the next Poll.
func (h *HAL) Write(address uint8, data []byte) (int, error) {
	num := address & 0x0F
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if address&0x80 == 0 || num == 0 || h.enabledIn&(1<<num) == 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	if h.stalled[1]&(1<<num) != 0 {
		return 0, pkg.ErrStall
	}
	if h.inFlight&(1<<num) != 0 {
		return 0, pkg.ErrWouldBlock
	}
	if len(data) > MaxPacketSize {
		return 0, pkg.ErrBufferTooSmall
	}
	if err := h.sendLocked(h.epInWrite[num-1], msgData, data); err != nil {
		return 0, err
	}
	h.inFlight |= 1 << num
	h.inComplete |= 1 << num
	return len(data), nil
}

// Read takes one packet from an OUT endpoint.
func (h *HAL) Read(address uint8, buf []byte) (int, error) {
	num := address & 0x0F
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if address&0x80 != 0 || num == 0 || h.enabledOut&(1<<num) == 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	s := h.epOut[num-1]
	if err := s.fill(); err != nil {
		return 0, err
	}
	msgType, payload, size, ok := s.peek()
	if !ok {
		return 0, pkg.ErrWouldBlock
	}
	if msgType != msgData {
		s.discard(size)
		return 0, pkg.ErrProtocol
	}
	if len(buf) < len(payload) {
		return 0, pkg.ErrBufferTooSmall
	}
	n := copy(buf, payload)
	s.discard(size)
	return n, nil
}

// Stall halts a data endpoint.
func (h *HAL) Stall(address uint8) error {
	return h.setStall(address, true)
}

// ClearStall clears a halt condition.
func (h *HAL) ClearStall(address uint8) error {
	return h.setStall(address, false)
}

func (h *HAL) setStall(address uint8, stalled bool) error {
	num := address & 0x0F
	if num == 0 || num > hal.MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	dir := 0
	if address&0x80 != 0 {
		dir = 1
	}

	h.mutex.Lock()
	if stalled {
		h.stalled[dir] |= 1 << num
	} else {
		h.stalled[dir] &^= 1 << num
	}
	h.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentHAL, "endpoint stall changed",
		"address", fmt.Sprintf("0x%02X", address),
		"stalled", stalled)
	return nil
}

// Speed returns the emulated bus speed.
func (h *HAL) Speed() hal.Speed {
	return h.speed
}

// IsConnected returns true between Start and Stop.
func (h *HAL) IsConnected() bool {
	return atomic.LoadUint32(&h.connected) == 1
}

// DeviceDir returns the device subdirectory path.
func (h *HAL) DeviceDir() string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.deviceDir
}

// UUID returns the device's unique identifier.
func (h *HAL) UUID() string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.uuid
}

// createFIFO creates a named pipe in the device directory.
func (h *HAL) createFIFO(name string) error {
	path := filepath.Join(h.deviceDir, name)
	os.Remove(path)
	if err := syscall.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", name, err)
	}
	return nil
}

// openFIFO opens a named pipe with the given flags.
func (h *HAL) openFIFO(name string, flag int) (*os.File, error) {
	path := filepath.Join(h.deviceDir, name)
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

func (h *HAL) openStream(name string, flag int) (*stream, error) {
	f, err := h.openFIFO(name, flag)
	if err != nil {
		return nil, err
	}
	s, err := newStream(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return s, nil
}

// sendLocked writes a protocol message [type, len_lo, len_hi, data...].
func (h *HAL) sendLocked(f *os.File, msgType byte, data []byte) error {
	if f == nil {
		return pkg.ErrNotConfigured
	}
	buf := h.writeBuf[:]
	n := copy(buf[headerSize:], data)
	buf[0] = msgType
	binary.LittleEndian.PutUint16(buf[1:3], uint16(n))

	total := headerSize + n
	written := 0
	for written < total {
		m, err := f.Write(buf[written:total])
		if m > 0 {
			written += m
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Compile-time interface check
var _ hal.Bus = (*HAL)(nil)
