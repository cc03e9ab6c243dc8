package loopback

import (
	"context"
	"errors"
	"sync"

	"github.com/emfcamp/tildabridge/device/hal"
	"github.com/emfcamp/tildabridge/pkg"
)

// MaxPacketSize is the largest data endpoint packet the bus carries.
const MaxPacketSize = 64

// MaxControlSize is the largest control data stage the bus carries.
const MaxControlSize = 512

// DefaultPollBudget is the number of device polls Host.Control waits for a
// response before giving up.
const DefaultPollBudget = 16

// ErrNoResponse is returned by Host.Control when the device did not finish
// the control transfer within the poll budget.
var ErrNoResponse = errors.New("loopback: no response to control transfer")

// ep0 response states.
const (
	ep0Idle = iota
	ep0Data
	ep0Ack
	ep0Stall
)

type packet struct {
	full bool
	n    int
	buf  [MaxPacketSize]byte
}

// Bus is an in-memory hal.Bus. The device side is driven through the
// hal.Bus methods; the host side through a Host handle.
type Bus struct {
	mutex sync.Mutex

	started bool
	address uint8
	speed   hal.Speed

	// Pending bus events
	reset, suspend, resume bool

	// Control transfer in flight
	setupPending bool
	setup        hal.SetupPacket
	setupData    [MaxControlSize]byte
	setupLen     int
	ep0State     int
	ep0Buf       [MaxControlSize]byte
	ep0Len       int

	// Data endpoints, indexed by endpoint number
	enabledIn, enabledOut uint16
	stalled               [2]uint16 // [0] OUT, [1] IN
	maxPacket             [2][hal.MaxEndpoints + 1]uint16
	in                    [hal.MaxEndpoints + 1]packet
	out                   [hal.MaxEndpoints + 1]packet
	inComplete            uint16
}

// New creates a loopback bus running at full speed.
func New() *Bus {
	return &Bus{speed: hal.SpeedFull}
}

// Init implements hal.Bus.
func (b *Bus) Init(ctx context.Context) error {
	return ctx.Err()
}

// Start implements hal.Bus.
func (b *Bus) Start() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.started = true
	pkg.LogDebug(pkg.ComponentHAL, "loopback bus started")
	return nil
}

// Stop implements hal.Bus.
func (b *Bus) Stop() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.started = false
	return nil
}

// Poll implements hal.Bus.
func (b *Bus) Poll() hal.PollResult {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var r hal.PollResult
	if !b.started {
		return r
	}
	if b.reset {
		b.reset = false
		r.Reset = true
		return r
	}
	r.Suspend, b.suspend = b.suspend, false
	r.Resume, b.resume = b.resume, false
	r.Setup = b.setupPending
	for num := 1; num <= hal.MaxEndpoints; num++ {
		if b.out[num].full {
			r.OutReady |= 1 << num
		}
	}
	r.InComplete, b.inComplete = b.inComplete, 0
	return r
}

// SetAddress implements hal.Bus.
func (b *Bus) SetAddress(address uint8) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.address = address
	return nil
}

// ConfigureEndpoints implements hal.Bus.
func (b *Bus) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.enabledIn, b.enabledOut = 0, 0
	for i := range endpoints {
		ep := &endpoints[i]
		num := ep.Number()
		if num == 0 || num > hal.MaxEndpoints || ep.MaxPacketSize > MaxPacketSize {
			return pkg.ErrInvalidEndpoint
		}
		dir := 0
		if ep.IsIn() {
			dir = 1
			b.enabledIn |= 1 << num
		} else {
			b.enabledOut |= 1 << num
		}
		b.maxPacket[dir][num] = ep.MaxPacketSize
	}
	return nil
}

// ReadSetup implements hal.Bus.
func (b *Bus) ReadSetup(out *hal.SetupPacket, data []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.setupPending {
		return 0, pkg.ErrWouldBlock
	}
	if len(data) < b.setupLen {
		return 0, pkg.ErrBufferTooSmall
	}
	b.setupPending = false
	*out = b.setup
	return copy(data, b.setupData[:b.setupLen]), nil
}

// WriteEP0 implements hal.Bus.
func (b *Bus) WriteEP0(data []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if len(data) > MaxControlSize {
		return pkg.ErrBufferTooSmall
	}
	b.ep0Len = copy(b.ep0Buf[:], data)
	b.ep0State = ep0Data
	return nil
}

// AckEP0 implements hal.Bus.
func (b *Bus) AckEP0() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.ep0State = ep0Ack
	return nil
}

// StallEP0 implements hal.Bus.
func (b *Bus) StallEP0() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.ep0State = ep0Stall
	return nil
}

// Write implements hal.Bus.
func (b *Bus) Write(address uint8, data []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	num := address & 0x0F
	if address&0x80 == 0 || num == 0 || b.enabledIn&(1<<num) == 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	if b.stalled[1]&(1<<num) != 0 {
		return 0, pkg.ErrStall
	}
	if len(data) > int(b.maxPacket[1][num]) {
		return 0, pkg.ErrBufferTooSmall
	}
	p := &b.in[num]
	if p.full {
		return 0, pkg.ErrWouldBlock
	}
	p.n = copy(p.buf[:], data)
	p.full = true
	return p.n, nil
}

// Read implements hal.Bus.
func (b *Bus) Read(address uint8, buf []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	num := address & 0x0F
	if address&0x80 != 0 || num == 0 || b.enabledOut&(1<<num) == 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	p := &b.out[num]
	if !p.full {
		return 0, pkg.ErrWouldBlock
	}
	if len(buf) < p.n {
		return 0, pkg.ErrBufferTooSmall
	}
	p.full = false
	return copy(buf, p.buf[:p.n]), nil
}

// Stall implements hal.Bus.
func (b *Bus) Stall(address uint8) error {
	return b.setStall(address, true)
}

// ClearStall implements hal.Bus.
func (b *Bus) ClearStall(address uint8) error {
	return b.setStall(address, false)
}

func (b *Bus) setStall(address uint8, stalled bool) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	num := address & 0x0F
	if num == 0 || num > hal.MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	dir := 0
	if address&0x80 != 0 {
		dir = 1
	}
	if stalled {
		b.stalled[dir] |= 1 << num
	} else {
		b.stalled[dir] &^= 1 << num
	}
	return nil
}

// Speed implements hal.Bus.
func (b *Bus) Speed() hal.Speed {
	return b.speed
}

// Compile-time interface check
var _ hal.Bus = (*Bus)(nil)
