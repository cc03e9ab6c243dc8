package device

import "github.com/emfcamp/tildabridge/pkg"

type controlState uint8

const (
	controlPending controlState = iota
	controlAccepted
	controlRejected
)

// ControlIn is a device-to-host control transfer offered to each class in
// turn. The first class to Accept or Reject it resolves it; a transfer no
// class resolves falls through to the standard request handler.
type ControlIn struct {
	req   SetupPacket
	buf   []byte
	n     int
	state controlState
}

func (c *ControlIn) start(req *SetupPacket, buf []byte) {
	c.req = *req
	c.buf = buf
	c.n = 0
	c.state = controlPending
}

// Request returns the SETUP packet of the transfer.
func (c *ControlIn) Request() *SetupPacket {
	return &c.req
}

// Resolved reports whether the transfer has been accepted or rejected.
func (c *ControlIn) Resolved() bool {
	return c.state != controlPending
}

// Accept resolves the transfer with the data fill writes into the response
// buffer. If fill returns an error the transfer is rejected instead.
// Responses longer than wLength are truncated when sent.
func (c *ControlIn) Accept(fill func(buf []byte) (int, error)) error {
	if c.state != controlPending {
		return pkg.ErrInvalidState
	}
	n, err := fill(c.buf)
	if err != nil {
		c.state = controlRejected
		return err
	}
	if n > len(c.buf) {
		c.state = controlRejected
		return pkg.ErrBufferTooSmall
	}
	c.n = n
	c.state = controlAccepted
	return nil
}

// AcceptWith resolves the transfer with a copy of data.
func (c *ControlIn) AcceptWith(data []byte) error {
	if c.state != controlPending {
		return pkg.ErrInvalidState
	}
	if len(data) > len(c.buf) {
		c.state = controlRejected
		return pkg.ErrBufferTooSmall
	}
	c.n = copy(c.buf, data)
	c.state = controlAccepted
	return nil
}

// Reject resolves the transfer with a STALL.
func (c *ControlIn) Reject() error {
	if c.state != controlPending {
		return pkg.ErrInvalidState
	}
	c.state = controlRejected
	return nil
}

// response returns the data to send, truncated to wLength.
func (c *ControlIn) response() []byte {
	n := c.n
	if n > int(c.req.Length) {
		n = int(c.req.Length)
	}
	return c.buf[:n]
}

// ControlOut is a host-to-device control transfer, delivered together with
// its data stage.
type ControlOut struct {
	req   SetupPacket
	data  []byte
	state controlState
}

func (c *ControlOut) start(req *SetupPacket, data []byte) {
	c.req = *req
	c.data = data
	c.state = controlPending
}

// Request returns the SETUP packet of the transfer.
func (c *ControlOut) Request() *SetupPacket {
	return &c.req
}

// Data returns the data stage sent by the host.
func (c *ControlOut) Data() []byte {
	return c.data
}

// Resolved reports whether the transfer has been accepted or rejected.
func (c *ControlOut) Resolved() bool {
	return c.state != controlPending
}

// Accept resolves the transfer with a successful status stage.
func (c *ControlOut) Accept() error {
	if c.state != controlPending {
		return pkg.ErrInvalidState
	}
	c.state = controlAccepted
	return nil
}

// Reject resolves the transfer with a STALL.
func (c *ControlOut) Reject() error {
	if c.state != controlPending {
		return pkg.ErrInvalidState
	}
	c.state = controlRejected
	return nil
}
