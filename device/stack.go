package device

import (
	"errors"

	"github.com/emfcamp/tildabridge/device/hal"
	"github.com/emfcamp/tildabridge/pkg"
)

// Poll services the bus once and dispatches pending events to classes. It
// never blocks. It returns true when a control transfer or endpoint event
// was handled, meaning class buffers may have changed and the application
// should read from or write to its classes.
//
// The same classes must be passed, in the same order, on every call.
func (d *Device) Poll(classes ...Class) bool {
	ev := d.bus.Poll()

	if ev.Reset {
		d.reset(classes)
		return false
	}
	if ev.Suspend {
		d.suspend()
	}
	if ev.Resume {
		d.resume()
	}

	activity := ev.Setup || ev.OutReady != 0 || ev.InComplete != 0
	if !activity {
		return false
	}
	// Any traffic implies the bus is no longer suspended
	d.resume()

	if ev.Setup {
		d.handleControl(classes)
	}

	if ev.OutReady != 0 || ev.InComplete != 0 {
		for num := uint8(1); num <= hal.MaxEndpoints; num++ {
			out, in := ev.HasOut(num), ev.HasInComplete(num)
			if !out && !in {
				continue
			}
			for _, c := range classes {
				h, ok := c.(EndpointHandler)
				if !ok {
					continue
				}
				if out {
					h.EndpointOut(num)
				}
				if in {
					h.EndpointInComplete(num | EndpointDirectionIn)
				}
			}
		}
	}

	for _, c := range classes {
		if p, ok := c.(Poller); ok {
			p.Poll()
		}
	}
	return true
}

// handleControl reads the pending control transfer and offers it to the
// classes, then to the standard request handler. A transfer nobody
// resolves is stalled.
func (d *Device) handleControl(classes []Class) {
	n, err := d.bus.ReadSetup(&d.halSetup, d.ep0Data[:])
	if err != nil {
		if !errors.Is(err, pkg.ErrWouldBlock) {
			pkg.LogWarn(pkg.ComponentStack, "error reading setup", "error", err)
		}
		return
	}
	d.setup = SetupPacket(d.halSetup)
	req := &d.setup

	if req.IsDeviceToHost() {
		xfer := &d.xferIn
		xfer.start(req, d.ep0Resp[:])
		for _, c := range classes {
			c.ControlIn(xfer)
			if xfer.Resolved() {
				break
			}
		}
		if !xfer.Resolved() && req.IsStandard() {
			err = xfer.Accept(func(buf []byte) (int, error) {
				return d.handler.HandleSetup(req, buf, classes)
			})
		}
		d.completeIn(xfer, err)
		return
	}

	xfer := &d.xferOut
	xfer.start(req, d.ep0Data[:n])
	for _, c := range classes {
		c.ControlOut(xfer)
		if xfer.Resolved() {
			break
		}
	}
	if !xfer.Resolved() && req.IsStandard() {
		if _, err = d.handler.HandleSetup(req, nil, classes); err != nil {
			xfer.Reject()
		} else {
			xfer.Accept()
		}
	}
	d.completeOut(xfer, err)
}

// completeIn sends the data stage of an accepted IN transfer, or stalls.
func (d *Device) completeIn(xfer *ControlIn, cause error) {
	if xfer.state == controlAccepted {
		if err := d.bus.WriteEP0(xfer.response()); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "error writing control data", "error", err)
		}
		return
	}
	d.stall(&xfer.req, cause)
}

// completeOut sends the status stage of an accepted OUT transfer, or
// stalls. A pending address takes effect after the status stage.
func (d *Device) completeOut(xfer *ControlOut, cause error) {
	if xfer.state != controlAccepted {
		d.addressPending = false
		d.stall(&xfer.req, cause)
		return
	}
	if err := d.bus.AckEP0(); err != nil {
		pkg.LogWarn(pkg.ComponentStack, "error acknowledging control transfer", "error", err)
		return
	}
	if d.addressPending {
		d.applyAddress()
	}
}

func (d *Device) stall(req *SetupPacket, cause error) {
	if cause == nil {
		cause = pkg.ErrInvalidRequest
	}
	pkg.LogDebug(pkg.ComponentStack, "control transfer stalled",
		"request", req.String(),
		"error", cause)
	if err := d.bus.StallEP0(); err != nil {
		pkg.LogWarn(pkg.ComponentStack, "error stalling control endpoint", "error", err)
	}
}
