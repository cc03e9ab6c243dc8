package cdc

import (
	"github.com/emfcamp/tildabridge/device"
	"github.com/emfcamp/tildabridge/pkg"
)

// NotifyPacketSize and NotifyInterval describe the interrupt endpoint of
// the communications interface. It is declared for CDC compatibility and
// never carries data.
const (
	NotifyPacketSize = 8
	NotifyInterval   = 255
)

// InterfaceClasses selects the class codes written for a Function.
type InterfaceClasses struct {
	Comm, CommSubClass, CommProtocol uint8
	Data, DataSubClass               uint8

	// ACMCapabilities is bmCapabilities of the ACM functional descriptor.
	ACMCapabilities uint8
}

// Function is a communications interface with a notification endpoint,
// paired with a data interface carrying one bulk endpoint pair. The
// interfaces and endpoints are taken from the allocator once and never
// change.
type Function struct {
	comm   device.InterfaceNumber
	notify *device.EndpointIn
	data   device.InterfaceNumber
	out    *device.EndpointOut
	in     *device.EndpointIn
}

// NewFunction allocates, in order, the communications interface, its
// notification endpoint, the data interface, and bulk OUT and IN endpoints
// of maxPacketSize bytes.
func NewFunction(alloc *device.Allocator, maxPacketSize uint16) Function {
	f := Function{
		comm:   alloc.Interface(),
		notify: alloc.InterruptIn(NotifyPacketSize, NotifyInterval),
	}
	f.data = alloc.Interface()
	f.out = alloc.BulkOut(maxPacketSize)
	f.in = alloc.BulkIn(maxPacketSize)
	return f
}

// CommInterface returns the communications interface number.
func (f *Function) CommInterface() device.InterfaceNumber { return f.comm }

// DataInterface returns the data interface number.
func (f *Function) DataInterface() device.InterfaceNumber { return f.data }

// MaxPacketSize returns the packet size of the bulk endpoints.
func (f *Function) MaxPacketSize() uint16 { return f.out.MaxPacketSize() }

// InAddress returns the address of the bulk IN endpoint.
func (f *Function) InAddress() uint8 { return f.in.Address() }

// OutAddress returns the address of the bulk OUT endpoint.
func (f *Function) OutAddress() uint8 { return f.out.Address() }

// WritePacket queues one packet on the bulk IN endpoint. It returns
// pkg.ErrWouldBlock while the previous packet has not been collected.
// Packets longer than MaxPacketSize panic.
func (f *Function) WritePacket(data []byte) (int, error) {
	return f.in.Write(data)
}

// ReadPacket takes one packet from the bulk OUT endpoint. It returns
// pkg.ErrWouldBlock when none is pending. buf must hold MaxPacketSize bytes.
func (f *Function) ReadPacket(buf []byte) (int, error) {
	return f.out.Read(buf)
}

// IsCommRequest reports whether req is a class request addressed to the
// communications interface.
func (f *Function) IsCommRequest(req *device.SetupPacket) bool {
	return req.IsClass() && req.IsInterfaceRecipient() && req.Index == uint16(f.comm)
}

// WriteDescriptors writes the communications interface with its header,
// ACM, union and call management functional descriptors and notification
// endpoint, followed by the data interface and its IN and OUT endpoints.
func (f *Function) WriteDescriptors(w *device.DescriptorWriter, classes InterfaceClasses) error {
	if err := w.Interface(f.comm, classes.Comm, classes.CommSubClass, classes.CommProtocol); err != nil {
		return err
	}

	var buf [8]byte
	functional := []interface{ MarshalTo([]byte) int }{
		&HeaderDescriptor{CDCVersion: CDCVersion},
		&ACMDescriptor{Capabilities: classes.ACMCapabilities},
		&UnionDescriptor{MasterInterface: uint8(f.comm), SlaveInterface0: uint8(f.data)},
		&CallManagementDescriptor{DataInterface: uint8(f.data)},
	}
	for _, d := range functional {
		n := d.MarshalTo(buf[:])
		if n == 0 {
			return pkg.ErrBufferTooSmall
		}
		if err := w.Write(buf[1], buf[2:n]); err != nil {
			return err
		}
	}
	if err := w.Endpoint(f.notify); err != nil {
		return err
	}

	if err := w.Interface(f.data, classes.Data, classes.DataSubClass, ProtocolNone); err != nil {
		return err
	}
	if err := w.Endpoint(f.in); err != nil {
		return err
	}
	return w.Endpoint(f.out)
}

// Line is the volatile serial line state of a CDC-style interface: the
// line coding and the DTR and RTS control lines.
type Line struct {
	coding LineCoding
	dtr    bool
	rts    bool

	// AllowBreak accepts SEND_BREAK requests. The break itself is not
	// signalled on any physical line.
	AllowBreak bool
}

// NewLine returns a line in its reset state.
func NewLine() Line {
	return Line{coding: DefaultLineCoding}
}

// Reset restores the default line coding and deasserts DTR and RTS.
func (l *Line) Reset() {
	l.coding = DefaultLineCoding
	l.dtr = false
	l.rts = false
}

// LineCoding returns the line coding last set by the host.
func (l *Line) LineCoding() LineCoding { return l.coding }

// DTR returns the Data Terminal Ready state.
func (l *Line) DTR() bool { return l.dtr }

// RTS returns the Request To Send state.
func (l *Line) RTS() bool { return l.rts }

// ControlIn answers GET_LINE_CODING and rejects every other IN request.
// The caller has already established that the request is addressed to
// this line.
func (l *Line) ControlIn(xfer *device.ControlIn) {
	req := xfer.Request()
	switch {
	case req.Request == RequestGetLineCoding && req.Length == LineCodingSize:
		xfer.Accept(func(buf []byte) (int, error) {
			n := l.coding.MarshalTo(buf)
			if n == 0 {
				return 0, pkg.ErrBufferTooSmall
			}
			return n, nil
		})
	default:
		xfer.Reject()
	}
}

// ControlOut handles SET_LINE_CODING, SET_CONTROL_LINE_STATE and
// SEND_ENCAPSULATED_COMMAND, and rejects every other OUT request. The
// caller has already established that the request is addressed to this
// line.
func (l *Line) ControlOut(xfer *device.ControlOut) {
	req := xfer.Request()
	switch req.Request {
	case RequestSendEncapsulatedCommand:
		// No management protocol is implemented
		xfer.Accept()

	case RequestSetLineCoding:
		if !ParseLineCoding(xfer.Data(), &l.coding) {
			xfer.Reject()
			return
		}
		pkg.LogDebug(pkg.ComponentClass, "line coding set",
			"baud", l.coding.DTERate,
			"dataBits", l.coding.DataBits,
			"parity", l.coding.ParityType.String(),
			"stopBits", l.coding.CharFormat.String())
		xfer.Accept()

	case RequestSetControlLineState:
		l.dtr = req.Value&ControlLineDTR != 0
		l.rts = req.Value&ControlLineRTS != 0
		xfer.Accept()

	case RequestSendBreak:
		if !l.AllowBreak {
			xfer.Reject()
			return
		}
		xfer.Accept()

	default:
		xfer.Reject()
	}
}
