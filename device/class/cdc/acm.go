package cdc

import (
	"github.com/emfcamp/tildabridge/device"
	"github.com/emfcamp/tildabridge/pkg"
)

// ACM implements a standard CDC-ACM (Abstract Control Model) virtual serial
// port at the packet level. Wrap it in a Port for stream semantics.
type ACM struct {
	Function
	Line
}

// NewACM allocates a CDC-ACM function with bulk endpoints of maxPacketSize
// bytes. For full-speed devices maxPacketSize must be 8, 16, 32 or 64.
func NewACM(alloc *device.Allocator, maxPacketSize uint16) *ACM {
	a := &ACM{
		Function: NewFunction(alloc, maxPacketSize),
		Line:     NewLine(),
	}
	a.AllowBreak = true
	return a
}

// ConfigurationDescriptors writes an interface association descriptor
// followed by the communications and data interfaces.
func (a *ACM) ConfigurationDescriptors(w *device.DescriptorWriter) error {
	if err := w.IAD(a.comm, 2, ClassCDC, SubclassACM, ProtocolNone); err != nil {
		return err
	}
	return a.WriteDescriptors(w, InterfaceClasses{
		Comm:            ClassCDC,
		CommSubClass:    SubclassACM,
		CommProtocol:    ProtocolNone,
		Data:            ClassCDCData,
		ACMCapabilities: ACMCapLineCoding | ACMCapSendBreak,
	})
}

// Reset restores the line state.
func (a *ACM) Reset() {
	a.Line.Reset()
	pkg.LogDebug(pkg.ComponentClass, "CDC-ACM reset", "interface", a.comm)
}

// ControlIn handles class requests addressed to the communications
// interface.
func (a *ACM) ControlIn(xfer *device.ControlIn) {
	if !a.IsCommRequest(xfer.Request()) {
		return
	}
	a.Line.ControlIn(xfer)
}

// ControlOut handles class requests addressed to the communications
// interface.
func (a *ACM) ControlOut(xfer *device.ControlOut) {
	if !a.IsCommRequest(xfer.Request()) {
		return
	}
	a.Line.ControlOut(xfer)
}

// Compile-time interface checks
var (
	_ device.Class = (*ACM)(nil)
	_ SerialClass  = (*ACM)(nil)
)
