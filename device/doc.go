// Package device implements a polled, single-owner USB 2.0 device stack.
//
// It interacts with hardware through the [hal.Bus] interface defined in
// [github.com/emfcamp/tildabridge/device/hal]. Nothing in the stack waits
// on the host: the application calls [Device.Poll] once per loop iteration
// and the stack dispatches whatever the bus reports.
//
// # Architecture
//
//   - [Allocator] owns interface numbers and endpoint addresses. Classes
//     take [EndpointIn] and [EndpointOut] handles from it at construction.
//   - [DeviceBuilder] turns the allocator's bookkeeping plus the device
//     descriptor fields into a [Device].
//   - [Device] runs the USB state machine, answers standard requests, and
//     assembles configuration and BOS descriptors from its classes through
//     [DescriptorWriter] and [BOSWriter].
//   - [Class] implementations resolve the control transfers addressed to
//     them via [ControlIn] and [ControlOut].
//
// # Device States
//
// The stack implements the addressed part of the USB 2.0 state machine:
//
//	Default → Address → Configured ⇄ Suspended
//
// A bus reset returns the device to Default and resets every class.
//
// # Zero-Allocation Design
//
//   - Serialization via MarshalTo(buf) instead of allocating Bytes()
//   - Parse functions with output parameters instead of returning pointers
//   - Fixed-size arrays for strings, endpoints and control buffers
//   - Endpoint I/O moves single packets between caller buffers and the bus
//
// # Example
//
//	alloc := device.NewAllocator(bus)
//	acm := cdc.NewACM(alloc, 64)
//	dev, err := device.NewDeviceBuilder(alloc, 0x16c0, 0x27dd).
//	    WithStrings("Electromagnetic Field", "TiLDA MkV", serial).
//	    WithMaxPower(500).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	for {
//	    if dev.Poll(acm) {
//	        // read and write acm
//	    }
//	}
package device
