// Package cdc implements the serial-line parts of the USB Communications
// Device Class (CDC) for the polled device stack.
//
// # Architecture
//
// A CDC-style function consists of two interfaces:
//
//   - Communications interface: carries the functional descriptors and a
//     notification endpoint, and answers SET_LINE_CODING,
//     GET_LINE_CODING and SET_CONTROL_LINE_STATE
//   - Data interface: carries one bulk IN and one bulk OUT endpoint
//
// Function holds the interfaces and endpoints taken from the allocator and
// writes their descriptors. Line holds the volatile line state. ACM embeds
// both to form a standard CDC-ACM port; other classes embed them with
// their own class codes and request filter.
//
// # Stream Semantics
//
// Classes move whole packets. Port wraps any SerialClass with two fixed
// buffers and gives it partial-read and partial-write semantics. A
// transfer ending in a full packet is terminated with a zero-length packet
// so the host completes the read.
//
// # Usage
//
//	alloc := device.NewAllocator(bus)
//	port := cdc.NewPort(cdc.NewACM(alloc, 64))
//	dev, _ := device.NewDeviceBuilder(alloc, 0x16C0, 0x27DD).
//	    WithDeviceClass(device.ClassMisc, device.SubClassCommon, device.ProtocolIAD).
//	    Build()
//	dev.Start(ctx)
//
//	for {
//	    if !dev.Poll(port) {
//	        continue
//	    }
//	    n, err := port.Read(buf)
//	    // ...
//	}
package cdc
