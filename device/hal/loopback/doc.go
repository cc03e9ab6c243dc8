// Package loopback provides an in-memory [hal.Bus] together with a [Host]
// handle that plays the part of the USB host.
//
// The host side never runs concurrently with the device. Calls that wait
// for the device, such as [Host.Control], invoke a caller-supplied step
// function that polls the device once:
//
//	bus := loopback.New()
//	dev, _ := builder.Build()
//	host := loopback.NewHost(bus, func() { dev.Poll(acm, vendor) })
//	cfg, err := host.Enumerate(5, 1)
//
// Bulk endpoints carry single packets: [Host.Send] delivers one OUT packet
// and [Host.Receive] collects one IN packet, so packet boundaries (and zero
// length packets) are visible to tests.
package loopback
