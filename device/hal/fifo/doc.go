// Package fifo implements a FIFO-based HAL for USB device stacks using named pipes.
//
// This HAL is primarily intended for testing and simulation purposes. It allows
// host and device stacks to communicate via named pipes (FIFOs) in the filesystem,
// enabling integration testing of USB class drivers without actual hardware.
//
// # Architecture
//
// Each device instance creates a unique subdirectory under a shared bus directory:
//
//	/tmp/usb-bus/                    # Bus directory (shared with host)
//	└── device-{uuid}/               # Device subdirectory (unique per device)
//	    ├── connection               # Connection signaling (device → host)
//	    ├── host_to_device           # Control transfers from host (SETUP/DATA)
//	    ├── device_to_host           # Control transfer responses to host
//	    ├── ep1_in, ep1_out          # Endpoint 1 data FIFOs
//	    ├── ep2_in, ep2_out          # Endpoint 2 data FIFOs
//	    └── ...                      # (up to ep15_in/ep15_out)
//
// The UUID is generated using crypto/rand for cryptographic uniqueness,
// enabling safe parallel testing with multiple device instances.
//
// # Hot-Plugging Support
//
// The device signals connection and disconnection via the connection FIFO:
//   - 0x01: Device connected and ready
//   - 0x00: Device disconnecting
//
// This allows the host to poll for devices and handle them independently,
// supporting hot-plugging scenarios where devices connect/disconnect dynamically.
//
// # Polling
//
// Every FIFO is opened non-blocking. Poll drains what the host has written
// since the previous call, frames it into messages, and reports bus events;
// it never waits for the host. OUT data stages travel inside the SETUP
// message, so a control transfer is delivered whole.
//
// # Usage
//
//	bus := fifo.New("/tmp/usb-bus")
//	alloc := device.NewAllocator(bus)
//	port := cdc.NewPort(alloc)
//	dev, _ := device.NewDeviceBuilder(alloc, 0x16c0, 0x27dd).Build()
//	dev.Start(ctx)
//	for {
//	    dev.Poll(port)
//	}
//
// The host-side process opens the same bus directory to discover and drive
// devices.
package fifo
