// Package hal defines the polled Hardware Abstraction Layer between the
// device stack and a USB device controller.
//
// A [Bus] never waits on the host. The device stack calls [Bus.Poll] once per
// iteration of the application loop and acts on the returned [PollResult]:
// bus reset, a pending control transfer, OUT endpoints holding data, and IN
// endpoints whose previous packet has been collected. Endpoint reads and
// writes that cannot complete immediately return pkg.ErrWouldBlock.
//
// # Implementations
//
//   - [github.com/emfcamp/tildabridge/device/hal/fifo] exchanges framed
//     messages with a host process over named pipes.
//   - [github.com/emfcamp/tildabridge/device/hal/loopback] is an in-memory
//     bus with a host-side handle for tests and self-test.
//
// # Zero-Allocation Design
//
// Implementations should reuse caller buffers and keep fixed-size internal
// packet buffers so that the steady-state loop does not allocate.
package hal
