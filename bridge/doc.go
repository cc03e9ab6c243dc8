// Package bridge moves bytes between a UART and the serial interfaces of a
// USB device, and drives a co-processor's enable and boot-select lines from
// the host's DTR and RTS control lines.
//
// A Bridge is stepped from a single goroutine. Each Step polls the USB
// device once, forwards whatever the host sent to the UART, updates the
// boot pins, and, once the device is configured, copies every byte the
// UART has received to all interfaces.
//
// # Boot Pins
//
// The boot pins follow the automatic bootloader circuit found on ESP32
// development boards. With the combined control lines (DTR and RTS of all
// interfaces ORed together):
//
//	DTR RTS | EN IO0
//	 1   1  |  1   1
//	 0   0  |  1   1
//	 1   0  |  0   1
//	 0   1  |  1   0
//
// Asserting both lines is equivalent to asserting neither, so terminal
// programs that raise both on open do not reset the co-processor.
package bridge
