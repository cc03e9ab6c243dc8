// Package board claims the peripherals the bridge runs on: the UART to the
// co-processor, the boot and status GPIO outputs, and the serial number
// presented over USB.
//
// Peripherals can be claimed once per process. A second Claim fails with
// pkg.ErrAlreadyTaken, whether or not the first succeeded.
package board
