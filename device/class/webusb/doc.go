// Package webusb implements a serial function that browsers can open
// through WebUSB and that Windows binds to WinUSB automatically.
//
// The function has the same shape as a CDC-ACM port (a communications
// interface with a notification endpoint and a data interface with a bulk
// endpoint pair) and the same line coding and control line requests, but
// both interfaces use the vendor-specific class so no operating system
// serial driver claims them.
//
// # Descriptors
//
// The class adds two platform capabilities to the BOS descriptor:
//
//   - WebUSB, with vendor code 0x42 and a landing page URL returned by the
//     GET_URL request
//   - Microsoft OS 2.0, with vendor code 0x43 and a descriptor set
//     returned by the GET_DESCRIPTOR_SET request
//
// The descriptor set is assembled with DescriptorBuilder into a fixed
// buffer on every request. Its wTotalLength must equal
// MSOSDescriptorSetLength, which the platform capability advertises.
package webusb
