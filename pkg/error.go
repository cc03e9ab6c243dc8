package pkg

import "errors"

// Transient conditions. Callers retry on a later poll.
var (
	// ErrWouldBlock indicates the operation cannot complete without waiting:
	// an IN endpoint still holds a packet the host has not collected, no OUT
	// packet is pending, or a UART FIFO is full or empty.
	ErrWouldBlock = errors.New("operation would block")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")
)

// USB protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")
)

// Resource and configuration errors.
var (
	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNoResources indicates the endpoint or interface allocator is exhausted.
	ErrNoResources = errors.New("no resources available")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrAlreadyTaken indicates a singleton peripheral set was claimed twice.
	ErrAlreadyTaken = errors.New("peripherals already taken")

	// ErrNoDevice indicates the device or peripheral is not present.
	ErrNoDevice = errors.New("device not present")

	// ErrClosed indicates the resource has been closed.
	ErrClosed = errors.New("closed")
)

// IsTransient reports whether err is a backpressure condition that clears
// on its own and should be retried rather than surfaced.
func IsTransient(err error) bool {
	return errors.Is(err, ErrWouldBlock) || errors.Is(err, ErrBusy)
}
