package device

// Class is a USB class implementation polled by a Device. A class owns the
// interfaces and endpoints it took from an Allocator at construction.
//
// ControlIn and ControlOut are offered every control transfer the device
// does not consume itself. A class resolves the transfers meant for it by
// calling Accept or Reject and must leave every other transfer untouched so
// later classes can claim it.
type Class interface {
	// ConfigurationDescriptors writes the class's interface, functional
	// and endpoint descriptors.
	ConfigurationDescriptors(w *DescriptorWriter) error

	// Reset is called on USB bus reset. Volatile class state, such as line
	// coding or control line state, returns to its defaults.
	Reset()

	// ControlIn is offered device-to-host control transfers.
	ControlIn(xfer *ControlIn)

	// ControlOut is offered host-to-device control transfers.
	ControlOut(xfer *ControlOut)
}

// BOSDescriber is implemented by classes that contribute device capability
// descriptors to the BOS.
type BOSDescriber interface {
	BOSDescriptors(w *BOSWriter) error
}

// EndpointHandler is implemented by classes that react to endpoint events.
// Both methods are called for every endpoint on the bus; classes ignore
// addresses they do not own.
type EndpointHandler interface {
	// EndpointOut reports that an OUT endpoint holds a packet.
	EndpointOut(address uint8)

	// EndpointInComplete reports that the host collected the last packet
	// written to an IN endpoint.
	EndpointInComplete(address uint8)
}

// Poller is implemented by classes that need to run once per Device.Poll
// that reports activity.
type Poller interface {
	Poll()
}
