package bridge

import "sync/atomic"

// Stats counts bridge traffic. Counters are updated by the stepping
// goroutine and may be read concurrently.
type Stats struct {
	Polls              atomic.Uint64
	ActivePolls        atomic.Uint64
	ControlLineChanges atomic.Uint64
	USBToUART          atomic.Uint64
}

// InterfaceStats counts traffic of one interface.
type InterfaceStats struct {
	Name      string
	FromHost  atomic.Uint64 // bytes read from the host
	ToHost    atomic.Uint64 // bytes accepted for the host
	Dropped   atomic.Uint64 // UART bytes the interface could not accept
	ReadFails atomic.Uint64
}

// Snapshot is a copy of the counters at one point in time.
type Snapshot struct {
	Polls              uint64
	ActivePolls        uint64
	ControlLineChanges uint64
	USBToUART          uint64
	Interfaces         []InterfaceSnapshot
}

// InterfaceSnapshot is a copy of one interface's counters.
type InterfaceSnapshot struct {
	Name      string
	FromHost  uint64
	ToHost    uint64
	Dropped   uint64
	ReadFails uint64
}

func (s *InterfaceStats) snapshot() InterfaceSnapshot {
	return InterfaceSnapshot{
		Name:      s.Name,
		FromHost:  s.FromHost.Load(),
		ToHost:    s.ToHost.Load(),
		Dropped:   s.Dropped.Load(),
		ReadFails: s.ReadFails.Load(),
	}
}
