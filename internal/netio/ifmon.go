package netio

import (
	"context"
	"log/slog"
	"net"
)

// -------------------------------------------------------------------------
// Interface Monitor — link and address state change detection
// -------------------------------------------------------------------------

// EventKind identifies the kind of change an InterfaceEvent reports.
type EventKind uint8

const (
	InterfaceAppeared EventKind = iota
	InterfaceGone
	AddressAdded
	AddressRemoved
)

// String returns the human-readable event kind name.
func (k EventKind) String() string {
	switch k {
	case InterfaceAppeared:
		return "InterfaceAppeared"
	case InterfaceGone:
		return "InterfaceGone"
	case AddressAdded:
		return "AddressAdded"
	case AddressRemoved:
		return "AddressRemoved"
	default:
		return "Unknown"
	}
}

// InterfaceEvent represents one change in local interface or address
// state. The engine consumes these to create, update, and destroy
// sessions bound to the affected interface (spec §4.3).
type InterfaceEvent struct {
	Kind    EventKind
	IfIndex int
	IfName  string
	MAC     net.HardwareAddr // set on InterfaceAppeared
	MTU     int              // set on InterfaceAppeared
	Addr    *net.IPNet       // set on AddressAdded / AddressRemoved
}

// InterfaceMonitor watches for interface and address state changes and
// emits a normalized event stream. It is the sole source of truth about
// local interface state; the engine never queries the kernel directly
// (spec §4.3).
//
// Usage:
//
//	mon := netio.NewNetlinkInterfaceMonitor(logger, allowlist)
//	events := mon.Events()
//	go func() {
//	    for ev := range events {
//	        handleLinkChange(ev)
//	    }
//	}()
//	mon.Run(ctx) // blocks until ctx is cancelled
type InterfaceMonitor interface {
	// Run starts monitoring. It blocks until ctx is cancelled. Detected
	// events are sent to the channel returned by Events(). Run must be
	// called at most once.
	Run(ctx context.Context) error

	// Events returns a read-only channel that receives interface state
	// change events. The channel is closed when Run returns.
	Events() <-chan InterfaceEvent

	// Close releases any resources held by the monitor. If Run is still
	// active, the caller should cancel the context first.
	Close() error
}

// StubInterfaceMonitor is a no-op implementation of InterfaceMonitor,
// used on platforms without a netlink-backed monitor and in tests that
// drive the engine via synthetic events instead.
type StubInterfaceMonitor struct {
	events chan InterfaceEvent
	logger *slog.Logger
}

// NewStubInterfaceMonitor creates a no-op interface monitor.
func NewStubInterfaceMonitor(logger *slog.Logger) *StubInterfaceMonitor {
	return &StubInterfaceMonitor{
		events: make(chan InterfaceEvent, 16),
		logger: logger.With(slog.String("component", "ifmon.stub")),
	}
}

// Run blocks until ctx is cancelled, emitting no events.
func (m *StubInterfaceMonitor) Run(ctx context.Context) error {
	m.logger.Info("stub interface monitor started (no-op)")
	<-ctx.Done()
	close(m.events)
	m.logger.Info("stub interface monitor stopped")
	return nil
}

// Events returns the (always empty) event channel.
func (m *StubInterfaceMonitor) Events() <-chan InterfaceEvent {
	return m.events
}

// Close is a no-op for the stub monitor.
func (m *StubInterfaceMonitor) Close() error {
	return nil
}
