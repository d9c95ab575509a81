//go:build linux

package netio

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// NetlinkInterfaceMonitor implements InterfaceMonitor using
// github.com/vishvananda/netlink: RTNETLINK link/address/route
// subscriptions normalized into the InterfaceAppeared/InterfaceGone/
// AddressAdded/AddressRemoved event stream (spec §4.3).
type NetlinkInterfaceMonitor struct {
	logger    *slog.Logger
	allowlist map[string]bool // empty means "allow everything eligible"

	events chan InterfaceEvent

	mu        sync.Mutex
	snapshots map[int]map[string]net.IPNet // ifIndex -> CIDR string -> addr
	names     map[int]string
}

// NewNetlinkInterfaceMonitor returns a monitor that, when allowlist is
// non-empty, only watches interfaces whose name appears in it. Loopback
// interfaces, and at startup enumeration interfaces with no address,
// are excluded unless named in allowlist.
func NewNetlinkInterfaceMonitor(logger *slog.Logger, allowlist []string) *NetlinkInterfaceMonitor {
	allow := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allow[name] = true
	}
	return &NetlinkInterfaceMonitor{
		logger:    logger.With(slog.String("component", "ifmon.netlink")),
		allowlist: allow,
		events:    make(chan InterfaceEvent, 64),
		snapshots: make(map[int]map[string]net.IPNet),
		names:     make(map[int]string),
	}
}

func (m *NetlinkInterfaceMonitor) eligible(attrs *netlink.LinkAttrs) bool {
	if m.allowlist[attrs.Name] {
		return true
	}
	if attrs.Flags&net.FlagLoopback != 0 {
		return false
	}
	return len(m.allowlist) == 0
}

// Run enumerates existing interfaces, subscribes to link/address/route
// updates, and emits normalized events until ctx is cancelled.
func (m *NetlinkInterfaceMonitor) Run(ctx context.Context) error {
	defer close(m.events)

	done := make(chan struct{})
	defer close(done)

	linkCh := make(chan netlink.LinkUpdate, 64)
	if err := netlink.LinkSubscribe(linkCh, done); err != nil {
		return err
	}
	addrCh := make(chan netlink.AddrUpdate, 64)
	if err := netlink.AddrSubscribe(addrCh, done); err != nil {
		return err
	}
	routeCh := make(chan netlink.RouteUpdate, 64)
	if err := netlink.RouteSubscribe(routeCh, done); err != nil {
		return err
	}

	m.enumerateStartup()

	m.logger.Info("interface monitor started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("interface monitor stopped")
			return nil

		case upd, ok := <-linkCh:
			if !ok {
				return nil
			}
			m.handleLinkUpdate(upd)

		case upd, ok := <-addrCh:
			if !ok {
				return nil
			}
			m.handleAddrUpdate(upd)

		case _, ok := <-routeCh:
			if !ok {
				return nil
			}
			// Kernel quirk: IPv6-address-added events are not reliably
			// delivered on AddrSubscribe on some kernels. Re-enumerate
			// and diff on every routing table change as a fallback
			// (spec §4.3).
			m.reconcileAddresses()
		}
	}
}

func (m *NetlinkInterfaceMonitor) enumerateStartup() {
	links, err := netlink.LinkList()
	if err != nil {
		m.logger.Error("enumerate links failed", slog.String("error", err.Error()))
		return
	}
	for _, link := range links {
		attrs := link.Attrs()
		if !m.eligible(attrs) {
			continue
		}
		addrs := m.currentAddrs(link)
		if len(addrs) == 0 && !m.allowlist[attrs.Name] {
			continue
		}
		m.emitInterfaceAppeared(attrs)
		for _, a := range addrs {
			m.emit(InterfaceEvent{Kind: AddressAdded, IfIndex: attrs.Index, IfName: attrs.Name, Addr: ipNetCopy(a)})
		}
	}
}

func (m *NetlinkInterfaceMonitor) currentAddrs(link netlink.Link) map[string]net.IPNet {
	result := make(map[string]net.IPNet)
	for _, family := range []int{netlink.FAMILY_V4, netlink.FAMILY_V6} {
		addrs, err := netlink.AddrList(link, family)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if a.IPNet == nil {
				continue
			}
			result[a.IPNet.String()] = *a.IPNet
		}
	}
	m.mu.Lock()
	m.snapshots[link.Attrs().Index] = result
	m.names[link.Attrs().Index] = link.Attrs().Name
	m.mu.Unlock()
	return result
}

func (m *NetlinkInterfaceMonitor) handleLinkUpdate(upd netlink.LinkUpdate) {
	attrs := upd.Link.Attrs()
	if !m.eligible(attrs) {
		return
	}
	if upd.Header.Type == unix.RTM_DELLINK {
		m.mu.Lock()
		delete(m.snapshots, attrs.Index)
		delete(m.names, attrs.Index)
		m.mu.Unlock()
		m.emit(InterfaceEvent{Kind: InterfaceGone, IfIndex: attrs.Index, IfName: attrs.Name})
		return
	}
	m.emitInterfaceAppeared(attrs)
}

func (m *NetlinkInterfaceMonitor) emitInterfaceAppeared(attrs *netlink.LinkAttrs) {
	m.emit(InterfaceEvent{
		Kind:    InterfaceAppeared,
		IfIndex: attrs.Index,
		IfName:  attrs.Name,
		MAC:     attrs.HardwareAddr,
		MTU:     attrs.MTU,
	})
}

func (m *NetlinkInterfaceMonitor) handleAddrUpdate(upd netlink.AddrUpdate) {
	m.mu.Lock()
	name := m.names[upd.LinkIndex]
	snap, ok := m.snapshots[upd.LinkIndex]
	if !ok {
		snap = make(map[string]net.IPNet)
		m.snapshots[upd.LinkIndex] = snap
	}
	key := upd.LinkAddress.String()
	if upd.NewAddr {
		snap[key] = upd.LinkAddress
	} else {
		delete(snap, key)
	}
	m.mu.Unlock()

	kind := AddressAdded
	if !upd.NewAddr {
		kind = AddressRemoved
	}
	addr := upd.LinkAddress
	m.emit(InterfaceEvent{Kind: kind, IfIndex: upd.LinkIndex, IfName: name, Addr: &addr})
}

// reconcileAddresses re-enumerates every tracked interface's addresses
// and synthesizes AddressAdded/AddressRemoved events for any drift
// against the last known snapshot.
func (m *NetlinkInterfaceMonitor) reconcileAddresses() {
	m.mu.Lock()
	indices := make([]int, 0, len(m.snapshots))
	for idx := range m.snapshots {
		indices = append(indices, idx)
	}
	m.mu.Unlock()

	for _, idx := range indices {
		link, err := netlink.LinkByIndex(idx)
		if err != nil {
			continue
		}
		attrs := link.Attrs()
		if !m.eligible(attrs) {
			continue
		}

		m.mu.Lock()
		old := m.snapshots[idx]
		m.mu.Unlock()

		fresh := m.currentAddrs(link)

		for key, addr := range fresh {
			if _, present := old[key]; !present {
				a := addr
				m.emit(InterfaceEvent{Kind: AddressAdded, IfIndex: idx, IfName: attrs.Name, Addr: &a})
			}
		}
		for key, addr := range old {
			if _, present := fresh[key]; !present {
				a := addr
				m.emit(InterfaceEvent{Kind: AddressRemoved, IfIndex: idx, IfName: attrs.Name, Addr: &a})
			}
		}
	}
}

func (m *NetlinkInterfaceMonitor) emit(ev InterfaceEvent) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("interface event dropped, channel full", slog.String("kind", ev.Kind.String()))
	}
}

// Events returns the normalized interface/address event channel.
func (m *NetlinkInterfaceMonitor) Events() <-chan InterfaceEvent {
	return m.events
}

// Close is a no-op; cancel the context passed to Run to stop the
// monitor and release its netlink subscriptions.
func (m *NetlinkInterfaceMonitor) Close() error {
	return nil
}

func ipNetCopy(n net.IPNet) *net.IPNet {
	return &n
}
