package netio

import (
	"errors"
	"fmt"
	"net"
)

// DefaultEtherType is the LSOE EtherType (spec §4.2, §6).
const DefaultEtherType uint16 = 0x88B5

// DefaultHelloMulticastMAC is the nearest-bridge-scoped multicast
// destination HELLO PDUs are sent to by default (spec §4.2, §6).
var DefaultHelloMulticastMAC = net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x0E}

// -------------------------------------------------------------------------
// Transport Metadata
// -------------------------------------------------------------------------

// PacketMeta carries the link-layer origin of a received frame:
// interface and source MAC, the (interface, src-mac) pair that keys
// both reassembly buffers and sessions (spec §3, §4.4).
type PacketMeta struct {
	IfIndex int
	IfName  string
	SrcMAC  net.HardwareAddr
}

// -------------------------------------------------------------------------
// PacketConn Interface
// -------------------------------------------------------------------------

// PacketConn abstracts send/receive of raw Ethernet frames carrying
// LSOE transport frames, one socket per monitored interface (spec
// §4.2). The interface is intentionally minimal so tests can substitute
// an in-memory implementation without CAP_NET_RAW.
type PacketConn interface {
	// ReadPacket reads one Ethernet frame's payload (EtherType payload,
	// not including the Ethernet header) into buf, non-blocking. It
	// returns (0, PacketMeta{}, ErrNoPacket) when nothing is pending.
	ReadPacket(buf []byte) (n int, meta PacketMeta, err error)

	// WritePacket sends payload to dst, prefixed with the Ethernet
	// header for this socket's bound interface and EtherType. Returns
	// ErrLinkDown if the socket has been torn down by the monitor.
	WritePacket(payload []byte, dst net.HardwareAddr) error

	// Close releases the underlying socket resources.
	Close() error

	// LocalAddr returns the MAC address and interface index this
	// socket is bound to.
	LocalAddr() PacketMeta

	// MTU returns the bound interface's MTU at socket creation time.
	MTU() int
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrLinkDown indicates an operation on a socket whose interface
	// has been torn down (spec §4.2, §7).
	ErrLinkDown = errors.New("link down")

	// ErrNoPacket indicates a non-blocking read found nothing pending.
	ErrNoPacket = errors.New("no packet available")

	// ErrFrameTooLarge indicates a frame exceeds the bound interface's
	// MTU and was rejected before transmission (spec §4.2).
	ErrFrameTooLarge = errors.New("frame exceeds interface MTU")
)

func checkMTU(payloadLen, mtu int) error {
	if payloadLen > mtu {
		return fmt.Errorf("payload %d bytes exceeds MTU %d: %w", payloadLen, mtu, ErrFrameTooLarge)
	}
	return nil
}
