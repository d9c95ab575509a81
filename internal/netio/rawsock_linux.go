//go:build linux

package netio

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// RawEthernetConn implements PacketConn using an AF_PACKET/SOCK_RAW
// socket bound to one interface and the LSOE EtherType, with a classic
// BPF filter attached as a belt-and-braces drop of anything the kernel
// bind doesn't already exclude (spec §4.2).
type RawEthernetConn struct {
	fd        int
	ifIndex   int
	ifName    string
	localMAC  net.HardwareAddr
	etherType uint16
	mtu       int

	mu     sync.Mutex
	closed bool
}

func htons(v uint16) uint16 { return (v << 8) | (v >> 8) }

// NewRawEthernetConn opens and binds a raw socket on the named
// interface for the given EtherType.
func NewRawEthernetConn(ifName string, etherType uint16) (*RawEthernetConn, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("lookup interface %s: %w", ifName, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(etherType)))
	if err != nil {
		return nil, fmt.Errorf("raw socket on %s: %w (requires CAP_NET_RAW)", ifName, err)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(etherType),
		Ifindex:  ifi.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind raw socket to %s: %w", ifName, err)
	}

	if err := attachEtherTypeFilter(fd, etherType); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("attach BPF filter on %s: %w", ifName, err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblocking on %s: %w", ifName, err)
	}

	return &RawEthernetConn{
		fd:        fd,
		ifIndex:   ifi.Index,
		ifName:    ifi.Name,
		localMAC:  ifi.HardwareAddr,
		etherType: etherType,
		mtu:       ifi.MTU,
	}, nil
}

// attachEtherTypeFilter builds a classic BPF program that accepts only
// frames whose EtherType (offset 12, 2 bytes) matches etherType, and
// attaches it via SO_ATTACH_FILTER.
func attachEtherTypeFilter(fd int, etherType uint16) error {
	insns := []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(etherType), SkipTrue: 0, SkipFalse: 1},
		bpf.RetConstant{Val: 0x40000},
		bpf.RetConstant{Val: 0},
	}
	raw, err := bpf.Assemble(insns)
	if err != nil {
		return fmt.Errorf("assemble BPF program: %w", err)
	}

	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog)
}

// ReadPacket performs one non-blocking read, stripping the 14-byte
// Ethernet header and returning the EtherType payload plus its origin.
func (c *RawEthernetConn) ReadPacket(buf []byte) (int, PacketMeta, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, PacketMeta{}, ErrLinkDown
	}
	fd := c.fd
	c.mu.Unlock()

	frame := make([]byte, len(buf)+ethernetHeaderLen)
	n, _, err := unix.Recvfrom(fd, frame, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, PacketMeta{}, ErrNoPacket
		}
		return 0, PacketMeta{}, fmt.Errorf("recvfrom on %s: %w", c.ifName, err)
	}
	if n <= ethernetHeaderLen {
		return 0, PacketMeta{}, ErrNoPacket
	}

	srcMAC := net.HardwareAddr(append([]byte(nil), frame[6:12]...))
	payload := frame[ethernetHeaderLen:n]
	copied := copy(buf, payload)

	return copied, PacketMeta{IfIndex: c.ifIndex, IfName: c.ifName, SrcMAC: srcMAC}, nil
}

// ethernetHeaderLen is the fixed Ethernet header length (dst MAC + src MAC + EtherType).
const ethernetHeaderLen = 14

// WritePacket builds the Ethernet header for dst and this socket's
// bound interface/EtherType, then sends the frame.
func (c *RawEthernetConn) WritePacket(payload []byte, dst net.HardwareAddr) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrLinkDown
	}
	fd, ifIndex, etherType, mtu := c.fd, c.ifIndex, c.etherType, c.mtu
	c.mu.Unlock()

	if err := checkMTU(len(payload), mtu); err != nil {
		return err
	}

	frame := make([]byte, ethernetHeaderLen+len(payload))
	copy(frame[0:6], dst)
	copy(frame[6:12], c.localMAC)
	frame[12] = byte(etherType >> 8)
	frame[13] = byte(etherType)
	copy(frame[ethernetHeaderLen:], payload)

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(etherType),
		Ifindex:  ifIndex,
		Halen:    6,
	}
	copy(addr.Addr[:6], dst)

	if err := unix.Sendto(fd, frame, 0, addr); err != nil {
		return fmt.Errorf("sendto on %s: %w", c.ifName, err)
	}
	return nil
}

// Close shuts down and closes the underlying socket.
func (c *RawEthernetConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	return unix.Close(c.fd)
}

// LocalAddr returns the interface and MAC this socket is bound to.
func (c *RawEthernetConn) LocalAddr() PacketMeta {
	return PacketMeta{IfIndex: c.ifIndex, IfName: c.ifName, SrcMAC: c.localMAC}
}

// MTU returns the bound interface's MTU.
func (c *RawEthernetConn) MTU() int {
	return c.mtu
}
