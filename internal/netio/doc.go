// Package netio provides the raw-Ethernet socket abstraction and the
// interface/address monitor that the engine's scheduler polls and
// reacts to. Linux-specific implementation uses golang.org/x/sys/unix
// and golang.org/x/net/bpf for AF_PACKET/SOCK_RAW sockets bound to the
// LSOE EtherType, and github.com/vishvananda/netlink for interface and
// address enumeration and change subscription.
package netio
