package engine

import (
	"net"
	"time"

	"github.com/arrcus/lsoe/internal/pdu"
	"github.com/arrcus/lsoe/internal/session"
)

// Config holds every tunable the engine needs, sourced from
// internal/config at process startup (spec §6).
type Config struct {
	LocalID           [pdu.LocalIDSize]byte
	EtherType         uint16
	HelloMulticastMAC net.HardwareAddr
	HelloInterval     time.Duration
	KeepaliveInterval time.Duration
	HoldTime          time.Duration
	Retransmit        session.RetransmitParams
	ReassemblyTTL     time.Duration

	// Interfaces is the allowlist of interface names to bind; empty
	// means every non-loopback interface the monitor reports.
	Interfaces []string
}

// DefaultConfig mirrors the defaults named in spec §6 — the same
// values internal/config.DefaultConfig loads, expressed directly as an
// engine.Config for callers (chiefly tests) that construct an Engine
// without going through internal/config.
func DefaultConfig() Config {
	return Config{
		EtherType:         0x88B5,
		HelloMulticastMAC: net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x0E},
		HelloInterval:     15 * time.Second,
		KeepaliveInterval: 10 * time.Second,
		HoldTime:          40 * time.Second,
		Retransmit:        session.DefaultRetransmitParams,
		ReassemblyTTL:     5 * time.Second,
	}
}
