// Package northbound reports the engine's current session state to a
// BGP-LS-style (RFC 7752 shape) consumer via an out-of-band HTTP push.
package northbound

import (
	"fmt"
	"net"

	"github.com/arrcus/lsoe/internal/pdu"
	"github.com/arrcus/lsoe/internal/session"
)

// SessionSummary is one session's reportable state: its peer identity,
// FSM state, and most recently advertised address/encap content.
type SessionSummary struct {
	IfIndex int      `json:"if_index"`
	IfName  string   `json:"if_name"`
	PeerMAC string   `json:"peer_mac"`
	PeerID  string   `json:"peer_id"`
	State   string   `json:"state"`
	IPv4    []string `json:"ipv4,omitempty"`
	IPv6    []string `json:"ipv6,omitempty"`
	MPLS    []uint32 `json:"mpls_labels,omitempty"`
}

// Snapshot is the JSON body POSTed to report-rfc7752-url. Unique holds one
// dedup key per entry in Sessions, in the same order; a consumer tracking
// Unique across pushes learns which sessions disappeared (spec §4.7, §8 S2).
type Snapshot struct {
	Unique   []string         `json:"unique"`
	Sessions []SessionSummary `json:"sessions"`
}

// uniqueKey derives a stable per-push dedup identifier from a session's
// peer key: a session disappearing and a different peer later reusing the
// same (ifIndex, MAC) pair are indistinguishable to a consumer beyond this
// key, which matches LSOE's own session identity model (spec §3).
func uniqueKey(key session.PeerKey) string {
	return fmt.Sprintf("%d-%02x%02x%02x%02x%02x%02x",
		key.IfIndex, key.PeerMAC[0], key.PeerMAC[1], key.PeerMAC[2],
		key.PeerMAC[3], key.PeerMAC[4], key.PeerMAC[5])
}

// BuildSnapshot assembles a Snapshot from the engine's current session
// table. ifNames maps interface index to name for readability in the
// reported JSON; a missing entry reports an empty IfName.
func BuildSnapshot(sessions map[session.PeerKey]*session.Session, ifNames map[int]string) Snapshot {
	snap := Snapshot{
		Unique:   make([]string, 0, len(sessions)),
		Sessions: make([]SessionSummary, 0, len(sessions)),
	}

	for key, sess := range sessions {
		if sess.State != session.StateEstablished {
			continue
		}

		summary := SessionSummary{
			IfIndex: key.IfIndex,
			IfName:  ifNames[key.IfIndex],
			PeerMAC: fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
				key.PeerMAC[0], key.PeerMAC[1], key.PeerMAC[2],
				key.PeerMAC[3], key.PeerMAC[4], key.PeerMAC[5]),
			PeerID: formatLocalID(sess.PeerLocalID),
			State:  sess.State.String(),
		}

		for _, p := range sess.PeerSnapshot.IPv4 {
			summary.IPv4 = append(summary.IPv4, formatPrefix(net.IP(p.Addr[:]), p.PrefixLen))
		}
		for _, p := range sess.PeerSnapshot.IPv6 {
			summary.IPv6 = append(summary.IPv6, formatPrefix(net.IP(p.Addr[:]), p.PrefixLen))
		}
		for _, l := range sess.PeerSnapshot.MPLS {
			summary.MPLS = append(summary.MPLS, l.Label)
		}

		snap.Unique = append(snap.Unique, uniqueKey(key))
		snap.Sessions = append(snap.Sessions, summary)
	}

	return snap
}

// formatPrefix renders an address/prefix-length pair in CIDR notation.
func formatPrefix(ip net.IP, prefixLen uint8) string {
	return fmt.Sprintf("%s/%d", ip.String(), prefixLen)
}

// formatLocalID renders a LocalID for JSON, trimming trailing zero padding.
func formatLocalID(id [pdu.LocalIDSize]byte) string {
	n := len(id)
	for n > 0 && id[n-1] == 0 {
		n--
	}
	return string(id[:n])
}
