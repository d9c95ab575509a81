package session

import (
	"time"

	"github.com/arrcus/lsoe/internal/pdu"
)

// PeerKey uniquely identifies a session: local interface index paired
// with the peer's MAC address.
type PeerKey struct {
	IfIndex int
	PeerMAC [6]byte
}

// RetransmitParams bounds the retransmit queue's backoff behavior
// (spec §4.5, §6).
type RetransmitParams struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultRetransmitParams matches the spec's stated defaults.
var DefaultRetransmitParams = RetransmitParams{
	Base:        1 * time.Second,
	Cap:         30 * time.Second,
	MaxAttempts: 5,
}

// retransmitEntry is one outstanding acknowledgeable PDU. At most one
// entry exists per PDU kind per session (spec §3 invariant, property 5).
type retransmitEntry struct {
	seqNum      uint32
	payload     []byte
	dst         [6]byte
	firstSent   time.Time
	nextRetry   time.Time
	attempts    int
}

// AddressSnapshot is a peer's most recently advertised address/encap
// set for each PDU kind (IPv4, IPv6, and MPLS); a kind's entry is
// replaced atomically on each inbound ENCAPSULATION PDU of that kind
// (spec §4.5).
type AddressSnapshot struct {
	IPv4SeqNum uint32
	IPv4       []pdu.Prefix4
	IPv6SeqNum uint32
	IPv6       []pdu.Prefix6
	MPLSSeqNum uint32
	MPLS       []pdu.MPLSLabel
}

// Session holds all per-peer state: FSM state, retransmit queue,
// keepalive/hold deadlines, sequence counters, and the peer's declared
// identity and address snapshot (spec §3).
type Session struct {
	Key PeerKey

	State State

	// LocalID is this end's opaque 10-byte identifier, sent in every
	// HELLO and OPEN.
	LocalID [pdu.LocalIDSize]byte

	// PeerLocalID is the peer's declared identifier, learned from its
	// first HELLO or OPEN.
	PeerLocalID [pdu.LocalIDSize]byte

	// Initiator is true when this end's MAC is numerically lower than
	// the peer's, per the equal-MAC tiebreak resolution: on an exact
	// MAC tie neither side initiates and the session stays in Idle
	// until an operator intervenes.
	Initiator bool

	// HoldTime is the negotiated hold-time: the minimum of the two
	// sides' OPEN-advertised values (spec §4.5).
	HoldTime time.Duration

	// KeepaliveInterval is the period between KEEPALIVEs sent while
	// Established (spec §6, default 10s).
	KeepaliveInterval time.Duration

	// SendDeadline is when the next KEEPALIVE send is due; RecvDeadline
	// is when the session is considered expired for want of any
	// received frame (spec §4.5).
	SendDeadline time.Time
	RecvDeadline time.Time

	// LastSendActivity records when the last KEEPALIVE was sent. Other
	// outbound PDUs do not update it, and a KEEPALIVE is sent every
	// KeepaliveInterval while Established whether or not other traffic
	// was sent in between.
	LastSendActivity time.Time

	PeerSnapshot AddressSnapshot

	nextSeqNum uint32
	retransmit map[pdu.Type]*retransmitEntry
	params     RetransmitParams
}

// NewSession creates a session in StateIdle for key, with localID as
// this end's identifier and initiator reflecting the MAC tiebreak.
func NewSession(key PeerKey, localID [pdu.LocalIDSize]byte, initiator bool, params RetransmitParams) *Session {
	return &Session{
		Key:        key,
		State:      StateIdle,
		LocalID:    localID,
		Initiator:  initiator,
		retransmit: make(map[pdu.Type]*retransmitEntry),
		params:     params,
	}
}

// NextSeqNum returns the next per-session monotonic sequence number and
// advances the counter, per the ACK identifier scheme: every
// acknowledgeable PDU is assigned a SeqNum at enqueue time.
func (s *Session) NextSeqNum() uint32 {
	s.nextSeqNum++
	return s.nextSeqNum
}

// EnqueueRetransmit places an acknowledgeable PDU on the retransmit
// queue, replacing any existing entry of the same kind (spec §3
// invariant: at most one outstanding entry per kind).
func (s *Session) EnqueueRetransmit(kind pdu.Type, seqNum uint32, payload []byte, dst [6]byte, now time.Time) {
	s.retransmit[kind] = &retransmitEntry{
		seqNum:    seqNum,
		payload:   payload,
		dst:       dst,
		firstSent: now,
		nextRetry: now.Add(s.params.Base),
		attempts:  1,
	}
}

// CoalesceRetransmit updates an already-outstanding retransmit-queue
// entry's payload and sequence number in place, leaving its retry
// schedule untouched, instead of placing a fresh copy on the wire
// immediately. Reports whether an entry existed to coalesce into; when
// it returns false the caller must EnqueueRetransmit for a fresh send.
func (s *Session) CoalesceRetransmit(kind pdu.Type, seqNum uint32, payload []byte) bool {
	entry, ok := s.retransmit[kind]
	if !ok {
		return false
	}
	entry.seqNum = seqNum
	entry.payload = payload
	return true
}

// Ack removes the retransmit-queue entry of the given kind if its
// sequence number matches, reporting whether an entry was removed.
func (s *Session) Ack(kind pdu.Type, seqNum uint32) bool {
	entry, ok := s.retransmit[kind]
	if !ok || entry.seqNum != seqNum {
		return false
	}
	delete(s.retransmit, kind)
	return true
}

// ClearRetransmitQueue discards every pending retransmit-queue entry
// (used on a transition to a terminal state).
func (s *Session) ClearRetransmitQueue() {
	s.retransmit = make(map[pdu.Type]*retransmitEntry)
}

// DueRetransmit describes one retransmit-queue entry that has reached
// its retry deadline.
type DueRetransmit struct {
	Kind    pdu.Type
	SeqNum  uint32
	Payload []byte
	Dst     [6]byte
	// Exhausted is true when this entry has already reached
	// MaxAttempts; the caller must tear the session down instead of
	// resending.
	Exhausted bool
}

// PollRetransmits returns every entry whose nextRetry deadline has
// passed as of now, doubling its backoff (capped) and incrementing its
// attempt counter. Entries that have exhausted MaxAttempts are
// returned with Exhausted=true and removed from the queue; the caller
// is expected to tear the session down.
func (s *Session) PollRetransmits(now time.Time) []DueRetransmit {
	var due []DueRetransmit
	for kind, entry := range s.retransmit {
		if entry.nextRetry.After(now) {
			continue
		}
		if entry.attempts >= s.params.MaxAttempts {
			delete(s.retransmit, kind)
			due = append(due, DueRetransmit{Kind: kind, SeqNum: entry.seqNum, Payload: entry.payload, Dst: entry.dst, Exhausted: true})
			continue
		}
		entry.attempts++
		backoff := s.params.Base << uint(entry.attempts-1)
		if backoff > s.params.Cap || backoff <= 0 {
			backoff = s.params.Cap
		}
		entry.nextRetry = now.Add(backoff)
		due = append(due, DueRetransmit{Kind: kind, SeqNum: entry.seqNum, Payload: entry.payload, Dst: entry.dst})
	}
	return due
}

// NextRetransmitDeadline returns the earliest pending retransmit
// deadline across the queue, or zero time with ok=false if the queue
// is empty.
func (s *Session) NextRetransmitDeadline() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, entry := range s.retransmit {
		if !found || entry.nextRetry.Before(earliest) {
			earliest = entry.nextRetry
			found = true
		}
	}
	return earliest, found
}

// PendingKinds reports which PDU kinds currently have an outstanding,
// unacknowledged retransmit-queue entry.
func (s *Session) PendingKinds() []pdu.Type {
	kinds := make([]pdu.Type, 0, len(s.retransmit))
	for kind := range s.retransmit {
		kinds = append(kinds, kind)
	}
	return kinds
}
