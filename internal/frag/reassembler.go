package frag

import (
	"time"

	"github.com/arrcus/lsoe/internal/pdu"
)

// PeerSource identifies the origin of an inbound frame for reassembly
// bucketing: the interface it arrived on plus the sender's MAC. This is
// the same pair that forms a session.PeerKey, so each peer has exactly
// one reassembly buffer.
type PeerSource struct {
	IfIndex int
	SrcMAC  [6]byte
}

// buffer holds in-progress reassembly state for one PeerSource.
type buffer struct {
	expectedNext uint8
	totalLength  uint16
	payload      []byte
	lastProgress time.Time
}

// Reassembler accumulates inbound frames per PeerSource and yields a
// complete PDU body once the last frame of a sequence arrives. It is
// not safe for concurrent use; callers drive it from a single event
// loop goroutine (see internal/engine).
type Reassembler struct {
	ttl     time.Duration
	buffers map[PeerSource]*buffer

	// OutOfOrder and TimedOut count the corresponding drop reasons for
	// metrics purposes; callers read and reset as needed.
	OutOfOrder int
	TimedOut   int
}

// NewReassembler returns a Reassembler that discards a peer's buffer if
// no progress is made for longer than ttl.
func NewReassembler(ttl time.Duration) *Reassembler {
	return &Reassembler{ttl: ttl, buffers: make(map[PeerSource]*buffer)}
}

// Feed processes one inbound frame from src, observed at now. It
// returns (body, true) when the frame completes a PDU; otherwise body
// is nil and ok is false. A frame that violates the sequencing rules is
// dropped and its buffer reset; Feed returns (nil, false) in that case
// too, with OutOfOrder incremented — callers that want to
// surface the drop as an event should check the counters.
func (r *Reassembler) Feed(src PeerSource, f pdu.Frame, now time.Time) (body []byte, ok bool) {
	buf, exists := r.buffers[src]

	if f.PDUNumber == 0 {
		// A fresh sequence start always resets any stale partial buffer
		// for this peer, matching the "mixing resets the assembler"
		// invariant for first-frame arrivals.
		buf = &buffer{expectedNext: 0, totalLength: f.Length, lastProgress: now}
		r.buffers[src] = buf
	} else {
		if !exists || f.PDUNumber != buf.expectedNext {
			delete(r.buffers, src)
			r.OutOfOrder++
			return nil, false
		}
	}

	buf.payload = append(buf.payload, f.Payload...)
	buf.lastProgress = now
	buf.expectedNext++

	if f.Last {
		complete := buf.payload
		delete(r.buffers, src)
		return complete, true
	}
	return nil, false
}

// ExpireStale evicts any buffer that has made no progress since before
// now.Add(-ttl), returning the number of buffers discarded.
func (r *Reassembler) ExpireStale(now time.Time) int {
	cutoff := now.Add(-r.ttl)
	evicted := 0
	for src, buf := range r.buffers {
		if buf.lastProgress.Before(cutoff) {
			delete(r.buffers, src)
			evicted++
		}
	}
	r.TimedOut += evicted
	return evicted
}
