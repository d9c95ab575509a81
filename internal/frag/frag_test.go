package frag

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/arrcus/lsoe/internal/pdu"
)

func reassembleAll(t *testing.T, frames []pdu.Frame) []byte {
	t.Helper()
	r := NewReassembler(5 * time.Second)
	src := PeerSource{IfIndex: 1, SrcMAC: [6]byte{0, 1, 2, 3, 4, 5}}
	now := time.Unix(0, 0)
	var body []byte
	for _, f := range frames {
		b, ok := r.Feed(src, f, now)
		if ok {
			body = b
		}
	}
	return body
}

func TestFragmentReassembleRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 3000)
	frames, err := Fragment(payload, 1500)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if len(frames) < 2 {
		t.Fatalf("expected fragmentation, got %d frames", len(frames))
	}
	if !frames[len(frames)-1].Last {
		t.Fatalf("last frame not flagged")
	}

	got := reassembleAll(t, frames)
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestFragmentSingleFrame(t *testing.T) {
	payload := []byte("short pdu")
	frames, err := Fragment(payload, 1500)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if len(frames) != 1 || !frames[0].Last || frames[0].PDUNumber != 0 {
		t.Fatalf("expected single last frame, got %+v", frames)
	}
	got := reassembleAll(t, frames)
	if !bytes.Equal(got, payload) {
		t.Fatalf("mismatch: %q", got)
	}
}

func TestFragmentRejectsUnfragmentableMTU(t *testing.T) {
	_, err := Fragment([]byte("x"), 10)
	if !errors.Is(err, ErrPDUTooLarge) {
		t.Fatalf("expected ErrPDUTooLarge, got %v", err)
	}
}

func TestReassemblerRejectsNonZeroFirstFrame(t *testing.T) {
	r := NewReassembler(5 * time.Second)
	src := PeerSource{IfIndex: 1}
	now := time.Unix(0, 0)

	_, ok := r.Feed(src, pdu.Frame{PDUNumber: 1, Payload: []byte("x")}, now)
	if ok {
		t.Fatal("expected incomplete result")
	}
	if r.OutOfOrder != 1 {
		t.Fatalf("expected OutOfOrder=1, got %d", r.OutOfOrder)
	}
}

func TestReassemblerResetsOnOutOfOrder(t *testing.T) {
	r := NewReassembler(5 * time.Second)
	src := PeerSource{IfIndex: 1}
	now := time.Unix(0, 0)

	r.Feed(src, pdu.Frame{PDUNumber: 0, Payload: []byte("a")}, now)
	// Skip sequence 1, send 2 directly.
	_, ok := r.Feed(src, pdu.Frame{PDUNumber: 2, Last: true, Payload: []byte("c")}, now)
	if ok {
		t.Fatal("expected reset, not completion")
	}
	if r.OutOfOrder != 1 {
		t.Fatalf("expected OutOfOrder=1, got %d", r.OutOfOrder)
	}

	// A fresh sequence-0 frame after the reset must succeed.
	body, ok := r.Feed(src, pdu.Frame{PDUNumber: 0, Last: true, Payload: []byte("z")}, now)
	if !ok || string(body) != "z" {
		t.Fatalf("expected fresh sequence to succeed, got %q ok=%v", body, ok)
	}
}

func TestReassemblerExpiresStaleBuffers(t *testing.T) {
	r := NewReassembler(5 * time.Second)
	src := PeerSource{IfIndex: 1}
	start := time.Unix(0, 0)

	r.Feed(src, pdu.Frame{PDUNumber: 0, Payload: []byte("partial")}, start)

	evicted := r.ExpireStale(start.Add(2 * time.Second))
	if evicted != 0 {
		t.Fatalf("expected no eviction before ttl, got %d", evicted)
	}

	evicted = r.ExpireStale(start.Add(6 * time.Second))
	if evicted != 1 {
		t.Fatalf("expected eviction after ttl, got %d", evicted)
	}
	if r.TimedOut != 1 {
		t.Fatalf("expected TimedOut=1, got %d", r.TimedOut)
	}

	// The peer can now start a fresh sequence.
	body, ok := r.Feed(src, pdu.Frame{PDUNumber: 0, Last: true, Payload: []byte("new")}, start.Add(7*time.Second))
	if !ok || string(body) != "new" {
		t.Fatalf("expected fresh sequence after eviction, got %q ok=%v", body, ok)
	}
}

func TestDistinctPeersReassembleIndependently(t *testing.T) {
	r := NewReassembler(5 * time.Second)
	a := PeerSource{IfIndex: 1, SrcMAC: [6]byte{1}}
	b := PeerSource{IfIndex: 1, SrcMAC: [6]byte{2}}
	now := time.Unix(0, 0)

	r.Feed(a, pdu.Frame{PDUNumber: 0, Payload: []byte("a0")}, now)
	r.Feed(b, pdu.Frame{PDUNumber: 0, Payload: []byte("b0")}, now)

	bodyA, okA := r.Feed(a, pdu.Frame{PDUNumber: 1, Last: true, Payload: []byte("a1")}, now)
	bodyB, okB := r.Feed(b, pdu.Frame{PDUNumber: 1, Last: true, Payload: []byte("b1")}, now)

	if !okA || string(bodyA) != "a0a1" {
		t.Fatalf("peer a mismatch: %q ok=%v", bodyA, okA)
	}
	if !okB || string(bodyB) != "b0b1" {
		t.Fatalf("peer b mismatch: %q ok=%v", bodyB, okB)
	}
}
