package session

import (
	"testing"
	"time"

	"github.com/arrcus/lsoe/internal/pdu"
)

func newTestSession() *Session {
	var localID [pdu.LocalIDSize]byte
	copy(localID[:], []byte("local-0001"))
	return NewSession(PeerKey{IfIndex: 2, PeerMAC: [6]byte{1, 2, 3, 4, 5, 6}}, localID, true, DefaultRetransmitParams)
}

func TestNextSeqNumMonotonic(t *testing.T) {
	s := newTestSession()
	a := s.NextSeqNum()
	b := s.NextSeqNum()
	if b != a+1 {
		t.Fatalf("expected monotonic sequence, got %d then %d", a, b)
	}
}

func TestEnqueueAndAck(t *testing.T) {
	s := newTestSession()
	now := time.Unix(0, 0)
	seq := s.NextSeqNum()
	s.EnqueueRetransmit(pdu.TypeOpen, seq, []byte("payload"), [6]byte{9}, now)

	if len(s.PendingKinds()) != 1 {
		t.Fatalf("expected one pending kind, got %v", s.PendingKinds())
	}
	if !s.Ack(pdu.TypeOpen, seq) {
		t.Fatal("expected Ack to succeed")
	}
	if len(s.PendingKinds()) != 0 {
		t.Fatalf("expected empty queue after ack, got %v", s.PendingKinds())
	}
}

func TestAckWrongSeqNumFails(t *testing.T) {
	s := newTestSession()
	now := time.Unix(0, 0)
	seq := s.NextSeqNum()
	s.EnqueueRetransmit(pdu.TypeOpen, seq, []byte("payload"), [6]byte{9}, now)

	if s.Ack(pdu.TypeOpen, seq+100) {
		t.Fatal("expected Ack with wrong seqnum to fail")
	}
}

func TestAtMostOneEntryPerKind(t *testing.T) {
	s := newTestSession()
	now := time.Unix(0, 0)
	seq1 := s.NextSeqNum()
	s.EnqueueRetransmit(pdu.TypeOpen, seq1, []byte("first"), [6]byte{9}, now)
	seq2 := s.NextSeqNum()
	s.EnqueueRetransmit(pdu.TypeOpen, seq2, []byte("second"), [6]byte{9}, now)

	if len(s.PendingKinds()) != 1 {
		t.Fatalf("expected single entry per kind, got %d", len(s.PendingKinds()))
	}
	// The old seqnum must no longer be acknowledgeable; only the latest survives.
	if s.Ack(pdu.TypeOpen, seq1) {
		t.Fatal("stale seqnum must not ack the replacement entry")
	}
	if !s.Ack(pdu.TypeOpen, seq2) {
		t.Fatal("latest seqnum must ack the replacement entry")
	}
}

func TestPollRetransmitsBacksOffAndCaps(t *testing.T) {
	s := newTestSession()
	now := time.Unix(0, 0)
	seq := s.NextSeqNum()
	s.EnqueueRetransmit(pdu.TypeClose, seq, []byte("x"), [6]byte{1}, now)

	// First poll before the base timeout: nothing due.
	if due := s.PollRetransmits(now.Add(500 * time.Millisecond)); len(due) != 0 {
		t.Fatalf("expected nothing due yet, got %v", due)
	}

	// After base timeout elapses, it becomes due and backs off.
	due := s.PollRetransmits(now.Add(1100 * time.Millisecond))
	if len(due) != 1 || due[0].Exhausted {
		t.Fatalf("expected one non-exhausted due entry, got %v", due)
	}

	deadline, ok := s.NextRetransmitDeadline()
	if !ok || !deadline.After(now.Add(1100*time.Millisecond)) {
		t.Fatalf("expected backed-off deadline in the future, got %v ok=%v", deadline, ok)
	}
}

func TestPollRetransmitsExhaustsAfterMaxAttempts(t *testing.T) {
	s := newTestSession()
	now := time.Unix(0, 0)
	seq := s.NextSeqNum()
	s.EnqueueRetransmit(pdu.TypeClose, seq, []byte("x"), [6]byte{1}, now)

	cursor := now
	var lastDue []DueRetransmit
	for i := 0; i < DefaultRetransmitParams.MaxAttempts; i++ {
		cursor = cursor.Add(40 * time.Second) // always past any backoff, capped at 30s
		lastDue = s.PollRetransmits(cursor)
	}

	if len(lastDue) != 1 || !lastDue[0].Exhausted {
		t.Fatalf("expected exhaustion after max attempts, got %v", lastDue)
	}
	if len(s.PendingKinds()) != 0 {
		t.Fatal("expected queue cleared after exhaustion")
	}
}

func TestClearRetransmitQueue(t *testing.T) {
	s := newTestSession()
	now := time.Unix(0, 0)
	s.EnqueueRetransmit(pdu.TypeOpen, s.NextSeqNum(), []byte("x"), [6]byte{1}, now)
	s.ClearRetransmitQueue()
	if len(s.PendingKinds()) != 0 {
		t.Fatal("expected queue cleared")
	}
}
