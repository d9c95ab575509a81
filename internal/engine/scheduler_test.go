package engine

import (
	"testing"
	"time"

	"github.com/arrcus/lsoe/internal/session"
)

func TestSchedulerOrdersByTime(t *testing.T) {
	s := NewScheduler()
	base := time.Unix(0, 0)
	k1 := session.PeerKey{IfIndex: 1, PeerMAC: [6]byte{1}}
	k2 := session.PeerKey{IfIndex: 2, PeerMAC: [6]byte{2}}

	s.Schedule(base.Add(3*time.Second), k1, ReasonSendKeepalive)
	s.Schedule(base.Add(1*time.Second), k2, ReasonRecvKeepaliveExpiry)

	at, ok := s.Peek()
	if !ok || !at.Equal(base.Add(1*time.Second)) {
		t.Fatalf("expected earliest deadline first, got %v ok=%v", at, ok)
	}
}

func TestSchedulerPopDueOnlyReturnsDueEntries(t *testing.T) {
	s := NewScheduler()
	base := time.Unix(0, 0)
	k := session.PeerKey{IfIndex: 1, PeerMAC: [6]byte{1}}

	s.Schedule(base.Add(1*time.Second), k, ReasonSendKeepalive)
	s.Schedule(base.Add(5*time.Second), k, ReasonRetransmit)

	due := s.PopDue(base.Add(2 * time.Second))
	if len(due) != 1 || due[0].Reason != ReasonSendKeepalive {
		t.Fatalf("expected one due entry, got %v", due)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one remaining entry, got %d", s.Len())
	}

	due = s.PopDue(base.Add(10 * time.Second))
	if len(due) != 1 || due[0].Reason != ReasonRetransmit {
		t.Fatalf("expected retransmit entry now due, got %v", due)
	}
	if s.Len() != 0 {
		t.Fatal("expected empty scheduler")
	}
}

func TestSchedulerEmptyPeek(t *testing.T) {
	s := NewScheduler()
	if _, ok := s.Peek(); ok {
		t.Fatal("expected empty scheduler to report ok=false")
	}
}
