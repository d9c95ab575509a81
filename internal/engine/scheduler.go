// Package engine is the process-wide coordinator: it owns the table of
// sessions, the HELLO beacon, the single-threaded scheduler that drives
// every per-session timer, and the fan-out from interface-monitor
// events into session creation/teardown (spec §4.6).
package engine

import (
	"container/heap"
	"time"

	"github.com/arrcus/lsoe/internal/session"
)

// Reason identifies why a scheduled wakeup was requested, so the
// engine's dispatcher knows what to do when the deadline fires without
// re-deriving it from session state.
type Reason uint8

const (
	ReasonHelloBeacon Reason = iota
	ReasonSendKeepalive
	ReasonRecvKeepaliveExpiry
	ReasonRetransmit
	ReasonReassemblyExpiry
)

// deadline is one entry in the scheduler's min-heap: the earliest time
// at which the engine must re-evaluate a given peer for a given
// reason.
type deadline struct {
	at     time.Time
	key    session.PeerKey
	reason Reason
	index  int // heap.Interface bookkeeping
}

// deadlineHeap implements container/heap.Interface, ordered by time.
type deadlineHeap []*deadline

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	d := x.(*deadline)
	d.index = len(*h)
	*h = append(*h, d)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	d.index = -1
	*h = old[:n-1]
	return d
}

// Scheduler is the engine's single global earliest-deadline queue. It
// is not safe for concurrent use; the engine's Run loop is its sole
// owner (spec §4.6, §5: a single-threaded cooperative event loop
// replaces a per-session goroutine model).
type Scheduler struct {
	h deadlineHeap
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.h)
	return s
}

// Schedule inserts a new deadline. Multiple deadlines may exist for the
// same (key, reason); the caller is responsible for ignoring stale
// entries that fire after a session has moved on (each entry carries
// enough information for the dispatcher to no-op safely).
func (s *Scheduler) Schedule(at time.Time, key session.PeerKey, reason Reason) {
	heap.Push(&s.h, &deadline{at: at, key: key, reason: reason})
}

// Len returns the number of pending deadlines.
func (s *Scheduler) Len() int { return s.h.Len() }

// Peek returns the earliest deadline without removing it.
func (s *Scheduler) Peek() (time.Time, bool) {
	if s.h.Len() == 0 {
		return time.Time{}, false
	}
	return s.h[0].at, true
}

// PopDue removes and returns every deadline whose time is at or before
// now, in ascending time order.
func (s *Scheduler) PopDue(now time.Time) []deadlineFire {
	var fired []deadlineFire
	for s.h.Len() > 0 && !s.h[0].at.After(now) {
		d := heap.Pop(&s.h).(*deadline)
		fired = append(fired, deadlineFire{Key: d.key, Reason: d.reason, At: d.at})
	}
	return fired
}

// deadlineFire is the externally-visible shape of a fired deadline.
type deadlineFire struct {
	Key    session.PeerKey
	Reason Reason
	At     time.Time
}
