package session

import "testing"

func TestApplyEventIdleLocalOpen(t *testing.T) {
	res := ApplyEvent(StateIdle, EventLocalOpen)
	if res.NewState != StateOpenSent || !res.Changed {
		t.Fatalf("got %+v", res)
	}
	if len(res.Actions) != 1 || res.Actions[0] != ActionSendOpen {
		t.Fatalf("unexpected actions: %v", res.Actions)
	}
}

func TestApplyEventIdleRecvOpen(t *testing.T) {
	res := ApplyEvent(StateIdle, EventRecvOpen)
	if res.NewState != StateOpenRcvd {
		t.Fatalf("got %+v", res)
	}
}

func TestApplyEventUnlistedIsNoOp(t *testing.T) {
	res := ApplyEvent(StateIdle, EventRecvCloseAck)
	if res.Changed || res.NewState != StateIdle || len(res.Actions) != 0 {
		t.Fatalf("expected no-op, got %+v", res)
	}
}

func TestEstablishedReachableFromBothSides(t *testing.T) {
	sent := ApplyEvent(StateOpenSent, EventRecvOpen)
	if sent.NewState != StateEstablished {
		t.Fatalf("OpenSent+RecvOpen got %+v", sent)
	}
	rcvd := ApplyEvent(StateOpenRcvd, EventBothOpenExchanged)
	if rcvd.NewState != StateEstablished {
		t.Fatalf("OpenRcvd+BothOpenExchanged got %+v", rcvd)
	}
}

func TestKeepaliveExpiryFromEveryNonTerminalState(t *testing.T) {
	cases := []State{StateOpenSent, StateOpenRcvd, StateEstablished, StateClosing}
	for _, s := range cases {
		res := ApplyEvent(s, EventKeepaliveExpiry)
		reset := (s == StateOpenSent || s == StateOpenRcvd) && res.NewState == StateIdle
		if !res.NewState.Terminal() && !reset {
			t.Errorf("state %v: keepalive expiry did not terminate or reset: %+v", s, res)
		}
	}
}

func TestClosingTerminalStates(t *testing.T) {
	if res := ApplyEvent(StateClosing, EventRecvCloseAck); res.NewState != StateClosed {
		t.Fatalf("got %+v", res)
	}
	if res := ApplyEvent(StateClosing, EventCloseTimeout); res.NewState != StateDown {
		t.Fatalf("got %+v", res)
	}
}

func TestTerminalStatesAreSticky(t *testing.T) {
	for _, s := range []State{StateDown, StateClosed} {
		for e := EventLocalOpen; e <= EventFatalError; e++ {
			res := ApplyEvent(s, e)
			if res.Changed {
				t.Errorf("terminal state %v changed on event %v: %+v", s, e, res)
			}
		}
	}
}

func TestStateStringAndTerminal(t *testing.T) {
	if StateIdle.String() != "Idle" || StateDown.String() != "Down" {
		t.Fatalf("unexpected strings")
	}
	if !StateDown.Terminal() || !StateClosed.Terminal() {
		t.Fatal("expected Down/Closed to be terminal")
	}
	if StateEstablished.Terminal() {
		t.Fatal("Established must not be terminal")
	}
}
