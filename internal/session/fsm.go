// Package session implements the per-peer LSOE state machine, the
// retransmit queue and keepalive/hold timers that back it, and the
// peer address/encapsulation snapshot a session accumulates.
package session

// This file implements the LSOE session finite state machine as a pure
// function over a transition table -- no side effects, no Session
// dependency. This makes it trivially testable and auditable against
// the state table in the protocol description.
//
// State diagram:
//
//	Idle --local trigger--> OpenSent --recv OPEN--> Established
//	Idle --recv OPEN------> OpenRcvd --both OPENs--> Established
//	Established --local close, recv CLOSE or fatal error--> Closing
//	Established --keepalive expiry--> Down (terminal)
//	Closing --ACK for CLOSE or timeout--> Down / Closed (terminal)

// State is an LSOE session FSM state.
type State uint8

const (
	StateIdle State = iota
	StateOpenSent
	StateOpenRcvd
	StateEstablished
	StateClosing
	// StateDown is terminal: reached via keepalive timeout or
	// retransmit exhaustion, not a clean CLOSE exchange.
	StateDown
	// StateClosed is terminal: reached via a completed CLOSE/ACK
	// exchange.
	StateClosed
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateOpenSent:
		return "OpenSent"
	case StateOpenRcvd:
		return "OpenRcvd"
	case StateEstablished:
		return "Established"
	case StateClosing:
		return "Closing"
	case StateDown:
		return "Down"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a terminal state; a session in a
// terminal state is removed from the engine's session table.
func (s State) Terminal() bool {
	return s == StateDown || s == StateClosed
}

// Event is an LSOE FSM event.
type Event uint8

const (
	// EventLocalOpen is the local decision to initiate (the "initiator"
	// per the lower-MAC tiebreak).
	EventLocalOpen Event = iota

	// EventRecvHello is receipt of a HELLO from the peer.
	EventRecvHello

	// EventRecvOpen is receipt of an OPEN from the peer.
	EventRecvOpen

	// EventBothOpenExchanged is the second side of the OPEN exchange
	// completing (both sides have now seen each other's OPEN).
	EventBothOpenExchanged

	// EventLocalClose is a local decision to tear the session down.
	EventLocalClose

	// EventRecvClose is receipt of a CLOSE from the peer.
	EventRecvClose

	// EventRecvCloseAck is receipt of an ACK for our outstanding CLOSE.
	EventRecvCloseAck

	// EventKeepaliveExpiry is the receive-keepalive deadline firing
	// with no frame of any kind received in that interval.
	EventKeepaliveExpiry

	// EventCloseTimeout is the Closing state's retransmit queue
	// exhausting max-attempts without an ACK for CLOSE.
	EventCloseTimeout

	// EventFatalError is a malformed PDU whose error kind is fatal
	// (protocol-version-mismatch, missing-mandatory-field).
	EventFatalError
)

// String returns the human-readable event name.
func (e Event) String() string {
	switch e {
	case EventLocalOpen:
		return "LocalOpen"
	case EventRecvHello:
		return "RecvHello"
	case EventRecvOpen:
		return "RecvOpen"
	case EventBothOpenExchanged:
		return "BothOpenExchanged"
	case EventLocalClose:
		return "LocalClose"
	case EventRecvClose:
		return "RecvClose"
	case EventRecvCloseAck:
		return "RecvCloseAck"
	case EventKeepaliveExpiry:
		return "KeepaliveExpiry"
	case EventCloseTimeout:
		return "CloseTimeout"
	case EventFatalError:
		return "FatalError"
	default:
		return "Unknown"
	}
}

// Action is a side-effect the caller must execute after a transition.
// The FSM itself is a pure function; the engine's applyAndHandle
// (internal/engine) performs them.
type Action uint8

const (
	// ActionSendOpen triggers transmission (or retransmission) of OPEN.
	ActionSendOpen Action = iota + 1

	// ActionSendClose triggers transmission (or retransmission) of CLOSE.
	ActionSendClose

	// ActionSendInitialEncaps sends the current ENCAPSULATION PDU for
	// each address family with non-empty content.
	ActionSendInitialEncaps

	// ActionNotifyEstablished signals consumers that the session
	// reached Established.
	ActionNotifyEstablished

	// ActionNotifyTerminal signals consumers that the session reached
	// a terminal state and should be removed from the engine's table.
	ActionNotifyTerminal

	// ActionClearRetransmitQueue discards any pending retransmit-queue
	// entries (a terminal transition makes them moot).
	ActionClearRetransmitQueue
)

// String returns the human-readable action name.
func (a Action) String() string {
	switch a {
	case ActionSendOpen:
		return "SendOpen"
	case ActionSendClose:
		return "SendClose"
	case ActionSendInitialEncaps:
		return "SendInitialEncaps"
	case ActionNotifyEstablished:
		return "NotifyEstablished"
	case ActionNotifyTerminal:
		return "NotifyTerminal"
	case ActionClearRetransmitQueue:
		return "ClearRetransmitQueue"
	default:
		return "Unknown"
	}
}

// stateEvent is the FSM transition table key.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side-effects for one
// (state, event) pair.
type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event to the FSM.
type FSMResult struct {
	OldState State
	NewState State
	Actions  []Action
	Changed  bool
}

// fsmTable is the complete LSOE session FSM transition table. Every
// (state, event) pair listed here is a valid transition; unlisted
// pairs are silently ignored (event dropped).
var fsmTable = map[stateEvent]transition{
	// ===================================================================
	// Idle
	// ===================================================================

	// Idle + LocalOpen -> OpenSent: local end is the initiator (lower
	// MAC) and sends OPEN.
	{StateIdle, EventLocalOpen}: {
		newState: StateOpenSent,
		actions:  []Action{ActionSendOpen},
	},

	// Idle + RecvHello -> Idle: HELLO is stateless; it only creates the
	// session (handled before the FSM sees an event) and primes the
	// initiator decision. No transition by itself.
	{StateIdle, EventRecvHello}: {
		newState: StateIdle,
		actions:  nil,
	},

	// Idle + RecvOpen -> OpenRcvd: the peer initiated first.
	{StateIdle, EventRecvOpen}: {
		newState: StateOpenRcvd,
		actions:  []Action{ActionSendOpen},
	},

	// ===================================================================
	// OpenSent
	// ===================================================================

	// OpenSent + RecvOpen -> Established: peer's OPEN completes the
	// exchange (we already sent ours to enter OpenSent).
	{StateOpenSent, EventRecvOpen}: {
		newState: StateEstablished,
		actions:  []Action{ActionSendInitialEncaps, ActionNotifyEstablished},
	},

	// OpenSent + RecvHello -> OpenSent: HELLOs continue to arrive while
	// OPEN is outstanding; no-op.
	{StateOpenSent, EventRecvHello}: {
		newState: StateOpenSent,
		actions:  nil,
	},

	// OpenSent + KeepaliveExpiry -> Idle: OPEN was never acknowledged
	// nor answered within hold-time.
	{StateOpenSent, EventKeepaliveExpiry}: {
		newState: StateIdle,
		actions:  []Action{ActionClearRetransmitQueue},
	},

	// ===================================================================
	// OpenRcvd
	// ===================================================================

	// OpenRcvd + BothOpenExchanged -> Established: our own OPEN (sent
	// on entry to OpenRcvd) has now been acknowledged/exchanged.
	{StateOpenRcvd, EventBothOpenExchanged}: {
		newState: StateEstablished,
		actions:  []Action{ActionSendInitialEncaps, ActionNotifyEstablished},
	},

	{StateOpenRcvd, EventRecvHello}: {
		newState: StateOpenRcvd,
		actions:  nil,
	},

	{StateOpenRcvd, EventKeepaliveExpiry}: {
		newState: StateIdle,
		actions:  []Action{ActionClearRetransmitQueue},
	},

	// ===================================================================
	// Established
	// ===================================================================

	{StateEstablished, EventLocalClose}: {
		newState: StateClosing,
		actions:  []Action{ActionSendClose},
	},

	{StateEstablished, EventRecvClose}: {
		newState: StateClosing,
		actions:  []Action{ActionSendClose},
	},

	{StateEstablished, EventKeepaliveExpiry}: {
		newState: StateDown,
		actions:  []Action{ActionClearRetransmitQueue, ActionNotifyTerminal},
	},

	{StateEstablished, EventFatalError}: {
		newState: StateClosing,
		actions:  []Action{ActionSendClose},
	},

	// ===================================================================
	// Closing
	// ===================================================================

	// Closing + RecvCloseAck -> Closed: our CLOSE was acknowledged.
	{StateClosing, EventRecvCloseAck}: {
		newState: StateClosed,
		actions:  []Action{ActionClearRetransmitQueue, ActionNotifyTerminal},
	},

	// Closing + RecvClose -> Closed: peer's CLOSE crossed with ours;
	// either side's ACK suffices to complete the exchange.
	{StateClosing, EventRecvClose}: {
		newState: StateClosed,
		actions:  []Action{ActionClearRetransmitQueue, ActionNotifyTerminal},
	},

	{StateClosing, EventCloseTimeout}: {
		newState: StateDown,
		actions:  []Action{ActionClearRetransmitQueue, ActionNotifyTerminal},
	},

	{StateClosing, EventKeepaliveExpiry}: {
		newState: StateDown,
		actions:  []Action{ActionClearRetransmitQueue, ActionNotifyTerminal},
	},
}

// ApplyEvent applies event to currentState and returns the resulting
// transition. Unlisted (state, event) pairs leave the state unchanged
// and return no actions.
func ApplyEvent(currentState State, event Event) FSMResult {
	key := stateEvent{state: currentState, event: event}

	tr, ok := fsmTable[key]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
			Actions:  nil,
			Changed:  false,
		}
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
