package engine

import "github.com/arrcus/lsoe/internal/session"

// MetricsRecorder receives counters the engine produces as it runs.
// internal/metrics implements this against Prometheus collectors; tests
// use a no-op or recording stub.
type MetricsRecorder interface {
	FrameDropped(reason string)
	SessionStateChanged(key session.PeerKey, from, to session.State)
	RetransmitExhausted(key session.PeerKey, kind string)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) FrameDropped(reason string)                                     {}
func (NoopMetrics) SessionStateChanged(key session.PeerKey, from, to session.State) {}
func (NoopMetrics) RetransmitExhausted(key session.PeerKey, kind string)            {}

// Notifier receives session lifecycle events the engine's dispatcher
// produces while applying FSM transitions, plus any change to an
// already-Established peer's address snapshot. The northbound pusher
// subscribes to this to know when to publish a new Snapshot (spec
// §4.7: "on any change to {peer address snapshot, session state, local
// interface set}").
type Notifier interface {
	SessionEstablished(key session.PeerKey, snap session.AddressSnapshot)
	SessionTerminated(key session.PeerKey)
	SnapshotChanged(key session.PeerKey, snap session.AddressSnapshot)
}

// NoopNotifier discards every notification.
type NoopNotifier struct{}

func (NoopNotifier) SessionEstablished(key session.PeerKey, snap session.AddressSnapshot) {}
func (NoopNotifier) SessionTerminated(key session.PeerKey)                               {}
func (NoopNotifier) SnapshotChanged(key session.PeerKey, snap session.AddressSnapshot)    {}
