package northbound

import (
	"context"
	"log/slog"
	"time"

	"github.com/arrcus/lsoe/internal/session"
)

// pushTimeout bounds how long one triggered push may take, independent
// of the Pusher's own per-attempt HTTP timeout.
const pushTimeout = 10 * time.Second

// SnapshotSource is the subset of engine.Engine a PushNotifier reads to
// assemble a Snapshot. Declared locally (rather than importing
// internal/engine) so internal/engine can import internal/northbound
// without a cycle.
type SnapshotSource interface {
	Sessions() map[session.PeerKey]*session.Session
	InterfaceNames() map[int]string
}

// PushNotifier implements engine.Notifier: every session lifecycle event
// triggers a fresh Snapshot POST reflecting the engine's full current
// session table (spec §4.7: "On any change ... the engine invokes the
// northbound collaborator with a snapshot object").
type PushNotifier struct {
	pusher *Pusher
	source SnapshotSource
	logger *slog.Logger
}

// NewPushNotifier creates a PushNotifier that reads session state from
// source and POSTs snapshots through pusher.
func NewPushNotifier(pusher *Pusher, source SnapshotSource, logger *slog.Logger) *PushNotifier {
	return &PushNotifier{
		pusher: pusher,
		source: source,
		logger: logger.With(slog.String("component", "northbound.notifier")),
	}
}

// SessionEstablished triggers a snapshot push.
func (n *PushNotifier) SessionEstablished(key session.PeerKey, snap session.AddressSnapshot) {
	n.push()
}

// SessionTerminated triggers a snapshot push. By the time this fires the
// terminated session is either removed from the engine's table or in a
// terminal state, and BuildSnapshot keeps only Established sessions, so
// the new snapshot omits it (spec §8 S2).
func (n *PushNotifier) SessionTerminated(key session.PeerKey) {
	n.push()
}

// SnapshotChanged triggers a snapshot push when an already-Established
// peer's address/encap content changes (spec §8 S5).
func (n *PushNotifier) SnapshotChanged(key session.PeerKey, snap session.AddressSnapshot) {
	n.push()
}

func (n *PushNotifier) push() {
	snap := BuildSnapshot(n.source.Sessions(), n.source.InterfaceNames())

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if err := n.pusher.Push(ctx, snap); err != nil {
		n.logger.Warn("northbound push failed", slog.Any("error", err))
	}
}
