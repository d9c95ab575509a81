// Package lsoemetrics exposes lsoed's runtime counters to Prometheus.
package lsoemetrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arrcus/lsoe/internal/session"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "lsoe"
	subsystem = "session"
)

// Label names for LSOE metrics.
const (
	labelIfIndex   = "if_index"
	labelPeerMAC   = "peer_mac"
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelReason    = "reason"
	labelKind      = "kind"
)

// -------------------------------------------------------------------------
// Collector — Prometheus LSOE Metrics
// -------------------------------------------------------------------------

// Collector holds all LSOE Prometheus metrics and implements
// engine.MetricsRecorder.
//
//   - FramesDropped tracks frames the engine discarded before they
//     reached a session (bad checksum, reassembly timeout, unknown type).
//   - StateTransitions counts FSM state transitions, labeled by peer and
//     old/new state, for alerting on flaps.
//   - RetransmitsExhausted counts sessions torn down because a PDU kind
//     went unacknowledged past the retransmit backoff's max attempts.
//   - SessionsActive gauges currently Established sessions.
type Collector struct {
	FramesDropped        *prometheus.CounterVec
	StateTransitions     *prometheus.CounterVec
	RetransmitsExhausted *prometheus.CounterVec
	SessionsActive       *prometheus.GaugeVec
}

// NewCollector creates a Collector with all LSOE metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.FramesDropped,
		c.StateTransitions,
		c.RetransmitsExhausted,
		c.SessionsActive,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	peerLabels := []string{labelIfIndex, labelPeerMAC}
	transitionLabels := []string{labelIfIndex, labelPeerMAC, labelFromState, labelToState}
	retransmitLabels := []string{labelIfIndex, labelPeerMAC, labelKind}

	return &Collector{
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "dropped_total",
			Help:      "Total frames dropped before being attributed to a session, by reason.",
		}, []string{labelReason}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total LSOE session FSM state transitions.",
		}, transitionLabels),

		RetransmitsExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retransmits_exhausted_total",
			Help:      "Total sessions torn down after exhausting retransmit attempts for a PDU kind.",
		}, retransmitLabels),

		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active",
			Help:      "Number of currently Established LSOE sessions.",
		}, peerLabels),
	}
}

// -------------------------------------------------------------------------
// engine.MetricsRecorder
// -------------------------------------------------------------------------

// FrameDropped increments the dropped-frame counter for reason.
func (c *Collector) FrameDropped(reason string) {
	c.FramesDropped.WithLabelValues(reason).Inc()
}

// SessionStateChanged records an FSM transition and keeps SessionsActive
// in sync: the gauge is set to 1 on entering Established and cleared on
// leaving it.
func (c *Collector) SessionStateChanged(key session.PeerKey, from, to session.State) {
	peerLabel, ifLabel := peerLabels(key)

	c.StateTransitions.WithLabelValues(ifLabel, peerLabel, from.String(), to.String()).Inc()

	switch {
	case to == session.StateEstablished:
		c.SessionsActive.WithLabelValues(ifLabel, peerLabel).Set(1)
	case from == session.StateEstablished:
		c.SessionsActive.WithLabelValues(ifLabel, peerLabel).Set(0)
	}
}

// RetransmitExhausted increments the retransmit-exhaustion counter for
// (key, kind).
func (c *Collector) RetransmitExhausted(key session.PeerKey, kind string) {
	peerLabel, ifLabel := peerLabels(key)
	c.RetransmitsExhausted.WithLabelValues(ifLabel, peerLabel, kind).Inc()
}

// peerLabels renders a PeerKey's fields as Prometheus label values.
func peerLabels(key session.PeerKey) (peerLabel, ifLabel string) {
	mac := key.PeerMAC
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5]),
		fmt.Sprintf("%d", key.IfIndex)
}
