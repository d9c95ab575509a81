package lsoemetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/arrcus/lsoe/internal/session"

	lsoemetrics "github.com/arrcus/lsoe/internal/metrics"
)

func testKey() session.PeerKey {
	return session.PeerKey{IfIndex: 3, PeerMAC: [6]byte{0, 0, 0, 0, 0, 9}}
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := lsoemetrics.NewCollector(reg)

	if c.FramesDropped == nil {
		t.Error("FramesDropped is nil")
	}
	if c.StateTransitions == nil {
		t.Error("StateTransitions is nil")
	}
	if c.RetransmitsExhausted == nil {
		t.Error("RetransmitsExhausted is nil")
	}
	if c.SessionsActive == nil {
		t.Error("SessionsActive is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestFrameDropped(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := lsoemetrics.NewCollector(reg)

	c.FrameDropped("bad_checksum")
	c.FrameDropped("bad_checksum")
	c.FrameDropped("reassembly_timeout")

	if got := counterValue(t, c.FramesDropped, "bad_checksum"); got != 2 {
		t.Errorf("FramesDropped(bad_checksum) = %v, want 2", got)
	}
	if got := counterValue(t, c.FramesDropped, "reassembly_timeout"); got != 1 {
		t.Errorf("FramesDropped(reassembly_timeout) = %v, want 1", got)
	}
}

func TestSessionStateChanged(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := lsoemetrics.NewCollector(reg)

	key := testKey()
	ifLabel := "3"
	peerLabel := "00:00:00:00:00:09"

	c.SessionStateChanged(key, session.StateIdle, session.StateOpenSent)
	if got := counterValue(t, c.StateTransitions, ifLabel, peerLabel, "Idle", "OpenSent"); got != 1 {
		t.Errorf("StateTransitions(Idle->OpenSent) = %v, want 1", got)
	}
	if got := gaugeValue(t, c.SessionsActive, ifLabel, peerLabel); got != 0 {
		t.Errorf("SessionsActive after OpenSent = %v, want 0", got)
	}

	c.SessionStateChanged(key, session.StateOpenSent, session.StateEstablished)
	if got := gaugeValue(t, c.SessionsActive, ifLabel, peerLabel); got != 1 {
		t.Errorf("SessionsActive after Established = %v, want 1", got)
	}

	c.SessionStateChanged(key, session.StateEstablished, session.StateClosing)
	if got := gaugeValue(t, c.SessionsActive, ifLabel, peerLabel); got != 0 {
		t.Errorf("SessionsActive after leaving Established = %v, want 0", got)
	}
}

func TestRetransmitExhausted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := lsoemetrics.NewCollector(reg)

	key := testKey()
	c.RetransmitExhausted(key, "OPEN")
	c.RetransmitExhausted(key, "OPEN")

	if got := counterValue(t, c.RetransmitsExhausted, "3", "00:00:00:00:00:09", "OPEN"); got != 2 {
		t.Errorf("RetransmitsExhausted(OPEN) = %v, want 2", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
