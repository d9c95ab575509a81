package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/arrcus/lsoe/internal/frag"
	"github.com/arrcus/lsoe/internal/netio"
	"github.com/arrcus/lsoe/internal/pdu"
	"github.com/arrcus/lsoe/internal/session"
)

// maxFrameSize bounds the buffer used to read one Ethernet frame payload.
const maxFrameSize = 9000

// SocketFactory opens a bound raw-Ethernet socket for one interface. The
// engine calls it once per InterfaceAppeared event; production wiring
// passes a thin wrapper around netio.NewRawEthernetConn, tests pass an
// in-memory fake.
type SocketFactory func(ifName string, etherType uint16) (netio.PacketConn, error)

// iface tracks the engine's view of one monitored interface: its bound
// socket, MAC/MTU, scheduled HELLO beacon, and currently known local
// addresses (used to populate outbound ENCAPSULATION PDUs).
type iface struct {
	index     int
	name      string
	mac       net.HardwareAddr
	mtu       int
	conn      netio.PacketConn
	nextHello time.Time
	ipv4      map[string]net.IPNet
	ipv6      map[string]net.IPNet
}

// Engine is the process-wide coordinator described in spec §4.6: a
// single-threaded event loop that owns the session table, the
// interface set, the fragment reassembler, and the earliest-deadline
// scheduler. Nothing outside Run/Tick touches this state, so none of
// it needs synchronization (spec §5).
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	newConn SocketFactory

	sessions map[session.PeerKey]*session.Session
	ifaces   map[int]*iface

	scheduler   *Scheduler
	reassembler *frag.Reassembler

	metrics  MetricsRecorder
	notifier Notifier

	readBuf []byte
}

// NewEngine constructs an Engine with an empty session table. newConn is
// called once per discovered interface to open its raw socket.
func NewEngine(cfg Config, logger *slog.Logger, newConn SocketFactory, metrics MetricsRecorder, notifier Notifier) *Engine {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Engine{
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "engine")),
		newConn:     newConn,
		sessions:    make(map[session.PeerKey]*session.Session),
		ifaces:      make(map[int]*iface),
		scheduler:   NewScheduler(),
		reassembler: frag.NewReassembler(cfg.ReassemblyTTL),
		metrics:     metrics,
		notifier:    notifier,
		readBuf:     make([]byte, maxFrameSize),
	}
}

// Sessions returns the engine's live session table. Callers must only
// read it, and only from within the engine's own goroutine (e.g. from a
// Notifier callback) — Engine.Run is the sole writer (spec §5).
func (e *Engine) Sessions() map[session.PeerKey]*session.Session {
	return e.sessions
}

// InterfaceNames returns the engine's current interface-index-to-name
// mapping, for annotating northbound snapshots.
func (e *Engine) InterfaceNames() map[int]string {
	names := make(map[int]string, len(e.ifaces))
	for idx, ifc := range e.ifaces {
		names[idx] = ifc.name
	}
	return names
}

// allowed reports whether ifName passes the interface allowlist.
func (e *Engine) allowed(ifName string) bool {
	if len(e.cfg.Interfaces) == 0 {
		return true
	}
	for _, n := range e.cfg.Interfaces {
		if n == ifName {
			return true
		}
	}
	return false
}

// HandleMonitorEvent reacts to one netio.InterfaceEvent: opening or
// closing a socket, or reconciling address changes against established
// sessions bound to the affected interface (spec §4.3, §4.6).
func (e *Engine) HandleMonitorEvent(ev netio.InterfaceEvent, now time.Time) error {
	switch ev.Kind {
	case netio.InterfaceAppeared:
		if !e.allowed(ev.IfName) {
			return nil
		}
		conn, err := e.newConn(ev.IfName, e.cfg.EtherType)
		if err != nil {
			return fmt.Errorf("open socket on %s: %w", ev.IfName, err)
		}
		ifc := &iface{
			index:     ev.IfIndex,
			name:      ev.IfName,
			mac:       ev.MAC,
			mtu:       ev.MTU,
			conn:      conn,
			nextHello: now,
			ipv4:      make(map[string]net.IPNet),
			ipv6:      make(map[string]net.IPNet),
		}
		e.ifaces[ev.IfIndex] = ifc
		e.logger.Info("interface bound", slog.String("iface", ev.IfName), slog.Int("mtu", ev.MTU))

	case netio.InterfaceGone:
		ifc, ok := e.ifaces[ev.IfIndex]
		if !ok {
			return nil
		}
		if ifc.conn != nil {
			_ = ifc.conn.Close()
		}
		for key, sess := range e.sessions {
			if key.IfIndex == ev.IfIndex {
				sess.ClearRetransmitQueue()
				delete(e.sessions, key)
				e.notifier.SessionTerminated(key)
				e.metrics.SessionStateChanged(key, sess.State, session.StateDown)
			}
		}
		delete(e.ifaces, ev.IfIndex)
		e.logger.Info("interface unbound", slog.String("iface", ifc.name))

	case netio.AddressAdded, netio.AddressRemoved:
		ifc, ok := e.ifaces[ev.IfIndex]
		if !ok || ev.Addr == nil {
			return nil
		}
		isV6 := ev.Addr.IP.To4() == nil
		table := ifc.ipv4
		if isV6 {
			table = ifc.ipv6
		}
		if ev.Kind == netio.AddressAdded {
			table[ev.Addr.String()] = *ev.Addr
		} else {
			delete(table, ev.Addr.String())
		}
		e.resendEncapsForInterface(ev.IfIndex, isV6, now)
	}
	return nil
}

// resendEncapsForInterface re-sends the affected address family to
// every Established session bound to ifIndex, after a local address
// change (spec §4.3 reconciliation, §4.5). Only the family that
// actually changed is re-sent; the other family's ENCAPSULATION content
// is untouched.
func (e *Engine) resendEncapsForInterface(ifIndex int, v6 bool, now time.Time) {
	for key, sess := range e.sessions {
		if key.IfIndex != ifIndex || sess.State != session.StateEstablished {
			continue
		}
		if v6 {
			e.sendIPv6Encap(sess, now)
		} else {
			e.sendIPv4Encap(sess, now)
		}
	}
}

// Tick drains every bound socket, advances reassembly, and processes
// due scheduler deadlines. It is the engine's sole unit of work; Run
// calls it in a loop (spec §4.6, §5).
func (e *Engine) Tick(now time.Time) {
	for _, ifc := range e.ifaces {
		e.drainSocket(ifc, now)
		if now.Sub(ifc.nextHello) >= 0 {
			e.sendHello(ifc, now)
			ifc.nextHello = now.Add(e.cfg.HelloInterval)
		}
	}

	for _, fire := range e.scheduler.PopDue(now) {
		e.handleDeadline(fire, now)
	}

	e.reassembler.ExpireStale(now)
}

// drainSocket reads every pending frame from ifc's socket without
// blocking, reassembling and dispatching complete PDUs as they
// complete (spec §4.4).
func (e *Engine) drainSocket(ifc *iface, now time.Time) {
	for {
		n, meta, err := ifc.conn.ReadPacket(e.readBuf)
		if err != nil {
			return
		}
		var srcMAC [6]byte
		copy(srcMAC[:], meta.SrcMAC)

		frame, err := pdu.UnmarshalFrame(e.readBuf[:n])
		if err != nil {
			e.metrics.FrameDropped("checksum_or_malformed")
			e.replyDecodeError(ifc, srcMAC, err, now)
			continue
		}
		src := frag.PeerSource{IfIndex: ifc.index, SrcMAC: srcMAC}

		// UnmarshalFrame's Payload aliases e.readBuf; it must be copied
		// before the buffer is reused on the next ReadPacket call.
		payload := append([]byte(nil), frame.Payload...)
		frame.Payload = payload

		body, ok := e.reassembler.Feed(src, frame, now)
		if !ok {
			continue
		}
		hdr, val, err := pdu.Decode(body)
		if err != nil {
			e.metrics.FrameDropped("decode_error")
			e.replyDecodeError(ifc, srcMAC, err, now)
			continue
		}
		e.handleInboundPDU(ifc, srcMAC, meta, hdr, val, now)
	}
}

// replyDecodeError surfaces a frame or PDU decode failure to its source
// as an ERROR PDU (spec §7: "Surfaced to peer as ERROR PDU: MalformedPDU,
// VersionMismatch"). ChecksumFailure is excluded — it is recovered
// locally per policy and never reaches this function wrapped in
// pdu.ErrMalformedPDU. If a session already exists for the source and
// the failure is fatal (a version mismatch, or a buffer too short for
// its mandatory fields, pdu.ErrBufferTooShort), the FSM's
// EventFatalError is fired too (transitioning Established sessions to
// Closing; other states have no such transition and are unaffected).
// Any other decode failure leaves the session's state unchanged.
func (e *Engine) replyDecodeError(ifc *iface, srcMAC [6]byte, decodeErr error, now time.Time) {
	if !errors.Is(decodeErr, pdu.ErrMalformedPDU) {
		return
	}
	code := pdu.ErrorCodeMalformedPDU
	if errors.Is(decodeErr, pdu.ErrVersionMismatch) {
		code = pdu.ErrorCodeVersionMismatch
	}
	e.sendError(ifc, srcMAC, code, now)

	fatal := errors.Is(decodeErr, pdu.ErrVersionMismatch) || errors.Is(decodeErr, pdu.ErrBufferTooShort)
	key := peerKeyFor(ifc, srcMAC)
	if sess, ok := e.sessions[key]; ok && fatal {
		e.applyAndHandle(ifc, sess, session.EventFatalError, now)
	}
}

// peerKeyFor builds the session key for a frame received on ifc from
// srcMAC.
func peerKeyFor(ifc *iface, srcMAC [6]byte) session.PeerKey {
	return session.PeerKey{IfIndex: ifc.index, PeerMAC: srcMAC}
}

// lookupOrCreateSession returns the session for (ifc, srcMAC), creating
// it in StateIdle if this is the first frame seen from this peer. The
// initiator role is decided by MAC comparison (lower MAC initiates); an
// exact tie leaves both ends non-initiating until an operator
// intervenes, per the equal-MAC resolution in spec §4.5.
func (e *Engine) lookupOrCreateSession(ifc *iface, srcMAC [6]byte) *session.Session {
	key := peerKeyFor(ifc, srcMAC)
	sess, ok := e.sessions[key]
	if ok {
		return sess
	}
	initiator := bytes.Compare(ifc.mac, net.HardwareAddr(srcMAC[:])) < 0
	sess = session.NewSession(key, e.cfg.LocalID, initiator, e.cfg.Retransmit)
	sess.KeepaliveInterval = e.cfg.KeepaliveInterval
	sess.HoldTime = e.cfg.HoldTime
	e.sessions[key] = sess
	return sess
}

// handleInboundPDU dispatches one reassembled PDU to the session FSM
// and executes the resulting actions (spec §4.5).
func (e *Engine) handleInboundPDU(ifc *iface, srcMAC [6]byte, meta netio.PacketMeta, hdr pdu.Header, val any, now time.Time) {
	sess := e.lookupOrCreateSession(ifc, srcMAC)
	holdTime := sess.HoldTime
	if holdTime <= 0 {
		holdTime = e.cfg.HoldTime
	}
	sess.RecvDeadline = now.Add(holdTime)
	e.scheduler.Schedule(sess.RecvDeadline, sess.Key, ReasonRecvKeepaliveExpiry)

	switch p := val.(type) {
	case *pdu.Hello:
		sess.PeerLocalID = p.LocalID
		if sess.State == session.StateIdle && sess.Initiator {
			e.applyAndHandle(ifc, sess, session.EventLocalOpen, now)
		} else {
			e.applyAndHandle(ifc, sess, session.EventRecvHello, now)
		}

	case *pdu.Open:
		sess.PeerLocalID = p.LocalID
		negotiated := time.Duration(p.HoldTime) * time.Second
		if negotiated <= 0 || negotiated > e.cfg.HoldTime {
			negotiated = e.cfg.HoldTime
		}
		sess.HoldTime = negotiated
		e.sendAck(ifc, sess, pdu.TypeOpen, p.SeqNum, srcMAC, now)
		switch sess.State {
		case session.StateIdle:
			e.applyAndHandle(ifc, sess, session.EventRecvOpen, now)
		case session.StateOpenSent:
			e.applyAndHandle(ifc, sess, session.EventRecvOpen, now)
		}

	case *pdu.Keepalive:
		// liveness only; RecvDeadline already refreshed above.

	case *pdu.Ack:
		if sess.Ack(p.AckedType, p.AckedSeq) && p.AckedType == pdu.TypeOpen && sess.State == session.StateOpenRcvd {
			e.applyAndHandle(ifc, sess, session.EventBothOpenExchanged, now)
		}
		if p.AckedType == pdu.TypeClose && sess.State == session.StateClosing {
			e.applyAndHandle(ifc, sess, session.EventRecvCloseAck, now)
		}

	case *pdu.IPv4Encap:
		if p.SeqNum >= sess.PeerSnapshot.IPv4SeqNum {
			sess.PeerSnapshot.IPv4SeqNum = p.SeqNum
			sess.PeerSnapshot.IPv4 = p.Prefixes
			if sess.State == session.StateEstablished {
				e.notifier.SnapshotChanged(sess.Key, sess.PeerSnapshot)
			}
		}
		e.sendAck(ifc, sess, pdu.TypeIPv4Encap, p.SeqNum, srcMAC, now)

	case *pdu.IPv6Encap:
		if p.SeqNum >= sess.PeerSnapshot.IPv6SeqNum {
			sess.PeerSnapshot.IPv6SeqNum = p.SeqNum
			sess.PeerSnapshot.IPv6 = p.Prefixes
			if sess.State == session.StateEstablished {
				e.notifier.SnapshotChanged(sess.Key, sess.PeerSnapshot)
			}
		}
		e.sendAck(ifc, sess, pdu.TypeIPv6Encap, p.SeqNum, srcMAC, now)

	case *pdu.MPLSEncap:
		if p.SeqNum >= sess.PeerSnapshot.MPLSSeqNum {
			sess.PeerSnapshot.MPLSSeqNum = p.SeqNum
			sess.PeerSnapshot.MPLS = p.Labels
			if sess.State == session.StateEstablished {
				e.notifier.SnapshotChanged(sess.Key, sess.PeerSnapshot)
			}
		}
		e.sendAck(ifc, sess, pdu.TypeMPLSEncap, p.SeqNum, srcMAC, now)

	case *pdu.Vendor:
		// The PDU is discarded; no vendor body is interpreted here
		// (spec §4.1 Non-goals). The Vendor body carries no SeqNum to
		// echo, so no ACK is sent for it.

	case *pdu.Error:
		e.logger.Warn("received ERROR from peer",
			slog.String("iface", ifc.name), slog.String("code", p.Code.String()))

	case *pdu.Close:
		e.sendAck(ifc, sess, pdu.TypeClose, p.SeqNum, srcMAC, now)
		e.applyAndHandle(ifc, sess, session.EventRecvClose, now)
	}
}

// applyAndHandle runs the FSM and executes the resulting actions
// against the live session and socket.
func (e *Engine) applyAndHandle(ifc *iface, sess *session.Session, ev session.Event, now time.Time) {
	result := session.ApplyEvent(sess.State, ev)
	oldState := sess.State
	sess.State = result.NewState
	for _, action := range result.Actions {
		e.executeAction(ifc, sess, action, now)
	}
	if result.Changed {
		e.metrics.SessionStateChanged(sess.Key, oldState, sess.State)
		if sess.State.Terminal() {
			e.notifier.SessionTerminated(sess.Key)
			delete(e.sessions, sess.Key)
		}
	}
}

func (e *Engine) executeAction(ifc *iface, sess *session.Session, action session.Action, now time.Time) {
	switch action {
	case session.ActionSendOpen:
		e.sendOpen(ifc, sess, now)
	case session.ActionSendClose:
		e.sendClose(ifc, sess, now)
	case session.ActionSendInitialEncaps:
		e.sendCurrentEncaps(sess, now)
	case session.ActionNotifyEstablished:
		sess.SendDeadline = now.Add(sess.KeepaliveInterval)
		e.scheduler.Schedule(sess.SendDeadline, sess.Key, ReasonSendKeepalive)
		e.notifier.SessionEstablished(sess.Key, sess.PeerSnapshot)
	case session.ActionNotifyTerminal:
		e.notifier.SessionTerminated(sess.Key)
	case session.ActionClearRetransmitQueue:
		sess.ClearRetransmitQueue()
	}
}

// handleDeadline executes the action associated with one fired
// scheduler entry.
func (e *Engine) handleDeadline(fire deadlineFire, now time.Time) {
	sess, ok := e.sessions[fire.Key]
	if !ok {
		return
	}
	ifc, ok := e.ifaces[fire.Key.IfIndex]
	if !ok {
		return
	}

	switch fire.Reason {
	case ReasonRecvKeepaliveExpiry:
		if !sess.RecvDeadline.After(now) {
			e.applyAndHandle(ifc, sess, session.EventKeepaliveExpiry, now)
		}

	case ReasonSendKeepalive:
		if sess.State == session.StateEstablished && !now.Before(sess.SendDeadline) {
			e.sendKeepalive(ifc, sess, now)
		}

	case ReasonRetransmit:
		for _, due := range sess.PollRetransmits(now) {
			if due.Exhausted {
				e.metrics.RetransmitExhausted(sess.Key, due.Kind.String())
				sess.ClearRetransmitQueue()
				delete(e.sessions, sess.Key)
				e.notifier.SessionTerminated(sess.Key)
				continue
			}
			_ = e.writeFragmented(ifc, due.Payload, net.HardwareAddr(sess.Key.PeerMAC[:]))
		}
		if next, ok := sess.NextRetransmitDeadline(); ok {
			e.scheduler.Schedule(next, sess.Key, ReasonRetransmit)
		}
	}
}

// Run drives the engine until ctx is cancelled, ticking once per
// pollInterval and reacting to interface-monitor events in between
// (spec §4.6, §5). It is the sole goroutine that touches Engine state;
// callers compose it with the interface monitor and metrics server via
// golang.org/x/sync/errgroup at the process root only.
func (e *Engine) Run(ctx context.Context, monitor netio.InterfaceMonitor, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-monitor.Events():
			if !ok {
				return nil
			}
			if err := e.HandleMonitorEvent(ev, time.Now()); err != nil {
				e.logger.Error("interface event handling failed", slog.String("error", err.Error()))
			}
		case <-ticker.C:
			e.Tick(time.Now())
		}
	}
}
