package engine

import (
	"net"
	"time"

	"github.com/arrcus/lsoe/internal/frag"
	"github.com/arrcus/lsoe/internal/pdu"
	"github.com/arrcus/lsoe/internal/session"
)

// maxPDUSize bounds the buffer used to marshal one PDU before
// fragmentation; every PDU kind the engine sends fits comfortably
// within this.
const maxPDUSize = 4096

// writeFragmented marshals body's frames and writes each to dst over
// ifc's socket, using the interface's MTU (spec §4.4).
func (e *Engine) writeFragmented(ifc *iface, body []byte, dst net.HardwareAddr) error {
	frames, err := frag.Fragment(body, ifc.mtu)
	if err != nil {
		return err
	}
	buf := make([]byte, pdu.FrameHeaderSize+len(body))
	for _, f := range frames {
		n, err := f.Marshal(buf)
		if err != nil {
			return err
		}
		if err := ifc.conn.WritePacket(buf[:n], dst); err != nil {
			return err
		}
	}
	return nil
}

// sendHello broadcasts a HELLO on ifc's socket. HELLO is not
// acknowledged and never enqueued for retransmission (spec §4.5).
func (e *Engine) sendHello(ifc *iface, now time.Time) {
	h := &pdu.Hello{LocalID: e.cfg.LocalID, HelloInterval: uint16(e.cfg.HelloInterval / (100 * time.Millisecond))}
	buf := make([]byte, maxPDUSize)
	n := h.Marshal(buf)
	_ = e.writeFragmented(ifc, buf[:n], e.cfg.HelloMulticastMAC)
}

// sendOpen sends (or re-sends) OPEN to sess's peer and enqueues it for
// retransmission until acknowledged.
func (e *Engine) sendOpen(ifc *iface, sess *session.Session, now time.Time) {
	seq := sess.NextSeqNum()
	o := &pdu.Open{LocalID: sess.LocalID, HoldTime: uint16(e.cfg.HoldTime / time.Second), SeqNum: seq}
	buf := make([]byte, maxPDUSize)
	n := o.Marshal(buf)
	payload := append([]byte(nil), buf[:n]...)
	dst := net.HardwareAddr(sess.Key.PeerMAC[:])
	sess.EnqueueRetransmit(pdu.TypeOpen, seq, payload, sess.Key.PeerMAC, now)
	e.scheduler.Schedule(now.Add(e.cfg.Retransmit.Base), sess.Key, ReasonRetransmit)
	_ = e.writeFragmented(ifc, payload, dst)
}

// sendClose sends (or re-sends) CLOSE and enqueues it for
// retransmission until acknowledged.
func (e *Engine) sendClose(ifc *iface, sess *session.Session, now time.Time) {
	seq := sess.NextSeqNum()
	c := &pdu.Close{SeqNum: seq}
	buf := make([]byte, maxPDUSize)
	n := c.Marshal(buf)
	payload := append([]byte(nil), buf[:n]...)
	dst := net.HardwareAddr(sess.Key.PeerMAC[:])
	sess.EnqueueRetransmit(pdu.TypeClose, seq, payload, sess.Key.PeerMAC, now)
	e.scheduler.Schedule(now.Add(e.cfg.Retransmit.Base), sess.Key, ReasonRetransmit)
	_ = e.writeFragmented(ifc, payload, dst)
}

// sendKeepalive sends a liveness KEEPALIVE and refreshes sess's send
// deadline. KEEPALIVE is never enqueued for retransmission (spec §4.5).
func (e *Engine) sendKeepalive(ifc *iface, sess *session.Session, now time.Time) {
	k := &pdu.Keepalive{}
	buf := make([]byte, maxPDUSize)
	n := k.Marshal(buf)
	dst := net.HardwareAddr(sess.Key.PeerMAC[:])
	_ = e.writeFragmented(ifc, buf[:n], dst)
	sess.SendDeadline = now.Add(sess.KeepaliveInterval)
	sess.LastSendActivity = now
	e.scheduler.Schedule(sess.SendDeadline, sess.Key, ReasonSendKeepalive)
}

// sendAck sends an ACK for (ackedType, ackedSeq) to dst. ACK is itself
// never acknowledged (spec §4.5).
func (e *Engine) sendAck(ifc *iface, sess *session.Session, ackedType pdu.Type, ackedSeq uint32, dst [6]byte, now time.Time) {
	a := &pdu.Ack{AckedType: ackedType, AckedSeq: ackedSeq}
	buf := make([]byte, maxPDUSize)
	n := a.Marshal(buf)
	_ = e.writeFragmented(ifc, buf[:n], net.HardwareAddr(dst[:]))
}

// sendError replies to src with an ERROR PDU carrying code, per spec §7
// ("surfaced to peer as ERROR PDU": MalformedPDU, VersionMismatch). The
// ERROR is sent once, with SeqNum 0, and is never enqueued for
// retransmission.
func (e *Engine) sendError(ifc *iface, src [6]byte, code pdu.ErrorCode, now time.Time) {
	errPDU := &pdu.Error{Code: code}
	buf := make([]byte, maxPDUSize)
	n := errPDU.Marshal(buf)
	_ = e.writeFragmented(ifc, buf[:n], net.HardwareAddr(src[:]))
}

// sendCurrentEncaps sends one ENCAPSULATION PDU per address family that
// has content (spec §4.5, ActionSendInitialEncaps): both IPv4 and IPv6
// are attempted on first reaching Established, and a family with no
// local addresses on the interface is skipped.
func (e *Engine) sendCurrentEncaps(sess *session.Session, now time.Time) {
	e.sendIPv4Encap(sess, now)
	e.sendIPv6Encap(sess, now)
}

// sendIPv4Encap sends the current IPv4-ENCAPSULATION content for sess's
// interface. If one is already outstanding on the retransmit queue, the
// new content is coalesced into that entry rather than placed on the
// wire a second time (SPEC_FULL.md §4.5: "the state machine never
// re-sends ENCAPSULATION for a family while one is already outstanding;
// the monitor-triggered resend instead coalesces the pending entry's
// payload").
func (e *Engine) sendIPv4Encap(sess *session.Session, now time.Time) {
	ifc, ok := e.ifaces[sess.Key.IfIndex]
	if !ok || len(ifc.ipv4) == 0 {
		return
	}
	prefixes := make([]pdu.Prefix4, 0, len(ifc.ipv4))
	for _, n := range ifc.ipv4 {
		ones, _ := n.Mask.Size()
		var p pdu.Prefix4
		copy(p.Addr[:], n.IP.To4())
		p.PrefixLen = uint8(ones)
		prefixes = append(prefixes, p)
	}
	seq := sess.NextSeqNum()
	enc := &pdu.IPv4Encap{SeqNum: seq, Prefixes: prefixes}
	buf := make([]byte, maxPDUSize)
	n := enc.Marshal(buf)
	payload := append([]byte(nil), buf[:n]...)
	if sess.CoalesceRetransmit(pdu.TypeIPv4Encap, seq, payload) {
		return
	}
	sess.EnqueueRetransmit(pdu.TypeIPv4Encap, seq, payload, sess.Key.PeerMAC, now)
	e.scheduler.Schedule(now.Add(e.cfg.Retransmit.Base), sess.Key, ReasonRetransmit)
	_ = e.writeFragmented(ifc, payload, net.HardwareAddr(sess.Key.PeerMAC[:]))
}

// sendIPv6Encap is sendIPv4Encap's IPv6 counterpart.
func (e *Engine) sendIPv6Encap(sess *session.Session, now time.Time) {
	ifc, ok := e.ifaces[sess.Key.IfIndex]
	if !ok || len(ifc.ipv6) == 0 {
		return
	}
	prefixes := make([]pdu.Prefix6, 0, len(ifc.ipv6))
	for _, n := range ifc.ipv6 {
		ones, _ := n.Mask.Size()
		var p pdu.Prefix6
		copy(p.Addr[:], n.IP.To16())
		p.PrefixLen = uint8(ones)
		prefixes = append(prefixes, p)
	}
	seq := sess.NextSeqNum()
	enc := &pdu.IPv6Encap{SeqNum: seq, Prefixes: prefixes}
	buf := make([]byte, maxPDUSize)
	n := enc.Marshal(buf)
	payload := append([]byte(nil), buf[:n]...)
	if sess.CoalesceRetransmit(pdu.TypeIPv6Encap, seq, payload) {
		return
	}
	sess.EnqueueRetransmit(pdu.TypeIPv6Encap, seq, payload, sess.Key.PeerMAC, now)
	e.scheduler.Schedule(now.Add(e.cfg.Retransmit.Base), sess.Key, ReasonRetransmit)
	_ = e.writeFragmented(ifc, payload, net.HardwareAddr(sess.Key.PeerMAC[:]))
}
