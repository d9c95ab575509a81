package engine

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/arrcus/lsoe/internal/netio"
	"github.com/arrcus/lsoe/internal/pdu"
	"github.com/arrcus/lsoe/internal/session"
)

// fakeConn is an in-memory netio.PacketConn for engine tests: ReadPacket
// drains a preloaded inbox, WritePacket records every frame sent.
type fakeConn struct {
	meta   netio.PacketMeta
	mtu    int
	inbox  [][]byte
	sent   [][]byte
	closed bool
}

func (c *fakeConn) ReadPacket(buf []byte) (int, netio.PacketMeta, error) {
	if len(c.inbox) == 0 {
		return 0, netio.PacketMeta{}, netio.ErrNoPacket
	}
	pkt := c.inbox[0]
	c.inbox = c.inbox[1:]
	n := copy(buf, pkt)
	return n, c.meta, nil
}

func (c *fakeConn) WritePacket(payload []byte, dst net.HardwareAddr) error {
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close() error               { c.closed = true; return nil }
func (c *fakeConn) LocalAddr() netio.PacketMeta { return c.meta }
func (c *fakeConn) MTU() int                    { return c.mtu }

func wrapSingleFrame(t *testing.T, body []byte) []byte {
	t.Helper()
	buf := make([]byte, pdu.FrameHeaderSize+len(body))
	f := pdu.Frame{Last: true, PDUNumber: 0, Length: uint16(len(body)), Payload: body}
	n, err := f.Marshal(buf)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return buf[:n]
}

func decodeSent(t *testing.T, raw []byte) (pdu.Header, any) {
	t.Helper()
	frame, err := pdu.UnmarshalFrame(raw)
	if err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	hdr, val, err := pdu.Decode(frame.Payload)
	if err != nil {
		t.Fatalf("decode pdu: %v", err)
	}
	return hdr, val
}

func findSentType(t *testing.T, c *fakeConn, typ pdu.Type) (pdu.Header, any, bool) {
	t.Helper()
	for _, raw := range c.sent {
		hdr, val := decodeSent(t, raw)
		if hdr.Type == typ {
			return hdr, val, true
		}
	}
	return pdu.Header{}, nil, false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupEngine(t *testing.T, localMAC net.HardwareAddr) (*Engine, *fakeConn) {
	t.Helper()
	conn := &fakeConn{mtu: 1500}
	cfg := DefaultConfig()
	copy(cfg.LocalID[:], []byte("engine-001"))
	newConn := func(ifName string, etherType uint16) (netio.PacketConn, error) { return conn, nil }
	eng := NewEngine(cfg, testLogger(), newConn, nil, nil)

	now := time.Unix(1000, 0)
	err := eng.HandleMonitorEvent(netio.InterfaceEvent{
		Kind: netio.InterfaceAppeared, IfIndex: 1, IfName: "eth0", MAC: localMAC, MTU: 1500,
	}, now)
	if err != nil {
		t.Fatalf("HandleMonitorEvent: %v", err)
	}
	conn.meta = netio.PacketMeta{IfIndex: 1, IfName: "eth0", SrcMAC: nil}
	return eng, conn
}

func TestHelloFromHigherMACTriggersLocalOpen(t *testing.T) {
	localMAC := net.HardwareAddr{0, 0, 0, 0, 0, 1} // lower: we are the initiator
	peerMAC := [6]byte{0, 0, 0, 0, 0, 2}

	eng, conn := setupEngine(t, localMAC)
	conn.meta.SrcMAC = net.HardwareAddr(peerMAC[:])

	var peerID [pdu.LocalIDSize]byte
	copy(peerID[:], []byte("peer-00001"))
	hello := &pdu.Hello{LocalID: peerID, HelloInterval: 50}
	buf := make([]byte, 64)
	n := hello.Marshal(buf)
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, buf[:n]))

	now := time.Unix(1000, 0)
	eng.Tick(now)

	key := session.PeerKey{IfIndex: 1, PeerMAC: peerMAC}
	sess, ok := eng.sessions[key]
	if !ok {
		t.Fatal("expected session to be created from HELLO")
	}
	if sess.State != session.StateOpenSent {
		t.Fatalf("expected OpenSent, got %v", sess.State)
	}
	if _, _, ok := findSentType(t, conn, pdu.TypeOpen); !ok {
		t.Fatal("expected OPEN to have been sent")
	}
}

func TestEqualMACNeitherInitiates(t *testing.T) {
	mac := net.HardwareAddr{0, 0, 0, 0, 0, 9}
	peerMAC := [6]byte{0, 0, 0, 0, 0, 9}

	eng, conn := setupEngine(t, mac)
	conn.meta.SrcMAC = net.HardwareAddr(peerMAC[:])

	var peerID [pdu.LocalIDSize]byte
	hello := &pdu.Hello{LocalID: peerID, HelloInterval: 50}
	buf := make([]byte, 64)
	n := hello.Marshal(buf)
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, buf[:n]))

	eng.Tick(time.Unix(1000, 0))

	key := session.PeerKey{IfIndex: 1, PeerMAC: peerMAC}
	sess, ok := eng.sessions[key]
	if !ok {
		t.Fatal("expected session to be created from HELLO")
	}
	if sess.State != session.StateIdle {
		t.Fatalf("expected session to remain Idle on MAC tie, got %v", sess.State)
	}
	if sess.Initiator {
		t.Fatal("expected neither side to claim initiator on exact MAC tie")
	}
}

func TestOpenExchangeReachesEstablished(t *testing.T) {
	localMAC := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	peerMAC := [6]byte{0, 0, 0, 0, 0, 2}

	eng, conn := setupEngine(t, localMAC)
	conn.meta.SrcMAC = net.HardwareAddr(peerMAC[:])

	now := time.Unix(1000, 0)
	var peerID [pdu.LocalIDSize]byte
	copy(peerID[:], []byte("peer-00001"))
	hello := &pdu.Hello{LocalID: peerID, HelloInterval: 50}
	hbuf := make([]byte, 64)
	hn := hello.Marshal(hbuf)
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, hbuf[:hn]))
	eng.Tick(now)

	key := session.PeerKey{IfIndex: 1, PeerMAC: peerMAC}
	if eng.sessions[key].State != session.StateOpenSent {
		t.Fatalf("expected OpenSent after HELLO, got %v", eng.sessions[key].State)
	}

	open := &pdu.Open{LocalID: peerID, HoldTime: 30, SeqNum: 1}
	obuf := make([]byte, 64)
	on := open.Marshal(obuf)
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, obuf[:on]))
	eng.Tick(now.Add(time.Second))

	sess := eng.sessions[key]
	if sess.State != session.StateEstablished {
		t.Fatalf("expected Established after peer OPEN, got %v", sess.State)
	}
	if _, ackVal, ok := findSentType(t, conn, pdu.TypeAck); !ok {
		t.Fatal("expected ACK for peer's OPEN")
	} else if ack := ackVal.(*pdu.Ack); ack.AckedType != pdu.TypeOpen || ack.AckedSeq != 1 {
		t.Fatalf("expected ACK(Open, seq=1), got %+v", ack)
	}
}

func TestRetransmitResendsUnackedOpen(t *testing.T) {
	localMAC := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	peerMAC := [6]byte{0, 0, 0, 0, 0, 2}

	eng, conn := setupEngine(t, localMAC)
	conn.meta.SrcMAC = net.HardwareAddr(peerMAC[:])

	now := time.Unix(2000, 0)
	var peerID [pdu.LocalIDSize]byte
	hello := &pdu.Hello{LocalID: peerID, HelloInterval: 50}
	hbuf := make([]byte, 64)
	hn := hello.Marshal(hbuf)
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, hbuf[:hn]))
	eng.Tick(now)

	sentAfterOpen := len(conn.sent)
	if sentAfterOpen == 0 {
		t.Fatal("expected OPEN to have been sent")
	}

	// Advance well past the base retransmit timeout with no ACK.
	eng.Tick(now.Add(5 * time.Second))

	if len(conn.sent) <= sentAfterOpen {
		t.Fatal("expected OPEN to have been retransmitted")
	}
}

// recordingNotifier implements Notifier and records which keys each
// method fires for, so tests can assert a northbound push was triggered
// without standing up a real Pusher.
type recordingNotifier struct {
	established []session.PeerKey
	terminated  []session.PeerKey
	changed     []session.PeerKey
}

func (r *recordingNotifier) SessionEstablished(key session.PeerKey, _ session.AddressSnapshot) {
	r.established = append(r.established, key)
}
func (r *recordingNotifier) SessionTerminated(key session.PeerKey) {
	r.terminated = append(r.terminated, key)
}
func (r *recordingNotifier) SnapshotChanged(key session.PeerKey, _ session.AddressSnapshot) {
	r.changed = append(r.changed, key)
}

func TestMalformedPDUTriggersErrorReply(t *testing.T) {
	localMAC := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	peerMAC := [6]byte{0, 0, 0, 0, 0, 2}

	eng, conn := setupEngine(t, localMAC)
	conn.meta.SrcMAC = net.HardwareAddr(peerMAC[:])

	// Hand-craft an IPv4-ENCAPSULATION body that declares 5 prefix
	// entries but carries none, overrunning the buffer (spec §8 S6).
	body := make([]byte, pdu.HeaderSize+6)
	pdu.EncodeHeader(body, pdu.TypeIPv4Encap, uint16(len(body)))
	body[pdu.HeaderSize] = 5 // count: claims 5 entries
	// body[HeaderSize+1] reserved, body[HeaderSize+2:HeaderSize+6] seqnum — left zero
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, body))

	now := time.Unix(5000, 0)
	eng.Tick(now)

	hdr, val, ok := findSentType(t, conn, pdu.TypeError)
	if !ok {
		t.Fatal("expected receiver to reply with ERROR(MalformedPDU)")
	}
	_ = hdr
	errPDU := val.(*pdu.Error)
	if errPDU.Code != pdu.ErrorCodeMalformedPDU {
		t.Fatalf("expected ErrorCodeMalformedPDU, got %v", errPDU.Code)
	}

	key := session.PeerKey{IfIndex: 1, PeerMAC: peerMAC}
	if _, ok := eng.sessions[key]; ok {
		t.Fatal("a malformed PDU from an unknown peer must not create a session")
	}
}

func TestAddressChangeResendsOnlyAffectedFamily(t *testing.T) {
	localMAC := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	peerMAC := [6]byte{0, 0, 0, 0, 0, 2}

	eng, conn := setupEngine(t, localMAC)
	conn.meta.SrcMAC = net.HardwareAddr(peerMAC[:])

	now := time.Unix(4000, 0)
	var peerID [pdu.LocalIDSize]byte
	hello := &pdu.Hello{LocalID: peerID, HelloInterval: 50}
	hbuf := make([]byte, 64)
	hn := hello.Marshal(hbuf)
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, hbuf[:hn]))
	eng.Tick(now)

	open := &pdu.Open{LocalID: peerID, HoldTime: 30, SeqNum: 1}
	obuf := make([]byte, 64)
	on := open.Marshal(obuf)
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, obuf[:on]))
	eng.Tick(now.Add(time.Second))

	key := session.PeerKey{IfIndex: 1, PeerMAC: peerMAC}
	if eng.sessions[key].State != session.StateEstablished {
		t.Fatalf("expected Established, got %v", eng.sessions[key].State)
	}
	conn.sent = nil

	v4 := &net.IPNet{IP: net.ParseIP("10.0.0.5").To4(), Mask: net.CIDRMask(24, 32)}
	if err := eng.HandleMonitorEvent(netio.InterfaceEvent{
		Kind: netio.AddressAdded, IfIndex: 1, Addr: v4,
	}, now.Add(2*time.Second)); err != nil {
		t.Fatalf("HandleMonitorEvent: %v", err)
	}

	if _, _, ok := findSentType(t, conn, pdu.TypeIPv4Encap); !ok {
		t.Fatal("expected IPv4-ENCAPSULATION to be resent after an IPv4 address change")
	}
	if _, _, ok := findSentType(t, conn, pdu.TypeIPv6Encap); ok {
		t.Fatal("IPv6-ENCAPSULATION must not be resent for an IPv4-only address change")
	}

	// A second address change while the first IPv4-ENCAPSULATION is
	// still outstanding (unacked) must coalesce into the pending
	// retransmit-queue entry rather than place a second copy on the wire.
	sentAfterFirst := len(conn.sent)
	v4b := &net.IPNet{IP: net.ParseIP("10.0.0.6").To4(), Mask: net.CIDRMask(24, 32)}
	if err := eng.HandleMonitorEvent(netio.InterfaceEvent{
		Kind: netio.AddressAdded, IfIndex: 1, Addr: v4b,
	}, now.Add(3*time.Second)); err != nil {
		t.Fatalf("HandleMonitorEvent: %v", err)
	}
	if len(conn.sent) != sentAfterFirst {
		t.Fatalf("expected coalesced resend to not place a new frame on the wire, sent went from %d to %d", sentAfterFirst, len(conn.sent))
	}
}

func TestSnapshotChangedFiresOnPostEstablishedEncapUpdate(t *testing.T) {
	localMAC := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	peerMAC := [6]byte{0, 0, 0, 0, 0, 2}

	conn := &fakeConn{mtu: 1500}
	cfg := DefaultConfig()
	copy(cfg.LocalID[:], []byte("engine-001"))
	newConn := func(ifName string, etherType uint16) (netio.PacketConn, error) { return conn, nil }
	notifier := &recordingNotifier{}
	eng := NewEngine(cfg, testLogger(), newConn, nil, notifier)

	now := time.Unix(6000, 0)
	if err := eng.HandleMonitorEvent(netio.InterfaceEvent{
		Kind: netio.InterfaceAppeared, IfIndex: 1, IfName: "eth0", MAC: localMAC, MTU: 1500,
	}, now); err != nil {
		t.Fatalf("HandleMonitorEvent: %v", err)
	}
	conn.meta = netio.PacketMeta{IfIndex: 1, IfName: "eth0", SrcMAC: net.HardwareAddr(peerMAC[:])}

	var peerID [pdu.LocalIDSize]byte
	hello := &pdu.Hello{LocalID: peerID, HelloInterval: 50}
	hbuf := make([]byte, 64)
	hn := hello.Marshal(hbuf)
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, hbuf[:hn]))
	eng.Tick(now)

	open := &pdu.Open{LocalID: peerID, HoldTime: 30, SeqNum: 1}
	obuf := make([]byte, 64)
	on := open.Marshal(obuf)
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, obuf[:on]))
	eng.Tick(now.Add(time.Second))

	key := session.PeerKey{IfIndex: 1, PeerMAC: peerMAC}
	if eng.sessions[key].State != session.StateEstablished {
		t.Fatalf("expected Established, got %v", eng.sessions[key].State)
	}
	if len(notifier.established) != 1 {
		t.Fatalf("expected one SessionEstablished notification, got %d", len(notifier.established))
	}

	// Peer sends an updated IPv4-ENCAPSULATION after Established (spec §8 S5).
	encap := &pdu.IPv4Encap{SeqNum: 1, Prefixes: []pdu.Prefix4{{Addr: [4]byte{10, 0, 0, 9}, PrefixLen: 32}}}
	ebuf := make([]byte, 64)
	en := encap.Marshal(ebuf)
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, ebuf[:en]))
	eng.Tick(now.Add(2 * time.Second))

	if len(notifier.changed) != 1 {
		t.Fatalf("expected one SnapshotChanged notification after post-Established encap update, got %d", len(notifier.changed))
	}
	if notifier.changed[0] != key {
		t.Fatalf("expected SnapshotChanged for %+v, got %+v", key, notifier.changed[0])
	}
}

func TestInterfaceGoneTearsDownSessions(t *testing.T) {
	localMAC := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	peerMAC := [6]byte{0, 0, 0, 0, 0, 2}

	eng, conn := setupEngine(t, localMAC)
	conn.meta.SrcMAC = net.HardwareAddr(peerMAC[:])

	now := time.Unix(3000, 0)
	var peerID [pdu.LocalIDSize]byte
	hello := &pdu.Hello{LocalID: peerID, HelloInterval: 50}
	hbuf := make([]byte, 64)
	hn := hello.Marshal(hbuf)
	conn.inbox = append(conn.inbox, wrapSingleFrame(t, hbuf[:hn]))
	eng.Tick(now)

	if len(eng.sessions) != 1 {
		t.Fatalf("expected one session before interface removal, got %d", len(eng.sessions))
	}

	if err := eng.HandleMonitorEvent(netio.InterfaceEvent{Kind: netio.InterfaceGone, IfIndex: 1}, now); err != nil {
		t.Fatalf("HandleMonitorEvent: %v", err)
	}
	if len(eng.sessions) != 0 {
		t.Fatalf("expected sessions cleared after interface removal, got %d", len(eng.sessions))
	}
	if !conn.closed {
		t.Fatal("expected socket to be closed")
	}
}
