package pdu

import "encoding/binary"

// Hello is the periodic, stateless, multicast beacon (spec §4.5).
//
// Wire body (after the common header):
//
//	LocalID [10]byte
//	HelloInterval uint16 (deciseconds)
type Hello struct {
	LocalID       [LocalIDSize]byte
	HelloInterval uint16
}

const helloBodyLen = LocalIDSize + 2

// Marshal encodes the PDU (header + body) into buf, returning the number
// of bytes written. buf must be at least HeaderSize+helloBodyLen bytes.
func (h *Hello) Marshal(buf []byte) int {
	total := HeaderSize + helloBodyLen
	EncodeHeader(buf, TypeHello, uint16(total))
	copy(buf[HeaderSize:], h.LocalID[:])
	binary.BigEndian.PutUint16(buf[HeaderSize+LocalIDSize:], h.HelloInterval)
	return total
}

// UnmarshalHello decodes a HELLO body. body is the PDU bytes after the
// common header, sized exactly to Header.Length-HeaderSize.
func UnmarshalHello(body []byte) (*Hello, error) {
	if len(body) < helloBodyLen {
		return nil, wrapShort("HELLO", helloBodyLen, len(body))
	}
	h := &Hello{}
	copy(h.LocalID[:], body[:LocalIDSize])
	h.HelloInterval = binary.BigEndian.Uint16(body[LocalIDSize : LocalIDSize+2])
	return h, nil
}

// Open carries the peer's local-id and proposed hold-time and is
// acknowledged; every acknowledgeable PDU carries a per-session sequence
// number assigned at enqueue time (spec §4.5, SPEC_FULL.md ACK scheme).
//
// Wire body:
//
//	LocalID [10]byte
//	HoldTime uint16 (seconds)
//	SeqNum uint32
type Open struct {
	LocalID  [LocalIDSize]byte
	HoldTime uint16
	SeqNum   uint32
}

const openBodyLen = LocalIDSize + 2 + 4

func (o *Open) Marshal(buf []byte) int {
	total := HeaderSize + openBodyLen
	EncodeHeader(buf, TypeOpen, uint16(total))
	copy(buf[HeaderSize:], o.LocalID[:])
	off := HeaderSize + LocalIDSize
	binary.BigEndian.PutUint16(buf[off:], o.HoldTime)
	binary.BigEndian.PutUint32(buf[off+2:], o.SeqNum)
	return total
}

func UnmarshalOpen(body []byte) (*Open, error) {
	if len(body) < openBodyLen {
		return nil, wrapShort("OPEN", openBodyLen, len(body))
	}
	o := &Open{}
	copy(o.LocalID[:], body[:LocalIDSize])
	o.HoldTime = binary.BigEndian.Uint16(body[LocalIDSize : LocalIDSize+2])
	o.SeqNum = binary.BigEndian.Uint32(body[LocalIDSize+2 : LocalIDSize+6])
	return o, nil
}
