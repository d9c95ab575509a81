package pdu

import (
	"encoding/binary"
	"fmt"
)

// wrapShort builds a consistent ErrBufferTooShort-wrapped error for a
// named PDU kind.
func wrapShort(kind string, want, got int) error {
	return fmt.Errorf("decode %s body: need %d bytes, got %d: %w: %w",
		kind, want, got, ErrBufferTooShort, ErrMalformedPDU)
}

// Keepalive has no body; its presence on the wire is the entire signal.
// Unlike most PDU kinds it is not placed on the retransmit queue: its
// body carries no SeqNum, so there is nothing for a peer's ACK to
// identify, and a lost KEEPALIVE is superseded by the next one anyway
// (spec §4.5).
type Keepalive struct{}

func (k *Keepalive) Marshal(buf []byte) int {
	EncodeHeader(buf, TypeKeepalive, HeaderSize)
	return HeaderSize
}

func UnmarshalKeepalive(body []byte) (*Keepalive, error) {
	return &Keepalive{}, nil
}

// Ack acknowledges a single retransmit-queue entry, identified by the
// (PDU kind, sequence number) pair assigned when it was enqueued.
//
// Wire body:
//
//	AckedType uint8
//	Reserved  uint8 (MBZ)
//	AckedSeq  uint32
type Ack struct {
	AckedType Type
	AckedSeq  uint32
}

const ackBodyLen = 1 + 1 + 4

func (a *Ack) Marshal(buf []byte) int {
	total := HeaderSize + ackBodyLen
	EncodeHeader(buf, TypeAck, uint16(total))
	buf[HeaderSize] = uint8(a.AckedType)
	buf[HeaderSize+1] = 0
	binary.BigEndian.PutUint32(buf[HeaderSize+2:], a.AckedSeq)
	return total
}

func UnmarshalAck(body []byte) (*Ack, error) {
	if len(body) < ackBodyLen {
		return nil, wrapShort("ACK", ackBodyLen, len(body))
	}
	if body[1] != 0 {
		return nil, fmt.Errorf("decode ACK body: %w: %w", ErrReservedNonZero, ErrMalformedPDU)
	}
	return &Ack{
		AckedType: Type(body[0]),
		AckedSeq:  binary.BigEndian.Uint32(body[2:6]),
	}, nil
}

// Close requests an orderly session teardown and is itself acknowledged
// so the initiator knows the peer has seen it (spec §4.5).
//
// Wire body:
//
//	Reserved uint32 (MBZ)
//	SeqNum   uint32
type Close struct {
	SeqNum uint32
}

const closeBodyLen = 4 + 4

func (c *Close) Marshal(buf []byte) int {
	total := HeaderSize + closeBodyLen
	EncodeHeader(buf, TypeClose, uint16(total))
	binary.BigEndian.PutUint32(buf[HeaderSize:], 0)
	binary.BigEndian.PutUint32(buf[HeaderSize+4:], c.SeqNum)
	return total
}

func UnmarshalClose(body []byte) (*Close, error) {
	if len(body) < closeBodyLen {
		return nil, wrapShort("CLOSE", closeBodyLen, len(body))
	}
	if binary.BigEndian.Uint32(body[0:4]) != 0 {
		return nil, fmt.Errorf("decode CLOSE body: %w: %w", ErrReservedNonZero, ErrMalformedPDU)
	}
	return &Close{SeqNum: binary.BigEndian.Uint32(body[4:8])}, nil
}

// ErrorCode enumerates the error kinds surfaced to a peer in an ERROR PDU
// (spec §7). Not every error kind in spec §7 crosses the wire — only the
// ones whose policy is "surfaced to peer as ERROR PDU", plus the locally
// counted ones a peer may still want visibility into via Detail text.
type ErrorCode uint8

const (
	ErrorCodeMalformedPDU     ErrorCode = 1
	ErrorCodeVersionMismatch  ErrorCode = 2
	ErrorCodeUnknownPDUType   ErrorCode = 3
	ErrorCodeUnsupportedField ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeMalformedPDU:
		return "MalformedPDU"
	case ErrorCodeVersionMismatch:
		return "VersionMismatch"
	case ErrorCodeUnknownPDUType:
		return "UnknownPDUType"
	case ErrorCodeUnsupportedField:
		return "UnsupportedField"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// Error carries a machine-readable code plus free-form diagnostic text.
//
// Wire body:
//
//	Code     uint8
//	Reserved uint8 (MBZ)
//	SeqNum   uint32
//	Detail   []byte (remainder of the PDU, opaque UTF-8)
type Error struct {
	Code   ErrorCode
	SeqNum uint32
	Detail []byte
}

const errorHeaderLen = 1 + 1 + 4

func (e *Error) Marshal(buf []byte) int {
	total := HeaderSize + errorHeaderLen + len(e.Detail)
	EncodeHeader(buf, TypeError, uint16(total))
	buf[HeaderSize] = uint8(e.Code)
	buf[HeaderSize+1] = 0
	binary.BigEndian.PutUint32(buf[HeaderSize+2:], e.SeqNum)
	copy(buf[HeaderSize+errorHeaderLen:], e.Detail)
	return total
}

func UnmarshalError(body []byte) (*Error, error) {
	if len(body) < errorHeaderLen {
		return nil, wrapShort("ERROR", errorHeaderLen, len(body))
	}
	if body[1] != 0 {
		return nil, fmt.Errorf("decode ERROR body: %w: %w", ErrReservedNonZero, ErrMalformedPDU)
	}
	return &Error{
		Code:   ErrorCode(body[0]),
		SeqNum: binary.BigEndian.Uint32(body[2:6]),
		Detail: body[errorHeaderLen:],
	}, nil
}
