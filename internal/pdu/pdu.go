// Package pdu implements the LSOE wire codec: bit-exact encode/decode of
// every Protocol Data Unit kind defined by draft-ietf-lsvr-lsoe-01, plus
// the 8-byte transport frame header that carries fragments of a PDU.
//
// All multi-byte integers are network byte order (big-endian). Decoding
// never allocates beyond the returned struct; byte slices referencing the
// vendor/error payload point back into the caller's buffer and must be
// copied by the caller if the buffer is reused.
package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the common PDU header: Version(1) + Type(1) + Length(2).
const HeaderSize = 4

// LocalIDSize is the fixed width of the opaque router identifier carried
// in HELLO and OPEN.
const LocalIDSize = 10

// Version is the only LSOE PDU version this codec understands.
const Version uint8 = 0

// Type identifies a PDU's body layout (draft-ietf-lsvr-lsoe-01 §6).
type Type uint8

// PDU type codes, per spec §6.
const (
	TypeHello Type = 1
	TypeOpen  Type = 2
	TypeKeepalive Type = 3
	TypeAck       Type = 4
	TypeIPv4Encap Type = 5
	TypeIPv6Encap Type = 6
	TypeMPLSEncap Type = 7
	TypeVendor    Type = 8
	TypeError     Type = 9
	TypeClose     Type = 10
)

// String returns the human-readable PDU type name.
func (t Type) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypeOpen:
		return "OPEN"
	case TypeKeepalive:
		return "KEEPALIVE"
	case TypeAck:
		return "ACK"
	case TypeIPv4Encap:
		return "IPv4-ENCAPSULATION"
	case TypeIPv6Encap:
		return "IPv6-ENCAPSULATION"
	case TypeMPLSEncap:
		return "MPLS-ENCAPSULATION"
	case TypeVendor:
		return "VENDOR"
	case TypeError:
		return "ERROR"
	case TypeClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Acknowledgeable reports whether PDUs of this type are placed on a
// session's retransmit queue awaiting an ACK. HELLO and ACK itself are
// excluded per spec §4.5; KEEPALIVE is also excluded since its body
// carries no SeqNum field to identify a retransmit-queue entry by.
func (t Type) Acknowledgeable() bool {
	return t != TypeHello && t != TypeAck && t != TypeKeepalive
}

// Sentinel decode errors. MalformedPDU wraps the more specific reason;
// callers that only care about the category should use errors.Is against
// ErrMalformedPDU.
var (
	// ErrMalformedPDU is the umbrella error for any decode failure that
	// must be surfaced to the peer as an ERROR PDU (spec §4.1, §7).
	ErrMalformedPDU = errors.New("malformed PDU")

	ErrBufferTooShort  = errors.New("buffer shorter than declared length")
	ErrCountOverrun    = errors.New("count field runs past buffer")
	ErrReservedNonZero = errors.New("reserved field must be zero")
	ErrUnknownPDUType  = errors.New("unknown PDU type")

	// ErrVersionMismatch marks a frame or PDU header carrying a version
	// byte this codec does not understand (spec §7).
	ErrVersionMismatch = errors.New("unsupported protocol version")
)

// Header is the 4-byte common PDU header shared by every PDU kind.
type Header struct {
	Version uint8
	Type    Type
	Length  uint16 // total PDU length including this header
}

// DecodeHeader reads the common header from buf. buf must be at least
// HeaderSize bytes; the caller has already checked this against the
// reassembled PDU length.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("decode header: %w: %w", ErrBufferTooShort, ErrMalformedPDU)
	}
	h := Header{
		Version: buf[0],
		Type:    Type(buf[1]),
		Length:  binary.BigEndian.Uint16(buf[2:4]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("decode header: version %d unsupported: %w: %w",
			h.Version, ErrVersionMismatch, ErrMalformedPDU)
	}
	if int(h.Length) < HeaderSize {
		return Header{}, fmt.Errorf("decode header: length %d below minimum %d: %w",
			h.Length, HeaderSize, ErrMalformedPDU)
	}
	if int(h.Length) > len(buf) {
		return Header{}, fmt.Errorf("decode header: length %d exceeds buffer %d: %w: %w",
			h.Length, len(buf), ErrBufferTooShort, ErrMalformedPDU)
	}
	return h, nil
}

// EncodeHeader writes the common header to buf[0:4].
func EncodeHeader(buf []byte, typ Type, length uint16) {
	buf[0] = Version
	buf[1] = uint8(typ)
	binary.BigEndian.PutUint16(buf[2:4], length)
}
