package pdu

import "fmt"

// PDU is the common interface implemented by every decoded body type.
// Callers type-switch on the concrete type returned by Decode.
type PDU interface {
	Marshal(buf []byte) int
}

// Decode reads the common header from buf and dispatches to the
// type-specific body decoder, returning the concrete *Hello, *Open,
// *Keepalive, *Ack, *IPv4Encap, *IPv6Encap, *MPLSEncap, *Vendor,
// *Error, or *Close. Unknown, non-vendor type codes are rejected with
// ErrUnknownPDUType (spec §4.1).
func Decode(buf []byte) (Header, any, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Header{}, nil, err
	}
	body := buf[HeaderSize:h.Length]
	switch h.Type {
	case TypeHello:
		v, err := UnmarshalHello(body)
		return h, v, err
	case TypeOpen:
		v, err := UnmarshalOpen(body)
		return h, v, err
	case TypeKeepalive:
		v, err := UnmarshalKeepalive(body)
		return h, v, err
	case TypeAck:
		v, err := UnmarshalAck(body)
		return h, v, err
	case TypeIPv4Encap:
		v, err := UnmarshalIPv4Encap(body)
		return h, v, err
	case TypeIPv6Encap:
		v, err := UnmarshalIPv6Encap(body)
		return h, v, err
	case TypeMPLSEncap:
		v, err := UnmarshalMPLSEncap(body)
		return h, v, err
	case TypeVendor:
		v, err := UnmarshalVendor(body)
		return h, v, err
	case TypeError:
		v, err := UnmarshalError(body)
		return h, v, err
	case TypeClose:
		v, err := UnmarshalClose(body)
		return h, v, err
	default:
		return Header{}, nil, fmt.Errorf("decode PDU: type %d: %w: %w", uint8(h.Type), ErrUnknownPDUType, ErrMalformedPDU)
	}
}
