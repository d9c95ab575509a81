package pdu

import (
	"encoding/binary"
	"fmt"
)

// Prefix4 is one IPv4 prefix entry in an IPv4-ENCAPSULATION PDU.
type Prefix4 struct {
	Addr     [4]byte
	PrefixLen uint8
}

// IPv4Encap advertises the set of IPv4 prefixes reachable through the
// sender's encapsulation, replacing any previously advertised set for
// this session (spec §4.1, §4.5 — acknowledged, monotonic SeqNum).
//
// Wire body:
//
//	Count    uint8
//	Reserved uint8 (MBZ)
//	SeqNum   uint32
//	Prefixes []{ Addr [4]byte, PrefixLen uint8, Reserved uint8 (MBZ) }
type IPv4Encap struct {
	SeqNum   uint32
	Prefixes []Prefix4
}

const ipv4EncapHeaderLen = 1 + 1 + 4
const ipv4EncapEntryLen = 4 + 1 + 1

func (e *IPv4Encap) Marshal(buf []byte) int {
	total := HeaderSize + ipv4EncapHeaderLen + len(e.Prefixes)*ipv4EncapEntryLen
	EncodeHeader(buf, TypeIPv4Encap, uint16(total))
	buf[HeaderSize] = uint8(len(e.Prefixes))
	buf[HeaderSize+1] = 0
	binary.BigEndian.PutUint32(buf[HeaderSize+2:], e.SeqNum)
	off := HeaderSize + ipv4EncapHeaderLen
	for _, p := range e.Prefixes {
		copy(buf[off:], p.Addr[:])
		buf[off+4] = p.PrefixLen
		buf[off+5] = 0
		off += ipv4EncapEntryLen
	}
	return total
}

func UnmarshalIPv4Encap(body []byte) (*IPv4Encap, error) {
	if len(body) < ipv4EncapHeaderLen {
		return nil, wrapShort("IPv4-ENCAPSULATION", ipv4EncapHeaderLen, len(body))
	}
	if body[1] != 0 {
		return nil, fmt.Errorf("decode IPv4-ENCAPSULATION body: %w: %w", ErrReservedNonZero, ErrMalformedPDU)
	}
	count := int(body[0])
	seq := binary.BigEndian.Uint32(body[2:6])
	entries := body[ipv4EncapHeaderLen:]
	want := count * ipv4EncapEntryLen
	if len(entries) < want {
		return nil, fmt.Errorf("decode IPv4-ENCAPSULATION body: count %d needs %d bytes, have %d: %w: %w",
			count, want, len(entries), ErrCountOverrun, ErrMalformedPDU)
	}
	prefixes := make([]Prefix4, count)
	for i := 0; i < count; i++ {
		e := entries[i*ipv4EncapEntryLen:]
		if e[5] != 0 {
			return nil, fmt.Errorf("decode IPv4-ENCAPSULATION body: entry %d: %w: %w", i, ErrReservedNonZero, ErrMalformedPDU)
		}
		if e[4] > 32 {
			return nil, fmt.Errorf("decode IPv4-ENCAPSULATION body: entry %d: prefix length %d exceeds 32: %w", i, e[4], ErrMalformedPDU)
		}
		copy(prefixes[i].Addr[:], e[:4])
		prefixes[i].PrefixLen = e[4]
	}
	return &IPv4Encap{SeqNum: seq, Prefixes: prefixes}, nil
}

// Prefix6 is one IPv6 prefix entry in an IPv6-ENCAPSULATION PDU.
type Prefix6 struct {
	Addr      [16]byte
	PrefixLen uint8
}

// IPv6Encap is the IPv6 analogue of IPv4Encap (spec §4.1).
//
// Wire body:
//
//	Count    uint8
//	Reserved uint8 (MBZ)
//	SeqNum   uint32
//	Prefixes []{ Addr [16]byte, PrefixLen uint8, Reserved uint8 (MBZ) }
type IPv6Encap struct {
	SeqNum   uint32
	Prefixes []Prefix6
}

const ipv6EncapHeaderLen = 1 + 1 + 4
const ipv6EncapEntryLen = 16 + 1 + 1

func (e *IPv6Encap) Marshal(buf []byte) int {
	total := HeaderSize + ipv6EncapHeaderLen + len(e.Prefixes)*ipv6EncapEntryLen
	EncodeHeader(buf, TypeIPv6Encap, uint16(total))
	buf[HeaderSize] = uint8(len(e.Prefixes))
	buf[HeaderSize+1] = 0
	binary.BigEndian.PutUint32(buf[HeaderSize+2:], e.SeqNum)
	off := HeaderSize + ipv6EncapHeaderLen
	for _, p := range e.Prefixes {
		copy(buf[off:], p.Addr[:])
		buf[off+16] = p.PrefixLen
		buf[off+17] = 0
		off += ipv6EncapEntryLen
	}
	return total
}

func UnmarshalIPv6Encap(body []byte) (*IPv6Encap, error) {
	if len(body) < ipv6EncapHeaderLen {
		return nil, wrapShort("IPv6-ENCAPSULATION", ipv6EncapHeaderLen, len(body))
	}
	if body[1] != 0 {
		return nil, fmt.Errorf("decode IPv6-ENCAPSULATION body: %w: %w", ErrReservedNonZero, ErrMalformedPDU)
	}
	count := int(body[0])
	seq := binary.BigEndian.Uint32(body[2:6])
	entries := body[ipv6EncapHeaderLen:]
	want := count * ipv6EncapEntryLen
	if len(entries) < want {
		return nil, fmt.Errorf("decode IPv6-ENCAPSULATION body: count %d needs %d bytes, have %d: %w: %w",
			count, want, len(entries), ErrCountOverrun, ErrMalformedPDU)
	}
	prefixes := make([]Prefix6, count)
	for i := 0; i < count; i++ {
		e := entries[i*ipv6EncapEntryLen:]
		if e[17] != 0 {
			return nil, fmt.Errorf("decode IPv6-ENCAPSULATION body: entry %d: %w: %w", i, ErrReservedNonZero, ErrMalformedPDU)
		}
		if e[16] > 128 {
			return nil, fmt.Errorf("decode IPv6-ENCAPSULATION body: entry %d: prefix length %d exceeds 128: %w", i, e[16], ErrMalformedPDU)
		}
		copy(prefixes[i].Addr[:], e[:16])
		prefixes[i].PrefixLen = e[16]
	}
	return &IPv6Encap{SeqNum: seq, Prefixes: prefixes}, nil
}

// MPLSLabel is one label-stack entry in an MPLS-ENCAPSULATION PDU.
//
// Label population is an open item upstream (draft-ietf-lsvr-lsoe-01
// leaves the MPLS encapsulation model unspecified past the PDU
// envelope); this codec always encodes and expects Count == 0.
type MPLSLabel struct {
	Label uint32
}

// MPLSEncap is the MPLS analogue of IPv4Encap/IPv6Encap. Count is
// always 0 on encode; UnmarshalMPLSEncap rejects a nonzero Count since
// no label-stack semantics are implemented.
//
// Wire body:
//
//	Count    uint8
//	Reserved uint8 (MBZ)
//	SeqNum   uint32
//	Labels   []{ Label uint32 }
type MPLSEncap struct {
	SeqNum uint32
	Labels []MPLSLabel
}

const mplsEncapHeaderLen = 1 + 1 + 4
const mplsEncapEntryLen = 4

func (e *MPLSEncap) Marshal(buf []byte) int {
	total := HeaderSize + mplsEncapHeaderLen
	EncodeHeader(buf, TypeMPLSEncap, uint16(total))
	buf[HeaderSize] = 0
	buf[HeaderSize+1] = 0
	binary.BigEndian.PutUint32(buf[HeaderSize+2:], e.SeqNum)
	return total
}

func UnmarshalMPLSEncap(body []byte) (*MPLSEncap, error) {
	if len(body) < mplsEncapHeaderLen {
		return nil, wrapShort("MPLS-ENCAPSULATION", mplsEncapHeaderLen, len(body))
	}
	if body[1] != 0 {
		return nil, fmt.Errorf("decode MPLS-ENCAPSULATION body: %w: %w", ErrReservedNonZero, ErrMalformedPDU)
	}
	count := int(body[0])
	seq := binary.BigEndian.Uint32(body[2:6])
	if count != 0 {
		return nil, fmt.Errorf("decode MPLS-ENCAPSULATION body: label stacks not supported, count %d: %w", count, ErrMalformedPDU)
	}
	return &MPLSEncap{SeqNum: seq}, nil
}

// Vendor is an opaque, enterprise-specific extension passed through
// unmodified by implementations that do not recognize the enterprise
// number (spec §4.1 Non-goals: no vendor body is interpreted here).
//
// Wire body:
//
//	EnterpriseNumber uint32
//	BodyLen          uint16
//	Body             []byte (BodyLen bytes)
type Vendor struct {
	EnterpriseNumber uint32
	Body             []byte
}

const vendorHeaderLen = 4 + 2

func (v *Vendor) Marshal(buf []byte) int {
	total := HeaderSize + vendorHeaderLen + len(v.Body)
	EncodeHeader(buf, TypeVendor, uint16(total))
	binary.BigEndian.PutUint32(buf[HeaderSize:], v.EnterpriseNumber)
	binary.BigEndian.PutUint16(buf[HeaderSize+4:], uint16(len(v.Body)))
	copy(buf[HeaderSize+vendorHeaderLen:], v.Body)
	return total
}

func UnmarshalVendor(body []byte) (*Vendor, error) {
	if len(body) < vendorHeaderLen {
		return nil, wrapShort("VENDOR", vendorHeaderLen, len(body))
	}
	enterprise := binary.BigEndian.Uint32(body[0:4])
	bodyLen := int(binary.BigEndian.Uint16(body[4:6]))
	rest := body[vendorHeaderLen:]
	if len(rest) < bodyLen {
		return nil, fmt.Errorf("decode VENDOR body: declared length %d exceeds remaining %d: %w: %w",
			bodyLen, len(rest), ErrBufferTooShort, ErrMalformedPDU)
	}
	return &Vendor{EnterpriseNumber: enterprise, Body: rest[:bodyLen]}, nil
}
