// Package frag implements the fragmentation layer that sits between the
// wire codec and the per-peer session: splitting outbound PDUs into
// ≤MTU frames and reassembling inbound frame sequences back into whole
// PDUs.
package frag

import (
	"errors"
	"fmt"

	"github.com/arrcus/lsoe/internal/pdu"
)

// EthernetHeaderSize is the fixed 14-byte Ethernet header (dst MAC, src
// MAC, EtherType) that precedes every transport frame on the wire.
const EthernetHeaderSize = 14

var (
	// ErrPDUTooLarge indicates a PDU cannot be fragmented to fit the MTU:
	// either the MTU leaves no room for payload after the Ethernet and
	// transport headers, or the PDU would need more than
	// pdu.MaxPDUNumber+1 frames.
	ErrPDUTooLarge = errors.New("PDU exceeds maximum fragmentable size")

	// ErrOutOfOrder is counted when a reassembly buffer receives a frame
	// whose sequence number does not match the expected next value.
	ErrOutOfOrder = errors.New("fragment out of order")
)

// Fragment splits a fully-encoded PDU into one or more frames, each
// sized so that EthernetHeaderSize + pdu.FrameHeaderSize + payload fits
// within mtu. Frame sequence numbers are assigned 0..N-1; the final
// frame has Last=true.
func Fragment(body []byte, mtu int) ([]pdu.Frame, error) {
	maxPayload := mtu - EthernetHeaderSize - pdu.FrameHeaderSize
	if maxPayload <= 0 {
		return nil, fmt.Errorf("fragment: mtu %d leaves no room for payload: %w", mtu, ErrPDUTooLarge)
	}
	if len(body) == 0 {
		return []pdu.Frame{{Last: true, PDUNumber: 0, Length: 0, Payload: nil}}, nil
	}

	numFrames := (len(body) + maxPayload - 1) / maxPayload
	if numFrames > pdu.MaxPDUNumber+1 {
		return nil, fmt.Errorf("fragment: %d bytes over mtu %d needs %d frames, exceeds %d: %w",
			len(body), mtu, numFrames, pdu.MaxPDUNumber+1, ErrPDUTooLarge)
	}

	frames := make([]pdu.Frame, 0, numFrames)
	total := uint16(len(body))
	for i := 0; i < numFrames; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(body) {
			end = len(body)
		}
		frames = append(frames, pdu.Frame{
			Last:      i == numFrames-1,
			PDUNumber: uint8(i),
			Length:    total,
			Payload:   body[start:end],
		})
	}
	return frames, nil
}
