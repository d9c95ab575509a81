package pdu

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("hello there, this is a PDU fragment")
	f := Frame{Last: true, PDUNumber: 3, Length: 999, Payload: payload}
	buf := make([]byte, FrameHeaderSize+len(payload))
	n, err := f.Marshal(buf)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("wrote %d bytes, want %d", n, len(buf))
	}

	got, err := UnmarshalFrame(buf)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if !got.Last || got.PDUNumber != 3 || got.Length != 999 || !bytes.Equal(got.Payload, payload) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestFrameNotLast(t *testing.T) {
	f := Frame{Last: false, PDUNumber: 0, Length: 3000, Payload: []byte("fragment-zero")}
	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	if _, err := f.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalFrame(buf)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if got.Last {
		t.Fatal("expected Last=false")
	}
}

func TestFramePDUNumberOverflow(t *testing.T) {
	f := Frame{PDUNumber: 128, Payload: []byte("x")}
	buf := make([]byte, FrameHeaderSize+1)
	if _, err := f.Marshal(buf); !errors.Is(err, ErrPDUNumberOverflow) {
		t.Fatalf("expected ErrPDUNumberOverflow, got %v", err)
	}
}

// TestFrameChecksumSensitivity verifies that flipping any single bit in
// a frame's payload is detected as a checksum failure.
func TestFrameChecksumSensitivity(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	f := Frame{Last: true, PDUNumber: 0, Length: uint16(FrameHeaderSize + len(payload)), Payload: payload}
	buf := make([]byte, FrameHeaderSize+len(payload))
	if _, err := f.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	for bit := 0; bit < len(payload)*8; bit++ {
		corrupt := append([]byte(nil), buf...)
		byteIdx := FrameHeaderSize + bit/8
		corrupt[byteIdx] ^= 1 << uint(bit%8)
		if _, err := UnmarshalFrame(corrupt); !errors.Is(err, ErrChecksumFailure) {
			t.Fatalf("bit %d: expected ErrChecksumFailure, got %v", bit, err)
		}
	}
}

func TestFrameShortBuffer(t *testing.T) {
	_, err := UnmarshalFrame([]byte{0, 0, 0})
	if !errors.Is(err, ErrBufferTooShort) {
		t.Fatalf("expected ErrBufferTooShort, got %v", err)
	}
}
