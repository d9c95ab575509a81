package netio

import (
	"errors"
	"testing"
)

func TestDefaultEtherType(t *testing.T) {
	if DefaultEtherType != 0x88B5 {
		t.Fatalf("got 0x%04x", DefaultEtherType)
	}
}

func TestDefaultHelloMulticastMAC(t *testing.T) {
	want := "01:80:c2:00:00:0e"
	if DefaultHelloMulticastMAC.String() != want {
		t.Fatalf("got %s, want %s", DefaultHelloMulticastMAC.String(), want)
	}
}

func TestCheckMTU(t *testing.T) {
	if err := checkMTU(1000, 1500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := checkMTU(1600, 1500)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
