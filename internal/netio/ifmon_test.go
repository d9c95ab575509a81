package netio

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestStubInterfaceMonitorClosesOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mon := NewStubInterfaceMonitor(logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, ok := <-mon.Events(); ok {
		t.Fatal("expected closed events channel")
	}
}

func TestEventKindString(t *testing.T) {
	cases := map[EventKind]string{
		InterfaceAppeared: "InterfaceAppeared",
		InterfaceGone:     "InterfaceGone",
		AddressAdded:      "AddressAdded",
		AddressRemoved:    "AddressRemoved",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
