package northbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ErrPusherClosed indicates Push was called after Close.
var ErrPusherClosed = errors.New("northbound pusher is closed")

// Pusher POSTs Snapshots to a configured HTTP endpoint. It is grounded on
// the teacher's gobgp.GRPCClient retry-wrapper shape, re-targeted from a
// gRPC peer to a plain JSON HTTP POST since spec §4.7/§6 name HTTP POST,
// not an RPC peer, as the northbound transport.
type Pusher struct {
	url    string
	client *http.Client
	logger *slog.Logger

	closed bool
}

// PusherConfig holds connection parameters for the northbound HTTP client.
type PusherConfig struct {
	// URL is the report-rfc7752-url POST target. Empty disables push
	// entirely at the call site (cmd/lsoed checks this before
	// constructing a Pusher).
	URL string

	// Timeout bounds each POST attempt; the one retry gets its own
	// Timeout. Zero or negative selects 5s.
	Timeout time.Duration
}

// NewPusher creates a Pusher targeting cfg.URL.
func NewPusher(cfg PusherConfig, logger *slog.Logger) *Pusher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Pusher{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "northbound.pusher"), slog.String("url", cfg.URL)),
	}
}

// Push POSTs snap as JSON to the configured URL, retrying once on a
// transient network error. A non-2xx response is not retried: it
// indicates the consumer rejected the body, not a transient failure.
func (p *Pusher) Push(ctx context.Context, snap Snapshot) error {
	if p.closed {
		return ErrPusherClosed
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	err = p.post(ctx, body)
	if err == nil {
		return nil
	}

	var netErr net.Error
	if !errors.As(err, &netErr) {
		return err
	}

	p.logger.Warn("northbound push failed, retrying once", slog.Any("error", err))

	if err := p.post(ctx, body); err != nil {
		return fmt.Errorf("push snapshot after retry: %w", err)
	}

	return nil
}

// post performs one POST attempt.
func (p *Pusher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build northbound request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post to %s: unexpected status %s", p.url, resp.Status)
	}

	return nil
}

// Close releases the underlying HTTP client's idle connections. After
// Close, Push returns ErrPusherClosed.
func (p *Pusher) Close() error {
	p.closed = true
	p.client.CloseIdleConnections()
	return nil
}
