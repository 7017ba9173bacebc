package transport

import (
	"context"

	"github.com/quic-go/webtransport-go"
)

// DatagramTransport carries unreliable, unordered media frames over a
// WebTransport session, following the teacher's sessionCloser /
// ReceiveDatagram pairing in server/client.go, generalized behind the
// Transport interface.
type DatagramTransport struct {
	sess   *webtransport.Session
	health SendHealth
}

// NewDatagramTransport wraps an already-established WebTransport
// session for datagram-only media exchange.
func NewDatagramTransport(sess *webtransport.Session) *DatagramTransport {
	return &DatagramTransport{sess: sess}
}

// Send writes one unreliable datagram. MTU is the caller's
// responsibility (spec §4.8: ~1400 bytes).
func (d *DatagramTransport) Send(_ context.Context, frame []byte) error {
	if d.health.ShouldSkip() {
		return ErrClosed
	}
	err := d.sess.SendDatagram(frame)
	if err != nil {
		d.health.RecordFailure()
		return err
	}
	d.health.RecordSuccess()
	return nil
}

// Recv blocks for the next inbound datagram.
func (d *DatagramTransport) Recv(ctx context.Context) ([]byte, error) {
	return d.sess.ReceiveDatagram(ctx)
}

// Close tears down the underlying WebTransport session.
func (d *DatagramTransport) Close() error {
	return d.sess.CloseWithError(0, "")
}

// Kind reports KindDatagram.
func (d *DatagramTransport) Kind() Kind { return KindDatagram }

// Health exposes the circuit breaker so the routing engine can check
// whether this recipient is currently degraded without attempting a
// send.
func (d *DatagramTransport) Health() *SendHealth { return &d.health }
