// Package transport implements the three wire transports the routing
// core can hand a frame to — datagram, framed-reliable, and peer data
// channel — behind one uniform interface, so the routing engine never
// needs to know which one backs a given recipient. Datagram uses
// QUIC/WebTransport (github.com/quic-go/webtransport-go), framed
// reliable uses a length-framed JSON-over-WebSocket channel served
// behind an Echo router (github.com/labstack/echo/v4,
// github.com/gorilla/websocket), and the peer data channel uses
// github.com/pion/webrtc/v4, negotiated over the framed channel.
package transport

import (
	"context"
	"errors"
	"sync/atomic"
)

// Kind discriminates which concrete transport backs a Transport value.
type Kind int

const (
	KindDatagram Kind = iota
	KindFramed
	KindDataChannel
)

func (k Kind) String() string {
	switch k {
	case KindDatagram:
		return "datagram"
	case KindFramed:
		return "framed"
	case KindDataChannel:
		return "datachannel"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by Send/Recv once Close has been called.
var ErrClosed = errors.New("transport: closed")

// Transport is the uniform abstraction the routing engine sends
// outbound frames through and reads inbound frames from. Send and Recv
// may be called concurrently with each other but each is expected to
// have at most one caller at a time (the routing engine owns one
// sender and one receiver goroutine per session).
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
	Kind() Kind
}

// Circuit breaker constants for per-recipient send health, generalizing
// the teacher's per-client datagram circuit breaker (server/client.go
// sendHealth): after enough consecutive failures the breaker opens and
// DatagramTransport.Send stops attempting sends to that recipient,
// probing occasionally for recovery.
const (
	breakerThreshold     uint32 = 50
	breakerProbeInterval uint32 = 25
)

// SendHealth tracks consecutive send failures for one recipient and
// implements a lightweight circuit breaker so a transport stops
// wasting effort on an unreachable peer. Per spec §4.10, a send error
// for one recipient must not affect delivery to others — each
// DatagramTransport keeps its own SendHealth and consults it on every
// Send.
type SendHealth struct {
	failures atomic.Uint32
	skips    atomic.Uint32
}

// ShouldSkip reports whether the breaker is open and this is not yet a
// scheduled probe attempt.
func (h *SendHealth) ShouldSkip() bool {
	if h.failures.Load() < breakerThreshold {
		return false
	}
	s := h.skips.Add(1)
	return s%breakerProbeInterval != 0
}

// RecordFailure increments the consecutive-failure counter.
func (h *SendHealth) RecordFailure() {
	h.failures.Add(1)
}

// RecordSuccess clears the failure and skip counters and reports
// whether the breaker had been open (i.e. this was a successful probe).
func (h *SendHealth) RecordSuccess() bool {
	wasOpen := h.failures.Swap(0) >= breakerThreshold
	if wasOpen {
		h.skips.Store(0)
	}
	return wasOpen
}

// Degraded reports whether the breaker is currently open.
func (h *SendHealth) Degraded() bool {
	return h.failures.Load() >= breakerThreshold
}

// SessionAdapter adapts a context-taking Transport to the simpler,
// context-free send interface internal/session.Registry stores per
// participant (internal/session has no reason to know about per-call
// cancellation — a session's transport outlives any single send).
// Every background send uses context.Background(); the three concrete
// transports never block past their own internal queue/backpressure
// handling, so no caller-supplied deadline is needed here.
type SessionAdapter struct {
	T Transport
}

// Send implements internal/session.Transport.
func (a *SessionAdapter) Send(frame []byte) error {
	return a.T.Send(context.Background(), frame)
}

// Close implements internal/session.Transport.
func (a *SessionAdapter) Close() error {
	return a.T.Close()
}

// SendJSON forwards to the underlying transport if it implements
// ControlSender (only FramedTransport does), so routing's status
// broadcasts can still reach a participant through the adapter.
func (a *SessionAdapter) SendJSON(ctx context.Context, v any) error {
	cs, ok := a.T.(ControlSender)
	if !ok {
		return ErrClosed
	}
	return cs.SendJSON(ctx, v)
}
