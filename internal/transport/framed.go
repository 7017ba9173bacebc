package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	clog "github.com/charmbracelet/log"
)

const (
	writeTimeout  = 5 * time.Second
	outboundDepth = 256
)

// envelope is the JSON wrapper around one opaque frame. encoding/json
// base64-encodes a []byte field automatically, which is how media
// frames are carried over this channel as a fallback per spec §4.8.
type envelope struct {
	Payload []byte `json:"payload"`
}

// ControlSender is implemented by transports that can additionally
// carry a tagged JSON control message (status deltas, handshake
// acks, SDP/ICE signaling) alongside the opaque wire.ControlFrame
// bytes every Transport already exchanges via Send/Recv. Only
// FramedTransport implements it — datagram and data-channel carry the
// binary control family exclusively, per spec §4.8.
type ControlSender interface {
	SendJSON(ctx context.Context, v any) error
}

// FramedTransport is a length-framed, reliable JSON-over-WebSocket
// channel for control signaling (and, as a fallback, media), following
// the session.Send outbound-channel pattern in
// server/internal/ws/handler.go: one goroutine owns the socket write
// side, draining an outbound channel, so callers never block on a slow
// peer's TCP buffer.
type FramedTransport struct {
	conn *websocket.Conn

	outbound     chan []byte
	outboundJSON chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
}

// NewFramedTransport wraps an already-upgraded WebSocket connection
// and starts its writer goroutine.
func NewFramedTransport(conn *websocket.Conn) *FramedTransport {
	t := &FramedTransport{
		conn:         conn,
		outbound:     make(chan []byte, outboundDepth),
		outboundJSON: make(chan []byte, outboundDepth),
		closed:       make(chan struct{}),
	}
	go t.writeLoop()
	return t
}

func (t *FramedTransport) writeLoop() {
	for {
		select {
		case frame, ok := <-t.outbound:
			if !ok {
				return
			}
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := t.conn.WriteJSON(envelope{Payload: frame}); err != nil {
				clog.Error("framed transport write failed", "err", err)
				return
			}
		case data, ok := <-t.outboundJSON:
			if !ok {
				return
			}
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				clog.Error("framed transport write failed", "err", err)
				return
			}
		case <-t.closed:
			return
		}
	}
}

// Send enqueues a frame for the writer goroutine. It never blocks on
// network I/O; if the outbound queue is full the oldest queued frame is
// discarded to make room for this one (fan-out bound per spec §4.10 —
// the jitter buffer on the receiving end conceals the gap).
func (t *FramedTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	select {
	case t.outbound <- frame:
		return nil
	default:
		// Drop-oldest: make room by discarding one queued frame, then retry once.
		select {
		case <-t.outbound:
		default:
		}
		select {
		case t.outbound <- frame:
			return nil
		default:
			return nil // still full; frame is dropped, not an error
		}
	}
}

// SendJSON marshals v and enqueues it directly as the WebSocket
// message, bypassing the envelope{Payload} wrapping Send uses — so a
// tagged JSON object like {"type":"user_mute_status",...} reaches the
// peer at the top level, the shape spec §6's control envelope
// describes, rather than nested under a base64 "payload" field.
func (t *FramedTransport) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	select {
	case t.outboundJSON <- data:
		return nil
	default:
		select {
		case <-t.outboundJSON:
		default:
		}
		select {
		case t.outboundJSON <- data:
		default:
		}
		return nil
	}
}

// Recv blocks for the next inbound message and returns it raw. Only
// one goroutine should call Recv at a time.
//
// Two shapes share this socket: an opaque wire.ControlFrame/MediaFrame
// carried as base64 under envelope{Payload}, and a tagged JSON control
// envelope (internal/signaling.Envelope) sent at the top level. Recv
// unwraps the former when present and otherwise hands the raw message
// bytes back unchanged, so the caller can try a signaling decode
// without Recv having to know that package's shape.
func (t *FramedTransport) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Payload) > 0 {
		return env.Payload, nil
	}
	return data, nil
}

// Close shuts down the writer goroutine and the underlying connection.
func (t *FramedTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return t.conn.Close()
}

// Kind reports KindFramed.
func (t *FramedTransport) Kind() Kind { return KindFramed }

// FramedListener upgrades incoming HTTP requests to WebSocket
// connections behind an Echo router, enforcing an Origin allow-list
// before the upgrade — mirroring server/internal/ws/handler.go's
// Handler, generalized to reject disallowed origins instead of
// accepting every request.
type FramedListener struct {
	upgrader       websocket.Upgrader
	allowedOrigins map[string]struct{}
	onAccept       func(*FramedTransport, *http.Request)
}

// NewFramedListener creates a listener that only upgrades requests
// whose Origin header is in allowedOrigins. An empty allow-list
// accepts every origin (useful for local development only).
func NewFramedListener(allowedOrigins []string, onAccept func(*FramedTransport, *http.Request)) *FramedListener {
	set := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		set[o] = struct{}{}
	}
	l := &FramedListener{allowedOrigins: set, onAccept: onAccept}
	l.upgrader = websocket.Upgrader{
		CheckOrigin: l.checkOrigin,
	}
	return l
}

func (l *FramedListener) checkOrigin(r *http.Request) bool {
	if len(l.allowedOrigins) == 0 {
		return true
	}
	if _, ok := l.allowedOrigins["*"]; ok {
		return true
	}
	origin := r.Header.Get("Origin")
	_, ok := l.allowedOrigins[origin]
	return ok
}

// Register mounts the /ws upgrade route on an Echo router.
func (l *FramedListener) Register(e *echo.Echo) {
	e.GET("/ws", l.handleUpgrade)
}

func (l *FramedListener) handleUpgrade(c echo.Context) error {
	if !l.checkOrigin(c.Request()) {
		return echo.NewHTTPError(http.StatusForbidden, "origin not allowed")
	}
	conn, err := l.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		clog.Error("framed transport upgrade failed", "remote", c.RealIP(), "err", err)
		return err
	}
	t := NewFramedTransport(conn)
	l.onAccept(t, c.Request())
	return nil
}
