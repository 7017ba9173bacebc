package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/nearcast/voicecore/internal/config"
	"github.com/nearcast/voicecore/internal/routing"
	"github.com/nearcast/voicecore/internal/session"
	"github.com/nearcast/voicecore/internal/transport"
)

// mediaServer binds the datagram media transport (C8): a WebTransport
// session per participant, carrying AUDIO/TEST_AUDIO datagrams only —
// control never rides this path (spec §4.8's framed-reliable-only
// control family). Grounded on the teacher's ReceiveDatagram/
// sessionCloser pairing (server/client.go), generalized to the
// webtransport.Server side the teacher's own tree never constructs
// (server/server.go only serves the framed /ws channel; the datagram
// listener here follows the same http.Server/TLS/graceful-shutdown
// shape for consistency).
type mediaServer struct {
	addr     string
	wt       *webtransport.Server
	registry *session.Registry
	engine   *routing.Engine
	log      *log.Logger
}

func newMediaServer(cfg config.Config, tlsConfig *tls.Config, registry *session.Registry, engine *routing.Engine, logger *log.Logger) (*mediaServer, error) {
	addr := fmt.Sprintf(":%d", cfg.MediaPort)

	mux := http.NewServeMux()
	m := &mediaServer{addr: addr, registry: registry, engine: engine, log: logger}

	m.wt = &webtransport.Server{
		H3: http3.Server{
			Addr:            addr,
			TLSConfig:       tlsConfig,
			Handler:         mux,
			EnableDatagrams: true,
			QUICConfig:      &quic.Config{EnableDatagrams: true},
		},
		CheckOrigin: func(*http.Request) bool { return true }, // the framed channel already enforced the allow-list at AUTH time
	}

	mux.HandleFunc("/media/", m.handleUpgrade)
	return m, nil
}

// handleUpgrade binds an incoming WebTransport session to an
// already-registered participant by the short id the client learned
// from its own PLAYER_NAME announcement right after game-session-ready
// (internal/routing.Engine.onParticipantRegistered sends a
// participant its own mapping first, specifically so this bind can
// happen without a separate handshake message).
func (m *mediaServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	shortIDStr := strings.TrimPrefix(r.URL.Path, "/media/")
	shortID64, err := strconv.ParseUint(shortIDStr, 16, 32)
	if err != nil {
		http.Error(w, "invalid short id", http.StatusBadRequest)
		return
	}
	p, ok := m.registry.ResolveByShort(uint32(shortID64))
	if !ok {
		http.Error(w, "unknown participant", http.StatusNotFound)
		return
	}

	sess, err := m.wt.Upgrade(w, r)
	if err != nil {
		m.log.Warn("media session upgrade failed", "err", err)
		return
	}

	dt := transport.NewDatagramTransport(sess)
	m.registry.BindTransport(p.StableID, &transport.SessionAdapter{T: dt})
	go m.readLoop(p.StableID, dt)
}

func (m *mediaServer) readLoop(stableID uuid.UUID, dt *transport.DatagramTransport) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("media read loop panic", "participant", stableID, "panic", r)
		}
	}()
	ctx := context.Background()
	for {
		frame, err := dt.Recv(ctx)
		if err != nil {
			return
		}
		m.engine.HandleInbound(stableID, frame)
	}
}

func (m *mediaServer) run(ctx context.Context) error {
	m.log.Info("media listener starting", "addr", m.addr)
	err := m.wt.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("media listener: %w", err)
	}
	return nil
}

func (m *mediaServer) close() error {
	return m.wt.Close()
}
