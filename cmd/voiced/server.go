package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nearcast/voicecore/internal/auth"
	"github.com/nearcast/voicecore/internal/config"
	"github.com/nearcast/voicecore/internal/groups"
	"github.com/nearcast/voicecore/internal/netstats"
	"github.com/nearcast/voicecore/internal/routing"
	"github.com/nearcast/voicecore/internal/session"
	"github.com/nearcast/voicecore/internal/signaling"
	"github.com/nearcast/voicecore/internal/tlsutil"
	"github.com/nearcast/voicecore/internal/transport"
	"github.com/nearcast/voicecore/internal/worldfeed"
	"github.com/nearcast/voicecore/internal/worldstate"
)

// iceServers mirrors the teacher's default STUN-only configuration
// (server/main.go); voicecore has no TURN flags since the Non-goals
// scope out rich operator tooling, but an operator can still reach a
// relay by placing one in front of the media listener.
var iceServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// Server wires every shared store, the routing engine, and the two
// network listeners (framed signaling, datagram media) together. One
// Server exists for the process lifetime, mirroring the teacher's own
// Server/Room split (server/server.go, server/room.go) generalized to
// voicecore's three transports.
type Server struct {
	cfg config.Config
	log *log.Logger

	registry *session.Registry
	world    *worldstate.Cache
	groupMgr *groups.Manager
	stats    *netstats.Registry
	engine   *routing.Engine
	feed     *worldfeed.InMemory

	echo           *echo.Echo
	framedListener *transport.FramedListener
	tlsConfig      *tls.Config

	media *mediaServer

	mu      sync.Mutex
	pending map[string]pendingConn // display name -> awaiting game-session-ready
}

// pendingConn is a signaling session that has authenticated but has
// not yet been matched to an in-game player, kept alongside the
// session.Transport adapter session.Registry.RegisterWithID needs once
// the match arrives.
type pendingConn struct {
	sess  *signaling.Session
	trans session.Transport
}

// NewServer builds every component and wires the callbacks that bind
// them, but does not yet bind any socket — that happens in Run.
func NewServer(cfg config.Config, logger *log.Logger) (*Server, error) {
	registry := session.New()
	world := worldstate.New()
	groupMgr := groups.New()
	stats := netstats.NewRegistry()

	engine := routing.New(registry, world, groupMgr, stats, float64(cfg.ProximityRange), logger)

	s := &Server{
		cfg:      cfg,
		log:      logger,
		registry: registry,
		world:    world,
		groupMgr: groupMgr,
		stats:    stats,
		engine:   engine,
		feed:     worldfeed.NewInMemory(),
		pending:  make(map[string]pendingConn),
	}

	engine.OnTerminate = s.onTerminate

	tlsConfig, fingerprint, err := tlsutil.Load(cfg.TLSCertPath, cfg.TLSKeyPath, "")
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	logger.Info("tls certificate ready", "fingerprint", fingerprint)
	s.tlsConfig = tlsConfig

	s.framedListener = transport.NewFramedListener(cfg.AllowedOrigins, s.onFramedAccept)

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.framedListener.Register(s.echo)
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(prometheusGatherer(stats), promhttp.HandlerOpts{})))

	s.media, err = newMediaServer(cfg, tlsConfig, registry, engine, logger)
	if err != nil {
		return nil, fmt.Errorf("media server: %w", err)
	}

	return s, nil
}

// prometheusGatherer wraps the netstats Registry (a bare
// prometheus.Collector, not a full Gatherer) in its own registry so
// /metrics only ever exposes this process's voice-quality series.
func prometheusGatherer(collector prometheus.Collector) prometheus.Gatherer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	return reg
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"participants": s.registry.Count(),
	})
}

// Run binds both listeners, starts the world-feed consumer, and blocks
// until ctx is canceled, then drains everything in the teacher's
// shutdown order (server/server.go's Run): broadcast SERVER_SHUTDOWN,
// stop the signaling listener, close the media listener, then close the
// world feed.
func (s *Server) Run(ctx context.Context) error {
	go s.engine.ConsumeWorldFeed(s.feed, s.onWorldSessionReady)

	errCh := make(chan error, 2)

	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.SignalingPort)
		s.log.Info("signaling listener starting", "addr", addr, "tls", s.cfg.EnableTLS)

		var err error
		if s.cfg.EnableTLS {
			// Empty cert/key paths: the *http.Server's TLSConfig already
			// carries the certificate (operator-supplied or self-signed),
			// following the teacher's own ListenAndServeTLS("", "") pattern
			// (server/server.go).
			err = s.echo.StartServer(&http.Server{Addr: addr, TLSConfig: s.tlsConfig, Handler: s.echo})
		} else {
			err = s.echo.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("signaling listener: %w", err)
			return
		}
		errCh <- nil
	}()

	go func() {
		errCh <- s.media.run(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	s.engine.BroadcastShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.echo.Shutdown(shutdownCtx)
	_ = s.media.close()
	s.feed.Close()

	return nil
}

// onFramedAccept is the FramedListener's onAccept callback: one
// signaling.Session per upgraded WebSocket connection, read until the
// socket closes or the session is disconnected.
func (s *Server) onFramedAccept(t *transport.FramedTransport, r *http.Request) {
	originOK := func() bool { return true } // FramedListener's CheckOrigin already enforced the allow-list pre-upgrade
	credentialsOK := func(name, token string) bool { return name != "" }

	adapter := &transport.SessionAdapter{T: t}
	sess := signaling.NewSession(t, s.registry, s.groupMgr, iceServers, s.log, originOK, credentialsOK)
	sess.OnAuthenticated = func(sess *signaling.Session) { s.onAuthenticated(sess, adapter) }
	sess.OnDataChannelReady = func(dct *transport.DataChannelTransport) {
		s.registry.BindTransport(sess.Machine().StableID(), &transport.SessionAdapter{T: dct})
	}

	ctx := context.Background()
	for {
		raw, err := t.Recv(ctx)
		if err != nil {
			s.onConnectionLost(sess)
			return
		}
		if len(raw) == 0 {
			continue
		}
		if raw[0] == '{' {
			sess.HandleMessage(raw)
			continue
		}
		if id := sess.Machine().StableID(); sess.Machine().State() == auth.Ready {
			s.engine.HandleInbound(id, raw)
		}
	}
}

func (s *Server) onConnectionLost(sess *signaling.Session) {
	name := sess.Machine().DisplayName()
	s.mu.Lock()
	if p, ok := s.pending[name]; ok && p.sess == sess {
		delete(s.pending, name)
	}
	s.mu.Unlock()

	switch sess.Machine().State() {
	case auth.Closed, auth.Unauthenticated:
		return
	}
	sess.Machine().HandleDisconnect(auth.ReasonTransportLost)
	if id := sess.Machine().StableID(); id != uuid.Nil {
		s.dropParticipant(id)
	}
}

// onAuthenticated indexes a session by display name once auth is
// accepted, so onWorldSessionReady can find it again when the
// game-integration adapter reports the matching in-game player.
func (s *Server) onAuthenticated(sess *signaling.Session, trans session.Transport) {
	s.mu.Lock()
	s.pending[sess.Machine().DisplayName()] = pendingConn{sess: sess, trans: trans}
	s.mu.Unlock()
}

// onWorldSessionReady matches an EventSessionReady against a pending
// signaling session by display name, registers it under the world
// feed's stable id (so the registry and the world-state cache share one
// id), and transitions its state machine to Ready.
func (s *Server) onWorldSessionReady(state worldfeed.PlayerWorldState) {
	s.mu.Lock()
	pc, ok := s.pending[state.DisplayName]
	if ok {
		delete(s.pending, state.DisplayName)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	p := s.registry.RegisterWithID(state.StableID, state.DisplayName, pc.trans)
	pc.sess.Machine().HandleGameSessionReady(p.StableID)
}

func (s *Server) onTerminate(id uuid.UUID, reason auth.CloseReason) {
	s.log.Warn("terminating participant", "id", id, "reason", reason)
	s.dropParticipant(id)
}

func (s *Server) dropParticipant(id uuid.UUID) {
	s.world.Remove(id)
	s.groupMgr.RemoveParticipant(id)
	s.registry.Drop(id)
	s.stats.Drop(id)
}

