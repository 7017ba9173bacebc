package signaling

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/nearcast/voicecore/internal/auth"
	"github.com/nearcast/voicecore/internal/codec"
	"github.com/nearcast/voicecore/internal/groups"
	"github.com/nearcast/voicecore/internal/session"
	"github.com/nearcast/voicecore/internal/transport"
)

// Sender is the minimal capability signaling needs from a framed
// transport: enqueue one JSON envelope. transport.FramedTransport and
// transport.SessionAdapter both satisfy it via SendJSON.
type Sender interface {
	SendJSON(ctx context.Context, v any) error
}

// Session owns one connected peer's control-channel dispatch: it
// decodes inbound JSON envelopes, drives the peer's auth.Machine, and
// issues group/mute/speaking operations against the shared registry
// and group manager. One Session exists per framed-transport
// connection, from accept to close.
type Session struct {
	send     Sender
	registry *session.Registry
	groups   *groups.Manager
	machine  *auth.Machine
	log      *log.Logger

	iceServers []webrtc.ICEServer

	// OnDataChannelReady is invoked once an sdp_offer negotiation
	// produces an open data channel, so the caller (cmd/voiced) can
	// install it as this participant's new outbound transport. Left
	// nil, negotiated data channels are simply not used for routing.
	OnDataChannelReady func(*transport.DataChannelTransport)

	// OnAuthenticated is invoked with the session the moment auth is
	// accepted (entering PendingGameSession), so the caller can index
	// this session by display name until the world-feed adapter reports
	// the matching in-game player and the caller calls
	// internal/session.Registry.RegisterWithID followed by
	// Machine().HandleGameSessionReady.
	OnAuthenticated func(s *Session)

	originAllowed func() bool
	credentials   func(name, token string) bool
}

// NewSession creates a signaling session bound to one framed
// transport connection. originAllowed and credentials are supplied by
// the caller, matching auth.Machine.HandleAuth's own split between
// transport-level and credential-level checks (spec §4.9).
func NewSession(
	send Sender,
	registry *session.Registry,
	groupMgr *groups.Manager,
	iceServers []webrtc.ICEServer,
	logger *log.Logger,
	originAllowed func() bool,
	credentials func(name, token string) bool,
) *Session {
	s := &Session{
		send:          send,
		registry:      registry,
		groups:        groupMgr,
		log:           logger,
		iceServers:    iceServers,
		originAllowed: originAllowed,
		credentials:   credentials,
	}
	s.machine = auth.New(s)
	return s
}

// Machine exposes the underlying state machine so the caller's
// read-loop can feed it transport-loss / disconnect events directly.
func (s *Session) Machine() *auth.Machine { return s.machine }

// HandleMessage decodes one inbound JSON envelope and dispatches it.
// A malformed envelope is dropped and logged at debug level, per spec
// §7's Protocol error category.
func (s *Session) HandleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if s.log != nil {
			s.log.Debug("signaling: malformed envelope", "err", err)
		}
		return
	}

	switch env.Type {
	case TypeAuth:
		s.handleAuth(env)
	case TypeDisconnect:
		s.machine.HandleDisconnect(auth.ReasonClientDisconnect)
	case TypeListGroups:
		s.handleListGroups()
	case TypeListPlayers:
		s.handleListPlayers()
	case TypeCreateGroup:
		s.handleCreateGroup(env)
	case TypeJoinGroup:
		s.handleJoinGroup(env)
	case TypeLeaveGroup:
		s.handleLeaveGroup()
	case TypeGroupSettings:
		s.handleGroupSettings(env)
	case TypeUpdateMute:
		s.handleUpdateMute(env)
	case TypeUpdateSpeaking:
		s.handleUpdateSpeaking(env)
	case TypeSDPOffer:
		s.handleSDPOffer(env)
	case TypeICECandidate:
		// Non-trickle negotiation (internal/transport.AcceptOffer blocks
		// until ICE gathering completes), so a standalone candidate
		// message has nothing left to apply. Recognized per §6, logged
		// at debug, never an error.
		if s.log != nil {
			s.log.Debug("signaling: ice_candidate ignored (non-trickle negotiation)")
		}
	case TypeResume:
		// Recognized but unspecified beyond acknowledgment; no
		// session-resume semantics are defined by the spec this
		// implementation targets.
		if s.log != nil {
			s.log.Debug("signaling: resume requested, no-op", "token", env.ResumeToken)
		}
	default:
		if s.log != nil {
			s.log.Debug("signaling: ignored unknown envelope type", "type", env.Type)
		}
	}
}

func (s *Session) handleAuth(env Envelope) {
	originOK := s.originAllowed == nil || s.originAllowed()
	credOK := s.credentials == nil || s.credentials(env.Name, env.Token)
	s.machine.HandleAuth(env.Name, originOK, credOK, env.SampleRate)
}

// --- auth.Emitter ---

func (s *Session) EmitAuthAck(code auth.AckCode, rate codec.SampleRate) {
	if code == auth.AckAccepted {
		_ = s.send.SendJSON(context.Background(), Envelope{
			Type: TypeAuthenticated, AckCode: int(code), SampleRate: uint32(rate),
		})
		_ = s.send.SendJSON(context.Background(), Envelope{Type: TypePendingGameSession})
		if s.OnAuthenticated != nil {
			s.OnAuthenticated(s)
		}
		return
	}
	_ = s.send.SendJSON(context.Background(), Envelope{
		Type: TypeError, Code: "auth_rejected", AckCode: int(code), SampleRate: uint32(rate),
	})
}

func (s *Session) EmitSessionReady() {
	_ = s.send.SendJSON(context.Background(), Envelope{Type: TypeGameSessionReady})
}

func (s *Session) EmitClose(reason auth.CloseReason) {
	_ = s.send.SendJSON(context.Background(), Envelope{Type: TypeDisconnected, Reason: string(reason)})
}

// --- group operations ---

func (s *Session) handleListGroups() {
	_ = s.send.SendJSON(context.Background(), Envelope{Type: TypeGroupList, Groups: groupViews(s.groups.List())})
}

func (s *Session) handleListPlayers() {
	participants := s.registry.List()
	out := make([]PlayerView, 0, len(participants))
	for _, p := range participants {
		out = append(out, PlayerView{
			ID: p.StableID.String(), Name: p.DisplayName,
			Muted: p.Muted(), Speaking: p.Speaking(),
		})
	}
	_ = s.send.SendJSON(context.Background(), Envelope{Type: TypePlayerList, Players: out})
}

func (s *Session) handleCreateGroup(env Envelope) {
	g, err := s.groups.Create(s.machine.StableID(), env.GroupName, env.MaxMembers)
	if err != nil {
		s.sendGroupError(err)
		return
	}
	_ = s.send.SendJSON(context.Background(), Envelope{Type: TypeGroupCreated, GroupID: g.ID.String(), GroupName: g.Name})
}

func (s *Session) handleJoinGroup(env Envelope) {
	gid, err := uuid.Parse(env.GroupID)
	if err != nil {
		_ = s.send.SendJSON(context.Background(), Envelope{Type: TypeError, Code: "invalid_group_id"})
		return
	}
	g, err := s.groups.Join(s.machine.StableID(), gid)
	if err != nil {
		s.sendGroupError(err)
		return
	}
	_ = s.send.SendJSON(context.Background(), Envelope{Type: TypeGroupJoined, GroupID: g.ID.String(), GroupName: g.Name})
}

func (s *Session) handleLeaveGroup() {
	if err := s.groups.Leave(s.machine.StableID()); err != nil {
		s.sendGroupError(err)
		return
	}
	_ = s.send.SendJSON(context.Background(), Envelope{Type: TypeGroupLeft})
}

func (s *Session) handleGroupSettings(env Envelope) {
	gid, err := uuid.Parse(env.GroupID)
	if err != nil {
		_ = s.send.SendJSON(context.Background(), Envelope{Type: TypeError, Code: "invalid_group_id"})
		return
	}
	g, err := s.groups.UpdateSettings(s.machine.StableID(), gid, env.Isolated)
	if err != nil {
		s.sendGroupError(err)
		return
	}
	_ = s.send.SendJSON(context.Background(), Envelope{Type: TypeGroupMembersUpdated, GroupID: g.ID.String(), Isolated: g.Isolated})
}

func (s *Session) sendGroupError(err error) {
	_ = s.send.SendJSON(context.Background(), Envelope{Type: TypeError, Code: "group", Reason: err.Error()})
}

func groupViews(gs []groups.Group) []GroupView {
	out := make([]GroupView, 0, len(gs))
	for _, g := range gs {
		members := make([]string, 0, len(g.Members))
		for id := range g.Members {
			members = append(members, id.String())
		}
		out = append(out, GroupView{
			ID: g.ID.String(), Name: g.Name, CreatorID: g.CreatorID.String(),
			Members: members, Permanent: g.Permanent, Isolated: g.Isolated, MaxMembers: g.MaxMembers,
		})
	}
	return out
}

// --- mute / speaking ---

func (s *Session) handleUpdateMute(env Envelope) {
	s.registry.SetMuted(s.machine.StableID(), env.Muted, 0)
}

func (s *Session) handleUpdateSpeaking(env Envelope) {
	s.registry.SetSpeaking(s.machine.StableID(), env.Speaking)
}

// --- WebRTC data-channel negotiation ---

// handleSDPOffer answers an inbound offer and, once the resulting data
// channel opens, hands it to OnDataChannelReady. Negotiation is
// non-trickle: internal/transport.AcceptOffer blocks until ICE
// gathering completes, so the returned answer SDP is final.
func (s *Session) handleSDPOffer(env Envelope) {
	pc, err := transport.NewPeerConnection(s.iceServers)
	if err != nil {
		if s.log != nil {
			s.log.Warn("signaling: create peer connection failed", "err", err)
		}
		return
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			dct := transport.NewDataChannelTransport(pc, dc)
			if s.OnDataChannelReady != nil {
				s.OnDataChannelReady(dct)
			}
		})
	})

	answer, err := transport.AcceptOffer(pc, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  env.SDP,
	})
	if err != nil {
		if s.log != nil {
			s.log.Warn("signaling: accept offer failed", "err", err)
		}
		_ = pc.Close()
		return
	}

	_ = s.send.SendJSON(context.Background(), Envelope{Type: TypeSDPAnswer, SDP: answer.SDP})
}
