// Package routing implements the routing engine (component C10): the
// single per-frame pipeline that ties the wire codec, session
// registry, world-state cache, group manager, proximity resolver,
// transport adapters, and network statistics together.
//
// The fan-out loop itself is modeled directly on the teacher's
// Room.Broadcast (server/room.go): snapshot recipients under a read
// lock, release the lock, then send to each outside it so one slow
// or dead peer never blocks delivery to the rest. GROUP_OP dispatch
// and the PLAYER_NAME/GROUP_STATE/GROUP_LIST broadcasts follow the
// same callback-outside-lock wiring already established in
// internal/session and internal/groups.
package routing

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/nearcast/voicecore/internal/auth"
	"github.com/nearcast/voicecore/internal/groups"
	"github.com/nearcast/voicecore/internal/netstats"
	"github.com/nearcast/voicecore/internal/proximity"
	"github.com/nearcast/voicecore/internal/session"
	"github.com/nearcast/voicecore/internal/transport"
	"github.com/nearcast/voicecore/internal/wire"
	"github.com/nearcast/voicecore/internal/worldfeed"
	"github.com/nearcast/voicecore/internal/worldstate"
)

// failureWindow and failureThreshold implement spec §7's transport
// error category: a recipient is terminated after 3 consecutive send
// failures observed within 1 second. This is distinct from (and much
// tighter than) internal/transport's own 50-failure circuit breaker,
// which only governs when DatagramTransport.Send stops *attempting*
// datagram sends to a degraded recipient — termination is a session-lifecycle decision
// the engine itself owns.
const (
	failureThreshold = 3
	failureWindow    = time.Second
)

// consecutiveFailures tracks one recipient's recent send failures for
// the termination rule above.
type consecutiveFailures struct {
	count int
	since time.Time
}

// Engine is the routing engine (C10). One Engine is shared by every
// connected session; it holds no per-session goroutine of its own —
// callers (cmd/voiced's per-session read loop) invoke HandleInbound
// once per received frame.
type Engine struct {
	Registry *session.Registry
	World    *worldstate.Cache
	Groups   *groups.Manager
	Stats    *netstats.Registry

	// RangeR is the proximity radius; <=0 falls back to proximity.DefaultRange.
	RangeR float64

	Log *log.Logger

	// OnTerminate is invoked when a recipient accumulates 3 consecutive
	// send failures within 1 second (spec §7). cmd/voiced wires this to
	// remove the participant from the world-state cache, the group
	// manager, the session registry and the statistics collector; it
	// does not close the participant's auth.Machine or transport.
	// Routing itself never reaches into a Machine.
	OnTerminate func(id uuid.UUID, reason auth.CloseReason)

	mu            sync.Mutex
	failures      map[uuid.UUID]*consecutiveFailures
	malformed     uint64
	unknownSender uint64
}

// MalformedCount returns the number of inbound frames dropped for
// failing wire decode, since process start.
func (e *Engine) MalformedCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.malformed
}

// UnknownSenderCount returns the number of inbound media frames
// dropped because the claimed sender is not a registered participant.
func (e *Engine) UnknownSenderCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unknownSender
}

// New creates a routing engine and wires it to the registry's and
// group manager's change callbacks (PLAYER_NAME announcement on
// registration, GROUP_STATE/GROUP_LIST on membership change). Callers
// must not also install their own OnRegister/OnDelta on the same
// Registry/Manager — the engine owns those hooks exclusively.
func New(reg *session.Registry, world *worldstate.Cache, groupMgr *groups.Manager, stats *netstats.Registry, rangeR float64, logger *log.Logger) *Engine {
	e := &Engine{
		Registry: reg,
		World:    world,
		Groups:   groupMgr,
		Stats:    stats,
		RangeR:   rangeR,
		Log:      logger,
		failures: make(map[uuid.UUID]*consecutiveFailures),
	}
	reg.OnRegister(e.onParticipantRegistered)
	reg.OnStatusChange(e.onStatusChange)
	groupMgr.OnDelta(e.onGroupDelta)
	return e
}

// HandleInbound processes one raw frame received on senderID's
// transport. senderID is supplied by the caller's connection
// bookkeeping, never trusted from the packet itself — the teacher's
// Room.Broadcast anti-spoofing comment ("the slice is already stamped
// here [by the caller], not the client") applies identically: a
// MediaFrame's own ShortID/FullID field is metadata for the
// *recipient*, not an authorization token for the sender.
func (e *Engine) HandleInbound(senderID uuid.UUID, raw []byte) {
	result, err := wire.Decode(raw)
	if err != nil {
		e.mu.Lock()
		e.malformed++
		e.mu.Unlock()
		return
	}
	switch result.Kind {
	case wire.KindMedia:
		e.routeMedia(senderID, result.Media)
	case wire.KindControl:
		e.routeControl(senderID, result.Control)
	}
}

func (e *Engine) routeMedia(senderID uuid.UUID, frame wire.MediaFrame) {
	sender, ok := e.Registry.ResolveByStable(senderID)
	if !ok {
		e.mu.Lock()
		e.unknownSender++
		e.mu.Unlock()
		return
	}
	if sender.IsMuted() {
		return
	}

	stream := e.Stats.Stream(senderID)
	stream.RecordArrival(frame.Seq, frame.Seq, time.Now())

	isTestAudio := frame.Type == wire.TypeTestAudio

	all := e.Registry.List()
	allIDs := make([]uuid.UUID, 0, len(all))
	for _, p := range all {
		allIDs = append(allIDs, p.StableID)
	}

	recipients := proximity.Resolve(senderID, e.World, e.Groups, e.Registry, e.RangeR, isTestAudio, allIDs)
	if len(recipients) == 0 {
		return
	}

	effectiveRange := e.RangeR
	if effectiveRange <= 0 {
		effectiveRange = proximity.DefaultRange
	}

	for _, r := range recipients {
		p, ok := e.Registry.ResolveByStable(r.ID)
		if !ok || p.Transport == nil {
			continue
		}
		out := wire.EncodeMedia(wire.MediaFrame{
			Type:    frame.Type,
			Codec:   frame.Codec,
			ShortID: sender.ShortID,
			Seq:     frame.Seq,
			Payload: frame.Payload,
			HasPos:  true,
			X:       float32(r.RelativePos.X),
			Y:       float32(r.RelativePos.Y),
			Z:       float32(r.RelativePos.Z),
		})
		e.send(p, out)

		// The binary media header (§4.1) has no slot for attenuation, so
		// gain rides alongside on the framed channel as a position_update
		// envelope (§6 step 6: "attach gain = attenuation so the recipient
		// can render spatially"), mirroring onStatusChange's use of a JSON
		// side-channel message for data the binary wire format can't carry.
		if cs, ok := controlSenderOf(p); ok {
			_ = cs.SendJSON(context.Background(), positionUpdateMsg{
				Type:     "position_update",
				PlayerID: senderID.String(),
				X:        r.RelativePos.X,
				Y:        r.RelativePos.Y,
				Z:        r.RelativePos.Z,
				Distance: r.Distance,
				Gain:     r.Attenuation,
				MaxRange: effectiveRange,
			})
		}
	}
}

// positionUpdateMsg is the JSON side-channel counterpart to a routed
// media frame, carrying the proximity metadata (distance, gain,
// max_range) the binary wire format has no room for. PlayerID is the
// sender's stable id, matching position_update's documented shape (§6).
type positionUpdateMsg struct {
	Type     string  `json:"type"`
	PlayerID string  `json:"player_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Distance float64 `json:"distance"`
	Gain     float64 `json:"gain"`
	MaxRange float64 `json:"max_range"`
}

func (e *Engine) routeControl(senderID uuid.UUID, frame wire.ControlFrame) {
	switch frame.Type {
	case wire.TypeGroupOp:
		e.handleGroupOp(senderID, frame)
	case wire.TypeDisconnect:
		if e.OnTerminate != nil {
			e.OnTerminate(senderID, auth.ReasonClientDisconnect)
		}
	}
}

func (e *Engine) handleGroupOp(senderID uuid.UUID, frame wire.ControlFrame) {
	var groupID uuid.UUID
	copy(groupID[:], frame.GroupID[:])

	switch frame.GroupOp {
	case wire.GroupOpCreate:
		_, _ = e.Groups.Create(senderID, frame.GroupName, int(frame.MaxMembers))
	case wire.GroupOpJoin:
		_, _ = e.Groups.Join(senderID, groupID)
	case wire.GroupOpLeave:
		_ = e.Groups.Leave(senderID)
	case wire.GroupOpUpdateSettings:
		_, _ = e.Groups.UpdateSettings(senderID, groupID, frame.Isolated)
	}
}

// onParticipantRegistered fires (outside the registry lock) right
// after a new participant is assigned a short id: it announces the
// new participant to everyone already connected, and announces every
// already-connected participant back to the new one. Because this
// happens at Register time — well before a session can reach Ready
// and transmit audio — every recipient a voice frame could possibly
// reach has already learned the sender's short-id mapping, so
// routeMedia never needs to fall back to the legacy full-id form.
func (e *Engine) onParticipantRegistered(p *session.Participant) {
	announce := playerNameFrame(p)

	// The new participant learns its own short id the same way everyone
	// else learns it, so a later datagram/data-channel bind (cmd/voiced)
	// has a PLAYER_NAME mapping to key off without a separate handshake.
	e.send(p, announce)

	for _, other := range e.Registry.List() {
		if other.StableID == p.StableID {
			continue
		}
		e.send(other, announce)
		e.send(p, playerNameFrame(other))
	}
}

func playerNameFrame(p *session.Participant) []byte {
	var stable [16]byte
	copy(stable[:], p.StableID[:])
	return wire.EncodePlayerName(stable, p.ShortID, p.DisplayName)
}

// onStatusChange broadcasts a mute/speaking delta to every other
// connected participant over whichever transport can carry a tagged
// JSON control message (only the framed transport; spec §6's
// user_mute_status/user_speaking_status have no binary-wire
// equivalent, matching §4.8's description of the framed channel as
// the home for status and signaling traffic).
func (e *Engine) onStatusChange(delta session.StatusDelta) {
	type statusMsg struct {
		Type     string `json:"type"`
		StableID string `json:"stable_id"`
		Muted    bool   `json:"muted,omitempty"`
		Speaking bool   `json:"speaking,omitempty"`
	}
	muteMsg := statusMsg{Type: "user_mute_status", StableID: delta.StableID.String(), Muted: delta.Muted}
	speakMsg := statusMsg{Type: "user_speaking_status", StableID: delta.StableID.String(), Speaking: delta.Speaking}

	for _, p := range e.Registry.List() {
		if p.StableID == delta.StableID {
			continue
		}
		sender, ok := controlSenderOf(p)
		if !ok {
			continue
		}
		_ = sender.SendJSON(context.Background(), muteMsg)
		_ = sender.SendJSON(context.Background(), speakMsg)
	}
}

// onGroupDelta broadcasts GROUP_STATE (to the affected group's
// members) and GROUP_LIST (to everyone, since membership elsewhere
// affects what any client should display) whenever a group's
// membership or settings change.
func (e *Engine) onGroupDelta(delta groups.Delta) {
	var gid [16]byte
	copy(gid[:], delta.Group.ID[:])

	snap := wire.GroupSnapshot{ID: gid, Name: delta.Group.Name, Isolated: delta.Group.Isolated}
	for member := range delta.Group.Members {
		var mb [16]byte
		copy(mb[:], member[:])
		snap.Members = append(snap.Members, mb)
	}
	stateFrame := wire.EncodeGroupState(snap)

	for member := range delta.Group.Members {
		if p, ok := e.Registry.ResolveByStable(member); ok {
			e.send(p, stateFrame)
		}
	}

	listFrame := e.encodeGroupList()
	for _, p := range e.Registry.List() {
		e.send(p, listFrame)
	}
}

func (e *Engine) encodeGroupList() []byte {
	all := e.Groups.List()
	snaps := make([]wire.GroupSnapshot, 0, len(all))
	for _, g := range all {
		var gid [16]byte
		copy(gid[:], g.ID[:])
		s := wire.GroupSnapshot{ID: gid, Name: g.Name, Isolated: g.Isolated}
		for member := range g.Members {
			var mb [16]byte
			copy(mb[:], member[:])
			s.Members = append(s.Members, mb)
		}
		snaps = append(snaps, s)
	}
	return wire.EncodeGroupList(snaps)
}

// BroadcastShutdown sends SERVER_SHUTDOWN to every connected
// participant, per §6's "core exposes a shutdown method that causes
// SERVER_SHUTDOWN to be broadcast before transports close".
func (e *Engine) BroadcastShutdown() {
	frame := []byte{wire.TypeServerShutdown}
	for _, p := range e.Registry.List() {
		e.send(p, frame)
	}
}

// send writes frame to p's transport, tracking consecutive failures
// for the §7 termination rule. A send error for one recipient never
// propagates — it only ever affects that recipient's own counter.
func (e *Engine) send(p *session.Participant, frame []byte) {
	if p.Transport == nil {
		return
	}
	err := p.Transport.Send(frame)
	if err == nil {
		e.mu.Lock()
		delete(e.failures, p.StableID)
		e.mu.Unlock()
		return
	}

	if e.Log != nil {
		e.Log.Warn("send failed", "recipient", p.StableID, "err", err)
	}

	e.mu.Lock()
	f, ok := e.failures[p.StableID]
	now := time.Now()
	if !ok || now.Sub(f.since) > failureWindow {
		f = &consecutiveFailures{count: 0, since: now}
		e.failures[p.StableID] = f
	}
	f.count++
	terminate := f.count >= failureThreshold
	if terminate {
		delete(e.failures, p.StableID)
	}
	e.mu.Unlock()

	if terminate && e.OnTerminate != nil {
		e.OnTerminate(p.StableID, auth.ReasonTransportLost)
	}
}

// ConsumeWorldFeed drains feed's event stream, applying join/move
// events to the world-state cache and leave events as removals, until
// the adapter closes its channel. onSessionReady is called (with the
// lock-free event data, not while any engine lock is held) for every
// EventSessionReady, so cmd/voiced can forward it to the matching
// auth.Machine's HandleGameSessionReady. Intended to run in its own
// goroutine for the lifetime of the server.
func (e *Engine) ConsumeWorldFeed(feed worldfeed.Adapter, onSessionReady func(worldfeed.PlayerWorldState)) {
	for ev := range feed.Events() {
		switch ev.Kind {
		case worldfeed.EventPlayerJoin, worldfeed.EventPlayerMove:
			e.World.Update(ev.State.StableID, worldstateEntry(ev.State))
		case worldfeed.EventPlayerLeave:
			e.World.Remove(ev.Left)
			e.Groups.RemoveParticipant(ev.Left)
			e.Registry.Drop(ev.Left)
			e.Stats.Drop(ev.Left)
		case worldfeed.EventSessionReady:
			e.World.Update(ev.State.StableID, worldstateEntry(ev.State))
			if onSessionReady != nil {
				onSessionReady(ev.State)
			}
		}
	}
}

func worldstateEntry(s worldfeed.PlayerWorldState) worldstate.Entry {
	return worldstate.Entry{Position: s.Position, Yaw: s.Yaw, Pitch: s.Pitch, WorldID: s.WorldID}
}

// controlSenderOf reports whether p's transport can carry a tagged
// JSON control message, and returns it as a transport.ControlSender.
func controlSenderOf(p *session.Participant) (transport.ControlSender, bool) {
	cs, ok := p.Transport.(transport.ControlSender)
	return cs, ok
}
