// Package auth implements the per-connection authentication and
// session state machine (component C9): the control-channel handshake,
// the pending-game-session wait, the transition to Ready, and clean
// teardown. One Machine exists per connecting peer, from the moment
// its transport is accepted until Closed.
//
// The state transitions mirror the teacher's per-client lifecycle
// (server/client.go's accept → readDatagrams/processControl loops →
// RemoveClient teardown), made explicit as a named state enum instead
// of being implicit in which goroutines are still running, per design
// note §9's guidance to replace implicit-ordering callback chains with
// an explicit, typed state.
package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nearcast/voicecore/internal/codec"
)

// State is one node of the session state machine (spec §4.9).
type State int

const (
	Unauthenticated State = iota
	Authenticating
	PendingGameSession
	Ready
	Disconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case PendingGameSession:
		return "pending_game_session"
	case Ready:
		return "ready"
	case Disconnecting:
		return "disconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// AckCode is the rejection code carried on AUTH_ACK.
type AckCode byte

const (
	AckAccepted           AckCode = 0
	AckPlayerNotFound     AckCode = 1
	AckServerNotReady     AckCode = 2
	AckInvalidCredentials AckCode = 3
)

// pendingWindow is the PendingGameSession timeout (spec §4.9, §5).
const pendingWindow = 30 * time.Second

// CloseReason describes why a session transitioned to Closed, carried
// in the DISCONNECT_ACK / `disconnected` control message's reason
// field per spec §7's user-visible-behavior rule.
type CloseReason string

const (
	ReasonClientDisconnect CloseReason = "client_disconnect"
	ReasonSessionTimeout   CloseReason = "session_timeout"
	ReasonAuthRejected     CloseReason = "auth_rejected"
	ReasonTransportLost    CloseReason = "transport_lost"
	ReasonServerShutdown   CloseReason = "server_shutdown"
)

// Emitter is how the Machine tells its owner to send a control message
// or close the transport, without the Machine importing
// internal/transport or internal/wire directly — it stays a pure state
// machine the routing engine drives.
type Emitter interface {
	EmitAuthAck(code AckCode, sampleRate codec.SampleRate)
	EmitSessionReady()
	EmitClose(reason CloseReason)
}

// Machine is the per-connection authentication and session state
// machine. It is safe for concurrent use: control-channel events,
// world-feed events, and timer firings may all arrive from different
// goroutines.
type Machine struct {
	mu    sync.Mutex
	state State

	emit Emitter

	stableID      uuid.UUID
	displayName   string
	requestedRate uint32

	pendingTimer *time.Timer
}

// New creates a Machine in the Unauthenticated state.
func New(emit Emitter) *Machine {
	return &Machine{state: Unauthenticated, emit: emit}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HandleAuth processes an inbound AUTH control message. name is the
// player's display name; originAllowed reflects the transport-level
// origin check (spec §4.8) and credentialsValid the caller's own check
// of the presented credentials. The session is rejected with
// AckInvalidCredentials when the credentials are invalid, the origin is
// not allowed, or the name is empty.
func (m *Machine) HandleAuth(name string, originAllowed, credentialsValid bool, requestedSampleRate uint32) {
	m.mu.Lock()
	if m.state != Unauthenticated {
		m.mu.Unlock()
		return
	}
	m.state = Authenticating
	m.mu.Unlock()

	rate, ok := codec.CoerceSampleRate(requestedSampleRate)

	switch {
	case !credentialsValid:
		m.reject(AckInvalidCredentials, rate)
		return
	case !originAllowed:
		// Spec defines no dedicated origin-denied code; origin denial is
		// grouped with credential/authorization failures (spec §7's
		// Authorization category lists "AUTH rejected, origin denied,
		// player-not-in-game" together), so it shares AckInvalidCredentials
		// rather than the capacity/readiness-flavored AckServerNotReady.
		m.reject(AckInvalidCredentials, rate)
		return
	case name == "":
		m.reject(AckInvalidCredentials, rate)
		return
	}

	m.mu.Lock()
	m.displayName = name
	m.requestedRate = requestedSampleRate
	m.state = PendingGameSession
	m.pendingTimer = time.AfterFunc(pendingWindow, m.onPendingTimeout)
	m.mu.Unlock()

	_ = ok // coercion already folded into rate; caller logs via its own Emitter if desired
	m.emit.EmitAuthAck(AckAccepted, rate)
}

func (m *Machine) reject(code AckCode, rate codec.SampleRate) {
	m.mu.Lock()
	m.state = Closed
	m.mu.Unlock()
	m.emit.EmitAuthAck(code, rate)
	m.emit.EmitClose(ReasonAuthRejected)
}

// onPendingTimeout fires 30s after entering PendingGameSession if the
// game adapter never reported a matching player.
func (m *Machine) onPendingTimeout() {
	m.mu.Lock()
	if m.state != PendingGameSession {
		m.mu.Unlock()
		return
	}
	m.state = Closed
	m.mu.Unlock()
	m.emit.EmitClose(ReasonSessionTimeout)
}

// HandleGameSessionReady processes the game adapter's report that the
// matching in-game player is now present, assigning the session's
// stable id (the one internal/session.Registry.RegisterWithID recorded,
// called by cmd/voiced just before this) and transitioning to Ready.
func (m *Machine) HandleGameSessionReady(stableID uuid.UUID) {
	m.mu.Lock()
	if m.state != PendingGameSession {
		m.mu.Unlock()
		return
	}
	if m.pendingTimer != nil {
		m.pendingTimer.Stop()
	}
	m.stableID = stableID
	m.state = Ready
	m.mu.Unlock()
	m.emit.EmitSessionReady()
}

// HandleDisconnect processes a client-initiated DISCONNECT, or is
// called directly on transport loss or SERVER_SHUTDOWN.
func (m *Machine) HandleDisconnect(reason CloseReason) {
	m.mu.Lock()
	switch m.state {
	case Closed, Disconnecting:
		m.mu.Unlock()
		return
	}
	if m.pendingTimer != nil {
		m.pendingTimer.Stop()
	}
	m.state = Disconnecting
	m.mu.Unlock()

	m.emit.EmitClose(reason)

	m.mu.Lock()
	m.state = Closed
	m.mu.Unlock()
}

// StableID returns the session's stable id, valid once State() is
// Ready or later.
func (m *Machine) StableID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stableID
}

// DisplayName returns the name presented at AUTH time.
func (m *Machine) DisplayName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayName
}
