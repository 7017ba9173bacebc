// Package worldfeed names the contract the external game-integration
// adapter must satisfy: it supplies PlayerWorldState snapshots and
// emits join/leave/move/session-ready events that drive
// internal/worldstate and internal/auth. The core only ever reads
// from an Adapter; it never drives the game process directly.
//
// A real adapter lives outside this module (it speaks whatever RPC or
// shared-memory protocol the game integration uses); InMemory below is
// a test double standing in for it in internal/routing's scenario
// tests, directly modeled on the teacher's DatagramSender
// mock-injection pattern (server/room_test.go).
package worldfeed

import (
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

// PlayerWorldState is one snapshot of a player's in-game presence, as
// reported by the game-integration adapter. It carries enough to seed
// both internal/worldstate (position/orientation/world) and
// internal/auth (the player-present check for PendingGameSession).
type PlayerWorldState struct {
	StableID    uuid.UUID
	DisplayName string
	WorldID     string
	Position    r3.Vector
	Yaw, Pitch  float64
}

// EventKind discriminates the four event types the adapter emits.
type EventKind int

const (
	EventPlayerJoin EventKind = iota
	EventPlayerLeave
	EventPlayerMove
	EventSessionReady // the in-game player matching a pending auth has appeared
)

// Event is one adapter-emitted occurrence. Only the fields relevant to
// Kind are populated.
type Event struct {
	Kind  EventKind
	State PlayerWorldState // join/move/session-ready
	Left  uuid.UUID        // leave
}

// Adapter is the minimal interface the routing core consumes from the
// external game-integration layer: a single event stream plus a
// point-in-time snapshot query, so a caller that just connected can
// seed state without waiting for the next tick.
type Adapter interface {
	// Events returns a channel of adapter-emitted occurrences. The
	// channel is closed when the adapter shuts down.
	Events() <-chan Event
	// Snapshot returns the current state for a player, if the adapter
	// currently has one.
	Snapshot(stableID uuid.UUID) (PlayerWorldState, bool)
}

// InMemory is a test double implementing Adapter entirely in memory,
// for use by internal/routing's scenario tests and anywhere else that
// needs a game-integration stand-in without a real game process.
type InMemory struct {
	events   chan Event
	snapshot map[uuid.UUID]PlayerWorldState
}

// NewInMemory creates an empty in-memory adapter double.
func NewInMemory() *InMemory {
	return &InMemory{
		events:   make(chan Event, 64),
		snapshot: make(map[uuid.UUID]PlayerWorldState),
	}
}

// Events implements Adapter.
func (m *InMemory) Events() <-chan Event { return m.events }

// Snapshot implements Adapter.
func (m *InMemory) Snapshot(stableID uuid.UUID) (PlayerWorldState, bool) {
	s, ok := m.snapshot[stableID]
	return s, ok
}

// Join injects a player-join event and seeds the snapshot.
func (m *InMemory) Join(state PlayerWorldState) {
	m.snapshot[state.StableID] = state
	m.events <- Event{Kind: EventPlayerJoin, State: state}
}

// Move injects a player-move event and updates the snapshot.
func (m *InMemory) Move(state PlayerWorldState) {
	m.snapshot[state.StableID] = state
	m.events <- Event{Kind: EventPlayerMove, State: state}
}

// Leave injects a player-leave event and clears the snapshot.
func (m *InMemory) Leave(id uuid.UUID) {
	delete(m.snapshot, id)
	m.events <- Event{Kind: EventPlayerLeave, Left: id}
}

// SessionReady injects the event that transitions a pending session to
// Ready (spec §4.9).
func (m *InMemory) SessionReady(state PlayerWorldState) {
	m.events <- Event{Kind: EventSessionReady, State: state}
}

// Close shuts down the event channel.
func (m *InMemory) Close() { close(m.events) }
