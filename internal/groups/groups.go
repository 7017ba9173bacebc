// Package groups owns voice groups: their membership, creator,
// permanence, and isolation flag. All changes are serialized by one
// Manager-wide RWMutex; reads take its read lock and return copies,
// mirroring the channel bookkeeping style of a datagram SFU's room
// state (one RWMutex over a map, marshal/broadcast payloads built
// outside the lock).
package groups

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrFull is returned by Join when the target group has reached MaxMembers.
	ErrFull = errors.New("groups: group is full")
	// ErrAlreadyInGroup is returned by Join when the requester is already a
	// member of a different group — the requester must LEAVE first.
	ErrAlreadyInGroup = errors.New("groups: already a member of another group")
	// ErrNotFound is returned when an operation references an unknown group.
	ErrNotFound = errors.New("groups: group not found")
	// ErrNotCreator is returned when a non-creator attempts UPDATE_SETTINGS.
	ErrNotCreator = errors.New("groups: only the creator may change settings")
)

// Group is one voice group.
type Group struct {
	ID        uuid.UUID
	Name      string
	CreatorID uuid.UUID
	Members   map[uuid.UUID]struct{}
	Permanent bool
	Isolated  bool
	MaxMembers int // 0 = unlimited
}

// snapshot returns a shallow copy safe to read without the manager's lock.
func (g *Group) snapshot() Group {
	members := make(map[uuid.UUID]struct{}, len(g.Members))
	for id := range g.Members {
		members[id] = struct{}{}
	}
	return Group{
		ID: g.ID, Name: g.Name, CreatorID: g.CreatorID,
		Members: members, Permanent: g.Permanent, Isolated: g.Isolated,
		MaxMembers: g.MaxMembers,
	}
}

// Delta describes a membership or settings change, for the caller to
// translate into GROUP_STATE (to members) / GROUP_LIST (to everyone)
// control messages.
type Delta struct {
	Group        Group
	Destroyed    bool // true if this delta is "the group no longer exists"
}

// Manager owns all voice groups.
type Manager struct {
	mu       sync.RWMutex
	groups   map[uuid.UUID]*Group
	byMember map[uuid.UUID]uuid.UUID // participant -> group id, at most one entry per participant

	onDelta func(Delta)
}

// New creates an empty group manager.
func New() *Manager {
	return &Manager{
		groups:   make(map[uuid.UUID]*Group),
		byMember: make(map[uuid.UUID]uuid.UUID),
	}
}

// OnDelta registers the callback fired after every membership or
// settings change (including destruction).
func (m *Manager) OnDelta(fn func(Delta)) {
	m.mu.Lock()
	m.onDelta = fn
	m.mu.Unlock()
}

// Create allocates a new group with the requester as sole member and
// creator.
func (m *Manager) Create(creatorID uuid.UUID, name string, maxMembers int) (Group, error) {
	m.mu.Lock()
	if _, inGroup := m.byMember[creatorID]; inGroup {
		m.mu.Unlock()
		return Group{}, ErrAlreadyInGroup
	}
	g := &Group{
		ID:         uuid.New(),
		Name:       name,
		CreatorID:  creatorID,
		Members:    map[uuid.UUID]struct{}{creatorID: {}},
		MaxMembers: maxMembers,
	}
	m.groups[g.ID] = g
	m.byMember[creatorID] = g.ID
	snap := g.snapshot()
	cb := m.onDelta
	m.mu.Unlock()

	if cb != nil {
		cb(Delta{Group: snap})
	}
	return snap, nil
}

// Join adds requesterID to groupID. Rejected if the group is full or
// the requester is already in a different group.
func (m *Manager) Join(requesterID, groupID uuid.UUID) (Group, error) {
	m.mu.Lock()
	if gid, inGroup := m.byMember[requesterID]; inGroup && gid != groupID {
		m.mu.Unlock()
		return Group{}, ErrAlreadyInGroup
	}
	g, ok := m.groups[groupID]
	if !ok {
		m.mu.Unlock()
		return Group{}, ErrNotFound
	}
	if _, already := g.Members[requesterID]; !already {
		if g.MaxMembers > 0 && len(g.Members) >= g.MaxMembers {
			m.mu.Unlock()
			return Group{}, ErrFull
		}
		g.Members[requesterID] = struct{}{}
		m.byMember[requesterID] = groupID
	}
	snap := g.snapshot()
	cb := m.onDelta
	m.mu.Unlock()

	if cb != nil {
		cb(Delta{Group: snap})
	}
	return snap, nil
}

// Leave removes requesterID from its current group. If the group
// becomes empty and is not permanent, it is destroyed.
func (m *Manager) Leave(requesterID uuid.UUID) error {
	m.mu.Lock()
	gid, inGroup := m.byMember[requesterID]
	if !inGroup {
		m.mu.Unlock()
		return ErrNotFound
	}
	g, ok := m.groups[gid]
	if !ok {
		delete(m.byMember, requesterID)
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(g.Members, requesterID)
	delete(m.byMember, requesterID)

	destroyed := len(g.Members) == 0 && !g.Permanent
	if destroyed {
		delete(m.groups, gid)
	}
	snap := g.snapshot()
	cb := m.onDelta
	m.mu.Unlock()

	if cb != nil {
		cb(Delta{Group: snap, Destroyed: destroyed})
	}
	return nil
}

// UpdateSettings toggles Isolated on a group. Only the creator may call this.
func (m *Manager) UpdateSettings(requesterID, groupID uuid.UUID, isolated bool) (Group, error) {
	m.mu.Lock()
	g, ok := m.groups[groupID]
	if !ok {
		m.mu.Unlock()
		return Group{}, ErrNotFound
	}
	if g.CreatorID != requesterID {
		m.mu.Unlock()
		return Group{}, ErrNotCreator
	}
	g.Isolated = isolated
	snap := g.snapshot()
	cb := m.onDelta
	m.mu.Unlock()

	if cb != nil {
		cb(Delta{Group: snap})
	}
	return snap, nil
}

// GroupOf returns the group a participant currently belongs to, if any.
func (m *Manager) GroupOf(participantID uuid.UUID) (Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gid, ok := m.byMember[participantID]
	if !ok {
		return Group{}, false
	}
	g, ok := m.groups[gid]
	if !ok {
		return Group{}, false
	}
	return g.snapshot(), true
}

// List returns a snapshot of every group, for GROUP_LIST broadcasts.
func (m *Manager) List() []Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g.snapshot())
	}
	return out
}

// RemoveParticipant removes a participant from whatever group it is in
// (e.g. on disconnect), applying the same empty+non-permanent destroy
// rule as Leave. No-op if the participant is in no group.
func (m *Manager) RemoveParticipant(participantID uuid.UUID) {
	_ = m.Leave(participantID) // ErrNotFound is an expected, ignorable outcome here
}
