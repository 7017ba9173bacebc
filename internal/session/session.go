// Package session owns the participant registry: the mapping between a
// participant's stable (128-bit) identity and its short (32-bit) wire
// identifier, transport handle, and mutable mute/speaking state.
//
// The registry is read-mostly. Writes acquire a short exclusive lock;
// readers see a consistent snapshot per method call, mirroring the
// room/client bookkeeping pattern of a datagram SFU: a map guarded by
// one RWMutex, with per-entry atomic fields for values that change
// often (mute/speak) so hot readers never block on the registry lock.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Transport is the minimal interface a session needs from its network
// handle; concrete adapters live in internal/transport.
type Transport interface {
	Send(frame []byte) error
	Close() error
}

// Participant is a connected voice-chat participant.
type Participant struct {
	StableID    uuid.UUID
	ShortID     uint32
	DisplayName string

	Transport Transport

	muted           atomic.Bool
	speaking        atomic.Bool
	voiceConnected  atomic.Bool
	muteExpiryMilli atomic.Int64 // 0 = no expiry
}

// Muted reports the participant's current mute flag.
func (p *Participant) Muted() bool { return p.muted.Load() }

// Speaking reports the participant's current speaking flag.
func (p *Participant) Speaking() bool { return p.speaking.Load() }

// VoiceConnected reports whether the participant is eligible to
// receive voice (used by the proximity resolver's step 4 filter).
func (p *Participant) VoiceConnected() bool { return p.voiceConnected.Load() }

// gracePeriod is the minimum time a short id is held in reserve after a
// participant drops, before it may be reassigned — long enough that a
// stale in-flight media frame addressed to the old short id cannot be
// cross-wired to a new participant.
const gracePeriod = 10 * time.Second

// StatusDelta describes a mute/speaking change broadcast to everyone
// except the participant whose status changed.
type StatusDelta struct {
	StableID uuid.UUID
	Muted    bool
	Speaking bool
}

// Registry is the session registry (component C2).
type Registry struct {
	mu sync.RWMutex

	byStable map[uuid.UUID]*Participant
	byShort  map[uint32]uuid.UUID
	reserved map[uint32]time.Time // short ids in their post-drop grace period

	salt uint64

	// onStatus is invoked (outside the lock) whenever SetMuted/SetSpeaking
	// changes a participant's state, so the routing layer can broadcast
	// a delta on the control channel.
	onStatus func(StatusDelta)

	// onRegister is invoked (outside the lock) immediately after a new
	// participant is assigned a short id, so the routing layer can
	// broadcast its PLAYER_NAME mapping before any voice frame from it
	// could arrive.
	onRegister func(*Participant)
}

// New creates an empty registry with a fresh per-process salt.
func New() *Registry {
	var saltBuf [8]byte
	_, _ = rand.Read(saltBuf[:]) // crypto/rand.Read never fails on supported platforms
	return &Registry{
		byStable: make(map[uuid.UUID]*Participant),
		byShort:  make(map[uint32]uuid.UUID),
		reserved: make(map[uint32]time.Time),
		salt:     binary.BigEndian.Uint64(saltBuf[:]),
	}
}

// OnStatusChange registers the callback fired by SetMuted/SetSpeaking.
func (r *Registry) OnStatusChange(fn func(StatusDelta)) {
	r.mu.Lock()
	r.onStatus = fn
	r.mu.Unlock()
}

// hashShortID derives a 32-bit short id from the stable id, the
// per-process salt, and a collision-retry nonce. xxhash is
// non-cryptographic but fast and well distributed — adequate since the
// short id only needs to be hard to predict for a passive observer, not
// resistant to a targeted preimage attack.
func hashShortID(id uuid.UUID, salt uint64, nonce uint32) uint32 {
	h := xxhash.New()
	_, _ = h.Write(id[:])
	var tmp [12]byte
	binary.BigEndian.PutUint64(tmp[0:8], salt)
	binary.BigEndian.PutUint32(tmp[8:12], nonce)
	_, _ = h.Write(tmp[:])
	sum := h.Sum64()
	return uint32(sum ^ (sum >> 32))
}

// Register assigns a fresh stable id and a collision-free short id to a
// new participant, retrying the hash with an incrementing nonce on
// collision (collision probability is negligible for realistic session
// counts but must be detected, never assumed absent).
func (r *Registry) Register(displayName string, tr Transport) *Participant {
	return r.register(uuid.New(), displayName, tr)
}

// RegisterWithID assigns a collision-free short id to a new participant
// under a caller-supplied stable id, for callers that must share one id
// authority with an external source — cmd/voiced uses this so a
// participant's registry id matches the id the world-feed adapter (C3)
// already knows it by, instead of minting a second, disjoint id nothing
// reconciles back to the world-state cache.
func (r *Registry) RegisterWithID(id uuid.UUID, displayName string, tr Transport) *Participant {
	return r.register(id, displayName, tr)
}

func (r *Registry) register(id uuid.UUID, displayName string, tr Transport) *Participant {
	p := &Participant{
		StableID:    id,
		DisplayName: displayName,
		Transport:   tr,
	}
	p.voiceConnected.Store(true)

	r.mu.Lock()

	var nonce uint32
	for {
		candidate := hashShortID(p.StableID, r.salt, nonce)
		if _, taken := r.byShort[candidate]; taken {
			nonce++
			continue
		}
		if _, inGrace := r.reserved[candidate]; inGrace {
			nonce++
			continue
		}
		p.ShortID = candidate
		break
	}

	r.byStable[p.StableID] = p
	r.byShort[p.ShortID] = p.StableID
	cb := r.onRegister
	r.mu.Unlock()

	if cb != nil {
		cb(p)
	}
	return p
}

// OnRegister registers the callback fired (outside the registry lock)
// immediately after a new participant is assigned a short id, so the
// routing engine can broadcast its PLAYER_NAME mapping to everyone
// already connected before any voice frame from it could arrive.
func (r *Registry) OnRegister(fn func(*Participant)) {
	r.mu.Lock()
	r.onRegister = fn
	r.mu.Unlock()
}

// ResolveByShort looks up a participant by its wire-visible short id.
func (r *Registry) ResolveByShort(shortID uint32) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stable, ok := r.byShort[shortID]
	if !ok {
		return nil, false
	}
	p, ok := r.byStable[stable]
	return p, ok
}

// ResolveByStable looks up a participant by its stable id (used for the
// legacy full-id wire form).
func (r *Registry) ResolveByStable(id uuid.UUID) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byStable[id]
	return p, ok
}

// List returns a snapshot of all currently-registered participants.
func (r *Registry) List() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Participant, 0, len(r.byStable))
	for _, p := range r.byStable {
		out = append(out, p)
	}
	return out
}

// Drop removes a participant's mapping. The short id is held in a grace
// period before it can be reassigned, per the registry's uniqueness
// invariant.
func (r *Registry) Drop(id uuid.UUID) {
	r.mu.Lock()
	p, ok := r.byStable[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byStable, id)
	delete(r.byShort, p.ShortID)
	r.reserved[p.ShortID] = time.Now()
	short := p.ShortID
	r.mu.Unlock()

	time.AfterFunc(gracePeriod, func() {
		r.mu.Lock()
		if t, ok := r.reserved[short]; ok && time.Since(t) >= gracePeriod {
			delete(r.reserved, short)
		}
		r.mu.Unlock()
	})
}

// SetMuted sets a participant's mute flag (optionally with an
// expiry in unix-millis, 0 = no expiry) and fires the status callback.
func (r *Registry) SetMuted(id uuid.UUID, muted bool, expiryMilli int64) {
	r.mu.RLock()
	p, ok := r.byStable[id]
	cb := r.onStatus
	r.mu.RUnlock()
	if !ok {
		return
	}
	p.muted.Store(muted)
	p.muteExpiryMilli.Store(expiryMilli)
	if cb != nil {
		cb(StatusDelta{StableID: id, Muted: muted, Speaking: p.Speaking()})
	}
}

// SetSpeaking sets a participant's speaking flag and fires the status callback.
func (r *Registry) SetSpeaking(id uuid.UUID, speaking bool) {
	r.mu.RLock()
	p, ok := r.byStable[id]
	cb := r.onStatus
	r.mu.RUnlock()
	if !ok {
		return
	}
	p.speaking.Store(speaking)
	if cb != nil {
		cb(StatusDelta{StableID: id, Muted: p.Muted(), Speaking: speaking})
	}
}

// SetVoiceConnected toggles whether the participant is eligible to
// receive routed voice (proximity resolver step 4).
func (r *Registry) SetVoiceConnected(id uuid.UUID, connected bool) {
	r.mu.RLock()
	p, ok := r.byStable[id]
	r.mu.RUnlock()
	if ok {
		p.voiceConnected.Store(connected)
	}
}

// IsVoiceConnected implements proximity.VoiceConnectedChecker directly
// against the registry, so the routing engine can hand *Registry to
// the resolver without an adapter shim. An unknown id is treated as
// not connected.
func (r *Registry) IsVoiceConnected(id uuid.UUID) bool {
	r.mu.RLock()
	p, ok := r.byStable[id]
	r.mu.RUnlock()
	return ok && p.VoiceConnected()
}

// IsMuted reports whether the participant's mute flag is currently in
// effect, accounting for expiry.
func (p *Participant) IsMuted() bool {
	if !p.muted.Load() {
		return false
	}
	expiry := p.muteExpiryMilli.Load()
	if expiry == 0 {
		return true
	}
	return time.Now().UnixMilli() < expiry
}

// BindTransport replaces a participant's transport handle, e.g. once a
// lower-latency datagram or data-channel transport has been correlated
// to an existing participant that first registered over the framed
// channel during authentication. Reports whether the participant was
// found.
func (r *Registry) BindTransport(id uuid.UUID, tr Transport) bool {
	r.mu.RLock()
	p, ok := r.byStable[id]
	r.mu.RUnlock()
	if ok {
		p.Transport = tr
	}
	return ok
}

// Count returns the number of currently-registered participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byStable)
}
