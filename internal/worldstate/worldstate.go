// Package worldstate holds the most recently observed position and
// orientation of every participant inside the game world, as reported
// by the external game-integration adapter. It is a pure cache: it
// never blocks on the network and never itself decides routing.
package worldstate

import (
	"sync"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

// Entry is one participant's latest world snapshot.
type Entry struct {
	Position    r3.Vector // x, y, z — carried on the wire as float32, held here as float64 for math
	Yaw, Pitch  float64
	WorldID     string
}

// Cache is the world-state cache (component C3). Writes overwrite the
// prior entry for a participant; a single Snapshot call returns a
// point-in-time copy so a routing decision made from it cannot be
// disturbed by a concurrent write mid-computation.
type Cache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

// New creates an empty world-state cache.
func New() *Cache {
	return &Cache{entries: make(map[uuid.UUID]Entry)}
}

// Update overwrites the snapshot for a participant. Called by the
// game-integration adapter at its own cadence (assumed >=5 Hz).
func (c *Cache) Update(id uuid.UUID, e Entry) {
	c.mu.Lock()
	c.entries[id] = e
	c.mu.Unlock()
}

// Remove deletes a participant's entry, e.g. on disconnect. Absence is
// distinguishable from "entry at origin": a removed or never-seen
// participant yields (Entry{}, false) from Get.
func (c *Cache) Remove(id uuid.UUID) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Get returns the latest snapshot for one participant.
func (c *Cache) Get(id uuid.UUID) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Snapshot returns a point-in-time copy of every entry whose world id
// matches worldID. The routing engine calls this once per inbound
// frame so concurrent world-state writes cannot alter the recipient
// set mid-fan-out.
func (c *Cache) Snapshot(worldID string) map[uuid.UUID]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uuid.UUID]Entry, len(c.entries))
	for id, e := range c.entries {
		if e.WorldID == worldID {
			out[id] = e
		}
	}
	return out
}
