package worldstate

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAndGet(t *testing.T) {
	c := New()
	id := uuid.New()
	_, ok := c.Get(id)
	assert.False(t, ok)

	c.Update(id, Entry{Position: r3.Vector{X: 1, Y: 2, Z: 3}, WorldID: "w1"})
	e, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, "w1", e.WorldID)
	assert.Equal(t, 1.0, e.Position.X)
}

func TestRemoveMakesAbsenceDistinguishable(t *testing.T) {
	c := New()
	id := uuid.New()
	c.Update(id, Entry{WorldID: "w1"}) // entry at origin
	e, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, r3.Vector{}, e.Position)

	c.Remove(id)
	_, ok = c.Get(id)
	assert.False(t, ok)
}

func TestSnapshotFiltersByWorld(t *testing.T) {
	c := New()
	a, b, d := uuid.New(), uuid.New(), uuid.New()
	c.Update(a, Entry{WorldID: "w1"})
	c.Update(b, Entry{WorldID: "w1"})
	c.Update(d, Entry{WorldID: "w2"})

	snap := c.Snapshot("w1")
	assert.Len(t, snap, 2)
	_, ok := snap[d]
	assert.False(t, ok)
}
