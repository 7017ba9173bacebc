package groups

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJoinLeave(t *testing.T) {
	m := New()
	creator := uuid.New()
	member := uuid.New()

	g, err := m.Create(creator, "squad", 0)
	require.NoError(t, err)
	assert.Len(t, g.Members, 1)

	g, err = m.Join(member, g.ID)
	require.NoError(t, err)
	assert.Len(t, g.Members, 2)

	require.NoError(t, m.Leave(member))
	g, ok := m.GroupOf(creator)
	require.True(t, ok)
	assert.Len(t, g.Members, 1)
}

func TestLeaveDestroysEmptyNonPermanentGroup(t *testing.T) {
	m := New()
	creator := uuid.New()
	g, err := m.Create(creator, "temp", 0)
	require.NoError(t, err)

	require.NoError(t, m.Leave(creator))
	_, ok := m.GroupOf(creator)
	assert.False(t, ok)
	assert.Empty(t, m.List())
	_, err = m.Join(creator, g.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinRejectsWhenAlreadyInAnotherGroup(t *testing.T) {
	m := New()
	a, b := uuid.New(), uuid.New()
	g1, _ := m.Create(a, "g1", 0)
	g2, _ := m.Create(b, "g2", 0)

	_, err := m.Join(a, g2.ID)
	assert.ErrorIs(t, err, ErrAlreadyInGroup)
	_ = g1
}

func TestJoinRejectsWhenFull(t *testing.T) {
	m := New()
	creator := uuid.New()
	g, _ := m.Create(creator, "small", 1)

	_, err := m.Join(uuid.New(), g.ID)
	assert.ErrorIs(t, err, ErrFull)
}

func TestUpdateSettingsRequiresCreator(t *testing.T) {
	m := New()
	creator := uuid.New()
	other := uuid.New()
	g, _ := m.Create(creator, "g", 0)
	m.Join(other, g.ID)

	_, err := m.UpdateSettings(other, g.ID, true)
	assert.ErrorIs(t, err, ErrNotCreator)

	g2, err := m.UpdateSettings(creator, g.ID, true)
	require.NoError(t, err)
	assert.True(t, g2.Isolated)
}

func TestAtMostOneGroupPerParticipant(t *testing.T) {
	m := New()
	p := uuid.New()
	g1, _ := m.Create(p, "g1", 0)
	_, ok := m.GroupOf(p)
	require.True(t, ok)

	// Creating a second group while already in one must fail.
	_, err := m.Create(p, "g2", 0)
	assert.ErrorIs(t, err, ErrAlreadyInGroup)
	_ = g1
}
