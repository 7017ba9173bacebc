package proximity

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearcast/voicecore/internal/groups"
	"github.com/nearcast/voicecore/internal/worldstate"
)

type allowAll struct{}

func (allowAll) IsVoiceConnected(uuid.UUID) bool { return true }

func findRecipient(rs []Recipient, id uuid.UUID) (Recipient, bool) {
	for _, r := range rs {
		if r.ID == id {
			return r, true
		}
	}
	return Recipient{}, false
}

// S1: proximity cutoff.
func TestProximityCutoff(t *testing.T) {
	world := worldstate.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	world.Update(a, worldstate.Entry{Position: r3.Vector{X: 0, Y: 0, Z: 0}, WorldID: "w"})
	world.Update(b, worldstate.Entry{Position: r3.Vector{X: 0, Y: 0, Z: 25}, WorldID: "w"})
	world.Update(c, worldstate.Entry{Position: r3.Vector{X: 0, Y: 0, Z: 35}, WorldID: "w"})

	gm := groups.New()
	recipients := Resolve(a, world, gm, allowAll{}, 30, false, nil)

	require.Len(t, recipients, 1)
	rb, ok := findRecipient(recipients, b)
	require.True(t, ok)
	assert.InDelta(t, 0.0278, rb.Attenuation, 0.001)
	_, hasC := findRecipient(recipients, c)
	assert.False(t, hasC)
}

// S2: group isolation.
func TestGroupIsolation(t *testing.T) {
	world := worldstate.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	world.Update(a, worldstate.Entry{Position: r3.Vector{X: 0, Y: 0, Z: 0}, WorldID: "w"})
	world.Update(b, worldstate.Entry{Position: r3.Vector{X: 5, Y: 0, Z: 0}, WorldID: "w"})
	world.Update(c, worldstate.Entry{Position: r3.Vector{X: 1000, Y: 0, Z: 0}, WorldID: "w"})

	gm := groups.New()
	g, err := gm.Create(a, "iso", 0)
	require.NoError(t, err)
	_, err = gm.Join(c, g.ID)
	require.NoError(t, err)
	_, err = gm.UpdateSettings(a, g.ID, true)
	require.NoError(t, err)

	recipients := Resolve(a, world, gm, allowAll{}, 30, false, nil)
	require.Len(t, recipients, 1)
	rc, ok := findRecipient(recipients, c)
	require.True(t, ok)
	assert.Equal(t, 1.0, rc.Attenuation)
	assert.Equal(t, 0.0, rc.Distance)
	_, hasB := findRecipient(recipients, b)
	assert.False(t, hasB)
}

// S3: non-isolated group override.
func TestNonIsolatedGroupOverride(t *testing.T) {
	world := worldstate.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	world.Update(a, worldstate.Entry{Position: r3.Vector{X: 0, Y: 0, Z: 0}, WorldID: "w"})
	world.Update(b, worldstate.Entry{Position: r3.Vector{X: 10, Y: 0, Z: 0}, WorldID: "w"})
	world.Update(c, worldstate.Entry{Position: r3.Vector{X: 100, Y: 0, Z: 0}, WorldID: "w"})

	gm := groups.New()
	g, err := gm.Create(a, "squad", 0)
	require.NoError(t, err)
	_, err = gm.Join(c, g.ID)
	require.NoError(t, err)

	recipients := Resolve(a, world, gm, allowAll{}, 30, false, nil)
	require.Len(t, recipients, 2)

	rb, ok := findRecipient(recipients, b)
	require.True(t, ok)
	assert.InDelta(t, 0.444, rb.Attenuation, 0.01)

	rc, ok := findRecipient(recipients, c)
	require.True(t, ok)
	assert.Equal(t, 1.0, rc.Attenuation)
}

// Property 7 / design step 1: absent world snapshot drops non-test voice.
func TestAbsentSnapshotDropsFrame(t *testing.T) {
	world := worldstate.New()
	gm := groups.New()
	a := uuid.New()
	recipients := Resolve(a, world, gm, allowAll{}, 30, false, nil)
	assert.Empty(t, recipients)
}

func TestTestAudioBypassesProximity(t *testing.T) {
	world := worldstate.New()
	gm := groups.New()
	a, b := uuid.New(), uuid.New()
	recipients := Resolve(a, world, gm, allowAll{}, 30, true, []uuid.UUID{a, b})
	require.Len(t, recipients, 1)
	assert.Equal(t, b, recipients[0].ID)
}

type muteOne struct{ muted uuid.UUID }

func (m muteOne) IsVoiceConnected(id uuid.UUID) bool { return id != m.muted }

func TestVoiceDisconnectedRecipientExcluded(t *testing.T) {
	world := worldstate.New()
	a, b := uuid.New(), uuid.New()
	world.Update(a, worldstate.Entry{Position: r3.Vector{}, WorldID: "w"})
	world.Update(b, worldstate.Entry{Position: r3.Vector{X: 1}, WorldID: "w"})
	gm := groups.New()

	recipients := Resolve(a, world, gm, muteOne{muted: b}, 30, false, nil)
	assert.Empty(t, recipients)
}
