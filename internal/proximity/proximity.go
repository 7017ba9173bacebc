// Package proximity computes, for one inbound voice frame, the set of
// recipients that should hear it, together with each recipient's
// distance, attenuation, and the sender's position relative to the
// recipient in world coordinates (the recipient's yaw and pitch are not
// applied).
//
// All comparisons use 64-bit floats even though positions are carried
// on the wire as 32-bit floats, per spec; github.com/golang/geo/r3
// supplies the vector arithmetic (Sub, Norm) so this package reads like
// the rest of the pack's coordinate-math code rather than hand-rolled
// sqrt/dot-product arithmetic.
package proximity

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/nearcast/voicecore/internal/groups"
	"github.com/nearcast/voicecore/internal/worldstate"
)

// DefaultRange is the proximity radius R used when configuration does
// not override it.
const DefaultRange = 30.0

// epsilon is the distance below which a pan direction is undefined;
// such recipients get a zero relative position rather than a
// division-by-near-zero direction.
const epsilon = 1e-6

// Recipient is one resolved recipient of a forwarded voice frame.
type Recipient struct {
	ID          uuid.UUID
	Distance    float64
	Attenuation float64
	RelativePos r3.Vector // P_s - P_p in world coordinates; the listener's yaw and pitch are not applied
}

// VoiceConnectedChecker reports whether a participant is currently
// eligible to receive routed voice (step 4 of the algorithm). The
// session registry implements this.
type VoiceConnectedChecker interface {
	IsVoiceConnected(id uuid.UUID) bool
}

// Resolve computes the recipient set for one inbound frame from
// senderID, using the given world-state cache and group manager.
// isTestAudio bypasses proximity entirely per spec §4.5 step 1.
func Resolve(
	senderID uuid.UUID,
	world *worldstate.Cache,
	groupMgr *groups.Manager,
	conn VoiceConnectedChecker,
	rangeR float64,
	isTestAudio bool,
	allParticipants []uuid.UUID,
) []Recipient {
	if rangeR <= 0 {
		rangeR = DefaultRange
	}

	senderEntry, ok := world.Get(senderID)
	if !ok && !isTestAudio {
		// Sender is not spatially placed; the frame is dropped.
		return nil
	}

	if isTestAudio {
		return testAudioRecipients(senderID, allParticipants, conn)
	}

	g, inGroup := groupMgr.GroupOf(senderID)
	if inGroup && g.Isolated {
		return isolatedGroupRecipients(senderID, g, conn)
	}

	snapshot := world.Snapshot(senderEntry.WorldID)
	return proximityRecipients(senderID, senderEntry, snapshot, g, inGroup, rangeR, conn)
}

func testAudioRecipients(senderID uuid.UUID, all []uuid.UUID, conn VoiceConnectedChecker) []Recipient {
	out := make([]Recipient, 0, len(all))
	for _, id := range all {
		if id == senderID {
			continue
		}
		if conn != nil && !conn.IsVoiceConnected(id) {
			continue
		}
		out = append(out, Recipient{ID: id, Distance: 0, Attenuation: 1})
	}
	return out
}

func isolatedGroupRecipients(senderID uuid.UUID, g groups.Group, conn VoiceConnectedChecker) []Recipient {
	out := make([]Recipient, 0, len(g.Members))
	for id := range g.Members {
		if id == senderID {
			continue
		}
		if conn != nil && !conn.IsVoiceConnected(id) {
			continue
		}
		// Step 2: no distance attenuation inside an isolated group.
		out = append(out, Recipient{ID: id, Distance: 0, Attenuation: 1})
	}
	return out
}

func proximityRecipients(
	senderID uuid.UUID,
	senderEntry worldstate.Entry,
	snapshot map[uuid.UUID]worldstate.Entry,
	g groups.Group,
	inGroup bool,
	rangeR float64,
	conn VoiceConnectedChecker,
) []Recipient {
	out := make([]Recipient, 0, len(snapshot))
	for id, entry := range snapshot {
		if id == senderID {
			continue
		}
		memberOfGroup := inGroup && isMember(g, id)

		d := senderEntry.Position.Sub(entry.Position).Norm()

		if d >= rangeR && !memberOfGroup {
			continue
		}

		var attenuation float64
		if d < rangeR {
			attenuation = math.Pow(1-d/rangeR, 2)
		} else {
			// d >= rangeR but memberOfGroup: group membership overrides distance.
			attenuation = 1
		}

		if conn != nil && !conn.IsVoiceConnected(id) {
			continue
		}

		rel := senderEntry.Position.Sub(entry.Position)
		if rel.Norm() < epsilon {
			rel = r3.Vector{}
		}

		out = append(out, Recipient{
			ID:          id,
			Distance:    d,
			Attenuation: attenuation,
			RelativePos: rel,
		})
	}
	return out
}

func isMember(g groups.Group, id uuid.UUID) bool {
	if g.Members == nil {
		return false
	}
	_, ok := g.Members[id]
	return ok
}
