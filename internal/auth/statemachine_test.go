package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearcast/voicecore/internal/codec"
)

type fakeEmitter struct {
	mu         sync.Mutex
	acks       []AckCode
	rates      []codec.SampleRate
	ready      int
	closeCalls []CloseReason
}

func (f *fakeEmitter) EmitAuthAck(code AckCode, rate codec.SampleRate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, code)
	f.rates = append(f.rates, rate)
}

func (f *fakeEmitter) EmitSessionReady() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready++
}

func (f *fakeEmitter) EmitClose(reason CloseReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls = append(f.closeCalls, reason)
}

func TestSuccessfulAuthReachesPendingGameSession(t *testing.T) {
	em := &fakeEmitter{}
	m := New(em)
	m.HandleAuth("alice", true, true, 48000)
	assert.Equal(t, PendingGameSession, m.State())
	require.Len(t, em.acks, 1)
	assert.Equal(t, AckAccepted, em.acks[0])
	assert.Equal(t, codec.Rate48000, em.rates[0])
}

func TestAuthRejectsDisallowedOrigin(t *testing.T) {
	em := &fakeEmitter{}
	m := New(em)
	m.HandleAuth("alice", false, true, 48000)
	assert.Equal(t, Closed, m.State())
	require.Len(t, em.closeCalls, 1)
	assert.Equal(t, ReasonAuthRejected, em.closeCalls[0])
	assert.Equal(t, AckInvalidCredentials, em.acks[0])
}

func TestAuthRejectsEmptyName(t *testing.T) {
	em := &fakeEmitter{}
	m := New(em)
	m.HandleAuth("", true, true, 48000)
	assert.Equal(t, Closed, m.State())
	assert.Equal(t, AckInvalidCredentials, em.acks[0])
}

func TestAuthRejectsInvalidCredentials(t *testing.T) {
	em := &fakeEmitter{}
	m := New(em)
	m.HandleAuth("alice", true, false, 48000)
	assert.Equal(t, Closed, m.State())
	assert.Equal(t, AckInvalidCredentials, em.acks[0])
}

func TestUnsupportedSampleRateIsCoercedTo48000(t *testing.T) {
	em := &fakeEmitter{}
	m := New(em)
	m.HandleAuth("alice", true, true, 44100)
	assert.Equal(t, codec.Rate48000, em.rates[0])
}

func TestGameSessionReadyTransitionsToReady(t *testing.T) {
	em := &fakeEmitter{}
	m := New(em)
	m.HandleAuth("alice", true, true, 48000)
	id := uuid.New()
	m.HandleGameSessionReady(id)
	assert.Equal(t, Ready, m.State())
	assert.Equal(t, id, m.StableID())
	assert.Equal(t, 1, em.ready)
}

// S6: peer completes AUTH, game adapter never reports the player;
// after 30s the session closes with session_timeout.
func TestScenarioS6PendingGameSessionTimesOut(t *testing.T) {
	em := &fakeEmitter{}
	m := New(em)
	m.mu.Lock()
	m.state = Unauthenticated
	m.mu.Unlock()
	m.HandleAuth("alice", true, true, 48000)
	require.Equal(t, PendingGameSession, m.State())

	// Replace the real 30s timer with an immediate one for the test.
	m.mu.Lock()
	m.pendingTimer.Stop()
	m.pendingTimer = time.AfterFunc(time.Millisecond, m.onPendingTimeout)
	m.mu.Unlock()

	require.Eventually(t, func() bool {
		return m.State() == Closed
	}, time.Second, time.Millisecond)

	require.Len(t, em.closeCalls, 1)
	assert.Equal(t, ReasonSessionTimeout, em.closeCalls[0])
}

func TestDisconnectIsIdempotentAfterClose(t *testing.T) {
	em := &fakeEmitter{}
	m := New(em)
	m.HandleAuth("alice", true, true, 48000)
	m.HandleGameSessionReady(uuid.New())
	m.HandleDisconnect(ReasonClientDisconnect)
	assert.Equal(t, Closed, m.State())
	m.HandleDisconnect(ReasonClientDisconnect)
	assert.Len(t, em.closeCalls, 1, "a second disconnect must not emit twice")
}

func TestGameSessionReadyIgnoredOutsidePendingState(t *testing.T) {
	em := &fakeEmitter{}
	m := New(em)
	m.HandleGameSessionReady(uuid.New())
	assert.Equal(t, Unauthenticated, m.State())
	assert.Equal(t, 0, em.ready)
}
