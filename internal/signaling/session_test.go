package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearcast/voicecore/internal/groups"
	"github.com/nearcast/voicecore/internal/session"
)

type recordingSender struct {
	mu  sync.Mutex
	env []Envelope
}

func (r *recordingSender) SendJSON(_ context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	r.mu.Lock()
	r.env = append(r.env, env)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) last() Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.env) == 0 {
		panic("recordingSender: last() called with no envelopes sent")
	}
	return r.env[len(r.env)-1]
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.env)
}

func newTestSession(t *testing.T) (*Session, *recordingSender, *session.Registry) {
	t.Helper()
	reg := session.New()
	groupMgr := groups.New()
	sender := &recordingSender{}
	s := NewSession(sender, reg, groupMgr, nil, nil,
		func() bool { return true },
		func(name, token string) bool { return true },
	)
	return s, sender, reg
}

func authenticate(t *testing.T, s *Session, sender *recordingSender, reg *session.Registry, name string) {
	t.Helper()
	s.HandleMessage([]byte(`{"type":"auth","name":"` + name + `","sample_rate":48000}`))
	require.Equal(t, TypeAuthenticated, sender.last().Type)

	p := reg.Register(name, nil)
	s.machine.HandleGameSessionReady(p.StableID)
}

func TestAuthFlowEmitsAuthenticatedThenPendingThenReady(t *testing.T) {
	s, sender, reg := newTestSession(t)
	s.HandleMessage([]byte(`{"type":"auth","name":"alice","sample_rate":48000}`))

	require.Len(t, sender.env, 2)
	assert.Equal(t, TypeAuthenticated, sender.env[0].Type)
	assert.Equal(t, TypePendingGameSession, sender.env[1].Type)

	p := reg.Register("alice", nil)
	s.machine.HandleGameSessionReady(p.StableID)
	assert.Equal(t, TypeGameSessionReady, sender.last().Type)
}

func TestMalformedEnvelopeIsDropped(t *testing.T) {
	s, sender, _ := newTestSession(t)
	s.HandleMessage([]byte(`not json`))
	assert.Equal(t, 0, sender.count())
}

func TestUnknownTypeIsIgnored(t *testing.T) {
	s, sender, _ := newTestSession(t)
	s.HandleMessage([]byte(`{"type":"made_up_type"}`))
	assert.Equal(t, 0, sender.count())
}

func TestCreateJoinLeaveGroupRoundTrip(t *testing.T) {
	s, sender, reg := newTestSession(t)
	authenticate(t, s, sender, reg, "alice")

	s.HandleMessage([]byte(`{"type":"create_group","group_name":"squad"}`))
	created := sender.last()
	require.Equal(t, TypeGroupCreated, created.Type)
	assert.Equal(t, "squad", created.GroupName)

	s2, sender2, reg2 := newTestSession(t)
	_ = reg2
	authenticate(t, s2, sender2, reg, "bob")
	s2.HandleMessage([]byte(`{"type":"join_group","group_id":"` + created.GroupID + `"}`))
	assert.Equal(t, TypeGroupJoined, sender2.last().Type)

	s2.HandleMessage([]byte(`{"type":"leave_group"}`))
	assert.Equal(t, TypeGroupLeft, sender2.last().Type)
}

func TestJoinUnknownGroupReturnsError(t *testing.T) {
	s, sender, reg := newTestSession(t)
	authenticate(t, s, sender, reg, "alice")
	s.HandleMessage([]byte(`{"type":"join_group","group_id":"` + "00000000-0000-0000-0000-000000000000" + `"}`))
	assert.Equal(t, TypeError, sender.last().Type)
}

func TestUpdateMuteTogglesRegistry(t *testing.T) {
	s, sender, reg := newTestSession(t)
	authenticate(t, s, sender, reg, "alice")

	s.HandleMessage([]byte(`{"type":"update_mute","muted":true}`))
	p, ok := reg.ResolveByStable(s.machine.StableID())
	require.True(t, ok)
	assert.True(t, p.Muted())
}

func TestListPlayersReturnsRegisteredParticipants(t *testing.T) {
	s, sender, reg := newTestSession(t)
	authenticate(t, s, sender, reg, "alice")

	s.HandleMessage([]byte(`{"type":"list_players"}`))
	env := sender.last()
	require.Equal(t, TypePlayerList, env.Type)
	require.Len(t, env.Players, 1)
	assert.Equal(t, "alice", env.Players[0].Name)
}

func TestDisconnectEmitsDisconnected(t *testing.T) {
	s, sender, reg := newTestSession(t)
	authenticate(t, s, sender, reg, "alice")

	s.HandleMessage([]byte(`{"type":"disconnect"}`))
	assert.Equal(t, TypeDisconnected, sender.last().Type)
}
