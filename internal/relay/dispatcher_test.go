package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxwellShipley/OS-zoom-app/internal/gateway"
	"github.com/MaxwellShipley/OS-zoom-app/internal/protocol"
	"github.com/MaxwellShipley/OS-zoom-app/internal/registry"
	"github.com/MaxwellShipley/OS-zoom-app/internal/room"
)

// fakeConn records everything the dispatcher sends to it.
type fakeConn struct {
	id      string
	packets []protocol.Packet
	events  []protocol.Event
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(pkt protocol.Packet) error {
	f.packets = append(f.packets, pkt)
	return nil
}

func (f *fakeConn) SendEvent(ev protocol.Event) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeConn) lastPacket(t *testing.T) protocol.Packet {
	t.Helper()
	require.NotEmpty(t, f.packets, "expected at least one packet on %s", f.id)
	return f.packets[len(f.packets)-1]
}

func (f *fakeConn) reset() {
	f.packets = nil
	f.events = nil
}

// fakeGateway accepts any password equal to "letmein" and creates on demand.
type fakeGateway struct {
	createErr error
}

func (g *fakeGateway) Verify(_ context.Context, username, password string) (string, error) {
	if password != "letmein" {
		return "", gateway.ErrInvalidCredentials
	}
	return gateway.NormalizeUsername(username), nil
}

func (g *fakeGateway) Create(_ context.Context, username, _, _ string) (string, error) {
	if g.createErr != nil {
		return "", g.createErr
	}
	return gateway.NormalizeUsername(username), nil
}

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(zerolog.Nop(), &fakeGateway{}, registry.New(), room.NewStore(), NewThrottle())
}

func dispatch(d *Dispatcher, conn protocol.Conn, cmd protocol.Command, payload any) {
	pkt := protocol.NewPacket(cmd, payload)
	raw, err := json.Marshal(pkt)
	if err != nil {
		panic(err)
	}
	d.HandlePacket(context.Background(), conn, raw)
}

func payloadOf[T any](t *testing.T, pkt protocol.Packet) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(pkt.Data, &v))
	return v
}

func eventPayloadOf[T any](t *testing.T, ev protocol.Event) T {
	t.Helper()
	raw, err := json.Marshal(ev.Data)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestPingAck(t *testing.T) {
	d := newTestDispatcher()
	conn := &fakeConn{id: "c1"}

	d.HandlePacket(context.Background(), conn, []byte(`{"cmd": 0}`))

	assert.Equal(t, protocol.CmdAck, conn.lastPacket(t).Cmd)
}

func TestMalformedPacketGetsBadData(t *testing.T) {
	d := newTestDispatcher()
	conn := &fakeConn{id: "c1"}

	d.HandlePacket(context.Background(), conn, []byte(`{"data": {}}`))

	pkt := conn.lastPacket(t)
	assert.Equal(t, protocol.CmdBadData, pkt.Cmd)
	assert.Equal(t, "missing cmd", payloadOf[protocol.ErrorInfo](t, pkt).Error)
}

func TestUnknownCommandGetsBadCommand(t *testing.T) {
	d := newTestDispatcher()
	conn := &fakeConn{id: "c1"}

	d.HandlePacket(context.Background(), conn, []byte(`{"cmd": 99}`))

	assert.Equal(t, protocol.CmdBadCommand, conn.lastPacket(t).Cmd)
}

func TestAuthenticateSuccess(t *testing.T) {
	d := newTestDispatcher()
	conn := &fakeConn{id: "c1"}

	dispatch(d, conn, protocol.CmdAuthenticate, protocol.AuthRequest{Username: "Alice", Password: "letmein"})

	pkt := conn.lastPacket(t)
	require.Equal(t, protocol.CmdAuthOK, pkt.Cmd)
	assert.Equal(t, "alice", payloadOf[protocol.AuthOK](t, pkt).UserID)
}

func TestAuthenticateEmailFallback(t *testing.T) {
	d := newTestDispatcher()
	conn := &fakeConn{id: "c1"}

	dispatch(d, conn, protocol.CmdAuthenticate, protocol.AuthRequest{Email: "alice@example.com", Password: "letmein"})

	pkt := conn.lastPacket(t)
	require.Equal(t, protocol.CmdAuthOK, pkt.Cmd)
	assert.Equal(t, "alice@example.com", payloadOf[protocol.AuthOK](t, pkt).UserID)
}

func TestAuthenticateFailureIsGeneric(t *testing.T) {
	d := newTestDispatcher()
	conn := &fakeConn{id: "c1"}

	dispatch(d, conn, protocol.CmdAuthenticate, protocol.AuthRequest{Username: "alice", Password: "wrong"})

	pkt := conn.lastPacket(t)
	require.Equal(t, protocol.CmdAuthFail, pkt.Cmd)
	assert.Equal(t, "invalid credentials", payloadOf[protocol.ErrorInfo](t, pkt).Error)
}

func TestAuthenticateThrottleLockout(t *testing.T) {
	d := newTestDispatcher()
	conn := &fakeConn{id: "c1"}

	for i := 0; i < maxLoginFailures; i++ {
		dispatch(d, conn, protocol.CmdAuthenticate, protocol.AuthRequest{Username: "alice", Password: "wrong"})
	}

	// The sixth attempt is rejected before the gateway runs, even with a
	// correct password.
	conn.reset()
	dispatch(d, conn, protocol.CmdAuthenticate, protocol.AuthRequest{Username: "alice", Password: "letmein"})

	pkt := conn.lastPacket(t)
	require.Equal(t, protocol.CmdAuthFail, pkt.Cmd)
	assert.Equal(t, "too many attempts, try again later", payloadOf[protocol.ErrorInfo](t, pkt).Error)

	// Lockouts are per connection, not per account.
	other := &fakeConn{id: "c2"}
	dispatch(d, other, protocol.CmdAuthenticate, protocol.AuthRequest{Username: "alice", Password: "letmein"})
	assert.Equal(t, protocol.CmdAuthOK, other.lastPacket(t).Cmd)
}

func TestCreateAccountConflict(t *testing.T) {
	d := newTestDispatcher()
	d.gateway = &fakeGateway{createErr: gateway.ErrAccountExists}
	conn := &fakeConn{id: "c1"}

	dispatch(d, conn, protocol.CmdCreateAccount, protocol.AuthRequest{Username: "alice", Password: "password1"})

	pkt := conn.lastPacket(t)
	require.Equal(t, protocol.CmdAuthFail, pkt.Cmd)
	assert.Equal(t, "account already exists", payloadOf[protocol.ErrorInfo](t, pkt).Error)
}

func TestCreateAccountInvalidIsGeneric(t *testing.T) {
	d := newTestDispatcher()
	d.gateway = &fakeGateway{createErr: gateway.ErrInvalidAccount}
	conn := &fakeConn{id: "c1"}

	dispatch(d, conn, protocol.CmdCreateAccount, protocol.AuthRequest{Username: "alice", Password: "short"})

	pkt := conn.lastPacket(t)
	require.Equal(t, protocol.CmdAuthFail, pkt.Cmd)
	assert.Equal(t, "could not create account", payloadOf[protocol.ErrorInfo](t, pkt).Error)
}

// Scenario: a session joins, a second session joins the same meeting, the
// first one observes the participant_joined event and the joiner gets the
// snapshot.
func TestJoinBroadcastsAndSnapshots(t *testing.T) {
	d := newTestDispatcher()
	alice := &fakeConn{id: "c1"}
	bob := &fakeConn{id: "c2"}

	dispatch(d, alice, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "alice", UserName: "Alice"})

	require.Len(t, alice.events, 1)
	assert.Equal(t, protocol.EventCurrentParticipants, alice.events[0].Event)
	snap := eventPayloadOf[protocol.MeetingSnapshot](t, alice.events[0])
	assert.Len(t, snap.Participants, 1)
	assert.Empty(t, snap.Scores)

	dispatch(d, bob, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "bob", UserName: "Bob"})

	require.Len(t, alice.events, 2)
	assert.Equal(t, protocol.EventParticipantJoined, alice.events[1].Event)
	change := eventPayloadOf[protocol.ParticipantChange](t, alice.events[1])
	assert.Equal(t, "bob", change.UserID)
	assert.Equal(t, 2, change.ParticipantCount)

	require.Len(t, bob.events, 1)
	snap = eventPayloadOf[protocol.MeetingSnapshot](t, bob.events[0])
	assert.Len(t, snap.Participants, 2)
}

func TestRejoinDoesNotRebroadcast(t *testing.T) {
	d := newTestDispatcher()
	alice := &fakeConn{id: "c1"}
	bob := &fakeConn{id: "c2"}

	dispatch(d, alice, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "alice", UserName: "Alice"})
	dispatch(d, bob, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "bob", UserName: "Bob"})
	alice.reset()

	// Bob reconnects under a new connection; alice must not see another
	// participant_joined.
	bob2 := &fakeConn{id: "c3"}
	dispatch(d, bob2, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "bob", UserName: "Bob"})

	assert.Empty(t, alice.events)
	require.Len(t, bob2.events, 1)
	assert.Equal(t, protocol.EventCurrentParticipants, bob2.events[0].Event)
}

// Either arrival order of REGISTER and JOIN yields exactly one JOIN_INFO
// plus one START on the agent, in that order.
func TestAgentStartRegisterThenJoin(t *testing.T) {
	d := newTestDispatcher()
	agent := &fakeConn{id: "a1"}
	session := &fakeConn{id: "s1"}

	dispatch(d, agent, protocol.CmdRegisterAgent, protocol.AgentRef{UserID: "alice"})

	require.Len(t, agent.packets, 1)
	assert.Equal(t, protocol.CmdAck, agent.packets[0].Cmd)

	dispatch(d, session, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "alice", UserName: "Alice"})

	require.Len(t, agent.packets, 3)
	assert.Equal(t, protocol.CmdJoin, agent.packets[1].Cmd)
	info := payloadOf[protocol.JoinRequest](t, agent.packets[1])
	assert.Equal(t, "m1", info.MeetingID)
	assert.Equal(t, "Alice", info.UserName)
	assert.Equal(t, protocol.CmdStartStream, agent.packets[2].Cmd)
}

func TestAgentStartJoinThenRegister(t *testing.T) {
	d := newTestDispatcher()
	agent := &fakeConn{id: "a1"}
	session := &fakeConn{id: "s1"}

	dispatch(d, session, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "alice", UserName: "Alice"})
	dispatch(d, agent, protocol.CmdRegisterAgent, protocol.AgentRef{UserID: "alice"})

	require.Len(t, agent.packets, 3)
	assert.Equal(t, protocol.CmdAck, agent.packets[0].Cmd)
	assert.Equal(t, protocol.CmdJoin, agent.packets[1].Cmd)
	assert.Equal(t, protocol.CmdStartStream, agent.packets[2].Cmd)
	start := payloadOf[protocol.StreamRef](t, agent.packets[2])
	assert.Equal(t, "m1", start.MeetingID)
	assert.Equal(t, "alice", start.UserID)
}

func TestRegisterWithoutJoinStaysQuiet(t *testing.T) {
	d := newTestDispatcher()
	agent := &fakeConn{id: "a1"}

	dispatch(d, agent, protocol.CmdRegisterAgent, protocol.AgentRef{UserID: "alice"})

	require.Len(t, agent.packets, 1)
	assert.Equal(t, protocol.CmdAck, agent.packets[0].Cmd)
}

func TestUnregisterOwnerOnly(t *testing.T) {
	d := newTestDispatcher()
	owner := &fakeConn{id: "a1"}
	intruder := &fakeConn{id: "a2"}

	dispatch(d, owner, protocol.CmdRegisterAgent, protocol.AgentRef{UserID: "alice"})

	dispatch(d, intruder, protocol.CmdUnregisterAgent, protocol.AgentRef{UserID: "alice"})
	pkt := intruder.lastPacket(t)
	require.Equal(t, protocol.CmdBadData, pkt.Cmd)
	assert.Equal(t, "not the registered agent for this user", payloadOf[protocol.ErrorInfo](t, pkt).Error)

	dispatch(d, owner, protocol.CmdUnregisterAgent, protocol.AgentRef{UserID: "alice"})
	pkt = owner.lastPacket(t)
	require.Equal(t, protocol.CmdAck, pkt.Cmd)
	assert.Equal(t, "agent_unregistered", payloadOf[protocol.AckInfo](t, pkt).Message)
}

func TestScoreBroadcastsToAllParticipants(t *testing.T) {
	d := newTestDispatcher()
	alice := &fakeConn{id: "c1"}
	bob := &fakeConn{id: "c2"}
	agent := &fakeConn{id: "a1"}

	dispatch(d, alice, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "alice", UserName: "Alice"})
	dispatch(d, bob, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "bob", UserName: "Bob"})
	alice.reset()
	bob.reset()

	p1, p2 := 0.87654, 0.25
	dispatch(d, agent, protocol.CmdScore, protocol.ScoreReport{
		MeetingID: "m1",
		UserID:    "alice",
		Prob1:     &p1,
		Prob2:     &p2,
		Timestamp: "2026-08-29T10:00:00Z",
	})

	for _, conn := range []*fakeConn{alice, bob} {
		require.Len(t, conn.packets, 1, "conn %s", conn.id)
		pkt := conn.packets[0]
		require.Equal(t, protocol.CmdScore, pkt.Cmd)
		update := payloadOf[protocol.ScoreUpdate](t, pkt)
		assert.Equal(t, "alice", update.UserID)
		assert.Equal(t, "Alice", update.UserName)
		assert.Equal(t, 0.88, update.Prob1, "values are rounded to 2 decimals")
		require.NotNil(t, update.Prob2)
		assert.Equal(t, 0.25, *update.Prob2)
		assert.Equal(t, "2026-08-29T10:00:00Z", update.Timestamp)
	}
}

func TestScoreLegacyAuthenticationAlias(t *testing.T) {
	d := newTestDispatcher()
	alice := &fakeConn{id: "c1"}
	agent := &fakeConn{id: "a1"}

	dispatch(d, alice, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "alice", UserName: "Alice"})
	alice.reset()

	v := 0.5
	dispatch(d, agent, protocol.CmdScore, protocol.ScoreReport{
		MeetingID:      "m1",
		UserID:         "alice",
		Authentication: &v,
	})

	require.Len(t, alice.packets, 1)
	update := payloadOf[protocol.ScoreUpdate](t, alice.packets[0])
	assert.Equal(t, 0.5, update.Prob1)
	assert.Nil(t, update.Prob2, "alias populates only the first component")
	assert.NotEmpty(t, update.Timestamp, "omitted timestamp is filled in")
}

// The deployed clients identify the user as originStoryUserId rather than
// userId; both spellings must work on every user-addressed command.
func TestLegacyUserFieldName(t *testing.T) {
	d := newTestDispatcher()
	agent := &fakeConn{id: "a1"}
	session := &fakeConn{id: "s1"}

	d.HandlePacket(context.Background(), agent, []byte(`{"cmd": 14, "data": {"originStoryUserId": "alice"}}`))
	pkt := agent.lastPacket(t)
	require.Equal(t, protocol.CmdAck, pkt.Cmd)
	assert.Equal(t, "agent_registered", payloadOf[protocol.AckInfo](t, pkt).Message)

	d.HandlePacket(context.Background(), session, []byte(`{"cmd": 13, "data": {"meetingId": "m1", "originStoryUserId": "alice", "userName": "Alice"}}`))
	require.Len(t, session.events, 1)
	snap := eventPayloadOf[protocol.MeetingSnapshot](t, session.events[0])
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, "alice", snap.Participants[0].UserID)

	// The join lands on the binding made under the legacy spelling.
	require.Len(t, agent.packets, 3)
	assert.Equal(t, protocol.CmdJoin, agent.packets[1].Cmd)
	assert.Equal(t, protocol.CmdStartStream, agent.packets[2].Cmd)

	session.reset()
	d.HandlePacket(context.Background(), agent, []byte(`{"cmd": 8, "data": {"meetingId": "m1", "originStoryUserId": "alice", "prob_1": 0.7, "prob_2": 0.3}}`))
	require.Len(t, session.packets, 1)
	update := payloadOf[protocol.ScoreUpdate](t, session.packets[0])
	assert.Equal(t, "alice", update.UserID)
	assert.Equal(t, 0.7, update.Prob1)

	agent.reset()
	d.HandlePacket(context.Background(), session, []byte(`{"cmd": 9, "data": {"originStoryUserId": "alice"}}`))
	require.Len(t, agent.packets, 1)
	assert.Equal(t, protocol.CmdStopStream, agent.packets[0].Cmd)

	agent.reset()
	d.HandlePacket(context.Background(), agent, []byte(`{"cmd": 15, "data": {"originStoryUserId": "alice"}}`))
	pkt = agent.lastPacket(t)
	require.Equal(t, protocol.CmdAck, pkt.Cmd)
	assert.Equal(t, "agent_unregistered", payloadOf[protocol.AckInfo](t, pkt).Message)
}

func TestCanonicalUserFieldWinsOverLegacy(t *testing.T) {
	d := newTestDispatcher()
	agent := &fakeConn{id: "a1"}

	d.HandlePacket(context.Background(), agent, []byte(`{"cmd": 14, "data": {"userId": "alice", "originStoryUserId": "bob"}}`))
	require.Equal(t, protocol.CmdAck, agent.lastPacket(t).Cmd)

	// The binding belongs to the canonical identity.
	other := &fakeConn{id: "a2"}
	dispatch(d, other, protocol.CmdUnregisterAgent, protocol.AgentRef{UserID: "bob"})
	assert.Equal(t, protocol.CmdBadData, other.lastPacket(t).Cmd)

	dispatch(d, agent, protocol.CmdUnregisterAgent, protocol.AgentRef{UserID: "alice"})
	assert.Equal(t, protocol.CmdAck, agent.lastPacket(t).Cmd)
}

func TestScoreOutOfRangeRejected(t *testing.T) {
	d := newTestDispatcher()
	alice := &fakeConn{id: "c1"}
	agent := &fakeConn{id: "a1"}

	dispatch(d, alice, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "alice", UserName: "Alice"})

	for _, bad := range []float64{-0.1, 1.1} {
		agent.reset()
		dispatch(d, agent, protocol.CmdScore, protocol.ScoreReport{MeetingID: "m1", UserID: "alice", Prob1: &bad})
		pkt := agent.lastPacket(t)
		require.Equal(t, protocol.CmdBadData, pkt.Cmd, "value %v", bad)
	}

	// NaN and Inf never survive JSON encoding, so feed raw bytes.
	agent.reset()
	d.HandlePacket(context.Background(), agent, []byte(`{"cmd": 8, "data": {"meetingId": "m1", "userId": "alice", "prob_1": "nope"}}`))
	assert.Equal(t, protocol.CmdBadData, agent.lastPacket(t).Cmd)
}

func TestScoreMissingProbability(t *testing.T) {
	d := newTestDispatcher()
	alice := &fakeConn{id: "c1"}
	agent := &fakeConn{id: "a1"}

	dispatch(d, alice, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "alice", UserName: "Alice"})

	dispatch(d, agent, protocol.CmdScore, protocol.ScoreReport{MeetingID: "m1", UserID: "alice"})

	pkt := agent.lastPacket(t)
	require.Equal(t, protocol.CmdBadData, pkt.Cmd)
	assert.Equal(t, "missing prob_1", payloadOf[protocol.ErrorInfo](t, pkt).Error)
}

// Scenario: a score against a vanished meeting stops the agent before the
// error reply reaches the reporter.
func TestScoreUnknownMeetingStopsAgent(t *testing.T) {
	d := newTestDispatcher()
	agent := &fakeConn{id: "a1"}

	dispatch(d, agent, protocol.CmdRegisterAgent, protocol.AgentRef{UserID: "alice"})
	agent.reset()

	v := 0.5
	dispatch(d, agent, protocol.CmdScore, protocol.ScoreReport{MeetingID: "m-gone", UserID: "alice", Prob1: &v})

	require.Len(t, agent.packets, 2)
	assert.Equal(t, protocol.CmdStopStream, agent.packets[0].Cmd, "stop precedes the error reply")
	stop := payloadOf[protocol.StreamRef](t, agent.packets[0])
	assert.Equal(t, "m-gone", stop.MeetingID)
	assert.Equal(t, protocol.CmdBadData, agent.packets[1].Cmd)
}

func TestStopForwardedToAgent(t *testing.T) {
	d := newTestDispatcher()
	agent := &fakeConn{id: "a1"}
	session := &fakeConn{id: "s1"}

	dispatch(d, agent, protocol.CmdRegisterAgent, protocol.AgentRef{UserID: "alice"})
	dispatch(d, session, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "alice", UserName: "Alice"})
	agent.reset()

	// Meeting ID omitted; resolved from the registry binding.
	dispatch(d, session, protocol.CmdStopStream, protocol.StreamRef{UserID: "alice"})

	require.Len(t, agent.packets, 1)
	require.Equal(t, protocol.CmdStopStream, agent.packets[0].Cmd)
	stop := payloadOf[protocol.StreamRef](t, agent.packets[0])
	assert.Equal(t, "m1", stop.MeetingID)
}

func TestStopWithoutAgentIsSilent(t *testing.T) {
	d := newTestDispatcher()
	session := &fakeConn{id: "s1"}

	dispatch(d, session, protocol.CmdStopStream, protocol.StreamRef{UserID: "alice"})

	assert.Empty(t, session.packets, "no error reply when no agent is bound")
}

// Scenario: a session connection closes. Its agent gets a failsafe stop,
// the other participants see participant_left, and the throttle window is
// released.
func TestHandleCloseCascade(t *testing.T) {
	d := newTestDispatcher()
	alice := &fakeConn{id: "c1"}
	bob := &fakeConn{id: "c2"}
	agent := &fakeConn{id: "a1"}

	dispatch(d, agent, protocol.CmdRegisterAgent, protocol.AgentRef{UserID: "alice"})
	dispatch(d, alice, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "alice", UserName: "Alice"})
	dispatch(d, bob, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "bob", UserName: "Bob"})
	agent.reset()
	bob.reset()

	d.HandleClose(alice)

	require.Len(t, agent.packets, 1)
	assert.Equal(t, protocol.CmdStopStream, agent.packets[0].Cmd)

	require.Len(t, bob.events, 1)
	assert.Equal(t, protocol.EventParticipantLeft, bob.events[0].Event)
	change := eventPayloadOf[protocol.ParticipantChange](t, bob.events[0])
	assert.Equal(t, "alice", change.UserID)
	assert.Equal(t, 1, change.ParticipantCount)

	// The meeting binding is cleared: a fresh register gets no start push.
	agent2 := &fakeConn{id: "a2"}
	dispatch(d, agent2, protocol.CmdRegisterAgent, protocol.AgentRef{UserID: "alice"})
	require.Len(t, agent2.packets, 1)
	assert.Equal(t, protocol.CmdAck, agent2.packets[0].Cmd)
}

func TestHandleCloseIdempotent(t *testing.T) {
	d := newTestDispatcher()
	alice := &fakeConn{id: "c1"}

	dispatch(d, alice, protocol.CmdJoin, protocol.JoinRequest{MeetingID: "m1", UserID: "alice", UserName: "Alice"})

	d.HandleClose(alice)
	require.Equal(t, 0, d.rooms.Len())
	d.HandleClose(alice)
	assert.Equal(t, 0, d.rooms.Len())
}

func TestHandleCloseReleasesAgentBinding(t *testing.T) {
	d := newTestDispatcher()
	agent := &fakeConn{id: "a1"}
	session := &fakeConn{id: "s1"}

	dispatch(d, agent, protocol.CmdRegisterAgent, protocol.AgentRef{UserID: "alice"})
	d.HandleClose(agent)

	// With the binding gone, a stop request finds no agent.
	dispatch(d, session, protocol.CmdStopStream, protocol.StreamRef{UserID: "alice"})
	assert.Empty(t, agent.packets[1:], "released agent must not receive forwards")
}

func TestJoinMissingFields(t *testing.T) {
	d := newTestDispatcher()
	conn := &fakeConn{id: "c1"}

	for i, req := range []protocol.JoinRequest{
		{UserID: "alice"},
		{MeetingID: "m1"},
		{},
	} {
		conn.reset()
		dispatch(d, conn, protocol.CmdJoin, req)
		assert.Equal(t, protocol.CmdBadData, conn.lastPacket(t).Cmd, "case %d", i)
	}
}
