// Package relay implements the command dispatcher: the state machine that
// interprets every inbound packet against the identity registry and the
// room store, and emits replies, forwards, and broadcasts.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/MaxwellShipley/OS-zoom-app/internal/gateway"
	"github.com/MaxwellShipley/OS-zoom-app/internal/metrics"
	"github.com/MaxwellShipley/OS-zoom-app/internal/protocol"
	"github.com/MaxwellShipley/OS-zoom-app/internal/registry"
	"github.com/MaxwellShipley/OS-zoom-app/internal/room"
)

// CredentialGateway is the external verify/create capability consumed on
// AUTHENTICATE and CREATE_ACCOUNT. Both calls may block on I/O; the
// dispatcher never holds registry or room state while awaiting them.
// Failures are classified with the gateway package's error values.
type CredentialGateway interface {
	Verify(ctx context.Context, username, password string) (string, error)
	Create(ctx context.Context, username, email, password string) (string, error)
}

// Dispatcher routes command packets. Connections have no assigned role: a
// session client and an agent client differ only in which commands they
// send, and any connection may send any command at any time.
type Dispatcher struct {
	logger   zerolog.Logger
	gateway  CredentialGateway
	registry *registry.Registry
	rooms    *room.Store
	throttle *Throttle
	now      func() time.Time
}

func NewDispatcher(logger zerolog.Logger, gw CredentialGateway, reg *registry.Registry, rooms *room.Store, throttle *Throttle) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		gateway:  gw,
		registry: reg,
		rooms:    rooms,
		throttle: throttle,
		now:      time.Now,
	}
}

// Rooms exposes the room store for the health endpoint.
func (d *Dispatcher) Rooms() *room.Store {
	return d.rooms
}

// HandlePacket processes one raw inbound message from conn. Every error is
// terminal for that one command and is reported only to the sender.
func (d *Dispatcher) HandlePacket(ctx context.Context, conn protocol.Conn, raw []byte) {
	pkt, err := protocol.Decode(raw)
	if err != nil {
		d.sendError(conn, protocol.CmdBadData, "missing cmd")
		return
	}

	metrics.PacketsTotal.WithLabelValues(pkt.Cmd.String()).Inc()
	d.logger.Debug().
		Str("conn", conn.ID()).
		Stringer("cmd", pkt.Cmd).
		RawJSON("data", nonEmpty(pkt.Data)).
		Msg("packet received")

	switch pkt.Cmd {
	case protocol.CmdPing:
		d.send(conn, protocol.NewPacket(protocol.CmdAck, nil))
	case protocol.CmdAuthenticate:
		d.handleAuthenticate(ctx, conn, pkt)
	case protocol.CmdCreateAccount:
		d.handleCreateAccount(ctx, conn, pkt)
	case protocol.CmdRegisterAgent:
		d.handleRegister(conn, pkt)
	case protocol.CmdUnregisterAgent:
		d.handleUnregister(conn, pkt)
	case protocol.CmdJoin:
		d.handleJoin(conn, pkt)
	case protocol.CmdScore:
		d.handleScore(conn, pkt)
	case protocol.CmdStopStream:
		d.handleStop(conn, pkt)
	default:
		d.sendError(conn, protocol.CmdBadCommand, fmt.Sprintf("unknown command %#x", int(pkt.Cmd)))
	}
}

func (d *Dispatcher) handleAuthenticate(ctx context.Context, conn protocol.Conn, pkt protocol.Packet) {
	if !d.throttle.Allow(conn.ID()) {
		metrics.ThrottleRejections.Inc()
		d.send(conn, protocol.NewPacket(protocol.CmdAuthFail, protocol.ErrorInfo{Error: "too many attempts, try again later"}))
		return
	}

	var req protocol.AuthRequest
	decodeInto(pkt, &req)
	username := req.Username
	if username == "" {
		username = req.Email
	}

	// The gateway may block on I/O; no relay state is held here.
	userID, err := d.gateway.Verify(ctx, username, req.Password)
	if err != nil {
		d.throttle.RecordFailure(conn.ID())
		metrics.AuthFailures.Inc()
		if !errors.Is(err, gateway.ErrInvalidCredentials) {
			d.logger.Error().Err(err).Str("conn", conn.ID()).Msg("credential gateway verify failed")
		}
		// Non-enumerating: same reply for unknown user and wrong password.
		d.send(conn, protocol.NewPacket(protocol.CmdAuthFail, protocol.ErrorInfo{Error: "invalid credentials"}))
		return
	}

	d.send(conn, protocol.NewPacket(protocol.CmdAuthOK, protocol.AuthOK{UserID: userID}))
}

func (d *Dispatcher) handleCreateAccount(ctx context.Context, conn protocol.Conn, pkt protocol.Packet) {
	var req protocol.AuthRequest
	decodeInto(pkt, &req)

	userID, err := d.gateway.Create(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, gateway.ErrAccountExists) {
			d.send(conn, protocol.NewPacket(protocol.CmdAuthFail, protocol.ErrorInfo{Error: "account already exists"}))
			return
		}
		if !errors.Is(err, gateway.ErrInvalidAccount) {
			d.logger.Error().Err(err).Str("conn", conn.ID()).Msg("credential gateway create failed")
		}
		d.send(conn, protocol.NewPacket(protocol.CmdAuthFail, protocol.ErrorInfo{Error: "could not create account"}))
		return
	}

	metrics.AccountsCreated.Inc()
	d.send(conn, protocol.NewPacket(protocol.CmdAuthOK, protocol.AuthOK{UserID: userID}))
}

func (d *Dispatcher) handleRegister(conn protocol.Conn, pkt protocol.Packet) {
	var req protocol.AgentRef
	decodeInto(pkt, &req)
	req.UserID = fallback(req.UserID, req.LegacyUserID)
	if req.UserID == "" {
		d.sendError(conn, protocol.CmdBadData, "missing userId")
		return
	}

	d.registry.BindAgent(req.UserID, conn)
	d.logger.Info().Str("user", req.UserID).Str("conn", conn.ID()).Msg("agent registered")
	d.send(conn, protocol.NewPacket(protocol.CmdAck, protocol.AckInfo{Message: "agent_registered"}))

	// The session may have joined before the agent registered. Either
	// arrival order yields the same outcome: one JOIN_INFO plus one
	// START the moment both bindings exist.
	if meetingID, ok := d.registry.MeetingFor(req.UserID); ok {
		if info, ok := d.rooms.Participant(meetingID, req.UserID); ok {
			d.pushAgentStart(conn, meetingID, req.UserID, info.UserName)
		}
	}
}

func (d *Dispatcher) handleUnregister(conn protocol.Conn, pkt protocol.Packet) {
	var req protocol.AgentRef
	decodeInto(pkt, &req)
	req.UserID = fallback(req.UserID, req.LegacyUserID)
	if req.UserID == "" {
		d.sendError(conn, protocol.CmdBadData, "missing userId")
		return
	}

	if !d.registry.UnbindAgent(req.UserID, conn) {
		d.sendError(conn, protocol.CmdBadData, "not the registered agent for this user")
		return
	}
	d.logger.Info().Str("user", req.UserID).Str("conn", conn.ID()).Msg("agent unregistered")
	d.send(conn, protocol.NewPacket(protocol.CmdAck, protocol.AckInfo{Message: "agent_unregistered"}))
}

func (d *Dispatcher) handleJoin(conn protocol.Conn, pkt protocol.Packet) {
	var req protocol.JoinRequest
	decodeInto(pkt, &req)
	req.UserID = fallback(req.UserID, req.LegacyUserID)
	if req.MeetingID == "" || req.UserID == "" {
		d.sendError(conn, protocol.CmdBadData, "missing meetingId/userId")
		return
	}

	res := d.rooms.Join(req.MeetingID, req.UserID, req.UserName, conn)
	d.registry.SetMeeting(req.UserID, req.MeetingID)
	metrics.MeetingsActive.Set(float64(d.rooms.Len()))

	d.logger.Info().
		Str("meeting", req.MeetingID).
		Str("user", req.UserID).
		Bool("new", res.IsNew).
		Int("participants", len(res.Participants)).
		Msg("participant joined")

	if res.IsNew {
		d.broadcastEvent(res.Others, protocol.EventParticipantJoined, protocol.ParticipantChange{
			UserID:           req.UserID,
			UserName:         res.UserName,
			ParticipantCount: len(res.Participants),
		})
	}

	d.sendEvent(conn, protocol.NewEvent(protocol.EventCurrentParticipants, protocol.MeetingSnapshot{
		Participants: res.Participants,
		Scores:       res.Scores,
	}))

	if agent, ok := d.registry.AgentFor(req.UserID); ok {
		d.pushAgentStart(agent, req.MeetingID, req.UserID, res.UserName)
	}
}

func (d *Dispatcher) handleScore(conn protocol.Conn, pkt protocol.Packet) {
	var req protocol.ScoreReport
	decodeInto(pkt, &req)
	req.UserID = fallback(req.UserID, req.LegacyUserID)
	if req.MeetingID == "" || req.UserID == "" {
		d.sendError(conn, protocol.CmdBadData, "missing meetingId/userId")
		return
	}

	var prob1 float64
	var prob2 *float64
	switch {
	case req.Prob1 != nil:
		prob1 = *req.Prob1
		if req.Prob2 != nil {
			v := *req.Prob2
			prob2 = &v
		}
	case req.Authentication != nil:
		// Legacy single-probability dialect: first component only.
		prob1 = *req.Authentication
	default:
		d.sendError(conn, protocol.CmdBadData, "missing prob_1")
		return
	}

	if !inUnitInterval(prob1) || (prob2 != nil && !inUnitInterval(*prob2)) {
		d.sendError(conn, protocol.CmdBadData, "probabilities must be in [0,1]")
		return
	}

	// Quantize at the point of acceptance so broadcast, history, and
	// overlay all observe identical values.
	prob1 = round2(prob1)
	if prob2 != nil {
		*prob2 = round2(*prob2)
	}

	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = d.now().UTC().Format(time.RFC3339Nano)
	}

	rec, conns, err := d.rooms.RecordScore(req.MeetingID, req.UserID, prob1, prob2, timestamp)
	if err != nil {
		if errors.Is(err, room.ErrUnknownMeeting) {
			// The meeting is gone; tell the agent to stop before the
			// error reply, or it keeps transmitting into a void.
			if agent, ok := d.registry.AgentFor(req.UserID); ok {
				d.send(agent, protocol.NewPacket(protocol.CmdStopStream, protocol.StreamRef{
					MeetingID: req.MeetingID,
					UserID:    req.UserID,
				}))
			}
			d.sendError(conn, protocol.CmdBadData, fmt.Sprintf("unknown meeting %s", req.MeetingID))
			return
		}
		d.sendError(conn, protocol.CmdBadData, fmt.Sprintf("user %s not in meeting %s", req.UserID, req.MeetingID))
		return
	}

	metrics.ScoresRecorded.Inc()
	update := protocol.NewPacket(protocol.CmdScore, protocol.ScoreUpdate{
		MeetingID: req.MeetingID,
		UserID:    rec.UserID,
		UserName:  rec.UserName,
		Prob1:     rec.Prob1,
		Prob2:     rec.Prob2,
		Timestamp: rec.Timestamp,
	})
	for _, c := range conns {
		d.send(c, update)
	}
}

func (d *Dispatcher) handleStop(conn protocol.Conn, pkt protocol.Packet) {
	var req protocol.StreamRef
	decodeInto(pkt, &req)
	req.UserID = fallback(req.UserID, req.LegacyUserID)
	if req.UserID == "" {
		d.sendError(conn, protocol.CmdBadData, "missing userId")
		return
	}

	meetingID := req.MeetingID
	if meetingID == "" {
		meetingID, _ = d.registry.MeetingFor(req.UserID)
	}

	agent, ok := d.registry.AgentFor(req.UserID)
	if !ok {
		d.logger.Info().Str("user", req.UserID).Msg("no agent registered, stop not forwarded")
		return
	}
	d.send(agent, protocol.NewPacket(protocol.CmdStopStream, protocol.StreamRef{
		MeetingID: meetingID,
		UserID:    req.UserID,
	}))
}

// HandleClose reconciles all registries and stores after conn goes away.
// It is idempotent: every step is a no-op when the state is already gone.
func (d *Dispatcher) HandleClose(conn protocol.Conn) {
	// Failsafe first, while the memberships are still known: a lost stop
	// signal leaves an agent transmitting into a void.
	for _, m := range d.rooms.MembershipsOf(conn) {
		if agent, ok := d.registry.AgentFor(m.UserID); ok {
			d.send(agent, protocol.NewPacket(protocol.CmdStopStream, protocol.StreamRef{
				MeetingID: m.MeetingID,
				UserID:    m.UserID,
			}))
		}
	}

	for _, userID := range d.registry.ReleaseConnection(conn) {
		d.logger.Info().Str("user", userID).Str("conn", conn.ID()).Msg("agent binding released")
	}

	for _, dep := range d.rooms.Leave(conn) {
		d.registry.ClearMeeting(dep.Participant.UserID)
		if dep.RemainingCount == 0 {
			d.logger.Info().Str("meeting", dep.MeetingID).Msg("meeting emptied, deleted")
			continue
		}
		d.broadcastEvent(dep.Remaining, protocol.EventParticipantLeft, protocol.ParticipantChange{
			UserID:           dep.Participant.UserID,
			UserName:         dep.Participant.UserName,
			ParticipantCount: dep.RemainingCount,
		})
		d.logger.Info().
			Str("meeting", dep.MeetingID).
			Str("user", dep.Participant.UserID).
			Int("remaining", dep.RemainingCount).
			Msg("participant left")
	}

	d.throttle.Forget(conn.ID())
	metrics.MeetingsActive.Set(float64(d.rooms.Len()))
}

func (d *Dispatcher) pushAgentStart(agent protocol.Conn, meetingID, userID, userName string) {
	d.send(agent, protocol.NewPacket(protocol.CmdJoin, protocol.JoinRequest{
		MeetingID: meetingID,
		UserID:    userID,
		UserName:  userName,
	}))
	d.send(agent, protocol.NewPacket(protocol.CmdStartStream, protocol.StreamRef{
		MeetingID: meetingID,
		UserID:    userID,
	}))
}

func (d *Dispatcher) send(conn protocol.Conn, pkt protocol.Packet) {
	if err := conn.Send(pkt); err != nil {
		d.logger.Debug().Err(err).Str("conn", conn.ID()).Stringer("cmd", pkt.Cmd).Msg("send dropped")
	}
}

func (d *Dispatcher) sendEvent(conn protocol.Conn, ev protocol.Event) {
	metrics.BroadcastsTotal.WithLabelValues(ev.Event).Inc()
	if err := conn.SendEvent(ev); err != nil {
		d.logger.Debug().Err(err).Str("conn", conn.ID()).Str("event", ev.Event).Msg("event dropped")
	}
}

func (d *Dispatcher) broadcastEvent(conns []protocol.Conn, name string, payload any) {
	ev := protocol.NewEvent(name, payload)
	for _, c := range conns {
		d.sendEvent(c, ev)
	}
}

func (d *Dispatcher) sendError(conn protocol.Conn, cmd protocol.Command, msg string) {
	d.send(conn, protocol.NewPacket(cmd, protocol.ErrorInfo{Error: msg}))
}

// decodeInto unmarshals the optional payload; an absent or unparseable
// payload leaves the zero value, and the per-command field checks reject
// what is actually missing.
func decodeInto(pkt protocol.Packet, v any) {
	if len(pkt.Data) == 0 {
		return
	}
	_ = json.Unmarshal(pkt.Data, v)
}

// fallback resolves the user identity against the legacy field name the
// deployed clients still send.
func fallback(canonical, legacy string) string {
	if canonical != "" {
		return canonical
	}
	return legacy
}

func inUnitInterval(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= 1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func nonEmpty(data []byte) []byte {
	if len(data) == 0 {
		return []byte("{}")
	}
	return data
}
