// Package protocol defines the command packet envelope spoken on every
// relay connection and the codec that reads it off the wire.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Command is a numeric command code. The values are fixed by the deployed
// clients and must not be renumbered.
type Command int

const (
	CmdPing            Command = 0x00
	CmdAck             Command = 0x01
	CmdAuthenticate    Command = 0x02
	CmdAuthOK          Command = 0x03
	CmdAuthFail        Command = 0x04
	CmdStartStream     Command = 0x07
	CmdScore           Command = 0x08
	CmdStopStream      Command = 0x09
	CmdBadCommand      Command = 0x0B
	CmdBadData         Command = 0x0C
	CmdJoin            Command = 0x0D
	CmdRegisterAgent   Command = 0x0E
	CmdUnregisterAgent Command = 0x0F
	CmdCreateAccount   Command = 0x10
)

var commandNames = map[Command]string{
	CmdPing:            "PING",
	CmdAck:             "ACK",
	CmdAuthenticate:    "AUTHENTICATE",
	CmdAuthOK:          "AUTH_OK",
	CmdAuthFail:        "AUTH_FAIL",
	CmdStartStream:     "START_STREAM",
	CmdScore:           "SCORE",
	CmdStopStream:      "STOP_STREAM",
	CmdBadCommand:      "BAD_COMMAND",
	CmdBadData:         "BAD_DATA",
	CmdJoin:            "JOIN",
	CmdRegisterAgent:   "REGISTER",
	CmdUnregisterAgent: "UNREGISTER",
	CmdCreateAccount:   "CREATE_ACCOUNT",
}

// String returns the wire name of the command for logs and metrics.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%#x)", int(c))
}

// Packet is the wire envelope: a command code plus an optional payload.
type Packet struct {
	Cmd  Command         `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is a named side-channel notification that rides the same socket as
// command packets (participant churn, state snapshots).
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Side-channel event names.
const (
	EventParticipantJoined   = "participant_joined"
	EventParticipantLeft     = "participant_left"
	EventCurrentParticipants = "current_participants"
)

// ErrMalformed reports a message whose command code is missing or
// non-numeric. Such messages get a single BAD_DATA reply and nothing else.
var ErrMalformed = errors.New("protocol: missing or non-numeric cmd")

// Decode parses one raw inbound message into a Packet.
func Decode(raw []byte) (Packet, error) {
	var probe struct {
		Cmd  *json.Number    `json:"cmd"`
		Data json.RawMessage `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&probe); err != nil {
		return Packet{}, ErrMalformed
	}
	if probe.Cmd == nil {
		return Packet{}, ErrMalformed
	}
	code, err := probe.Cmd.Int64()
	if err != nil {
		return Packet{}, ErrMalformed
	}
	return Packet{Cmd: Command(code), Data: probe.Data}, nil
}

// NewPacket builds an outbound packet with the given payload. A nil payload
// yields a bare command.
func NewPacket(cmd Command, payload any) Packet {
	if payload == nil {
		return Packet{Cmd: cmd}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload types are our own structs; a marshal failure is a
		// programming error.
		panic(fmt.Sprintf("protocol: marshal %T: %v", payload, err))
	}
	return Packet{Cmd: cmd, Data: data}
}

// NewEvent builds an outbound side-channel notification.
func NewEvent(name string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshal %T: %v", payload, err))
	}
	return Event{Event: name, Data: data}
}

// Conn is one live client connection, the addressing unit for all outbound
// traffic. Sends are best effort: a failed send reports an error but never
// disturbs the sender's own command processing.
type Conn interface {
	ID() string
	Send(Packet) error
	SendEvent(Event) error
}
