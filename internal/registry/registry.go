// Package registry tracks which connection is the agent for a user and
// which meeting a user last joined. Both maps are keyed by the
// application-level user identity, never by the physical connection, so a
// user keeps their bindings across reconnects of either client.
package registry

import (
	"sync"

	"github.com/MaxwellShipley/OS-zoom-app/internal/protocol"
)

// Registry holds the user identity cross-references. All operations are
// idempotent no-ops on missing keys.
type Registry struct {
	mu       sync.Mutex
	agents   map[string]protocol.Conn // userID -> registered agent connection
	meetings map[string]string        // userID -> meeting last joined
}

func New() *Registry {
	return &Registry{
		agents:   make(map[string]protocol.Conn),
		meetings: make(map[string]string),
	}
}

// BindAgent records conn as the agent for userID. A later registration
// silently supersedes an earlier one.
func (r *Registry) BindAgent(userID string, conn protocol.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[userID] = conn
}

// AgentFor returns the agent connection registered for userID, if any.
func (r *Registry) AgentFor(userID string) (protocol.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.agents[userID]
	return conn, ok
}

// UnbindAgent removes the agent binding for userID, but only when conn is
// the connection currently bound. Returns false otherwise.
func (r *Registry) UnbindAgent(userID string, conn protocol.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	bound, ok := r.agents[userID]
	if !ok || bound.ID() != conn.ID() {
		return false
	}
	delete(r.agents, userID)
	return true
}

// SetMeeting records the meeting userID last joined.
func (r *Registry) SetMeeting(userID, meetingID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meetings[userID] = meetingID
}

// MeetingFor returns the meeting userID last joined, if any.
func (r *Registry) MeetingFor(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meetingID, ok := r.meetings[userID]
	return meetingID, ok
}

// ClearMeeting drops the meeting binding for userID.
func (r *Registry) ClearMeeting(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.meetings, userID)
}

// Clear drops every binding for userID.
func (r *Registry) Clear(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, userID)
	delete(r.meetings, userID)
}

// ReleaseConnection removes every agent binding pointing at conn and
// returns the affected user IDs. A connection registers at most one user in
// practice, but the sweep is defined over any matching entries.
func (r *Registry) ReleaseConnection(conn protocol.Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released []string
	for userID, bound := range r.agents {
		if bound.ID() == conn.ID() {
			delete(r.agents, userID)
			released = append(released, userID)
		}
	}
	return released
}
