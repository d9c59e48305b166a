package protocol

import "github.com/MaxwellShipley/OS-zoom-app/internal/models"

// AuthRequest is the payload of AUTHENTICATE and CREATE_ACCOUNT. Session
// clients may identify themselves by username or email on login.
type AuthRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// AuthOK confirms a successful login or account creation.
type AuthOK struct {
	UserID string `json:"userId"`
}

// ErrorInfo is the payload of AUTH_FAIL, BAD_COMMAND and BAD_DATA replies.
type ErrorInfo struct {
	Error string `json:"error"`
}

// AckInfo optionally annotates an ACK reply.
type AckInfo struct {
	Message string `json:"message,omitempty"`
}

// AgentRef identifies the user an agent command concerns. LegacyUserID is
// the field name the deployed clients send; it populates UserID when the
// canonical field is absent.
type AgentRef struct {
	UserID       string `json:"userId"`
	LegacyUserID string `json:"originStoryUserId,omitempty"`
}

// JoinRequest is the payload of JOIN from a session client, and of the
// JOIN_INFO forward the relay pushes to that user's agent.
type JoinRequest struct {
	MeetingID    string `json:"meetingId"`
	UserID       string `json:"userId"`
	LegacyUserID string `json:"originStoryUserId,omitempty"`
	UserName     string `json:"userName,omitempty"`
}

// StreamRef addresses a start/stop streaming notification to an agent.
type StreamRef struct {
	MeetingID    string `json:"meetingId,omitempty"`
	UserID       string `json:"userId"`
	LegacyUserID string `json:"originStoryUserId,omitempty"`
}

// ScoreReport is the payload of SCORE from an agent. Prob1/Prob2 are the
// canonical two-component form; Authentication is the legacy
// single-probability alias and populates only the first component.
type ScoreReport struct {
	MeetingID      string   `json:"meetingId"`
	UserID         string   `json:"userId"`
	LegacyUserID   string   `json:"originStoryUserId,omitempty"`
	Prob1          *float64 `json:"prob_1,omitempty"`
	Prob2          *float64 `json:"prob_2,omitempty"`
	Authentication *float64 `json:"authentication,omitempty"`
	Timestamp      string   `json:"timestamp,omitempty"`
}

// ScoreUpdate is the SCORE broadcast fanned out to every connection in the
// meeting after a report is accepted.
type ScoreUpdate struct {
	MeetingID string   `json:"meetingId"`
	UserID    string   `json:"userId"`
	UserName  string   `json:"userName"`
	Prob1     float64  `json:"prob_1"`
	Prob2     *float64 `json:"prob_2,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// ParticipantChange is the participant_joined / participant_left event
// payload.
type ParticipantChange struct {
	UserID           string `json:"userId"`
	UserName         string `json:"userName"`
	ParticipantCount int    `json:"participantCount"`
}

// MeetingSnapshot is the current_participants event payload pushed to a
// connection immediately after it joins.
type MeetingSnapshot struct {
	Participants []models.Participant          `json:"participants"`
	Scores       map[string]models.ScoreRecord `json:"scores"`
}
