package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a registered user account held by the credential store.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Participant is one session client's membership in a meeting, as exposed
// to other clients. The owning connection is tracked separately and never
// serialized.
type Participant struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ScoreRecord is the latest liveness score reported for one participant.
// Prob2 is absent when the reporting agent speaks the legacy
// single-probability dialect.
type ScoreRecord struct {
	UserID    string   `json:"userId"`
	UserName  string   `json:"userName"`
	Prob1     float64  `json:"prob_1"`
	Prob2     *float64 `json:"prob_2,omitempty"`
	Timestamp string   `json:"timestamp"`
}
