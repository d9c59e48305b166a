package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MaxwellShipley/OS-zoom-app/internal/models"
)

// MeetingResponse represents a read-only view of one live meeting.
type MeetingResponse struct {
	MeetingID    string                        `json:"meetingId"`
	Participants []models.Participant          `json:"participants"`
	Scores       map[string]models.ScoreRecord `json:"scores"`
}

// Meeting handles meeting state lookup for the overlay page.
func (h *Handler) Meeting(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "id")

	participants, scores, ok := h.rooms.Snapshot(meetingID)
	if !ok {
		h.Error(w, http.StatusNotFound, "meeting not found")
		return
	}

	h.JSON(w, http.StatusOK, MeetingResponse{
		MeetingID:    meetingID,
		Participants: participants,
		Scores:       scores,
	})
}

// ScoreHistory handles per-participant score history lookup. Only the last
// few records are retained, oldest first.
func (h *Handler) ScoreHistory(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "id")
	userID := chi.URLParam(r, "userId")

	if _, ok := h.rooms.Participant(meetingID, userID); !ok {
		h.Error(w, http.StatusNotFound, "participant not found")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"meetingId": meetingID,
		"userId":    userID,
		"history":   h.rooms.History(meetingID, userID),
	})
}
