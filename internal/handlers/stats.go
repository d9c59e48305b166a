package handlers

import (
	"net/http"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalAccounts      int64  `json:"total_accounts"`
	ActiveMeetings     int    `json:"active_meetings"`
	ActiveParticipants int    `json:"active_participants"`
	ScoresOnBoard      int    `json:"scores_on_board"`
	OpenConnections    int    `json:"open_connections"`
	LastActivity       string `json:"last_activity"`
}

// Stats returns relay statistics for the landing page.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	totalAccounts, err := h.accounts.CountAccounts(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count accounts")
		return
	}

	totals := h.rooms.Stats()

	lastActivity := "no activity yet"
	if totals.LastJoin != nil {
		lastActivity = formatTimeAgo(*totals.LastJoin)
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalAccounts:      totalAccounts,
		ActiveMeetings:     totals.Meetings,
		ActiveParticipants: totals.Participants,
		ScoresOnBoard:      totals.Scores,
		OpenConnections:    h.live(),
		LastActivity:       lastActivity,
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return formatInt(mins) + " minutes ago"
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return formatInt(hours) + " hours ago"
	default:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return formatInt(days) + " days ago"
	}
}

// formatInt converts an int to string without importing strconv.
func formatInt(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
