package domain

import "time"

// DailyStat accumulates one participant's words for one room and day.
// Rows are only ever incremented by normal operation, never deleted.
type DailyStat struct {
	ParticipantID string    `json:"participant_id"`
	RoomID        string    `json:"room_id"`
	Date          string    `json:"date"` // calendar day in the reporting timezone
	DisplayName   string    `json:"display_name"`
	Words         int       `json:"words"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WindowEntry is one row of a windowed leaderboard aggregation.
type WindowEntry struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Words         int    `json:"words"`
}

// Goal is a participant-scoped cumulative word target across sprints.
// At most one goal per participant is active at a time; completion
// deactivates it exactly once.
type Goal struct {
	ID            int64  `json:"id"`
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Target        int    `json:"target"`
	Current       int    `json:"current"`
	Active        bool   `json:"active"`
	StartedDate   string `json:"started_date"`
}

// Completed reports whether the goal target has been reached.
func (g *Goal) Completed() bool {
	return g.Current >= g.Target
}
