package domain

import "time"

// Sprint duration bounds in minutes.
const (
	MinSprintMinutes = 1
	MaxSprintMinutes = 180
)

// LogMode selects how a word-count submission is applied.
type LogMode int

const (
	// LogSet overwrites the participant's count.
	LogSet LogMode = iota
	// LogAdd increments the participant's count.
	LogAdd
)

// Participant is one entrant in a running sprint.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	WordCount   int    `json:"word_count"`
}

// Sprint is the durable snapshot of one room's active sprint.
// Participants keep submission order; that order breaks leaderboard ties.
type Sprint struct {
	RoomID          string        `json:"room_id"`
	DurationMinutes int           `json:"duration_minutes"`
	StartedAt       time.Time     `json:"started_at"`
	EndsAt          time.Time     `json:"ends_at"`
	StartedBy       string        `json:"started_by"`
	Participants    []Participant `json:"participants"`
}

// Expired reports whether the sprint has passed its end time.
// An expired sprint still accepts submissions until finished or cancelled.
func (s *Sprint) Expired(now time.Time) bool {
	return !now.Before(s.EndsAt)
}

// Participant returns the entry for the given participant id, or nil.
func (s *Sprint) Participant(id string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// ScheduledSprint is a single-shot trigger for a future sprint.
// The sweep consumes and deletes it whether or not the start succeeds.
type ScheduledSprint struct {
	ID              string    `json:"id"`
	RoomID          string    `json:"room_id"`
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedBy       string    `json:"created_by"`
}
