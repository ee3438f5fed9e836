package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ernie/sprintbot/internal/domain"
	_ "modernc.org/sqlite"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Daily stat methods ---

// UpsertDailyStat increments the word total for one participant/room/day,
// creating the row on first contribution. Display name is last-write-wins.
func (s *Store) UpsertDailyStat(ctx context.Context, participantID, roomID, date, displayName string, wordsDelta int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (participant_id, room_id, date, display_name, words, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(participant_id, room_id, date) DO UPDATE SET
			display_name = excluded.display_name,
			words = words + excluded.words,
			updated_at = excluded.updated_at
	`, participantID, roomID, date, displayName, wordsDelta, formatTimestamp(time.Now()))
	return err
}

// FindDailyStats returns all stat rows for a room and day, highest first
func (s *Store) FindDailyStats(ctx context.Context, roomID, date string) ([]domain.DailyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, room_id, date, display_name, words, updated_at
		FROM daily_stats WHERE room_id = ? AND date = ?
		ORDER BY words DESC
	`, roomID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.DailyStat
	for rows.Next() {
		var st domain.DailyStat
		if err := rows.Scan(&st.ParticipantID, &st.RoomID, &st.Date, &st.DisplayName, &st.Words, &st.UpdatedAt); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// AggregateWindow sums words per participant for a room since the given day
// (inclusive). Display name is taken from the most recent row.
func (s *Store) AggregateWindow(ctx context.Context, roomID, sinceDate string) ([]domain.WindowEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id,
			(SELECT display_name FROM daily_stats d2
			 WHERE d2.participant_id = d.participant_id AND d2.room_id = d.room_id
			 ORDER BY d2.date DESC LIMIT 1),
			SUM(words) AS total
		FROM daily_stats d
		WHERE room_id = ? AND date >= ?
		GROUP BY participant_id
		ORDER BY total DESC
	`, roomID, sinceDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.WindowEntry
	for rows.Next() {
		var e domain.WindowEntry
		if err := rows.Scan(&e.ParticipantID, &e.DisplayName, &e.Words); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ActiveRooms returns rooms with any stats on the given day
func (s *Store) ActiveRooms(ctx context.Context, date string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT room_id FROM daily_stats WHERE date = ?
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roomIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roomIDs = append(roomIDs, id)
	}
	return roomIDs, rows.Err()
}

// AllRooms returns every room that has ever recorded stats
func (s *Store) AllRooms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT room_id FROM daily_stats ORDER BY room_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roomIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roomIDs = append(roomIDs, id)
	}
	return roomIDs, rows.Err()
}

// AllDailyStats returns every stat row for a room, oldest day first
func (s *Store) AllDailyStats(ctx context.Context, roomID string) ([]domain.DailyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, room_id, date, display_name, words, updated_at
		FROM daily_stats WHERE room_id = ?
		ORDER BY date, words DESC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.DailyStat
	for rows.Next() {
		var st domain.DailyStat
		if err := rows.Scan(&st.ParticipantID, &st.RoomID, &st.Date, &st.DisplayName, &st.Words, &st.UpdatedAt); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// --- Goal methods ---

// SetGoal deactivates any prior goals for the participant and creates a new
// active one, so at most one goal is active per participant.
func (s *Store) SetGoal(ctx context.Context, participantID, displayName string, target int, startedDate string) (*domain.Goal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE goals SET active = FALSE WHERE participant_id = ? AND active = TRUE
	`, participantID); err != nil {
		return nil, fmt.Errorf("deactivating prior goals: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO goals (participant_id, display_name, target, current, active, started_date)
		VALUES (?, ?, ?, 0, TRUE, ?)
	`, participantID, displayName, target, startedDate)
	if err != nil {
		return nil, fmt.Errorf("creating goal: %w", err)
	}
	id, _ := result.LastInsertId()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return &domain.Goal{
		ID:            id,
		ParticipantID: participantID,
		DisplayName:   displayName,
		Target:        target,
		Active:        true,
		StartedDate:   startedDate,
	}, nil
}

// GetActiveGoal returns the participant's active goal, or sql.ErrNoRows
func (s *Store) GetActiveGoal(ctx context.Context, participantID string) (*domain.Goal, error) {
	var g domain.Goal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, participant_id, display_name, target, current, active, started_date
		FROM goals WHERE participant_id = ? AND active = TRUE
		ORDER BY id DESC LIMIT 1
	`, participantID).Scan(&g.ID, &g.ParticipantID, &g.DisplayName, &g.Target, &g.Current, &g.Active, &g.StartedDate)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ApplyGoalDelta adds words to the participant's active goal and returns the
// updated goal. Returns sql.ErrNoRows if no goal is active.
func (s *Store) ApplyGoalDelta(ctx context.Context, participantID string, delta int) (*domain.Goal, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE goals SET current = current + ? WHERE participant_id = ? AND active = TRUE
	`, delta, participantID)
	if err != nil {
		return nil, err
	}
	return s.GetActiveGoal(ctx, participantID)
}

// DeactivateGoal flips a goal to inactive; used once on completion
func (s *Store) DeactivateGoal(ctx context.Context, goalID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE goals SET active = FALSE WHERE id = ?`, goalID)
	return err
}

// --- Scheduled sprint methods ---

// CreateScheduledSprint queues a future sprint
func (s *Store) CreateScheduledSprint(ctx context.Context, sched *domain.ScheduledSprint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_sprints (id, room_id, start_at, duration_minutes, created_by)
		VALUES (?, ?, ?, ?, ?)
	`, sched.ID, sched.RoomID, formatTimestamp(sched.StartAt), sched.DurationMinutes, sched.CreatedBy)
	return err
}

// DueScheduledSprints returns rows whose start time has passed
func (s *Store) DueScheduledSprints(ctx context.Context, now time.Time) ([]domain.ScheduledSprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, start_at, duration_minutes, created_by
		FROM scheduled_sprints WHERE start_at <= ?
		ORDER BY start_at
	`, formatTimestamp(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []domain.ScheduledSprint
	for rows.Next() {
		var sc domain.ScheduledSprint
		if err := rows.Scan(&sc.ID, &sc.RoomID, &sc.StartAt, &sc.DurationMinutes, &sc.CreatedBy); err != nil {
			return nil, err
		}
		due = append(due, sc)
	}
	return due, rows.Err()
}

// DeleteScheduledSprint removes one queued sprint
func (s *Store) DeleteScheduledSprint(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_sprints WHERE id = ?`, id)
	return err
}

// DeleteScheduledSprintsForRoom removes all queued sprints for a room and
// returns how many were deleted
func (s *Store) DeleteScheduledSprintsForRoom(ctx context.Context, roomID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_sprints WHERE room_id = ?`, roomID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Sprint snapshot methods ---

// SaveSprintSnapshot writes the crash-recovery mirror of an active sprint
func (s *Store) SaveSprintSnapshot(ctx context.Context, sprint *domain.Sprint) error {
	participants, err := json.Marshal(sprint.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sprint_snapshots (room_id, duration_minutes, started_at, ends_at, started_by, participants)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			duration_minutes = excluded.duration_minutes,
			started_at = excluded.started_at,
			ends_at = excluded.ends_at,
			started_by = excluded.started_by,
			participants = excluded.participants
	`, sprint.RoomID, sprint.DurationMinutes, formatTimestamp(sprint.StartedAt),
		formatTimestamp(sprint.EndsAt), sprint.StartedBy, string(participants))
	return err
}

// DeleteSprintSnapshot removes a room's snapshot
func (s *Store) DeleteSprintSnapshot(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sprint_snapshots WHERE room_id = ?`, roomID)
	return err
}

// ListSprintSnapshots returns all persisted sprint snapshots
func (s *Store) ListSprintSnapshots(ctx context.Context) ([]domain.Sprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, duration_minutes, started_at, ends_at, started_by, participants
		FROM sprint_snapshots
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sprints []domain.Sprint
	for rows.Next() {
		var sp domain.Sprint
		var participants string
		if err := rows.Scan(&sp.RoomID, &sp.DurationMinutes, &sp.StartedAt, &sp.EndsAt, &sp.StartedBy, &participants); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(participants), &sp.Participants); err != nil {
			return nil, fmt.Errorf("decoding participants for room %s: %w", sp.RoomID, err)
		}
		sprints = append(sprints, sp)
	}
	return sprints, rows.Err()
}

// --- Blacklist methods ---

// Ban adds a participant to the blacklist
func (s *Store) Ban(ctx context.Context, participantID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blacklist (participant_id) VALUES (?)
	`, participantID)
	return err
}

// Unban removes a participant from the blacklist
func (s *Store) Unban(ctx context.Context, participantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blacklist WHERE participant_id = ?`, participantID)
	return err
}

// IsBlacklisted reports whether a participant is banned
func (s *Store) IsBlacklisted(ctx context.Context, participantID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM blacklist WHERE participant_id = ?
	`, participantID).Scan(&n)
	return n > 0, err
}

// --- Name override methods ---

// SetNameOverride stores a custom display name for a participant
func (s *Store) SetNameOverride(ctx context.Context, participantID, displayName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO name_overrides (participant_id, display_name)
		VALUES (?, ?)
		ON CONFLICT(participant_id) DO UPDATE SET display_name = excluded.display_name
	`, participantID, displayName)
	return err
}

// GetNameOverride returns the stored display name, or "" if none is set
func (s *Store) GetNameOverride(ctx context.Context, participantID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT display_name FROM name_overrides WHERE participant_id = ?
	`, participantID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return name, err
}
