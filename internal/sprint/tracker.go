package sprint

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ernie/sprintbot/internal/domain"
	"github.com/ernie/sprintbot/internal/storage"
	"github.com/ernie/sprintbot/internal/transport"
)

// Tracker owns the active sprints, one per room. All mutations for a room
// go through the tracker mutex, so the expiry timer, the scheduler sweep
// and command handling never race on sprint state.
type Tracker struct {
	store          *storage.Store
	sender         transport.Sender
	loc            *time.Location
	storageTimeout time.Duration

	mu    sync.Mutex
	rooms map[string]*activeSprint
}

type activeSprint struct {
	sprint *domain.Sprint
	timer  *time.Timer
}

// NewTracker creates a tracker with no active sprints. Call Restore to
// rehydrate persisted snapshots before serving commands.
func NewTracker(store *storage.Store, sender transport.Sender, loc *time.Location, storageTimeout time.Duration) *Tracker {
	return &Tracker{
		store:          store,
		sender:         sender,
		loc:            loc,
		storageTimeout: storageTimeout,
		rooms:          make(map[string]*activeSprint),
	}
}

// Date returns the calendar day for the given instant in the reporting timezone
func (t *Tracker) Date(now time.Time) string {
	return now.In(t.loc).Format("2006-01-02")
}

// storageCtx bounds a durable-storage call. Timeouts are soft failures:
// callers log them and carry on.
func (t *Tracker) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.storageTimeout)
}

// Start begins a sprint for the room. Fails with ErrAlreadyRunning if one
// exists and ErrInvalidDuration for out-of-range durations.
func (t *Tracker) Start(ctx context.Context, roomID string, minutes int, startedBy, startedByName string) error {
	if minutes < domain.MinSprintMinutes || minutes > domain.MaxSprintMinutes {
		return domain.ErrInvalidDuration
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.rooms[roomID]; exists {
		return domain.ErrAlreadyRunning
	}

	now := time.Now()
	sp := &domain.Sprint{
		RoomID:          roomID,
		DurationMinutes: minutes,
		StartedAt:       now,
		EndsAt:          now.Add(time.Duration(minutes) * time.Minute),
		StartedBy:       startedBy,
	}

	t.rooms[roomID] = &activeSprint{
		sprint: sp,
		timer:  t.armTimer(roomID, time.Until(sp.EndsAt)),
	}

	sctx, cancel := t.storageCtx(ctx)
	defer cancel()
	if err := t.store.SaveSprintSnapshot(sctx, sp); err != nil {
		log.Printf("Failed to persist sprint snapshot for room %s: %v", roomID, err)
	}

	t.send(ctx, roomID, fmt.Sprintf("🏁 Sprint started by %s! %d minutes on the clock. Log your words with %s.",
		startedByName, minutes, "wc <count>"), nil)
	log.Printf("Sprint started in room %s: %d minutes (by %s)", roomID, minutes, startedBy)
	return nil
}

// armTimer schedules the expiry announcement. The callback re-checks that
// the sprint still exists before acting, so a cancel or finish racing the
// timer is harmless.
func (t *Tracker) armTimer(roomID string, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() {
		t.handleExpiry(roomID)
	})
}

// handleExpiry announces that time is up. It does not finish the sprint;
// submissions stay open until an explicit finish or cancel.
func (t *Tracker) handleExpiry(roomID string) {
	t.mu.Lock()
	active, exists := t.rooms[roomID]
	t.mu.Unlock()
	if !exists {
		return // cancelled or finished before the timer fired
	}

	ctx := context.Background()
	t.send(ctx, roomID, fmt.Sprintf("⏰ Time's up! %d minutes are over. Log your final count with wc <count>, then run finish.",
		active.sprint.DurationMinutes), nil)
	log.Printf("Sprint expired in room %s", roomID)
}

// LogWords records a word-count submission. Mode selects set vs. add.
func (t *Tracker) LogWords(ctx context.Context, roomID, participantID, displayName string, amount int, mode domain.LogMode) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	active, exists := t.rooms[roomID]
	if !exists {
		return domain.ErrNoActiveSprint
	}
	sp := active.sprint

	p := sp.Participant(participantID)
	if p == nil {
		sp.Participants = append(sp.Participants, domain.Participant{
			ID:          participantID,
			DisplayName: displayName,
		})
		p = &sp.Participants[len(sp.Participants)-1]
	}

	switch mode {
	case domain.LogAdd:
		p.WordCount += amount
	default:
		p.WordCount = amount
	}

	// Re-persist so a restart does not lose standings
	sctx, cancel := t.storageCtx(ctx)
	defer cancel()
	if err := t.store.SaveSprintSnapshot(sctx, sp); err != nil {
		log.Printf("Failed to persist sprint snapshot for room %s: %v", roomID, err)
	}

	// Terse ack mid-sprint, fuller reply once time is up
	if sp.Expired(time.Now()) {
		t.send(ctx, roomID, fmt.Sprintf("✅ %s logged %d words. Run finish when everyone is in.", p.DisplayName, p.WordCount), nil)
	} else {
		t.send(ctx, roomID, fmt.Sprintf("✍️ %s: %d", p.DisplayName, p.WordCount), nil)
	}
	return nil
}

// SetParticipantWords overwrites the count of a participant matched by
// display name or id. Admin correction path.
func (t *Tracker) SetParticipantWords(ctx context.Context, roomID, target string, amount int) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	active, exists := t.rooms[roomID]
	if !exists {
		return domain.ErrNoActiveSprint
	}
	sp := active.sprint

	var p *domain.Participant
	for i := range sp.Participants {
		if sp.Participants[i].ID == target || strings.EqualFold(sp.Participants[i].DisplayName, target) {
			p = &sp.Participants[i]
			break
		}
	}
	if p == nil {
		return domain.ErrNotFound
	}
	p.WordCount = amount

	sctx, cancel := t.storageCtx(ctx)
	defer cancel()
	if err := t.store.SaveSprintSnapshot(sctx, sp); err != nil {
		log.Printf("Failed to persist sprint snapshot for room %s: %v", roomID, err)
	}

	t.send(ctx, roomID, fmt.Sprintf("✏️ Corrected %s to %d words.", p.DisplayName, amount), nil)
	return nil
}

// Remaining returns the time left in the room's sprint. Negative means the
// sprint has expired but not been finished.
func (t *Tracker) Remaining(roomID string) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active, exists := t.rooms[roomID]
	if !exists {
		return 0, domain.ErrNoActiveSprint
	}
	return time.Until(active.sprint.EndsAt), nil
}

// Finish ends the sprint, announces the leaderboard, writes daily stats and
// feeds active goals. Stat and goal writes are best effort: failures are
// logged and the announcement still goes out.
func (t *Tracker) Finish(ctx context.Context, roomID string) error {
	t.mu.Lock()
	active, exists := t.rooms[roomID]
	if !exists {
		t.mu.Unlock()
		return domain.ErrNoActiveSprint
	}
	delete(t.rooms, roomID)
	active.timer.Stop()
	sp := active.sprint
	t.mu.Unlock()

	sctx, cancel := t.storageCtx(ctx)
	if err := t.store.DeleteSprintSnapshot(sctx, roomID); err != nil {
		log.Printf("Failed to delete sprint snapshot for room %s: %v", roomID, err)
	}
	cancel()

	if len(sp.Participants) == 0 {
		t.send(ctx, roomID, "🏁 Sprint over — no entries were logged. Better luck next time!", nil)
		log.Printf("Sprint finished in room %s with no entries", roomID)
		return nil
	}

	date := t.Date(time.Now())
	text, mentions := t.settleSprint(ctx, sp, date)
	t.send(ctx, roomID, text, mentions)
	log.Printf("Sprint finished in room %s: %d participants", roomID, len(sp.Participants))
	return nil
}

// settleSprint ranks participants, persists their stats and goal progress,
// and builds the leaderboard text plus the ids to mention.
func (t *Tracker) settleSprint(ctx context.Context, sp *domain.Sprint, date string) (string, []string) {
	ranked := rankParticipants(sp.Participants)

	var completions []string
	mentions := make([]string, 0, len(ranked))
	for _, p := range ranked {
		mentions = append(mentions, p.ID)

		sctx, cancel := t.storageCtx(ctx)
		if err := t.store.UpsertDailyStat(sctx, p.ID, sp.RoomID, date, p.DisplayName, p.WordCount); err != nil {
			log.Printf("Failed to save daily stat for %s in room %s: %v", p.ID, sp.RoomID, err)
		}
		cancel()

		if p.WordCount > 0 {
			sctx, cancel := t.storageCtx(ctx)
			goal, completed, err := ApplyGoalProgress(sctx, t.store, p.ID, p.WordCount)
			cancel()
			if err != nil {
				log.Printf("Failed to update goal for %s: %v", p.ID, err)
			} else if completed {
				completions = append(completions, fmt.Sprintf("🎉 %s reached their goal of %d words!", p.DisplayName, goal.Target))
			}
		}
	}

	text := FormatLeaderboard(sp, ranked)
	if len(completions) > 0 {
		text += "\n" + strings.Join(completions, "\n")
	}
	return text, mentions
}

// Cancel aborts the room's sprint without writing stats. Idle rooms are a
// no-op; returns whether a sprint existed.
func (t *Tracker) Cancel(ctx context.Context, roomID string) (bool, error) {
	t.mu.Lock()
	active, exists := t.rooms[roomID]
	if exists {
		delete(t.rooms, roomID)
		active.timer.Stop()
	}
	t.mu.Unlock()

	if !exists {
		return false, nil
	}

	sctx, cancel := t.storageCtx(ctx)
	defer cancel()
	if err := t.store.DeleteSprintSnapshot(sctx, roomID); err != nil {
		log.Printf("Failed to delete sprint snapshot for room %s: %v", roomID, err)
	}

	t.send(ctx, roomID, "🛑 Sprint cancelled. No words were recorded.", nil)
	log.Printf("Sprint cancelled in room %s", roomID)
	return true, nil
}

// Get returns a copy of the room's active sprint, if any
func (t *Tracker) Get(roomID string) (*domain.Sprint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active, exists := t.rooms[roomID]
	if !exists {
		return nil, false
	}
	cp := *active.sprint
	cp.Participants = append([]domain.Participant(nil), active.sprint.Participants...)
	return &cp, true
}

// Restore rehydrates persisted sprint snapshots on startup. Snapshots whose
// end time is still ahead get their timers re-armed; already-expired ones
// are deleted silently, with no "time's up" announcement.
func (t *Tracker) Restore(ctx context.Context) error {
	snapshots, err := t.store.ListSprintSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("listing sprint snapshots: %w", err)
	}

	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range snapshots {
		sp := snapshots[i]
		if sp.Expired(now) {
			if err := t.store.DeleteSprintSnapshot(ctx, sp.RoomID); err != nil {
				log.Printf("Failed to delete expired snapshot for room %s: %v", sp.RoomID, err)
			}
			log.Printf("Dropped sprint snapshot for room %s (expired while down)", sp.RoomID)
			continue
		}

		t.rooms[sp.RoomID] = &activeSprint{
			sprint: &sp,
			timer:  t.armTimer(sp.RoomID, time.Until(sp.EndsAt)),
		}
		log.Printf("Restored sprint in room %s, %s remaining", sp.RoomID, time.Until(sp.EndsAt).Round(time.Second))
	}
	return nil
}

// Stop cancels all expiry timers. Snapshots stay on disk for the next start.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, active := range t.rooms {
		active.timer.Stop()
	}
}

// send delivers room text, logging delivery failures
func (t *Tracker) send(ctx context.Context, roomID, text string, mentions []string) {
	if err := t.sender.SendToRoom(ctx, roomID, text, mentions); err != nil {
		log.Printf("Failed to send to room %s: %v", roomID, err)
	}
}
