package sprint

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ernie/sprintbot/internal/domain"
	"github.com/ernie/sprintbot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	roomID   string
	text     string
	mentions []string
}

// fakeSender records outbound room messages for assertions
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeSender) SendToRoom(_ context.Context, roomID, text string, mentions []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{roomID: roomID, text: text, mentions: mentions})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

func newTestTracker(t *testing.T) (*Tracker, *storage.Store, *fakeSender) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sender := &fakeSender{}
	tracker := NewTracker(store, sender, time.UTC, 5*time.Second)
	t.Cleanup(tracker.Stop)
	return tracker, store, sender
}

func TestStartValidatesDuration(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	assert.ErrorIs(t, tracker.Start(ctx, "room", 0, "p1", "Ada"), domain.ErrInvalidDuration)
	assert.ErrorIs(t, tracker.Start(ctx, "room", 181, "p1", "Ada"), domain.ErrInvalidDuration)
	assert.ErrorIs(t, tracker.Start(ctx, "room", -5, "p1", "Ada"), domain.ErrInvalidDuration)

	assert.NoError(t, tracker.Start(ctx, "room-a", 1, "p1", "Ada"))
	assert.NoError(t, tracker.Start(ctx, "room-b", 180, "p1", "Ada"))
}

func TestStartRejectsSecondSprint(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "room", 25, "p1", "Ada"))
	assert.ErrorIs(t, tracker.Start(ctx, "room", 10, "p2", "Grace"), domain.ErrAlreadyRunning)

	// The original sprint is untouched
	sp, ok := tracker.Get("room")
	require.True(t, ok)
	assert.Equal(t, 25, sp.DurationMinutes)
	assert.Equal(t, "p1", sp.StartedBy)
}

func TestLogWordsSetAndAdd(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "room", 20, "p1", "Ada"))

	require.NoError(t, tracker.LogWords(ctx, "room", "p1", "Ada", 500, domain.LogSet))
	require.NoError(t, tracker.LogWords(ctx, "room", "p1", "Ada", 100, domain.LogAdd))
	require.NoError(t, tracker.LogWords(ctx, "room", "p2", "Grace", 250, domain.LogSet))

	sp, ok := tracker.Get("room")
	require.True(t, ok)
	require.Len(t, sp.Participants, 2)
	assert.Equal(t, 600, sp.Participants[0].WordCount)
	assert.Equal(t, 250, sp.Participants[1].WordCount)

	// A later set replaces, it does not accumulate
	require.NoError(t, tracker.LogWords(ctx, "room", "p1", "Ada", 50, domain.LogSet))
	sp, _ = tracker.Get("room")
	assert.Equal(t, 50, sp.Participants[0].WordCount)
}

func TestLogWordsRejectsNegative(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "room", 20, "p1", "Ada"))
	assert.ErrorIs(t, tracker.LogWords(ctx, "room", "p1", "Ada", -1, domain.LogSet), domain.ErrInvalidAmount)
	assert.ErrorIs(t, tracker.LogWords(ctx, "room", "p1", "Ada", -1, domain.LogAdd), domain.ErrInvalidAmount)
}

func TestLogWordsWithoutSprint(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	err := tracker.LogWords(context.Background(), "room", "p1", "Ada", 100, domain.LogSet)
	assert.ErrorIs(t, err, domain.ErrNoActiveSprint)
}

func TestSetParticipantWords(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "room", 20, "p1", "Ada"))
	require.NoError(t, tracker.LogWords(ctx, "room", "p1", "Ada", 100, domain.LogSet))

	// Name match is case-insensitive
	require.NoError(t, tracker.SetParticipantWords(ctx, "room", "ada", 750))
	sp, _ := tracker.Get("room")
	assert.Equal(t, 750, sp.Participants[0].WordCount)

	assert.ErrorIs(t, tracker.SetParticipantWords(ctx, "room", "nobody", 10), domain.ErrNotFound)
	assert.ErrorIs(t, tracker.SetParticipantWords(ctx, "room", "ada", -2), domain.ErrInvalidAmount)
}

func TestFinishRanksAndPersists(t *testing.T) {
	tracker, store, sender := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "room", 10, "p1", "Ada"))
	require.NoError(t, tracker.LogWords(ctx, "room", "p1", "Ada", 300, domain.LogSet))
	require.NoError(t, tracker.LogWords(ctx, "room", "p2", "Grace", 300, domain.LogSet))
	require.NoError(t, tracker.LogWords(ctx, "room", "p3", "Mary", 100, domain.LogSet))

	require.NoError(t, tracker.Finish(ctx, "room"))

	// The sprint is gone and a second finish fails
	_, ok := tracker.Get("room")
	assert.False(t, ok)
	assert.ErrorIs(t, tracker.Finish(ctx, "room"), domain.ErrNoActiveSprint)

	// Ties keep submission order, rates are rounded words per minute
	msg := sender.last()
	lines := strings.Split(msg.text, "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Contains(t, lines[0], "Sprint results (10 min)")
	assert.Contains(t, lines[1], "🥇 Ada — 300 words (30 wpm)")
	assert.Contains(t, lines[2], "🥈 Grace — 300 words (30 wpm)")
	assert.Contains(t, lines[3], "🥉 Mary — 100 words (10 wpm)")
	assert.Equal(t, []string{"p1", "p2", "p3"}, msg.mentions)

	// Daily stats were written for everyone
	stats, err := store.FindDailyStats(ctx, "room", tracker.Date(time.Now()))
	require.NoError(t, err)
	assert.Len(t, stats, 3)

	// The snapshot is gone too
	snapshots, err := store.ListSprintSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestFinishWithNoEntries(t *testing.T) {
	tracker, store, sender := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "room", 10, "p1", "Ada"))
	require.NoError(t, tracker.Finish(ctx, "room"))

	assert.Contains(t, sender.last().text, "no entries")

	stats, err := store.FindDailyStats(ctx, "room", tracker.Date(time.Now()))
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestFinishFeedsGoalOnce(t *testing.T) {
	tracker, store, sender := newTestTracker(t)
	ctx := context.Background()

	_, err := store.SetGoal(ctx, "p1", "Ada", 1000, "2026-08-01")
	require.NoError(t, err)

	// First sprint gets halfway
	require.NoError(t, tracker.Start(ctx, "room", 10, "p1", "Ada"))
	require.NoError(t, tracker.LogWords(ctx, "room", "p1", "Ada", 600, domain.LogSet))
	require.NoError(t, tracker.Finish(ctx, "room"))
	assert.NotContains(t, sender.last().text, "reached their goal")

	// Second sprint crosses the target
	require.NoError(t, tracker.Start(ctx, "room", 10, "p1", "Ada"))
	require.NoError(t, tracker.LogWords(ctx, "room", "p1", "Ada", 600, domain.LogSet))
	require.NoError(t, tracker.Finish(ctx, "room"))
	assert.Contains(t, sender.last().text, "🎉 Ada reached their goal of 1000 words!")

	// Completed goal is deactivated, a third sprint says nothing
	require.NoError(t, tracker.Start(ctx, "room", 10, "p1", "Ada"))
	require.NoError(t, tracker.LogWords(ctx, "room", "p1", "Ada", 600, domain.LogSet))
	require.NoError(t, tracker.Finish(ctx, "room"))
	assert.NotContains(t, sender.last().text, "reached their goal")
}

func TestCancel(t *testing.T) {
	tracker, store, sender := newTestTracker(t)
	ctx := context.Background()

	// Cancelling an idle room is a silent no-op
	existed, err := tracker.Cancel(ctx, "room")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, 0, sender.count())

	require.NoError(t, tracker.Start(ctx, "room", 10, "p1", "Ada"))
	require.NoError(t, tracker.LogWords(ctx, "room", "p1", "Ada", 400, domain.LogSet))

	existed, err = tracker.Cancel(ctx, "room")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Contains(t, sender.last().text, "Sprint cancelled")

	// No stats, no snapshot, no sprint
	stats, err := store.FindDailyStats(ctx, "room", tracker.Date(time.Now()))
	require.NoError(t, err)
	assert.Empty(t, stats)
	_, ok := tracker.Get("room")
	assert.False(t, ok)
}

func TestExpiryAnnouncesWithoutFinishing(t *testing.T) {
	tracker, _, sender := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "room", 10, "p1", "Ada"))
	before := sender.count()

	tracker.handleExpiry("room")
	require.Equal(t, before+1, sender.count())
	assert.Contains(t, sender.last().text, "Time's up")

	// Submissions stay open after expiry
	_, ok := tracker.Get("room")
	assert.True(t, ok)
	assert.NoError(t, tracker.LogWords(ctx, "room", "p1", "Ada", 200, domain.LogSet))
}

func TestExpiryAfterCancelIsSilent(t *testing.T) {
	tracker, _, sender := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "room", 10, "p1", "Ada"))
	_, err := tracker.Cancel(ctx, "room")
	require.NoError(t, err)

	before := sender.count()
	tracker.handleExpiry("room")
	assert.Equal(t, before, sender.count())
}

func TestRestore(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.SaveSprintSnapshot(ctx, &domain.Sprint{
		RoomID:          "live",
		DurationMinutes: 30,
		StartedAt:       now.Add(-5 * time.Minute),
		EndsAt:          now.Add(25 * time.Minute),
		StartedBy:       "p1",
		Participants:    []domain.Participant{{ID: "p1", DisplayName: "Ada", WordCount: 200}},
	}))
	require.NoError(t, store.SaveSprintSnapshot(ctx, &domain.Sprint{
		RoomID:          "stale",
		DurationMinutes: 10,
		StartedAt:       now.Add(-2 * time.Hour),
		EndsAt:          now.Add(-110 * time.Minute),
		StartedBy:       "p2",
	}))

	sender := &fakeSender{}
	tracker := NewTracker(store, sender, time.UTC, 5*time.Second)
	t.Cleanup(tracker.Stop)

	require.NoError(t, tracker.Restore(ctx))

	// The live sprint is back and accepts submissions
	sp, ok := tracker.Get("live")
	require.True(t, ok)
	assert.Equal(t, 200, sp.Participants[0].WordCount)
	assert.NoError(t, tracker.LogWords(ctx, "live", "p1", "Ada", 300, domain.LogAdd))

	// The stale one is gone, deleted without any announcement
	_, ok = tracker.Get("stale")
	assert.False(t, ok)
	snapshots, err := store.ListSprintSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "live", snapshots[0].RoomID)

	for _, msg := range sender.sent {
		assert.NotEqual(t, "stale", msg.roomID)
	}
}
